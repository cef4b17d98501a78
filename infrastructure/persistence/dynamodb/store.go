// Package dynamodb implements the persistence port on a single
// DynamoDB table. Entities, edges, permissions, and dead letters share
// the table under typed partition and sort keys; a transaction buffers
// TransactWriteItems and commits them atomically.
package dynamodb

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"acs-backend/application/ports"
	"acs-backend/domain/core/aggregates"
	"acs-backend/domain/core/valueobjects"
	pkgerrors "acs-backend/pkg/errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DynamoDB caps TransactWriteItems at 100 operations
const maxTransactItems = 100

const (
	entitySortKey    = "META"
	edgeSortPrefix   = "EDGE#"
	permSortPrefix   = "PERM#"
	deadLetterPK     = "DEADLETTER"
	deadLetterPrefix = "DL#"
)

func entityPK(id int64) string { return fmt.Sprintf("ENTITY#%d", id) }

func edgeSK(parentID int64) string { return fmt.Sprintf("%s%d", edgeSortPrefix, parentID) }

func permSK(key valueobjects.PermissionKey) string {
	return fmt.Sprintf("%s%s#%s#%s", permSortPrefix, key.URI, key.Verb, key.Scheme)
}

type entityItem struct {
	PK     string                  `dynamodbav:"PK"`
	SK     string                  `dynamodbav:"SK"`
	Record aggregates.EntityRecord `dynamodbav:"Record"`
}

type edgeItem struct {
	PK     string                `dynamodbav:"PK"`
	SK     string                `dynamodbav:"SK"`
	Record aggregates.EdgeRecord `dynamodbav:"Record"`
}

type permissionItem struct {
	PK     string                      `dynamodbav:"PK"`
	SK     string                      `dynamodbav:"SK"`
	Record aggregates.PermissionRecord `dynamodbav:"Record"`
}

type deadLetterItem struct {
	PK     string              `dynamodbav:"PK"`
	SK     string              `dynamodbav:"SK"`
	Record ports.FailedCommand `dynamodbav:"Record"`
}

// Store implements the persistence port over one DynamoDB table
type Store struct {
	client    *awsdynamodb.Client
	tableName string
}

// NewStore loads the default AWS configuration and binds to tableName
func NewStore(ctx context.Context, tableName string) (*Store, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "loading AWS configuration")
	}
	return &Store{
		client:    awsdynamodb.NewFromConfig(cfg),
		tableName: tableName,
	}, nil
}

// NewStoreWithClient binds an existing client, used by tests
func NewStoreWithClient(client *awsdynamodb.Client, tableName string) *Store {
	return &Store{client: client, tableName: tableName}
}

type tx struct {
	store *Store
	items []types.TransactWriteItem
	done  bool
}

// BeginTx starts a buffered transaction
func (s *Store) BeginTx(ctx context.Context) (ports.Tx, error) {
	return &tx{store: s}, nil
}

func (t *tx) put(item interface{}) error {
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return pkgerrors.Wrap(err, "marshaling item")
	}
	t.items = append(t.items, types.TransactWriteItem{
		Put: &types.Put{
			TableName: aws.String(t.store.tableName),
			Item:      av,
		},
	})
	return nil
}

func (t *tx) delete(pk, sk string) {
	t.items = append(t.items, types.TransactWriteItem{
		Delete: &types.Delete{
			TableName: aws.String(t.store.tableName),
			Key: map[string]types.AttributeValue{
				"PK": &types.AttributeValueMemberS{Value: pk},
				"SK": &types.AttributeValueMemberS{Value: sk},
			},
		},
	})
}

func (t *tx) SaveEntity(ctx context.Context, rec aggregates.EntityRecord) error {
	return t.put(entityItem{PK: entityPK(rec.ID), SK: entitySortKey, Record: rec})
}

func (t *tx) DeleteEntity(ctx context.Context, id int64) error {
	// Related edges and permissions are deleted by their own change-set
	// operations; only the metadata item goes here.
	t.delete(entityPK(id), entitySortKey)
	return nil
}

func (t *tx) SaveEdge(ctx context.Context, rec aggregates.EdgeRecord) error {
	return t.put(edgeItem{PK: entityPK(rec.ChildID), SK: edgeSK(rec.ParentID), Record: rec})
}

func (t *tx) DeleteEdge(ctx context.Context, rec aggregates.EdgeRecord) error {
	t.delete(entityPK(rec.ChildID), edgeSK(rec.ParentID))
	return nil
}

func (t *tx) SavePermission(ctx context.Context, rec aggregates.PermissionRecord) error {
	return t.put(permissionItem{
		PK:     entityPK(rec.EntityID),
		SK:     permSK(rec.Permission.Key()),
		Record: rec,
	})
}

func (t *tx) DeletePermission(ctx context.Context, entityID int64, key valueobjects.PermissionKey) error {
	t.delete(entityPK(entityID), permSK(key))
	return nil
}

// Commit flushes the buffered operations. Change sets larger than the
// TransactWriteItems limit split into sequential batches; each batch is
// atomic and the coordinator retries the whole change set idempotently
// if a later batch fails.
func (t *tx) Commit(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true

	for start := 0; start < len(t.items); start += maxTransactItems {
		end := start + maxTransactItems
		if end > len(t.items) {
			end = len(t.items)
		}
		_, err := t.store.client.TransactWriteItems(ctx, &awsdynamodb.TransactWriteItemsInput{
			TransactItems: t.items[start:end],
		})
		if err != nil {
			return pkgerrors.Wrap(err, "committing transaction")
		}
	}
	return nil
}

func (t *tx) Rollback() error {
	t.done = true
	t.items = nil
	return nil
}

// LoadSnapshot scans the table and partitions items by sort key shape
func (s *Store) LoadSnapshot(ctx context.Context) (*aggregates.Snapshot, error) {
	snap := &aggregates.Snapshot{}

	var startKey map[string]types.AttributeValue
	for {
		out, err := s.client.Scan(ctx, &awsdynamodb.ScanInput{
			TableName:         aws.String(s.tableName),
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, pkgerrors.Wrap(err, "scanning table")
		}

		for _, raw := range out.Items {
			var keys struct {
				PK string `dynamodbav:"PK"`
				SK string `dynamodbav:"SK"`
			}
			if err := attributevalue.UnmarshalMap(raw, &keys); err != nil {
				return nil, pkgerrors.Wrap(err, "unmarshaling item keys")
			}
			if keys.PK == deadLetterPK {
				continue
			}
			switch {
			case keys.SK == entitySortKey:
				var item entityItem
				if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
					return nil, pkgerrors.Wrap(err, "unmarshaling entity")
				}
				snap.Entities = append(snap.Entities, item.Record)
			case strings.HasPrefix(keys.SK, edgeSortPrefix):
				var item edgeItem
				if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
					return nil, pkgerrors.Wrap(err, "unmarshaling edge")
				}
				snap.Edges = append(snap.Edges, item.Record)
			case strings.HasPrefix(keys.SK, permSortPrefix):
				var item permissionItem
				if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
					return nil, pkgerrors.Wrap(err, "unmarshaling permission")
				}
				snap.Permissions = append(snap.Permissions, item.Record)
			}
		}

		if out.LastEvaluatedKey == nil {
			break
		}
		startKey = out.LastEvaluatedKey
	}

	sortSnapshot(snap)
	return snap, nil
}

// sortSnapshot restores the total order by entity id that hydration
// expects; Scan returns items in key order, not id order.
func sortSnapshot(snap *aggregates.Snapshot) {
	sort.Slice(snap.Entities, func(i, j int) bool {
		return snap.Entities[i].ID < snap.Entities[j].ID
	})
	sort.Slice(snap.Edges, func(i, j int) bool {
		if snap.Edges[i].ChildID != snap.Edges[j].ChildID {
			return snap.Edges[i].ChildID < snap.Edges[j].ChildID
		}
		return snap.Edges[i].ParentID < snap.Edges[j].ParentID
	})
	sort.Slice(snap.Permissions, func(i, j int) bool {
		if snap.Permissions[i].EntityID != snap.Permissions[j].EntityID {
			return snap.Permissions[i].EntityID < snap.Permissions[j].EntityID
		}
		return snap.Permissions[i].Permission.ID < snap.Permissions[j].Permission.ID
	})
}

func (s *Store) SaveDeadLetter(ctx context.Context, fc ports.FailedCommand) error {
	av, err := attributevalue.MarshalMap(deadLetterItem{
		PK:     deadLetterPK,
		SK:     deadLetterPrefix + fc.ID,
		Record: fc,
	})
	if err != nil {
		return pkgerrors.Wrap(err, "marshaling dead letter")
	}
	_, err = s.client.PutItem(ctx, &awsdynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      av,
	})
	return err
}

func (s *Store) DeleteDeadLetter(ctx context.Context, id string) error {
	_, err := s.client.DeleteItem(ctx, &awsdynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: deadLetterPK},
			"SK": &types.AttributeValueMemberS{Value: deadLetterPrefix + id},
		},
	})
	return err
}

func (s *Store) LoadDeadLetters(ctx context.Context) ([]ports.FailedCommand, error) {
	out, err := s.client.Query(ctx, &awsdynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		KeyConditionExpression: aws.String("PK = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: deadLetterPK},
		},
	})
	if err != nil {
		return nil, pkgerrors.Wrap(err, "querying dead letters")
	}

	result := make([]ports.FailedCommand, 0, len(out.Items))
	for _, raw := range out.Items {
		var item deadLetterItem
		if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
			return nil, pkgerrors.Wrap(err, "unmarshaling dead letter")
		}
		result = append(result, item.Record)
	}
	return result, nil
}

func (s *Store) Close() error { return nil }
