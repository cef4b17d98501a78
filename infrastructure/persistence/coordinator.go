// Package persistence translates accepted domain mutations into durable
// store transactions, write-behind, with dead-letter retry for failures.
package persistence

import (
	"context"

	"acs-backend/application/ports"
	"acs-backend/infrastructure/resilience"
	pkgerrors "acs-backend/pkg/errors"

	"go.uber.org/zap"
)

// DefaultQueueCapacity bounds the coordinator's change-set queue
const DefaultQueueCapacity = 1024

// Coordinator converts accepted change sets into store transactions.
// A single worker drains the queue, which preserves the dispatcher's
// acceptance order for every entity id (a total order is a valid
// per-entity order). Failed transactions travel to the dead-letter
// queue; the command has already been applied in memory.
type Coordinator struct {
	store  ports.Store
	exec   *resilience.Executor
	dlq    *DeadLetterQueue
	logger *zap.Logger

	// Synchronous commits before the command promise completes,
	// trading latency for durability.
	synchronous bool

	queue       chan ports.ChangeSet
	stopChan    chan struct{}
	stoppedChan chan struct{}
}

// NewCoordinator creates a coordinator; Start launches the worker.
func NewCoordinator(store ports.Store, exec *resilience.Executor, dlq *DeadLetterQueue, synchronous bool, capacity int, logger *zap.Logger) *Coordinator {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	c := &Coordinator{
		store:       store,
		exec:        exec,
		dlq:         dlq,
		logger:      logger,
		synchronous: synchronous,
		queue:       make(chan ports.ChangeSet, capacity),
		stopChan:    make(chan struct{}),
		stoppedChan: make(chan struct{}),
	}
	dlq.SetApplier(c.applyTx)
	return c
}

// Persist implements the dispatcher's sink. Write-behind mode enqueues
// and returns nil; synchronous mode commits inline and surfaces
// failures as PersistenceFailure.
func (c *Coordinator) Persist(cs ports.ChangeSet) error {
	if c.synchronous {
		ctx := context.Background()
		if err := c.apply(ctx, cs); err != nil {
			return pkgerrors.NewPersistenceError(cs.CommandType, err).
				WithCorrelationID(cs.CorrelationID)
		}
		return nil
	}
	c.queue <- cs
	return nil
}

// Start replays persisted dead-letter entries, then launches the
// write-behind worker and the dead-letter retry worker.
func (c *Coordinator) Start(ctx context.Context) error {
	if err := c.dlq.Replay(ctx); err != nil {
		return pkgerrors.Wrap(err, "replaying dead-letter queue")
	}
	c.dlq.Start(ctx)

	go c.run(ctx)
	c.logger.Info("persistence coordinator started",
		zap.Bool("synchronous", c.synchronous),
		zap.Int("queueCapacity", cap(c.queue)),
	)
	return nil
}

// Stop drains the queue and stops both workers
func (c *Coordinator) Stop() {
	close(c.stopChan)
	<-c.stoppedChan
	c.dlq.Stop()
	c.logger.Info("persistence coordinator stopped")
}

func (c *Coordinator) run(ctx context.Context) {
	defer close(c.stoppedChan)

	for {
		select {
		case cs := <-c.queue:
			if err := c.apply(ctx, cs); err != nil {
				c.logger.Warn("persistence failed, dead-lettering command",
					zap.String("commandType", cs.CommandType),
					zap.String("correlationId", cs.CorrelationID),
					zap.Int64("entityId", cs.EntityID),
					zap.Error(err),
				)
				c.dlq.Add(ctx, cs, err)
			}
		case <-ctx.Done():
			return
		case <-c.stopChan:
			// Drain what is already queued before stopping.
			for {
				select {
				case cs := <-c.queue:
					if err := c.apply(ctx, cs); err != nil {
						c.dlq.Add(ctx, cs, err)
					}
				default:
					return
				}
			}
		}
	}
}

// apply runs one change set under the database resilience stack
func (c *Coordinator) apply(ctx context.Context, cs ports.ChangeSet) error {
	return c.exec.Do(ctx, resilience.ClassDatabase, "persist:"+cs.CommandType, func(ctx context.Context) error {
		return c.applyTx(ctx, cs)
	})
}

// applyTx issues the minimal store operations for the change set inside
// one transaction. Also the dead-letter retry path, which calls it bare
// on purpose: the queue's jittered backoff already paces those probes,
// and a recovery probe must run even while the breaker is open.
func (c *Coordinator) applyTx(ctx context.Context, cs ports.ChangeSet) error {
	tx, err := c.store.BeginTx(ctx)
	if err != nil {
		return err
	}

	if err := c.applyOps(ctx, tx, cs); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			c.logger.Error("rollback failed",
				zap.String("commandType", cs.CommandType),
				zap.Error(rbErr),
			)
		}
		return err
	}
	return tx.Commit(ctx)
}

func (c *Coordinator) applyOps(ctx context.Context, tx ports.Tx, cs ports.ChangeSet) error {
	for _, rec := range cs.SaveEntities {
		if err := tx.SaveEntity(ctx, rec); err != nil {
			return err
		}
	}
	for _, rec := range cs.SaveEdges {
		if err := tx.SaveEdge(ctx, rec); err != nil {
			return err
		}
	}
	for _, rec := range cs.SavePermissions {
		if err := tx.SavePermission(ctx, rec); err != nil {
			return err
		}
	}
	for _, pd := range cs.DeletePermissions {
		if err := tx.DeletePermission(ctx, pd.EntityID, pd.Key); err != nil {
			return err
		}
	}
	for _, rec := range cs.DeleteEdges {
		if err := tx.DeleteEdge(ctx, rec); err != nil {
			return err
		}
	}
	for _, id := range cs.DeleteEntities {
		if err := tx.DeleteEntity(ctx, id); err != nil {
			return err
		}
	}
	return nil
}
