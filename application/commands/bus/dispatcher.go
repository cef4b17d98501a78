package bus

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"acs-backend/application/commands"
	"acs-backend/application/ports"
	"acs-backend/application/services"
	"acs-backend/domain/core/aggregates"
	"acs-backend/domain/core/entities"
	"acs-backend/domain/core/valueobjects"
	pkgerrors "acs-backend/pkg/errors"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultQueueCapacity bounds the command channel
const DefaultQueueCapacity = 1000

// DefaultShutdownTimeout bounds the drain on shutdown
const DefaultShutdownTimeout = 10 * time.Second

// PersistenceSink receives accepted mutations. In write-behind mode
// Persist only enqueues and always returns nil; in synchronous mode it
// commits before returning and a failure surfaces as PersistenceFailure
// on the command promise.
type PersistenceSink interface {
	Persist(cs ports.ChangeSet) error
}

// outcome completes an envelope's promise
type outcome struct {
	value interface{}
	err   error
}

// envelope wraps a submitted command with its correlation id,
// cancellation token, and completion promise.
type envelope struct {
	id   string
	cmd  commands.Command
	fn   func() (interface{}, error) // set instead of cmd for raw queries
	ctx  context.Context
	done chan outcome
}

func (e *envelope) resolve(value interface{}, err error) {
	if appErr := pkgerrors.GetAppError(err); appErr != nil && appErr.CorrelationID == "" {
		appErr.CorrelationID = e.id
	}
	// done is buffered; a producer that stopped waiting never blocks us.
	e.done <- outcome{value: value, err: err}
}

// Dispatcher serializes every graph mutation and query through one
// consumer goroutine over a bounded FIFO channel. This makes the entity
// graph sequentially consistent without per-entity locks: the consumer
// is the only reader and writer of structural state, and each command's
// promise completes before the next command starts.
type Dispatcher struct {
	graph     *aggregates.Graph
	evaluator *services.Evaluator
	sink      PersistenceSink
	logger    *zap.Logger

	// mu guards the queue against Shutdown's close: producers send
	// under the read lock, Shutdown closes under the write lock.
	mu              sync.RWMutex
	queue           chan *envelope
	finished        chan struct{}
	shuttingDown    atomic.Bool
	shutdownTimeout time.Duration
}

// Options tunes the dispatcher
type Options struct {
	QueueCapacity   int
	ShutdownTimeout time.Duration
}

// NewDispatcher creates a dispatcher; Start launches the consumer.
func NewDispatcher(graph *aggregates.Graph, evaluator *services.Evaluator, sink PersistenceSink, opts Options, logger *zap.Logger) *Dispatcher {
	capacity := opts.QueueCapacity
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	timeout := opts.ShutdownTimeout
	if timeout <= 0 {
		timeout = DefaultShutdownTimeout
	}
	return &Dispatcher{
		graph:           graph,
		evaluator:       evaluator,
		sink:            sink,
		logger:          logger,
		queue:           make(chan *envelope, capacity),
		finished:        make(chan struct{}),
		shutdownTimeout: timeout,
	}
}

// Start launches the single consumer goroutine
func (d *Dispatcher) Start() {
	go d.consume()
	d.logger.Info("command dispatcher started",
		zap.Int("queueCapacity", cap(d.queue)),
	)
}

// Submit queues a command and waits for its completion promise. The
// context is the command's cancellation token: cancellation before
// dequeue drops the command; after dequeue it is advisory and the
// command runs to completion.
func (d *Dispatcher) Submit(ctx context.Context, cmd commands.Command) (interface{}, error) {
	if d.shuttingDown.Load() {
		return nil, pkgerrors.NewShuttingDownError()
	}
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	env := &envelope{
		id:   uuid.NewString(),
		cmd:  cmd,
		ctx:  ctx,
		done: make(chan outcome, 1),
	}

	if err := d.enqueue(ctx, env, string(cmd.CommandKind())); err != nil {
		return nil, err
	}

	select {
	case out := <-env.done:
		return out.value, out.err
	case <-ctx.Done():
		// The consumer resolves the dropped or still-running command on
		// its own; the producer stops waiting.
		return nil, pkgerrors.NewCanceledError(string(cmd.CommandKind())).WithCorrelationID(env.id)
	}
}

// Query runs an arbitrary read closure on the dispatcher goroutine,
// serialized with mutations. The evaluator's reporting queries go
// through here so the single-writer invariant holds for them too.
func (d *Dispatcher) Query(ctx context.Context, fn func() (interface{}, error)) (interface{}, error) {
	if d.shuttingDown.Load() {
		return nil, pkgerrors.NewShuttingDownError()
	}
	env := &envelope{
		id:   uuid.NewString(),
		fn:   fn,
		ctx:  ctx,
		done: make(chan outcome, 1),
	}
	if err := d.enqueue(ctx, env, "query"); err != nil {
		return nil, err
	}
	select {
	case out := <-env.done:
		return out.value, out.err
	case <-ctx.Done():
		return nil, pkgerrors.NewCanceledError("query").WithCorrelationID(env.id)
	}
}

// enqueue sends the envelope under the read lock, rechecking the
// shutdown flag once the lock is held. A producer that passed the
// entry check while Shutdown raced ahead sees the flag here instead of
// sending on a closed channel.
func (d *Dispatcher) enqueue(ctx context.Context, env *envelope, op string) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.shuttingDown.Load() {
		return pkgerrors.NewShuttingDownError()
	}
	select {
	case d.queue <- env:
		return nil
	case <-ctx.Done():
		return pkgerrors.NewCanceledError(op)
	}
}

// Shutdown rejects new submissions, drains in-flight commands, and
// waits up to the configured timeout for the consumer to finish.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	if !d.shuttingDown.CompareAndSwap(false, true) {
		return nil
	}
	// Once the write lock is held every producer has either finished
	// its send or will observe the flag; the close cannot race a send.
	// Producers blocked on a full queue complete first because the
	// consumer keeps draining until the channel closes.
	d.mu.Lock()
	close(d.queue)
	d.mu.Unlock()

	timer := time.NewTimer(d.shutdownTimeout)
	defer timer.Stop()

	select {
	case <-d.finished:
		d.logger.Info("command dispatcher drained")
		return nil
	case <-timer.C:
		d.logger.Warn("command dispatcher shutdown timed out; abandoning consumer")
		return pkgerrors.NewTimeoutError("dispatcher shutdown")
	case <-ctx.Done():
		return pkgerrors.NewCanceledError("dispatcher shutdown")
	}
}

// consume is the single reader of the queue and the only goroutine
// touching the graph.
func (d *Dispatcher) consume() {
	defer close(d.finished)

	for env := range d.queue {
		// Hard cancel: dropped before any work if the token fired
		// while queued.
		if env.ctx.Err() != nil {
			env.resolve(nil, pkgerrors.NewCanceledError("command"))
			continue
		}

		value, cs, err := d.apply(env)
		if err == nil && cs != nil && !cs.Empty() {
			cs.CorrelationID = env.id
			if perr := d.sink.Persist(*cs); perr != nil {
				err = perr
			}
		}
		env.resolve(value, err)
	}
}

// apply executes one envelope with panic recovery; a panic is an
// invariant violation surfaced as Internal while the consumer moves on
// to the next command.
func (d *Dispatcher) apply(env *envelope) (value interface{}, cs *ports.ChangeSet, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("command handler panicked",
				zap.String("correlationId", env.id),
				zap.Any("panic", r),
			)
			value, cs = nil, nil
			err = pkgerrors.NewInternalError(fmt.Sprintf("command handler panicked: %v", r))
		}
	}()

	if env.fn != nil {
		value, err = env.fn()
		return value, nil, err
	}
	return d.handle(env.cmd)
}

// handle is the closed variant match from command kind to typed handler
func (d *Dispatcher) handle(cmd commands.Command) (interface{}, *ports.ChangeSet, error) {
	switch c := cmd.(type) {

	// Entity CRUD
	case commands.CreateUser:
		u, err := d.graph.CreateUser(c.Name, c.Email)
		if err != nil {
			return nil, nil, err
		}
		return d.entityResult(u.ID(), cmd, true)
	case commands.CreateGroup:
		g, err := d.graph.CreateGroup(c.Name, c.Description)
		if err != nil {
			return nil, nil, err
		}
		return d.entityResult(g.ID(), cmd, true)
	case commands.CreateRole:
		r, err := d.graph.CreateRole(c.Name, c.Description)
		if err != nil {
			return nil, nil, err
		}
		return d.entityResult(r.ID(), cmd, true)

	case commands.GetUser:
		if _, err := d.graph.GetUser(entities.ID(c.ID)); err != nil {
			return nil, nil, err
		}
		return d.entityResult(entities.ID(c.ID), cmd, false)
	case commands.GetGroup:
		if _, err := d.graph.GetGroup(entities.ID(c.ID)); err != nil {
			return nil, nil, err
		}
		return d.entityResult(entities.ID(c.ID), cmd, false)
	case commands.GetRole:
		if _, err := d.graph.GetRole(entities.ID(c.ID)); err != nil {
			return nil, nil, err
		}
		return d.entityResult(entities.ID(c.ID), cmd, false)
	case commands.GetEntity:
		return d.entityResult(entities.ID(c.ID), cmd, false)

	case commands.UpdateUser:
		u, err := d.graph.UpdateUser(entities.ID(c.ID), aggregates.UserUpdate{
			Name:     c.Name,
			Email:    c.Email,
			IsActive: c.IsActive,
		})
		if err != nil {
			return nil, nil, err
		}
		return d.entityResult(u.ID(), cmd, true)
	case commands.UpdateGroup:
		g, err := d.graph.UpdateGroup(entities.ID(c.ID), aggregates.NamedUpdate{
			Name:        c.Name,
			Description: c.Description,
		})
		if err != nil {
			return nil, nil, err
		}
		return d.entityResult(g.ID(), cmd, true)
	case commands.UpdateRole:
		r, err := d.graph.UpdateRole(entities.ID(c.ID), aggregates.NamedUpdate{
			Name:        c.Name,
			Description: c.Description,
		})
		if err != nil {
			return nil, nil, err
		}
		return d.entityResult(r.ID(), cmd, true)

	case commands.DeleteUser:
		return d.deleteEntity(entities.ID(c.ID), entities.KindUser, cmd)
	case commands.DeleteGroup:
		return d.deleteEntity(entities.ID(c.ID), entities.KindGroup, cmd)
	case commands.DeleteRole:
		return d.deleteEntity(entities.ID(c.ID), entities.KindRole, cmd)

	// Edges
	case commands.AddUserToGroup:
		return d.link(entities.ID(c.GroupID), entities.ID(c.UserID), cmd)
	case commands.AssignUserToRole:
		return d.link(entities.ID(c.RoleID), entities.ID(c.UserID), cmd)
	case commands.AddRoleToGroup:
		return d.link(entities.ID(c.GroupID), entities.ID(c.RoleID), cmd)
	case commands.AddGroupToGroup:
		return d.link(entities.ID(c.ParentID), entities.ID(c.ChildID), cmd)

	case commands.RemoveUserFromGroup:
		return d.unlink(entities.ID(c.GroupID), entities.ID(c.UserID), cmd)
	case commands.UnassignUserFromRole:
		return d.unlink(entities.ID(c.RoleID), entities.ID(c.UserID), cmd)
	case commands.RemoveRoleFromGroup:
		return d.unlink(entities.ID(c.GroupID), entities.ID(c.RoleID), cmd)
	case commands.RemoveGroupFromGroup:
		return d.unlink(entities.ID(c.ParentID), entities.ID(c.ChildID), cmd)

	// Permissions
	case commands.AddPermission:
		return d.addPermission(entities.ID(c.EntityID), c.Permission, cmd)
	case commands.RemovePermission:
		return d.removePermission(entities.ID(c.EntityID), c.Key(), cmd)
	case commands.CheckPermission:
		decision, err := d.evaluator.Evaluate(entities.ID(c.EntityID), c.URI, c.Verb, c.Context)
		if err != nil {
			return nil, nil, err
		}
		return decision, nil, nil

	default:
		return nil, nil, pkgerrors.NewNotSupportedError(fmt.Sprintf("%T", cmd))
	}
}

// entityResult builds the command's result record and, for mutations,
// the change set saving the entity.
func (d *Dispatcher) entityResult(id entities.ID, cmd commands.Command, persist bool) (interface{}, *ports.ChangeSet, error) {
	rec, err := d.graph.EntityRecordFor(id)
	if err != nil {
		return nil, nil, err
	}
	if !persist {
		return rec, nil, nil
	}
	return rec, &ports.ChangeSet{
		CommandType:  string(cmd.CommandKind()),
		EntityID:     rec.ID,
		SaveEntities: []aggregates.EntityRecord{rec},
	}, nil
}

func (d *Dispatcher) deleteEntity(id entities.ID, kind entities.Kind, cmd commands.Command) (interface{}, *ports.ChangeSet, error) {
	e, err := d.graph.GetEntity(id)
	if err != nil {
		return nil, nil, err
	}
	if e.Kind() != kind {
		return nil, nil, pkgerrors.NewNotFoundError(string(kind))
	}

	// Invalidation set must be computed before the edges disappear.
	invalidate := append([]entities.ID{id}, d.graph.Descendants(id)...)

	removed, err := d.graph.Delete(id)
	if err != nil {
		return nil, nil, err
	}
	d.evaluator.Cache().InvalidateEntities(invalidate)

	cs := &ports.ChangeSet{
		CommandType:    string(cmd.CommandKind()),
		EntityID:       int64(id),
		DeleteEntities: []int64{int64(id)},
	}
	for _, edge := range removed {
		cs.DeleteEdges = append(cs.DeleteEdges, aggregates.EdgeRecord{
			ParentID: int64(edge.ParentID),
			ChildID:  int64(edge.ChildID),
			Kind:     edge.Kind,
		})
	}
	return nil, cs, nil
}

func (d *Dispatcher) link(parentID, childID entities.ID, cmd commands.Command) (interface{}, *ports.ChangeSet, error) {
	created, err := d.graph.Link(parentID, childID)
	if err != nil {
		return nil, nil, err
	}
	if !created {
		// Idempotent re-link: nothing changed, nothing to persist.
		return nil, nil, nil
	}

	d.invalidateInheritors(childID)

	parent, _ := d.graph.GetEntity(parentID)
	child, _ := d.graph.GetEntity(childID)
	return nil, &ports.ChangeSet{
		CommandType: string(cmd.CommandKind()),
		EntityID:    int64(childID),
		SaveEdges: []aggregates.EdgeRecord{{
			ParentID: int64(parentID),
			ChildID:  int64(childID),
			Kind:     aggregates.EdgeKindFor(child.Kind(), parent.Kind()),
		}},
	}, nil
}

func (d *Dispatcher) unlink(parentID, childID entities.ID, cmd commands.Command) (interface{}, *ports.ChangeSet, error) {
	parent, err := d.graph.GetEntity(parentID)
	if err != nil {
		return nil, nil, pkgerrors.NewNotFoundError("parent entity")
	}
	child, err := d.graph.GetEntity(childID)
	if err != nil {
		return nil, nil, pkgerrors.NewNotFoundError("child entity")
	}
	kind := aggregates.EdgeKindFor(child.Kind(), parent.Kind())

	if err := d.graph.Unlink(parentID, childID); err != nil {
		return nil, nil, err
	}
	d.invalidateInheritors(childID)

	return nil, &ports.ChangeSet{
		CommandType: string(cmd.CommandKind()),
		EntityID:    int64(childID),
		DeleteEdges: []aggregates.EdgeRecord{{
			ParentID: int64(parentID),
			ChildID:  int64(childID),
			Kind:     kind,
		}},
	}, nil
}

func (d *Dispatcher) addPermission(entityID entities.ID, p valueobjects.Permission, cmd commands.Command) (interface{}, *ports.ChangeSet, error) {
	stored, err := d.graph.AddPermission(entityID, p)
	if err != nil {
		return nil, nil, err
	}
	d.invalidateInheritors(entityID)

	return stored, &ports.ChangeSet{
		CommandType: string(cmd.CommandKind()),
		EntityID:    int64(entityID),
		SavePermissions: []aggregates.PermissionRecord{{
			EntityID:   int64(entityID),
			Permission: stored,
		}},
	}, nil
}

func (d *Dispatcher) removePermission(entityID entities.ID, key valueobjects.PermissionKey, cmd commands.Command) (interface{}, *ports.ChangeSet, error) {
	if err := d.graph.RemovePermission(entityID, key); err != nil {
		return nil, nil, err
	}
	d.invalidateInheritors(entityID)

	return nil, &ports.ChangeSet{
		CommandType: string(cmd.CommandKind()),
		EntityID:    int64(entityID),
		DeletePermissions: []ports.PermissionDelete{{
			EntityID: int64(entityID),
			Key:      key,
		}},
	}, nil
}

// invalidateInheritors drops cached decisions for the entity and every
// descendant that inherits from it.
func (d *Dispatcher) invalidateInheritors(id entities.ID) {
	d.evaluator.Cache().InvalidateEntities(append([]entities.ID{id}, d.graph.Descendants(id)...))
}
