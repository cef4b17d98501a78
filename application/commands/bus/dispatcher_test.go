package bus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"acs-backend/application/commands"
	"acs-backend/application/ports"
	"acs-backend/application/queries"
	"acs-backend/application/services"
	"acs-backend/domain/core/aggregates"
	"acs-backend/domain/core/entities"
	"acs-backend/domain/core/valueobjects"
	pkgerrors "acs-backend/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// recordingSink captures every change set the dispatcher emits
type recordingSink struct {
	mu   sync.Mutex
	sets []ports.ChangeSet
	fail error
}

func (s *recordingSink) Persist(cs ports.ChangeSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.sets = append(s.sets, cs)
	return nil
}

func (s *recordingSink) all() []ports.ChangeSet {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ports.ChangeSet, len(s.sets))
	copy(out, s.sets)
	return out
}

func newTestDispatcher(t *testing.T, sink PersistenceSink) (*Dispatcher, *aggregates.Graph) {
	t.Helper()
	g := aggregates.NewGraph()
	g.MarkReady()
	cache := services.NewDecisionCache(128, time.Minute)
	ev := services.NewEvaluator(g, cache, services.DenyOverrides, zap.NewNop())
	d := NewDispatcher(g, ev, sink, Options{QueueCapacity: 64, ShutdownTimeout: time.Second}, zap.NewNop())
	d.Start()
	t.Cleanup(func() { _ = d.Shutdown(context.Background()) })
	return d, g
}

func TestDispatcher_CreateAndGet(t *testing.T) {
	sink := &recordingSink{}
	d, _ := newTestDispatcher(t, sink)
	ctx := context.Background()

	result, err := d.Submit(ctx, commands.CreateUser{Name: "alice", Email: "alice@example.com"})
	require.NoError(t, err)
	rec, ok := result.(aggregates.EntityRecord)
	require.True(t, ok)
	assert.Equal(t, int64(1), rec.ID)
	assert.Equal(t, entities.KindUser, rec.Kind)

	sets := sink.all()
	require.Len(t, sets, 1)
	assert.Equal(t, "CreateUser", sets[0].CommandType)
	assert.NotEmpty(t, sets[0].CorrelationID)
	require.Len(t, sets[0].SaveEntities, 1)

	// queries produce no change set
	result, err = d.Submit(ctx, commands.GetUser{ID: rec.ID})
	require.NoError(t, err)
	assert.Equal(t, rec.ID, result.(aggregates.EntityRecord).ID)
	assert.Len(t, sink.all(), 1)

	_, err = d.Submit(ctx, commands.GetUser{ID: 42})
	assert.True(t, pkgerrors.IsNotFound(err))
}

func TestDispatcher_ValidationRejectsBeforeEnqueue(t *testing.T) {
	sink := &recordingSink{}
	d, _ := newTestDispatcher(t, sink)

	_, err := d.Submit(context.Background(), commands.CreateUser{Name: ""})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsInvalidArgument(err))

	_, err = d.Submit(context.Background(), commands.AddGroupToGroup{ParentID: 3, ChildID: 3})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsInvalidArgument(err))

	assert.Empty(t, sink.all())
}

func TestDispatcher_LinkIdempotence(t *testing.T) {
	sink := &recordingSink{}
	d, _ := newTestDispatcher(t, sink)
	ctx := context.Background()

	_, err := d.Submit(ctx, commands.CreateUser{Name: "alice"})
	require.NoError(t, err)
	_, err = d.Submit(ctx, commands.CreateGroup{Name: "team"})
	require.NoError(t, err)

	_, err = d.Submit(ctx, commands.AddUserToGroup{UserID: 1, GroupID: 2})
	require.NoError(t, err)
	require.Len(t, sink.all(), 3)
	assert.Len(t, sink.all()[2].SaveEdges, 1)

	// relinking succeeds but persists nothing
	_, err = d.Submit(ctx, commands.AddUserToGroup{UserID: 1, GroupID: 2})
	require.NoError(t, err)
	assert.Len(t, sink.all(), 3)
}

func TestDispatcher_DeleteEmitsEdgeRemovals(t *testing.T) {
	sink := &recordingSink{}
	d, _ := newTestDispatcher(t, sink)
	ctx := context.Background()

	_, _ = d.Submit(ctx, commands.CreateUser{Name: "alice"})
	_, _ = d.Submit(ctx, commands.CreateGroup{Name: "team"})
	_, _ = d.Submit(ctx, commands.AddUserToGroup{UserID: 1, GroupID: 2})

	_, err := d.Submit(ctx, commands.DeleteUser{ID: 1})
	require.NoError(t, err)

	sets := sink.all()
	last := sets[len(sets)-1]
	assert.Equal(t, []int64{1}, last.DeleteEntities)
	require.Len(t, last.DeleteEdges, 1)
	assert.Equal(t, int64(2), last.DeleteEdges[0].ParentID)
	assert.Equal(t, int64(1), last.DeleteEdges[0].ChildID)

	// deleting under the wrong kind is not found
	_, _ = d.Submit(ctx, commands.CreateRole{Name: "admin"})
	_, err = d.Submit(ctx, commands.DeleteUser{ID: 3})
	assert.True(t, pkgerrors.IsNotFound(err))
}

func TestDispatcher_CheckPermissionFlow(t *testing.T) {
	sink := &recordingSink{}
	d, _ := newTestDispatcher(t, sink)
	ctx := context.Background()

	_, _ = d.Submit(ctx, commands.CreateUser{Name: "alice"})
	_, _ = d.Submit(ctx, commands.CreateGroup{Name: "team"})
	_, _ = d.Submit(ctx, commands.AddUserToGroup{UserID: 1, GroupID: 2})

	_, err := d.Submit(ctx, commands.AddPermission{
		EntityID:   2,
		Permission: valueobjects.Permission{URI: "/api/docs/*", Verb: valueobjects.VerbGet, Grant: true},
	})
	require.NoError(t, err)

	result, err := d.Submit(ctx, commands.CheckPermission{EntityID: 1, URI: "/api/docs/readme", Verb: valueobjects.VerbGet})
	require.NoError(t, err)
	assert.True(t, asDecision(t, result).Allowed)

	// removing the permission invalidates inherited decisions
	_, err = d.Submit(ctx, commands.RemovePermission{EntityID: 2, URI: "/api/docs/*", Verb: valueobjects.VerbGet})
	require.NoError(t, err)

	result, err = d.Submit(ctx, commands.CheckPermission{EntityID: 1, URI: "/api/docs/readme", Verb: valueobjects.VerbGet})
	require.NoError(t, err)
	assert.False(t, asDecision(t, result).Allowed)
}

func asDecision(t *testing.T, v interface{}) queries.Decision {
	t.Helper()
	d, ok := v.(queries.Decision)
	require.True(t, ok, "expected a decision, got %T", v)
	return d
}

func TestDispatcher_PersistFailureSurfacesOnPromise(t *testing.T) {
	sink := &recordingSink{fail: pkgerrors.NewPersistenceError("save", errors.New("disk full"))}
	d, g := newTestDispatcher(t, sink)

	_, err := d.Submit(context.Background(), commands.CreateUser{Name: "alice"})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsType(err, pkgerrors.ErrorTypePersistence))

	// the in-memory mutation itself went through
	_, gerr := g.GetUser(1)
	assert.NoError(t, gerr)
}

func TestDispatcher_QuerySerializesWithCommands(t *testing.T) {
	sink := &recordingSink{}
	d, g := newTestDispatcher(t, sink)
	ctx := context.Background()

	_, _ = d.Submit(ctx, commands.CreateUser{Name: "alice"})

	result, err := d.Query(ctx, func() (interface{}, error) {
		return g.Size(), nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result)

	_, err = d.Query(ctx, func() (interface{}, error) {
		return nil, pkgerrors.NewNotFoundError("thing")
	})
	assert.True(t, pkgerrors.IsNotFound(err))
}

func TestDispatcher_PanicRecovery(t *testing.T) {
	sink := &recordingSink{}
	d, _ := newTestDispatcher(t, sink)
	ctx := context.Background()

	_, err := d.Query(ctx, func() (interface{}, error) {
		panic("boom")
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsType(err, pkgerrors.ErrorTypeInternal))

	// the consumer survived the panic
	_, err = d.Submit(ctx, commands.CreateUser{Name: "alice"})
	assert.NoError(t, err)
}

func TestDispatcher_CancellationWhileQueued(t *testing.T) {
	sink := &recordingSink{}
	d, _ := newTestDispatcher(t, sink)

	gate := make(chan struct{})
	go func() {
		_, _ = d.Query(context.Background(), func() (interface{}, error) {
			<-gate
			return nil, nil
		})
	}()
	time.Sleep(20 * time.Millisecond) // let the blocking query reach the consumer

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := d.Submit(ctx, commands.CreateUser{Name: "alice"})
		errCh <- err
	}()
	time.Sleep(20 * time.Millisecond) // command is now queued behind the gate
	cancel()

	err := <-errCh
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCanceled(err))

	close(gate)
}

func TestDispatcher_ShutdownRejectsNewWork(t *testing.T) {
	sink := &recordingSink{}
	g := aggregates.NewGraph()
	g.MarkReady()
	cache := services.NewDecisionCache(128, time.Minute)
	ev := services.NewEvaluator(g, cache, services.DenyOverrides, zap.NewNop())
	d := NewDispatcher(g, ev, sink, Options{QueueCapacity: 8, ShutdownTimeout: time.Second}, zap.NewNop())
	d.Start()

	_, err := d.Submit(context.Background(), commands.CreateUser{Name: "alice"})
	require.NoError(t, err)

	require.NoError(t, d.Shutdown(context.Background()))

	_, err = d.Submit(context.Background(), commands.CreateUser{Name: "bob"})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsType(err, pkgerrors.ErrorTypeShuttingDown))

	_, err = d.Query(context.Background(), func() (interface{}, error) { return nil, nil })
	require.Error(t, err)
	assert.True(t, pkgerrors.IsType(err, pkgerrors.ErrorTypeShuttingDown))

	// second shutdown is a no-op
	assert.NoError(t, d.Shutdown(context.Background()))
}

func TestDispatcher_ShutdownRacesConcurrentSubmitters(t *testing.T) {
	// A submitter that passed the shutdown check must either enqueue or
	// get ShuttingDown; a send on the closed queue would panic its
	// goroutine and fail the run.
	for i := 0; i < 100; i++ {
		sink := &recordingSink{}
		g := aggregates.NewGraph()
		g.MarkReady()
		cache := services.NewDecisionCache(128, time.Minute)
		ev := services.NewEvaluator(g, cache, services.DenyOverrides, zap.NewNop())
		d := NewDispatcher(g, ev, sink, Options{QueueCapacity: 4, ShutdownTimeout: time.Second}, zap.NewNop())
		d.Start()

		var wg sync.WaitGroup
		for w := 0; w < 16; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					_, err := d.Submit(context.Background(), commands.CreateGroup{Name: "g"})
					if err != nil {
						assert.True(t, pkgerrors.IsType(err, pkgerrors.ErrorTypeShuttingDown))
						return
					}
				}
			}()
		}
		require.NoError(t, d.Shutdown(context.Background()))
		wg.Wait()
	}
}

func TestDispatcher_ConcurrentSubmissions(t *testing.T) {
	sink := &recordingSink{}
	d, g := newTestDispatcher(t, sink)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := d.Submit(context.Background(), commands.CreateGroup{Name: "group"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 20, g.Size())
	assert.Len(t, sink.all(), 20)
}
