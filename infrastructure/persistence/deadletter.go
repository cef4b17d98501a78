package persistence

import (
	"context"
	"encoding/json"
	"math"
	"math/rand"
	"sync"
	"time"

	"acs-backend/application/ports"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// DefaultMaxAttempts caps dead-letter retries per entry
	DefaultMaxAttempts = 3
	// DefaultRetryBackoff is the base delay before the first retry
	DefaultRetryBackoff = 5 * time.Minute
	// DefaultEntryTTL expires entries that never succeed
	DefaultEntryTTL = 24 * time.Hour

	backoffJitter = 0.25
	sweepInterval = 30 * time.Second
)

// applier retries one dead-lettered change set against the store
type applier func(ctx context.Context, cs ports.ChangeSet) error

// DeadLetterQueue holds change sets whose transactions failed. Entries
// retry with jittered exponential backoff until they commit, exhaust
// their attempts, or expire; terminal entries land in the permanent
// failure list for operator inspection. Entries are persisted so a
// restart replays them.
type DeadLetterQueue struct {
	store  ports.Store
	logger *zap.Logger

	maxAttempts int
	baseBackoff time.Duration
	entryTTL    time.Duration

	mu        sync.Mutex
	entries   map[string]*entry
	permanent []ports.FailedCommand

	apply applier

	stopChan    chan struct{}
	stoppedChan chan struct{}
}

type entry struct {
	record    ports.FailedCommand
	changeSet ports.ChangeSet
}

// NewDeadLetterQueue creates the queue; the coordinator wires the
// applier before Start.
func NewDeadLetterQueue(store ports.Store, logger *zap.Logger) *DeadLetterQueue {
	return &DeadLetterQueue{
		store:       store,
		logger:      logger,
		maxAttempts: DefaultMaxAttempts,
		baseBackoff: DefaultRetryBackoff,
		entryTTL:    DefaultEntryTTL,
		entries:     make(map[string]*entry),
		stopChan:    make(chan struct{}),
		stoppedChan: make(chan struct{}),
	}
}

// SetApplier installs the retry callback
func (q *DeadLetterQueue) SetApplier(fn applier) {
	q.apply = fn
}

// backoffFor computes the delay before retry n (1-based):
// min(base * 2^(n-1), capped by TTL) with +/-25% uniform jitter.
func (q *DeadLetterQueue) backoffFor(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	backoff := float64(q.baseBackoff) * math.Pow(2, float64(attempt-1))
	jitter := 1 + backoffJitter*(2*rand.Float64()-1)
	return time.Duration(backoff * jitter)
}

// Add records a failed change set. The first persistence attempt has
// already happened, so the entry starts at one attempt.
func (q *DeadLetterQueue) Add(ctx context.Context, cs ports.ChangeSet, cause error) {
	payload, err := json.Marshal(cs)
	if err != nil {
		q.logger.Error("cannot serialize dead-letter entry",
			zap.String("commandType", cs.CommandType),
			zap.Error(err),
		)
		return
	}

	now := time.Now()
	rec := ports.FailedCommand{
		ID:                uuid.New().String(),
		CommandType:       cs.CommandType,
		SerializedCommand: payload,
		FirstFailureAt:    now,
		LastAttemptAt:     now,
		NextRetryAt:       now.Add(q.backoffFor(1)),
		Attempts:          1,
		ErrorChain:        []string{cause.Error()},
		ExpiresAt:         now.Add(q.entryTTL),
	}

	q.mu.Lock()
	q.entries[rec.ID] = &entry{record: rec, changeSet: cs}
	q.mu.Unlock()

	if err := q.store.SaveDeadLetter(ctx, rec); err != nil {
		// The in-memory entry still retries; only restart durability is lost.
		q.logger.Error("cannot persist dead-letter entry",
			zap.String("id", rec.ID),
			zap.Error(err),
		)
	}
	q.logger.Warn("command dead-lettered",
		zap.String("id", rec.ID),
		zap.String("commandType", rec.CommandType),
		zap.Time("nextRetryAt", rec.NextRetryAt),
	)
}

// Replay loads persisted entries from the store, typically at startup
func (q *DeadLetterQueue) Replay(ctx context.Context) error {
	records, err := q.store.LoadDeadLetters(ctx)
	if err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	for _, rec := range records {
		var cs ports.ChangeSet
		if err := json.Unmarshal(rec.SerializedCommand, &cs); err != nil {
			q.logger.Error("cannot decode persisted dead-letter entry",
				zap.String("id", rec.ID),
				zap.Error(err),
			)
			continue
		}
		q.entries[rec.ID] = &entry{record: rec, changeSet: cs}
	}
	if len(q.entries) > 0 {
		q.logger.Info("replayed dead-letter entries", zap.Int("count", len(q.entries)))
	}
	return nil
}

// Start launches the retry sweep loop
func (q *DeadLetterQueue) Start(ctx context.Context) {
	go func() {
		defer close(q.stoppedChan)
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-q.stopChan:
				return
			case <-ticker.C:
				q.sweep(ctx)
			}
		}
	}()
}

// Stop halts the retry loop
func (q *DeadLetterQueue) Stop() {
	close(q.stopChan)
	<-q.stoppedChan
}

// sweep retries every entry whose backoff has elapsed
func (q *DeadLetterQueue) sweep(ctx context.Context) {
	now := time.Now()

	q.mu.Lock()
	due := make([]*entry, 0, len(q.entries))
	for _, e := range q.entries {
		if !e.record.NextRetryAt.After(now) {
			due = append(due, e)
		}
	}
	q.mu.Unlock()

	for _, e := range due {
		q.retry(ctx, e)
	}
}

func (q *DeadLetterQueue) retry(ctx context.Context, e *entry) {
	err := q.apply(ctx, e.changeSet)
	now := time.Now()

	if err == nil {
		q.remove(ctx, e.record.ID)
		q.logger.Info("dead-letter entry recovered",
			zap.String("id", e.record.ID),
			zap.String("commandType", e.record.CommandType),
			zap.Int("attempts", e.record.Attempts+1),
		)
		return
	}

	q.mu.Lock()
	e.record.Attempts++
	e.record.LastAttemptAt = now
	e.record.ErrorChain = append(e.record.ErrorChain, err.Error())
	e.record.NextRetryAt = now.Add(q.backoffFor(e.record.Attempts))
	rec := e.record
	q.mu.Unlock()

	if rec.Attempts >= q.maxAttempts || now.After(rec.ExpiresAt) {
		q.markPermanent(ctx, rec)
		return
	}

	if err := q.store.SaveDeadLetter(ctx, rec); err != nil {
		q.logger.Error("cannot update dead-letter entry",
			zap.String("id", rec.ID),
			zap.Error(err),
		)
	}
	q.logger.Warn("dead-letter retry failed",
		zap.String("id", rec.ID),
		zap.String("commandType", rec.CommandType),
		zap.Int("attempts", rec.Attempts),
		zap.Time("nextRetryAt", rec.NextRetryAt),
	)
}

// markPermanent moves an exhausted or expired entry to the permanent
// failure list and removes it from the active set.
func (q *DeadLetterQueue) markPermanent(ctx context.Context, rec ports.FailedCommand) {
	q.mu.Lock()
	delete(q.entries, rec.ID)
	q.permanent = append(q.permanent, rec)
	q.mu.Unlock()

	if err := q.store.DeleteDeadLetter(ctx, rec.ID); err != nil {
		q.logger.Error("cannot delete dead-letter entry",
			zap.String("id", rec.ID),
			zap.Error(err),
		)
	}
	q.logger.Error("command permanently failed",
		zap.String("id", rec.ID),
		zap.String("commandType", rec.CommandType),
		zap.Int("attempts", rec.Attempts),
		zap.Strings("errorChain", rec.ErrorChain),
	)
}

func (q *DeadLetterQueue) remove(ctx context.Context, id string) {
	q.mu.Lock()
	delete(q.entries, id)
	q.mu.Unlock()

	if err := q.store.DeleteDeadLetter(ctx, id); err != nil {
		q.logger.Error("cannot delete dead-letter entry",
			zap.String("id", id),
			zap.Error(err),
		)
	}
}

// Pending returns the number of entries awaiting retry
func (q *DeadLetterQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// PermanentFailures returns a copy of the terminal entries
func (q *DeadLetterQueue) PermanentFailures() []ports.FailedCommand {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]ports.FailedCommand(nil), q.permanent...)
}

// RetryNow forces one immediate sweep regardless of schedule; used by
// the admin endpoint and tests.
func (q *DeadLetterQueue) RetryNow(ctx context.Context) {
	q.mu.Lock()
	for _, e := range q.entries {
		e.record.NextRetryAt = time.Now()
	}
	q.mu.Unlock()
	q.sweep(ctx)
}
