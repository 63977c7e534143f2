package queue

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lenshed/durastore/internal/logger"
	"github.com/lenshed/durastore/internal/metrics"
	"github.com/lenshed/durastore/internal/oplog"
	"github.com/lenshed/durastore/internal/storage"
)

// ErrClosed is returned by Submit after the executor has shut down.
var ErrClosed = errors.New("queue executor closed")

// Config holds executor tuning.
type Config struct {
	RetryCeiling   int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	FlushBatchSize int
}

// Executor owns the pending set. Submissions append under lock; applies are
// serialized through a single apply mutex so table writes never race.
type Executor struct {
	store   storage.Store
	auditor *oplog.Log
	log     logger.Logger
	cfg     Config
	backoff Backoff

	mu        sync.Mutex
	pending   []*Operation
	byID      map[string]*Operation
	inflight  map[string]bool
	notBefore map[string]time.Time
	timers    map[string]*time.Timer
	dead      []TerminalFailure
	closed    bool

	applyMu  sync.Mutex
	flushing atomic.Bool
	onEvent  atomic.Pointer[func(Event)]
	wg       sync.WaitGroup
}

// NewExecutor creates an executor over the given store and audit log
func NewExecutor(store storage.Store, auditor *oplog.Log, cfg Config, log logger.Logger) *Executor {
	return &Executor{
		store:   store,
		auditor: auditor,
		log:     log,
		cfg:     cfg,
		backoff: Backoff{Base: cfg.BaseDelay, Max: cfg.MaxDelay, Jitter: 0.2},

		byID:      make(map[string]*Operation),
		inflight:  make(map[string]bool),
		notBefore: make(map[string]time.Time),
		timers:    make(map[string]*time.Timer),
	}
}

// SetEventHandler installs a callback for queue events. The callback is
// invoked outside executor locks and must not block for long.
func (e *Executor) SetEventHandler(fn func(Event)) {
	e.onEvent.Store(&fn)
}

func (e *Executor) emit(evt Event) {
	if fn := e.onEvent.Load(); fn != nil {
		(*fn)(evt)
	}
}

// Submit enqueues an operation, writes its audit entry, and kicks off an
// immediate apply attempt in the background. Only enqueue errors are
// reported; apply failures go through the retry loop.
func (e *Executor) Submit(ctx context.Context, kind Kind, table, key string, payload []byte) (string, error) {
	if _, err := ParseKind(string(kind)); err != nil {
		return "", err
	}
	if table == "" || strings.HasPrefix(table, "_") {
		return "", fmt.Errorf("invalid table name: %q", table)
	}
	if key == "" {
		return "", errors.New("operation key must not be empty")
	}
	if kind != KindDelete && len(payload) == 0 {
		return "", fmt.Errorf("%s operation requires a payload", kind)
	}

	now := time.Now().UTC()
	op := &Operation{
		ID:        newOperationID(now),
		Kind:      kind,
		Table:     table,
		Key:       key,
		Payload:   append([]byte(nil), payload...),
		CreatedAt: now,
	}

	// Audit entry goes in before the operation becomes applicable.
	entry := oplog.Entry{
		OperationID: op.ID,
		Kind:        string(op.Kind),
		TableName:   op.Table,
		Key:         op.Key,
		Payload:     op.Payload,
		LoggedAt:    now,
	}
	if err := e.auditor.Append(ctx, entry); err != nil {
		return "", fmt.Errorf("failed to record operation intent: %w", err)
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return "", ErrClosed
	}
	e.pending = append(e.pending, op)
	e.byID[op.ID] = op
	metrics.QueueDepth.Set(float64(len(e.pending)))
	e.wg.Add(1)
	e.mu.Unlock()

	metrics.OperationsSubmitted.WithLabelValues(string(kind), table).Inc()
	e.log.Debug("Operation submitted",
		logger.String("operation_id", op.ID),
		logger.String("kind", string(kind)),
		logger.String("table", table),
		logger.String("key", key))

	go func() {
		defer e.wg.Done()
		e.tryApply(context.Background(), op.ID)
	}()

	return op.ID, nil
}

// tryApply claims the operation and runs one apply attempt. It is a no-op if
// the operation is gone, already in flight, still backing off, or ordered
// behind an earlier operation on the same key.
func (e *Executor) tryApply(ctx context.Context, id string) {
	op, ok := e.claim(id)
	if !ok {
		return
	}
	err := e.applyOnce(ctx, op)
	e.finish(op, err)
}

func (e *Executor) claim(id string) (*Operation, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	op, ok := e.byID[id]
	if !ok || e.closed || e.inflight[id] {
		return nil, false
	}
	if nb, ok := e.notBefore[id]; ok && time.Now().Before(nb) {
		return nil, false
	}
	if e.blockedLocked(op) {
		return nil, false
	}
	e.inflight[id] = true
	return op, true
}

// blockedLocked reports whether an earlier pending operation targets the same
// table and key. Same-key operations apply strictly in submission order.
func (e *Executor) blockedLocked(op *Operation) bool {
	for _, other := range e.pending {
		if other.ID == op.ID {
			return false
		}
		if other.Table == op.Table && other.Key == op.Key {
			return true
		}
	}
	return false
}

// applyOnce performs the table mutation inside a store transaction. Creates
// and updates are insert-or-replace and deletes tolerate absent keys, so a
// repeated apply of the same operation is harmless.
func (e *Executor) applyOnce(ctx context.Context, op *Operation) error {
	e.applyMu.Lock()
	defer e.applyMu.Unlock()

	tx, err := e.store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to open transaction: %w", err)
	}

	switch op.Kind {
	case KindCreate, KindUpdate:
		err = tx.Put(op.Table, storage.Record{ID: op.Key, Data: op.Payload})
	case KindDelete:
		err = tx.Delete(op.Table, op.Key)
	default:
		err = fmt.Errorf("unknown operation kind: %q", op.Kind)
	}
	if err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit()
}

func (e *Executor) finish(op *Operation, applyErr error) {
	if applyErr == nil {
		e.succeed(op)
		return
	}
	e.fail(op, applyErr)
}

func (e *Executor) succeed(op *Operation) {
	e.mu.Lock()
	e.removeLocked(op.ID)
	var next string
	if !e.closed {
		next = e.nextForKeyLocked(op.Table, op.Key)
	}
	if next != "" {
		e.wg.Add(1)
	}
	e.mu.Unlock()

	metrics.OperationApplies.WithLabelValues(string(op.Kind), "applied").Inc()
	e.log.Debug("Operation applied",
		logger.String("operation_id", op.ID),
		logger.String("table", op.Table),
		logger.String("key", op.Key))
	e.emit(Event{Type: EventApplied, Operation: *op, At: time.Now().UTC()})

	if next != "" {
		go func() {
			defer e.wg.Done()
			e.tryApply(context.Background(), next)
		}()
	}
}

func (e *Executor) fail(op *Operation, applyErr error) {
	now := time.Now().UTC()

	e.mu.Lock()
	op.RetryCount++
	if op.RetryCount >= e.cfg.RetryCeiling {
		e.removeLocked(op.ID)
		failure := TerminalFailure{Operation: *op, LastError: applyErr.Error(), FailedAt: now}
		e.dead = append(e.dead, failure)
		metrics.DeadLetters.Set(float64(len(e.dead)))
		var next string
		if !e.closed {
			next = e.nextForKeyLocked(op.Table, op.Key)
		}
		if next != "" {
			e.wg.Add(1)
		}
		e.mu.Unlock()

		metrics.OperationApplies.WithLabelValues(string(op.Kind), "terminal").Inc()
		e.log.Error("Operation failed terminally",
			logger.String("operation_id", op.ID),
			logger.String("table", op.Table),
			logger.String("key", op.Key),
			logger.Int("attempts", op.RetryCount),
			logger.Error(applyErr))
		e.emit(Event{Type: EventTerminalFailure, Operation: failure.Operation, Err: failure.LastError, At: now})

		if next != "" {
			go func() {
				defer e.wg.Done()
				e.tryApply(context.Background(), next)
			}()
		}
		return
	}

	delay := e.backoff.Delay(op.RetryCount)
	e.notBefore[op.ID] = now.Add(delay)
	delete(e.inflight, op.ID)
	if !e.closed {
		id := op.ID
		e.timers[id] = time.AfterFunc(delay, func() {
			e.clearTimer(id)
			e.tryApply(context.Background(), id)
		})
	}
	e.mu.Unlock()

	metrics.OperationApplies.WithLabelValues(string(op.Kind), "retry").Inc()
	metrics.RetryDelaySeconds.Observe(delay.Seconds())
	e.log.Warn("Operation apply failed, retry scheduled",
		logger.String("operation_id", op.ID),
		logger.Int("retry_count", op.RetryCount),
		logger.Duration("delay", delay),
		logger.Error(applyErr))
	e.emit(Event{Type: EventRetryScheduled, Operation: *op, Err: applyErr.Error(), At: now})
}

func (e *Executor) clearTimer(id string) {
	e.mu.Lock()
	delete(e.timers, id)
	e.mu.Unlock()
}

// removeLocked retires an operation from the pending set.
func (e *Executor) removeLocked(id string) {
	for i, op := range e.pending {
		if op.ID == id {
			e.pending = append(e.pending[:i], e.pending[i+1:]...)
			break
		}
	}
	delete(e.byID, id)
	delete(e.inflight, id)
	delete(e.notBefore, id)
	if timer, ok := e.timers[id]; ok {
		timer.Stop()
		delete(e.timers, id)
	}
	metrics.QueueDepth.Set(float64(len(e.pending)))
}

// nextForKeyLocked returns the id of the earliest pending operation on the
// given key that is ready to run now, or "".
func (e *Executor) nextForKeyLocked(table, key string) string {
	for _, op := range e.pending {
		if op.Table != table || op.Key != key {
			continue
		}
		if e.inflight[op.ID] {
			return ""
		}
		if nb, ok := e.notBefore[op.ID]; ok && time.Now().Before(nb) {
			return "" // its retry timer will pick it up
		}
		return op.ID
	}
	return ""
}

// FlushPending drains the pending set in batches, including operations that
// are waiting out a retry delay. Concurrent calls are single-flight: if a
// flush is already running the call returns immediately with flushed=false.
func (e *Executor) FlushPending(ctx context.Context, trigger string) (bool, error) {
	if !e.flushing.CompareAndSwap(false, true) {
		return false, nil
	}
	defer e.flushing.Store(false)

	metrics.FlushesTotal.WithLabelValues(trigger).Inc()
	start := time.Now()
	defer func() {
		metrics.FlushDuration.Observe(time.Since(start).Seconds())
	}()

	for {
		if err := ctx.Err(); err != nil {
			return true, err
		}

		batch := e.claimBatch()
		if len(batch) == 0 {
			return true, nil
		}

		for _, op := range batch {
			if err := ctx.Err(); err != nil {
				e.release(op.ID)
				continue
			}
			err := e.applyOnce(ctx, op)
			e.finish(op, err)
		}

		// Yield between chunks so a large backlog cannot starve the caller.
		runtime.Gosched()
	}
}

// claimBatch claims up to FlushBatchSize ready operations in submission order.
func (e *Executor) claimBatch() []*Operation {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}

	seen := make(map[string]bool)
	var batch []*Operation

	for _, op := range e.pending {
		keyID := op.Table + "\x00" + op.Key
		if seen[keyID] {
			continue // ordered behind an operation claimed or skipped this pass
		}
		seen[keyID] = true

		if e.inflight[op.ID] {
			continue
		}
		// A flush overrides backoff: the operation retries now instead of
		// waiting out its delay.
		delete(e.notBefore, op.ID)
		if timer, ok := e.timers[op.ID]; ok {
			timer.Stop()
			delete(e.timers, op.ID)
		}
		e.inflight[op.ID] = true
		batch = append(batch, op)
		if len(batch) >= e.cfg.FlushBatchSize {
			break
		}
	}
	return batch
}

func (e *Executor) release(id string) {
	e.mu.Lock()
	delete(e.inflight, id)
	e.mu.Unlock()
}

// Pending returns the current queue depth.
func (e *Executor) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

// PendingOps returns a copy of the pending set in submission order.
func (e *Executor) PendingOps() []Operation {
	e.mu.Lock()
	defer e.mu.Unlock()

	ops := make([]Operation, 0, len(e.pending))
	for _, op := range e.pending {
		ops = append(ops, *op)
	}
	return ops
}

// DeadLetters returns unacknowledged terminal failures, oldest first.
func (e *Executor) DeadLetters() []TerminalFailure {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]TerminalFailure(nil), e.dead...)
}

// DeadLetterCount returns the number of unacknowledged terminal failures.
func (e *Executor) DeadLetterCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.dead)
}

// AckDeadLetter clears a terminal failure by operation id.
func (e *Executor) AckDeadLetter(operationID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i, failure := range e.dead {
		if failure.Operation.ID == operationID {
			e.dead = append(e.dead[:i], e.dead[i+1:]...)
			metrics.DeadLetters.Set(float64(len(e.dead)))
			return true
		}
	}
	return false
}

// Close stops retry timers and waits for in-flight applies to settle.
// Pending operations stay queued; the lifecycle driver is responsible for
// dumping them before shutdown.
func (e *Executor) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	for id, timer := range e.timers {
		timer.Stop()
		delete(e.timers, id)
	}
	e.mu.Unlock()

	e.wg.Wait()
}
