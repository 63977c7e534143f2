// Package engine assembles the durable persistence engine: the operation
// queue, operation log, snapshot manager, auto-save scheduler, lifecycle
// driver, and health reporter behind one explicit handle. The host
// constructs an Engine once and passes it around; there is no ambient
// global state.
package engine

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/lenshed/durastore/internal/config"
	"github.com/lenshed/durastore/internal/emergency"
	"github.com/lenshed/durastore/internal/events"
	"github.com/lenshed/durastore/internal/health"
	"github.com/lenshed/durastore/internal/lifecycle"
	"github.com/lenshed/durastore/internal/logger"
	"github.com/lenshed/durastore/internal/oplog"
	"github.com/lenshed/durastore/internal/queue"
	"github.com/lenshed/durastore/internal/scheduler"
	"github.com/lenshed/durastore/internal/snapshot"
	"github.com/lenshed/durastore/internal/storage"
)

const eventBufferSize = 64

// Engine is the caller-facing handle over the persistence machinery.
type Engine struct {
	cfg   *config.Config
	log   logger.Logger
	store storage.Store

	auditor   *oplog.Log
	executor  *queue.Executor
	snapshots *snapshot.Manager
	autosave  *scheduler.AutoSaver
	driver    *lifecycle.Driver
	reporter  *health.Reporter
	events    *events.Manager
	tracer    trace.Tracer

	mu      sync.Mutex
	cancel  context.CancelFunc
	loops   sync.WaitGroup
	started bool
}

// Option customizes engine construction.
type Option func(*Engine)

// WithTracer sets the tracer used for engine spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) { e.tracer = tracer }
}

// New wires the engine over an opened store
func New(cfg *config.Config, store storage.Store, log logger.Logger, opts ...Option) (*Engine, error) {
	blobs, err := emergency.NewFileStore(cfg.Lifecycle.EmergencyDir)
	if err != nil {
		return nil, err
	}

	auditor := oplog.New(store, log)
	executor := queue.NewExecutor(store, auditor, queue.Config{
		RetryCeiling:   cfg.Queue.RetryCeiling,
		BaseDelay:      cfg.Queue.BaseDelay,
		MaxDelay:       cfg.Queue.MaxDelay,
		FlushBatchSize: cfg.Queue.FlushBatchSize,
	}, log)

	snapshots := snapshot.NewManager(store, cfg.Storage.Tables, cfg.Snapshot.Retention, cfg.Snapshot.Interval, log)

	e := &Engine{
		cfg:       cfg,
		log:       log,
		store:     store,
		auditor:   auditor,
		executor:  executor,
		snapshots: snapshots,
		autosave:  scheduler.NewAutoSaver(executor, cfg.Queue.FlushInterval, log),
		driver:    lifecycle.NewDriver(executor, blobs, cfg.Lifecycle.TerminateTimeout, log),
		reporter:  health.NewReporter(executor, snapshots, cfg.Health.PendingThreshold),
		events:    events.NewManager(eventBufferSize, log),
		tracer:    noop.NewTracerProvider().Tracer("durastore"),
	}
	for _, opt := range opts {
		opt(e)
	}

	executor.SetEventHandler(func(evt queue.Event) {
		e.events.Notify(events.Event{Type: string(evt.Type), At: evt.At, Data: evt})
	})
	snapshots.SetCreatedHandler(func(info snapshot.Info) {
		e.events.Notify(events.Event{Type: "snapshot_created", At: info.Timestamp, Data: info})
	})

	return e, nil
}

// Start recovers any emergency dump from the previous run and launches the
// auto-save and snapshot loops.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return nil
	}

	recovered, err := e.driver.Recover(ctx)
	if err != nil {
		e.log.Warn("Emergency dump recovery failed", logger.Error(err))
	} else if recovered > 0 {
		e.log.Info("Replayed operations from previous run", logger.Int("operations", recovered))
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel

	e.loops.Add(2)
	go func() {
		defer e.loops.Done()
		e.autosave.Run(loopCtx)
	}()
	go func() {
		defer e.loops.Done()
		e.snapshots.Run(loopCtx)
	}()

	e.started = true
	e.log.Info("Persistence engine started",
		logger.Duration("flush_interval", e.cfg.Queue.FlushInterval),
		logger.Duration("snapshot_interval", e.cfg.Snapshot.Interval),
		logger.Int("retry_ceiling", e.cfg.Queue.RetryCeiling))
	return nil
}

// Submit enqueues a mutation intent and returns its operation id. Storage
// failures during apply are retried in the background and never surface
// here; only enqueue failures do.
func (e *Engine) Submit(ctx context.Context, kind queue.Kind, table, key string, payload []byte) (string, error) {
	ctx, span := e.tracer.Start(ctx, "engine.Submit",
		trace.WithAttributes(
			attribute.String("operation.kind", string(kind)),
			attribute.String("operation.table", table),
		))
	defer span.End()

	id, err := e.executor.Submit(ctx, kind, table, key, payload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	span.SetAttributes(attribute.String("operation.id", id))
	return id, nil
}

// FlushPending applies all ready pending operations in batches. Returns
// false if a flush was already in progress.
func (e *Engine) FlushPending(ctx context.Context) (bool, error) {
	ctx, span := e.tracer.Start(ctx, "engine.FlushPending")
	defer span.End()
	return e.executor.FlushPending(ctx, "manual")
}

// CreateSnapshot captures a consistent copy of all managed tables.
func (e *Engine) CreateSnapshot(ctx context.Context, kind snapshot.Kind) (string, error) {
	ctx, span := e.tracer.Start(ctx, "engine.CreateSnapshot",
		trace.WithAttributes(attribute.String("snapshot.kind", string(kind))))
	defer span.End()

	id, err := e.snapshots.Create(ctx, kind)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return id, err
}

// Restore replaces all managed tables with the given snapshot's contents,
// or the most recent snapshot when id is empty.
func (e *Engine) Restore(ctx context.Context, id string) error {
	ctx, span := e.tracer.Start(ctx, "engine.Restore",
		trace.WithAttributes(attribute.String("snapshot.id", id)))
	defer span.End()

	if err := e.snapshots.Restore(ctx, id); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

// ListSnapshots returns snapshot metadata ordered by timestamp descending.
func (e *Engine) ListSnapshots(ctx context.Context) ([]snapshot.Info, error) {
	return e.snapshots.List(ctx)
}

// Status returns the current health report.
func (e *Engine) Status() health.Status {
	return e.reporter.Status()
}

// DeadLetters returns unacknowledged terminal failures.
func (e *Engine) DeadLetters() []queue.TerminalFailure {
	return e.executor.DeadLetters()
}

// AckDeadLetter clears a terminal failure by operation id.
func (e *Engine) AckDeadLetter(operationID string) bool {
	return e.executor.AckDeadLetter(operationID)
}

// OperationLog returns the audit trail, oldest first.
func (e *Engine) OperationLog(ctx context.Context) ([]oplog.Entry, error) {
	return e.auditor.Entries(ctx)
}

// Activate signals that the host became active again.
func (e *Engine) Activate(ctx context.Context) {
	e.driver.Activate(ctx)
}

// Terminate performs the best-effort emergency dump of the pending set.
func (e *Engine) Terminate(ctx context.Context) error {
	return e.driver.Terminate(ctx)
}

// Subscribe registers an event stream subscriber.
func (e *Engine) Subscribe() *events.Subscriber {
	return e.events.Subscribe()
}

// Unsubscribe removes an event stream subscriber.
func (e *Engine) Unsubscribe(id string) {
	e.events.Unsubscribe(id)
}

// Close stops background loops and the retry timers. The store itself is
// closed by whoever opened it.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	started := e.started
	e.started = false
	e.mu.Unlock()

	if started {
		e.loops.Wait()
	}
	e.executor.Close()
	e.events.Close()
	e.log.Info("Persistence engine stopped")
}
