package dispatch

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

// AsyncDispatcher executes handlers on a worker pool.
// Each task holds the full, ordered handler list for one message.
type AsyncDispatcher struct {
	queueSize   int
	workerCount int
	timeout     time.Duration

	mu      sync.Mutex // protects queue creation/destruction
	queue   chan asyncTask
	running atomic.Bool
	wg      sync.WaitGroup

	panicHandler PanicHandler
	errorHandler ErrorHandler

	enqueued    atomic.Uint64
	processed   atomic.Uint64
	succeeded   atomic.Uint64
	failed      atomic.Uint64
	panicked    atomic.Uint64
	dropped     atomic.Uint64
	timedOut    atomic.Uint64
	totalTimeNs atomic.Int64
}

type asyncTask struct {
	ctx      context.Context
	msg      any
	handlers []Handler
}

// AsyncOption configures an AsyncDispatcher.
type AsyncOption func(*AsyncDispatcher)

// WithQueueSize sets the task queue size.
func WithQueueSize(size int) AsyncOption {
	return func(d *AsyncDispatcher) {
		if size > 0 {
			d.queueSize = size
		}
	}
}

// WithWorkerCount sets the number of worker goroutines.
func WithWorkerCount(count int) AsyncOption {
	return func(d *AsyncDispatcher) {
		if count > 0 {
			d.workerCount = count
		}
	}
}

// WithAsyncTimeout bounds each handler execution.
func WithAsyncTimeout(timeout time.Duration) AsyncOption {
	return func(d *AsyncDispatcher) {
		d.timeout = timeout
	}
}

// WithAsyncPanicHandler sets the panic handler for async execution.
func WithAsyncPanicHandler(h PanicHandler) AsyncOption {
	return func(d *AsyncDispatcher) {
		if h != nil {
			d.panicHandler = h
		}
	}
}

// WithAsyncErrorHandler sets the callback for handler errors.
func WithAsyncErrorHandler(h ErrorHandler) AsyncOption {
	return func(d *AsyncDispatcher) {
		if h != nil {
			d.errorHandler = h
		}
	}
}

// NewAsyncDispatcher creates a new asynchronous dispatcher.
func NewAsyncDispatcher(opts ...AsyncOption) *AsyncDispatcher {
	d := &AsyncDispatcher{
		queueSize:    4096,
		workerCount:  4,
		timeout:      5 * time.Second,
		panicHandler: defaultPanicHandler,
		errorHandler: defaultErrorHandler,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start starts the worker pool.
func (d *AsyncDispatcher) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running.Load() {
		return ErrAlreadyRunning
	}

	d.queue = make(chan asyncTask, d.queueSize)
	d.running.Store(true)

	for i := 0; i < d.workerCount; i++ {
		d.wg.Add(1)
		go d.worker()
	}

	return nil
}

// Stop closes the queue and waits for queued tasks to drain or for ctx to end.
func (d *AsyncDispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.running.Load() {
		d.mu.Unlock()
		return ErrNotRunning
	}

	d.running.Store(false)
	close(d.queue)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Enqueue schedules handlers to run, in order, with msg.
// The task is detached from ctx cancellation: once accepted, delivery is
// attempted even if the publisher's context ends. Values carried by ctx are
// kept. Returns ErrQueueFull if the queue is at capacity.
func (d *AsyncDispatcher) Enqueue(ctx context.Context, msg any, handlers ...Handler) error {
	if len(handlers) == 0 {
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.running.Load() {
		return ErrNotRunning
	}

	task := asyncTask{
		ctx:      context.WithoutCancel(ctx),
		msg:      msg,
		handlers: handlers,
	}

	select {
	case d.queue <- task:
		d.enqueued.Add(1)
		return nil
	default:
		d.dropped.Add(1)
		return ErrQueueFull
	}
}

func (d *AsyncDispatcher) worker() {
	defer d.wg.Done()

	executor := NewExecutor(WithExecutorPanicHandler(d.panicHandler))

	for task := range d.queue {
		d.executeTask(executor, task)
	}
}

func (d *AsyncDispatcher) executeTask(executor *Executor, task asyncTask) {
	d.processed.Add(1)
	start := time.Now()

	defer func() {
		// The executor recovers handler panics; this only guards the
		// dispatcher's own bookkeeping.
		if r := recover(); r != nil {
			d.panicked.Add(1)
			func() {
				defer func() { _ = recover() }()
				d.panicHandler(task.msg, r, debug.Stack())
			}()
		}
		d.totalTimeNs.Add(time.Since(start).Nanoseconds())
	}()

	for _, handler := range task.handlers {
		result := executor.ExecuteWithTimeout(task.ctx, task.msg, handler, d.timeout)

		switch {
		case result.Panicked:
			d.panicked.Add(1)
		case result.Error != nil:
			if errors.Is(result.Error, context.DeadlineExceeded) {
				d.timedOut.Add(1)
			}
			d.failed.Add(1)
			d.errorHandler(task.msg, result.Error)
		case result.Success:
			d.succeeded.Add(1)
		}
	}
}

// QueueDepth returns the number of tasks waiting in the queue.
func (d *AsyncDispatcher) QueueDepth() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running.Load() {
		return 0
	}
	return len(d.queue)
}

// IsRunning returns true if the dispatcher is running.
func (d *AsyncDispatcher) IsRunning() bool {
	return d.running.Load()
}

// Stats returns dispatcher statistics. Succeeded, Failed and Panicked count
// handler executions; Enqueued, Processed and Dropped count tasks.
func (d *AsyncDispatcher) Stats() AsyncDispatcherStats {
	processed := d.processed.Load()
	totalNs := d.totalTimeNs.Load()

	var avgNs int64
	if processed > 0 {
		avgNs = totalNs / int64(processed)
	}

	return AsyncDispatcherStats{
		Enqueued:      d.enqueued.Load(),
		Processed:     processed,
		Succeeded:     d.succeeded.Load(),
		Failed:        d.failed.Load(),
		Panicked:      d.panicked.Load(),
		Dropped:       d.dropped.Load(),
		TimedOut:      d.timedOut.Load(),
		QueueDepth:    d.QueueDepth(),
		TotalDuration: time.Duration(totalNs),
		AvgDuration:   time.Duration(avgNs),
	}
}

// AsyncDispatcherStats contains statistics for an async dispatcher.
type AsyncDispatcherStats struct {
	Enqueued      uint64
	Processed     uint64
	Succeeded     uint64
	Failed        uint64
	Panicked      uint64
	Dropped       uint64
	TimedOut      uint64
	QueueDepth    int
	TotalDuration time.Duration
	AvgDuration   time.Duration
}
