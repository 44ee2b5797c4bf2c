package queue

import (
	"context"
	"sync"
	"time"

	"github.com/ajitpratap0/relay/pkg/errors"
	"github.com/ajitpratap0/relay/pkg/logger"
	"go.uber.org/zap"
)

// LocalDispatcher runs tasks in this process. Delayed tasks wait on timers;
// at most Concurrency handlers run at once.
type LocalDispatcher struct {
	logger *zap.Logger
	sem    chan struct{}

	mu      sync.Mutex
	handler Handler
	ctx     context.Context
	cancel  context.CancelFunc
	timers  map[string]*time.Timer
	closed  bool
	wg      sync.WaitGroup
}

// NewLocalDispatcher creates a dispatcher running up to concurrency tasks
// at a time
func NewLocalDispatcher(concurrency int) *LocalDispatcher {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &LocalDispatcher{
		logger: logger.Get().With(zap.String("component", "local_dispatcher")),
		sem:    make(chan struct{}, concurrency),
		timers: make(map[string]*time.Timer),
	}
}

// Start sets the handler. Call it before Enqueue; tasks that fire without a
// handler are dropped.
func (d *LocalDispatcher) Start(ctx context.Context, handler Handler) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return errors.New(errors.ErrorTypeConflict, "dispatcher is closed")
	}
	if d.handler != nil {
		return errors.New(errors.ErrorTypeConflict, "dispatcher already started")
	}
	d.handler = handler
	d.ctx, d.cancel = context.WithCancel(ctx)
	return nil
}

// Enqueue implements Dispatcher
func (d *LocalDispatcher) Enqueue(_ context.Context, task Task) (TaskHandle, error) {
	task, err := prepare(task)
	if err != nil {
		return TaskHandle{}, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return TaskHandle{}, errors.New(errors.ErrorTypeConflict, "dispatcher is closed")
	}

	d.wg.Add(1)
	d.timers[task.ID] = time.AfterFunc(task.Delay(time.Now()), func() {
		defer d.wg.Done()
		d.run(task)
	})

	d.logger.Debug("task enqueued",
		zap.String("task_id", task.ID),
		zap.String("pipeline_id", task.PipelineID),
		zap.String("job_id", task.JobID),
		zap.Time("not_before", task.NotBefore))
	return TaskHandle{TaskID: task.ID}, nil
}

func (d *LocalDispatcher) run(task Task) {
	d.mu.Lock()
	if _, ok := d.timers[task.ID]; !ok {
		// revoked between firing and here
		d.mu.Unlock()
		return
	}
	delete(d.timers, task.ID)
	handler, ctx := d.handler, d.ctx
	d.mu.Unlock()

	if handler == nil {
		d.logger.Error("task dropped, dispatcher not started", zap.String("task_id", task.ID))
		return
	}

	select {
	case d.sem <- struct{}{}:
	case <-ctx.Done():
		return
	}
	defer func() { <-d.sem }()

	if err := handler(ctx, task); err != nil {
		d.logger.Error("task failed",
			zap.String("task_id", task.ID),
			zap.String("job_id", task.JobID),
			zap.Error(err))
	}
}

// Revoke implements Dispatcher. A task that already started is not
// affected; cancel its job instead.
func (d *LocalDispatcher) Revoke(_ context.Context, taskID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	timer, ok := d.timers[taskID]
	if !ok {
		return nil
	}
	delete(d.timers, taskID)
	if timer.Stop() {
		d.wg.Done()
	}
	d.logger.Debug("task revoked", zap.String("task_id", taskID))
	return nil
}

// Pending returns the number of tasks waiting to run
func (d *LocalDispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.timers)
}

// Close drops waiting tasks and waits for running handlers to return
func (d *LocalDispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	for id, timer := range d.timers {
		if timer.Stop() {
			d.wg.Done()
		}
		delete(d.timers, id)
	}
	if d.cancel != nil {
		d.cancel()
	}
	d.mu.Unlock()

	d.wg.Wait()
	return nil
}

var _ Worker = (*LocalDispatcher)(nil)
