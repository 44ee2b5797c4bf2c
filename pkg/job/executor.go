package job

import (
	"context"
	"sync"
	"time"

	"github.com/ajitpratap0/relay/pkg/connector/core"
	"github.com/ajitpratap0/relay/pkg/connector/registry"
	"github.com/ajitpratap0/relay/pkg/errors"
	"github.com/ajitpratap0/relay/pkg/logger"
	"github.com/ajitpratap0/relay/pkg/metrics"
	"github.com/ajitpratap0/relay/pkg/observability"
	"github.com/ajitpratap0/relay/pkg/queue"
	"github.com/ajitpratap0/relay/pkg/transform"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const closeTimeout = 10 * time.Second

// Options configures an Executor
type Options struct {
	Store  Store
	Loader registry.Loader
	// Dispatcher receives retries and submitted runs. Without one, callers
	// drive Execute themselves.
	Dispatcher queue.Dispatcher
	Retry      RetryPolicy
	// CancelPoll makes a running job watch the store for a cancellation
	// written by another process. Zero disables polling.
	CancelPoll time.Duration
	Logger     *zap.Logger
}

// Outcome is what one Execute call did
type Outcome struct {
	JobID  string
	Status Status
	// Retry is set when the job went back to pending and should run again
	// after RetryAfter
	Retry      bool
	RetryAfter time.Duration
	// Err is the engine-level failure of the run, if any
	Err error
}

// Executor runs pipeline jobs. A job is driven by one Execute call at a
// time; the executor keeps the cancel functions of the jobs it is running.
type Executor struct {
	store      Store
	loader     registry.Loader
	dispatcher queue.Dispatcher
	retry      RetryPolicy
	cancelPoll time.Duration
	logger     *zap.Logger

	mu        sync.Mutex
	running   map[string]context.CancelFunc
	requested map[string]bool
}

// NewExecutor creates an executor
func NewExecutor(opts Options) (*Executor, error) {
	if opts.Store == nil {
		return nil, errors.New(errors.ErrorTypeConfig, "executor requires a job store")
	}
	if opts.Loader == nil {
		opts.Loader = registry.Default()
	}
	if opts.Logger == nil {
		opts.Logger = logger.Get()
	}
	return &Executor{
		store:      opts.Store,
		loader:     opts.Loader,
		dispatcher: opts.Dispatcher,
		retry:      opts.Retry,
		cancelPoll: opts.CancelPoll,
		logger:     opts.Logger.With(zap.String("component", "job_executor")),
		running:    make(map[string]context.CancelFunc),
		requested:  make(map[string]bool),
	}, nil
}

// Submit creates a pending job for the pipeline and hands it to the
// dispatcher when there is one
func (e *Executor) Submit(ctx context.Context, pipelineID string) (*Job, error) {
	j, err := e.store.CreateJob(ctx, pipelineID)
	if err != nil {
		return nil, err
	}
	if e.dispatcher == nil {
		return j, nil
	}

	handle, err := e.dispatcher.Enqueue(ctx, queue.Task{PipelineID: pipelineID, JobID: j.ID})
	if err != nil {
		return j, err
	}
	if err := e.store.SetTaskID(ctx, j.ID, handle.TaskID); err != nil {
		return j, err
	}
	j.TaskID = handle.TaskID
	return j, nil
}

// HandleTask adapts Execute to a queue handler
func (e *Executor) HandleTask(ctx context.Context, task queue.Task) error {
	_, err := e.Execute(ctx, task.PipelineID, task.JobID)
	return err
}

// Execute runs one attempt of a job. An empty jobID creates a new job. A
// job already in a terminal state is returned as is.
//
// The returned error covers bookkeeping failures only; the run's own
// failure is reported in Outcome.Err.
func (e *Executor) Execute(ctx context.Context, pipelineID, jobID string) (*Outcome, error) {
	pipeline, err := e.store.GetPipeline(ctx, pipelineID)
	if err != nil {
		return nil, err
	}

	var j *Job
	if jobID == "" {
		j, err = e.store.CreateJob(ctx, pipelineID)
	} else {
		j, err = e.store.GetJob(ctx, jobID)
	}
	if err != nil {
		return nil, err
	}
	if j.PipelineID != pipelineID {
		return nil, errors.New(errors.ErrorTypeValidation, "job belongs to another pipeline").
			WithDetail("job_id", j.ID).
			WithDetail("pipeline_id", pipelineID)
	}
	if j.Status.Terminal() {
		return &Outcome{JobID: j.ID, Status: j.Status}, nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	if !e.register(j.ID, cancel) {
		cancel()
		return nil, errors.New(errors.ErrorTypeConflict, "job is already running in this process").
			WithDetail("job_id", j.ID)
	}
	defer e.unregister(j.ID)
	defer cancel()

	id := j.ID
	started := time.Now()
	j, err = e.store.Transition(ctx, id, StatusRunning, started)
	if errors.Is(err, ErrTerminal) {
		// cancelled between the read and the transition
		cur, getErr := e.store.GetJob(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		return &Outcome{JobID: cur.ID, Status: cur.Status}, nil
	}
	if err != nil {
		return nil, err
	}

	runCtx = logger.ContextWithJob(runCtx, pipelineID, j.ID)
	log := logger.WithContext(runCtx)
	rec := NewRecorder(e.store, j.ID, log)

	if err := e.store.UpdatePipelineStatus(ctx, pipelineID, PipelineActive, &started); err != nil {
		log.Warn("failed to update pipeline status", zap.Error(err))
	}
	log.Info("job started", zap.Int("attempt", j.Attempts))

	if e.cancelPoll > 0 {
		stop := e.watchCancellation(runCtx, j.ID, cancel)
		defer stop()
	}

	runCtx, span := observability.StartSpan(runCtx, "job.execute",
		attribute.String("job.id", j.ID),
		attribute.String("pipeline.id", pipelineID),
		attribute.Int("job.attempt", j.Attempts),
	)
	total := metrics.NewTimer(metrics.StageTotal)
	counts, runErr := e.run(runCtx, pipeline, rec)
	total.ObserveDuration()
	observability.EndSpan(span, runErr)

	out := &Outcome{JobID: j.ID, Err: runErr}
	// bookkeeping below must land even when the worker is shutting down
	bg := context.WithoutCancel(ctx)

	switch {
	case runErr == nil:
		out.Status = StatusCompleted
	case e.cancelRequested(j.ID):
		out.Status = StatusCancelled
		rec.Log(core.LevelWarning, "Job cancelled")
	case ctx.Err() != nil:
		// worker shutdown; the dispatcher redelivers or an operator resubmits
		out.Status = StatusPending
		rec.Log(core.LevelWarning, "Worker stopped during run, job returned to pending")
	default:
		rec.RecordFailure(runErr)
		if retry, ok := e.retry.ShouldRetry(runErr, j.Attempts); ok {
			out.Status = StatusPending
			out.Retry = true
			out.RetryAfter = e.retry.Delay(retry)
			rec.Logf(core.LevelWarning, "Job failed: %v. Retry %d of %d scheduled in %s",
				runErr, retry+1, e.retry.MaxRetries, out.RetryAfter)
		} else {
			out.Status = StatusFailed
			rec.Logf(core.LevelError, "Job failed: %v", runErr)
		}
	}

	if err := e.store.UpdateCounts(bg, j.ID, counts); err != nil {
		log.Error("failed to persist job counts", zap.Error(err))
	}
	rec.Close()

	final, err := e.store.Transition(bg, j.ID, out.Status, time.Now())
	owned := err == nil
	switch {
	case errors.Is(err, ErrTerminal):
		// cancelled through the store while running
		cur, getErr := e.store.GetJob(bg, j.ID)
		if getErr != nil {
			return out, getErr
		}
		out.Status = cur.Status
		out.Retry = false
		out.RetryAfter = 0
	case err != nil:
		return out, err
	default:
		out.Status = final.Status
	}

	e.finishPipeline(bg, pipelineID, out.Status, log)
	if owned && out.Status.Terminal() {
		metrics.JobsTotal.WithLabelValues(string(out.Status)).Inc()
	}
	log.Info("job finished",
		zap.String("status", string(out.Status)),
		zap.Bool("retry", out.Retry),
		zap.Duration("retry_after", out.RetryAfter),
		zap.Duration("elapsed", time.Since(started)))

	if out.Retry && e.dispatcher != nil {
		if err := e.scheduleRetry(bg, pipelineID, j.ID, out.RetryAfter); err != nil {
			return out, err
		}
	}
	return out, nil
}

// run drives the adapters. Counts reflect whatever stage was reached.
func (e *Executor) run(ctx context.Context, pipeline *Pipeline, rec *Recorder) (Counts, error) {
	var counts Counts

	initTimer := metrics.NewTimer(metrics.StageInit)
	rec.Log(core.LevelInfo, "Initializing source adapter")
	src, err := e.loader.LoadSource(pipeline.SourceType, pipeline.SourceConfig, rec)
	if err != nil {
		return counts, err
	}
	defer closeAdapter(ctx, src, rec)

	rec.Log(core.LevelInfo, "Initializing destination adapter")
	dst, err := e.loader.LoadDestination(pipeline.DestinationType, pipeline.DestinationConfig, rec)
	if err != nil {
		return counts, err
	}
	defer closeAdapter(ctx, dst, rec)

	projection, err := transform.FromConfig(pipeline.TransformConfig)
	if err != nil {
		return counts, err
	}
	initTimer.ObserveDuration()

	if err := ctx.Err(); err != nil {
		return counts, err
	}

	rec.Log(core.LevelInfo, "Fetching data from source")
	fetchTimer := metrics.NewTimer(metrics.StageFetch)
	fetchCtx, span := observability.StartSpan(ctx, "job.fetch", attribute.String("adapter.type", src.Type()))
	result, err := src.Fetch(fetchCtx)
	observability.EndSpan(span, err)
	fetchTimer.ObserveDuration()
	if err != nil {
		return counts, err
	}

	records := result.Records
	counts.SourceRecords = len(records)
	metrics.RecordsExtracted.WithLabelValues(src.Type()).Add(float64(len(records)))
	rec.Logf(core.LevelInfo, "Fetched %d records from source", len(records))
	if n := len(result.Errors); n > 0 {
		// already reported to the sink by the engine that produced them
		rec.Logf(core.LevelWarning, "%d records were fetched with sub-resource errors", n)
	}

	if len(records) == 0 {
		rec.Log(core.LevelWarning, "No records found in source, nothing to upload")
		return counts, nil
	}

	records = projection.Apply(records)
	if err := ctx.Err(); err != nil {
		return counts, err
	}

	rec.Logf(core.LevelInfo, "Uploading %d records to destination", len(records))
	uploadTimer := metrics.NewTimer(metrics.StageUpload)
	uploadCtx, span := observability.StartSpan(ctx, "job.upload",
		attribute.String("adapter.type", dst.Type()),
		attribute.Int("records", len(records)),
	)
	res, err := dst.Upload(uploadCtx, records)
	observability.EndSpan(span, err)
	uploadTimer.ObserveDuration()
	if res != nil {
		counts.DestinationRecords = res.SuccessCount
		metrics.RecordUpload(dst.Type(), res.SuccessCount, res.ErrorCount)
	}
	if err != nil {
		return counts, err
	}

	rec.Logf(core.LevelInfo, "Job completed. Extracted %d records, created %d items with %d errors.",
		counts.SourceRecords, res.SuccessCount, res.ErrorCount)
	return counts, nil
}

func closeAdapter(ctx context.Context, a core.Adapter, rec *Recorder) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
	defer cancel()
	if err := a.Close(ctx); err != nil {
		rec.Logf(core.LevelWarning, "Failed to close %s adapter: %v", a.Type(), err)
	}
}

func (e *Executor) finishPipeline(ctx context.Context, pipelineID string, status Status, log *zap.Logger) {
	var pstatus PipelineStatus
	switch status {
	case StatusFailed:
		pstatus = PipelineError
	case StatusCompleted:
		pstatus = PipelineActive
	default:
		return
	}
	now := time.Now()
	if err := e.store.UpdatePipelineStatus(ctx, pipelineID, pstatus, &now); err != nil {
		log.Warn("failed to update pipeline status", zap.Error(err))
	}
}

func (e *Executor) scheduleRetry(ctx context.Context, pipelineID, jobID string, after time.Duration) error {
	handle, err := e.dispatcher.Enqueue(ctx, queue.Task{
		PipelineID: pipelineID,
		JobID:      jobID,
		NotBefore:  time.Now().Add(after),
	})
	if err != nil {
		return err
	}
	return e.store.SetTaskID(ctx, jobID, handle.TaskID)
}

// Cancel stops a pending or running job. A pending job is cancelled at once
// and its task revoked. A running job owned by this executor is signalled
// and ends cancelled at its next boundary; one owned elsewhere is marked
// cancelled in the store.
func (e *Executor) Cancel(ctx context.Context, jobID string) (*Job, error) {
	j, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	switch j.Status {
	case StatusRunning:
		e.mu.Lock()
		cancel, local := e.running[jobID]
		if local {
			e.requested[jobID] = true
		}
		e.mu.Unlock()
		if local {
			cancel()
			return e.store.GetJob(ctx, jobID)
		}
	case StatusPending:
	default:
		return nil, transitionError(jobID, j.Status, StatusCancelled)
	}

	cancelled, err := e.store.Transition(ctx, jobID, StatusCancelled, time.Now())
	if err != nil {
		return nil, err
	}
	if err := e.store.AppendLog(ctx, jobID, LogEntry{
		Timestamp: time.Now().UTC(),
		Level:     core.LevelWarning,
		Message:   "Job cancelled",
	}); err != nil {
		e.logger.Warn("failed to log cancellation", zap.String("job_id", jobID), zap.Error(err))
	}
	if e.dispatcher != nil && j.TaskID != "" {
		if err := e.dispatcher.Revoke(ctx, j.TaskID); err != nil {
			e.logger.Warn("failed to revoke task", zap.String("task_id", j.TaskID), zap.Error(err))
		}
	}
	metrics.JobsTotal.WithLabelValues(string(StatusCancelled)).Inc()
	return cancelled, nil
}

// Retry starts a new job for the pipeline of a failed job. The failed job
// stays failed.
func (e *Executor) Retry(ctx context.Context, jobID string) (*Job, error) {
	j, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if j.Status != StatusFailed {
		return nil, errors.Newf(errors.ErrorTypeConflict, "only failed jobs can be retried, job is %s", j.Status).
			WithDetail("job_id", jobID)
	}

	next, err := e.Submit(ctx, j.PipelineID)
	if err != nil {
		return next, err
	}
	if err := e.store.AppendLog(ctx, next.ID, LogEntry{
		Timestamp: time.Now().UTC(),
		Level:     core.LevelInfo,
		Message:   "Retry of job " + jobID,
		Details:   map[string]interface{}{"retry_of": jobID},
	}); err != nil {
		e.logger.Warn("failed to log retry origin", zap.String("job_id", next.ID), zap.Error(err))
	}
	return next, nil
}

func (e *Executor) register(jobID string, cancel context.CancelFunc) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.running[jobID]; ok {
		return false
	}
	e.running[jobID] = cancel
	return true
}

func (e *Executor) unregister(jobID string) {
	e.mu.Lock()
	delete(e.running, jobID)
	delete(e.requested, jobID)
	e.mu.Unlock()
}

func (e *Executor) cancelRequested(jobID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.requested[jobID]
}

// watchCancellation polls the store until the run ends
func (e *Executor) watchCancellation(ctx context.Context, jobID string, cancel context.CancelFunc) (stop func()) {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(e.cancelPoll)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				j, err := e.store.GetJob(ctx, jobID)
				if err != nil || j.Status != StatusCancelled {
					continue
				}
				e.mu.Lock()
				e.requested[jobID] = true
				e.mu.Unlock()
				cancel()
				return
			}
		}
	}()
	return func() { close(done) }
}
