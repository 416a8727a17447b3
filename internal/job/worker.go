package job

import (
	"context"
	"encoding/json"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/dkrish7/osprey/internal/cache"
	"github.com/dkrish7/osprey/internal/logger"
	"github.com/dkrish7/osprey/internal/queue"
	"github.com/dkrish7/osprey/internal/storage"
	"github.com/dkrish7/osprey/internal/tool"
	"github.com/dkrish7/osprey/internal/tracer"
	"github.com/dkrish7/osprey/internal/util"
	"github.com/dkrish7/osprey/model"
)

// Worker drains job ids off the queue and drives each through
// running to a terminal state. Executions run inline in the handler so the
// ack only happens after the terminal state is durable; sem bounds how many
// sandboxes run at once.
type Worker struct {
	store    Store
	cache    cache.Cache
	queue    queue.Queue
	storage  storage.Storage
	registry *tool.Registry
	notifier Notifier

	sem      chan struct{}
	timeout  time.Duration
	finished metric.Int64Counter
}

func NewWorker(
	store Store,
	c cache.Cache,
	q queue.Queue,
	s storage.Storage,
	registry *tool.Registry,
	notifier Notifier,
	poolSize int,
	timeout time.Duration,
) *Worker {
	if poolSize < 1 {
		poolSize = 1
	}
	finished, err := tracer.GetMeter().Int64Counter("jobs.finished")
	if err != nil {
		logger.Log.Warn().Err(err).Msg("job counter init failed")
	}
	return &Worker{
		store:    store,
		cache:    c,
		queue:    q,
		storage:  s,
		registry: registry,
		notifier: notifier,
		sem:      make(chan struct{}, poolSize),
		timeout:  timeout,
		finished: finished,
	}
}

func (w *Worker) count(ctx context.Context, status model.JobStatus) {
	if w.finished == nil {
		return
	}
	w.finished.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(status))))
}

func (w *Worker) Start(ctx context.Context) error {
	handle := func(id string) error {
		w.sem <- struct{}{}
		defer func() { <-w.sem }()
		return w.process(ctx, id)
	}
	if err := w.queue.SubscribeEvent(queue.JobCreated, handle); err != nil {
		return err
	}
	return w.queue.SubscribeEvent(queue.JobReenqueued, handle)
}

// process is idempotent per delivery: a job found in any state but pending
// has already been handled (or cancelled) and the message is simply acked.
func (w *Worker) process(ctx context.Context, id string) error {
	log := logger.Log.With().Str("job_id", id).Logger()
	ctx = logger.WithContext(ctx, log)

	job, err := w.store.Get(ctx, id)
	if err != nil {
		log.Error().Err(err).Msg("job load failed")
		return err
	}
	if job.Status != model.JobPending {
		log.Info().Str("status", string(job.Status)).Msg("skipping non-pending job")
		return nil
	}

	executor, err := w.registry.Resolve(job.Tool)
	if err != nil {
		return w.fail(ctx, job, err)
	}

	var in tool.Input
	if err := json.Unmarshal(job.Input, &in); err != nil {
		return w.fail(ctx, job, err)
	}

	if err := Transition(job, model.JobRunning); err != nil {
		return err
	}
	now := time.Now().UTC()
	job.StartTime = &now
	claimed, err := w.store.UpdateFrom(ctx, job, model.JobPending)
	if err != nil {
		return err
	}
	if !claimed {
		// Cancelled (or claimed elsewhere) since the read above.
		log.Info().Msg("job no longer pending, skipping")
		return nil
	}

	progress := make(chan tool.ProgressEvent, 8)
	drained := make(chan struct{})
	go w.trackProgress(ctx, id, progress, drained)

	res, execErr := executor.Execute(ctx, in, tool.ExecOptions{
		JobID:    id,
		Timeout:  w.timeout,
		Progress: progress,
	})
	close(progress)
	<-drained

	// A cancel may have landed while the sandbox ran. The cancelled status
	// wins; the late result is discarded.
	current, err := w.store.Get(ctx, id)
	if err == nil && current.Status == model.JobCancelled {
		log.Info().Msg("job cancelled during execution, discarding result")
		return nil
	}

	if execErr != nil {
		return w.fail(ctx, job, execErr)
	}
	return w.complete(ctx, job, res)
}

// trackProgress mirrors progress events into the job row. Percent only moves
// forward; late or duplicate events are dropped.
func (w *Worker) trackProgress(ctx context.Context, id string, events <-chan tool.ProgressEvent, done chan<- struct{}) {
	defer close(done)
	last := -1
	for ev := range events {
		if ev.Percent <= last {
			continue
		}
		last = ev.Percent
		if err := w.store.UpdateProgress(ctx, id, ev.Percent); err != nil {
			logger.FromContext(ctx).Warn().Err(err).Msg("progress update failed")
		}
	}
}

func (w *Worker) complete(ctx context.Context, job *model.Job, res *model.ParsedResult) error {
	output, err := json.Marshal(res.Parsed)
	if err != nil {
		return w.fail(ctx, job, err)
	}

	// Raw output is archived content-addressed; a failed upload degrades the
	// job to output-less rather than failing it.
	raw := []byte(res.Raw)
	hash := util.HashBytes(raw)
	if err := w.storage.Upload(ctx, util.GetOutputPath(hash), raw); err != nil {
		logger.FromContext(ctx).Warn().Err(err).Msg("raw output archive failed")
		hash = ""
	}

	if err := Transition(job, model.JobCompleted); err != nil {
		return err
	}
	now := time.Now().UTC()
	job.Output = output
	job.Progress = 100
	job.OutputHash = hash
	job.Degraded = res.Meta.Degraded
	job.EndTime = &now
	claimed, err := w.store.UpdateFrom(ctx, job, model.JobRunning)
	if err != nil {
		return err
	}
	if !claimed {
		// A cancel committed after the post-execute read; its terminal
		// status stands and the result is dropped.
		logger.FromContext(ctx).Info().Msg("job cancelled before completion write, discarding result")
		return nil
	}
	w.cacheTerminal(ctx, job)
	w.count(ctx, model.JobCompleted)

	w.notifier.Notify(ctx, job.OwnerID.String(), EventCompleted, job)
	return nil
}

func (w *Worker) fail(ctx context.Context, job *model.Job, cause error) error {
	logger.FromContext(ctx).Error().Err(cause).Str("tool", job.Tool).Msg("job failed")

	// from is the status the row still holds: pending when the failure
	// happened before the running write, running otherwise.
	from := job.Status
	if job.Status == model.JobPending {
		if err := Transition(job, model.JobRunning); err != nil {
			return err
		}
	}
	if err := Transition(job, model.JobFailed); err != nil {
		return err
	}
	now := time.Now().UTC()
	msg := cause.Error()
	job.ErrorMessage = &msg
	job.EndTime = &now
	claimed, err := w.store.UpdateFrom(ctx, job, from)
	if err != nil {
		return err
	}
	if !claimed {
		logger.FromContext(ctx).Info().Msg("job cancelled before failure write, discarding result")
		return nil
	}
	w.cacheTerminal(ctx, job)
	w.count(ctx, model.JobFailed)

	w.notifier.Notify(ctx, job.OwnerID.String(), EventFailed, job)
	return nil
}

func (w *Worker) cacheTerminal(ctx context.Context, job *model.Job) {
	if err := w.cache.Put(ctx, util.GetJobKey(job.ID.String()), job, w.cache.GetDefaultTTL()); err != nil {
		logger.FromContext(ctx).Warn().Err(err).Msg("job cache put failed")
	}
}
