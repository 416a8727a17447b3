package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dkrish7/osprey/internal/cache"
	"github.com/dkrish7/osprey/internal/logger"
	"github.com/dkrish7/osprey/internal/queue"
	"github.com/dkrish7/osprey/internal/sandbox"
	"github.com/dkrish7/osprey/internal/storage"
	"github.com/dkrish7/osprey/internal/tool"
	"github.com/dkrish7/osprey/internal/util"
	"github.com/dkrish7/osprey/model"
)

var (
	ErrForbidden = errors.New("job does not belong to caller")
	ErrNoOutput  = errors.New("job has no archived output")
)

const killTimeout = 5 * time.Second

// Service owns intake and the owner-facing lifecycle operations. Execution
// itself happens on the worker, reached through the queue.
type Service struct {
	store    Store
	cache    cache.Cache
	queue    queue.Queue
	storage  storage.Storage
	registry *tool.Registry
	runner   sandbox.Runner
	notifier Notifier
}

func NewService(
	store Store,
	c cache.Cache,
	q queue.Queue,
	s storage.Storage,
	registry *tool.Registry,
	runner sandbox.Runner,
	notifier Notifier,
) *Service {
	return &Service{
		store:    store,
		cache:    c,
		queue:    q,
		storage:  s,
		registry: registry,
		runner:   runner,
		notifier: notifier,
	}
}

// Create validates the request, persists the job as pending and enqueues it.
// Validation failures never reach the queue or the sandbox.
func (s *Service) Create(ctx context.Context, ownerID uuid.UUID, req model.JobRequest) (*model.Job, error) {
	executor, err := s.registry.Resolve(req.ToolName)
	if err != nil {
		return nil, err
	}

	in, err := executor.Validate(req.Input)
	if err != nil {
		return nil, err
	}

	input, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("encode input: %w", err)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate job id: %w", err)
	}

	now := time.Now().UTC()
	job := &model.Job{
		ID:           id,
		OwnerID:      ownerID,
		Tool:         req.ToolName,
		Status:       model.JobPending,
		Input:        input,
		CreationTime: &now,
	}
	if err := s.store.Create(ctx, job); err != nil {
		return nil, err
	}

	if err := s.queue.PublishEvent(queue.JobCreated, job.ID.String()); err != nil {
		// The row exists but nothing will pick it up; surface the failure to
		// the caller rather than leaving a silently stuck job.
		return nil, fmt.Errorf("enqueue job %s: %w", job.ID, err)
	}

	s.notifier.Notify(ctx, ownerID.String(), EventCreated, job)
	return job, nil
}

// Get is cache-aside: only terminal jobs are cached, so a hit can never
// serve a stale status.
func (s *Service) Get(ctx context.Context, ownerID uuid.UUID, id string) (*model.Job, error) {
	var cached model.Job
	if err := s.cache.Get(ctx, util.GetJobKey(id), &cached); err == nil {
		if cached.OwnerID != ownerID {
			return nil, ErrForbidden
		}
		return &cached, nil
	}

	job, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.OwnerID != ownerID {
		return nil, ErrForbidden
	}

	if IsTerminal(job.Status) {
		if err := s.cache.Put(ctx, util.GetJobKey(id), job, s.cache.GetDefaultTTL()); err != nil {
			logger.FromContext(ctx).Warn().Err(err).Str("job_id", id).Msg("job cache put failed")
		}
	}
	return job, nil
}

func (s *Service) List(ctx context.Context, ownerID uuid.UUID, offset string) ([]*model.Job, error) {
	return s.store.List(ctx, ownerID.String(), offset)
}

// Cancel stops a pending or running job. For a running job the sandbox is
// force-removed best effort; the status flip is authoritative either way.
func (s *Service) Cancel(ctx context.Context, ownerID uuid.UUID, id string) (*model.Job, error) {
	job, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.OwnerID != ownerID {
		return nil, ErrForbidden
	}

	from := job.Status
	wasRunning := from == model.JobRunning
	if err := Transition(job, model.JobCancelled); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	job.EndTime = &now
	claimed, err := s.store.UpdateFrom(ctx, job, from)
	if err != nil {
		return nil, err
	}
	if !claimed {
		// The worker finished first; report the conflict against the
		// status the row actually reached.
		current, err := s.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		return nil, &TransitionError{JobID: id, From: current.Status, To: model.JobCancelled}
	}

	if wasRunning {
		killCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), killTimeout)
		defer cancel()
		if err := s.runner.Kill(killCtx, id); err != nil {
			logger.FromContext(ctx).Warn().Err(err).Str("job_id", id).Msg("sandbox kill failed")
		}
	}
	return job, nil
}

// Retry re-enqueues a failed job. It is the only path out of failed.
func (s *Service) Retry(ctx context.Context, ownerID uuid.UUID, id string) (*model.Job, error) {
	job, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.OwnerID != ownerID {
		return nil, ErrForbidden
	}

	if err := Transition(job, model.JobPending); err != nil {
		return nil, err
	}
	job.Output = nil
	job.Progress = 0
	job.ErrorMessage = nil
	job.OutputHash = ""
	job.Degraded = false
	job.StartTime = nil
	job.EndTime = nil
	claimed, err := s.store.UpdateFrom(ctx, job, model.JobFailed)
	if err != nil {
		return nil, err
	}
	if !claimed {
		current, err := s.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		return nil, &TransitionError{JobID: id, From: current.Status, To: model.JobPending}
	}

	// The failed job was terminal and may sit in the cache; drop it so reads
	// see the fresh pending status.
	if err := s.cache.Delete(ctx, util.GetJobKey(id)); err != nil {
		logger.FromContext(ctx).Warn().Err(err).Str("job_id", id).Msg("job cache invalidation failed")
	}

	if err := s.queue.PublishEvent(queue.JobReenqueued, job.ID.String()); err != nil {
		return nil, fmt.Errorf("enqueue job %s: %w", job.ID, err)
	}
	return job, nil
}

// Output fetches the archived raw tool output for a finished job.
func (s *Service) Output(ctx context.Context, ownerID uuid.UUID, id string) ([]byte, error) {
	job, err := s.Get(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	if job.OutputHash == "" {
		return nil, ErrNoOutput
	}
	return s.storage.Download(ctx, util.GetOutputPath(job.OutputHash))
}

func (s *Service) Tools() []model.ToolMetadata {
	return s.registry.List()
}

// ToolRate reports the named tool's own execution window, false for an
// unknown tool.
func (s *Service) ToolRate(name string) (model.RateSpec, bool) {
	return s.registry.Rate(name)
}
