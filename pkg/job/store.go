package job

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ajitpratap0/relay/pkg/errors"
	"github.com/google/uuid"
)

// Store persists pipelines and jobs. Logs and errors are append-only and
// status only moves along the transition table.
type Store interface {
	CreateJob(ctx context.Context, pipelineID string) (*Job, error)
	GetJob(ctx context.Context, id string) (*Job, error)
	ListJobs(ctx context.Context, pipelineID string) ([]*Job, error)
	AppendLog(ctx context.Context, id string, entry LogEntry) error
	AppendError(ctx context.Context, id string, entry ErrorEntry) error
	// Transition returns the job after the move, or a conflict error
	Transition(ctx context.Context, id string, to Status, at time.Time) (*Job, error)
	UpdateCounts(ctx context.Context, id string, counts Counts) error
	SetTaskID(ctx context.Context, id, taskID string) error

	GetPipeline(ctx context.Context, id string) (*Pipeline, error)
	SavePipeline(ctx context.Context, p *Pipeline) error
	UpdatePipelineStatus(ctx context.Context, id string, status PipelineStatus, lastRunAt *time.Time) error
}

// MemoryStore keeps everything in process memory
type MemoryStore struct {
	mu        sync.RWMutex
	jobs      map[string]*Job
	pipelines map[string]*Pipeline
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:      make(map[string]*Job),
		pipelines: make(map[string]*Pipeline),
	}
}

// CreateJob implements Store
func (s *MemoryStore) CreateJob(_ context.Context, pipelineID string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.pipelines[pipelineID]; !ok {
		return nil, errors.Wrap(ErrPipelineNotFound, errors.ErrorTypeNotFound, "cannot create job").
			WithDetail("pipeline_id", pipelineID)
	}
	j := &Job{
		ID:         uuid.NewString(),
		PipelineID: pipelineID,
		Status:     StatusPending,
		CreatedAt:  time.Now().UTC(),
		Logs:       []LogEntry{},
		Errors:     []ErrorEntry{},
	}
	s.jobs[j.ID] = j
	return j.Clone(), nil
}

// GetJob implements Store
func (s *MemoryStore) GetJob(_ context.Context, id string) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, notFound(id)
	}
	return j.Clone(), nil
}

// ListJobs implements Store, newest first
func (s *MemoryStore) ListJobs(_ context.Context, pipelineID string) ([]*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Job
	for _, j := range s.jobs {
		if pipelineID == "" || j.PipelineID == pipelineID {
			out = append(out, j.Clone())
		}
	}
	sort.Slice(out, func(a, b int) bool {
		return out[a].CreatedAt.After(out[b].CreatedAt)
	})
	return out, nil
}

// AppendLog implements Store
func (s *MemoryStore) AppendLog(_ context.Context, id string, entry LogEntry) error {
	return s.update(id, func(j *Job) error {
		j.Logs = append(j.Logs, entry)
		return nil
	})
}

// AppendError implements Store
func (s *MemoryStore) AppendError(_ context.Context, id string, entry ErrorEntry) error {
	return s.update(id, func(j *Job) error {
		j.Errors = append(j.Errors, entry)
		j.ErrorCount = len(j.Errors)
		return nil
	})
}

// Transition implements Store
func (s *MemoryStore) Transition(_ context.Context, id string, to Status, at time.Time) (*Job, error) {
	var out *Job
	err := s.update(id, func(j *Job) error {
		if err := applyTransition(j, to, at); err != nil {
			return err
		}
		out = j.Clone()
		return nil
	})
	return out, err
}

// UpdateCounts implements Store
func (s *MemoryStore) UpdateCounts(_ context.Context, id string, counts Counts) error {
	return s.update(id, func(j *Job) error {
		j.SourceRecordCount = counts.SourceRecords
		j.DestinationRecordCount = counts.DestinationRecords
		return nil
	})
}

// SetTaskID implements Store
func (s *MemoryStore) SetTaskID(_ context.Context, id, taskID string) error {
	return s.update(id, func(j *Job) error {
		j.TaskID = taskID
		return nil
	})
}

func (s *MemoryStore) update(id string, fn func(*Job) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return notFound(id)
	}
	return fn(j)
}

// GetPipeline implements Store
func (s *MemoryStore) GetPipeline(_ context.Context, id string) (*Pipeline, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.pipelines[id]
	if !ok {
		return nil, pipelineNotFound(id)
	}
	cp := *p
	return &cp, nil
}

// SavePipeline implements Store. It inserts or replaces.
func (s *MemoryStore) SavePipeline(_ context.Context, p *Pipeline) error {
	if err := p.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *p
	now := time.Now().UTC()
	if existing, ok := s.pipelines[p.ID]; ok {
		cp.CreatedAt = existing.CreatedAt
	} else if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	if cp.Status == "" {
		cp.Status = PipelineInactive
	}
	cp.UpdatedAt = now
	s.pipelines[p.ID] = &cp
	return nil
}

// UpdatePipelineStatus implements Store. A nil lastRunAt keeps the
// previous value.
func (s *MemoryStore) UpdatePipelineStatus(_ context.Context, id string, status PipelineStatus, lastRunAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pipelines[id]
	if !ok {
		return pipelineNotFound(id)
	}
	p.Status = status
	if lastRunAt != nil {
		t := lastRunAt.UTC()
		p.LastRunAt = &t
	}
	p.UpdatedAt = time.Now().UTC()
	return nil
}

func notFound(id string) error {
	return errors.Wrap(ErrNotFound, errors.ErrorTypeNotFound, "job lookup failed").
		WithDetail("job_id", id)
}

func pipelineNotFound(id string) error {
	return errors.Wrap(ErrPipelineNotFound, errors.ErrorTypeNotFound, "pipeline lookup failed").
		WithDetail("pipeline_id", id)
}

var _ Store = (*MemoryStore)(nil)
