// Package job runs pipelines. It owns the job record, its state machine,
// retry classification and the event stream that merges adapter and engine
// logs into the record.
package job

import (
	"fmt"
	"time"

	"github.com/ajitpratap0/relay/pkg/connector/core"
	"github.com/ajitpratap0/relay/pkg/errors"
)

// Status is the lifecycle state of a job
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no transition leaves s
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

var transitions = map[Status][]Status{
	StatusPending: {StatusRunning, StatusCancelled},
	// running -> pending schedules a retry
	StatusRunning: {StatusCompleted, StatusFailed, StatusCancelled, StatusPending},
}

// CanTransition reports whether from -> to is allowed
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

var (
	// ErrNotFound is returned for unknown job ids
	ErrNotFound = errors.New(errors.ErrorTypeNotFound, "job not found")
	// ErrPipelineNotFound is returned for unknown pipeline ids
	ErrPipelineNotFound = errors.New(errors.ErrorTypeNotFound, "pipeline not found")
	// ErrTerminal is returned when a terminal job is asked to change state
	ErrTerminal = errors.New(errors.ErrorTypeConflict, "job is in a terminal state")
)

func transitionError(id string, from, to Status) error {
	msg := fmt.Sprintf("invalid job transition %s -> %s", from, to)
	var err *errors.Error
	if from.Terminal() {
		err = errors.Wrap(ErrTerminal, errors.ErrorTypeConflict, msg)
	} else {
		err = errors.New(errors.ErrorTypeConflict, msg)
	}
	return err.WithDetail("job_id", id).
		WithDetail("from", string(from)).
		WithDetail("to", string(to))
}

// LogEntry is one job log line
type LogEntry struct {
	Timestamp time.Time              `json:"timestamp"`
	Level     core.Level             `json:"level"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// ErrorEntry is one recorded failure. Item-level and engine-level errors
// share the list; Type tells them apart.
type ErrorEntry struct {
	Timestamp time.Time              `json:"timestamp"`
	Type      string                 `json:"type,omitempty"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// Counts are the record counters persisted on a job
type Counts struct {
	SourceRecords      int `json:"source_record_count"`
	DestinationRecords int `json:"destination_record_count"`
}

// Job is one execution of a pipeline. ErrorCount always equals len(Errors).
type Job struct {
	ID          string     `json:"id"`
	PipelineID  string     `json:"pipeline_id"`
	TaskID      string     `json:"task_id,omitempty"`
	Status      Status     `json:"status"`
	Attempts    int        `json:"attempts"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	SourceRecordCount      int `json:"source_record_count"`
	DestinationRecordCount int `json:"destination_record_count"`
	ErrorCount             int `json:"error_count"`

	Logs   []LogEntry   `json:"logs"`
	Errors []ErrorEntry `json:"errors"`
}

// Clone returns a copy that shares nothing mutable with j
func (j *Job) Clone() *Job {
	out := *j
	out.Logs = append([]LogEntry(nil), j.Logs...)
	out.Errors = append([]ErrorEntry(nil), j.Errors...)
	if j.StartedAt != nil {
		t := *j.StartedAt
		out.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		out.CompletedAt = &t
	}
	return &out
}

// applyTransition moves j to the target state, maintaining attempts and
// timestamps. Both stores use it so they agree on the rules.
func applyTransition(j *Job, to Status, at time.Time) error {
	if !CanTransition(j.Status, to) {
		return transitionError(j.ID, j.Status, to)
	}
	at = at.UTC()
	switch {
	case to == StatusRunning:
		j.Attempts++
		j.StartedAt = &at
	case to.Terminal():
		j.CompletedAt = &at
	}
	j.Status = to
	return nil
}

// PipelineStatus is the health of a pipeline as seen by its last run
type PipelineStatus string

const (
	PipelineActive   PipelineStatus = "active"
	PipelineInactive PipelineStatus = "inactive"
	PipelineError    PipelineStatus = "error"
)

// Pipeline is the stored configuration a job executes against
type Pipeline struct {
	ID                string         `json:"id" yaml:"id"`
	Name              string         `json:"name" yaml:"name"`
	SourceType        string         `json:"source_type" yaml:"source_type"`
	SourceConfig      core.Config    `json:"source_config" yaml:"source_config"`
	DestinationType   string         `json:"destination_type" yaml:"destination_type"`
	DestinationConfig core.Config    `json:"destination_config" yaml:"destination_config"`
	TransformConfig   core.Config    `json:"transform_config,omitempty" yaml:"transform_config"`
	Status            PipelineStatus `json:"status" yaml:"status"`
	LastRunAt         *time.Time     `json:"last_run_at,omitempty" yaml:"-"`
	CreatedAt         time.Time      `json:"created_at" yaml:"-"`
	UpdatedAt         time.Time      `json:"updated_at" yaml:"-"`
}

// Validate checks the fields the executor relies on. Adapter configs are
// validated by their adapters.
func (p *Pipeline) Validate() error {
	switch {
	case p.ID == "":
		return errors.New(errors.ErrorTypeValidation, "pipeline id is required")
	case p.SourceType == "":
		return errors.New(errors.ErrorTypeValidation, "pipeline source_type is required").
			WithDetail("pipeline_id", p.ID)
	case p.DestinationType == "":
		return errors.New(errors.ErrorTypeValidation, "pipeline destination_type is required").
			WithDetail("pipeline_id", p.ID)
	}
	switch p.Status {
	case "", PipelineActive, PipelineInactive, PipelineError:
	default:
		return errors.Newf(errors.ErrorTypeValidation, "unknown pipeline status %q", p.Status).
			WithDetail("pipeline_id", p.ID)
	}
	return nil
}
