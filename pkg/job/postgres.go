package job

import (
	"context"
	"time"

	"github.com/ajitpratap0/relay/pkg/errors"
	"github.com/ajitpratap0/relay/pkg/json"
	"github.com/ajitpratap0/relay/pkg/logger"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const schema = `
CREATE TABLE IF NOT EXISTS relay_pipelines (
  id text PRIMARY KEY,
  name text NOT NULL DEFAULT '',
  source_type text NOT NULL,
  source_config jsonb NOT NULL DEFAULT '{}',
  destination_type text NOT NULL,
  destination_config jsonb NOT NULL DEFAULT '{}',
  transform_config jsonb NOT NULL DEFAULT '{}',
  status text NOT NULL DEFAULT 'inactive',
  last_run_at timestamptz,
  created_at timestamptz NOT NULL DEFAULT now(),
  updated_at timestamptz NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS relay_jobs (
  id text PRIMARY KEY,
  pipeline_id text NOT NULL REFERENCES relay_pipelines(id) ON DELETE CASCADE,
  task_id text NOT NULL DEFAULT '',
  status text NOT NULL,
  attempts integer NOT NULL DEFAULT 0,
  created_at timestamptz NOT NULL DEFAULT now(),
  started_at timestamptz,
  completed_at timestamptz,
  source_record_count integer NOT NULL DEFAULT 0,
  destination_record_count integer NOT NULL DEFAULT 0,
  error_count integer NOT NULL DEFAULT 0,
  logs jsonb NOT NULL DEFAULT '[]',
  errors jsonb NOT NULL DEFAULT '[]'
);
CREATE INDEX IF NOT EXISTS relay_jobs_pipeline_idx ON relay_jobs (pipeline_id, created_at DESC);
`

const jobColumns = `id, pipeline_id, task_id, status, attempts, created_at, started_at, completed_at,
  source_record_count, destination_record_count, error_count, logs, errors`

// PostgresStore keeps pipelines and jobs in PostgreSQL. Logs and errors
// are jsonb arrays appended in place.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// PostgresConfig configures the connection pool
type PostgresConfig struct {
	DSN             string
	MaxConns        int32
	MaxConnLifetime time.Duration
	ConnectTimeout  time.Duration
}

// NewPostgresStore connects, pings and ensures the schema exists
func NewPostgresStore(ctx context.Context, cfg PostgresConfig) (*PostgresStore, error) {
	if cfg.DSN == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "store DSN is required").
			WithDetail("field", "store.dsn")
	}
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to parse PostgreSQL connection string")
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.ConnectTimeout > 0 {
		poolConfig.ConnConfig.ConnectTimeout = cfg.ConnectTimeout
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeTransport, "failed to create PostgreSQL connection pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeTransport, "failed to reach PostgreSQL")
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to create job store schema")
	}

	s := &PostgresStore{pool: pool, logger: logger.Get().With(zap.String("component", "job_store"))}
	s.logger.Info("PostgreSQL job store ready", zap.Int32("max_connections", poolConfig.MaxConns))
	return s, nil
}

// Close releases the pool
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// CreateJob implements Store
func (s *PostgresStore) CreateJob(ctx context.Context, pipelineID string) (*Job, error) {
	if _, err := s.GetPipeline(ctx, pipelineID); err != nil {
		return nil, err
	}
	id := uuid.NewString()
	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO relay_jobs (id, pipeline_id, status, created_at) VALUES ($1, $2, $3, $4)`,
		id, pipelineID, string(StatusPending), now)
	if err != nil {
		return nil, dbError(err, "failed to create job")
	}
	return s.GetJob(ctx, id)
}

// GetJob implements Store
func (s *PostgresStore) GetJob(ctx context.Context, id string) (*Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM relay_jobs WHERE id = $1`, id)
	j, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound(id)
	}
	return j, err
}

// ListJobs implements Store, newest first
func (s *PostgresStore) ListJobs(ctx context.Context, pipelineID string) ([]*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM relay_jobs`
	var args []interface{}
	if pipelineID != "" {
		query += ` WHERE pipeline_id = $1`
		args = append(args, pipelineID)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, dbError(err, "failed to list jobs")
	}
	defer rows.Close()

	var out []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError(err, "failed to list jobs")
	}
	return out, nil
}

// AppendLog implements Store
func (s *PostgresStore) AppendLog(ctx context.Context, id string, entry LogEntry) error {
	data, err := json.Marshal([]LogEntry{entry})
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "failed to encode log entry")
	}
	return s.exec(ctx, id, `UPDATE relay_jobs SET logs = logs || $2::jsonb WHERE id = $1`, string(data))
}

// AppendError implements Store
func (s *PostgresStore) AppendError(ctx context.Context, id string, entry ErrorEntry) error {
	data, err := json.Marshal([]ErrorEntry{entry})
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "failed to encode error entry")
	}
	return s.exec(ctx, id,
		`UPDATE relay_jobs SET errors = errors || $2::jsonb, error_count = error_count + 1 WHERE id = $1`,
		string(data))
}

// Transition implements Store. The row is locked while the move is
// validated.
func (s *PostgresStore) Transition(ctx context.Context, id string, to Status, at time.Time) (*Job, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, dbError(err, "failed to begin transaction")
	}
	defer tx.Rollback(ctx)

	j := &Job{ID: id}
	var status string
	err = tx.QueryRow(ctx,
		`SELECT status, attempts, started_at, completed_at FROM relay_jobs WHERE id = $1 FOR UPDATE`, id).
		Scan(&status, &j.Attempts, &j.StartedAt, &j.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, dbError(err, "failed to load job")
	}
	j.Status = Status(status)

	if err := applyTransition(j, to, at); err != nil {
		return nil, err
	}
	_, err = tx.Exec(ctx,
		`UPDATE relay_jobs SET status = $2, attempts = $3, started_at = $4, completed_at = $5 WHERE id = $1`,
		id, string(j.Status), j.Attempts, j.StartedAt, j.CompletedAt)
	if err != nil {
		return nil, dbError(err, "failed to update job status")
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, dbError(err, "failed to commit job status")
	}
	return s.GetJob(ctx, id)
}

// UpdateCounts implements Store
func (s *PostgresStore) UpdateCounts(ctx context.Context, id string, counts Counts) error {
	return s.exec(ctx, id,
		`UPDATE relay_jobs SET source_record_count = $2, destination_record_count = $3 WHERE id = $1`,
		counts.SourceRecords, counts.DestinationRecords)
}

// SetTaskID implements Store
func (s *PostgresStore) SetTaskID(ctx context.Context, id, taskID string) error {
	return s.exec(ctx, id, `UPDATE relay_jobs SET task_id = $2 WHERE id = $1`, taskID)
}

// GetPipeline implements Store
func (s *PostgresStore) GetPipeline(ctx context.Context, id string) (*Pipeline, error) {
	var (
		p                      Pipeline
		status                 string
		src, dst, transformRaw []byte
	)
	err := s.pool.QueryRow(ctx, `
SELECT id, name, source_type, source_config, destination_type, destination_config,
  transform_config, status, last_run_at, created_at, updated_at
FROM relay_pipelines WHERE id = $1`, id).
		Scan(&p.ID, &p.Name, &p.SourceType, &src, &p.DestinationType, &dst,
			&transformRaw, &status, &p.LastRunAt, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, pipelineNotFound(id)
	}
	if err != nil {
		return nil, dbError(err, "failed to load pipeline")
	}
	p.Status = PipelineStatus(status)

	for _, col := range []struct {
		raw []byte
		out *map[string]interface{}
	}{
		{src, (*map[string]interface{})(&p.SourceConfig)},
		{dst, (*map[string]interface{})(&p.DestinationConfig)},
		{transformRaw, (*map[string]interface{})(&p.TransformConfig)},
	} {
		if err := json.Unmarshal(col.raw, col.out); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to decode pipeline config").
				WithDetail("pipeline_id", id)
		}
	}
	return &p, nil
}

// SavePipeline implements Store. It inserts or replaces.
func (s *PostgresStore) SavePipeline(ctx context.Context, p *Pipeline) error {
	if err := p.Validate(); err != nil {
		return err
	}
	status := p.Status
	if status == "" {
		status = PipelineInactive
	}

	encoded := make([]string, 3)
	for i, cfg := range []map[string]interface{}{p.SourceConfig, p.DestinationConfig, p.TransformConfig} {
		if cfg == nil {
			cfg = map[string]interface{}{}
		}
		data, err := json.Marshal(cfg)
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeData, "failed to encode pipeline config").
				WithDetail("pipeline_id", p.ID)
		}
		encoded[i] = string(data)
	}

	_, err := s.pool.Exec(ctx, `
INSERT INTO relay_pipelines (id, name, source_type, source_config, destination_type,
  destination_config, transform_config, status)
VALUES ($1, $2, $3, $4::jsonb, $5, $6::jsonb, $7::jsonb, $8)
ON CONFLICT (id) DO UPDATE SET
  name = EXCLUDED.name,
  source_type = EXCLUDED.source_type,
  source_config = EXCLUDED.source_config,
  destination_type = EXCLUDED.destination_type,
  destination_config = EXCLUDED.destination_config,
  transform_config = EXCLUDED.transform_config,
  status = EXCLUDED.status,
  updated_at = now()`,
		p.ID, p.Name, p.SourceType, encoded[0], p.DestinationType, encoded[1], encoded[2], string(status))
	if err != nil {
		return dbError(err, "failed to save pipeline")
	}
	return nil
}

// UpdatePipelineStatus implements Store. A nil lastRunAt keeps the
// previous value.
func (s *PostgresStore) UpdatePipelineStatus(ctx context.Context, id string, status PipelineStatus, lastRunAt *time.Time) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE relay_pipelines
SET status = $2, last_run_at = COALESCE($3, last_run_at), updated_at = now()
WHERE id = $1`, id, string(status), lastRunAt)
	if err != nil {
		return dbError(err, "failed to update pipeline status")
	}
	if tag.RowsAffected() == 0 {
		return pipelineNotFound(id)
	}
	return nil
}

func (s *PostgresStore) exec(ctx context.Context, id, query string, args ...interface{}) error {
	tag, err := s.pool.Exec(ctx, query, append([]interface{}{id}, args...)...)
	if err != nil {
		return dbError(err, "job update failed")
	}
	if tag.RowsAffected() == 0 {
		return notFound(id)
	}
	return nil
}

func scanJob(row pgx.Row) (*Job, error) {
	var (
		j          Job
		status     string
		logs, errs []byte
	)
	err := row.Scan(&j.ID, &j.PipelineID, &j.TaskID, &status, &j.Attempts, &j.CreatedAt,
		&j.StartedAt, &j.CompletedAt, &j.SourceRecordCount, &j.DestinationRecordCount,
		&j.ErrorCount, &logs, &errs)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, dbError(err, "failed to read job")
	}
	j.Status = Status(status)
	if err := json.Unmarshal(logs, &j.Logs); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to decode job logs").WithDetail("job_id", j.ID)
	}
	if err := json.Unmarshal(errs, &j.Errors); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to decode job errors").WithDetail("job_id", j.ID)
	}
	return &j, nil
}

// dbError maps driver failures to transport errors so a job whose store
// hiccups is retried rather than failed
func dbError(err error, msg string) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return errors.Wrap(err, errors.ErrorTypeTimeout, msg)
	}
	return errors.Wrap(err, errors.ErrorTypeTransport, msg)
}

var _ Store = (*PostgresStore)(nil)
