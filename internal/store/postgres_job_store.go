package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dunamismax/pixelpress/internal/domain"
	"github.com/lib/pq"
)

const jobSchemaSQL = `
CREATE TABLE IF NOT EXISTS jobs (
	id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	source_type TEXT NOT NULL,
	webhook_url TEXT NOT NULL DEFAULT '',
	content_type TEXT NOT NULL DEFAULT '',
	pipeline JSONB NOT NULL,
	object_key TEXT NOT NULL,
	outputs JSONB NOT NULL DEFAULT '[]'::jsonb,
	error TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
ALTER TABLE jobs ADD COLUMN IF NOT EXISTS content_type TEXT NOT NULL DEFAULT '';
ALTER TABLE jobs ADD COLUMN IF NOT EXISTS outputs JSONB NOT NULL DEFAULT '[]'::jsonb;
ALTER TABLE jobs ADD COLUMN IF NOT EXISTS error TEXT NOT NULL DEFAULT '';
CREATE INDEX IF NOT EXISTS jobs_status_updated_at_idx ON jobs (status, updated_at);
`

const jobColumns = `id, status, source_type, webhook_url, content_type, pipeline, object_key, outputs, error, created_at, updated_at`

type PostgresJobStore struct {
	db *sql.DB
}

func NewPostgresJobStore(ctx context.Context, dsn string) (*PostgresJobStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	store := &PostgresJobStore{db: db}
	if err := store.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *PostgresJobStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, jobSchemaSQL); err != nil {
		return fmt.Errorf("ensure jobs schema: %w", err)
	}
	return nil
}

func (s *PostgresJobStore) Close() error {
	return s.db.Close()
}

func (s *PostgresJobStore) Create(ctx context.Context, job domain.Job) error {
	pipelineJSON, err := json.Marshal(job.Pipeline)
	if err != nil {
		return fmt.Errorf("marshal job pipeline: %w", err)
	}
	outputsJSON, err := marshalOutputs(job.Outputs)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO jobs (`+jobColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		job.ID,
		job.Status,
		job.SourceType,
		job.WebhookURL,
		job.ContentType,
		pipelineJSON,
		job.ObjectKey,
		outputsJSON,
		job.Error,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert job %s: %w", job.ID, ErrJobExists)
		}
		return fmt.Errorf("insert job: %w", err)
	}

	return nil
}

func (s *PostgresJobStore) Get(ctx context.Context, id string) (domain.Job, bool, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+jobColumns+`
		 FROM jobs
		 WHERE id = $1`,
		id,
	)

	var (
		job          domain.Job
		pipelineJSON []byte
		outputsJSON  []byte
	)
	if err := row.Scan(
		&job.ID,
		&job.Status,
		&job.SourceType,
		&job.WebhookURL,
		&job.ContentType,
		&pipelineJSON,
		&job.ObjectKey,
		&outputsJSON,
		&job.Error,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Job{}, false, nil
		}
		return domain.Job{}, false, fmt.Errorf("query job: %w", err)
	}

	if err := json.Unmarshal(pipelineJSON, &job.Pipeline); err != nil {
		return domain.Job{}, false, fmt.Errorf("unmarshal job pipeline: %w", err)
	}
	if len(outputsJSON) > 0 {
		if err := json.Unmarshal(outputsJSON, &job.Outputs); err != nil {
			return domain.Job{}, false, fmt.Errorf("unmarshal job outputs: %w", err)
		}
	}

	return job, true, nil
}

func (s *PostgresJobStore) UpdateStatus(ctx context.Context, id, status string) (domain.Job, error) {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs
		 SET status = $1, updated_at = $2
		 WHERE id = $3`,
		status,
		time.Now().UTC(),
		id,
	)
	if err != nil {
		return domain.Job{}, fmt.Errorf("update job status: %w", err)
	}
	return s.reload(ctx, id, res)
}

func (s *PostgresJobStore) SaveResult(ctx context.Context, id, status string, outputs []domain.StepOutput, errMsg string) (domain.Job, error) {
	outputsJSON, err := marshalOutputs(outputs)
	if err != nil {
		return domain.Job{}, err
	}

	res, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs
		 SET status = $1, outputs = $2, error = $3, updated_at = $4
		 WHERE id = $5`,
		status,
		outputsJSON,
		errMsg,
		time.Now().UTC(),
		id,
	)
	if err != nil {
		return domain.Job{}, fmt.Errorf("save job result: %w", err)
	}
	return s.reload(ctx, id, res)
}

func (s *PostgresJobStore) reload(ctx context.Context, id string, res sql.Result) (domain.Job, error) {
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.Job{}, ErrJobNotFound
	}

	job, ok, err := s.Get(ctx, id)
	if err != nil {
		return domain.Job{}, err
	}
	if !ok {
		return domain.Job{}, ErrJobNotFound
	}
	return job, nil
}

func marshalOutputs(outputs []domain.StepOutput) ([]byte, error) {
	if outputs == nil {
		outputs = []domain.StepOutput{}
	}
	data, err := json.Marshal(outputs)
	if err != nil {
		return nil, fmt.Errorf("marshal job outputs: %w", err)
	}
	return data, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
