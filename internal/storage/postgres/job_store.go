// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/webpage-search/internal/crawler"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const (
	defaultJobsTable    = "search_jobs"
	defaultResultsTable = "search_results"
	uniqueViolation     = "23505"
)

// Config controls the Postgres connection pool and table names.
type Config struct {
	DSN             string
	JobsTable       string
	ResultsTable    string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Ping(context.Context) error
	Close()
}

// JobStore persists search jobs and their result records in Postgres.
type JobStore struct {
	pool         pool
	jobsTable    string
	resultsTable string
	clock        crawler.Clock
}

// NewJobStore connects a pool using cfg and returns a JobStore.
func NewJobStore(ctx context.Context, cfg Config, clock crawler.Clock) (*JobStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("storage.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewJobStoreWithPool(p, cfg.JobsTable, cfg.ResultsTable, clock)
	if err != nil {
		p.Close()
		return nil, err
	}
	return store, nil
}

// NewJobStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewJobStoreWithPool(p pool, jobsTable, resultsTable string, clock crawler.Clock) (*JobStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	if jobsTable == "" {
		jobsTable = defaultJobsTable
	}
	if resultsTable == "" {
		resultsTable = defaultResultsTable
	}
	for _, table := range []string{jobsTable, resultsTable} {
		if !validTableName.MatchString(table) {
			return nil, fmt.Errorf("invalid table name %q", table)
		}
	}
	return &JobStore{
		pool:         p,
		jobsTable:    jobsTable,
		resultsTable: resultsTable,
		clock:        clock,
	}, nil
}

// Close releases the underlying pool resources.
func (s *JobStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping checks that the database is reachable.
func (s *JobStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// EnsureSchema creates the job and result tables when they do not exist.
func (s *JobStore) EnsureSchema(ctx context.Context) error {
	jobs := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id            TEXT PRIMARY KEY,
	kind          TEXT NOT NULL,
	status        TEXT NOT NULL,
	query         TEXT NOT NULL,
	submitted_at  TIMESTAMPTZ NOT NULL,
	started_at    TIMESTAMPTZ,
	finished_at   TIMESTAMPTZ,
	error_text    TEXT NOT NULL DEFAULT '',
	records       INTEGER NOT NULL DEFAULT 0,
	succeeded     INTEGER NOT NULL DEFAULT 0,
	invalid_urls  INTEGER NOT NULL DEFAULT 0,
	timeouts      INTEGER NOT NULL DEFAULT 0
)`, s.jobsTable)
	results := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	job_id        TEXT NOT NULL REFERENCES %s (id) ON DELETE CASCADE,
	idx           INTEGER NOT NULL,
	url           TEXT NOT NULL,
	final_url     TEXT,
	subject       TEXT,
	body          TEXT,
	detected_404  BOOLEAN,
	ts            DOUBLE PRECISION NOT NULL,
	error         TEXT NOT NULL DEFAULT '',
	content_hash  TEXT NOT NULL DEFAULT '',
	blob_uri      TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (job_id, idx)
)`, s.resultsTable, s.jobsTable)
	for _, stmt := range []string{jobs, results} {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// CreateJob inserts a new job row.
func (s *JobStore) CreateJob(ctx context.Context, job crawler.Job) error {
	query := fmt.Sprintf(`
INSERT INTO %s (id, kind, status, query, submitted_at, error_text, records, succeeded, invalid_urls, timeouts)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`, s.jobsTable)
	_, err := s.pool.Exec(ctx, query,
		job.ID,
		job.Kind,
		string(job.Status),
		job.Query.Query,
		job.Submitted,
		job.ErrorText,
		job.Counters.Records,
		job.Counters.Succeeded,
		job.Counters.InvalidURLs,
		job.Counters.Timeouts,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("create job %s: %w", job.ID, crawler.ErrJobExists)
		}
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// UpdateJobStatus moves a job to status and records its counters. started_at is set on the
// first transition to running and finished_at on any terminal status.
func (s *JobStore) UpdateJobStatus(
	ctx context.Context,
	jobID string,
	status crawler.JobStatus,
	errText string,
	counters crawler.JobCounters,
) error {
	now := s.clock.Now().UTC()
	query := fmt.Sprintf(`
UPDATE %s SET
	status = $2,
	error_text = $3,
	records = $4,
	succeeded = $5,
	invalid_urls = $6,
	timeouts = $7,
	started_at = CASE WHEN $2 = 'running' AND started_at IS NULL THEN $8 ELSE started_at END,
	finished_at = CASE WHEN $9 THEN $8 ELSE finished_at END
WHERE id = $1`, s.jobsTable)
	tag, err := s.pool.Exec(ctx, query,
		jobID,
		string(status),
		errText,
		counters.Records,
		counters.Succeeded,
		counters.InvalidURLs,
		counters.Timeouts,
		now,
		status.Terminal(),
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update job %s: %w", jobID, crawler.ErrJobNotFound)
	}
	return nil
}

// TransitionJob updates the status only while the row still holds from, so a concurrent
// writer's status is never overwritten.
func (s *JobStore) TransitionJob(
	ctx context.Context,
	jobID string,
	from, to crawler.JobStatus,
	errText string,
) error {
	now := s.clock.Now().UTC()
	query := fmt.Sprintf(`
UPDATE %s SET
	status = $3,
	error_text = $4,
	started_at = CASE WHEN $3 = 'running' AND started_at IS NULL THEN $5 ELSE started_at END,
	finished_at = CASE WHEN $6 THEN $5 ELSE finished_at END
WHERE id = $1 AND status = $2`, s.jobsTable)
	tag, err := s.pool.Exec(ctx, query, jobID, string(from), string(to), errText, now, to.Terminal())
	if err != nil {
		return fmt.Errorf("transition job: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var current string
	err = s.pool.QueryRow(ctx, fmt.Sprintf(`SELECT status FROM %s WHERE id = $1`, s.jobsTable), jobID).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("transition job %s: %w", jobID, crawler.ErrJobNotFound)
	}
	if err != nil {
		return fmt.Errorf("read job status: %w", err)
	}
	return fmt.Errorf("transition job %s from %s: is %s: %w", jobID, from, current, crawler.ErrJobStateChanged)
}

// AppendResult inserts one result row.
func (s *JobStore) AppendResult(ctx context.Context, result crawler.StoredResult) error {
	rec := result.Record
	query := fmt.Sprintf(`
INSERT INTO %s (job_id, idx, url, final_url, subject, body, detected_404, ts, error, content_hash, blob_uri)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`, s.resultsTable)
	_, err := s.pool.Exec(ctx, query,
		result.JobID,
		result.Index,
		rec.URL,
		rec.FinalURL,
		rec.Subject,
		rec.Body,
		rec.Detected404,
		rec.Timestamp,
		string(rec.Error),
		result.ContentHash,
		result.BlobURI,
	)
	if err != nil {
		return fmt.Errorf("insert result: %w", err)
	}
	return nil
}

// GetJob loads a job by ID.
func (s *JobStore) GetJob(ctx context.Context, jobID string) (crawler.Job, error) {
	query := fmt.Sprintf(`
SELECT id, kind, status, query, submitted_at, started_at, finished_at, error_text,
	records, succeeded, invalid_urls, timeouts
FROM %s WHERE id = $1`, s.jobsTable)
	var (
		job    crawler.Job
		status string
		text   string
	)
	err := s.pool.QueryRow(ctx, query, jobID).Scan(
		&job.ID,
		&job.Kind,
		&status,
		&text,
		&job.Submitted,
		&job.Started,
		&job.Finished,
		&job.ErrorText,
		&job.Counters.Records,
		&job.Counters.Succeeded,
		&job.Counters.InvalidURLs,
		&job.Counters.Timeouts,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.Job{}, fmt.Errorf("get job %s: %w", jobID, crawler.ErrJobNotFound)
	}
	if err != nil {
		return crawler.Job{}, fmt.Errorf("select job: %w", err)
	}
	job.Status = crawler.JobStatus(status)
	job.Query = crawler.Query{Query: text}
	return job, nil
}

// ListResults returns a job's results ordered by input position.
func (s *JobStore) ListResults(ctx context.Context, jobID string) ([]crawler.StoredResult, error) {
	if _, err := s.GetJob(ctx, jobID); err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`
SELECT job_id, idx, url, final_url, subject, body, detected_404, ts, error, content_hash, blob_uri
FROM %s WHERE job_id = $1 ORDER BY idx`, s.resultsTable)
	rows, err := s.pool.Query(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("select results: %w", err)
	}
	defer rows.Close()

	var out []crawler.StoredResult
	for rows.Next() {
		var (
			res     crawler.StoredResult
			errText string
		)
		if err := rows.Scan(
			&res.JobID,
			&res.Index,
			&res.Record.URL,
			&res.Record.FinalURL,
			&res.Record.Subject,
			&res.Record.Body,
			&res.Record.Detected404,
			&res.Record.Timestamp,
			&errText,
			&res.ContentHash,
			&res.BlobURI,
		); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		res.Record.Error = crawler.RecordError(errText)
		out = append(out, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate results: %w", err)
	}
	return out, nil
}
