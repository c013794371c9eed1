package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/webpage-search/internal/crawler"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

var testNow = time.Unix(1700000000, 0).UTC()

func newStore(t *testing.T) (*JobStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	store, err := NewJobStoreWithPool(mock, "", "", fixedClock{now: testNow})
	require.NoError(t, err)
	return store, mock
}

func TestNewJobStoreWithPoolValidation(t *testing.T) {
	t.Parallel()

	_, err := NewJobStoreWithPool(nil, "", "", fixedClock{})
	require.ErrorContains(t, err, "pool is required")

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewJobStoreWithPool(mock, "jobs; DROP TABLE x", "", fixedClock{})
	require.ErrorContains(t, err, "invalid table name")

	_, err = NewJobStoreWithPool(mock, "", "", nil)
	require.ErrorContains(t, err, "clock is required")

	_, err = NewJobStore(context.Background(), Config{}, fixedClock{})
	require.ErrorContains(t, err, "storage.dsn is required")
}

func TestPing(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	store, err := NewJobStoreWithPool(mock, "", "", fixedClock{now: testNow})
	require.NoError(t, err)

	mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	require.ErrorContains(t, store.Ping(context.Background()), "connection refused")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchema(t *testing.T) {
	t.Parallel()
	store, mock := newStore(t)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS search_jobs").
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS search_results").
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))

	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateJobInsertsRow(t *testing.T) {
	t.Parallel()
	store, mock := newStore(t)

	job := crawler.Job{
		ID:        "job-1",
		Kind:      crawler.JobKind,
		Status:    crawler.JobStatusQueued,
		Query:     crawler.Query{Query: "http://a.com:80"},
		Submitted: testNow,
	}
	mock.ExpectExec("INSERT INTO search_jobs").
		WithArgs("job-1", crawler.JobKind, "queued", "http://a.com:80", testNow, "", 0, 0, 0, 0).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.CreateJob(context.Background(), job))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateJobDuplicate(t *testing.T) {
	t.Parallel()
	store, mock := newStore(t)

	mock.ExpectExec("INSERT INTO search_jobs").
		WithArgs("job-1", crawler.JobKind, "queued", "", testNow, "", 0, 0, 0, 0).
		WillReturnError(&pgconn.PgError{Code: uniqueViolation})

	err := store.CreateJob(context.Background(), crawler.Job{
		ID:        "job-1",
		Kind:      crawler.JobKind,
		Status:    crawler.JobStatusQueued,
		Submitted: testNow,
	})
	require.ErrorIs(t, err, crawler.ErrJobExists)
}

func TestUpdateJobStatus(t *testing.T) {
	t.Parallel()
	store, mock := newStore(t)

	counters := crawler.JobCounters{Records: 3, Succeeded: 1, InvalidURLs: 1, Timeouts: 1}
	mock.ExpectExec("UPDATE search_jobs SET").
		WithArgs("job-1", "succeeded", "", 3, 1, 1, 1, testNow, true).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := store.UpdateJobStatus(context.Background(), "job-1", crawler.JobStatusSucceeded, "", counters)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateJobStatusNotFound(t *testing.T) {
	t.Parallel()
	store, mock := newStore(t)

	mock.ExpectExec("UPDATE search_jobs SET").
		WithArgs("missing", "running", "", 0, 0, 0, 0, testNow, false).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := store.UpdateJobStatus(context.Background(), "missing", crawler.JobStatusRunning, "", crawler.JobCounters{})
	require.ErrorIs(t, err, crawler.ErrJobNotFound)
}

func TestTransitionJob(t *testing.T) {
	t.Parallel()
	store, mock := newStore(t)

	mock.ExpectExec("UPDATE search_jobs SET").
		WithArgs("job-1", "queued", "running", "", testNow, false).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := store.TransitionJob(context.Background(), "job-1", crawler.JobStatusQueued, crawler.JobStatusRunning, "")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTransitionJobRefused(t *testing.T) {
	t.Parallel()
	store, mock := newStore(t)

	mock.ExpectExec("UPDATE search_jobs SET").
		WithArgs("job-1", "queued", "running", "", testNow, false).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT status FROM search_jobs").
		WithArgs("job-1").
		WillReturnRows(pgxmock.NewRows([]string{"status"}).AddRow("canceled"))

	err := store.TransitionJob(context.Background(), "job-1", crawler.JobStatusQueued, crawler.JobStatusRunning, "")
	require.ErrorIs(t, err, crawler.ErrJobStateChanged)
	require.ErrorContains(t, err, "is canceled")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTransitionJobNotFound(t *testing.T) {
	t.Parallel()
	store, mock := newStore(t)

	mock.ExpectExec("UPDATE search_jobs SET").
		WithArgs("missing", "queued", "canceled", "canceled via API", testNow, true).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT status FROM search_jobs").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	err := store.TransitionJob(context.Background(), "missing", crawler.JobStatusQueued, crawler.JobStatusCanceled, "canceled via API")
	require.ErrorIs(t, err, crawler.ErrJobNotFound)
}

func TestAppendResult(t *testing.T) {
	t.Parallel()
	store, mock := newStore(t)

	rec := crawler.NewSuccessRecord("http://a.com:80", crawler.PageResult{
		FinalURL:   "http://a.com/",
		PageSource: "<html></html>",
		PageTitle:  "A",
	}, testNow)
	mock.ExpectExec("INSERT INTO search_results").
		WithArgs("job-1", 0, "http://a.com:80", rec.FinalURL, rec.Subject, rec.Body, rec.Detected404,
			rec.Timestamp, "", "hash", "file:///tmp/x").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := store.AppendResult(context.Background(), crawler.StoredResult{
		JobID:       "job-1",
		Index:       0,
		ContentHash: "hash",
		BlobURI:     "file:///tmp/x",
		Record:      rec,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendResultError(t *testing.T) {
	t.Parallel()
	store, mock := newStore(t)

	rec := crawler.NewFailureRecord("bad", crawler.ErrTextInvalidURL, testNow)
	mock.ExpectExec("INSERT INTO search_results").
		WithArgs("job-1", 1, "bad", rec.FinalURL, rec.Subject, rec.Body, rec.Detected404,
			rec.Timestamp, crawler.ErrTextInvalidURL, "", "").
		WillReturnError(errors.New("boom"))

	err := store.AppendResult(context.Background(), crawler.StoredResult{JobID: "job-1", Index: 1, Record: rec})
	require.ErrorContains(t, err, "insert result")
}

func jobColumns() []string {
	return []string{
		"id", "kind", "status", "query", "submitted_at", "started_at", "finished_at", "error_text",
		"records", "succeeded", "invalid_urls", "timeouts",
	}
}

func TestGetJob(t *testing.T) {
	t.Parallel()
	store, mock := newStore(t)

	started := testNow.Add(time.Second)
	finished := testNow.Add(2 * time.Second)
	mock.ExpectQuery("SELECT id, kind, status").
		WithArgs("job-1").
		WillReturnRows(pgxmock.NewRows(jobColumns()).AddRow(
			"job-1", crawler.JobKind, "succeeded", "http://a.com:80", testNow, &started, &finished, "",
			1, 1, 0, 0,
		))

	job, err := store.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusSucceeded, job.Status)
	require.Equal(t, "http://a.com:80", job.Query.Query)
	require.NotNil(t, job.Started)
	require.Equal(t, started, *job.Started)
	require.Equal(t, 1, job.Counters.Succeeded)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetJobNotFound(t *testing.T) {
	t.Parallel()
	store, mock := newStore(t)

	mock.ExpectQuery("SELECT id, kind, status").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := store.GetJob(context.Background(), "missing")
	require.ErrorIs(t, err, crawler.ErrJobNotFound)
}

func TestListResults(t *testing.T) {
	t.Parallel()
	store, mock := newStore(t)

	started := testNow
	mock.ExpectQuery("SELECT id, kind, status").
		WithArgs("job-1").
		WillReturnRows(pgxmock.NewRows(jobColumns()).AddRow(
			"job-1", crawler.JobKind, "running", "q", testNow, &started, &started, "",
			2, 1, 1, 0,
		))

	finalURL := "http://a.com/"
	subject := "A"
	body := "<html></html>"
	detected := false
	mock.ExpectQuery("SELECT job_id, idx, url").
		WithArgs("job-1").
		WillReturnRows(pgxmock.NewRows([]string{
			"job_id", "idx", "url", "final_url", "subject", "body", "detected_404", "ts", "error",
			"content_hash", "blob_uri",
		}).
			AddRow("job-1", 0, "http://a.com:80", &finalURL, &subject, &body, &detected, 1700000000.5, "",
				"hash", "file:///x").
			AddRow("job-1", 1, "bad", nil, nil, nil, nil, 1700000001.0, crawler.ErrTextInvalidURL, "", ""))

	results, err := store.ListResults(context.Background(), "job-1")
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.False(t, results[0].Record.Failed())
	require.Equal(t, "A", *results[0].Record.Subject)
	require.Equal(t, "hash", results[0].ContentHash)
	require.Equal(t, crawler.RecordError(crawler.ErrTextInvalidURL), results[1].Record.Error)
	require.Nil(t, results[1].Record.Body)
	require.NoError(t, mock.ExpectationsWereMet())
}
