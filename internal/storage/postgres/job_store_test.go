package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/dermosul/catalog-scraper/internal/scraper"
)

func newMockStore(t *testing.T) (*JobStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewJobStoreWithPool(mock), mock
}

func TestCreateJobInsertsRow(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()
	job := scraper.Job{
		ID:        "job-1",
		SourceURL: "https://shop.test/categoria",
		Mode:      "full:turbo",
		Status:    scraper.JobStatusQueued,
		CreatedAt: now,
	}

	mock.ExpectExec("INSERT INTO scrape_jobs").
		WithArgs(job.ID, job.UserID, job.SourceURL, job.Mode, job.Status,
			false, 0, 0, []byte("null"), now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.CreateJob(context.Background(), job))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetJobScansRow(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()
	logs := []byte(`[{"id":"l1","level":"info","message":"created","timestamp":"2023-11-14T22:13:20Z"}]`)

	rows := pgxmock.NewRows([]string{
		"id", "user_id", "source_url", "mode", "status", "cancel_requested",
		"total_found", "processed", "logs", "created_at", "finished_at",
	}).AddRow("job-1", (*string)(nil), "https://shop.test/c", "full", scraper.JobStatusRunning,
		false, 10, 4, logs, now, (*time.Time)(nil))

	mock.ExpectQuery("SELECT (.+) FROM scrape_jobs WHERE id").
		WithArgs("job-1").
		WillReturnRows(rows)

	job, err := store.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, scraper.JobStatusRunning, job.Status)
	require.Equal(t, 10, job.TotalFound)
	require.Len(t, job.Logs, 1)
	require.Equal(t, "created", job.Logs[0].Message)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetJobNotFound(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT (.+) FROM scrape_jobs WHERE id").
		WithArgs("missing").
		WillReturnRows(pgxmock.NewRows([]string{"id"}))

	_, err := store.GetJob(context.Background(), "missing")
	require.ErrorIs(t, err, scraper.ErrNotFound)
}

func TestSetStatusSkipsTerminalRows(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("UPDATE scrape_jobs SET status").
		WithArgs("job-1", scraper.JobStatusRunning).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	require.NoError(t, store.SetStatus(context.Background(), "job-1", scraper.JobStatusRunning))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendLogTrimsRing(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("UPDATE scrape_jobs SET logs").
		WithArgs("job-1", pgxmock.AnyArg(), maxLogEntries).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, store.AppendLog(context.Background(), "job-1", scraper.LogEntry{
		ID: "l1", Level: scraper.LogInfo, Message: "hello", Timestamp: time.Now(),
	}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkFinishedGuardsTerminal(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("UPDATE scrape_jobs SET status = \\$2, finished_at").
		WithArgs("job-1", scraper.JobStatusDone, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, store.MarkFinished(context.Background(), "job-1", scraper.JobStatusDone))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteFinishedReturnsCount(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("DELETE FROM scrape_jobs WHERE status IN").
		WillReturnResult(pgxmock.NewResult("DELETE", 3))

	removed, err := store.DeleteFinished(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, removed)
}
