package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/vikigenius/bugscraper/internal/store"
)

func sampleRun() store.SweepRun {
	started := time.Unix(1700000000, 0).UTC()
	return store.SweepRun{
		RunID:           "0190c0de-0000-7000-8000-000000000001",
		Subdomain:       "kernel",
		Kind:            "bug",
		Status:          "success",
		Units:           200,
		Fetched:         180,
		Empty:           15,
		TransportErrors: 4,
		ShapeErrors:     1,
		Saved:           179000,
		StartedAt:       started,
		FinishedAt:      started.Add(90 * time.Minute),
	}
}

func TestRecordRunInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	runs, err := NewRunStoreWithPool(mock, "sweep_runs")
	require.NoError(t, err)

	run := sampleRun()
	mock.ExpectExec("INSERT INTO sweep_runs").
		WithArgs(
			run.RunID,
			run.Subdomain,
			run.Kind,
			run.Status,
			run.Units,
			run.Fetched,
			run.Empty,
			run.TransportErrors,
			run.ShapeErrors,
			run.Skipped,
			run.Saved,
			run.StartedAt,
			run.FinishedAt,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, runs.RecordRun(context.Background(), run))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordRunPropagatesErrors(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	runs, err := NewRunStoreWithPool(mock, "")
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO sweep_runs").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg()).
		WillReturnError(errors.New("connection reset"))

	err = runs.RecordRun(context.Background(), sampleRun())
	require.ErrorContains(t, err, "connection reset")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordRunRequiresID(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	runs, err := NewRunStoreWithPool(mock, "")
	require.NoError(t, err)
	require.Error(t, runs.RecordRun(context.Background(), store.SweepRun{}))
}

func TestEnsureSchema(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	runs, err := NewRunStoreWithPool(mock, "scraper.sweep_runs")
	require.NoError(t, err)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS scraper\.sweep_runs`).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	require.NoError(t, runs.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewRunStoreWithPoolValidation(t *testing.T) {
	t.Parallel()

	_, err := NewRunStoreWithPool(nil, "runs")
	require.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	_, err = NewRunStoreWithPool(mock, "runs; DROP TABLE x")
	require.Error(t, err)
}

func TestNewRunStoreRequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := NewRunStore(context.Background(), RunStoreConfig{})
	require.Error(t, err)
	_, err = NewRunStore(context.Background(), RunStoreConfig{DSN: "postgres://localhost/db", Table: "bad table"})
	require.Error(t, err)
}
