package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/jurisia/intake/internal/pipeline"
)

func TestRecordRunInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRunStoreWithPool(mock)
	require.NoError(t, err)

	started := time.Unix(1700000000, 0).UTC()
	run := pipeline.SourceRun{
		ID:           "run-1",
		SourceID:     "tjsp-dje",
		StartedAt:    started,
		EndedAt:      started.Add(30 * time.Second),
		ItemsFetched: 12,
		ItemsNew:     7,
		Outcome:      pipeline.OutcomeSuccess,
		Cursor:       "page=3",
	}

	mock.ExpectExec("INSERT INTO source_runs").
		WithArgs(
			run.ID, run.SourceID, run.StartedAt, run.EndedAt, run.ItemsFetched, run.ItemsNew,
			string(run.Outcome), run.ConsecutiveFailures, run.ErrorText, run.Cursor,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.RecordRun(context.Background(), run))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadCursorMissingIsEmpty(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRunStoreWithPool(mock)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT cursor FROM source_cursors").
		WithArgs("tjsp-dje").
		WillReturnRows(pgxmock.NewRows([]string{"cursor"}))

	cursor, err := store.LoadCursor(context.Background(), "tjsp-dje")
	require.NoError(t, err)
	require.Empty(t, cursor)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveCursorUpserts(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRunStoreWithPool(mock)
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO source_cursors").
		WithArgs("tjsp-dje", "page=4").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.SaveCursor(context.Background(), "tjsp-dje", "page=4"))
	require.NoError(t, mock.ExpectationsWereMet())
}
