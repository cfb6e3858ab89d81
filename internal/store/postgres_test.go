package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/funnel-sync/internal/funnel"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

var leadCols = []string{
	"id", "pipeline_id", "status_id", "created_at", "updated_at",
	"is_qualified", "is_recorded", "is_met", "is_sold", "recorded_at", "is_deleted",
}

func TestPostgresStore_LeadIDs(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id FROM leads WHERE created_at >= \$1 AND created_at <= \$2 AND is_deleted = \$3`).
		WithArgs(int64(100), int64(199), false).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(1)).AddRow(int64(2)))

	ids, err := s.LeadIDs(context.Background(), 100, 199, false)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InsertLead(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO leads`).
		WithArgs(int64(7), int64(1), int64(10), int64(100), int64(100),
			true, false, false, false, pgxmock.AnyArg(), false).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.InsertLead(context.Background(), funnel.Lead{
		ID: 7, PipelineID: 1, StatusID: 10, CreatedAt: 100, UpdatedAt: 100, IsQualified: true,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_MergeLead(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	ranks := funnel.NewRanks([]funnel.Stage{
		{PipelineID: 1, StatusID: 10, Rank: 5},
		{PipelineID: 1, StatusID: 20, Rank: 40},
	})
	recorded := int64(900)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .+ FROM leads WHERE id = \$1 FOR UPDATE`).
		WithArgs(int64(7)).
		WillReturnRows(pgxmock.NewRows(leadCols).AddRow(
			int64(7), int64(1), int64(20), int64(100), int64(150),
			true, true, true, false, &recorded, true,
		))
	mock.ExpectExec(`UPDATE leads SET pipeline_id = \$1`).
		WithArgs(int64(1), int64(20), int64(300),
			true, true, true, false, pgxmock.AnyArg(), false, int64(7)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	merged, err := s.MergeLead(context.Background(), funnel.Lead{
		ID: 7, PipelineID: 1, StatusID: 10, CreatedAt: 100, UpdatedAt: 300,
	}, ranks)
	require.NoError(t, err)
	assert.Equal(t, int64(20), merged.StatusID, "lower-ranked stage does not replace the stored one")
	assert.True(t, merged.IsMet)
	assert.False(t, merged.IsDeleted)
	assert.Nil(t, merged.RecordedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_MergeLead_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).WithArgs(int64(7)).WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	_, err := s.MergeLead(context.Background(), funnel.Lead{ID: 7}, funnel.Ranks{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLeadNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_MergeLead_UpdateError(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	recorded := int64(1)

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).WithArgs(int64(7)).
		WillReturnRows(pgxmock.NewRows(leadCols).AddRow(
			int64(7), int64(1), int64(10), int64(100), int64(100),
			false, false, false, false, &recorded, false,
		))
	mock.ExpectExec(`UPDATE leads`).WillReturnError(fmt.Errorf("deadlock detected"))
	mock.ExpectRollback()

	_, err := s.MergeLead(context.Background(), funnel.Lead{ID: 7}, funnel.Ranks{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "update lead 7")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SoftDelete(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE leads SET is_deleted = true WHERE id = ANY\(\$1\)`).
		WithArgs([]int64{3, 4}).
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))

	n, err := s.SoftDelete(context.Background(), []int64{3, 4})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SoftDelete_Empty(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	n, err := s.SoftDelete(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetLead_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM leads WHERE id = \$1`).WithArgs(int64(9)).WillReturnError(pgx.ErrNoRows)

	l, err := s.GetLead(context.Background(), 9)
	require.NoError(t, err)
	assert.Nil(t, l)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ResetFlags(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE leads SET is_qualified = false`).
		WithArgs(int64(1000)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 12))

	n, err := s.ResetFlags(context.Background(), 1000)
	require.NoError(t, err)
	assert.Equal(t, int64(12), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_StageRanks(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT pipeline_id, status_id, name, sort_rank FROM stages`).
		WillReturnRows(pgxmock.NewRows([]string{"pipeline_id", "status_id", "name", "sort_rank"}).
			AddRow(int64(1), int64(10), "Incoming", 10).
			AddRow(int64(2), int64(99), "Paid", 100010))

	ranks, err := s.StageRanks(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10, ranks.Rank(1, 10))
	assert.Equal(t, 100010, ranks.Rank(2, 99))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_StageRankByName_Missing(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT sort_rank FROM stages WHERE pipeline_id = \$1 AND name = \$2`).
		WithArgs(int64(1), "Making a decision").
		WillReturnError(pgx.ErrNoRows)

	rank, err := s.StageRankByName(context.Background(), 1, "Making a decision")
	require.NoError(t, err)
	assert.Equal(t, funnel.UnknownRank, rank)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ReplaceStages(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM stages WHERE pipeline_id = \$1`).
		WithArgs(int64(2)).
		WillReturnResult(pgxmock.NewResult("DELETE", 4))
	mock.ExpectCopyFrom(pgx.Identifier{"stages"}, []string{"pipeline_id", "status_id", "name", "sort_rank"}).
		WillReturnResult(1)
	mock.ExpectCommit()

	n, err := s.ReplaceStages(context.Background(), 2, []funnel.Status{
		{ID: 99, Name: "Paid", Sort: 10},
		{ID: 100, Name: "Hidden", Sort: funnel.UnknownRank},
	}, true)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ReplaceStages_CopyError(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM stages`).WithArgs(int64(2)).WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"stages"}, []string{"pipeline_id", "status_id", "name", "sort_rank"}).
		WillReturnError(fmt.Errorf("connection reset"))
	mock.ExpectRollback()

	_, err := s.ReplaceStages(context.Background(), 2, []funnel.Status{{ID: 99, Name: "Paid", Sort: 10}}, true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COPY INTO stages")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ReplaceManagers(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM managers`).WillReturnResult(pgxmock.NewResult("DELETE", 3))
	mock.ExpectCopyFrom(pgx.Identifier{"managers"}, []string{"id", "name", "group_id"}).WillReturnResult(2)
	mock.ExpectCommit()

	err := s.ReplaceManagers(context.Background(), []Manager{{ID: 1, Name: "A", GroupID: 7}, {ID: 2, Name: "B", GroupID: 7}})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SyncLifecycle(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	ctx := context.Background()

	mock.ExpectExec(`INSERT INTO sync_runs`).
		WithArgs(pgxmock.AnyArg(), int64(1000), "running", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`UPDATE sync_runs SET status = \$1, completed_at = \$2,`).
		WithArgs("complete", pgxmock.AnyArg(), 3, 1, 3, 0, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	id, err := s.StartSync(ctx, 1000)
	require.NoError(t, err)
	assert.Len(t, id, 36)
	require.NoError(t, s.CompleteSync(ctx, id, SyncCounts{Fetched: 3, Inserted: 1, Merged: 3}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FailSync_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE sync_runs SET status = \$1, completed_at = \$2, error = \$3`).
		WithArgs("failed", pgxmock.AnyArg(), "boom", "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.FailSync(context.Background(), "missing", "boom")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sync run not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListSyncs(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	started := time.Date(2025, 7, 21, 5, 0, 0, 0, time.UTC)
	completed := started.Add(time.Minute)
	errMsg := "crm unavailable"

	mock.ExpectQuery(`FROM sync_runs ORDER BY started_at DESC LIMIT \$1`).
		WithArgs(20).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "window_from", "status", "started_at", "completed_at",
			"fetched", "inserted", "merged", "deleted", "error",
		}).AddRow("run-1", int64(1000), "failed", started, &completed, 0, 0, 0, 0, &errMsg))

	runs, err := s.ListSyncs(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, SyncFailed, runs[0].Status)
	assert.Equal(t, "crm unavailable", runs[0].Error)
	require.NotNil(t, runs[0].CompletedAt)
	assert.Equal(t, completed, *runs[0].CompletedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS leads`).WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
