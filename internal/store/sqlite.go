package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/funnel-sync/internal/funnel"
)

var (
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*PostgresStore)(nil)
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	// One writer at a time; MergeLead transactions must not interleave.
	db.SetMaxOpenConns(1)
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS leads (
	id           INTEGER PRIMARY KEY,
	pipeline_id  INTEGER NOT NULL,
	status_id    INTEGER NOT NULL,
	created_at   INTEGER NOT NULL,
	updated_at   INTEGER NOT NULL,
	is_qualified BOOLEAN NOT NULL DEFAULT 0,
	is_recorded  BOOLEAN NOT NULL DEFAULT 0,
	is_met       BOOLEAN NOT NULL DEFAULT 0,
	is_sold      BOOLEAN NOT NULL DEFAULT 0,
	recorded_at  INTEGER,
	is_deleted   BOOLEAN NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS stages (
	pipeline_id INTEGER NOT NULL,
	status_id   INTEGER NOT NULL,
	name        TEXT NOT NULL,
	sort_rank   INTEGER NOT NULL,
	PRIMARY KEY (pipeline_id, status_id)
);

CREATE TABLE IF NOT EXISTS managers (
	id       INTEGER PRIMARY KEY,
	name     TEXT NOT NULL,
	group_id INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS sync_runs (
	id           TEXT PRIMARY KEY,
	window_from  INTEGER NOT NULL,
	status       TEXT NOT NULL DEFAULT 'running',
	started_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	completed_at DATETIME,
	fetched      INTEGER NOT NULL DEFAULT 0,
	inserted     INTEGER NOT NULL DEFAULT 0,
	merged       INTEGER NOT NULL DEFAULT 0,
	deleted      INTEGER NOT NULL DEFAULT 0,
	error        TEXT
);

CREATE INDEX IF NOT EXISTS idx_leads_created_at ON leads(created_at);
CREATE INDEX IF NOT EXISTS idx_leads_recorded_at ON leads(recorded_at);
CREATE INDEX IF NOT EXISTS idx_stages_name ON stages(pipeline_id, name);
CREATE INDEX IF NOT EXISTS idx_sync_runs_started_at ON sync_runs(started_at);
`

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Leads ---

func (s *SQLiteStore) LeadIDs(ctx context.Context, from, to int64, deleted bool) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM leads WHERE created_at >= ? AND created_at <= ? AND is_deleted = ?`,
		from, to, deleted,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: lead ids")
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan lead id")
		}
		ids = append(ids, id)
	}
	return ids, eris.Wrap(rows.Err(), "sqlite: iterate lead ids")
}

func (s *SQLiteStore) InsertLead(ctx context.Context, l funnel.Lead) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO leads (`+leadColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.PipelineID, l.StatusID, l.CreatedAt, l.UpdatedAt,
		l.IsQualified, l.IsRecorded, l.IsMet, l.IsSold, l.RecordedAt, l.IsDeleted,
	)
	return eris.Wrapf(err, "sqlite: insert lead %d", l.ID)
}

func (s *SQLiteStore) MergeLead(ctx context.Context, incoming funnel.Lead, ranks funnel.Ranks) (funnel.Lead, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return funnel.Lead{}, eris.Wrap(err, "sqlite: merge lead: begin tx")
	}
	defer func() { _ = tx.Rollback() }()

	existing, err := scanLead(tx.QueryRowContext(ctx,
		`SELECT `+leadColumns+` FROM leads WHERE id = ?`, incoming.ID))
	if errors.Is(err, sql.ErrNoRows) {
		return funnel.Lead{}, eris.Wrapf(ErrLeadNotFound, "sqlite: merge lead %d", incoming.ID)
	}
	if err != nil {
		return funnel.Lead{}, eris.Wrapf(err, "sqlite: load lead %d", incoming.ID)
	}

	merged := funnel.Merge(existing, incoming, ranks)
	_, err = tx.ExecContext(ctx,
		`UPDATE leads SET pipeline_id = ?, status_id = ?, updated_at = ?,
		 is_qualified = ?, is_recorded = ?, is_met = ?, is_sold = ?,
		 recorded_at = ?, is_deleted = ?
		 WHERE id = ?`,
		merged.PipelineID, merged.StatusID, merged.UpdatedAt,
		merged.IsQualified, merged.IsRecorded, merged.IsMet, merged.IsSold,
		merged.RecordedAt, merged.IsDeleted, merged.ID,
	)
	if err != nil {
		return funnel.Lead{}, eris.Wrapf(err, "sqlite: update lead %d", merged.ID)
	}

	if err := tx.Commit(); err != nil {
		return funnel.Lead{}, eris.Wrap(err, "sqlite: merge lead: commit")
	}
	return merged, nil
}

func (s *SQLiteStore) SoftDelete(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ")

	res, err := s.db.ExecContext(ctx,
		`UPDATE leads SET is_deleted = 1 WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: soft delete")
	}
	n, err := res.RowsAffected()
	return n, eris.Wrap(err, "sqlite: rows affected")
}

func (s *SQLiteStore) GetLead(ctx context.Context, id int64) (*funnel.Lead, error) {
	l, err := scanLead(s.db.QueryRowContext(ctx, `SELECT `+leadColumns+` FROM leads WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get lead %d", id)
	}
	return &l, nil
}

func (s *SQLiteStore) LeadsInWindow(ctx context.Context, from, to int64) ([]funnel.Lead, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+leadColumns+` FROM leads
		 WHERE created_at >= ? AND created_at <= ? AND is_deleted = 0
		 ORDER BY id`,
		from, to,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: leads in window")
	}
	defer rows.Close()

	var leads []funnel.Lead
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan lead")
		}
		leads = append(leads, l)
	}
	return leads, eris.Wrap(rows.Err(), "sqlite: iterate leads")
}

func (s *SQLiteStore) RecordedSince(ctx context.Context, since int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT recorded_at FROM leads WHERE recorded_at >= ? ORDER BY recorded_at`, since)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: recorded since")
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var ts int64
		if err := rows.Scan(&ts); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan recorded_at")
		}
		out = append(out, ts)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate recorded_at")
}

func (s *SQLiteStore) ResetFlags(ctx context.Context, since int64) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE leads SET is_qualified = 0, is_recorded = 0, is_met = 0, is_sold = 0
		 WHERE created_at >= ?`, since)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: reset flags")
	}
	n, err := res.RowsAffected()
	return n, eris.Wrap(err, "sqlite: rows affected")
}

// --- Stages ---

func (s *SQLiteStore) Stages(ctx context.Context) ([]funnel.Stage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT pipeline_id, status_id, name, sort_rank FROM stages ORDER BY pipeline_id, sort_rank`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list stages")
	}
	defer rows.Close()

	var stages []funnel.Stage
	for rows.Next() {
		var st funnel.Stage
		if err := rows.Scan(&st.PipelineID, &st.StatusID, &st.Name, &st.Rank); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan stage")
		}
		stages = append(stages, st)
	}
	return stages, eris.Wrap(rows.Err(), "sqlite: iterate stages")
}

func (s *SQLiteStore) StageRanks(ctx context.Context) (funnel.Ranks, error) {
	stages, err := s.Stages(ctx)
	if err != nil {
		return funnel.Ranks{}, err
	}
	return funnel.NewRanks(stages), nil
}

func (s *SQLiteStore) StageRankByName(ctx context.Context, pipelineID int64, name string) (int, error) {
	var rank int
	err := s.db.QueryRowContext(ctx,
		`SELECT sort_rank FROM stages WHERE pipeline_id = ? AND name = ? ORDER BY sort_rank LIMIT 1`,
		pipelineID, name,
	).Scan(&rank)
	if errors.Is(err, sql.ErrNoRows) {
		return funnel.UnknownRank, nil
	}
	if err != nil {
		return funnel.UnknownRank, eris.Wrapf(err, "sqlite: stage rank of %q", name)
	}
	return rank, nil
}

func (s *SQLiteStore) ReplaceStages(ctx context.Context, pipelineID int64, statuses []funnel.Status, highPriority bool) (int, error) {
	stages := funnel.PipelineStages(pipelineID, statuses, highPriority)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: replace stages: begin tx")
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM stages WHERE pipeline_id = ?`, pipelineID); err != nil {
		return 0, eris.Wrapf(err, "sqlite: clear stages of pipeline %d", pipelineID)
	}
	for _, st := range stages {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO stages (pipeline_id, status_id, name, sort_rank) VALUES (?, ?, ?, ?)`,
			st.PipelineID, st.StatusID, st.Name, st.Rank,
		); err != nil {
			return 0, eris.Wrapf(err, "sqlite: insert stage %d/%d", st.PipelineID, st.StatusID)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: replace stages: commit")
	}
	return len(stages), nil
}

// --- Managers ---

func (s *SQLiteStore) ReplaceManagers(ctx context.Context, managers []Manager) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: replace managers: begin tx")
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM managers`); err != nil {
		return eris.Wrap(err, "sqlite: clear managers")
	}
	for _, m := range managers {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO managers (id, name, group_id) VALUES (?, ?, ?)`,
			m.ID, m.Name, m.GroupID,
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert manager %d", m.ID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: replace managers: commit")
}

func (s *SQLiteStore) CountManagers(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM managers`).Scan(&n)
	return n, eris.Wrap(err, "sqlite: count managers")
}

// --- Sync log ---

func (s *SQLiteStore) StartSync(ctx context.Context, windowFrom int64) (string, error) {
	id := uuid.New().String()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sync_runs (id, window_from, status, started_at) VALUES (?, ?, ?, ?)`,
		id, windowFrom, string(SyncRunning), time.Now().UTC(),
	)
	if err != nil {
		return "", eris.Wrap(err, "sqlite: start sync")
	}
	return id, nil
}

func (s *SQLiteStore) CompleteSync(ctx context.Context, id string, c SyncCounts) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sync_runs SET status = ?, completed_at = ?,
		 fetched = ?, inserted = ?, merged = ?, deleted = ?
		 WHERE id = ?`,
		string(SyncComplete), time.Now().UTC(), c.Fetched, c.Inserted, c.Merged, c.Deleted, id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete sync %s", id)
	}
	return checkRowsAffected(res, "sync run", id)
}

func (s *SQLiteStore) FailSync(ctx context.Context, id string, errMsg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sync_runs SET status = ?, completed_at = ?, error = ? WHERE id = ?`,
		string(SyncFailed), time.Now().UTC(), errMsg, id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail sync %s", id)
	}
	return checkRowsAffected(res, "sync run", id)
}

func (s *SQLiteStore) ListSyncs(ctx context.Context, limit int) ([]SyncRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, window_from, status, started_at, completed_at,
		        fetched, inserted, merged, deleted, error
		 FROM sync_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list syncs")
	}
	defer rows.Close()

	var runs []SyncRun
	for rows.Next() {
		var r SyncRun
		var status string
		var completedAt sql.NullTime
		var errStr sql.NullString
		if err := rows.Scan(&r.ID, &r.WindowFrom, &status, &r.StartedAt, &completedAt,
			&r.Fetched, &r.Inserted, &r.Merged, &r.Deleted, &errStr); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan sync run")
		}
		r.Status = SyncStatus(status)
		if completedAt.Valid {
			t := completedAt.Time
			r.CompletedAt = &t
		}
		r.Error = errStr.String
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: iterate sync runs")
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}
