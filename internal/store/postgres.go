package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/funnel-sync/internal/db"
	"github.com/sells-group/funnel-sync/internal/funnel"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(4)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS leads (
	id           BIGINT PRIMARY KEY,
	pipeline_id  BIGINT NOT NULL,
	status_id    BIGINT NOT NULL,
	created_at   BIGINT NOT NULL,
	updated_at   BIGINT NOT NULL,
	is_qualified BOOLEAN NOT NULL DEFAULT false,
	is_recorded  BOOLEAN NOT NULL DEFAULT false,
	is_met       BOOLEAN NOT NULL DEFAULT false,
	is_sold      BOOLEAN NOT NULL DEFAULT false,
	recorded_at  BIGINT,
	is_deleted   BOOLEAN NOT NULL DEFAULT false
);

CREATE INDEX IF NOT EXISTS idx_leads_created_at ON leads(created_at);
CREATE INDEX IF NOT EXISTS idx_leads_recorded_at ON leads(recorded_at);

CREATE TABLE IF NOT EXISTS stages (
	pipeline_id BIGINT NOT NULL,
	status_id   BIGINT NOT NULL,
	name        TEXT NOT NULL,
	sort_rank   INTEGER NOT NULL,
	PRIMARY KEY (pipeline_id, status_id)
);

CREATE INDEX IF NOT EXISTS idx_stages_name ON stages(pipeline_id, name);

CREATE TABLE IF NOT EXISTS managers (
	id       BIGINT PRIMARY KEY,
	name     TEXT NOT NULL,
	group_id BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS sync_runs (
	id           TEXT PRIMARY KEY,
	window_from  BIGINT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'running',
	started_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at TIMESTAMPTZ,
	fetched      INTEGER NOT NULL DEFAULT 0,
	inserted     INTEGER NOT NULL DEFAULT 0,
	merged       INTEGER NOT NULL DEFAULT 0,
	deleted      INTEGER NOT NULL DEFAULT 0,
	error        TEXT
);

CREATE INDEX IF NOT EXISTS idx_sync_runs_started_at ON sync_runs(started_at DESC);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// --- Leads ---

func (s *PostgresStore) LeadIDs(ctx context.Context, from, to int64, deleted bool) ([]int64, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id FROM leads WHERE created_at >= $1 AND created_at <= $2 AND is_deleted = $3`,
		from, to, deleted,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: lead ids")
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "postgres: scan lead id")
		}
		ids = append(ids, id)
	}
	return ids, eris.Wrap(rows.Err(), "postgres: iterate lead ids")
}

func (s *PostgresStore) InsertLead(ctx context.Context, l funnel.Lead) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO leads (`+leadColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		l.ID, l.PipelineID, l.StatusID, l.CreatedAt, l.UpdatedAt,
		l.IsQualified, l.IsRecorded, l.IsMet, l.IsSold, l.RecordedAt, l.IsDeleted,
	)
	return eris.Wrapf(err, "postgres: insert lead %d", l.ID)
}

// MergeLead locks the stored row, merges incoming into it and writes the
// result back in one transaction.
func (s *PostgresStore) MergeLead(ctx context.Context, incoming funnel.Lead, ranks funnel.Ranks) (funnel.Lead, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return funnel.Lead{}, eris.Wrap(err, "postgres: merge lead: begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	existing, err := scanLead(tx.QueryRow(ctx,
		`SELECT `+leadColumns+` FROM leads WHERE id = $1 FOR UPDATE`, incoming.ID))
	if errors.Is(err, pgx.ErrNoRows) {
		return funnel.Lead{}, eris.Wrapf(ErrLeadNotFound, "postgres: merge lead %d", incoming.ID)
	}
	if err != nil {
		return funnel.Lead{}, eris.Wrapf(err, "postgres: load lead %d", incoming.ID)
	}

	merged := funnel.Merge(existing, incoming, ranks)
	_, err = tx.Exec(ctx,
		`UPDATE leads SET pipeline_id = $1, status_id = $2, updated_at = $3,
		 is_qualified = $4, is_recorded = $5, is_met = $6, is_sold = $7,
		 recorded_at = $8, is_deleted = $9
		 WHERE id = $10`,
		merged.PipelineID, merged.StatusID, merged.UpdatedAt,
		merged.IsQualified, merged.IsRecorded, merged.IsMet, merged.IsSold,
		merged.RecordedAt, merged.IsDeleted, merged.ID,
	)
	if err != nil {
		return funnel.Lead{}, eris.Wrapf(err, "postgres: update lead %d", merged.ID)
	}

	if err := tx.Commit(ctx); err != nil {
		return funnel.Lead{}, eris.Wrap(err, "postgres: merge lead: commit")
	}
	return merged, nil
}

func (s *PostgresStore) SoftDelete(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx, `UPDATE leads SET is_deleted = true WHERE id = ANY($1)`, ids)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: soft delete")
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) GetLead(ctx context.Context, id int64) (*funnel.Lead, error) {
	l, err := scanLead(s.pool.QueryRow(ctx, `SELECT `+leadColumns+` FROM leads WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get lead %d", id)
	}
	return &l, nil
}

func (s *PostgresStore) LeadsInWindow(ctx context.Context, from, to int64) ([]funnel.Lead, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+leadColumns+` FROM leads
		 WHERE created_at >= $1 AND created_at <= $2 AND is_deleted = false
		 ORDER BY id`,
		from, to,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: leads in window")
	}
	defer rows.Close()

	var leads []funnel.Lead
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan lead")
		}
		leads = append(leads, l)
	}
	return leads, eris.Wrap(rows.Err(), "postgres: iterate leads")
}

func (s *PostgresStore) RecordedSince(ctx context.Context, since int64) ([]int64, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT recorded_at FROM leads WHERE recorded_at >= $1 ORDER BY recorded_at`, since)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: recorded since")
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var ts int64
		if err := rows.Scan(&ts); err != nil {
			return nil, eris.Wrap(err, "postgres: scan recorded_at")
		}
		out = append(out, ts)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate recorded_at")
}

func (s *PostgresStore) ResetFlags(ctx context.Context, since int64) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE leads SET is_qualified = false, is_recorded = false, is_met = false, is_sold = false
		 WHERE created_at >= $1`, since)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: reset flags")
	}
	return tag.RowsAffected(), nil
}

// --- Stages ---

func (s *PostgresStore) Stages(ctx context.Context) ([]funnel.Stage, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT pipeline_id, status_id, name, sort_rank FROM stages ORDER BY pipeline_id, sort_rank`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list stages")
	}
	defer rows.Close()

	var stages []funnel.Stage
	for rows.Next() {
		var st funnel.Stage
		if err := rows.Scan(&st.PipelineID, &st.StatusID, &st.Name, &st.Rank); err != nil {
			return nil, eris.Wrap(err, "postgres: scan stage")
		}
		stages = append(stages, st)
	}
	return stages, eris.Wrap(rows.Err(), "postgres: iterate stages")
}

func (s *PostgresStore) StageRanks(ctx context.Context) (funnel.Ranks, error) {
	stages, err := s.Stages(ctx)
	if err != nil {
		return funnel.Ranks{}, err
	}
	return funnel.NewRanks(stages), nil
}

func (s *PostgresStore) StageRankByName(ctx context.Context, pipelineID int64, name string) (int, error) {
	var rank int
	err := s.pool.QueryRow(ctx,
		`SELECT sort_rank FROM stages WHERE pipeline_id = $1 AND name = $2
		 ORDER BY sort_rank LIMIT 1`,
		pipelineID, name,
	).Scan(&rank)
	if errors.Is(err, pgx.ErrNoRows) {
		return funnel.UnknownRank, nil
	}
	if err != nil {
		return funnel.UnknownRank, eris.Wrapf(err, "postgres: stage rank of %q", name)
	}
	return rank, nil
}

// ReplaceStages swaps the stored stages of one pipeline for a fresh listing.
func (s *PostgresStore) ReplaceStages(ctx context.Context, pipelineID int64, statuses []funnel.Status, highPriority bool) (int, error) {
	stages := funnel.PipelineStages(pipelineID, statuses, highPriority)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: replace stages: begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM stages WHERE pipeline_id = $1`, pipelineID); err != nil {
		return 0, eris.Wrapf(err, "postgres: clear stages of pipeline %d", pipelineID)
	}

	rows := make([][]any, len(stages))
	for i, st := range stages {
		rows[i] = []any{st.PipelineID, st.StatusID, st.Name, st.Rank}
	}
	if _, err := db.CopyFrom(ctx, tx, "stages", []string{"pipeline_id", "status_id", "name", "sort_rank"}, rows); err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "postgres: replace stages: commit")
	}
	return len(stages), nil
}

// --- Managers ---

func (s *PostgresStore) ReplaceManagers(ctx context.Context, managers []Manager) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: replace managers: begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM managers`); err != nil {
		return eris.Wrap(err, "postgres: clear managers")
	}

	rows := make([][]any, len(managers))
	for i, m := range managers {
		rows[i] = []any{m.ID, m.Name, m.GroupID}
	}
	if _, err := db.CopyFrom(ctx, tx, "managers", []string{"id", "name", "group_id"}, rows); err != nil {
		return err
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: replace managers: commit")
}

func (s *PostgresStore) CountManagers(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM managers`).Scan(&n)
	return n, eris.Wrap(err, "postgres: count managers")
}

// --- Sync log ---

func (s *PostgresStore) StartSync(ctx context.Context, windowFrom int64) (string, error) {
	id := uuid.New().String()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO sync_runs (id, window_from, status, started_at) VALUES ($1, $2, $3, $4)`,
		id, windowFrom, string(SyncRunning), time.Now().UTC(),
	)
	if err != nil {
		return "", eris.Wrap(err, "postgres: start sync")
	}
	return id, nil
}

func (s *PostgresStore) CompleteSync(ctx context.Context, id string, c SyncCounts) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sync_runs SET status = $1, completed_at = $2,
		 fetched = $3, inserted = $4, merged = $5, deleted = $6
		 WHERE id = $7`,
		string(SyncComplete), time.Now().UTC(), c.Fetched, c.Inserted, c.Merged, c.Deleted, id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete sync %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("postgres: sync run not found: %s", id)
	}
	return nil
}

func (s *PostgresStore) FailSync(ctx context.Context, id string, errMsg string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sync_runs SET status = $1, completed_at = $2, error = $3 WHERE id = $4`,
		string(SyncFailed), time.Now().UTC(), errMsg, id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail sync %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("postgres: sync run not found: %s", id)
	}
	return nil
}

func (s *PostgresStore) ListSyncs(ctx context.Context, limit int) ([]SyncRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, window_from, status, started_at, completed_at,
		        fetched, inserted, merged, deleted, error
		 FROM sync_runs ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list syncs")
	}
	defer rows.Close()

	var runs []SyncRun
	for rows.Next() {
		var r SyncRun
		var status string
		var errStr *string
		if err := rows.Scan(&r.ID, &r.WindowFrom, &status, &r.StartedAt, &r.CompletedAt,
			&r.Fetched, &r.Inserted, &r.Merged, &r.Deleted, &errStr); err != nil {
			return nil, eris.Wrap(err, "postgres: scan sync run")
		}
		r.Status = SyncStatus(status)
		if errStr != nil {
			r.Error = *errStr
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: iterate sync runs")
}
