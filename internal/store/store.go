// Package store persists leads, pipeline stages, reviewer managers and the
// sync run log.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/funnel-sync/internal/funnel"
)

// ErrLeadNotFound is returned by MergeLead for an id that was never inserted.
var ErrLeadNotFound = eris.New("store: lead not found")

// SyncStatus is the state of a sync run.
type SyncStatus string

const (
	SyncRunning  SyncStatus = "running"
	SyncComplete SyncStatus = "complete"
	SyncFailed   SyncStatus = "failed"
)

// SyncCounts are the per-run reconciliation counters.
type SyncCounts struct {
	Fetched  int `json:"fetched"`
	Inserted int `json:"inserted"`
	Merged   int `json:"merged"`
	Deleted  int `json:"deleted"`
}

// SyncRun is one row of the sync log.
type SyncRun struct {
	ID          string     `json:"id"`
	WindowFrom  int64      `json:"window_from"`
	Status      SyncStatus `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	SyncCounts
	Error string `json:"error,omitempty"`
}

// Manager is a CRM user of the reviewer group.
type Manager struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	GroupID int64  `json:"group_id"`
}

// Store defines the persistence interface of the reconciliation engine.
type Store interface {
	// Leads
	LeadIDs(ctx context.Context, from, to int64, deleted bool) ([]int64, error)
	InsertLead(ctx context.Context, lead funnel.Lead) error
	MergeLead(ctx context.Context, incoming funnel.Lead, ranks funnel.Ranks) (funnel.Lead, error)
	SoftDelete(ctx context.Context, ids []int64) (int64, error)
	GetLead(ctx context.Context, id int64) (*funnel.Lead, error)
	LeadsInWindow(ctx context.Context, from, to int64) ([]funnel.Lead, error)
	RecordedSince(ctx context.Context, since int64) ([]int64, error)
	ResetFlags(ctx context.Context, since int64) (int64, error)

	// Stages
	StageRanks(ctx context.Context) (funnel.Ranks, error)
	Stages(ctx context.Context) ([]funnel.Stage, error)
	StageRankByName(ctx context.Context, pipelineID int64, name string) (int, error)
	ReplaceStages(ctx context.Context, pipelineID int64, statuses []funnel.Status, highPriority bool) (int, error)

	// Managers
	ReplaceManagers(ctx context.Context, managers []Manager) error
	CountManagers(ctx context.Context) (int, error)

	// Sync log
	StartSync(ctx context.Context, windowFrom int64) (string, error)
	CompleteSync(ctx context.Context, id string, counts SyncCounts) error
	FailSync(ctx context.Context, id string, errMsg string) error
	ListSyncs(ctx context.Context, limit int) ([]SyncRun, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

const leadColumns = `id, pipeline_id, status_id, created_at, updated_at,
	is_qualified, is_recorded, is_met, is_sold, recorded_at, is_deleted`

type scannable interface {
	Scan(dest ...any) error
}

func scanLead(row scannable) (funnel.Lead, error) {
	var l funnel.Lead
	var recordedAt *int64
	err := row.Scan(
		&l.ID, &l.PipelineID, &l.StatusID, &l.CreatedAt, &l.UpdatedAt,
		&l.IsQualified, &l.IsRecorded, &l.IsMet, &l.IsSold, &recordedAt, &l.IsDeleted,
	)
	if err != nil {
		return funnel.Lead{}, err
	}
	l.RecordedAt = recordedAt
	return l, nil
}
