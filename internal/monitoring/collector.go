package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/funnel-sync/internal/store"
)

// historyLimit bounds the sync log rows read per snapshot. At one run per
// five minutes it covers well over a day.
const historyLimit = 500

// Snapshot holds a point-in-time view of sync health.
type Snapshot struct {
	// Runs started within the lookback window.
	SyncTotal    int     `json:"sync_total"`
	SyncComplete int     `json:"sync_complete"`
	SyncFailed   int     `json:"sync_failed"`
	SyncRunning  int     `json:"sync_running"`
	FailRate     float64 `json:"fail_rate"`
	LeadsFetched int     `json:"leads_fetched"`
	LeadsDeleted int     `json:"leads_deleted"`

	// Failed runs since the latest finished success.
	ConsecutiveFailures int        `json:"consecutive_failures"`
	LastError           string     `json:"last_error,omitempty"`
	LastSuccess         *time.Time `json:"last_success,omitempty"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// SyncLister is the part of the store the collector reads.
type SyncLister interface {
	ListSyncs(ctx context.Context, limit int) ([]store.SyncRun, error)
}

// Collector gathers sync health from the sync log.
type Collector struct {
	syncs SyncLister
	now   func() time.Time
}

// NewCollector creates a new collector.
func NewCollector(syncs SyncLister) *Collector {
	return &Collector{syncs: syncs, now: time.Now}
}

// Collect gathers a snapshot over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*Snapshot, error) {
	now := c.now().UTC()
	snap := &Snapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}

	// Newest first.
	runs, err := c.syncs.ListSyncs(ctx, historyLimit)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list syncs")
	}

	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)
	streak := true
	for _, r := range runs {
		switch r.Status {
		case store.SyncComplete:
			if snap.LastSuccess == nil {
				done := r.StartedAt
				if r.CompletedAt != nil {
					done = *r.CompletedAt
				}
				snap.LastSuccess = &done
			}
			streak = false
		case store.SyncFailed:
			if streak {
				snap.ConsecutiveFailures++
				if snap.LastError == "" {
					snap.LastError = r.Error
				}
			}
		}

		if r.StartedAt.Before(cutoff) {
			continue
		}
		snap.SyncTotal++
		snap.LeadsFetched += r.Fetched
		snap.LeadsDeleted += r.Deleted
		switch r.Status {
		case store.SyncComplete:
			snap.SyncComplete++
		case store.SyncFailed:
			snap.SyncFailed++
		case store.SyncRunning:
			snap.SyncRunning++
		}
	}

	if finished := snap.SyncComplete + snap.SyncFailed; finished > 0 {
		snap.FailRate = float64(snap.SyncFailed) / float64(finished)
	}
	return snap, nil
}
