// Package reconcile brings the local lead store in line with the CRM, one day
// window at a time.
package reconcile

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/funnel-sync/internal/funnel"
	"github.com/sells-group/funnel-sync/internal/store"
	"github.com/sells-group/funnel-sync/internal/window"
	"github.com/sells-group/funnel-sync/pkg/amocrm"
)

// Store is the part of the store the driver writes through.
type Store interface {
	LeadIDs(ctx context.Context, from, to int64, deleted bool) ([]int64, error)
	InsertLead(ctx context.Context, lead funnel.Lead) error
	MergeLead(ctx context.Context, incoming funnel.Lead, ranks funnel.Ranks) (funnel.Lead, error)
	SoftDelete(ctx context.Context, ids []int64) (int64, error)
	StageRanks(ctx context.Context) (funnel.Ranks, error)
}

// Result summarizes one reconciled window.
type Result struct {
	Window window.Window
	store.SyncCounts
}

// Driver reconciles CRM leads into the store.
type Driver struct {
	store     Store
	client    amocrm.Client
	rules     funnel.Rules
	pipelines []int64
}

// NewDriver creates a Driver. Leads are fetched from the common and success
// pipelines of rules.
func NewDriver(st Store, client amocrm.Client, rules funnel.Rules) *Driver {
	var pipelines []int64
	for _, id := range []int64{rules.CommonPipeline, rules.SuccessPipeline} {
		if id != 0 {
			pipelines = append(pipelines, id)
		}
	}
	return &Driver{store: st, client: client, rules: rules, pipelines: pipelines}
}

// Run fetches every page of leads created inside w, then reconciles them.
func (d *Driver) Run(ctx context.Context, w window.Window) (*Result, error) {
	leads, err := amocrm.CollectLeads(ctx, d.client, w.From, w.To, d.pipelines)
	if err != nil {
		return nil, eris.Wrap(err, "reconcile: fetch leads")
	}
	return d.SyncWindow(ctx, w, ToRaw(leads))
}

// SyncWindow reconciles the leads currently in the CRM for w. A lead unknown
// to the store is inserted once; every fetched lead is then merged. Leads
// active in w that were not fetched are soft-deleted. A store error aborts the
// window; leads already written stay written.
func (d *Driver) SyncWindow(ctx context.Context, w window.Window, remote []funnel.RawLead) (*Result, error) {
	log := zap.L().With(zap.String("component", "reconcile.driver"), zap.String("window", w.String()))

	activeIDs, err := d.store.LeadIDs(ctx, w.From, w.To, false)
	if err != nil {
		return nil, eris.Wrap(err, "reconcile: load active leads")
	}
	deletedIDs, err := d.store.LeadIDs(ctx, w.From, w.To, true)
	if err != nil {
		return nil, eris.Wrap(err, "reconcile: load deleted leads")
	}
	ranks, err := d.store.StageRanks(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "reconcile: load ranks")
	}
	if ranks.Len() == 0 {
		log.Warn("reconcile: no stages stored, every lead ranks as unknown")
	}

	known := make(map[int64]struct{}, len(activeIDs)+len(deletedIDs))
	for _, id := range activeIDs {
		known[id] = struct{}{}
	}
	for _, id := range deletedIDs {
		known[id] = struct{}{}
	}

	res := &Result{Window: w}
	res.Fetched = len(remote)
	seen := make(map[int64]struct{}, len(remote))

	for _, raw := range remote {
		if err := ctx.Err(); err != nil {
			return res, eris.Wrap(err, "reconcile: sync window")
		}

		lead := funnel.Classify(raw, ranks, d.rules)
		seen[lead.ID] = struct{}{}

		if _, ok := known[lead.ID]; !ok {
			if err := d.store.InsertLead(ctx, lead); err != nil {
				return res, eris.Wrapf(err, "reconcile: insert lead %d", lead.ID)
			}
			known[lead.ID] = struct{}{}
			res.Inserted++
		}

		if _, err := d.store.MergeLead(ctx, lead, ranks); err != nil {
			return res, eris.Wrapf(err, "reconcile: merge lead %d", lead.ID)
		}
		res.Merged++
	}

	var missing []int64
	for _, id := range activeIDs {
		if _, ok := seen[id]; !ok {
			missing = append(missing, id)
		}
	}
	n, err := d.store.SoftDelete(ctx, missing)
	if err != nil {
		return res, eris.Wrap(err, "reconcile: soft delete")
	}
	res.Deleted = int(n)

	log.Info("reconcile: window synced",
		zap.Int("fetched", res.Fetched),
		zap.Int("inserted", res.Inserted),
		zap.Int("merged", res.Merged),
		zap.Int("deleted", res.Deleted),
	)
	return res, nil
}

// ToRaw converts CRM leads into classifier input.
func ToRaw(leads []amocrm.Lead) []funnel.RawLead {
	out := make([]funnel.RawLead, len(leads))
	for i, l := range leads {
		fields := make([]funnel.RawField, len(l.CustomFields))
		for j, f := range l.CustomFields {
			fields[j] = funnel.RawField{
				FieldID: f.FieldID,
				Name:    f.FieldName,
				Code:    f.FieldCode,
				Values:  f.Values,
			}
		}
		out[i] = funnel.RawLead{
			ID:           l.ID,
			PipelineID:   l.PipelineID,
			StatusID:     l.StatusID,
			CreatedAt:    l.CreatedAt,
			UpdatedAt:    l.UpdatedAt,
			CustomFields: fields,
		}
	}
	return out
}
