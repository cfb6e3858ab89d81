package reconcile

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/funnel-sync/internal/funnel"
	"github.com/sells-group/funnel-sync/internal/store"
	"github.com/sells-group/funnel-sync/pkg/amocrm"
)

// StageStore stores pipeline stages.
type StageStore interface {
	ReplaceStages(ctx context.Context, pipelineID int64, statuses []funnel.Status, highPriority bool) (int, error)
}

// ManagerStore stores reviewer managers.
type ManagerStore interface {
	ReplaceManagers(ctx context.Context, managers []store.Manager) error
}

// RefreshStages fetches the common and success pipelines concurrently and
// replaces their stored stages. It returns the number of stages stored.
func RefreshStages(ctx context.Context, client amocrm.Client, st StageStore, common, success int64) (int, error) {
	var commonPipe, successPipe *amocrm.Pipeline

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p, err := client.Pipeline(gctx, common)
		if err != nil {
			return eris.Wrapf(err, "reconcile: fetch pipeline %d", common)
		}
		commonPipe = p
		return nil
	})
	g.Go(func() error {
		p, err := client.Pipeline(gctx, success)
		if err != nil {
			return eris.Wrapf(err, "reconcile: fetch pipeline %d", success)
		}
		successPipe = p
		return nil
	})
	if err := g.Wait(); err != nil {
		return 0, err
	}

	total := 0
	for _, p := range []struct {
		id           int64
		pipe         *amocrm.Pipeline
		highPriority bool
	}{
		{common, commonPipe, false},
		{success, successPipe, true},
	} {
		n, err := st.ReplaceStages(ctx, p.id, toStatuses(p.pipe.Statuses), p.highPriority)
		if err != nil {
			return total, eris.Wrapf(err, "reconcile: store stages of pipeline %d", p.id)
		}
		zap.L().Info("reconcile: stages refreshed",
			zap.Int64("pipeline_id", p.id),
			zap.String("pipeline", p.pipe.Name),
			zap.Int("stages", n),
		)
		total += n
	}
	return total, nil
}

// RefreshManagers replaces the stored managers with the CRM users of the
// reviewer group.
func RefreshManagers(ctx context.Context, client amocrm.Client, st ManagerStore, groupID int64) (int, error) {
	users, err := amocrm.CollectUsers(ctx, client)
	if err != nil {
		return 0, eris.Wrap(err, "reconcile: fetch users")
	}

	var managers []store.Manager
	for _, u := range users {
		if !u.InGroup(groupID) {
			continue
		}
		managers = append(managers, store.Manager{ID: u.ID, Name: u.Name, GroupID: groupID})
	}
	if err := st.ReplaceManagers(ctx, managers); err != nil {
		return 0, eris.Wrap(err, "reconcile: store managers")
	}
	zap.L().Info("reconcile: managers refreshed", zap.Int("users", len(users)), zap.Int("managers", len(managers)))
	return len(managers), nil
}

func toStatuses(in []amocrm.Status) []funnel.Status {
	out := make([]funnel.Status, len(in))
	for i, s := range in {
		out[i] = funnel.Status{ID: s.ID, Name: s.Name, Sort: s.Sort}
	}
	return out
}
