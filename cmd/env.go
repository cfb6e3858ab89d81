package main

import (
	"context"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/funnel-sync/internal/config"
	"github.com/sells-group/funnel-sync/internal/reconcile"
	"github.com/sells-group/funnel-sync/internal/report"
	"github.com/sells-group/funnel-sync/internal/stats"
	"github.com/sells-group/funnel-sync/internal/store"
	"github.com/sells-group/funnel-sync/internal/window"
	"github.com/sells-group/funnel-sync/pkg/amocrm"
)

// initStore opens the configured store and applies migrations.
func initStore(ctx context.Context, c *config.Config) (store.Store, error) {
	var (
		st  store.Store
		err error
	)
	switch c.Store.Driver {
	case "sqlite":
		st, err = store.NewSQLite(c.Store.SQLitePath)
	case "postgres":
		st, err = store.NewPostgres(ctx, c.Store.DatabaseURL, &store.PoolConfig{MaxConns: c.Store.MaxConns})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", c.Store.Driver)
	}
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// initClient builds the amoCRM client. Refreshed tokens only live in memory,
// so the hook asks the operator to persist them.
func initClient(c *config.Config) amocrm.Client {
	timeout := time.Duration(c.AmoCRM.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return amocrm.NewClient(c.AmoCRM.BaseURL, c.AmoCRM.Credentials,
		amocrm.WithHTTPClient(&http.Client{Timeout: timeout}),
		amocrm.WithRateLimit(c.AmoCRM.RateLimit),
		amocrm.WithRetry(c.AmoCRM.Retry),
		amocrm.WithRefreshHook(func(creds amocrm.Credentials) {
			zap.L().Warn("amocrm tokens refreshed, persist them before restart",
				zap.String("client_id", creds.ClientID),
			)
		}),
	)
}

func newAggregator(c *config.Config, st store.Store) *stats.Aggregator {
	return stats.NewAggregator(st, stats.Checkpoints{
		Pipeline:  c.Funnel.CommonPipeline,
		Qualified: c.Funnel.Checkpoints.Qualified,
		Met:       c.Funnel.Checkpoints.Met,
	})
}

// syncEnv bundles everything a reconciliation command needs.
type syncEnv struct {
	Store  store.Store
	Client amocrm.Client
	Job    *reconcile.Job
	Loc    *time.Location
}

// Close releases the store.
func (e *syncEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initSync validates the sync configuration and wires the store, CRM client
// and reconciliation job. publish controls whether the job writes the report.
func initSync(ctx context.Context, publish bool) (*syncEnv, error) {
	if err := cfg.Validate("sync"); err != nil {
		return nil, err
	}

	rules, err := cfg.Rules()
	if err != nil {
		return nil, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	st, err := initStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	client := initClient(cfg)
	driver := reconcile.NewDriver(st, client, rules)

	var opts []reconcile.JobOption
	if publish && cfg.Report.Enabled {
		opts = append(opts, reconcile.WithPublisher(report.NewWorkbook(cfg.Report.Path, cfg.Report.City)))
		if cfg.Report.SalesPath != "" {
			opts = append(opts, reconcile.WithSales(report.NewSalesBook(cfg.Report.SalesPath)))
		}
	}

	return &syncEnv{
		Store:  st,
		Client: client,
		Job:    reconcile.NewJob(driver, st, newAggregator(cfg, st), loc, opts...),
		Loc:    loc,
	}, nil
}

// bootstrap reloads stage definitions and reviewer managers. Stages are
// required for classification; a manager refresh failure only degrades the
// managers row of the report.
func (e *syncEnv) bootstrap(ctx context.Context) error {
	n, err := reconcile.RefreshStages(ctx, e.Client, e.Store, cfg.Funnel.CommonPipeline, cfg.Funnel.SuccessPipeline)
	if err != nil {
		return err
	}
	zap.L().Info("stages refreshed", zap.Int("stages", n))

	m, err := reconcile.RefreshManagers(ctx, e.Client, e.Store, cfg.Funnel.ReviewerGroup)
	if err != nil {
		zap.L().Warn("manager refresh failed", zap.Error(err))
		return nil
	}
	zap.L().Info("managers refreshed", zap.Int("managers", m))
	return nil
}

// dayOrToday parses a YYYY-MM-DD flag value, defaulting to the current
// business day.
func dayOrToday(s string, now time.Time, loc *time.Location) (window.Day, error) {
	if s == "" {
		return window.DayOf(now, loc), nil
	}
	d, err := window.ParseDay(s)
	if err != nil {
		return window.Day{}, eris.Wrapf(err, "invalid date %q", s)
	}
	return d, nil
}
