package reconcile

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/funnel-sync/internal/monitoring"
	"github.com/sells-group/funnel-sync/internal/report"
	"github.com/sells-group/funnel-sync/internal/stats"
	"github.com/sells-group/funnel-sync/internal/store"
	"github.com/sells-group/funnel-sync/internal/window"
)

// SalesSource looks up the sales of a day.
type SalesSource interface {
	Lookup(day window.Day) report.Sales
}

// Job is one scheduled pipeline run: reconcile today's window, aggregate and
// publish. Runs are recorded in the sync log.
type Job struct {
	driver    *Driver
	store     store.Store
	agg       *stats.Aggregator
	publisher report.Publisher
	sales     SalesSource
	loc       *time.Location
	now       func() time.Time
}

// JobOption configures a Job.
type JobOption func(*Job)

// WithPublisher enables publishing to p.
func WithPublisher(p report.Publisher) JobOption {
	return func(j *Job) { j.publisher = p }
}

// WithSales adds sales figures to the daily report.
func WithSales(s SalesSource) JobOption {
	return func(j *Job) { j.sales = s }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) JobOption {
	return func(j *Job) { j.now = now }
}

// NewJob creates a Job. Without WithPublisher statistics are computed but not
// published.
func NewJob(driver *Driver, st store.Store, agg *stats.Aggregator, loc *time.Location, opts ...JobOption) *Job {
	if loc == nil {
		loc = window.DefaultLocation
	}
	j := &Job{driver: driver, store: st, agg: agg, loc: loc, now: time.Now}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Tick runs the job for the current business day.
func (j *Job) Tick(ctx context.Context) error {
	_, err := j.RunWindow(ctx, window.Today(j.now(), j.loc))
	return err
}

// RunWindow reconciles w and publishes its statistics. On any failure the
// run is marked failed and nothing further is published.
func (j *Job) RunWindow(ctx context.Context, w window.Window) (res *Result, err error) {
	start := time.Now()
	log := zap.L().With(zap.String("component", "reconcile.job"), zap.String("day", w.Day.String()))

	runID, err := j.store.StartSync(ctx, w.From)
	if err != nil {
		return nil, eris.Wrap(err, "reconcile: start sync")
	}
	defer func() { monitoring.ObserveTick(err, time.Since(start)) }()

	res, err = j.driver.Run(ctx, w)
	if err == nil {
		err = j.publish(ctx, w)
	}
	if err != nil {
		if ferr := j.store.FailSync(context.WithoutCancel(ctx), runID, err.Error()); ferr != nil {
			log.Error("reconcile: record failed sync", zap.Error(ferr))
		}
		return res, err
	}

	monitoring.AddLeads(res.Fetched, res.Inserted, res.Merged, res.Deleted)
	if err := j.store.CompleteSync(ctx, runID, res.SyncCounts); err != nil {
		return res, eris.Wrap(err, "reconcile: complete sync")
	}
	log.Info("reconcile: tick complete", zap.Duration("elapsed", time.Since(start)))
	return res, nil
}

func (j *Job) publish(ctx context.Context, w window.Window) error {
	s, err := j.agg.Compute(ctx, w)
	if err != nil {
		return eris.Wrap(err, "reconcile: compute statistics")
	}
	monitoring.SetDayStatistics(s)

	if j.publisher == nil {
		return nil
	}

	managers, err := j.store.CountManagers(ctx)
	if err != nil {
		return eris.Wrap(err, "reconcile: count managers")
	}
	daily := report.DailyReport{Stats: s, Managers: managers}
	if j.sales != nil {
		sales := j.sales.Lookup(w.Day)
		daily.Sales = &sales
	}
	if err := j.publisher.PublishDaily(ctx, daily, w.Day); err != nil {
		return eris.Wrap(err, "reconcile: publish daily")
	}

	monday, _ := report.WeekOf(w.Day)
	return j.Rollup(ctx, window.Day{Year: monday.Year, Month: monday.Month, Day: 1})
}

// Rollup publishes the meetings booked per day since the start of since.
func (j *Job) Rollup(ctx context.Context, since window.Day) error {
	if j.publisher == nil {
		return eris.New("reconcile: rollup needs a publisher")
	}
	recorded, err := j.store.RecordedSince(ctx, since.Start(j.loc).Unix())
	if err != nil {
		return eris.Wrap(err, "reconcile: load booked meetings")
	}
	perDay, days := stats.RecordsPerDay(recorded, j.loc)
	if err := j.publisher.PublishMonthlyRollup(ctx, perDay, days, since); err != nil {
		return eris.Wrap(err, "reconcile: publish rollup")
	}
	return nil
}
