package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sells-group/funnel-sync/internal/stats"
)

var (
	ticksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "funnel_sync",
		Name:      "ticks_total",
		Help:      "Sync ticks by outcome.",
	}, []string{"status"})

	tickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "funnel_sync",
		Name:      "tick_duration_seconds",
		Help:      "Wall time of one sync tick.",
		Buckets:   []float64{1, 2.5, 5, 10, 30, 60, 120, 300},
	})

	leadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "funnel_sync",
		Name:      "leads_total",
		Help:      "Leads processed by reconciliation action.",
	}, []string{"action"})

	lastSuccess = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "funnel_sync",
		Name:      "last_success_timestamp_seconds",
		Help:      "Unix time of the last successful tick.",
	})

	dayCounters = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "funnel_sync",
		Name:      "day_leads",
		Help:      "Funnel counters of the current business day.",
	}, []string{"counter"})
)

// ObserveTick records the outcome and duration of one tick.
func ObserveTick(err error, elapsed time.Duration) {
	status := "complete"
	if err != nil {
		status = "failed"
	} else {
		lastSuccess.SetToCurrentTime()
	}
	ticksTotal.WithLabelValues(status).Inc()
	tickDuration.Observe(elapsed.Seconds())
}

// AddLeads records reconciliation counters.
func AddLeads(fetched, inserted, merged, deleted int) {
	leadsTotal.WithLabelValues("fetched").Add(float64(fetched))
	leadsTotal.WithLabelValues("inserted").Add(float64(inserted))
	leadsTotal.WithLabelValues("merged").Add(float64(merged))
	leadsTotal.WithLabelValues("deleted").Add(float64(deleted))
}

// SetDayStatistics publishes the counters of the current day.
func SetDayStatistics(s stats.Statistics) {
	dayCounters.WithLabelValues("total").Set(float64(s.Total))
	dayCounters.WithLabelValues("qualified").Set(float64(s.Qualified))
	dayCounters.WithLabelValues("qualified_regressed").Set(float64(s.QualifiedRegressed))
	dayCounters.WithLabelValues("recorded").Set(float64(s.Recorded))
	dayCounters.WithLabelValues("recorded_regressed").Set(float64(s.RecordedRegressed))
	dayCounters.WithLabelValues("met").Set(float64(s.Met))
	dayCounters.WithLabelValues("met_regressed").Set(float64(s.MetRegressed))
	dayCounters.WithLabelValues("sold").Set(float64(s.Sold))
}

// Handler serves the default prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
