package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/funnel-sync/internal/config"
	"github.com/sells-group/funnel-sync/internal/store"
)

func testMonitoringConfig() config.MonitoringConfig {
	return config.MonitoringConfig{
		FailureRateThreshold: 0.5,
		ConsecutiveFailures:  3,
		StaleAfterMins:       30,
	}
}

func TestAlerter_Evaluate_NoAlerts(t *testing.T) {
	now := time.Now().UTC()
	last := now.Add(-5 * time.Minute)

	alerts := NewAlerter(testMonitoringConfig()).Evaluate(&Snapshot{
		SyncComplete:  280,
		SyncFailed:    8,
		FailRate:      8.0 / 288.0,
		LastSuccess:   &last,
		LookbackHours: 24,
		CollectedAt:   now,
	})
	assert.Empty(t, alerts)
}

func TestAlerter_Evaluate_FailureRate(t *testing.T) {
	alerts := NewAlerter(testMonitoringConfig()).Evaluate(&Snapshot{
		SyncComplete:  4,
		SyncFailed:    6,
		FailRate:      0.6,
		LookbackHours: 24,
	})
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertSyncFailureRate, alerts[0].Type)
	assert.Contains(t, alerts[0].Message, "60.0%")
}

func TestAlerter_Evaluate_MinimumRunsRequired(t *testing.T) {
	alerts := NewAlerter(testMonitoringConfig()).Evaluate(&Snapshot{
		SyncComplete: 1,
		SyncFailed:   2,
		FailRate:     0.666,
	})
	assert.Empty(t, alerts)
}

func TestAlerter_Evaluate_ConsecutiveFailures(t *testing.T) {
	alerts := NewAlerter(testMonitoringConfig()).Evaluate(&Snapshot{
		ConsecutiveFailures: 3,
		LastError:           "crm unavailable",
	})
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertConsecutiveFailures, alerts[0].Type)
	assert.Contains(t, alerts[0].Message, "crm unavailable")
}

func TestAlerter_Evaluate_Stale(t *testing.T) {
	now := time.Now().UTC()
	last := now.Add(-2 * time.Hour)

	alerts := NewAlerter(testMonitoringConfig()).Evaluate(&Snapshot{LastSuccess: &last, CollectedAt: now})
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertStaleSync, alerts[0].Type)
	assert.Equal(t, "medium", alerts[0].Severity)

	cfg := testMonitoringConfig()
	cfg.StaleAfterMins = 0
	assert.Empty(t, NewAlerter(cfg).Evaluate(&Snapshot{LastSuccess: &last, CollectedAt: now}))
}

func TestAlerter_SendAlerts_Webhook(t *testing.T) {
	var received atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var alert Alert
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&alert))
		assert.NotEmpty(t, alert.Type)
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitoringConfig{WebhookURL: ts.URL})
	sent := a.SendAlerts(context.Background(), []Alert{
		{Type: AlertSyncFailureRate, Severity: "high", Message: "test alert 1"},
		{Type: AlertStaleSync, Severity: "medium", Message: "test alert 2"},
	})
	assert.Equal(t, 2, sent)
	assert.Equal(t, int32(2), received.Load())
}

func TestAlerter_SendAlerts_EmptyURL(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{})
	assert.Equal(t, 0, a.SendAlerts(context.Background(), []Alert{{Type: AlertStaleSync}}))
}

func TestAlerter_SendAlerts_WebhookError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitoringConfig{WebhookURL: ts.URL})
	assert.Equal(t, 0, a.SendAlerts(context.Background(), []Alert{{Type: AlertStaleSync}}))
}

func TestChecker_Check(t *testing.T) {
	var received atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		received.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	now := time.Now().UTC()
	syncs := &fakeSyncs{runs: []store.SyncRun{
		{Status: store.SyncFailed, StartedAt: now.Add(-time.Minute)},
		{Status: store.SyncFailed, StartedAt: now.Add(-6 * time.Minute)},
		{Status: store.SyncFailed, StartedAt: now.Add(-11 * time.Minute)},
	}}

	cfg := testMonitoringConfig()
	cfg.WebhookURL = ts.URL
	cfg.LookbackWindowHours = 24
	checker := NewChecker(NewCollector(syncs), NewAlerter(cfg), cfg)

	require.NoError(t, checker.Check(context.Background()))
	assert.Equal(t, int32(1), received.Load())
}
