package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/funnel-sync/internal/monitoring"
	"github.com/sells-group/funnel-sync/internal/stats"
	"github.com/sells-group/funnel-sync/internal/store"
	"github.com/sells-group/funnel-sync/internal/window"
)

var runPort int

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the reconciliation daemon",
	Long: `Refreshes stage definitions, then reconciles the current business day on
every poll interval and serves /health, /stats and /metrics.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initSync(ctx, true)
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.bootstrap(ctx); err != nil {
			return err
		}

		if cfg.Monitoring.Enabled {
			checker := monitoring.NewChecker(
				monitoring.NewCollector(env.Store),
				monitoring.NewAlerter(cfg.Monitoring),
				cfg.Monitoring,
			)
			go checker.Run(ctx)
		}

		router := buildRouter(env.Store, newAggregator(cfg, env.Store), env.Loc)
		poller := monitoring.NewPoller("reconcile", time.Duration(cfg.Poll.IntervalSecs)*time.Second, env.Job.Tick)

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return startServer(gctx, router, resolvePort(runPort, cfg.Server.Port))
		})
		g.Go(func() error {
			poller.Run(gctx)
			return nil
		})
		return g.Wait()
	},
}

func init() {
	runCmd.Flags().IntVar(&runPort, "port", 0, "status server port (default from config)")
	rootCmd.AddCommand(runCmd)
}

func resolvePort(flag, configured int) int {
	if flag != 0 {
		return flag
	}
	return configured
}

// buildRouter serves liveness, today's statistics and Prometheus metrics.
func buildRouter(st store.Store, agg *stats.Aggregator, loc *time.Location) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		status, code := "ok", http.StatusOK
		if st != nil {
			if err := st.Ping(r.Context()); err != nil {
				status, code = "degraded", http.StatusServiceUnavailable
			}
		}
		writeJSON(w, code, map[string]string{"status": status})
	})

	r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
		if agg == nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "statistics unavailable"})
			return
		}
		day, err := dayOrToday(r.URL.Query().Get("date"), time.Now(), loc)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		s, err := agg.Compute(r.Context(), window.ForDay(day, loc))
		if err != nil {
			zap.L().Error("compute statistics", zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "compute statistics"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"day": day.String(), "statistics": s})
	})

	r.Method(http.MethodGet, "/metrics", monitoring.Handler())
	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// startServer serves h until ctx is cancelled.
func startServer(ctx context.Context, h http.Handler, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		zap.L().Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	zap.L().Info("starting server", zap.Int("port", port))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return eris.Wrap(err, "server listen")
	}
	return nil
}
