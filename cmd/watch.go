// ABOUTME: Watch command that keeps the session fresh in the foreground
// ABOUTME: Optionally serves /metrics, /healthz and /session over HTTP

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/bobbytumur/portalctl/internal/session"
	"github.com/bobbytumur/portalctl/internal/tui/icons"
)

var watchMetricsAddr string

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Keep the session refreshed until interrupted",
	Long: `Run the refresh coordinator in the foreground. The token is checked
immediately and then every PORTAL_REFRESH_INTERVAL_SEC seconds, and refreshed
when it is about to expire. Stops on SIGINT/SIGTERM or when the session ends.

With --metrics-addr an HTTP server exposes:
  /metrics  Prometheus metrics
  /healthz  200 while the session is authenticated, 503 otherwise
  /session  the session summary as JSON`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		exitWith(func(ctx context.Context) int {
			return runWatch(ctx, os.Stdout)
		})
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().StringVar(&watchMetricsAddr, "metrics-addr", "", "Listen address for metrics and status (overrides PORTAL_METRICS_ADDR)")
}

// newStatusRouter serves metrics and session status for mgr
func newStatusRouter(mgr *session.Manager, gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		if !mgr.Gate.IsAuthorized() {
			http.Error(w, string(mgr.Gate.State()), http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok"))
	})

	r.Get("/session", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, formatJSON(describeSession(mgr)))
	})

	return r
}

// runWatch refreshes the session until ctx ends or the session does
func runWatch(ctx context.Context, w io.Writer) int {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return withSessionMetrics(w, reg, func(rt *runtime) int {
		if code := requireSession(w, rt); code != exitOK {
			return code
		}

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		var (
			endMu  sync.Mutex
			ending error
		)
		rt.mgr.Refresher.OnSessionEnded(func(reason error) {
			endMu.Lock()
			ending = reason
			endMu.Unlock()
			cancel()
		})
		addr := watchMetricsAddr
		if addr == "" {
			addr = rt.cfg.MetricsAddr
		}
		if addr != "" {
			srv := &http.Server{
				Addr:              addr,
				Handler:           newStatusRouter(rt.mgr, reg),
				ReadHeaderTimeout: 5 * time.Second,
			}
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					slog.Error("Status server failed", "addr", addr, "error", err)
					cancel()
				}
			}()
			defer func() {
				shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
				defer done()
				_ = srv.Shutdown(shutdownCtx)
			}()
			slog.Info("Serving session status", "addr", addr)
		}

		fmt.Fprintf(w, "%s Watching session (every %s). Press Ctrl+C to stop.\n", icons.Clock, rt.mgr.Refresher.Interval())
		rt.mgr.Refresher.Run(ctx)

		endMu.Lock()
		reason := ending
		endMu.Unlock()
		if reason != nil || rt.mgr.Gate.State() == session.StateAnonymous {
			fmt.Fprintln(w, "Session ended. Run \"portalctl login\" to sign in again.")
			return exitUnauthorized
		}
		fmt.Fprintln(w, "Stopped.")
		return exitOK
	})
}
