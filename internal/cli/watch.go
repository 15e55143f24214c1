package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/roach88/floodsync/internal/engine"
	"github.com/roach88/floodsync/internal/ir"
)

// WatchOptions holds flags for the watch command.
type WatchOptions struct {
	*RootOptions
	Interval    time.Duration
	For         time.Duration // stop after this long; zero runs until interrupted
	MetricsAddr string
}

// WatchUpdate is printed once per changed snapshot.
type WatchUpdate struct {
	Time     time.Time `json:"time"`
	Hash     string    `json:"hash"`
	Breaker  string    `json:"breaker"`
	Stats    ir.Stats  `json:"stats"`
	Rescuers int       `json:"rescuers"`
	MySOS    string    `json:"mySosId,omitempty"`
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow SOS and roster changes",
		Long: `Follow SOS and roster changes until interrupted.

A line is printed whenever the shared state changes. Refreshes happen on
the poll interval and, with a Redis or Postgres remote, as soon as another
device announces a change.

With --metrics-addr, Prometheus metrics are served on /metrics and a
health summary on /healthz.

Examples:
  floodsync watch
  floodsync watch --interval 10s --metrics-addr :9090`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(opts, cmd)
		},
	}

	cmd.Flags().DurationVar(&opts.Interval, "interval", 0, "poll interval (default: POLL_INTERVAL)")
	cmd.Flags().DurationVar(&opts.For, "for", 0, "stop after this long")
	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve /metrics and /healthz on this address")
	return cmd
}

func runWatch(opts *WatchOptions, cmd *cobra.Command) error {
	base := cmd.Context()
	if base == nil {
		base = context.Background()
	}
	ctx, stopSignals := signal.NotifyContext(base, os.Interrupt, syscall.SIGTERM)
	defer stopSignals()
	if opts.For > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.For)
		defer cancel()
	}
	cmd.SetContext(ctx)

	return withApp(opts.RootOptions, cmd, func(ctx context.Context, a *app) error {
		interval := opts.Interval
		if interval <= 0 {
			interval = a.cfg.PollInterval
		}

		if opts.MetricsAddr != "" {
			srv := &http.Server{
				Addr:              opts.MetricsAddr,
				Handler:           statusRouter(a),
				ReadHeaderTimeout: 5 * time.Second,
			}
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					a.logger.Error("status server failed", "addr", opts.MetricsAddr, "error", err)
				}
			}()
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			}()
			a.logger.Info("serving metrics", "addr", opts.MetricsAddr)
		}

		a.logger.Info("watching", "interval", interval, "remote", a.session.Available())
		poller := engine.NewPoller(a.engine, interval, func(snap engine.Snapshot) {
			_ = a.out.Success(watchUpdate(snap), func(w io.Writer) { printUpdate(w, watchUpdate(snap)) })
		})
		return poller.Run(ctx)
	})
}

func watchUpdate(snap engine.Snapshot) WatchUpdate {
	return WatchUpdate{
		Time:     time.Now().UTC(),
		Hash:     snap.Hash,
		Breaker:  snap.Breaker.String(),
		Stats:    ir.Summarize(snap.SOS),
		Rescuers: len(snap.Rescuers),
		MySOS:    snap.MySOSID,
	}
}

func printUpdate(w io.Writer, u WatchUpdate) {
	fmt.Fprintf(w, "%s  %d active (%d medical), %d rescued, %d safe, %d rescuers  remote:%s\n",
		u.Time.Format(time.TimeOnly), u.Stats.Active, u.Stats.Medical, u.Stats.Rescued, u.Stats.Safe,
		u.Rescuers, u.Breaker)
}

// statusRouter serves the metrics registry and a health summary.
func statusRouter(a *app) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Handle("/metrics", a.metrics.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":  "ok",
			"remote":  a.session.Available(),
			"breaker": a.session.Breaker().State().String(),
		})
	})
	return r
}
