package cli

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"

	"github.com/roach88/floodsync/internal/bus"
	"github.com/roach88/floodsync/internal/config"
	"github.com/roach88/floodsync/internal/engine"
	"github.com/roach88/floodsync/internal/metrics"
	"github.com/roach88/floodsync/internal/store"
)

// app is everything a command needs, built once per invocation.
type app struct {
	cfg     config.Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	store   *store.Store
	session *engine.Session
	engine  *engine.Engine
	out     *OutputFormatter
}

// openApp loads configuration, connects the remote and opens the cache.
// The caller must Close the returned app.
func openApp(ctx context.Context, opts *RootOptions, cmd *cobra.Command) (*app, error) {
	cfg, err := config.Load(config.Sources{
		File:    opts.ConfigFile,
		DotEnv:  opts.DotEnv,
		Environ: opts.Environ,
	})
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load configuration", err)
	}
	if opts.Database != "" {
		cfg.DBPath = opts.Database
	}

	level := cfg.Level()
	if opts.Verbose {
		level = slog.LevelDebug
	}
	logger := newLogger(cmd.ErrOrStderr(), opts.Format, level)

	st, err := store.Open(cfg.DBPath, store.WithLogger(logger))
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open local cache", err)
	}

	m := metrics.New()
	session := engine.Connect(ctx, cfg.Remote.Options(),
		engine.WithSessionLogger(logger),
		engine.WithSessionMetrics(m),
	)
	if cfg.Remote.Configured() {
		logger.Debug("remote configured", "available", session.Available(), "timeout", cfg.Remote.Timeout)
	} else {
		logger.Debug("no remote configured, running local-only")
	}

	e := engine.New(st, session, bus.New(),
		engine.WithLogger(logger),
		engine.WithMetrics(m),
		engine.WithAdmin(engine.AdminCredentials{
			Username:     cfg.Admin.Username,
			PasswordHash: cfg.Admin.PasswordHash,
		}),
	)

	return &app{
		cfg:     cfg,
		logger:  logger,
		metrics: m,
		store:   st,
		session: session,
		engine:  e,
		out:     formatter(opts, cmd),
	}, nil
}

// Close releases the remote handle and the cache.
func (a *app) Close() error {
	return errors.Join(a.session.Close(), a.store.Close())
}

// newLogger returns a tint console handler for text output and a JSON
// handler otherwise. Logs always go to w (stderr), never to stdout.
func newLogger(w io.Writer, format string, level slog.Level) *slog.Logger {
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
	}
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
		NoColor:    !isTerminal(w),
	}))
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	info, err := f.Stat()
	return err == nil && info.Mode()&os.ModeCharDevice != 0
}

func formatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}

// withApp runs fn with a freshly opened app and reports its error through
// the formatter.
func withApp(opts *RootOptions, cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := openApp(ctx, opts, cmd)
	if err != nil {
		return formatter(opts, cmd).Fail(err)
	}
	defer a.Close()

	if err := fn(ctx, a); err != nil {
		return a.out.Fail(err)
	}
	return nil
}
