package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/phonofix/internal/app"
	"github.com/MrWong99/phonofix/internal/config"
	"github.com/MrWong99/phonofix/internal/observe"
)

const defaultShutdownTimeout = 15 * time.Second

func (c *cli) serveCmd() *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP correction API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Server.ListenAddr = listen
			}
			return c.runDaemon(cmd.Context(), cfg, func(ctx context.Context, a *app.App) error {
				slog.Info("server ready, press Ctrl+C to shut down")
				return a.Run(ctx)
			})
		},
	}
	cmd.Flags().StringVarP(&listen, "listen", "l", "", "listen address, overrides server.listen_addr")
	return cmd
}

func (c *cli) mcpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the correction tools over MCP stdio",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			return c.runDaemon(cmd.Context(), cfg, func(ctx context.Context, a *app.App) error {
				return a.RunMCP(ctx)
			})
		},
	}
}

// runDaemon starts telemetry, builds the app with config hot reload and runs
// serve until ctx is cancelled. The app is then shut down within
// server.shutdown_timeout.
func (c *cli) runDaemon(ctx context.Context, cfg *config.Config, serve func(context.Context, *app.App) error) error {
	slog.Info("phonofix starting",
		"version", version,
		"config", c.configPath,
		"transcriber", cfg.Transcriber.Name,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Application ───────────────────────────────────────────────────────
	var opts []app.Option
	if c.configPath != "" {
		opts = append(opts, app.WithConfigWatch(c.configPath))
	}
	a, err := c.newApp(ctx, cfg, opts...)
	if err != nil {
		return err
	}

	if c.configPath != "" {
		stopHangup := reloadOnHangup(ctx, a)
		defer stopHangup()
	}

	runErr := serve(ctx, a)
	if errors.Is(runErr, context.Canceled) {
		runErr = nil
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────
	timeout := cfg.Server.ShutdownTimeout
	if timeout == 0 {
		timeout = defaultShutdownTimeout
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	slog.Info("stopping")
	if err := a.Shutdown(shutdownCtx); err != nil {
		return errors.Join(runErr, err)
	}
	slog.Info("goodbye")
	return runErr
}

// reloadOnHangup re-reads the config file on every SIGHUP until ctx ends or
// the returned stop function is called.
func reloadOnHangup(ctx context.Context, a *app.App) (stop func()) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case <-hup:
				changed, err := a.ReloadConfig()
				if err != nil {
					slog.Error("SIGHUP: config reload failed, keeping previous config", "err", err)
					continue
				}
				slog.Info("SIGHUP: config reloaded", "changed", changed)
			}
		}
	}()
	return func() {
		signal.Stop(hup)
		close(done)
	}
}
