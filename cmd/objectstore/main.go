package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/imedwei/railway-object-storage/internal/config"
	"github.com/imedwei/railway-object-storage/internal/health"
	"github.com/imedwei/railway-object-storage/internal/metrics"
	"github.com/imedwei/railway-object-storage/internal/server"
	"github.com/imedwei/railway-object-storage/internal/storage"
)

var version = "dev"

var flagConfigFile = &cli.StringFlag{
	Name:    "config",
	Usage:   "Path to a YAML storage configuration file",
	EnvVars: []string{"STORAGE_CONFIG_FILE"},
}

var flagLogFormat = &cli.StringFlag{
	Name:    "log-format",
	Value:   "text",
	Usage:   "Log format: text or json",
	EnvVars: []string{"LOG_FORMAT"},
}

var flagLogLevel = &cli.StringFlag{
	Name:    "log-level",
	Value:   "info",
	Usage:   "Log level: debug, info, warn or error",
	EnvVars: []string{"LOG_LEVEL"},
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		slog.Error("Command failed", "error", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "objectstore",
		Usage:   "Store and fetch objects across multiple storage providers with failover",
		Version: version,
		Flags: []cli.Flag{
			flagConfigFile,
			flagLogFormat,
			flagLogLevel,
		},
		Before: func(cCtx *cli.Context) error {
			logger := newLogger(cCtx.App.ErrWriter, cCtx.String(flagLogFormat.Name), cCtx.String(flagLogLevel.Name))
			slog.SetDefault(logger)
			return nil
		},
		Commands: []*cli.Command{
			serveCommand(),
			putCommand(),
			getCommand(),
			listCommand(),
			statCommand(),
			removeCommand(),
			copyCommand(),
			moveCommand(),
			urlCommand(),
			healthCommand(),
		},
	}
}

// newLogger builds the process logger. Unknown levels fall back to info.
func newLogger(w io.Writer, format, level string) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func loadConfig(cCtx *cli.Context) (*config.Config, error) {
	if path := cCtx.String(flagConfigFile.Name); path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}

// withManager loads configuration, starts a Manager for the duration of fn
// and shuts it down afterwards.
func withManager(cCtx *cli.Context, fn func(ctx context.Context, cfg *config.Config, m *storage.Manager) error) error {
	cfg, err := loadConfig(cCtx)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	ctx := cCtx.Context
	m, err := storage.New(ctx, cfg, slog.Default())
	if err != nil {
		return fmt.Errorf("failed to start storage manager: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		m.Shutdown(shutdownCtx)
	}()

	return fn(ctx, cfg, m)
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the storage manager with its health loop and HTTP endpoints",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "port",
				Usage: "HTTP port for /metrics, /health, /ready and /live (defaults to METRICS_PORT or 8080)",
			},
		},
		Action: func(cCtx *cli.Context) error {
			ctx, stop := signal.NotifyContext(cCtx.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()
			cCtx.Context = ctx

			return withManager(cCtx, func(ctx context.Context, cfg *config.Config, m *storage.Manager) error {
				logger := slog.Default()
				logger.Info("Object storage service starting",
					"version", version,
					"strategy", m.Strategy(),
					"providers", strings.Join(m.Providers(), ","),
				)
				metrics.Info.WithLabelValues(version, string(m.Strategy())).Set(1)

				serverConfig := server.DefaultConfig()
				switch {
				case cCtx.IsSet("port"):
					serverConfig.Port = cCtx.Int("port")
				case cfg.MetricsPort > 0:
					serverConfig.Port = cfg.MetricsPort
				}

				httpServer := server.New(serverConfig, logger, m.Ready)
				httpServer.RegisterHealthCheck("storage", func(context.Context) health.Check {
					return health.FromProviderStatuses(m.HealthStatus())
				})

				errCh := make(chan error, 1)
				go func() {
					errCh <- httpServer.Start()
				}()

				select {
				case err := <-errCh:
					return err
				case <-ctx.Done():
					logger.Info("Shutdown signal received")
				}

				shutdownCtx, cancel := context.WithTimeout(context.Background(), serverConfig.ShutdownTimeout)
				defer cancel()
				if err := httpServer.Shutdown(shutdownCtx); err != nil {
					logger.Error("HTTP server shutdown failed", "error", err)
				}
				return <-errCh
			})
		},
	}
}
