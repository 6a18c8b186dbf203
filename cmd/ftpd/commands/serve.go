package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"syscall"

	"github.com/gonzalop/ftpd/internal/config"
	"github.com/gonzalop/ftpd/internal/logger"
	"github.com/gonzalop/ftpd/internal/metrics"
	"github.com/gonzalop/ftpd/server"
	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the FTP server",
		Long: `Start the FTP server and, when enabled, the Prometheus metrics endpoint.

SIGINT or SIGTERM stops accepting connections and ends every session. The
process waits up to server.shutdown_timeout for sessions to finish.

Examples:
  ftpd serve --config /etc/ftpd/config.yaml
  FTPD_SERVER_ROOT=/srv/ftp FTPD_SERVER_READ_ONLY=true ftpd serve`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}

			logCloser, err := logger.Init(logger.Config{
				Level:  cfg.Logging.Level,
				Format: cfg.Logging.Format,
				Output: cfg.Logging.Output,
			})
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			defer logCloser.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return run(ctx, cfg, slog.Default())
		},
	}
}

// run serves until ctx is cancelled or a server fails.
func run(ctx context.Context, cfg *config.Config, log *slog.Logger) (err error) {
	var reg *prometheus.Registry
	if cfg.Metrics.Enabled {
		reg = prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	opts, closer, err := serverOptions(cfg, log, reg)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := closer.Close(); cerr != nil {
			err = multierror.Append(err, cerr).ErrorOrNil()
		}
	}()

	srv, err := server.NewServer(cfg.Server.Listen, opts...)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	log.Info("configuration_loaded",
		"root", srv.Root(),
		"listen", cfg.Server.Listen,
		"read_only", cfg.Server.ReadOnly,
		"metrics", cfg.Metrics.Enabled,
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := srv.ListenAndServe(gctx)
		if errors.Is(err, server.ErrServerClosed) {
			return nil
		}
		return err
	})

	if reg != nil {
		ms := metrics.NewServer(cfg.Metrics.Listen, reg, log)
		g.Go(func() error { return ms.Run(gctx) })
	}

	waitErr := make(chan error, 1)
	go func() { waitErr <- g.Wait() }()

	select {
	case err := <-waitErr:
		return err
	case <-gctx.Done():
	}

	// Sessions get shutdown_timeout to drain before run gives up on them.
	log.Info("shutdown_initiated", "timeout", cfg.Server.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-waitErr
}

// serverOptions maps cfg onto server options. The returned closer releases
// the transfer log file.
func serverOptions(cfg *config.Config, log *slog.Logger, reg *prometheus.Registry) ([]server.Option, io.Closer, error) {
	opts := []server.Option{
		server.WithRoot(cfg.Server.Root),
		server.WithLogger(log),
		server.WithWelcomeMessage(cfg.Server.Welcome),
		server.WithMaxIdleTime(cfg.Server.IdleTimeout),
		server.WithMaxConnections(cfg.Server.MaxConnections, cfg.Server.MaxConnectionsPerIP),
		server.WithPassiveSettings(server.PassiveSettings{
			PublicHost: cfg.Passive.PublicHost,
			MinPort:    cfg.Passive.MinPort,
			MaxPort:    cfg.Passive.MaxPort,
		}),
		server.WithBandwidthLimit(cfg.Transfer.BandwidthLimit, cfg.Transfer.BandwidthLimitPerSession),
	}

	disabled := slices.Clone(cfg.Server.DisableCommands)
	if cfg.Server.ReadOnly {
		disabled = append(disabled, server.WriteCommands...)
	}
	if len(disabled) > 0 {
		opts = append(opts, server.WithDisableCommands(disabled...))
	}

	if reg != nil {
		opts = append(opts, server.WithMetricsCollector(metrics.NewCollector(reg)))
	}

	var closer io.Closer = nopCloser{}
	if cfg.Transfer.Log != "" {
		f, err := os.OpenFile(cfg.Transfer.Log, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open transfer log: %w", err)
		}
		opts = append(opts, server.WithTransferLog(f))
		closer = f
	}
	return opts, closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
