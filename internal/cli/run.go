package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/notnil/dashsim/cluster"
	"github.com/notnil/dashsim/internal/influx"
	"github.com/notnil/dashsim/internal/journal"
	"github.com/notnil/dashsim/internal/logging"
	"github.com/notnil/dashsim/internal/otel"
	"github.com/notnil/dashsim/internal/server"
	"github.com/notnil/dashsim/scheduler"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Serve string
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the cluster on the configured bus",
		Long: `Run the instrument cluster: a 25 Hz simulation tick publishing telemetry,
a fast bus poll applying override frames, and the optional WebSocket surface,
frame journal, InfluxDB recorder and OpenTelemetry exporters.

Example:
  dashsim run --config dashsim.yaml
  dashsim run --driver socketcan --serve 127.0.0.1:8765`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Serve != "" {
				opts.Config.Server.Enabled = true
				opts.Config.Server.Address = opts.Serve
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runCluster(ctx, opts.RootOptions)
		},
	}

	cmd.Flags().StringVar(&opts.Serve, "serve", "", "enable the WebSocket surface on this address")

	return cmd
}

func runCluster(ctx context.Context, opts *RootOptions) error {
	cfg := opts.Config
	session := uuid.NewString()

	prov, shutdown, err := setupOTel(opts)
	if err != nil {
		return WrapExitError(ExitCommandError, "setting up telemetry", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(sctx); err != nil {
			slog.Error("otel shutdown failed", "error", err)
		}
	}()

	logger := opts.Logging.Logger().With("session", session)
	if prov.Enabled() {
		logger.Info("otel exporting", "path", cfg.OTel.LogPath)
	}

	bus, closeBus, err := openBus(cfg.Bus, logger)
	if err != nil {
		return WrapExitError(ExitCommandError, "opening bus", err)
	}
	defer closeBus()

	var jrn *journal.Journal
	if cfg.Journal.Enabled {
		jrn, err = journal.Open(journal.Config{
			Path:          cfg.Journal.Path,
			Session:       session,
			FlushInterval: cfg.Journal.FlushInterval,
			BatchSize:     cfg.Journal.BatchSize,
		}, logger)
		if err != nil {
			return WrapExitError(ExitCommandError, "opening journal", err)
		}
		defer jrn.Close()
		bus = journal.Wrap(bus, jrn)
	}

	copts := []cluster.Option{cluster.WithLogger(logger)}
	if cfg.Influx.Enabled {
		rec, err := influx.Connect(ctx, influx.Config{
			URL:        cfg.Influx.URL,
			Token:      cfg.Influx.Token,
			Org:        cfg.Influx.Org,
			Bucket:     cfg.Influx.Bucket,
			Session:    session,
			EveryTicks: cfg.Influx.EveryTicks,
			BackupPath: cfg.Influx.BackupPath,
		}, logger)
		if err != nil {
			return WrapExitError(ExitCommandError, "connecting influx", err)
		}
		// Deferred before the loop stops, so it runs after the last Observe.
		defer rec.Close()
		copts = append(copts, cluster.WithObserver(rec))
	}

	loop, err := scheduler.New(scheduler.WithLogger(logger))
	if err != nil {
		return WrapExitError(ExitFailure, "creating scheduler", err)
	}
	c, err := cluster.New(bus, cfg.ClusterConfig(), copts...)
	if err != nil {
		return WrapExitError(ExitFailure, "creating cluster", err)
	}
	c.Schedule(loop, cfg.Scheduler.SimPeriod, cfg.Scheduler.PollPeriod)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return loop.Run(gctx) })
	if jrn != nil {
		g.Go(func() error { return jrn.Run(gctx) })
	}
	if cfg.Server.Enabled {
		srv := server.New(loop, c, logger)
		c.AddSink(srv.Sink())
		g.Go(func() error { return srv.Serve(gctx, cfg.Server.Address) })
	}

	logger.Info("cluster running",
		"simPeriod", cfg.Scheduler.SimPeriod,
		"pollPeriod", cfg.Scheduler.PollPeriod,
		"server", cfg.Server.Enabled,
		"journal", cfg.Journal.Enabled,
		"influx", cfg.Influx.Enabled,
	)

	err = g.Wait()
	<-loop.Done()
	if err != nil && !errors.Is(err, context.Canceled) {
		return WrapExitError(ExitFailure, "cluster stopped", err)
	}
	logger.Info("cluster stopped", "ticks", c.Snapshot().Tick)
	return nil
}

// setupOTel builds the providers and, when logs are exported, reinstalls
// the logger with the OTel bridge attached. The returned function shuts the
// providers down and closes their output file.
func setupOTel(opts *RootOptions) (*otel.Provider, func(context.Context) error, error) {
	oc := opts.Config.OTel
	pcfg := otel.Config{
		Enabled:        oc.Enabled,
		ServiceName:    oc.ServiceName,
		BatchTimeout:   oc.BatchTimeout,
		MetricInterval: oc.MetricInterval,
	}
	var out *os.File
	if oc.Enabled {
		f, err := os.OpenFile(oc.LogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("opening otel output %s: %w", oc.LogPath, err)
		}
		out = f
		pcfg.LogWriter = f
		pcfg.MetricWriter = f
	}
	prov, err := otel.New(pcfg)
	if err != nil {
		if out != nil {
			_ = out.Close()
		}
		return nil, nil, err
	}
	if lp := prov.LoggerProvider(); lp != nil {
		lopts := logging.Options{
			Level:    opts.Config.LogLevel,
			Console:  opts.console,
			Provider: lp,
			Name:     oc.ServiceName,
		}
		if opts.logFile != nil {
			lopts.File = opts.logFile
		}
		opts.Logging.Setup(lopts)
	}
	shutdown := func(ctx context.Context) error {
		err := prov.Shutdown(ctx)
		if out != nil {
			err = errors.Join(err, out.Close())
		}
		return err
	}
	return prov, shutdown, nil
}
