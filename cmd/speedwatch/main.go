// Command speedwatch runs the Ookla speedtest CLI on a fixed cadence and
// reports each measurement.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/HerbHall/speedwatch/internal/config"
	"github.com/HerbHall/speedwatch/internal/report"
	"github.com/HerbHall/speedwatch/internal/scheduler"
	"github.com/HerbHall/speedwatch/internal/server"
	"github.com/HerbHall/speedwatch/internal/speedtest"
	"github.com/HerbHall/speedwatch/internal/telemetry"
	"github.com/HerbHall/speedwatch/internal/version"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := pflag.NewFlagSet("speedwatch", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "path to configuration file (YAML, TOML or JSON)")
	once := fs.Bool("once", false, "run a single speed test and exit")
	showVersion := fs.Bool("version", false, "print version information and exit")
	config.RegisterFlags(fs)

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 2
	}

	if *showVersion {
		fmt.Fprintln(stdout, version.Info())
		return 0
	}

	cfg, err := config.Load(*configPath, fs)
	if err != nil {
		fmt.Fprintf(stderr, "speedwatch: %v\n", err)
		return 2
	}

	logger, err := cfg.Log.NewLogger()
	if err != nil {
		fmt.Fprintf(stderr, "speedwatch: %v\n", err)
		return 1
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := monitor(ctx, cfg, *once, stdout, logger); err != nil {
		logger.Error("speedwatch exiting", zap.Error(err))
		return 1
	}
	return 0
}

// monitor wires the components together and runs until ctx is cancelled,
// or for one cycle when once is set.
func monitor(ctx context.Context, cfg *config.Config, once bool, stdout io.Writer, logger *zap.Logger) error {
	logger.Info("SpeedWatch starting",
		zap.String("version", version.Short()),
		zap.Duration("cadence", cfg.Cadence),
		zap.String("command", cfg.Speedtest.Command),
		zap.Duration("timeout", cfg.Speedtest.Timeout),
	)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics, err := telemetry.New(reg)
	if err != nil {
		return err
	}

	sink, err := report.New(cfg.ReportFormat(), stdout, logger.Named("report"))
	if err != nil {
		return err
	}

	collector := speedtest.NewCollector(cfg.Speedtest, logger.Named("speedtest"))
	sched, err := scheduler.New(cfg.SchedulerConfig(), collector, report.Multi{sink, metrics},
		logger.Named("scheduler"), scheduler.WithObserver(metrics))
	if err != nil {
		return err
	}

	if once {
		return sched.RunOnce(ctx)
	}

	if cfg.Metrics.Addr != "" {
		srv := server.New(cfg.Metrics.Addr, reg, logger.Named("server"))
		go func() {
			if err := srv.Start(); err != nil {
				logger.Error("metrics server stopped", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), server.ShutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error("server shutdown error", zap.Error(err))
			}
		}()
	}

	err = sched.Run(ctx)
	if errors.Is(err, context.Canceled) {
		logger.Info("SpeedWatch stopped")
		return nil
	}
	return err
}
