package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"shopload/internal/collector"
	"shopload/internal/config"
	"shopload/internal/engine"
	"shopload/internal/logging"
)

type runFlags struct {
	configPath string
	output     string
	quiet      bool
	seed       int64
}

func newRunCmd() *cobra.Command {
	v := config.NewViper()
	var rf runFlags

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a load test",
		Example: `  shopload run -u 50 -r 5 -t 10m
  SHOPLOAD_ENABLE_ORDER_FLOW=true shopload run --base-url http://gateway:8080 --routing-mode api`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if rf.output != "text" && rf.output != "json" {
				return &exitError{code: ExitError, err: fmt.Errorf("--output must be 'text' or 'json', got %q", rf.output)}
			}
			cfg, err := loadConfig(rf.configPath, v)
			if err != nil {
				return err
			}
			return runLoad(cmd, cfg, rf)
		},
	}

	flags := cmd.Flags()
	commonFlags(flags, v, &rf.configPath)
	flags.String("base-url", "", "gateway base URL (default http://localhost:8080)")
	flags.Duration("timeout", 0, "per-request timeout (default 10s)")
	flags.IntP("users", "u", 0, "peak number of concurrent users (default 10)")
	flags.Float64P("spawn-rate", "r", 0, "users started per second (default 1)")
	flags.DurationP("run-time", "t", 0, "stop after this long, e.g. 30s or 5m (default 1m)")
	flags.Int("rps", 0, "global requests-per-second cap (0 = unlimited)")
	flags.Int("max-iterations", 0, "max tasks per user (0 = unlimited)")
	flags.Int("warmup", 0, "tasks per user before metrics are collected")
	flags.String("log-level", "", "log level: debug, info, warn, error")
	flags.String("log-format", "", "log format: console or json")
	flags.String("metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9102")
	flags.StringVarP(&rf.output, "output", "o", "text", "output format: text, json")
	flags.BoolVarP(&rf.quiet, "quiet", "q", false, "suppress progress output during the run")
	flags.Int64Var(&rf.seed, "seed", 0, "seed for reproducible task selection (0 = random)")

	bind(v, flags, config.KeyBaseURL, "base-url")
	bind(v, flags, config.KeyTimeout, "timeout")
	bind(v, flags, config.KeyUsers, "users")
	bind(v, flags, config.KeySpawnRate, "spawn-rate")
	bind(v, flags, config.KeyRunTime, "run-time")
	bind(v, flags, config.KeyRPS, "rps")
	bind(v, flags, config.KeyMaxIterations, "max-iterations")
	bind(v, flags, config.KeyWarmup, "warmup")
	bind(v, flags, config.KeyLogLevel, "log-level")
	bind(v, flags, config.KeyLogFormat, "log-format")
	bind(v, flags, config.KeyMetricsAddr, "metrics-addr")
	return cmd
}

func runLoad(cmd *cobra.Command, cfg *config.Config, rf runFlags) error {
	stdout, stderr := cmd.OutOrStdout(), cmd.ErrOrStderr()

	log, err := logging.NewWithWriter(cfg.Log.Level, cfg.Log.Format, stderr)
	if err != nil {
		return &exitError{code: ExitError, err: err}
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		registerer prometheus.Registerer
		metricsSrv *http.Server
	)
	if cfg.Metrics.Addr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		registerer = reg
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		metricsSrv = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	}

	eng, err := engine.New(cfg, engine.Options{
		Logger:     log,
		Registerer: registerer,
		Quiet:      rf.quiet,
		Output:     stderr,
		Seed:       rf.seed,
	})
	if err != nil {
		return &exitError{code: ExitError, err: err}
	}

	var res *engine.Result
	g, gctx := errgroup.WithContext(ctx)
	runCtx, finish := context.WithCancel(gctx)
	defer finish()

	if metricsSrv != nil {
		g.Go(func() error {
			log.Info("serving metrics", zap.String("addr", metricsSrv.Addr))
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-runCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return metricsSrv.Shutdown(shutdownCtx)
		})
	}
	g.Go(func() error {
		defer finish()
		res = eng.Run(runCtx)
		return nil
	})
	if err := g.Wait(); err != nil {
		return &exitError{code: ExitError, err: err}
	}

	if rf.output == "json" {
		if err := collector.FormatJSON(stdout, res.Metrics, res.Thresholds); err != nil {
			return &exitError{code: ExitError, err: err}
		}
	} else {
		collector.FormatText(stdout, res.Metrics, res.Thresholds)
	}

	if ctx.Err() != nil {
		if !rf.quiet {
			fmt.Fprintln(stderr, "\nInterrupted, results are partial")
		}
		return nil
	}
	if !res.Passed() {
		if rf.output == "text" {
			fmt.Fprintln(stderr, "\nThreshold check failed!")
		}
		return &exitError{code: ExitThresholdFailed}
	}
	return nil
}
