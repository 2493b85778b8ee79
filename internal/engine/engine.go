// Package engine assembles a load run from its configuration: gateway
// client, task catalog, one user factory per profile, the coordinator and
// the metrics sinks.
package engine

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"shopload/internal/collector"
	"shopload/internal/config"
	"shopload/internal/coordinator"
	"shopload/internal/core"
	"shopload/internal/gateway"
	"shopload/internal/idcache"
	"shopload/internal/profile"
	"shopload/internal/progress"
	"shopload/internal/ratelimit"
	"shopload/internal/stamp"
	"shopload/internal/task"
	"shopload/internal/vuser"
)

// Options are the collaborators a run does not read from configuration.
type Options struct {
	HTTPClient *http.Client
	Logger     *zap.Logger
	// Registerer, when set, receives the Prometheus request metrics.
	Registerer prometheus.Registerer
	RunID      string // generated when empty
	Quiet      bool
	Output     io.Writer // progress output, stderr when nil
	Seed       int64
	Sleep      vuser.SleepFunc
}

// Engine is one configured run. It is used once.
type Engine struct {
	cfg        *config.Config
	runID      string
	log        *zap.Logger
	profiles   []profile.Profile
	factories  []*vuser.Factory
	catalog    *task.Catalog
	coord      *coordinator.Coordinator
	collector  *collector.Collector
	limiter    *ratelimit.RateLimiter
	stages     []ratelimit.Stage
	progress   *progress.Progress
	thresholds *collector.Thresholds
}

// Result summarises a finished run.
type Result struct {
	RunID      string
	Metrics    *collector.Metrics
	Thresholds *collector.ThresholdResults
	// Spawned counts the users built per profile.
	Spawned map[string]int
	// Cached counts the identifiers held per cache at the end of the run.
	Cached map[idcache.Kind]int
}

// Passed reports whether every threshold held.
func (r *Result) Passed() bool {
	return r.Thresholds == nil || r.Thresholds.Passed
}

func New(cfg *config.Config, opts Options) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	runID := opts.RunID
	if runID == "" {
		runID = uuid.NewString()
	}

	profiles, err := cfg.BuildProfiles()
	if err != nil {
		return nil, fmt.Errorf("building profiles: %w", err)
	}
	stages, err := ratelimit.Ramp(cfg.Load.Users, cfg.Load.SpawnRate, cfg.Load.RunTime, cfg.Load.RPS)
	if err != nil {
		return nil, fmt.Errorf("building stages: %w", err)
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := cfg.Target.Timeout
		if timeout == 0 {
			timeout = gateway.DefaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	e := &Engine{
		cfg:        cfg,
		runID:      runID,
		log:        log.With(zap.String("run_id", runID)),
		profiles:   profiles,
		collector:  collector.NewCollector(),
		limiter:    ratelimit.NewRateLimiter(cfg.Load.RPS),
		stages:     stages,
		thresholds: cfg.EffectiveThresholds(),
	}

	reporter := core.MultiReporter{e.collector}
	if opts.Registerer != nil {
		prom, err := collector.NewPromReporter(opts.Registerer, runID)
		if err != nil {
			e.collector.Close()
			return nil, fmt.Errorf("registering metrics: %w", err)
		}
		reporter = append(reporter, prom)
	}

	clock := core.RealClock{}
	e.catalog = task.NewCatalog(
		gateway.NewClient(cfg.Target.BaseURL, httpClient, e.log),
		task.Options{
			Router:   gateway.Router{Mode: cfg.Mode(e.log)},
			Caches:   idcache.NewSet(),
			Stamps:   stamp.NewSequence(clock),
			Features: cfg.TaskFeatures(),
			Limiter:  e.limiter,
			Clock:    clock,
			Logger:   e.log,
		},
	)

	groups := make([]coordinator.Group, 0, len(profiles))
	for _, p := range profiles {
		f := &vuser.Factory{
			Profile: p,
			Catalog: e.catalog,
			Seed:    opts.Seed,
			Sleep:   opts.Sleep,
			Logger:  e.log,
		}
		e.factories = append(e.factories, f)
		groups = append(groups, coordinator.Group{Name: p.Name, Weight: p.Weight, Factory: f})
	}
	e.coord, err = coordinator.NewCoordinator(reporter, groups, e.log)
	if err != nil {
		e.collector.Close()
		return nil, err
	}

	e.progress = progress.NewProgress(e.collector, opts.Quiet)
	if opts.Output != nil {
		e.progress.SetOutput(opts.Output)
	}
	e.progress.SetUsers(e.coord.ActiveUsers)
	return e, nil
}

func (e *Engine) RunID() string {
	return e.runID
}

// Profiles returns the effective profiles of the run.
func (e *Engine) Profiles() []profile.Profile {
	return e.profiles
}

// Run drives the population until the run time is over, every user has
// used up its iterations, or ctx is cancelled. Users finish their current
// request before Run returns.
func (e *Engine) Run(ctx context.Context) *Result {
	cfg := e.cfg
	e.progress.Printf("Shopload starting: %d users at %g/s, run time %s, routing %s",
		cfg.Load.Users, cfg.Load.SpawnRate, runTime(cfg), cfg.Mode(nil))
	e.progress.Printf("Features: favourite writes %s, order flow %s",
		onOff(cfg.Features.FavouriteWrites), onOff(cfg.Features.OrderFlow))
	shares := profile.Shares(e.profiles)
	for _, p := range e.profiles {
		e.progress.Printf("Profile %s: weight %d (%.0f%%), pacing %s-%s",
			p.Name, p.Weight, shares[p.Name]*100, p.Pacing.Min, p.Pacing.Max)
	}
	e.log.Info("run started",
		zap.String("base_url", cfg.Target.BaseURL),
		zap.Int("users", cfg.Load.Users),
		zap.Float64("spawn_rate", cfg.Load.SpawnRate),
		zap.Duration("run_time", cfg.Load.RunTime),
	)

	e.progress.Start()
	e.coord.Run(ctx, ratelimit.NewStageManager(e.stages), coordinator.RunOptions{
		Limiter:  e.limiter,
		Progress: e.progress,
		Runner: core.RunnerConfig{
			MaxIterations: cfg.Execution.MaxIterations,
			WarmupIters:   cfg.Execution.WarmupIterations,
		},
	})
	e.coord.Wait()
	e.progress.Stop()
	e.collector.Close()

	m := e.collector.Compute()
	res := &Result{
		RunID:      e.runID,
		Metrics:    m,
		Thresholds: e.thresholds.Check(m),
		Spawned:    make(map[string]int, len(e.factories)),
		Cached:     e.catalog.Caches().Stats(),
	}
	for _, f := range e.factories {
		res.Spawned[f.Profile.Name] = f.Created()
	}
	e.log.Info("run finished",
		zap.Int("requests", m.TotalRequests),
		zap.Int("failures", m.FailureCount),
		zap.Bool("thresholds_passed", res.Passed()),
	)
	return res
}

func runTime(cfg *config.Config) string {
	if cfg.Load.RunTime == 0 {
		return "unlimited"
	}
	return cfg.Load.RunTime.String()
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
