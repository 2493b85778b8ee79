// Package config handles run configuration: defaults, an optional YAML
// file, then environment variables and command-line flags.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"shopload/internal/collector"
	"shopload/internal/gateway"
	"shopload/internal/profile"
	"shopload/internal/task"
)

// Config is the root configuration structure.
type Config struct {
	Target     TargetConfig             `yaml:"target"`
	Features   FeaturesConfig           `yaml:"features"`
	Load       RampConfig               `yaml:"load"`
	Execution  ExecutionConfig          `yaml:"execution,omitempty"`
	Profiles   map[string]ProfileConfig `yaml:"profiles,omitempty"`
	Thresholds *collector.Thresholds    `yaml:"thresholds,omitempty"`
	Log        LogConfig                `yaml:"log"`
	Metrics    MetricsConfig            `yaml:"metrics"`
}

// TargetConfig locates the gateway under test.
type TargetConfig struct {
	BaseURL     string        `yaml:"base_url"`
	RoutingMode string        `yaml:"routing_mode"`
	Timeout     time.Duration `yaml:"timeout"`
}

// FeaturesConfig switches the write flows on. Both are off by default so a
// run never mutates a shared environment unless asked to.
type FeaturesConfig struct {
	FavouriteWrites bool `yaml:"favourite_writes"`
	OrderFlow       bool `yaml:"order_flow"`
}

// RampConfig shapes the user population over time.
type RampConfig struct {
	Users     int           `yaml:"users"`
	SpawnRate float64       `yaml:"spawn_rate"` // users per second
	RunTime   time.Duration `yaml:"run_time"`   // 0 = until interrupted
	RPS       int           `yaml:"rps"`        // 0 = unlimited
}

// ExecutionConfig controls iteration-level execution behavior.
type ExecutionConfig struct {
	MaxIterations    int `yaml:"max_iterations"`
	WarmupIterations int `yaml:"warmup_iterations"`
}

// ProfileConfig overrides one of the built-in user profiles.
type ProfileConfig struct {
	Weight    *int           `yaml:"weight,omitempty"`
	PacingMin *time.Duration `yaml:"pacing_min,omitempty"`
	PacingMax *time.Duration `yaml:"pacing_max,omitempty"`
	Tasks     map[string]int `yaml:"tasks,omitempty"`
	Steps     []string       `yaml:"steps,omitempty"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json or console
}

// MetricsConfig enables the Prometheus endpoint when Addr is set.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns the configuration used when nothing else is given.
func Default() *Config {
	return &Config{
		Target: TargetConfig{
			BaseURL:     "http://localhost:8080",
			RoutingMode: string(gateway.ServicePrefix),
			Timeout:     10 * time.Second,
		},
		Load: RampConfig{
			Users:     10,
			SpawnRate: 1,
			RunTime:   time.Minute,
		},
		Log: LogConfig{Level: "info", Format: "console"},
	}
}

// LoadConfig reads a YAML configuration file on top of the defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	return cfg, nil
}

// Keys looked up in viper. Environment variables use the SHOPLOAD_ prefix
// with dots replaced by underscores.
const (
	KeyBaseURL         = "base_url"
	KeyRoutingMode     = "routing_mode"
	KeyTimeout         = "timeout"
	KeyFavouriteWrites = "enable_favourite_writes"
	KeyOrderFlow       = "enable_order_flow"
	KeyUsers           = "users"
	KeySpawnRate       = "spawn_rate"
	KeyRunTime         = "run_time"
	KeyRPS             = "rps"
	KeyMaxIterations   = "max_iterations"
	KeyWarmup          = "warmup_iterations"
	KeyLogLevel        = "log_level"
	KeyLogFormat       = "log_format"
	KeyMetricsAddr     = "metrics_addr"
)

// NewViper returns a viper instance reading SHOPLOAD_* variables. The
// routing mode also honours LOCUST_ROUTING_MODE, which existing gateway
// deployments already export.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("SHOPLOAD")
	v.AutomaticEnv()
	// Explicit bindings take precedence over AutomaticEnv; keep the
	// SHOPLOAD_ name first.
	_ = v.BindEnv(KeyRoutingMode, "SHOPLOAD_ROUTING_MODE", "LOCUST_ROUTING_MODE")
	return v
}

// Overlay copies every value set in v (environment or changed flags) over
// cfg.
func Overlay(cfg *Config, v *viper.Viper) {
	if v.IsSet(KeyBaseURL) {
		cfg.Target.BaseURL = v.GetString(KeyBaseURL)
	}
	if v.IsSet(KeyRoutingMode) {
		cfg.Target.RoutingMode = v.GetString(KeyRoutingMode)
	}
	if v.IsSet(KeyTimeout) {
		cfg.Target.Timeout = v.GetDuration(KeyTimeout)
	}
	if v.IsSet(KeyFavouriteWrites) {
		cfg.Features.FavouriteWrites = v.GetBool(KeyFavouriteWrites)
	}
	if v.IsSet(KeyOrderFlow) {
		cfg.Features.OrderFlow = v.GetBool(KeyOrderFlow)
	}
	if v.IsSet(KeyUsers) {
		cfg.Load.Users = v.GetInt(KeyUsers)
	}
	if v.IsSet(KeySpawnRate) {
		cfg.Load.SpawnRate = v.GetFloat64(KeySpawnRate)
	}
	if v.IsSet(KeyRunTime) {
		cfg.Load.RunTime = v.GetDuration(KeyRunTime)
	}
	if v.IsSet(KeyRPS) {
		cfg.Load.RPS = v.GetInt(KeyRPS)
	}
	if v.IsSet(KeyMaxIterations) {
		cfg.Execution.MaxIterations = v.GetInt(KeyMaxIterations)
	}
	if v.IsSet(KeyWarmup) {
		cfg.Execution.WarmupIterations = v.GetInt(KeyWarmup)
	}
	if v.IsSet(KeyLogLevel) {
		cfg.Log.Level = v.GetString(KeyLogLevel)
	}
	if v.IsSet(KeyLogFormat) {
		cfg.Log.Format = v.GetString(KeyLogFormat)
	}
	if v.IsSet(KeyMetricsAddr) {
		cfg.Metrics.Addr = v.GetString(KeyMetricsAddr)
	}
}

// Load builds the effective configuration: defaults, then the file at path
// when it is not empty, then v.
func Load(path string, v *viper.Viper) (*Config, error) {
	cfg := Default()
	if path != "" {
		var err error
		if cfg, err = LoadConfig(path); err != nil {
			return nil, err
		}
	}
	if v != nil {
		Overlay(cfg, v)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []error

	u, err := url.Parse(c.Target.BaseURL)
	switch {
	case err != nil:
		errs = append(errs, fmt.Errorf("target.base_url: %w", err))
	case u.Scheme != "http" && u.Scheme != "https":
		errs = append(errs, fmt.Errorf("target.base_url: scheme must be http or https, got %q", c.Target.BaseURL))
	case u.Host == "":
		errs = append(errs, fmt.Errorf("target.base_url: missing host in %q", c.Target.BaseURL))
	}
	if c.Target.Timeout < 0 {
		errs = append(errs, fmt.Errorf("target.timeout must be >= 0, got %s", c.Target.Timeout))
	}

	if c.Load.Users <= 0 {
		errs = append(errs, fmt.Errorf("load.users must be > 0, got %d", c.Load.Users))
	}
	if c.Load.SpawnRate <= 0 {
		errs = append(errs, fmt.Errorf("load.spawn_rate must be > 0, got %g", c.Load.SpawnRate))
	}
	if c.Load.RunTime < 0 {
		errs = append(errs, fmt.Errorf("load.run_time must be >= 0, got %s", c.Load.RunTime))
	}
	if c.Load.RPS < 0 {
		errs = append(errs, fmt.Errorf("load.rps must be >= 0, got %d", c.Load.RPS))
	}

	if c.Execution.MaxIterations < 0 {
		errs = append(errs, fmt.Errorf("execution.max_iterations must be >= 0, got %d", c.Execution.MaxIterations))
	}
	if c.Execution.WarmupIterations < 0 {
		errs = append(errs, fmt.Errorf("execution.warmup_iterations must be >= 0, got %d", c.Execution.WarmupIterations))
	}
	if c.Execution.MaxIterations > 0 && c.Execution.WarmupIterations >= c.Execution.MaxIterations {
		errs = append(errs, fmt.Errorf("execution.warmup_iterations (%d) must be less than max_iterations (%d)",
			c.Execution.WarmupIterations, c.Execution.MaxIterations))
	}

	switch c.Log.Format {
	case "", "json", "console":
	default:
		errs = append(errs, fmt.Errorf("log.format must be json or console, got %q", c.Log.Format))
	}

	if c.Thresholds != nil {
		if err := c.Thresholds.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("thresholds: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Mode resolves the routing mode. Unknown values fall back to
// service-prefix routing with a warning instead of failing the run.
func (c *Config) Mode(log *zap.Logger) gateway.Mode {
	mode, err := gateway.ParseMode(c.Target.RoutingMode)
	if err != nil {
		if log != nil {
			log.Warn("unknown routing mode, using service-prefix",
				zap.String("routing_mode", c.Target.RoutingMode))
		}
		return gateway.ServicePrefix
	}
	return mode
}

// TaskFeatures converts the feature switches for the task catalog.
func (c *Config) TaskFeatures() task.Features {
	return task.Features{
		FavouriteWrites: c.Features.FavouriteWrites,
		OrderFlow:       c.Features.OrderFlow,
	}
}

// BuildProfiles returns the default profiles for the configured features
// with the profile overrides applied.
func (c *Config) BuildProfiles() ([]profile.Profile, error) {
	overrides := make(map[string]profile.Override, len(c.Profiles))
	for name, pc := range c.Profiles {
		overrides[name] = profile.Override{
			Weight:    pc.Weight,
			PacingMin: pc.PacingMin,
			PacingMax: pc.PacingMax,
			Tasks:     pc.Tasks,
			Steps:     pc.Steps,
		}
	}
	return profile.Apply(profile.Defaults(c.TaskFeatures()), overrides)
}

// EffectiveThresholds returns the configured thresholds, or the default
// per-operation budgets when none are configured.
func (c *Config) EffectiveThresholds() *collector.Thresholds {
	if c.Thresholds != nil {
		return c.Thresholds
	}
	return &collector.Thresholds{Operations: collector.DefaultOperationThresholds()}
}
