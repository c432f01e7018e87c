// Package config loads probe settings from a YAML file and the environment.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lukemcguire/throttleprobe/account"
	"github.com/lukemcguire/throttleprobe/probe"
	"github.com/lukemcguire/throttleprobe/urlutil"
)

// Environment variables read by Load.
const (
	EnvConfig    = "THROTTLEPROBE_CONFIG"
	EnvToken     = "THROTTLEPROBE_TOKEN"
	EnvOutputDir = "THROTTLEPROBE_OUTPUT_DIR"
	EnvLogDir    = "THROTTLEPROBE_LOG_DIR"
	EnvSQLite    = "THROTTLEPROBE_SQLITE"
)

// DefaultPath is used when neither a flag nor EnvConfig names a file.
const DefaultPath = "throttleprobe.yaml"

// DefaultTargets are sample posts probed when the config lists none.
var DefaultTargets = []string{
	"https://www.instagram.com/reel/C4QxQxQxQxQ/",
	"https://www.instagram.com/reel/C5RyRyRyRyR/",
	"https://www.instagram.com/reel/C6SzSzSzSzS/",
	"https://www.instagram.com/reel/C7TaTaTaTaT/",
	"https://www.instagram.com/reel/C8UbUbUbUbU/",
}

// JobAPI configures the asynchronous job phase.
type JobAPI struct {
	BaseURL       string        `yaml:"base_url"`
	ActorID       string        `yaml:"actor_id"`
	MaxRequests   int           `yaml:"max_requests"`
	JitterMin     time.Duration `yaml:"jitter_min"`
	JitterMax     time.Duration `yaml:"jitter_max"`
	Cooldown      time.Duration `yaml:"cooldown"`
	PollInterval  time.Duration `yaml:"poll_interval"`
	WaitBudget    time.Duration `yaml:"wait_budget"`
	SubmitTimeout time.Duration `yaml:"submit_timeout"`
	StatusTimeout time.Duration `yaml:"status_timeout"`
}

// Direct configures the direct fetch phase.
type Direct struct {
	MaxRequests    int           `yaml:"max_requests"`
	JitterMin      time.Duration `yaml:"jitter_min"`
	JitterMax      time.Duration `yaml:"jitter_max"`
	Cooldown       time.Duration `yaml:"cooldown"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	RespectRobots  bool          `yaml:"respect_robots"`
}

// Config is the complete probe configuration.
type Config struct {
	Accounts             []account.Config `yaml:"accounts"`
	Targets              []string         `yaml:"targets"`
	JobAPI               JobAPI           `yaml:"job_api"`
	Direct               Direct           `yaml:"direct"`
	OutputDir            string           `yaml:"output_dir"`
	LogDir               string           `yaml:"log_dir"`
	SQLitePath           string           `yaml:"sqlite_path"`
	MaxRequestsPerSecond float64          `yaml:"max_requests_per_second"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Accounts: []account.Config{{
			Name:      "test_account_1",
			UserAgent: account.DefaultUserAgent,
		}},
		Targets: append([]string(nil), DefaultTargets...),
		JobAPI: JobAPI{
			BaseURL:       probe.DefaultJobAPIBaseURL,
			ActorID:       probe.DefaultActorID,
			MaxRequests:   100,
			JitterMin:     time.Second,
			JitterMax:     5 * time.Second,
			Cooldown:      60 * time.Second,
			PollInterval:  5 * time.Second,
			WaitBudget:    120 * time.Second,
			SubmitTimeout: 30 * time.Second,
			StatusTimeout: 10 * time.Second,
		},
		Direct: Direct{
			MaxRequests:    50,
			JitterMin:      2 * time.Second,
			JitterMax:      8 * time.Second,
			Cooldown:       60 * time.Second,
			RequestTimeout: 10 * time.Second,
		},
		OutputDir: ".",
		LogDir:    "logs",
	}
}

// Load builds the configuration from defaults, the YAML file at path and
// the environment, in increasing priority. An empty path falls back to
// EnvConfig and then DefaultPath. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv(EnvConfig)
	}
	if path == "" {
		path = DefaultPath
	}
	if err := loadFromFile(cfg, path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load config file: %w", err)
	}

	applyEnv(cfg)
	return cfg, nil
}

func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	if token := os.Getenv(EnvToken); token != "" {
		if len(cfg.Accounts) == 0 {
			cfg.Accounts = []account.Config{{Name: "env", UserAgent: account.DefaultUserAgent}}
		}
		cfg.Accounts[0].Token = token
	}
	if dir := os.Getenv(EnvOutputDir); dir != "" {
		cfg.OutputDir = dir
	}
	if dir := os.Getenv(EnvLogDir); dir != "" {
		cfg.LogDir = dir
	}
	if path := os.Getenv(EnvSQLite); path != "" {
		cfg.SQLitePath = path
	}
}

// Validate reports every problem with the configuration at once.
func (c *Config) Validate() error {
	var errs []error
	if len(c.Accounts) == 0 {
		errs = append(errs, errors.New("no accounts configured"))
	}
	for i, a := range c.Accounts {
		if a.Proxy != "" {
			if u, err := url.Parse(a.Proxy); err != nil || u.Host == "" {
				errs = append(errs, fmt.Errorf("account %d: invalid proxy %q", i, a.Proxy))
			}
		}
	}
	if len(c.Targets) == 0 {
		errs = append(errs, errors.New("no targets configured"))
	}
	if _, err := urlutil.NormalizeAll(c.Targets); err != nil {
		errs = append(errs, err)
	}
	if c.JobAPI.MaxRequests <= 0 {
		errs = append(errs, fmt.Errorf("job_api.max_requests must be positive, got %d", c.JobAPI.MaxRequests))
	}
	if c.Direct.MaxRequests <= 0 {
		errs = append(errs, fmt.Errorf("direct.max_requests must be positive, got %d", c.Direct.MaxRequests))
	}
	if c.JobAPI.JitterMin > c.JobAPI.JitterMax {
		errs = append(errs, fmt.Errorf("job_api jitter_min %v exceeds jitter_max %v", c.JobAPI.JitterMin, c.JobAPI.JitterMax))
	}
	if c.Direct.JitterMin > c.Direct.JitterMax {
		errs = append(errs, fmt.Errorf("direct jitter_min %v exceeds jitter_max %v", c.Direct.JitterMin, c.Direct.JitterMax))
	}
	if c.MaxRequestsPerSecond < 0 {
		errs = append(errs, errors.New("max_requests_per_second must not be negative"))
	}
	return errors.Join(errs...)
}

// JobPacing returns the pacing for the job phase.
func (c *Config) JobPacing() probe.Pacing {
	return probe.Pacing{Cooldown: c.JobAPI.Cooldown, JitterMin: c.JobAPI.JitterMin, JitterMax: c.JobAPI.JitterMax}
}

// DirectPacing returns the pacing for the direct phase.
func (c *Config) DirectPacing() probe.Pacing {
	return probe.Pacing{Cooldown: c.Direct.Cooldown, JitterMin: c.Direct.JitterMin, JitterMax: c.Direct.JitterMax}
}

// JobClientConfig returns the job API endpoint settings.
func (c *Config) JobClientConfig() probe.JobAPIConfig {
	return probe.JobAPIConfig{
		BaseURL:       c.JobAPI.BaseURL,
		ActorID:       c.JobAPI.ActorID,
		SubmitTimeout: c.JobAPI.SubmitTimeout,
		StatusTimeout: c.JobAPI.StatusTimeout,
	}
}

// PollConfig returns the job status polling settings.
func (c *Config) PollConfig() probe.PollConfig {
	return probe.PollConfig{Interval: c.JobAPI.PollInterval, WaitBudget: c.JobAPI.WaitBudget}
}
