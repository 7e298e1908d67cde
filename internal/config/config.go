// Package config resolves the run configuration once at startup.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	apperr "github.com/mouse-blink/autocov/internal/errors"
)

// DefaultFile is looked up in the project root when no --config is given.
const DefaultFile = "autocov.toml"

// Defaults for the tunables the loop exposes.
const (
	DefaultThreshold           = 80.0
	DefaultMaxIterations       = 5
	DefaultBatchSize           = 5
	DefaultExhaustAfter        = 2
	DefaultStallWindow         = 3
	DefaultCandidatesPerTarget = 3
	DefaultTimeout             = 30 * time.Second
	DefaultBaseURL             = "https://api.groq.com/openai/v1"
	DefaultModel               = "llama-3.3-70b-versatile"
	DefaultRequestsPerMinute   = 30
	DefaultHistoryFile         = ".autocov/history.db"
)

// APIKeyEnvVars are consulted in order when no key file is configured.
var APIKeyEnvVars = []string{"AUTOCOV_API_KEY", "GROQ_API_KEY", "OPENAI_API_KEY"}

// Config is the resolved configuration of one run.
type Config struct {
	ProjectRoot string `toml:"-"`

	// Threshold is the target overall coverage in percent.
	Threshold     float64  `toml:"threshold"`
	MaxIterations int      `toml:"max_iterations"`
	BatchSize     int      `toml:"batch_size"`
	ExhaustAfter  int      `toml:"exhaust_after"`
	StallWindow   int      `toml:"stall_window"`
	Parallelism   int      `toml:"parallelism"`
	TestPaths     []string `toml:"test_paths"`
	Review        bool     `toml:"review"`

	Coverage   CoverageConfig   `toml:"coverage"`
	Generation GenerationConfig `toml:"generation"`
	History    HistoryConfig    `toml:"history"`
}

// CoverageConfig tunes the coverage backend.
type CoverageConfig struct {
	// Exclude holds globs matched against project-relative paths.
	Exclude []string `toml:"exclude"`
}

// GenerationConfig tunes the generation backend.
type GenerationConfig struct {
	BaseURL             string        `toml:"base_url"`
	Model               string        `toml:"model"`
	APIKeyFile          string        `toml:"api_key_file"`
	APIKey              string        `toml:"-"`
	Timeout             time.Duration `toml:"timeout"`
	CandidatesPerTarget int           `toml:"candidates_per_target"`
	RequestsPerMinute   float64       `toml:"requests_per_minute"`
	Temperature         float32       `toml:"temperature"`
}

// HistoryConfig controls the persisted iteration log.
type HistoryConfig struct {
	Disabled bool   `toml:"disabled"`
	Path     string `toml:"path"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg, toml.MetaData{})

	return cfg
}

// Load decodes path, or the project's autocov.toml when path is empty, and
// applies defaults. A missing default file is not an error.
func Load(projectRoot, path string) (*Config, error) {
	explicit := strings.TrimSpace(path) != ""
	if !explicit {
		path = filepath.Join(projectRoot, DefaultFile)
	}

	cfg := &Config{}

	var meta toml.MetaData

	data, err := os.ReadFile(path)

	switch {
	case err == nil:
		meta, err = toml.Decode(string(data), cfg)
		if err != nil {
			return nil, apperr.Configuration("decode %s: %v", path, err)
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	default:
		return nil, apperr.Configuration("read %s: %v", path, err)
	}

	cfg.ProjectRoot = projectRoot
	applyDefaults(cfg, meta)

	return cfg, nil
}

// applyDefaults fills unset fields. A threshold of 0 is a valid setting, so
// only an absent key gets the default.
func applyDefaults(cfg *Config, meta toml.MetaData) {
	if !meta.IsDefined("threshold") {
		cfg.Threshold = DefaultThreshold
	}

	if cfg.MaxIterations == 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}

	if cfg.BatchSize == 0 {
		cfg.BatchSize = DefaultBatchSize
	}

	if cfg.ExhaustAfter == 0 {
		cfg.ExhaustAfter = DefaultExhaustAfter
	}

	if cfg.StallWindow == 0 {
		cfg.StallWindow = DefaultStallWindow
	}

	if cfg.Parallelism == 0 {
		cfg.Parallelism = runtime.NumCPU()
	}

	if len(cfg.TestPaths) == 0 {
		cfg.TestPaths = []string{"./..."}
	}

	gen := &cfg.Generation
	if strings.TrimSpace(gen.BaseURL) == "" {
		gen.BaseURL = DefaultBaseURL
	}

	if strings.TrimSpace(gen.Model) == "" {
		gen.Model = DefaultModel
	}

	if gen.Timeout == 0 {
		gen.Timeout = DefaultTimeout
	}

	if gen.CandidatesPerTarget == 0 {
		gen.CandidatesPerTarget = DefaultCandidatesPerTarget
	}

	if gen.RequestsPerMinute == 0 {
		gen.RequestsPerMinute = DefaultRequestsPerMinute
	}

	if strings.TrimSpace(cfg.History.Path) == "" {
		cfg.History.Path = DefaultHistoryFile
	}
}

// Validate checks every field the loop relies on.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.ProjectRoot) == "" {
		return apperr.Configuration("project path is required")
	}

	info, err := os.Stat(c.ProjectRoot)
	if err != nil {
		return apperr.Configuration("project path %s: %v", c.ProjectRoot, err)
	}

	if !info.IsDir() {
		return apperr.Configuration("project path %s is not a directory", c.ProjectRoot)
	}

	if c.Threshold < 0 || c.Threshold > 100 {
		return apperr.Configuration("threshold %v is outside [0,100]", c.Threshold)
	}

	positive := []struct {
		name  string
		value int
	}{
		{"max_iterations", c.MaxIterations},
		{"batch_size", c.BatchSize},
		{"exhaust_after", c.ExhaustAfter},
		{"stall_window", c.StallWindow},
		{"parallelism", c.Parallelism},
		{"generation.candidates_per_target", c.Generation.CandidatesPerTarget},
	}

	for _, p := range positive {
		if p.value < 1 {
			return apperr.Configuration("%s must be at least 1, got %d", p.name, p.value)
		}
	}

	if c.Generation.Timeout <= 0 {
		return apperr.Configuration("generation.timeout must be positive, got %s", c.Generation.Timeout)
	}

	if c.Generation.RequestsPerMinute <= 0 {
		return apperr.Configuration("generation.requests_per_minute must be positive")
	}

	return nil
}

// ThresholdRatio returns the threshold as a ratio in [0,1].
func (c *Config) ThresholdRatio() float64 {
	return c.Threshold / 100
}

// HistoryPath resolves the iteration log path against the project root.
func (c *Config) HistoryPath() string {
	if filepath.IsAbs(c.History.Path) {
		return c.History.Path
	}

	return filepath.Join(c.ProjectRoot, c.History.Path)
}

// ResolveAPIKey fills Generation.APIKey from the key file or the environment.
func (c *Config) ResolveAPIKey(getenv func(string) string) error {
	if getenv == nil {
		getenv = os.Getenv
	}

	if file := strings.TrimSpace(c.Generation.APIKeyFile); file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return apperr.Configuration("read api key file %s: %v", file, err)
		}

		c.Generation.APIKey = strings.TrimSpace(string(data))
	}

	for _, name := range APIKeyEnvVars {
		if c.Generation.APIKey != "" {
			break
		}

		c.Generation.APIKey = strings.TrimSpace(getenv(name))
	}

	if c.Generation.APIKey == "" {
		return apperr.Configuration("no API key: set one of %s or generation.api_key_file",
			strings.Join(APIKeyEnvVars, ", "))
	}

	return nil
}

func (c *Config) String() string {
	return fmt.Sprintf("threshold=%.1f%% max_iterations=%d batch_size=%d exhaust_after=%d stall_window=%d parallelism=%d model=%s",
		c.Threshold, c.MaxIterations, c.BatchSize, c.ExhaustAfter, c.StallWindow, c.Parallelism, c.Generation.Model)
}
