// Package config loads the pipeline configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix prefixes the environment variables overriding a PipelineConfig,
// for example LAPIN_PERIOD=100.
const EnvPrefix = "LAPIN"

// Defaults applied by the Get* methods when a field is unset.
const (
	DefaultPeriod           = 200 // one second at 200 Hz
	DefaultRobustIterations = 15
	DefaultDatabasePath     = "lapin.db"
	DefaultChartDir         = "charts"
	DefaultListen           = ":8080"
	DefaultTaskTimeout      = 5 * time.Minute
)

// PipelineConfig configures the cleaning and decomposition pipeline.
// Fields are pointers so a partial file or environment only overrides what it
// sets.
type PipelineConfig struct {
	// Decomposition
	Period           *int  `json:"period,omitempty" envconfig:"PERIOD"`
	Robust           *bool `json:"robust,omitempty" envconfig:"ROBUST"`
	RobustIterations *int  `json:"robust_iterations,omitempty" envconfig:"ROBUST_ITERATIONS"`

	// Cleaning
	SnapBoundaries *bool `json:"snap_boundaries,omitempty" envconfig:"SNAP_BOUNDARIES"`

	// Orchestration
	PreCompute  *bool   `json:"precompute,omitempty" envconfig:"PRECOMPUTE"`
	Logging     *bool   `json:"logging,omitempty" envconfig:"LOGGING"`
	TaskTimeout *string `json:"task_timeout,omitempty" envconfig:"TASK_TIMEOUT"` // duration string like "5m"

	// Inputs. An empty DataDir lets the HTTP API load any path.
	DataDir *string `json:"data_dir,omitempty" envconfig:"DATA_DIR"`

	// Outputs
	DatabasePath *string `json:"database_path,omitempty" envconfig:"DATABASE_PATH"`
	ChartDir     *string `json:"chart_dir,omitempty" envconfig:"CHART_DIR"`
	Listen       *string `json:"listen,omitempty" envconfig:"LISTEN"`
}

func ptrBool(v bool) *bool       { return &v }
func ptrInt(v int) *int          { return &v }
func ptrString(v string) *string { return &v }

// DefaultPipelineConfig returns a config with every field set to its default.
func DefaultPipelineConfig() *PipelineConfig {
	return &PipelineConfig{
		Period:           ptrInt(DefaultPeriod),
		Robust:           ptrBool(true),
		RobustIterations: ptrInt(DefaultRobustIterations),
		SnapBoundaries:   ptrBool(false),
		PreCompute:       ptrBool(true),
		Logging:          ptrBool(true),
		TaskTimeout:      ptrString(DefaultTaskTimeout.String()),
		DatabasePath:     ptrString(DefaultDatabasePath),
		ChartDir:         ptrString(DefaultChartDir),
		Listen:           ptrString(DefaultListen),
	}
}

// LoadPipelineConfig loads a PipelineConfig from a JSON file.
// The file must have a .json extension and be under 1 MiB. Omitted fields
// keep their defaults through the Get* methods.
func LoadPipelineConfig(path string) (*PipelineConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &PipelineConfig{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Load reads path when it is not empty, or starts from an empty config, then
// applies the LAPIN_* environment overrides and validates the result.
func Load(path string) (*PipelineConfig, error) {
	cfg := &PipelineConfig{}
	if path != "" {
		var err error
		if cfg, err = LoadPipelineConfig(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides the fields whose LAPIN_* variable is set.
func (c *PipelineConfig) ApplyEnv() error {
	if err := envconfig.Process(EnvPrefix, c); err != nil {
		return fmt.Errorf("failed to read environment: %w", err)
	}
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid environment configuration: %w", err)
	}
	return nil
}

// Validate checks that the configuration values are valid.
func (c *PipelineConfig) Validate() error {
	if c.Period != nil && *c.Period < 1 {
		return fmt.Errorf("period must be at least 1, got %d", *c.Period)
	}
	if c.RobustIterations != nil && *c.RobustIterations < 0 {
		return fmt.Errorf("robust_iterations must be non-negative, got %d", *c.RobustIterations)
	}
	if c.TaskTimeout != nil && *c.TaskTimeout != "" {
		d, err := time.ParseDuration(*c.TaskTimeout)
		if err != nil {
			return fmt.Errorf("invalid task_timeout '%s': %w", *c.TaskTimeout, err)
		}
		if d < 0 {
			return fmt.Errorf("task_timeout must be non-negative, got %s", d)
		}
	}
	return nil
}

// GetPeriod returns the decomposition period in samples.
func (c *PipelineConfig) GetPeriod() int {
	if c.Period == nil {
		return DefaultPeriod
	}
	return *c.Period
}

// GetRobust reports whether the decomposition uses robustness weights.
func (c *PipelineConfig) GetRobust() bool {
	if c.Robust == nil {
		return true
	}
	return *c.Robust
}

// GetRobustIterations returns the number of robustness passes.
func (c *PipelineConfig) GetRobustIterations() int {
	if c.RobustIterations == nil {
		return DefaultRobustIterations
	}
	return *c.RobustIterations
}

// GetSnapBoundaries reports whether phase boundaries snap to valid samples.
func (c *PipelineConfig) GetSnapBoundaries() bool {
	if c.SnapBoundaries == nil {
		return false
	}
	return *c.SnapBoundaries
}

// GetPreCompute reports whether the other channels are cleaned in the
// background after a first clean.
func (c *PipelineConfig) GetPreCompute() bool {
	if c.PreCompute == nil {
		return true
	}
	return *c.PreCompute
}

// GetLogging reports whether the orchestrator logs its activity.
func (c *PipelineConfig) GetLogging() bool {
	if c.Logging == nil {
		return true
	}
	return *c.Logging
}

// GetTaskTimeout bounds each background task. Zero means no bound.
func (c *PipelineConfig) GetTaskTimeout() time.Duration {
	if c.TaskTimeout == nil || *c.TaskTimeout == "" {
		return DefaultTaskTimeout
	}
	d, err := time.ParseDuration(*c.TaskTimeout)
	if err != nil {
		return DefaultTaskTimeout
	}
	return d
}

// GetDataDir returns the directory HTTP load requests are confined to, or
// "" when they are not confined.
func (c *PipelineConfig) GetDataDir() string {
	if c.DataDir == nil {
		return ""
	}
	return *c.DataDir
}

// GetDatabasePath returns the SQLite result store path.
func (c *PipelineConfig) GetDatabasePath() string {
	if c.DatabasePath == nil || *c.DatabasePath == "" {
		return DefaultDatabasePath
	}
	return *c.DatabasePath
}

// GetChartDir returns where rendered charts are written.
func (c *PipelineConfig) GetChartDir() string {
	if c.ChartDir == nil || *c.ChartDir == "" {
		return DefaultChartDir
	}
	return *c.ChartDir
}

// GetListen returns the HTTP listen address.
func (c *PipelineConfig) GetListen() string {
	if c.Listen == nil || *c.Listen == "" {
		return DefaultListen
	}
	return *c.Listen
}
