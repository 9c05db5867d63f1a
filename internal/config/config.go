// Package config loads scheduler configuration from file and environment.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"specsched/internal/core/domain"
)

// Config is the full runtime configuration: engine limits, executor
// selection, and where state, audit and history live on disk.
type Config struct {
	Scheduler domain.SchedulerConfig
	Executor  domain.ExecutorConfig

	DataDir           string
	StatePath         string
	FallbackStatePath string
	AuditLogPath      string
	HistoryDBPath     string
	SpecsDir          string
	ServerAddr        string
}

// Load reads specsched.yaml from the working directory or $HOME, overlays
// SPECSCHED_* environment variables, and fills everything else with
// defaults. A missing config file is not an error.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("specsched")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME")
	v.SetEnvPrefix("SPECSCHED")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	return fromViper(v)
}

// LoadFile reads configuration from an explicit path plus the environment.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("SPECSCHED")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return fromViper(v)
}

func setDefaults(v *viper.Viper) {
	def := domain.DefaultSchedulerConfig()

	v.SetDefault("data_dir", ".specsched")
	v.SetDefault("server.addr", ":8090")

	v.SetDefault("scheduler.max_concurrent_tasks", def.MaxConcurrentTasks)
	v.SetDefault("scheduler.max_load_ratio", def.MaxLoadRatio)
	v.SetDefault("scheduler.max_memory_pressure", def.MaxMemoryPressure)
	v.SetDefault("scheduler.high_impact_cpu_percent", def.HighImpactCPUPercent)
	v.SetDefault("scheduler.high_impact_load_ratio", def.HighImpactLoadRatio)
	v.SetDefault("scheduler.admission_poll_interval", def.AdmissionPollInterval)
	v.SetDefault("scheduler.admission_timeout", def.AdmissionTimeout)
	v.SetDefault("scheduler.execution_timeout_slack", def.ExecutionTimeoutSlack)

	v.SetDefault("executor.mode", "simulated")
	v.SetDefault("executor.command", "")
	v.SetDefault("executor.image", "")
	v.SetDefault("executor.simulated_failure_rate", 0.0)
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Scheduler: domain.SchedulerConfig{
			MaxConcurrentTasks:    v.GetInt("scheduler.max_concurrent_tasks"),
			MaxLoadRatio:          v.GetFloat64("scheduler.max_load_ratio"),
			MaxMemoryPressure:     v.GetFloat64("scheduler.max_memory_pressure"),
			HighImpactCPUPercent:  v.GetFloat64("scheduler.high_impact_cpu_percent"),
			HighImpactLoadRatio:   v.GetFloat64("scheduler.high_impact_load_ratio"),
			AdmissionPollInterval: v.GetDuration("scheduler.admission_poll_interval"),
			AdmissionTimeout:      v.GetDuration("scheduler.admission_timeout"),
			ExecutionTimeoutSlack: v.GetDuration("scheduler.execution_timeout_slack"),
		},
		Executor: domain.ExecutorConfig{
			Mode:                 v.GetString("executor.mode"),
			Command:              v.GetString("executor.command"),
			Image:                v.GetString("executor.image"),
			SimulatedFailureRate: v.GetFloat64("executor.simulated_failure_rate"),
		},
		DataDir:    v.GetString("data_dir"),
		ServerAddr: v.GetString("server.addr"),
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}

	// Derived paths honor explicit overrides but default under data_dir.
	cfg.StatePath = orDefault(v.GetString("state_path"), filepath.Join(cfg.DataDir, "state.json"))
	cfg.FallbackStatePath = orDefault(v.GetString("fallback_state_path"), filepath.Join(cfg.DataDir, "state.fallback.json"))
	cfg.AuditLogPath = orDefault(v.GetString("audit_log_path"), filepath.Join(cfg.DataDir, "audit.jsonl"))
	cfg.HistoryDBPath = orDefault(v.GetString("history_db_path"), filepath.Join(cfg.DataDir, "history.db"))
	cfg.SpecsDir = orDefault(v.GetString("specs_dir"), filepath.Join(cfg.DataDir, "specs"))

	return cfg, nil
}

func validate(cfg *Config) error {
	if cfg.Scheduler.MaxConcurrentTasks <= 0 {
		return fmt.Errorf("scheduler.max_concurrent_tasks must be positive, got %d", cfg.Scheduler.MaxConcurrentTasks)
	}
	if cfg.Scheduler.MaxLoadRatio <= 0 || cfg.Scheduler.MaxMemoryPressure <= 0 {
		return fmt.Errorf("scheduler load and memory thresholds must be positive")
	}
	if cfg.Scheduler.AdmissionPollInterval <= 0 || cfg.Scheduler.AdmissionTimeout <= 0 {
		return fmt.Errorf("scheduler admission intervals must be positive")
	}
	if cfg.Scheduler.AdmissionTimeout < cfg.Scheduler.AdmissionPollInterval {
		return fmt.Errorf("scheduler.admission_timeout (%s) is shorter than the poll interval (%s)",
			cfg.Scheduler.AdmissionTimeout, cfg.Scheduler.AdmissionPollInterval)
	}
	if cfg.Executor.SimulatedFailureRate < 0 || cfg.Executor.SimulatedFailureRate > 1 {
		return fmt.Errorf("executor.simulated_failure_rate must be in [0,1]")
	}
	return nil
}

func orDefault(value, fallback string) string {
	if value != "" {
		return value
	}
	return fallback
}

// TaskDocumentPath is where the task document for a specification lives.
func (c *Config) TaskDocumentPath(specName string) string {
	return filepath.Join(c.SpecsDir, specName, "tasks.yaml")
}
