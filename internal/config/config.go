// Package config holds all custodian configuration.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Config holds all custodian configuration.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Database  DatabaseConfig  `toml:"database"`
	Embedding EmbeddingConfig `toml:"embedding"`
	Timing    TimingConfig    `toml:"timing"`
	Scheduler SchedulerConfig `toml:"scheduler"`
	Scoring   ScoringConfig   `toml:"scoring"`
}

type ServerConfig struct {
	Bind string `toml:"bind"`
	Port int    `toml:"port"`
}

type DatabaseConfig struct {
	Path string `toml:"path"`
}

type EmbeddingConfig struct {
	Provider   string `toml:"provider"` // "ollama", "tfidf"
	OllamaURL  string `toml:"ollama_url"`
	Model      string `toml:"model"` // e.g. "nomic-embed-text"
	Dimensions int    `toml:"dimensions"`
}

// TimingConfig gates when background maintenance may run.
type TimingConfig struct {
	UserRest      UserRestConfig      `toml:"user_rest_hours"`
	SystemIdle    SystemIdleConfig    `toml:"system_idle"`
	Collaboration CollaborationConfig `toml:"collaboration"`
	Micro         MicroConfig         `toml:"real_time_micro"`
}

// UserRestConfig is an HH band; start > end wraps past midnight.
type UserRestConfig struct {
	StartHour int  `toml:"start_hour"`
	EndHour   int  `toml:"end_hour"`
	Enabled   bool `toml:"enabled"`
}

type SystemIdleConfig struct {
	QuietStartHour  int     `toml:"quiet_start_hour"`
	QuietEndHour    int     `toml:"quiet_end_hour"`
	CPUThreshold    float64 `toml:"cpu_threshold"`    // percent
	MemoryThreshold float64 `toml:"memory_threshold"` // percent
	Enabled         bool    `toml:"enabled"`
}

type CollaborationConfig struct {
	WeekendEnabled bool          `toml:"weekend_enabled"`
	DailyWindows   []DailyWindow `toml:"daily_windows"`
	Enabled        bool          `toml:"enabled"`
}

// DailyWindow is an HH:MM–HH:MM band.
type DailyWindow struct {
	Start   string `toml:"start"`
	End     string `toml:"end"`
	Enabled bool   `toml:"enabled"`
}

type MicroConfig struct {
	MaxDurationMinutes int  `toml:"max_duration_minutes"`
	Enabled            bool `toml:"enabled"`
}

type SchedulerConfig struct {
	TickSeconds            int  `toml:"tick_seconds"`
	SkipExecutionOnStartup bool `toml:"skip_execution_on_startup"`
	StartupDelayMinutes    int  `toml:"startup_delay_minutes"`
	DailyOnceCooldownHours int  `toml:"daily_once_cooldown_hours"`
	MaxAttempts            int  `toml:"max_attempts"`
}

// ScoringConfig carries the verdict weights and thresholds. The values are
// empirical; they are configuration, not algorithm.
type ScoringConfig struct {
	ConsistencyWeight  float64 `toml:"consistency_weight"`
	RiskWeight         float64 `toml:"risk_weight"`
	CompletenessWeight float64 `toml:"completeness_weight"`
	RiskCeiling        float64 `toml:"risk_ceiling"`      // rewrite above this risk
	ConfidenceFloor    float64 `toml:"confidence_floor"`  // rewrite below this confidence
	DeleteConfidence   float64 `toml:"delete_confidence"` // delete below this...
	DeleteRisk         float64 `toml:"delete_risk"`       // ...when risk exceeds this
	ArchiveThreshold   float64 `toml:"archive_threshold"` // archive kept records below this
	BatchSize          int     `toml:"batch_size"`
}

// Default returns a Config with the stock maintenance windows and weights.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Bind: "127.0.0.1",
			Port: 37911,
		},
		Database: DatabaseConfig{
			Path: "", // resolved at runtime via store.DefaultDBPath()
		},
		Embedding: EmbeddingConfig{
			Provider:   "ollama",
			OllamaURL:  "http://localhost:11434",
			Model:      "nomic-embed-text",
			Dimensions: 768,
		},
		Timing: TimingConfig{
			UserRest: UserRestConfig{StartHour: 22, EndHour: 6, Enabled: true},
			SystemIdle: SystemIdleConfig{
				QuietStartHour:  2,
				QuietEndHour:    6,
				CPUThreshold:    30.0,
				MemoryThreshold: 70.0,
				Enabled:         true,
			},
			Collaboration: CollaborationConfig{
				WeekendEnabled: true,
				DailyWindows: []DailyWindow{
					{Start: "02:00", End: "04:00", Enabled: true},
					{Start: "14:00", End: "16:00", Enabled: true},
				},
				Enabled: true,
			},
			Micro: MicroConfig{MaxDurationMinutes: 5, Enabled: true},
		},
		Scheduler: SchedulerConfig{
			TickSeconds:            60,
			SkipExecutionOnStartup: true,
			StartupDelayMinutes:    120,
			DailyOnceCooldownHours: 2,
			MaxAttempts:            3,
		},
		Scoring: ScoringConfig{
			ConsistencyWeight:  0.5,
			RiskWeight:         0.3,
			CompletenessWeight: 0.2,
			RiskCeiling:        0.3,
			ConfidenceFloor:    0.7,
			DeleteConfidence:   0.2,
			DeleteRisk:         0.6,
			ArchiveThreshold:   0.35,
			BatchSize:          10,
		},
	}
}

// Load reads a TOML config file over the defaults. Unknown keys are
// ignored; a missing file returns the defaults untouched.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// ListenAddr returns the bind:port address string.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Bind, c.Server.Port)
}
