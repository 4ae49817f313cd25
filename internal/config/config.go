// Package config loads and persists the application configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration.
type Config struct {
	// Data directory configuration
	Data DataConfig `toml:"data"`

	// Training thresholds and hyperparameters
	Training TrainingConfig `toml:"training"`

	// Backup configuration
	Backup BackupConfig `toml:"backup"`

	// Application configuration
	App AppConfig `toml:"app"`
}

// DataConfig contains storage locations.
type DataConfig struct {
	Dir string `toml:"dir"` // Root data directory (profiles, models, history DB)
}

// TrainingConfig contains personal-model training settings.
type TrainingConfig struct {
	MinGames     int     `toml:"min_games"`     // Games required before training is considered
	MinSamples   int     `toml:"min_samples"`   // Minimum (vector,label) pairs per training run
	Milestones   []int   `toml:"milestones"`    // Exact game counts that trigger a retrain
	LearningRate float64 `toml:"learning_rate"` // Gradient-descent step size
	L2Penalty    float64 `toml:"l2_penalty"`    // Weight-decay coefficient
	MaxEpochs    int     `toml:"max_epochs"`    // Upper bound on training passes
	WatchModels  bool    `toml:"watch_models"`  // Invalidate cached models on artifact changes
}

// BackupConfig contains encrypted backup settings.
type BackupConfig struct {
	Dir string `toml:"dir"` // Backup directory ("" = <data dir>/backups)
}

// AppConfig contains general application settings.
type AppConfig struct {
	DebugMode bool `toml:"debug_mode"` // Enable debug logging
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Data: DataConfig{
			Dir: "data",
		},
		Training: TrainingConfig{
			MinGames:     5,
			MinSamples:   10,
			Milestones:   []int{5, 10, 15, 20},
			LearningRate: 0.05,
			L2Penalty:    0.01,
			MaxEpochs:    500,
			WatchModels:  true,
		},
		Backup: BackupConfig{
			Dir: "",
		},
		App: AppConfig{
			DebugMode: false,
		},
	}
}

// Load reads the configuration from path. A missing file yields the
// defaults; a malformed file is an error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return cfg, nil
}

// Save writes the configuration to path, creating parent directories as
// needed.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// IsMilestone reports whether totalGames is one of the configured retrain
// milestones. Matching is exact, not ">=": a retrain fires when the counter
// lands on a milestone, never in between.
func (t *TrainingConfig) IsMilestone(totalGames int) bool {
	for _, m := range t.Milestones {
		if totalGames == m {
			return true
		}
	}
	return false
}
