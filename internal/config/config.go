package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds engine configuration. Every tunable lives here; nothing in
// the matching or reconciliation paths hard-codes a threshold.
type Config struct {
	Database   DatabaseConfig
	Rules      RulesConfig
	Review     ReviewConfig
	Duplicates DuplicatesConfig
	Reconcile  ReconcileConfig
	Feedback   FeedbackConfig
}

// DatabaseConfig holds sqlite settings.
type DatabaseConfig struct {
	Path           string
	MigrationsPath string `mapstructure:"migrations_path"`
}

// RulesConfig tunes the rule matcher.
type RulesConfig struct {
	FuzzyThreshold float64 `mapstructure:"fuzzy_threshold"`
}

// ReviewConfig tunes the confidence gate.
type ReviewConfig struct {
	Threshold float64
}

// DuplicatesConfig tunes duplicate detection.
type DuplicatesConfig struct {
	WindowDays   int     `mapstructure:"window_days"`
	Similarity   float64 `mapstructure:"similarity"`
	EpsilonCents int64   `mapstructure:"epsilon_cents"`
	MaxWindow    int     `mapstructure:"max_window"`
}

// ReconcileConfig tunes ledger matching and the per-scope lock.
type ReconcileConfig struct {
	DateToleranceDays  int           `mapstructure:"date_tolerance_days"`
	AmountEpsilonCents int64         `mapstructure:"amount_epsilon_cents"`
	LockRetries        uint64        `mapstructure:"lock_retries"`
	LockInitialBackoff time.Duration `mapstructure:"lock_initial_backoff"`
	LockMaxBackoff     time.Duration `mapstructure:"lock_max_backoff"`
	LargeAmountCents   int64         `mapstructure:"large_amount_cents"`
}

// FeedbackConfig tunes correction handling.
type FeedbackConfig struct {
	Alpha        float64 `mapstructure:"alpha"`
	PromoteAfter int     `mapstructure:"promote_after"`
}

// Load reads configuration from file and env. Env var overrides use prefix
// COUNTINGHOUSE_, e.g. COUNTINGHOUSE_REVIEW_THRESHOLD=0.9.
func Load() (Config, error) {
	v := viper.New()

	// default values
	v.SetDefault("database.path", filepath.Join(os.Getenv("HOME"), ".local", "share", "countinghouse", "countinghouse.db"))
	v.SetDefault("database.migrations_path", "internal/database/migrations")
	v.SetDefault("rules.fuzzy_threshold", 0.85)
	v.SetDefault("review.threshold", 0.85)
	v.SetDefault("duplicates.window_days", 3)
	v.SetDefault("duplicates.similarity", 0.8)
	v.SetDefault("duplicates.epsilon_cents", 0)
	v.SetDefault("duplicates.max_window", 2000)
	v.SetDefault("reconcile.date_tolerance_days", 3)
	v.SetDefault("reconcile.amount_epsilon_cents", 1)
	v.SetDefault("reconcile.lock_retries", 8)
	v.SetDefault("reconcile.lock_initial_backoff", "25ms")
	v.SetDefault("reconcile.lock_max_backoff", "500ms")
	v.SetDefault("reconcile.large_amount_cents", 1_000_000)
	v.SetDefault("feedback.alpha", 0.3)
	v.SetDefault("feedback.promote_after", 3)

	v.SetConfigType("toml")

	cfgPath := os.Getenv("COUNTINGHOUSE_CONFIG")
	if cfgPath != "" {
		v.SetConfigFile(cfgPath)
	} else {
		v.AddConfigPath(filepath.Join(os.Getenv("HOME"), ".config", "countinghouse"))
		v.SetConfigName("config")
	}

	v.SetEnvPrefix("COUNTINGHOUSE")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// read config file if present
	_ = v.ReadInConfig()

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := c.validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c Config) validate() error {
	if c.Review.Threshold < 0 || c.Review.Threshold > 1 {
		return fmt.Errorf("review.threshold %v out of [0,1]", c.Review.Threshold)
	}
	if c.Duplicates.Similarity < 0 || c.Duplicates.Similarity > 1 {
		return fmt.Errorf("duplicates.similarity %v out of [0,1]", c.Duplicates.Similarity)
	}
	if c.Rules.FuzzyThreshold < 0 || c.Rules.FuzzyThreshold > 1 {
		return fmt.Errorf("rules.fuzzy_threshold %v out of [0,1]", c.Rules.FuzzyThreshold)
	}
	if c.Feedback.Alpha <= 0 || c.Feedback.Alpha >= 1 {
		return fmt.Errorf("feedback.alpha %v out of (0,1)", c.Feedback.Alpha)
	}
	if c.Feedback.PromoteAfter < 1 {
		return fmt.Errorf("feedback.promote_after %d must be positive", c.Feedback.PromoteAfter)
	}
	if c.Duplicates.EpsilonCents < 0 {
		return fmt.Errorf("duplicates.epsilon_cents %d must not be negative", c.Duplicates.EpsilonCents)
	}
	if c.Duplicates.MaxWindow < 2 {
		return fmt.Errorf("duplicates.max_window %d too small to compare pairs", c.Duplicates.MaxWindow)
	}
	return nil
}
