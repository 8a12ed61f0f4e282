package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full service configuration, loaded from config.yaml with
// NAVFLOW_* environment overrides.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Valuation ValuationConfig `mapstructure:"valuation"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Notify    NotifyConfig    `mapstructure:"notify"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
}

type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

// ValuationConfig carries the calculator thresholds.
type ValuationConfig struct {
	MovementWarnPct  float64 `mapstructure:"movement_warn_pct"`
	MovementErrorPct float64 `mapstructure:"movement_error_pct"`
	StalePriceDays   int     `mapstructure:"stale_price_days"`
}

// SchedulerConfig is the trading-calendar and retry policy for daily runs.
type SchedulerConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Timezone    string        `mapstructure:"timezone"`
	CutoffHour  int           `mapstructure:"cutoff_hour"`
	CutoffMin   int           `mapstructure:"cutoff_min"`
	Holidays    []string      `mapstructure:"holidays"` // YYYY-MM-DD
	MaxRetries  int           `mapstructure:"max_retries"`
	RetryDelay  time.Duration `mapstructure:"retry_delay"`
	// AutoApprovePct is evaluated informationally only; no approval
	// transition is driven from it.
	AutoApprovePct float64 `mapstructure:"auto_approve_pct"`
}

type NotifyConfig struct {
	Recipients []string `mapstructure:"recipients"`
}

// Load reads configuration from the given path (or the working directory when
// empty), applying defaults and NAVFLOW_* environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if path != "" {
		v.AddConfigPath(path)
	}
	v.AddConfigPath(".")

	v.SetEnvPrefix("NAVFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// A missing file is fine; defaults and env cover everything.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("database.dsn", "navflow.db")
	v.SetDefault("auth.jwt_secret", "navflow-secret-key")
	v.SetDefault("valuation.movement_warn_pct", 5.0)
	v.SetDefault("valuation.movement_error_pct", 10.0)
	v.SetDefault("valuation.stale_price_days", 2)
	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.timezone", "Europe/Luxembourg")
	v.SetDefault("scheduler.cutoff_hour", 18)
	v.SetDefault("scheduler.cutoff_min", 0)
	v.SetDefault("scheduler.max_retries", 3)
	v.SetDefault("scheduler.retry_delay", 10*time.Minute)
	v.SetDefault("scheduler.auto_approve_pct", 0.0)
	v.SetDefault("notify.recipients", []string{"fund-ops@navflow.local"})
}
