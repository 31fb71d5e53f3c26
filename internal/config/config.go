// Package config provides configuration management using viper.
// It supports loading from YAML files and environment variable overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Points   PointsConfig   `mapstructure:"points"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Mail     MailConfig     `mapstructure:"mail"`
	OCR      OCRConfig      `mapstructure:"ocr"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// Per-user token bucket on the authenticated shopper API.
	RatePerSecond float64 `mapstructure:"rate_per_second"`
	RateBurst     int     `mapstructure:"rate_burst"`
}

// Addr returns the listen address.
func (s *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig holds PostgreSQL connection configuration.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	PoolSize        int           `mapstructure:"pool_size"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
}

// DSN returns the PostgreSQL connection string.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name,
	)
}

// AuthConfig holds session token and credential configuration.
type AuthConfig struct {
	JWTSecret  string        `mapstructure:"jwt_secret"`
	SessionTTL time.Duration `mapstructure:"session_ttl"`
	OTPTTL     time.Duration `mapstructure:"otp_ttl"`
	AdminIDs   []int64       `mapstructure:"admin_ids"`
}

// PointsConfig holds point economy configuration.
type PointsConfig struct {
	// CurrencyPerPoint is the base earn rate: 1 point per this many
	// currency units of receipt amount, floor division.
	CurrencyPerPoint int64 `mapstructure:"currency_per_point"`
	SignupBonus      int64 `mapstructure:"signup_bonus"`
	ExpiryMonths     int   `mapstructure:"expiry_months"`
	WarningDays      int   `mapstructure:"warning_days"`
	VIPSpend         int64 `mapstructure:"vip_spend"`
}

// PipelineConfig holds receipt pipeline thresholds.
type PipelineConfig struct {
	AutoVerifyConfidence float64       `mapstructure:"auto_verify_confidence"`
	MinConfidence        float64       `mapstructure:"min_confidence"`
	MaxAmount            int64         `mapstructure:"max_amount"`
	RateLimitWindow      time.Duration `mapstructure:"rate_limit_window"`
	RateLimitMax         int           `mapstructure:"rate_limit_max"`
	SweepInterval        time.Duration `mapstructure:"sweep_interval"`
}

// MailConfig holds the email delivery collaborator configuration.
type MailConfig struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
	From    string `mapstructure:"from"`
}

// OCRConfig holds the receipt extraction collaborator configuration.
type OCRConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// Load reads configuration from file and environment variables.
// It looks for config.yaml in the given directory.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// Environment variables use underscore separator and uppercase,
	// e.g. DATABASE_HOST, AUTH_JWT_SECRET.
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is OK - env vars can provide all config
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.rate_per_second", 5)
	v.SetDefault("server.rate_burst", 10)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "loyalty")
	v.SetDefault("database.name", "loyalty")
	v.SetDefault("database.pool_size", 20)
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")

	v.SetDefault("auth.session_ttl", "72h")
	v.SetDefault("auth.otp_ttl", "10m")

	v.SetDefault("points.currency_per_point", 100)
	v.SetDefault("points.signup_bonus", 100)
	v.SetDefault("points.expiry_months", 12)
	v.SetDefault("points.warning_days", 7)
	v.SetDefault("points.vip_spend", 1000000)

	v.SetDefault("pipeline.auto_verify_confidence", 0.80)
	v.SetDefault("pipeline.min_confidence", 0.40)
	v.SetDefault("pipeline.max_amount", 10000000)
	v.SetDefault("pipeline.rate_limit_window", "24h")
	v.SetDefault("pipeline.rate_limit_max", 10)
	v.SetDefault("pipeline.sweep_interval", "24h")

	v.SetDefault("ocr.timeout", "30s")
}

// IsAdmin checks if a user ID is in the admin list.
func (c *Config) IsAdmin(userID int64) bool {
	for _, id := range c.Auth.AdminIDs {
		if id == userID {
			return true
		}
	}
	return false
}
