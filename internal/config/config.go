// Package config defines the top-level configuration for the lending
// service and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from
// a TOML file and then optionally overridden by LENDCORE_* environment
// variables.
type Config struct {
	Compare    string           `toml:"compare"`
	Pools      []PoolConfig     `toml:"pools"`
	Interest   InterestConfig   `toml:"interest"`
	Feed       FeedConfig       `toml:"feed"`
	AMM        AMMConfig        `toml:"amm"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Server     ServerConfig     `toml:"server"`
	Notify     NotifyConfig     `toml:"notify"`
	Governance GovernanceConfig `toml:"governance"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// PoolConfig declares one lending pool.
type PoolConfig struct {
	Underlying    string `toml:"underlying"`
	ProtocolToken string `toml:"protocol_token"`
	// InitialRateNum/Den price the protocol token before any supply
	// exists, e.g. 2/100 for an initial rate of 0.02.
	InitialRateNum int64 `toml:"initial_rate_num"`
	InitialRateDen int64 `toml:"initial_rate_den"`

	LiquidationMarginBps uint64 `toml:"liquidation_margin_bps"`
	BaseRateBps          uint64 `toml:"base_rate_bps"`
	MultiplierBps        uint64 `toml:"multiplier_bps"`
	PenaltyRateBps       uint64 `toml:"penalty_rate_bps"`
	// CollateralLimit caps pledged protocol tokens; empty means
	// unlimited. Decimal string so 256-bit values fit.
	CollateralLimit    string `toml:"collateral_limit"`
	Borrowable         bool   `toml:"borrowable"`
	UsableAsCollateral bool   `toml:"usable_as_collateral"`
}

// InterestConfig fixes the accrual cadence shared by all pools.
type InterestConfig struct {
	ChargingPeriod  duration `toml:"charging_period"`
	RecordingPeriod duration `toml:"recording_period"`
}

// FeedConfig holds the upstream price stream parameters.
type FeedConfig struct {
	WsURL string `toml:"ws_url"`
}

// AMMConfig holds the swap venue parameters.
type AMMConfig struct {
	BaseURL    string   `toml:"base_url"`
	APIKey     string   `toml:"api_key"`
	RateLimit  int      `toml:"rate_limit"`
	RateWindow duration `toml:"rate_window"`
	DetectOnly bool     `toml:"detect_only"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for the
// liquidation archive.
type S3Config struct {
	Enabled          bool     `toml:"enabled"`
	Endpoint         string   `toml:"endpoint"`
	Region           string   `toml:"region"`
	Bucket           string   `toml:"bucket"`
	AccessKey        string   `toml:"access_key"`
	SecretKey        string   `toml:"secret_key"`
	UseSSL           bool     `toml:"use_ssl"`
	ForcePathStyle   bool     `toml:"force_path_style"`
	ArchiveRetention duration `toml:"archive_retention"`
	ArchiveInterval  duration `toml:"archive_interval"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKeys     []string `toml:"api_keys"`
	// RateLimit caps requests per client per RateWindow; zero disables
	// server-side rate limiting.
	RateLimit  int      `toml:"rate_limit"`
	RateWindow duration `toml:"rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// GovernanceConfig names who may change risk parameters.
type GovernanceConfig struct {
	// Address is the secp256k1 address authorized to sign updates.
	Address string `toml:"address"`
	// SignerKey, EncryptedKeyPath, and KeyPassword resolve the local
	// signing key for the CLI path; verification only needs Address.
	SignerKey        string `toml:"signer_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// duration wraps time.Duration for TOML string decoding ("5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Compare: "USD",
		Interest: InterestConfig{
			ChargingPeriod:  duration{24 * time.Hour},
			RecordingPeriod: duration{24 * time.Hour},
		},
		Feed: FeedConfig{
			WsURL: "wss://oracle.example.com/stream",
		},
		AMM: AMMConfig{
			BaseURL:    "http://localhost:9100/api/v1",
			RateLimit:  10,
			RateWindow: duration{time.Second},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "lendcore",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Enabled:          false,
			Endpoint:         "http://localhost:9000",
			Region:           "us-east-1",
			Bucket:           "lendcore-archive",
			ForcePathStyle:   true,
			ArchiveRetention: duration{90 * 24 * time.Hour},
			ArchiveInterval:  duration{time.Hour},
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000"},
			RateLimit:   100,
			RateWindow:  duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"liquidation_triggered", "liquidation_settled", "liquidation_failed", "error"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"core":    true,
	"monitor": true,
	"server":  true,
	"full":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and
// returns a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: core, monitor, server, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if strings.TrimSpace(c.Compare) == "" {
		errs = append(errs, "compare currency brand must not be empty")
	}

	if len(c.Pools) == 0 {
		errs = append(errs, "at least one pool must be configured")
	}
	seenUnderlying := map[string]bool{}
	seenToken := map[string]bool{}
	for i, p := range c.Pools {
		where := fmt.Sprintf("pools[%d]", i)
		if p.Underlying == "" {
			errs = append(errs, where+": underlying must not be empty")
		}
		if p.ProtocolToken == "" {
			errs = append(errs, where+": protocol_token must not be empty")
		}
		if seenUnderlying[p.Underlying] {
			errs = append(errs, where+": duplicate underlying "+p.Underlying)
		}
		if seenToken[p.ProtocolToken] {
			errs = append(errs, where+": duplicate protocol_token "+p.ProtocolToken)
		}
		seenUnderlying[p.Underlying] = true
		seenToken[p.ProtocolToken] = true
		if p.InitialRateNum <= 0 || p.InitialRateDen <= 0 {
			errs = append(errs, where+": initial_rate_num and initial_rate_den must be positive")
		}
		if p.Borrowable && p.LiquidationMarginBps <= 10_000 {
			errs = append(errs, where+": liquidation_margin_bps must exceed 10000 for a borrowable pool")
		}
	}

	if c.Interest.RecordingPeriod.Duration <= 0 {
		errs = append(errs, "interest: recording_period must be positive")
	}
	if c.Interest.ChargingPeriod.Duration <= 0 {
		errs = append(errs, "interest: charging_period must be positive")
	}

	if c.Feed.WsURL == "" {
		errs = append(errs, "feed: ws_url must not be empty")
	}

	needsAMM := c.Mode == "core" || c.Mode == "full"
	if needsAMM && !c.AMM.DetectOnly && c.AMM.BaseURL == "" {
		errs = append(errs, "amm: base_url is required unless detect_only is set")
	}

	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when enabled")
		}
	}

	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if c.Governance.Address == "" {
		errs = append(errs, "governance: address must not be empty")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
