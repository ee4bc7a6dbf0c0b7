package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies LENDCORE_* environment variable overrides,
// and returns the final Config. The returned Config has NOT been
// validated; the caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known LENDCORE_* environment variables
// and overwrites the corresponding Config fields when a variable is
// set. This lets operators inject secrets at deploy time without
// touching the TOML file. Pool definitions are file-only.
func applyEnvOverrides(cfg *Config) {
	// ── Top-level ──
	setStr(&cfg.Compare, "LENDCORE_COMPARE")
	setStr(&cfg.Mode, "LENDCORE_MODE")
	setStr(&cfg.LogLevel, "LENDCORE_LOG_LEVEL")

	// ── Interest ──
	setDuration(&cfg.Interest.ChargingPeriod, "LENDCORE_INTEREST_CHARGING_PERIOD")
	setDuration(&cfg.Interest.RecordingPeriod, "LENDCORE_INTEREST_RECORDING_PERIOD")

	// ── Feed ──
	setStr(&cfg.Feed.WsURL, "LENDCORE_FEED_WS_URL")

	// ── AMM ──
	setStr(&cfg.AMM.BaseURL, "LENDCORE_AMM_BASE_URL")
	setStr(&cfg.AMM.APIKey, "LENDCORE_AMM_API_KEY")
	setInt(&cfg.AMM.RateLimit, "LENDCORE_AMM_RATE_LIMIT")
	setDuration(&cfg.AMM.RateWindow, "LENDCORE_AMM_RATE_WINDOW")
	setBool(&cfg.AMM.DetectOnly, "LENDCORE_AMM_DETECT_ONLY")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "LENDCORE_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "LENDCORE_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "LENDCORE_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "LENDCORE_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "LENDCORE_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "LENDCORE_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "LENDCORE_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "LENDCORE_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "LENDCORE_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "LENDCORE_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "LENDCORE_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "LENDCORE_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "LENDCORE_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "LENDCORE_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "LENDCORE_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "LENDCORE_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "LENDCORE_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "LENDCORE_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "LENDCORE_S3_REGION")
	setStr(&cfg.S3.Bucket, "LENDCORE_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "LENDCORE_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "LENDCORE_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "LENDCORE_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "LENDCORE_S3_FORCE_PATH_STYLE")
	setDuration(&cfg.S3.ArchiveRetention, "LENDCORE_S3_ARCHIVE_RETENTION")
	setDuration(&cfg.S3.ArchiveInterval, "LENDCORE_S3_ARCHIVE_INTERVAL")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "LENDCORE_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "LENDCORE_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "LENDCORE_SERVER_CORS_ORIGINS")
	setStringSlice(&cfg.Server.APIKeys, "LENDCORE_SERVER_API_KEYS")
	setInt(&cfg.Server.RateLimit, "LENDCORE_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "LENDCORE_SERVER_RATE_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "LENDCORE_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "LENDCORE_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "LENDCORE_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "LENDCORE_NOTIFY_EVENTS")

	// ── Governance ──
	setStr(&cfg.Governance.Address, "LENDCORE_GOVERNANCE_ADDRESS")
	setStr(&cfg.Governance.SignerKey, "LENDCORE_GOVERNANCE_SIGNER_KEY")
	setStr(&cfg.Governance.EncryptedKeyPath, "LENDCORE_GOVERNANCE_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Governance.KeyPassword, "LENDCORE_GOVERNANCE_KEY_PASSWORD")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
