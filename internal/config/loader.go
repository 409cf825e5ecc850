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
// built-in defaults, applies VESTD_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after
// Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known VESTD_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Chain ──
	setUint64(&cfg.Chain.ChainID, "VESTD_CHAIN_ID")
	setStr(&cfg.Chain.DomainName, "VESTD_CHAIN_DOMAIN_NAME")
	setStr(&cfg.Chain.DomainVersion, "VESTD_CHAIN_DOMAIN_VERSION")
	setStr(&cfg.Chain.VerifyingContract, "VESTD_CHAIN_VERIFYING_CONTRACT")

	// ── Registry ──
	setStr(&cfg.Registry.Token, "VESTD_REGISTRY_TOKEN")
	setStr(&cfg.Registry.Reserve, "VESTD_REGISTRY_RESERVE")
	setStr(&cfg.Registry.Custody, "VESTD_REGISTRY_CUSTODY")
	setStr(&cfg.Registry.Signer, "VESTD_REGISTRY_SIGNER")
	setStr(&cfg.Registry.Staking, "VESTD_REGISTRY_STAKING")
	setStr(&cfg.Registry.Governance, "VESTD_REGISTRY_GOVERNANCE")
	setStr(&cfg.Registry.Collectible, "VESTD_REGISTRY_COLLECTIBLE")

	// ── Vesting ──
	setDuration(&cfg.Vesting.PeriodUnit, "VESTD_VESTING_PERIOD_UNIT")
	setDuration(&cfg.Vesting.LockWait, "VESTD_VESTING_LOCK_WAIT")
	setInt(&cfg.Vesting.MaxPageSize, "VESTD_VESTING_MAX_PAGE_SIZE")
	setStr(&cfg.Vesting.ReserveFunding, "VESTD_VESTING_RESERVE_FUNDING")

	// ── Roles ──
	setStringSlice(&cfg.Roles.Admin, "VESTD_ROLES_ADMIN")
	setStringSlice(&cfg.Roles.Pauser, "VESTD_ROLES_PAUSER")
	setStringSlice(&cfg.Roles.Minter, "VESTD_ROLES_MINTER")
	setStringSlice(&cfg.Roles.Reader, "VESTD_ROLES_READER")

	// ── Signer ──
	setStr(&cfg.Signer.PrivateKey, "VESTD_SIGNER_PRIVATE_KEY")
	setStr(&cfg.Signer.EncryptedKeyPath, "VESTD_SIGNER_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Signer.KeyPassword, "VESTD_SIGNER_KEY_PASSWORD")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "VESTD_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "VESTD_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "VESTD_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "VESTD_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "VESTD_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "VESTD_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "VESTD_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "VESTD_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "VESTD_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "VESTD_POSTGRES_RUN_MIGRATIONS")
	setBool(&cfg.Postgres.ResetProjection, "VESTD_POSTGRES_RESET_PROJECTION")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "VESTD_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "VESTD_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "VESTD_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "VESTD_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "VESTD_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "VESTD_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.Prefix, "VESTD_REDIS_PREFIX")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "VESTD_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "VESTD_S3_REGION")
	setStr(&cfg.S3.Bucket, "VESTD_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "VESTD_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "VESTD_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "VESTD_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "VESTD_S3_FORCE_PATH_STYLE")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "VESTD_ARCHIVE_ENABLED")
	setDuration(&cfg.Archive.Interval, "VESTD_ARCHIVE_INTERVAL")
	setDuration(&cfg.Archive.Retention, "VESTD_ARCHIVE_RETENTION")
	setDuration(&cfg.Archive.LockTTL, "VESTD_ARCHIVE_LOCK_TTL")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "VESTD_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "VESTD_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "VESTD_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "VESTD_SERVER_API_KEY")
	setDuration(&cfg.Server.CallerSkew, "VESTD_SERVER_CALLER_SKEW")
	setInt(&cfg.Server.RateLimit, "VESTD_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "VESTD_SERVER_RATE_WINDOW")
	setInt(&cfg.Server.WSBacklog, "VESTD_SERVER_WS_BACKLOG")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "VESTD_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "VESTD_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "VESTD_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "VESTD_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "VESTD_MODE")
	setStr(&cfg.LogLevel, "VESTD_LOG_LEVEL")
	setStr(&cfg.Storage, "VESTD_STORAGE")
	setStr(&cfg.Replay, "VESTD_REPLAY")
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

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
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
			if p = strings.TrimSpace(p); p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
