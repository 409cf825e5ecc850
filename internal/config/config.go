// Package config defines the top-level configuration for vestd and provides
// validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by VESTD_* environment variables.
type Config struct {
	Chain    ChainConfig    `toml:"chain"`
	Registry RegistryConfig `toml:"registry"`
	Vesting  VestingConfig  `toml:"vesting"`
	Roles    RolesConfig    `toml:"roles"`
	Signer   SignerConfig   `toml:"signer"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Archive  ArchiveConfig  `toml:"archive"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
	Storage  string         `toml:"storage"`
	Replay   string         `toml:"replay"`
}

// ChainConfig identifies the EIP-712 domain signatures are bound to.
type ChainConfig struct {
	ChainID           uint64 `toml:"chain_id"`
	DomainName        string `toml:"domain_name"`
	DomainVersion     string `toml:"domain_version"`
	VerifyingContract string `toml:"verifying_contract"`
}

// RegistryConfig seeds the collaborator address registry.
type RegistryConfig struct {
	Token       string `toml:"token"`
	Reserve     string `toml:"reserve"`
	Custody     string `toml:"custody"`
	Signer      string `toml:"signer"`
	Staking     string `toml:"staking"`
	Governance  string `toml:"governance"`
	Collectible string `toml:"collectible"`
}

// VestingConfig holds ledger parameters.
type VestingConfig struct {
	PeriodUnit  duration `toml:"period_unit"`
	MaxPageSize int      `toml:"max_page_size"`
	// LockWait bounds how long a write waits behind the one in progress.
	LockWait duration `toml:"lock_wait"`
	// ReserveFunding is minted to the reserve and approved for custody at
	// startup, as a base-10 amount. Empty skips seeding.
	ReserveFunding string `toml:"reserve_funding"`
}

// RolesConfig seeds role membership.
type RolesConfig struct {
	Admin  []string `toml:"admin"`
	Pauser []string `toml:"pauser"`
	Minter []string `toml:"minter"`
	Reader []string `toml:"reader"`
}

// SignerConfig names the operator signing key used by vestsign.
type SignerConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
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

	// ResetProjection clears positions left by an earlier run at startup
	// instead of refusing to start.
	ResetProjection bool `toml:"reset_projection"`
}

// RedisConfig holds Redis connection parameters. An empty Addr disables
// every Redis-backed component.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	Prefix     string `toml:"prefix"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig controls the periodic audit log export.
type ArchiveConfig struct {
	Enabled bool `toml:"enabled"`
	// Interval between archive runs.
	Interval duration `toml:"interval"`
	// Retention is how long an event stays out of the archive; each run
	// exports events older than now minus Retention.
	Retention duration `toml:"retention"`
	LockTTL   duration `toml:"lock_ttl"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	CallerSkew  duration `toml:"caller_skew"`
	RateLimit   int      `toml:"rate_limit"`
	RateWindow  duration `toml:"rate_window"`
	WSBacklog   int      `toml:"ws_backlog"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding.
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with sensible defaults for local
// development.
func Defaults() Config {
	return Config{
		Chain: ChainConfig{
			ChainID:       31337,
			DomainName:    "vestd",
			DomainVersion: "1",
		},
		Vesting: VestingConfig{
			PeriodUnit:  duration{30 * 24 * time.Hour},
			LockWait:    duration{5 * time.Second},
			MaxPageSize: 100,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "vestd",
			User:          "vestd",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			PoolSize:   10,
			MaxRetries: 3,
			Prefix:     "vestd:",
		},
		S3: S3Config{
			Region:         "us-east-1",
			Bucket:         "vestd-archive",
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Interval:  duration{time.Hour},
			Retention: duration{24 * time.Hour},
			LockTTL:   duration{10 * time.Minute},
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000"},
			CallerSkew:  duration{5 * time.Minute},
			RateWindow:  duration{time.Second},
			WSBacklog:   50,
		},
		Notify: NotifyConfig{
			Events: []string{"position_burned", "paused", "unpaused", "registry_updated"},
		},
		Mode:     "server",
		LogLevel: "info",
		Storage:  "memory",
		Replay:   "memory",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"server":  true,
	"archive": true,
	"full":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}
	mode := strings.ToLower(c.Mode)

	if !validModes[mode] {
		add("unknown mode %q (valid: server, archive, full)", c.Mode)
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		add("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel)
	}
	if c.Storage != "memory" && c.Storage != "postgres" {
		add("unknown storage %q (valid: memory, postgres)", c.Storage)
	}
	if c.Replay != "memory" && c.Replay != "redis" {
		add("unknown replay %q (valid: memory, redis)", c.Replay)
	}

	// Chain
	if c.Chain.ChainID == 0 {
		add("chain: chain_id must be positive")
	}
	if c.Chain.DomainName == "" {
		add("chain: domain_name must not be empty")
	}
	if c.Chain.VerifyingContract != "" && !common.IsHexAddress(c.Chain.VerifyingContract) {
		add("chain: verifying_contract %q is not a hex address", c.Chain.VerifyingContract)
	}

	// Registry
	for _, f := range []struct {
		name, value string
		required    bool
	}{
		{"token", c.Registry.Token, false},
		{"reserve", c.Registry.Reserve, true},
		{"custody", c.Registry.Custody, true},
		{"signer", c.Registry.Signer, true},
		{"staking", c.Registry.Staking, false},
		{"governance", c.Registry.Governance, false},
		{"collectible", c.Registry.Collectible, false},
	} {
		switch {
		case f.value == "" && f.required:
			add("registry: %s must be set", f.name)
		case f.value != "" && !common.IsHexAddress(f.value):
			add("registry: %s %q is not a hex address", f.name, f.value)
		}
	}

	// Roles
	if len(c.Roles.Admin) == 0 {
		add("roles: at least one admin is required")
	}
	for role, list := range map[string][]string{
		"admin": c.Roles.Admin, "pauser": c.Roles.Pauser,
		"minter": c.Roles.Minter, "reader": c.Roles.Reader,
	} {
		for _, a := range list {
			if !common.IsHexAddress(a) {
				add("roles: %s entry %q is not a hex address", role, a)
			}
		}
	}

	// Vesting
	if c.Vesting.PeriodUnit.Duration < time.Second {
		add("vesting: period_unit must be at least 1s")
	}
	if c.Vesting.LockWait.Duration <= 0 {
		add("vesting: lock_wait must be positive")
	}
	if c.Vesting.MaxPageSize < 1 {
		add("vesting: max_page_size must be >= 1")
	}
	if c.Vesting.ReserveFunding != "" {
		if _, err := uint256.FromDecimal(c.Vesting.ReserveFunding); err != nil {
			add("vesting: reserve_funding %q is not a base-10 amount", c.Vesting.ReserveFunding)
		}
		if len(c.Roles.Minter) == 0 {
			add("vesting: reserve_funding requires at least one roles.minter")
		}
	}

	// Signer
	if c.Signer.EncryptedKeyPath != "" && c.Signer.KeyPassword == "" {
		add("signer: key_password is required when encrypted_key_path is set")
	}

	// Postgres
	needsPostgres := c.Storage == "postgres" || c.Archive.Enabled
	if needsPostgres {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				add("postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				add("postgres: port must be 1-65535, got %d", c.Postgres.Port)
			}
			if c.Postgres.Database == "" {
				add("postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			add("postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			add("postgres: pool_min_conns must be between 0 and pool_max_conns")
		}
	}
	if c.Archive.Enabled && c.Storage != "postgres" {
		add("archive: requires storage = \"postgres\"")
	}

	// Redis
	if c.Redis.Addr == "" {
		if c.Replay == "redis" {
			add("redis: addr is required for replay = \"redis\"")
		}
		if c.Archive.Enabled {
			add("redis: addr is required for the archive lock")
		}
	} else if c.Redis.PoolSize < 1 {
		add("redis: pool_size must be >= 1")
	}

	// Archive
	if mode == "archive" && !c.Archive.Enabled {
		add("archive: mode archive requires archive.enabled")
	}
	if c.Archive.Enabled {
		if c.S3.Bucket == "" {
			add("s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			add("s3: region must not be empty")
		}
		if c.Archive.Interval.Duration <= 0 {
			add("archive: interval must be > 0")
		}
		if c.Archive.Retention.Duration < 0 {
			add("archive: retention must be >= 0")
		}
		if c.Archive.LockTTL.Duration <= 0 {
			add("archive: lock_ttl must be > 0")
		}
	}

	// Server
	if c.Server.Enabled && mode != "archive" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			add("server: port must be 1-65535, got %d", c.Server.Port)
		}
		if c.Server.CallerSkew.Duration <= 0 {
			add("server: caller_skew must be > 0")
		}
		if c.Server.RateLimit < 0 {
			add("server: rate_limit must be >= 0")
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			add("server: rate_window must be > 0 when rate_limit is set")
		}
		if c.Server.RateLimit > 0 && c.Redis.Addr == "" {
			add("server: rate_limit requires redis.addr")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
