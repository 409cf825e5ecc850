package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/vestd/internal/access"
	s3blob "github.com/alanyoungcy/vestd/internal/blob/s3"
	"github.com/alanyoungcy/vestd/internal/cache/redis"
	"github.com/alanyoungcy/vestd/internal/collectible"
	"github.com/alanyoungcy/vestd/internal/config"
	"github.com/alanyoungcy/vestd/internal/crypto"
	"github.com/alanyoungcy/vestd/internal/domain"
	"github.com/alanyoungcy/vestd/internal/events"
	"github.com/alanyoungcy/vestd/internal/notify"
	"github.com/alanyoungcy/vestd/internal/server/handler"
	"github.com/alanyoungcy/vestd/internal/store/postgres"
	"github.com/alanyoungcy/vestd/internal/token"
	"github.com/alanyoungcy/vestd/internal/vesting"
)

// Dependencies bundles everything the application modes need. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Domain   crypto.Domain
	Roles    *access.Roles
	Registry *access.Registry

	// In-process collaborators
	Token     *token.Token
	Receipts  *token.Token
	Owners    *collectible.Registry
	Companion *collectible.Registry

	// Ledger
	Ledger *vesting.Ledger
	Issuer *vesting.Issuer
	Stake  *vesting.StakeInterface
	View   *vesting.AggregateView

	// Stores (nil with in-memory storage)
	PositionStore domain.PositionStore
	AuditStore    domain.AuditStore

	// Redis (nil without redis.addr)
	SignalBus   *redis.SignalBus
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager

	// Archive (nil unless archive.enabled)
	Archiver domain.Archiver

	Publisher *events.Publisher
	Checks    map[string]handler.Check
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(step string, err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, fmt.Errorf("wire: %s: %w", step, err)
	}

	deps := &Dependencies{
		Domain: chainDomain(cfg.Chain),
		Checks: make(map[string]handler.Check),
	}

	// --- PostgreSQL ---
	if cfg.Storage == "postgres" {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			return fail("postgres", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail("postgres migrations", err)
			}
		}
		positions := postgres.NewPositionStore(pgClient.Pool())
		if err := prepareProjection(ctx, positions, cfg.Postgres.ResetProjection, logger); err != nil {
			return fail("postgres projection", err)
		}
		deps.PositionStore = positions
		deps.AuditStore = postgres.NewAuditStore(pgClient.Pool())
		deps.Checks["postgres"] = pgClient.Ping
	}

	// --- Redis ---
	var (
		bus         domain.SignalBus
		redisClient *redis.Client
	)
	if cfg.Redis.Addr != "" {
		var err error
		redisClient, err = redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			Prefix:     cfg.Redis.Prefix,
		})
		if err != nil {
			return fail("redis", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.Checks["redis"] = redisClient.Ping
		bus = deps.SignalBus
	}

	// --- Replay registry ---
	var replays domain.SignatureRegistry = vesting.NewMemorySignatureRegistry()
	if cfg.Replay == "redis" {
		if redisClient == nil {
			return fail("replay", fmt.Errorf("replay = \"redis\" without redis.addr"))
		}
		replays = redis.NewSignatureRegistry(redisClient)
	}

	// --- S3 archive ---
	if cfg.Archive.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail("s3", err)
		}
		if deps.AuditStore == nil {
			return fail("archive", fmt.Errorf("archive requires postgres storage"))
		}
		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client), s3blob.NewReader(s3Client), deps.AuditStore, logger)
		deps.Checks["s3"] = s3Client.Health
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	var notifier events.EventNotifier
	if n := notify.NewNotifier(senders, cfg.Notify.Events, logger); n.Enabled() {
		notifier = n
	}

	deps.Publisher = events.NewPublisher(bus, deps.AuditStore, notifier, logger)

	// --- Access control and collaborators ---
	deps.Roles = access.NewRoles(map[domain.Role][]common.Address{
		domain.RoleAdmin:  addresses(cfg.Roles.Admin),
		domain.RolePauser: addresses(cfg.Roles.Pauser),
		domain.RoleMinter: addresses(cfg.Roles.Minter),
		domain.RoleReader: addresses(cfg.Roles.Reader),
	})
	deps.Registry = access.NewRegistry(registryAddresses(cfg.Registry), deps.Roles)
	deps.Token = token.New("VEST", deps.Roles)
	deps.Receipts = token.New("sVEST", deps.Roles)
	deps.Owners = collectible.New("positions")
	deps.Companion = collectible.New("companions")

	deps.Ledger = vesting.NewLedger(vesting.Deps{
		Token:    deps.Token,
		Owners:   deps.Owners,
		Roles:    deps.Roles,
		Registry: deps.Registry,
		Store:    deps.PositionStore,
		Events:   deps.Publisher,
		Logger:   logger,
		LockWait: cfg.Vesting.LockWait.Duration,
	})
	auth := vesting.NewAuthorizer(deps.Domain, deps.Registry, replays, nil)
	deps.Issuer = vesting.NewIssuer(deps.Ledger, auth, deps.Companion, cfg.Vesting.PeriodUnit.Duration, logger)
	deps.Stake = vesting.NewStakeInterface(deps.Ledger)
	deps.View = vesting.NewAggregateView(deps.Ledger, deps.Token, deps.Receipts, uint64(cfg.Vesting.MaxPageSize))

	if err := seedReserve(ctx, cfg, deps, logger); err != nil {
		return fail("seed reserve", err)
	}
	return deps, cleanup, nil
}

// seedReserve mints the configured funding to the reserve and approves the
// custody account to pull it.
func seedReserve(ctx context.Context, cfg *config.Config, deps *Dependencies, logger *slog.Logger) error {
	if cfg.Vesting.ReserveFunding == "" {
		return nil
	}
	amount, err := uint256.FromDecimal(cfg.Vesting.ReserveFunding)
	if err != nil {
		return fmt.Errorf("parse funding %q: %w", cfg.Vesting.ReserveFunding, err)
	}
	minters := addresses(cfg.Roles.Minter)
	if len(minters) == 0 {
		return fmt.Errorf("reserve_funding needs a minter in roles.minter")
	}
	addrs := deps.Registry.Snapshot()
	if err := deps.Token.Mint(ctx, minters[0], addrs.Reserve, amount); err != nil {
		return fmt.Errorf("mint funding to %s: %w", addrs.Reserve.Hex(), err)
	}
	deps.Token.Approve(addrs.Reserve, addrs.Custody, amount)
	logger.InfoContext(ctx, "reserve funded",
		slog.String("reserve", addrs.Reserve.Hex()),
		slog.String("amount", amount.Dec()),
	)
	return nil
}

// projection is the startup view of the position store.
type projection interface {
	Count(ctx context.Context) (int64, error)
	Truncate(ctx context.Context) error
}

// prepareProjection refuses to reuse a projection left by an earlier run:
// the ledger starts empty and would hand out the same ids again. With reset
// the old rows are cleared instead.
func prepareProjection(ctx context.Context, p projection, reset bool, logger *slog.Logger) error {
	n, err := p.Count(ctx)
	if err != nil {
		return err
	}
	if n == 0 {
		return nil
	}
	if !reset {
		return fmt.Errorf("%d positions from a previous run; set postgres.reset_projection to clear them", n)
	}
	if err := p.Truncate(ctx); err != nil {
		return err
	}
	logger.WarnContext(ctx, "cleared position projection from a previous run", slog.Int64("rows", n))
	return nil
}

func chainDomain(c config.ChainConfig) crypto.Domain {
	return crypto.Domain{
		Name:              c.DomainName,
		Version:           c.DomainVersion,
		ChainID:           c.ChainID,
		VerifyingContract: common.HexToAddress(c.VerifyingContract),
	}
}

func registryAddresses(r config.RegistryConfig) domain.Addresses {
	return domain.Addresses{
		Token:       common.HexToAddress(r.Token),
		Reserve:     common.HexToAddress(r.Reserve),
		Custody:     common.HexToAddress(r.Custody),
		Signer:      common.HexToAddress(r.Signer),
		Staking:     common.HexToAddress(r.Staking),
		Governance:  common.HexToAddress(r.Governance),
		Collectible: common.HexToAddress(r.Collectible),
	}
}

func addresses(list []string) []common.Address {
	out := make([]common.Address, 0, len(list))
	for _, a := range list {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, common.HexToAddress(a))
		}
	}
	return out
}
