package vesting

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/vestd/internal/crypto"
	"github.com/alanyoungcy/vestd/internal/domain"
)

// DistributionLevel is the level field signed for direct distributions. No
// position can be issued with it, so a distribution signature never
// authorizes a position and vice versa.
var DistributionLevel = *new(uint256.Int).SetAllOne()

// DefaultPeriodUnit is the length of one vesting period count.
const DefaultPeriodUnit = 30 * 24 * time.Hour

// Issuer creates positions and distributes tokens against signed grants.
type Issuer struct {
	ledger     *Ledger
	auth       *Authorizer
	companion  domain.CompanionMinter
	periodUnit uint64
	logger     *slog.Logger
}

// NewIssuer creates an Issuer that shares l's guard. companion may be nil when
// collectibles are not issued; a non-zero level then fails.
func NewIssuer(l *Ledger, auth *Authorizer, companion domain.CompanionMinter, periodUnit time.Duration, logger *slog.Logger) *Issuer {
	if periodUnit <= 0 {
		periodUnit = DefaultPeriodUnit
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Issuer{
		ledger:     l,
		auth:       auth,
		companion:  companion,
		periodUnit: uint64(periodUnit / time.Second),
		logger:     logger.With(slog.String("component", "vesting_issuer")),
	}
}

// CreatePosition issues a new position to params.Recipient funded from the
// reserve. A level above zero also mints a companion collectible of level-1.
func (is *Issuer) CreatePosition(ctx context.Context, caller common.Address, sig string, expiry uint64, params domain.GrantParams, level *uint256.Int) (uint64, error) {
	var id uint64
	err := is.ledger.run(ctx, "create position", func(ctx context.Context, j *journal) error {
		if level.Eq(&DistributionLevel) {
			return fmt.Errorf("%w: distribution level", domain.ErrInvalidArgument)
		}
		grant := crypto.Grant{
			Recipient:     params.Recipient,
			Amount:        params.Principal,
			VestingStart:  params.VestingStart,
			VestingPeriod: params.VestingPeriod,
			Cliff:         params.Cliff,
			Level:         *level,
			Expiry:        expiry,
		}
		if err := is.auth.verify(ctx, j, sig, grant); err != nil {
			return err
		}
		if params.Recipient == (common.Address{}) {
			return domain.ErrInvalidRecipient
		}
		if params.Principal.IsZero() {
			return domain.ErrZeroAmount
		}
		if !level.IsUint64() {
			return fmt.Errorf("%w: level %s", domain.ErrInvalidArgument, level.Dec())
		}
		lvl := level.Uint64()
		if lvl > 0 && is.companion == nil {
			return fmt.Errorf("%w: collectibles disabled", domain.ErrInvalidArgument)
		}

		start := params.VestingStart
		if start == 0 {
			start = j.at
		}
		if start > math.MaxUint64-params.Cliff {
			return fmt.Errorf("start %d + cliff %d: %w", start, params.Cliff, domain.ErrArithmeticOverflow)
		}
		start += params.Cliff
		if is.periodUnit != 0 && params.VestingPeriod > math.MaxUint64/is.periodUnit {
			return fmt.Errorf("period %d: %w", params.VestingPeriod, domain.ErrArithmeticOverflow)
		}
		period := params.VestingPeriod * is.periodUnit

		addrs := is.ledger.registry.Snapshot()
		if err := is.pull(ctx, j, addrs, &params.Principal); err != nil {
			return err
		}
		j.emit(domain.EventReserveFundsPulled, map[string]any{
			"reserve": addrs.Reserve.Hex(),
			"amount":  params.Principal.Dec(),
		})

		id = is.ledger.allocateID(j)
		pos := domain.Position{
			ID:            id,
			Principal:     params.Principal,
			VestingPeriod: period,
			VestingStart:  start,
			MintedAt:      j.at,
			Exists:        true,
		}
		is.ledger.put(pos)
		j.onRollback(func(context.Context) error {
			is.ledger.remove(id)
			return nil
		})

		if err := is.ledger.owners.MintTo(ctx, params.Recipient, id); err != nil {
			return fmt.Errorf("mint position %d: %w", id, err)
		}
		j.onRollback(func(ctx context.Context) error {
			return is.ledger.owners.Burn(ctx, id)
		})

		created := map[string]any{
			"position_id":    id,
			"recipient":      params.Recipient.Hex(),
			"caller":         caller.Hex(),
			"principal":      params.Principal.Dec(),
			"vesting_start":  start,
			"vesting_period": period,
		}
		j.emit(domain.EventPositionCreated, created)

		if lvl > 0 {
			cid, err := is.companion.Mint(ctx, params.Recipient, lvl-1)
			if err != nil {
				return fmt.Errorf("mint collectible for position %d: %w", id, err)
			}
			j.onRollback(func(ctx context.Context) error {
				return is.companion.Burn(ctx, cid)
			})
			if err := is.ledger.link(j, cid, id); err != nil {
				return err
			}
			j.emit(domain.EventPositionCreatedWithCollectible, map[string]any{
				"position_id":    id,
				"collectible_id": cid,
				"recipient":      params.Recipient.Hex(),
				"level":          lvl - 1,
			})
		}
		return is.ledger.persist(ctx, id)
	})
	if err != nil {
		return 0, err
	}
	is.logger.InfoContext(ctx, "position created",
		slog.Uint64("position_id", id),
		slog.String("recipient", params.Recipient.Hex()),
		slog.String("principal", params.Principal.Dec()),
	)
	return id, nil
}

// DistributeTokens transfers amount from the reserve straight to recipient
// without creating a position.
func (is *Issuer) DistributeTokens(ctx context.Context, caller common.Address, sig string, expiry uint64, recipient common.Address, amount *uint256.Int) error {
	err := is.ledger.run(ctx, "distribute", func(ctx context.Context, j *journal) error {
		grant := crypto.Grant{
			Recipient: recipient,
			Amount:    *amount,
			Level:     DistributionLevel,
			Expiry:    expiry,
		}
		if err := is.auth.verify(ctx, j, sig, grant); err != nil {
			return err
		}
		if amount.IsZero() {
			return domain.ErrZeroAmount
		}
		if recipient == (common.Address{}) {
			return domain.ErrInvalidRecipient
		}

		addrs := is.ledger.registry.Snapshot()
		is.restoreAllowanceOnRollback(j, addrs)
		if err := is.ledger.token.TransferFrom(ctx, addrs.Custody, addrs.Reserve, recipient, amount); err != nil {
			return fmt.Errorf("distribute %s to %s: %w", amount.Dec(), recipient.Hex(), err)
		}
		back := *amount
		j.onRollback(func(ctx context.Context) error {
			return is.ledger.token.Transfer(ctx, recipient, addrs.Reserve, &back)
		})
		j.emit(domain.EventTokensDistributed, map[string]any{
			"recipient": recipient.Hex(),
			"caller":    caller.Hex(),
			"amount":    amount.Dec(),
		})
		return nil
	})
	if err != nil {
		return err
	}
	is.logger.InfoContext(ctx, "tokens distributed",
		slog.String("recipient", recipient.Hex()),
		slog.String("amount", amount.Dec()),
	)
	return nil
}

// pull moves principal from the reserve into custody.
func (is *Issuer) pull(ctx context.Context, j *journal, addrs domain.Addresses, amount *uint256.Int) error {
	tok := is.ledger.token
	is.restoreAllowanceOnRollback(j, addrs)
	if err := tok.TransferFrom(ctx, addrs.Custody, addrs.Reserve, addrs.Custody, amount); err != nil {
		return fmt.Errorf("pull %s from reserve: %w", amount.Dec(), err)
	}
	back := *amount
	j.onRollback(func(ctx context.Context) error {
		return tok.Transfer(ctx, addrs.Custody, addrs.Reserve, &back)
	})
	return nil
}

// allowanceSetter is implemented by tokens whose allowances the ledger can
// restore when a call that spent one rolls back.
type allowanceSetter interface {
	Allowance(owner, spender common.Address) uint256.Int
	Approve(owner, spender common.Address, amount *uint256.Int)
}

func (is *Issuer) restoreAllowanceOnRollback(j *journal, addrs domain.Addresses) {
	tok, ok := is.ledger.token.(allowanceSetter)
	if !ok {
		return
	}
	prev := tok.Allowance(addrs.Reserve, addrs.Custody)
	j.onRollback(func(context.Context) error {
		tok.Approve(addrs.Reserve, addrs.Custody, &prev)
		return nil
	})
}
