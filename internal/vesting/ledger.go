// Package vesting implements the position ledger: claimable math, claiming,
// staking adjustments, burn, the transfer eligibility hook, signature-gated
// issuance and the aggregate balance view.
package vesting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/vestd/internal/domain"
)

// Registry resolves collaborator addresses and lets an admin replace them.
type Registry interface {
	domain.AddressResolver
	Update(caller common.Address, next domain.Addresses) (domain.Addresses, error)
}

// Deps are the collaborators of a Ledger. Store and Events are optional.
type Deps struct {
	Token    domain.FungibleToken
	Owners   domain.OwnershipRegistry
	Roles    domain.RoleChecker
	Registry Registry
	Store    domain.PositionStore
	Events   domain.EventSink
	Clock    func() time.Time
	Logger   *slog.Logger

	// LockWait bounds the wait for the execution lock; zero means
	// DefaultLockWait.
	LockWait time.Duration
}

// Ledger owns every vesting position. State-changing calls are serialized by
// its Guard; views take only the state lock and may run at any time.
type Ledger struct {
	guard    *Guard
	token    domain.FungibleToken
	owners   domain.OwnershipRegistry
	roles    domain.RoleChecker
	registry Registry
	store    domain.PositionStore
	events   domain.EventSink
	clock    func() time.Time
	logger   *slog.Logger

	mu        sync.RWMutex
	positions map[uint64]*domain.Position
	links     map[uint64]uint64 // collectible id -> position id
	backLinks map[uint64]uint64 // position id -> collectible id
	nextID    uint64
}

// NewLedger creates an empty ledger and installs its transfer eligibility
// check as the ownership registry's gate.
func NewLedger(d Deps) *Ledger {
	clock := d.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	l := &Ledger{
		guard:     newGuard(d.LockWait),
		token:     d.Token,
		owners:    d.Owners,
		roles:     d.Roles,
		registry:  d.Registry,
		store:     d.Store,
		events:    d.Events,
		clock:     clock,
		logger:    logger.With(slog.String("component", "vesting_ledger")),
		positions: make(map[uint64]*domain.Position),
		links:     make(map[uint64]uint64),
		backLinks: make(map[uint64]uint64),
	}
	d.Owners.SetTransferGate(l.transferGate)
	return l
}

func (l *Ledger) now() uint64 {
	return uint64(l.clock().Unix())
}

// run executes fn as one atomic guarded call. On error every recorded undo
// step runs and pending events are dropped; on success events are emitted.
func (l *Ledger) run(ctx context.Context, op string, fn func(ctx context.Context, j *journal) error) error {
	gctx, release, err := l.guard.enter(ctx)
	if err != nil {
		return fmt.Errorf("vesting: %s: %w", op, err)
	}
	defer release()

	j := &journal{at: l.now()}
	if err := fn(gctx, j); err != nil {
		if rbErr := j.rollback(context.WithoutCancel(gctx)); rbErr != nil {
			l.logger.ErrorContext(ctx, "rollback incomplete",
				slog.String("op", op),
				slog.String("error", rbErr.Error()),
			)
			err = errors.Join(err, rbErr)
		}
		return fmt.Errorf("vesting: %s: %w", op, err)
	}
	l.emit(ctx, j.events)
	return nil
}

func (l *Ledger) emit(ctx context.Context, events []domain.Event) {
	if l.events == nil || len(events) == 0 {
		return
	}
	if err := l.events.Emit(ctx, events); err != nil {
		l.logger.WarnContext(ctx, "event emit failed",
			slog.Int("count", len(events)),
			slog.String("error", err.Error()),
		)
	}
}

// ---------------------------------------------------------------------------
// State access. The state lock is never held across a collaborator call.
// ---------------------------------------------------------------------------

func (l *Ledger) get(id uint64) (domain.Position, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.positions[id]
	if !ok {
		return domain.Position{}, false
	}
	return *p, true
}

func (l *Ledger) put(p domain.Position) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cp := p
	l.positions[p.ID] = &cp
}

func (l *Ledger) remove(id uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.positions, id)
}

// setWithUndo stores next and records restoring prev.
func (l *Ledger) setWithUndo(j *journal, prev, next domain.Position) {
	l.put(next)
	j.onRollback(func(context.Context) error {
		l.put(prev)
		return nil
	})
}

func (l *Ledger) existing(id uint64) (domain.Position, error) {
	p, ok := l.get(id)
	if !ok {
		return domain.Position{}, fmt.Errorf("position %d: %w", id, domain.ErrNotFound)
	}
	return p, nil
}

// authorized loads position id and checks that caller is its owner or one of
// the staking and governance collaborators.
func (l *Ledger) authorized(caller common.Address, id uint64) (domain.Position, common.Address, error) {
	p, err := l.existing(id)
	if err != nil {
		return p, common.Address{}, err
	}
	owner, err := l.owners.OwnerOf(id)
	if err != nil {
		return p, common.Address{}, fmt.Errorf("owner of position %d: %w", id, err)
	}
	if caller == (common.Address{}) {
		return p, owner, domain.ErrUnauthorized
	}
	addrs := l.registry.Snapshot()
	if caller != owner && caller != addrs.Staking && caller != addrs.Governance {
		return p, owner, fmt.Errorf("caller %s on position %d: %w", caller.Hex(), id, domain.ErrUnauthorized)
	}
	return p, owner, nil
}

// record builds the persisted projection of a live position.
func (l *Ledger) record(p domain.Position) (domain.PositionRecord, error) {
	owner, err := l.owners.OwnerOf(p.ID)
	if err != nil {
		return domain.PositionRecord{}, fmt.Errorf("owner of position %d: %w", p.ID, err)
	}
	rec := domain.PositionRecord{Position: p, Owner: owner}
	l.mu.RLock()
	if cid, ok := l.backLinks[p.ID]; ok {
		rec.CollectibleID = &cid
	}
	l.mu.RUnlock()
	return rec, nil
}

// persist writes the projection of id. It is always the last step of a call
// so a store failure leaves nothing to compensate in the store itself.
func (l *Ledger) persist(ctx context.Context, id uint64) error {
	if l.store == nil {
		return nil
	}
	p, err := l.existing(id)
	if err != nil {
		return err
	}
	rec, err := l.record(p)
	if err != nil {
		return err
	}
	if err := l.store.Upsert(ctx, rec); err != nil {
		return fmt.Errorf("persist position %d: %w", id, err)
	}
	return nil
}

// payout moves amount out of custody and records the reverse transfer.
func (l *Ledger) payout(ctx context.Context, j *journal, to common.Address, amount *uint256.Int) error {
	if amount.IsZero() {
		return nil
	}
	custody := l.registry.Snapshot().Custody
	if err := l.token.Transfer(ctx, custody, to, amount); err != nil {
		return fmt.Errorf("transfer %s to %s: %w", amount.Dec(), to.Hex(), err)
	}
	back := *amount
	j.onRollback(func(ctx context.Context) error {
		return l.token.Transfer(ctx, to, custody, &back)
	})
	return nil
}

// ---------------------------------------------------------------------------
// Views
// ---------------------------------------------------------------------------

// Claimable returns the amount the holder of id may claim right now.
func (l *Ledger) Claimable(_ context.Context, caller common.Address, id uint64) (uint256.Int, error) {
	p, _, err := l.authorized(caller, id)
	if err != nil {
		return uint256.Int{}, fmt.Errorf("vesting: claimable: %w", err)
	}
	c, err := claimableAt(&p, l.now())
	if err != nil {
		return uint256.Int{}, fmt.Errorf("vesting: claimable: %w", err)
	}
	return c, nil
}

// InvestmentInfo returns the projection of position id.
func (l *Ledger) InvestmentInfo(_ context.Context, caller common.Address, id uint64) (domain.InvestmentInfo, error) {
	p, _, err := l.authorized(caller, id)
	if err != nil {
		return domain.InvestmentInfo{}, fmt.Errorf("vesting: investment info: %w", err)
	}
	return p.Info(), nil
}

// TransferEligible reports whether id may change owner. Absent positions are
// eligible so the registry's own existence check decides.
func (l *Ledger) TransferEligible(id uint64) bool {
	p, ok := l.get(id)
	return !ok || p.FullyClaimed()
}

func (l *Ledger) transferGate(id uint64) error {
	if !l.TransferEligible(id) {
		return fmt.Errorf("position %d: %w", id, domain.ErrTransferLocked)
	}
	return nil
}

// PositionForCollectible returns the position issued together with the given
// companion collectible.
func (l *Ledger) PositionForCollectible(collectibleID uint64) (uint64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	id, ok := l.links[collectibleID]
	if !ok {
		return 0, fmt.Errorf("vesting: collectible %d: %w", collectibleID, domain.ErrNotFound)
	}
	return id, nil
}

// Paused reports whether state-changing calls are currently rejected.
func (l *Ledger) Paused() bool {
	return l.guard.Paused()
}

// Addresses returns the current collaborator addresses.
func (l *Ledger) Addresses() domain.Addresses {
	return l.registry.Snapshot()
}

// ---------------------------------------------------------------------------
// Mutations
// ---------------------------------------------------------------------------

// Claim pays amount of the unlocked balance of id to its owner.
func (l *Ledger) Claim(ctx context.Context, caller common.Address, id uint64, amount *uint256.Int) error {
	return l.run(ctx, "claim", func(ctx context.Context, j *journal) error {
		p, owner, err := l.authorized(caller, id)
		if err != nil {
			return err
		}
		avail, err := claimableAt(&p, j.at)
		if err != nil {
			return err
		}
		if amount.Gt(&avail) {
			return fmt.Errorf("claim %s of %s: %w", amount.Dec(), avail.Dec(), domain.ErrExceedsClaimable)
		}
		left, under := new(uint256.Int).SubOverflow(&p.Principal, &p.Claimed)
		if under || left.Lt(amount) {
			return fmt.Errorf("claim %s of position %d: %w", amount.Dec(), id, domain.ErrExceedsRemaining)
		}

		next := p
		next.Claimed.Add(&p.Claimed, amount)
		l.setWithUndo(j, p, next)

		if err := l.payout(ctx, j, owner, amount); err != nil {
			return err
		}
		j.emit(domain.EventAmountClaimed, map[string]any{
			"position_id": id,
			"owner":       owner.Hex(),
			"caller":      caller.Hex(),
			"amount":      amount.Dec(),
			"claimed":     next.Claimed.Dec(),
		})
		return l.persist(ctx, id)
	})
}

// SetStaked replaces the staked amount of id. Only the staking collaborator
// may call it; the value is not bounded by principal.
func (l *Ledger) SetStaked(ctx context.Context, caller common.Address, id uint64, amount *uint256.Int) error {
	return l.run(ctx, "set staked", func(ctx context.Context, j *journal) error {
		staking := l.registry.Snapshot().Staking
		if caller == (common.Address{}) || caller != staking {
			return fmt.Errorf("caller %s is not staking: %w", caller.Hex(), domain.ErrUnauthorized)
		}
		p, err := l.existing(id)
		if err != nil {
			return err
		}
		next := p
		next.Staked = *amount
		l.setWithUndo(j, p, next)

		j.emit(domain.EventStakedAmountChanged, map[string]any{
			"position_id": id,
			"previous":    p.Staked.Dec(),
			"amount":      amount.Dec(),
		})
		return l.persist(ctx, id)
	})
}

// TransferPosition hands position id from caller to to. The ownership
// registry consults the eligibility gate.
func (l *Ledger) TransferPosition(ctx context.Context, caller common.Address, id uint64, to common.Address) error {
	return l.run(ctx, "transfer position", func(ctx context.Context, j *journal) error {
		if to == (common.Address{}) {
			return domain.ErrInvalidRecipient
		}
		if err := l.owners.Transfer(ctx, caller, to, id); err != nil {
			return err
		}
		j.onRollback(func(ctx context.Context) error {
			return l.owners.Transfer(ctx, to, caller, id)
		})
		j.emit(domain.EventPositionTransferred, map[string]any{
			"position_id": id,
			"from":        caller.Hex(),
			"to":          to.Hex(),
		})
		if l.store == nil {
			return nil
		}
		return l.store.SetOwner(ctx, id, to.Hex())
	})
}

// Burn deletes position id and returns its unclaimed, unstaked remainder to
// the caller. Admin only.
func (l *Ledger) Burn(ctx context.Context, caller common.Address, id uint64) (uint256.Int, error) {
	var left uint256.Int
	err := l.run(ctx, "burn", func(ctx context.Context, j *journal) error {
		if !l.roles.HasRole(domain.RoleAdmin, caller) {
			return fmt.Errorf("caller %s: %w", caller.Hex(), domain.ErrUnauthorized)
		}
		p, err := l.existing(id)
		if err != nil {
			return err
		}
		left, err = remaining(&p)
		if err != nil {
			return err
		}
		owner, err := l.owners.OwnerOf(id)
		if err != nil {
			return fmt.Errorf("owner of position %d: %w", id, err)
		}

		l.remove(id)
		j.onRollback(func(context.Context) error {
			l.put(p)
			return nil
		})
		if err := l.payout(ctx, j, caller, &left); err != nil {
			return err
		}
		if err := l.owners.Burn(ctx, id); err != nil {
			return fmt.Errorf("burn ownership of %d: %w", id, err)
		}
		j.onRollback(func(ctx context.Context) error {
			return l.owners.MintTo(ctx, owner, id)
		})

		j.emit(domain.EventPositionBurned, map[string]any{
			"position_id": id,
			"owner":       owner.Hex(),
			"caller":      caller.Hex(),
			"remaining":   left.Dec(),
		})
		if l.store == nil {
			return nil
		}
		return l.store.Delete(ctx, id)
	})
	if err != nil {
		return uint256.Int{}, err
	}
	return left, nil
}

// Pause rejects every state-changing call until Unpause. Pauser role only.
func (l *Ledger) Pause(ctx context.Context, caller common.Address) error {
	return l.setPaused(ctx, caller, true)
}

// Unpause lifts a Pause. Pauser role only.
func (l *Ledger) Unpause(ctx context.Context, caller common.Address) error {
	return l.setPaused(ctx, caller, false)
}

func (l *Ledger) setPaused(ctx context.Context, caller common.Address, v bool) error {
	if !l.roles.HasRole(domain.RolePauser, caller) {
		return fmt.Errorf("vesting: pause: caller %s: %w", caller.Hex(), domain.ErrUnauthorized)
	}
	if !l.guard.setPaused(v) {
		return nil
	}
	typ := domain.EventUnpaused
	if v {
		typ = domain.EventPaused
	}
	j := &journal{at: l.now()}
	j.emit(typ, map[string]any{"caller": caller.Hex()})
	l.logger.InfoContext(ctx, "pause state changed",
		slog.Bool("paused", v),
		slog.String("caller", caller.Hex()),
	)
	l.emit(ctx, j.events)
	return nil
}

// UpdateRegistry replaces the non-zero collaborator addresses in next.
func (l *Ledger) UpdateRegistry(ctx context.Context, caller common.Address, next domain.Addresses) (domain.Addresses, error) {
	var out domain.Addresses
	err := l.run(ctx, "update registry", func(_ context.Context, j *journal) error {
		prev := l.registry.Snapshot()
		merged, err := l.registry.Update(caller, next)
		if err != nil {
			return err
		}
		out = merged
		j.emit(domain.EventRegistryUpdated, map[string]any{
			"caller":   caller.Hex(),
			"previous": prev,
			"current":  merged,
		})
		return nil
	})
	return out, err
}

// ---------------------------------------------------------------------------
// Issuance internals, used by Issuer under the ledger's guard.
// ---------------------------------------------------------------------------

// allocateID reserves the next position id. A rolled back call returns it.
func (l *Ledger) allocateID(j *journal) uint64 {
	l.mu.Lock()
	id := l.nextID
	l.nextID++
	l.mu.Unlock()
	j.onRollback(func(context.Context) error {
		l.mu.Lock()
		l.nextID = id
		l.mu.Unlock()
		return nil
	})
	return id
}

// link binds a companion collectible to a position for the lifetime of the
// ledger.
func (l *Ledger) link(j *journal, collectibleID, positionID uint64) error {
	l.mu.Lock()
	if _, ok := l.links[collectibleID]; ok {
		l.mu.Unlock()
		return fmt.Errorf("collectible %d: %w", collectibleID, domain.ErrAlreadyExists)
	}
	l.links[collectibleID] = positionID
	l.backLinks[positionID] = collectibleID
	l.mu.Unlock()
	j.onRollback(func(context.Context) error {
		l.mu.Lock()
		delete(l.links, collectibleID)
		delete(l.backLinks, positionID)
		l.mu.Unlock()
		return nil
	})
	return nil
}
