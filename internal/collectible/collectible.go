// Package collectible implements an enumerable non-fungible registry. It
// backs both vesting-position ownership (ids assigned by the ledger) and the
// companion collectibles minted at issuance (ids assigned here).
package collectible

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/vestd/internal/domain"
)

// Registry tracks ownership of non-fungible tokens. An instance should use
// either caller-assigned ids (MintTo) or registry-assigned ids (Mint), not
// both.
type Registry struct {
	name string

	mu     sync.RWMutex
	owners map[uint64]common.Address
	owned  map[common.Address][]uint64
	index  map[uint64]int // position of id within owned[owner]
	levels map[uint64]uint64
	nextID uint64
	gate   domain.TransferGate
}

// New creates an empty registry.
func New(name string) *Registry {
	return &Registry{
		name:   name,
		owners: make(map[uint64]common.Address),
		owned:  make(map[common.Address][]uint64),
		index:  make(map[uint64]int),
		levels: make(map[uint64]uint64),
	}
}

// Name returns the collection name.
func (r *Registry) Name() string { return r.name }

// SetTransferGate installs the pre-transfer hook.
func (r *Registry) SetTransferGate(gate domain.TransferGate) {
	r.mu.Lock()
	r.gate = gate
	r.mu.Unlock()
}

// MintTo records id as owned by to.
func (r *Registry) MintTo(_ context.Context, to common.Address, id uint64) error {
	if to == (common.Address{}) {
		return domain.ErrInvalidRecipient
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.owners[id]; ok {
		return fmt.Errorf("collectible %s: mint %d: %w", r.name, id, domain.ErrAlreadyExists)
	}
	r.add(to, id)
	return nil
}

// Mint assigns the next id to to at the given level.
func (r *Registry) Mint(_ context.Context, to common.Address, level uint64) (uint64, error) {
	if to == (common.Address{}) {
		return 0, domain.ErrInvalidRecipient
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextID
	r.nextID++
	r.add(to, id)
	r.levels[id] = level
	return id, nil
}

// Level returns the level a collectible was minted at.
func (r *Registry) Level(id uint64) (uint64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.owners[id]; !ok {
		return 0, fmt.Errorf("collectible %s: level %d: %w", r.name, id, domain.ErrNotFound)
	}
	return r.levels[id], nil
}

// OwnerOf returns the holder of id.
func (r *Registry) OwnerOf(id uint64) (common.Address, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	owner, ok := r.owners[id]
	if !ok {
		return common.Address{}, fmt.Errorf("collectible %s: owner of %d: %w", r.name, id, domain.ErrNotFound)
	}
	return owner, nil
}

// BalanceOf returns how many tokens owner holds.
func (r *Registry) BalanceOf(owner common.Address) uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return uint64(len(r.owned[owner]))
}

// TokenOfOwnerByIndex enumerates owner's tokens. Order is stable until the
// owner's holdings change.
func (r *Registry) TokenOfOwnerByIndex(owner common.Address, i uint64) (uint64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := r.owned[owner]
	if i >= uint64(len(ids)) {
		return 0, fmt.Errorf("collectible %s: index %d of %s: %w", r.name, i, owner.Hex(), domain.ErrNotFound)
	}
	return ids[i], nil
}

// Transfer moves id from from to to after consulting the transfer gate.
func (r *Registry) Transfer(_ context.Context, from, to common.Address, id uint64) error {
	if to == (common.Address{}) {
		return domain.ErrInvalidRecipient
	}
	r.mu.RLock()
	owner, ok := r.owners[id]
	gate := r.gate
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("collectible %s: transfer %d: %w", r.name, id, domain.ErrNotFound)
	}
	if owner != from {
		return fmt.Errorf("collectible %s: transfer %d: %w", r.name, id, domain.ErrUnauthorized)
	}

	// The gate may call back into the ledger, so it runs without r.mu.
	if gate != nil {
		if err := gate(id); err != nil {
			return err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.owners[id] != from {
		return fmt.Errorf("collectible %s: transfer %d: %w", r.name, id, domain.ErrUnauthorized)
	}
	r.remove(from, id)
	r.add(to, id)
	return nil
}

// Burn deletes id.
func (r *Registry) Burn(_ context.Context, id uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	owner, ok := r.owners[id]
	if !ok {
		return fmt.Errorf("collectible %s: burn %d: %w", r.name, id, domain.ErrNotFound)
	}
	r.remove(owner, id)
	delete(r.levels, id)
	return nil
}

func (r *Registry) add(owner common.Address, id uint64) {
	r.owners[id] = owner
	r.index[id] = len(r.owned[owner])
	r.owned[owner] = append(r.owned[owner], id)
}

// remove swaps id with the owner's last token and truncates.
func (r *Registry) remove(owner common.Address, id uint64) {
	ids := r.owned[owner]
	i := r.index[id]
	last := len(ids) - 1
	if i != last {
		ids[i] = ids[last]
		r.index[ids[i]] = i
	}
	ids = ids[:last]
	if len(ids) == 0 {
		delete(r.owned, owner)
	} else {
		r.owned[owner] = ids
	}
	delete(r.index, id)
	delete(r.owners, id)
}

var (
	_ domain.OwnershipRegistry = (*Registry)(nil)
	_ domain.CompanionMinter   = (*Registry)(nil)
)
