package access

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/vestd/internal/domain"
)

// Registry holds the collaborator addresses injected at construction. Readers
// take a Snapshot on every call so an Update is visible to the next call.
type Registry struct {
	mu    sync.RWMutex
	addrs domain.Addresses
	roles domain.RoleChecker
}

// NewRegistry creates a Registry. roles gates Update.
func NewRegistry(addrs domain.Addresses, roles domain.RoleChecker) *Registry {
	return &Registry{addrs: addrs, roles: roles}
}

// Snapshot returns the current addresses.
func (r *Registry) Snapshot() domain.Addresses {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.addrs
}

// Update re-points the registry. Zero-valued fields in next keep their
// current value. Callers must hold the admin role.
func (r *Registry) Update(caller common.Address, next domain.Addresses) (domain.Addresses, error) {
	if !r.roles.HasRole(domain.RoleAdmin, caller) {
		return domain.Addresses{}, domain.ErrUnauthorized
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	merge(&r.addrs.Token, next.Token)
	merge(&r.addrs.Reserve, next.Reserve)
	merge(&r.addrs.Custody, next.Custody)
	merge(&r.addrs.Signer, next.Signer)
	merge(&r.addrs.Staking, next.Staking)
	merge(&r.addrs.Governance, next.Governance)
	merge(&r.addrs.Collectible, next.Collectible)
	return r.addrs, nil
}

func merge(dst *common.Address, v common.Address) {
	if v != (common.Address{}) {
		*dst = v
	}
}

var _ domain.AddressResolver = (*Registry)(nil)
