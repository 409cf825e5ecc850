// Package access provides the role checker and collaborator address registry
// consulted by every privileged ledger entry point.
package access

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/vestd/internal/domain"
)

// Roles is an in-memory role table. The zero value is not usable; use
// NewRoles.
type Roles struct {
	mu      sync.RWMutex
	members map[domain.Role]map[common.Address]bool
}

// NewRoles creates a role table seeded from the given membership lists.
func NewRoles(seed map[domain.Role][]common.Address) *Roles {
	r := &Roles{members: make(map[domain.Role]map[common.Address]bool)}
	for role, accounts := range seed {
		for _, a := range accounts {
			r.grant(role, a)
		}
	}
	return r
}

// HasRole reports whether account holds role.
func (r *Roles) HasRole(role domain.Role, account common.Address) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.members[role][account]
}

// Grant adds account to role. Only admins may grant.
func (r *Roles) Grant(caller common.Address, role domain.Role, account common.Address) error {
	if !r.HasRole(domain.RoleAdmin, caller) {
		return domain.ErrUnauthorized
	}
	r.grant(role, account)
	return nil
}

// Revoke removes account from role. Only admins may revoke.
func (r *Roles) Revoke(caller common.Address, role domain.Role, account common.Address) error {
	if !r.HasRole(domain.RoleAdmin, caller) {
		return domain.ErrUnauthorized
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.members[role], account)
	return nil
}

func (r *Roles) grant(role domain.Role, account common.Address) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.members[role]
	if !ok {
		set = make(map[common.Address]bool)
		r.members[role] = set
	}
	set[account] = true
}

var _ domain.RoleChecker = (*Roles)(nil)
