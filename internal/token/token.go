// Package token implements the base fungible token: balances, allowances,
// and the mint, burn and pause primitives that gate every value movement.
package token

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/vestd/internal/domain"
)

// Token is an in-process fungible token. Every mutation either applies fully
// or leaves balances untouched.
type Token struct {
	symbol string
	roles  domain.RoleChecker

	mu         sync.Mutex
	balances   map[common.Address]*uint256.Int
	allowances map[common.Address]map[common.Address]*uint256.Int
	supply     uint256.Int
	paused     bool
}

// New creates an empty token. roles gates Mint (minter) and Pause (pauser).
func New(symbol string, roles domain.RoleChecker) *Token {
	return &Token{
		symbol:     symbol,
		roles:      roles,
		balances:   make(map[common.Address]*uint256.Int),
		allowances: make(map[common.Address]map[common.Address]*uint256.Int),
	}
}

// Symbol returns the ticker symbol.
func (t *Token) Symbol() string { return t.symbol }

// BalanceOf returns the balance of account.
func (t *Token) BalanceOf(account common.Address) uint256.Int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return *t.balance(account)
}

// TotalSupply returns the amount minted minus the amount burned.
func (t *Token) TotalSupply() uint256.Int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.supply
}

// Allowance returns how much spender may move on behalf of owner.
func (t *Token) Allowance(owner, spender common.Address) uint256.Int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return *t.allowance(owner, spender)
}

// Paused reports whether value movement is suspended.
func (t *Token) Paused() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.paused
}

// Mint creates amount new tokens for to.
func (t *Token) Mint(_ context.Context, caller, to common.Address, amount *uint256.Int) error {
	if !t.roles.HasRole(domain.RoleMinter, caller) {
		return domain.ErrUnauthorized
	}
	if to == (common.Address{}) {
		return domain.ErrInvalidRecipient
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.paused {
		return domain.ErrTokenPaused
	}
	supply, overflow := new(uint256.Int).AddOverflow(&t.supply, amount)
	if overflow {
		return fmt.Errorf("token: mint %s: %w", amount.Dec(), domain.ErrArithmeticOverflow)
	}
	t.supply = *supply
	bal := t.balance(to)
	t.balances[to] = new(uint256.Int).Add(bal, amount)
	return nil
}

// Burn destroys amount of holder's tokens.
func (t *Token) Burn(_ context.Context, holder common.Address, amount *uint256.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.paused {
		return domain.ErrTokenPaused
	}
	bal := t.balance(holder)
	if bal.Lt(amount) {
		return fmt.Errorf("token: burn %s from %s: %w", amount.Dec(), holder.Hex(), domain.ErrInsufficientBalance)
	}
	t.balances[holder] = new(uint256.Int).Sub(bal, amount)
	t.supply.Sub(&t.supply, amount)
	return nil
}

// Pause suspends transfers, mints and burns.
func (t *Token) Pause(caller common.Address) error { return t.setPaused(caller, true) }

// Unpause resumes value movement.
func (t *Token) Unpause(caller common.Address) error { return t.setPaused(caller, false) }

func (t *Token) setPaused(caller common.Address, v bool) error {
	if !t.roles.HasRole(domain.RolePauser, caller) {
		return domain.ErrUnauthorized
	}
	t.mu.Lock()
	t.paused = v
	t.mu.Unlock()
	return nil
}

// Approve sets spender's allowance over owner's balance.
func (t *Token) Approve(owner, spender common.Address, amount *uint256.Int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.setAllowance(owner, spender, amount.Clone())
}

// Transfer moves amount from from to to.
func (t *Token) Transfer(_ context.Context, from, to common.Address, amount *uint256.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.move(from, to, amount)
}

// TransferFrom moves amount from from to to, spending spender's allowance.
func (t *Token) TransferFrom(_ context.Context, spender, from, to common.Address, amount *uint256.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	allowed := t.allowance(from, spender)
	if allowed.Lt(amount) {
		return fmt.Errorf("token: %s spending %s of %s: %w", spender.Hex(), amount.Dec(), from.Hex(), domain.ErrInsufficientAllowance)
	}
	if err := t.move(from, to, amount); err != nil {
		return err
	}
	if !amount.IsZero() {
		t.setAllowance(from, spender, new(uint256.Int).Sub(allowed, amount))
	}
	return nil
}

func (t *Token) move(from, to common.Address, amount *uint256.Int) error {
	if t.paused {
		return domain.ErrTokenPaused
	}
	if to == (common.Address{}) {
		return domain.ErrInvalidRecipient
	}
	src := t.balance(from)
	if src.Lt(amount) {
		return fmt.Errorf("token: transfer %s from %s: %w", amount.Dec(), from.Hex(), domain.ErrInsufficientBalance)
	}
	t.balances[from] = new(uint256.Int).Sub(src, amount)
	t.balances[to] = new(uint256.Int).Add(t.balance(to), amount)
	return nil
}

// balance returns a read-only view; callers replace map entries rather than
// mutating the returned value.
func (t *Token) balance(a common.Address) *uint256.Int {
	if b, ok := t.balances[a]; ok {
		return b
	}
	return new(uint256.Int)
}

func (t *Token) setAllowance(owner, spender common.Address, v *uint256.Int) {
	set, ok := t.allowances[owner]
	if !ok {
		set = make(map[common.Address]*uint256.Int)
		t.allowances[owner] = set
	}
	set[spender] = v
}

func (t *Token) allowance(owner, spender common.Address) *uint256.Int {
	if a, ok := t.allowances[owner][spender]; ok {
		return a
	}
	return new(uint256.Int)
}

var _ domain.FungibleToken = (*Token)(nil)
