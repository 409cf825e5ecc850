package domain

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// FungibleToken is the backing token the ledger pays out in. Implementations
// fail with ErrInsufficientBalance / ErrInsufficientAllowance / ErrTokenPaused
// and leave balances untouched on failure. Any callback into the ledger must
// pass on the ctx received here.
type FungibleToken interface {
	Transfer(ctx context.Context, from, to common.Address, amount *uint256.Int) error
	TransferFrom(ctx context.Context, spender, from, to common.Address, amount *uint256.Int) error
	BalanceOf(account common.Address) uint256.Int
}

// BalanceSource reports a token balance for the aggregate view.
type BalanceSource interface {
	BalanceOf(account common.Address) uint256.Int
}

// TransferGate is consulted by an OwnershipRegistry before every transfer of
// an existing token. A non-nil error rejects the transfer.
type TransferGate func(id uint64) error

// OwnershipRegistry records who holds each position. The ledger delegates
// ownership entirely to it. Any callback into the ledger must pass on the ctx
// received here.
type OwnershipRegistry interface {
	MintTo(ctx context.Context, to common.Address, id uint64) error
	OwnerOf(id uint64) (common.Address, error)
	BalanceOf(owner common.Address) uint64
	TokenOfOwnerByIndex(owner common.Address, index uint64) (uint64, error)
	Transfer(ctx context.Context, from, to common.Address, id uint64) error
	Burn(ctx context.Context, id uint64) error
	SetTransferGate(gate TransferGate)
}

// CompanionMinter mints the auxiliary collectible issued alongside
// positions created with a non-zero issuance level. Any callback into the
// ledger must pass on the ctx received here.
type CompanionMinter interface {
	Mint(ctx context.Context, to common.Address, level uint64) (uint64, error)
	Burn(ctx context.Context, id uint64) error
}

// Role names recognised by RoleChecker.
type Role string

const (
	RoleAdmin  Role = "admin"
	RolePauser Role = "pauser"
	RoleMinter Role = "minter"
	RoleReader Role = "reader"
)

// RoleChecker answers role-membership questions for privileged entry points.
type RoleChecker interface {
	HasRole(role Role, account common.Address) bool
}

// Addresses names every collaborator account the ledger resolves by lookup
// rather than by role.
type Addresses struct {
	Token       common.Address `json:"token"`
	Reserve     common.Address `json:"reserve"`
	Custody     common.Address `json:"custody"`
	Signer      common.Address `json:"signer"`
	Staking     common.Address `json:"staking"`
	Governance  common.Address `json:"governance"`
	Collectible common.Address `json:"collectible"`
}

// AddressResolver returns the current collaborator addresses. Callers must
// resolve on every call rather than caching the result.
type AddressResolver interface {
	Snapshot() Addresses
}
