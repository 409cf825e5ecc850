package domain

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Position is a single vesting grant. Amounts are in the backing token's
// smallest unit; times are unix seconds.
type Position struct {
	ID            uint64
	Principal     uint256.Int
	Claimed       uint256.Int
	Staked        uint256.Int
	VestingPeriod uint64 // seconds
	VestingStart  uint64
	MintedAt      uint64
	Exists        bool
}

// FullyClaimed reports whether every unit of principal has been paid out.
func (p *Position) FullyClaimed() bool {
	return p.Claimed.Eq(&p.Principal)
}

// InvestmentInfo is the read-only projection of a Position returned to
// holders and privileged collaborators.
type InvestmentInfo struct {
	Principal     uint256.Int
	Claimed       uint256.Int
	VestingPeriod uint64
	VestingStart  uint64
	Staked        uint256.Int
}

// Info projects the position into an InvestmentInfo.
func (p *Position) Info() InvestmentInfo {
	return InvestmentInfo{
		Principal:     p.Principal,
		Claimed:       p.Claimed,
		VestingPeriod: p.VestingPeriod,
		VestingStart:  p.VestingStart,
		Staked:        p.Staked,
	}
}

// GrantParams are the caller-supplied vesting parameters of a new position.
// VestingPeriod is a count of period units, not seconds; VestingStart of zero
// means "now".
type GrantParams struct {
	Recipient     common.Address
	Principal     uint256.Int
	VestingStart  uint64
	VestingPeriod uint64
	Cliff         uint64
}

// PositionRecord is the persisted projection of a position together with its
// current owner and optional companion collectible.
type PositionRecord struct {
	Position
	Owner         common.Address
	CollectibleID *uint64
}

// Page bounds an enumeration over an account's positions.
type Page struct {
	Offset uint64
	Limit  uint64
}

// AggregateBalance is the unified balance of one account across the vesting
// ledger and two related token sources.
type AggregateBalance struct {
	Account    common.Address
	Unvested   uint256.Int // sum of principal - claimed - staked over the page
	Liquid     uint256.Int
	Staked     uint256.Int
	Total      uint256.Int
	Positions  uint64 // positions visited on this page
	NextOffset int64  // -1 once every position has been visited
}
