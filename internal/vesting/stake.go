package vesting

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/vestd/internal/domain"
)

// StakeInterface is the capability handed to the staking collaborator.
type StakeInterface struct {
	ledger *Ledger
}

// NewStakeInterface exposes the staking mutator of l.
func NewStakeInterface(l *Ledger) *StakeInterface {
	return &StakeInterface{ledger: l}
}

// SetStaked records amount as staked against id.
func (s *StakeInterface) SetStaked(ctx context.Context, caller common.Address, id uint64, amount *uint256.Int) error {
	return s.ledger.SetStaked(ctx, caller, id, amount)
}

// InvestmentInfo lets the staking collaborator size a stake.
func (s *StakeInterface) InvestmentInfo(ctx context.Context, caller common.Address, id uint64) (domain.InvestmentInfo, error) {
	return s.ledger.InvestmentInfo(ctx, caller, id)
}
