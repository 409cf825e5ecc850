package vesting

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/alanyoungcy/vestd/internal/domain"
)

// unlocked returns the part of principal released by time now. Before the
// start nothing is unlocked; after start+period everything is.
func unlocked(p *domain.Position, now uint64) (uint256.Int, error) {
	var out uint256.Int
	if now < p.VestingStart {
		return out, nil
	}
	elapsed := now - p.VestingStart
	if elapsed >= p.VestingPeriod {
		return p.Principal, nil
	}
	prod, overflow := new(uint256.Int).MulOverflow(uint256.NewInt(elapsed), &p.Principal)
	if overflow {
		return out, fmt.Errorf("unlock of position %d: %w", p.ID, domain.ErrArithmeticOverflow)
	}
	out.Div(prod, uint256.NewInt(p.VestingPeriod))
	return out, nil
}

// claimableAt is unlocked - claimed - staked, zero before the start. An
// unlocked amount smaller than claimed+staked is an arithmetic underflow, not
// zero: staked is set externally and exceeding it signals a collaborator bug.
func claimableAt(p *domain.Position, now uint64) (uint256.Int, error) {
	if now < p.VestingStart {
		return uint256.Int{}, nil
	}
	u, err := unlocked(p, now)
	if err != nil {
		return uint256.Int{}, err
	}
	return subClaimedStaked(p, &u)
}

// remaining is principal - claimed - staked.
func remaining(p *domain.Position) (uint256.Int, error) {
	return subClaimedStaked(p, &p.Principal)
}

func subClaimedStaked(p *domain.Position, from *uint256.Int) (uint256.Int, error) {
	afterClaimed, under := new(uint256.Int).SubOverflow(from, &p.Claimed)
	if under {
		return uint256.Int{}, fmt.Errorf("position %d claimed exceeds unlocked: %w", p.ID, domain.ErrArithmeticUnderflow)
	}
	out, under := new(uint256.Int).SubOverflow(afterClaimed, &p.Staked)
	if under {
		return uint256.Int{}, fmt.Errorf("position %d staked exceeds available: %w", p.ID, domain.ErrArithmeticUnderflow)
	}
	return *out, nil
}
