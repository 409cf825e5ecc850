package vesting

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/vestd/internal/domain"
)

// DefaultMaxPageSize caps the positions visited by one Balance call.
const DefaultMaxPageSize = 100

// AggregateView sums an account's unvested position balances with its liquid
// and staking receipt token balances. It never mutates.
type AggregateView struct {
	ledger  *Ledger
	liquid  domain.BalanceSource
	staked  domain.BalanceSource
	maxPage uint64
}

// NewAggregateView creates the view. Either balance source may be nil.
func NewAggregateView(l *Ledger, liquid, staked domain.BalanceSource, maxPage uint64) *AggregateView {
	if maxPage == 0 {
		maxPage = DefaultMaxPageSize
	}
	return &AggregateView{ledger: l, liquid: liquid, staked: staked, maxPage: maxPage}
}

// MaxPageSize returns the enforced page cap.
func (v *AggregateView) MaxPageSize() uint64 { return v.maxPage }

// Balance returns one page of account's aggregate balance. Token balances are
// added on the page starting at offset 0 only, so summing every page counts
// them once.
func (v *AggregateView) Balance(_ context.Context, caller, account common.Address, page domain.Page) (domain.AggregateBalance, error) {
	out := domain.AggregateBalance{Account: account, NextOffset: -1}
	if !v.ledger.roles.HasRole(domain.RoleReader, caller) {
		return out, fmt.Errorf("vesting: balance: caller %s: %w", caller.Hex(), domain.ErrUnauthorized)
	}

	limit := page.Limit
	if limit == 0 || limit > v.maxPage {
		limit = v.maxPage
	}
	count := v.ledger.owners.BalanceOf(account)
	end := count
	if page.Offset < count && count-page.Offset > limit {
		end = page.Offset + limit
	}

	for i := page.Offset; i < end; i++ {
		id, err := v.ledger.owners.TokenOfOwnerByIndex(account, i)
		if err != nil {
			return out, fmt.Errorf("vesting: balance: index %d: %w", i, err)
		}
		out.Positions++
		p, ok := v.ledger.get(id)
		if !ok {
			continue
		}
		rem, err := remaining(&p)
		if err != nil {
			return out, fmt.Errorf("vesting: balance: %w", err)
		}
		if err := addChecked(&out.Unvested, &rem); err != nil {
			return out, fmt.Errorf("vesting: balance: %w", err)
		}
	}
	if end < count {
		out.NextOffset = int64(end)
	}

	if page.Offset == 0 {
		if v.liquid != nil {
			out.Liquid = v.liquid.BalanceOf(account)
		}
		if v.staked != nil {
			out.Staked = v.staked.BalanceOf(account)
		}
	}
	out.Total = out.Unvested
	if err := addChecked(&out.Total, &out.Liquid); err != nil {
		return out, fmt.Errorf("vesting: balance: %w", err)
	}
	if err := addChecked(&out.Total, &out.Staked); err != nil {
		return out, fmt.Errorf("vesting: balance: %w", err)
	}
	return out, nil
}

func addChecked(dst, v *uint256.Int) error {
	if _, overflow := dst.AddOverflow(dst, v); overflow {
		return domain.ErrArithmeticOverflow
	}
	return nil
}
