package handler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/vestd/internal/domain"
)

// BalanceService computes paged aggregate balances.
type BalanceService interface {
	Balance(ctx context.Context, caller, account common.Address, page domain.Page) (domain.AggregateBalance, error)
}

// BalanceHandler serves the aggregate balance endpoint.
type BalanceHandler struct {
	view   BalanceService
	logger *slog.Logger
}

// NewBalanceHandler creates a BalanceHandler.
func NewBalanceHandler(view BalanceService, logger *slog.Logger) *BalanceHandler {
	return &BalanceHandler{view: view, logger: logHandler(logger, "balances")}
}

type balanceResponse struct {
	Account    string `json:"account"`
	Unvested   string `json:"unvested"`
	Liquid     string `json:"liquid"`
	Staked     string `json:"staked"`
	Total      string `json:"total"`
	Positions  uint64 `json:"positions"`
	NextOffset int64  `json:"next_offset"`
}

// GetBalance returns one page of an account's aggregate balance.
// GET /api/balances/{account}?offset=&limit=
func (h *BalanceHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	account, err := parseAddress("account", r.PathValue("account"))
	if err != nil {
		writeDomainError(w, r, h.logger, "balance", err)
		return
	}
	page, err := parsePage(r)
	if err != nil {
		writeDomainError(w, r, h.logger, "balance", err)
		return
	}
	bal, err := h.view.Balance(r.Context(), caller(r), account, page)
	if err != nil {
		writeDomainError(w, r, h.logger, "balance", err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{
		Account:    bal.Account.Hex(),
		Unvested:   bal.Unvested.Dec(),
		Liquid:     bal.Liquid.Dec(),
		Staked:     bal.Staked.Dec(),
		Total:      bal.Total.Dec(),
		Positions:  bal.Positions,
		NextOffset: bal.NextOffset,
	})
}

func parsePage(r *http.Request) (domain.Page, error) {
	var page domain.Page
	q := r.URL.Query()
	for name, dst := range map[string]*uint64{"offset": &page.Offset, "limit": &page.Limit} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return page, fmt.Errorf("%w: %s %q", domain.ErrInvalidArgument, name, raw)
		}
		*dst = v
	}
	return page, nil
}
