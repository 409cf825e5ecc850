package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/vestd/internal/domain"
)

// LedgerService is the part of the vesting ledger the position endpoints use.
type LedgerService interface {
	Claimable(ctx context.Context, caller common.Address, id uint64) (uint256.Int, error)
	InvestmentInfo(ctx context.Context, caller common.Address, id uint64) (domain.InvestmentInfo, error)
	Claim(ctx context.Context, caller common.Address, id uint64, amount *uint256.Int) error
	TransferPosition(ctx context.Context, caller common.Address, id uint64, to common.Address) error
	Burn(ctx context.Context, caller common.Address, id uint64) (uint256.Int, error)
	TransferEligible(id uint64) bool
	PositionForCollectible(collectibleID uint64) (uint64, error)
}

// Staker adjusts the staked amount recorded against a position.
type Staker interface {
	SetStaked(ctx context.Context, caller common.Address, id uint64, amount *uint256.Int) error
}

// PositionHandler serves position-related HTTP endpoints.
type PositionHandler struct {
	ledger LedgerService
	staker Staker
	store  domain.PositionStore // nil without persistent storage
	roles  domain.RoleChecker
	logger *slog.Logger
}

// NewPositionHandler creates a PositionHandler. store may be nil, in which
// case listing is unavailable.
func NewPositionHandler(ledger LedgerService, staker Staker, store domain.PositionStore, roles domain.RoleChecker, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{
		ledger: ledger,
		staker: staker,
		store:  store,
		roles:  roles,
		logger: logHandler(logger, "positions"),
	}
}

type positionResponse struct {
	PositionID       uint64 `json:"position_id"`
	Principal        string `json:"principal"`
	Claimed          string `json:"claimed"`
	Staked           string `json:"staked"`
	VestingPeriod    uint64 `json:"vesting_period"`
	VestingStart     uint64 `json:"vesting_start"`
	TransferEligible bool   `json:"transfer_eligible"`
}

type positionRecordResponse struct {
	PositionID    uint64  `json:"position_id"`
	Owner         string  `json:"owner"`
	Principal     string  `json:"principal"`
	Claimed       string  `json:"claimed"`
	Staked        string  `json:"staked"`
	VestingPeriod uint64  `json:"vesting_period"`
	VestingStart  uint64  `json:"vesting_start"`
	MintedAt      uint64  `json:"minted_at"`
	CollectibleID *uint64 `json:"collectible_id,omitempty"`
}

type listPositionsResponse struct {
	Positions []positionRecordResponse `json:"positions"`
}

type amountRequest struct {
	Amount string `json:"amount"`
}

type transferRequest struct {
	To string `json:"to"`
}

// ListPositions returns the persisted position projection.
// GET /api/positions?limit=&offset=
func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	if !h.roles.HasRole(domain.RoleReader, caller(r)) {
		writeError(w, http.StatusForbidden, "unauthorized", "reader role required")
		return
	}
	if h.store == nil {
		writeError(w, http.StatusNotImplemented, "not_configured", "position listing requires persistent storage")
		return
	}

	recs, err := h.store.List(r.Context(), parseListOpts(r))
	if err != nil {
		writeDomainError(w, r, h.logger, "list positions", err)
		return
	}
	out := listPositionsResponse{Positions: make([]positionRecordResponse, 0, len(recs))}
	for _, rec := range recs {
		out.Positions = append(out.Positions, positionRecordResponse{
			PositionID:    rec.ID,
			Owner:         rec.Owner.Hex(),
			Principal:     rec.Principal.Dec(),
			Claimed:       rec.Claimed.Dec(),
			Staked:        rec.Staked.Dec(),
			VestingPeriod: rec.VestingPeriod,
			VestingStart:  rec.VestingStart,
			MintedAt:      rec.MintedAt,
			CollectibleID: rec.CollectibleID,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// GetPosition returns the investment info of one position.
// GET /api/positions/{id}
func (h *PositionHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		writeDomainError(w, r, h.logger, "get position", err)
		return
	}
	info, err := h.ledger.InvestmentInfo(r.Context(), caller(r), id)
	if err != nil {
		writeDomainError(w, r, h.logger, "get position", err)
		return
	}
	writeJSON(w, http.StatusOK, positionResponse{
		PositionID:       id,
		Principal:        info.Principal.Dec(),
		Claimed:          info.Claimed.Dec(),
		Staked:           info.Staked.Dec(),
		VestingPeriod:    info.VestingPeriod,
		VestingStart:     info.VestingStart,
		TransferEligible: h.ledger.TransferEligible(id),
	})
}

// GetClaimable returns the amount currently claimable from a position.
// GET /api/positions/{id}/claimable
func (h *PositionHandler) GetClaimable(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		writeDomainError(w, r, h.logger, "claimable", err)
		return
	}
	amount, err := h.ledger.Claimable(r.Context(), caller(r), id)
	if err != nil {
		writeDomainError(w, r, h.logger, "claimable", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"position_id": id, "claimable": amount.Dec()})
}

// Claim pays out part of a position's claimable balance to its owner.
// POST /api/positions/{id}/claim {"amount":"..."}
func (h *PositionHandler) Claim(w http.ResponseWriter, r *http.Request) {
	id, amount, ok := h.idAndAmount(w, r, "claim")
	if !ok {
		return
	}
	if err := h.ledger.Claim(r.Context(), caller(r), id, amount); err != nil {
		writeDomainError(w, r, h.logger, "claim", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"position_id": id, "claimed": amount.Dec()})
}

// SetStaked records the staked amount of a position. Only the staking
// collaborator may call it.
// PUT /api/positions/{id}/staked {"amount":"..."}
func (h *PositionHandler) SetStaked(w http.ResponseWriter, r *http.Request) {
	id, amount, ok := h.idAndAmount(w, r, "set staked")
	if !ok {
		return
	}
	if err := h.staker.SetStaked(r.Context(), caller(r), id, amount); err != nil {
		writeDomainError(w, r, h.logger, "set staked", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"position_id": id, "staked": amount.Dec()})
}

// Transfer moves a fully claimed position to a new owner.
// POST /api/positions/{id}/transfer {"to":"0x..."}
func (h *PositionHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		writeDomainError(w, r, h.logger, "transfer", err)
		return
	}
	var req transferRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDomainError(w, r, h.logger, "transfer", err)
		return
	}
	to, err := parseAddress("to", req.To)
	if err != nil {
		writeDomainError(w, r, h.logger, "transfer", err)
		return
	}
	if err := h.ledger.TransferPosition(r.Context(), caller(r), id, to); err != nil {
		writeDomainError(w, r, h.logger, "transfer", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"position_id": id, "owner": to.Hex()})
}

// Burn destroys a position and pays its remaining principal to the admin.
// DELETE /api/positions/{id}
func (h *PositionHandler) Burn(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		writeDomainError(w, r, h.logger, "burn", err)
		return
	}
	paid, err := h.ledger.Burn(r.Context(), caller(r), id)
	if err != nil {
		writeDomainError(w, r, h.logger, "burn", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"position_id": id, "remaining_paid": paid.Dec()})
}

// PositionForCollectible resolves the position a companion collectible was
// issued with.
// GET /api/collectibles/{id}/position
func (h *PositionHandler) PositionForCollectible(w http.ResponseWriter, r *http.Request) {
	cid, err := idParam(r, "id")
	if err != nil {
		writeDomainError(w, r, h.logger, "collectible lookup", err)
		return
	}
	pid, err := h.ledger.PositionForCollectible(cid)
	if err != nil {
		writeDomainError(w, r, h.logger, "collectible lookup", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"collectible_id": cid, "position_id": pid})
}

func (h *PositionHandler) idAndAmount(w http.ResponseWriter, r *http.Request, op string) (uint64, *uint256.Int, bool) {
	id, err := idParam(r, "id")
	if err == nil {
		var req amountRequest
		if err = decodeJSON(r, &req); err == nil {
			var amount *uint256.Int
			if amount, err = parseAmount("amount", req.Amount); err == nil {
				return id, amount, true
			}
		}
	}
	writeDomainError(w, r, h.logger, op, err)
	return 0, nil, false
}
