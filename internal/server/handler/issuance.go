package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/vestd/internal/domain"
)

// IssuerService creates signature-authorized positions and distributions.
type IssuerService interface {
	CreatePosition(ctx context.Context, caller common.Address, sig string, expiry uint64, params domain.GrantParams, level *uint256.Int) (uint64, error)
	DistributeTokens(ctx context.Context, caller common.Address, sig string, expiry uint64, recipient common.Address, amount *uint256.Int) error
}

// IssuanceHandler serves the issuance endpoints.
type IssuanceHandler struct {
	issuer IssuerService
	logger *slog.Logger
}

// NewIssuanceHandler creates an IssuanceHandler.
func NewIssuanceHandler(issuer IssuerService, logger *slog.Logger) *IssuanceHandler {
	return &IssuanceHandler{issuer: issuer, logger: logHandler(logger, "issuance")}
}

type createPositionRequest struct {
	Recipient     string `json:"recipient"`
	Principal     string `json:"principal"`
	VestingStart  uint64 `json:"vesting_start"`
	VestingPeriod uint64 `json:"vesting_period"`
	Cliff         uint64 `json:"cliff"`
	Level         string `json:"level,omitempty"`
	Expiry        uint64 `json:"expiry"`
	Signature     string `json:"signature"`
}

type distributeRequest struct {
	Recipient string `json:"recipient"`
	Amount    string `json:"amount"`
	Expiry    uint64 `json:"expiry"`
	Signature string `json:"signature"`
}

// CreatePosition opens a new vesting position.
// POST /api/positions
func (h *IssuanceHandler) CreatePosition(w http.ResponseWriter, r *http.Request) {
	var req createPositionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDomainError(w, r, h.logger, "create position", err)
		return
	}
	params, level, err := req.parse()
	if err != nil {
		writeDomainError(w, r, h.logger, "create position", err)
		return
	}
	id, err := h.issuer.CreatePosition(r.Context(), caller(r), req.Signature, req.Expiry, params, level)
	if err != nil {
		writeDomainError(w, r, h.logger, "create position", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"position_id": id})
}

func (req createPositionRequest) parse() (domain.GrantParams, *uint256.Int, error) {
	recipient, err := parseAddress("recipient", req.Recipient)
	if err != nil {
		return domain.GrantParams{}, nil, err
	}
	principal, err := parseAmount("principal", req.Principal)
	if err != nil {
		return domain.GrantParams{}, nil, err
	}
	level := uint256.NewInt(0)
	if req.Level != "" {
		if level, err = parseAmount("level", req.Level); err != nil {
			return domain.GrantParams{}, nil, err
		}
	}
	return domain.GrantParams{
		Recipient:     recipient,
		Principal:     *principal,
		VestingStart:  req.VestingStart,
		VestingPeriod: req.VestingPeriod,
		Cliff:         req.Cliff,
	}, level, nil
}

// Distribute pays reserve tokens straight to a recipient.
// POST /api/distributions
func (h *IssuanceHandler) Distribute(w http.ResponseWriter, r *http.Request) {
	var req distributeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDomainError(w, r, h.logger, "distribute", err)
		return
	}
	recipient, err := parseAddress("recipient", req.Recipient)
	if err != nil {
		writeDomainError(w, r, h.logger, "distribute", err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		writeDomainError(w, r, h.logger, "distribute", err)
		return
	}
	if err := h.issuer.DistributeTokens(r.Context(), caller(r), req.Signature, req.Expiry, recipient, amount); err != nil {
		writeDomainError(w, r, h.logger, "distribute", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"recipient": recipient.Hex(), "amount": amount.Dec()})
}
