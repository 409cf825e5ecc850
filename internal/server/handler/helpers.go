package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/vestd/internal/domain"
	"github.com/alanyoungcy/vestd/internal/server/middleware"
)

// maxBodyBytes bounds every JSON request body.
const maxBodyBytes = 64 << 10

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error","code":"internal"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, Code: code})
}

// errorMapping lists refinements before their parents so the most specific
// sentinel wins.
var errorMapping = []struct {
	err    error
	status int
	code   string
}{
	{domain.ErrSignatureExpired, http.StatusUnauthorized, "signature_expired"},
	{domain.ErrSignatureReplayed, http.StatusConflict, "signature_replayed"},
	{domain.ErrSignerMismatch, http.StatusUnauthorized, "signer_mismatch"},
	{domain.ErrMalformedSignature, http.StatusBadRequest, "malformed_signature"},
	{domain.ErrInvalidSignature, http.StatusUnauthorized, "invalid_signature"},
	{domain.ErrInvalidRecipient, http.StatusBadRequest, "invalid_recipient"},
	{domain.ErrZeroAmount, http.StatusBadRequest, "zero_amount"},
	{domain.ErrInvalidArgument, http.StatusBadRequest, "invalid_argument"},
	{domain.ErrNotFound, http.StatusNotFound, "not_found"},
	{domain.ErrAlreadyExists, http.StatusConflict, "already_exists"},
	{domain.ErrUnauthorized, http.StatusForbidden, "unauthorized"},
	{domain.ErrExceedsClaimable, http.StatusUnprocessableEntity, "exceeds_claimable"},
	{domain.ErrExceedsRemaining, http.StatusUnprocessableEntity, "exceeds_remaining"},
	{domain.ErrTransferLocked, http.StatusConflict, "transfer_locked"},
	{domain.ErrReentrantCall, http.StatusConflict, "reentrant_call"},
	{domain.ErrBusy, http.StatusServiceUnavailable, "busy"},
	{domain.ErrPaused, http.StatusServiceUnavailable, "paused"},
	{domain.ErrTokenPaused, http.StatusServiceUnavailable, "token_paused"},
	{domain.ErrInsufficientBalance, http.StatusUnprocessableEntity, "insufficient_balance"},
	{domain.ErrInsufficientAllowance, http.StatusUnprocessableEntity, "insufficient_allowance"},
	{domain.ErrArithmeticUnderflow, http.StatusInternalServerError, "arithmetic_underflow"},
	{domain.ErrArithmeticOverflow, http.StatusInternalServerError, "arithmetic_overflow"},
}

// statusOf maps a ledger error onto an HTTP status and stable error code.
func statusOf(err error) (int, string) {
	for _, m := range errorMapping {
		if errors.Is(err, m.err) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, "internal"
}

// writeDomainError maps err and writes it. Server-side failures are logged
// and their detail withheld from the client.
func writeDomainError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, op string, err error) {
	status, code := statusOf(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		logger.ErrorContext(r.Context(), "handler: "+op+" failed",
			slog.String("code", code),
			slog.String("error", err.Error()),
		)
		msg = op + " failed"
	}
	writeError(w, status, code, msg)
}

// decodeJSON reads a single JSON object from the request body into dst,
// rejecting unknown fields.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: request body: %v", domain.ErrInvalidArgument, err)
	}
	return nil
}

// parseListOpts extracts standard pagination parameters from the query string.
// Defaults: limit=50 (max 500), offset=0.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	limit = min(limit, 500)

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return domain.ListOpts{Limit: limit, Offset: offset}
}

// idParam parses a uint64 path parameter.
func idParam(r *http.Request, name string) (uint64, error) {
	raw := r.PathValue(name)
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s %q", domain.ErrInvalidArgument, name, raw)
	}
	return id, nil
}

// parseAmount parses a base-10 uint256 amount.
func parseAmount(field, raw string) (*uint256.Int, error) {
	v, err := uint256.FromDecimal(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %q", domain.ErrInvalidArgument, field, raw)
	}
	return v, nil
}

// parseAddress parses a hex address. The zero address is accepted here and
// rejected, where relevant, by the ledger.
func parseAddress(field, raw string) (common.Address, error) {
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("%w: %s %q", domain.ErrInvalidArgument, field, raw)
	}
	return common.HexToAddress(raw), nil
}

// caller returns the authenticated caller of r.
func caller(r *http.Request) common.Address {
	return middleware.CallerFrom(r.Context())
}

// logHandler is a convenience to attach slog fields in handler code.
func logHandler(logger *slog.Logger, handler string) *slog.Logger {
	return logger.With(slog.String("handler", handler))
}
