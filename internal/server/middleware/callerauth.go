package middleware

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/vestd/internal/crypto"
	"github.com/alanyoungcy/vestd/internal/domain"
)

// Caller authentication headers. The signature is the caller's EIP-712
// CallerAuth(caller, timestamp) signature.
const (
	HeaderCallerAddress   = "X-Caller-Address"
	HeaderCallerTimestamp = "X-Caller-Timestamp"
	HeaderCallerSignature = "X-Caller-Signature"
)

type callerKey struct{}

// CallerFrom returns the authenticated caller, or the zero address for an
// anonymous request.
func CallerFrom(ctx context.Context) common.Address {
	addr, _ := ctx.Value(callerKey{}).(common.Address)
	return addr
}

// WithCaller returns ctx carrying caller.
func WithCaller(ctx context.Context, caller common.Address) context.Context {
	return context.WithValue(ctx, callerKey{}, caller)
}

// CallerAuth resolves the caller of a request from its signed headers. A
// request without X-Caller-Address passes through anonymously; one with a
// bad timestamp or signature is rejected with 401.
func CallerAuth(domainSep []byte, skew time.Duration, clock func() time.Time) func(http.Handler) http.Handler {
	if clock == nil {
		clock = time.Now
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := r.Header.Get(HeaderCallerAddress)
			if raw == "" {
				next.ServeHTTP(w, r)
				return
			}
			if !common.IsHexAddress(raw) {
				writeError(w, http.StatusUnauthorized, "invalid_caller", "malformed caller address")
				return
			}
			caller := common.HexToAddress(raw)

			ts, err := strconv.ParseInt(r.Header.Get(HeaderCallerTimestamp), 10, 64)
			if err != nil || ts < 0 {
				writeError(w, http.StatusUnauthorized, "invalid_caller", "malformed caller timestamp")
				return
			}
			if d := clock().Sub(time.Unix(ts, 0)); d > skew || d < -skew {
				writeError(w, http.StatusUnauthorized, "stale_caller_signature", "caller timestamp outside allowed skew")
				return
			}

			err = crypto.VerifyCallerAuth(domainSep, caller, uint64(ts), r.Header.Get(HeaderCallerSignature))
			if err != nil {
				code := "invalid_caller_signature"
				if errors.Is(err, domain.ErrSignerMismatch) {
					code = "caller_signer_mismatch"
				}
				writeError(w, http.StatusUnauthorized, code, "caller signature rejected")
				return
			}
			recordCaller(r.Context(), caller.Hex())
			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
		})
	}
}
