package vesting

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/alanyoungcy/vestd/internal/crypto"
	"github.com/alanyoungcy/vestd/internal/domain"
)

// Authorizer checks backend-signed grants: expiry, signer identity and
// single use.
type Authorizer struct {
	domainSep []byte
	registry  domain.AddressResolver
	used      domain.SignatureRegistry
	clock     func() time.Time
}

// NewAuthorizer binds signature verification to a deployment domain. The
// expected signer is resolved from registry on every call.
func NewAuthorizer(d crypto.Domain, registry domain.AddressResolver, used domain.SignatureRegistry, clock func() time.Time) *Authorizer {
	if clock == nil {
		clock = time.Now
	}
	return &Authorizer{
		domainSep: d.Separator(),
		registry:  registry,
		used:      used,
		clock:     clock,
	}
}

// verify accepts sigHex for g and consumes it. The consumption is released if
// the enclosing call rolls back.
func (a *Authorizer) verify(ctx context.Context, j *journal, sigHex string, g crypto.Grant) error {
	if uint64(a.clock().Unix()) > g.Expiry {
		return fmt.Errorf("expiry %d: %w", g.Expiry, domain.ErrSignatureExpired)
	}
	sig, err := crypto.DecodeSignature(sigHex)
	if err != nil {
		return err
	}
	signer, err := crypto.Recover(crypto.GrantDigest(a.domainSep, g), sig)
	if err != nil {
		return err
	}
	if want := a.registry.Snapshot().Signer; signer != want {
		return fmt.Errorf("recovered %s: %w", signer.Hex(), domain.ErrSignerMismatch)
	}

	key := hex.EncodeToString(sig)
	if err := a.used.Consume(ctx, key, time.Unix(int64(g.Expiry), 0)); err != nil {
		return err
	}
	j.onRollback(func(ctx context.Context) error {
		return a.used.Release(ctx, key)
	})
	return nil
}
