package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/alanyoungcy/vestd/internal/domain"
)

// minReplayTTL keeps a consumed signature recorded for a while even when it
// arrives close to its expiry, covering clock skew between replicas.
const minReplayTTL = 10 * time.Minute

// SignatureRegistry implements domain.SignatureRegistry with SET NX. A key
// lives until the signature's expiry plus minReplayTTL, after which the
// expiry check alone rejects it.
type SignatureRegistry struct {
	c   *Client
	now func() time.Time
}

// NewSignatureRegistry creates a SignatureRegistry backed by c.
func NewSignatureRegistry(c *Client) *SignatureRegistry {
	return &SignatureRegistry{c: c, now: time.Now}
}

func (r *SignatureRegistry) ttl(expiresAt time.Time) time.Duration {
	return expiresAt.Sub(r.now()) + minReplayTTL
}

// Consume records key, failing with ErrSignatureReplayed when present.
func (r *SignatureRegistry) Consume(ctx context.Context, key string, expiresAt time.Time) error {
	ttl := r.ttl(expiresAt)
	if ttl < minReplayTTL {
		ttl = minReplayTTL
	}
	ok, err := r.c.rdb.SetNX(ctx, r.c.key("replay", key), expiresAt.Unix(), ttl).Result()
	if err != nil {
		return fmt.Errorf("redis: consume signature: %w", err)
	}
	if !ok {
		return domain.ErrSignatureReplayed
	}
	return nil
}

// Release forgets key so the signature may be submitted again.
func (r *SignatureRegistry) Release(ctx context.Context, key string) error {
	if err := r.c.rdb.Del(ctx, r.c.key("replay", key)).Err(); err != nil {
		return fmt.Errorf("redis: release signature: %w", err)
	}
	return nil
}

var _ domain.SignatureRegistry = (*SignatureRegistry)(nil)
