package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// PositionStore persists the position projection. Writes happen inside the
// ledger's commit, so a failed write aborts the call.
type PositionStore interface {
	Upsert(ctx context.Context, rec PositionRecord) error
	Delete(ctx context.Context, id uint64) error
	SetOwner(ctx context.Context, id uint64, owner string) error
	GetByID(ctx context.Context, id uint64) (PositionRecord, error)
	List(ctx context.Context, opts ListOpts) ([]PositionRecord, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
	ListBefore(ctx context.Context, before time.Time, after int64) ([]AuditEntry, error)
}
