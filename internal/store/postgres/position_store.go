package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/vestd/internal/domain"
)

// PositionStore implements domain.PositionStore. Amounts are NUMERIC(78,0)
// and cross the wire as decimal text.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionSelectCols = `id, owner, principal::text, claimed::text, staked::text,
	vesting_start, vesting_period, minted_at, collectible_id`

// positionRow is the database shape of a PositionRecord.
type positionRow struct {
	id            int64
	owner         string
	principal     string
	claimed       string
	staked        string
	vestingStart  int64
	vestingPeriod int64
	mintedAt      int64
	collectibleID *int64
}

func (r *positionRow) scan(row pgx.Row) error {
	return row.Scan(
		&r.id, &r.owner, &r.principal, &r.claimed, &r.staked,
		&r.vestingStart, &r.vestingPeriod, &r.mintedAt, &r.collectibleID,
	)
}

func (r *positionRow) record() (domain.PositionRecord, error) {
	rec := domain.PositionRecord{
		Position: domain.Position{
			ID:            uint64(r.id),
			VestingStart:  uint64(r.vestingStart),
			VestingPeriod: uint64(r.vestingPeriod),
			MintedAt:      uint64(r.mintedAt),
			Exists:        true,
		},
		Owner: common.HexToAddress(r.owner),
	}
	for _, f := range []struct {
		dst *uint256.Int
		src string
	}{
		{&rec.Principal, r.principal},
		{&rec.Claimed, r.claimed},
		{&rec.Staked, r.staked},
	} {
		if err := f.dst.SetFromDecimal(f.src); err != nil {
			return rec, fmt.Errorf("postgres: position %d amount %q: %w", r.id, f.src, err)
		}
	}
	if r.collectibleID != nil {
		cid := uint64(*r.collectibleID)
		rec.CollectibleID = &cid
	}
	return rec, nil
}

func rowFromRecord(rec domain.PositionRecord) positionRow {
	row := positionRow{
		id:            int64(rec.ID),
		owner:         rec.Owner.Hex(),
		principal:     rec.Principal.Dec(),
		claimed:       rec.Claimed.Dec(),
		staked:        rec.Staked.Dec(),
		vestingStart:  int64(rec.VestingStart),
		vestingPeriod: int64(rec.VestingPeriod),
		mintedAt:      int64(rec.MintedAt),
	}
	if rec.CollectibleID != nil {
		cid := int64(*rec.CollectibleID)
		row.collectibleID = &cid
	}
	return row
}

// Upsert writes rec and, for a position with a companion collectible, its
// link, in one transaction.
func (s *PositionStore) Upsert(ctx context.Context, rec domain.PositionRecord) error {
	r := rowFromRecord(rec)
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: upsert position %d: begin: %w", rec.ID, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const query = `
		INSERT INTO positions (
			id, owner, principal, claimed, staked,
			vesting_start, vesting_period, minted_at, collectible_id, updated_at
		) VALUES (
			$1, $2, $3::text::numeric, $4::text::numeric, $5::text::numeric,
			$6, $7, $8, $9, NOW()
		)
		ON CONFLICT (id) DO UPDATE SET
			owner          = EXCLUDED.owner,
			principal      = EXCLUDED.principal,
			claimed        = EXCLUDED.claimed,
			staked         = EXCLUDED.staked,
			vesting_start  = EXCLUDED.vesting_start,
			vesting_period = EXCLUDED.vesting_period,
			minted_at      = EXCLUDED.minted_at,
			collectible_id = EXCLUDED.collectible_id,
			updated_at     = NOW()`
	if _, err := tx.Exec(ctx, query,
		r.id, r.owner, r.principal, r.claimed, r.staked,
		r.vestingStart, r.vestingPeriod, r.mintedAt, r.collectibleID,
	); err != nil {
		return fmt.Errorf("postgres: upsert position %d: %w", rec.ID, err)
	}

	if r.collectibleID != nil {
		const link = `
			INSERT INTO collectible_links (collectible_id, position_id)
			VALUES ($1, $2)
			ON CONFLICT (collectible_id) DO UPDATE SET position_id = EXCLUDED.position_id`
		if _, err := tx.Exec(ctx, link, *r.collectibleID, r.id); err != nil {
			return fmt.Errorf("postgres: link collectible %d: %w", *r.collectibleID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: upsert position %d: commit: %w", rec.ID, err)
	}
	return nil
}

// Count returns the number of projected positions.
func (s *PositionStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM positions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count positions: %w", err)
	}
	return n, nil
}

// Truncate clears the projection and its collectible links. The audit log is
// kept.
func (s *PositionStore) Truncate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `TRUNCATE positions, collectible_links`); err != nil {
		return fmt.Errorf("postgres: truncate positions: %w", err)
	}
	return nil
}

// Delete removes a burned position. Its collectible link is kept.
func (s *PositionStore) Delete(ctx context.Context, id uint64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM positions WHERE id = $1`, int64(id))
	if err != nil {
		return fmt.Errorf("postgres: delete position %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: delete position %d: %w", id, domain.ErrNotFound)
	}
	return nil
}

// SetOwner records a completed ownership transfer.
func (s *PositionStore) SetOwner(ctx context.Context, id uint64, owner string) error {
	const query = `UPDATE positions SET owner = $2, updated_at = NOW() WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query, int64(id), owner)
	if err != nil {
		return fmt.Errorf("postgres: set owner of position %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: set owner of position %d: %w", id, domain.ErrNotFound)
	}
	return nil
}

// GetByID returns a single position.
func (s *PositionStore) GetByID(ctx context.Context, id uint64) (domain.PositionRecord, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions WHERE id = $1`
	var r positionRow
	if err := r.scan(s.pool.QueryRow(ctx, query, int64(id))); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.PositionRecord{}, fmt.Errorf("postgres: position %d: %w", id, domain.ErrNotFound)
		}
		return domain.PositionRecord{}, fmt.Errorf("postgres: get position %d: %w", id, err)
	}
	return r.record()
}

// List returns positions ordered by id.
func (s *PositionStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.PositionRecord, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions ORDER BY id`
	var args []any
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions: %w", err)
	}
	defer rows.Close()

	var out []domain.PositionRecord
	for rows.Next() {
		var r positionRow
		if err := r.scan(rows); err != nil {
			return nil, fmt.Errorf("postgres: scan position: %w", err)
		}
		rec, err := r.record()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list positions rows: %w", err)
	}
	return out, nil
}

var _ domain.PositionStore = (*PositionStore)(nil)
