//go:build integration

package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/alanyoungcy/vestd/internal/domain"
)

// Run with: go test -tags=integration ./internal/store/postgres/...
func newIntegrationClient(t *testing.T) *Client {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("vestd"),
		tcpostgres.WithUsername("vestd"),
		tcpostgres.WithPassword("vestd"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("terminate postgres container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	client, err := New(ctx, ClientConfig{DSN: dsn})
	require.NoError(t, err)
	t.Cleanup(client.Close)
	require.NoError(t, client.RunMigrations(ctx))
	// A second run is a no-op.
	require.NoError(t, client.RunMigrations(ctx))
	return client
}

func sampleRecord(id, principal, claimed uint64, owner common.Address) domain.PositionRecord {
	return domain.PositionRecord{
		Position: domain.Position{
			ID:            id,
			Principal:     *uint256.NewInt(principal),
			Claimed:       *uint256.NewInt(claimed),
			VestingStart:  1_700_000_000 + id,
			VestingPeriod: 1000,
			MintedAt:      1_700_000_000,
			Exists:        true,
		},
		Owner: owner,
	}
}

func TestPositionStoreSQL(t *testing.T) {
	client := newIntegrationClient(t)
	ctx := context.Background()
	store := NewPositionStore(client.Pool())
	alice := common.HexToAddress("0xa1")
	bob := common.HexToAddress("0xb0")

	t.Run("upsert overwrites every column", func(t *testing.T) {
		require.NoError(t, store.Upsert(ctx, sampleRecord(0, 100, 0, alice)))

		next := sampleRecord(0, 1000, 500, bob)
		next.VestingStart = 42
		next.VestingPeriod = 7
		next.MintedAt = 41
		cid := uint64(3)
		next.CollectibleID = &cid
		require.NoError(t, store.Upsert(ctx, next))

		got, err := store.GetByID(ctx, 0)
		require.NoError(t, err)
		assert.Equal(t, uint64(1000), got.Principal.Uint64())
		assert.Equal(t, uint64(500), got.Claimed.Uint64())
		assert.Equal(t, uint64(42), got.VestingStart)
		assert.Equal(t, uint64(7), got.VestingPeriod)
		assert.Equal(t, uint64(41), got.MintedAt)
		assert.Equal(t, bob, got.Owner)
		require.NotNil(t, got.CollectibleID)
		assert.Equal(t, cid, *got.CollectibleID)

		var linked int64
		require.NoError(t, client.Pool().QueryRow(ctx,
			`SELECT position_id FROM collectible_links WHERE collectible_id = $1`, int64(cid)).Scan(&linked))
		assert.Equal(t, int64(0), linked)
	})

	t.Run("claimed above principal is rejected", func(t *testing.T) {
		err := store.Upsert(ctx, sampleRecord(1, 10, 11, alice))
		assert.Error(t, err)
		_, err = store.GetByID(ctx, 1)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("amounts keep full width", func(t *testing.T) {
		rec := sampleRecord(2, 0, 0, alice)
		rec.Principal.SetAllOne()
		require.NoError(t, store.Upsert(ctx, rec))
		got, err := store.GetByID(ctx, 2)
		require.NoError(t, err)
		assert.Equal(t, rec.Principal.Dec(), got.Principal.Dec())
	})

	t.Run("set owner", func(t *testing.T) {
		require.NoError(t, store.SetOwner(ctx, 2, bob.Hex()))
		got, err := store.GetByID(ctx, 2)
		require.NoError(t, err)
		assert.Equal(t, bob, got.Owner)
		assert.ErrorIs(t, store.SetOwner(ctx, 404, bob.Hex()), domain.ErrNotFound)
	})

	t.Run("list pages by id", func(t *testing.T) {
		require.NoError(t, store.Upsert(ctx, sampleRecord(5, 50, 0, alice)))
		all, err := store.List(ctx, domain.ListOpts{})
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, []uint64{0, 2, 5}, []uint64{all[0].ID, all[1].ID, all[2].ID})

		page, err := store.List(ctx, domain.ListOpts{Limit: 1, Offset: 1})
		require.NoError(t, err)
		require.Len(t, page, 1)
		assert.Equal(t, uint64(2), page[0].ID)
	})

	t.Run("delete keeps the link", func(t *testing.T) {
		require.NoError(t, store.Delete(ctx, 0))
		assert.ErrorIs(t, store.Delete(ctx, 0), domain.ErrNotFound)

		var links int64
		require.NoError(t, client.Pool().QueryRow(ctx, `SELECT COUNT(*) FROM collectible_links`).Scan(&links))
		assert.Equal(t, int64(1), links)
	})

	t.Run("count and truncate", func(t *testing.T) {
		n, err := store.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)

		require.NoError(t, store.Truncate(ctx))
		n, err = store.Count(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)

		var links int64
		require.NoError(t, client.Pool().QueryRow(ctx, `SELECT COUNT(*) FROM collectible_links`).Scan(&links))
		assert.Zero(t, links)
	})
}

func TestAuditStoreSQL(t *testing.T) {
	client := newIntegrationClient(t)
	ctx := context.Background()
	audit := NewAuditStore(client.Pool())

	for _, ev := range []string{"position_created", "amount_claimed", "position_burned"} {
		require.NoError(t, audit.Log(ctx, ev, map[string]any{"position_id": 7, "event": ev}))
	}

	cutoff := time.Now().Add(time.Minute)
	all, err := audit.ListBefore(ctx, cutoff, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "position_created", all[0].Event)
	assert.Less(t, all[0].ID, all[1].ID)
	assert.Equal(t, "amount_claimed", all[1].Detail["event"])
	assert.EqualValues(t, 7, all[1].Detail["position_id"])

	rest, err := audit.ListBefore(ctx, cutoff, all[1].ID)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, "position_burned", rest[0].Event)

	none, err := audit.ListBefore(ctx, time.Now().Add(-time.Hour), 0)
	require.NoError(t, err)
	assert.Empty(t, none)

	newest, err := audit.List(ctx, domain.ListOpts{Limit: 1})
	require.NoError(t, err)
	require.Len(t, newest, 1)
	assert.Equal(t, "position_burned", newest[0].Event)
}
