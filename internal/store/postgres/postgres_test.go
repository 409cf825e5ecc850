package postgres

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/vestd/internal/domain"
)

func TestDSN(t *testing.T) {
	assert.Equal(t, "postgres://u:p@db:5432/vest?sslmode=disable",
		DSN(ClientConfig{User: "u", Password: "p", Host: "db", Database: "vest"}))
	assert.Equal(t, "postgres://x", DSN(ClientConfig{DSN: "postgres://x", Host: "ignored"}))
}

func TestMigrationsEmbedded(t *testing.T) {
	names, err := migrationNames()
	require.NoError(t, err)
	require.NotEmpty(t, names)
	assert.Equal(t, "001_init.sql", names[0])
}

func TestPositionRowRoundTrip(t *testing.T) {
	big, err := uint256.FromDecimal("115792089237316195423570985008687907853269984665640564039457584007913129639935")
	require.NoError(t, err)
	cid := uint64(9)
	rec := domain.PositionRecord{
		Position: domain.Position{
			ID:            3,
			Principal:     *big,
			Claimed:       *uint256.NewInt(12),
			Staked:        *uint256.NewInt(4),
			VestingStart:  1_700_000_000,
			VestingPeriod: 86_400,
			MintedAt:      1_699_999_000,
			Exists:        true,
		},
		Owner:         common.HexToAddress("0x00000000000000000000000000000000000000a1"),
		CollectibleID: &cid,
	}

	row := rowFromRecord(rec)
	got, err := row.record()
	require.NoError(t, err)
	assert.Equal(t, rec, got)
}

func TestPositionRowRejectsBadAmount(t *testing.T) {
	row := positionRow{principal: "1.5", claimed: "0", staked: "0"}
	_, err := row.record()
	assert.Error(t, err)
}
