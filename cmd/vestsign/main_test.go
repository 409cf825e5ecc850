package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/vestd/internal/config"
	"github.com/alanyoungcy/vestd/internal/crypto"
	"github.com/alanyoungcy/vestd/internal/vesting"
)

var fixedNow = func() time.Time { return time.Unix(1_700_000_000, 0) }

func testKey(t *testing.T) (string, common.Address) {
	t.Helper()
	pk, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	return common.Bytes2Hex(ethcrypto.FromECDSA(pk)), ethcrypto.PubkeyToAddress(pk.PublicKey)
}

func defaultDomain(t *testing.T) crypto.Domain {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	return crypto.Domain{
		Name:              cfg.Chain.DomainName,
		Version:           cfg.Chain.DomainVersion,
		ChainID:           cfg.Chain.ChainID,
		VerifyingContract: common.HexToAddress(cfg.Chain.VerifyingContract),
	}
}

func TestGrantSignsRecoverableBody(t *testing.T) {
	key, addr := testKey(t)
	var out bytes.Buffer
	err := run([]string{"grant", "-key", key,
		"-recipient", "0x00000000000000000000000000000000000000a1",
		"-principal", "1000", "-period", "12", "-level", "2", "-ttl", "10m",
	}, &out, fixedNow)
	require.NoError(t, err)

	var body struct {
		Recipient     string `json:"recipient"`
		Principal     string `json:"principal"`
		VestingPeriod uint64 `json:"vesting_period"`
		Level         string `json:"level"`
		Expiry        uint64 `json:"expiry"`
		Signature     string `json:"signature"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &body))
	assert.Equal(t, uint64(1_700_000_600), body.Expiry)

	sig, err := crypto.DecodeSignature(body.Signature)
	require.NoError(t, err)
	got, err := crypto.Recover(crypto.GrantDigest(defaultDomain(t).Separator(), crypto.Grant{
		Recipient:     common.HexToAddress(body.Recipient),
		Amount:        *uint256.NewInt(1000),
		VestingPeriod: 12,
		Level:         *uint256.NewInt(2),
		Expiry:        body.Expiry,
	}), sig)
	require.NoError(t, err)
	assert.Equal(t, addr, got)
}

func TestDistributeUsesPlaceholderLevel(t *testing.T) {
	key, addr := testKey(t)
	var out bytes.Buffer
	require.NoError(t, run([]string{"distribute", "-key", key,
		"-recipient", "0x00000000000000000000000000000000000000b0", "-amount", "42",
	}, &out, fixedNow))

	var body map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &body))
	sig, err := crypto.DecodeSignature(body["signature"].(string))
	require.NoError(t, err)
	got, err := crypto.Recover(crypto.GrantDigest(defaultDomain(t).Separator(), crypto.Grant{
		Recipient: common.HexToAddress("0x00000000000000000000000000000000000000b0"),
		Amount:    *uint256.NewInt(42),
		Level:     vesting.DistributionLevel,
		Expiry:    uint64(body["expiry"].(float64)),
	}), sig)
	require.NoError(t, err)
	assert.Equal(t, addr, got)
}

func TestCallerAuthHeaders(t *testing.T) {
	key, addr := testKey(t)
	var out bytes.Buffer
	require.NoError(t, run([]string{"caller-auth", "-key", key}, &out, fixedNow))

	headers := map[string]string{}
	for _, line := range strings.Split(strings.TrimSpace(out.String()), "\n") {
		k, v, ok := strings.Cut(line, ": ")
		require.True(t, ok)
		headers[k] = v
	}
	assert.Equal(t, addr.Hex(), headers["X-Caller-Address"])
	assert.Equal(t, "1700000000", headers["X-Caller-Timestamp"])
	require.NoError(t, crypto.VerifyCallerAuth(defaultDomain(t).Separator(), addr, 1_700_000_000, headers["X-Caller-Signature"]))
}

func TestEncryptKeyRoundTrip(t *testing.T) {
	key, _ := testKey(t)
	path := filepath.Join(t.TempDir(), "key.json")
	require.NoError(t, run([]string{"encrypt-key", "-key", key, "-password", "pw", "-out", path}, &bytes.Buffer{}, fixedNow))

	blob, err := os.ReadFile(path)
	require.NoError(t, err)
	plain, err := crypto.DecryptKey(blob, "pw")
	require.NoError(t, err)
	assert.Equal(t, key, strings.TrimPrefix(plain, "0x"))
}

func TestUnknownCommand(t *testing.T) {
	assert.Error(t, run(nil, &bytes.Buffer{}, fixedNow))
	assert.ErrorContains(t, run([]string{"nope"}, &bytes.Buffer{}, fixedNow), "unknown command")
}
