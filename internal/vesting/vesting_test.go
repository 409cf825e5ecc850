package vesting

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/vestd/internal/access"
	"github.com/alanyoungcy/vestd/internal/collectible"
	"github.com/alanyoungcy/vestd/internal/crypto"
	"github.com/alanyoungcy/vestd/internal/domain"
	"github.com/alanyoungcy/vestd/internal/token"
)

var (
	admin      = common.HexToAddress("0x00000000000000000000000000000000000000ad")
	reserve    = common.HexToAddress("0x00000000000000000000000000000000000000e5")
	custody    = common.HexToAddress("0x00000000000000000000000000000000000000c5")
	staking    = common.HexToAddress("0x000000000000000000000000000000000000005a")
	governance = common.HexToAddress("0x0000000000000000000000000000000000000060")
	alice      = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob        = common.HexToAddress("0x00000000000000000000000000000000000000b0")

	testDomain = crypto.Domain{Name: "vestd", Version: "1", ChainID: 31337, VerifyingContract: custody}
)

const t0 = 1_700_000_000

type fixture struct {
	t        *testing.T
	now      time.Time
	token    *token.Token
	receipts *token.Token
	owners   *collectible.Registry
	badges   *collectible.Registry
	roles    *access.Roles
	registry *access.Registry
	replays  *MemorySignatureRegistry
	signer   *crypto.Signer
	sink     *recordingSink
	store    *memStore
	ledger   *Ledger
	issuer   *Issuer
	view     *AggregateView
	expiry   uint64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	pk, err := ethcrypto.GenerateKey()
	require.NoError(t, err)

	f := &fixture{t: t, now: time.Unix(t0, 0), expiry: t0 + 3600}
	f.roles = access.NewRoles(map[domain.Role][]common.Address{
		domain.RoleAdmin:  {admin},
		domain.RolePauser: {admin},
		domain.RoleMinter: {admin},
		domain.RoleReader: {admin},
	})
	f.signer = crypto.NewSignerFromKey(pk, testDomain)
	f.registry = access.NewRegistry(domain.Addresses{
		Reserve:    reserve,
		Custody:    custody,
		Signer:     f.signer.Address(),
		Staking:    staking,
		Governance: governance,
	}, f.roles)

	f.token = token.New("VEST", f.roles)
	f.receipts = token.New("sVEST", f.roles)
	supply := uint256.NewInt(1_000_000)
	require.NoError(t, f.token.Mint(context.Background(), admin, reserve, supply))
	f.token.Approve(reserve, custody, supply)

	f.owners = collectible.New("positions")
	f.badges = collectible.New("badges")
	f.replays = NewMemorySignatureRegistry()
	f.sink = &recordingSink{}
	f.store = newMemStore()
	clock := func() time.Time { return f.now }

	f.ledger = NewLedger(Deps{
		Token:    f.token,
		Owners:   f.owners,
		Roles:    f.roles,
		Registry: f.registry,
		Store:    f.store,
		Events:   f.sink,
		Clock:    clock,
		LockWait: 100 * time.Millisecond,
	})
	auth := NewAuthorizer(testDomain, f.registry, f.replays, clock)
	f.issuer = NewIssuer(f.ledger, auth, f.badges, time.Second, nil)
	f.view = NewAggregateView(f.ledger, f.token, f.receipts, 2)
	return f
}

func (f *fixture) grant(params domain.GrantParams, level uint64) string {
	f.t.Helper()
	sig, err := f.signer.SignGrant(crypto.Grant{
		Recipient:     params.Recipient,
		Amount:        params.Principal,
		VestingStart:  params.VestingStart,
		VestingPeriod: params.VestingPeriod,
		Cliff:         params.Cliff,
		Level:         *uint256.NewInt(level),
		Expiry:        f.expiry,
	})
	require.NoError(f.t, err)
	return sig
}

// create issues principal to alice vesting linearly over period seconds from t0.
func (f *fixture) create(principal, period uint64) uint64 {
	f.t.Helper()
	params := domain.GrantParams{
		Recipient:     alice,
		Principal:     *uint256.NewInt(principal),
		VestingStart:  t0,
		VestingPeriod: period,
	}
	id, err := f.issuer.CreatePosition(context.Background(), bob, f.grant(params, 0), f.expiry, params, uint256.NewInt(0))
	require.NoError(f.t, err)
	return id
}

func (f *fixture) at(offset int64) {
	f.now = time.Unix(t0+offset, 0)
}

func (f *fixture) claimable(id uint64) uint64 {
	f.t.Helper()
	c, err := f.ledger.Claimable(context.Background(), alice, id)
	require.NoError(f.t, err)
	return c.Uint64()
}

func TestLinearUnlockExample(t *testing.T) {
	f := newFixture(t)
	id := f.create(1000, 1000)

	f.at(250)
	assert.Equal(t, uint64(250), f.claimable(id))

	require.NoError(t, f.ledger.Claim(context.Background(), alice, id, uint256.NewInt(250)))
	assert.Equal(t, uint64(0), f.claimable(id))

	bal := f.token.BalanceOf(alice)
	assert.Equal(t, uint64(250), bal.Uint64())
	info, err := f.ledger.InvestmentInfo(context.Background(), alice, id)
	require.NoError(t, err)
	assert.Equal(t, uint64(250), info.Claimed.Uint64())
	assert.Equal(t, uint64(1000), info.Principal.Uint64())

	f.at(500)
	assert.Equal(t, uint64(250), f.claimable(id))
}

func TestClaimableBoundaries(t *testing.T) {
	f := newFixture(t)
	params := domain.GrantParams{
		Recipient:     alice,
		Principal:     *uint256.NewInt(1000),
		VestingStart:  t0 + 100,
		VestingPeriod: 1000,
	}
	id, err := f.issuer.CreatePosition(context.Background(), bob, f.grant(params, 0), f.expiry, params, uint256.NewInt(0))
	require.NoError(t, err)

	f.at(99)
	assert.Zero(t, f.claimable(id))
	f.at(100)
	assert.Zero(t, f.claimable(id))
	f.at(1100)
	assert.Equal(t, uint64(1000), f.claimable(id))
	f.at(50_000)
	assert.Equal(t, uint64(1000), f.claimable(id))
}

func TestClaimableMonotone(t *testing.T) {
	f := newFixture(t)
	id := f.create(7919, 997)

	var prev uint64
	for off := int64(-10); off <= 1100; off += 7 {
		f.at(off)
		c := f.claimable(id)
		assert.GreaterOrEqual(t, c, prev, "offset %d", off)
		prev = c
	}
}

func TestRandomClaimsNeverExceedPrincipal(t *testing.T) {
	f := newFixture(t)
	id := f.create(10_000, 500)
	rng := rand.New(rand.NewSource(42))

	for off := int64(0); off <= 600; off += int64(rng.Intn(40)) {
		f.at(off)
		amount := uint256.NewInt(uint64(rng.Intn(3000)))
		err := f.ledger.Claim(context.Background(), alice, id, amount)
		if err != nil {
			assert.ErrorIs(t, err, domain.ErrExceedsClaimable)
		}
		info, err := f.ledger.InvestmentInfo(context.Background(), alice, id)
		require.NoError(t, err)
		assert.False(t, info.Claimed.Gt(&info.Principal))
	}

	f.at(600)
	rest := f.claimable(id)
	require.NoError(t, f.ledger.Claim(context.Background(), alice, id, uint256.NewInt(rest)))
	bal := f.token.BalanceOf(alice)
	assert.Equal(t, uint64(10_000), bal.Uint64())
}

func TestClaimRejections(t *testing.T) {
	f := newFixture(t)
	id := f.create(1000, 1000)
	f.at(100)

	err := f.ledger.Claim(context.Background(), alice, id, uint256.NewInt(101))
	assert.ErrorIs(t, err, domain.ErrExceedsClaimable)

	err = f.ledger.Claim(context.Background(), bob, id, uint256.NewInt(1))
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	err = f.ledger.Claim(context.Background(), alice, 99, uint256.NewInt(1))
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// Staking and governance collaborators may act on any position.
	_, err = f.ledger.Claimable(context.Background(), staking, id)
	assert.NoError(t, err)
	_, err = f.ledger.InvestmentInfo(context.Background(), governance, id)
	assert.NoError(t, err)
}

func TestZeroClaimIsNoOp(t *testing.T) {
	f := newFixture(t)
	id := f.create(1000, 1000)
	f.at(-5)

	require.NoError(t, f.ledger.Claim(context.Background(), alice, id, uint256.NewInt(0)))
	info, err := f.ledger.InvestmentInfo(context.Background(), alice, id)
	require.NoError(t, err)
	assert.True(t, info.Claimed.IsZero())
	assert.Contains(t, f.sink.types(), domain.EventAmountClaimed)
}

func TestStakedReducesClaimable(t *testing.T) {
	f := newFixture(t)
	id := f.create(1000, 1000)
	stake := NewStakeInterface(f.ledger)

	err := stake.SetStaked(context.Background(), alice, id, uint256.NewInt(100))
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	require.NoError(t, stake.SetStaked(context.Background(), staking, id, uint256.NewInt(100)))
	f.at(500)
	assert.Equal(t, uint64(400), f.claimable(id))

	info, err := stake.InvestmentInfo(context.Background(), staking, id)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), info.Staked.Uint64())
}

func TestStakedAboveUnlockedUnderflows(t *testing.T) {
	f := newFixture(t)
	id := f.create(1000, 1000)
	require.NoError(t, f.ledger.SetStaked(context.Background(), staking, id, uint256.NewInt(600)))

	f.at(500)
	_, err := f.ledger.Claimable(context.Background(), alice, id)
	assert.ErrorIs(t, err, domain.ErrArithmeticUnderflow)

	err = f.ledger.Claim(context.Background(), alice, id, uint256.NewInt(1))
	assert.ErrorIs(t, err, domain.ErrArithmeticUnderflow)

	f.at(1000)
	assert.Equal(t, uint64(400), f.claimable(id))
}

func TestTransferLockedUntilFullyClaimed(t *testing.T) {
	f := newFixture(t)
	id := f.create(1000, 1000)
	f.at(1000)

	err := f.ledger.TransferPosition(context.Background(), alice, id, bob)
	assert.ErrorIs(t, err, domain.ErrTransferLocked)
	assert.False(t, f.ledger.TransferEligible(id))

	// The gate also guards direct registry transfers.
	err = f.owners.Transfer(context.Background(), alice, bob, id)
	assert.ErrorIs(t, err, domain.ErrTransferLocked)

	require.NoError(t, f.ledger.Claim(context.Background(), alice, id, uint256.NewInt(1000)))
	assert.True(t, f.ledger.TransferEligible(id))
	require.NoError(t, f.ledger.TransferPosition(context.Background(), alice, id, bob))

	owner, err := f.owners.OwnerOf(id)
	require.NoError(t, err)
	assert.Equal(t, bob, owner)
	assert.Equal(t, bob, f.store.get(id).Owner)
	assert.True(t, f.ledger.TransferEligible(404))
}

func TestSignatureReplayAndExpiry(t *testing.T) {
	f := newFixture(t)
	params := domain.GrantParams{Recipient: alice, Principal: *uint256.NewInt(10), VestingPeriod: 10}
	sig := f.grant(params, 0)
	zero := uint256.NewInt(0)

	_, err := f.issuer.CreatePosition(context.Background(), bob, sig, f.expiry, params, zero)
	require.NoError(t, err)
	_, err = f.issuer.CreatePosition(context.Background(), bob, sig, f.expiry, params, zero)
	assert.ErrorIs(t, err, domain.ErrSignatureReplayed)
	assert.ErrorIs(t, err, domain.ErrInvalidSignature)

	other := params
	other.Principal = *uint256.NewInt(11)
	sig2 := f.grant(other, 0)
	f.now = time.Unix(int64(f.expiry)+1, 0)
	_, err = f.issuer.CreatePosition(context.Background(), bob, sig2, f.expiry, other, zero)
	assert.ErrorIs(t, err, domain.ErrSignatureExpired)

	// Tampered parameters recover a different signer.
	f.at(0)
	tampered := other
	tampered.Principal = *uint256.NewInt(12)
	_, err = f.issuer.CreatePosition(context.Background(), bob, sig2, f.expiry, tampered, zero)
	assert.ErrorIs(t, err, domain.ErrSignerMismatch)
}

func TestCreateRejectsZeroRecipient(t *testing.T) {
	f := newFixture(t)
	params := domain.GrantParams{Principal: *uint256.NewInt(10), VestingPeriod: 10}
	_, err := f.issuer.CreatePosition(context.Background(), bob, f.grant(params, 0), f.expiry, params, uint256.NewInt(0))
	assert.ErrorIs(t, err, domain.ErrInvalidRecipient)
	assert.Equal(t, 0, f.replays.Len())
}

func TestCompanionCollectibleByLevel(t *testing.T) {
	f := newFixture(t)
	params := domain.GrantParams{Recipient: alice, Principal: *uint256.NewInt(10), VestingPeriod: 10}

	plain, err := f.issuer.CreatePosition(context.Background(), bob, f.grant(params, 0), f.expiry, params, uint256.NewInt(0))
	require.NoError(t, err)
	assert.Equal(t, uint64(0), f.badges.BalanceOf(alice))

	params.Cliff = 5
	withBadge, err := f.issuer.CreatePosition(context.Background(), bob, f.grant(params, 3), f.expiry, params, uint256.NewInt(3))
	require.NoError(t, err)
	assert.Equal(t, plain+1, withBadge)
	assert.Equal(t, uint64(1), f.badges.BalanceOf(alice))

	cid, err := f.badges.TokenOfOwnerByIndex(alice, 0)
	require.NoError(t, err)
	lvl, err := f.badges.Level(cid)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), lvl)

	pid, err := f.ledger.PositionForCollectible(cid)
	require.NoError(t, err)
	assert.Equal(t, withBadge, pid)
	_, err = f.ledger.PositionForCollectible(cid + 100)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	assert.Contains(t, f.sink.types(), domain.EventPositionCreatedWithCollectible)
	rec := f.store.get(withBadge)
	require.NotNil(t, rec.CollectibleID)
	assert.Equal(t, cid, *rec.CollectibleID)
	assert.Equal(t, uint64(t0+5), rec.VestingStart)
}

func TestCreateRejectsDistributionLevel(t *testing.T) {
	f := newFixture(t)
	params := domain.GrantParams{Recipient: alice, Principal: *uint256.NewInt(10)}
	sig, err := f.signer.SignGrant(crypto.Grant{
		Recipient: alice,
		Amount:    *uint256.NewInt(10),
		Level:     DistributionLevel,
		Expiry:    f.expiry,
	})
	require.NoError(t, err)

	level := DistributionLevel
	_, err = f.issuer.CreatePosition(context.Background(), bob, sig, f.expiry, params, &level)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	// The same signature is a valid distribution.
	require.NoError(t, f.issuer.DistributeTokens(context.Background(), bob, sig, f.expiry, alice, uint256.NewInt(10)))
	bal := f.token.BalanceOf(alice)
	assert.Equal(t, uint64(10), bal.Uint64())
}

func TestDistributeRejectsPositionSignature(t *testing.T) {
	f := newFixture(t)
	params := domain.GrantParams{Recipient: alice, Principal: *uint256.NewInt(10)}
	sig := f.grant(params, 0)

	err := f.issuer.DistributeTokens(context.Background(), bob, sig, f.expiry, alice, uint256.NewInt(10))
	assert.ErrorIs(t, err, domain.ErrSignerMismatch)
}

func TestPausedRejectsMutationsNotReads(t *testing.T) {
	f := newFixture(t)
	id := f.create(1000, 1000)
	f.at(500)

	assert.ErrorIs(t, f.ledger.Pause(context.Background(), alice), domain.ErrUnauthorized)
	require.NoError(t, f.ledger.Pause(context.Background(), admin))
	assert.True(t, f.ledger.Paused())

	err := f.ledger.Claim(context.Background(), alice, id, uint256.NewInt(1))
	assert.ErrorIs(t, err, domain.ErrPaused)
	err = f.ledger.SetStaked(context.Background(), staking, id, uint256.NewInt(1))
	assert.ErrorIs(t, err, domain.ErrPaused)
	params := domain.GrantParams{Recipient: alice, Principal: *uint256.NewInt(10)}
	_, err = f.issuer.CreatePosition(context.Background(), bob, f.grant(params, 0), f.expiry, params, uint256.NewInt(0))
	assert.ErrorIs(t, err, domain.ErrPaused)

	assert.Equal(t, uint64(500), f.claimable(id))

	require.NoError(t, f.ledger.Unpause(context.Background(), admin))
	require.NoError(t, f.ledger.Claim(context.Background(), alice, id, uint256.NewInt(1)))
	assert.Contains(t, f.sink.types(), domain.EventPaused)
	assert.Contains(t, f.sink.types(), domain.EventUnpaused)
}

// hostileToken calls back into the ledger from inside a transfer.
type hostileToken struct {
	*token.Token
	ledger    *Ledger
	propagate bool
	detached  bool // call back with a fresh context
	innerErr  error
	sawView   uint256.Int
}

func (h *hostileToken) Transfer(ctx context.Context, from, to common.Address, amount *uint256.Int) error {
	if h.ledger != nil && from == custody {
		h.sawView, _ = h.ledger.Claimable(ctx, to, 0)
		inner := ctx
		if h.detached {
			inner = context.Background()
		}
		h.innerErr = h.ledger.Claim(inner, to, 0, amount)
		if h.propagate {
			return h.innerErr
		}
	}
	return h.Token.Transfer(ctx, from, to, amount)
}

func TestReentrantClaimRejected(t *testing.T) {
	for _, propagate := range []bool{false, true} {
		f := newFixture(t)
		hostile := &hostileToken{Token: f.token}
		f.ledger.token = hostile
		id := f.create(1000, 1000)
		require.Equal(t, uint64(0), id)
		hostile.ledger = f.ledger
		hostile.propagate = propagate
		f.at(500)

		err := f.ledger.Claim(context.Background(), alice, id, uint256.NewInt(300))
		assert.ErrorIs(t, hostile.innerErr, domain.ErrReentrantCall)
		// Views stay available while the outer call runs.
		assert.Equal(t, uint64(200), hostile.sawView.Uint64())

		info, ierr := f.ledger.InvestmentInfo(context.Background(), alice, id)
		require.NoError(t, ierr)
		bal := f.token.BalanceOf(alice)
		if propagate {
			assert.ErrorIs(t, err, domain.ErrReentrantCall)
			assert.Zero(t, info.Claimed.Uint64())
			assert.Zero(t, bal.Uint64())
		} else {
			require.NoError(t, err)
			assert.Equal(t, uint64(300), info.Claimed.Uint64())
			assert.Equal(t, uint64(300), bal.Uint64())
		}
	}
}

func TestDetachedCallbackFailsBusy(t *testing.T) {
	f := newFixture(t)
	hostile := &hostileToken{Token: f.token}
	f.ledger.token = hostile
	id := f.create(1000, 1000)
	hostile.ledger = f.ledger
	hostile.detached = true
	f.at(500)

	done := make(chan error, 1)
	go func() { done <- f.ledger.Claim(context.Background(), alice, id, uint256.NewInt(300)) }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("claim blocked behind its own callback")
	}
	assert.ErrorIs(t, hostile.innerErr, domain.ErrBusy)

	// The lock is free again afterwards.
	hostile.ledger = nil
	require.NoError(t, f.ledger.Claim(context.Background(), alice, id, uint256.NewInt(1)))
}

func TestLockWaitHonoursContext(t *testing.T) {
	f := newFixture(t)
	id := f.create(1000, 1000)
	f.at(500)

	_, release, err := f.ledger.guard.enter(context.Background())
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err = f.ledger.Claim(ctx, alice, id, uint256.NewInt(1))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFailedCreateRollsBack(t *testing.T) {
	f := newFixture(t)
	f.store.fail = errors.New("db down")
	params := domain.GrantParams{Recipient: alice, Principal: *uint256.NewInt(100), VestingPeriod: 10}
	sig := f.grant(params, 2)

	_, err := f.issuer.CreatePosition(context.Background(), bob, sig, f.expiry, params, uint256.NewInt(2))
	require.Error(t, err)

	resBal := f.token.BalanceOf(reserve)
	assert.Equal(t, uint64(1_000_000), resBal.Uint64())
	allowance := f.token.Allowance(reserve, custody)
	assert.Equal(t, uint64(1_000_000), allowance.Uint64())
	assert.Equal(t, uint64(0), f.owners.BalanceOf(alice))
	assert.Equal(t, uint64(0), f.badges.BalanceOf(alice))
	assert.Equal(t, 0, f.replays.Len())
	assert.Empty(t, f.sink.types())

	// The released signature and the unused id are both available again.
	f.store.fail = nil
	id, err := f.issuer.CreatePosition(context.Background(), bob, sig, f.expiry, params, uint256.NewInt(2))
	require.NoError(t, err)
	assert.Equal(t, uint64(0), id)
}

func TestCreateFailsWithoutAllowance(t *testing.T) {
	f := newFixture(t)
	f.token.Approve(reserve, custody, uint256.NewInt(5))
	params := domain.GrantParams{Recipient: alice, Principal: *uint256.NewInt(100)}

	_, err := f.issuer.CreatePosition(context.Background(), bob, f.grant(params, 0), f.expiry, params, uint256.NewInt(0))
	assert.ErrorIs(t, err, domain.ErrInsufficientAllowance)
	assert.Equal(t, 0, f.replays.Len())
}

func TestBurnReturnsRemainder(t *testing.T) {
	f := newFixture(t)
	id := f.create(1000, 1000)
	f.at(400)
	require.NoError(t, f.ledger.Claim(context.Background(), alice, id, uint256.NewInt(300)))
	require.NoError(t, f.ledger.SetStaked(context.Background(), staking, id, uint256.NewInt(200)))

	_, err := f.ledger.Burn(context.Background(), alice, id)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	left, err := f.ledger.Burn(context.Background(), admin, id)
	require.NoError(t, err)
	assert.Equal(t, uint64(500), left.Uint64())
	bal := f.token.BalanceOf(admin)
	assert.Equal(t, uint64(500), bal.Uint64())

	_, err = f.ledger.Claimable(context.Background(), alice, id)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = f.owners.OwnerOf(id)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.False(t, f.store.has(id))

	// Ids are never reused after a burn.
	next := f.create(10, 10)
	assert.Equal(t, id+1, next)
}

func TestAggregateBalancePages(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 3; i++ {
		f.create(100, 100)
	}
	f.at(50)
	require.NoError(t, f.ledger.Claim(context.Background(), alice, 0, uint256.NewInt(50)))
	require.NoError(t, f.receipts.Mint(context.Background(), admin, alice, uint256.NewInt(7)))

	_, err := f.view.Balance(context.Background(), alice, alice, domain.Page{})
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	first, err := f.view.Balance(context.Background(), admin, alice, domain.Page{Limit: 50})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), first.Positions)
	assert.Equal(t, int64(2), first.NextOffset)
	assert.Equal(t, uint64(150), first.Unvested.Uint64())
	assert.Equal(t, uint64(50), first.Liquid.Uint64())
	assert.Equal(t, uint64(7), first.Staked.Uint64())
	assert.Equal(t, uint64(207), first.Total.Uint64())

	second, err := f.view.Balance(context.Background(), admin, alice, domain.Page{Offset: 2, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), second.Positions)
	assert.Equal(t, int64(-1), second.NextOffset)
	assert.Equal(t, uint64(100), second.Total.Uint64())

	past, err := f.view.Balance(context.Background(), admin, alice, domain.Page{Offset: 9})
	require.NoError(t, err)
	assert.Zero(t, past.Positions)
	assert.Equal(t, int64(-1), past.NextOffset)
}

func TestUpdateRegistryRepointsSigner(t *testing.T) {
	f := newFixture(t)
	pk, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	rotated := crypto.NewSignerFromKey(pk, testDomain)

	_, err = f.ledger.UpdateRegistry(context.Background(), alice, domain.Addresses{Signer: rotated.Address()})
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	got, err := f.ledger.UpdateRegistry(context.Background(), admin, domain.Addresses{Signer: rotated.Address()})
	require.NoError(t, err)
	assert.Equal(t, rotated.Address(), got.Signer)
	assert.Equal(t, custody, got.Custody)

	params := domain.GrantParams{Recipient: alice, Principal: *uint256.NewInt(10)}
	_, err = f.issuer.CreatePosition(context.Background(), bob, f.grant(params, 0), f.expiry, params, uint256.NewInt(0))
	assert.ErrorIs(t, err, domain.ErrSignerMismatch)
}

type recordingSink struct {
	mu     sync.Mutex
	events []domain.Event
}

func (s *recordingSink) Emit(_ context.Context, events []domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, events...)
	return nil
}

func (s *recordingSink) types() []domain.EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.EventType, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.Type)
	}
	return out
}

type memStore struct {
	mu   sync.Mutex
	recs map[uint64]domain.PositionRecord
	fail error
}

func newMemStore() *memStore {
	return &memStore{recs: make(map[uint64]domain.PositionRecord)}
}

func (m *memStore) Upsert(_ context.Context, rec domain.PositionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.recs[rec.ID] = rec
	return nil
}

func (m *memStore) Delete(_ context.Context, id uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	delete(m.recs, id)
	return nil
}

func (m *memStore) SetOwner(_ context.Context, id uint64, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	rec, ok := m.recs[id]
	if !ok {
		return domain.ErrNotFound
	}
	rec.Owner = common.HexToAddress(owner)
	m.recs[id] = rec
	return nil
}

func (m *memStore) GetByID(_ context.Context, id uint64) (domain.PositionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[id]
	if !ok {
		return rec, domain.ErrNotFound
	}
	return rec, nil
}

func (m *memStore) List(context.Context, domain.ListOpts) ([]domain.PositionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.PositionRecord, 0, len(m.recs))
	for _, r := range m.recs {
		out = append(out, r)
	}
	return out, nil
}

func (m *memStore) get(id uint64) domain.PositionRecord {
	rec, _ := m.GetByID(context.Background(), id)
	return rec
}

func (m *memStore) has(id uint64) bool {
	_, err := m.GetByID(context.Background(), id)
	return err == nil
}
