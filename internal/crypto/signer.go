// Package crypto provides EIP-712 hashing, signing, and signer recovery for
// vesting authorizations and caller authentication, plus encrypted key
// storage for the operator signing key.
package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// --------------------------------------------------------------------------
// EIP-712 type hashes (pre-computed keccak256 of the canonical type strings).
// --------------------------------------------------------------------------

var (
	// EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)
	eip712DomainTypeHash = ethcrypto.Keccak256(
		[]byte("EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"),
	)

	// Grant(address recipient,uint256 amount,uint256 vestingStart,uint256 vestingPeriod,uint256 cliff,uint256 level,uint256 expiry)
	grantTypeHash = ethcrypto.Keccak256(
		[]byte("Grant(address recipient,uint256 amount,uint256 vestingStart,uint256 vestingPeriod,uint256 cliff,uint256 level,uint256 expiry)"),
	)

	// CallerAuth(address caller,uint256 timestamp)
	callerAuthTypeHash = ethcrypto.Keccak256(
		[]byte("CallerAuth(address caller,uint256 timestamp)"),
	)
)

// Domain identifies the deployment a signature is valid for.
type Domain struct {
	Name              string
	Version           string
	ChainID           uint64
	VerifyingContract common.Address
}

// Separator returns keccak256(abi.encode(typeHash, nameHash, versionHash, chainId, verifyingContract)).
func (d Domain) Separator() []byte {
	return ethcrypto.Keccak256(
		concatBytes(
			eip712DomainTypeHash,
			ethcrypto.Keccak256([]byte(d.Name)),
			ethcrypto.Keccak256([]byte(d.Version)),
			uint64Word(d.ChainID),
			common.LeftPadBytes(d.VerifyingContract.Bytes(), 32),
		),
	)
}

// Grant is the signed authorization message shared by position creation and
// direct distribution. Distribution pins the vesting fields to zero and Level
// to the distribution placeholder.
type Grant struct {
	Recipient     common.Address
	Amount        uint256.Int
	VestingStart  uint64
	VestingPeriod uint64
	Cliff         uint64
	Level         uint256.Int
	Expiry        uint64
}

// GrantDigest returns the EIP-712 digest of g under the given domain
// separator.
func GrantDigest(domainSep []byte, g Grant) []byte {
	amount := g.Amount.Bytes32()
	level := g.Level.Bytes32()
	structHash := ethcrypto.Keccak256(
		concatBytes(
			grantTypeHash,
			common.LeftPadBytes(g.Recipient.Bytes(), 32),
			amount[:],
			uint64Word(g.VestingStart),
			uint64Word(g.VestingPeriod),
			uint64Word(g.Cliff),
			level[:],
			uint64Word(g.Expiry),
		),
	)
	return eip712Hash(domainSep, structHash)
}

// CallerAuthDigest returns the EIP-712 digest a caller signs to authenticate
// an API request at the given unix timestamp.
func CallerAuthDigest(domainSep []byte, caller common.Address, timestamp uint64) []byte {
	structHash := ethcrypto.Keccak256(
		concatBytes(
			callerAuthTypeHash,
			common.LeftPadBytes(caller.Bytes(), 32),
			uint64Word(timestamp),
		),
	)
	return eip712Hash(domainSep, structHash)
}

// Signer produces EIP-712 signatures with a secp256k1 key.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	domainSep  []byte
}

// NewSigner creates a Signer from a hex-encoded secp256k1 private key bound
// to the given domain.
func NewSigner(privateKeyHex string, domain Domain) (*Signer, error) {
	keyHex := strings.TrimPrefix(privateKeyHex, "0x")
	pk, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}
	return NewSignerFromKey(pk, domain), nil
}

// NewSignerFromKey wraps an already-parsed private key.
func NewSignerFromKey(pk *ecdsa.PrivateKey, domain Domain) *Signer {
	return &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
		domainSep:  domain.Separator(),
	}
}

// Address returns the Ethereum address derived from the signer's private key.
func (s *Signer) Address() common.Address {
	return s.address
}

// SignGrant signs a Grant. The returned string is a hex-encoded 65-byte
// signature with recovery byte 27 or 28.
func (s *Signer) SignGrant(g Grant) (string, error) {
	return s.signDigest(GrantDigest(s.domainSep, g))
}

// SignCallerAuth signs a CallerAuth message for the signer's own address.
func (s *Signer) SignCallerAuth(timestamp uint64) (string, error) {
	return s.signDigest(CallerAuthDigest(s.domainSep, s.address, timestamp))
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// eip712Hash computes the final EIP-712 digest:
//
//	keccak256("\x19\x01" || domainSeparator || structHash)
func eip712Hash(domainSep, structHash []byte) []byte {
	return ethcrypto.Keccak256(
		concatBytes(
			[]byte{0x19, 0x01},
			domainSep,
			structHash,
		),
	)
}

// signDigest signs a 32-byte digest using secp256k1 and returns the
// hex-encoded signature (r || s || v, 65 bytes).
func (s *Signer) signDigest(digest []byte) (string, error) {
	sig, err := ethcrypto.Sign(digest, s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: signing: %w", err)
	}

	// go-ethereum returns v in {0,1}; EIP-712 expects v in {27,28}.
	if sig[64] < 27 {
		sig[64] += 27
	}

	return "0x" + hex.EncodeToString(sig), nil
}

// uint64Word returns v as a 32-byte big-endian ABI word.
func uint64Word(v uint64) []byte {
	w := uint256.NewInt(v).Bytes32()
	return w[:]
}

// concatBytes concatenates multiple byte slices into one.
func concatBytes(slices ...[]byte) []byte {
	total := 0
	for _, s := range slices {
		total += len(s)
	}
	buf := make([]byte, 0, total)
	for _, s := range slices {
		buf = append(buf, s...)
	}
	return buf
}
