package crypto

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/vestd/internal/domain"
)

// signatureLen is the length of an r || s || v secp256k1 signature.
const signatureLen = 65

// DecodeSignature parses a hex signature (with or without 0x prefix) and
// normalises the recovery byte to {0,1}. The returned slice is the canonical
// form used as the replay key.
func DecodeSignature(sigHex string) ([]byte, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(sigHex), "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedSignature, err)
	}
	if len(raw) != signatureLen {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", domain.ErrMalformedSignature, signatureLen, len(raw))
	}
	if raw[64] >= 27 {
		raw[64] -= 27
	}
	if raw[64] > 1 {
		return nil, fmt.Errorf("%w: recovery byte %d", domain.ErrMalformedSignature, raw[64])
	}

	// Reject upper-range s so a message has exactly one accepted signature.
	r := new(big.Int).SetBytes(raw[:32])
	s := new(big.Int).SetBytes(raw[32:64])
	if !ethcrypto.ValidateSignatureValues(raw[64], r, s, true) {
		return nil, fmt.Errorf("%w: non-canonical r/s", domain.ErrMalformedSignature)
	}
	return raw, nil
}

// Recover returns the address that produced sig over digest. sig must come
// from DecodeSignature.
func Recover(digest, sig []byte) (common.Address, error) {
	pub, err := ethcrypto.SigToPub(digest, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: recover: %v", domain.ErrMalformedSignature, err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// VerifyCallerAuth checks that sigHex is caller's CallerAuth signature for
// timestamp under domainSep.
func VerifyCallerAuth(domainSep []byte, caller common.Address, timestamp uint64, sigHex string) error {
	sig, err := DecodeSignature(sigHex)
	if err != nil {
		return err
	}
	got, err := Recover(CallerAuthDigest(domainSep, caller, timestamp), sig)
	if err != nil {
		return err
	}
	if got != caller {
		return domain.ErrSignerMismatch
	}
	return nil
}
