package crypto

import (
	"crypto/ecdsa"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/mohtashimnawaz/cross-chain-prediction/internal/domain"
)

// AttestationDigest is keccak256(payload || be_u64(amount) || transferID).
// A relay signs it to vouch for one delivery.
func AttestationDigest(payload []byte, amount uint64, transferID string) []byte {
	var amt [8]byte
	binary.BigEndian.PutUint64(amt[:], amount)
	return ethcrypto.Keccak256(payload, amt[:], []byte(transferID))
}

// Attestor signs deliveries with a relay's secp256k1 key.
type Attestor struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewAttestor parses a hex-encoded secp256k1 private key, with or without
// the 0x prefix.
func NewAttestor(privateKeyHex string) (*Attestor, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto/attestor: invalid private key: %w", err)
	}
	return &Attestor{privateKey: pk, address: ethcrypto.PubkeyToAddress(pk.PublicKey)}, nil
}

// Address returns the relay address derived from the key.
func (a *Attestor) Address() common.Address {
	return a.address
}

// Sign returns the 0x-hex 65-byte signature (r || s || v, v in {27,28}).
func (a *Attestor) Sign(payload []byte, amount uint64, transferID string) (string, error) {
	sig, err := ethcrypto.Sign(AttestationDigest(payload, amount, transferID), a.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto/attestor: signing: %w", err)
	}
	sig[64] += 27
	return "0x" + hex.EncodeToString(sig), nil
}

// Verifier accepts attestations from a fixed set of relay addresses.
type Verifier struct {
	trusted map[common.Address]struct{}
}

// NewVerifier builds a verifier from hex addresses. An empty list yields a
// verifier that accepts nothing; callers check Enabled first.
func NewVerifier(addresses []string) (*Verifier, error) {
	v := &Verifier{trusted: make(map[common.Address]struct{}, len(addresses))}
	for _, a := range addresses {
		a = strings.TrimSpace(a)
		if !common.IsHexAddress(a) {
			return nil, fmt.Errorf("crypto/verifier: %q is not an address", a)
		}
		v.trusted[common.HexToAddress(a)] = struct{}{}
	}
	return v, nil
}

// Enabled reports whether any relay is trusted.
func (v *Verifier) Enabled() bool {
	return v != nil && len(v.trusted) > 0
}

// Trusts reports whether addr is in the trusted relay set.
func (v *Verifier) Trusts(addr common.Address) bool {
	if v == nil {
		return false
	}
	_, ok := v.trusted[addr]
	return ok
}

// Verify recovers the signer of sigHex over the delivery and checks it is
// trusted. Failures wrap domain.ErrUnauthorized.
func (v *Verifier) Verify(payload []byte, amount uint64, transferID, sigHex string) (common.Address, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
	if err != nil || len(sig) != 65 {
		return common.Address{}, fmt.Errorf("crypto/verifier: malformed signature: %w", domain.ErrUnauthorized)
	}
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	pub, err := ethcrypto.SigToPub(AttestationDigest(payload, amount, transferID), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto/verifier: recover: %v: %w", err, domain.ErrUnauthorized)
	}
	signer := ethcrypto.PubkeyToAddress(*pub)
	if _, ok := v.trusted[signer]; !ok {
		return signer, fmt.Errorf("crypto/verifier: %s is not a trusted relay: %w", signer.Hex(), domain.ErrUnauthorized)
	}
	return signer, nil
}
