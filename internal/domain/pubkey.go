package domain

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"
)

// PublicKeyLength is the byte length of a destination-ledger address.
const PublicKeyLength = 32

// PublicKey is a 32-byte destination-ledger address. Its canonical text form
// is base58 (Bitcoin alphabet), matching how the destination chain renders
// account addresses.
type PublicKey [PublicKeyLength]byte

// ParsePublicKey decodes a base58 address, or a 0x-prefixed 32-byte hex
// string as printed by the derive-vault tool.
func ParsePublicKey(s string) (PublicKey, error) {
	var pk PublicKey
	s = strings.TrimSpace(s)
	if s == "" {
		return pk, fmt.Errorf("domain: empty public key")
	}

	var raw []byte
	var err error
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		raw, err = hex.DecodeString(s[2:])
	} else {
		raw, err = base58.Decode(s)
	}
	if err != nil {
		return pk, fmt.Errorf("domain: decode public key %q: %w", s, err)
	}
	if len(raw) != PublicKeyLength {
		return pk, fmt.Errorf("domain: public key %q is %d bytes, want %d", s, len(raw), PublicKeyLength)
	}
	copy(pk[:], raw)
	return pk, nil
}

// MustParsePublicKey is like ParsePublicKey but panics on error. Intended for
// constants and tests.
func MustParsePublicKey(s string) PublicKey {
	pk, err := ParsePublicKey(s)
	if err != nil {
		panic(err)
	}
	return pk
}

// PublicKeyFromBytes copies b into a PublicKey. b must be exactly 32 bytes.
func PublicKeyFromBytes(b []byte) (PublicKey, error) {
	var pk PublicKey
	if len(b) != PublicKeyLength {
		return pk, fmt.Errorf("domain: public key is %d bytes, want %d", len(b), PublicKeyLength)
	}
	copy(pk[:], b)
	return pk, nil
}

// String returns the base58 form.
func (pk PublicKey) String() string {
	return base58.Encode(pk[:])
}

// Hex returns the 0x-prefixed 32-byte hex form, the shape origin-chain
// contracts take as a bytes32 destination.
func (pk PublicKey) Hex() string {
	return "0x" + hex.EncodeToString(pk[:])
}

// Bytes returns a copy of the key bytes.
func (pk PublicKey) Bytes() []byte {
	out := make([]byte, PublicKeyLength)
	copy(out, pk[:])
	return out
}

// IsZero reports whether every byte is zero.
func (pk PublicKey) IsZero() bool {
	return pk == PublicKey{}
}

// MarshalText implements encoding.TextMarshaler.
func (pk PublicKey) MarshalText() ([]byte, error) {
	return []byte(pk.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (pk *PublicKey) UnmarshalText(text []byte) error {
	parsed, err := ParsePublicKey(string(text))
	if err != nil {
		return err
	}
	*pk = parsed
	return nil
}
