// Package pda derives program addresses: deterministic destination-ledger
// addresses that lie off the ed25519 curve, so no private key can sign for
// them. Market vaults and user positions are both addressed this way.
package pda

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"

	"filippo.io/edwards25519"

	"github.com/mohtashimnawaz/cross-chain-prediction/internal/domain"
)

const (
	// MaxSeeds is the maximum number of seeds, bump included.
	MaxSeeds = 16
	// MaxSeedLength is the maximum length of a single seed in bytes.
	MaxSeedLength = 32

	pdaMarker = "ProgramDerivedAddress"
)

// Seed tags used for domain separation.
const (
	VaultSeed        = "vault"
	UserPositionSeed = "userpos"
)

// CreateProgramAddress hashes seeds with the program id and returns the
// resulting address. It fails if the hash happens to be a valid curve point.
func CreateProgramAddress(seeds [][]byte, programID domain.PublicKey) (domain.PublicKey, error) {
	if len(seeds) > MaxSeeds {
		return domain.PublicKey{}, fmt.Errorf("pda: %d seeds exceeds max %d", len(seeds), MaxSeeds)
	}

	h := sha256.New()
	for i, s := range seeds {
		if len(s) > MaxSeedLength {
			return domain.PublicKey{}, fmt.Errorf("pda: seed %d is %d bytes, max %d", i, len(s), MaxSeedLength)
		}
		h.Write(s)
	}
	h.Write(programID[:])
	h.Write([]byte(pdaMarker))

	var addr domain.PublicKey
	copy(addr[:], h.Sum(nil))

	if IsOnCurve(addr[:]) {
		return domain.PublicKey{}, errOnCurve
	}
	return addr, nil
}

var errOnCurve = errors.New("pda: derived address is on the ed25519 curve")

// FindProgramAddress searches bumps from 255 down to 0 and returns the first
// off-curve address together with the bump that produced it.
func FindProgramAddress(seeds [][]byte, programID domain.PublicKey) (domain.PublicKey, uint8, error) {
	if len(seeds) >= MaxSeeds {
		return domain.PublicKey{}, 0, fmt.Errorf("pda: %d seeds leaves no room for the bump", len(seeds))
	}

	withBump := make([][]byte, len(seeds)+1)
	copy(withBump, seeds)
	bump := []byte{0}
	withBump[len(seeds)] = bump

	for b := 255; b >= 0; b-- {
		bump[0] = uint8(b)
		addr, err := CreateProgramAddress(withBump, programID)
		if err == nil {
			return addr, uint8(b), nil
		}
		if err != errOnCurve {
			return domain.PublicKey{}, 0, err
		}
	}
	return domain.PublicKey{}, 0, fmt.Errorf("pda: seeds %q: %w", seeds, domain.ErrBumpExhausted)
}

// IsOnCurve reports whether b decodes as a point on edwards25519.
func IsOnCurve(b []byte) bool {
	_, err := new(edwards25519.Point).SetBytes(b)
	return err == nil
}

// DeriveVault returns the custody address for a market account.
func DeriveVault(programID, market domain.PublicKey) (domain.PublicKey, uint8, error) {
	return FindProgramAddress([][]byte{[]byte(VaultSeed), market[:]}, programID)
}

// DeriveUserPosition returns the position address for a foreign user in a
// market. The market id is encoded little-endian.
func DeriveUserPosition(programID domain.PublicKey, marketID uint64, user [20]byte) (domain.PublicKey, uint8, error) {
	var id [8]byte
	binary.LittleEndian.PutUint64(id[:], marketID)
	return FindProgramAddress([][]byte{[]byte(UserPositionSeed), id[:], user[:]}, programID)
}
