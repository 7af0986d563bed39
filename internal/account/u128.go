package account

import (
	"crypto/sha256"

	"github.com/holiman/uint256"
)

// discriminator returns the 8-byte record tag the destination ledger
// prefixes to every account of the named type.
func discriminator(name string) [8]byte {
	sum := sha256.Sum256([]byte("account:" + name))
	var tag [8]byte
	copy(tag[:], sum[:8])
	return tag
}

// FitsU128 reports whether x is below 2^128.
func FitsU128(x *uint256.Int) bool {
	return x.BitLen() <= 128
}

// putU128LE writes the low 128 bits of x little-endian into dst[:16].
func putU128LE(dst []byte, x *uint256.Int) {
	be := x.Bytes32()
	for i := 0; i < 16; i++ {
		dst[i] = be[31-i]
	}
}

// readU128LE reads a little-endian 128-bit value from src[:16].
func readU128LE(src []byte) uint256.Int {
	var be [16]byte
	for i := 0; i < 16; i++ {
		be[15-i] = src[i]
	}
	var out uint256.Int
	out.SetBytes(be[:])
	return out
}
