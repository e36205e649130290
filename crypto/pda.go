package crypto

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"math"

	"filippo.io/edwards25519"
)

const (
	// MaxSeeds bounds the number of seeds, bump included.
	MaxSeeds = 16
	// MaxSeedLength bounds the size of a single seed.
	MaxSeedLength = 32

	pdaMarker = "ProgramDerivedAddress"
)

var (
	ErrTooManySeeds = errors.New("crypto: too many derived address seeds")
	ErrSeedTooLong  = errors.New("crypto: derived address seed exceeds 32 bytes")
	ErrInvalidSeeds = errors.New("crypto: derived address lies on the ed25519 curve")
	ErrNoViableBump = errors.New("crypto: unable to find a viable derived address bump")
)

// CreateProgramAddress hashes the seeds together with the program ID. The
// result is rejected when it is a valid ed25519 point, which guarantees no
// private key can sign for it.
func CreateProgramAddress(seeds [][]byte, programID Address) (Address, error) {
	if len(seeds) > MaxSeeds {
		return Address{}, ErrTooManySeeds
	}
	h := sha256.New()
	for i, seed := range seeds {
		if len(seed) > MaxSeedLength {
			return Address{}, fmt.Errorf("%w: seed %d has %d bytes", ErrSeedTooLong, i, len(seed))
		}
		h.Write(seed)
	}
	h.Write(programID[:])
	h.Write([]byte(pdaMarker))

	var addr Address
	copy(addr[:], h.Sum(nil))
	if IsOnCurve(addr[:]) {
		return Address{}, ErrInvalidSeeds
	}
	return addr, nil
}

// FindProgramAddress searches bumps from 255 down to 1 and returns the first
// off-curve address along with the bump that produced it.
func FindProgramAddress(seeds [][]byte, programID Address) (Address, uint8, error) {
	bump := []byte{math.MaxUint8}
	withBump := make([][]byte, 0, len(seeds)+1)
	withBump = append(withBump, seeds...)
	withBump = append(withBump, bump)
	for i := 0; i < math.MaxUint8; i++ {
		addr, err := CreateProgramAddress(withBump, programID)
		if err == nil {
			return addr, bump[0], nil
		}
		if !errors.Is(err, ErrInvalidSeeds) {
			return Address{}, 0, err
		}
		bump[0]--
	}
	return Address{}, 0, ErrNoViableBump
}

// IsOnCurve reports whether b decodes to a point on the ed25519 curve.
func IsOnCurve(b []byte) bool {
	if len(b) != AddressLength {
		return false
	}
	_, err := new(edwards25519.Point).SetBytes(b)
	return err == nil
}
