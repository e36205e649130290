package allowance

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"

	"fluxpay/crypto"
)

const (
	// SeedPrefix is the first seed of every allowance address.
	SeedPrefix = "allowance"

	discriminatorLength = 8
	// Space is the encoded size of an Allowance record including its
	// discriminator. The storage deposit is priced on this length.
	Space = discriminatorLength + crypto.AddressLength*2 + 8 + 8 + 8 + 1
)

var (
	errShortRecord        = errors.New("allowance: record shorter than account space")
	errWrongDiscriminator = errors.New("allowance: account discriminator mismatch")
)

var accountDiscriminator = func() [discriminatorLength]byte {
	sum := sha256.Sum256([]byte("account:Allowance"))
	var d [discriminatorLength]byte
	copy(d[:], sum[:discriminatorLength])
	return d
}()

// Allowance caps how much Recipient may withdraw from the custody balance
// held at the allowance address before ExpiresAt. Only Withdrawn changes
// after creation.
type Allowance struct {
	Giver     crypto.Address `json:"giver"`
	Recipient crypto.Address `json:"recipient"`
	Total     uint64         `json:"total"`
	Withdrawn uint64         `json:"withdrawn"`
	ExpiresAt int64          `json:"expiresAt"`
	Bump      uint8          `json:"bump"`
}

// Clone returns a copy so callers can mutate it without touching stored state.
func (a *Allowance) Clone() *Allowance {
	if a == nil {
		return nil
	}
	clone := *a
	return &clone
}

// Remaining is the amount the recipient may still withdraw.
func (a *Allowance) Remaining() uint64 {
	if a == nil || a.Withdrawn >= a.Total {
		return 0
	}
	return a.Total - a.Withdrawn
}

// Expired reports whether a withdrawal at now would be rejected. The expiry
// second itself is still valid.
func (a *Allowance) Expired(now int64) bool {
	return a != nil && now > a.ExpiresAt
}

// Seeds returns the derivation seeds for the giver/recipient pair.
func Seeds(giver, recipient crypto.Address) [][]byte {
	return [][]byte{[]byte(SeedPrefix), giver.Bytes(), recipient.Bytes()}
}

// MarshalBinary encodes the record in its account layout: discriminator,
// giver, recipient, then little-endian total, withdrawn, expiry and the bump.
func (a *Allowance) MarshalBinary() ([]byte, error) {
	if a == nil {
		return nil, errors.New("allowance: nil record")
	}
	buf := make([]byte, Space)
	off := copy(buf, accountDiscriminator[:])
	off += copy(buf[off:], a.Giver[:])
	off += copy(buf[off:], a.Recipient[:])
	binary.LittleEndian.PutUint64(buf[off:], a.Total)
	off += 8
	binary.LittleEndian.PutUint64(buf[off:], a.Withdrawn)
	off += 8
	binary.LittleEndian.PutUint64(buf[off:], uint64(a.ExpiresAt))
	off += 8
	buf[off] = a.Bump
	return buf, nil
}

// UnmarshalBinary decodes a record previously produced by MarshalBinary.
// Trailing bytes beyond Space are ignored.
func (a *Allowance) UnmarshalBinary(data []byte) error {
	if len(data) < Space {
		return fmt.Errorf("%w: %d bytes", errShortRecord, len(data))
	}
	if !bytes.Equal(data[:discriminatorLength], accountDiscriminator[:]) {
		return errWrongDiscriminator
	}
	off := discriminatorLength
	copy(a.Giver[:], data[off:off+crypto.AddressLength])
	off += crypto.AddressLength
	copy(a.Recipient[:], data[off:off+crypto.AddressLength])
	off += crypto.AddressLength
	a.Total = binary.LittleEndian.Uint64(data[off:])
	off += 8
	a.Withdrawn = binary.LittleEndian.Uint64(data[off:])
	off += 8
	a.ExpiresAt = int64(binary.LittleEndian.Uint64(data[off:]))
	off += 8
	a.Bump = data[off]
	return nil
}
