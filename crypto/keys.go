package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcutil/bech32"
	"github.com/mr-tron/base58"
)

// AddressLength is the size in bytes of every ledger address.
const AddressLength = 32

// Bech32Prefix is the human-readable part of bech32 encoded addresses.
const Bech32Prefix = "flux"

var errEmptyAddress = errors.New("crypto: address must not be empty")

// Address identifies an account on the ledger. Wallet addresses are ed25519
// public keys while program derived addresses are off-curve hashes, so both
// share the same 32-byte representation.
type Address [AddressLength]byte

// String returns the base58 form used by wallets and explorers.
func (a Address) String() string {
	return base58.Encode(a[:])
}

// Bech32 returns the address encoded with the flux bech32 prefix.
func (a Address) Bech32() string {
	conv, err := bech32.ConvertBits(a[:], 8, 5, true)
	if err != nil {
		panic(err)
	}
	encoded, err := bech32.Encode(Bech32Prefix, conv)
	if err != nil {
		panic(err)
	}
	return encoded
}

// Bytes returns a copy of the raw address bytes.
func (a Address) Bytes() []byte {
	return append([]byte(nil), a[:]...)
}

// IsZero reports whether the address is the all-zero value.
func (a Address) IsZero() bool {
	return a == Address{}
}

// MarshalText implements encoding.TextMarshaler using the base58 form.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText accepts either base58 or bech32 encoded addresses.
func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// AddressFromBytes copies a 32-byte slice into an Address.
func AddressFromBytes(b []byte) (Address, error) {
	var addr Address
	if len(b) != AddressLength {
		return addr, fmt.Errorf("crypto: address must be %d bytes, got %d", AddressLength, len(b))
	}
	copy(addr[:], b)
	return addr, nil
}

// ParseAddress decodes a base58 or flux-prefixed bech32 address.
func ParseAddress(value string) (Address, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return Address{}, errEmptyAddress
	}
	if strings.HasPrefix(strings.ToLower(trimmed), Bech32Prefix+"1") {
		return decodeBech32(trimmed)
	}
	decoded, err := base58.Decode(trimmed)
	if err != nil {
		return Address{}, fmt.Errorf("crypto: invalid base58 address: %w", err)
	}
	return AddressFromBytes(decoded)
}

// MustParseAddress is ParseAddress for compile-time constants.
func MustParseAddress(value string) Address {
	addr, err := ParseAddress(value)
	if err != nil {
		panic(err)
	}
	return addr
}

func decodeBech32(value string) (Address, error) {
	prefix, decoded, err := bech32.Decode(value)
	if err != nil {
		return Address{}, fmt.Errorf("crypto: invalid bech32 string: %w", err)
	}
	if prefix != Bech32Prefix {
		return Address{}, fmt.Errorf("crypto: unexpected bech32 prefix %q", prefix)
	}
	conv, err := bech32.ConvertBits(decoded, 5, 8, false)
	if err != nil {
		return Address{}, fmt.Errorf("crypto: error converting bits: %w", err)
	}
	return AddressFromBytes(conv)
}

// --- Key Management ---

// PrivateKey is an ed25519 signing key.
type PrivateKey struct {
	key ed25519.PrivateKey
}

// PublicKey is the verifying half of a PrivateKey.
type PublicKey struct {
	key ed25519.PublicKey
}

func GeneratePrivateKey() (*PrivateKey, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key: priv}, nil
}

// PrivateKeyFromBytes accepts either a 32-byte seed or the 64-byte expanded
// key form.
func PrivateKeyFromBytes(b []byte) (*PrivateKey, error) {
	switch len(b) {
	case ed25519.SeedSize:
		return &PrivateKey{key: ed25519.NewKeyFromSeed(b)}, nil
	case ed25519.PrivateKeySize:
		key := ed25519.NewKeyFromSeed(b[:ed25519.SeedSize])
		if !key.Equal(ed25519.PrivateKey(b)) {
			return nil, errors.New("crypto: private key does not match its seed")
		}
		return &PrivateKey{key: key}, nil
	default:
		return nil, fmt.Errorf("crypto: invalid private key length %d", len(b))
	}
}

// Bytes returns the 64-byte expanded private key.
func (k *PrivateKey) Bytes() []byte {
	return append([]byte(nil), k.key...)
}

// Seed returns the 32-byte seed the key was generated from.
func (k *PrivateKey) Seed() []byte {
	return append([]byte(nil), k.key.Seed()...)
}

func (k *PrivateKey) PubKey() *PublicKey {
	return &PublicKey{key: k.key.Public().(ed25519.PublicKey)}
}

// Sign signs msg with the private key.
func (k *PrivateKey) Sign(msg []byte) []byte {
	return ed25519.Sign(k.key, msg)
}

func (k *PublicKey) Address() Address {
	var addr Address
	copy(addr[:], k.key)
	return addr
}

// Verify checks an ed25519 signature made by the key behind addr. Program
// derived addresses have no private key, so signatures never verify for them.
func Verify(addr Address, msg, sig []byte) bool {
	if len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(addr[:]), msg, sig)
}
