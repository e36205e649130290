package state

import (
	"encoding/binary"
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"fluxpay/crypto"
	"fluxpay/storage/trie"
)

// Manager reads and writes ledger state held in the state trie. It is not
// safe for concurrent use; the ledger serializes access.
type Manager struct {
	trie *trie.Trie
}

// NewManager creates a state manager operating on the provided trie.
func NewManager(tr *trie.Trie) *Manager {
	return &Manager{trie: tr}
}

// Trie exposes the trie the manager writes to.
func (m *Manager) Trie() *trie.Trie {
	return m.trie
}

var (
	allowancePrefix = []byte("allowance:")
	supplyKey       = ethcrypto.Keccak256([]byte("supply"))
)

func accountStateKey(addr crypto.Address) []byte {
	return ethcrypto.Keccak256(addr[:])
}

func allowanceKey(addr crypto.Address) []byte {
	buf := make([]byte, len(allowancePrefix)+crypto.AddressLength)
	copy(buf, allowancePrefix)
	copy(buf[len(allowancePrefix):], addr[:])
	return ethcrypto.Keccak256(buf)
}

// Supply returns the total lamports minted through genesis and the faucet.
func (m *Manager) Supply() (uint64, error) {
	data, err := m.trie.Get(supplyKey)
	if err != nil {
		return 0, err
	}
	if len(data) == 0 {
		return 0, nil
	}
	if len(data) != 8 {
		return 0, fmt.Errorf("state: malformed supply record (%d bytes)", len(data))
	}
	return binary.BigEndian.Uint64(data), nil
}

// AddSupply records newly minted lamports.
func (m *Manager) AddSupply(amount uint64) error {
	current, err := m.Supply()
	if err != nil {
		return err
	}
	next := current + amount
	if next < current {
		return fmt.Errorf("state: supply overflow")
	}
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, next)
	return m.trie.Update(supplyKey, buf)
}
