package state

import (
	"fmt"

	"fluxpay/crypto"
	"fluxpay/native/allowance"
)

// AllowanceGet loads the allowance record stored at addr.
func (m *Manager) AllowanceGet(addr crypto.Address) (*allowance.Allowance, bool, error) {
	data, err := m.trie.Get(allowanceKey(addr))
	if err != nil {
		return nil, false, err
	}
	if len(data) == 0 {
		return nil, false, nil
	}
	record := new(allowance.Allowance)
	if err := record.UnmarshalBinary(data); err != nil {
		return nil, false, fmt.Errorf("state: decode allowance %s: %w", addr, err)
	}
	return record, true, nil
}

// AllowancePut stores the record at addr in its account layout.
func (m *Manager) AllowancePut(addr crypto.Address, record *allowance.Allowance) error {
	encoded, err := record.MarshalBinary()
	if err != nil {
		return err
	}
	return m.trie.Update(allowanceKey(addr), encoded)
}

// AllowanceDelete removes the record at addr.
func (m *Manager) AllowanceDelete(addr crypto.Address) error {
	return m.trie.Delete(allowanceKey(addr))
}
