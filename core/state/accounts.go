package state

import (
	"fmt"

	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"fluxpay/core/types"
	"fluxpay/crypto"
)

// GetAccount returns the account stored under addr. Missing accounts read as
// the zero account.
func (m *Manager) GetAccount(addr crypto.Address) (*types.Account, error) {
	stateAcc, err := m.loadStateAccount(addr)
	if err != nil {
		return nil, err
	}
	account := &types.Account{}
	if stateAcc != nil {
		account.Nonce = stateAcc.Nonce
		if stateAcc.Balance != nil {
			if !stateAcc.Balance.IsUint64() {
				return nil, fmt.Errorf("state: balance of %s exceeds 64 bits", addr)
			}
			account.Balance = stateAcc.Balance.Uint64()
		}
	}
	return account, nil
}

// PutAccount persists the account under addr. Empty accounts are removed so
// closed allowance addresses leave nothing behind.
func (m *Manager) PutAccount(addr crypto.Address, account *types.Account) error {
	if account == nil {
		return fmt.Errorf("state: nil account")
	}
	key := accountStateKey(addr)
	if account.IsEmpty() {
		return m.trie.Delete(key)
	}
	stateAcc := &gethtypes.StateAccount{
		Nonce:    account.Nonce,
		Balance:  uint256.NewInt(account.Balance),
		Root:     gethtypes.EmptyRootHash,
		CodeHash: gethtypes.EmptyCodeHash.Bytes(),
	}
	encoded, err := rlp.EncodeToBytes(stateAcc)
	if err != nil {
		return err
	}
	return m.trie.Update(key, encoded)
}

// AccountExists reports whether anything is stored for addr.
func (m *Manager) AccountExists(addr crypto.Address) (bool, error) {
	stateAcc, err := m.loadStateAccount(addr)
	if err != nil {
		return false, err
	}
	return stateAcc != nil, nil
}

func (m *Manager) loadStateAccount(addr crypto.Address) (*gethtypes.StateAccount, error) {
	data, err := m.trie.Get(accountStateKey(addr))
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	stateAcc := new(gethtypes.StateAccount)
	if err := rlp.DecodeBytes(data, stateAcc); err != nil {
		return nil, fmt.Errorf("state: decode account %s: %w", addr, err)
	}
	return stateAcc, nil
}
