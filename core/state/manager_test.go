package state

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"

	"fluxpay/core/types"
	"fluxpay/crypto"
	"fluxpay/native/allowance"
	"fluxpay/storage"
	"fluxpay/storage/trie"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(func() { db.Close() })
	tr, err := trie.NewTrie(db, nil)
	require.NoError(t, err)
	return NewManager(tr)
}

func TestAccountRoundTrip(t *testing.T) {
	manager := newTestManager(t)
	addr := crypto.Address{1}

	missing, err := manager.GetAccount(addr)
	require.NoError(t, err)
	require.Equal(t, &types.Account{}, missing)

	require.NoError(t, manager.PutAccount(addr, &types.Account{Nonce: 2, Balance: 1_566_000}))
	got, err := manager.GetAccount(addr)
	require.NoError(t, err)
	require.Equal(t, uint64(2), got.Nonce)
	require.Equal(t, uint64(1_566_000), got.Balance)

	exists, err := manager.AccountExists(addr)
	require.NoError(t, err)
	require.True(t, exists)
}

func TestEmptyAccountsAreDeleted(t *testing.T) {
	manager := newTestManager(t)
	addr := crypto.Address{2}

	require.NoError(t, manager.PutAccount(addr, &types.Account{Balance: 10}))
	require.NotEqual(t, gethtypes.EmptyRootHash, manager.Trie().Hash())

	require.NoError(t, manager.PutAccount(addr, &types.Account{}))
	exists, err := manager.AccountExists(addr)
	require.NoError(t, err)
	require.False(t, exists)
	require.Equal(t, gethtypes.EmptyRootHash, manager.Trie().Hash())
}

func TestAllowanceRecords(t *testing.T) {
	manager := newTestManager(t)
	addr := crypto.Address{3}

	_, ok, err := manager.AllowanceGet(addr)
	require.NoError(t, err)
	require.False(t, ok)

	record := &allowance.Allowance{
		Giver:     crypto.Address{4},
		Recipient: crypto.Address{5},
		Total:     1_000_000_000,
		Withdrawn: 250_000_000,
		ExpiresAt: 1_700_003_600,
		Bump:      253,
	}
	require.NoError(t, manager.AllowancePut(addr, record))
	got, ok, err := manager.AllowanceGet(addr)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, record, got)

	// Records and accounts at the same address do not collide.
	require.NoError(t, manager.PutAccount(addr, &types.Account{Balance: 7}))
	got, ok, err = manager.AllowanceGet(addr)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, record.Total, got.Total)

	require.NoError(t, manager.AllowanceDelete(addr))
	_, ok, err = manager.AllowanceGet(addr)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestStatePersistsAcrossCommit(t *testing.T) {
	db := storage.NewMemDB()
	defer db.Close()
	tr, err := trie.NewTrie(db, nil)
	require.NoError(t, err)
	manager := NewManager(tr)

	addr := crypto.Address{6}
	require.NoError(t, manager.PutAccount(addr, &types.Account{Balance: 99}))
	require.NoError(t, manager.AddSupply(99))
	root, err := tr.Commit(common.Hash{}, 1)
	require.NoError(t, err)

	reopened, err := trie.NewTrie(db, root.Bytes())
	require.NoError(t, err)
	restored := NewManager(reopened)
	acc, err := restored.GetAccount(addr)
	require.NoError(t, err)
	require.Equal(t, uint64(99), acc.Balance)
	supply, err := restored.Supply()
	require.NoError(t, err)
	require.Equal(t, uint64(99), supply)
}
