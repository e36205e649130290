package trie

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"fluxpay/storage"
)

func TestTrieCommitFlushPersistsData(t *testing.T) {
	dir := t.TempDir()

	db1, err := storage.NewLevelDB(dir)
	require.NoError(t, err)

	tr, err := NewTrie(db1, nil)
	require.NoError(t, err)

	key := crypto.Keccak256Hash([]byte("key"))
	value := []byte("value")

	require.NoError(t, tr.Update(key.Bytes(), value))
	root, err := tr.Commit(common.Hash{}, 1)
	require.NoError(t, err)

	require.NoError(t, db1.Close())

	db2, err := storage.NewLevelDB(dir)
	require.NoError(t, err)
	defer db2.Close()

	restored, err := NewTrie(db2, root.Bytes())
	require.NoError(t, err)

	got, err := restored.Get(key.Bytes())
	require.NoError(t, err)
	require.Equal(t, value, got)
}

func TestTrieCopyIsolatesMutations(t *testing.T) {
	db := storage.NewMemDB()
	defer db.Close()

	tr, err := NewTrie(db, nil)
	require.NoError(t, err)
	key := crypto.Keccak256([]byte("balance"))
	require.NoError(t, tr.Update(key, []byte{1}))
	root, err := tr.Commit(common.Hash{}, 1)
	require.NoError(t, err)

	working := tr.Copy()
	require.NoError(t, working.Update(key, []byte{2}))
	require.NotEqual(t, root, working.Hash())

	got, err := tr.Get(key)
	require.NoError(t, err)
	require.Equal(t, []byte{1}, got)
	require.Equal(t, root, tr.Hash())
}

func TestTrieDeleteAndReset(t *testing.T) {
	db := storage.NewMemDB()
	defer db.Close()

	tr, err := NewTrie(db, nil)
	require.NoError(t, err)
	empty := tr.Hash()

	key := crypto.Keccak256([]byte("allowance"))
	require.NoError(t, tr.Update(key, []byte("record")))
	root, err := tr.Commit(empty, 1)
	require.NoError(t, err)

	require.NoError(t, tr.Delete(key))
	got, err := tr.Get(key)
	require.NoError(t, err)
	require.Nil(t, got)
	require.Equal(t, empty, tr.Hash())

	require.NoError(t, tr.Reset(root))
	got, err = tr.Get(key)
	require.NoError(t, err)
	require.Equal(t, []byte("record"), got)
}
