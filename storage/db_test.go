package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func backends(t *testing.T) map[string]Database {
	t.Helper()
	level, err := NewLevelDB(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(level.Close)
	boltDB, err := NewBoltDB(filepath.Join(t.TempDir(), "state.db"), nil)
	require.NoError(t, err)
	t.Cleanup(boltDB.Close)
	return map[string]Database{
		"memdb":   NewMemDB(),
		"leveldb": level,
		"bolt":    boltDB,
	}
}

func TestDatabaseBasicOperations(t *testing.T) {
	for name, db := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, db.Put([]byte("a"), []byte("1")))
			got, err := db.Get([]byte("a"))
			require.NoError(t, err)
			require.Equal(t, []byte("1"), got)

			ok, err := db.Has([]byte("a"))
			require.NoError(t, err)
			require.True(t, ok)

			require.NoError(t, db.Delete([]byte("a")))
			_, err = db.Get([]byte("a"))
			require.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestDatabaseIterateAndBatch(t *testing.T) {
	for name, db := range backends(t) {
		t.Run(name, func(t *testing.T) {
			batch := db.NewBatch()
			batch.Put([]byte("pool/b"), []byte("2"))
			batch.Put([]byte("pool/a"), []byte("1"))
			batch.Put([]byte("other"), []byte("x"))
			require.Equal(t, 3, batch.Len())
			require.NoError(t, batch.Write())

			var keys []string
			err := db.Iterate([]byte("pool/"), func(key, value []byte) (bool, error) {
				keys = append(keys, string(key))
				return true, nil
			})
			require.NoError(t, err)
			require.Equal(t, []string{"pool/a", "pool/b"}, keys)

			keys = nil
			err = db.Iterate([]byte("pool/"), func(key, value []byte) (bool, error) {
				keys = append(keys, string(key))
				return false, nil
			})
			require.NoError(t, err)
			require.Len(t, keys, 1)
		})
	}
}

func TestOverlayCommitAndDiscard(t *testing.T) {
	parent := NewMemDB()
	require.NoError(t, parent.Put([]byte("k/1"), []byte("old")))
	require.NoError(t, parent.Put([]byte("k/2"), []byte("gone")))

	overlay := NewOverlay(parent)
	require.NoError(t, overlay.Put([]byte("k/1"), []byte("new")))
	require.NoError(t, overlay.Put([]byte("k/3"), []byte("added")))
	require.NoError(t, overlay.Delete([]byte("k/2")))

	got, err := overlay.Get([]byte("k/1"))
	require.NoError(t, err)
	require.Equal(t, []byte("new"), got)
	ok, err := overlay.Has([]byte("k/2"))
	require.NoError(t, err)
	require.False(t, ok)

	var keys []string
	require.NoError(t, overlay.Iterate([]byte("k/"), func(key, value []byte) (bool, error) {
		keys = append(keys, string(key))
		return true, nil
	}))
	require.Equal(t, []string{"k/1", "k/3"}, keys)

	parentValue, err := parent.Get([]byte("k/1"))
	require.NoError(t, err)
	require.Equal(t, []byte("old"), parentValue, "parent must not see buffered writes")

	require.NoError(t, overlay.Commit())
	require.Zero(t, overlay.Len())
	parentValue, err = parent.Get([]byte("k/1"))
	require.NoError(t, err)
	require.Equal(t, []byte("new"), parentValue)
	_, err = parent.Get([]byte("k/2"))
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, overlay.Put([]byte("k/4"), []byte("dropped")))
	overlay.Discard()
	ok, err = parent.Has([]byte("k/4"))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestLevelDBPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	db1, err := NewLevelDB(dir)
	require.NoError(t, err)
	require.NoError(t, db1.Put([]byte("key"), []byte("value")))
	db1.Close()

	db2, err := NewLevelDB(dir)
	require.NoError(t, err)
	defer db2.Close()
	got, err := db2.Get([]byte("key"))
	require.NoError(t, err)
	require.Equal(t, []byte("value"), got)
}

func TestBoltDBPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	db1, err := NewBoltDB(path, nil)
	require.NoError(t, err)
	batch := db1.NewBatch()
	batch.Put([]byte("pool/USDC"), []byte("v1"))
	batch.Put([]byte("pool/ETH"), []byte("v2"))
	require.NoError(t, batch.Write())
	db1.Close()

	db2, err := NewBoltDB(path, nil)
	require.NoError(t, err)
	defer db2.Close()
	var keys []string
	require.NoError(t, db2.Iterate([]byte("pool/"), func(key, _ []byte) (bool, error) {
		keys = append(keys, string(key))
		return true, nil
	}))
	require.Equal(t, []string{"pool/ETH", "pool/USDC"}, keys)
}
