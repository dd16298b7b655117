package storage

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemDBRoundTrip(t *testing.T) {
	db := NewMemDB()
	defer db.Close()

	key := []byte("phusd/state/account/alice")
	value := []byte{0x01, 0x02, 0x03}

	require.NoError(t, db.Put(key, value))

	got, err := db.Get(key)
	require.NoError(t, err)
	require.Equal(t, value, got)

	// Mutating the returned slice must not leak into the store.
	got[0] = 0xFF
	again, err := db.Get(key)
	require.NoError(t, err)
	require.Equal(t, value, again)

	ok, err := db.Has(key)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, db.Delete(key))
	ok, err = db.Has(key)
	require.NoError(t, err)
	require.False(t, ok)

	_, err = db.Get(key)
	require.ErrorIs(t, err, ErrKeyNotFound)
}

func TestLevelDBPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	db1, err := NewLevelDB(dir)
	require.NoError(t, err)

	key := []byte("phusd/state/supply/phusd")
	value := []byte("142")
	require.NoError(t, db1.Put(key, value))
	db1.Close()

	db2, err := NewLevelDB(dir)
	require.NoError(t, err)
	defer db2.Close()

	got, err := db2.Get(key)
	require.NoError(t, err)
	require.Equal(t, value, got)

	_, err = db2.Get([]byte("missing"))
	require.ErrorIs(t, err, ErrKeyNotFound)
}
