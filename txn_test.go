package pagekv

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTxnCommitAppliesInsertsToBtree(t *testing.T) {
	env, err := OpenEnvironment(Config{Flags: InMemoryDB, CacheSize: 64})
	require.NoError(t, err)
	defer env.Close()
	db, err := env.CreateDatabase("d", DatabaseConfig{})
	require.NoError(t, err)

	tx := db.Begin(true)
	cur := db.NewCursor(tx)
	require.NoError(t, cur.Insert([]byte("k"), []byte("v"), false))
	require.NoError(t, tx.Commit())

	recs, err := db.Find([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("v")}, recs)
}

func TestTxnAbortDiscardsChanges(t *testing.T) {
	env, err := OpenEnvironment(Config{Flags: InMemoryDB, CacheSize: 64})
	require.NoError(t, err)
	defer env.Close()
	db, err := env.CreateDatabase("d", DatabaseConfig{})
	require.NoError(t, err)

	tx := db.Begin(true)
	cur := db.NewCursor(tx)
	require.NoError(t, cur.Insert([]byte("k"), []byte("v"), false))
	require.NoError(t, tx.Abort())

	_, err = db.Find([]byte("k"))
	require.ErrorIs(t, err, ErrKeyNotFound)
}

func TestTxnReadOnlyRejectsWrites(t *testing.T) {
	env, err := OpenEnvironment(Config{Flags: InMemoryDB, CacheSize: 64})
	require.NoError(t, err)
	defer env.Close()
	db, err := env.CreateDatabase("d", DatabaseConfig{})
	require.NoError(t, err)

	tx := db.Begin(false)
	defer tx.Abort()
	require.ErrorIs(t, tx.insert([]byte("k"), []byte("v"), false), ErrInvalidParameter)
}

func TestTxnOpsForKeyReturnsOrderedChain(t *testing.T) {
	env, err := OpenEnvironment(Config{Flags: InMemoryDB, CacheSize: 64})
	require.NoError(t, err)
	defer env.Close()
	db, err := env.CreateDatabase("d", DatabaseConfig{EnableDuplicates: true})
	require.NoError(t, err)

	tx := db.Begin(true)
	defer tx.Abort()
	require.NoError(t, tx.insert([]byte("k"), []byte("v1"), true))
	require.NoError(t, tx.insert([]byte("k"), []byte("v2"), true))

	ops := tx.opsForKey([]byte("k"))
	require.Len(t, ops, 2)
	require.Equal(t, []byte("v1"), ops[0].record)
	require.Equal(t, []byte("v2"), ops[1].record)
}

func TestTxnErasedInTxnReflectsMostRecentOp(t *testing.T) {
	env, err := OpenEnvironment(Config{Flags: InMemoryDB, CacheSize: 64})
	require.NoError(t, err)
	defer env.Close()
	db, err := env.CreateDatabase("d", DatabaseConfig{})
	require.NoError(t, err)

	tx := db.Begin(true)
	defer tx.Abort()
	require.NoError(t, tx.insert([]byte("k"), []byte("v"), false))
	require.False(t, tx.erasedInTxn([]byte("k")))
	require.NoError(t, tx.erase([]byte("k")))
	require.True(t, tx.erasedInTxn([]byte("k")))
}

func TestTxnDoubleCommitIsNoop(t *testing.T) {
	env, err := OpenEnvironment(Config{Flags: InMemoryDB, CacheSize: 64})
	require.NoError(t, err)
	defer env.Close()
	db, err := env.CreateDatabase("d", DatabaseConfig{})
	require.NoError(t, err)

	tx := db.Begin(true)
	require.NoError(t, tx.Commit())
	require.NoError(t, tx.Commit())
}

func TestTxnCommitEraseDuplicateLeavesOtherDuplicates(t *testing.T) {
	env, err := OpenEnvironment(Config{Flags: InMemoryDB, CacheSize: 64})
	require.NoError(t, err)
	defer env.Close()
	db, err := env.CreateDatabase("d", DatabaseConfig{EnableDuplicates: true})
	require.NoError(t, err)

	require.NoError(t, db.Insert([]byte("k"), []byte("v1")))
	require.NoError(t, db.Insert([]byte("k"), []byte("v2")))

	tx := db.Begin(true)
	require.NoError(t, tx.insert([]byte("k"), []byte("v3"), true))
	require.NoError(t, tx.eraseDuplicate([]byte("k"), 1))
	require.NoError(t, tx.Commit())

	recs, err := db.Find([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("v2"), []byte("v3")}, recs)
}

func TestTxnChecksumChangesAsOpsAreRecorded(t *testing.T) {
	env, err := OpenEnvironment(Config{Flags: InMemoryDB, CacheSize: 64})
	require.NoError(t, err)
	defer env.Close()
	db, err := env.CreateDatabase("d", DatabaseConfig{})
	require.NoError(t, err)

	tx := db.Begin(true)
	defer tx.Abort()
	before := tx.checksum
	require.NoError(t, tx.insert([]byte("k"), []byte("v"), false))
	require.NotEqual(t, before, tx.checksum)
}
