package pagekv

import (
	"bytes"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
)

func newInMemoryEnv(t *testing.T) *Environment {
	t.Helper()
	env, err := OpenEnvironment(Config{Flags: InMemoryDB, CacheSize: 64})
	require.NoError(t, err)
	t.Cleanup(func() { _ = env.Close() })
	return env
}

func newOnDiskEnv(t *testing.T) *Environment {
	t.Helper()
	env, err := OpenEnvironment(Config{
		Path:      filepath.Join(t.TempDir(), "env.db"),
		PageSize:  256,
		CacheSize: 64,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = env.Close() })
	return env
}

func TestCreateDatabaseRejectsHashFlag(t *testing.T) {
	env, err := OpenEnvironment(Config{Flags: InMemoryDB | UseHash, CacheSize: 16})
	require.NoError(t, err)
	defer env.Close()

	_, err = env.CreateDatabase("h", DatabaseConfig{})
	require.ErrorIs(t, err, ErrInvalidParameter)
}

func TestCreateDatabaseRejectsDuplicateName(t *testing.T) {
	env := newInMemoryEnv(t)
	_, err := env.CreateDatabase("d", DatabaseConfig{})
	require.NoError(t, err)
	_, err = env.CreateDatabase("d", DatabaseConfig{})
	require.ErrorIs(t, err, ErrDatabaseAlreadyOpen)
}

func TestOpenDatabaseReturnsCreatedHandle(t *testing.T) {
	env := newInMemoryEnv(t)
	created, err := env.CreateDatabase("d", DatabaseConfig{})
	require.NoError(t, err)

	opened, err := env.OpenDatabase("d")
	require.NoError(t, err)
	require.Same(t, created, opened)
}

func TestOpenDatabaseUnknownNameFails(t *testing.T) {
	env := newInMemoryEnv(t)
	_, err := env.OpenDatabase("missing")
	require.ErrorIs(t, err, ErrKeyNotFound)
}

func TestInsertFindRoundTrip(t *testing.T) {
	env := newInMemoryEnv(t)
	db, err := env.CreateDatabase("d", DatabaseConfig{})
	require.NoError(t, err)

	require.NoError(t, db.Insert([]byte("k1"), []byte("v1")))
	require.NoError(t, db.Insert([]byte("k2"), []byte("v2")))

	recs, err := db.Find([]byte("k1"))
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("v1")}, recs)

	_, err = db.Find([]byte("missing"))
	require.ErrorIs(t, err, ErrKeyNotFound)
}

func TestInsertWithoutDuplicatesRejectsSecondInsert(t *testing.T) {
	env := newInMemoryEnv(t)
	db, err := env.CreateDatabase("d", DatabaseConfig{EnableDuplicates: false})
	require.NoError(t, err)

	require.NoError(t, db.Insert([]byte("k"), []byte("v1")))
	require.ErrorIs(t, db.Insert([]byte("k"), []byte("v2")), ErrDuplicateKey)
}

func TestInsertWithDuplicatesAccumulates(t *testing.T) {
	env := newInMemoryEnv(t)
	db, err := env.CreateDatabase("d", DatabaseConfig{EnableDuplicates: true})
	require.NoError(t, err)

	require.NoError(t, db.Insert([]byte("k"), []byte("v1")))
	require.NoError(t, db.Insert([]byte("k"), []byte("v2")))

	recs, err := db.Find([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("v1"), []byte("v2")}, recs)
}

func TestOverwriteReplacesAllDuplicates(t *testing.T) {
	env := newInMemoryEnv(t)
	db, err := env.CreateDatabase("d", DatabaseConfig{EnableDuplicates: true})
	require.NoError(t, err)

	require.NoError(t, db.Insert([]byte("k"), []byte("v1")))
	require.NoError(t, db.Insert([]byte("k"), []byte("v2")))
	require.NoError(t, db.Overwrite([]byte("k"), []byte("v3")))

	recs, err := db.Find([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("v3")}, recs)
}

func TestEraseRemovesKeyEntirely(t *testing.T) {
	env := newInMemoryEnv(t)
	db, err := env.CreateDatabase("d", DatabaseConfig{})
	require.NoError(t, err)

	require.NoError(t, db.Insert([]byte("k"), []byte("v")))
	require.NoError(t, db.Erase([]byte("k")))

	_, err = db.Find([]byte("k"))
	require.ErrorIs(t, err, ErrKeyNotFound)
	require.ErrorIs(t, db.Erase([]byte("k")), ErrKeyNotFound)
}

func TestTwoDatabasesHaveDisjointKeySpaces(t *testing.T) {
	env := newInMemoryEnv(t)
	a, err := env.CreateDatabase("a", DatabaseConfig{})
	require.NoError(t, err)
	b, err := env.CreateDatabase("b", DatabaseConfig{})
	require.NoError(t, err)

	require.NoError(t, a.Insert([]byte("k"), []byte("from-a")))
	require.NoError(t, b.Insert([]byte("k"), []byte("from-b")))

	recsA, err := a.Find([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("from-a")}, recsA)

	recsB, err := b.Find([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("from-b")}, recsB)
}

func TestInsertManyKeysSurvivesSplits(t *testing.T) {
	env := newOnDiskEnv(t)
	db, err := env.CreateDatabase("d", DatabaseConfig{})
	require.NoError(t, err)

	const n = 500
	for i := 0; i < n; i++ {
		key := []byte(strconv.Itoa(i))
		require.NoError(t, db.Insert(key, []byte("v"+strconv.Itoa(i))))
	}
	for i := 0; i < n; i++ {
		key := []byte(strconv.Itoa(i))
		recs, err := db.Find(key)
		require.NoError(t, err, "key %d", i)
		require.Equal(t, []byte("v"+strconv.Itoa(i)), recs[0])
	}
}

func TestExtendedKeyAndBlobRecordRoundTrip(t *testing.T) {
	env := newOnDiskEnv(t)
	db, err := env.CreateDatabase("d", DatabaseConfig{KeySize: 8, RecordInlineSize: 8})
	require.NoError(t, err)

	bigKey := bytes.Repeat([]byte("k"), 200)
	bigRecord := bytes.Repeat([]byte("v"), 1000)

	require.NoError(t, db.Insert(bigKey, bigRecord))
	recs, err := db.Find(bigKey)
	require.NoError(t, err)
	require.Equal(t, bigRecord, recs[0])
}

func TestExportImportRoundTrip(t *testing.T) {
	src := newInMemoryEnv(t)
	db, err := src.CreateDatabase("d", DatabaseConfig{EnableDuplicates: true})
	require.NoError(t, err)
	require.NoError(t, db.Insert([]byte("a"), []byte("1")))
	require.NoError(t, db.Insert([]byte("a"), []byte("2")))
	require.NoError(t, db.Insert([]byte("b"), []byte("3")))

	var buf bytes.Buffer
	require.NoError(t, db.Export(&buf))

	dst := newInMemoryEnv(t)
	dstDB, err := dst.CreateDatabase("d", DatabaseConfig{EnableDuplicates: true})
	require.NoError(t, err)
	require.NoError(t, dstDB.Import(&buf))

	recsA, err := dstDB.Find([]byte("a"))
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("1"), []byte("2")}, recsA)
	recsB, err := dstDB.Find([]byte("b"))
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("3")}, recsB)
}

func TestEnvironmentCloseReopenRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "env.db")

	env, err := OpenEnvironment(Config{Path: path, PageSize: 256, CacheSize: 64})
	require.NoError(t, err)
	db, err := env.CreateDatabase("d", DatabaseConfig{EnableDuplicates: true})
	require.NoError(t, err)

	keys := []string{"a", "b", "c", "d", "e"}
	for _, k := range keys {
		require.NoError(t, db.Insert([]byte(k), []byte("v-"+k)))
	}
	require.NoError(t, env.Close())

	reopened, err := OpenEnvironment(Config{Path: path, PageSize: 256, CacheSize: 64})
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })

	reopenedDB, err := reopened.OpenDatabase("d")
	require.NoError(t, err)

	cur := reopenedDB.NewCursor(nil)
	defer cur.Close()
	require.NoError(t, cur.MoveFirst())
	var got []string
	for {
		key, err := cur.Key()
		require.NoError(t, err)
		got = append(got, string(key))
		if err := cur.MoveNext(); err != nil {
			require.ErrorIs(t, err, ErrKeyNotFound)
			break
		}
	}
	require.Equal(t, keys, got)

	require.NoError(t, reopenedDB.Insert([]byte("f"), []byte("v-f")))
	recs, err := reopenedDB.Find([]byte("a"))
	require.NoError(t, err)
	require.Equal(t, []byte("v-a"), recs[0])
}

func TestStatTracksCacheHits(t *testing.T) {
	env := newInMemoryEnv(t)
	db, err := env.CreateDatabase("d", DatabaseConfig{})
	require.NoError(t, err)
	require.NoError(t, db.Insert([]byte("k"), []byte("v")))

	_, err = db.Find([]byte("k"))
	require.NoError(t, err)

	st := env.Stat()
	require.Greater(t, st.CacheHit, uint64(0))
}
