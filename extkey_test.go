package pagekv

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtkeyCacheInsertFetch(t *testing.T) {
	c := newExtkeyCache(1024, &iStat{})
	require.NoError(t, c.insert(pageID(1), []byte("hello world")))

	got, err := c.fetch(pageID(1))
	require.NoError(t, err)
	require.Equal(t, []byte("hello world"), got)
}

func TestExtkeyCacheFetchMiss(t *testing.T) {
	c := newExtkeyCache(1024, &iStat{})
	_, err := c.fetch(pageID(99))
	require.ErrorIs(t, err, ErrKeyNotFound)
}

func TestExtkeyCacheDuplicateInsertPanics(t *testing.T) {
	c := newExtkeyCache(1024, &iStat{})
	require.NoError(t, c.insert(pageID(1), []byte("a")))
	require.Panics(t, func() { _ = c.insert(pageID(1), []byte("b")) })
}

func TestExtkeyCacheInsertOverBudgetFails(t *testing.T) {
	c := newExtkeyCache(4, &iStat{})
	err := c.insert(pageID(1), []byte("too long"))
	require.ErrorIs(t, err, ErrCacheFull)
	require.EqualValues(t, 1, c.stat.export().ExtKeyCacheFull)
}

func TestExtkeyCacheRemove(t *testing.T) {
	c := newExtkeyCache(1024, &iStat{})
	require.NoError(t, c.insert(pageID(1), []byte("x")))
	require.NoError(t, c.remove(pageID(1)))
	_, err := c.fetch(pageID(1))
	require.ErrorIs(t, err, ErrKeyNotFound)
	require.ErrorIs(t, c.remove(pageID(1)), ErrKeyNotFound)
}

func TestExtkeyCacheCollisionChainsCoexist(t *testing.T) {
	c := newExtkeyCache(1024, &iStat{})
	// blobID and blobID+extkeyBucketSize hash to the same bucket.
	a, b := pageID(3), pageID(3+extkeyBucketSize)
	require.NoError(t, c.insert(a, []byte("a")))
	require.NoError(t, c.insert(b, []byte("b")))

	got, err := c.fetch(a)
	require.NoError(t, err)
	require.Equal(t, []byte("a"), got)
	got, err = c.fetch(b)
	require.NoError(t, err)
	require.Equal(t, []byte("b"), got)

	require.NoError(t, c.remove(a))
	got, err = c.fetch(b)
	require.NoError(t, err)
	require.Equal(t, []byte("b"), got)
}
