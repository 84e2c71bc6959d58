package pagekv

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDupeCacheRebuildSeedsFromBtreeCount(t *testing.T) {
	var c dupeCache
	c.rebuild(3, nil)
	require.Equal(t, 3, c.count())
	for i := 0; i < 3; i++ {
		require.True(t, c.at(i).useBtree)
		require.Equal(t, i, c.at(i).btreeDupeIdx)
	}
}

func TestDupeCacheRebuildAppendsPendingInserts(t *testing.T) {
	var c dupeCache
	ops := []txnOp{
		{kind: opInsert, record: []byte("a")},
		{kind: opInsert, record: []byte("b")},
	}
	c.rebuild(1, ops)
	require.Equal(t, 3, c.count())
	require.True(t, c.at(0).useBtree)
	require.False(t, c.at(1).useBtree)
	require.Equal(t, []byte("a"), c.at(1).op.record)
	require.Equal(t, []byte("b"), c.at(2).op.record)
}

func TestDupeCacheRebuildOverwriteClearsPreceding(t *testing.T) {
	var c dupeCache
	ops := []txnOp{
		{kind: opInsert, record: []byte("a")},
		{kind: opOverwrite, record: []byte("b")},
	}
	c.rebuild(2, ops)
	require.Equal(t, 1, c.count())
	require.Equal(t, []byte("b"), c.at(0).op.record)
}

func TestDupeCacheRebuildEraseClearsEverything(t *testing.T) {
	var c dupeCache
	ops := []txnOp{
		{kind: opInsert, record: []byte("a")},
		{kind: opErase},
	}
	c.rebuild(2, ops)
	require.Equal(t, 0, c.count())
}

func TestDupeCacheRebuildEraseDupRemovesOnlyOneLine(t *testing.T) {
	// insert (k,v1),(k,v2) in the btree; in a txn, insert (k,v3) and erase
	// duplicate index 1 — the walk should yield {v2,v3}, not empty.
	var c dupeCache
	ops := []txnOp{
		{kind: opInsert, record: []byte("v3")},
		{kind: opEraseDup, dupIndex: 1},
	}
	c.rebuild(2, ops)
	require.Equal(t, 2, c.count())
	require.True(t, c.at(0).useBtree)
	require.Equal(t, 1, c.at(0).btreeDupeIdx)
	require.False(t, c.at(1).useBtree)
	require.Equal(t, []byte("v3"), c.at(1).op.record)
}

func TestDupeCacheRebuildEraseDupOutOfRangeIsIgnored(t *testing.T) {
	var c dupeCache
	ops := []txnOp{{kind: opEraseDup, dupIndex: 5}}
	c.rebuild(2, ops)
	require.Equal(t, 2, c.count())
}

func TestDupeCacheCloneIsIndependent(t *testing.T) {
	var c dupeCache
	c.rebuild(1, nil)
	clone := c.clone()
	clone.append(btreeDupeLine(1))
	require.Equal(t, 1, c.count())
	require.Equal(t, 2, clone.count())
}
