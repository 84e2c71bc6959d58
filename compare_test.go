package pagekv

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultComparatorOrdersByteLexically(t *testing.T) {
	var c defaultComparator
	require.Equal(t, 0, c.Compare([]byte("abc"), []byte("abc")))
	require.Negative(t, c.Compare([]byte("abc"), []byte("abd")))
	require.Positive(t, c.Compare([]byte("abd"), []byte("abc")))
}

func TestDefaultComparatorShorterKeyIsGreaterOnCommonPrefix(t *testing.T) {
	var c defaultComparator
	// "ab" is a prefix of "abc"; the shorter key sorts greater, not less.
	require.Positive(t, c.Compare([]byte("ab"), []byte("abc")))
	require.Negative(t, c.Compare([]byte("abc"), []byte("ab")))
}

func TestDefaultPrefixComparatorDecidesOnDifferingPrefix(t *testing.T) {
	var pc defaultPrefixComparator
	got := pc.ComparePrefix([]byte("aaa"), 10, []byte("aab"), 10)
	require.Negative(t, got)
}

func TestDefaultPrefixComparatorDefersOnEqualPrefix(t *testing.T) {
	var pc defaultPrefixComparator
	got := pc.ComparePrefix([]byte("aaa"), 10, []byte("aaa"), 12)
	require.Equal(t, prefixRequestFullkey, got)
}

func TestCompareKeysFastPathSkipsMaterialization(t *testing.T) {
	db := &Database{cmp: defaultComparator{}, prefixCmp: defaultPrefixComparator{}}
	lhs := keyRef{prefix: []byte("aaa"), extended: true, fullLen: 100}
	rhs := keyRef{prefix: []byte("aab"), extended: true, fullLen: 100}

	got, err := db.compareKeys(lhs, rhs)
	require.NoError(t, err)
	require.Negative(t, got)
}

func TestMaterializeKeyReturnsInlinePrefixUnchanged(t *testing.T) {
	db := &Database{}
	k := keyRef{prefix: []byte("inline")}
	got, err := db.materializeKey(k)
	require.NoError(t, err)
	require.Equal(t, []byte("inline"), got)
}
