package pagekv

import "bytes"

// prefixRequestFullkey is returned by a PrefixComparator when it cannot
// decide from the prefixes alone and the full keys must be materialized
// and compared.
const prefixRequestFullkey = 2

// Comparator orders two complete keys, returning -1, 0 or +1.
type Comparator interface {
	Compare(lhs, rhs []byte) int
}

// PrefixComparator is an optional fast path: given only the prefixes of two
// keys (the part stored inline in a B-tree node before any extended-key
// suffix), decide the ordering without materializing the full keys. It
// returns prefixRequestFullkey when the prefixes alone are inconclusive.
type PrefixComparator interface {
	ComparePrefix(lhsPrefix []byte, lhsFullLen int, rhsPrefix []byte, rhsFullLen int) int
}

// defaultComparator compares byte strings over their common length, with
// the shorter key treated as greater whenever the common prefix is equal.
// This tiebreak is load-bearing for key ordering and must not be "fixed" to
// the more common bytes.Compare convention.
type defaultComparator struct{}

func (defaultComparator) Compare(lhs, rhs []byte) int {
	if len(lhs) < len(rhs) {
		m := bytes.Compare(lhs, rhs[:len(lhs)])
		if m != 0 {
			return m
		}
		return 1
	}
	if len(rhs) < len(lhs) {
		m := bytes.Compare(lhs[:len(rhs)], rhs)
		if m != 0 {
			return m
		}
		return -1
	}
	return bytes.Compare(lhs, rhs)
}

// defaultPrefixComparator compares the common prefix length and defers to
// the full comparator only when the prefixes match exactly.
type defaultPrefixComparator struct{}

func (defaultPrefixComparator) ComparePrefix(lhsPrefix []byte, lhsFullLen int, rhsPrefix []byte, rhsFullLen int) int {
	min := len(lhsPrefix)
	if len(rhsPrefix) < min {
		min = len(rhsPrefix)
	}
	m := bytes.Compare(lhsPrefix[:min], rhsPrefix[:min])
	if m != 0 {
		return m
	}
	return prefixRequestFullkey
}

// keyRef is either an inline key or a reference to an extended key whose
// suffix lives in the blob store.
type keyRef struct {
	prefix    []byte // the inline portion, or the whole key if not extended
	extended  bool
	blobID    pageID
	fullLen   int
}

// compareKeys tries a prefix comparison first when either side is extended,
// falling back to materializing full keys (preferring the extended-key
// cache over a blob read) only when the prefix comparator can't decide.
func (db *Database) compareKeys(lhs, rhs keyRef) (int, error) {
	if !lhs.extended && !rhs.extended {
		return db.cmp.Compare(lhs.prefix, rhs.prefix), nil
	}
	cmp := prefixRequestFullkey
	if db.prefixCmp != nil {
		cmp = db.prefixCmp.ComparePrefix(lhs.prefix, lhs.fullLen, rhs.prefix, rhs.fullLen)
	}
	if cmp != prefixRequestFullkey {
		return cmp, nil
	}
	lfull, err := db.materializeKey(lhs)
	if err != nil {
		return 0, err
	}
	rfull, err := db.materializeKey(rhs)
	if err != nil {
		return 0, err
	}
	return db.cmp.Compare(lfull, rfull), nil
}

// materializeKey resolves a keyRef to its full byte slice, consulting the
// extended-key cache before falling back to a blob read, and populating the
// cache on a miss (unless the database is in-memory, where the cache buys
// nothing but duplicated bytes — same rationale as db_compare_keys).
func (db *Database) materializeKey(k keyRef) ([]byte, error) {
	if !k.extended {
		return k.prefix, nil
	}
	// the blob holds only the bytes after the inline prefix
	if db.env.inMemory() {
		suffix, err := blobRead(db, k.blobID)
		if err != nil {
			return nil, err
		}
		return append(append([]byte{}, k.prefix...), suffix...), nil
	}
	if db.extkeys != nil {
		if data, err := db.extkeys.fetch(k.blobID); err == nil {
			return data, nil
		}
	}
	suffix, err := blobRead(db, k.blobID)
	if err != nil {
		return nil, err
	}
	full := append(append([]byte{}, k.prefix...), suffix...)
	if db.extkeys != nil {
		_ = db.extkeys.insert(k.blobID, full) // ErrCacheFull is not fatal: caller proceeds uncached
	}
	return full, nil
}
