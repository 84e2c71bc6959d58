package pagekv

const extkeyBucketSize = 128

// extkeyEntry is one cached extended key: the full bytes (inline prefix
// followed by the blob-held suffix) of a key too large to fit inline in a
// B-tree node, keyed by the offset of the blob that holds its suffix.
type extkeyEntry struct {
	blobID pageID
	data   []byte
	next   *extkeyEntry
}

// extkeyCache is a fixed power-of-two bucket hash table of singly linked
// chains. It never evicts: an insertion that would take this cache's own
// bytes past its budget fails with ErrCacheFull and the caller falls back to
// reading the blob from disk directly. Only the bytes held here count against
// the budget; pages resident in the page cache are not counted.
type extkeyCache struct {
	buckets  [extkeyBucketSize]*extkeyEntry
	usedSize uint64
	budget   uint64 // byte limit for this cache, set to the page cache's capacity in bytes
	stat     *iStat
}

func newExtkeyCache(budget uint64, stat *iStat) *extkeyCache {
	return &extkeyCache{budget: budget, stat: stat}
}

func (c *extkeyCache) hash(blobID pageID) int {
	return int(uint64(blobID) & (extkeyBucketSize - 1))
}

// insert adds data under blobID. It is a programming error to insert the
// same blobID twice — callers must fetch/remove rather than silently
// overwrite.
func (c *extkeyCache) insert(blobID pageID, data []byte) error {
	h := c.hash(blobID)
	for e := c.buckets[h]; e != nil; e = e.next {
		if e.blobID == blobID {
			panic("pagekv: extkey cache duplicate insert")
		}
	}
	if c.usedSize+uint64(len(data)) > c.budget {
		if c.stat != nil {
			c.stat.extKeyCacheFull.Add(1)
		}
		return ErrCacheFull
	}
	e := &extkeyEntry{blobID: blobID, data: data, next: c.buckets[h]}
	c.buckets[h] = e
	c.usedSize += uint64(len(data))
	return nil
}

// fetch returns the cached data for blobID, or ErrKeyNotFound.
func (c *extkeyCache) fetch(blobID pageID) ([]byte, error) {
	h := c.hash(blobID)
	for e := c.buckets[h]; e != nil; e = e.next {
		if e.blobID == blobID {
			if c.stat != nil {
				c.stat.extKeyCacheHit.Add(1)
			}
			return e.data, nil
		}
	}
	if c.stat != nil {
		c.stat.extKeyCacheMis.Add(1)
	}
	return nil, ErrKeyNotFound
}

// remove purges blobID from the cache. Callers freeing an extended-key
// blob must call this too, or a stale entry outlives the page it
// describes.
func (c *extkeyCache) remove(blobID pageID) error {
	h := c.hash(blobID)
	var prev *extkeyEntry
	e := c.buckets[h]
	for e != nil {
		if e.blobID == blobID {
			break
		}
		prev = e
		e = e.next
	}
	if e == nil {
		return ErrKeyNotFound
	}
	if prev != nil {
		prev.next = e.next
	} else {
		c.buckets[h] = e.next
	}
	c.usedSize -= uint64(len(e.data))
	return nil
}
