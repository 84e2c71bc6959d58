package pagekv

import "fmt"

// Cache is the bounded, pin-aware page cache sitting between the B+tree /
// blob / freelist collaborators and the device layer; nothing reads or
// writes the device directly. Eviction picks the unpinned resident page
// with the lowest cacheCounter, writes it through if dirty, then releases
// its buffer before reusing the slot.
type Cache struct {
	dev      *device
	capacity int

	pages map[pageID]*Page

	// lruHead/lruTail bound the intrusive doubly linked ring; lruHead is the
	// most recently touched page, lruTail the least.
	lruHead, lruTail *Page

	nextCounter uint64

	inMemory bool
	nextTemp pageID // monotonically increasing synthetic ids for in-memory pages

	fl *Freelist

	stat *iStat
}

func newCache(dev *device, capacity int, inMemory bool, fl *Freelist, stat *iStat) *Cache {
	return &Cache{
		dev:      dev,
		capacity: capacity,
		pages:    make(map[pageID]*Page, capacity),
		inMemory: inMemory,
		fl:       fl,
		stat:     stat,
	}
}

// fetchOpts controls how fetch resolves a cache miss.
type fetchOpts struct {
	OnlyFromCache bool
}

// fetch returns the page at offset, reading it from the device on a cache
// miss, or failing with ErrCacheFull if OnlyFromCache is set and the page
// isn't resident.
func (c *Cache) fetch(id pageID, owner *Database, opts fetchOpts) (*Page, error) {
	if p, ok := c.pages[id]; ok {
		c.touch(p)
		if c.stat != nil {
			c.stat.cacheHit.Add(1)
		}
		return p, nil
	}
	if opts.OnlyFromCache {
		return nil, ErrCacheFull
	}
	if c.stat != nil {
		c.stat.cacheMis.Add(1)
	}
	buf := make([]byte, c.dev.pageSize)
	if !c.inMemory {
		if err := c.dev.readAt(int64(id), buf); err != nil {
			return nil, err
		}
	}
	p := &Page{self: id, owner: owner, buf: buf, allocKind: allocKindMalloc}
	if err := c.admit(p); err != nil {
		return nil, err
	}
	return p, nil
}

// alloc reserves a fresh page: from the freelist if it has a large enough
// extent, otherwise by extending the file (or, for an in-memory database,
// by minting a synthetic id). The new page's buffer is zeroed and clean.
func (c *Cache) alloc(owner *Database, typ PageType) (p *Page, err error) {
	var id pageID
	fromFreelist := false
	if c.inMemory {
		c.nextTemp++
		id = c.nextTemp
	} else if c.fl != nil {
		if off, ok, ferr := c.fl.allocArea(uint64(c.dev.pageSize)); ferr != nil {
			return nil, ferr
		} else if ok {
			id = pageID(off)
			fromFreelist = true
			if c.stat != nil {
				c.stat.freelistHit.Add(1)
			}
		} else if c.stat != nil {
			c.stat.freelistMis.Add(1)
		}
	}
	if !fromFreelist && !c.inMemory {
		id, err = c.dev.extendByOnePage()
		if err != nil {
			return nil, err
		}
	}
	buf := make([]byte, c.dev.pageSize)
	p = &Page{self: id, owner: owner, typ: typ, buf: buf, allocKind: allocKindMalloc}
	if err := c.admit(p); err != nil {
		return nil, err
	}
	return p, nil
}

// allocFresh reserves a brand new page by extending the backing file (or,
// in-memory, minting a synthetic id), bypassing the freelist entirely. The
// page-0 header and the freelist's own persisted extent chain use this
// instead of alloc: recycling a freelist extent to store the freelist's own
// snapshot would invalidate the very extents the snapshot just recorded as
// free.
func (c *Cache) allocFresh(owner *Database, typ PageType) (p *Page, err error) {
	var id pageID
	if c.inMemory {
		c.nextTemp++
		id = c.nextTemp
	} else {
		id, err = c.dev.extendByOnePage()
		if err != nil {
			return nil, err
		}
	}
	buf := make([]byte, c.dev.pageSize)
	p = &Page{self: id, owner: owner, typ: typ, buf: buf, allocKind: allocKindMalloc}
	if err := c.admit(p); err != nil {
		return nil, err
	}
	if !c.inMemory {
		p.MarkDirty()
	}
	return p, nil
}

// admit inserts p into the residency map and LRU ring, evicting the
// coldest unpinned page first if the cache is at capacity. On any failure
// the partially constructed page is released rather than left half-wired
// into the cache.
func (c *Cache) admit(p *Page) error {
	if len(c.pages) >= c.capacity {
		if err := c.evictOne(); err != nil {
			p.buf = nil
			return err
		}
	}
	c.nextCounter++
	p.cacheCounter = c.nextCounter
	c.pages[p.self] = p
	c.pushFront(p)
	return nil
}

// evictOne removes the coldest unpinned resident page, writing it through
// first if dirty. Returns ErrCacheFull if every resident page is pinned.
func (c *Cache) evictOne() error {
	victim := c.lruTail
	for victim != nil && victim.pinned() {
		victim = victim.lruPrev
	}
	if victim == nil {
		return ErrCacheFull
	}
	return c.evict(victim)
}

func (c *Cache) evict(p *Page) error {
	if p.dirty {
		if err := c.writeThrough(p); err != nil {
			return err
		}
	}
	p.notifyEvicted()
	c.unlink(p)
	delete(c.pages, p.self)
	p.buf = nil
	return nil
}

// flush writes a single page's buffer to the device if dirty. forceWrite
// writes even when the page is clean — used when a caller needs a
// guaranteed stable on-disk slot before continuing.
func (c *Cache) flush(p *Page, forceWrite bool) error {
	if !p.dirty && !forceWrite {
		return nil
	}
	return c.writeThrough(p)
}

func (c *Cache) writeThrough(p *Page) error {
	if c.inMemory {
		p.dirty = false
		return nil
	}
	if err := c.dev.writeAt(int64(p.self), p.buf); err != nil {
		return fmt.Errorf("pagekv: flush page %s: %w", p.self, err)
	}
	p.dirty = false
	return nil
}

// flushAll writes back every dirty resident page, in LRU order.
func (c *Cache) flushAll() error {
	for p := c.lruHead; p != nil; p = p.lruNext {
		if err := c.flush(p, false); err != nil {
			return err
		}
	}
	return nil
}

// free releases a page back to the freelist (or, in-memory, simply forgets
// it) and evicts it from the cache. Callers are responsible for purging any
// extended-key cache entry that referenced this page before calling free.
func (c *Cache) free(p *Page) error {
	if p.pinned() {
		return fmt.Errorf("pagekv: free of pinned page %s", p.self)
	}
	if _, ok := c.pages[p.self]; ok {
		c.unlink(p)
		delete(c.pages, p.self)
	}
	p.notifyEvicted()
	if !c.inMemory && c.fl != nil {
		if err := c.fl.addArea(uint64(p.self), uint64(c.dev.pageSize)); err != nil {
			return err
		}
	}
	p.buf = nil
	p.deletePending = true
	return nil
}

func (c *Cache) touch(p *Page) {
	c.nextCounter++
	p.cacheCounter = c.nextCounter
	c.unlink(p)
	c.pushFront(p)
}

func (c *Cache) pushFront(p *Page) {
	p.lruPrev = nil
	p.lruNext = c.lruHead
	if c.lruHead != nil {
		c.lruHead.lruPrev = p
	}
	c.lruHead = p
	if c.lruTail == nil {
		c.lruTail = p
	}
}

func (c *Cache) unlink(p *Page) {
	if p.lruPrev != nil {
		p.lruPrev.lruNext = p.lruNext
	} else if c.lruHead == p {
		c.lruHead = p.lruNext
	}
	if p.lruNext != nil {
		p.lruNext.lruPrev = p.lruPrev
	} else if c.lruTail == p {
		c.lruTail = p.lruPrev
	}
	p.lruPrev, p.lruNext = nil, nil
}
