package pagekv

import "strconv"

// pageID is a page's byte offset within the backing file, or a synthetic id
// minted by the cache for an in-memory database. Offset 0 holds the
// environment header page.
type pageID uint64

func (p pageID) String() string {
	return strconv.FormatUint(uint64(p), 10)
}

// PageType tags what a page's payload holds.
type PageType uint8

const (
	PageTypeUndefined PageType = iota
	PageTypeHeader
	PageTypeBRoot
	PageTypeBIndex
	PageTypeFreelist
	PageTypeBlob
)

// allocKind records whether a page's buffer came from a plain allocation or
// from a memory-mapped region, so the cache knows how to release it.
type allocKind uint8

const (
	allocKindMalloc allocKind = iota
	allocKindMmap
)

// Page is a fixed-size buffer tagged with its on-disk offset, owning
// database, type, and the bookkeeping the cache and cursors need. It is
// never copied by value once resident in a Cache: callers always hold a
// *Page.
type Page struct {
	self pageID

	typ           PageType
	dirty         bool
	deletePending bool
	allocKind     allocKind

	owner *Database

	// cacheCounter increases monotonically on every fetch/alloc; the cache's
	// eviction policy picks the unpinned page with the lowest value.
	cacheCounter uint64

	// pinCount counts explicit pins (the environment pins its page-0 header).
	// Coupled cursors do not pin a page; they are detached when it is
	// evicted. A page with pinCount > 0 is never chosen for eviction.
	pinCount int

	buf []byte

	// cache LRU ring (intrusive, doubly linked)
	lruPrev, lruNext *Page

	// per-page cursor list; every *Cursor coupled
	// to this page appears here exactly once so the page can detach them on
	// destruction.
	cursors []pageCursorLink
}

// pageCursorLink is the weak back-reference a coupled cursor leaves on its
// page; cursor identity is compared by pointer.
type pageCursorLink struct {
	cursor interface{ onPageEvicted(*Page) }
}

// Self returns the page's on-disk byte offset (a synthetic id for an
// in-memory page).
func (p *Page) Self() pageID { return p.self }

// Type returns the page's payload tag.
func (p *Page) Type() PageType { return p.typ }

// Dirty reports whether the page's buffer differs from what is on disk.
func (p *Page) Dirty() bool { return p.dirty }

// Buffer returns the page's persistent buffer. It panics if the page has
// been released by the cache — writing through a released buffer is an
// invariant violation, not a recoverable error.
func (p *Page) Buffer() []byte {
	if p.buf == nil {
		panic("pagekv: use of page after its buffer was released")
	}
	return p.buf
}

// MarkDirty flags the page as needing write-back. It is a programming error
// to dirty a page belonging to an in-memory database: there is no device to
// write it back to.
func (p *Page) MarkDirty() {
	if p.owner != nil && p.owner.env.inMemory() {
		panic("pagekv: in-memory page marked dirty")
	}
	p.dirty = true
}

func (p *Page) pin()   { p.pinCount++ }
func (p *Page) unpin() { p.pinCount-- }

func (p *Page) pinned() bool { return p.pinCount > 0 }

// attachCursor adds a weak reference from the page to a cursor that just
// coupled to it.
func (p *Page) attachCursor(c interface{ onPageEvicted(*Page) }) {
	for _, l := range p.cursors {
		if l.cursor == c {
			return
		}
	}
	p.cursors = append(p.cursors, pageCursorLink{cursor: c})
}

// detachCursor removes the weak reference, if present.
func (p *Page) detachCursor(c interface{ onPageEvicted(*Page) }) {
	for i, l := range p.cursors {
		if l.cursor == c {
			p.cursors = append(p.cursors[:i], p.cursors[i+1:]...)
			return
		}
	}
}

// notifyEvicted tells every cursor coupled to this page that it is about to
// be destroyed, so cursors can decouple (set themselves to NIL) rather than
// hold a dangling pointer.
func (p *Page) notifyEvicted() {
	for _, l := range p.cursors {
		l.cursor.onPageEvicted(p)
	}
	p.cursors = nil
}
