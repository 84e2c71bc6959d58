package pagekv

// cursorState tags which half of the storage a cursor currently observes:
// nil (not pointing anywhere), coupled to the btree, or coupled to a
// txn-only key that has no committed btree entry yet.
type cursorState uint8

const (
	cursorNil cursorState = iota
	cursorCoupledBtree
	cursorCoupledTxn
)

// lastCmpNeedsRefresh is a value outside {-1, 0, 1}: it marks a cached
// comparison result as stale and due for recomputation (used here after a
// page eviction forces a cursor to decouple).
const lastCmpNeedsRefresh = 2

// CursorMoveFlags modify how MoveNext/MovePrevious step relative to the
// current key's duplicates.
type CursorMoveFlags uint8

const (
	// SkipDuplicates moves straight to the next/previous key, bypassing any
	// remaining duplicates under the current key.
	SkipDuplicates CursorMoveFlags = 1 << iota
	// OnlyDuplicates restricts movement to duplicates of the current key:
	// the move fails with ErrKeyNotFound once they're exhausted, instead of
	// crossing over to the next/previous key.
	OnlyDuplicates
)

func mergeMoveFlags(flags []CursorMoveFlags) CursorMoveFlags {
	var out CursorMoveFlags
	for _, f := range flags {
		out |= f
	}
	return out
}

// Cursor walks a Database, optionally scoped to one Txn's view of it. When
// scoped to a transaction, Key/Record/GetDuplicateCount observe the merge
// of the btree's committed duplicates and the transaction's pending ops
// for the current key.
type Cursor struct {
	db *Database
	tx *Txn

	state cursorState
	path  []btreePathFrame

	key       []byte
	dupes     dupeCache
	dupeIndex int // 1-based; 0 means "no current duplicate selected"
	lastCmp   int
}

func newCursor(db *Database, tx *Txn) *Cursor {
	return &Cursor{db: db, tx: tx, lastCmp: lastCmpNeedsRefresh}
}

// onPageEvicted implements the weak back-reference page.go's Page keeps to
// every cursor coupled to it: when the page is about to be destroyed, the
// cursor decouples to NIL rather than holding a dangling path.
func (c *Cursor) onPageEvicted(p *Page) {
	if c.state == cursorCoupledBtree {
		c.decouple()
		c.lastCmp = lastCmpNeedsRefresh
	}
}

func (c *Cursor) attachToPath(path []btreePathFrame) {
	c.detachCurrent()
	c.path = path
	c.state = cursorCoupledBtree
	path[len(path)-1].page.attachCursor(c)
}

func (c *Cursor) detachCurrent() {
	if c.state == cursorCoupledBtree && len(c.path) > 0 {
		c.path[len(c.path)-1].page.detachCursor(c)
	}
}

func (c *Cursor) decouple() {
	c.detachCurrent()
	c.state = cursorNil
	c.path = nil
	c.dupes.clear()
	c.dupeIndex = 0
}

// Find couples the cursor to key, merging the btree's committed
// duplicates (if any) with the active transaction's pending ops for that
// key (if any). It fails with ErrKeyNotFound if neither side has the key,
// or if the transaction's most recent op against it is an erase.
func (c *Cursor) Find(key []byte) error {
	path, found, err := c.db.descend(key)
	if err != nil {
		return err
	}
	var btreeCount int
	if found {
		leaf := path[len(path)-1]
		btreeCount = len(leaf.node.dups[leaf.idx])
	}
	var ops []txnOp
	if c.tx != nil {
		ops = c.tx.opsForKey(key)
	}
	c.dupes.rebuild(btreeCount, ops)
	if c.dupes.count() == 0 {
		c.decouple()
		return ErrKeyNotFound
	}
	if found {
		c.attachToPath(path)
	} else {
		c.detachCurrent()
		c.state = cursorCoupledTxn
		c.path = nil
	}
	c.key = append([]byte(nil), key...)
	c.dupeIndex = 1
	c.lastCmp = 0
	return nil
}

// MoveFirst couples the cursor to the smallest key with at least one
// visible duplicate (skipping keys the active transaction has erased
// entirely).
func (c *Cursor) MoveFirst() error {
	path, err := c.db.btreeFirst()
	if err != nil {
		return err
	}
	return c.settleFrom(path, true)
}

// MoveLast is the mirror of MoveFirst.
func (c *Cursor) MoveLast() error {
	path, err := c.db.btreeLast()
	if err != nil {
		return err
	}
	return c.settleFrom(path, false)
}

// MoveNext advances the cursor: by default it steps to the next duplicate
// under the current key first, only moving to the next key once those are
// exhausted. SkipDuplicates jumps straight to the next key; OnlyDuplicates
// fails with ErrKeyNotFound instead of crossing to the next key. The cursor
// must already be coupled to the btree (a txn-only cursor has no
// well-defined successor without a full txn-tree, which this repository
// does not maintain).
func (c *Cursor) MoveNext(flags ...CursorMoveFlags) error {
	return c.move(true, mergeMoveFlags(flags))
}

// MovePrevious is the mirror of MoveNext.
func (c *Cursor) MovePrevious(flags ...CursorMoveFlags) error {
	return c.move(false, mergeMoveFlags(flags))
}

// move implements MoveNext/MovePrevious's duplicate-then-key stepping.
func (c *Cursor) move(forward bool, flags CursorMoveFlags) error {
	if c.state != cursorCoupledBtree {
		return ErrInvalidParameter
	}

	if flags&OnlyDuplicates != 0 {
		if forward && c.dupeIndex < c.dupes.count() {
			c.dupeIndex++
			return nil
		}
		if !forward && c.dupeIndex > 1 {
			c.dupeIndex--
			return nil
		}
		return ErrKeyNotFound
	}

	if flags&SkipDuplicates == 0 {
		if forward && c.dupeIndex < c.dupes.count() {
			c.dupeIndex++
			return nil
		}
		if !forward && c.dupeIndex > 1 {
			c.dupeIndex--
			return nil
		}
	}

	var path []btreePathFrame
	var ok bool
	var err error
	if forward {
		path, ok, err = c.db.btreeNext(c.path)
	} else {
		path, ok, err = c.db.btreePrev(c.path)
	}
	if err != nil {
		return err
	}
	if !ok {
		c.decouple()
		return ErrKeyNotFound
	}
	return c.settleFrom(path, forward)
}

// settleFrom couples the cursor to the first key at or after path (or at
// or before, when forward is false) that has at least one visible
// duplicate, skipping over keys the transaction has erased entirely.
func (c *Cursor) settleFrom(path []btreePathFrame, forward bool) error {
	for {
		if len(path[len(path)-1].node.keys) == 0 {
			// erase never merges leaves, so an emptied leaf is stepped over
			var ok bool
			var err error
			if forward {
				path, ok, err = c.db.btreeNext(path)
			} else {
				path, ok, err = c.db.btreePrev(path)
			}
			if err != nil {
				return err
			}
			if !ok {
				c.decouple()
				return ErrKeyNotFound
			}
			continue
		}
		key, err := c.db.keyAt(path)
		if err != nil {
			return err
		}
		leaf := path[len(path)-1]
		btreeCount := len(leaf.node.dups[leaf.idx])
		var ops []txnOp
		if c.tx != nil {
			ops = c.tx.opsForKey(key)
		}
		var next dupeCache
		next.rebuild(btreeCount, ops)
		if next.count() > 0 {
			c.dupes = next
			c.attachToPath(path)
			c.key = key
			if forward {
				c.dupeIndex = 1
			} else {
				c.dupeIndex = next.count()
			}
			c.lastCmp = 0
			return nil
		}
		var ok bool
		if forward {
			path, ok, err = c.db.btreeNext(path)
		} else {
			path, ok, err = c.db.btreePrev(path)
		}
		if err != nil {
			return err
		}
		if !ok {
			c.decouple()
			return ErrKeyNotFound
		}
	}
}

// Key returns the key the cursor currently points to.
func (c *Cursor) Key() ([]byte, error) {
	if c.state == cursorNil {
		return nil, ErrKeyNotFound
	}
	return c.key, nil
}

// Record returns the record of the currently selected duplicate.
func (c *Cursor) Record() ([]byte, error) {
	if c.state == cursorNil || c.dupeIndex == 0 {
		return nil, ErrKeyNotFound
	}
	line := c.dupes.at(c.dupeIndex - 1)
	if line.useBtree {
		leaf := c.path[len(c.path)-1]
		rs := leaf.node.dups[leaf.idx][line.btreeDupeIdx]
		return c.db.resolveRecord(rs)
	}
	if line.op.kind == opErase {
		return nil, ErrKeyErasedInTxn
	}
	return line.op.record, nil
}

// GetDuplicateCount returns how many records are visible under the
// cursor's current key.
func (c *Cursor) GetDuplicateCount() (int, error) {
	if c.state == cursorNil {
		return 0, ErrKeyNotFound
	}
	return c.dupes.count(), nil
}

// MoveToDuplicate repositions within the current key's duplicate list
// (1-based, matching cursor.h's _dupecache_index convention).
func (c *Cursor) MoveToDuplicate(idx int) error {
	if c.state == cursorNil {
		return ErrKeyNotFound
	}
	if idx < 1 || idx > c.dupes.count() {
		return ErrKeyNotFound
	}
	c.dupeIndex = idx
	return nil
}

// Insert stores record under key (through the active transaction if one is
// set) and couples the cursor to it.
func (c *Cursor) Insert(key, record []byte, allowDup bool) error {
	if c.tx != nil {
		if err := c.tx.insert(key, record, allowDup); err != nil {
			return err
		}
	} else if err := c.db.btreeInsert(key, record, insertOpts{allowDup: allowDup}); err != nil {
		return err
	}
	return c.Find(key)
}

// Overwrite replaces every record under the cursor's current key.
func (c *Cursor) Overwrite(record []byte) error {
	if c.state == cursorNil {
		return ErrKeyNotFound
	}
	key := c.key
	if c.tx != nil {
		if err := c.tx.overwrite(key, record); err != nil {
			return err
		}
	} else if err := c.db.btreeInsert(key, record, insertOpts{overwrite: true}); err != nil {
		return err
	}
	return c.Find(key)
}

// Erase removes the cursor's current key entirely and decouples.
func (c *Cursor) Erase() error {
	if c.state == cursorNil {
		return ErrKeyNotFound
	}
	key := c.key
	if c.tx != nil {
		if err := c.tx.erase(key); err != nil {
			return err
		}
		c.decouple()
		return nil
	}
	if err := c.db.btreeErase(key); err != nil {
		return err
	}
	c.decouple()
	return nil
}

// EraseDuplicate removes the duplicate at the given 1-based index under the
// cursor's current key, leaving its other duplicates (committed or, inside
// a transaction, still pending) in place. The cursor re-settles on the same
// key afterward rather than decoupling, since it may still have duplicates
// left to walk.
func (c *Cursor) EraseDuplicate(dupIndex int) error {
	if c.state == cursorNil {
		return ErrKeyNotFound
	}
	key := c.key
	if c.tx != nil {
		if err := c.tx.eraseDuplicate(key, dupIndex); err != nil {
			return err
		}
		return c.Find(key)
	}
	if err := c.db.btreeEraseDuplicate(key, dupIndex); err != nil {
		return err
	}
	return c.Find(key)
}

// CheckIfBtreeKeyIsErasedOrOverwritten reports whether the active
// transaction's most recent op against the cursor's current key is an
// erase, per cursor.h's namesake check. A pending overwrite is not
// reported.
func (c *Cursor) CheckIfBtreeKeyIsErasedOrOverwritten() bool {
	if c.tx == nil || c.state == cursorNil {
		return false
	}
	return c.tx.erasedInTxn(c.key)
}

// Clone duplicates the cursor's current position, including its dupecache.
func (c *Cursor) Clone() *Cursor {
	clone := &Cursor{
		db:        c.db,
		tx:        c.tx,
		state:     c.state,
		key:       append([]byte(nil), c.key...),
		dupeIndex: c.dupeIndex,
		lastCmp:   c.lastCmp,
	}
	clone.dupes = *c.dupes.clone()
	if c.state == cursorCoupledBtree {
		clone.path = append([]btreePathFrame(nil), c.path...)
		clone.path[len(clone.path)-1].page.attachCursor(clone)
	}
	return clone
}

// Close decouples the cursor from any page it holds a weak reference to.
func (c *Cursor) Close() error {
	c.decouple()
	return nil
}
