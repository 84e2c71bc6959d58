package pagekv

// dupeCacheLine is one entry in a dupeCache: either a reference into the
// btree's duplicate table for the current key, or a pending txn op that
// hasn't been committed yet.
type dupeCacheLine struct {
	useBtree     bool
	btreeDupeIdx int
	op           *txnOp
}

func btreeDupeLine(idx int) dupeCacheLine { return dupeCacheLine{useBtree: true, btreeDupeIdx: idx} }
func txnOpLine(op *txnOp) dupeCacheLine   { return dupeCacheLine{useBtree: false, op: op} }

// dupeCache merges the btree's committed duplicates for the cursor's
// current key with any duplicates the active transaction has pending,
// in commit order.
type dupeCache struct {
	lines []dupeCacheLine
}

func (c *dupeCache) count() int { return len(c.lines) }

func (c *dupeCache) at(idx int) dupeCacheLine { return c.lines[idx] }

func (c *dupeCache) append(l dupeCacheLine) { c.lines = append(c.lines, l) }

func (c *dupeCache) insertAt(pos int, l dupeCacheLine) {
	c.lines = append(c.lines, dupeCacheLine{})
	copy(c.lines[pos+1:], c.lines[pos:])
	c.lines[pos] = l
}

func (c *dupeCache) eraseAt(pos int) {
	c.lines = append(c.lines[:pos], c.lines[pos+1:]...)
}

func (c *dupeCache) clear() { c.lines = nil }

func (c *dupeCache) clone() *dupeCache {
	return &dupeCache{lines: append([]dupeCacheLine(nil), c.lines...)}
}

// rebuild discards the cache and refills it with the btree's duplicates for
// key (in table order) followed by any pending ops the transaction still
// has queued for that key: insert appends a line, overwrite replaces the
// whole cache with one line, erase clears every line (committed and
// pending alike), and eraseDup removes only the one line currently at its
// 1-based dupIndex, leaving the rest of the cache — btree and pending lines
// both — untouched.
func (c *dupeCache) rebuild(btreeDupeCount int, ops []txnOp) {
	c.clear()
	for i := 0; i < btreeDupeCount; i++ {
		c.append(btreeDupeLine(i))
	}
	for i := range ops {
		op := &ops[i]
		switch op.kind {
		case opInsert:
			c.append(txnOpLine(op))
		case opOverwrite:
			c.clear()
			c.append(txnOpLine(op))
		case opErase:
			c.clear()
		case opEraseDup:
			pos := op.dupIndex - 1
			if pos >= 0 && pos < c.count() {
				c.eraseAt(pos)
			}
		}
	}
}
