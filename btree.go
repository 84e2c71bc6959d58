package pagekv

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// nodePageChecksumSize reserves the first 8 bytes of every node page for an
// xxhash64 checksum over the rest of the buffer, verified on every load so
// a corrupted page is caught at read time instead of silently misparsed.
const nodePageChecksumSize = 8

// btree.go is the disk-resident B+tree collaborator: node layout, search,
// split-on-overflow insert, delete, and in-order traversal for cursor
// Next/Prev. Delete removes the key from its leaf only: underflowing nodes
// are neither merged nor rebalanced, and an emptied leaf stays in the tree. It never touches the device directly —
// every node is a Page fetched/allocated through the owning Database's
// Cache, and the owning Database's installed Comparator decides ordering.
// Every leaf key carries a duplicate table so a cursor can merge committed
// duplicates with a transaction's pending ops for the same key.

const defaultBtreeOrder = 32

// keySlot is one key stored in a node, either inline or, if it overflows
// the database's configured key-prefix budget, as a prefix plus a
// reference to a blob holding the rest of the key after that prefix.
type keySlot struct {
	extended bool
	prefix   []byte
	blobID   pageID
	fullLen  int
}

func (k keySlot) ref() keyRef {
	return keyRef{prefix: k.prefix, extended: k.extended, blobID: k.blobID, fullLen: k.fullLen}
}

// recordSlot is one stored value, inline or blob-backed under the same rule
// as keySlot.
type recordSlot struct {
	extended bool
	inline   []byte
	blobID   pageID
	fullLen  int
}

type btreeNode struct {
	leaf bool
	keys []keySlot
	// children has len(keys)+1 entries for internal nodes, none for leaves.
	children []pageID
	// dups has one entry per key for leaves: every duplicate record stored
	// under that key, in insertion order.
	dups [][]recordSlot
}

func newLeafNode() *btreeNode  { return &btreeNode{leaf: true} }
func newInnerNode() *btreeNode { return &btreeNode{leaf: false} }

// --- node (de)serialization -------------------------------------------

func encodeKeySlot(w *bytes.Buffer, k keySlot) {
	if k.extended {
		w.WriteByte(1)
		binary.Write(w, binary.LittleEndian, uint32(len(k.prefix)))
		w.Write(k.prefix)
		binary.Write(w, binary.LittleEndian, uint64(k.blobID))
		binary.Write(w, binary.LittleEndian, uint32(k.fullLen))
		return
	}
	w.WriteByte(0)
	binary.Write(w, binary.LittleEndian, uint32(len(k.prefix)))
	w.Write(k.prefix)
}

func decodeKeySlot(r *bytes.Reader) (keySlot, error) {
	tag, err := r.ReadByte()
	if err != nil {
		return keySlot{}, err
	}
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return keySlot{}, err
	}
	buf := make([]byte, n)
	if _, err := r.Read(buf); err != nil {
		return keySlot{}, err
	}
	if tag == 0 {
		return keySlot{prefix: buf}, nil
	}
	var blobID uint64
	var fullLen uint32
	if err := binary.Read(r, binary.LittleEndian, &blobID); err != nil {
		return keySlot{}, err
	}
	if err := binary.Read(r, binary.LittleEndian, &fullLen); err != nil {
		return keySlot{}, err
	}
	return keySlot{extended: true, prefix: buf, blobID: pageID(blobID), fullLen: int(fullLen)}, nil
}

func encodeRecordSlot(w *bytes.Buffer, r recordSlot) {
	if r.extended {
		w.WriteByte(1)
		binary.Write(w, binary.LittleEndian, uint64(r.blobID))
		binary.Write(w, binary.LittleEndian, uint32(r.fullLen))
		return
	}
	w.WriteByte(0)
	binary.Write(w, binary.LittleEndian, uint32(len(r.inline)))
	w.Write(r.inline)
}

func decodeRecordSlot(r *bytes.Reader) (recordSlot, error) {
	tag, err := r.ReadByte()
	if err != nil {
		return recordSlot{}, err
	}
	if tag == 1 {
		var blobID uint64
		var fullLen uint32
		if err := binary.Read(r, binary.LittleEndian, &blobID); err != nil {
			return recordSlot{}, err
		}
		if err := binary.Read(r, binary.LittleEndian, &fullLen); err != nil {
			return recordSlot{}, err
		}
		return recordSlot{extended: true, blobID: pageID(blobID), fullLen: int(fullLen)}, nil
	}
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return recordSlot{}, err
	}
	buf := make([]byte, n)
	if _, err := r.Read(buf); err != nil {
		return recordSlot{}, err
	}
	return recordSlot{inline: buf}, nil
}

func encodeNode(n *btreeNode) []byte {
	var w bytes.Buffer
	if n.leaf {
		w.WriteByte(1)
	} else {
		w.WriteByte(0)
	}
	binary.Write(&w, binary.LittleEndian, uint32(len(n.keys)))
	for i, k := range n.keys {
		encodeKeySlot(&w, k)
		if n.leaf {
			binary.Write(&w, binary.LittleEndian, uint32(len(n.dups[i])))
			for _, d := range n.dups[i] {
				encodeRecordSlot(&w, d)
			}
		}
	}
	if !n.leaf {
		for _, c := range n.children {
			binary.Write(&w, binary.LittleEndian, uint64(c))
		}
	}
	return w.Bytes()
}

func decodeNode(buf []byte) (*btreeNode, error) {
	r := bytes.NewReader(buf)
	tag, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	n := &btreeNode{leaf: tag == 1}
	var count uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, err
	}
	n.keys = make([]keySlot, count)
	if n.leaf {
		n.dups = make([][]recordSlot, count)
	}
	for i := uint32(0); i < count; i++ {
		k, err := decodeKeySlot(r)
		if err != nil {
			return nil, err
		}
		n.keys[i] = k
		if n.leaf {
			var dn uint32
			if err := binary.Read(r, binary.LittleEndian, &dn); err != nil {
				return nil, err
			}
			dups := make([]recordSlot, dn)
			for j := uint32(0); j < dn; j++ {
				d, err := decodeRecordSlot(r)
				if err != nil {
					return nil, err
				}
				dups[j] = d
			}
			n.dups[i] = dups
		}
	}
	if !n.leaf {
		n.children = make([]pageID, count+1)
		for i := range n.children {
			var c uint64
			if err := binary.Read(r, binary.LittleEndian, &c); err != nil {
				return nil, err
			}
			n.children[i] = pageID(c)
		}
	}
	return n, nil
}

// loadNode decodes the node stored in p, first verifying the checksum
// written by storeNode over everything after it.
func (db *Database) loadNode(p *Page) (*btreeNode, error) {
	buf := p.Buffer()
	if len(buf) < nodePageChecksumSize {
		return nil, fmt.Errorf("pagekv: node page %s too small for checksum header", p.Self())
	}
	stored := binary.LittleEndian.Uint64(buf[:nodePageChecksumSize])
	actual := xxhash.Sum64(buf[nodePageChecksumSize:])
	if stored != actual {
		return nil, fmt.Errorf("pagekv: node page %s failed checksum verification", p.Self())
	}
	return decodeNode(buf[nodePageChecksumSize:])
}

// storeNode encodes n into p, reserving the leading nodePageChecksumSize
// bytes for an xxhash64 checksum over the remainder (payload plus zero
// padding) so loadNode can detect a corrupted page.
func (db *Database) storeNode(p *Page, n *btreeNode) error {
	enc := encodeNode(n)
	buf := p.Buffer()
	if len(enc) > len(buf)-nodePageChecksumSize {
		return fmt.Errorf("pagekv: node overflows page size (%d > %d)", len(enc), len(buf)-nodePageChecksumSize)
	}
	clear(buf)
	copy(buf[nodePageChecksumSize:], enc)
	sum := xxhash.Sum64(buf[nodePageChecksumSize:])
	binary.LittleEndian.PutUint64(buf[:nodePageChecksumSize], sum)
	if !db.env.inMemory() {
		p.MarkDirty()
	}
	return nil
}

func (db *Database) fitsInPage(n *btreeNode) bool {
	return len(encodeNode(n)) <= int(db.env.dev.pageSize)-nodePageChecksumSize
}

// makeKeySlot prepares a caller-supplied key for storage, writing it to the
// blob store if it exceeds the database's inline key budget.
func (db *Database) makeKeySlot(key []byte) (keySlot, error) {
	if len(key) <= db.cfg.KeySize {
		return keySlot{prefix: key}, nil
	}
	prefixLen := db.cfg.KeySize
	blobID, err := blobWrite(db, key[prefixLen:])
	if err != nil {
		return keySlot{}, err
	}
	return keySlot{extended: true, prefix: key[:prefixLen], blobID: blobID, fullLen: len(key)}, nil
}

func (db *Database) makeRecordSlot(record []byte) (recordSlot, error) {
	if len(record) <= db.cfg.RecordInlineSize {
		return recordSlot{inline: record}, nil
	}
	blobID, err := blobWrite(db, record)
	if err != nil {
		return recordSlot{}, err
	}
	return recordSlot{extended: true, blobID: blobID, fullLen: len(record)}, nil
}

func (db *Database) resolveRecord(r recordSlot) ([]byte, error) {
	if !r.extended {
		return r.inline, nil
	}
	return blobRead(db, r.blobID)
}

func (db *Database) resolveKey(k keySlot) ([]byte, error) {
	return db.materializeKey(k.ref())
}

// --- tree navigation -----------------------------------------------------

// btreePathFrame records one step of a root-to-leaf descent: the page
// visited and the child index taken (or, at the leaf, the key index of the
// match/insertion point).
type btreePathFrame struct {
	page *Page
	node *btreeNode
	idx  int
}

// descend walks from the root to the leaf that would hold key, recording
// the path taken. frames[len-1] is always the leaf frame; idx at the leaf
// is the index of an exact match, or the insertion point if none.
func (db *Database) descend(key []byte) ([]btreePathFrame, bool, error) {
	var path []btreePathFrame
	id := db.root
	for {
		p, err := db.env.cache.fetch(id, db, fetchOpts{})
		if err != nil {
			return nil, false, err
		}
		n, err := db.loadNode(p)
		if err != nil {
			return nil, false, err
		}
		idx, found, err := db.searchNode(n, key)
		if err != nil {
			return nil, false, err
		}
		if !n.leaf && found {
			// exact match on an internal separator: descend right of it
			idx++
		}
		path = append(path, btreePathFrame{page: p, node: n, idx: idx})
		if n.leaf {
			return path, found, nil
		}
		id = n.children[idx]
	}
}

// searchNode finds the position of key among n.keys via the installed
// comparator: returns the index of an exact match (found=true) or the
// index of the first key greater than key (the insertion point).
func (db *Database) searchNode(n *btreeNode, key []byte) (int, bool, error) {
	lhs := keyRef{prefix: key}
	lo, hi := 0, len(n.keys)
	for lo < hi {
		mid := (lo + hi) / 2
		c, err := db.compareKeys(lhs, n.keys[mid].ref())
		if err != nil {
			return 0, false, err
		}
		switch {
		case c == 0:
			return mid, true, nil
		case c < 0:
			hi = mid
		default:
			lo = mid + 1
		}
	}
	return lo, false, nil
}

// --- public operations ---------------------------------------------------

type insertOpts struct {
	overwrite bool // replace the sole record instead of appending a duplicate
	allowDup  bool
}

func (db *Database) btreeInsert(key, record []byte, opts insertOpts) error {
	path, found, err := db.descend(key)
	if err != nil {
		return err
	}
	leaf := path[len(path)-1]

	rs, err := db.makeRecordSlot(record)
	if err != nil {
		return err
	}

	if found {
		switch {
		case opts.overwrite:
			leaf.node.dups[leaf.idx] = []recordSlot{rs}
		case opts.allowDup:
			leaf.node.dups[leaf.idx] = append(leaf.node.dups[leaf.idx], rs)
		default:
			return ErrDuplicateKey
		}
	} else {
		ks, err := db.makeKeySlot(key)
		if err != nil {
			return err
		}
		insertAt(leaf.node, leaf.idx, ks, []recordSlot{rs})
	}

	if db.fitsInPage(leaf.node) {
		return db.storeNode(leaf.page, leaf.node)
	}
	return db.splitAndStore(path)
}

// insertAt inserts key k at position idx. d is the initial duplicate list
// and is only stored when n is a leaf; internal-node separator inserts pass
// nil and touch no dups slice at all.
func insertAt(n *btreeNode, idx int, k keySlot, d []recordSlot) {
	n.keys = append(n.keys, keySlot{})
	copy(n.keys[idx+1:], n.keys[idx:])
	n.keys[idx] = k
	if n.leaf {
		n.dups = append(n.dups, nil)
		copy(n.dups[idx+1:], n.dups[idx:])
		n.dups[idx] = d
	}
}

// splitAndStore splits the overflowing leaf (and, transitively, any
// overflowing ancestor) in half, propagating a new separator key upward,
// creating a new root if the split reaches the top.
func (db *Database) splitAndStore(path []btreePathFrame) error {
	i := len(path) - 1
	frame := path[i]
	mid := len(frame.node.keys) / 2
	sepSrc := frame.node.keys[mid]

	rightNode := &btreeNode{leaf: frame.node.leaf}
	if frame.node.leaf {
		rightNode.keys = append(rightNode.keys, frame.node.keys[mid:]...)
		rightNode.dups = append(rightNode.dups, frame.node.dups[mid:]...)
		frame.node.dups = frame.node.dups[:mid]
	} else {
		// the middle separator moves up to the parent and stays in neither half
		rightNode.keys = append(rightNode.keys, frame.node.keys[mid+1:]...)
		rightNode.children = append(rightNode.children, frame.node.children[mid+1:]...)
		frame.node.children = frame.node.children[:mid+1]
	}
	frame.node.keys = frame.node.keys[:mid]

	rightPage, err := db.env.cache.alloc(db, PageTypeBIndex)
	if err != nil {
		return err
	}
	if err := db.storeNode(rightPage, rightNode); err != nil {
		return err
	}
	if err := db.storeNode(frame.page, frame.node); err != nil {
		return err
	}

	sepKey := sepSrc.prefix
	if sepSrc.extended {
		resolved, err := db.resolveKey(sepSrc)
		if err != nil {
			return err
		}
		sepKey = resolved
	}
	sepSlot, err := db.makeKeySlot(sepKey)
	if err != nil {
		return err
	}

	if i == 0 {
		// splitting the root: build a fresh root pointing at both halves.
		newRoot := newInnerNode()
		newRoot.keys = []keySlot{sepSlot}
		newRoot.children = []pageID{frame.page.Self(), rightPage.Self()}
		rootPage, err := db.env.cache.alloc(db, PageTypeBRoot)
		if err != nil {
			return err
		}
		if err := db.storeNode(rootPage, newRoot); err != nil {
			return err
		}
		db.root = rootPage.Self()
		return nil
	}

	parent := path[i-1]
	insertAt(parent.node, parent.idx, sepSlot, nil)
	parent.node.children = append(parent.node.children, 0)
	copy(parent.node.children[parent.idx+2:], parent.node.children[parent.idx+1:])
	parent.node.children[parent.idx+1] = rightPage.Self()

	if db.fitsInPage(parent.node) {
		return db.storeNode(parent.page, parent.node)
	}
	return db.splitAndStore(path[:i])
}

// btreeLookup returns every record stored under key, in insertion order.
func (db *Database) btreeLookup(key []byte) ([][]byte, bool, error) {
	path, found, err := db.descend(key)
	if err != nil {
		return nil, false, err
	}
	if !found {
		return nil, false, nil
	}
	leaf := path[len(path)-1]
	recs := make([][]byte, 0, len(leaf.node.dups[leaf.idx]))
	for _, rs := range leaf.node.dups[leaf.idx] {
		b, err := db.resolveRecord(rs)
		if err != nil {
			return nil, false, err
		}
		recs = append(recs, b)
	}
	return recs, true, nil
}

// btreeErase removes a key (and all its duplicates) entirely.
func (db *Database) btreeErase(key []byte) error {
	path, found, err := db.descend(key)
	if err != nil {
		return err
	}
	if !found {
		return ErrKeyNotFound
	}
	leaf := path[len(path)-1]
	for _, rs := range leaf.node.dups[leaf.idx] {
		if rs.extended {
			_ = blobFree(db, rs.blobID)
		}
	}
	if leaf.node.keys[leaf.idx].extended {
		blobID := leaf.node.keys[leaf.idx].blobID
		_ = blobFree(db, blobID)
		if db.extkeys != nil {
			_ = db.extkeys.remove(blobID) // no-op if it was never cached
		}
	}
	removeAt(leaf.node, leaf.idx)
	return db.storeNode(leaf.page, leaf.node)
}

// btreeEraseDuplicate removes the one duplicate at the given 1-based index
// under key, leaving any other duplicates under the same key in place. If
// it was the key's last duplicate, the key itself is removed too — the
// same cleanup btreeErase performs.
func (db *Database) btreeEraseDuplicate(key []byte, dupIndex int) error {
	path, found, err := db.descend(key)
	if err != nil {
		return err
	}
	if !found {
		return ErrKeyNotFound
	}
	leaf := path[len(path)-1]
	dups := leaf.node.dups[leaf.idx]
	if dupIndex < 1 || dupIndex > len(dups) {
		return ErrInvalidParameter
	}
	rs := dups[dupIndex-1]
	if rs.extended {
		_ = blobFree(db, rs.blobID)
	}
	dups = append(dups[:dupIndex-1], dups[dupIndex:]...)
	leaf.node.dups[leaf.idx] = dups

	if len(dups) == 0 {
		if leaf.node.keys[leaf.idx].extended {
			blobID := leaf.node.keys[leaf.idx].blobID
			_ = blobFree(db, blobID)
			if db.extkeys != nil {
				_ = db.extkeys.remove(blobID)
			}
		}
		removeAt(leaf.node, leaf.idx)
	}
	return db.storeNode(leaf.page, leaf.node)
}

func removeAt(n *btreeNode, idx int) {
	n.keys = append(n.keys[:idx], n.keys[idx+1:]...)
	if n.leaf {
		n.dups = append(n.dups[:idx], n.dups[idx+1:]...)
	}
}

// btreeFirst / btreeNext / btreePrev / btreeLast implement cursor movement
// by climbing the recorded path to the nearest ancestor with an unvisited
// child and descending back down, since nodes carry no persisted sibling
// pointers.

func (db *Database) btreeFirst() ([]btreePathFrame, error) {
	var path []btreePathFrame
	id := db.root
	for {
		p, err := db.env.cache.fetch(id, db, fetchOpts{})
		if err != nil {
			return nil, err
		}
		n, err := db.loadNode(p)
		if err != nil {
			return nil, err
		}
		path = append(path, btreePathFrame{page: p, node: n, idx: 0})
		if n.leaf {
			return path, nil
		}
		id = n.children[0]
	}
}

func (db *Database) btreeLast() ([]btreePathFrame, error) {
	var path []btreePathFrame
	id := db.root
	for {
		p, err := db.env.cache.fetch(id, db, fetchOpts{})
		if err != nil {
			return nil, err
		}
		n, err := db.loadNode(p)
		if err != nil {
			return nil, err
		}
		if n.leaf {
			path = append(path, btreePathFrame{page: p, node: n, idx: len(n.keys) - 1})
			return path, nil
		}
		path = append(path, btreePathFrame{page: p, node: n, idx: len(n.children) - 1})
		id = n.children[len(n.children)-1]
	}
}

// btreeNext advances path to the next key in sorted order, or returns
// ok=false if path was already at the last key.
func (db *Database) btreeNext(path []btreePathFrame) ([]btreePathFrame, bool, error) {
	leaf := path[len(path)-1]
	if leaf.idx+1 < len(leaf.node.keys) {
		path[len(path)-1].idx++
		return path, true, nil
	}
	// climb until we find an ancestor with an unvisited right child
	for i := len(path) - 2; i >= 0; i-- {
		frame := path[i]
		if frame.idx+1 < len(frame.node.children) {
			path = path[:i+1]
			path[i].idx++
			return db.descendLeftmost(path, frame.node.children[frame.idx+1])
		}
	}
	return path, false, nil
}

func (db *Database) btreePrev(path []btreePathFrame) ([]btreePathFrame, bool, error) {
	leaf := path[len(path)-1]
	if leaf.idx-1 >= 0 {
		path[len(path)-1].idx--
		return path, true, nil
	}
	for i := len(path) - 2; i >= 0; i-- {
		frame := path[i]
		if frame.idx-1 >= 0 {
			path = path[:i+1]
			path[i].idx--
			return db.descendRightmost(path, frame.node.children[frame.idx-1])
		}
	}
	return path, false, nil
}

func (db *Database) descendLeftmost(path []btreePathFrame, id pageID) ([]btreePathFrame, bool, error) {
	for {
		p, err := db.env.cache.fetch(id, db, fetchOpts{})
		if err != nil {
			return nil, false, err
		}
		n, err := db.loadNode(p)
		if err != nil {
			return nil, false, err
		}
		path = append(path, btreePathFrame{page: p, node: n, idx: 0})
		if n.leaf {
			return path, true, nil
		}
		id = n.children[0]
	}
}

func (db *Database) descendRightmost(path []btreePathFrame, id pageID) ([]btreePathFrame, bool, error) {
	for {
		p, err := db.env.cache.fetch(id, db, fetchOpts{})
		if err != nil {
			return nil, false, err
		}
		n, err := db.loadNode(p)
		if err != nil {
			return nil, false, err
		}
		if n.leaf {
			path = append(path, btreePathFrame{page: p, node: n, idx: len(n.keys) - 1})
			return path, true, nil
		}
		idx := len(n.children) - 1
		path = append(path, btreePathFrame{page: p, node: n, idx: idx})
		id = n.children[idx]
	}
}

// keyAt / recordsAt read out the data a path currently points to.
func (db *Database) keyAt(path []btreePathFrame) ([]byte, error) {
	leaf := path[len(path)-1]
	return db.resolveKey(leaf.node.keys[leaf.idx])
}

func (db *Database) recordsAt(path []btreePathFrame) ([][]byte, error) {
	leaf := path[len(path)-1]
	recs := make([][]byte, 0, len(leaf.node.dups[leaf.idx]))
	for _, rs := range leaf.node.dups[leaf.idx] {
		b, err := db.resolveRecord(rs)
		if err != nil {
			return nil, err
		}
		recs = append(recs, b)
	}
	return recs, nil
}
