package pagekv

import (
	"sort"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
)

// txn.go is the transaction manager collaborator: a private page map plus a
// per-key operation log, rather than a page-diff shadow log, so a cursor's
// duplicate-cache merge can iterate the pending ops for one key directly
// against the btree's committed duplicates for that same key. Each recorded
// op folds into a running xxhash/v2 checksum so a transaction's final state
// can be compared cheaply without hashing every page it touched.

type opKind uint8

const (
	opInsert opKind = iota
	opErase
	opOverwrite
	opEraseDup
)

type txnOp struct {
	kind   opKind
	key    []byte
	record []byte
	// dupIndex is the 1-based duplicate position for opEraseDup; unused by
	// every other op kind.
	dupIndex int
}

// Txn is a single transaction against one Database. It holds a private
// page map (addPage/getPage) and a per-key op chain recording every
// insert/erase/overwrite performed, in order. Cache.fetch does not consult
// the page map: every page read goes through the shared cache.
type Txn struct {
	id       uuid.UUID
	db       *Database
	writable bool

	pages map[pageID]*Page

	chains map[string][]txnOp
	order  []string // insertion order of distinct keys touched, for deterministic commit

	checksum uint64
	done     bool
}

// Begin starts a transaction against db. Only one transaction is active at
// a time; the environment mutex enforces this, and is released on Commit
// or Abort.
func (db *Database) Begin(writable bool) *Txn {
	db.env.mu.Lock()
	return &Txn{
		id:       uuid.New(),
		db:       db,
		writable: writable,
		pages:    make(map[pageID]*Page),
		chains:   make(map[string][]txnOp),
	}
}

func (tx *Txn) addPage(p *Page) {
	tx.pages[p.Self()] = p
}

func (tx *Txn) getPage(id pageID) (*Page, bool) {
	p, ok := tx.pages[id]
	return p, ok
}

func (tx *Txn) record(key []byte, op txnOp) {
	k := string(key)
	if _, ok := tx.chains[k]; !ok {
		tx.order = append(tx.order, k)
	}
	tx.chains[k] = append(tx.chains[k], op)
	tx.checksum = xxhash.Sum64(appendOp(nil, tx.checksum, op))
}

func appendOp(buf []byte, prevChecksum uint64, op txnOp) []byte {
	buf = append(buf, byte(op.kind))
	buf = append(buf, key64(prevChecksum)...)
	buf = append(buf, key64(uint64(op.dupIndex))...)
	buf = append(buf, op.key...)
	buf = append(buf, op.record...)
	return buf
}

func key64(v uint64) []byte {
	return []byte{
		byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24),
		byte(v >> 32), byte(v >> 40), byte(v >> 48), byte(v >> 56),
	}
}

func (tx *Txn) insert(key, record []byte, allowDup bool) error {
	if !tx.writable {
		return ErrInvalidParameter
	}
	tx.record(key, txnOp{kind: opInsert, key: key, record: record})
	return nil
}

func (tx *Txn) overwrite(key, record []byte) error {
	if !tx.writable {
		return ErrInvalidParameter
	}
	tx.record(key, txnOp{kind: opOverwrite, key: key, record: record})
	return nil
}

func (tx *Txn) erase(key []byte) error {
	if !tx.writable {
		return ErrInvalidParameter
	}
	tx.record(key, txnOp{kind: opErase, key: key})
	return nil
}

// eraseDuplicate removes only the duplicate at the given 1-based index
// under key, leaving the rest of the key's duplicates (committed or
// pending) untouched.
func (tx *Txn) eraseDuplicate(key []byte, dupIndex int) error {
	if !tx.writable {
		return ErrInvalidParameter
	}
	tx.record(key, txnOp{kind: opEraseDup, key: key, dupIndex: dupIndex})
	return nil
}

// opsForKey returns every pending op recorded against key, in commit
// order, for the cursor's duplicate-cache merge to walk.
func (tx *Txn) opsForKey(key []byte) []txnOp {
	return tx.chains[string(key)]
}

// erasedInTxn reports whether the most recent op against key (if any) is an
// erase, so a coupled-to-btree cursor knows to skip a key the transaction
// has since deleted.
func (tx *Txn) erasedInTxn(key []byte) bool {
	ops := tx.chains[string(key)]
	if len(ops) == 0 {
		return false
	}
	return ops[len(ops)-1].kind == opErase
}

// Commit applies every recorded op to the B+tree, key by key in sorted key
// order (each key's ops in the order they were recorded), then releases the
// environment mutex.
func (tx *Txn) Commit() error {
	if tx.done {
		return nil
	}
	defer tx.finish()

	keys := append([]string(nil), tx.order...)
	sort.Strings(keys) // deterministic application order across keys; within a key, op order is preserved

	for _, k := range keys {
		ops := tx.chains[k]
		for _, op := range ops {
			var err error
			switch op.kind {
			case opInsert:
				err = tx.db.btreeInsert(op.key, op.record, insertOpts{allowDup: tx.db.cfg.EnableDuplicates})
			case opOverwrite:
				err = tx.db.btreeInsert(op.key, op.record, insertOpts{overwrite: true})
			case opErase:
				err = tx.db.btreeErase(op.key)
			case opEraseDup:
				err = tx.db.btreeEraseDuplicate(op.key, op.dupIndex)
			}
			if err != nil && err != ErrKeyNotFound {
				tx.db.stat.txRollbackCount.Add(1)
				return err
			}
		}
	}
	tx.db.stat.txCommitCount.Add(1)
	return nil
}

// Abort discards every recorded op without touching the B+tree.
func (tx *Txn) Abort() error {
	if tx.done {
		return nil
	}
	defer tx.finish()
	tx.db.stat.txRollbackCount.Add(1)
	return nil
}

func (tx *Txn) finish() {
	tx.done = true
	tx.pages = nil
	tx.chains = nil
	tx.db.env.mu.Unlock()
}
