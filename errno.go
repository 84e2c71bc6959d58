package pagekv

import "errors"

// Error kinds the core raises and propagates. Invariant violations (using a
// page whose buffer was released, marking an in-memory page dirty,
// double-inserting in the extkey cache) are programming errors and panic
// instead of surfacing through this list. Fetching from an in-memory
// database does not panic: Cache.fetch returns the resident page, or a
// zeroed buffer for a page that is not resident.
var (
	ErrOutOfMemory         = errors.New("pagekv: out of memory")
	ErrIO                  = errors.New("pagekv: io error")
	ErrCacheFull           = errors.New("pagekv: cache full")
	ErrKeyNotFound         = errors.New("pagekv: key not found")
	ErrKeyErasedInTxn      = errors.New("pagekv: key erased in transaction")
	ErrTxnConflict         = errors.New("pagekv: transaction conflict")
	ErrDatabaseAlreadyOpen = errors.New("pagekv: database already open")
	ErrDuplicateKey        = errors.New("pagekv: duplicate key")
	ErrInvalidParameter    = errors.New("pagekv: invalid parameter")

	errPageIDOverflow  = errors.New("pagekv: page id overflow")
	errNoAvailablePage = errors.New("pagekv: no available page")
)
