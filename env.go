package pagekv

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Environment is one open instance of the storage engine: one backing
// device (or none, for an in-memory environment), one page cache, one
// freelist, and a set of named databases sharing all three.
type Environment struct {
	id     uuid.UUID
	cfg    Config
	logger *zap.Logger

	dev   *device
	cache *Cache
	fl    *Freelist
	stat  *iStat

	// headerPage is the pinned page-0 header, kept resident for the life of
	// an on-disk environment; nil for an in-memory one. flHead/dirHead are
	// the pageIDs of the freelist's and database directory's persisted
	// chains, mirrored into the header on every writeHeader.
	headerPage *Page
	flHead     pageID
	dirHead    pageID

	mu sync.Mutex

	databases map[string]*Database
}

// Database is one named key/value namespace inside an Environment. It owns
// its own B+tree root and extended-key cache; the page cache and freelist
// are shared with every other database in the same Environment.
type Database struct {
	env       *Environment
	name      string
	cfg       DatabaseConfig
	root      pageID
	cmp       Comparator
	prefixCmp PrefixComparator
	extkeys   *extkeyCache
	stat      *iStat
}

func (e *Environment) inMemory() bool { return e.cfg.inMemory() }

// OpenEnvironment opens (or creates) the environment at cfg.Path, wiring
// the device layer, page cache, and freelist. For an on-disk environment it
// also reads or writes the page-0 header: a brand new file gets an empty
// header written on its first allocated page, landing it at offset 0; an
// existing file has its header, freelist extents, and database directory
// read back before OpenEnvironment returns, so every database created in a
// prior process is immediately visible to OpenDatabase.
func OpenEnvironment(cfg Config) (*Environment, error) {
	cfg = cfg.withDefaults()

	env := &Environment{
		id:        uuid.New(),
		cfg:       cfg,
		logger:    newLogger(cfg),
		databases: make(map[string]*Database),
		stat:      &iStat{},
	}

	if cfg.inMemory() {
		env.dev = &device{pageSize: cfg.PageSize}
	} else {
		dev, err := openDevice(cfg.Path, cfg.PageSize, cfg.useMmap(), cfg.Cipher)
		if err != nil {
			return nil, err
		}
		env.dev = dev
	}

	if !cfg.inMemory() {
		env.fl = newFreelist()
	}
	env.cache = newCache(env.dev, cfg.CacheSize, cfg.inMemory(), env.fl, env.stat)

	if !cfg.inMemory() {
		length, err := env.dev.length()
		if err != nil {
			return nil, err
		}
		if length == 0 {
			if err := env.initHeader(); err != nil {
				return nil, err
			}
		} else {
			if err := env.loadHeader(); err != nil {
				return nil, err
			}
		}
	}

	env.logger.Info("environment opened", zap.String("path", cfg.Path), zap.String("id", env.id.String()))
	return env, nil
}

// Close persists the freelist and database directory (for an on-disk
// environment), writes the final page-0 header, flushes every dirty page,
// and releases the device.
func (env *Environment) Close() error {
	env.mu.Lock()
	defer env.mu.Unlock()
	if !env.cfg.inMemory() {
		if err := env.persistFreelist(); err != nil {
			return err
		}
		if err := env.persistDatabaseDir(); err != nil {
			return err
		}
		if err := env.writeHeader(); err != nil {
			return err
		}
		env.headerPage.unpin()
	}
	if err := env.cache.flushAll(); err != nil {
		return err
	}
	if err := env.dev.sync(); err != nil {
		return err
	}
	return env.dev.close()
}

// Stat returns a point-in-time snapshot of the environment's counters.
func (env *Environment) Stat() ExportStat {
	return env.stat.export()
}

// CreateDatabase opens a fresh named database within env. The caller must
// not have already opened a database of that name in this process, or
// CreateDatabase fails with ErrDatabaseAlreadyOpen.
func (env *Environment) CreateDatabase(name string, cfg DatabaseConfig) (*Database, error) {
	env.mu.Lock()
	defer env.mu.Unlock()
	if _, exists := env.databases[name]; exists {
		return nil, ErrDatabaseAlreadyOpen
	}
	cfg = cfg.withDefaults()
	if env.cfg.Flags&UseHash != 0 {
		return nil, ErrInvalidParameter
	}

	db := &Database{env: env, name: name, cfg: cfg, cmp: env.cfg.Comparator, prefixCmp: env.cfg.PrefixComparator, stat: env.stat}
	if !env.cfg.inMemory() {
		db.extkeys = newExtkeyCache(uint64(env.cfg.CacheSize)*uint64(env.cfg.PageSize), env.stat)
	}

	rootPage, err := env.cache.alloc(db, PageTypeBRoot)
	if err != nil {
		return nil, err
	}
	if err := db.storeNode(rootPage, newLeafNode()); err != nil {
		return nil, err
	}
	db.root = rootPage.Self()

	env.databases[name] = db

	if !env.cfg.inMemory() {
		if err := env.persistDatabaseDir(); err != nil {
			return nil, err
		}
		if err := env.writeHeader(); err != nil {
			return nil, err
		}
	}

	return db, nil
}

// OpenDatabase returns a previously created database, either opened earlier
// in this process or recovered from the on-disk directory when this
// environment was opened (see OpenEnvironment). An in-memory environment
// keeps no directory beyond process lifetime, so only databases created
// earlier in this process are visible.
func (env *Environment) OpenDatabase(name string) (*Database, error) {
	env.mu.Lock()
	defer env.mu.Unlock()
	db, ok := env.databases[name]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return db, nil
}

// --- Database-level convenience operations (non-transactional) -----------

// Insert stores record under key, appending a duplicate if the key already
// exists and db.cfg.EnableDuplicates is set.
func (db *Database) Insert(key, record []byte) error {
	db.env.mu.Lock()
	defer db.env.mu.Unlock()
	return db.btreeInsert(key, record, insertOpts{allowDup: db.cfg.EnableDuplicates})
}

// Overwrite replaces every record currently stored under key with record,
// inserting it if key doesn't exist yet.
func (db *Database) Overwrite(key, record []byte) error {
	db.env.mu.Lock()
	defer db.env.mu.Unlock()
	return db.btreeInsert(key, record, insertOpts{overwrite: true})
}

// Find returns every record stored under key.
func (db *Database) Find(key []byte) ([][]byte, error) {
	db.env.mu.Lock()
	defer db.env.mu.Unlock()
	recs, found, err := db.btreeLookup(key)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrKeyNotFound
	}
	return recs, nil
}

// Erase removes key and every record stored under it.
func (db *Database) Erase(key []byte) error {
	db.env.mu.Lock()
	defer db.env.mu.Unlock()
	return db.btreeErase(key)
}

// EraseDuplicate removes only the duplicate at the given 1-based index
// under key. If it was the key's last duplicate, key is removed too.
func (db *Database) EraseDuplicate(key []byte, dupIndex int) error {
	db.env.mu.Lock()
	defer db.env.mu.Unlock()
	return db.btreeEraseDuplicate(key, dupIndex)
}

// NewCursor creates a cursor over db. If tx is non-nil, the cursor also
// observes tx's uncommitted ops merged with the btree's committed state.
func (db *Database) NewCursor(tx *Txn) *Cursor {
	return newCursor(db, tx)
}

// --- Export / Import -------------------------------------------------

// recordTag values for the Export/Import wire schema: length-prefixed,
// tag 1 = key/record pair, 2 = end of stream.
const (
	exportTagRecord = 1
	exportTagEnd    = 2
)

// Export writes every key in sorted order, with all of its duplicate
// records, to w using the length-prefixed tagged schema above. There is no
// bundled CLI to drive this; the method exists so one can be built against
// it.
func (db *Database) Export(w io.Writer) error {
	db.env.mu.Lock()
	defer db.env.mu.Unlock()

	bw := bufio.NewWriter(w)
	path, err := db.btreeFirst()
	if err != nil {
		return err
	}
	for {
		// erase never merges leaves, so an emptied leaf is stepped over
		if len(path[len(path)-1].node.keys) > 0 {
			key, err := db.keyAt(path)
			if err != nil {
				return err
			}
			recs, err := db.recordsAt(path)
			if err != nil {
				return err
			}
			for _, rec := range recs {
				if err := writeExportRecord(bw, key, rec); err != nil {
					return err
				}
			}
		}
		var ok bool
		path, ok, err = db.btreeNext(path)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
	}
	if err := binary.Write(bw, binary.LittleEndian, uint8(exportTagEnd)); err != nil {
		return err
	}
	return bw.Flush()
}

func writeExportRecord(w *bufio.Writer, key, record []byte) error {
	if err := binary.Write(w, binary.LittleEndian, uint8(exportTagRecord)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(key))); err != nil {
		return err
	}
	if _, err := w.Write(key); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(record))); err != nil {
		return err
	}
	_, err := w.Write(record)
	return err
}

// Import reads records written by Export and inserts them, preserving
// duplicates.
func (db *Database) Import(r io.Reader) error {
	db.env.mu.Lock()
	defer db.env.mu.Unlock()

	br := bufio.NewReader(r)
	for {
		var tag uint8
		if err := binary.Read(br, binary.LittleEndian, &tag); err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		if tag == exportTagEnd {
			return nil
		}
		if tag != exportTagRecord {
			return fmt.Errorf("pagekv: import: unknown record tag %d", tag)
		}
		var klen, rlen uint32
		if err := binary.Read(br, binary.LittleEndian, &klen); err != nil {
			return err
		}
		key := make([]byte, klen)
		if _, err := io.ReadFull(br, key); err != nil {
			return err
		}
		if err := binary.Read(br, binary.LittleEndian, &rlen); err != nil {
			return err
		}
		record := make([]byte, rlen)
		if _, err := io.ReadFull(br, record); err != nil {
			return err
		}
		if err := db.btreeInsert(key, record, insertOpts{allowDup: true}); err != nil {
			return err
		}
	}
}
