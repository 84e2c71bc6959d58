package pagekv

import (
	"encoding/binary"
	"fmt"
)

// header.go persists the page-0 environment header: a fixed-size magic/
// version/page-size/freelist-root/directory-root record, plus the two
// variable-length chains it points at (the freelist's free-extent list and
// the database directory), written through the same chain primitives
// blob.go uses for oversized records. A fresh on-disk environment writes
// this page on its very first allocation, landing it at offset 0; reopening
// one reads it back before any database handle is returned, so a restart
// recovers every database's root page and every free extent instead of
// starting the freelist empty and the directory blank.

const (
	envHeaderMagic     = 0x706b6b76 // "pkkv"
	envHeaderVersion   = 1
	envHeaderPageID    = pageID(0)
	envHeaderFixedSize = 28
)

type envHeader struct {
	magic        uint32
	version      uint32
	pageSize     uint32
	freelistHead pageID
	dirHead      pageID
}

func encodeEnvHeader(h envHeader) []byte {
	buf := make([]byte, envHeaderFixedSize)
	binary.LittleEndian.PutUint32(buf[0:4], h.magic)
	binary.LittleEndian.PutUint32(buf[4:8], h.version)
	binary.LittleEndian.PutUint32(buf[8:12], h.pageSize)
	binary.LittleEndian.PutUint64(buf[12:20], uint64(h.freelistHead))
	binary.LittleEndian.PutUint64(buf[20:28], uint64(h.dirHead))
	return buf
}

func decodeEnvHeader(buf []byte) (envHeader, error) {
	if len(buf) < envHeaderFixedSize {
		return envHeader{}, fmt.Errorf("pagekv: environment header: truncated")
	}
	h := envHeader{
		magic:        binary.LittleEndian.Uint32(buf[0:4]),
		version:      binary.LittleEndian.Uint32(buf[4:8]),
		pageSize:     binary.LittleEndian.Uint32(buf[8:12]),
		freelistHead: pageID(binary.LittleEndian.Uint64(buf[12:20])),
		dirHead:      pageID(binary.LittleEndian.Uint64(buf[20:28])),
	}
	if h.magic != envHeaderMagic {
		return envHeader{}, fmt.Errorf("pagekv: environment header: bad magic %#x", h.magic)
	}
	if h.version != envHeaderVersion {
		return envHeader{}, fmt.Errorf("pagekv: environment header: unsupported version %d", h.version)
	}
	return h, nil
}

// dbDirEntry is one database directory record: enough of a Database's
// config and root page to reconstruct its handle on reopen.
type dbDirEntry struct {
	name             string
	root             pageID
	keySize          uint32
	recordInlineSize uint32
	enableDuplicates bool
}

func encodeDbDir(entries []dbDirEntry) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, uint32(len(entries)))
	for _, e := range entries {
		var fixed [21]byte
		binary.LittleEndian.PutUint32(fixed[0:4], uint32(len(e.name)))
		binary.LittleEndian.PutUint64(fixed[4:12], uint64(e.root))
		binary.LittleEndian.PutUint32(fixed[12:16], e.keySize)
		binary.LittleEndian.PutUint32(fixed[16:20], e.recordInlineSize)
		if e.enableDuplicates {
			fixed[20] = 1
		}
		buf = append(buf, fixed[:]...)
		buf = append(buf, e.name...)
	}
	return buf
}

func decodeDbDir(data []byte) ([]dbDirEntry, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("pagekv: database directory: truncated count")
	}
	n := binary.LittleEndian.Uint32(data)
	data = data[4:]
	out := make([]dbDirEntry, 0, n)
	for i := uint32(0); i < n; i++ {
		if len(data) < 21 {
			return nil, fmt.Errorf("pagekv: database directory: truncated entry")
		}
		nameLen := binary.LittleEndian.Uint32(data[0:4])
		e := dbDirEntry{
			root:             pageID(binary.LittleEndian.Uint64(data[4:12])),
			keySize:          binary.LittleEndian.Uint32(data[12:16]),
			recordInlineSize: binary.LittleEndian.Uint32(data[16:20]),
			enableDuplicates: data[20] != 0,
		}
		data = data[21:]
		if uint32(len(data)) < nameLen {
			return nil, fmt.Errorf("pagekv: database directory: truncated name")
		}
		e.name = string(data[:nameLen])
		data = data[nameLen:]
		out = append(out, e)
	}
	return out, nil
}

// initHeader writes a fresh, empty page-0 header for a brand new on-disk
// environment. It must run before anything else allocates a page, so the
// header lands at offset 0.
func (env *Environment) initHeader() error {
	p, err := env.cache.allocFresh(nil, PageTypeHeader)
	if err != nil {
		return err
	}
	if p.Self() != envHeaderPageID {
		return fmt.Errorf("pagekv: environment header did not land at page 0 (got %s)", p.Self())
	}
	env.headerPage = p
	env.headerPage.pin()
	return env.writeHeader()
}

// loadHeader reads the page-0 header of an existing on-disk environment,
// restoring the freelist's free extents and re-registering every database
// named in the directory.
func (env *Environment) loadHeader() error {
	p, err := env.cache.fetch(envHeaderPageID, nil, fetchOpts{})
	if err != nil {
		return err
	}
	_, payload, err := readChainPage(p.Buffer())
	if err != nil {
		return err
	}
	h, err := decodeEnvHeader(payload)
	if err != nil {
		return err
	}
	if h.pageSize != env.cfg.PageSize {
		return fmt.Errorf("pagekv: environment header page size %d does not match configured %d", h.pageSize, env.cfg.PageSize)
	}
	env.headerPage = p
	env.headerPage.pin()
	env.flHead = h.freelistHead
	env.dirHead = h.dirHead

	if h.freelistHead != 0 {
		raw, err := readChain(env, nil, h.freelistHead)
		if err != nil {
			return err
		}
		extents, err := decodeFreelistExtents(raw)
		if err != nil {
			return err
		}
		env.fl.restoreExtents(extents)
	}

	if h.dirHead != 0 {
		raw, err := readChain(env, nil, h.dirHead)
		if err != nil {
			return err
		}
		entries, err := decodeDbDir(raw)
		if err != nil {
			return err
		}
		for _, e := range entries {
			db := env.newDatabaseFromDir(e)
			env.databases[e.name] = db
		}
	}
	return nil
}

// newDatabaseFromDir builds a Database handle for an entry recovered from
// the on-disk directory, mirroring CreateDatabase's construction minus the
// fresh-root-page allocation.
func (env *Environment) newDatabaseFromDir(e dbDirEntry) *Database {
	db := &Database{
		env:  env,
		name: e.name,
		cfg: DatabaseConfig{
			KeySize:          int(e.keySize),
			RecordInlineSize: int(e.recordInlineSize),
			EnableDuplicates: e.enableDuplicates,
		},
		root:      e.root,
		cmp:       env.cfg.Comparator,
		prefixCmp: env.cfg.PrefixComparator,
		stat:      env.stat,
	}
	db.extkeys = newExtkeyCache(uint64(env.cfg.CacheSize)*uint64(env.cfg.PageSize), env.stat)
	return db
}

// writeHeader re-encodes and rewrites the page-0 header in place from
// env.flHead/env.dirHead. It does not persist the freelist or directory
// chains themselves — call persistFreelist/persistDatabaseDir first.
func (env *Environment) writeHeader() error {
	h := envHeader{
		magic:        envHeaderMagic,
		version:      envHeaderVersion,
		pageSize:     env.cfg.PageSize,
		freelistHead: env.flHead,
		dirHead:      env.dirHead,
	}
	writeChainPage(env.headerPage, 0, encodeEnvHeader(h))
	env.headerPage.MarkDirty()
	return nil
}

// persistFreelist snapshots the freelist's current extents, replaces its
// persisted chain with a fresh one, and updates env.flHead. The snapshot is
// taken before any page is freed or allocated for the new chain, so the
// extents it describes are never invalidated by the act of persisting them.
func (env *Environment) persistFreelist() error {
	snapshot := env.fl.snapshot()
	oldHead := env.flHead
	newHead, err := writeChainFresh(env, nil, PageTypeFreelist, encodeFreelistExtents(snapshot))
	if err != nil {
		return err
	}
	env.flHead = newHead
	if oldHead != 0 {
		if err := freeChain(env, nil, oldHead); err != nil {
			return err
		}
	}
	return nil
}

// persistDatabaseDir replaces the on-disk database directory chain with one
// describing every currently open database, and updates env.dirHead.
func (env *Environment) persistDatabaseDir() error {
	entries := make([]dbDirEntry, 0, len(env.databases))
	for name, db := range env.databases {
		entries = append(entries, dbDirEntry{
			name:             name,
			root:             db.root,
			keySize:          uint32(db.cfg.KeySize),
			recordInlineSize: uint32(db.cfg.RecordInlineSize),
			enableDuplicates: db.cfg.EnableDuplicates,
		})
	}
	oldHead := env.dirHead
	newHead, err := writeChainFresh(env, nil, PageTypeHeader, encodeDbDir(entries))
	if err != nil {
		return err
	}
	env.dirHead = newHead
	if oldHead != 0 {
		if err := freeChain(env, nil, oldHead); err != nil {
			return err
		}
	}
	return nil
}
