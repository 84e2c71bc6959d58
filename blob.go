package pagekv

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/cespare/xxhash/v2"
)

// blob.go stores byte strings too large to fit inline in a B-tree node —
// extended key suffixes and oversized records — as a chain of pages linked
// by a next-page pointer (a B-tree node, by contrast, always fits in one
// page). writeChain/readChain/freeChain
// are the underlying chain primitives; header.go's environment header and
// freelist snapshot reuse them to persist their own variable-length state
// across one or more pages. Callers that re-read the same blob often
// (extended keys) should keep the decoded bytes in extkey.go's cache
// instead of re-walking this chain on every comparison.

// blobChainHeaderSize accounts for an 8-byte xxhash checksum over the rest
// of the page, an 8-byte next-page pointer, a 4-byte payload length, and 4
// bytes reserved.
const blobChainHeaderSize = 24

func writeChain(env *Environment, owner *Database, typ PageType, data []byte) (pageID, error) {
	return writeChainOpts(env, owner, typ, data, false)
}

// writeChainFresh is writeChain with allocation forced to bypass the
// freelist — see Cache.allocFresh for why the header and freelist's own
// persisted chain need this.
func writeChainFresh(env *Environment, owner *Database, typ PageType, data []byte) (pageID, error) {
	return writeChainOpts(env, owner, typ, data, true)
}

func writeChainOpts(env *Environment, owner *Database, typ PageType, data []byte, fresh bool) (pageID, error) {
	allocFn := env.cache.alloc
	if fresh {
		allocFn = env.cache.allocFresh
	}
	chunkCap := int(env.dev.pageSize) - blobChainHeaderSize
	if chunkCap <= 0 {
		return 0, ErrInvalidParameter
	}
	var pages []*Page
	for off := 0; off < len(data); off += chunkCap {
		p, err := allocFn(owner, typ)
		if err != nil {
			for _, prev := range pages {
				_ = env.cache.free(prev)
			}
			return 0, err
		}
		pages = append(pages, p)
	}
	if len(pages) == 0 {
		// zero-length blob still needs a page so there's something to free.
		p, err := allocFn(owner, typ)
		if err != nil {
			return 0, err
		}
		pages = append(pages, p)
	}
	for i, p := range pages {
		off := i * chunkCap
		end := off + chunkCap
		if end > len(data) {
			end = len(data)
		}
		var next pageID
		if i+1 < len(pages) {
			next = pages[i+1].Self()
		}
		writeChainPage(p, next, data[off:end])
		if !env.inMemory() {
			p.MarkDirty()
		}
	}
	return pages[0].Self(), nil
}

// writeChainPage lays out one page of a chain: an 8-byte checksum over
// everything that follows it, then next-page pointer, payload length,
// reserved, and the payload itself. The checksum covers the whole
// fixed-size page (payload plus zero padding), since the page is always
// cleared before the payload is copied in, so encoding the same logical
// content always reproduces the same bytes.
func writeChainPage(p *Page, next pageID, payload []byte) {
	buf := p.Buffer()
	clear(buf)
	var body bytes.Buffer
	binary.Write(&body, binary.LittleEndian, uint64(next))
	binary.Write(&body, binary.LittleEndian, uint32(len(payload)))
	binary.Write(&body, binary.LittleEndian, uint32(0))
	body.Write(payload)
	copy(buf[8:], body.Bytes())
	sum := xxhash.Sum64(buf[8:])
	binary.LittleEndian.PutUint64(buf[0:8], sum)
}

// readChainPage reads one page written by writeChainPage, verifying its
// checksum first.
func readChainPage(buf []byte) (next pageID, payload []byte, err error) {
	if len(buf) < blobChainHeaderSize {
		return 0, nil, fmt.Errorf("pagekv: chain page too small for header")
	}
	stored := binary.LittleEndian.Uint64(buf[0:8])
	actual := xxhash.Sum64(buf[8:])
	if stored != actual {
		return 0, nil, fmt.Errorf("pagekv: chain page checksum mismatch")
	}
	r := bytes.NewReader(buf[8:])
	var n uint64
	var length uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return 0, nil, err
	}
	if err := binary.Read(r, binary.LittleEndian, &length); err != nil {
		return 0, nil, err
	}
	if _, err := r.Seek(4, 1); err != nil { // skip reserved
		return 0, nil, err
	}
	payload = make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, err
	}
	return pageID(n), payload, nil
}

func readChain(env *Environment, owner *Database, id pageID) ([]byte, error) {
	var out []byte
	for id != 0 {
		p, err := env.cache.fetch(id, owner, fetchOpts{})
		if err != nil {
			return nil, err
		}
		next, payload, err := readChainPage(p.Buffer())
		if err != nil {
			return nil, err
		}
		out = append(out, payload...)
		id = next
	}
	return out, nil
}

func freeChain(env *Environment, owner *Database, id pageID) error {
	for id != 0 {
		p, err := env.cache.fetch(id, owner, fetchOpts{})
		if err != nil {
			return err
		}
		next, _, err := readChainPage(p.Buffer())
		if err != nil {
			return err
		}
		if err := env.cache.free(p); err != nil {
			return err
		}
		id = next
	}
	return nil
}

func blobWrite(db *Database, data []byte) (pageID, error) {
	return writeChain(db.env, db, PageTypeBlob, data)
}

func blobRead(db *Database, id pageID) ([]byte, error) {
	return readChain(db.env, db, id)
}

func blobFree(db *Database, id pageID) error {
	return freeChain(db.env, db, id)
}
