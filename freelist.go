package pagekv

import (
	"cmp"
	"encoding/binary"
	"fmt"

	cmap "github.com/zbh255/gocode/container/map"
)

// Freelist tracks reusable page-offset extents behind an opaque
// allocArea(size)/addArea(offset,size) surface. It is backed by a binary
// min-heap of (offset, size) extents ordered by offset, so adjacent freed
// regions can be coalesced on insertion.
//
// The ordered index used for coalescing is a BTreeMap from
// github.com/zbh255/gocode.
type Freelist struct {
	heap  []freeExtent
	index *cmap.BTreeMap[uint64, int] // offset -> index into heap, for coalescing lookups
}

type freeExtent struct {
	offset uint64
	size   uint64
}

func newFreelist() *Freelist {
	return &Freelist{
		index: cmap.NewBtreeMap[uint64, int](32),
	}
}

// removedIdx marks a BTreeMap slot whose extent has left the heap. This
// BTreeMap only offers Store/Load/Range, no delete, so removal is a
// tombstone write rather than an actual key removal.
const removedIdx = -1

// allocArea removes and returns the smallest-offset free extent whose size
// is at least want, splitting off any remainder back onto the heap. ok is
// false if no extent is large enough, and the caller falls back to
// extending the file.
func (f *Freelist) allocArea(want uint64) (offset uint64, ok bool, err error) {
	best := -1
	for i, e := range f.heap {
		if e.size >= want && (best < 0 || e.offset < f.heap[best].offset) {
			best = i
		}
	}
	if best < 0 {
		return 0, false, nil
	}
	e := f.heap[best]
	f.removeAt(best)
	if e.size > want {
		if err := f.addArea(e.offset+want, e.size-want); err != nil {
			return 0, false, err
		}
	}
	return e.offset, true, nil
}

// addArea returns a freed extent to the list, coalescing with an
// immediately following extent already recorded at offset+size, if any.
func (f *Freelist) addArea(offset uint64, size uint64) error {
	if idx, found := f.index.LoadOk(offset + size); found && idx != removedIdx {
		if idx < 0 || idx >= len(f.heap) {
			return fmt.Errorf("pagekv: freelist index corruption at offset %d", offset+size)
		}
		size += f.heap[idx].size
		f.removeAt(idx)
	}
	f.push(freeExtent{offset: offset, size: size})
	return nil
}

func (f *Freelist) push(e freeExtent) {
	f.heap = append(f.heap, e)
	f.index.StoreOk(e.offset, len(f.heap)-1)
	f.siftUp(len(f.heap) - 1)
}

// removeAt deletes the extent at heap index i, moving the last element into
// its place and re-heapifying.
func (f *Freelist) removeAt(i int) {
	last := len(f.heap) - 1
	f.index.StoreOk(f.heap[i].offset, removedIdx)
	if i == last {
		f.heap = f.heap[:last]
		return
	}
	f.heap[i] = f.heap[last]
	f.heap = f.heap[:last]
	f.index.StoreOk(f.heap[i].offset, i)
	f.siftDown(i)
	f.siftUp(i)
}

func (f *Freelist) siftUp(i int) {
	for i > 0 {
		parent := (i - 1) / 2
		if !cmp.Less(f.heap[i].offset, f.heap[parent].offset) {
			return
		}
		f.swap(i, parent)
		i = parent
	}
}

func (f *Freelist) siftDown(i int) {
	n := len(f.heap)
	for {
		left, right := i*2+1, i*2+2
		smallest := i
		if left < n && cmp.Less(f.heap[left].offset, f.heap[smallest].offset) {
			smallest = left
		}
		if right < n && cmp.Less(f.heap[right].offset, f.heap[smallest].offset) {
			smallest = right
		}
		if smallest == i {
			return
		}
		f.swap(i, smallest)
		i = smallest
	}
}

func (f *Freelist) swap(i, j int) {
	f.heap[i], f.heap[j] = f.heap[j], f.heap[i]
	f.index.StoreOk(f.heap[i].offset, i)
	f.index.StoreOk(f.heap[j].offset, j)
}

// snapshot returns every extent currently on the heap, in no particular
// order, for header.go to persist across a close/reopen.
func (f *Freelist) snapshot() []freeExtent {
	out := make([]freeExtent, len(f.heap))
	copy(out, f.heap)
	return out
}

// encodeFreelistExtents serializes extents as a count followed by
// offset/size pairs, for storage in the page-0 header's freelist chain.
func encodeFreelistExtents(extents []freeExtent) []byte {
	buf := make([]byte, 4, 4+len(extents)*16)
	binary.LittleEndian.PutUint32(buf, uint32(len(extents)))
	for _, e := range extents {
		var tmp [16]byte
		binary.LittleEndian.PutUint64(tmp[0:8], e.offset)
		binary.LittleEndian.PutUint64(tmp[8:16], e.size)
		buf = append(buf, tmp[:]...)
	}
	return buf
}

// decodeFreelistExtents reverses encodeFreelistExtents.
func decodeFreelistExtents(data []byte) ([]freeExtent, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("pagekv: freelist extents: truncated count")
	}
	n := binary.LittleEndian.Uint32(data)
	data = data[4:]
	if len(data) < int(n)*16 {
		return nil, fmt.Errorf("pagekv: freelist extents: truncated body")
	}
	out := make([]freeExtent, n)
	for i := range out {
		chunk := data[i*16 : i*16+16]
		out[i] = freeExtent{
			offset: binary.LittleEndian.Uint64(chunk[0:8]),
			size:   binary.LittleEndian.Uint64(chunk[8:16]),
		}
	}
	return out, nil
}

// restoreExtents repopulates the freelist from a snapshot taken by a prior
// process, bypassing addArea's coalescing (the extents were already
// coalesced when they were snapshotted).
func (f *Freelist) restoreExtents(extents []freeExtent) {
	for _, e := range extents {
		f.push(e)
	}
}
