package pagekv

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPageBufferPanicsAfterRelease(t *testing.T) {
	p := &Page{self: 1, buf: []byte{1, 2, 3}}
	require.NotPanics(t, func() { p.Buffer() })
	p.buf = nil
	require.Panics(t, func() { p.Buffer() })
}

func TestPageMarkDirtyPanicsForInMemoryOwner(t *testing.T) {
	env := &Environment{cfg: Config{Flags: InMemoryDB}}
	db := &Database{env: env}
	p := &Page{self: 1, buf: []byte{0}, owner: db}
	require.Panics(t, func() { p.MarkDirty() })
}

func TestPageMarkDirtyOkForOnDiskOwner(t *testing.T) {
	env := &Environment{cfg: Config{}}
	db := &Database{env: env}
	p := &Page{self: 1, buf: []byte{0}, owner: db}
	require.NotPanics(t, func() { p.MarkDirty() })
	require.True(t, p.Dirty())
}

func TestPagePinUnpin(t *testing.T) {
	p := &Page{self: 1, buf: []byte{0}}
	require.False(t, p.pinned())
	p.pin()
	require.True(t, p.pinned())
	p.pin()
	p.unpin()
	require.True(t, p.pinned())
	p.unpin()
	require.False(t, p.pinned())
}

type fakeCursor struct {
	evicted bool
}

func (f *fakeCursor) onPageEvicted(*Page) { f.evicted = true }

func TestPageAttachDetachNotifyCursor(t *testing.T) {
	p := &Page{self: 1, buf: []byte{0}}
	c := &fakeCursor{}
	p.attachCursor(c)
	p.attachCursor(c) // idempotent
	require.Len(t, p.cursors, 1)

	p.notifyEvicted()
	require.True(t, c.evicted)
	require.Nil(t, p.cursors)
}

func TestPageDetachCursorRemovesOnlyThatOne(t *testing.T) {
	p := &Page{self: 1, buf: []byte{0}}
	a, b := &fakeCursor{}, &fakeCursor{}
	p.attachCursor(a)
	p.attachCursor(b)
	p.detachCursor(a)
	require.Len(t, p.cursors, 1)
	require.Same(t, b, p.cursors[0].cursor.(*fakeCursor))
}
