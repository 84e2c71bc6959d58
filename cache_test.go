package pagekv

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestDevice(t *testing.T) *device {
	t.Helper()
	dir := t.TempDir()
	dev, err := openDevice(filepath.Join(dir, "test.db"), 256, false, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = dev.close() })
	return dev
}

func TestCacheAllocExtendsFileWhenFreelistEmpty(t *testing.T) {
	dev := newTestDevice(t)
	fl := newFreelist()
	stat := &iStat{}
	c := newCache(dev, 16, false, fl, stat)

	p1, err := c.alloc(nil, PageTypeBIndex)
	require.NoError(t, err)
	p2, err := c.alloc(nil, PageTypeBIndex)
	require.NoError(t, err)
	require.NotEqual(t, p1.Self(), p2.Self())
	require.EqualValues(t, 2, stat.export().FreelistMis)
}

func TestCacheAllocReusesFreelistExtent(t *testing.T) {
	dev := newTestDevice(t)
	fl := newFreelist()
	stat := &iStat{}
	c := newCache(dev, 16, false, fl, stat)

	p1, err := c.alloc(nil, PageTypeBIndex)
	require.NoError(t, err)
	offset := p1.Self()
	require.NoError(t, c.free(p1))

	p2, err := c.alloc(nil, PageTypeBIndex)
	require.NoError(t, err)
	require.Equal(t, offset, p2.Self())
	require.EqualValues(t, 1, stat.export().FreelistHit)
}

func TestCacheFetchHitsResidentPage(t *testing.T) {
	dev := newTestDevice(t)
	c := newCache(dev, 16, false, nil, &iStat{})

	p, err := c.alloc(nil, PageTypeBIndex)
	require.NoError(t, err)
	id := p.Self()

	got, err := c.fetch(id, nil, fetchOpts{})
	require.NoError(t, err)
	require.Same(t, p, got)
}

func TestCacheFetchOnlyFromCacheMissFails(t *testing.T) {
	dev := newTestDevice(t)
	c := newCache(dev, 16, false, nil, &iStat{})

	_, err := c.fetch(pageID(dev.pageSize)*5, nil, fetchOpts{OnlyFromCache: true})
	require.ErrorIs(t, err, ErrCacheFull)
}

func TestCacheEvictsColdestUnpinnedPage(t *testing.T) {
	dev := newTestDevice(t)
	c := newCache(dev, 2, false, nil, &iStat{})

	p1, err := c.alloc(nil, PageTypeBIndex)
	require.NoError(t, err)
	_, err = c.alloc(nil, PageTypeBIndex)
	require.NoError(t, err)

	// both slots full; alloc a third page, which must evict p1 (the coldest).
	_, err = c.alloc(nil, PageTypeBIndex)
	require.NoError(t, err)

	require.Len(t, c.pages, 2)
	_, stillResident := c.pages[p1.Self()]
	require.False(t, stillResident)
}

func TestCacheEvictFailsWhenAllPagesPinned(t *testing.T) {
	dev := newTestDevice(t)
	c := newCache(dev, 1, false, nil, &iStat{})

	p, err := c.alloc(nil, PageTypeBIndex)
	require.NoError(t, err)
	p.pin()

	_, err = c.alloc(nil, PageTypeBIndex)
	require.ErrorIs(t, err, ErrCacheFull)
}

func TestCacheInMemoryNeverDirties(t *testing.T) {
	c := newCache(&device{pageSize: 256}, 16, true, nil, &iStat{})
	p, err := c.alloc(nil, PageTypeBIndex)
	require.NoError(t, err)
	require.False(t, p.Dirty())
}

func TestCacheFreeOfPinnedPageFails(t *testing.T) {
	dev := newTestDevice(t)
	c := newCache(dev, 16, false, nil, &iStat{})
	p, err := c.alloc(nil, PageTypeBIndex)
	require.NoError(t, err)
	p.pin()
	require.Error(t, c.free(p))
}
