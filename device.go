package pagekv

import (
	"fmt"
	"os"

	"github.com/pagekv/pagekv/internal/sys"
)

// device is the raw byte-addressed I/O layer: positional read, positional
// write, truncate, map, unmap. An in-memory environment gets a device with
// no backing file, used only for its page size; Cache mints synthetic page
// ids and keeps buffers off any backing file instead.
type device struct {
	file     *os.File
	path     string
	pageSize uint32
	useMmap  bool
	mapped   []byte
	cipher   Cipher
}

func openDevice(path string, pageSize uint32, useMmap bool, cipher Cipher) (*device, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("pagekv: open device %q: %w", path, err)
	}
	d := &device{file: f, path: path, pageSize: pageSize, useMmap: useMmap, cipher: cipher}
	if useMmap {
		stat, err := f.Stat()
		if err != nil {
			return nil, fmt.Errorf("pagekv: stat device %q: %w", path, err)
		}
		if stat.Size() > 0 {
			d.mapped, err = sys.MMap(f, uint64(stat.Size()))
			if err != nil {
				return nil, fmt.Errorf("pagekv: mmap device %q: %w", path, err)
			}
		}
	}
	return d, nil
}

func (d *device) close() error {
	if d.file == nil {
		return nil
	}
	if d.mapped != nil {
		if err := sys.MUnmap(d.file, d.mapped); err != nil {
			return fmt.Errorf("pagekv: munmap: %w", err)
		}
		d.mapped = nil
	}
	if err := d.file.Close(); err != nil {
		return fmt.Errorf("pagekv: close device: %w", err)
	}
	return nil
}

// length returns the current file size in bytes.
func (d *device) length() (int64, error) {
	stat, err := d.file.Stat()
	if err != nil {
		return 0, fmt.Errorf("pagekv: stat device: %w", err)
	}
	return stat.Size(), nil
}

// truncate extends (or shrinks) the backing file to newSize bytes, and, in
// mmap mode, remaps it.
func (d *device) truncate(newSize int64) error {
	if err := d.file.Truncate(newSize); err != nil {
		return fmt.Errorf("pagekv: truncate device: %w", err)
	}
	if d.useMmap {
		var err error
		if d.mapped == nil {
			d.mapped, err = sys.MMap(d.file, uint64(newSize))
		} else {
			d.mapped, err = sys.Remap(d.file, uint64(newSize), d.mapped)
		}
		if err != nil {
			return fmt.Errorf("pagekv: remap device: %w", err)
		}
	}
	return nil
}

// readAt reads one page's worth of bytes at the given offset into buf.
func (d *device) readAt(offset int64, buf []byte) error {
	if d.useMmap {
		if offset < 0 || int(offset)+len(buf) > len(d.mapped) {
			return fmt.Errorf("pagekv: read offset %d out of mapped range", offset)
		}
		copy(buf, d.mapped[offset:offset+int64(len(buf))])
		if d.cipher != nil {
			return d.cipher.Decrypt(buf)
		}
		return nil
	}
	n, err := d.file.ReadAt(buf, offset)
	if err != nil {
		return fmt.Errorf("pagekv: read device at %d: %w", offset, err)
	}
	if n != len(buf) {
		return fmt.Errorf("pagekv: short read at %d: got %d want %d", offset, n, len(buf))
	}
	if d.cipher != nil {
		return d.cipher.Decrypt(buf)
	}
	return nil
}

// writeAt writes buf to the given offset.
func (d *device) writeAt(offset int64, buf []byte) error {
	out := buf
	if d.cipher != nil {
		ciphertext, err := d.cipher.Encrypt(buf)
		if err != nil {
			return fmt.Errorf("pagekv: encrypt page: %w", err)
		}
		defer d.cipher.Release(ciphertext)
		out = ciphertext
	}
	if d.useMmap {
		if offset < 0 || int(offset)+len(out) > len(d.mapped) {
			return fmt.Errorf("pagekv: write offset %d out of mapped range", offset)
		}
		copy(d.mapped[offset:offset+int64(len(out))], out)
		return nil
	}
	n, err := d.file.WriteAt(out, offset)
	if err != nil {
		return fmt.Errorf("pagekv: write device at %d: %w", offset, err)
	}
	if n != len(out) {
		return fmt.Errorf("pagekv: short write at %d: wrote %d want %d", offset, n, len(out))
	}
	return nil
}

// extendByOnePage grows the file by exactly one page and returns the byte
// offset of the new page: capture the current length, then extend the file
// by one page via truncate.
func (d *device) extendByOnePage() (pageID, error) {
	cur, err := d.length()
	if err != nil {
		return 0, err
	}
	if err := d.truncate(cur + int64(d.pageSize)); err != nil {
		return 0, err
	}
	return pageID(cur), nil
}

func (d *device) sync() error {
	if d.file == nil || d.useMmap {
		return nil
	}
	if err := d.file.Sync(); err != nil {
		return fmt.Errorf("pagekv: sync device: %w", err)
	}
	return nil
}
