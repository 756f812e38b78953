package registry

import (
	"encoding/binary"
)

const (
	// baseBlockSize is the size of the regf header; hive bins start right after it
	baseBlockSize = 0x1000

	// noCell marks an absent list or cell reference
	noCell = 0xFFFFFFFF

	// bigDataSegmentSize is the payload carried by each db segment
	bigDataSegmentSize = 16344
)

// cellReader reads little-endian fields from one cell payload. The first
// out-of-bounds read is recorded and every later read returns zero, so a
// decoder can read all of its fields and check err once.
type cellReader struct {
	buf    []byte
	offset uint32
	err    error
}

func (r *cellReader) check(at, n int) bool {
	if r.err != nil {
		return false
	}
	if at < 0 || n < 0 || at+n > len(r.buf) {
		r.err = decodeErrorf("cell 0x%x: read of %d bytes at +0x%x exceeds payload of %d bytes", r.offset, n, at, len(r.buf))
		return false
	}
	return true
}

func (r *cellReader) u16(at int) uint16 {
	if !r.check(at, 2) {
		return 0
	}
	return binary.LittleEndian.Uint16(r.buf[at:])
}

func (r *cellReader) u32(at int) uint32 {
	if !r.check(at, 4) {
		return 0
	}
	return binary.LittleEndian.Uint32(r.buf[at:])
}

func (r *cellReader) u64(at int) uint64 {
	if !r.check(at, 8) {
		return 0
	}
	return binary.LittleEndian.Uint64(r.buf[at:])
}

func (r *cellReader) bytes(at, n int) []byte {
	if !r.check(at, n) {
		return nil
	}
	return r.buf[at : at+n]
}

func (r *cellReader) signature() string {
	if len(r.buf) < 2 {
		return ""
	}
	return string(r.buf[:2])
}

// cell returns the payload of the cell at offset (relative to the first hive bin).
func (h *Hive) cell(offset uint32) (*cellReader, error) {
	if offset == noCell {
		return nil, decodeErrorf("reference to absent cell")
	}
	abs := int64(baseBlockSize) + int64(offset)
	if abs+4 > int64(len(h.data)) {
		return nil, decodeErrorf("cell 0x%x lies outside the hive (%d bytes)", offset, len(h.data))
	}
	size := int64(int32(binary.LittleEndian.Uint32(h.data[abs:])))
	if size < 0 {
		size = -size
	}
	if size < 4 || abs+size > int64(len(h.data)) {
		return nil, decodeErrorf("cell 0x%x has invalid size %d", offset, size)
	}
	return &cellReader{buf: h.data[abs+4 : abs+size], offset: offset}, nil
}

// signedCell returns the cell at offset after checking its two-byte signature.
func (h *Hive) signedCell(offset uint32, sigs ...string) (*cellReader, error) {
	c, err := h.cell(offset)
	if err != nil {
		return nil, err
	}
	got := c.signature()
	for _, s := range sigs {
		if got == s {
			return c, nil
		}
	}
	return nil, decodeErrorf("cell 0x%x: signature %q, want one of %v", offset, got, sigs)
}
