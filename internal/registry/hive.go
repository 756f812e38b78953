// Package registry decodes offline Windows registry hives (regf files) and
// provides a cached, multi-hive lookup layer on top of them.
package registry

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"strings"
	"time"
)

const (
	// MinHiveSize is the smallest buffer accepted as a hive header
	MinHiveSize = 512

	// checksumLength covers the header bytes XORed into the checksum field
	checksumLength = 0x1FC

	keyCompressedName   = 0x0020
	valueCompressedName = 0x0001
	dataInline          = 0x80000000
)

var regfMagic = []byte("regf")

// Header is the decoded regf base block.
type Header struct {
	Signature      [4]byte
	Sequence1      uint32
	Sequence2      uint32
	Timestamp      uint64
	MajorVersion   uint32
	MinorVersion   uint32
	FileType       uint32
	Format         uint32
	RootCellOffset uint32
	Length         uint32
	FileName       string
	Checksum       uint32
}

// Hive is a fully loaded, read-only registry hive.
type Hive struct {
	data   []byte
	header Header
}

// Key is one decoded key (nk) cell. It is a plain value; keys resolved twice
// from the same hive compare equal.
type Key struct {
	Offset      uint32
	Name        string
	Flags       uint16
	LastWrite   uint64
	Parent      uint32
	SubkeyCount uint32
	ValueCount  uint32

	subkeyList  uint32
	valueList   uint32
	classOffset uint32
	classLength uint16
}

// LastWriteTime converts the key's FILETIME to UTC.
func (k Key) LastWriteTime() time.Time {
	return FiletimeToTime(k.LastWrite)
}

// Open reads the whole hive from r.
func Open(r io.Reader) (*Hive, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read hive: %w", err)
	}
	return OpenBytes(data)
}

// OpenBytes parses a hive held in memory. The buffer must not be modified afterwards.
func OpenBytes(data []byte) (*Hive, error) {
	if len(data) < MinHiveSize {
		return nil, fmt.Errorf("%w: %d bytes, need at least %d", ErrInvalidFormat, len(data), MinHiveSize)
	}
	if !bytes.Equal(data[:4], regfMagic) {
		return nil, fmt.Errorf("%w: bad signature %q", ErrInvalidFormat, data[:4])
	}

	le := binary.LittleEndian
	h := Header{
		Sequence1:      le.Uint32(data[0x04:]),
		Sequence2:      le.Uint32(data[0x08:]),
		Timestamp:      le.Uint64(data[0x0C:]),
		MajorVersion:   le.Uint32(data[0x14:]),
		MinorVersion:   le.Uint32(data[0x18:]),
		FileType:       le.Uint32(data[0x1C:]),
		Format:         le.Uint32(data[0x20:]),
		RootCellOffset: le.Uint32(data[0x24:]),
		Length:         le.Uint32(data[0x28:]),
		FileName:       decodeUTF16(data[0x30:0x70]),
		Checksum:       le.Uint32(data[checksumLength:]),
	}
	copy(h.Signature[:], data[:4])

	return &Hive{data: data, header: h}, nil
}

// Header returns the parsed base block.
func (h *Hive) Header() Header { return h.header }

// Size returns the length of the loaded buffer.
func (h *Hive) Size() int { return len(h.data) }

// IsDirty reports whether the hive was not cleanly flushed (sequence numbers differ).
func (h *Hive) IsDirty() bool {
	return h.header.Sequence1 != h.header.Sequence2
}

// ChecksumValid recomputes the XOR checksum over the first 508 header bytes.
func (h *Hive) ChecksumValid() bool {
	var sum uint32
	for i := 0; i < checksumLength; i += 4 {
		sum ^= binary.LittleEndian.Uint32(h.data[i:])
	}
	switch sum {
	case 0xFFFFFFFF:
		sum = 0xFFFFFFFE
	case 0:
		sum = 1
	}
	return sum == h.header.Checksum
}

// RootKey decodes the key cell at the header's root offset.
func (h *Hive) RootKey() (Key, error) {
	return h.keyAt(h.header.RootCellOffset)
}

// GetKey walks path (backslash separated) from the root, matching names
// case-insensitively. The empty path returns the root.
func (h *Hive) GetKey(path string) (Key, error) {
	key, err := h.RootKey()
	if err != nil {
		return Key{}, err
	}
	for _, component := range SplitPath(path) {
		subkeys, err := h.Subkeys(key)
		if err != nil {
			return Key{}, err
		}
		found := false
		for _, sub := range subkeys {
			if strings.EqualFold(sub.Name, component) {
				key, found = sub, true
				break
			}
		}
		if !found {
			return Key{}, &KeyNotFoundError{Path: path, Component: component}
		}
	}
	return key, nil
}

// Subkeys returns the children of key in on-disk index order.
func (h *Hive) Subkeys(key Key) ([]Key, error) {
	if key.SubkeyCount == 0 || key.subkeyList == noCell {
		return []Key{}, nil
	}
	offsets, err := h.collectIndex(key.subkeyList, nil, 0)
	if err != nil {
		return nil, err
	}
	if uint32(len(offsets)) < key.SubkeyCount {
		return nil, decodeErrorf("key 0x%x: %d subkeys declared, index holds %d", key.Offset, key.SubkeyCount, len(offsets))
	}
	keys := make([]Key, 0, len(offsets))
	for _, off := range offsets {
		k, err := h.keyAt(off)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, nil
}

// maxIndexDepth bounds ri nesting; real hives use a single level.
const maxIndexDepth = 8

// collectIndex appends the key offsets of an lf/lh/li leaf or an ri root.
func (h *Hive) collectIndex(offset uint32, out []uint32, depth int) ([]uint32, error) {
	if depth > maxIndexDepth {
		return nil, decodeErrorf("cell 0x%x: subkey index nested too deeply", offset)
	}
	c, err := h.signedCell(offset, "lf", "lh", "li", "ri")
	if err != nil {
		return nil, err
	}
	count := int(c.u16(2))
	switch c.signature() {
	case "lf", "lh":
		for i := 0; i < count; i++ {
			out = append(out, c.u32(4+i*8))
		}
	case "li":
		for i := 0; i < count; i++ {
			out = append(out, c.u32(4+i*4))
		}
	case "ri":
		for i := 0; i < count; i++ {
			leaf := c.u32(4 + i*4)
			if c.err != nil {
				break
			}
			out, err = h.collectIndex(leaf, out, depth+1)
			if err != nil {
				return nil, err
			}
		}
	}
	if c.err != nil {
		return nil, c.err
	}
	return out, nil
}

func (h *Hive) keyAt(offset uint32) (Key, error) {
	c, err := h.signedCell(offset, "nk")
	if err != nil {
		return Key{}, err
	}
	k := Key{
		Offset:      offset,
		Flags:       c.u16(0x02),
		LastWrite:   c.u64(0x04),
		Parent:      c.u32(0x10),
		SubkeyCount: c.u32(0x14),
		subkeyList:  c.u32(0x1C),
		ValueCount:  c.u32(0x24),
		valueList:   c.u32(0x28),
		classOffset: c.u32(0x30),
		classLength: c.u16(0x4A),
	}
	nameLen := int(c.u16(0x48))
	name := c.bytes(0x4C, nameLen)
	if c.err != nil {
		return Key{}, c.err
	}
	k.Name = decodeName(name, k.Flags&keyCompressedName != 0)
	return k, nil
}

// Values decodes every value of key in value-list order.
func (h *Hive) Values(key Key) ([]Value, error) {
	if key.ValueCount == 0 || key.valueList == noCell {
		return []Value{}, nil
	}
	list, err := h.cell(key.valueList)
	if err != nil {
		return nil, err
	}
	if int64(key.ValueCount) > int64(len(list.buf)/4) {
		return nil, decodeErrorf("key 0x%x: %d values declared, list cell holds %d", key.Offset, key.ValueCount, len(list.buf)/4)
	}
	values := make([]Value, 0, key.ValueCount)
	for i := 0; i < int(key.ValueCount); i++ {
		off := list.u32(i * 4)
		if list.err != nil {
			return nil, list.err
		}
		v, err := h.valueAt(off)
		if err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, nil
}

// ValueMap decodes the values of key into a map keyed by exact value name.
// When a name repeats, the first occurrence wins.
func (h *Hive) ValueMap(key Key) (map[string]Value, error) {
	values, err := h.Values(key)
	if err != nil {
		return nil, err
	}
	m := make(map[string]Value, len(values))
	for _, v := range values {
		if _, ok := m[v.Name()]; !ok {
			m[v.Name()] = v
		}
	}
	return m, nil
}

// Value returns the value of key whose name equals name exactly.
func (h *Hive) Value(key Key, name string) (Value, error) {
	values, err := h.Values(key)
	if err != nil {
		return Value{}, err
	}
	for _, v := range values {
		if v.Name() == name {
			return v, nil
		}
	}
	return Value{}, &ValueNotFoundError{Key: key.Name, Name: name}
}

// ClassName returns the raw class name bytes of key, or nil when it has none.
func (h *Hive) ClassName(key Key) ([]byte, error) {
	if key.classOffset == noCell || key.classLength == 0 {
		return nil, nil
	}
	c, err := h.cell(key.classOffset)
	if err != nil {
		return nil, err
	}
	b := c.bytes(0, int(key.classLength))
	if c.err != nil {
		return nil, c.err
	}
	return append([]byte(nil), b...), nil
}

func (h *Hive) valueAt(offset uint32) (Value, error) {
	c, err := h.signedCell(offset, "vk")
	if err != nil {
		return Value{}, err
	}
	nameLen := int(c.u16(0x02))
	size := c.u32(0x04)
	dataOff := c.u32(0x08)
	regType := c.u32(0x0C)
	flags := c.u16(0x10)
	rawName := c.bytes(0x14, nameLen)
	if c.err != nil {
		return Value{}, c.err
	}
	name := decodeName(rawName, flags&valueCompressedName != 0)

	var data []byte
	switch {
	case size&dataInline != 0:
		n := int(size &^ dataInline)
		if n > 4 {
			return Value{}, decodeErrorf("cell 0x%x: inline data of %d bytes", offset, n)
		}
		data = c.bytes(0x08, n)
	case size == 0:
		data = []byte{}
	default:
		data, err = h.valueData(dataOff, int(size))
		if err != nil {
			return Value{}, err
		}
	}
	if c.err != nil {
		return Value{}, c.err
	}
	return decodeValue(name, regType, append([]byte(nil), data...)), nil
}

func (h *Hive) valueData(offset uint32, size int) ([]byte, error) {
	c, err := h.cell(offset)
	if err != nil {
		return nil, err
	}
	if size > bigDataSegmentSize && c.signature() == "db" {
		return h.bigData(c, size)
	}
	b := c.bytes(0, size)
	if c.err != nil {
		return nil, c.err
	}
	return b, nil
}

// bigData joins the segments of a db record.
func (h *Hive) bigData(db *cellReader, size int) ([]byte, error) {
	count := int(db.u16(0x02))
	listOff := db.u32(0x04)
	if db.err != nil {
		return nil, db.err
	}
	list, err := h.cell(listOff)
	if err != nil {
		return nil, err
	}
	if int64(size) > int64(count)*bigDataSegmentSize || size > len(h.data) {
		return nil, decodeErrorf("cell 0x%x: %d segments cannot hold %d bytes", db.offset, count, size)
	}
	out := make([]byte, 0, size)
	for i := 0; i < count && len(out) < size; i++ {
		segOff := list.u32(i * 4)
		if list.err != nil {
			return nil, list.err
		}
		seg, err := h.cell(segOff)
		if err != nil {
			return nil, err
		}
		n := min(size-len(out), bigDataSegmentSize, len(seg.buf))
		out = append(out, seg.buf[:n]...)
	}
	if len(out) < size {
		return nil, decodeErrorf("cell 0x%x: big data has %d of %d bytes", db.offset, len(out), size)
	}
	return out, nil
}

// SplitPath splits a backslash separated key path, dropping empty segments.
func SplitPath(path string) []string {
	parts := strings.Split(path, `\`)
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// filetimeEpochDelta is the number of 100ns ticks between 1601-01-01 and 1970-01-01.
const filetimeEpochDelta = 116444736000000000

// FiletimeToTime converts a Windows FILETIME to UTC. Zero maps to the zero time.
func FiletimeToTime(ft uint64) time.Time {
	if ft == 0 {
		return time.Time{}
	}
	ticks := int64(ft) - filetimeEpochDelta
	return time.Unix(ticks/10_000_000, (ticks%10_000_000)*100).UTC()
}
