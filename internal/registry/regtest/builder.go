// Package regtest builds small regf hives in memory for tests.
package regtest

import (
	"encoding/binary"
	"strings"
	"unicode/utf16"
)

// IndexKind selects the subkey index cell written for a key.
type IndexKind int

// Index cell kinds.
const (
	IndexLF IndexKind = iota
	IndexLH
	IndexLI
	IndexRI
)

// Registry type codes used by the setters below.
const (
	typeSz       = 1
	typeExpandSz = 2
	typeBinary   = 3
	typeDword    = 4
	typeMultiSz  = 7
	typeQword    = 11
)

const (
	noCell      = 0xFFFFFFFF
	hbinHeader  = 0x20
	segmentSize = 16344
)

// Value is one value to be written.
type Value struct {
	Name string
	Type uint32
	Data []byte
}

// Key is one key to be written, together with its subtree.
type Key struct {
	Name      string
	LastWrite uint64
	Class     string
	Index     IndexKind

	// Corrupt writes the key cell with a bad signature.
	Corrupt bool

	Values  []Value
	Subkeys []*Key
}

// NewKey returns an empty key.
func NewKey(name string) *Key {
	return &Key{Name: name}
}

// Key appends and returns a new child key.
func (k *Key) Key(name string) *Key {
	child := NewKey(name)
	k.Subkeys = append(k.Subkeys, child)
	return child
}

// Path returns the key at a backslash separated path below k, creating
// missing keys on the way.
func (k *Key) Path(path string) *Key {
	cur := k
	for _, part := range strings.Split(path, `\`) {
		if part == "" {
			continue
		}
		var next *Key
		for _, sub := range cur.Subkeys {
			if strings.EqualFold(sub.Name, part) {
				next = sub
				break
			}
		}
		if next == nil {
			next = cur.Key(part)
		}
		cur = next
	}
	return cur
}

// SetValue adds a value with an explicit type and raw data.
func (k *Key) SetValue(name string, typ uint32, data []byte) *Key {
	k.Values = append(k.Values, Value{Name: name, Type: typ, Data: data})
	return k
}

// SetString adds a REG_SZ value.
func (k *Key) SetString(name, s string) *Key {
	return k.SetValue(name, typeSz, UTF16(s+"\x00"))
}

// SetExpandString adds a REG_EXPAND_SZ value.
func (k *Key) SetExpandString(name, s string) *Key {
	return k.SetValue(name, typeExpandSz, UTF16(s+"\x00"))
}

// SetMultiString adds a REG_MULTI_SZ value.
func (k *Key) SetMultiString(name string, list ...string) *Key {
	return k.SetValue(name, typeMultiSz, UTF16(strings.Join(list, "\x00")+"\x00\x00"))
}

// SetDword adds a REG_DWORD value.
func (k *Key) SetDword(name string, v uint32) *Key {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return k.SetValue(name, typeDword, b)
}

// SetQword adds a REG_QWORD value.
func (k *Key) SetQword(name string, v uint64) *Key {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	return k.SetValue(name, typeQword, b)
}

// SetBinary adds a REG_BINARY value.
func (k *Key) SetBinary(name string, data []byte) *Key {
	return k.SetValue(name, typeBinary, data)
}

// UTF16 encodes s as UTF-16LE.
func UTF16(s string) []byte {
	units := utf16.Encode([]rune(s))
	b := make([]byte, len(units)*2)
	for i, u := range units {
		binary.LittleEndian.PutUint16(b[i*2:], u)
	}
	return b
}

// Options tune the header of a built hive.
type Options struct {
	Dirty    bool
	FileName string
}

// Build writes root and its subtree as a complete hive.
func Build(root *Key) []byte {
	return BuildWithOptions(root, Options{})
}

// BuildWithOptions is Build with header options.
func BuildWithOptions(root *Key, opts Options) []byte {
	w := &writer{bins: make([]byte, hbinHeader)}
	rootOff := w.key(root)

	if pad := len(w.bins) % 0x1000; pad != 0 {
		w.bins = append(w.bins, make([]byte, 0x1000-pad)...)
	}
	copy(w.bins, "hbin")
	binary.LittleEndian.PutUint32(w.bins[0x08:], uint32(len(w.bins)))

	header := make([]byte, 0x1000)
	le := binary.LittleEndian
	copy(header, "regf")
	le.PutUint32(header[0x04:], 1)
	if opts.Dirty {
		le.PutUint32(header[0x08:], 2)
	} else {
		le.PutUint32(header[0x08:], 1)
	}
	le.PutUint64(header[0x0C:], root.LastWrite)
	le.PutUint32(header[0x14:], 1)
	le.PutUint32(header[0x18:], 5)
	le.PutUint32(header[0x20:], 1)
	le.PutUint32(header[0x24:], rootOff)
	le.PutUint32(header[0x28:], uint32(len(w.bins)))
	le.PutUint32(header[0x2C:], 1)
	copy(header[0x30:0x70], UTF16(opts.FileName))

	var sum uint32
	for i := 0; i < 0x1FC; i += 4 {
		sum ^= le.Uint32(header[i:])
	}
	switch sum {
	case 0xFFFFFFFF:
		sum = 0xFFFFFFFE
	case 0:
		sum = 1
	}
	le.PutUint32(header[0x1FC:], sum)

	return append(header, w.bins...)
}

type writer struct {
	bins []byte
}

// alloc appends an allocated cell and returns its offset relative to the first bin.
func (w *writer) alloc(payload []byte) uint32 {
	size := (4 + len(payload) + 7) &^ 7
	off := uint32(len(w.bins))
	cell := make([]byte, size)
	binary.LittleEndian.PutUint32(cell, uint32(int32(-size)))
	copy(cell[4:], payload)
	w.bins = append(w.bins, cell...)
	return off
}

func offsetsPayload(offs []uint32) []byte {
	b := make([]byte, 4*len(offs))
	for i, o := range offs {
		binary.LittleEndian.PutUint32(b[i*4:], o)
	}
	return b
}

func encodeName(name string) ([]byte, bool) {
	for i := 0; i < len(name); i++ {
		if name[i] >= 0x80 {
			return UTF16(name), false
		}
	}
	return []byte(name), true
}

func (w *writer) key(k *Key) uint32 {
	le := binary.LittleEndian

	childOffs := make([]uint32, 0, len(k.Subkeys))
	for _, sub := range k.Subkeys {
		childOffs = append(childOffs, w.key(sub))
	}
	subkeyList := uint32(noCell)
	if len(childOffs) > 0 {
		subkeyList = w.index(k.Index, k.Subkeys, childOffs)
	}

	valueList := uint32(noCell)
	if len(k.Values) > 0 {
		offs := make([]uint32, 0, len(k.Values))
		for _, v := range k.Values {
			offs = append(offs, w.value(v))
		}
		valueList = w.alloc(offsetsPayload(offs))
	}

	classOff := uint32(noCell)
	var classLen int
	if k.Class != "" {
		class := UTF16(k.Class)
		classLen = len(class)
		classOff = w.alloc(class)
	}

	name, compressed := encodeName(k.Name)
	p := make([]byte, 0x4C+len(name))
	if k.Corrupt {
		copy(p, "xx")
	} else {
		copy(p, "nk")
	}
	var flags uint16
	if compressed {
		flags |= 0x20
	}
	le.PutUint16(p[0x02:], flags)
	le.PutUint64(p[0x04:], k.LastWrite)
	le.PutUint32(p[0x14:], uint32(len(childOffs)))
	le.PutUint32(p[0x1C:], subkeyList)
	le.PutUint32(p[0x20:], noCell)
	le.PutUint32(p[0x24:], uint32(len(k.Values)))
	le.PutUint32(p[0x28:], valueList)
	le.PutUint32(p[0x2C:], noCell)
	le.PutUint32(p[0x30:], classOff)
	le.PutUint16(p[0x48:], uint16(len(name)))
	le.PutUint16(p[0x4A:], uint16(classLen))
	copy(p[0x4C:], name)
	return w.alloc(p)
}

func (w *writer) index(kind IndexKind, subkeys []*Key, offs []uint32) uint32 {
	le := binary.LittleEndian
	switch kind {
	case IndexLI:
		p := make([]byte, 4)
		copy(p, "li")
		le.PutUint16(p[2:], uint16(len(offs)))
		return w.alloc(append(p, offsetsPayload(offs)...))
	case IndexRI:
		leaves := make([]uint32, 0)
		for i := 0; i < len(offs); i += 2 {
			end := min(i+2, len(offs))
			leaves = append(leaves, w.index(IndexLI, subkeys[i:end], offs[i:end]))
		}
		p := make([]byte, 4)
		copy(p, "ri")
		le.PutUint16(p[2:], uint16(len(leaves)))
		return w.alloc(append(p, offsetsPayload(leaves)...))
	default:
		p := make([]byte, 4+8*len(offs))
		if kind == IndexLH {
			copy(p, "lh")
		} else {
			copy(p, "lf")
		}
		le.PutUint16(p[2:], uint16(len(offs)))
		for i, o := range offs {
			le.PutUint32(p[4+i*8:], o)
			copy(p[8+i*8:12+i*8], strings.ToUpper(subkeys[i].Name))
		}
		return w.alloc(p)
	}
}

func (w *writer) value(v Value) uint32 {
	le := binary.LittleEndian
	name, compressed := encodeName(v.Name)
	p := make([]byte, 0x14+len(name))
	copy(p, "vk")
	le.PutUint16(p[0x02:], uint16(len(name)))
	le.PutUint32(p[0x0C:], v.Type)
	if compressed {
		le.PutUint16(p[0x10:], 1)
	}
	copy(p[0x14:], name)

	switch {
	case len(v.Data) <= 4:
		le.PutUint32(p[0x04:], uint32(len(v.Data))|0x80000000)
		copy(p[0x08:0x0C], v.Data)
	case len(v.Data) > segmentSize:
		le.PutUint32(p[0x04:], uint32(len(v.Data)))
		le.PutUint32(p[0x08:], w.bigData(v.Data))
	default:
		le.PutUint32(p[0x04:], uint32(len(v.Data)))
		le.PutUint32(p[0x08:], w.alloc(v.Data))
	}
	return w.alloc(p)
}

func (w *writer) bigData(data []byte) uint32 {
	segs := make([]uint32, 0)
	for i := 0; i < len(data); i += segmentSize {
		end := min(i+segmentSize, len(data))
		segs = append(segs, w.alloc(data[i:end]))
	}
	list := w.alloc(offsetsPayload(segs))
	p := make([]byte, 8)
	copy(p, "db")
	binary.LittleEndian.PutUint16(p[2:], uint16(len(segs)))
	binary.LittleEndian.PutUint32(p[4:], list)
	return w.alloc(p)
}
