package registry

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"strings"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

// Registry value types as stored in the vk cell.
const (
	RegNone             uint32 = 0
	RegSz               uint32 = 1
	RegExpandSz         uint32 = 2
	RegBinary           uint32 = 3
	RegDword            uint32 = 4
	RegDwordBigEndian   uint32 = 5
	RegLink             uint32 = 6
	RegMultiSz          uint32 = 7
	RegResourceList     uint32 = 8
	RegFullResourceDesc uint32 = 9
	RegResourceReqList  uint32 = 10
	RegQword            uint32 = 11
)

// Kind is the decoded variant of a Value
type Kind int

// Value variants.
const (
	KindNone Kind = iota
	KindString
	KindExpandString
	KindBinary
	KindDword
	KindQword
	KindMultiString
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "String"
	case KindExpandString:
		return "ExpandString"
	case KindBinary:
		return "Binary"
	case KindDword:
		return "Dword"
	case KindQword:
		return "Qword"
	case KindMultiString:
		return "MultiString"
	default:
		return "None"
	}
}

// Value is a decoded registry value. The zero Value is a None value with an
// empty name.
type Value struct {
	name    string
	kind    Kind
	regType uint32
	text    string
	list    []string
	number  uint64
	raw     []byte
}

// NewStringValue builds a String value.
func NewStringValue(name, s string) Value {
	return Value{name: name, kind: KindString, regType: RegSz, text: s}
}

// NewDwordValue builds a Dword value.
func NewDwordValue(name string, v uint32) Value {
	return Value{name: name, kind: KindDword, regType: RegDword, number: uint64(v)}
}

// Name returns the value name; the default (unnamed) value has name "".
func (v Value) Name() string { return v.name }

// Kind returns the decoded variant.
func (v Value) Kind() Kind { return v.kind }

// Type returns the registry type as stored on disk.
func (v Value) Type() uint32 { return v.regType }

// AsString returns the text of a String or ExpandString value.
func (v Value) AsString() (string, bool) {
	if v.kind == KindString || v.kind == KindExpandString {
		return v.text, true
	}
	return "", false
}

// AsInteger returns the number held by a Dword or Qword value.
func (v Value) AsInteger() (uint64, bool) {
	if v.kind == KindDword || v.kind == KindQword {
		return v.number, true
	}
	return 0, false
}

// AsStrings returns the entries of a MultiString value.
func (v Value) AsStrings() ([]string, bool) {
	if v.kind != KindMultiString {
		return nil, false
	}
	out := make([]string, len(v.list))
	copy(out, v.list)
	return out, true
}

// Bytes returns a copy of the raw value data.
func (v Value) Bytes() []byte {
	out := make([]byte, len(v.raw))
	copy(out, v.raw)
	return out
}

// MarshalJSON renders the value as {"name","type","data"}.
func (v Value) MarshalJSON() ([]byte, error) {
	var data any
	switch v.kind {
	case KindString, KindExpandString:
		data = v.text
	case KindDword, KindQword:
		data = v.number
	case KindMultiString:
		data = v.list
	case KindBinary:
		data = v.raw
	}
	return json.Marshal(struct {
		Name string `json:"name"`
		Type string `json:"type"`
		Data any    `json:"data,omitempty"`
	}{v.name, v.kind.String(), data})
}

// decodeValue turns raw vk data into a Value according to its registry type.
// Integer types with short data and types outside the union decode as Binary.
func decodeValue(name string, regType uint32, data []byte) Value {
	v := Value{name: name, regType: regType, raw: data}
	switch regType {
	case RegNone:
		v.kind = KindNone
	case RegSz:
		v.kind = KindString
		v.text = decodeUTF16(data)
	case RegExpandSz:
		v.kind = KindExpandString
		v.text = decodeUTF16(data)
	case RegDword:
		if len(data) < 4 {
			v.kind = KindBinary
			break
		}
		v.kind = KindDword
		v.number = uint64(binary.LittleEndian.Uint32(data))
	case RegDwordBigEndian:
		if len(data) < 4 {
			v.kind = KindBinary
			break
		}
		v.kind = KindDword
		v.number = uint64(binary.BigEndian.Uint32(data))
	case RegQword:
		if len(data) < 8 {
			v.kind = KindBinary
			break
		}
		v.kind = KindQword
		v.number = binary.LittleEndian.Uint64(data)
	case RegMultiSz:
		v.kind = KindMultiString
		v.list = decodeMultiString(data)
	default:
		v.kind = KindBinary
	}
	return v
}

var utf16le = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

// decodeUTF16 decodes UTF-16LE text up to the first NUL code unit.
func decodeUTF16(b []byte) string {
	b = b[:len(b)&^1]
	for i := 0; i+1 < len(b); i += 2 {
		if b[i] == 0 && b[i+1] == 0 {
			b = b[:i]
			break
		}
	}
	out, err := utf16le.NewDecoder().Bytes(b)
	if err != nil {
		return ""
	}
	return string(out)
}

func decodeMultiString(b []byte) []string {
	b = b[:len(b)&^1]
	out, err := utf16le.NewDecoder().Bytes(b)
	if err != nil {
		return []string{}
	}
	parts := strings.Split(string(out), "\x00")
	list := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			list = append(list, p)
		}
	}
	return list
}

// decodeName decodes a key or value name: compressed names are single-byte
// Windows-1252, the rest UTF-16LE.
func decodeName(b []byte, compressed bool) string {
	if !compressed {
		return decodeUTF16(b)
	}
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	out, err := charmap.Windows1252.NewDecoder().Bytes(b)
	if err != nil {
		return string(b)
	}
	return string(out)
}
