package types

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

// KeyKind names the fixed-width on-disk encoding a secondary index uses for
// its key, mirroring the REC_FMT choice (`"i"`, `"f"`, `f"{n}s"`) that every
// disk-resident index in §4.2/§4.4/§4.5 makes from a column's declared type.
type KeyKind int

const (
	KeyKindInt KeyKind = iota
	KeyKindFloat
	KeyKindString
)

// ParseKeyKind maps the strings produced by Column.KeyType into a KeyKind.
func ParseKeyKind(s string) (KeyKind, bool) {
	switch s {
	case "int":
		return KeyKindInt, true
	case "float":
		return KeyKindFloat, true
	case "string":
		return KeyKindString, true
	default:
		return 0, false
	}
}

// KeySize returns the fixed width, in bytes, of a key of this kind.
// strSize is only meaningful for KeyKindString.
func KeySize(kind KeyKind, strSize int) int {
	switch kind {
	case KeyKindInt:
		return 4
	case KeyKindFloat:
		return 4
	case KeyKindString:
		return strSize
	default:
		return 0
	}
}

// EncodeKey packs a Comparable key into its fixed-width disk form.
func EncodeKey(key Comparable, kind KeyKind, strSize int) ([]byte, error) {
	switch kind {
	case KeyKindInt:
		var i int32
		switch k := key.(type) {
		case IntKey:
			i = int32(k)
		default:
			return nil, fmt.Errorf("keycodec: expected IntKey, got %T", key)
		}
		buf := make([]byte, 4)
		binary.LittleEndian.PutUint32(buf, uint32(i))
		return buf, nil
	case KeyKindFloat:
		fk, ok := key.(FloatKey)
		if !ok {
			return nil, fmt.Errorf("keycodec: expected FloatKey, got %T", key)
		}
		buf := make([]byte, 4)
		binary.LittleEndian.PutUint32(buf, math.Float32bits(float32(fk)))
		return buf, nil
	case KeyKindString:
		vk, ok := key.(VarcharKey)
		if !ok {
			return nil, fmt.Errorf("keycodec: expected VarcharKey, got %T", key)
		}
		buf := make([]byte, strSize)
		b := []byte(string(vk))
		if len(b) > strSize {
			b = b[:strSize]
		}
		copy(buf, b)
		return buf, nil
	default:
		return nil, fmt.Errorf("keycodec: unknown key kind %d", kind)
	}
}

// DecodeKey is the inverse of EncodeKey.
func DecodeKey(data []byte, kind KeyKind, strSize int) (Comparable, error) {
	switch kind {
	case KeyKindInt:
		if len(data) < 4 {
			return nil, fmt.Errorf("keycodec: short buffer for int key")
		}
		return IntKey(int32(binary.LittleEndian.Uint32(data[:4]))), nil
	case KeyKindFloat:
		if len(data) < 4 {
			return nil, fmt.Errorf("keycodec: short buffer for float key")
		}
		return FloatKey(math.Float32frombits(binary.LittleEndian.Uint32(data[:4]))), nil
	case KeyKindString:
		if len(data) < strSize {
			return nil, fmt.Errorf("keycodec: short buffer for string key")
		}
		return VarcharKey(strings.TrimRight(string(data[:strSize]), "\x00")), nil
	default:
		return nil, fmt.Errorf("keycodec: unknown key kind %d", kind)
	}
}
