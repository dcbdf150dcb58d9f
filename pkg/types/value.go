package types

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"time"
)

// DataType enumerates the column types this engine persists.
type DataType int

const (
	INT DataType = iota
	FLOAT
	VARCHAR
	DATE
	ARRAY_FLOAT
)

func (d DataType) String() string {
	switch d {
	case INT:
		return "INT"
	case FLOAT:
		return "FLOAT"
	case VARCHAR:
		return "VARCHAR"
	case DATE:
		return "DATE"
	case ARRAY_FLOAT:
		return "ARRAY_FLOAT"
	default:
		return "UNKNOWN"
	}
}

func ParseDataType(s string) (DataType, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "INT":
		return INT, true
	case "FLOAT":
		return FLOAT, true
	case "VARCHAR":
		return VARCHAR, true
	case "DATE":
		return DATE, true
	case "ARRAY", "ARRAY_FLOAT":
		return ARRAY_FLOAT, true
	default:
		return 0, false
	}
}

// Kind tags a Value's active variant.
type Kind int

const (
	KindNull Kind = iota
	KindInt
	KindFloat
	KindStr
	KindDate
	KindPoint
)

// Value is a tagged union over every runtime value this engine handles.
// Exactly one of the typed fields is meaningful, selected by Kind.
type Value struct {
	Kind Kind
	I    int32
	F    float32
	S    string
	D    int64 // epoch seconds
	X, Y float32
}

func Null() Value                { return Value{Kind: KindNull} }
func IntValue(v int32) Value     { return Value{Kind: KindInt, I: v} }
func FloatValue(v float32) Value { return Value{Kind: KindFloat, F: v} }
func StrValue(v string) Value    { return Value{Kind: KindStr, S: v} }
func DateValue(v int64) Value    { return Value{Kind: KindDate, D: v} }
func PointValue(x, y float32) Value {
	return Value{Kind: KindPoint, X: x, Y: y}
}

func (v Value) IsNull() bool { return v.Kind == KindNull }

func (v Value) String() string {
	switch v.Kind {
	case KindNull:
		return "NULL"
	case KindInt:
		return fmt.Sprintf("%d", v.I)
	case KindFloat:
		return fmt.Sprintf("%g", v.F)
	case KindStr:
		return v.S
	case KindDate:
		return FormatDate(v.D)
	case KindPoint:
		return fmt.Sprintf("(%g, %g)", v.X, v.Y)
	default:
		return ""
	}
}

// FormatDate renders an epoch-seconds DATE value for presentation layers
// (the HTTP facade uses this; the on-disk form stays the raw int64).
func FormatDate(epochSeconds int64) string {
	return time.Unix(epochSeconds, 0).UTC().Format("2006-01-02")
}

// ParseDate accepts "YYYY-MM-DD" (and a couple of common fallbacks) and
// returns epoch seconds, mirroring the layered parsing the CSV loader does.
func ParseDate(s string) (int64, error) {
	layouts := []string{"2006-01-02", "02/01/2006", "01/02/2006", "2006-01-02 15:04:05"}
	var lastErr error
	for _, layout := range layouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t.Unix(), nil
		}
		lastErr = err
	}
	return 0, fmt.Errorf("unrecognized date format %q: %w", s, lastErr)
}

// Size returns the on-disk width of a value of this DataType, given the
// declared size (used only by VARCHAR).
func (d DataType) Size(declared int) int {
	switch d {
	case INT:
		return 4
	case FLOAT:
		return 4
	case VARCHAR:
		return declared
	case DATE:
		return 8
	case ARRAY_FLOAT:
		return 8
	default:
		return 0
	}
}

// Serialize encodes v into exactly size bytes per §3's fixed-width layout.
func Serialize(v Value, dt DataType, size int) ([]byte, error) {
	switch dt {
	case INT:
		buf := make([]byte, 4)
		var i int32
		if !v.IsNull() {
			i = v.I
		}
		binary.LittleEndian.PutUint32(buf, uint32(i))
		return buf, nil
	case FLOAT:
		buf := make([]byte, 4)
		var f float32
		if !v.IsNull() {
			f = v.F
		}
		binary.LittleEndian.PutUint32(buf, math.Float32bits(f))
		return buf, nil
	case VARCHAR:
		buf := make([]byte, size)
		if !v.IsNull() {
			b := []byte(v.S)
			if len(b) > size {
				b = b[:size]
			}
			copy(buf, b)
		}
		return buf, nil
	case DATE:
		buf := make([]byte, 8)
		var d int64
		if !v.IsNull() {
			d = v.D
		}
		binary.LittleEndian.PutUint64(buf, uint64(d))
		return buf, nil
	case ARRAY_FLOAT:
		buf := make([]byte, 8)
		var x, y float32
		if !v.IsNull() {
			x, y = v.X, v.Y
		}
		binary.LittleEndian.PutUint32(buf[0:4], math.Float32bits(x))
		binary.LittleEndian.PutUint32(buf[4:8], math.Float32bits(y))
		return buf, nil
	default:
		return nil, fmt.Errorf("unsupported data type %v", dt)
	}
}

// Deserialize is the inverse of Serialize. Zero-bytes decode to a zero
// value of the appropriate kind, per the "absent value -> zero-bytes"
// Non-goal NULL semantics; it never returns Null itself (callers treat
// an all-zero slot as a legitimate zero value, matching §3).
func Deserialize(data []byte, dt DataType, size int) (Value, error) {
	switch dt {
	case INT:
		if len(data) < 4 {
			return Value{}, fmt.Errorf("short buffer for INT")
		}
		return IntValue(int32(binary.LittleEndian.Uint32(data[:4]))), nil
	case FLOAT:
		if len(data) < 4 {
			return Value{}, fmt.Errorf("short buffer for FLOAT")
		}
		return FloatValue(math.Float32frombits(binary.LittleEndian.Uint32(data[:4]))), nil
	case VARCHAR:
		if len(data) < size {
			return Value{}, fmt.Errorf("short buffer for VARCHAR")
		}
		s := strings.TrimRight(string(data[:size]), "\x00")
		return StrValue(s), nil
	case DATE:
		if len(data) < 8 {
			return Value{}, fmt.Errorf("short buffer for DATE")
		}
		return DateValue(int64(binary.LittleEndian.Uint64(data[:8]))), nil
	case ARRAY_FLOAT:
		if len(data) < 8 {
			return Value{}, fmt.Errorf("short buffer for ARRAY_FLOAT")
		}
		x := math.Float32frombits(binary.LittleEndian.Uint32(data[0:4]))
		y := math.Float32frombits(binary.LittleEndian.Uint32(data[4:8]))
		return PointValue(x, y), nil
	default:
		return Value{}, fmt.Errorf("unsupported data type %v", dt)
	}
}

// ToComparable converts a Value into a Comparable key for AVL/hash/ISAM/B+
// indices, per §4.7's key-type mapping (INT/DATE -> int, FLOAT -> float,
// VARCHAR -> fixed-length string).
func (v Value) ToComparable() (Comparable, error) {
	switch v.Kind {
	case KindInt:
		return IntKey(v.I), nil
	case KindFloat:
		return FloatKey(v.F), nil
	case KindStr:
		return VarcharKey(v.S), nil
	case KindDate:
		return IntKey(v.D), nil
	default:
		return nil, fmt.Errorf("value of kind %d has no comparable key form", v.Kind)
	}
}
