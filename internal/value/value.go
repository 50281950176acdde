package value

import (
	"bytes"
	"fmt"
	"hash/fnv"
	"math"
)

// Int128 is a 128-bit signed integer represented as (high, low) two's
// complement halves, the way the engine stores INT128 logical values
// without requiring a big-int allocation per value.
type Int128 struct {
	Hi int64
	Lo uint64
}

func Int128FromInt64(v int64) Int128 {
	if v < 0 {
		return Int128{Hi: -1, Lo: uint64(v)}
	}
	return Int128{Hi: 0, Lo: uint64(v)}
}

func (a Int128) Cmp(b Int128) int {
	if a.Hi != b.Hi {
		if a.Hi < b.Hi {
			return -1
		}
		return 1
	}
	if a.Lo != b.Lo {
		if a.Lo < b.Lo {
			return -1
		}
		return 1
	}
	return 0
}

// StructValue holds an ordered list of named logical values, the physical
// representation of a STRUCT column.
type StructValue struct {
	Fields []string
	Values []Value
}

// ListValue holds the physical representation of a LIST column.
type ListValue struct {
	Elems []Value
}

// Value is the logical-value sum type: exactly one of the typed fields
// below is meaningful, selected by Type.Physical, unless Null is set.
type Value struct {
	Type  LogicalType
	Null  bool
	Bool  bool
	I64   int64  // Int8/16/32/64, Decimal (unscaled), Enum ordinal
	U64   uint64 // UInt8/16/32/64
	I128  Int128
	F32   float32
	F64   float64
	Str   string
	TS    int64 // Timestamp, in Type.Unit resolution
	SV    StructValue
	LV    ListValue
}

// NA constructs a typed null value. Nulls order low and propagate through
// arithmetic regardless of the type they decorate.
func NA(t LogicalType) Value { return Value{Type: t, Null: true} }

func BoolVal(b bool) Value    { return Value{Type: Simple(Bool), Bool: b} }
func Int64Val(v int64) Value  { return Value{Type: Simple(Int64), I64: v} }
func Int32Val(v int32) Value  { return Value{Type: Simple(Int32), I64: int64(v)} }
func UInt64Val(v uint64) Value {
	return Value{Type: Simple(UInt64), U64: v}
}
func DoubleVal(v float64) Value { return Value{Type: Simple(Double), F64: v} }
func FloatVal(v float32) Value  { return Value{Type: Simple(Float), F32: v} }
func StringVal(v string) Value  { return Value{Type: Simple(String), Str: v} }
func Int128Val(v Int128) Value  { return Value{Type: Simple(Int128), I128: v} }

// WithAlias returns a copy of v carrying alias as its column-name alias.
func (v Value) WithAlias(alias string) Value {
	v.Type.Alias = alias
	return v
}

func (v Value) String() string {
	if v.Null {
		return "NULL"
	}
	switch v.Type.Physical {
	case Bool:
		return fmt.Sprintf("%t", v.Bool)
	case Int8, Int16, Int32, Int64, Decimal, Enum:
		return fmt.Sprintf("%d", v.I64)
	case Int128:
		return fmt.Sprintf("(%d,%d)", v.I128.Hi, v.I128.Lo)
	case UInt8, UInt16, UInt32, UInt64:
		return fmt.Sprintf("%d", v.U64)
	case Float:
		return fmt.Sprintf("%g", v.F32)
	case Double:
		return fmt.Sprintf("%g", v.F64)
	case String:
		return v.Str
	case Timestamp:
		return fmt.Sprintf("ts(%d)", v.TS)
	case Struct:
		return fmt.Sprintf("%v", v.SV)
	case List:
		return fmt.Sprintf("%v", v.LV)
	default:
		return "?"
	}
}

// Equal implements value equality on the underlying physical type. Two
// nulls of the same declared type compare equal; a null never equals a
// non-null.
func Equal(a, b Value) bool {
	if a.Null != b.Null {
		return false
	}
	if a.Null {
		return true
	}
	return Compare(a, b) == 0
}

// Compare orders a relative to b with nulls ordered low. It is the single
// ordering function used by sort, statistics merge, and MVCC-adjacent
// comparisons.
func Compare(a, b Value) int {
	if a.Null && b.Null {
		return 0
	}
	if a.Null {
		return -1
	}
	if b.Null {
		return 1
	}
	switch a.Type.Physical {
	case Bool:
		if a.Bool == b.Bool {
			return 0
		}
		if !a.Bool {
			return -1
		}
		return 1
	case Int8, Int16, Int32, Int64, Decimal, Enum:
		switch {
		case a.I64 < b.I64:
			return -1
		case a.I64 > b.I64:
			return 1
		default:
			return 0
		}
	case Int128:
		return a.I128.Cmp(b.I128)
	case UInt8, UInt16, UInt32, UInt64:
		switch {
		case a.U64 < b.U64:
			return -1
		case a.U64 > b.U64:
			return 1
		default:
			return 0
		}
	case Float:
		return cmpFloat(float64(a.F32), float64(b.F32))
	case Double:
		return cmpFloat(a.F64, b.F64)
	case String:
		return bytes.Compare([]byte(a.Str), []byte(b.Str))
	case Timestamp:
		switch {
		case a.TS < b.TS:
			return -1
		case a.TS > b.TS:
			return 1
		default:
			return 0
		}
	case Struct:
		for i := range a.SV.Values {
			if i >= len(b.SV.Values) {
				return 1
			}
			if c := Compare(a.SV.Values[i], b.SV.Values[i]); c != 0 {
				return c
			}
		}
		return 0
	case List:
		n := len(a.LV.Elems)
		if len(b.LV.Elems) < n {
			n = len(b.LV.Elems)
		}
		for i := 0; i < n; i++ {
			if c := Compare(a.LV.Elems[i], b.LV.Elems[i]); c != 0 {
				return c
			}
		}
		return len(a.LV.Elems) - len(b.LV.Elems)
	default:
		return 0
	}
}

func cmpFloat(a, b float64) int {
	switch {
	case math.IsNaN(a) && math.IsNaN(b):
		return 0
	case math.IsNaN(a):
		return -1
	case math.IsNaN(b):
		return 1
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Hash returns a 64-bit hash suitable for the group-by hash table (§4.6.3).
// Equal values always hash equal; the inverse is not guaranteed.
func Hash(v Value) uint64 {
	h := fnv.New64a()
	if v.Null {
		h.Write([]byte{0xff})
		return h.Sum64()
	}
	switch v.Type.Physical {
	case Bool:
		if v.Bool {
			h.Write([]byte{1})
		} else {
			h.Write([]byte{0})
		}
	case Int8, Int16, Int32, Int64, Decimal, Enum:
		writeU64(h, uint64(v.I64))
	case Int128:
		writeU64(h, uint64(v.I128.Hi))
		writeU64(h, v.I128.Lo)
	case UInt8, UInt16, UInt32, UInt64:
		writeU64(h, v.U64)
	case Float:
		writeU64(h, uint64(math.Float32bits(v.F32)))
	case Double:
		writeU64(h, math.Float64bits(v.F64))
	case String:
		h.Write([]byte(v.Str))
	case Timestamp:
		writeU64(h, uint64(v.TS))
	case Struct:
		for _, c := range v.SV.Values {
			writeU64(h, Hash(c))
		}
	case List:
		for _, c := range v.LV.Elems {
			writeU64(h, Hash(c))
		}
	}
	return h.Sum64()
}

func writeU64(h interface{ Write([]byte) (int, error) }, v uint64) {
	var buf [8]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(v >> (8 * i))
	}
	h.Write(buf[:])
}
