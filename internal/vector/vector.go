// Package vector implements the typed, length-N column representation
// (Vector) and the data chunk that flows between physical operators (§3).
package vector

import (
	"fmt"

	"github.com/otbx/otbx/internal/value"
)

// VectorKind distinguishes a one-slot-per-row FLAT vector from a
// one-slot-broadcast-to-N-rows CONSTANT vector.
type VectorKind uint8

const (
	Flat VectorKind = iota
	Constant
)

// Capacity is the fixed maximum cardinality of a data chunk (§3).
const Capacity = 2048

// Vector is a typed column of logical values plus a validity bitmap. Data
// is stored in a contiguous, type-dispatched slot array (Slots) so kernels
// can access raw storage without going through the Value boxing in the hot
// path; Value/SetValue box and unbox for the operators that need them.
type Vector struct {
	Type     value.LogicalType
	Kind     VectorKind
	Validity *Validity
	length   int

	// Slots holds raw physical storage: one of the typed slices below is
	// populated depending on Type.Physical. For Constant vectors only
	// index 0 is meaningful.
	BoolSlots   []bool
	I64Slots    []int64
	U64Slots    []uint64
	I128Slots   []value.Int128
	F32Slots    []float32
	F64Slots    []float64
	StrSlots    []string
	StructSlots []value.StructValue
	ListSlots   []value.ListValue
}

// New allocates a FLAT vector of the given type and length with all rows
// initially valid.
func New(t value.LogicalType, length int) *Vector {
	v := &Vector{Type: t, Kind: Flat, length: length, Validity: NewValidity(length, true)}
	v.allocSlots(length)
	return v
}

// NewConstant allocates a CONSTANT vector broadcasting one physical slot to
// length logical rows.
func NewConstant(t value.LogicalType, length int) *Vector {
	v := &Vector{Type: t, Kind: Constant, length: length, Validity: NewValidity(1, true)}
	v.allocSlots(1)
	return v
}

func (v *Vector) allocSlots(n int) {
	switch v.Type.Physical {
	case value.Bool:
		v.BoolSlots = make([]bool, n)
	case value.Int8, value.Int16, value.Int32, value.Int64, value.Decimal, value.Enum:
		v.I64Slots = make([]int64, n)
	case value.Int128:
		v.I128Slots = make([]value.Int128, n)
	case value.UInt8, value.UInt16, value.UInt32, value.UInt64:
		v.U64Slots = make([]uint64, n)
	case value.Float:
		v.F32Slots = make([]float32, n)
	case value.Double:
		v.F64Slots = make([]float64, n)
	case value.String:
		v.StrSlots = make([]string, n)
	case value.Timestamp:
		v.I64Slots = make([]int64, n)
	case value.Struct:
		v.StructSlots = make([]value.StructValue, n)
	case value.List:
		v.ListSlots = make([]value.ListValue, n)
	}
}

func (v *Vector) Len() int { return v.length }

func (v *Vector) slotIndex(row int) int {
	if v.Kind == Constant {
		return 0
	}
	return row
}

// IsValid reports whether logical row i is non-null.
func (v *Vector) IsValid(i int) bool {
	return v.Validity.IsValid(v.slotIndex(i))
}

func (v *Vector) SetNull(i int, null bool) {
	v.Validity.SetValid(v.slotIndex(i), !null)
}

// Value boxes logical row i into a value.Value, the bridge used by
// operators that need the general sum type (CASE, comparisons, group keys).
func (v *Vector) Value(i int) value.Value {
	if !v.IsValid(i) {
		return value.NA(v.Type)
	}
	idx := v.slotIndex(i)
	switch v.Type.Physical {
	case value.Bool:
		return value.Value{Type: v.Type, Bool: v.BoolSlots[idx]}
	case value.Int8, value.Int16, value.Int32, value.Int64, value.Decimal, value.Enum:
		return value.Value{Type: v.Type, I64: v.I64Slots[idx]}
	case value.Int128:
		return value.Value{Type: v.Type, I128: v.I128Slots[idx]}
	case value.UInt8, value.UInt16, value.UInt32, value.UInt64:
		return value.Value{Type: v.Type, U64: v.U64Slots[idx]}
	case value.Float:
		return value.Value{Type: v.Type, F32: v.F32Slots[idx]}
	case value.Double:
		return value.Value{Type: v.Type, F64: v.F64Slots[idx]}
	case value.String:
		return value.Value{Type: v.Type, Str: v.StrSlots[idx]}
	case value.Timestamp:
		return value.Value{Type: v.Type, TS: v.I64Slots[idx]}
	case value.Struct:
		return value.Value{Type: v.Type, SV: v.StructSlots[idx]}
	case value.List:
		return value.Value{Type: v.Type, LV: v.ListSlots[idx]}
	default:
		return value.NA(v.Type)
	}
}

// SetValue unboxes val into logical row i. Valid on FLAT vectors, and on
// row 0 of a CONSTANT vector, which sets the one value it broadcasts.
func (v *Vector) SetValue(i int, val value.Value) {
	if v.Kind != Flat && i != 0 {
		panic("SetValue on a CONSTANT vector beyond row 0")
	}
	if val.Null {
		v.SetNull(i, true)
		return
	}
	v.SetNull(i, false)
	switch v.Type.Physical {
	case value.Bool:
		v.BoolSlots[i] = val.Bool
	case value.Int8, value.Int16, value.Int32, value.Int64, value.Decimal, value.Enum:
		v.I64Slots[i] = val.I64
	case value.Int128:
		v.I128Slots[i] = val.I128
	case value.UInt8, value.UInt16, value.UInt32, value.UInt64:
		v.U64Slots[i] = val.U64
	case value.Float:
		v.F32Slots[i] = val.F32
	case value.Double:
		v.F64Slots[i] = val.F64
	case value.String:
		v.StrSlots[i] = val.Str
	case value.Timestamp:
		v.I64Slots[i] = val.TS
	case value.Struct:
		v.StructSlots[i] = val.SV
	case value.List:
		v.ListSlots[i] = val.LV
	}
}

// Flatten returns v itself if it is already FLAT, otherwise materializes a
// FLAT vector broadcasting the constant value to all length rows.
func (v *Vector) Flatten() *Vector {
	if v.Kind == Flat {
		return v
	}
	out := New(v.Type, v.length)
	val := v.Value(0)
	for i := 0; i < v.length; i++ {
		out.SetValue(i, val)
	}
	return out
}

// Gather builds a new FLAT vector selecting the rows named by idx (a
// row-index vector), implementing chunk slicing by an index vector.
func (v *Vector) Gather(idx []int64) *Vector {
	src := v.Flatten()
	out := New(v.Type, len(idx))
	for i, row := range idx {
		out.SetValue(i, src.Value(int(row)))
	}
	return out
}

// Slice returns rows [start, start+n) as a new FLAT vector.
func (v *Vector) Slice(start, n int) *Vector {
	src := v.Flatten()
	out := New(v.Type, n)
	for i := 0; i < n; i++ {
		out.SetValue(i, src.Value(start+i))
	}
	return out
}

func (v *Vector) String() string {
	return fmt.Sprintf("Vector(%s, len=%d, kind=%d)", v.Type, v.length, v.Kind)
}
