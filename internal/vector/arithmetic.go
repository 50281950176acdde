// Arithmetic kernels implement binary +,-,*,/,% and unary negation over
// vectors, with the null and divide-by-zero policy from spec.md §4.5.
// Grounded on erigon-lib/common/math/integer.go's overflow-aware integer
// helpers, generalized from scalar ints to vector kernels.
package vector

import (
	"github.com/otbx/otbx/internal/value"
)

// ArithOp is the closed set of binary arithmetic operators the engine
// evaluates over vectors.
type ArithOp uint8

const (
	Add ArithOp = iota
	Sub
	Mul
	Div
	Mod
)

// resultType promotes the pair (l, r) to a common result type. FLOAT
// promotes to DOUBLE to match PostgreSQL precision; INT128 paired with a
// floating type promotes to DOUBLE.
func resultType(l, r value.PhysicalType) value.LogicalType {
	widen := func(t value.PhysicalType) value.PhysicalType {
		if t == value.Float {
			return value.Double
		}
		return t
	}
	lw, rw := widen(l), widen(r)
	if lw == value.Double || rw == value.Double {
		return value.Simple(value.Double)
	}
	if lw == value.Int128 || rw == value.Int128 {
		return value.Simple(value.Int128)
	}
	if lw == rw {
		return value.Simple(lw)
	}
	// Mixed signed/unsigned or differing widths: widen to the larger
	// signed type, matching the engine's conservative promotion rule.
	return value.Simple(value.Int64)
}

func asFloat64(v *Vector, i int) float64 {
	idx := v.slotIndex(i)
	switch v.Type.Physical {
	case value.Int8, value.Int16, value.Int32, value.Int64, value.Decimal, value.Enum:
		return float64(v.I64Slots[idx])
	case value.Int128:
		return float64(v.I128Slots[idx].Hi)*18446744073709551616.0 + float64(v.I128Slots[idx].Lo)
	case value.UInt8, value.UInt16, value.UInt32, value.UInt64:
		return float64(v.U64Slots[idx])
	case value.Float:
		return float64(v.F32Slots[idx])
	case value.Double:
		return v.F64Slots[idx]
	default:
		return 0
	}
}

func asInt64(v *Vector, i int) int64 {
	idx := v.slotIndex(i)
	switch v.Type.Physical {
	case value.Int8, value.Int16, value.Int32, value.Int64, value.Decimal, value.Enum:
		return v.I64Slots[idx]
	case value.UInt8, value.UInt16, value.UInt32, value.UInt64:
		return int64(v.U64Slots[idx])
	default:
		return 0
	}
}

func isIntegral(t value.PhysicalType) bool {
	switch t {
	case value.Int8, value.Int16, value.Int32, value.Int64, value.Decimal, value.Enum,
		value.UInt8, value.UInt16, value.UInt32, value.UInt64:
		return true
	default:
		return false
	}
}

// BinaryVectorVector evaluates op(left[i], right[i]) for i in [0, n), where
// n is the shared cardinality of left and right (either may be CONSTANT).
func BinaryVectorVector(op ArithOp, left, right *Vector, n int) *Vector {
	rt := resultType(left.Type, right.Type)
	out := New(rt, n)
	integral := isIntegral(left.Type.Physical) && isIntegral(right.Type.Physical) && rt.Physical != value.Double
	for i := 0; i < n; i++ {
		if !left.IsValid(i) || !right.IsValid(i) {
			out.SetNull(i, true)
			continue
		}
		if integral {
			lv, rv := asInt64(left, i), asInt64(right, i)
			res, ok := applyIntOp(op, lv, rv)
			if !ok {
				out.SetNull(i, true)
				continue
			}
			out.I64Slots[i] = res
		} else {
			lv, rv := asFloat64(left, i), asFloat64(right, i)
			res, ok := applyFloatOp(op, lv, rv)
			if !ok {
				out.SetNull(i, true)
				continue
			}
			out.F64Slots[i] = res
		}
	}
	return out
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func applyIntOp(op ArithOp, l, r int64) (int64, bool) {
	switch op {
	case Add:
		return l + r, true
	case Sub:
		return l - r, true
	case Mul:
		return l * r, true
	case Div:
		if r == 0 {
			return 0, false
		}
		return l / r, true
	case Mod:
		if r == 0 {
			return 0, false
		}
		return l % r, true
	default:
		return 0, false
	}
}

func applyFloatOp(op ArithOp, l, r float64) (float64, bool) {
	switch op {
	case Add:
		return l + r, true
	case Sub:
		return l - r, true
	case Mul:
		return l * r, true
	case Div:
		if r == 0 {
			return 0, false
		}
		return l / r, true
	case Mod:
		if r == 0 {
			return 0, false
		}
		return float64(int64(l) % int64(r)), true
	default:
		return 0, false
	}
}

// BinaryVectorScalar evaluates op(left[i], scalar) for each row of left.
func BinaryVectorScalar(op ArithOp, left *Vector, scalar value.Value, n int) *Vector {
	rv := NewConstant(scalar.Type, 1)
	rv.SetValue(0, scalar)
	rv.length = n
	return BinaryVectorVector(op, left, rv, n)
}

// BinaryScalarVector evaluates op(scalar, right[i]) for each row of right.
func BinaryScalarVector(op ArithOp, scalar value.Value, right *Vector, n int) *Vector {
	lv := NewConstant(scalar.Type, 1)
	lv.SetValue(0, scalar)
	lv.length = n
	return BinaryVectorVector(op, lv, right, n)
}

// Negate returns a new vector holding the negation of every valid row of
// v, propagating validity; v itself is left unchanged.
func Negate(v *Vector) *Vector {
	out := New(v.Type, v.Len())
	for i := 0; i < v.Len(); i++ {
		if !v.IsValid(i) {
			out.SetNull(i, true)
			continue
		}
		val := v.Value(i)
		switch v.Type.Physical {
		case value.Int8, value.Int16, value.Int32, value.Int64, value.Decimal:
			val.I64 = -val.I64
		case value.Int128:
			val.I128 = value.Int128{Hi: ^val.I128.Hi, Lo: ^val.I128.Lo + 1}
			if val.I128.Lo == 0 {
				val.I128.Hi++
			}
		case value.Float:
			val.F32 = -val.F32
		case value.Double:
			val.F64 = -val.F64
		}
		out.SetValue(i, val)
	}
	return out
}
