package vector

import (
	"testing"

	"github.com/otbx/otbx/internal/value"
	"github.com/stretchr/testify/require"
)

func TestDivideByZeroNullsRow(t *testing.T) {
	a := New(value.Simple(value.Int32), 2)
	a.SetValue(0, value.Int64Val(10))
	a.SetValue(1, value.Int64Val(20))
	b := New(value.Simple(value.Int32), 2)
	b.SetValue(0, value.Int64Val(0))
	b.SetValue(1, value.Int64Val(4))

	out := BinaryVectorVector(Div, a, b, 2)
	require.False(t, out.IsValid(0))
	require.True(t, out.IsValid(1))
	require.Equal(t, int64(5), out.I64Slots[1])
}

func TestNullPropagatesThroughArithmetic(t *testing.T) {
	a := New(value.Simple(value.Int64), 1)
	a.SetNull(0, true)
	b := New(value.Simple(value.Int64), 1)
	b.SetValue(0, value.Int64Val(3))
	out := BinaryVectorVector(Add, a, b, 1)
	require.False(t, out.IsValid(0))
}

func TestFloatPromotesToDouble(t *testing.T) {
	a := New(value.Simple(value.Float), 1)
	a.SetValue(0, value.Value{Type: value.Simple(value.Float), F32: 1.5})
	b := New(value.Simple(value.Int64), 1)
	b.SetValue(0, value.Int64Val(2))
	out := BinaryVectorVector(Add, a, b, 1)
	require.Equal(t, value.Double, out.Type.Physical)
	require.InDelta(t, 3.5, out.F64Slots[0], 1e-9)
}

func TestNegatePreservesValidity(t *testing.T) {
	v := New(value.Simple(value.Int64), 2)
	v.SetValue(0, value.Int64Val(5))
	v.SetNull(1, true)
	out := Negate(v)
	require.Equal(t, int64(-5), out.I64Slots[0])
	require.False(t, out.IsValid(1))
}
