package value

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCompareNullsOrderLow(t *testing.T) {
	cases := []struct {
		name     string
		a, b     Value
		expected int
	}{
		{"null-lt-int", NA(Simple(Int64)), Int64Val(0), -1},
		{"int-gt-null", Int64Val(5), NA(Simple(Int64)), 1},
		{"null-eq-null", NA(Simple(Int64)), NA(Simple(Int64)), 0},
		{"string-order", StringVal("a"), StringVal("b"), -1},
		{"double-order", DoubleVal(1.5), DoubleVal(1.5), 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.expected, Compare(tc.a, tc.b))
		})
	}
}

func TestEqualRespectsNullFlag(t *testing.T) {
	require.True(t, Equal(NA(Simple(Int64)), NA(Simple(Int64))))
	require.False(t, Equal(NA(Simple(Int64)), Int64Val(0)))
	require.True(t, Equal(Int64Val(7), Int64Val(7)))
}

func TestInt128Cmp(t *testing.T) {
	a := Int128FromInt64(-1)
	b := Int128FromInt64(1)
	require.Equal(t, -1, a.Cmp(b))
	require.Equal(t, 1, b.Cmp(a))
	require.Equal(t, 0, a.Cmp(Int128FromInt64(-1)))
}

func TestHashStableForEqualValues(t *testing.T) {
	require.Equal(t, Hash(Int64Val(42)), Hash(Int64Val(42)))
	require.NotEqual(t, Hash(Int64Val(42)), Hash(Int64Val(43)))
}
