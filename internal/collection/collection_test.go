package collection

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/otbx/otbx/internal/block"
	"github.com/otbx/otbx/internal/meta"
	"github.com/otbx/otbx/internal/rowgroup"
	"github.com/otbx/otbx/internal/value"
	"github.com/otbx/otbx/internal/vector"
)

func openTestManager(t *testing.T) *meta.Manager {
	t.Helper()
	path := filepath.Join(t.TempDir(), "collection.otbx")
	bm, err := block.Open(block.Options{Path: path, PoolCapacity: 64})
	require.NoError(t, err)
	t.Cleanup(func() { bm.Close() })
	return meta.NewManager(bm)
}

func intChunk(vals ...int64) *vector.Chunk {
	ty := value.Simple(value.Int64)
	c := vector.NewChunk([]value.LogicalType{ty})
	vec := vector.New(ty, len(vals))
	for i, v := range vals {
		vec.SetValue(i, value.Int64Val(v))
	}
	_ = c.SetColumns([]*vector.Vector{vec})
	return c
}

func TestAppendSpansMultipleRowGroups(t *testing.T) {
	m := openTestManager(t)
	ty := value.Simple(value.Int64)
	c := New(m, []value.LogicalType{ty})

	vals := make([]int64, rowgroup.Capacity+10)
	for i := range vals {
		vals[i] = int64(i)
	}
	const txn rowgroup.TransactionID = rowgroup.MaxRowID + 1
	require.NoError(t, c.Append(intChunk(vals...), txn))

	require.Equal(t, uint64(len(vals)), c.TotalRows())
	require.Equal(t, 2, c.RowGroupCount())
}

func TestScanAppliesVisibilityAcrossRowGroups(t *testing.T) {
	m := openTestManager(t)
	ty := value.Simple(value.Int64)
	c := New(m, []value.LogicalType{ty})

	vals := make([]int64, rowgroup.Capacity+5)
	for i := range vals {
		vals[i] = int64(i)
	}
	const txn rowgroup.TransactionID = rowgroup.MaxRowID + 1
	require.NoError(t, c.Append(intChunk(vals...), txn))
	c.CommitAppend(1, 0, uint64(len(vals)))

	var seen int
	err := c.Scan([]int{0}, rowgroup.MaxRowID+9, 100, func(chunk *vector.Chunk) bool {
		seen += chunk.Cardinality
		return true
	})
	require.NoError(t, err)
	require.Equal(t, len(vals), seen)
}

func TestDeleteRowsThenScanExcludesThem(t *testing.T) {
	m := openTestManager(t)
	ty := value.Simple(value.Int64)
	c := New(m, []value.LogicalType{ty})
	const txn rowgroup.TransactionID = rowgroup.MaxRowID + 1
	require.NoError(t, c.Append(intChunk(10, 20, 30, 40), txn))
	c.CommitAppend(1, 0, 4)

	const delTxn rowgroup.TransactionID = rowgroup.MaxRowID + 2
	n, err := c.DeleteRows([]int64{1, 3}, delTxn)
	require.NoError(t, err)
	require.Equal(t, uint64(2), n)
	c.CommitAllDeletes(delTxn, 2)

	var got []int64
	err = c.Scan([]int{0}, rowgroup.MaxRowID+9, 100, func(chunk *vector.Chunk) bool {
		got = append(got, chunk.RowIDs...)
		return true
	})
	require.NoError(t, err)
	require.Equal(t, []int64{0, 2}, got)
}

func TestFetchByRowID(t *testing.T) {
	m := openTestManager(t)
	ty := value.Simple(value.Int64)
	c := New(m, []value.LogicalType{ty})
	const txn rowgroup.TransactionID = rowgroup.MaxRowID + 1
	require.NoError(t, c.Append(intChunk(100, 200, 300), txn))

	out, err := c.Fetch([]int{0}, []int64{2, 0})
	require.NoError(t, err)
	require.Equal(t, 2, out.Cardinality)
	require.Equal(t, int64(300), out.Columns[0].Value(0).I64)
	require.Equal(t, int64(100), out.Columns[0].Value(1).I64)
}
