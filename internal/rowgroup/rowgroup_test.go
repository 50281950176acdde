package rowgroup

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/otbx/otbx/internal/block"
	"github.com/otbx/otbx/internal/meta"
	"github.com/otbx/otbx/internal/segment"
	"github.com/otbx/otbx/internal/value"
	"github.com/otbx/otbx/internal/vector"
)

func openTestManager(t *testing.T) *meta.Manager {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rg.otbx")
	bm, err := block.Open(block.Options{Path: path, PoolCapacity: 32})
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

func TestAppendAndScanVisibility(t *testing.T) {
	ty := value.Simple(value.Int64)
	rg := New(0, []value.LogicalType{ty})

	const txn TransactionID = MaxRowID + 1
	n, err := rg.Append(intChunk(10, 20, 30), 0, 3, txn)
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.Equal(t, uint64(3), rg.Count)

	// Not yet committed: invisible to a different reader whose snapshot
	// started before this transaction's writes landed.
	require.False(t, rg.Visible(0, MaxRowID+2, 0))
	// Visible to the inserting transaction itself.
	require.True(t, rg.Visible(0, txn, 0))

	rg.CommitAppend(5, 0, 3)
	require.True(t, rg.Visible(0, MaxRowID+2, 100))
}

func TestDeleteRowHidesFromLaterScans(t *testing.T) {
	ty := value.Simple(value.Int64)
	rg := New(0, []value.LogicalType{ty})
	const txn TransactionID = MaxRowID + 1
	_, err := rg.Append(intChunk(1, 2, 3), 0, 3, txn)
	require.NoError(t, err)
	rg.CommitAppend(1, 0, 3)

	const delTxn TransactionID = MaxRowID + 2
	require.NoError(t, rg.DeleteRow(1, delTxn))
	require.False(t, rg.Visible(1, delTxn, 50))      // hidden from the deleter itself
	require.True(t, rg.Visible(1, MaxRowID+3, 50))   // uncommitted delete: unaffected elsewhere

	rg.CommitAllDeletes(delTxn, 2)
	require.False(t, rg.Visible(1, MaxRowID+3, 50)) // now deleted as of commit_id 2
	require.True(t, rg.Visible(0, MaxRowID+3, 50))
}

func TestRevertAppendHidesRowsPermanently(t *testing.T) {
	ty := value.Simple(value.Int64)
	rg := New(0, []value.LogicalType{ty})
	const txn TransactionID = MaxRowID + 1
	_, err := rg.Append(intChunk(1, 2), 0, 2, txn)
	require.NoError(t, err)

	rg.RevertAppend(0, 2)
	require.False(t, rg.Visible(0, txn, 50))
	require.False(t, rg.Visible(0, MaxRowID+9, 50))
}

func TestScanGathersOnlyVisibleRows(t *testing.T) {
	m := openTestManager(t)
	ty := value.Simple(value.Int64)
	rg := New(0, []value.LogicalType{ty})
	const txn TransactionID = MaxRowID + 1
	_, err := rg.Append(intChunk(100, 200, 300), 0, 3, txn)
	require.NoError(t, err)
	rg.CommitAppend(1, 0, 3)
	require.NoError(t, rg.DeleteRow(1, MaxRowID+5))
	rg.CommitAllDeletes(MaxRowID+5, 2)

	out, err := rg.Scan(m, []int{0}, MaxRowID+9, 50)
	require.NoError(t, err)
	require.Equal(t, 2, out.Cardinality)
	require.Equal(t, int64(100), out.Columns[0].Value(0).I64)
	require.Equal(t, int64(300), out.Columns[0].Value(1).I64)
	require.Equal(t, []int64{0, 2}, out.RowIDs)
}

func TestCheckpointLoadRoundTrip(t *testing.T) {
	m := openTestManager(t)
	ty := value.Simple(value.Int64)
	rg := New(0, []value.LogicalType{ty})
	const txn TransactionID = MaxRowID + 1
	_, err := rg.Append(intChunk(7, 8, 9), 0, 3, txn)
	require.NoError(t, err)
	rg.CommitAppend(1, 0, 3)

	dataW, err := meta.NewWriter(m)
	require.NoError(t, err)
	metaW, err := meta.NewWriter(m)
	require.NoError(t, err)
	root, err := rg.Checkpoint(m, dataW, metaW, segment.Uncompressed)
	require.NoError(t, err)
	require.NoError(t, dataW.Flush())
	require.NoError(t, metaW.Flush())

	loaded, err := Load(m, root, []value.LogicalType{ty})
	require.NoError(t, err)
	require.Equal(t, rg.Start, loaded.Start)
	require.Equal(t, rg.Count, loaded.Count)

	out, err := loaded.Scan(m, []int{0}, MaxRowID+9, 100)
	require.NoError(t, err)
	require.Equal(t, 3, out.Cardinality)
	require.Equal(t, int64(7), out.Columns[0].Value(0).I64)
	require.Equal(t, int64(9), out.Columns[0].Value(2).I64)
}
