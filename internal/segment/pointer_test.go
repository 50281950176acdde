package segment

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/otbx/otbx/internal/meta"
)

func TestPointerSerializeRoundTrip(t *testing.T) {
	m := openTestManager(t)

	w, err := meta.NewWriter(m)
	require.NoError(t, err)

	dataW, err := meta.NewWriter(m)
	require.NoError(t, err)
	require.NoError(t, dataW.WriteUint64(0))
	require.NoError(t, dataW.Flush())

	p := Pointer{
		RowStart:    4096,
		TupleCount:  2048,
		Start:       dataW.Pointer(),
		Compression: Zstd,
		SegmentSize: 128,
	}
	require.NoError(t, p.Serialize(w))
	require.NoError(t, w.Flush())

	r := meta.NewReader(m, w.Pointer())
	got, err := DeserializePointer(r)
	require.NoError(t, err)
	require.Equal(t, p.RowStart, got.RowStart)
	require.Equal(t, p.TupleCount, got.TupleCount)
	require.Equal(t, p.Compression, got.Compression)
	require.Equal(t, p.SegmentSize, got.SegmentSize)
	require.Equal(t, p.Start.BlockID, got.Start.BlockID)
	require.Equal(t, p.Start.Offset, got.Start.Offset)
}
