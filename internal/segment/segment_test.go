package segment

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/otbx/otbx/internal/meta"
	"github.com/otbx/otbx/internal/value"
	"github.com/otbx/otbx/internal/vector"
)

func TestSegmentAppendFlushScanRoundTrip(t *testing.T) {
	m := openTestManager(t)
	ty := value.Simple(value.Int64)

	vec := vector.New(ty, 4)
	vec.SetValue(0, value.Int64Val(1))
	vec.SetValue(1, value.NA(ty))
	vec.SetValue(2, value.Int64Val(3))
	vec.SetValue(3, value.Int64Val(4))

	seg := NewSegment(ty, 0)
	require.NoError(t, seg.Append(vec, 4))
	require.Equal(t, uint64(4), seg.Ptr.TupleCount)
	require.True(t, seg.Stats.HasStats)
	require.Equal(t, int64(1), seg.Stats.Min.I64)
	require.Equal(t, int64(4), seg.Stats.Max.I64)
	require.Equal(t, uint64(1), seg.Stats.NullCount)

	w, err := meta.NewWriter(m)
	require.NoError(t, err)
	require.NoError(t, seg.Flush(w, Uncompressed))
	require.NoError(t, w.Flush())

	seg.buf = nil // force reload through the metadata stream
	got, err := seg.Scan(m)
	require.NoError(t, err)
	require.Equal(t, 4, got.Len())
	require.True(t, got.IsValid(0))
	require.False(t, got.IsValid(1))
	require.Equal(t, int64(4), got.Value(3).I64)
}

func TestSegmentZstdRoundTrip(t *testing.T) {
	m := openTestManager(t)
	ty := value.Simple(value.String)

	vec := vector.New(ty, 3)
	vec.SetValue(0, value.StringVal("hello"))
	vec.SetValue(1, value.StringVal("world"))
	vec.SetValue(2, value.StringVal("!"))

	seg := NewSegment(ty, 0)
	require.NoError(t, seg.Append(vec, 3))

	w, err := meta.NewWriter(m)
	require.NoError(t, err)
	require.NoError(t, seg.Flush(w, Zstd))
	require.NoError(t, w.Flush())

	seg.buf = nil
	got, err := seg.Scan(m)
	require.NoError(t, err)
	require.Equal(t, "hello", got.Value(0).Str)
	require.Equal(t, "world", got.Value(1).Str)
	require.Equal(t, "!", got.Value(2).Str)
}

func TestSegmentSerializeDeserializeRoundTrip(t *testing.T) {
	m := openTestManager(t)
	ty := value.Simple(value.Int64)

	vec := vector.New(ty, 2)
	vec.SetValue(0, value.Int64Val(100))
	vec.SetValue(1, value.Int64Val(200))

	seg := NewSegment(ty, 2048)
	require.NoError(t, seg.Append(vec, 2))

	dataW, err := meta.NewWriter(m)
	require.NoError(t, err)
	require.NoError(t, seg.Flush(dataW, Uncompressed))
	require.NoError(t, dataW.Flush())

	metaW, err := meta.NewWriter(m)
	require.NoError(t, err)
	require.NoError(t, seg.Serialize(metaW))
	require.NoError(t, metaW.Flush())

	r := meta.NewReader(m, metaW.Pointer())
	got, err := DeserializeSegment(r, ty)
	require.NoError(t, err)
	require.Equal(t, uint64(2048), got.Ptr.RowStart)
	require.Equal(t, uint64(2), got.Ptr.TupleCount)
	require.True(t, got.Stats.HasStats)
	require.Equal(t, int64(100), got.Stats.Min.I64)

	vecOut, err := got.Scan(m)
	require.NoError(t, err)
	require.Equal(t, int64(100), vecOut.Value(0).I64)
	require.Equal(t, int64(200), vecOut.Value(1).I64)
}
