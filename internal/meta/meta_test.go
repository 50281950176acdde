package meta

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/otbx/otbx/internal/block"
	"github.com/stretchr/testify/require"
)

func openTestManager(t *testing.T) *Manager {
	t.Helper()
	path := filepath.Join(t.TempDir(), "meta.otbx")
	bm, err := block.Open(block.Options{Path: path, PoolCapacity: 16})
	require.NoError(t, err)
	t.Cleanup(func() { bm.Close() })
	return NewManager(bm)
}

func TestWriteReadRoundTripSingleSubBlock(t *testing.T) {
	m := openTestManager(t)
	w, err := NewWriter(m)
	require.NoError(t, err)
	require.NoError(t, w.WriteUint32(42))
	require.NoError(t, w.WriteString("hello"))
	require.NoError(t, w.WriteUint64(0xdeadbeef))
	require.NoError(t, w.Flush())

	r := NewReader(m, w.Pointer())
	v32, err := r.ReadUint32()
	require.NoError(t, err)
	require.Equal(t, uint32(42), v32)
	s, err := r.ReadString()
	require.NoError(t, err)
	require.Equal(t, "hello", s)
	v64, err := r.ReadUint64()
	require.NoError(t, err)
	require.Equal(t, uint64(0xdeadbeef), v64)
}

func TestWriteReadSpillsAcrossSubBlocks(t *testing.T) {
	m := openTestManager(t)
	w, err := NewWriter(m)
	require.NoError(t, err)

	big := strings.Repeat("x", int(m.SubBlockSize())*3+17)
	require.NoError(t, w.WriteString(big))
	require.NoError(t, w.Flush())

	r := NewReader(m, w.Pointer())
	got, err := r.ReadString()
	require.NoError(t, err)
	require.Equal(t, big, got)
}

func TestWriteReadSpillsAcrossBlocks(t *testing.T) {
	m := openTestManager(t)
	w, err := NewWriter(m)
	require.NoError(t, err)

	total := int(m.SubBlockSize()) * subBlocksPerBlock * 2
	big := strings.Repeat("y", total)
	require.NoError(t, w.WriteString(big))
	require.NoError(t, w.Flush())

	r := NewReader(m, w.Pointer())
	got, err := r.ReadString()
	require.NoError(t, err)
	require.Equal(t, big, got)
}
