package block

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCreateOpenRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.otbx")

	m, err := Open(Options{Path: path, AllocSize: DefaultAllocSize, PoolCapacity: 8})
	require.NoError(t, err)

	id := m.AllocateBlock()
	buf := make([]byte, m.AllocSize())
	copy(buf[8:], []byte("hello row group"))
	require.NoError(t, m.Write(buf, id))
	require.NoError(t, m.WriteHeader())
	require.NoError(t, m.Close())

	m2, err := Open(Options{Path: path, AllocSize: DefaultAllocSize, PoolCapacity: 8})
	require.NoError(t, err)
	defer m2.Close()

	got, err := m2.Read(id)
	require.NoError(t, err)
	require.Equal(t, []byte("hello row group"), got[8:8+len("hello row group")])
}

func TestChecksumMismatchIsFatal(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "corrupt.otbx")
	m, err := Open(Options{Path: path, PoolCapacity: 4})
	require.NoError(t, err)
	id := m.AllocateBlock()
	buf := make([]byte, m.AllocSize())
	require.NoError(t, m.Write(buf, id))

	// Corrupt the payload directly on disk, bypassing the pool cache, then
	// force the pool to forget the block so Read must go to disk.
	m.pool.evict(id)
	corrupt := make([]byte, m.AllocSize())
	copy(corrupt, buf)
	corrupt[100] ^= 0xFF
	loc := m.blockLocation(id)
	_, err = m.file.WriteAt(corrupt, loc)
	require.NoError(t, err)

	_, err = m.Read(id)
	require.Error(t, err)
	m.Close()
}

func TestAllocateBlockReusesFreedLowestID(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "alloc.otbx")
	m, err := Open(Options{Path: path, PoolCapacity: 4})
	require.NoError(t, err)
	defer m.Close()

	a := m.AllocateBlock()
	b := m.AllocateBlock()
	m.MarkFree(a)
	c := m.AllocateBlock()
	require.Equal(t, a, c)
	require.NotEqual(t, b, c)
}
