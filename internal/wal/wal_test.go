package wal

import (
	"encoding/binary"
	"hash/crc32"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/ugorji/go/codec"
)

func TestWriteDataThenReadShardRoundTrip(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir, 1)
	require.NoError(t, err)

	id, err := w.WriteData(0, 7, []byte("node"), []byte("params"))
	require.NoError(t, err)
	require.Equal(t, uint64(1), id)

	commitID, err := w.WriteCommit(0, 7)
	require.NoError(t, err)
	require.Equal(t, uint64(2), commitID)
	require.NoError(t, w.Close())

	records, err := ReadShard(filepath.Join(dir, ShardFileName(0)))
	require.NoError(t, err)
	require.Len(t, records, 2)

	require.Equal(t, KindData, records[0].Kind)
	require.Equal(t, uint64(1), records[0].ID)
	require.Equal(t, uint64(7), records[0].TxnID)
	require.Equal(t, []byte("node"), records[0].NodeBlob)
	require.Equal(t, []byte("params"), records[0].ParamsBlob)

	require.Equal(t, KindCommit, records[1].Kind)
	require.Equal(t, uint64(2), records[1].ID)
	require.Equal(t, uint64(7), records[1].TxnID)
}

func TestCorruptFrameIsDroppedNotFatal(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir, 1)
	require.NoError(t, err)
	_, err = w.WriteData(0, 0, []byte("good"), nil)
	require.NoError(t, err)
	_, err = w.WriteCommit(0, 0)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	path := filepath.Join(dir, ShardFileName(0))
	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	// Corrupt the first frame's CRC footer so ReadShard must skip it but
	// still surface the second (intact) frame.
	size := binary.BigEndian.Uint32(raw[0:4])
	crcOffset := 4 + size
	raw[crcOffset] ^= 0xFF
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	records, err := ReadShard(path)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, KindCommit, records[0].Kind)
}

func TestShardForIsDeterministicAndInRange(t *testing.T) {
	w, err := Open(t.TempDir(), 4)
	require.NoError(t, err)
	defer w.Close()

	idx := w.ShardFor("orders")
	require.GreaterOrEqual(t, idx, 0)
	require.Less(t, idx, 4)
	require.Equal(t, idx, w.ShardFor("orders"))
}

func TestShardRoundRobinCyclesThroughShards(t *testing.T) {
	w, err := Open(t.TempDir(), 3)
	require.NoError(t, err)
	defer w.Close()

	seen := map[int]bool{}
	for i := 0; i < 3; i++ {
		seen[w.ShardRoundRobin()] = true
	}
	require.Len(t, seen, 3)
}

func TestWriteFrameChainsCRCFromPriorRecord(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir, 1)
	require.NoError(t, err)
	_, err = w.WriteData(0, 0, []byte("a"), nil)
	require.NoError(t, err)
	_, err = w.WriteData(0, 0, []byte("b"), nil)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	raw, err := os.ReadFile(filepath.Join(dir, ShardFileName(0)))
	require.NoError(t, err)

	size0 := binary.BigEndian.Uint32(raw[0:4])
	payload0 := raw[4 : 4+size0]
	crc0 := crc32.ChecksumIEEE(payload0)

	off1 := 4 + size0 + 4
	size1 := binary.BigEndian.Uint32(raw[off1 : off1+4])
	payload1 := raw[off1+4 : off1+4+size1]

	var raw1 []interface{}
	dec := codec.NewDecoderBytes(payload1, &mh)
	require.NoError(t, dec.Decode(&raw1))
	require.Equal(t, crc0, toUint32(raw1[0]))
}

func toUint32(v interface{}) uint32 {
	switch n := v.(type) {
	case uint32:
		return n
	case uint64:
		return uint32(n)
	case int64:
		return uint32(n)
	default:
		return 0
	}
}
