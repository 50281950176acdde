package loader

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/otbx/otbx/internal/wal"
)

func TestRecoverReplaysOnlyCommittedAndUncheckpointedRecords(t *testing.T) {
	dir := t.TempDir()
	w, err := wal.Open(dir, 2)
	require.NoError(t, err)

	// Shard 0: an untransacted DDL record (txn_id 0), always replayed.
	ddlID, err := w.WriteData(0, 0, []byte("create-table"), nil)
	require.NoError(t, err)

	// Shard 0: a committed transaction's data + commit marker.
	committedDataID, err := w.WriteData(0, 100, []byte("insert-a"), []byte("p-a"))
	require.NoError(t, err)
	_, err = w.WriteCommit(0, 100)
	require.NoError(t, err)

	// Shard 1: an aborted/never-committed transaction's data, with no
	// matching COMMIT marker anywhere — must be dropped.
	_, err = w.WriteData(1, 200, []byte("insert-b"), []byte("p-b"))
	require.NoError(t, err)

	require.NoError(t, w.Close())

	replay, err := Recover(dir, 2, 0)
	require.NoError(t, err)
	require.Len(t, replay, 2)

	ids := map[uint64]bool{}
	for _, r := range replay {
		ids[r.ID] = true
	}
	require.True(t, ids[ddlID])
	require.True(t, ids[committedDataID])
}

func TestRecoverFiltersOutRecordsAtOrBelowCheckpoint(t *testing.T) {
	dir := t.TempDir()
	w, err := wal.Open(dir, 1)
	require.NoError(t, err)

	first, err := w.WriteData(0, 0, []byte("a"), nil)
	require.NoError(t, err)
	second, err := w.WriteData(0, 0, []byte("b"), nil)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	replay, err := Recover(dir, 1, first)
	require.NoError(t, err)
	require.Len(t, replay, 1)
	require.Equal(t, second, replay[0].ID)
}

func TestRecoverOnMissingShardFilesReturnsEmpty(t *testing.T) {
	dir := t.TempDir()
	replay, err := Recover(dir, 3, 0)
	require.NoError(t, err)
	require.Empty(t, replay)
}

func TestRecoverOrdersReplayByIDAcrossShards(t *testing.T) {
	dir := t.TempDir()
	w, err := wal.Open(dir, 2)
	require.NoError(t, err)

	// Interleave writes across shards; ids are allocated from one global
	// counter so ordering must still come out ascending by id regardless
	// of which shard a record landed in.
	idA, err := w.WriteData(w.ShardRoundRobin(), 0, []byte("a"), nil)
	require.NoError(t, err)
	idB, err := w.WriteData(w.ShardRoundRobin(), 0, []byte("b"), nil)
	require.NoError(t, err)
	idC, err := w.WriteData(w.ShardRoundRobin(), 0, []byte("c"), nil)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	replay, err := Recover(dir, 2, 0)
	require.NoError(t, err)
	require.Len(t, replay, 3)
	require.True(t, replay[0].ID < replay[1].ID)
	require.True(t, replay[1].ID < replay[2].ID)
	require.ElementsMatch(t, []uint64{idA, idB, idC}, []uint64{replay[0].ID, replay[1].ID, replay[2].ID})
}
