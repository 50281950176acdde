package txn

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/otbx/otbx/internal/rowgroup"
)

func TestBeginAllocatesAboveMaxRowID(t *testing.T) {
	m := New()
	d := m.Begin(uuid.New())
	require.GreaterOrEqual(t, d.TxnID, rowgroup.MaxRowID+1)
	require.Equal(t, uint64(1), d.StartTime)
}

func TestCommitAllocatesSequentialIDsAndRemovesSession(t *testing.T) {
	m := New()
	s1 := uuid.New()
	m.Begin(s1)
	id, err := m.Commit(s1)
	require.NoError(t, err)
	require.Equal(t, rowgroup.CommitID(1), id)
	require.Equal(t, 0, m.ActiveCount())

	_, err = m.Commit(s1)
	require.Error(t, err)
}

func TestAbortRemovesSessionWithoutCommitID(t *testing.T) {
	m := New()
	s := uuid.New()
	m.Begin(s)
	m.Abort(s)
	require.Equal(t, 0, m.ActiveCount())
}

func TestLowestActiveStartTimeTracksOldestActiveTxn(t *testing.T) {
	m := New()
	s1, s2 := uuid.New(), uuid.New()
	m.Begin(s1)
	_, err := m.Commit(s1)
	require.NoError(t, err)

	d2 := m.Begin(s2)
	require.Equal(t, d2.StartTime, m.LowestActiveStartTime())

	m.Abort(s2)
	require.Equal(t, uint64(1), m.LowestActiveStartTime())
}
