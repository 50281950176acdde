// Package txn implements the transaction manager (§4.8): global monotonic
// transaction/commit id counters, the active-session map, and
// lowest_active_start_time, the watermark cleanup_versions is bounded by.
//
// Grounded on other_examples' AKJUS-bsc-erigon MDBX-style transaction
// lifecycle bookkeeping (begin/commit/abort under one mutex tracking an
// active-transaction map) and on the SimonWaldherr-tinySQL MVCC reference
// for the txn_id/commit_id numbering scheme spec.md names explicitly.
package txn

import (
	"sync"

	"github.com/google/uuid"

	"github.com/otbx/otbx/internal/oerrors"
	"github.com/otbx/otbx/internal/otlog"
	"github.com/otbx/otbx/internal/rowgroup"
)

var log = otlog.New("txn")

// Data is the transaction_data a session carries for the lifetime of one
// transaction: its id (tentative, >= MaxRowID while uncommitted) and the
// start_time snapshot used by every visibility check it performs.
type Data struct {
	TxnID     rowgroup.TransactionID
	StartTime uint64
}

// SessionID names one logical client session, stable across the
// transactions it runs.
type SessionID = uuid.UUID

// Manager owns the global transaction/commit id counters and the active
// session map. All begin/commit/abort calls serialize under one mutex,
// per §5's "transaction manager serializes begin/commit/abort under a
// single mutex" shared-resource policy.
type Manager struct {
	mu              sync.Mutex
	nextTransaction rowgroup.TransactionID
	nextCommit      rowgroup.CommitID
	active          map[SessionID]Data
}

// New creates a transaction manager with counters at their spec-mandated
// starting points: next_transaction_id = MAX_ROW_ID + 1, next_commit_id = 1.
func New() *Manager {
	return &Manager{
		nextTransaction: rowgroup.MaxRowID + 1,
		nextCommit:      1,
		active:          make(map[SessionID]Data),
	}
}

// Begin starts a new transaction for session, snapshotting start_time as
// the next commit id to be handed out (so the transaction sees everything
// committed strictly before it).
func (m *Manager) Begin(session SessionID) Data {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := Data{TxnID: m.nextTransaction, StartTime: m.nextCommit}
	m.nextTransaction++
	m.active[session] = d
	log.Debugw("begin", "session", session, "txn_id", d.TxnID, "start_time", d.StartTime)
	return d
}

// Commit allocates a commit_id, removes session from the active map, and
// returns the allocated id.
func (m *Manager) Commit(session SessionID) (rowgroup.CommitID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.active[session]; !ok {
		return 0, oerrors.ErrConcurrencyConflict
	}
	id := m.nextCommit
	m.nextCommit++
	delete(m.active, session)
	log.Debugw("commit", "session", session, "commit_id", id)
	return id, nil
}

// Abort removes session from the active map without allocating a commit
// id; its writes must be reverted by the caller (collection.RevertAppend /
// leaving tentative deletes as-is, since they were never visible outside
// the aborting transaction).
func (m *Manager) Abort(session SessionID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.active, session)
	log.Debugw("abort", "session", session)
}

// LowestActiveStartTime returns the minimum start_time among active
// transactions, or the latest allocated commit id if none are active —
// the watermark cleanup_versions may safely rewrite versions older than.
func (m *Manager) LowestActiveStartTime() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.active) == 0 {
		return m.nextCommit - 1
	}
	lowest := ^uint64(0)
	for _, d := range m.active {
		if d.StartTime < lowest {
			lowest = d.StartTime
		}
	}
	return lowest
}

// ActiveCount reports how many transactions are currently active, for
// diagnostics.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}
