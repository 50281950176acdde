// Package rowgroup implements the row group (§4.3): a fixed-capacity
// horizontal slice of a table holding one column-segment chain per column,
// a delete bitmap, a version chain for MVCC, and per-column statistics.
//
// Grounded on _examples/original_source/components/table/collection.hpp
// (the row_group_t / row_group_segment_tree_t shapes it declares) and on
// other_examples' SimonWaldherr-tinySQL internal-storage-mvcc.go and
// kelindar-column txn.go for the visible/not-deleted predicate idiom in Go.
package rowgroup

import "github.com/RoaringBitmap/roaring/v2"

// Capacity is the fixed row-group size (§4.3): row_group_size defaults to
// vector::DEFAULT_VECTOR_CAPACITY in the original, which this module's
// vector package also uses as its chunk Capacity.
const Capacity = 2048

// MaxRowID is the boundary spec.md's MVCC section names: inserted_at and
// deleted_at values at or above this threshold are transaction ids (not yet
// committed); values below it are committed commit_ids. Transaction ids are
// allocated starting at MaxRowID+1 so the two spaces never collide.
const MaxRowID uint64 = 1 << 62

// NotDeleted is the deleted_at sentinel for a row that has never been
// deleted.
const NotDeleted uint64 = ^uint64(0)

// Never is the inserted_at sentinel revert_append writes: the row remains
// physically present (until compaction) but is never visible to any
// transaction.
const Never uint64 = ^uint64(0) - 1

// TransactionID names a tentative, uncommitted writer.
type TransactionID = uint64

// CommitID names a committed transaction's serial position.
type CommitID = uint64

// versions tracks per-row MVCC visibility for one row group: insertedAt[i]
// is the txn_id (tentative) or commit_id that made row i visible;
// deletedAt[i] is NotDeleted, a txn_id (tentative), or a commit_id.
// deleted is a roaring bitmap mirroring "deletedAt[i] != NotDeleted":
// deletes are never un-set once marked (there is no revert-delete, only
// revert-append), so it is a monotonically-growing fast path Visible uses
// to skip the deletedAt comparison entirely for the common case of a row
// group with no deletes at all.
type versions struct {
	insertedAt []uint64
	deletedAt  []uint64
	deleted    *roaring.Bitmap
}

func newVersions(n int, insertedBy TransactionID) *versions {
	v := &versions{
		insertedAt: make([]uint64, n),
		deletedAt:  make([]uint64, n),
		deleted:    roaring.New(),
	}
	for i := range v.insertedAt {
		v.insertedAt[i] = insertedBy
		v.deletedAt[i] = NotDeleted
	}
	return v
}

func (v *versions) grow(n int, insertedBy TransactionID) {
	start := len(v.insertedAt)
	v.insertedAt = append(v.insertedAt, make([]uint64, n)...)
	v.deletedAt = append(v.deletedAt, make([]uint64, n)...)
	for i := start; i < len(v.insertedAt); i++ {
		v.insertedAt[i] = insertedBy
		v.deletedAt[i] = NotDeleted
	}
}

// visible implements the predicate spec.md §4.3 gives for a scan under
// transaction (txnID, startTime): inserted before the scan started, or
// inserted by this very transaction; and neither deleted before the scan
// started nor deleted by this very transaction.
func (v *versions) visible(offset int, txnID TransactionID, startTime uint64) bool {
	ins := v.insertedAt[offset]
	insertedVisible := ins < startTime || ins == txnID
	if !insertedVisible {
		return false
	}
	if !v.deleted.Contains(uint32(offset)) {
		return true
	}
	del := v.deletedAt[offset]
	notDeletedVisible := del == NotDeleted || (del > startTime && del != txnID)
	return notDeletedVisible
}

// markDeleted records a tentative delete by txnID at offset.
func (v *versions) markDeleted(offset int, txnID TransactionID) {
	v.deletedAt[offset] = txnID
	v.deleted.Add(uint32(offset))
}

// commitAppend rewrites inserted_at for [start, start+n) from txnID to
// commitID, the transition a tentative append makes once its transaction
// commits.
func (v *versions) commitAppend(commitID CommitID, start, n int) {
	for i := start; i < start+n && i < len(v.insertedAt); i++ {
		v.insertedAt[i] = commitID
	}
}

// revertAppend marks [start, start+n) as Never visible: the rollback path
// for an append whose transaction aborted.
func (v *versions) revertAppend(start, n int) {
	for i := start; i < start+n && i < len(v.insertedAt); i++ {
		v.insertedAt[i] = Never
	}
}

// commitAllDeletes rewrites every deleted_at[i] == txnID to commitID.
func (v *versions) commitAllDeletes(txnID TransactionID, commitID CommitID) int {
	n := 0
	for i, d := range v.deletedAt {
		if d == txnID {
			v.deletedAt[i] = commitID
			n++
		}
	}
	return n
}

// cleanupVersions rewrites entries older than lowestActiveStartTime to a
// small constant (0 for inserted_at, NotDeleted left alone if the row was
// never deleted) to cap versioning overhead, per §4.3's cleanup_versions.
func (v *versions) cleanupVersions(lowestActiveStartTime uint64) {
	for i, ins := range v.insertedAt {
		if ins < MaxRowID && ins < lowestActiveStartTime {
			v.insertedAt[i] = 0
		}
	}
}
