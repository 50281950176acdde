package rowgroup

import (
	"fmt"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/otbx/otbx/internal/block"
	"github.com/otbx/otbx/internal/meta"
	"github.com/otbx/otbx/internal/segment"
	"github.com/otbx/otbx/internal/value"
	"github.com/otbx/otbx/internal/vector"
)

// RowGroup is a fixed-capacity (Capacity-row) horizontal slice of one
// table (§4.3): per-column segment chains, per-column statistics, and the
// MVCC version vectors that govern visibility.
type RowGroup struct {
	Start   int64
	Count   uint64
	Types   []value.LogicalType
	Columns []*segment.Segment
	vers    *versions
}

// New creates an empty row group starting at startRow, ready to receive an
// append under the owning transaction's id.
func New(startRow int64, types []value.LogicalType) *RowGroup {
	cols := make([]*segment.Segment, len(types))
	for i, t := range types {
		cols[i] = segment.NewSegment(t, uint64(startRow))
	}
	return &RowGroup{Start: startRow, Types: types, Columns: cols, vers: newVersions(0, 0)}
}

// Room reports how many additional rows this row group can accept before
// reaching Capacity.
func (rg *RowGroup) Room() int {
	return Capacity - int(rg.Count)
}

// Append writes up to n rows (n <= Room()) of chunk's columns onto this row
// group's segments, marking them tentatively inserted by txnID. Returns the
// number of rows actually appended.
func (rg *RowGroup) Append(chunk *vector.Chunk, offset, n int, txnID TransactionID) (int, error) {
	if n > rg.Room() {
		n = rg.Room()
	}
	if n <= 0 {
		return 0, nil
	}
	if len(chunk.Columns) != len(rg.Columns) {
		return 0, fmt.Errorf("rowgroup: append column count mismatch: chunk has %d, row group has %d",
			len(chunk.Columns), len(rg.Columns))
	}
	for i, col := range rg.Columns {
		src := chunk.Columns[i]
		var sliced *vector.Vector
		if offset == 0 && n == src.Len() {
			sliced = src
		} else {
			sliced = src.Slice(offset, n)
		}
		if err := col.Append(sliced, n); err != nil {
			return 0, err
		}
	}
	rg.vers.grow(n, txnID)
	rg.Count += uint64(n)
	return n, nil
}

// Visible reports whether the row at local offset is visible to a scan run
// under (txnID, startTime), per §4.3's MVCC predicate.
func (rg *RowGroup) Visible(offset int, txnID TransactionID, startTime uint64) bool {
	if offset < 0 || offset >= len(rg.vers.insertedAt) {
		return false
	}
	return rg.vers.visible(offset, txnID, startTime)
}

// CommitAppend rewrites inserted_at for local rows [start, start+n) from
// txnID to commitID.
func (rg *RowGroup) CommitAppend(commitID CommitID, start, n int) {
	rg.vers.commitAppend(commitID, start, n)
}

// RevertAppend marks local rows [start, start+n) as never visible.
func (rg *RowGroup) RevertAppend(start, n int) {
	rg.vers.revertAppend(start, n)
}

// CommitAllDeletes rewrites every deleted_at[i] == txnID to commitID,
// returning how many rows were affected.
func (rg *RowGroup) CommitAllDeletes(txnID TransactionID, commitID CommitID) int {
	return rg.vers.commitAllDeletes(txnID, commitID)
}

// DeleteRow marks the row at local offset deleted by txnID.
func (rg *RowGroup) DeleteRow(offset int, txnID TransactionID) error {
	if offset < 0 || offset >= len(rg.vers.deletedAt) {
		return fmt.Errorf("rowgroup: delete offset %d out of range [0,%d)", offset, len(rg.vers.deletedAt))
	}
	rg.vers.markDeleted(offset, txnID)
	return nil
}

// CleanupVersions caps versioning overhead for entries committed before
// lowestActiveStartTime.
func (rg *RowGroup) CleanupVersions(lowestActiveStartTime uint64) {
	rg.vers.cleanupVersions(lowestActiveStartTime)
}

// Scan materializes the requested columns for every row visible under
// (txnID, startTime), returning a chunk whose RowIDs name each row's
// absolute position (rg.Start + local offset).
func (rg *RowGroup) Scan(mm *meta.Manager, columnIDs []int, txnID TransactionID, startTime uint64) (*vector.Chunk, error) {
	types := make([]value.LogicalType, len(columnIDs))
	materialized := make([]*vector.Vector, len(columnIDs))
	for i, ci := range columnIDs {
		types[i] = rg.Types[ci]
		v, err := rg.Columns[ci].Scan(mm)
		if err != nil {
			return nil, err
		}
		materialized[i] = v
	}

	var visibleIdx []int64
	for offset := 0; offset < int(rg.Count); offset++ {
		if rg.Visible(offset, txnID, startTime) {
			visibleIdx = append(visibleIdx, int64(offset))
		}
	}

	out := vector.NewChunk(types)
	cols := make([]*vector.Vector, len(columnIDs))
	for i, v := range materialized {
		cols[i] = v.Gather(visibleIdx)
	}
	if err := out.SetColumns(cols); err != nil {
		return nil, err
	}
	rowIDs := make([]int64, len(visibleIdx))
	for i, off := range visibleIdx {
		rowIDs[i] = rg.Start + off
	}
	out.RowIDs = rowIDs
	return out, nil
}

// Fetch gathers specific local offsets (already resolved from absolute row
// ids by the caller) for the requested columns, bypassing visibility
// filtering — used by the index/update path that fetches by known id.
func (rg *RowGroup) Fetch(mm *meta.Manager, columnIDs []int, offsets []int64) (*vector.Chunk, error) {
	types := make([]value.LogicalType, len(columnIDs))
	cols := make([]*vector.Vector, len(columnIDs))
	for i, ci := range columnIDs {
		types[i] = rg.Types[ci]
		v, err := rg.Columns[ci].Scan(mm)
		if err != nil {
			return nil, err
		}
		cols[i] = v.Gather(offsets)
	}
	out := vector.NewChunk(types)
	if err := out.SetColumns(cols); err != nil {
		return nil, err
	}
	return out, nil
}

// rowGroupPointer is the on-disk row_group_pointer_t: start, count, each
// column's segment pointer+statistics, and a separate deletes chain
// (SPEC_FULL.md's supplemented feature keeping deletes_pointers apart from
// the column segment chain).
type rowGroupPointer struct {
	start   int64
	count   uint64
	deletes meta.Pointer
}

// Checkpoint serializes this row group's segments (flushing any
// still-in-memory column data through dataW with codec) and writes a
// row_group_pointer_t to metaW, returning the pointer callers persist as
// the collection's on-disk row-group-tree entry.
func (rg *RowGroup) Checkpoint(mm *meta.Manager, dataW, metaW *meta.Writer, codec segment.CompressionCode) (meta.Pointer, error) {
	for _, col := range rg.Columns {
		if col.Ptr.SegmentSize == 0 {
			if err := col.Flush(dataW, codec); err != nil {
				return meta.Pointer{}, err
			}
		}
	}
	deletesW, err := meta.NewWriter(mm)
	if err != nil {
		return meta.Pointer{}, err
	}
	if err := writeDeletes(deletesW, rg.vers); err != nil {
		return meta.Pointer{}, err
	}

	root := metaW.Pointer()
	if err := metaW.WriteUint64(uint64(rg.Start)); err != nil {
		return root, err
	}
	if err := metaW.WriteUint64(rg.Count); err != nil {
		return root, err
	}
	if err := metaW.WriteUint64(uint64(deletesW.Pointer().BlockID)); err != nil {
		return root, err
	}
	if err := metaW.WriteUint32(deletesW.Pointer().Offset); err != nil {
		return root, err
	}
	for _, col := range rg.Columns {
		if err := col.Serialize(metaW); err != nil {
			return root, err
		}
	}
	return root, nil
}

func writeDeletes(w *meta.Writer, v *versions) error {
	if err := w.WriteUint64(uint64(len(v.insertedAt))); err != nil {
		return err
	}
	for _, ins := range v.insertedAt {
		if err := w.WriteUint64(ins); err != nil {
			return err
		}
	}
	for _, del := range v.deletedAt {
		if err := w.WriteUint64(del); err != nil {
			return err
		}
	}
	return nil
}

// Load reconstructs a row group from its row_group_pointer_t root.
func Load(mm *meta.Manager, root meta.Pointer, types []value.LogicalType) (*RowGroup, error) {
	r := meta.NewReader(mm, root)
	start, err := r.ReadUint64()
	if err != nil {
		return nil, err
	}
	count, err := r.ReadUint64()
	if err != nil {
		return nil, err
	}
	delBlock, err := r.ReadUint64()
	if err != nil {
		return nil, err
	}
	delOffset, err := r.ReadUint32()
	if err != nil {
		return nil, err
	}
	cols := make([]*segment.Segment, len(types))
	for i, t := range types {
		seg, err := segment.DeserializeSegment(r, t)
		if err != nil {
			return nil, err
		}
		cols[i] = seg
	}
	v, err := readDeletes(mm, meta.Pointer{BlockID: block.ID(delBlock), Offset: delOffset})
	if err != nil {
		return nil, err
	}
	return &RowGroup{Start: int64(start), Count: count, Types: types, Columns: cols, vers: v}, nil
}

func readDeletes(mm *meta.Manager, ptr meta.Pointer) (*versions, error) {
	r := meta.NewReader(mm, ptr)
	n, err := r.ReadUint64()
	if err != nil {
		return nil, err
	}
	v := &versions{insertedAt: make([]uint64, n), deletedAt: make([]uint64, n), deleted: roaring.New()}
	for i := range v.insertedAt {
		if v.insertedAt[i], err = r.ReadUint64(); err != nil {
			return nil, err
		}
	}
	for i := range v.deletedAt {
		if v.deletedAt[i], err = r.ReadUint64(); err != nil {
			return nil, err
		}
		if v.deletedAt[i] != NotDeleted {
			v.deleted.Add(uint32(i))
		}
	}
	return v, nil
}
