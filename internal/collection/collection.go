// Package collection implements the row-group segment tree and the
// collection-level operations that sit above it (§4.4): append, scan,
// fetch, delete, update, and the commit/revert/cleanup calls a transaction
// manager drives at commit and abort time.
//
// Grounded on
// _examples/original_source/components/table/collection.hpp (the
// collection_t / row_group_segment_tree_t API surface) and on
// other_examples' polarsignals-arcticdb table.go / garrensmith-frostdb
// table.go for the Go idiom of a granule-ordered, lock-guarded append path
// over an immutable-segment storage layer.
package collection

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/tidwall/btree"

	"github.com/otbx/otbx/internal/meta"
	"github.com/otbx/otbx/internal/otlog"
	"github.com/otbx/otbx/internal/rowgroup"
	"github.com/otbx/otbx/internal/segment"
	"github.com/otbx/otbx/internal/value"
	"github.com/otbx/otbx/internal/vector"
)

var log = otlog.New("collection")

// less orders row groups by their absolute start row, keeping the tree
// dense: row_group[i].start + row_group[i].count == row_group[i+1].start
// for every row group but the last, partial one (§4.4's invariant).
func less(a, b *rowgroup.RowGroup) bool { return a.Start < b.Start }

// Collection holds an ordered row-group segment tree keyed by start row,
// supporting lookup by absolute row id and forward iteration for scans.
type Collection struct {
	mm    *meta.Manager
	types []value.LogicalType

	mu        sync.Mutex // guards appendLock semantics: serializes append/new-row-group creation
	tree      *btree.BTreeG[*rowgroup.RowGroup]
	totalRows atomic.Uint64
}

// New creates an empty collection over the given column types.
func New(mm *meta.Manager, types []value.LogicalType) *Collection {
	return &Collection{
		mm:   mm,
		types: append([]value.LogicalType(nil), types...),
		tree: btree.NewBTreeG(less),
	}
}

func (c *Collection) TotalRows() uint64 { return c.totalRows.Load() }

func (c *Collection) IsEmpty() bool { return c.totalRows.Load() == 0 }

// lastRowGroup returns the highest-start row group, or nil if the tree is
// empty.
func (c *Collection) lastRowGroup() *rowgroup.RowGroup {
	var last *rowgroup.RowGroup
	c.tree.Scan(func(rg *rowgroup.RowGroup) bool {
		last = rg
		return true
	})
	return last
}

// rowGroupFor returns the row group whose range contains absolute row id,
// or nil if none does.
func (c *Collection) rowGroupFor(rowID int64) *rowgroup.RowGroup {
	var found *rowgroup.RowGroup
	c.tree.Descend(&rowgroup.RowGroup{Start: rowID}, func(rg *rowgroup.RowGroup) bool {
		if rowID >= rg.Start && rowID < rg.Start+int64(rg.Count) {
			found = rg
		}
		return false
	})
	return found
}

// Append appends chunk's rows to the collection under txnID, creating new
// row groups as the current tail fills past rowgroup.Capacity, and
// advancing total_rows atomically. Matches §4.4's append(chunk, state).
func (c *Collection) Append(chunk *vector.Chunk, txnID rowgroup.TransactionID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	remaining := chunk.Cardinality
	offset := 0
	for remaining > 0 {
		tail := c.lastRowGroup()
		if tail == nil || tail.Room() == 0 {
			start := int64(c.totalRows.Load())
			tail = rowgroup.New(start, c.types)
			c.tree.Set(tail)
			log.Debugw("new row group", "start", start)
		}
		n, err := tail.Append(chunk, offset, remaining, txnID)
		if err != nil {
			return fmt.Errorf("collection: append: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("collection: append made no progress, row group full")
		}
		offset += n
		remaining -= n
		c.totalRows.Add(uint64(n))
	}
	return nil
}

// CommitAppend rewrites inserted_at for the absolute row range
// [rowStart, rowStart+count) from txnID to commitID across every row group
// the range spans.
func (c *Collection) CommitAppend(commitID rowgroup.CommitID, rowStart int64, count uint64) {
	c.forEachSpan(rowStart, count, func(rg *rowgroup.RowGroup, localStart, n int) {
		rg.CommitAppend(commitID, localStart, n)
	})
}

// RevertAppend marks the absolute row range as never visible, the rollback
// path for an aborted append.
func (c *Collection) RevertAppend(rowStart int64, count uint64) {
	c.forEachSpan(rowStart, count, func(rg *rowgroup.RowGroup, localStart, n int) {
		rg.RevertAppend(localStart, n)
	})
}

// CommitAllDeletes rewrites every deleted_at[i] == txnID to commitID across
// every row group in the collection.
func (c *Collection) CommitAllDeletes(txnID rowgroup.TransactionID, commitID rowgroup.CommitID) {
	c.tree.Scan(func(rg *rowgroup.RowGroup) bool {
		rg.CommitAllDeletes(txnID, commitID)
		return true
	})
}

// CleanupVersions caps versioning overhead across every row group for
// entries committed before lowestActiveStartTime.
func (c *Collection) CleanupVersions(lowestActiveStartTime uint64) {
	c.tree.Scan(func(rg *rowgroup.RowGroup) bool {
		rg.CleanupVersions(lowestActiveStartTime)
		return true
	})
}

// forEachSpan walks the row groups overlapping the absolute range
// [rowStart, rowStart+count) and invokes fn with each row group's local
// sub-range.
func (c *Collection) forEachSpan(rowStart int64, count uint64, fn func(rg *rowgroup.RowGroup, localStart, n int)) {
	end := rowStart + int64(count)
	c.tree.Scan(func(rg *rowgroup.RowGroup) bool {
		rgEnd := rg.Start + int64(rg.Count)
		if rgEnd <= rowStart {
			return true
		}
		if rg.Start >= end {
			return false
		}
		spanStart := rowStart
		if spanStart < rg.Start {
			spanStart = rg.Start
		}
		spanEnd := end
		if spanEnd > rgEnd {
			spanEnd = rgEnd
		}
		fn(rg, int(spanStart-rg.Start), int(spanEnd-spanStart))
		return true
	})
}

// DeleteRows marks each absolute row id deleted by txnID, returning the
// number of rows actually found and marked. Row ids with no matching row
// group are silently skipped (already-compacted or out-of-range ids).
func (c *Collection) DeleteRows(ids []int64, txnID rowgroup.TransactionID) (uint64, error) {
	var n uint64
	for _, id := range ids {
		rg := c.rowGroupFor(id)
		if rg == nil {
			continue
		}
		if err := rg.DeleteRow(int(id-rg.Start), txnID); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// Scan yields chunks row group by row group for the requested columns,
// applying MVCC visibility under (txnID, startTime); fn returning false
// stops the scan early.
func (c *Collection) Scan(columnIDs []int, txnID rowgroup.TransactionID, startTime uint64, fn func(*vector.Chunk) bool) error {
	var scanErr error
	c.tree.Scan(func(rg *rowgroup.RowGroup) bool {
		chunk, err := rg.Scan(c.mm, columnIDs, txnID, startTime)
		if err != nil {
			scanErr = err
			return false
		}
		if chunk.Cardinality == 0 {
			return true
		}
		return fn(chunk)
	})
	return scanErr
}

// Fetch gathers specific absolute row ids for the requested columns,
// grouping by the row group each id falls in.
func (c *Collection) Fetch(columnIDs []int, rowIDs []int64) (*vector.Chunk, error) {
	byGroup := map[*rowgroup.RowGroup][]int64{}
	order := map[*rowgroup.RowGroup][]int{}
	for i, id := range rowIDs {
		rg := c.rowGroupFor(id)
		if rg == nil {
			return nil, fmt.Errorf("collection: fetch: row id %d not found", id)
		}
		byGroup[rg] = append(byGroup[rg], id-rg.Start)
		order[rg] = append(order[rg], i)
	}

	types := make([]value.LogicalType, len(columnIDs))
	for i, ci := range columnIDs {
		types[i] = c.types[ci]
	}
	results := make([]*vector.Chunk, len(rowIDs))
	for rg, offsets := range byGroup {
		chunk, err := rg.Fetch(c.mm, columnIDs, offsets)
		if err != nil {
			return nil, err
		}
		for localIdx, origIdx := range order[rg] {
			single := chunk.Slice(localIdx, 1)
			results[origIdx] = single
		}
	}

	out := vector.NewChunk(types)
	for _, r := range results {
		if r == nil {
			continue
		}
		if err := out.Append(r); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Update performs the semantic update = delete + insert at the same
// absolute row ids described in §4.4: the affected rows are marked deleted
// by txnID and the replacement values are appended as new tentative rows
// for the same transaction. Callers are responsible for translating
// unaffected columns from the prior values where the storage layer does
// not physically reinsert them.
func (c *Collection) Update(ids []int64, updates *vector.Chunk, txnID rowgroup.TransactionID) error {
	if _, err := c.DeleteRows(ids, txnID); err != nil {
		return err
	}
	return c.Append(updates, txnID)
}

// RowGroupCount reports how many row groups the tree currently holds,
// mainly for tests and diagnostics.
func (c *Collection) RowGroupCount() int { return c.tree.Len() }

// RowGroupsSnapshot returns every row group in start-row order at the
// moment of the call. table.Table's parallel scan uses this fixed slice
// as the index space parallel_table_scan_state's cursor claims into, so
// concurrent workers never race against the tree itself mid-scan.
func (c *Collection) RowGroupsSnapshot() []*rowgroup.RowGroup {
	c.mu.Lock()
	defer c.mu.Unlock()

	groups := make([]*rowgroup.RowGroup, 0, c.tree.Len())
	c.tree.Scan(func(rg *rowgroup.RowGroup) bool {
		groups = append(groups, rg)
		return true
	})
	return groups
}

// Checkpoint flushes every row group's unflushed column segments and
// deletes bitmap to dataW/metaW (in start-row order) and returns the
// resulting row_group_pointer_t pointers, which the caller (table.Table,
// ultimately the engine) persists as the collection's new root list.
func (c *Collection) Checkpoint(dataW, metaW *meta.Writer, codec segment.CompressionCode) ([]meta.Pointer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var pointers []meta.Pointer
	var outerErr error
	c.tree.Scan(func(rg *rowgroup.RowGroup) bool {
		ptr, err := rg.Checkpoint(c.mm, dataW, metaW, codec)
		if err != nil {
			outerErr = err
			return false
		}
		pointers = append(pointers, ptr)
		return true
	})
	if outerErr != nil {
		return nil, outerErr
	}
	return pointers, nil
}
