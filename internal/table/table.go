// Package table implements the data table (§4.4 cont'd): a named,
// schema-bearing wrapper around a collection that adds schema evolution
// (add_column/remove_column), compaction, and the parallel scan state the
// executor drives to farm row groups across worker goroutines.
//
// Grounded on _examples/original_source/components/table/collection.hpp
// (add_column/remove_column returning a new collection sharing existing
// row groups, compact's calculate_size invariant) and on
// other_examples' garrensmith-frostdb table.go for the Go idiom of a named
// table owning its schema and delegating storage to an underlying segment
// tree.
package table

import (
	"fmt"
	"sync/atomic"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/otbx/otbx/internal/collection"
	"github.com/otbx/otbx/internal/meta"
	"github.com/otbx/otbx/internal/oerrors"
	"github.com/otbx/otbx/internal/otlog"
	"github.com/otbx/otbx/internal/rowgroup"
	"github.com/otbx/otbx/internal/segment"
	"github.com/otbx/otbx/internal/value"
	"github.com/otbx/otbx/internal/vector"
)

var log = otlog.New("table")

// Table is a named collection with a stable column schema. Column order is
// significant: column ids used by Scan/Fetch/Update are positional indexes
// into Types.
type Table struct {
	Name  string
	Types []value.LogicalType

	mm   *meta.Manager
	coll *collection.Collection
}

// New creates an empty table with the given name and column schema.
func New(mm *meta.Manager, name string, types []value.LogicalType) *Table {
	return &Table{
		Name:  name,
		Types: append([]value.LogicalType(nil), types...),
		mm:    mm,
		coll:  collection.New(mm, types),
	}
}

// ColumnIndex resolves a column name (LogicalType.Alias) to its positional
// index, or -1 if the table has no such column.
func (t *Table) ColumnIndex(name string) int {
	for i, ty := range t.Types {
		if ty.Alias == name {
			return i
		}
	}
	return -1
}

// AllColumnIDs returns [0, len(Types)), the column set a full-row scan
// materializes.
func (t *Table) AllColumnIDs() []int {
	ids := make([]int, len(t.Types))
	for i := range ids {
		ids[i] = i
	}
	return ids
}

func (t *Table) TotalRows() uint64 { return t.coll.TotalRows() }

// CalculateSize is the total row count minus permanently-deleted rows, per
// §4.4: since deleted rows are still carried as version-chain entries until
// cleanup/compaction, this walks a full scan at txn 0 counting visible rows.
func (t *Table) CalculateSize() (uint64, error) {
	var n uint64
	err := t.coll.Scan(t.AllColumnIDs(), 0, ^uint64(0), func(c *vector.Chunk) bool {
		n += uint64(c.Cardinality)
		return true
	})
	return n, err
}

func (t *Table) Append(chunk *vector.Chunk, txnID rowgroup.TransactionID) error {
	return t.coll.Append(chunk, txnID)
}

func (t *Table) CommitAppend(commitID rowgroup.CommitID, rowStart int64, count uint64) {
	t.coll.CommitAppend(commitID, rowStart, count)
}

func (t *Table) RevertAppend(rowStart int64, count uint64) {
	t.coll.RevertAppend(rowStart, count)
}

func (t *Table) CommitAllDeletes(txnID rowgroup.TransactionID, commitID rowgroup.CommitID) {
	t.coll.CommitAllDeletes(txnID, commitID)
}

func (t *Table) CleanupVersions(lowestActiveStartTime uint64) {
	t.coll.CleanupVersions(lowestActiveStartTime)
}

func (t *Table) DeleteRows(ids []int64, txnID rowgroup.TransactionID) (uint64, error) {
	return t.coll.DeleteRows(ids, txnID)
}

func (t *Table) Scan(columnIDs []int, txnID rowgroup.TransactionID, startTime uint64, fn func(*vector.Chunk) bool) error {
	return t.coll.Scan(columnIDs, txnID, startTime, fn)
}

func (t *Table) Fetch(columnIDs []int, rowIDs []int64) (*vector.Chunk, error) {
	return t.coll.Fetch(columnIDs, rowIDs)
}

// Update applies the delete+insert semantic update described in §4.4.
func (t *Table) Update(ids []int64, updates *vector.Chunk, txnID rowgroup.TransactionID) error {
	return t.coll.Update(ids, updates, txnID)
}

// AddColumn returns a new table sharing the receiver's existing row groups
// (via the same underlying collection type list extended by one column) and
// appending a column of the given type and name, backfilled with
// defaultValue for every row already present. Per §4.4, add_column returns a
// new collection rather than mutating in place.
func (t *Table) AddColumn(name string, colType value.LogicalType, defaultValue *vector.Vector) (*Table, error) {
	if t.ColumnIndex(name) >= 0 {
		return nil, errors.Wrapf(oerrors.ErrValidation, "table: column %q already exists", name)
	}
	colType.Alias = name
	newTypes := append(append([]value.LogicalType(nil), t.Types...), colType)

	out := New(t.mm, t.Name, newTypes)
	var scanErr error
	err := t.coll.Scan(t.AllColumnIDs(), 0, ^uint64(0), func(c *vector.Chunk) bool {
		n := c.Cardinality
		fill := defaultValue
		if fill == nil {
			fill = vector.NewConstant(colType, n)
			fill.SetNull(0, true)
		}
		cols := append(append([]*vector.Vector(nil), c.Columns...), fill.Slice(0, n))
		extended := vector.NewChunk(newTypes)
		if scanErr = extended.SetColumns(cols); scanErr != nil {
			return false
		}
		if scanErr = out.Append(extended, 0); scanErr != nil {
			return false
		}
		return true
	})
	if err != nil {
		return nil, errors.Wrap(err, "table: add_column")
	}
	if scanErr != nil {
		return nil, errors.Wrap(scanErr, "table: add_column")
	}
	return out, nil
}

// RemoveColumn returns a new table sharing the receiver's row groups in
// shape, dropping the named column entirely.
func (t *Table) RemoveColumn(name string) (*Table, error) {
	idx := t.ColumnIndex(name)
	if idx < 0 {
		return nil, errors.Wrapf(oerrors.ErrValidation, "table: no such column %q", name)
	}
	newTypes := make([]value.LogicalType, 0, len(t.Types)-1)
	keep := make([]int, 0, len(t.Types)-1)
	for i, ty := range t.Types {
		if i == idx {
			continue
		}
		newTypes = append(newTypes, ty)
		keep = append(keep, i)
	}

	out := New(t.mm, t.Name, newTypes)
	var scanErr error
	err := t.coll.Scan(keep, 0, ^uint64(0), func(c *vector.Chunk) bool {
		if scanErr = out.Append(c, 0); scanErr != nil {
			return false
		}
		return true
	})
	if err != nil {
		return nil, errors.Wrap(err, "table: remove_column")
	}
	if scanErr != nil {
		return nil, errors.Wrap(scanErr, "table: remove_column")
	}
	return out, nil
}

// Compact scans every committed, non-deleted row into a fresh collection
// and replaces the receiver's storage with it, per §4.4's compaction
// invariant: total_rows after compaction equals the pre-compaction
// calculate_size.
func (t *Table) Compact() error {
	before, err := t.CalculateSize()
	if err != nil {
		return errors.Wrap(err, "table: compact: calculate_size")
	}

	fresh := collection.New(t.mm, t.Types)
	var scanErr error
	err = t.coll.Scan(t.AllColumnIDs(), 0, ^uint64(0), func(c *vector.Chunk) bool {
		if scanErr = fresh.Append(c, 0); scanErr != nil {
			return false
		}
		return true
	})
	if err != nil {
		return errors.Wrap(err, "table: compact: scan")
	}
	if scanErr != nil {
		return errors.Wrap(scanErr, "table: compact: scan")
	}
	if fresh.TotalRows() != before {
		return fmt.Errorf("table: compact: invariant violated, total_rows=%d want=%d", fresh.TotalRows(), before)
	}
	t.coll = fresh
	log.Infow("compacted table", "table", t.Name, "rows", before)
	return nil
}

// RowGroupCount reports the underlying collection's row-group count.
func (t *Table) RowGroupCount() int { return t.coll.RowGroupCount() }

// Checkpoint flushes the table's collection to dataW/metaW and returns the
// row-group pointers it wrote. Engine.Checkpoint discards them; no catalog
// record stores them.
func (t *Table) Checkpoint(dataW, metaW *meta.Writer, codec segment.CompressionCode) ([]meta.Pointer, error) {
	return t.coll.Checkpoint(dataW, metaW, codec)
}

// ParallelScanState tracks the next row group a worker should claim, per
// §4.4's parallel_table_scan_state: an atomic cursor over a fixed
// row-group snapshot, so concurrent goroutines each advance it exactly
// once and always materialize against the same index space.
type ParallelScanState struct {
	next   atomic.Int64
	groups []*rowgroup.RowGroup
}

// NewParallelScan snapshots the table's current row groups into a
// parallel scan state.
func (t *Table) NewParallelScan() *ParallelScanState {
	return &ParallelScanState{groups: t.coll.RowGroupsSnapshot()}
}

// NextParallelChunk claims the next row group, or ok=false once every row
// group has been claimed.
func (s *ParallelScanState) NextParallelChunk() (rg *rowgroup.RowGroup, ok bool) {
	n := s.next.Add(1) - 1
	if int(n) >= len(s.groups) {
		return nil, false
	}
	return s.groups[n], true
}

// ParallelScan fans a full-table scan out across workers goroutines
// racing over one ParallelScanState (§4.4's parallel_table_scan_state),
// each materializing the row groups it claims and handing them to fn.
// fn may be called concurrently from multiple goroutines and must
// synchronize any shared state it touches; empty (fully-deleted) row
// groups are silently skipped without calling fn, per §4.4.
func (t *Table) ParallelScan(columnIDs []int, txnID rowgroup.TransactionID, startTime uint64, workers int, fn func(*vector.Chunk) error) error {
	if workers < 1 {
		workers = 1
	}
	state := t.NewParallelScan()

	var g errgroup.Group
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for {
				rg, ok := state.NextParallelChunk()
				if !ok {
					return nil
				}
				chunk, err := rg.Scan(t.mm, columnIDs, txnID, startTime)
				if err != nil {
					return err
				}
				if chunk.Cardinality == 0 {
					continue
				}
				if err := fn(chunk); err != nil {
					return err
				}
			}
		})
	}
	return g.Wait()
}
