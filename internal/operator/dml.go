// Read-write operators (§4.6.5): insert, update, delete. Each consumes
// chunk-shaped input and hands it to storage through the executor
// boundary; the executor (internal/exec) is the one that actually calls
// table.Append/DeleteRows/Update and wraps the result for WAL commitment,
// so these operators only shape the chunk and report the row count the
// executor already applied.
package operator

import (
	"github.com/otbx/otbx/internal/logical"
	"github.com/otbx/otbx/internal/value"
	"github.com/otbx/otbx/internal/vector"
)

// Insert consumes a chunk of values already matched to the target table's
// column order. Its Output is a single-row (count BIGINT) result chunk,
// per the executor's "report affected row counts" contract.
type Insert struct {
	base
	Chunk        *vector.Chunk
	InsertedRows int64 // set by the executor after the storage append
}

func NewInsert(chunk *vector.Chunk) *Insert { return &Insert{Chunk: chunk} }

func (i *Insert) Prepare() error { return nil }

func (i *Insert) OnExecute() error {
	i.output = countChunk(i.InsertedRows)
	i.executed = true
	return nil
}

// Finalize is called by the executor once the storage-level append has
// completed: it records the count the caller observed and materializes
// Output without re-running the (already-applied) write.
func (i *Insert) Finalize(n int64) {
	i.InsertedRows = n
	i.output = countChunk(n)
	i.executed = true
}

// Delete consumes a Match operator's output and extracts row_ids for the
// executor to route to table.DeleteRows.
type Delete struct {
	base
	Input      Operator
	DeletedRows int64 // set by the executor
}

func NewDelete(input Operator) *Delete { return &Delete{Input: input} }

func (d *Delete) Prepare() error { return d.Input.Prepare() }

func (d *Delete) RowIDs() []int64 {
	out := d.Input.Output()
	return out.RowIDs
}

func (d *Delete) OnExecute() error {
	if err := d.Input.OnExecute(); err != nil {
		return err
	}
	d.output = countChunk(d.DeletedRows)
	d.executed = true
	return nil
}

// Finalize is called by the executor once storage_delete_rows has
// completed against the row ids RowIDs() named, recording the count
// actually deleted without re-running the scan.
func (d *Delete) Finalize(n int64) {
	d.DeletedRows = n
	d.output = countChunk(n)
	d.executed = true
}

// Update reads rows matched by its scan input, applies set-expressions to
// build the replacement chunk, and reports the affected row count the
// executor filled in after applying the storage-level update.
type Update struct {
	base
	Input       Operator
	SetExprs    []logical.ComputedColumn
	UpdatedRows int64 // set by the executor
}

func NewUpdate(input Operator, setExprs []logical.ComputedColumn) *Update {
	return &Update{Input: input, SetExprs: setExprs}
}

func (u *Update) Prepare() error { return u.Input.Prepare() }

// BuildReplacementChunk evaluates SetExprs against the matched rows,
// producing the new chunk the executor appends as the insert half of the
// delete+insert update semantic (§4.4, §4.6.5).
func (u *Update) BuildReplacementChunk() (*vector.Chunk, error) {
	in := u.Input.Output()
	return EvalComputedColumns(in, u.SetExprs)
}

func (u *Update) RowIDs() []int64 {
	return u.Input.Output().RowIDs
}

func (u *Update) OnExecute() error {
	if err := u.Input.OnExecute(); err != nil {
		return err
	}
	u.output = countChunk(u.UpdatedRows)
	u.executed = true
	return nil
}

// Finalize is called by the executor once storage_update has applied the
// replacement chunk, recording the count actually affected without
// re-running the scan.
func (u *Update) Finalize(n int64) {
	u.UpdatedRows = n
	u.output = countChunk(n)
	u.executed = true
}

// CountChunk builds the single-row BIGINT result chunk every write
// operator (and the executor's DDL bypass path) reports affected/applied
// row counts through.
func CountChunk(n int64) *vector.Chunk { return countChunk(n) }

func countChunk(n int64) *vector.Chunk {
	ty := value.Simple(value.Int64)
	ty.Alias = "count"
	c := vector.NewChunk([]value.LogicalType{ty})
	vec := vector.New(ty, 1)
	vec.SetValue(0, value.Int64Val(n))
	_ = c.SetColumns([]*vector.Vector{vec})
	return c
}
