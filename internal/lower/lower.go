// Package lower turns one bound logical.Node into the physical operator
// tree internal/operator executes, resolving table/column references
// through internal/catalog (§4.6 cont'd: "logical plan -> physical
// operator tree").
//
// DDL nodes (create_database, create_collection, ...) never reach this
// package: the executor applies them to the catalog directly (§4.7's
// "DDL bypass"), so Build only handles Insert/Update/Delete/Aggregate.
//
// Grounded on _examples/original_source/components' plan-to-operator
// wiring (one pass building scan -> match -> group -> sort -> limit from
// the node's clauses, in that fixed order) and on spec.md §4.6 directly
// for the operator shapes themselves.
package lower

import (
	"github.com/pkg/errors"

	"github.com/otbx/otbx/internal/catalog"
	"github.com/otbx/otbx/internal/logical"
	"github.com/otbx/otbx/internal/oerrors"
	"github.com/otbx/otbx/internal/operator"
	"github.com/otbx/otbx/internal/table"
	"github.com/otbx/otbx/internal/value"
	"github.com/otbx/otbx/internal/vector"
)

// Build resolves node's table through cat and constructs the physical
// operator tree that implements it, under the given MVCC snapshot.
func Build(cat *catalog.Catalog, node *logical.Node, snap operator.Snapshot) (operator.Operator, error) {
	if node.Kind.IsDDL() {
		return nil, errors.Wrap(oerrors.ErrValidation, "lower: DDL nodes do not lower to an operator tree")
	}
	live, _, err := cat.Table(node.Database, node.Table)
	if err != nil {
		return nil, err
	}

	switch node.Kind {
	case logical.Insert:
		return buildInsert(live, node)
	case logical.Delete:
		scan := operator.NewFullScan(live, live.AllColumnIDs(), snap, node.Match)
		return operator.NewDelete(scan), nil
	case logical.Update:
		scan := operator.NewFullScan(live, live.AllColumnIDs(), snap, node.Match)
		return operator.NewUpdate(scan, node.UpdateSet), nil
	case logical.Aggregate:
		return buildSelect(live, node, snap)
	default:
		return nil, errors.Wrapf(oerrors.ErrValidation, "lower: unhandled node kind %v", node.Kind)
	}
}

// buildInsert converts the node's row-major InsertChunk into a
// column-major vector.Chunk matched to live's schema, NULL-filling any
// column InsertColumns doesn't name, and wraps it in an Insert operator
// for the executor to hand to table.Append.
func buildInsert(live *table.Table, node *logical.Node) (operator.Operator, error) {
	positions := make([]int, len(node.InsertColumns))
	for i, name := range node.InsertColumns {
		ci := live.ColumnIndex(name)
		if ci < 0 {
			return nil, errors.Wrapf(oerrors.ErrValidation, "lower: insert: no such column %q", name)
		}
		positions[i] = ci
	}

	n := len(node.InsertChunk)
	cols := make([]*vector.Vector, len(live.Types))
	for ci, ty := range live.Types {
		cols[ci] = vector.New(ty, n)
		for row := 0; row < n; row++ {
			cols[ci].SetValue(row, value.NA(ty))
		}
	}
	for row, values := range node.InsertChunk {
		if len(values) != len(positions) {
			return nil, errors.Wrapf(oerrors.ErrValidation, "lower: insert: row %d has %d values, expected %d", row, len(values), len(positions))
		}
		for i, v := range values {
			cols[positions[i]].SetValue(row, v)
		}
	}

	chunk := vector.NewChunk(live.Types)
	if err := chunk.SetColumns(cols); err != nil {
		return nil, errors.Wrap(err, "lower: insert: assemble chunk")
	}
	return operator.NewInsert(chunk), nil
}

// buildSelect assembles the read-only tree beneath an Aggregate node:
// scan (with the match predicate pushed down) -> pre-group computed
// columns -> group/aggregate -> sort -> limit, each stage only added
// when the node actually names one.
func buildSelect(live *table.Table, node *logical.Node, snap operator.Snapshot) (operator.Operator, error) {
	var plan operator.Operator = operator.NewFullScan(live, live.AllColumnIDs(), snap, node.Match)

	if len(node.GroupKeys) > 0 || len(node.Aggregators) > 0 {
		plan = operator.NewGroup(plan, node.Computed, node.GroupKeys, node.Aggregators, nil, node.Having)
	} else {
		for _, cc := range node.Computed {
			plan = operator.NewGetExpr(plan, cc.Alias, cc.Expr)
		}
		if node.Having != nil {
			plan = operator.NewMatch(plan, node.Having)
		}
	}

	if len(node.Sort) > 0 {
		plan = operator.NewSort(plan, node.Sort)
	}
	if node.Limit.Unlimited || node.Limit.Count > 0 {
		plan = operator.NewLimit(plan, node.Limit)
	}
	return plan, nil
}
