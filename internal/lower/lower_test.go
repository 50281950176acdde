package lower

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/otbx/otbx/internal/block"
	"github.com/otbx/otbx/internal/catalog"
	"github.com/otbx/otbx/internal/logical"
	"github.com/otbx/otbx/internal/meta"
	"github.com/otbx/otbx/internal/operator"
	"github.com/otbx/otbx/internal/table"
	"github.com/otbx/otbx/internal/value"
	"github.com/otbx/otbx/internal/vector"
)

func openTestManager(t *testing.T) *meta.Manager {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lower.otbx")
	bm, err := block.Open(block.Options{Path: path, PoolCapacity: 64})
	require.NoError(t, err)
	t.Cleanup(func() { bm.Close() })
	return meta.NewManager(bm)
}

func userSchema() []value.LogicalType {
	idTy := value.Simple(value.Int64)
	idTy.Alias = "id"
	nameTy := value.Simple(value.String)
	nameTy.Alias = "name"
	return []value.LogicalType{idTy, nameTy}
}

func seedCatalog(t *testing.T, rows int) (*catalog.Catalog, *table.Table) {
	t.Helper()
	cat := catalog.New()
	require.NoError(t, cat.CreateDatabase("app"))
	live := table.New(openTestManager(t), "users", userSchema())
	require.NoError(t, cat.CreateCollection("app", &catalog.TableDef{
		Name: "users", Columns: userSchema(), StorageMode: catalog.ModeColumns,
	}, live))

	c := vector.NewChunk(live.Types)
	idVec := vector.New(live.Types[0], rows)
	nameVec := vector.New(live.Types[1], rows)
	for i := 0; i < rows; i++ {
		idVec.SetValue(i, value.Int64Val(int64(i)))
		nameVec.SetValue(i, value.StringVal("row"))
	}
	require.NoError(t, c.SetColumns([]*vector.Vector{idVec, nameVec}))
	require.NoError(t, live.Append(c, 0))
	return cat, live
}

func snap() operator.Snapshot { return operator.Snapshot{TxnID: 0, StartTime: ^uint64(0)} }

func TestBuildRejectsDDLNode(t *testing.T) {
	cat, _ := seedCatalog(t, 1)
	node := &logical.Node{Kind: logical.CreateDatabase, Database: "app"}
	_, err := Build(cat, node, snap())
	require.Error(t, err)
}

func TestBuildInsertFillsUnlistedColumnsWithNull(t *testing.T) {
	cat, _ := seedCatalog(t, 0)
	node := &logical.Node{
		Kind: logical.Insert, Database: "app", Table: "users",
		InsertColumns: []string{"id"},
		InsertChunk:   [][]value.Value{{value.Int64Val(7)}},
	}
	op, err := Build(cat, node, snap())
	require.NoError(t, err)
	ins, ok := op.(*operator.Insert)
	require.True(t, ok)
	require.Equal(t, 1, ins.Chunk.Cardinality)
	require.Equal(t, int64(7), ins.Chunk.Columns[0].Value(0).I64)
	require.True(t, ins.Chunk.Columns[1].Value(0).Null)
}

func TestBuildInsertRejectsUnknownColumn(t *testing.T) {
	cat, _ := seedCatalog(t, 0)
	node := &logical.Node{
		Kind: logical.Insert, Database: "app", Table: "users",
		InsertColumns: []string{"bogus"},
		InsertChunk:   [][]value.Value{{value.Int64Val(1)}},
	}
	_, err := Build(cat, node, snap())
	require.Error(t, err)
}

func TestBuildSelectAppliesMatchSortAndLimit(t *testing.T) {
	cat, _ := seedCatalog(t, 10)
	node := &logical.Node{
		Kind: logical.Aggregate, Database: "app", Table: "users",
		Match: &logical.CompareExpr{
			Left:  logical.ColumnOperand("id"),
			Op:    logical.Gte,
			Right: logical.Operand{Kind: logical.OperandExpr, Expr: &logical.Expr{Kind: logical.ExprConst, Const: value.Int64Val(5)}},
		},
		Sort:  []logical.SortKey{{Column: "id", Descending: true}},
		Limit: logical.LimitN(2),
	}
	op, err := Build(cat, node, snap())
	require.NoError(t, err)
	require.NoError(t, op.Prepare())
	require.NoError(t, op.OnExecute())
	out := op.Output()
	require.Equal(t, 2, out.Cardinality)
	require.Equal(t, int64(9), out.Columns[0].Value(0).I64)
	require.Equal(t, int64(8), out.Columns[0].Value(1).I64)
}

func TestBuildSelectGroupsWhenAggregatorsPresent(t *testing.T) {
	cat, _ := seedCatalog(t, 4)
	node := &logical.Node{
		Kind: logical.Aggregate, Database: "app", Table: "users",
		GroupKeys:   []logical.GroupKey{{Column: "name"}},
		Aggregators: []logical.Aggregator{{Func: logical.AggCount, Output: "cnt"}},
	}
	op, err := Build(cat, node, snap())
	require.NoError(t, err)
	require.NoError(t, op.Prepare())
	require.NoError(t, op.OnExecute())
	out := op.Output()
	require.Equal(t, 1, out.Cardinality)
	require.Equal(t, int64(4), out.Columns[1].Value(0).I64)
}

func TestBuildDeleteAndUpdateWireScanAndPredicate(t *testing.T) {
	cat, _ := seedCatalog(t, 3)
	del := &logical.Node{Kind: logical.Delete, Database: "app", Table: "users"}
	op, err := Build(cat, del, snap())
	require.NoError(t, err)
	require.NoError(t, op.Prepare())
	require.NoError(t, op.OnExecute())
	d := op.(*operator.Delete)
	require.Len(t, d.RowIDs(), 3)

	upd := &logical.Node{
		Kind: logical.Update, Database: "app", Table: "users",
		Match: &logical.CompareExpr{
			Left:  logical.ColumnOperand("id"),
			Op:    logical.Gte,
			Right: logical.Operand{Kind: logical.OperandExpr, Expr: &logical.Expr{Kind: logical.ExprConst, Const: value.Int64Val(1)}},
		},
		UpdateSet: []logical.ComputedColumn{{Alias: "name", Expr: &logical.Expr{Kind: logical.ExprConst, Const: value.StringVal("x")}}},
	}
	op2, err := Build(cat, upd, snap())
	require.NoError(t, err)
	require.NoError(t, op2.Prepare())
	require.NoError(t, op2.OnExecute())
	u := op2.(*operator.Update)
	replacement, err := u.BuildReplacementChunk()
	require.NoError(t, err)
	require.Equal(t, 2, replacement.Cardinality)
}
