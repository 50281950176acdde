package exec

import (
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/otbx/otbx/internal/block"
	"github.com/otbx/otbx/internal/catalog"
	"github.com/otbx/otbx/internal/logical"
	"github.com/otbx/otbx/internal/meta"
	"github.com/otbx/otbx/internal/table"
	"github.com/otbx/otbx/internal/txn"
	"github.com/otbx/otbx/internal/value"
	"github.com/otbx/otbx/internal/wal"
)

func newTestExecutor(t *testing.T) *Executor {
	t.Helper()
	blockPath := filepath.Join(t.TempDir(), "exec.otbx")
	bm, err := block.Open(block.Options{Path: blockPath, PoolCapacity: 64})
	require.NoError(t, err)
	t.Cleanup(func() { bm.Close() })
	mm := meta.NewManager(bm)

	w, err := wal.Open(t.TempDir(), 2)
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })

	cat := catalog.New()
	txns := txn.New()
	return New(cat, txns, w, mm)
}

func userSchema() []value.LogicalType {
	idTy := value.Simple(value.Int64)
	idTy.Alias = "id"
	nameTy := value.Simple(value.String)
	nameTy.Alias = "name"
	return []value.LogicalType{idTy, nameTy}
}

func TestExecuteCreateDatabaseAndCollectionThenInsert(t *testing.T) {
	e := newTestExecutor(t)
	session := uuid.New()

	_, err := e.Execute(session, &logical.Node{Kind: logical.CreateDatabase, Database: "app"})
	require.NoError(t, err)

	_, err = e.Execute(session, &logical.Node{
		Kind: logical.CreateCollection, Database: "app", Table: "users", Columns: userSchema(),
	})
	require.NoError(t, err)

	out, err := e.Execute(session, &logical.Node{
		Kind: logical.Insert, Database: "app", Table: "users",
		InsertColumns: []string{"id", "name"},
		InsertChunk: [][]value.Value{
			{value.Int64Val(1), value.StringVal("a")},
			{value.Int64Val(2), value.StringVal("b")},
		},
	})
	require.NoError(t, err)
	require.Equal(t, int64(2), out.Columns[0].Value(0).I64)

	live, _, err := e.Catalog.Table("app", "users")
	require.NoError(t, err)
	require.Equal(t, uint64(2), live.TotalRows())
}

func seedExecutorWithRows(t *testing.T, n int) (*Executor, *table.Table) {
	t.Helper()
	e := newTestExecutor(t)
	session := uuid.New()
	require.NoError(t, errOnly(e.Execute(session, &logical.Node{Kind: logical.CreateDatabase, Database: "app"})))
	require.NoError(t, errOnly(e.Execute(session, &logical.Node{
		Kind: logical.CreateCollection, Database: "app", Table: "users", Columns: userSchema(),
	})))
	rows := make([][]value.Value, n)
	for i := 0; i < n; i++ {
		rows[i] = []value.Value{value.Int64Val(int64(i)), value.StringVal("row")}
	}
	_, err := e.Execute(session, &logical.Node{
		Kind: logical.Insert, Database: "app", Table: "users",
		InsertColumns: []string{"id", "name"}, InsertChunk: rows,
	})
	require.NoError(t, err)
	live, _, err := e.Catalog.Table("app", "users")
	require.NoError(t, err)
	return e, live
}

func errOnly(_ interface{}, err error) error { return err }

func TestExecuteSelectReturnsAllRows(t *testing.T) {
	e, _ := seedExecutorWithRows(t, 5)
	session := uuid.New()
	out, err := e.Execute(session, &logical.Node{Kind: logical.Aggregate, Database: "app", Table: "users"})
	require.NoError(t, err)
	require.Equal(t, 5, out.Cardinality)
}

func TestExecuteDeleteRemovesMatchedRows(t *testing.T) {
	e, live := seedExecutorWithRows(t, 5)
	session := uuid.New()
	out, err := e.Execute(session, &logical.Node{
		Kind: logical.Delete, Database: "app", Table: "users",
		Match: &logical.CompareExpr{
			Left: logical.ColumnOperand("id"), Op: logical.Lt,
			Right: logical.Operand{Kind: logical.OperandExpr, Expr: &logical.Expr{Kind: logical.ExprConst, Const: value.Int64Val(2)}},
		},
	})
	require.NoError(t, err)
	require.Equal(t, int64(2), out.Columns[0].Value(0).I64)

	n, err := live.CalculateSize()
	require.NoError(t, err)
	require.Equal(t, uint64(3), n)
}

func TestExecuteUpdateAppliesSetExpression(t *testing.T) {
	e, _ := seedExecutorWithRows(t, 3)
	session := uuid.New()
	out, err := e.Execute(session, &logical.Node{
		Kind: logical.Update, Database: "app", Table: "users",
		UpdateSet: []logical.ComputedColumn{{Alias: "name", Expr: &logical.Expr{Kind: logical.ExprConst, Const: value.StringVal("updated")}}},
	})
	require.NoError(t, err)
	require.Equal(t, int64(3), out.Columns[0].Value(0).I64)
}

func TestExecuteRejectsInsertWithUnknownColumn(t *testing.T) {
	e, _ := seedExecutorWithRows(t, 1)
	session := uuid.New()
	_, err := e.Execute(session, &logical.Node{
		Kind: logical.Insert, Database: "app", Table: "users",
		InsertColumns: []string{"bogus"},
		InsertChunk:   [][]value.Value{{value.Int64Val(1)}},
	})
	require.Error(t, err)
}

func insertOneNode(id int64) *logical.Node {
	return &logical.Node{
		Kind: logical.Insert, Database: "app", Table: "users",
		InsertColumns: []string{"id", "name"},
		InsertChunk:   [][]value.Value{{value.Int64Val(id), value.StringVal("x")}},
	}
}

func selectAllNode() *logical.Node {
	return &logical.Node{Kind: logical.Aggregate, Database: "app", Table: "users"}
}

// TestExecuteAbortMakesWritesInvisible covers scenario 2: a transaction's
// insert is never visible to a snapshot taken after it aborts.
func TestExecuteAbortMakesWritesInvisible(t *testing.T) {
	e, live := seedExecutorWithRows(t, 0)
	writer := uuid.New()

	_, err := e.Begin(writer)
	require.NoError(t, err)
	_, err = e.Execute(writer, insertOneNode(1))
	require.NoError(t, err)

	e.Abort(writer)

	n, err := live.CalculateSize()
	require.NoError(t, err)
	require.Equal(t, uint64(0), n)

	reader := uuid.New()
	out, err := e.Execute(reader, selectAllNode())
	require.NoError(t, err)
	require.Equal(t, 0, out.Cardinality)
}

// TestExecuteCommitMakesWritesVisibleToNewSnapshot covers scenario 1: a
// pending transaction's insert only becomes visible to a new snapshot
// once it commits.
func TestExecuteCommitMakesWritesVisibleToNewSnapshot(t *testing.T) {
	e, _ := seedExecutorWithRows(t, 0)
	writer := uuid.New()

	_, err := e.Begin(writer)
	require.NoError(t, err)
	_, err = e.Execute(writer, insertOneNode(1))
	require.NoError(t, err)

	before := uuid.New()
	out, err := e.Execute(before, selectAllNode())
	require.NoError(t, err)
	require.Equal(t, 0, out.Cardinality, "pending transaction's write must not be visible to a concurrent snapshot")

	_, err = e.Commit(writer)
	require.NoError(t, err)

	after := uuid.New()
	out, err = e.Execute(after, selectAllNode())
	require.NoError(t, err)
	require.Equal(t, 1, out.Cardinality)
}

// TestExecuteSeesOwnUncommittedWritesAcrossStatements covers scenario 3:
// within the same still-open transaction, a later statement sees an
// earlier statement's own uncommitted writes.
func TestExecuteSeesOwnUncommittedWritesAcrossStatements(t *testing.T) {
	e, _ := seedExecutorWithRows(t, 0)
	writer := uuid.New()

	_, err := e.Begin(writer)
	require.NoError(t, err)
	_, err = e.Execute(writer, insertOneNode(1))
	require.NoError(t, err)

	out, err := e.Execute(writer, selectAllNode())
	require.NoError(t, err)
	require.Equal(t, 1, out.Cardinality)

	_, err = e.Commit(writer)
	require.NoError(t, err)
}

func TestBeginTwiceForSameSessionFails(t *testing.T) {
	e, _ := seedExecutorWithRows(t, 0)
	session := uuid.New()
	_, err := e.Begin(session)
	require.NoError(t, err)
	_, err = e.Begin(session)
	require.Error(t, err)
}

func TestCommitWithoutBeginFails(t *testing.T) {
	e, _ := seedExecutorWithRows(t, 0)
	_, err := e.Commit(uuid.New())
	require.Error(t, err)
}
