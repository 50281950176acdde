package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/otbx/otbx/internal/block"
	"github.com/otbx/otbx/internal/logical"
	"github.com/otbx/otbx/internal/meta"
	"github.com/otbx/otbx/internal/table"
	"github.com/otbx/otbx/internal/value"
)

func openTestManager(t *testing.T) *meta.Manager {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.otbx")
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

func TestCreateAndResolveTable(t *testing.T) {
	c := New()
	require.NoError(t, c.CreateDatabase("app"))
	live := table.New(openTestManager(t), "users", userSchema())
	require.NoError(t, c.CreateCollection("app", &TableDef{Name: "users", Columns: userSchema()}, live))

	got, def, err := c.Table("app", "users")
	require.NoError(t, err)
	require.Same(t, live, got)
	require.Equal(t, "users", def.Name)

	_, _, err = c.Table("app", "missing")
	require.Error(t, err)
	_, _, err = c.Table("missing", "users")
	require.Error(t, err)
}

func TestCreateDatabaseRejectsDuplicate(t *testing.T) {
	c := New()
	require.NoError(t, c.CreateDatabase("app"))
	require.Error(t, c.CreateDatabase("app"))
}

func TestValidateInsertRejectsUnknownColumn(t *testing.T) {
	c := New()
	require.NoError(t, c.CreateDatabase("app"))
	live := table.New(openTestManager(t), "users", userSchema())
	require.NoError(t, c.CreateCollection("app", &TableDef{Name: "users", Columns: userSchema()}, live))

	node := &logical.Node{Kind: logical.Insert, Database: "app", Table: "users", InsertColumns: []string{"id", "bogus"}}
	require.Error(t, c.Validate(node))

	node.InsertColumns = []string{"id", "name"}
	require.NoError(t, c.Validate(node))
}

func TestValidateRejectsDocumentStorageForColumnOps(t *testing.T) {
	c := New()
	require.NoError(t, c.CreateDatabase("app"))
	live := table.New(openTestManager(t), "users", userSchema())
	require.NoError(t, c.CreateCollection("app", &TableDef{Name: "users", Columns: userSchema(), StorageMode: ModeDocuments}, live))

	node := &logical.Node{Kind: logical.Aggregate, Database: "app", Table: "users"}
	err := c.Validate(node)
	require.Error(t, err)
}

func TestValidateKeyPathsCatchesUnknownColumn(t *testing.T) {
	c := New()
	require.NoError(t, c.CreateDatabase("app"))
	live := table.New(openTestManager(t), "users", userSchema())
	require.NoError(t, c.CreateCollection("app", &TableDef{Name: "users", Columns: userSchema()}, live))

	node := &logical.Node{
		Kind: logical.Aggregate, Database: "app", Table: "users",
		Match: &logical.CompareExpr{Left: logical.ColumnOperand("nope"), Op: logical.IsNull},
	}
	require.Error(t, c.Validate(node))
}

func TestResolveFunctionPicksArityOverload(t *testing.T) {
	c := New()
	c.RegisterFunction(&Function{Name: "coalesce", Arity: 2, ReturnType: value.Simple(value.Int64)})
	c.RegisterFunction(&Function{Name: "coalesce", Arity: 3, ReturnType: value.Simple(value.Int64)})

	fn, err := c.ResolveFunction("coalesce", 2)
	require.NoError(t, err)
	require.Equal(t, 2, fn.Arity)

	_, err = c.ResolveFunction("coalesce", 9)
	require.Error(t, err)
	_, err = c.ResolveFunction("missing", 1)
	require.Error(t, err)
}

func TestSaveLoadFileRoundTrip(t *testing.T) {
	c := New()
	require.NoError(t, c.CreateDatabase("app"))
	live := table.New(openTestManager(t), "users", userSchema())
	require.NoError(t, c.CreateCollection("app", &TableDef{
		Name: "users", Columns: userSchema(), PrimaryKey: []string{"id"}, StorageMode: ModeColumns,
	}, live))

	path := filepath.Join(t.TempDir(), "catalog.bin")
	require.NoError(t, c.SaveFile(path))

	loaded, err := LoadFile(path)
	require.NoError(t, err)
	db, ok := loaded.Databases["app"]
	require.True(t, ok)
	tbl, ok := db.Tables["users"]
	require.True(t, ok)
	require.Equal(t, []string{"id"}, tbl.PrimaryKey)
	require.Equal(t, 2, len(tbl.Columns))
	require.Equal(t, "id", tbl.Columns[0].Alias)
}

func TestLoadFileRejectsCorruptCRC(t *testing.T) {
	c := New()
	require.NoError(t, c.CreateDatabase("app"))
	path := filepath.Join(t.TempDir(), "catalog.bin")
	require.NoError(t, c.SaveFile(path))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	raw[0] ^= 0xFF
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	_, err = LoadFile(path)
	require.Error(t, err)
}
