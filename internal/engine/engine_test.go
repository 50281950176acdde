package engine

import (
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/otbx/otbx/internal/config"
	"github.com/otbx/otbx/internal/logical"
	"github.com/otbx/otbx/internal/value"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Path = filepath.Join(dir, "otbx.db")
	cfg.WALDir = filepath.Join(dir, "wal")
	cfg.WALShards = 2
	return cfg
}

func userSchema() []value.LogicalType {
	idTy := value.Simple(value.Int64)
	idTy.Alias = "id"
	nameTy := value.Simple(value.String)
	nameTy.Alias = "name"
	return []value.LogicalType{idTy, nameTy}
}

func TestOpenCreateInsertAndClose(t *testing.T) {
	cfg := testConfig(t)
	e, err := Open(cfg)
	require.NoError(t, err)
	session := uuid.New()

	_, err = e.Execute(session, &logical.Node{Kind: logical.CreateDatabase, Database: "app"})
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

	require.NoError(t, e.Close())
}

func TestCheckpointPersistsCatalogAcrossReopen(t *testing.T) {
	cfg := testConfig(t)
	e, err := Open(cfg)
	require.NoError(t, err)
	session := uuid.New()

	require.NoError(t, errOnly(e.Execute(session, &logical.Node{Kind: logical.CreateDatabase, Database: "app"})))
	require.NoError(t, errOnly(e.Execute(session, &logical.Node{
		Kind: logical.CreateCollection, Database: "app", Table: "users", Columns: userSchema(),
	})))
	require.NoError(t, errOnly(e.Execute(session, &logical.Node{
		Kind: logical.Insert, Database: "app", Table: "users",
		InsertColumns: []string{"id", "name"},
		InsertChunk:   [][]value.Value{{value.Int64Val(1), value.StringVal("a")}},
	})))

	require.NoError(t, e.Checkpoint())
	require.NoError(t, e.Close())

	reopened, err := Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { reopened.Close() })

	_, def, err := reopened.cat.Table("app", "users")
	require.NoError(t, err)
	require.Equal(t, "users", def.Name)
}

func TestRecoveryReplaysUncheckpointedInsert(t *testing.T) {
	cfg := testConfig(t)
	e, err := Open(cfg)
	require.NoError(t, err)
	session := uuid.New()

	require.NoError(t, errOnly(e.Execute(session, &logical.Node{Kind: logical.CreateDatabase, Database: "app"})))
	require.NoError(t, errOnly(e.Execute(session, &logical.Node{
		Kind: logical.CreateCollection, Database: "app", Table: "users", Columns: userSchema(),
	})))
	require.NoError(t, errOnly(e.Execute(session, &logical.Node{
		Kind: logical.Insert, Database: "app", Table: "users",
		InsertColumns: []string{"id", "name"},
		InsertChunk:   [][]value.Value{{value.Int64Val(1), value.StringVal("a")}, {value.Int64Val(2), value.StringVal("b")}},
	})))
	// No Checkpoint call: recovery must replay the DDL and insert from WAL.
	require.NoError(t, e.Close())

	reopened, err := Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { reopened.Close() })

	live, _, err := reopened.cat.Table("app", "users")
	require.NoError(t, err)
	require.Equal(t, uint64(2), live.TotalRows())
}

func TestReadOnlyEngineRejectsWrites(t *testing.T) {
	cfg := testConfig(t)
	e, err := Open(cfg)
	require.NoError(t, err)
	session := uuid.New()
	require.NoError(t, errOnly(e.Execute(session, &logical.Node{Kind: logical.CreateDatabase, Database: "app"})))
	require.NoError(t, e.Close())

	cfg.ReadOnly = true
	ro, err := Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { ro.Close() })

	_, err = ro.Execute(session, &logical.Node{Kind: logical.CreateCollection, Database: "app", Table: "users", Columns: userSchema()})
	require.Error(t, err)
}

func errOnly(_ interface{}, err error) error { return err }
