package database

import (
	"context"
	stdsql "database/sql"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aris-ai/aris/pkg/database"
	"github.com/aris-ai/aris/test/util"
)

// SharedTestDB creates a single PostgreSQL schema that multiple clients can
// share. Each caller gets its own connection pool via NewClient, but all
// pools point to the same schema. Restart-style e2e tests use this to run
// a "crashed" process's pool and a restarted app instance against the same
// rows.
type SharedTestDB struct {
	connStrWithSchema string
	baseConnStr       string
	schemaName        string
}

// NewSharedTestDB creates a shared test schema, runs migrations once, and
// registers t.Cleanup to drop the schema.
// Call NewClient to create independent database clients.
func NewSharedTestDB(t *testing.T) *SharedTestDB {
	t.Helper()
	ctx := context.Background()

	baseConnStr := util.GetBaseConnectionString(t)
	schemaName := util.GenerateSchemaName(t)

	// Create the schema.
	db, err := stdsql.Open("pgx", baseConnStr)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, fmt.Sprintf("CREATE SCHEMA %s", schemaName))
	require.NoError(t, err)
	t.Logf("SharedTestDB: created schema %s", schemaName)
	_ = db.Close()

	// Connect with search_path and run migrations once.
	connStrWithSchema := util.AddSearchPathToConnString(baseConnStr, schemaName)
	db, err = stdsql.Open("pgx", connStrWithSchema)
	require.NoError(t, err)
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	err = database.Migrate(db, "test")
	require.NoError(t, err)

	// Close the migration pool; each caller creates its own.
	_ = db.Close()

	s := &SharedTestDB{
		connStrWithSchema: connStrWithSchema,
		baseConnStr:       baseConnStr,
		schemaName:        schemaName,
	}

	// Drop the schema after all clients have shut down (LIFO order
	// guarantees dependent cleanups run before this one).
	t.Cleanup(func() {
		cleanDB, err := stdsql.Open("pgx", baseConnStr)
		if err != nil {
			t.Logf("SharedTestDB: warning: could not connect to drop schema %s: %v", schemaName, err)
			return
		}
		defer func() { _ = cleanDB.Close() }()
		_, err = cleanDB.ExecContext(context.Background(), fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", schemaName))
		if err != nil {
			t.Logf("SharedTestDB: warning: failed to drop schema %s: %v", schemaName, err)
		}
	})

	return s
}

// ConnString returns the schema-scoped connection string, for components
// that open their own connections.
func (s *SharedTestDB) ConnString() string {
	return s.connStrWithSchema
}

// NewClient creates an independent *database.Client backed by a fresh
// connection pool to the shared schema.
// The client's connections are closed via t.Cleanup.
func (s *SharedTestDB) NewClient(t *testing.T) *database.Client {
	t.Helper()

	db, err := stdsql.Open("pgx", s.connStrWithSchema)
	require.NoError(t, err)
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	client := database.NewClientFromDB(db)

	t.Cleanup(func() {
		_ = db.Close()
	})

	return client
}
