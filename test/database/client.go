package database

import (
	"testing"

	"github.com/aris-ai/aris/pkg/database"
	"github.com/aris-ai/aris/test/util"
)

// NewTestClient creates a test database client.
// In CI (when CI_DATABASE_URL is set): connects to external PostgreSQL service container.
// In local dev: spins up a testcontainer with PostgreSQL.
// The schema and connections are automatically cleaned up when the test ends.
func NewTestClient(t *testing.T) *database.Client {
	client, _ := util.SetupTestDatabase(t)
	return client
}
