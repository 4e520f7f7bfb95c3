package testutil

import (
	"context"
	"os"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/lib/pq"

	"github.com/xiaonanln/stam/util/postgres"
)

var invalidDBChars = regexp.MustCompile(`[^a-z0-9_]+`)

// eventsDBName derives a per-test database name, at most 63 bytes.
func eventsDBName(testName string) string {
	name := "stam_" + invalidDBChars.ReplaceAllString(strings.ToLower(testName), "_")
	if len(name) > 63 {
		name = name[:63]
	}
	return name
}

// postgresAdminConfig points at the maintenance database. STAM_TEST_POSTGRES_HOST
// overrides localhost.
func postgresAdminConfig() *postgres.Config {
	cfg := postgres.DefaultConfig("")
	cfg.User, cfg.Password, cfg.Database = "postgres", "postgres", "postgres"
	cfg.ApplicationName = "stam-tests"
	cfg.ConnectTimeout = 2 * time.Second
	if host := os.Getenv("STAM_TEST_POSTGRES_HOST"); host != "" {
		cfg.Host = host
	}
	return cfg
}

// CreateEventsDatabase creates a fresh database for the calling test, initializes
// the stam_events schema and returns a handle to it. The database is dropped when
// the test ends. The test is skipped when PostgreSQL is not reachable.
func CreateEventsDatabase(t *testing.T) *postgres.DB {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	admin := postgresAdminConfig()
	dbName := eventsDBName(t.Name())
	ident := pq.QuoteIdentifier(dbName)

	adminDB, err := postgres.NewDB(admin)
	if err != nil {
		t.Skipf("Skipping test - PostgreSQL not available: %v", err)
	}
	if err := adminDB.Ping(ctx); err != nil {
		adminDB.Close()
		t.Skipf("Skipping test - PostgreSQL not available: %v", err)
	}
	_, _ = adminDB.Connection().ExecContext(ctx, "DROP DATABASE IF EXISTS "+ident+" WITH (FORCE)")
	_, err = adminDB.Connection().ExecContext(ctx, "CREATE DATABASE "+ident)
	adminDB.Close()
	if err != nil {
		t.Skipf("Skipping test - cannot create %s: %v", dbName, err)
	}

	cfg := *admin
	cfg.Database = dbName
	db, err := postgres.NewDB(&cfg)
	if err != nil {
		t.Fatalf("Failed to open %s: %v", dbName, err)
	}
	t.Cleanup(func() {
		db.Close()
		cleanup, err := postgres.NewDB(admin)
		if err != nil {
			t.Logf("Warning: failed to connect for cleanup: %v", err)
			return
		}
		defer cleanup.Close()
		if _, err := cleanup.Connection().ExecContext(context.Background(), "DROP DATABASE IF EXISTS "+ident+" WITH (FORCE)"); err != nil {
			t.Logf("Warning: failed to drop %s: %v", dbName, err)
		}
	})

	if err := db.InitSchema(ctx); err != nil {
		t.Fatalf("Failed to initialize event schema: %v", err)
	}
	return db
}
