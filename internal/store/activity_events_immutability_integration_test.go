package store

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

// TestActivityEventsImmutabilityBlocksUpdate verifies that UPDATE operations
// on activity_events are blocked by the database trigger with a hard failure.
func TestActivityEventsImmutabilityBlocksUpdate(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	databaseURL := getTestDatabaseURL(t)
	db, err := Open(ctx, databaseURL)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	defer db.Close()

	// Ensure migration 0002 is applied
	_, err = db.ExecContext(ctx, `
		SELECT 1 FROM information_schema.triggers
		WHERE trigger_name = 'trg_activity_events_block_update'
	`)
	if err != nil {
		t.Fatalf("immutability trigger not found; migration 0002 may not be applied: %v", err)
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO activity_events (id, module, title, description, actor_id, actor_name, actor_role, status, ts)
		VALUES (gen_random_uuid(), 'budget', 'update-probe', 'Test event', 'user_test', 'Test User', 'secretary', 'OPEN_FOR_EDITING', NOW())
	`)
	if err != nil {
		t.Fatalf("insert test activity event: %v", err)
	}

	// Attempt to UPDATE the event - should fail
	_, err = db.ExecContext(ctx, `
		UPDATE activity_events
		SET title = 'modified'
		WHERE title = 'update-probe'
	`)

	if err == nil {
		t.Fatal("expected UPDATE to be blocked, but it succeeded")
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		t.Fatalf("expected PostgreSQL error, got: %v", err)
	}

	if pgErr.SQLState() != "55000" {
		t.Fatalf("expected SQLSTATE 55000 (object_not_in_prerequisite_state), got: %s", pgErr.SQLState())
	}

	if pgErr.Message != "activity_events is append-only; UPDATE is not allowed" {
		t.Fatalf("unexpected error message: %s", pgErr.Message)
	}

	// Cleanup. Row-level DELETE is blocked by the trigger, TRUNCATE is not.
	_, _ = db.ExecContext(ctx, `TRUNCATE activity_events`)
}

// TestActivityEventsImmutabilityBlocksDelete verifies that DELETE operations
// on activity_events are blocked by the database trigger with a hard failure.
func TestActivityEventsImmutabilityBlocksDelete(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	databaseURL := getTestDatabaseURL(t)
	db, err := Open(ctx, databaseURL)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	defer db.Close()

	_, err = db.ExecContext(ctx, `
		INSERT INTO activity_events (id, module, title, description, actor_id, actor_name, actor_role, status, ts)
		VALUES (gen_random_uuid(), 'budget', 'delete-probe', 'Test event', 'user_test', 'Test User', 'secretary', 'OPEN_FOR_EDITING', NOW())
	`)
	if err != nil {
		t.Fatalf("insert test activity event: %v", err)
	}

	_, err = db.ExecContext(ctx, `
		DELETE FROM activity_events
		WHERE title = 'delete-probe'
	`)

	if err == nil {
		t.Fatal("expected DELETE to be blocked, but it succeeded")
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		t.Fatalf("expected PostgreSQL error, got: %v", err)
	}

	if pgErr.SQLState() != "55000" {
		t.Fatalf("expected SQLSTATE 55000 (object_not_in_prerequisite_state), got: %s", pgErr.SQLState())
	}

	if pgErr.Message != "activity_events is append-only; DELETE is not allowed" {
		t.Fatalf("unexpected error message: %s", pgErr.Message)
	}

	_, _ = db.ExecContext(ctx, `TRUNCATE activity_events`)
}

// TestActivityEventsInsertStillWorks verifies that INSERT operations
// on activity_events continue to work normally.
func TestActivityEventsInsertStillWorks(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	databaseURL := getTestDatabaseURL(t)
	db, err := Open(ctx, databaseURL)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	defer db.Close()

	_, err = db.ExecContext(ctx, `
		INSERT INTO activity_events (id, module, title, description, actor_id, actor_name, actor_role, status, ts)
		VALUES (gen_random_uuid(), 'youth-development-plan', 'insert-probe', 'Planning document initiated', 'user_test', 'Test User', 'chairperson', 'OPEN_FOR_EDITING', NOW())
	`)
	if err != nil {
		t.Fatalf("insert activity event should succeed: %v", err)
	}

	var count int
	err = db.QueryRowContext(ctx, `SELECT COUNT(*) FROM activity_events WHERE title = 'insert-probe'`).Scan(&count)
	if err != nil {
		t.Fatalf("query activity events: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 activity event, got %d", count)
	}

	_, _ = db.ExecContext(ctx, `TRUNCATE activity_events`)
}

// getTestDatabaseURL returns the database URL for testing.
// It checks the TEST_DATABASE_URL environment variable first,
// then falls back to a default local development URL.
func getTestDatabaseURL(t *testing.T) string {
	t.Helper()

	if url := getenv("TEST_DATABASE_URL", ""); url != "" {
		return url
	}

	// For CI environments, try the standard Postgres environment variables
	host := getenv("POSTGRES_HOST", "localhost")
	port := getenv("POSTGRES_PORT", "5432")
	user := getenv("POSTGRES_USER", "civicplan")
	pass := getenv("POSTGRES_PASSWORD", "civicplan")
	dbname := getenv("POSTGRES_DB", "civicplan_test")

	return "postgres://" + user + ":" + pass + "@" + host + ":" + port + "/" + dbname + "?sslmode=disable"
}

func getenv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
