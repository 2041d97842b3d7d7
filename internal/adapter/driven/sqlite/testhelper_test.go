package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"testing"
)

// setupTestDB opens a migrated in-memory database with the same split
// writer/reader layout the repositories see in production. Each test gets its
// own database, keyed by the escaped test name so parallel tests stay
// isolated while both handles observe the same rows via cache=shared.
// In-memory databases have no journal file, so the WAL pragma is omitted.
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	dsn := fmt.Sprintf(
		"file:%s?mode=memory&cache=shared&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)&_pragma=cache_size(-64000)",
		url.PathEscape(t.Name()),
	)

	writer := openTestConn(t, dsn, "writer", 1, nil)
	reader := openTestConn(t, dsn, "reader", 4, writer)

	db := &DB{Writer: writer, Reader: reader, path: dsn}

	if err := RunMigrations(db.Writer); err != nil {
		_ = db.Close()
		t.Fatalf("run migrations: %v", err)
	}

	t.Cleanup(func() { _ = db.Close() })

	return db
}

// openTestConn opens and pings one pool against dsn, closing prior on
// failure so a half-built fixture does not leak connections.
func openTestConn(t *testing.T, dsn, role string, maxConns int, prior *sql.DB) *sql.DB {
	t.Helper()

	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		if prior != nil {
			_ = prior.Close()
		}
		t.Fatalf("open test db %s: %v", role, err)
	}
	conn.SetMaxOpenConns(maxConns)

	if err := conn.PingContext(context.Background()); err != nil {
		_ = conn.Close()
		if prior != nil {
			_ = prior.Close()
		}
		t.Fatalf("ping test db %s: %v", role, err)
	}

	return conn
}
