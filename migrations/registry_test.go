package migrations

import (
	"context"
	"database/sql"
	"io/fs"
	"strings"
	"testing"

	dispatch "github.com/goliatone/go-dispatch"
	_ "github.com/mattn/go-sqlite3"
)

func TestFilesystems_ReturnsPostgresAndSQLite(t *testing.T) {
	filesystems, err := Filesystems()
	if err != nil {
		t.Fatalf("filesystems: %v", err)
	}
	if len(filesystems) != 2 {
		t.Fatalf("expected 2 filesystems, got %d", len(filesystems))
	}
	seen := map[string]bool{}
	for _, entry := range filesystems {
		matches, globErr := fs.Glob(entry.FS, "*.up.sql")
		if globErr != nil || len(matches) == 0 {
			t.Fatalf("expected %s migration files, got %v (%v)", entry.Dialect, matches, globErr)
		}
		seen[entry.Dialect] = true
	}
	if !seen[DialectPostgres] || !seen[DialectSQLite] {
		t.Fatalf("expected both dialects, got %v", seen)
	}
}

func TestRegister_UsesValidationTargets(t *testing.T) {
	var calls []string
	_, err := Register(context.Background(), func(_ context.Context, dialect string, label string, _ fs.FS) error {
		if label != "go-dispatch" {
			t.Fatalf("unexpected source label %q", label)
		}
		calls = append(calls, dialect)
		return nil
	}, WithValidationTargets(" SQLite "))
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if len(calls) != 1 || calls[0] != DialectSQLite {
		t.Fatalf("expected a single sqlite registration, got %v", calls)
	}
}

func TestDialectForDriver(t *testing.T) {
	cases := map[string]string{
		"postgres": DialectPostgres,
		"pgx":      DialectPostgres,
		"sqlite3":  DialectSQLite,
	}
	for driver, want := range cases {
		got, err := DialectForDriver(driver)
		if err != nil || got != want {
			t.Fatalf("driver %s: expected %s, got %s (%v)", driver, want, got, err)
		}
	}
	if _, err := DialectForDriver("mysql"); err == nil {
		t.Fatalf("expected unsupported driver error")
	}
}

func TestCoreSchemaMigrationPair_ExistsForBothDialects(t *testing.T) {
	root := dispatch.GetMigrationsFS()
	for _, migrationPath := range []string{
		"data/sql/migrations/00001_dispatch_core_schema.up.sql",
		"data/sql/migrations/00001_dispatch_core_schema.down.sql",
		"data/sql/migrations/sqlite/00001_dispatch_core_schema.up.sql",
		"data/sql/migrations/sqlite/00001_dispatch_core_schema.down.sql",
	} {
		content, err := fs.ReadFile(root, migrationPath)
		if err != nil {
			t.Fatalf("read migration %s: %v", migrationPath, err)
		}
		if strings.TrimSpace(string(content)) == "" {
			t.Fatalf("expected migration %s to have SQL content", migrationPath)
		}
	}
}

func TestSQLiteCoreSchema_ApplyConstraintsAndRollback(t *testing.T) {
	ctx := context.Background()
	db, err := sql.Open("sqlite3", "file:migrations-dispatch-core?mode=memory&cache=shared&_foreign_keys=on")
	if err != nil {
		t.Fatalf("open sqlite db: %v", err)
	}
	defer func() { _ = db.Close() }()
	db.SetMaxOpenConns(1)

	sqliteMigrations, err := fs.Sub(dispatch.GetMigrationsFS(), "data/sql/migrations/sqlite")
	if err != nil {
		t.Fatalf("resolve sqlite migrations: %v", err)
	}
	if err := execSQLMigration(ctx, db, sqliteMigrations, "00001_dispatch_core_schema.up.sql"); err != nil {
		t.Fatalf("apply up: %v", err)
	}

	if _, err := db.ExecContext(ctx, `INSERT INTO dispatch_idempotency_markers (trace_id) VALUES (?)`, "t-1"); err != nil {
		t.Fatalf("insert marker: %v", err)
	}
	if _, err := db.ExecContext(ctx, `INSERT INTO dispatch_idempotency_markers (trace_id) VALUES (?)`, "t-1"); err == nil {
		t.Fatalf("expected duplicate marker to be rejected")
	}

	insertDeadLetter := `INSERT INTO dispatch_dead_letters (trace_id, workspace_id, payload_json, error, error_hash, retryable) VALUES (?, ?, ?, ?, ?, ?)`
	if _, err := db.ExecContext(ctx, insertDeadLetter, "t-1", "default", "{}", "boom", "h1", true); err != nil {
		t.Fatalf("insert dead letter: %v", err)
	}
	if _, err := db.ExecContext(ctx, insertDeadLetter, "t-1", "default", "{}", "boom", "h1", true); err == nil {
		t.Fatalf("expected duplicate (trace, error) to be rejected")
	}
	if _, err := db.ExecContext(ctx, insertDeadLetter, "t-1", "default", "{}", "other", "h2", false); err != nil {
		t.Fatalf("expected distinct error to insert: %v", err)
	}

	bump := `INSERT INTO dispatch_replay_counters (parent_trace_id, last_retry_count) VALUES (?, 1)
ON CONFLICT (parent_trace_id) DO UPDATE SET last_retry_count = dispatch_replay_counters.last_retry_count + 1
RETURNING last_retry_count`
	for want := 1; want <= 3; want++ {
		var got int
		if err := db.QueryRowContext(ctx, bump, "t-1").Scan(&got); err != nil {
			t.Fatalf("bump counter: %v", err)
		}
		if got != want {
			t.Fatalf("expected counter %d, got %d", want, got)
		}
	}

	if err := execSQLMigration(ctx, db, sqliteMigrations, "00001_dispatch_core_schema.down.sql"); err != nil {
		t.Fatalf("apply down: %v", err)
	}
	var count int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name LIKE 'dispatch_%'`).Scan(&count); err != nil {
		t.Fatalf("count tables: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected all dispatch tables dropped, got %d", count)
	}
}

func execSQLMigration(ctx context.Context, db *sql.DB, fsys fs.FS, filename string) error {
	content, err := fs.ReadFile(fsys, filename)
	if err != nil {
		return err
	}
	for _, statement := range strings.Split(string(content), "--bun:split") {
		if strings.TrimSpace(statement) == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, statement); err != nil {
			return err
		}
	}
	return nil
}
