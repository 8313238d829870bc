package migrate

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"testing/fstest"

	_ "github.com/mattn/go-sqlite3"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "migrate.db")
	db, err := sql.Open("sqlite3", "file:"+path+"?_foreign_keys=on")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestRun_AppliesSchemaOnce(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	n, err := Run(ctx, db, nil)
	if err != nil {
		t.Fatalf("first Run: %v", err)
	}
	if n != 1 {
		t.Fatalf("first Run applied %d, want 1", n)
	}

	n, err = Run(ctx, db, nil)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if n != 0 {
		t.Fatalf("second Run applied %d, want 0", n)
	}

	for _, table := range []string{"stations", "meteo_obs"} {
		var name string
		err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name)
		if err != nil {
			t.Errorf("table %s missing: %v", table, err)
		}
	}
}

func TestRun_PrimaryKeyOnStationAndTimestamp(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	if _, err := Run(ctx, db, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}

	insert := `INSERT INTO meteo_obs (station_id, tz_utc, tz_local) VALUES (?, ?, ?)`
	if _, err := db.Exec(insert, "BER", "2025-06-01 10:00:00", "2025-06-01 12:00:00"); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if _, err := db.Exec(insert, "BER", "2025-06-01 10:00:00", "2025-06-01 12:00:00"); err == nil {
		t.Fatal("duplicate (station_id, tz_utc) accepted")
	}
	if _, err := db.Exec(insert, "LUG", "2025-06-01 10:00:00", "2025-06-01 12:00:00"); err != nil {
		t.Fatalf("same timestamp for other station: %v", err)
	}
}

func TestRun_FailedMigrationRollsBack(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	fsys := fstest.MapFS{
		"sql/0001_ok.sql":     {Data: []byte(`CREATE TABLE one (id INTEGER);`)},
		"sql/0002_broken.sql": {Data: []byte(`CREATE TABLE two (id INTEGER); INSERT INTO nowhere VALUES (1);`)},
		"sql/README.md":       {Data: []byte(`ignored`)},
	}

	n, err := run(ctx, db, fsys, nil)
	if err == nil {
		t.Fatal("run error = nil, want failure from 0002")
	}
	if n != 1 {
		t.Fatalf("applied = %d, want 1", n)
	}

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE name = 'two'`).Scan(&count); err != nil {
		t.Fatalf("query sqlite_master: %v", err)
	}
	if count != 0 {
		t.Fatal("table from failed migration was kept")
	}
	if err := db.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&count); err != nil {
		t.Fatalf("count migrations: %v", err)
	}
	if count != 1 {
		t.Fatalf("recorded migrations = %d, want 1", count)
	}
}

func TestParseMigrationFilename(t *testing.T) {
	tests := []struct {
		in      string
		version string
		name    string
		ok      bool
	}{
		{in: "0001_schema.sql", version: "0001", name: "schema", ok: true},
		{in: "0012_add_index.sql", version: "0012", name: "add_index", ok: true},
		{in: "1_schema.sql", ok: false},
		{in: "0001_schema.txt", ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			v, n, ok := parseMigrationFilename(tt.in)
			if ok != tt.ok || v != tt.version || n != tt.name {
				t.Errorf("parseMigrationFilename(%q) = %q, %q, %v", tt.in, v, n, ok)
			}
		})
	}
}
