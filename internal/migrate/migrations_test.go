package migrate_test

import (
	"testing"

	"buildflow/internal/db"
	"buildflow/internal/migrate"
)

func TestMigrateIdempotent(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer conn.Close()

	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("first migrate: %v", err)
	}
	current, latest, err := migrate.Status(conn)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if latest == 0 {
		t.Fatal("no embedded migrations found")
	}
	if current != latest {
		t.Fatalf("current = %d, latest = %d, want equal", current, latest)
	}

	// Applied versions are skipped: a second run leaves the schema untouched.
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	again, _, err := migrate.Status(conn)
	if err != nil {
		t.Fatalf("status after rerun: %v", err)
	}
	if again != current {
		t.Fatalf("version moved from %d to %d on rerun", current, again)
	}

	// The seeded reference tables survive the rerun intact.
	var categories, dpi int
	if err := conn.QueryRow(`SELECT COUNT(*) FROM safety_activity_categories`).Scan(&categories); err != nil {
		t.Fatalf("count categories: %v", err)
	}
	if err := conn.QueryRow(`SELECT COUNT(*) FROM safety_dpi`).Scan(&dpi); err != nil {
		t.Fatalf("count dpi: %v", err)
	}
	if categories == 0 || dpi == 0 {
		t.Fatalf("seeded rows: categories=%d dpi=%d, want both > 0", categories, dpi)
	}
}
