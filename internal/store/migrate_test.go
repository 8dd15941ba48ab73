package store

import (
	"regexp"
	"strings"
	"testing"
)

func TestMigrationFilesAreWellFormed(t *testing.T) {
	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		t.Fatalf("read embedded migrations: %v", err)
	}
	if len(entries) == 0 {
		t.Fatal("no embedded migrations found")
	}

	pattern := regexp.MustCompile(`^\d{4}_[a-z0-9_]+\.up\.sql$`)
	seen := map[string]bool{}
	for _, entry := range entries {
		name := entry.Name()
		if !pattern.MatchString(name) {
			t.Errorf("migration %q does not match the naming pattern", name)
		}
		version := name[:4]
		if seen[version] {
			t.Errorf("duplicate migration version %s", version)
		}
		seen[version] = true

		contents, err := migrationFiles.ReadFile("migrations/" + name)
		if err != nil {
			t.Fatalf("read %s: %v", name, err)
		}
		if strings.TrimSpace(string(contents)) == "" {
			t.Errorf("migration %s is empty", name)
		}
	}
}

func TestReviewFunctionMigrationDefinesStatuses(t *testing.T) {
	contents, err := migrationFiles.ReadFile("migrations/0003_review_fn.up.sql")
	if err != nil {
		t.Fatalf("read review migration: %v", err)
	}
	sql := string(contents)
	for _, status := range []string{"'approved'", "'hold'", "'duplicate'"} {
		if !strings.Contains(sql, status) {
			t.Errorf("review function migration missing status %s", status)
		}
	}
	if !strings.Contains(sql, "CREATE OR REPLACE FUNCTION review_extraction") {
		t.Error("review function migration missing function definition")
	}
}
