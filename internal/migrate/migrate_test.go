package migrate

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

type fakeDB struct {
	execs   []string
	version string
	hasRow  bool
}

func (f *fakeDB) Exec(_ context.Context, query string, args ...any) error {
	f.execs = append(f.execs, query)
	switch {
	case query == "ALTER TABLE schema_migrations DELETE WHERE 1=1":
		f.hasRow = false
	case len(args) > 0 && query == "INSERT INTO schema_migrations (version) VALUES (?)":
		f.version = args[0].(string)
		f.hasRow = true
	}
	return nil
}

func (f *fakeDB) QueryRow(_ context.Context, query string, dest ...any) error {
	if !f.hasRow {
		return context.DeadlineExceeded
	}
	*(dest[0].(*string)) = f.version
	return nil
}

func writeMigration(t *testing.T, dir string, version uint32, name, up, down string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, strconv.FormatUint(uint64(version), 10)+"_"+name+".up.sql"), []byte(up), 0o644); err != nil {
		t.Fatal(err)
	}
	// zero-padded filenames, matching Create's format
	os.Remove(filepath.Join(dir, strconv.FormatUint(uint64(version), 10)+"_"+name+".up.sql"))
	pad := func(v uint32) string {
		s := strconv.FormatUint(uint64(v), 10)
		for len(s) < 6 {
			s = "0" + s
		}
		return s
	}
	if err := os.WriteFile(filepath.Join(dir, pad(version)+"_"+name+".up.sql"), []byte(up), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, pad(version)+"_"+name+".down.sql"), []byte(down), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestDiscover(t *testing.T) {
	dir := t.TempDir()
	writeMigration(t, dir, 1, "initial", "CREATE TABLE test_table (id UInt64) ENGINE = MergeTree ORDER BY id;", "DROP TABLE test_table;")
	writeMigration(t, dir, 2, "second", "CREATE TABLE other (id UInt64) ENGINE = MergeTree ORDER BY id;", "DROP TABLE other;")

	versions, err := Discover(dir)
	if err != nil {
		t.Fatalf("Discover error = %v", err)
	}
	if len(versions) != 2 {
		t.Fatalf("versions = %d, want 2", len(versions))
	}
	if versions[0].Version != 1 || versions[1].Version != 2 {
		t.Fatalf("versions = %+v, want ascending 1,2", versions)
	}
}

func TestCreate_IncrementsVersion(t *testing.T) {
	dir := t.TempDir()
	v1, err := Create(dir, "initial")
	if err != nil {
		t.Fatalf("Create error = %v", err)
	}
	if v1 != 1 {
		t.Fatalf("v1 = %d, want 1", v1)
	}
	v2, err := Create(dir, "second")
	if err != nil {
		t.Fatalf("Create error = %v", err)
	}
	if v2 != 2 {
		t.Fatalf("v2 = %d, want 2", v2)
	}
}

func TestTo_FullCycle(t *testing.T) {
	dir := t.TempDir()
	writeMigration(t, dir, 1, "initial", "CREATE TABLE test_table (id UInt64) ENGINE = MergeTree ORDER BY id;", "DROP TABLE test_table;")
	writeMigration(t, dir, 2, "second", "CREATE TABLE other (id UInt64) ENGINE = MergeTree ORDER BY id;", "DROP TABLE other;")

	db := &fakeDB{}
	ctx := context.Background()

	if err := To(ctx, db, dir, 1); err != nil {
		t.Fatalf("To(1) error = %v", err)
	}
	v, err := Version(ctx, db)
	if err != nil || v != 1 {
		t.Fatalf("Version() = %d, %v, want 1, nil", v, err)
	}

	if err := To(ctx, db, dir, 2); err != nil {
		t.Fatalf("To(2) error = %v", err)
	}
	v, _ = Version(ctx, db)
	if v != 2 {
		t.Fatalf("Version() = %d, want 2", v)
	}

	if err := To(ctx, db, dir, 1); err != nil {
		t.Fatalf("To(1) downgrade error = %v", err)
	}
	v, _ = Version(ctx, db)
	if v != 1 {
		t.Fatalf("Version() after downgrade = %d, want 1", v)
	}

	if err := To(ctx, db, dir, 0); err != nil {
		t.Fatalf("To(0) error = %v", err)
	}
	v, _ = Version(ctx, db)
	if v != 0 {
		t.Fatalf("Version() after To(0) = %d, want 0", v)
	}
}

func TestTo_NoOpWhenAlreadyAtTarget(t *testing.T) {
	dir := t.TempDir()
	writeMigration(t, dir, 1, "initial", "SELECT 1;", "SELECT 1;")

	db := &fakeDB{version: "1", hasRow: true}
	execsBefore := len(db.execs)

	if err := To(context.Background(), db, dir, 1); err != nil {
		t.Fatalf("To error = %v", err)
	}
	// Reading the current version runs the ensure-table DDL; no migration
	// statement and no version-row rewrite may follow it.
	if len(db.execs) != execsBefore+1 || !strings.HasPrefix(db.execs[execsBefore], "CREATE TABLE IF NOT EXISTS schema_migrations") {
		t.Fatalf("expected only the ensure-table exec, got %v", db.execs)
	}
}

func TestVersion_UnknownWhenEmpty(t *testing.T) {
	db := &fakeDB{}
	_, err := Version(context.Background(), db)
	if err != ErrUnknownVersion {
		t.Fatalf("err = %v, want ErrUnknownVersion", err)
	}
}

func TestLatestVersion(t *testing.T) {
	dir := t.TempDir()
	writeMigration(t, dir, 1, "initial", "SELECT 1;", "SELECT 1;")
	writeMigration(t, dir, 5, "fifth", "SELECT 1;", "SELECT 1;")

	latest, err := LatestVersion(dir)
	if err != nil {
		t.Fatalf("LatestVersion error = %v", err)
	}
	if latest != 5 {
		t.Fatalf("latest = %d, want 5", latest)
	}
}
