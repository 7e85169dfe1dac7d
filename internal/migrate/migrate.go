// Package migrate discovers numbered SQL migration files and applies them
// against the analytics store in either direction.
package migrate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

// ErrUnknownVersion is returned by Version when the schema_migrations
// table has no row yet; callers treat this as version 0.
var ErrUnknownVersion = errors.New("migrate: unknown schema version")

// MigrationsApplied is an optional Prometheus counter incremented once per
// migration step To actually applies; nil disables observation. It is a
// package-level hook rather than a To parameter since migration runs are
// one-shot CLI invocations, not long-lived components worth threading a
// counter through.
var MigrationsApplied prometheus.Counter

// DB is the subset of the store adapter the migration engine needs.
type DB interface {
	Exec(ctx context.Context, query string, args ...any) error
	QueryRow(ctx context.Context, query string, dest ...any) error
}

// Info describes one discovered migration step.
type Info struct {
	Version uint32
	Name    string
}

// Discover enumerates dir for "NNNNNN_name.{up,down}.sql" files, dedupes
// by (version, name), and returns them sorted ascending by version.
func Discover(dir string) ([]Info, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("migrate: read directory: %w", err)
	}

	seen := make(map[Info]struct{})
	var out []Info

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		var suffix string
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			suffix = ".up.sql"
		case strings.HasSuffix(name, ".down.sql"):
			suffix = ".down.sql"
		default:
			continue
		}

		parts := strings.SplitN(name, "_", 2)
		if len(parts) != 2 {
			continue
		}
		version, err := strconv.ParseUint(parts[0], 10, 32)
		if err != nil {
			continue
		}
		migrationName := strings.TrimSuffix(parts[1], suffix)

		info := Info{Version: uint32(version), Name: migrationName}
		if _, ok := seen[info]; ok {
			continue
		}
		seen[info] = struct{}{}
		out = append(out, info)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// Create writes empty up/down files for the next available version in
// dir, returning the version assigned.
func Create(dir, name string) (uint32, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("migrate: create migration directory: %w", err)
	}

	versions, err := Discover(dir)
	if err != nil {
		return 0, err
	}

	var version uint32 = 1
	for _, v := range versions {
		if v.Version+1 > version {
			version = v.Version + 1
		}
	}

	upPath := filepath.Join(dir, fmt.Sprintf("%06d_%s.up.sql", version, name))
	downPath := filepath.Join(dir, fmt.Sprintf("%06d_%s.down.sql", version, name))

	for _, p := range []string{upPath, downPath} {
		f, err := os.Create(p)
		if err != nil {
			return 0, fmt.Errorf("migrate: create migration file %s: %w", p, err)
		}
		f.Close()
	}

	log.Info().Str("up", upPath).Str("down", downPath).Msg("migrate: created migration files")
	return version, nil
}

// Version ensures the schema_migrations table exists and returns the
// single stored version, or ErrUnknownVersion if the table is empty.
func Version(ctx context.Context, db DB) (uint32, error) {
	const ddl = `CREATE TABLE IF NOT EXISTS schema_migrations (
		version String,
		applied_at DateTime DEFAULT now()
	) ENGINE = MergeTree ORDER BY version`

	if err := db.Exec(ctx, ddl); err != nil {
		return 0, fmt.Errorf("migrate: ensure schema_migrations table: %w", err)
	}

	var raw string
	if err := db.QueryRow(ctx, "SELECT version FROM schema_migrations", &raw); err != nil {
		return 0, ErrUnknownVersion
	}

	version, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("migrate: parse stored version %q: %w", raw, err)
	}
	return uint32(version), nil
}

// LatestVersion returns the highest discovered version in dir, or 0 if
// none exist. It resolves the CLI's "latest" target literal.
func LatestVersion(dir string) (uint32, error) {
	versions, err := Discover(dir)
	if err != nil {
		return 0, err
	}
	var max uint32
	for _, v := range versions {
		if v.Version > max {
			max = v.Version
		}
	}
	return max, nil
}

// To migrates the schema in dir to targetVersion, applying up or down
// files as needed, and rewrites the single schema_migrations row to the
// version actually reached.
func To(ctx context.Context, db DB, dir string, targetVersion uint32) error {
	versions, err := Discover(dir)
	if err != nil {
		return err
	}
	if len(versions) == 0 {
		log.Info().Str("dir", dir).Msg("migrate: no migrations found")
		return nil
	}

	current, err := Version(ctx, db)
	if errors.Is(err, ErrUnknownVersion) {
		log.Info().Msg("migrate: unknown database version, interpreting as version 0")
		current = 0
	} else if err != nil {
		return err
	}

	if current == targetVersion {
		log.Info().Uint32("version", current).Msg("migrate: already at target version")
		return nil
	}

	var steps []Info
	var direction string
	if current > targetVersion {
		direction = "down"
		for i := len(versions) - 1; i >= 0; i-- {
			v := versions[i]
			if v.Version <= current && v.Version > targetVersion {
				steps = append(steps, v)
			}
		}
	} else {
		direction = "up"
		for _, v := range versions {
			if v.Version > current && v.Version <= targetVersion {
				steps = append(steps, v)
			}
		}
	}

	latest := current
	for _, m := range steps {
		file := filepath.Join(dir, fmt.Sprintf("%06d_%s.%s.sql", m.Version, m.Name, direction))
		contents, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("migrate: read migration file %s: %w", file, err)
		}

		for _, query := range strings.Split(string(contents), ";") {
			query = strings.TrimSpace(query)
			if query == "" {
				continue
			}
			if err := db.Exec(ctx, query); err != nil {
				return fmt.Errorf("migrate: execute query from %s: %w", file, err)
			}
		}

		if direction == "up" {
			latest = m.Version
		} else {
			latest = m.Version - 1
		}
		log.Info().Str("file", file).Uint32("now_at", latest).Msg("migrate: applied migration")
		if MigrationsApplied != nil {
			MigrationsApplied.Inc()
		}
	}

	if err := db.Exec(ctx, "ALTER TABLE schema_migrations DELETE WHERE 1=1"); err != nil {
		return fmt.Errorf("migrate: clear schema_migrations: %w", err)
	}
	if err := db.Exec(ctx, "INSERT INTO schema_migrations (version) VALUES (?)", strconv.FormatUint(uint64(latest), 10)); err != nil {
		return fmt.Errorf("migrate: write schema_migrations row: %w", err)
	}

	return nil
}
