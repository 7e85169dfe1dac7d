// Package store wraps the ClickHouse client with the bulk-insert and
// migration-query contracts the rest of the indexer depends on.
package store

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/sawpanic/stash-indexer/internal/config"
	"github.com/sawpanic/stash-indexer/internal/stash"
)

// Batch thresholds for item inserts. MaxBatchRows is the row count at which
// BufferedItemStore flushes its buffer. MaxBatchBytes is not enforced
// anywhere: Store.InsertItems sends every row it is given in one batch,
// whatever its size.
const (
	MaxBatchBytes = 50_000_000
	MaxBatchRows  = 750_000
)

// Store is the ColumnarStore adapter: a thin, typed wrapper around a
// ClickHouse connection.
type Store struct {
	conn driver.Conn
}

// Open connects to ClickHouse using cfg's ClickHouse* fields.
func Open(ctx context.Context, cfg config.Config) (*Store, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.ClickHouseURL},
		Auth: clickhouse.Auth{
			Database: cfg.ClickHouseDatabase,
			Username: cfg.ClickHouseUser,
			Password: cfg.ClickHousePassword,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("store: open clickhouse connection: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("store: ping clickhouse: %w", err)
	}
	return &Store{conn: conn}, nil
}

// InsertResult reports what a bulk insert actually wrote.
type InsertResult struct {
	Rows  int
	Bytes int
}

// InsertItems bulk-inserts rows into the items table in a single batch.
func (s *Store) InsertItems(ctx context.Context, rows []stash.ItemRow) (InsertResult, error) {
	if len(rows) == 0 {
		return InsertResult{}, nil
	}

	batch, err := s.conn.PrepareBatch(ctx, "INSERT INTO items")
	if err != nil {
		return InsertResult{}, fmt.Errorf("store: prepare items batch: %w", err)
	}

	bytesWritten := 0
	for _, r := range rows {
		if err := batch.Append(
			r.Timestamp, r.League, r.Base, r.Name, r.Links, r.ILvl, r.FrameType,
			r.Corrupted, r.StackSize, r.Level, r.Quality, r.Passives, r.Tier,
			r.Influences, r.PriceQuantity, r.PriceCurrency,
		); err != nil {
			return InsertResult{}, fmt.Errorf("store: append item row: %w", err)
		}
		bytesWritten += rowApproxSize(r)
	}

	if err := batch.Send(); err != nil {
		return InsertResult{}, fmt.Errorf("store: send items batch: %w", err)
	}

	return InsertResult{Rows: len(rows), Bytes: bytesWritten}, nil
}

// InsertStatisticsEvent inserts a single row into statistics_events.
func (s *Store) InsertStatisticsEvent(ctx context.Context, event stash.StatisticsEvent) error {
	batch, err := s.conn.PrepareBatch(ctx, "INSERT INTO statistics_events")
	if err != nil {
		return fmt.Errorf("store: prepare statistics batch: %w", err)
	}
	if err := batch.Append(
		event.Timestamp, event.StashCount, event.ItemCount,
		event.CompressedBytes, event.DecompressedBytes,
	); err != nil {
		return fmt.Errorf("store: append statistics event: %w", err)
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("store: send statistics batch: %w", err)
	}
	return nil
}

// Exec runs a DDL/DML statement with no result set, used by the migration
// engine to apply schema files and update the version row.
func (s *Store) Exec(ctx context.Context, query string, args ...any) error {
	return s.conn.Exec(ctx, query, args...)
}

// QueryRow runs a single-row query and scans it into dest.
func (s *Store) QueryRow(ctx context.Context, query string, dest ...any) error {
	row := s.conn.QueryRow(ctx, query)
	return row.Scan(dest...)
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

// rowApproxSize estimates the on-wire size of one ItemRow for
// InsertResult.Bytes; ClickHouse's native protocol does not expose
// per-row byte accounting, so this is a best-effort estimate rather than
// the exact figure the Rust inserter.end() call reports.
func rowApproxSize(r stash.ItemRow) int {
	size := len(r.League) + len(r.Base) + len(r.Name) + len(r.PriceCurrency) + 32
	for _, inf := range r.Influences {
		size += len(inf)
	}
	return size
}
