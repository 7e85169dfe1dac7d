package store

import (
	"context"
	"time"

	"github.com/sawpanic/stash-indexer/internal/asyncbatch"
	"github.com/sawpanic/stash-indexer/internal/stash"
)

// EndTimeout bounds every flush a BufferedItemStore performs, matching
// the ColumnarStore adapter's end_timeout tolerance.
const EndTimeout = 20 * time.Second

// DefaultFlushInterval bounds how long rows may sit buffered before a
// timer-triggered flush, independent of whether MaxBatchRows is reached.
const DefaultFlushInterval = 5 * time.Second

// Inserter is the subset of Store a BufferedItemStore writes to;
// satisfied by *Store and easily faked in tests.
type Inserter interface {
	InsertItems(ctx context.Context, rows []stash.ItemRow) (InsertResult, error)
	InsertStatisticsEvent(ctx context.Context, event stash.StatisticsEvent) error
}

// BufferedItemStore accumulates ItemRows across many pages and flushes
// them to the underlying inserter once MaxBatchRows have buffered or
// flushInterval has elapsed, whichever comes first. This is the
// across-page counterpart to Store.InsertItems' single-page bulk insert:
// individual pages are often far smaller than the store's tolerated
// batch, so batching across pages amortizes round trips the way the
// ColumnarStore adapter's configurable max_bytes/max_rows buffer is
// documented to.
type BufferedItemStore struct {
	inserter Inserter
	proc     *asyncbatch.Processor[stash.ItemRow]
}

// NewBufferedItemStore wraps inserter, flushing buffered rows to it at
// MaxBatchRows or flushInterval, whichever comes first.
func NewBufferedItemStore(inserter Inserter, flushInterval time.Duration) *BufferedItemStore {
	b := &BufferedItemStore{inserter: inserter}
	b.proc = asyncbatch.New(b.flush, MaxBatchRows, flushInterval)
	return b
}

func (b *BufferedItemStore) flush(rows []stash.ItemRow) error {
	ctx, cancel := context.WithTimeout(context.Background(), EndTimeout)
	defer cancel()
	_, err := b.inserter.InsertItems(ctx, rows)
	return err
}

// InsertItems buffers rows for a later bulk flush rather than writing
// synchronously. It satisfies the same signature as Store.InsertItems so
// callers do not need to know whether writes are buffered; the returned
// count reflects rows accepted into the buffer, not rows yet committed.
func (b *BufferedItemStore) InsertItems(ctx context.Context, rows []stash.ItemRow) (InsertResult, error) {
	for _, r := range rows {
		if err := b.proc.Submit(r); err != nil {
			return InsertResult{}, err
		}
	}
	return InsertResult{Rows: len(rows)}, nil
}

// InsertStatisticsEvent writes straight through: statistics events are one
// row per page and do not benefit from cross-page buffering.
func (b *BufferedItemStore) InsertStatisticsEvent(ctx context.Context, event stash.StatisticsEvent) error {
	return b.inserter.InsertStatisticsEvent(ctx, event)
}

// Close flushes any remaining buffered rows and stops the flush timer. It
// does not close the underlying Store's connection.
func (b *BufferedItemStore) Close() error {
	return b.proc.Close()
}

// LastFlushError returns the most recent error from any flush (size-,
// timer-, or Close-triggered), since flushes run asynchronously and have
// no synchronous caller to return their error to.
func (b *BufferedItemStore) LastFlushError() error {
	return b.proc.LastError()
}
