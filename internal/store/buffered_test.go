package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/stash-indexer/internal/stash"
)

type fakeInserter struct {
	mu      sync.Mutex
	batches [][]stash.ItemRow
	events  []stash.StatisticsEvent
}

func (f *fakeInserter) InsertItems(ctx context.Context, rows []stash.ItemRow) (InsertResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	batch := make([]stash.ItemRow, len(rows))
	copy(batch, rows)
	f.batches = append(f.batches, batch)
	return InsertResult{Rows: len(rows)}, nil
}

func (f *fakeInserter) InsertStatisticsEvent(ctx context.Context, event stash.StatisticsEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *fakeInserter) batchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

func TestBufferedItemStore_FlushesOnTimer(t *testing.T) {
	inserter := &fakeInserter{}
	b := NewBufferedItemStore(inserter, 20*time.Millisecond)
	defer b.Close()

	rows := []stash.ItemRow{{Name: "a"}, {Name: "b"}}
	_, err := b.InsertItems(context.Background(), rows)
	require.NoError(t, err)

	deadline := time.After(time.Second)
	for inserter.batchCount() == 0 {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for timer flush")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestBufferedItemStore_PassesThroughStatisticsEvents(t *testing.T) {
	inserter := &fakeInserter{}
	b := NewBufferedItemStore(inserter, time.Minute)
	defer b.Close()

	event := stash.StatisticsEvent{StashCount: 1, ItemCount: 2}
	err := b.InsertStatisticsEvent(context.Background(), event)
	require.NoError(t, err)

	inserter.mu.Lock()
	defer inserter.mu.Unlock()
	assert.Equal(t, []stash.StatisticsEvent{event}, inserter.events)
}

func TestBufferedItemStore_CloseFlushesRemainder(t *testing.T) {
	inserter := &fakeInserter{}
	b := NewBufferedItemStore(inserter, time.Minute)

	_, err := b.InsertItems(context.Background(), []stash.ItemRow{{Name: "a"}})
	require.NoError(t, err)

	require.NoError(t, b.Close())
	assert.Equal(t, 1, inserter.batchCount())
}
