// Package pipeline owns the crawl loop: it seeds the change-id chain,
// fans fetch tasks out, fans parsed pages into the normalizer, and drains
// cleanly on shutdown.
package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/stash-indexer/internal/fetch"
	"github.com/sawpanic/stash-indexer/internal/normalize"
	"github.com/sawpanic/stash-indexer/internal/stash"
	"github.com/sawpanic/stash-indexer/internal/store"
)

// Fetcher is the subset of fetch.Fetcher the pipeline drives.
type Fetcher interface {
	FetchStash(ctx context.Context, changeID string, nextIDs chan<- string, pages chan<- fetch.Page) error
}

// Store is the subset of the ColumnarStore adapter the normalizer stage
// writes to.
type Store interface {
	InsertItems(ctx context.Context, rows []stash.ItemRow) (store.InsertResult, error)
	InsertStatisticsEvent(ctx context.Context, event stash.StatisticsEvent) error
}

// Clock abstracts time.Now for tests; defaults to time.Now.
type Clock func() time.Time

// ChangeIDBuffer and PageBuffer size the pipeline's internal channels. Go
// has no unbounded channel; a generous buffer plus the rate-limit gate's
// pacing reproduces the source design's unbounded-channel behavior without
// risking unbounded goroutine growth.
const (
	ChangeIDBuffer = 1024
	PageBuffer     = 256
)

// Pipeline wires a Fetcher to a Store through the normalizer, driving the
// change-id chain walk described by the crawl pipeline design.
type Pipeline struct {
	Fetcher Fetcher
	Store   Store
	Now     Clock

	// ItemsPersisted is an optional Prometheus counter incremented once
	// per item row actually handed to the store; nil disables observation.
	ItemsPersisted prometheus.Counter
}

// New constructs a Pipeline. now defaults to time.Now when nil.
func New(fetcher Fetcher, store Store, now Clock) *Pipeline {
	if now == nil {
		now = time.Now
	}
	return &Pipeline{Fetcher: fetcher, Store: store, Now: now}
}

// Run seeds the change-id chain at initialChangeID and drives the crawl
// loop until ctx is cancelled, then drains in-flight fetchers and the
// normalizer before returning.
func (p *Pipeline) Run(ctx context.Context, initialChangeID string) error {
	changeIDs := make(chan string, ChangeIDBuffer)
	pages := make(chan fetch.Page, PageBuffer)

	var normalizerWG sync.WaitGroup
	normalizerWG.Add(1)
	go func() {
		defer normalizerWG.Done()
		p.runNormalizer(ctx, pages)
	}()

	select {
	case changeIDs <- initialChangeID:
	case <-ctx.Done():
		close(pages)
		normalizerWG.Wait()
		return nil
	}

	var fetchersWG sync.WaitGroup

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case id, ok := <-changeIDs:
			if !ok {
				break loop
			}
			fetchersWG.Add(1)
			go func(id string) {
				defer fetchersWG.Done()
				if err := p.Fetcher.FetchStash(ctx, id, changeIDs, pages); err != nil {
					log.Error().Err(err).Str("change_id", id).Msg("pipeline: fetch failed")
				}
			}(id)
		}
	}

	fetchersWG.Wait()
	close(changeIDs)
	close(pages)
	normalizerWG.Wait()
	return nil
}

// runNormalizer is the single sequential consumer of pages; it exits when
// pages is closed or ctx is cancelled between receives, whichever comes
// first, never leaving a partial write in progress.
func (p *Pipeline) runNormalizer(ctx context.Context, pages <-chan fetch.Page) {
	for {
		select {
		case <-ctx.Done():
			return
		case page, ok := <-pages:
			if !ok {
				return
			}
			p.processPage(ctx, page)
		}
	}
}

func (p *Pipeline) processPage(ctx context.Context, page fetch.Page) {
	result := normalize.ProcessPage(page.Body, page.CompressedBytes, page.DecompressedBytes, p.Now())

	if len(result.Items) > 0 {
		written, err := p.Store.InsertItems(ctx, result.Items)
		if err != nil {
			log.Error().Err(err).Msg("pipeline: insert items failed")
		} else if p.ItemsPersisted != nil {
			p.ItemsPersisted.Add(float64(written.Rows))
		}
	}

	if err := p.Store.InsertStatisticsEvent(ctx, result.Event); err != nil {
		log.Error().Err(err).Msg("pipeline: insert statistics event failed")
	}
}
