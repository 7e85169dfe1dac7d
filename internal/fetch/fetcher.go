// Package fetch retrieves and decodes individual public-stash-tabs pages.
package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/stash-indexer/internal/ratelimit"
	"github.com/sawpanic/stash-indexer/internal/stash"
)

// TokenSource supplies the bearer token to attach to each request.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Page is one decoded response, with the byte counts the caller needs to
// build a StatisticsEvent.
type Page struct {
	Body              stash.Page
	CompressedBytes   uint32
	DecompressedBytes uint32
}

// Breaker is the subset of resilience.Breaker the fetcher needs; satisfied
// by *resilience.Breaker and easily faked in tests.
type Breaker interface {
	Do(ctx context.Context, fn func(context.Context) error) error
}

// Fetcher issues single-page requests against the upstream API.
type Fetcher struct {
	Gate      *ratelimit.Gate
	Tokens    TokenSource
	BaseURL   string
	UserAgent string

	// Breaker, when set, wraps the gate dispatch so sustained transport
	// failure (DNS outage, prolonged 5xx) stops the fetcher from spawning
	// doomed requests instead of retrying forever. Optional: nil disables
	// breaking entirely, which every test in this package except
	// TestFetcher_FetchStash_RoutesThroughBreaker relies on.
	Breaker Breaker

	// PagesFetched, FetchErrors, and FetchLatency are optional Prometheus
	// instruments; left nil, fetches are simply not observed.
	PagesFetched prometheus.Counter
	FetchErrors  prometheus.Counter
	FetchLatency prometheus.Histogram
}

// New constructs a Fetcher.
func New(gate *ratelimit.Gate, tokens TokenSource, baseURL, userAgent string) *Fetcher {
	return &Fetcher{Gate: gate, Tokens: tokens, BaseURL: baseURL, UserAgent: userAgent}
}

// FetchStash retrieves the page for changeID. It pushes the server's
// advertised next change-id onto nextIDs before the body is decoded, so a
// bad page never stalls the chain walk. On a non-200 response, changeID
// itself is re-enqueued for retry. Every send onto nextIDs or pages blocks
// under backpressure rather than dropping the id or page, so the chain
// walk never silently loses ground; a blocked send unblocks cleanly (nil
// error) if ctx is cancelled, treating receiver shutdown as a clean stop,
// not an error.
func (f *Fetcher) FetchStash(ctx context.Context, changeID string, nextIDs chan<- string, pages chan<- Page) (err error) {
	start := time.Now()
	defer func() {
		if f.FetchLatency != nil {
			f.FetchLatency.Observe(time.Since(start).Seconds())
		}
		if err != nil && f.FetchErrors != nil {
			f.FetchErrors.Inc()
		}
	}()

	token, err := f.Tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("fetch: acquire token: %w", err)
	}

	url := fmt.Sprintf("%s/public-stash-tabs?id=%s", f.BaseURL, changeID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("fetch: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("User-Agent", f.UserAgent)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Encoding", "gzip")

	var resp *http.Response
	dispatch := func(ctx context.Context) error {
		r, derr := f.Gate.Do(ctx, req)
		resp = r
		return derr
	}
	if f.Breaker != nil {
		err = f.Breaker.Do(ctx, dispatch)
	} else {
		err = dispatch(ctx)
	}
	if err != nil {
		return fmt.Errorf("fetch: dispatch request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Error().Str("change_id", changeID).Int("status", resp.StatusCode).Msg("fetch: non-200 response")
		select {
		case nextIDs <- changeID:
		case <-ctx.Done():
			// Receiver gone or process shutting down: not an error.
			return nil
		}
		return fmt.Errorf("fetch: upstream returned status %d", resp.StatusCode)
	}

	next := resp.Header.Get("x-next-change-id")
	if next == "" {
		return fmt.Errorf("fetch: response missing x-next-change-id header")
	}

	select {
	case nextIDs <- next:
	case <-ctx.Done():
		// Receiver gone or process shutting down: not an error.
		return nil
	}

	compressed, decompressed, body, err := decodeBody(resp.Body, resp.Header.Get("Content-Encoding") == "gzip")
	if err != nil {
		return fmt.Errorf("fetch: decode body: %w", err)
	}

	var page stash.Page
	if err := json.Unmarshal(body, &page); err != nil {
		log.Error().Str("change_id", changeID).Str("context", jsonErrorContext(body, err)).Msg("fetch: json parse failure")
		return fmt.Errorf("fetch: parse page: %w", err)
	}

	select {
	case pages <- Page{Body: page, CompressedBytes: compressed, DecompressedBytes: decompressed}:
		if f.PagesFetched != nil {
			f.PagesFetched.Inc()
		}
	case <-ctx.Done():
		return nil
	}

	return nil
}

// decodeBody reads resp.Body fully, counting compressed bytes, and
// gzip-decodes it when gzipped, counting the decompressed size too.
func decodeBody(r io.Reader, gzipped bool) (compressed, decompressed uint32, body []byte, err error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return 0, 0, nil, err
	}
	compressed = uint32(len(raw))

	if !gzipped {
		return compressed, compressed, raw, nil
	}

	zr, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return compressed, 0, nil, fmt.Errorf("open gzip reader: %w", err)
	}
	defer zr.Close()

	out, err := io.ReadAll(zr)
	if err != nil {
		return compressed, 0, nil, fmt.Errorf("read gzip stream: %w", err)
	}
	return compressed, uint32(len(out)), out, nil
}

// jsonErrorContext locates the byte offset reported by a json.Unmarshal
// error and extracts a ±100-byte window around it for operator diagnosis.
func jsonErrorContext(body []byte, err error) string {
	var offset int64
	switch e := err.(type) {
	case *json.SyntaxError:
		offset = e.Offset
	case *json.UnmarshalTypeError:
		offset = e.Offset
	default:
		return ""
	}

	const window = 100
	start := int(offset) - window
	if start < 0 {
		start = 0
	}
	end := int(offset) + window
	if end > len(body) {
		end = len(body)
	}
	return string(body[start:end])
}
