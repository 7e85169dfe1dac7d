// Package ratelimit implements the proactive-plus-reactive gate that sits
// in front of every call to the upstream public-stash-tabs API.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ErrShutdown is returned when a caller-supplied context is cancelled while
// the gate is stalling or retrying a request.
var ErrShutdown = errors.New("ratelimit: shutdown requested")

// ErrNotRetryable is returned when a request body cannot be re-sent on a
// 429 retry (the gate requires GetBody to be set for such requests).
var ErrNotRetryable = errors.New("ratelimit: request body is not retryable")

type ruleState struct {
	remainingHits uint32
	resetTime     time.Time
}

// Gate paces outbound requests against the upstream's advertised rate
// limit rules, stalling ahead of a violation and retrying up to MaxRetries
// times on 429. Concurrent callers coordinate only through the shared rule
// state; requests are not serialized.
type Gate struct {
	mu              sync.Mutex
	rules           map[string]ruleState
	lastDispatch    time.Time
	MaxRetries      int
	DefaultRetryAfter time.Duration

	// Send performs the actual HTTP round trip; overridable for tests.
	Send func(*http.Request) (*http.Response, error)

	// StallCount and StallDuration are optional Prometheus instruments the
	// gate reports proactive-stall activity to. Left nil, stalling is not
	// observed, which is the default and what every test in this package
	// relies on.
	StallCount    prometheus.Counter
	StallDuration prometheus.Histogram

	now func() time.Time
}

// New constructs a Gate backed by a plain, zero-valued http.Client.
func New() *Gate {
	client := &http.Client{}
	return &Gate{
		rules:             make(map[string]ruleState),
		MaxRetries:        3,
		DefaultRetryAfter: 5 * time.Second,
		Send:              client.Do,
		now:               time.Now,
	}
}

// Do sends req through the gate: proactive stall, dispatch, 429 retry, then
// reactive header ingestion.
func (g *Gate) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if err := g.stall(ctx); err != nil {
		return nil, err
	}

	g.mu.Lock()
	g.lastDispatch = g.now()
	dispatchTime := g.lastDispatch
	g.mu.Unlock()

	resp, err := g.sendWithRetry(ctx, req)
	if err != nil {
		return nil, err
	}

	g.ingest(resp.Header, dispatchTime)
	return resp, nil
}

// stall blocks until every exhausted rule has reset, or ctx is cancelled.
func (g *Gate) stall(ctx context.Context) error {
	wait := g.maxWait()
	if wait <= 0 {
		return nil
	}
	if g.StallCount != nil {
		g.StallCount.Inc()
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		if g.StallDuration != nil {
			g.StallDuration.Observe(wait.Seconds())
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrShutdown, ctx.Err())
	}
}

func (g *Gate) maxWait() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	var max time.Duration
	for name, st := range g.rules {
		if st.resetTime.Before(now) {
			delete(g.rules, name)
			continue
		}
		if st.remainingHits == 0 {
			if d := st.resetTime.Sub(now); d > max {
				max = d
			}
		}
	}
	return max
}

func (g *Gate) sendWithRetry(ctx context.Context, req *http.Request) (*http.Response, error) {
	retries := g.MaxRetries
	for {
		attempt := req
		if req.Body != nil {
			cloned := req.Clone(ctx)
			if req.GetBody == nil {
				return nil, ErrNotRetryable
			}
			body, err := req.GetBody()
			if err != nil {
				return nil, fmt.Errorf("ratelimit: clone request body: %w", err)
			}
			cloned.Body = body
			attempt = cloned
		} else {
			attempt = req.Clone(ctx)
		}

		resp, err := g.Send(attempt)
		if err != nil {
			return nil, err
		}

		if resp.StatusCode != http.StatusTooManyRequests || retries <= 0 {
			return resp, nil
		}

		wait := g.retryAfter(resp.Header)
		resp.Body.Close()
		retries--

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("%w: %v", ErrShutdown, ctx.Err())
		}
	}
}

func (g *Gate) retryAfter(h http.Header) time.Duration {
	raw := h.Get("Retry-After")
	secs, err := strconv.Atoi(raw)
	if err != nil || secs < 0 {
		return g.DefaultRetryAfter
	}
	return time.Duration(secs) * time.Second
}

// ingest parses X-Rate-Limit-Rules and the per-rule header pairs,
// overwriting the gate's view of each named rule's remaining budget.
func (g *Gate) ingest(h http.Header, dispatchTime time.Time) {
	rulesHeader := h.Get("X-Rate-Limit-Rules")
	if rulesHeader == "" {
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	for _, rule := range strings.Split(rulesHeader, ",") {
		rule = strings.TrimSpace(rule)
		if rule == "" {
			continue
		}
		limit := h.Get("X-Rate-Limit-" + rule)
		state := h.Get("X-Rate-Limit-" + rule + "-State")
		maxHits, period, ok1 := parseTriple(limit)
		currentHits, _, ok2 := parseTriple(state)
		if !ok1 || !ok2 {
			continue
		}

		var remaining uint32
		if maxHits > currentHits {
			remaining = maxHits - currentHits
		}

		g.rules[rule] = ruleState{
			remainingHits: remaining,
			resetTime:     dispatchTime.Add(time.Duration(period) * time.Second),
		}
	}
}

// parseTriple parses "a:b:c", requiring all three components to be
// unsigned integers, and returns the first two as uint32.
func parseTriple(s string) (first, second uint32, ok bool) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return 0, 0, false
	}
	a, err1 := strconv.ParseUint(parts[0], 10, 32)
	b, err2 := strconv.ParseUint(parts[1], 10, 32)
	_, err3 := strconv.ParseUint(parts[2], 10, 32)
	if err1 != nil || err2 != nil || err3 != nil {
		return 0, 0, false
	}
	return uint32(a), uint32(b), true
}
