package ratelimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestGate(t *testing.T, handler http.HandlerFunc) (*Gate, func()) {
	t.Helper()
	srv := httptest.NewServer(handler)
	g := New()
	return g, srv.Close
}

func TestGate_IngestsRules(t *testing.T) {
	g := New()
	fixedNow := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return fixedNow }

	h := http.Header{}
	h.Set("X-Rate-Limit-Rules", "Ip")
	h.Set("X-Rate-Limit-Ip", "45:60:120")
	h.Set("X-Rate-Limit-Ip-State", "45:60:0")

	g.ingest(h, fixedNow)

	g.mu.Lock()
	st, ok := g.rules["Ip"]
	g.mu.Unlock()
	if !ok {
		t.Fatalf("expected Ip rule to be recorded")
	}
	if st.remainingHits != 0 {
		t.Fatalf("remainingHits = %d, want 0", st.remainingHits)
	}
	if !st.resetTime.Equal(fixedNow.Add(60 * time.Second)) {
		t.Fatalf("resetTime = %v, want %v", st.resetTime, fixedNow.Add(60*time.Second))
	}
}

func TestGate_IgnoresMalformedHeaders(t *testing.T) {
	g := New()
	h := http.Header{}
	h.Set("X-Rate-Limit-Rules", "Ip")
	h.Set("X-Rate-Limit-Ip", "not-a-triple")
	h.Set("X-Rate-Limit-Ip-State", "45:60:0")

	g.ingest(h, time.Now())

	if len(g.rules) != 0 {
		t.Fatalf("expected no rules recorded, got %v", g.rules)
	}
}

func TestGate_StallBlocksUntilReset(t *testing.T) {
	g := New()
	fixedNow := time.Now()
	g.now = func() time.Time { return fixedNow }
	g.rules["Ip"] = ruleState{remainingHits: 0, resetTime: fixedNow.Add(30 * time.Millisecond)}

	start := time.Now()
	if err := g.stall(context.Background()); err != nil {
		t.Fatalf("stall returned error: %v", err)
	}
	if time.Since(start) < 25*time.Millisecond {
		t.Fatalf("stall returned too early")
	}
}

func TestGate_StallCancelled(t *testing.T) {
	g := New()
	g.rules["Ip"] = ruleState{remainingHits: 0, resetTime: time.Now().Add(time.Hour)}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := g.stall(ctx)
	if err == nil {
		t.Fatalf("expected shutdown error")
	}
}

func TestGate_RetriesOn429(t *testing.T) {
	attempts := 0
	g := New()
	g.Send = func(req *http.Request) (*http.Response, error) {
		attempts++
		if attempts < 2 {
			resp := httptest.NewRecorder()
			resp.Header().Set("Retry-After", "0")
			resp.WriteHeader(http.StatusTooManyRequests)
			return resp.Result(), nil
		}
		resp := httptest.NewRecorder()
		resp.WriteHeader(http.StatusOK)
		return resp.Result(), nil
	}

	req, _ := http.NewRequest(http.MethodGet, "http://example.invalid/", nil)
	resp, err := g.Do(context.Background(), req)
	if err != nil {
		t.Fatalf("Do returned error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if attempts != 2 {
		t.Fatalf("attempts = %d, want 2", attempts)
	}
}
