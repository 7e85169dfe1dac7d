// Package resilience wraps the fetcher's outbound calls with a circuit
// breaker so sustained upstream failure (DNS outage, prolonged 5xx) stops
// spawning doomed fetch goroutines instead of retrying forever.
package resilience

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
)

// Config tunes the breaker's trip and recovery behavior.
type Config struct {
	MaxRequests         uint32
	Interval            time.Duration
	Timeout             time.Duration
	ConsecutiveFailures uint32
}

// DefaultConfig is generous: it only trips on sustained, consecutive
// transport failure, never on the occasional bad page or 429.
func DefaultConfig() Config {
	return Config{
		MaxRequests:         1,
		Interval:            60 * time.Second,
		Timeout:             30 * time.Second,
		ConsecutiveFailures: 8,
	}
}

// Breaker wraps a single upstream dependency (the public-stash-tabs feed).
type Breaker struct {
	cb *gobreaker.CircuitBreaker
}

// New constructs a Breaker from cfg.
func New(name string, cfg Config) *Breaker {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("resilience: circuit state changed")
		},
	}
	return &Breaker{cb: gobreaker.NewCircuitBreaker(settings)}
}

// Do runs fn through the breaker. When the breaker is open, fn is not
// called at all and ctx's cancellation is not consulted (the caller
// should back off and try again on its own schedule).
func (b *Breaker) Do(ctx context.Context, fn func(context.Context) error) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, fn(ctx)
	})
	if err != nil {
		return fmt.Errorf("resilience: %w", err)
	}
	return nil
}

// State reports the breaker's current state, for health reporting.
func (b *Breaker) State() string {
	return b.cb.State().String()
}
