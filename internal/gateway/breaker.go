package gateway

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// ErrCircuitOpen is matched by every *CircuitOpenError.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitOpenError rejects a call without reaching the upstream service.
type CircuitOpenError struct {
	Remaining time.Duration
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit breaker is open, retry in %s", e.Remaining.Round(time.Second))
}

func (e *CircuitOpenError) Unwrap() error { return ErrCircuitOpen }

// Breaker trips after a run of consecutive failures and, once the cooldown
// has passed, lets a single trial call through.
type Breaker struct {
	cb       *gobreaker.CircuitBreaker
	cooldown time.Duration

	mu       sync.Mutex
	openedAt time.Time
}

// NewBreaker creates a breaker that opens after threshold consecutive
// failures and stays open for cooldown.
func NewBreaker(name string, threshold int, cooldown time.Duration) *Breaker {
	if threshold < 1 {
		threshold = 1
	}
	b := &Breaker{cooldown: cooldown}
	b.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(threshold)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			switch to {
			case gobreaker.StateOpen:
				b.mu.Lock()
				b.openedAt = time.Now()
				b.mu.Unlock()
				log.Printf("[gateway] Circuit %s opened (was %s), cooling down for %s", name, from, cooldown)
			case gobreaker.StateHalfOpen:
				log.Printf("[gateway] Circuit %s half-open, allowing one trial call", name)
			case gobreaker.StateClosed:
				log.Printf("[gateway] Circuit %s closed", name)
			}
		},
	})
	return b
}

// Execute runs fn unless the circuit is open. Errors from fn count as
// failures and are returned unchanged.
func (b *Breaker) Execute(fn func() error) error {
	_, err := b.cb.Execute(func() (any, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &CircuitOpenError{Remaining: b.remaining()}
	}
	return err
}

// State returns "closed", "open" or "half-open".
func (b *Breaker) State() string {
	return b.cb.State().String()
}

// ConsecutiveFailures is the current failure run while closed.
func (b *Breaker) ConsecutiveFailures() int {
	return int(b.cb.Counts().ConsecutiveFailures)
}

func (b *Breaker) remaining() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.openedAt.IsZero() {
		return 0
	}
	left := b.cooldown - time.Since(b.openedAt)
	if left < 0 {
		return 0
	}
	return left
}
