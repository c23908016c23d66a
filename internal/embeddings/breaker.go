package embeddings

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrBreakerOpen is returned while the circuit is open. Callers treat it as
// "embeddings unavailable" and degrade to non-semantic behavior.
var ErrBreakerOpen = errors.New("embeddings: circuit breaker open")

// Breaker states.
const (
	StateClosed = iota
	StateOpen
	StateHalfOpen
)

// Breaker wraps a Provider with a circuit breaker. After FailureThreshold
// consecutive failures the circuit opens and calls fail fast; after
// ResetTimeout a single probe is allowed through, and its outcome closes or
// reopens the circuit.
type Breaker struct {
	provider Provider

	threshold    int
	resetTimeout time.Duration
	onState      func(state int)

	mu        sync.Mutex
	state     int
	failures  int
	openedAt  time.Time
	probing   bool
	now       func() time.Time
}

var _ Provider = (*Breaker)(nil)

// BreakerConfig configures the circuit breaker.
type BreakerConfig struct {
	// FailureThreshold is the consecutive failure count that opens the
	// circuit. Default 5.
	FailureThreshold int

	// ResetTimeout is how long the circuit stays open before a probe is
	// allowed. Default 30s.
	ResetTimeout time.Duration

	// OnStateChange, when set, is called with the new state. Used to drive
	// the breaker state gauge.
	OnStateChange func(state int)
}

// NewBreaker wraps provider with a circuit breaker.
func NewBreaker(provider Provider, cfg BreakerConfig) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	return &Breaker{
		provider:     provider,
		threshold:    cfg.FailureThreshold,
		resetTimeout: cfg.ResetTimeout,
		onState:      cfg.OnStateChange,
		now:          time.Now,
	}
}

// State returns the current breaker state.
func (b *Breaker) State() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// allow decides whether a call may proceed. In half-open only one probe is
// in flight at a time.
func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.resetTimeout {
			return ErrBreakerOpen
		}
		b.setState(StateHalfOpen)
		b.probing = true
		return nil
	default: // half-open
		if b.probing {
			return ErrBreakerOpen
		}
		b.probing = true
		return nil
	}
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen {
		b.probing = false
		if err != nil {
			b.openedAt = b.now()
			b.setState(StateOpen)
		} else {
			b.failures = 0
			b.setState(StateClosed)
		}
		return
	}

	if err != nil {
		b.failures++
		if b.failures >= b.threshold {
			b.openedAt = b.now()
			b.setState(StateOpen)
		}
		return
	}
	b.failures = 0
}

// setState must be called with the mutex held.
func (b *Breaker) setState(state int) {
	if b.state == state {
		return
	}
	b.state = state
	if b.onState != nil {
		b.onState(state)
	}
}

// Embed runs a single-text embedding through the breaker.
func (b *Breaker) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := b.allow(); err != nil {
		return nil, err
	}
	vec, err := b.provider.Embed(ctx, text)
	b.record(err)
	return vec, err
}

// EmbedBatch runs a batch embedding through the breaker.
func (b *Breaker) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := b.allow(); err != nil {
		return nil, err
	}
	vecs, err := b.provider.EmbedBatch(ctx, texts)
	b.record(err)
	return vecs, err
}

// Dimension returns the wrapped provider's dimension.
func (b *Breaker) Dimension() int {
	return b.provider.Dimension()
}

// Name returns the wrapped provider's name.
func (b *Breaker) Name() string {
	return b.provider.Name()
}
