package resilience

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// ErrOpenCircuit is returned when the breaker refuses to let a call through.
var ErrOpenCircuit = errors.New("resilience: circuit breaker open")

// State is the breaker position.
type State int

const (
	// Closed passes calls through while sampling failures.
	Closed State = iota
	// Open rejects calls until the cool-off elapses.
	Open
	// HalfOpen passes a single probe to test the upstream.
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Breaker trips once the observed failure ratio crosses a threshold, keeping
// a flapping payment provider from eating every checkout request's latency
// budget. After the cool-off a single probe decides whether it closes again.
type Breaker struct {
	mu       sync.Mutex
	state    State
	failures int
	total    int
	openedAt time.Time

	minSamples int
	threshold  float64
	cooloff    time.Duration
	target     string
}

// NewBreaker builds a closed breaker. It opens when at least minSamples
// outcomes were observed and the failure ratio reaches threshold, and stays
// open for cooloff before probing.
func NewBreaker(minSamples int, threshold float64, cooloff time.Duration) *Breaker {
	if minSamples <= 0 {
		minSamples = 1
	}
	if threshold <= 0 || threshold > 1 {
		threshold = 0.5
	}
	if cooloff <= 0 {
		cooloff = 30 * time.Second
	}
	return &Breaker{
		state:      Closed,
		minSamples: minSamples,
		threshold:  threshold,
		cooloff:    cooloff,
	}
}

// WithTarget labels the breaker's metrics with the upstream it guards.
func (b *Breaker) WithTarget(target string) *Breaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.target = strings.TrimSpace(target)
	b.publishStateLocked()
	return b
}

// Allow reports whether a call may proceed. An open breaker whose cool-off
// has elapsed moves to half-open and admits the caller as the probe. A nil
// breaker admits everything.
func (b *Breaker) Allow(ctx context.Context) bool {
	if b == nil {
		return true
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != Open {
		return true
	}
	if time.Since(b.openedAt) < b.cooloff {
		return false
	}
	b.moveLocked(ctx, HalfOpen)
	return true
}

// Report feeds one call outcome into the state machine.
func (b *Breaker) Report(ctx context.Context, success bool) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Open:
		return
	case HalfOpen:
		if success {
			b.moveLocked(ctx, Closed)
		} else {
			b.moveLocked(ctx, Open)
		}
		return
	}

	b.total++
	if !success {
		b.failures++
	}
	if b.total < b.minSamples {
		return
	}
	if float64(b.failures)/float64(b.total) >= b.threshold {
		b.moveLocked(ctx, Open)
		return
	}
	if b.total > b.minSamples*2 {
		// Decay the window so an old burst of failures ages out.
		b.total /= 2
		b.failures /= 2
	}
}

func (b *Breaker) moveLocked(ctx context.Context, next State) {
	prev := b.state
	if prev == next {
		b.publishStateLocked()
		return
	}
	b.state = next
	b.failures = 0
	b.total = 0
	if next == Open {
		b.openedAt = time.Now()
	} else {
		b.openedAt = time.Time{}
	}
	b.publishStateLocked()

	label := b.label()
	BreakerTransitions.WithLabelValues(label, prev.String(), next.String()).Inc()
	if next == Open {
		BreakerOpenedTotal.WithLabelValues(label).Inc()
	}

	evt := zerolog.Ctx(ctx).Info().
		Str("target", label).
		Str("from_state", prev.String()).
		Str("to_state", next.String())
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		evt = evt.Str("trace_id", sc.TraceID().String())
	}
	evt.Msg("breaker_transition")
}

func (b *Breaker) publishStateLocked() {
	BreakerState.WithLabelValues(b.label()).Set(stateValue(b.state))
}

func (b *Breaker) label() string {
	if b.target == "" {
		return "provider"
	}
	return b.target
}

func stateValue(s State) float64 {
	switch s {
	case Closed:
		return 0
	case Open:
		return 1
	case HalfOpen:
		return 2
	default:
		return -1
	}
}

// Backoff returns the exponential delay before the given retry attempt.
// jitterPct spreads the delay by up to that fraction in either direction.
func Backoff(base time.Duration, attempt int, jitterPct float64) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	delay := base << uint(attempt-1)
	if jitterPct <= 0 {
		return delay
	}
	spread := float64(delay) * jitterPct
	return delay + time.Duration((rand.Float64()*2-1)*spread)
}
