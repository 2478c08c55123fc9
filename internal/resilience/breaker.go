// Package resilience keeps remote collaborators of the server, currently
// speech synthesis, from dragging requests down when they misbehave.
//
// A [Breaker] watches one provider and stops sending it work after a run of
// provider-side faults. [FallbackGroup] puts one breaker in front of each
// provider and walks them in order until one answers. [TTSFallback] applies
// that to [tts.Provider].
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/speakwise/internal/observe"
	"github.com/MrWong99/speakwise/pkg/types"
)

// ErrCircuitOpen is wrapped in the [types.KindConnection] error a [Breaker]
// returns while it refuses calls.
var ErrCircuitOpen = errors.New("provider circuit open")

// State is the operating mode of a [Breaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota
	// StateOpen refuses calls until the cooldown has passed.
	StateOpen
	// StateHalfOpen lets a single trial call through.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ProviderFaults are the error kinds that say something about a provider's
// health rather than about the request.
var ProviderFaults = []types.Kind{
	types.KindSynthesis,
	types.KindConnection,
	types.KindServer,
	types.KindTimeout,
	types.KindInternal,
}

// BreakerConfig tunes a [Breaker].
type BreakerConfig struct {
	// Name labels log lines and the transition metric.
	Name string

	// MaxFailures is the run of consecutive faults that opens the breaker.
	// Default: 5.
	MaxFailures int

	// Cooldown is how long an open breaker refuses calls. Default: 30s.
	Cooldown time.Duration

	// Trips lists the error kinds counted as faults. Default: [ProviderFaults].
	// A caller's own deadline never counts.
	Trips []types.Kind

	// Metrics receives state transitions. Nil disables them.
	Metrics *observe.Metrics

	now func() time.Time
}

// Breaker is a three-state circuit breaker keyed on [types.Kind].
type Breaker struct {
	cfg BreakerConfig

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	trial    bool // a half-open call is in flight
}

// NewBreaker returns a closed breaker.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.Trips == nil {
		cfg.Trips = ProviderFaults
	}
	if cfg.now == nil {
		cfg.now = time.Now
	}
	return &Breaker{cfg: cfg}
}

// Name returns the provider label.
func (b *Breaker) Name() string { return b.cfg.Name }

// Trips reports whether err counts against the breaker.
func (b *Breaker) Trips(err error) bool {
	if err == nil || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}
	return slices.Contains(b.cfg.Trips, types.KindOf(err))
}

// Execute runs fn unless the breaker is refusing calls, in which case it
// returns a [types.KindConnection] error wrapping [ErrCircuitOpen].
func (b *Breaker) Execute(fn func() error) error {
	trial, err := b.admit()
	if err != nil {
		return err
	}
	err = fn()
	b.settle(trial, b.Trips(err))
	return err
}

func (b *Breaker) admit() (trial bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.cfg.now().Sub(b.openedAt) < b.cfg.Cooldown {
			return false, types.Wrap(types.KindConnection, ErrCircuitOpen)
		}
		b.move(StateHalfOpen)
		fallthrough
	case StateHalfOpen:
		if b.trial {
			return false, types.Wrap(types.KindConnection, ErrCircuitOpen)
		}
		b.trial = true
		return true, nil
	}
	return false, nil
}

func (b *Breaker) settle(trial, fault bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if trial {
		b.trial = false
		if fault {
			b.open()
			return
		}
		b.failures = 0
		b.move(StateClosed)
		return
	}
	if !fault {
		b.failures = 0
		return
	}
	b.failures++
	if b.state == StateClosed && b.failures >= b.cfg.MaxFailures {
		b.open()
	}
}

// open trips the breaker. b.mu must be held.
func (b *Breaker) open() {
	b.openedAt = b.cfg.now()
	b.move(StateOpen)
}

// move records a state change. b.mu must be held.
func (b *Breaker) move(to State) {
	if b.state == to {
		return
	}
	from := b.state
	b.state = to
	log := slog.Info
	if to == StateOpen {
		log = slog.Warn
	}
	log("resilience: breaker "+to.String(), "provider", b.cfg.Name, "from", from.String(), "failures", b.failures)
	if b.cfg.Metrics != nil {
		b.cfg.Metrics.RecordBreakerTransition(context.Background(), b.cfg.Name, to.String())
	}
}

// State returns the breaker's mode. An open breaker whose cooldown has passed
// reports [StateHalfOpen]; the switch itself happens on the next call.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.cfg.now().Sub(b.openedAt) >= b.cfg.Cooldown {
		return StateHalfOpen
	}
	return b.state
}
