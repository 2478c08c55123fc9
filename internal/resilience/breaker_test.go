package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/speakwise/internal/observe"
	"github.com/MrWong99/speakwise/pkg/types"
)

var errTest = errors.New("test error")

// clock is a manually advanced time source.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestBreaker(cfg BreakerConfig) (*Breaker, *clock) {
	c := &clock{now: time.Unix(1_700_000_000, 0)}
	cfg.now = c.Now
	return NewBreaker(cfg), c
}

func fault(kind types.Kind) func() error {
	return func() error { return types.Errorf(kind, "provider said no") }
}

func ok() error { return nil }

func TestNewBreaker_Defaults(t *testing.T) {
	t.Parallel()
	b := NewBreaker(BreakerConfig{Name: "azure"})
	if b.cfg.MaxFailures != 5 || b.cfg.Cooldown != 30*time.Second {
		t.Errorf("defaults = %d / %v", b.cfg.MaxFailures, b.cfg.Cooldown)
	}
	if b.State() != StateClosed || b.Name() != "azure" {
		t.Errorf("state=%v name=%q", b.State(), b.Name())
	}
}

func TestBreaker_Trips(t *testing.T) {
	t.Parallel()
	b := NewBreaker(BreakerConfig{})

	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{types.Errorf(types.KindSynthesis, "503"), true},
		{types.Errorf(types.KindConnection, "dial"), true},
		{types.Errorf(types.KindServer, "bad gateway"), true},
		{errTest, true}, // unclassified errors are internal
		{types.Errorf(types.KindInvalidArgument, "empty text"), false},
		{types.Errorf(types.KindNotConfigured, "no key"), false},
		{types.Wrap(types.KindTimeout, context.DeadlineExceeded), false},
		{fmt.Errorf("tts: %w", context.Canceled), false},
	}
	for _, tt := range tests {
		if got := b.Trips(tt.err); got != tt.want {
			t.Errorf("Trips(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}

	custom := NewBreaker(BreakerConfig{Trips: []types.Kind{types.KindServer}})
	if custom.Trips(types.Errorf(types.KindSynthesis, "x")) {
		t.Error("custom trip list: synthesis must not count")
	}
}

func TestBreaker_OpensAfterConsecutiveFaults(t *testing.T) {
	t.Parallel()
	b, _ := newTestBreaker(BreakerConfig{MaxFailures: 3})

	_ = b.Execute(fault(types.KindSynthesis))
	_ = b.Execute(fault(types.KindSynthesis))
	_ = b.Execute(ok) // resets the run
	_ = b.Execute(fault(types.KindSynthesis))
	_ = b.Execute(fault(types.KindSynthesis))
	if b.State() != StateClosed {
		t.Fatalf("state = %v, want closed after an interrupted run", b.State())
	}
	_ = b.Execute(fault(types.KindSynthesis))
	if b.State() != StateOpen {
		t.Fatalf("state = %v, want open", b.State())
	}

	called := false
	err := b.Execute(func() error { called = true; return nil })
	if called {
		t.Error("open breaker forwarded a call")
	}
	if !errors.Is(err, ErrCircuitOpen) || !errors.Is(err, types.ErrConnection) {
		t.Errorf("err = %v, want connection error wrapping ErrCircuitOpen", err)
	}
}

func TestBreaker_RequestFaultsDoNotOpen(t *testing.T) {
	t.Parallel()
	b, _ := newTestBreaker(BreakerConfig{MaxFailures: 1})

	for range 5 {
		_ = b.Execute(fault(types.KindInvalidArgument))
		_ = b.Execute(func() error { return context.DeadlineExceeded })
	}
	if b.State() != StateClosed {
		t.Errorf("state = %v, want closed", b.State())
	}
}

func TestBreaker_SingleTrialAfterCooldown(t *testing.T) {
	t.Parallel()
	b, clk := newTestBreaker(BreakerConfig{MaxFailures: 1, Cooldown: time.Minute})

	_ = b.Execute(fault(types.KindServer))
	clk.Advance(59 * time.Second)
	if b.State() != StateOpen {
		t.Fatalf("state = %v before cooldown", b.State())
	}
	clk.Advance(time.Second)
	if b.State() != StateHalfOpen {
		t.Fatalf("state = %v after cooldown, want half-open", b.State())
	}

	// While the trial runs, other calls are refused.
	release := make(chan struct{})
	trialDone := make(chan error)
	go func() {
		trialDone <- b.Execute(func() error { <-release; return nil })
	}()
	deadline := time.Now().Add(2 * time.Second)
	for {
		b.mu.Lock()
		running := b.trial
		b.mu.Unlock()
		if running || time.Now().After(deadline) {
			break
		}
		time.Sleep(time.Millisecond)
	}
	if err := b.Execute(ok); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("second call during trial: err = %v, want ErrCircuitOpen", err)
	}
	close(release)
	if err := <-trialDone; err != nil {
		t.Fatalf("trial: %v", err)
	}
	if b.State() != StateClosed {
		t.Errorf("state = %v after successful trial, want closed", b.State())
	}
}

func TestBreaker_FailedTrialReopens(t *testing.T) {
	t.Parallel()
	b, clk := newTestBreaker(BreakerConfig{MaxFailures: 2, Cooldown: time.Minute})

	_ = b.Execute(fault(types.KindConnection))
	_ = b.Execute(fault(types.KindConnection))
	clk.Advance(time.Minute)
	_ = b.Execute(fault(types.KindConnection))
	if b.State() != StateOpen {
		t.Fatalf("state = %v, want open after failed trial", b.State())
	}
	clk.Advance(30 * time.Second)
	if b.State() != StateOpen {
		t.Error("cooldown must restart from the failed trial")
	}
}

func TestBreaker_ReportsTransitions(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatal(err)
	}

	b, clk := newTestBreaker(BreakerConfig{Name: "openai", MaxFailures: 1, Cooldown: time.Second, Metrics: m})
	_ = b.Execute(fault(types.KindSynthesis))
	clk.Advance(time.Second)
	_ = b.Execute(ok)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatal(err)
	}
	got := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			if met.Name != "speakwise.provider.breaker.transitions" {
				continue
			}
			for _, dp := range met.Data.(metricdata.Sum[int64]).DataPoints {
				provider, _ := dp.Attributes.Value("provider")
				state, _ := dp.Attributes.Value("state")
				if provider.AsString() == "openai" {
					got[state.AsString()] += dp.Value
				}
			}
		}
	}
	want := map[string]int64{"open": 1, "half-open": 1, "closed": 1}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("transitions = %v, want %v", got, want)
			break
		}
	}
}
