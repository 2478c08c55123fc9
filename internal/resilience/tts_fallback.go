package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/MrWong99/speakwise/internal/observe"
	"github.com/MrWong99/speakwise/pkg/provider/tts"
	"github.com/MrWong99/speakwise/pkg/types"
)

// TTSFallback implements [tts.Provider] with automatic failover across multiple
// TTS backends. Each backend has its own circuit breaker. Providers without
// credentials are skipped, and errors caused by the request itself are
// returned without trying the next provider.
type TTSFallback struct {
	group   *FallbackGroup[tts.Provider]
	metrics *observe.Metrics
}

var _ tts.Provider = (*TTSFallback)(nil)

// NewTTSFallback creates a [TTSFallback] with primary as the preferred backend.
// Breaker transitions are reported to metrics unless cfg names its own sink.
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig, metrics *observe.Metrics) *TTSFallback {
	if cfg.Stop == nil {
		cfg.Stop = isRequestFault
	}
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	if cfg.Breaker.Metrics == nil {
		cfg.Breaker.Metrics = metrics
	}
	return &TTSFallback{
		group:   NewFallbackGroup(primary, primaryName, cfg),
		metrics: metrics,
	}
}

// AddFallback registers an additional TTS provider as a fallback.
func (f *TTSFallback) AddFallback(name string, provider tts.Provider) {
	f.group.AddFallback(name, provider)
}

// Configured reports whether any provider holds credentials.
func (f *TTSFallback) Configured() bool {
	ok := false
	f.group.Each(func(_ string, p tts.Provider) {
		ok = ok || p.Configured()
	})
	return ok
}

// States returns the breaker state of every provider.
func (f *TTSFallback) States() map[string]State { return f.group.States() }

// Synthesize tries the providers in order and returns the first WAV produced.
func (f *TTSFallback) Synthesize(ctx context.Context, text, lang string) ([]byte, error) {
	if !f.Configured() {
		return nil, types.Errorf(types.KindNotConfigured, "no TTS provider is configured")
	}
	data, err := ExecuteNamed(f.group, func(name string, p tts.Provider) ([]byte, error) {
		if !p.Configured() {
			return nil, errSkipped
		}
		start := time.Now()
		data, err := p.Synthesize(ctx, text, lang)
		f.metrics.TTSDuration.Record(ctx, time.Since(start).Seconds())
		status := "ok"
		if err != nil {
			status = "error"
			f.metrics.RecordProviderError(ctx, name, "tts")
		}
		f.metrics.RecordProviderRequest(ctx, name, "tts", status)
		return data, err
	})
	if err != nil {
		return nil, types.Classify(err, types.KindSynthesis)
	}
	return data, nil
}

// errSkipped marks a provider passed over for lack of credentials. It is
// neither a breaker failure nor a reason to stop.
var errSkipped = types.Errorf(types.KindNotConfigured, "provider has no credentials")

// isRequestFault reports errors no other provider would avoid.
func isRequestFault(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	switch types.KindOf(err) {
	case types.KindInvalidArgument, types.KindCanceled:
		return true
	}
	return false
}
