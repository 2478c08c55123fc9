// Package mock provides a test double for the tts.Provider interface.
//
// Example:
//
//	p := &mock.Provider{Audio: wavBytes}
//	data, _ := p.Synthesize(ctx, "hello", "en")
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/speakwise/pkg/provider/tts"
	"github.com/MrWong99/speakwise/pkg/types"
)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	Text string
	Lang string
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// Audio is returned by Synthesize on success.
	Audio []byte

	// Err, if non-nil, is returned by Synthesize.
	Err error

	// Unconfigured makes Configured report false and Synthesize fail with
	// types.ErrNotConfigured.
	Unconfigured bool

	// SynthesizeCalls records every call to Synthesize in order.
	SynthesizeCalls []SynthesizeCall
}

var _ tts.Provider = (*Provider)(nil)

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, text, lang string) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SynthesizeCalls = append(p.SynthesizeCalls, SynthesizeCall{Text: text, Lang: lang})
	if p.Unconfigured {
		return nil, types.ErrNotConfigured
	}
	if err := ctx.Err(); err != nil {
		return nil, types.Classify(err, types.KindCanceled)
	}
	if p.Err != nil {
		return nil, p.Err
	}
	return p.Audio, nil
}

// Configured implements tts.Provider.
func (p *Provider) Configured() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.Unconfigured
}

// Calls returns a copy of the recorded Synthesize calls.
func (p *Provider) Calls() []SynthesizeCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]SynthesizeCall, len(p.SynthesizeCalls))
	copy(out, p.SynthesizeCalls)
	return out
}
