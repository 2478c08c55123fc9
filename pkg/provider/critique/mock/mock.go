// Package mock provides a test double for the critique.Provider interface.
//
// Example:
//
//	p := &mock.Provider{Text: "Your /θ/ sounds like /s/."}
//	text, _ := p.Critique(ctx, wav, "")
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/speakwise/pkg/provider/critique"
	"github.com/MrWong99/speakwise/pkg/types"
)

// CritiqueCall records a single invocation of Critique.
type CritiqueCall struct {
	// Audio is a copy of the audio passed to Critique.
	Audio []byte
	// Prompt is the prompt after defaulting.
	Prompt string
}

// Provider is a mock implementation of critique.Provider.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// Text is returned by Critique. Empty selects critique.FallbackText.
	Text string

	// Err, if non-nil, is returned by Critique.
	Err error

	// Unconfigured makes Configured report false and Critique fail with
	// types.ErrNotConfigured.
	Unconfigured bool

	// Block, if non-nil, makes Critique wait until it is closed or ctx ends.
	Block chan struct{}

	// --- Call records ---

	CritiqueCalls []CritiqueCall
	CloseCalls    int
}

var _ critique.Provider = (*Provider)(nil)

// Critique implements critique.Provider.
func (p *Provider) Critique(ctx context.Context, audio []byte, prompt string) (string, error) {
	if prompt == "" {
		prompt = critique.DefaultPrompt
	}
	p.mu.Lock()
	p.CritiqueCalls = append(p.CritiqueCalls, CritiqueCall{Audio: append([]byte(nil), audio...), Prompt: prompt})
	block, text, err, unconfigured := p.Block, p.Text, p.Err, p.Unconfigured
	p.mu.Unlock()

	if unconfigured {
		return "", types.ErrNotConfigured
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return "", types.Classify(context.Cause(ctx), types.KindCanceled)
		}
	}
	if err != nil {
		return "", err
	}
	if text == "" {
		return critique.FallbackText, nil
	}
	return text, nil
}

// Configured implements critique.Provider.
func (p *Provider) Configured() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.Unconfigured
}

// Close implements critique.Provider.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CloseCalls++
	return nil
}

// Calls returns a snapshot of the recorded Critique calls.
func (p *Provider) Calls() []CritiqueCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]CritiqueCall(nil), p.CritiqueCalls...)
}
