// Package openai provides a TTS provider backed by the OpenAI speech API. The
// service is asked for raw 24 kHz 16-bit mono PCM, which is wrapped into a
// WAV container locally.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/speakwise/pkg/audio"
	"github.com/MrWong99/speakwise/pkg/provider/tts"
	"github.com/MrWong99/speakwise/pkg/types"
)

// Defaults for model and voice.
const (
	DefaultModel = string(oai.SpeechModelGPT4oMiniTTS)
	DefaultVoice = "alloy"
)

// pcmFormat is the fixed layout of the "pcm" response format.
var pcmFormat = audio.Format{SampleRate: 24000, Channels: 1, BitDepth: 16}

// Option is a functional option for Provider.
type Option func(*Provider)

// WithModel sets the speech model. Default: gpt-4o-mini-tts.
func WithModel(model string) Option {
	return func(p *Provider) {
		if model != "" {
			p.model = model
		}
	}
}

// WithVoice sets the voice. Default: alloy.
func WithVoice(voice string) Option {
	return func(p *Provider) {
		if voice != "" {
			p.voice = voice
		}
	}
}

// WithBaseURL overrides the API base URL.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// Provider implements tts.Provider using the OpenAI API.
type Provider struct {
	client  oai.Client
	apiKey  func() string
	model   string
	voice   string
	baseURL string
}

var _ tts.Provider = (*Provider)(nil)

// New constructs an OpenAI speech provider. apiKey is read on every request.
func New(apiKey func() string, opts ...Option) *Provider {
	p := &Provider{apiKey: apiKey, model: DefaultModel, voice: DefaultVoice}
	for _, o := range opts {
		o(p)
	}

	// The SDK's own retry loop would hide provider failures from the
	// circuit breakers in front of it.
	reqOpts := []option.RequestOption{option.WithMaxRetries(0)}
	if p.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(p.baseURL))
	}
	p.client = oai.NewClient(reqOpts...)
	return p
}

// Configured reports whether an API key is present.
func (p *Provider) Configured() bool { return p.apiKey() != "" }

// Synthesize implements tts.Provider. The model infers the language from the
// text; lang only steers the instructions.
func (p *Provider) Synthesize(ctx context.Context, text, lang string) ([]byte, error) {
	key := p.apiKey()
	if key == "" {
		return nil, types.Errorf(types.KindNotConfigured, "openai tts: API key is not configured")
	}
	if strings.TrimSpace(text) == "" {
		return nil, types.Errorf(types.KindInvalidArgument, "openai tts: text must not be empty")
	}

	voice, _ := tts.LookupVoice(lang)
	params := oai.AudioSpeechNewParams{
		Model:          oai.SpeechModel(p.model),
		Input:          text,
		Voice:          oai.AudioSpeechNewParamsVoice(p.voice),
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormatPCM,
		Instructions:   oai.String(fmt.Sprintf("Speak clearly at a moderate pace with a standard %s accent, as a pronunciation reference.", voice.Lang)),
	}

	resp, err := p.client.Audio.Speech.New(ctx, params, option.WithAPIKey(key))
	if err != nil {
		if ctx.Err() != nil {
			return nil, types.Classify(context.Cause(ctx), types.KindCanceled)
		}
		var apiErr *oai.Error
		if errors.As(err, &apiErr) {
			return nil, types.Errorf(types.KindSynthesis, "openai tts: status %d: %s", apiErr.StatusCode, apiErr.Message)
		}
		return nil, types.Wrap(types.KindSynthesis, fmt.Errorf("openai tts: request: %w", err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, types.Wrap(types.KindSynthesis, fmt.Errorf("openai tts: read body: %w", err))
	}
	if len(raw) == 0 {
		return nil, types.Errorf(types.KindSynthesis, "openai tts: empty audio")
	}
	wav, err := audio.EncodeWAV(audio.PCMBuffer{Data: raw[:len(raw)&^1], Format: pcmFormat})
	if err != nil {
		return nil, types.Wrap(types.KindSynthesis, fmt.Errorf("openai tts: encode wav: %w", err))
	}
	return wav, nil
}
