// Package azure provides a TTS provider backed by the Azure Cognitive
// Services speech REST API. It posts SSML and receives a 16 kHz 16-bit mono
// RIFF file.
package azure

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/MrWong99/speakwise/pkg/provider/tts"
	"github.com/MrWong99/speakwise/pkg/types"
)

const (
	endpointFmt   = "https://%s.tts.speech.microsoft.com/cognitiveservices/v1"
	defaultRegion = "eastasia"
	outputFormat  = "riff-16khz-16bit-mono-pcm"
	userAgent     = "speakwise/1.0"

	// maxErrorBody bounds how much of a failed response is echoed into errors.
	maxErrorBody = 512
)

// Option is a functional option for configuring the Azure Provider.
type Option func(*Provider)

// WithRegion sets the Azure region, e.g. "westeurope". Default: eastasia.
func WithRegion(region string) Option {
	return func(p *Provider) {
		if region != "" {
			p.region = region
		}
	}
}

// WithBaseURL overrides the full synthesis endpoint. It takes precedence over
// the region.
func WithBaseURL(u string) Option {
	return func(p *Provider) { p.baseURL = u }
}

// WithHTTPClient sets the HTTP client used for requests.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// Provider implements tts.Provider for Azure.
type Provider struct {
	apiKey     func() string
	region     string
	baseURL    string
	httpClient *http.Client
}

var _ tts.Provider = (*Provider)(nil)

// New creates an Azure provider. apiKey is consulted on every request so
// rotated keys take effect without rebuilding the provider.
func New(apiKey func() string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:     apiKey,
		region:     defaultRegion,
		httpClient: http.DefaultClient,
	}
	for _, o := range opts {
		o(p)
	}
	if p.baseURL == "" {
		p.baseURL = fmt.Sprintf(endpointFmt, p.region)
	}
	return p
}

// Configured reports whether an API key is present.
func (p *Provider) Configured() bool { return p.apiKey() != "" }

// Synthesize renders text with the voice registered for lang.
func (p *Provider) Synthesize(ctx context.Context, text, lang string) ([]byte, error) {
	key := p.apiKey()
	if key == "" {
		return nil, types.Errorf(types.KindNotConfigured, "azure: API key is not configured")
	}
	if strings.TrimSpace(text) == "" {
		return nil, types.Errorf(types.KindInvalidArgument, "azure: text must not be empty")
	}

	voice, ok := tts.LookupVoice(lang)
	if !ok {
		slog.Warn("azure: unknown language, using fallback voice", "lang", lang, "voice", voice.Name)
	}
	body, err := buildSSML(text, voice)
	if err != nil {
		return nil, types.Wrap(types.KindSynthesis, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, types.Wrap(types.KindSynthesis, fmt.Errorf("azure: build request: %w", err))
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", key)
	req.Header.Set("Content-Type", "application/ssml+xml")
	req.Header.Set("X-Microsoft-OutputFormat", outputFormat)
	req.Header.Set("User-Agent", userAgent)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, types.Classify(context.Cause(ctx), types.KindCanceled)
		}
		return nil, types.Wrap(types.KindSynthesis, fmt.Errorf("azure: request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, types.Errorf(types.KindSynthesis, "azure: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, types.Wrap(types.KindSynthesis, fmt.Errorf("azure: read body: %w", err))
	}
	if !bytes.HasPrefix(data, []byte("RIFF")) {
		return nil, types.Errorf(types.KindSynthesis, "azure: response is not a RIFF file (%d bytes)", len(data))
	}
	return data, nil
}

// buildSSML wraps text in a single-voice SSML document.
func buildSSML(text string, v tts.Voice) ([]byte, error) {
	var escaped bytes.Buffer
	if err := xml.EscapeText(&escaped, []byte(text)); err != nil {
		return nil, fmt.Errorf("azure: escape text: %w", err)
	}
	doc := fmt.Sprintf("<speak version='1.0' xml:lang='%s'><voice xml:lang='%s' xml:gender='%s' name='%s'>%s</voice></speak>",
		v.Lang, v.Lang, v.Gender, v.Name, escaped.String())
	return []byte(doc), nil
}
