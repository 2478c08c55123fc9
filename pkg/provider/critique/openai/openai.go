// Package openai implements critique.Provider on OpenAI's Realtime API.
//
// Each critique opens a fresh WebSocket connection, configures a text-only
// session, sends the prompt and the learner's audio as one user message and
// accumulates response.text.delta events until response.done. Audio is sent
// as base64-encoded PCM16 at 24 kHz mono.
//
// The client holds at most one session. Starting a critique aborts the
// previous session, closing its connection and failing its caller with
// types.ErrSuperseded, before the new session proceeds. Every session is
// bounded by a timeout (60 s by default) after which its connection is
// closed and its caller fails with types.ErrTimeout.
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/MrWong99/speakwise/pkg/audio"
	"github.com/MrWong99/speakwise/pkg/provider/critique"
	"github.com/MrWong99/speakwise/pkg/types"
	"github.com/coder/websocket"
)

var _ critique.Provider = (*Client)(nil)

const (
	defaultModel    = "gpt-4o-realtime-preview"
	defaultBaseURL  = "wss://api.openai.com/v1/realtime"
	defaultTimeout  = 60 * time.Second
	defaultLanguage = "Chinese"

	// readLimit bounds a single server event. response.done repeats the full
	// response text, which can exceed the library default of 32 KiB.
	readLimit = 1 << 20
)

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithModel sets the realtime model.
func WithModel(model string) Option {
	return func(c *Client) { c.model = model }
}

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = url }
}

// WithTimeout overrides the per-session timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithLanguage sets the language the model is instructed to answer in.
func WithLanguage(lang string) Option {
	return func(c *Client) { c.language = lang }
}

// WithFallbackText overrides critique.FallbackText.
func WithFallbackText(text string) Option {
	return func(c *Client) { c.fallback = text }
}

// ── Client ─────────────────────────────────────────────────────────────────────

// Client is a single-flight realtime critique client.
type Client struct {
	credentials func() string
	model       string
	baseURL     string
	timeout     time.Duration
	language    string
	fallback    string

	mu      sync.Mutex
	current *session
	lastID  uint64
	closed  bool
}

// StaticKey returns a credential source that always yields key.
func StaticKey(key string) func() string {
	return func() string { return key }
}

// New creates a Client. credentials is consulted at the start of every
// critique, so a hot-reloaded key applies to the next request only.
func New(credentials func() string, opts ...Option) *Client {
	c := &Client{
		credentials: credentials,
		model:       defaultModel,
		baseURL:     defaultBaseURL,
		timeout:     defaultTimeout,
		language:    defaultLanguage,
		fallback:    critique.FallbackText,
	}
	for _, o := range opts {
		o(c)
	}
	if c.credentials == nil {
		c.credentials = StaticKey("")
	}
	return c
}

// Configured implements critique.Provider.
func (c *Client) Configured() bool {
	return c.credentials() != ""
}

// Active returns the id and phase of the session currently holding the
// slot. ok is false when no session is active.
func (c *Client) Active() (id uint64, phase Phase, ok bool) {
	c.mu.Lock()
	s := c.current
	c.mu.Unlock()
	if s == nil {
		return 0, PhaseIdle, false
	}
	phase, _ = s.snapshot()
	return s.id, phase, true
}

// Close aborts the active session with types.ErrCanceled and rejects all
// further critiques.
func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	s := c.current
	c.mu.Unlock()

	if s != nil {
		s.terminate(types.Errorf(types.KindCanceled, "critique client closed"))
		<-s.done
	}
	return nil
}

// Critique implements critique.Provider.
func (c *Client) Critique(ctx context.Context, data []byte, prompt string) (string, error) {
	key := c.credentials()
	if key == "" {
		return "", types.Errorf(types.KindNotConfigured, "critique API key is not configured")
	}
	if prompt == "" {
		prompt = critique.DefaultPrompt
	}

	s, err := c.begin(ctx, prompt)
	if err != nil {
		return "", err
	}
	defer c.end(s)

	log := slog.With("session", s.id)
	log.Debug("critique: session started")

	text, err := c.run(s, key, data)
	if err != nil {
		err = c.fail(s, err)
		log.Info("critique: session ended", "outcome", types.KindOf(err), "err", err)
		return "", err
	}
	log.Debug("critique: session completed", "chars", len(text))
	return text, nil
}

// begin installs a new session in the slot, aborting and draining the
// previous one first.
func (c *Client) begin(ctx context.Context, prompt string) (*session, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, types.Errorf(types.KindCanceled, "critique client closed")
	}
	prev := c.current
	c.lastID++
	s := newSession(ctx, c.lastID, prompt, c.timeout)
	c.current = s
	c.mu.Unlock()

	if prev != nil {
		prev.terminate(types.Errorf(types.KindSuperseded, "session %d superseded by session %d", prev.id, s.id))
		<-prev.done
	}
	return s, nil
}

// end releases the session's resources and frees the slot if s still owns it.
func (c *Client) end(s *session) {
	s.release()
	c.mu.Lock()
	if c.current == s {
		c.current = nil
	}
	c.mu.Unlock()
	close(s.done)
}

// dispatch applies ev to s only while s still owns the slot.
func (c *Client) dispatch(s *session, ev event) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != s {
		return "", types.Errorf(types.KindSuperseded, "session %d is no longer current", s.id)
	}
	return s.apply(ev)
}

// fail terminates s with err, preferring the cause of an interrupted context
// over the transport error it produced.
func (c *Client) fail(s *session, err error) error {
	if s.ctx.Err() != nil {
		err = types.Classify(context.Cause(s.ctx), types.KindCanceled)
	}
	return s.terminate(err)
}

// run drives s through the protocol and returns the final text.
func (c *Client) run(s *session, key string, data []byte) (string, error) {
	pcm, err := audio.Normalize(data, audio.CritiqueFormat)
	if err != nil {
		return "", err
	}
	if _, err := c.dispatch(s, event{kind: evAudioPrepared, audio: pcm.Base64()}); err != nil {
		return "", err
	}

	conn, err := c.dial(s.ctx, key)
	if err != nil {
		return "", err
	}
	if _, err := c.dispatch(s, event{kind: evConnected, conn: conn}); err != nil {
		_ = conn.CloseNow()
		return "", err
	}

	for _, msg := range c.request(s) {
		if err := writeJSON(s.ctx, conn, msg); err != nil {
			return "", types.Wrap(types.KindConnection, err)
		}
	}
	if _, err := c.dispatch(s, event{kind: evRequested}); err != nil {
		return "", err
	}

	for {
		_, raw, err := conn.Read(s.ctx)
		if err != nil {
			return "", &types.Error{
				Kind:   types.KindConnectionClosedEarly,
				Reason: "connection closed before response.done",
				Err:    err,
			}
		}

		var evt serverEvent
		if err := json.Unmarshal(raw, &evt); err != nil {
			slog.Warn("critique: malformed server event", "session", s.id, "err", err)
			continue
		}

		switch evt.Type {
		case "response.text.delta":
			if _, err := c.dispatch(s, event{kind: evDelta, delta: evt.Delta}); err != nil {
				return "", err
			}
		case "response.done":
			text, err := c.dispatch(s, event{kind: evDone})
			if err != nil {
				return "", err
			}
			if text == "" {
				text = c.fallback
			}
			return text, nil
		case "error":
			msg := "unknown server error"
			if evt.Error != nil && evt.Error.Message != "" {
				msg = evt.Error.Message
			}
			return "", types.Errorf(types.KindServer, "%s", msg)
		default:
			slog.Debug("critique: ignoring server event", "session", s.id, "type", evt.Type)
		}
	}
}

func (c *Client) dial(ctx context.Context, key string) (*websocket.Conn, error) {
	wsURL := fmt.Sprintf("%s?model=%s", c.baseURL, url.QueryEscape(c.model))
	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Authorization": []string{"Bearer " + key},
			"OpenAI-Beta":   []string{"realtime=v1"},
		},
	})
	if err != nil {
		return nil, types.Wrap(types.KindConnection, fmt.Errorf("dial: %w", err))
	}
	conn.SetReadLimit(readLimit)
	return conn, nil
}

// request builds the three messages that start a critique, in send order.
func (c *Client) request(s *session) []any {
	return []any{
		sessionUpdateMessage{
			Type: "session.update",
			Session: sessionParams{
				Modalities:   []string{"text"},
				Instructions: instructions(c.language),
			},
		},
		itemCreateMessage{
			Type: "conversation.item.create",
			Item: conversationItem{
				Type: "message",
				Role: "user",
				Content: []contentPart{
					{Type: "input_text", Text: s.prompt},
					{Type: "input_audio", Audio: s.audio()},
				},
			},
		},
		responseCreateMessage{Type: "response.create"},
	}
}

// instructions is the system prompt for the pronunciation coach.
func instructions(language string) string {
	return "You are a professional spoken-language pronunciation coach. " +
		"Analyse the user's audio for educational purposes only, focusing strictly on " +
		"phonetics, articulation, intonation and word stress. " +
		"Never analyse or comment on the speaker's voiceprint, gender, emotional state " +
		"or identity.\n\n" +
		"Output requirements:\n" +
		"1. Always answer in " + language + ".\n" +
		"2. Point out exactly which sounds were mispronounced.\n" +
		"3. Use IPA transcriptions to explain.\n" +
		"4. Give concrete advice for improvement."
}

// ── Protocol message types ─────────────────────────────────────────────────────

type sessionUpdateMessage struct {
	Type    string        `json:"type"`
	Session sessionParams `json:"session"`
}

type sessionParams struct {
	Modalities   []string `json:"modalities"`
	Instructions string   `json:"instructions"`
}

type itemCreateMessage struct {
	Type string           `json:"type"`
	Item conversationItem `json:"item"`
}

type conversationItem struct {
	Type    string        `json:"type"`
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type contentPart struct {
	Type  string `json:"type"`
	Text  string `json:"text,omitempty"`
	Audio string `json:"audio,omitempty"` // base64-encoded PCM16
}

type responseCreateMessage struct {
	Type string `json:"type"`
}

type serverErrorDetail struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

type serverEvent struct {
	Type  string             `json:"type"`
	Delta string             `json:"delta,omitempty"`
	Error *serverErrorDetail `json:"error,omitempty"`
}

func writeJSON(ctx context.Context, conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}
