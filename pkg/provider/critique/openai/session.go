package openai

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/speakwise/pkg/types"
	"github.com/coder/websocket"
)

// Phase is the lifecycle state of a critique session.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseAudioPrepared
	PhaseConnectionOpen
	PhaseAwaitingResponse
	PhaseStreamingDelta
	PhaseCompleted
	PhaseAborted
	PhaseFailed
)

var phaseNames = [...]string{
	PhaseIdle:             "idle",
	PhaseAudioPrepared:    "audio_prepared",
	PhaseConnectionOpen:   "connection_open",
	PhaseAwaitingResponse: "awaiting_response",
	PhaseStreamingDelta:   "streaming_delta",
	PhaseCompleted:        "completed",
	PhaseAborted:          "aborted",
	PhaseFailed:           "failed",
}

func (p Phase) String() string {
	if int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// Terminal reports whether no further transitions are possible.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseAborted || p == PhaseFailed
}

// ── Events ─────────────────────────────────────────────────────────────────────

type eventKind int

const (
	evAudioPrepared eventKind = iota
	evConnected
	evRequested
	evDelta
	evDone
)

func (k eventKind) String() string {
	switch k {
	case evAudioPrepared:
		return "audio_prepared"
	case evConnected:
		return "connected"
	case evRequested:
		return "requested"
	case evDelta:
		return "delta"
	case evDone:
		return "done"
	}
	return fmt.Sprintf("event(%d)", int(k))
}

type event struct {
	kind  eventKind
	audio string          // evAudioPrepared
	conn  *websocket.Conn // evConnected
	delta string          // evDelta
}

// transitions lists the forward edges of the state machine. Abort and
// failure edges leave every non-terminal phase and are handled by terminate.
var transitions = map[Phase]map[eventKind]Phase{
	PhaseIdle:             {evAudioPrepared: PhaseAudioPrepared},
	PhaseAudioPrepared:    {evConnected: PhaseConnectionOpen},
	PhaseConnectionOpen:   {evRequested: PhaseAwaitingResponse},
	PhaseAwaitingResponse: {evDelta: PhaseStreamingDelta, evDone: PhaseCompleted},
	PhaseStreamingDelta:   {evDelta: PhaseStreamingDelta, evDone: PhaseCompleted},
}

// ── Session ────────────────────────────────────────────────────────────────────

// session is one critique request. Its context carries the 60 s deadline and
// is cancelled with a cause when the session is superseded or shut down.
type session struct {
	id     uint64
	prompt string

	ctx    context.Context
	cancel context.CancelCauseFunc
	stop   context.CancelFunc
	done   chan struct{}

	mu          sync.Mutex
	phase       Phase
	audioBase64 string
	text        strings.Builder
	conn        *websocket.Conn
	err         error
}

func newSession(parent context.Context, id uint64, prompt string, timeout time.Duration) *session {
	ctx, cancel := context.WithCancelCause(parent)
	ctx, stop := context.WithTimeoutCause(ctx, timeout,
		types.Errorf(types.KindTimeout, "no response within %s", timeout))
	return &session{
		id:     id,
		prompt: prompt,
		ctx:    ctx,
		cancel: cancel,
		stop:   stop,
		done:   make(chan struct{}),
	}
}

// apply advances the session by ev. On completion it returns the accumulated
// text. Events arriving after a terminal phase return the terminal error.
func (s *session) apply(ev event) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase.Terminal() {
		if s.err != nil {
			return "", s.err
		}
		return "", types.Errorf(types.KindInternal, "session %d already %s", s.id, s.phase)
	}
	next, ok := transitions[s.phase][ev.kind]
	if !ok {
		return "", types.Errorf(types.KindInternal, "session %d: event %s invalid in phase %s", s.id, ev.kind, s.phase)
	}

	switch ev.kind {
	case evAudioPrepared:
		s.audioBase64 = ev.audio
	case evConnected:
		s.conn = ev.conn
	case evDelta:
		s.text.WriteString(ev.delta)
	}
	s.phase = next
	if next == PhaseCompleted {
		return s.text.String(), nil
	}
	return "", nil
}

// terminate moves the session to Aborted or Failed, cancels its context and
// drops the connection. It returns the error the session ended with, which
// is the first one recorded.
func (s *session) terminate(err error) error {
	s.mu.Lock()
	if s.phase.Terminal() {
		recorded := s.err
		s.mu.Unlock()
		if recorded != nil {
			return recorded
		}
		return err
	}
	switch types.KindOf(err) {
	case types.KindSuperseded, types.KindCanceled:
		s.phase = PhaseAborted
	default:
		s.phase = PhaseFailed
	}
	s.err = err
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	s.cancel(err)
	if conn != nil {
		_ = conn.CloseNow()
	}
	return err
}

// release closes whatever connection is still attached. A completed session
// closes gracefully in the background; everything else is dropped.
func (s *session) release() {
	s.mu.Lock()
	conn, phase := s.conn, s.phase
	s.conn = nil
	s.mu.Unlock()

	defer func() {
		s.stop()
		s.cancel(nil)
	}()
	if conn == nil {
		return
	}
	if phase == PhaseCompleted {
		// Close waits for the peer's close frame; the result is already final.
		go func() { _ = conn.Close(websocket.StatusNormalClosure, "critique complete") }()
		return
	}
	_ = conn.CloseNow()
}

func (s *session) snapshot() (Phase, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase, s.text.String()
}

func (s *session) audio() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.audioBase64
}
