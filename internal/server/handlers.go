package server

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/MrWong99/speakwise/internal/history"
	"github.com/MrWong99/speakwise/internal/observe"
	"github.com/MrWong99/speakwise/internal/scoring"
	"github.com/MrWong99/speakwise/pkg/audio"
	"github.com/MrWong99/speakwise/pkg/types"
)

// ── Scoring ──────────────────────────────────────────────────────────────────

// handleScore scores the request body against ?text=. With ?format=f32le the
// body is little-endian float32 PCM described by ?rate= and ?channels=;
// otherwise it is an encoded container. ?critique=true also critiques the
// recording and returns both results.
func (s *Server) handleScore(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	text := q.Get("text")
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}

	if critique, _ := strconv.ParseBool(q.Get("critique")); critique {
		if q.Get("format") != "" {
			writeError(w, r, types.Errorf(types.KindInvalidArgument, "critique requires an encoded audio container"))
			return
		}
		a, err := s.coach.Assess(r.Context(), body, text, q.Get("prompt"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, a)
		return
	}

	in, err := audioInput(q.Get("format"), q.Get("rate"), q.Get("channels"), body)
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := s.coach.ScorePronunciation(r.Context(), in, text)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// audioInput interprets a request body according to its format parameters.
func audioInput(format, rate, channels string, body []byte) (scoring.Audio, error) {
	switch format {
	case "":
		return scoring.EncodedAudio{Data: body}, nil
	case "f32le":
	default:
		return nil, types.Errorf(types.KindInvalidArgument, "unsupported format %q", format)
	}

	sr, err := intParam(rate, 16000)
	if err != nil || sr <= 0 {
		return nil, types.Errorf(types.KindInvalidArgument, "invalid rate %q", rate)
	}
	ch, err := intParam(channels, 1)
	if err != nil || ch <= 0 {
		return nil, types.Errorf(types.KindInvalidArgument, "invalid channels %q", channels)
	}
	if len(body)%(4*ch) != 0 {
		return nil, types.Errorf(types.KindDecode, "f32le body of %d bytes is not a whole number of %d-channel frames", len(body), ch)
	}
	samples := make([]float32, len(body)/4)
	for i := range samples {
		samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(body[4*i:]))
	}
	if ch > 2 {
		samples = audio.Mix(samples, ch, 1)
		ch = 1
	}
	return scoring.SamplesAudio{Samples: samples, SampleRate: sr, Channels: ch}, nil
}

func intParam(v string, def int) (int, error) {
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

// ── Critique ─────────────────────────────────────────────────────────────────

type critiqueResponse struct {
	Text string `json:"text"`
}

func (s *Server) handleCritique(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}
	text, err := s.coach.CritiqueAudio(r.Context(), body, r.URL.Query().Get("prompt"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, critiqueResponse{Text: text})
}

// ── Language and phonemes ────────────────────────────────────────────────────

type phonemizeRequest struct {
	Text string `json:"text"`
}

type phonemizeResponse struct {
	Text     string `json:"text"`
	IPA      string `json:"ipa"`
	Language string `json:"language"`
}

func (s *Server) handlePhonemize(w http.ResponseWriter, r *http.Request) {
	var req phonemizeRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	ipa, err := s.coach.Phonemize(req.Text)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, phonemizeResponse{Text: req.Text, IPA: ipa, Language: s.coach.Status().Language})
}

type languageRequest struct {
	Language string `json:"language"`
}

func (s *Server) handleSetLanguage(w http.ResponseWriter, r *http.Request) {
	var req languageRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if err := s.coach.SetLanguage(req.Language); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.coach.Status())
}

func (s *Server) handleLanguages(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.coach.SupportedLanguages())
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.coach.Status())
}

// ── Speech synthesis ─────────────────────────────────────────────────────────

type synthesizeRequest struct {
	Text     string `json:"text"`
	Language string `json:"language"`
}

func (s *Server) handleSynthesize(w http.ResponseWriter, r *http.Request) {
	var req synthesizeRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	data, err := s.coach.Synthesize(r.Context(), req.Text, req.Language)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// ── History ──────────────────────────────────────────────────────────────────

func (s *Server) historyStore(w http.ResponseWriter, r *http.Request) (history.Store, bool) {
	if s.history == nil {
		writeError(w, r, types.Errorf(types.KindNotConfigured, "score history is not configured"))
		return nil, false
	}
	return s.history, true
}

func (s *Server) handleListHistory(w http.ResponseWriter, r *http.Request) {
	store, ok := s.historyStore(w, r)
	if !ok {
		return
	}
	limit, err := intParam(r.URL.Query().Get("limit"), 0)
	if err != nil || limit < 0 {
		writeError(w, r, types.Errorf(types.KindInvalidArgument, "invalid limit %q", r.URL.Query().Get("limit")))
		return
	}
	recs, err := store.List(r.Context(), limit)
	if err != nil {
		writeError(w, r, types.Wrap(types.KindInternal, err))
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleAddHistory(w http.ResponseWriter, r *http.Request) {
	store, ok := s.historyStore(w, r)
	if !ok {
		return
	}
	var rec history.Record
	if !s.decodeJSON(w, r, &rec) {
		return
	}
	if err := rec.Validate(); err != nil {
		writeError(w, r, types.Wrap(types.KindInvalidArgument, err))
		return
	}
	stored, err := store.Add(r.Context(), rec)
	if err != nil {
		writeError(w, r, types.Wrap(types.KindInternal, err))
		return
	}
	writeJSON(w, http.StatusCreated, stored)
}

func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	store, ok := s.historyStore(w, r)
	if !ok {
		return
	}
	if err := store.Clear(r.Context()); err != nil {
		writeError(w, r, types.Wrap(types.KindInternal, err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ── Courses ──────────────────────────────────────────────────────────────────

func (s *Server) handleListCourses(w http.ResponseWriter, _ *http.Request) {
	if s.courses == nil {
		writeJSON(w, http.StatusOK, []struct{}{})
		return
	}
	writeJSON(w, http.StatusOK, s.courses.List())
}

func (s *Server) handleGetCourse(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if s.courses != nil {
		if c, ok := s.courses.Get(id); ok {
			writeJSON(w, http.StatusOK, c)
			return
		}
	}
	writeJSON(w, http.StatusNotFound, errorBody{Kind: kindNotFound, Reason: fmt.Sprintf("course %q not found", id)})
}

// ── Encoding helpers ─────────────────────────────────────────────────────────

// kindNotFound extends the taxonomy for unknown resources.
const kindNotFound types.Kind = "not_found"

// statusClientClosed is the de-facto status for requests abandoned by the
// client.
const statusClientClosed = 499

type errorBody struct {
	Kind   types.Kind `json:"kind"`
	Reason string     `json:"reason"`
}

// statusFor maps an error kind to its HTTP status.
func statusFor(k types.Kind) int {
	switch k {
	case types.KindInvalidArgument:
		return http.StatusBadRequest
	case types.KindDecode, types.KindPhonemize:
		return http.StatusUnprocessableEntity
	case types.KindEngineNotReady, types.KindNotConfigured:
		return http.StatusServiceUnavailable
	case types.KindSuperseded:
		return http.StatusConflict
	case types.KindTimeout:
		return http.StatusGatewayTimeout
	case types.KindConnection, types.KindServer, types.KindConnectionClosedEarly, types.KindSynthesis:
		return http.StatusBadGateway
	case types.KindCanceled:
		return statusClientClosed
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	te := types.Classify(err, types.KindInternal)
	observe.NoteError(r.Context(), te)
	status := statusFor(te.Kind)
	if status >= http.StatusInternalServerError {
		observe.Logger(r.Context()).Warn("server: request failed", "path", r.URL.Path, "kind", te.Kind, "err", te)
	}
	reason := te.Reason
	if reason == "" {
		reason = te.Error()
	}
	writeJSON(w, status, errorBody{Kind: te.Kind, Reason: reason})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// readBody reads the whole request body, answering 413 or 400 itself on
// failure.
func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{
				Kind:   types.KindInvalidArgument,
				Reason: fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit),
			})
			return nil, false
		}
		writeError(w, r, types.Wrap(types.KindInvalidArgument, err))
		return nil, false
	}
	return body, true
}

// decodeJSON decodes the request body into v, rejecting unknown fields.
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "application/json") {
		writeError(w, r, types.Errorf(types.KindInvalidArgument, "content type %q is not application/json", ct))
		return false
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, r, types.Errorf(types.KindInvalidArgument, "invalid JSON body: %v", err))
		return false
	}
	return true
}
