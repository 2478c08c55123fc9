// Package scoring is the synchronous front of pronunciation analysis.
//
// A [Manager] accepts audio in any of three shapes (a file path, raw float
// samples, or an encoded container), hands the work to a bounded pool of
// workers and returns the engine's result or error unchanged. There is no
// retry. Engine access itself is serialised by the engine binding; the pool
// bounds how many decodes and queued inferences run at once.
package scoring

import (
	"context"
	"log/slog"
	"runtime"
	"time"

	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/semaphore"

	"github.com/MrWong99/speakwise/internal/observe"
	"github.com/MrWong99/speakwise/pkg/audio"
	"github.com/MrWong99/speakwise/pkg/types"
)

// Analyzer is the subset of the engine binding the manager needs.
type Analyzer interface {
	AnalyzeFile(path, text string) (types.AnalysisResult, error)
	AnalyzeSamples(samples []float32, sampleRate, channels int, text string) (types.AnalysisResult, error)
}

// Audio is one of [FileAudio], [SamplesAudio] or [EncodedAudio].
type Audio interface {
	kind() string
}

// FileAudio names an audio file readable by the engine.
type FileAudio struct {
	Path string
}

// SamplesAudio is interleaved float PCM in [-1, 1].
type SamplesAudio struct {
	Samples    []float32
	SampleRate int
	Channels   int
}

// EncodedAudio is a complete audio container (WAV, MP3, Ogg Opus).
type EncodedAudio struct {
	Data []byte
}

func (FileAudio) kind() string    { return "file" }
func (SamplesAudio) kind() string { return "samples" }
func (EncodedAudio) kind() string { return "encoded" }

// Option is a functional option for configuring a Manager.
type Option func(*Manager)

// WithWorkers bounds the number of concurrent scoring jobs. Values below one
// select runtime.NumCPU().
func WithWorkers(n int) Option {
	return func(m *Manager) { m.workers = n }
}

// WithMetrics sets the metrics sink. Defaults to observe.DefaultMetrics().
func WithMetrics(met *observe.Metrics) Option {
	return func(m *Manager) { m.metrics = met }
}

// Manager dispatches scoring requests to the engine.
type Manager struct {
	engine  Analyzer
	workers int
	sem     *semaphore.Weighted
	metrics *observe.Metrics
}

// New creates a Manager over engine.
func New(engine Analyzer, opts ...Option) *Manager {
	m := &Manager{engine: engine}
	for _, o := range opts {
		o(m)
	}
	if m.workers < 1 {
		m.workers = runtime.NumCPU()
	}
	if m.metrics == nil {
		m.metrics = observe.DefaultMetrics()
	}
	m.sem = semaphore.NewWeighted(int64(m.workers))
	return m
}

// Workers returns the pool size.
func (m *Manager) Workers() int { return m.workers }

type outcome struct {
	res types.AnalysisResult
	err error
}

// Score analyses in against text. ctx bounds the wait for a worker slot and
// for the result; a job that already started runs to completion in the
// background and frees its slot when the engine returns.
func (m *Manager) Score(ctx context.Context, in Audio, text string) (types.AnalysisResult, error) {
	if in == nil {
		return types.AnalysisResult{}, types.Errorf(types.KindInvalidArgument, "no audio supplied")
	}

	ctx, span := observe.StartSpan(ctx, "scoring.Score")
	var err error
	defer func() { observe.EndSpan(span, err) }()

	if err = m.sem.Acquire(ctx, 1); err != nil {
		err = types.Classify(err, types.KindCanceled)
		return types.AnalysisResult{}, err
	}

	done := make(chan outcome, 1)
	go func() {
		defer m.sem.Release(1)
		m.metrics.ScoringInFlight.Add(context.Background(), 1)
		defer m.metrics.ScoringInFlight.Add(context.Background(), -1)

		start := time.Now()
		res, err := m.run(in, text)
		m.metrics.ScoreDuration.Record(context.Background(), time.Since(start).Seconds(),
			metricAttrs(in, err))
		done <- outcome{res, err}
	}()

	select {
	case o := <-done:
		err = o.err
		if err != nil {
			observe.Logger(ctx).Debug("scoring: failed", "input", in.kind(), "kind", types.KindOf(err), "err", err)
		}
		return o.res, o.err
	case <-ctx.Done():
		err = types.Classify(context.Cause(ctx), types.KindCanceled)
		return types.AnalysisResult{}, err
	}
}

func (m *Manager) run(in Audio, text string) (types.AnalysisResult, error) {
	switch a := in.(type) {
	case FileAudio:
		return m.engine.AnalyzeFile(a.Path, text)
	case SamplesAudio:
		return m.engine.AnalyzeSamples(a.Samples, a.SampleRate, a.Channels, text)
	case EncodedAudio:
		start := time.Now()
		pcm, err := audio.DecodeFloat(a.Data, 0, 0)
		m.metrics.DecodeDuration.Record(context.Background(), time.Since(start).Seconds())
		if err != nil {
			return types.AnalysisResult{}, err
		}
		if pcm.Channels > 2 {
			pcm.Samples = audio.Mix(pcm.Samples, pcm.Channels, 1)
			pcm.Channels = 1
		}
		slog.Debug("scoring: decoded", "rate", pcm.SampleRate, "channels", pcm.Channels, "duration", pcm.Duration())
		return m.engine.AnalyzeSamples(pcm.Samples, pcm.SampleRate, pcm.Channels, text)
	default:
		return types.AnalysisResult{}, types.Errorf(types.KindInvalidArgument, "unsupported audio input %T", in)
	}
}

func metricAttrs(in Audio, err error) metric.MeasurementOption {
	status := "ok"
	if err != nil {
		status = string(types.KindOf(err))
	}
	return metric.WithAttributes(observe.Attr("input", in.kind()), observe.Attr("status", status))
}
