package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrWong99/speakwise/internal/app"
	"github.com/MrWong99/speakwise/internal/config"
	"github.com/MrWong99/speakwise/internal/observe"
	"github.com/MrWong99/speakwise/internal/resilience"
	"github.com/MrWong99/speakwise/internal/scoring"
	"github.com/MrWong99/speakwise/pkg/engine"
	"github.com/MrWong99/speakwise/pkg/engine/native"
	"github.com/MrWong99/speakwise/pkg/provider/critique/openai"
	"github.com/MrWong99/speakwise/pkg/provider/tts"
	"github.com/MrWong99/speakwise/pkg/provider/tts/azure"
	oaitts "github.com/MrWong99/speakwise/pkg/provider/tts/openai"
)

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires the built-in TTS factories into reg.
func registerBuiltinProviders(reg *config.Registry) {
	reg.RegisterTTS("azure", func(entry config.ProviderEntry, key func() string) (tts.Provider, error) {
		var opts []azure.Option
		if entry.Region != "" {
			opts = append(opts, azure.WithRegion(entry.Region))
		}
		if entry.BaseURL != "" {
			opts = append(opts, azure.WithBaseURL(entry.BaseURL))
		}
		return azure.New(key, opts...), nil
	})

	reg.RegisterTTS("openai", func(entry config.ProviderEntry, key func() string) (tts.Provider, error) {
		var opts []oaitts.Option
		if entry.Model != "" {
			opts = append(opts, oaitts.WithModel(entry.Model))
		}
		if entry.Voice != "" {
			opts = append(opts, oaitts.WithVoice(entry.Voice))
		}
		if entry.BaseURL != "" {
			opts = append(opts, oaitts.WithBaseURL(entry.BaseURL))
		}
		return oaitts.New(key, opts...), nil
	})
}

// buildTTS creates the configured providers in order behind a failover
// chain. It returns nil when no provider is configured.
func buildTTS(cfg *config.Config, reg *config.Registry, creds *config.Credentials, m *observe.Metrics) (*resilience.TTSFallback, error) {
	var chain *resilience.TTSFallback
	for _, entry := range cfg.TTS.Providers {
		p, err := reg.CreateTTS(entry, creds.TTSKey(entry.Name))
		if err != nil {
			return nil, err
		}
		if chain == nil {
			chain = resilience.NewTTSFallback(p, entry.Name, resilience.FallbackConfig{}, m)
			continue
		}
		chain.AddFallback(entry.Name, p)
	}
	return chain, nil
}

// ── Coach assembly ────────────────────────────────────────────────────────────

// buildCoach initialises the engine and assembles the facade. An engine that
// fails to load is logged and left not-ready; the coach still serves
// critique and synthesis.
func buildCoach(cfg *config.Config, creds *config.Credentials, m *observe.Metrics) (*app.Coach, error) {
	binding := engine.NewBinding(native.Opener(
		native.WithRuntimeLibrary(cfg.Engine.RuntimeLibrary),
		native.WithPhonemizerCommand(cfg.Engine.PhonemizerCommand),
		native.WithLanguage(cfg.Engine.Language),
	))
	if cfg.Engine.ModelPath != "" {
		err := binding.Initialize(engine.Paths{
			Model: cfg.Engine.ModelPath,
			Vocab: cfg.Engine.VocabPath,
			Data:  cfg.Engine.DataPath,
		})
		if err != nil {
			slog.Error("engine unavailable; scoring disabled", "err", err)
		} else if err := binding.SetLanguage(cfg.Engine.Language); err != nil {
			slog.Warn("cannot apply configured language", "language", cfg.Engine.Language, "err", err)
		}
	}

	critOpts := []openai.Option{
		openai.WithTimeout(cfg.Critique.Timeout),
	}
	if cfg.Critique.BaseURL != "" {
		critOpts = append(critOpts, openai.WithBaseURL(cfg.Critique.BaseURL))
	}
	if cfg.Critique.Model != "" {
		critOpts = append(critOpts, openai.WithModel(cfg.Critique.Model))
	}
	if cfg.Critique.Language != "" {
		critOpts = append(critOpts, openai.WithLanguage(cfg.Critique.Language))
	}
	if cfg.Critique.FallbackText != "" {
		critOpts = append(critOpts, openai.WithFallbackText(cfg.Critique.FallbackText))
	}
	critic := openai.New(creds.CritiqueKey, critOpts...)

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)
	synth, err := buildTTS(cfg, reg, creds, m)
	if err != nil {
		_ = critic.Close()
		_ = binding.Shutdown()
		return nil, err
	}

	opts := []app.Option{app.WithMetrics(m)}
	if synth != nil {
		opts = append(opts, app.WithTTS(synth))
	}
	scorer := scoring.New(binding, scoring.WithWorkers(cfg.Engine.Workers), scoring.WithMetrics(m))
	return app.New(binding, scorer, critic, opts...), nil
}

// closeAll closes every closer and joins the failures.
func closeAll(ctx context.Context, closers ...func(context.Context) error) error {
	var errs []error
	for _, c := range closers {
		if err := c(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
