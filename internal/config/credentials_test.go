package config_test

import (
	"sync"
	"testing"

	"github.com/MrWong99/speakwise/internal/config"
)

func TestCredentials_Update(t *testing.T) {
	t.Parallel()

	cfg := baseConfig()
	creds := config.NewCredentials(cfg)
	azure := creds.TTSKey("azure")
	missing := creds.TTSKey("polly")

	if creds.CritiqueKey() != "a" || azure() != "x" || missing() != "" {
		t.Fatalf("initial keys: critique=%q azure=%q polly=%q", creds.CritiqueKey(), azure(), missing())
	}

	next := baseConfig()
	next.Critique.APIKey = "b"
	next.TTS.Providers[0].APIKey = "x2"
	creds.Update(next)

	if creds.CritiqueKey() != "b" {
		t.Errorf("critique key = %q after update", creds.CritiqueKey())
	}
	if azure() != "x2" {
		t.Errorf("key func captured stale value %q", azure())
	}
}

func TestCredentials_ConcurrentAccess(t *testing.T) {
	t.Parallel()

	creds := config.NewCredentials(baseConfig())
	key := creds.TTSKey("openai")

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				if i%2 == 0 {
					creds.Update(baseConfig())
				} else {
					_ = creds.CritiqueKey() + key()
				}
			}
		}()
	}
	wg.Wait()
}
