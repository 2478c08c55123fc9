package native

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-shellwords"
)

// DefaultPhonemizerCommand invokes espeak-ng for a single word. {voice} and
// {data} are substituted per call; an argument that is only "--path={data}"
// is dropped when no data directory is configured.
const DefaultPhonemizerCommand = "espeak-ng -q --ipa -v {voice} --path={data}"

const (
	phonemizeTimeout = 5 * time.Second
	cacheLimit       = 4096
)

// Phonemizer transcribes a single word to IPA in the given voice.
type Phonemizer interface {
	Transcribe(ctx context.Context, word, voice string) (string, error)
}

// CommandPhonemizer runs an external grapheme-to-phoneme command per word
// and caches results per (voice, word).
type CommandPhonemizer struct {
	argv    []string
	dataDir string

	mu    sync.Mutex
	cache map[string]string
}

var _ Phonemizer = (*CommandPhonemizer)(nil)

// NewCommandPhonemizer parses command with shell quoting rules. dataDir
// replaces {data}; the binary must resolve on PATH.
func NewCommandPhonemizer(command, dataDir string) (*CommandPhonemizer, error) {
	if strings.TrimSpace(command) == "" {
		command = DefaultPhonemizerCommand
	}
	argv, err := shellwords.NewParser().Parse(command)
	if err != nil {
		return nil, fmt.Errorf("native: parse phonemizer command: %w", err)
	}
	if len(argv) == 0 {
		return nil, errors.New("native: phonemizer command is empty")
	}
	if _, err := exec.LookPath(argv[0]); err != nil {
		return nil, fmt.Errorf("native: phonemizer binary %q: %w", argv[0], err)
	}
	return &CommandPhonemizer{argv: argv, dataDir: dataDir, cache: make(map[string]string)}, nil
}

// Transcribe returns the raw IPA output of the command for word.
func (p *CommandPhonemizer) Transcribe(ctx context.Context, word, voice string) (string, error) {
	key := voice + "\x00" + word
	p.mu.Lock()
	if ipa, ok := p.cache[key]; ok {
		p.mu.Unlock()
		return ipa, nil
	}
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, phonemizeTimeout)
	defer cancel()

	args := p.args(voice)
	args = append(args, word)
	cmd := exec.CommandContext(ctx, p.argv[0], args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return "", fmt.Errorf("native: phonemizer %q: %w: %s", voice, err, msg)
		}
		return "", fmt.Errorf("native: phonemizer %q: %w", voice, err)
	}
	ipa := strings.TrimSpace(stdout.String())

	p.mu.Lock()
	if len(p.cache) >= cacheLimit {
		clear(p.cache)
	}
	p.cache[key] = ipa
	p.mu.Unlock()
	return ipa, nil
}

func (p *CommandPhonemizer) args(voice string) []string {
	out := make([]string, 0, len(p.argv))
	for _, a := range p.argv[1:] {
		if strings.Contains(a, "{data}") && p.dataDir == "" {
			continue
		}
		a = strings.ReplaceAll(a, "{voice}", voice)
		a = strings.ReplaceAll(a, "{data}", p.dataDir)
		out = append(out, a)
	}
	return out
}
