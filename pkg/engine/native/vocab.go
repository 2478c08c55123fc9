package native

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"unicode/utf8"
)

// maxTokenBytes bounds the longest vocabulary entry tried during
// tokenisation. It covers multi-rune phonemes such as "tʃʰ".
const maxTokenBytes = 8

// blankToken is the CTC blank symbol in wav2vec2-style vocabularies.
const blankToken = "<pad>"

// ignoredIPA lists transcription marks that carry no segmental content.
var ignoredIPA = strings.NewReplacer("ˈ", "", "ˌ", "", " ", "", "_", "", " ", "", "\n", "", "\t", "")

// Vocabulary maps phoneme tokens to acoustic model output indices.
type Vocabulary struct {
	ids   map[string]int
	blank int
	size  int
}

// LoadVocabulary reads a JSON object of token → index.
func LoadVocabulary(path string) (*Vocabulary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("native: read vocabulary %q: %w", path, err)
	}
	var ids map[string]int
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, fmt.Errorf("native: parse vocabulary %q: %w", path, err)
	}
	return NewVocabulary(ids)
}

// NewVocabulary builds a Vocabulary from a token → index map. The blank index
// is that of "<pad>" when present and 0 otherwise.
func NewVocabulary(ids map[string]int) (*Vocabulary, error) {
	if len(ids) == 0 {
		return nil, fmt.Errorf("native: empty vocabulary")
	}
	v := &Vocabulary{ids: make(map[string]int, len(ids))}
	for tok, id := range ids {
		if id < 0 {
			return nil, fmt.Errorf("native: negative index %d for token %q", id, tok)
		}
		v.ids[tok] = id
		v.size = max(v.size, id+1)
	}
	if id, ok := v.ids[blankToken]; ok {
		v.blank = id
	}
	return v, nil
}

// ID returns the index of tok.
func (v *Vocabulary) ID(tok string) (int, bool) {
	id, ok := v.ids[tok]
	return id, ok
}

// Blank returns the CTC blank index.
func (v *Vocabulary) Blank() int { return v.blank }

// Size returns one past the largest index.
func (v *Vocabulary) Size() int { return v.size }

// Tokenize strips stress and separator marks from ipa and splits the rest
// into vocabulary tokens by greedy longest match. Runes that start no known
// token are dropped.
func (v *Vocabulary) Tokenize(ipa string) []string {
	clean := ignoredIPA.Replace(ipa)
	var tokens []string
	for i := 0; i < len(clean); {
		matched := false
		for n := min(maxTokenBytes, len(clean)-i); n >= 1; n-- {
			sub := clean[i : i+n]
			if _, ok := v.ids[sub]; ok {
				tokens = append(tokens, sub)
				i += n
				matched = true
				break
			}
		}
		if !matched {
			r, size := utf8.DecodeRuneInString(clean[i:])
			slog.Debug("native: skipping unknown phoneme symbol", "symbol", string(r))
			i += size
		}
	}
	return tokens
}
