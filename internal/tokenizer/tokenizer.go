// Package tokenizer maps text to and from token id sequences over a fixed,
// pre-trained vocabulary.
//
// Every backend is read-only after Load and safe for concurrent use. Decode
// rejects ids outside the vocabulary with an error wrapping ErrInvalidToken.
package tokenizer

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrClosed       = errors.New("tokenizer closed")
)

// Tokenizer converts between text and token ids.
type Tokenizer interface {
	// Encode is deterministic. Empty text yields an empty sequence.
	Encode(text string) ([]int, error)
	Decode(ids []int) (string, error)
	// VocabSize is one past the largest valid id.
	VocabSize() int
	Close() error
}

// InvalidTokenError reports an id that is not in the vocabulary.
type InvalidTokenError struct {
	ID        int
	VocabSize int
}

func (e *InvalidTokenError) Error() string {
	return fmt.Sprintf("invalid token: id %d outside vocabulary of %d", e.ID, e.VocabSize)
}

func (e *InvalidTokenError) Unwrap() error { return ErrInvalidToken }

// CheckIDs verifies that every id lies in [0, vocabSize).
func CheckIDs(ids []int, vocabSize int) error {
	for _, id := range ids {
		if id < 0 || id >= vocabSize {
			return &InvalidTokenError{ID: id, VocabSize: vocabSize}
		}
	}
	return nil
}

// TikTokenScheme prefixes locations naming a built-in tiktoken encoding,
// e.g. "tiktoken:cl100k_base".
const TikTokenScheme = "tiktoken:"

// Load opens the vocabulary model at location, picking a backend from its
// form:
//
//	tiktoken:<encoding>     built-in tiktoken encoding
//	*.model                 SentencePiece model
//	tokenizer.json          HuggingFace BPE (object with a "model" key)
//	*.json                  token -> id map
//	*.vocab, *.txt          one token per line, id = line number
func Load(location string) (Tokenizer, error) {
	location = strings.TrimSpace(location)
	if location == "" {
		return nil, errors.New("tokenizer: vocabulary location is required")
	}
	if enc, ok := strings.CutPrefix(location, TikTokenScheme); ok {
		return NewTikToken(enc)
	}

	info, err := os.Stat(location)
	if err != nil {
		return nil, fmt.Errorf("tokenizer: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("tokenizer: %s is a directory", location)
	}

	switch strings.ToLower(filepath.Ext(location)) {
	case ".model":
		return LoadSentencePiece(location)
	case ".json":
		raw, err := os.ReadFile(location)
		if err != nil {
			return nil, fmt.Errorf("tokenizer: %w", err)
		}
		if isHFTokenizerJSON(raw) {
			cfgPath := filepath.Join(filepath.Dir(location), "tokenizer_config.json")
			cfg, _ := os.ReadFile(cfgPath)
			return LoadBPEBytes(raw, cfg)
		}
		return ParseVocabJSON(raw)
	case ".vocab", ".txt":
		f, err := os.Open(location)
		if err != nil {
			return nil, fmt.Errorf("tokenizer: %w", err)
		}
		defer f.Close()
		return ParseVocabLines(f)
	default:
		return nil, fmt.Errorf("tokenizer: unrecognised vocabulary %s", location)
	}
}

// lifecycle tracks Close for backends that hold no native resources.
type lifecycle struct {
	closed atomic.Bool
}

func (l *lifecycle) check() error {
	if l.closed.Load() {
		return ErrClosed
	}
	return nil
}

func (l *lifecycle) Close() error {
	l.closed.Store(true)
	return nil
}
