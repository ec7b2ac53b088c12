package tokenizer

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

// Vocabulary sizes including special tokens; tiktoken-go does not expose them.
var tiktokenVocab = map[string]int{
	"cl100k_base": 100277,
	"o200k_base":  200019,
	"p50k_base":   50281,
	"p50k_edit":   50284,
	"r50k_base":   50257,
}

// TikToken wraps a built-in OpenAI BPE encoding.
type TikToken struct {
	lifecycle

	encoding *tiktoken.Tiktoken
	name     string
	// assigned marks ids backed by a mergeable rank or a special token.
	// Encodings leave gaps below their vocabulary size (cl100k_base has no
	// 100256 or 100261-100275), and tiktoken-go decodes those to nothing.
	assigned []bool
}

var _ Tokenizer = (*TikToken)(nil)

func NewTikToken(encodingName string) (*TikToken, error) {
	vocab, ok := tiktokenVocab[encodingName]
	if !ok {
		return nil, fmt.Errorf("tokenizer: unknown tiktoken encoding %q", encodingName)
	}
	enc, err := tiktoken.GetEncoding(encodingName)
	if err != nil {
		return nil, fmt.Errorf("tokenizer: load tiktoken encoding %q: %w", encodingName, err)
	}
	return newTikToken(encodingName, enc, vocab), nil
}

func newTikToken(name string, enc *tiktoken.Tiktoken, vocab int) *TikToken {
	assigned := make([]bool, vocab)
	one := make([]int, 1)
	for id := range assigned {
		one[0] = id
		assigned[id] = enc.Decode(one) != ""
	}
	return &TikToken{encoding: enc, name: name, assigned: assigned}
}

func (t *TikToken) Name() string   { return t.name }
func (t *TikToken) VocabSize() int { return len(t.assigned) }

func (t *TikToken) Encode(text string) ([]int, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	if text == "" {
		return []int{}, nil
	}
	return t.encoding.Encode(text, nil, nil), nil
}

func (t *TikToken) Decode(ids []int) (string, error) {
	if err := t.check(); err != nil {
		return "", err
	}
	if err := CheckIDs(ids, len(t.assigned)); err != nil {
		return "", err
	}
	for _, id := range ids {
		if !t.assigned[id] {
			return "", &InvalidTokenError{ID: id, VocabSize: len(t.assigned)}
		}
	}
	return t.encoding.Decode(ids), nil
}
