package tokenizer

import (
	"fmt"

	sentencepiece "github.com/eliben/go-sentencepiece"
)

// SentencePiece wraps a SentencePiece BPE model (spiece.model). The backing
// library handles BPE models without dummy-prefix or whitespace
// normalization; other models fail to load.
type SentencePiece struct {
	lifecycle

	proc  *sentencepiece.Processor
	vocab int
	unkID int
}

var _ Tokenizer = (*SentencePiece)(nil)

func LoadSentencePiece(path string) (sp *SentencePiece, err error) {
	// The library dereferences optional normalizer fields without checking.
	defer func() {
		if rec := recover(); rec != nil {
			sp, err = nil, fmt.Errorf("tokenizer: load sentencepiece %s: malformed model: %v", path, rec)
		}
	}()
	proc, err := sentencepiece.NewProcessorFromPath(path)
	if err != nil {
		return nil, fmt.Errorf("tokenizer: load sentencepiece %s: %w", path, err)
	}
	info := proc.ModelInfo()
	if info == nil || info.VocabularySize <= 0 {
		return nil, fmt.Errorf("tokenizer: sentencepiece %s has no vocabulary", path)
	}
	return &SentencePiece{proc: proc, vocab: info.VocabularySize, unkID: info.UnknownID}, nil
}

func (s *SentencePiece) VocabSize() int { return s.vocab }

func (s *SentencePiece) Encode(text string) ([]int, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	if text == "" {
		return []int{}, nil
	}
	tokens := s.proc.Encode(text)
	ids := make([]int, len(tokens))
	for i, tok := range tokens {
		ids[i] = tok.ID
	}
	return ids, nil
}

// Decode drops <unk> along with control pieces, so the result re-encodes to
// the same text.
func (s *SentencePiece) Decode(ids []int) (string, error) {
	if err := s.check(); err != nil {
		return "", err
	}
	if err := CheckIDs(ids, s.vocab); err != nil {
		return "", err
	}
	known := ids
	for i, id := range ids {
		if id != s.unkID {
			continue
		}
		known = make([]int, i, len(ids))
		copy(known, ids[:i])
		for _, id := range ids[i+1:] {
			if id != s.unkID {
				known = append(known, id)
			}
		}
		break
	}
	return s.proc.Decode(known), nil
}
