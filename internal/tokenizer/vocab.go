package tokenizer

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/goccy/go-json"
)

// continuation marks a vocabulary piece that extends the previous word.
const continuation = "##"

var (
	wordPattern = regexp.MustCompile(`[\p{L}\p{N}_]+|[^\p{L}\p{N}_\s]`)
	unkTokens   = []string{"<unk>", "[UNK]", "<UNK>"}
)

// Vocab is a word-level tokenizer over a plain token -> id table. Words are
// matched whole when possible and otherwise split, longest pieces first, into
// a head piece followed by "##" continuation pieces.
type Vocab struct {
	lifecycle

	ids    map[string]int
	tokens []string
	unkID  int
}

var _ Tokenizer = (*Vocab)(nil)

// NewVocab builds a tokenizer from entries. Ids need not be contiguous; gaps
// are rejected by Decode.
func NewVocab(entries map[string]int) (*Vocab, error) {
	if len(entries) == 0 {
		return nil, errors.New("tokenizer: empty vocabulary")
	}
	maxID := -1
	for tok, id := range entries {
		if id < 0 {
			return nil, fmt.Errorf("tokenizer: negative id %d for %q", id, tok)
		}
		if tok == "" {
			return nil, fmt.Errorf("tokenizer: empty token for id %d", id)
		}
		maxID = max(maxID, id)
	}
	v := &Vocab{
		ids:    make(map[string]int, len(entries)),
		tokens: make([]string, maxID+1),
		unkID:  -1,
	}
	for tok, id := range entries {
		if v.tokens[id] != "" {
			return nil, fmt.Errorf("tokenizer: id %d assigned to both %q and %q", id, v.tokens[id], tok)
		}
		v.ids[tok] = id
		v.tokens[id] = tok
	}
	for _, unk := range unkTokens {
		if id, ok := v.ids[unk]; ok {
			v.unkID = id
			break
		}
	}
	return v, nil
}

// ParseVocabJSON reads a vocab.json object mapping tokens to ids.
func ParseVocabJSON(raw []byte) (*Vocab, error) {
	var entries map[string]int
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("tokenizer: parse vocab json: %w", err)
	}
	return NewVocab(entries)
}

// ParseVocabLines reads one token per line; the line number is the id. Text
// after a tab (SentencePiece .vocab scores) is ignored. Blank lines reserve
// their id.
func ParseVocabLines(r io.Reader) (*Vocab, error) {
	entries := make(map[string]int)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	id := 0
	for sc.Scan() {
		tok, _, _ := strings.Cut(strings.TrimRight(sc.Text(), "\r"), "\t")
		if _, dup := entries[tok]; tok != "" && !dup {
			entries[tok] = id
		}
		id++
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("tokenizer: read vocab: %w", err)
	}
	return NewVocab(entries)
}

func (v *Vocab) VocabSize() int { return len(v.tokens) }

// ID returns the id of tok.
func (v *Vocab) ID(tok string) (int, bool) {
	id, ok := v.ids[tok]
	return id, ok
}

func (v *Vocab) Encode(text string) ([]int, error) {
	if err := v.check(); err != nil {
		return nil, err
	}
	ids := []int{}
	for _, word := range wordPattern.FindAllString(text, -1) {
		pieces, ok := v.split(word)
		if !ok {
			if v.unkID < 0 {
				return nil, fmt.Errorf("tokenizer: no vocabulary entry for %q", word)
			}
			ids = append(ids, v.unkID)
			continue
		}
		ids = append(ids, pieces...)
	}
	return ids, nil
}

// split covers word with a head piece and continuation pieces, preferring
// longer pieces first and backing off to shorter ones when the rest of the
// word cannot be covered. Any word Decode produces from pieces splits again.
func (v *Vocab) split(word string) ([]int, bool) {
	if id, ok := v.ids[word]; ok {
		return []int{id}, true
	}
	dead := make([]bool, len(word))
	var out []int
	var cover func(start int) bool
	cover = func(start int) bool {
		if start == len(word) {
			return true
		}
		if dead[start] {
			return false
		}
		for end := len(word); end > start; end-- {
			if end < len(word) && !utf8.RuneStart(word[end]) {
				continue
			}
			piece := word[start:end]
			if start > 0 {
				piece = continuation + piece
			}
			id, ok := v.ids[piece]
			if !ok {
				continue
			}
			out = append(out, id)
			if cover(end) {
				return true
			}
			out = out[:len(out)-1]
		}
		dead[start] = true
		return false
	}
	if !cover(0) {
		return nil, false
	}
	return out, true
}

// Decode joins words with single spaces, attaches punctuation and
// continuation pieces to the preceding word and skips special tokens such as
// <unk> or [PAD]. The result re-encodes to ids that decode to the same text.
func (v *Vocab) Decode(ids []int) (string, error) {
	if err := v.check(); err != nil {
		return "", err
	}
	if err := CheckIDs(ids, len(v.tokens)); err != nil {
		return "", err
	}
	var b strings.Builder
	prevWord := false
	for _, id := range ids {
		tok := v.tokens[id]
		if tok == "" {
			return "", &InvalidTokenError{ID: id, VocabSize: len(v.tokens)}
		}
		if isMarkupToken(tok) {
			continue
		}
		if rest, ok := strings.CutPrefix(tok, continuation); ok && rest != "" {
			// A continuation only has meaning after a word.
			if prevWord && isWord(rest) && wordPattern.FindString(rest) == rest {
				b.WriteString(rest)
			}
			continue
		}
		for _, piece := range wordPattern.FindAllString(tok, -1) {
			word := isWord(piece)
			if word && b.Len() > 0 {
				b.WriteByte(' ')
			}
			b.WriteString(piece)
			prevWord = word
		}
	}
	return b.String(), nil
}

func isWord(s string) bool {
	r, _ := utf8.DecodeRuneInString(s)
	return r == '_' || unicode.IsLetter(r) || unicode.IsNumber(r)
}

// isMarkupToken reports control tokens written as <name> or [NAME].
func isMarkupToken(s string) bool {
	if len(s) < 3 || strings.ContainsAny(s, " \t\n") {
		return false
	}
	return (s[0] == '<' && s[len(s)-1] == '>') || (s[0] == '[' && s[len(s)-1] == ']')
}
