package tokenizer

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/goccy/go-json"
)

// BPE is a byte-level BPE tokenizer loaded from a HuggingFace tokenizer.json.
type BPE struct {
	lifecycle

	encoder      map[string]int
	decoder      []string
	bpeRanks     map[Pair]int
	bytes        *byteAlphabet
	pattern      *regexp.Regexp
	addBOS       bool
	addEOS       bool
	bosID        int
	eosID        int
	unkID        int
	ignoreMerges bool
	special      specialSet

	mu         sync.RWMutex
	cache      map[string][]string
	cacheLimit int
}

// defaultMergeCacheLimit bounds the per-tokenizer cache of merged words.
// Request text decides what gets cached, so the cache is reset when full.
const defaultMergeCacheLimit = 1 << 14

var _ Tokenizer = (*BPE)(nil)

type hfPreTokenizer struct {
	Type          string `json:"type"`
	Pretokenizers []struct {
		Type    string `json:"type"`
		Pattern struct {
			Regex string `json:"Regex"`
		} `json:"pattern"`
	} `json:"pretokenizers"`
}

type hfTokenizerJSON struct {
	Model struct {
		Type         string         `json:"type"`
		Vocab        map[string]int `json:"vocab"`
		Merges       []any          `json:"merges"`
		IgnoreMerges bool           `json:"ignore_merges"`
		UnkToken     string         `json:"unk_token"`
	} `json:"model"`
	PreTokenizer  hfPreTokenizer `json:"pre_tokenizer"`
	PostProcessor struct {
		Type       string `json:"type"`
		Processors []struct {
			Type          string `json:"type"`
			SpecialTokens map[string]struct {
				IDs []int `json:"ids"`
			} `json:"special_tokens"`
		} `json:"processors"`
	} `json:"post_processor"`
	AddedTokens []struct {
		ID      int    `json:"id"`
		Content string `json:"content"`
		Special bool   `json:"special"`
	} `json:"added_tokens"`
}

type hfTokenizerConfig struct {
	AddBOS bool   `json:"add_bos_token"`
	AddEOS bool   `json:"add_eos_token"`
	BOS    string `json:"bos_token"`
	EOS    string `json:"eos_token"`
}

func isHFTokenizerJSON(raw []byte) bool {
	var head struct {
		Model json.RawMessage `json:"model"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return false
	}
	return len(head.Model) > 0 && head.Model[0] == '{'
}

// LoadBPEBytes parses tokenizer.json and an optional tokenizer_config.json.
func LoadBPEBytes(tokJSON []byte, tokConfig []byte) (*BPE, error) {
	var tj hfTokenizerJSON
	if err := json.Unmarshal(tokJSON, &tj); err != nil {
		return nil, fmt.Errorf("tokenizer: parse tokenizer.json: %w", err)
	}
	if strings.ToUpper(tj.Model.Type) != "BPE" {
		return nil, fmt.Errorf("tokenizer: unsupported tokenizer model %q", tj.Model.Type)
	}
	if len(tj.Model.Vocab) == 0 {
		return nil, fmt.Errorf("tokenizer: empty vocabulary")
	}

	encoder := make(map[string]int, len(tj.Model.Vocab))
	maxID := -1
	for tok, id := range tj.Model.Vocab {
		if id < 0 {
			return nil, fmt.Errorf("tokenizer: negative id %d for %q", id, tok)
		}
		encoder[tok] = id
		maxID = max(maxID, id)
	}
	for _, at := range tj.AddedTokens {
		maxID = max(maxID, at.ID)
	}
	decoder := make([]string, maxID+1)
	for tok, id := range tj.Model.Vocab {
		decoder[id] = tok
	}
	specials := make(map[string]int)
	for _, at := range tj.AddedTokens {
		if at.ID < 0 || at.Content == "" {
			continue
		}
		decoder[at.ID] = at.Content
		encoder[at.Content] = at.ID
		if at.Special {
			specials[at.Content] = at.ID
		}
	}

	bpeRanks := make(map[Pair]int, len(tj.Model.Merges))
	rank := 0
	for _, raw := range tj.Model.Merges {
		p, ok := parseMerge(raw)
		if !ok {
			continue
		}
		if _, seen := bpeRanks[p]; !seen {
			bpeRanks[p] = rank
			rank++
		}
	}

	var cfg hfTokenizerConfig
	if len(tokConfig) > 0 {
		_ = json.Unmarshal(tokConfig, &cfg)
	}

	tok := &BPE{
		encoder:      encoder,
		decoder:      decoder,
		bpeRanks:     bpeRanks,
		pattern:      buildPattern(tj.PreTokenizer),
		addBOS:       cfg.AddBOS,
		addEOS:       cfg.AddEOS,
		bosID:        -1,
		eosID:        -1,
		unkID:        -1,
		ignoreMerges: tj.Model.IgnoreMerges,
		bytes:        newByteAlphabet(),
		special:      newSpecialSet(specials),
		cache:        make(map[string][]string),
		cacheLimit:   defaultMergeCacheLimit,
	}
	if id, ok := encoder[cfg.BOS]; ok && cfg.BOS != "" {
		tok.bosID = id
	}
	if id, ok := encoder[cfg.EOS]; ok && cfg.EOS != "" {
		tok.eosID = id
	}
	// TemplateProcessing's first special token is the sequence prefix.
	for _, proc := range tj.PostProcessor.Processors {
		if proc.Type != "TemplateProcessing" {
			continue
		}
		for _, st := range proc.SpecialTokens {
			if len(st.IDs) > 0 {
				tok.bosID = st.IDs[0]
				tok.addBOS = true
				break
			}
		}
	}
	if id, ok := encoder[tj.Model.UnkToken]; ok && tj.Model.UnkToken != "" {
		tok.unkID = id
	}
	return tok, nil
}

func parseMerge(raw any) (Pair, bool) {
	line := ""
	switch v := raw.(type) {
	case string:
		line = v
	case []any:
		if len(v) == 2 {
			a, aok := v[0].(string)
			b, bok := v[1].(string)
			if aok && bok {
				line = a + " " + b
			}
		}
	}
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return Pair{}, false
	}
	a, b, ok := strings.Cut(line, " ")
	if !ok || strings.Contains(b, " ") {
		return Pair{}, false
	}
	return Pair{A: a, B: b}, true
}

func (t *BPE) VocabSize() int { return len(t.decoder) }

func (t *BPE) Encode(text string) ([]int, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	if text == "" {
		return []int{}, nil
	}
	var ids []int
	if t.addBOS && t.bosID >= 0 {
		ids = append(ids, t.bosID)
	}
	err := t.special.segments(text, func(seg string, special bool) error {
		if special {
			ids = append(ids, t.special.ids[seg])
			return nil
		}
		for _, word := range t.pattern.FindAllString(seg, -1) {
			for _, piece := range t.bpe(t.bytes.encode(word)) {
				id, ok := t.encoder[piece]
				if !ok {
					if t.unkID < 0 {
						return fmt.Errorf("tokenizer: no vocabulary entry for %q", piece)
					}
					id = t.unkID
				}
				ids = append(ids, id)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if t.addEOS && t.eosID >= 0 {
		ids = append(ids, t.eosID)
	}
	return ids, nil
}

// Decode drops special tokens so that decoding is stable under re-encoding.
func (t *BPE) Decode(ids []int) (string, error) {
	if err := t.check(); err != nil {
		return "", err
	}
	if err := CheckIDs(ids, len(t.decoder)); err != nil {
		return "", err
	}
	var b []byte
	for _, id := range ids {
		token := t.decoder[id]
		if token == "" {
			return "", &InvalidTokenError{ID: id, VocabSize: len(t.decoder)}
		}
		if t.special.has(token) {
			continue
		}
		b = t.bytes.appendDecoded(b, token)
	}
	return string(b), nil
}

// TokenString returns the vocabulary entry for id, or "" when there is none.
func (t *BPE) TokenString(id int) string {
	if id < 0 || id >= len(t.decoder) {
		return ""
	}
	return t.decoder[id]
}

func (t *BPE) bpe(token string) []string {
	t.mu.RLock()
	cached, ok := t.cache[token]
	t.mu.RUnlock()
	if ok {
		return cached
	}

	word := t.merge(token)
	t.mu.Lock()
	if len(t.cache) >= t.cacheLimit {
		clear(t.cache)
	}
	t.cache[token] = word
	t.mu.Unlock()
	return word
}

func (t *BPE) merge(token string) []string {
	if t.ignoreMerges {
		if _, ok := t.encoder[token]; ok {
			return []string{token}
		}
	}
	return mergeSymbols(token, t.bpeRanks)
}

func buildPattern(pre hfPreTokenizer) *regexp.Regexp {
	pat := `'s|'t|'re|'ve|'m|'ll|'d| ?\p{L}+| ?\p{N}+| ?[^\s\p{L}\p{N}]+|\s+`
	if pre.Type == "Sequence" {
		for _, p := range pre.Pretokenizers {
			if p.Type == "Split" && p.Pattern.Regex != "" {
				pat = p.Pattern.Regex
				break
			}
		}
	}
	// Go regexp has no lookahead; fall back to the llama.cpp rewrite.
	if strings.Contains(pat, "(?!\\S)") || strings.Contains(pat, "(?i:") {
		pat = `(?:'[sS]|'[tT]|'[rR][eE]|'[vV][eE]|'[mM]|'[lL][lL]|'[dD])|[^\r\n\p{L}\p{N}]?\p{L}+|\p{N}{1,3}| ?[^\s\p{L}\p{N}]+[\r\n]*|\s*[\r\n]+|\s+`
	}
	re, err := regexp.Compile(pat)
	if err != nil {
		return regexp.MustCompile(`\s+|\S+`)
	}
	return re
}
