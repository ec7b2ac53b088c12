package tokenizer

import (
	"cmp"
	"maps"
	"slices"
	"strings"
	"unicode/utf8"
)

// Pair is an adjacent pair of BPE symbols.
type Pair struct {
	A string
	B string
}

// mergeSymbols splits token into runes and applies the lowest-ranked merge
// until no adjacent pair has a rank. Every occurrence of the chosen pair is
// merged in one pass, left to right.
func mergeSymbols(token string, ranks map[Pair]int) []string {
	word := make([]string, 0, utf8.RuneCountInString(token))
	for _, r := range token {
		word = append(word, string(r))
	}
	for len(word) > 1 {
		best, at := 0, -1
		for i := 1; i < len(word); i++ {
			r, ok := ranks[Pair{A: word[i-1], B: word[i]}]
			if ok && (at < 0 || r < best) {
				best, at = r, i-1
			}
		}
		if at < 0 {
			break
		}
		a, b := word[at], word[at+1]
		out := word[:at]
		for i := at; i < len(word); i++ {
			if i+1 < len(word) && word[i] == a && word[i+1] == b {
				out = append(out, a+b)
				i++
				continue
			}
			out = append(out, word[i])
		}
		word = out
	}
	return word
}

// specialSet holds added special tokens (<s>, </s>, <pad>, <mask>...) that
// are matched verbatim in input text and dropped on decode.
type specialSet struct {
	ids     map[string]int
	longest []string
}

func newSpecialSet(ids map[string]int) specialSet {
	s := specialSet{ids: ids, longest: slices.Collect(maps.Keys(ids))}
	slices.SortFunc(s.longest, func(a, b string) int {
		return cmp.Or(cmp.Compare(len(b), len(a)), strings.Compare(a, b))
	})
	return s
}

func (s specialSet) has(token string) bool {
	_, ok := s.ids[token]
	return ok
}

// segments calls fn for each run of plain text and each special token in
// text, in order. At equal offsets the longest special token wins.
func (s specialSet) segments(text string, fn func(seg string, special bool) error) error {
	for text != "" {
		at, match := -1, ""
		for _, sp := range s.longest {
			if i := strings.Index(text, sp); i >= 0 && (at < 0 || i < at) {
				at, match = i, sp
			}
		}
		if at < 0 {
			return fn(text, false)
		}
		if at > 0 {
			if err := fn(text[:at], false); err != nil {
				return err
			}
		}
		if err := fn(match, true); err != nil {
			return err
		}
		text = text[at+len(match):]
	}
	return nil
}

// byteAlphabet is the byte-level BPE table: printable Latin-1 bytes stand
// for themselves and the rest map to runes from U+0100 upwards, so any byte
// string round-trips through vocabulary entries.
type byteAlphabet struct {
	enc [256]rune
	dec map[rune]byte
}

func newByteAlphabet() *byteAlphabet {
	a := &byteAlphabet{dec: make(map[rune]byte, 256)}
	next := rune(256)
	for b := range 256 {
		r := rune(b)
		if !printableLatin1(b) {
			r = next
			next++
		}
		a.enc[b] = r
		a.dec[r] = byte(b)
	}
	return a
}

func printableLatin1(b int) bool {
	return (b >= '!' && b <= '~') || (b >= 0xA1 && b <= 0xAC) || (b >= 0xAE && b <= 0xFF)
}

func (a *byteAlphabet) encode(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		b.WriteRune(a.enc[s[i]])
	}
	return b.String()
}

// appendDecoded appends the bytes behind token. Runes outside the alphabet
// are kept as UTF-8.
func (a *byteAlphabet) appendDecoded(dst []byte, token string) []byte {
	for _, r := range token {
		if by, ok := a.dec[r]; ok {
			dst = append(dst, by)
		} else {
			dst = utf8.AppendRune(dst, r)
		}
	}
	return dst
}
