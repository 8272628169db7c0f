// Package tokenize splits transcript text into atomic units and enumerates
// contiguous windows of those units.
//
// A unit is one CJK character, one maximal run of alphabetic characters (a
// Latin-script word, including combining marks and inner apostrophes), one
// maximal run of digits, or one other non-space character (punctuation,
// symbols). Whitespace separates units and is never part of one.
//
// Offsets are half-open byte offsets into the original string, so
// text[tok.Start:tok.End] == tok.Text always holds. Full-width Latin letters
// and digits are folded to their ASCII forms for classification only.
package tokenize

import (
	"iter"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/width"
)

// Kind classifies a token.
type Kind int

// Kind values.
const (
	Punct Kind = iota
	CJK
	Latin
	Digit
)

// String returns the lower-case kind name.
func (k Kind) String() string {
	switch k {
	case CJK:
		return "cjk"
	case Latin:
		return "latin"
	case Digit:
		return "digit"
	default:
		return "punct"
	}
}

// Token is one unit of text.
type Token struct {
	Text  string `json:"text"`
	Kind  Kind   `json:"kind"`
	Start int    `json:"start"`
	End   int    `json:"end"`
}

// space marks whitespace in Classify's result; it is never a token kind.
const space Kind = -1

// Classify returns the kind of a single rune after width folding. The second
// result is false for whitespace.
func Classify(r rune) (Kind, bool) {
	k := classify(r)
	return k, k != space
}

func classify(r rune) Kind {
	if n := width.LookupRune(r).Narrow(); n != 0 {
		r = n
	}
	switch {
	case unicode.IsSpace(r):
		return space
	case unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul):
		return CJK
	case unicode.IsDigit(r):
		return Digit
	case unicode.IsLetter(r) || unicode.Is(unicode.Mn, r):
		return Latin
	default:
		return Punct
	}
}

func isApostrophe(r rune) bool {
	return r == '\'' || r == '’' || r == '＇'
}

// Tokenize splits text into tokens. Every non-whitespace rune of text is
// covered by exactly one token and tokens are returned in text order.
func Tokenize(text string) []Token {
	var toks []Token
	i := 0
	for i < len(text) {
		r, size := utf8.DecodeRuneInString(text[i:])
		k := classify(r)
		switch k {
		case space:
			i += size
			continue
		case CJK, Punct:
			toks = append(toks, Token{Text: text[i : i+size], Kind: k, Start: i, End: i + size})
			i += size
			continue
		}

		start := i
		i += size
		for i < len(text) {
			r, size := utf8.DecodeRuneInString(text[i:])
			if classify(r) == k {
				i += size
				continue
			}
			// An apostrophe between two letters stays inside the word.
			if k == Latin && isApostrophe(r) && i+size < len(text) {
				next, _ := utf8.DecodeRuneInString(text[i+size:])
				if classify(next) == Latin {
					i += size
					continue
				}
			}
			break
		}
		toks = append(toks, Token{Text: text[start:i], Kind: k, Start: start, End: i})
	}
	return toks
}

// Count returns the number of tokens in text.
func Count(text string) int {
	return len(Tokenize(text))
}

// Window is a contiguous token range tokens[First..Last] (inclusive) and the
// byte span [Start, End) it covers in the original text, including any inner
// whitespace.
type Window struct {
	First int
	Last  int
	Start int
	End   int
}

// Units returns the number of tokens in the window.
func (w Window) Units() int { return w.Last - w.First + 1 }

// Text returns the original substring covered by w.
func (w Window) Text(text string) string { return text[w.Start:w.End] }

// Windows yields every contiguous window of tokens whose length lies in
// [minLen, maxLen], ordered by first token then by length. minLen is raised to
// 1 and maxLen is capped at len(tokens). Windows that begin or end on a
// Punct token are skipped; punctuation may only appear inside a window.
func Windows(tokens []Token, minLen, maxLen int) iter.Seq[Window] {
	minLen = max(minLen, 1)
	maxLen = min(maxLen, len(tokens))
	return func(yield func(Window) bool) {
		for first := range tokens {
			if tokens[first].Kind == Punct {
				continue
			}
			for n := minLen; n <= maxLen && first+n <= len(tokens); n++ {
				last := first + n - 1
				if tokens[last].Kind == Punct {
					continue
				}
				w := Window{First: first, Last: last, Start: tokens[first].Start, End: tokens[last].End}
				if !yield(w) {
					return
				}
			}
		}
	}
}
