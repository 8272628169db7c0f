// Package rules implements a deterministic, table-driven
// [phonetic.Transcriber] for Mandarin and English.
//
// Han characters are read as numbered pinyin and expanded into initial and
// final IPA segments with one tone per syllable. A reading comes from the
// user lexicon, then the embedded table of preferred readings for
// characters with several pronunciations, then the go-pinyin dictionary. Latin words go
// through greedy longest-match grapheme rules and receive one stress per
// word: primary for content words, none for a short list of function words.
// All-uppercase words of two to six letters are treated as acronyms and
// spelled out letter by letter. Digits are read as English digit names.
//
// Input nothing covers (a Han character missing from the dictionary, Kana,
// Hangul, non-Latin alphabets) fails with an error wrapping
// [phonetic.ErrUnsupported].
package rules

import (
	"context"
	"embed"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"unicode"

	"github.com/mozillazg/go-pinyin"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"
	"gopkg.in/yaml.v3"

	"github.com/MrWong99/phonofix/internal/transcript/tokenize"
	"github.com/MrWong99/phonofix/pkg/phonetic"
	"github.com/MrWong99/phonofix/pkg/provider/g2p"
)

// Name is the registry name of this backend.
const Name = "rules"

//go:embed data/*.yaml
var tables embed.FS

// Lexicon holds user pronunciations that take precedence over the built-in
// tables.
type Lexicon struct {
	// Chars maps a single Han character to numbered pinyin, e.g. "伟": "wei3".
	Chars map[string]string `yaml:"chars"`

	// Words maps a lower-case Latin word to its IPA segments.
	Words map[string][]string `yaml:"words"`
}

// LoadLexicon reads a YAML [Lexicon] from path.
func LoadLexicon(path string) (Lexicon, error) {
	f, err := os.Open(path)
	if err != nil {
		return Lexicon{}, fmt.Errorf("rules: open lexicon: %w", err)
	}
	defer f.Close()

	var lex Lexicon
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&lex); err != nil {
		return Lexicon{}, fmt.Errorf("rules: decode lexicon %q: %w", path, err)
	}
	return lex, nil
}

// Option configures a [Transcriber].
type Option func(*Transcriber)

// WithInventory replaces the default feature inventory.
func WithInventory(inv *g2p.Inventory) Option {
	return func(t *Transcriber) { t.inv = inv }
}

// WithLexicon adds user pronunciations.
func WithLexicon(lex Lexicon) Option {
	return func(t *Transcriber) { t.lex = lex }
}

// WithLogger sets the logger used for table diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(t *Transcriber) { t.log = l }
}

// Transcriber is the rule-based backend. It is immutable after [New] and safe
// for concurrent use.
type Transcriber struct {
	inv *g2p.Inventory
	lex Lexicon
	log *slog.Logger

	mandarin  *mandarinTables
	syllables map[rune]syllable
	dict      pinyin.Args
	english   englishRules
}

// Compile-time interface check.
var _ phonetic.Transcriber = (*Transcriber)(nil)

// New parses the embedded tables, merges the lexicon and checks that every
// segment they produce exists in the feature inventory.
func New(opts ...Option) (*Transcriber, error) {
	t := &Transcriber{log: slog.Default()}
	for _, o := range opts {
		o(t)
	}
	if t.inv == nil {
		t.inv = g2p.DefaultInventory()
	}

	md, err := loadMandarin()
	if err != nil {
		return nil, err
	}
	if err := md.check(t.inv); err != nil {
		return nil, err
	}
	t.syllables, err = md.compile(t.lex.Chars)
	if err != nil {
		return nil, err
	}
	t.mandarin = md
	t.dict = pinyin.NewArgs()
	t.dict.Style = pinyin.Tone3

	t.english, err = loadEnglish()
	if err != nil {
		return nil, err
	}
	for w, segs := range t.lex.Words {
		if err := t.inv.Check(segs...); err != nil {
			return nil, fmt.Errorf("rules: lexicon word %q: %w", w, err)
		}
		t.english.words[strings.ToLower(w)] = segs
	}
	if err := t.english.check(t.inv); err != nil {
		return nil, err
	}

	t.log.Debug("rules transcriber ready",
		"han_overrides", len(t.syllables),
		"lexicon_words", len(t.lex.Words),
	)
	return t, nil
}

// Transcribe converts text into a representation. Punctuation and whitespace
// carry no phones and are dropped.
func (t *Transcriber) Transcribe(ctx context.Context, text string) (phonetic.Representation, error) {
	if err := ctx.Err(); err != nil {
		return phonetic.Representation{}, err
	}

	var (
		segs     []string
		tones    []int
		stresses []int
	)
	for _, tok := range tokenize.Tokenize(text) {
		switch tok.Kind {
		case tokenize.CJK:
			for _, r := range tok.Text {
				syl, err := t.reading(r)
				if err != nil {
					return phonetic.Representation{}, err
				}
				segs = append(segs, syl.segments...)
				tones = append(tones, syl.tone)
			}

		case tokenize.Latin:
			word, err := foldLatin(tok.Text)
			if err != nil {
				return phonetic.Representation{}, err
			}
			s, st := t.english.word(word)
			segs = append(segs, s...)
			stresses = append(stresses, st...)

		case tokenize.Digit:
			for _, r := range width.Narrow.String(tok.Text) {
				d, ok := t.english.digits[r]
				if !ok {
					return phonetic.Representation{}, fmt.Errorf("rules: no reading for digit %q: %w", r, phonetic.ErrUnsupported)
				}
				segs = append(segs, d...)
				stresses = append(stresses, phonetic.StressPrimary)
			}
		}
	}
	return t.inv.Represent(segs, tones, stresses)
}

// foldLatin narrows full-width letters, strips diacritics and rejects
// anything that is not an ASCII letter or apostrophe afterwards.
func foldLatin(s string) (string, error) {
	tr := transform.Chain(width.Narrow, norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(tr, strings.ReplaceAll(s, "’", "'"))
	if err != nil {
		return "", fmt.Errorf("rules: fold %q: %w", s, err)
	}
	for _, r := range out {
		if r > unicode.MaxASCII || !(unicode.IsLetter(r) || r == '\'') {
			return "", fmt.Errorf("rules: word %q: %w", s, phonetic.ErrUnsupported)
		}
	}
	return out, nil
}

func readTable(name string, v any) error {
	f, err := tables.Open("data/" + name)
	if err != nil {
		return fmt.Errorf("rules: open %s: %w", name, err)
	}
	defer f.Close()
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("rules: decode %s: %w", name, err)
	}
	return nil
}
