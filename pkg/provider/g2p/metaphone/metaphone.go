// Package metaphone implements a coarse [phonetic.Transcriber] for English
// that maps each word's Double Metaphone key onto IPA consonant segments.
//
// Double Metaphone keeps at most four consonant classes per word and drops
// non-initial vowels, so the result is a consonant skeleton: cheap, robust to
// spelling variation, and blind to vowel quality. It carries one primary
// stress per word and no tones. Non-Latin input is unsupported.
package metaphone

import (
	"context"
	"fmt"

	"github.com/antzucaro/matchr"

	"github.com/MrWong99/phonofix/internal/transcript/tokenize"
	"github.com/MrWong99/phonofix/pkg/phonetic"
	"github.com/MrWong99/phonofix/pkg/provider/g2p"
)

// Name is the registry name of this backend.
const Name = "metaphone"

// codes maps Double Metaphone key letters to IPA segments. "A" marks an
// initial vowel of unknown quality.
var codes = map[rune]string{
	'0': "θ",
	'A': "ə",
	'F': "f",
	'H': "h",
	'J': "dʒ",
	'K': "k",
	'L': "l",
	'M': "m",
	'N': "n",
	'P': "p",
	'R': "ɹ",
	'S': "s",
	'T': "t",
	'X': "ʃ",
}

// Option configures a [Transcriber].
type Option func(*Transcriber)

// WithAlternate selects the secondary Double Metaphone key, which favours
// non-English spellings (e.g. Germanic or Slavic names).
func WithAlternate() Option {
	return func(t *Transcriber) { t.alternate = true }
}

// WithInventory replaces the default feature inventory.
func WithInventory(inv *g2p.Inventory) Option {
	return func(t *Transcriber) { t.inv = inv }
}

// Transcriber is the Double Metaphone backend. It is safe for concurrent use.
type Transcriber struct {
	inv       *g2p.Inventory
	alternate bool
}

// Compile-time interface check.
var _ phonetic.Transcriber = (*Transcriber)(nil)

// New returns a Transcriber.
func New(opts ...Option) (*Transcriber, error) {
	t := &Transcriber{}
	for _, o := range opts {
		o(t)
	}
	if t.inv == nil {
		t.inv = g2p.DefaultInventory()
	}
	for _, seg := range codes {
		if err := t.inv.Check(seg); err != nil {
			return nil, fmt.Errorf("metaphone: %w", err)
		}
	}
	return t, nil
}

// Transcribe implements [phonetic.Transcriber].
func (t *Transcriber) Transcribe(ctx context.Context, text string) (phonetic.Representation, error) {
	if err := ctx.Err(); err != nil {
		return phonetic.Representation{}, err
	}
	var (
		segs     []string
		stresses []int
	)
	for _, tok := range tokenize.Tokenize(text) {
		switch tok.Kind {
		case tokenize.Punct:
			continue
		case tokenize.Latin:
		default:
			return phonetic.Representation{}, fmt.Errorf("metaphone: %s token %q: %w", tok.Kind, tok.Text, phonetic.ErrUnsupported)
		}

		primary, secondary := matchr.DoubleMetaphone(tok.Text)
		key := primary
		if t.alternate && secondary != "" {
			key = secondary
		}
		for _, c := range key {
			seg, ok := codes[c]
			if !ok {
				return phonetic.Representation{}, fmt.Errorf("metaphone: key %q of %q: %w", key, tok.Text, phonetic.ErrUnsupported)
			}
			segs = append(segs, seg)
		}
		stresses = append(stresses, phonetic.StressPrimary)
	}
	return t.inv.Represent(segs, nil, stresses)
}
