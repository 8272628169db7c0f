// Package g2p holds what every grapheme-to-phoneme backend shares: the
// articulatory feature inventory that turns IPA segments into feature
// vectors, and helpers for assembling a [phonetic.Representation].
//
// Backends live in sub-packages:
//
//   - rules: deterministic table-driven transcriber for Mandarin (pinyin with
//     tones) and English (grapheme rules with word stress, acronym spelling).
//   - metaphone: coarse English consonant skeleton via Double Metaphone.
//   - mock: map-backed transcriber for tests.
//
// All backends implement [phonetic.Transcriber].
package g2p

import (
	_ "embed"
	"fmt"
	"io"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/phonofix/pkg/phonetic"
)

//go:embed phones.yaml
var defaultInventory []byte

type inventoryFile struct {
	Features []string            `yaml:"features"`
	Phones   map[string][]string `yaml:"phones"`
}

// Inventory maps IPA segments to fixed-length ±1 feature vectors.
// An Inventory is immutable after construction and safe for concurrent use.
type Inventory struct {
	names    []string
	features map[string][]float64
}

// DefaultInventory parses the embedded feature table. The table ships with the
// binary, so a parse failure is a build defect and panics.
func DefaultInventory() *Inventory {
	inv, err := ParseInventory(defaultInventory)
	if err != nil {
		panic(fmt.Sprintf("g2p: embedded inventory: %v", err))
	}
	return inv
}

// LoadInventory reads an inventory in the phones.yaml format from r.
func LoadInventory(r io.Reader) (*Inventory, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("g2p: read inventory: %w", err)
	}
	return ParseInventory(data)
}

// ParseInventory parses an inventory in the phones.yaml format.
func ParseInventory(data []byte) (*Inventory, error) {
	var f inventoryFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("g2p: parse inventory: %w", err)
	}
	if len(f.Features) == 0 {
		return nil, fmt.Errorf("g2p: parse inventory: no features declared")
	}
	index := make(map[string]int, len(f.Features))
	for i, name := range f.Features {
		if _, dup := index[name]; dup {
			return nil, fmt.Errorf("g2p: parse inventory: feature %q declared twice", name)
		}
		index[name] = i
	}

	inv := &Inventory{
		names:    slices.Clone(f.Features),
		features: make(map[string][]float64, len(f.Phones)),
	}
	for phone, plus := range f.Phones {
		vec := make([]float64, len(f.Features))
		for i := range vec {
			vec[i] = -1
		}
		for _, name := range plus {
			i, ok := index[name]
			if !ok {
				return nil, fmt.Errorf("g2p: parse inventory: phone %q: unknown feature %q", phone, name)
			}
			vec[i] = 1
		}
		inv.features[phone] = vec
	}
	return inv, nil
}

// FeatureNames returns the feature names in vector order.
func (inv *Inventory) FeatureNames() []string {
	return slices.Clone(inv.names)
}

// Has reports whether seg is in the inventory.
func (inv *Inventory) Has(seg string) bool {
	_, ok := inv.features[seg]
	return ok
}

// Features returns the feature vector of seg. The returned slice must not be
// modified.
func (inv *Inventory) Features(seg string) ([]float64, bool) {
	v, ok := inv.features[seg]
	return v, ok
}

// Represent attaches feature vectors to segs and returns the assembled
// representation. A segment missing from the inventory yields an error
// wrapping [phonetic.ErrUnsupported].
func (inv *Inventory) Represent(segs []string, tones, stresses []int) (phonetic.Representation, error) {
	feats := make([][]float64, len(segs))
	for i, s := range segs {
		v, ok := inv.features[s]
		if !ok {
			return phonetic.Representation{}, fmt.Errorf("g2p: segment %q: %w", s, phonetic.ErrUnsupported)
		}
		feats[i] = v
	}
	return phonetic.Representation{
		Segments: segs,
		Features: feats,
		Tones:    tones,
		Stresses: stresses,
	}, nil
}

// Check returns an error naming the first segment in segs that is not in the
// inventory. Backends call it at construction time to validate their tables.
func (inv *Inventory) Check(segs ...string) error {
	for _, s := range segs {
		if !inv.Has(s) {
			return fmt.Errorf("g2p: segment %q is not in the feature inventory", s)
		}
	}
	return nil
}
