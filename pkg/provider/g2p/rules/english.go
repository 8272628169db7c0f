package rules

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/MrWong99/phonofix/pkg/phonetic"
	"github.com/MrWong99/phonofix/pkg/provider/g2p"
)

// Acronym length bounds, in letters.
const (
	acronymMin = 2
	acronymMax = 6
)

type englishFile struct {
	Graphemes     map[string][]string `yaml:"graphemes"`
	Soft          map[string][]string `yaml:"soft"`
	VowelY        []string            `yaml:"vowel_y"`
	FunctionWords []string            `yaml:"function_words"`
	Letters       map[string][]string `yaml:"letters"`
	Digits        map[string][]string `yaml:"digits"`
}

type englishRules struct {
	graphemes map[string][]string
	longest   int
	soft      map[byte][]string
	vowelY    []string
	function  map[string]bool
	letters   map[byte][]string
	digits    map[rune][]string
	words     map[string][]string
}

func loadEnglish() (englishRules, error) {
	var f englishFile
	if err := readTable("english.yaml", &f); err != nil {
		return englishRules{}, err
	}
	e := englishRules{
		graphemes: f.Graphemes,
		soft:      make(map[byte][]string, len(f.Soft)),
		vowelY:    f.VowelY,
		function:  make(map[string]bool, len(f.FunctionWords)),
		letters:   make(map[byte][]string, len(f.Letters)),
		digits:    make(map[rune][]string, len(f.Digits)),
		words:     make(map[string][]string),
	}
	for g := range f.Graphemes {
		e.longest = max(e.longest, len(g))
	}
	for k, v := range f.Soft {
		if len(k) != 1 {
			return englishRules{}, fmt.Errorf("rules: soft rule key %q must be one letter", k)
		}
		e.soft[k[0]] = v
	}
	for _, w := range f.FunctionWords {
		e.function[w] = true
	}
	for k, v := range f.Letters {
		if len(k) != 1 {
			return englishRules{}, fmt.Errorf("rules: letter key %q must be one letter", k)
		}
		e.letters[k[0]] = v
	}
	for k, v := range f.Digits {
		r, size := utf8.DecodeRuneInString(k)
		if size != len(k) {
			return englishRules{}, fmt.Errorf("rules: digit key %q must be one digit", k)
		}
		e.digits[r] = v
	}
	return e, nil
}

func (e englishRules) check(inv *g2p.Inventory) error {
	for _, k := range slices.Sorted(maps.Keys(e.graphemes)) {
		if err := inv.Check(e.graphemes[k]...); err != nil {
			return fmt.Errorf("rules: grapheme %q: %w", k, err)
		}
	}
	for _, segs := range [][]string{e.vowelY, e.soft['c'], e.soft['g']} {
		if err := inv.Check(segs...); err != nil {
			return fmt.Errorf("rules: english rule: %w", err)
		}
	}
	for k, segs := range e.letters {
		if err := inv.Check(segs...); err != nil {
			return fmt.Errorf("rules: letter %q: %w", k, err)
		}
	}
	for k, segs := range e.digits {
		if err := inv.Check(segs...); err != nil {
			return fmt.Errorf("rules: digit %q: %w", k, err)
		}
	}
	return nil
}

// word transcribes one folded ASCII word and returns its segments and
// stresses. raw keeps the original case for acronym detection.
func (e englishRules) word(raw string) ([]string, []int) {
	w := strings.ReplaceAll(raw, "'", "")
	if isAcronym(w) {
		return e.spell(strings.ToLower(w))
	}
	w = strings.ToLower(w)

	stress := phonetic.StressPrimary
	if e.function[w] {
		stress = phonetic.StressNone
	}
	if segs, ok := e.words[w]; ok {
		return slices.Clone(segs), []int{stress}
	}
	return e.graphemesOf(w), []int{stress}
}

// IsAcronym reports whether w is spelled out letter by letter: two to six
// letters, all upper-case ASCII.
func IsAcronym(w string) bool {
	return isAcronym(strings.ReplaceAll(w, "'", ""))
}

func isAcronym(w string) bool {
	if len(w) < acronymMin || len(w) > acronymMax {
		return false
	}
	for i := range len(w) {
		if w[i] < 'A' || w[i] > 'Z' {
			return false
		}
	}
	return true
}

func (e englishRules) spell(w string) ([]string, []int) {
	var segs []string
	stresses := make([]int, 0, len(w))
	for i := range len(w) {
		segs = append(segs, e.letters[w[i]]...)
		stresses = append(stresses, phonetic.StressPrimary)
	}
	return segs, stresses
}

func isVowelLetter(b byte) bool {
	switch b {
	case 'a', 'e', 'i', 'o', 'u':
		return true
	}
	return false
}

// graphemesOf applies the greedy longest-match rules to a lower-case word.
func (e englishRules) graphemesOf(w string) []string {
	var segs []string
	for i := 0; i < len(w); {
		// Silent final e after a consonant in words longer than three letters.
		if i == len(w)-1 && w[i] == 'e' && len(w) > 3 && !isVowelLetter(w[i-1]) {
			break
		}
		if i > 0 && w[i] == 'y' {
			segs = append(segs, e.vowelY...)
			i++
			continue
		}
		if soft, ok := e.soft[w[i]]; ok && i+1 < len(w) && strings.IndexByte("eiy", w[i+1]) >= 0 {
			segs = append(segs, soft...)
			i++
			continue
		}

		matched := false
		for n := min(e.longest, len(w)-i); n > 0; n-- {
			if g, ok := e.graphemes[w[i:i+n]]; ok {
				segs = append(segs, g...)
				i += n
				matched = true
				break
			}
		}
		if !matched {
			// Every ASCII letter has a single-letter rule; skip anything else.
			i++
		}
	}
	return segs
}
