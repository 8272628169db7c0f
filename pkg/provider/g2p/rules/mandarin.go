package rules

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/mozillazg/go-pinyin"

	"github.com/MrWong99/phonofix/pkg/phonetic"
	"github.com/MrWong99/phonofix/pkg/provider/g2p"
)

type mandarinTables struct {
	Initials map[string][]string `yaml:"initials"`
	Finals   map[string][]string `yaml:"finals"`
	Apical   []string            `yaml:"apical"`
	Chars    map[string]string   `yaml:"chars"`
}

// syllable is one parsed Han reading.
type syllable struct {
	segments []string
	tone     int
}

func loadMandarin() (*mandarinTables, error) {
	var md mandarinTables
	if err := readTable("pinyin.yaml", &md); err != nil {
		return nil, err
	}
	return &md, nil
}

func (md *mandarinTables) check(inv *g2p.Inventory) error {
	for _, k := range slices.Sorted(maps.Keys(md.Initials)) {
		if err := inv.Check(md.Initials[k]...); err != nil {
			return fmt.Errorf("rules: initial %q: %w", k, err)
		}
	}
	for _, k := range slices.Sorted(maps.Keys(md.Finals)) {
		if err := inv.Check(md.Finals[k]...); err != nil {
			return fmt.Errorf("rules: final %q: %w", k, err)
		}
	}
	if err := inv.Check(md.Apical...); err != nil {
		return fmt.Errorf("rules: apical final: %w", err)
	}
	return nil
}

// compile parses every character reading, with overrides taking precedence.
func (md *mandarinTables) compile(overrides map[string]string) (map[rune]syllable, error) {
	out := make(map[rune]syllable, len(md.Chars)+len(overrides))
	add := func(ch, py string) error {
		r, size := utf8.DecodeRuneInString(ch)
		if size == 0 || size != len(ch) {
			return fmt.Errorf("rules: reading key %q must be a single character", ch)
		}
		syl, err := md.parse(py)
		if err != nil {
			return fmt.Errorf("rules: reading for %q: %w", ch, err)
		}
		out[r] = syl
		return nil
	}
	for ch, py := range md.Chars {
		if err := add(ch, py); err != nil {
			return nil, err
		}
	}
	for ch, py := range overrides {
		if err := add(ch, py); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// reading returns the syllable for one Han character. Lexicon and table
// readings win over the dictionary, whose first reading is used otherwise.
func (t *Transcriber) reading(r rune) (syllable, error) {
	if syl, ok := t.syllables[r]; ok {
		return syl, nil
	}
	readings := pinyin.SinglePinyin(r, t.dict)
	if len(readings) == 0 || readings[0] == "" {
		return syllable{}, fmt.Errorf("rules: no reading for %q: %w", r, phonetic.ErrUnsupported)
	}
	syl, err := t.mandarin.parse(readings[0])
	if err != nil {
		return syllable{}, fmt.Errorf("rules: reading %q for %q: %v: %w", readings[0], r, err, phonetic.ErrUnsupported)
	}
	return syl, nil
}

// parse converts one numbered-pinyin syllable such as "zhang1", "lv4" or
// "yuan2" into IPA segments and a tone. A missing tone digit means neutral.
func (md *mandarinTables) parse(py string) (syllable, error) {
	s := strings.ToLower(strings.TrimSpace(py))
	s = strings.NewReplacer("u:", "ü", "v", "ü").Replace(s)

	tone := phonetic.ToneNeutral
	if n := len(s); n > 0 && s[n-1] >= '1' && s[n-1] <= '5' {
		tone = int(s[n-1] - '0')
		s = s[:n-1]
	}
	if s == "" {
		return syllable{}, fmt.Errorf("empty pinyin syllable %q", py)
	}

	initial, final := splitSyllable(s, md.Initials)

	var segs []string
	segs = append(segs, md.Initials[initial]...)
	switch {
	case final == "i" && isApicalInitial(initial):
		segs = append(segs, md.Apical...)
	default:
		f, ok := md.Finals[final]
		if !ok {
			return syllable{}, fmt.Errorf("unknown final %q in pinyin %q", final, py)
		}
		segs = append(segs, f...)
	}
	return syllable{segments: segs, tone: tone}, nil
}

// splitSyllable separates the initial and rewrites the final into its
// underlying form: y/w spellings become i/u/ü, u after j/q/x is ü, and the
// abbreviated iu, ui and un are expanded.
func splitSyllable(s string, initials map[string][]string) (initial, final string) {
	switch {
	case strings.HasPrefix(s, "y"):
		rest := s[1:]
		switch {
		case strings.HasPrefix(rest, "u"):
			return "", "ü" + rest[1:]
		case strings.HasPrefix(rest, "i"):
			return "", rest
		default:
			return "", "i" + rest
		}
	case strings.HasPrefix(s, "w"):
		rest := s[1:]
		if strings.HasPrefix(rest, "u") {
			return "", rest
		}
		return "", "u" + rest
	}

	if len(s) >= 2 {
		if _, ok := initials[s[:2]]; ok {
			initial = s[:2]
		}
	}
	if initial == "" {
		if _, ok := initials[s[:1]]; ok && len(s) > 1 {
			initial = s[:1]
		}
	}
	final = s[len(initial):]

	if (initial == "j" || initial == "q" || initial == "x") && strings.HasPrefix(final, "u") {
		final = "ü" + final[1:]
	}
	if initial != "" {
		switch final {
		case "iu":
			final = "iou"
		case "ui":
			final = "uei"
		case "un":
			final = "uen"
		}
	}
	return initial, final
}

func isApicalInitial(initial string) bool {
	switch initial {
	case "z", "c", "s", "zh", "ch", "sh", "r":
		return true
	}
	return false
}
