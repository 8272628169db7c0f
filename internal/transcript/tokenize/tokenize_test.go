package tokenize_test

import (
	"slices"
	"strings"
	"testing"

	"github.com/MrWong99/phonofix/internal/transcript/tokenize"
)

func texts(toks []tokenize.Token) []string {
	out := make([]string, len(toks))
	for i, t := range toks {
		out[i] = t.Text
	}
	return out
}

func TestTokenize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  []string
		kinds []tokenize.Kind
	}{
		{
			name:  "latin words",
			input: "open the minivan please",
			want:  []string{"open", "the", "minivan", "please"},
		},
		{
			name:  "cjk split per character",
			input: "今天张微来了",
			want:  []string{"今", "天", "张", "微", "来", "了"},
		},
		{
			name:  "mixed scripts and digits",
			input: "用iPhone15拍照",
			want:  []string{"用", "iPhone", "15", "拍", "照"},
			kinds: []tokenize.Kind{tokenize.CJK, tokenize.Latin, tokenize.Digit, tokenize.CJK, tokenize.CJK},
		},
		{
			name:  "inner apostrophe kept, punctuation split",
			input: "don't stop, 'quoted'",
			want:  []string{"don't", "stop", ",", "'", "quoted", "'"},
		},
		{
			name:  "full-width latin",
			input: "ＡＰＩ接口",
			want:  []string{"ＡＰＩ", "接", "口"},
			kinds: []tokenize.Kind{tokenize.Latin, tokenize.CJK, tokenize.CJK},
		},
		{
			name:  "accented word",
			input: "café au lait",
			want:  []string{"café", "au", "lait"},
		},
		{
			name:  "whitespace only",
			input: " \t\n ",
			want:  []string{},
		},
		{
			name:  "empty",
			input: "",
			want:  []string{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			toks := tokenize.Tokenize(tt.input)
			got := texts(toks)
			if !slices.Equal(got, tt.want) {
				t.Fatalf("Tokenize(%q) = %q, want %q", tt.input, got, tt.want)
			}
			for i, tok := range toks {
				if tt.input[tok.Start:tok.End] != tok.Text {
					t.Errorf("token %d: text[%d:%d]=%q, Text=%q", i, tok.Start, tok.End, tt.input[tok.Start:tok.End], tok.Text)
				}
				if tt.kinds != nil && tok.Kind != tt.kinds[i] {
					t.Errorf("token %d (%q): kind=%v, want %v", i, tok.Text, tok.Kind, tt.kinds[i])
				}
			}
		})
	}
}

func TestTokenize_Reconstruction(t *testing.T) {
	t.Parallel()

	for _, input := range []string{
		"open the  minivan please",
		"今天 张微,来了!",
		"AT&T 5G 网络 rock'n'roll",
	} {
		toks := tokenize.Tokenize(input)
		var b strings.Builder
		prev := 0
		for i, tok := range toks {
			if tok.Start < prev {
				t.Fatalf("%q: token %d overlaps previous (start %d < %d)", input, i, tok.Start, prev)
			}
			if gap := input[prev:tok.Start]; strings.TrimSpace(gap) != "" {
				t.Fatalf("%q: non-space gap %q before token %d", input, gap, i)
			}
			b.WriteString(tok.Text)
			prev = tok.End
		}
		if strings.TrimSpace(input[prev:]) != "" {
			t.Fatalf("%q: trailing text %q not covered", input, input[prev:])
		}
		want := strings.Join(strings.Fields(input), "")
		if b.String() != want {
			t.Errorf("%q: concatenated tokens %q, want %q", input, b.String(), want)
		}
	}
}

func TestCount(t *testing.T) {
	t.Parallel()

	tests := map[string]int{
		"Mini Map": 2,
		"张伟":       2,
		"AT&T":     3,
		"":         0,
		"GPT-4o":   4,
	}
	for in, want := range tests {
		if got := tokenize.Count(in); got != want {
			t.Errorf("Count(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestWindows(t *testing.T) {
	t.Parallel()

	text := "a b, c d"
	toks := tokenize.Tokenize(text) // a b , c d

	var got []string
	for w := range tokenize.Windows(toks, 1, 3) {
		got = append(got, w.Text(text))
		if w.Units() < 1 || w.Units() > 3 {
			t.Errorf("window %q has %d units", w.Text(text), w.Units())
		}
	}
	want := []string{
		"a", "a b", // "a b," ends on punct
		"b", "b, c",
		"c", "c d",
		"d",
	}
	if !slices.Equal(got, want) {
		t.Errorf("Windows = %q, want %q", got, want)
	}
}

func TestWindows_ClampsAndStops(t *testing.T) {
	t.Parallel()

	toks := tokenize.Tokenize("x y")
	n := 0
	for range tokenize.Windows(toks, 0, 10) {
		n++
	}
	if n != 3 {
		t.Errorf("Windows(0,10) yielded %d windows, want 3", n)
	}

	n = 0
	for range tokenize.Windows(toks, 1, 2) {
		n++
		break
	}
	if n != 1 {
		t.Errorf("early break yielded %d windows, want 1", n)
	}

	for w := range tokenize.Windows(nil, 1, 3) {
		t.Errorf("Windows(nil) yielded %+v", w)
	}
}

func TestKind_String(t *testing.T) {
	t.Parallel()

	if got := tokenize.CJK.String(); got != "cjk" {
		t.Errorf("CJK.String() = %q", got)
	}
	if k, ok := tokenize.Classify(' '); ok {
		t.Errorf("Classify(space) = %v, true; want ok=false", k)
	}
	if k, _ := tokenize.Classify('７'); k != tokenize.Digit {
		t.Errorf("Classify(full-width 7) = %v, want digit", k)
	}
}
