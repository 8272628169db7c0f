package rules_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"testing"

	"github.com/MrWong99/phonofix/pkg/phonetic"
	"github.com/MrWong99/phonofix/pkg/provider/g2p/rules"
)

func newTranscriber(t *testing.T, opts ...rules.Option) *rules.Transcriber {
	t.Helper()
	tr, err := rules.New(opts...)
	if err != nil {
		t.Fatalf("rules.New: %v", err)
	}
	return tr
}

func TestTranscribe(t *testing.T) {
	t.Parallel()

	tr := newTranscriber(t)

	tests := []struct {
		input    string
		segments []string
		tones    []int
		stresses []int
	}{
		{input: "张伟", segments: []string{"tʂ", "a", "ŋ", "u", "e", "i"}, tones: []int{1, 3}},
		{input: "张微", segments: []string{"tʂ", "a", "ŋ", "u", "e", "i"}, tones: []int{1, 1}},
		{input: "美国", segments: []string{"m", "e", "i", "k", "u", "o"}, tones: []int{3, 2}},
		{input: "是", segments: []string{"ʂ", "ɨ"}, tones: []int{4}},
		{input: "绿", segments: []string{"l", "y"}, tones: []int{4}},
		{input: "学", segments: []string{"ɕ", "y", "e"}, tones: []int{2}},
		{input: "有", segments: []string{"i", "o", "u"}, tones: []int{3}},
		{input: "对", segments: []string{"t", "u", "e", "i"}, tones: []int{4}},
		{input: "了", segments: []string{"l", "ɤ"}, tones: []int{5}},
		{input: "minivan", segments: []string{"m", "ɪ", "n", "ɪ", "v", "æ", "n"}, stresses: []int{2}},
		{input: "Mini Map", segments: []string{"m", "ɪ", "n", "ɪ", "m", "æ", "p"}, stresses: []int{2, 2}},
		{input: "please", segments: []string{"p", "l", "i", "s"}, stresses: []int{2}},
		{input: "the", segments: []string{"θ", "ɛ"}, stresses: []int{0}},
		{input: "city", segments: []string{"s", "ɪ", "t", "ɪ"}, stresses: []int{2}},
		{input: "API", segments: []string{"e", "ɪ", "p", "i", "a", "ɪ"}, stresses: []int{2, 2, 2}},
		{input: "15", segments: []string{"w", "ʌ", "n", "f", "a", "ɪ", "v"}, stresses: []int{2, 2}},
		{input: "Ｍａｐ", segments: []string{"m", "æ", "p"}, stresses: []int{2}},
		{input: "don't!", segments: []string{"d", "ɑ", "n", "t"}, stresses: []int{2}},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()
			rep, err := tr.Transcribe(context.Background(), tt.input)
			if err != nil {
				t.Fatalf("Transcribe(%q): %v", tt.input, err)
			}
			if !slices.Equal(rep.Segments, tt.segments) {
				t.Errorf("Segments = %q, want %q", rep.Segments, tt.segments)
			}
			if !slices.Equal(rep.Tones, tt.tones) {
				t.Errorf("Tones = %v, want %v", rep.Tones, tt.tones)
			}
			if !slices.Equal(rep.Stresses, tt.stresses) {
				t.Errorf("Stresses = %v, want %v", rep.Stresses, tt.stresses)
			}
			if err := rep.Validate(); err != nil {
				t.Errorf("Validate: %v", err)
			}
			if len(rep.Features) != len(rep.Segments) {
				t.Errorf("len(Features) = %d, want %d", len(rep.Features), len(rep.Segments))
			}
		})
	}
}

func TestTranscribe_MixedScript(t *testing.T) {
	t.Parallel()

	tr := newTranscriber(t)
	rep, err := tr.Transcribe(context.Background(), "用 API 拍照")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if !slices.Equal(rep.Tones, []int{4, 1, 4}) {
		t.Errorf("Tones = %v, want [4 1 4]", rep.Tones)
	}
	if len(rep.Stresses) != 3 {
		t.Errorf("Stresses = %v, want one per acronym letter", rep.Stresses)
	}
}

func TestTranscribe_DictionaryReadings(t *testing.T) {
	t.Parallel()

	tr := newTranscriber(t)
	tests := []struct {
		input    string
		segments []string
		tones    []int
	}{
		{input: "朋", segments: []string{"pʰ", "ə", "ŋ"}, tones: []int{2}},
		{input: "龘", segments: []string{"t", "a"}, tones: []int{2}},
		{input: "我的朋友张微", tones: []int{3, 5, 2, 3, 1, 1}},
		{input: "女", segments: []string{"n", "y"}, tones: []int{3}},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()
			rep, err := tr.Transcribe(context.Background(), tt.input)
			if err != nil {
				t.Fatalf("Transcribe(%q): %v", tt.input, err)
			}
			if tt.segments != nil && !slices.Equal(rep.Segments, tt.segments) {
				t.Errorf("Segments = %q, want %q", rep.Segments, tt.segments)
			}
			if !slices.Equal(rep.Tones, tt.tones) {
				t.Errorf("Tones = %v, want %v", rep.Tones, tt.tones)
			}
		})
	}
}

func TestTranscribe_EmptyAndPunctuation(t *testing.T) {
	t.Parallel()

	tr := newTranscriber(t)
	for _, in := range []string{"", "   ", ",.!?"} {
		rep, err := tr.Transcribe(context.Background(), in)
		if err != nil {
			t.Fatalf("Transcribe(%q): %v", in, err)
		}
		if !rep.IsEmpty() {
			t.Errorf("Transcribe(%q) = %+v, want empty", in, rep)
		}
	}
}

func TestTranscribe_Unsupported(t *testing.T) {
	t.Parallel()

	tr := newTranscriber(t)
	for _, in := range []string{"カタカナ", "привет", "한국", "张カ"} {
		_, err := tr.Transcribe(context.Background(), in)
		if !errors.Is(err, phonetic.ErrUnsupported) {
			t.Errorf("Transcribe(%q) error = %v, want ErrUnsupported", in, err)
		}
	}
}

func TestTranscribe_Deterministic(t *testing.T) {
	t.Parallel()

	tr := newTranscriber(t)
	a, err := tr.Transcribe(context.Background(), "今天张微来了 open the minivan")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	b, _ := tr.Transcribe(context.Background(), "今天张微来了 open the minivan")
	if !reflect.DeepEqual(a, b) {
		t.Error("two transcriptions of the same text differ")
	}
}

func TestTranscribe_CancelledContext(t *testing.T) {
	t.Parallel()

	tr := newTranscriber(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := tr.Transcribe(ctx, "hello"); !errors.Is(err, context.Canceled) {
		t.Errorf("Transcribe error = %v, want context.Canceled", err)
	}
}

func TestLexicon(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "lexicon.yaml")
	data := "chars:\n  \"单\": shan4\nwords:\n  phonofix: [f, o, ʊ, n, o, ʊ, f, ɪ, k, s]\n"
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}
	lex, err := rules.LoadLexicon(path)
	if err != nil {
		t.Fatalf("LoadLexicon: %v", err)
	}
	tr := newTranscriber(t, rules.WithLexicon(lex))

	// The lexicon wins over the built-in reading dan1.
	rep, err := tr.Transcribe(context.Background(), "单")
	if err != nil {
		t.Fatalf("Transcribe(单): %v", err)
	}
	if !slices.Equal(rep.Segments, []string{"ʂ", "a", "n"}) || !slices.Equal(rep.Tones, []int{4}) {
		t.Errorf("Transcribe(单) = %q %v, want [ʂ a n] [4]", rep.Segments, rep.Tones)
	}

	rep, err = tr.Transcribe(context.Background(), "Phonofix")
	if err != nil {
		t.Fatalf("Transcribe(Phonofix): %v", err)
	}
	if len(rep.Segments) != 10 || rep.Segments[0] != "f" {
		t.Errorf("Transcribe(Phonofix) = %q, want lexicon pronunciation", rep.Segments)
	}
}

func TestNew_RejectsBadLexicon(t *testing.T) {
	t.Parallel()

	tests := map[string]rules.Lexicon{
		"unknown segment": {Words: map[string][]string{"x": {"ǂ"}}},
		"bad pinyin":      {Chars: map[string]string{"龘": "qx9"}},
		"multi-char key":  {Chars: map[string]string{"张伟": "zhang1"}},
	}
	for name, lex := range tests {
		if _, err := rules.New(rules.WithLexicon(lex)); err == nil {
			t.Errorf("%s: New succeeded, want error", name)
		}
	}
}

func TestIsAcronym(t *testing.T) {
	t.Parallel()

	tests := map[string]bool{
		"API":     true,
		"NASA":    true,
		"A":       false,
		"Api":     false,
		"TOOLONG": false,
	}
	for in, want := range tests {
		if got := rules.IsAcronym(in); got != want {
			t.Errorf("IsAcronym(%q) = %v, want %v", in, got, want)
		}
	}
}
