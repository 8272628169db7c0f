package transcript_test

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/MrWong99/phonofix/internal/transcript"
	"github.com/MrWong99/phonofix/pkg/phonetic"
	"github.com/MrWong99/phonofix/pkg/phonetic/distance"
	"github.com/MrWong99/phonofix/pkg/provider/g2p/mock"
	"github.com/MrWong99/phonofix/pkg/provider/g2p/rules"
)

func newRules(t *testing.T) phonetic.Transcriber {
	t.Helper()
	tr, err := rules.New()
	if err != nil {
		t.Fatalf("rules.New: %v", err)
	}
	return tr
}

func newCalc(t *testing.T, cfg distance.Config) *distance.Calculator {
	t.Helper()
	calc, err := distance.New(cfg)
	if err != nil {
		t.Fatalf("distance.New: %v", err)
	}
	return calc
}

func newCorrector(t *testing.T, tr phonetic.Transcriber, calc transcript.Scorer, entries []transcript.Entry, opts ...transcript.Option) *transcript.Corrector {
	t.Helper()
	c, err := transcript.NewCorrector(context.Background(), tr, calc, entries, opts...)
	if err != nil {
		t.Fatalf("NewCorrector: %v", err)
	}
	return c
}

func correct(t *testing.T, c *transcript.Corrector, text string) *transcript.Result {
	t.Helper()
	res, err := c.Correct(context.Background(), text)
	if err != nil {
		t.Fatalf("Correct(%q): %v", text, err)
	}
	if res.Applied == nil {
		t.Fatalf("Correct(%q): Applied is nil, want non-nil", text)
	}
	return res
}

func TestCorrect_UnrelatedTextUnchanged(t *testing.T) {
	t.Parallel()

	c := newCorrector(t, newRules(t), newCalc(t, distance.DefaultConfig()),
		[]transcript.Entry{{Canonical: "美国", Language: "zh"}})

	res := correct(t, c, "mango is great")
	if res.Text != "mango is great" {
		t.Errorf("Text = %q, want input unchanged", res.Text)
	}
	if len(res.Applied) != 0 {
		t.Errorf("Applied = %+v, want none", res.Applied)
	}
	if res.Evaluated == 0 {
		t.Error("Evaluated = 0, want windows to have been scored")
	}
}

func TestCorrect_EnglishSoundAlike(t *testing.T) {
	t.Parallel()

	c := newCorrector(t, newRules(t), newCalc(t, distance.DefaultConfig()),
		[]transcript.Entry{{Canonical: "Mini Map", Language: "en"}})

	res := correct(t, c, "open the minivan please")
	if res.Text != "open the Mini Map please" {
		t.Errorf("Text = %q, want %q", res.Text, "open the Mini Map please")
	}
	if len(res.Applied) != 1 {
		t.Fatalf("Applied = %+v, want exactly one correction", res.Applied)
	}
	got := res.Applied[0]
	if got.Original != "minivan" || got.Replacement != "Mini Map" || got.Start != 9 || got.End != 16 {
		t.Errorf("Applied[0] = %+v, want minivan [9,16) -> Mini Map", got)
	}
	if got.Score <= 0 || got.Score > transcript.DefaultThreshold {
		t.Errorf("Score = %v, want in (0, %v]", got.Score, transcript.DefaultThreshold)
	}
	if got.Language != "en" || got.EntryIndex != 0 {
		t.Errorf("Language=%q EntryIndex=%d, want en/0", got.Language, got.EntryIndex)
	}
	if got.Score != got.Breakdown.Total {
		t.Errorf("Score %v != Breakdown.Total %v", got.Score, got.Breakdown.Total)
	}
}

func TestCorrect_MandarinToneConfusion(t *testing.T) {
	t.Parallel()

	c := newCorrector(t, newRules(t), newCalc(t, distance.DefaultConfig()),
		[]transcript.Entry{{Canonical: "张伟", Language: "zh"}},
		transcript.WithThreshold(0.2))

	res := correct(t, c, "今天张微来了")
	if res.Text != "今天张伟来了" {
		t.Errorf("Text = %q, want %q", res.Text, "今天张伟来了")
	}
	if len(res.Applied) != 1 {
		t.Fatalf("Applied = %+v, want exactly one correction", res.Applied)
	}
	got := res.Applied[0]
	if got.Start != 2 || got.End != 4 || got.Original != "张微" {
		t.Errorf("Applied[0] = %+v, want 张微 at characters [2,4)", got)
	}
	if got.Breakdown.Segment != 0 || got.Breakdown.Tone <= 0 {
		t.Errorf("Breakdown = %+v, want zero segment distance and positive tone distance", got.Breakdown)
	}
}

func TestCorrect_ReadsEveryHanCharacter(t *testing.T) {
	t.Parallel()

	c := newCorrector(t, newRules(t), newCalc(t, distance.DefaultConfig()),
		[]transcript.Entry{{Canonical: "张伟", Language: "zh"}})

	res := correct(t, c, "我的朋友张微说你好")
	if res.Text != "我的朋友张伟说你好" {
		t.Errorf("Text = %q, want %q", res.Text, "我的朋友张伟说你好")
	}
	if res.Skipped != 0 {
		t.Errorf("Skipped = %d, want 0", res.Skipped)
	}
	if len(res.Applied) != 1 || res.Applied[0].Start != 4 || res.Applied[0].End != 6 {
		t.Errorf("Applied = %+v, want 张微 at characters [4,6)", res.Applied)
	}
}

func TestCorrect_ScoreFollowsToneConfusionCost(t *testing.T) {
	t.Parallel()

	tr := newRules(t)
	prev := 2.0
	for _, cost := range []float64{1.0, 0.8, 0.5, 0.2} {
		cfg := distance.DefaultConfig()
		cfg.Tone.Confusion = map[distance.TonePair]float64{{1, 3}: cost}
		c := newCorrector(t, tr, newCalc(t, cfg),
			[]transcript.Entry{{Canonical: "张伟"}},
			transcript.WithThreshold(0.2))

		res := correct(t, c, "今天张微来了")
		var score float64 = -1
		for _, a := range res.Applied {
			if a.Start == 2 && a.End == 4 {
				score = a.Score
			}
		}
		if score < 0 {
			t.Fatalf("cost %v: no correction at [2,4), Applied = %+v", cost, res.Applied)
		}
		if score >= prev {
			t.Errorf("cost %v: score %v, want strictly less than %v", cost, score, prev)
		}
		prev = score
	}
}

func TestCorrect_RequireToneMatch(t *testing.T) {
	t.Parallel()

	c := newCorrector(t, newRules(t), newCalc(t, distance.DefaultConfig()),
		[]transcript.Entry{{Canonical: "张伟"}},
		transcript.WithThreshold(0.2),
		transcript.WithRequireToneMatch(true))

	res := correct(t, c, "今天张微来了")
	if res.Text != "今天张微来了" || len(res.Applied) != 0 {
		t.Errorf("Correct = %q %+v, want no correction when tones differ", res.Text, res.Applied)
	}
}

func TestCorrect_IdempotentOnCleanText(t *testing.T) {
	t.Parallel()

	c := newCorrector(t, newRules(t), newCalc(t, distance.DefaultConfig()),
		[]transcript.Entry{{Canonical: "Mini Map"}, {Canonical: "张伟"}})

	for _, text := range []string{"open the Mini Map please", "今天张伟来了"} {
		res := correct(t, c, text)
		if res.Text != text {
			t.Errorf("Correct(%q) = %q, want unchanged", text, res.Text)
		}
		if len(res.Applied) != 0 {
			t.Errorf("Correct(%q): Applied = %+v, want none", text, res.Applied)
		}
	}

	first := correct(t, c, "open the minivan please")
	second := correct(t, c, first.Text)
	if second.Text != first.Text || len(second.Applied) != 0 {
		t.Errorf("second pass = %q %+v, want %q with no corrections", second.Text, second.Applied, first.Text)
	}
}

func TestCorrect_OrdinarySentencesUnchanged(t *testing.T) {
	t.Parallel()

	tr := newRules(t)
	calc := newCalc(t, distance.DefaultConfig())
	tests := []struct {
		name  string
		terms []string
		texts []string
	}{
		{
			name:  "mixed terms",
			terms: []string{"Kubernetes", "PostgreSQL", "Mini Map", "NASA", "GitHub"},
			texts: []string{
				"the meeting starts at nine",
				"she likes to read books",
				"my brother has a red car",
				"we went to the park yesterday",
				"please send me the report by friday",
				"can you open the window",
				"the dog ran across the street",
				"put the keys on the table",
				"give me a minute",
			},
		},
		{
			name:  "acronym",
			terms: []string{"NASA"},
			texts: []string{"call 123 now", "the USB port", "I saw an ad", "a nice day"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var entries []transcript.Entry
			for _, term := range tt.terms {
				entries = append(entries, transcript.Entry{Canonical: term})
			}
			c := newCorrector(t, tr, calc, entries)
			for _, text := range tt.texts {
				res := correct(t, c, text)
				if res.Text != text || len(res.Applied) != 0 {
					t.Errorf("Correct(%q) = %q %+v, want unchanged", text, res.Text, res.Applied)
				}
			}
		})
	}
}

func TestCorrect_EnglishMishearings(t *testing.T) {
	t.Parallel()

	c := newCorrector(t, newRules(t), newCalc(t, distance.DefaultConfig()), []transcript.Entry{
		{Canonical: "Kubernetes"},
		{Canonical: "PostgreSQL"},
		{Canonical: "Mini Map"},
		{Canonical: "NASA"},
		{Canonical: "GitHub"},
	})
	tests := []struct {
		text, want string
	}{
		{"open the minivan please", "open the Mini Map please"},
		{"deploy it on cooper netties", "deploy it on Kubernetes"},
		{"we pushed it to git hub", "we pushed it to GitHub"},
	}
	for _, tt := range tests {
		res := correct(t, c, tt.text)
		if res.Text != tt.want {
			t.Errorf("Correct(%q) = %q, want %q", tt.text, res.Text, tt.want)
		}
	}
}

func TestCorrect_EmptyKnowledgeBaseAndBlankText(t *testing.T) {
	t.Parallel()

	tr := &mock.Transcriber{}
	empty := newCorrector(t, tr, newCalc(t, distance.DefaultConfig()), nil)
	res := correct(t, empty, "anything at all")
	if res.Text != "anything at all" || len(res.Applied) != 0 || res.Evaluated != 0 {
		t.Errorf("empty KB: %+v, want unchanged text and no work", res)
	}
	if len(tr.Calls) != 0 {
		t.Errorf("transcriber called %d times, want 0", len(tr.Calls))
	}

	tr2 := &mock.Transcriber{Reps: map[string]phonetic.Representation{
		"foo": {Segments: []string{"f", "u"}},
	}}
	c := newCorrector(t, tr2, newCalc(t, distance.DefaultConfig()), []transcript.Entry{{Canonical: "foo"}})
	for _, text := range []string{"", "   \n\t"} {
		res := correct(t, c, text)
		if res.Text != text || len(res.Applied) != 0 {
			t.Errorf("Correct(%q) = %+v, want unchanged", text, res)
		}
	}
}

func TestCorrect_TranscriptionFailuresSkipped(t *testing.T) {
	t.Parallel()

	fu := phonetic.Representation{Segments: []string{"f", "u"}}
	tr := &mock.Transcriber{Reps: map[string]phonetic.Representation{
		"fu":  fu,
		"foo": fu,
	}}
	c := newCorrector(t, tr, newCalc(t, distance.DefaultConfig()), []transcript.Entry{{Canonical: "fu"}})

	res := correct(t, c, "foo bar baz")
	if res.Text != "fu bar baz" {
		t.Errorf("Text = %q, want %q", res.Text, "fu bar baz")
	}
	// Windows of 1..2 units: foo, foo bar, bar, bar baz, baz. Only "foo" is
	// transcribable.
	if res.Skipped != 4 {
		t.Errorf("Skipped = %d, want 4", res.Skipped)
	}
	if res.Evaluated != 1 {
		t.Errorf("Evaluated = %d, want 1", res.Evaluated)
	}
}

func TestCorrect_AliasMatchesReplaceWithCanonical(t *testing.T) {
	t.Parallel()

	tr := &mock.Transcriber{Reps: map[string]phonetic.Representation{
		"Zed": {Segments: []string{"z", "ɛ", "d"}},
		"zee": {Segments: []string{"z", "i"}},
	}}
	c := newCorrector(t, tr, newCalc(t, distance.DefaultConfig()),
		[]transcript.Entry{{Canonical: "Zed", Aliases: []string{"zee"}}})

	res := correct(t, c, "say zee now")
	if res.Text != "say Zed now" {
		t.Errorf("Text = %q, want %q", res.Text, "say Zed now")
	}
	if len(res.Applied) != 1 || res.Applied[0].Score != 0 {
		t.Errorf("Applied = %+v, want one exact alias match", res.Applied)
	}
}

func TestNewCorrector_PrecomputedRepresentation(t *testing.T) {
	t.Parallel()

	tr := &mock.Transcriber{Reps: map[string]phonetic.Representation{
		"kat": {Segments: []string{"k", "a", "t"}},
	}}
	rep := phonetic.Representation{Segments: []string{"k", "a", "t"}}
	c := newCorrector(t, tr, newCalc(t, distance.DefaultConfig()),
		[]transcript.Entry{{Canonical: "Cat", Rep: &rep, Units: 1}})

	if tr.CallCount("Cat") != 0 {
		t.Errorf("canonical transcribed %d times, want 0 with precomputed Rep", tr.CallCount("Cat"))
	}
	res := correct(t, c, "a kat")
	if res.Text != "a Cat" {
		t.Errorf("Text = %q, want %q", res.Text, "a Cat")
	}
}

func TestNewCorrector_SkipsUntranscribableEntries(t *testing.T) {
	t.Parallel()

	c := newCorrector(t, newRules(t), newCalc(t, distance.DefaultConfig()),
		[]transcript.Entry{{Canonical: "한국"}, {Canonical: "  "}, {Canonical: "Mini Map"}})

	if c.SkippedEntries() != 2 {
		t.Errorf("SkippedEntries = %d, want 2", c.SkippedEntries())
	}
	if c.Len() != 1 {
		t.Errorf("Len = %d, want 1", c.Len())
	}
	if len(c.Entries()) != 3 {
		t.Errorf("Entries() has %d entries, want 3", len(c.Entries()))
	}
	// Entry indices still refer to the full list.
	res := correct(t, c, "the minivan")
	if len(res.Applied) != 1 || res.Applied[0].EntryIndex != 2 {
		t.Errorf("Applied = %+v, want one correction for entry 2", res.Applied)
	}
}

func TestNewCorrector_ConfigErrors(t *testing.T) {
	t.Parallel()

	tr := &mock.Transcriber{}
	calc := newCalc(t, distance.DefaultConfig())
	tests := []struct {
		name   string
		tr     phonetic.Transcriber
		scorer transcript.Scorer
		opts   []transcript.Option
	}{
		{name: "nil transcriber", scorer: calc},
		{name: "nil scorer", tr: tr},
		{name: "negative threshold", tr: tr, scorer: calc, opts: []transcript.Option{transcript.WithThreshold(-0.1)}},
		{name: "negative radius", tr: tr, scorer: calc, opts: []transcript.Option{transcript.WithWindowRadius(-1)}},
		{name: "negative budget", tr: tr, scorer: calc, opts: []transcript.Option{transcript.WithMaxWindows(-5)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := transcript.NewCorrector(context.Background(), tt.tr, tt.scorer, nil, tt.opts...)
			if !errors.Is(err, transcript.ErrInvalidConfig) {
				t.Errorf("NewCorrector error = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestCorrect_BudgetTruncates(t *testing.T) {
	t.Parallel()

	c := newCorrector(t, newRules(t), newCalc(t, distance.DefaultConfig()),
		[]transcript.Entry{{Canonical: "Mini Map"}},
		transcript.WithMaxWindows(3))

	res := correct(t, c, "open the minivan please")
	if !res.Truncated {
		t.Error("Truncated = false, want true")
	}
	if res.Evaluated != 3 {
		t.Errorf("Evaluated = %d, want 3", res.Evaluated)
	}
}

func TestCorrect_ContextCancelled(t *testing.T) {
	t.Parallel()

	c := newCorrector(t, newRules(t), newCalc(t, distance.DefaultConfig()),
		[]transcript.Entry{{Canonical: "Mini Map"}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.Correct(ctx, "open the minivan please"); !errors.Is(err, context.Canceled) {
		t.Errorf("Correct error = %v, want context.Canceled", err)
	}
}

func TestCorrect_WorkersDoNotChangeResult(t *testing.T) {
	t.Parallel()

	tr := newRules(t)
	calc := newCalc(t, distance.DefaultConfig())
	entries := []transcript.Entry{
		{Canonical: "Mini Map"},
		{Canonical: "张伟"},
		{Canonical: "美国"},
		{Canonical: "API"},
		{Canonical: "city"},
	}
	text := "open the minivan please, 今天张微来了 and the citty API is down"

	seq := correct(t, newCorrector(t, tr, calc, entries), text)
	par := correct(t, newCorrector(t, tr, calc, entries, transcript.WithWorkers(4)), text)
	if !reflect.DeepEqual(seq, par) {
		t.Errorf("sequential and parallel results differ:\nseq=%+v\npar=%+v", seq, par)
	}
}
