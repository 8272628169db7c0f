package distance_test

import (
	"errors"
	"math"
	"slices"
	"testing"

	"github.com/MrWong99/phonofix/pkg/phonetic"
	"github.com/MrWong99/phonofix/pkg/phonetic/distance"
)

const eps = 1e-9

func approx(a, b float64) bool { return math.Abs(a-b) < eps }

// Small binary feature vectors; only relative geometry matters here.
var (
	fM = []float64{1, 1, -1, 1}
	fI = []float64{-1, 1, 1, -1}
	fN = []float64{1, 1, 1, 1}
	fV = []float64{1, -1, -1, 1}
	fP = []float64{1, -1, -1, -1}
	fA = []float64{-1, 1, 1, 1}
)

func rep(segs []string, feats [][]float64, tones, stresses []int) phonetic.Representation {
	return phonetic.Representation{Segments: segs, Features: feats, Tones: tones, Stresses: stresses}
}

var (
	minivan = rep(
		[]string{"m", "ɪ", "n", "ɪ", "v", "æ", "n"},
		[][]float64{fM, fI, fN, fI, fV, fA, fN},
		nil, []int{2},
	)
	miniMap = rep(
		[]string{"m", "ɪ", "n", "ɪ", "m", "æ", "p"},
		[][]float64{fM, fI, fN, fI, fM, fA, fP},
		nil, []int{2, 2},
	)
	zhangWei = rep(
		[]string{"ʈʂ", "a", "ŋ", "w", "e", "i"},
		[][]float64{fP, fA, fN, fV, fI, fI},
		[]int{1, 3}, nil,
	)
	zhangWei1 = rep(
		[]string{"ʈʂ", "a", "ŋ", "w", "e", "i"},
		[][]float64{fP, fA, fN, fV, fI, fI},
		[]int{1, 1}, nil,
	)
)

func allConfigs(t *testing.T) map[string]distance.Config {
	t.Helper()
	out := map[string]distance.Config{"default": distance.DefaultConfig()}
	for _, name := range []string{distance.SegmentPlainEdit, distance.SegmentDamerauEdit, distance.SegmentJaroWinkler} {
		seg, err := distance.ParseSegmentMetric(name, 1)
		if err != nil {
			t.Fatalf("ParseSegmentMetric(%q): %v", name, err)
		}
		cfg := distance.DefaultConfig()
		cfg.Segment = seg
		cfg.Feature = distance.EuclideanDTW{}
		out[name] = cfg
	}
	return out
}

func TestCompare_Identity(t *testing.T) {
	t.Parallel()

	for name, cfg := range allConfigs(t) {
		calc, err := distance.New(cfg)
		if err != nil {
			t.Fatalf("%s: New: %v", name, err)
		}
		for _, r := range []phonetic.Representation{minivan, miniMap, zhangWei, {}} {
			if got := calc.Distance(r, r); !approx(got, 0) {
				t.Errorf("%s: Distance(%v, itself) = %v, want 0", name, r.Segments, got)
			}
		}
	}
}

func TestCompare_Symmetry(t *testing.T) {
	t.Parallel()

	pairs := [][2]phonetic.Representation{
		{minivan, miniMap},
		{zhangWei, zhangWei1},
		{minivan, zhangWei},
		{miniMap, {}},
	}
	for name, cfg := range allConfigs(t) {
		calc, err := distance.New(cfg)
		if err != nil {
			t.Fatalf("%s: New: %v", name, err)
		}
		for _, p := range pairs {
			ab := calc.Compare(p[0], p[1])
			ba := calc.Compare(p[1], p[0])
			if !approx(ab.Total, ba.Total) {
				t.Errorf("%s: Compare(%v,%v)=%v, reversed=%v", name, p[0].Segments, p[1].Segments, ab.Total, ba.Total)
			}
		}
	}
}

func TestCompare_PresenceRenormalisation(t *testing.T) {
	t.Parallel()

	calc, err := distance.New(distance.DefaultConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	bd := calc.Compare(zhangWei, zhangWei1)
	if bd.Uses(distance.ComponentStress) {
		t.Errorf("Used = %v, stress must be absent for a tone-only pair", bd.Used)
	}
	if !bd.Uses(distance.ComponentTone) {
		t.Errorf("Used = %v, want tone present", bd.Used)
	}
	// Segments and features are identical, so only tone contributes:
	// total = w_tone·d_tone / (w_seg + w_feat + w_tone).
	w := distance.DefaultWeights()
	want := w.Tone * bd.Tone / (w.Segment + w.Feature + w.Tone)
	if !approx(bd.Total, want) {
		t.Errorf("Total = %v, want %v", bd.Total, want)
	}

	if got := calc.Compare(phonetic.Representation{}, phonetic.Representation{}); got.Total != 0 || len(got.Used) != 0 {
		t.Errorf("Compare(empty, empty) = %+v, want zero", got)
	}
}

func TestCompare_ZeroWeightComponentIgnored(t *testing.T) {
	t.Parallel()

	cfg := distance.DefaultConfig()
	cfg.Weights = distance.Weights{Segment: 1}
	calc, err := distance.New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	bd := calc.Compare(zhangWei, zhangWei1)
	if bd.Total != 0 {
		t.Errorf("Total = %v, want 0 (tone weight is zero)", bd.Total)
	}
	if !slices.Equal(bd.Used, []distance.Component{distance.ComponentSegment}) {
		t.Errorf("Used = %v, want [segment]", bd.Used)
	}
}

func TestTone_ConfusionCost(t *testing.T) {
	t.Parallel()

	var prev float64 = math.Inf(1)
	for _, cost := range []float64{1.0, 0.8, 0.5, 0.2} {
		cfg := distance.DefaultConfig()
		cfg.Tone.Confusion = map[distance.TonePair]float64{{1, 3}: cost}
		calc, err := distance.New(cfg)
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		bd := calc.Compare(zhangWei1, zhangWei)
		if !approx(bd.Tone, cost/2) {
			t.Errorf("cost %v: tone component = %v, want %v", cost, bd.Tone, cost/2)
		}
		if bd.Total >= prev {
			t.Errorf("cost %v: Total = %v, want strictly less than %v", cost, bd.Total, prev)
		}
		prev = bd.Total
	}
}

func TestTone_DefaultSymmetric(t *testing.T) {
	t.Parallel()

	calc, err := distance.New(distance.Config{Weights: distance.Weights{Tone: 1}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	a := phonetic.Representation{Tones: []int{3, 2}}
	b := phonetic.Representation{Tones: []int{2, 2}}
	if got := calc.Distance(a, b); !approx(got, 0.35) {
		t.Errorf("Distance(3 2, 2 2) = %v, want 0.35", got)
	}
	if got := calc.Distance(b, a); !approx(got, 0.35) {
		t.Errorf("Distance(2 2, 3 2) = %v, want 0.35", got)
	}
	// Insertion of one tone over two units.
	c := phonetic.Representation{Tones: []int{3}}
	if got := calc.Distance(a, c); !approx(got, 0.5) {
		t.Errorf("Distance(3 2, 3) = %v, want 0.5", got)
	}
}

func TestTone_OutOfRangeUsesSubstitutionCost(t *testing.T) {
	t.Parallel()

	costs := distance.DefaultToneCosts()
	costs.Substitution = 0.4
	calc, err := distance.New(distance.Config{Weights: distance.Weights{Tone: 1}, Tone: costs})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	a := phonetic.Representation{Tones: []int{7}}
	b := phonetic.Representation{Tones: []int{1}}
	if got := calc.Distance(a, b); !approx(got, 0.4) {
		t.Errorf("Distance(7, 1) = %v, want the substitution cost 0.4", got)
	}
	if got := calc.Distance(a, a); got != 0 {
		t.Errorf("Distance(7, 7) = %v, want 0", got)
	}
}

func TestStress_FlatMismatch(t *testing.T) {
	t.Parallel()

	cfg := distance.Config{
		Weights: distance.Weights{Stress: 1},
		Stress:  distance.StressCosts{Mismatch: 0.5, Insertion: 1, Deletion: 1},
	}
	calc, err := distance.New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	a := phonetic.Representation{Stresses: []int{2, 0}}
	b := phonetic.Representation{Stresses: []int{1, 0}}
	if got := calc.Distance(a, b); !approx(got, 0.25) {
		t.Errorf("Distance = %v, want 0.25", got)
	}
}

func TestSegmentMetrics(t *testing.T) {
	t.Parallel()

	kat := rep([]string{"k", "a", "t"}, nil, nil, nil)
	kap := rep([]string{"k", "a", "p"}, nil, nil, nil)
	ab := rep([]string{"tʃ", "b"}, nil, nil, nil)
	ba := rep([]string{"b", "tʃ"}, nil, nil, nil)

	tests := []struct {
		metric distance.SegmentMetric
		a, b   phonetic.Representation
		want   float64
	}{
		{distance.PlainEdit{}, kat, kap, 1.0 / 3},
		{distance.PlainEdit{}, ab, ba, 1},
		{distance.DamerauEdit{}, ab, ba, 0.5},
		{distance.FeatureEdit{IndelCost: 1}, kat, kap, 1.0 / 3},
		{distance.FeatureEdit{IndelCost: 0.5}, kat, rep([]string{"k", "a"}, nil, nil, nil), 0.5 / 3},
		{distance.JaroWinkler{}, kat, kat, 0},
		{distance.PlainEdit{}, kat, phonetic.Representation{}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.metric.Name(), func(t *testing.T) {
			calc, err := distance.New(distance.Config{Weights: distance.Weights{Segment: 1}, Segment: tt.metric})
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			if got := calc.Distance(tt.a, tt.b); !approx(got, tt.want) {
				t.Errorf("%s(%v, %v) = %v, want %v", tt.metric.Name(), tt.a.Segments, tt.b.Segments, got, tt.want)
			}
		})
	}
}

func TestFeatureEdit_SubstitutionUsesFeatures(t *testing.T) {
	t.Parallel()

	calc, err := distance.New(distance.Config{Weights: distance.Weights{Segment: 1}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	// Different symbols with identical features cost nothing.
	a := rep([]string{"x"}, [][]float64{fM}, nil, nil)
	b := rep([]string{"y"}, [][]float64{fM}, nil, nil)
	if got := calc.Distance(a, b); got != 0 {
		t.Errorf("Distance(same features) = %v, want 0", got)
	}
	// Opposite features cost a full substitution.
	c := rep([]string{"y"}, [][]float64{{-1, -1, 1, -1}}, nil, nil)
	if got := calc.Distance(a, c); !approx(got, 1) {
		t.Errorf("Distance(opposite features) = %v, want 1", got)
	}
	// One differing feature out of four sits a quarter of the way above the
	// floor.
	d := rep([]string{"y"}, [][]float64{{1, 1, -1, -1}}, nil, nil)
	want := distance.DefaultSubstitutionFloor + (1-distance.DefaultSubstitutionFloor)*0.25
	if got := calc.Distance(a, d); !approx(got, want) {
		t.Errorf("Distance(one feature off) = %v, want %v", got, want)
	}

	plain, err := distance.New(distance.Config{
		Weights: distance.Weights{Segment: 1},
		Segment: distance.FeatureEdit{IndelCost: 1},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := plain.Distance(a, d); !approx(got, 0.25) {
		t.Errorf("Distance(one feature off, no floor) = %v, want 0.25", got)
	}
}

func TestFeatureEdit_SeparatesUnrelatedWords(t *testing.T) {
	t.Parallel()

	calc, err := distance.New(distance.Config{Weights: distance.Weights{Segment: 1}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	// Two near substitutions in seven phones stay well below a word whose
	// every phone is replaced.
	near := calc.Distance(minivan, miniMap)
	far := calc.Distance(
		rep([]string{"ɪ", "a"}, [][]float64{fI, fA}, nil, nil),
		rep([]string{"m", "p"}, [][]float64{fM, fP}, nil, nil),
	)
	if far < 0.5 {
		t.Errorf("Distance(ɪa, mp) = %v, want at least 0.5", far)
	}
	if near >= far/2 {
		t.Errorf("Distance(minivan, Mini Map) = %v, want below half of %v", near, far)
	}
}

func TestFeatureDTW(t *testing.T) {
	t.Parallel()

	one := rep([]string{"a"}, [][]float64{fA}, nil, nil)
	two := rep([]string{"a", "a"}, [][]float64{fA, fA}, nil, nil)
	opp := rep([]string{"b"}, [][]float64{{1, -1, -1, -1}}, nil, nil)

	tests := []struct {
		name   string
		metric distance.FeatureMetric
		a, b   phonetic.Representation
		want   float64
	}{
		{"cosine stretch", distance.CosineDTW{}, one, two, 0},
		{"cosine opposite", distance.CosineDTW{}, one, opp, 2},
		{"euclidean opposite", distance.EuclideanDTW{}, one, opp, 1},
		{"against empty", distance.CosineDTW{}, one, phonetic.Representation{}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calc, err := distance.New(distance.Config{Weights: distance.Weights{Feature: 1}, Feature: tt.metric})
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			if got := calc.Compare(tt.a, tt.b).Feature; !approx(got, tt.want) {
				t.Errorf("feature component = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCompare_SymbolOnlySideSkipsFeatures(t *testing.T) {
	t.Parallel()

	calc, err := distance.New(distance.DefaultConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	withFeatures := rep([]string{"m", "ɪ"}, [][]float64{fM, fI}, nil, nil)
	symbols := rep([]string{"m", "ɪ"}, nil, nil, nil)

	bd := calc.Compare(withFeatures, symbols)
	if bd.Uses(distance.ComponentFeature) {
		t.Errorf("Used = %v, want no feature component against a symbol-only side", bd.Used)
	}
	if bd.Total != 0 {
		t.Errorf("Total = %v, want 0 for identical segments", bd.Total)
	}
}

func TestNew_ConfigErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  distance.Config
	}{
		{"all weights zero", distance.Config{}},
		{"negative weight", distance.Config{Weights: distance.Weights{Segment: 1, Tone: -0.1}}},
		{"nan weight", distance.Config{Weights: distance.Weights{Segment: math.NaN()}}},
		{"zero indel", distance.Config{Weights: distance.Weights{Segment: 1}, Segment: distance.FeatureEdit{}}},
		{"substitution floor above one", distance.Config{Weights: distance.Weights{Segment: 1}, Segment: distance.FeatureEdit{IndelCost: 1, SubstitutionFloor: 1.5}}},
		{"asymmetric confusion", distance.Config{
			Weights: distance.Weights{Tone: 1},
			Tone: distance.ToneCosts{
				Confusion:    map[distance.TonePair]float64{{1, 2}: 0.5, {2, 1}: 0.6},
				Substitution: 1, Insertion: 1, Deletion: 1,
			},
		}},
		{"tone out of range", distance.Config{
			Weights: distance.Weights{Tone: 1},
			Tone: distance.ToneCosts{
				Confusion:    map[distance.TonePair]float64{{0, 2}: 0.5},
				Substitution: 1, Insertion: 1, Deletion: 1,
			},
		}},
		{"self confusion", distance.Config{
			Weights: distance.Weights{Tone: 1},
			Tone: distance.ToneCosts{
				Confusion:    map[distance.TonePair]float64{{2, 2}: 0.5},
				Substitution: 1, Insertion: 1, Deletion: 1,
			},
		}},
		{"negative stress cost", distance.Config{
			Weights: distance.Weights{Stress: 1},
			Stress:  distance.StressCosts{Mismatch: -1, Insertion: 1, Deletion: 1},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := distance.New(tt.cfg)
			if !errors.Is(err, distance.ErrInvalidConfig) {
				t.Fatalf("New() error = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestParseMetrics(t *testing.T) {
	t.Parallel()

	if _, err := distance.ParseSegmentMetric("soundex", 1); !errors.Is(err, distance.ErrInvalidConfig) {
		t.Errorf("ParseSegmentMetric(soundex) error = %v, want ErrInvalidConfig", err)
	}
	if _, err := distance.ParseFeatureMetric("manhattan"); !errors.Is(err, distance.ErrInvalidConfig) {
		t.Errorf("ParseFeatureMetric(manhattan) error = %v, want ErrInvalidConfig", err)
	}
	m, err := distance.ParseSegmentMetric("", 0)
	if err != nil {
		t.Fatalf("ParseSegmentMetric(\"\"): %v", err)
	}
	if fe, ok := m.(distance.FeatureEdit); !ok || fe.IndelCost != 1 || fe.SubstitutionFloor != distance.DefaultSubstitutionFloor {
		t.Errorf("ParseSegmentMetric(\"\") = %#v, want FeatureEdit{IndelCost: 1} with the default floor", m)
	}
	f, err := distance.ParseFeatureMetric("Euclidean")
	if err != nil || f.Name() != distance.FeatureEuclidean {
		t.Errorf("ParseFeatureMetric(Euclidean) = %v, %v", f, err)
	}
}

func TestScenario_MinivanVsMiniMap(t *testing.T) {
	t.Parallel()

	cfg := distance.DefaultConfig()
	cfg.Weights = distance.Weights{Segment: 0.6, Feature: 0.4}
	calc, err := distance.New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got := calc.Distance(minivan, miniMap)
	if got <= 0 || got > 0.3 {
		t.Errorf("Distance(minivan, Mini Map) = %v, want in (0, 0.3]", got)
	}
}
