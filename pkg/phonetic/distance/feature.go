package distance

import (
	"fmt"
	"math"
	"strings"
)

// FeatureMetric is the closed set of local costs used by the DTW feature
// component: [CosineDTW] and [EuclideanDTW].
type FeatureMetric interface {
	// Name returns the configuration name of the metric.
	Name() string

	local(x, y []float64) float64
}

// Feature metric names accepted by [ParseFeatureMetric].
const (
	FeatureCosine    = "cosine"
	FeatureEuclidean = "euclidean"
)

// ParseFeatureMetric resolves a metric name. The empty name selects cosine.
func ParseFeatureMetric(name string) (FeatureMetric, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", FeatureCosine:
		return CosineDTW{}, nil
	case FeatureEuclidean:
		return EuclideanDTW{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown feature metric %q", ErrInvalidConfig, name)
	}
}

// CosineDTW uses 1 - cosine similarity, clamped to [0,2]. Two zero vectors
// cost 0; a zero vector against a non-zero one costs 1.
type CosineDTW struct{}

// Name implements [FeatureMetric].
func (CosineDTW) Name() string { return FeatureCosine }

func (CosineDTW) local(x, y []float64) float64 {
	var dot, nx, ny float64
	for k := range max(len(x), len(y)) {
		var xv, yv float64
		if k < len(x) {
			xv = x[k]
		}
		if k < len(y) {
			yv = y[k]
		}
		dot += xv * yv
		nx += xv * xv
		ny += yv * yv
	}
	switch {
	case nx == 0 && ny == 0:
		return 0
	case nx == 0 || ny == 0:
		return 1
	}
	return min(max(1-dot/math.Sqrt(nx*ny), 0), 2)
}

// EuclideanDTW uses the Euclidean norm of the difference divided by
// 2·sqrt(dim), the largest possible norm for {-1,+1} vectors, clamped to
// [0,1].
type EuclideanDTW struct{}

// Name implements [FeatureMetric].
func (EuclideanDTW) Name() string { return FeatureEuclidean }

func (EuclideanDTW) local(x, y []float64) float64 {
	dim := max(len(x), len(y))
	if dim == 0 {
		return 0
	}
	var sq float64
	for k := range dim {
		var xv, yv float64
		if k < len(x) {
			xv = x[k]
		}
		if k < len(y) {
			yv = y[k]
		}
		sq += (xv - yv) * (xv - yv)
	}
	return min(math.Sqrt(sq)/(2*math.Sqrt(float64(dim))), 1)
}

// dtw aligns two feature sequences and returns the cumulative local cost of
// the optimal monotonic path divided by the number of steps on that path.
// Every step pays its local cost; there are no free insertions or deletions.
// Among equal-cost predecessors the one with fewer steps wins, so the result
// is the same when the arguments are swapped.
func dtw(a, b [][]float64, metric FeatureMetric) float64 {
	n, m := len(a), len(b)
	switch {
	case n == 0 && m == 0:
		return 0
	case n == 0 || m == 0:
		return 1
	}

	type cell struct {
		cost  float64
		steps int
	}
	better := func(p, q cell) cell {
		if q.cost < p.cost || (q.cost == p.cost && q.steps < p.steps) {
			return q
		}
		return p
	}

	prev := make([]cell, m)
	cur := make([]cell, m)
	for i := range n {
		for j := range m {
			local := metric.local(a[i], b[j])
			var best cell
			switch {
			case i == 0 && j == 0:
				best = cell{}
			case i == 0:
				best = cur[j-1]
			case j == 0:
				best = prev[j]
			default:
				best = better(better(prev[j-1], prev[j]), cur[j-1])
			}
			cur[j] = cell{cost: best.cost + local, steps: best.steps + 1}
		}
		prev, cur = cur, prev
	}
	end := prev[m-1]
	return end.cost / float64(end.steps)
}
