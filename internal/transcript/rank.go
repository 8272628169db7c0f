package transcript

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/MrWong99/phonofix/pkg/phonetic/distance"
)

// Suggestion is one knowledge-base term ranked against a query.
type Suggestion struct {
	Entry Entry `json:"entry"`

	// Form is the surface form (canonical or alias) that scored best.
	Form      string             `json:"form"`
	Score     float64            `json:"score"`
	Breakdown distance.Breakdown `json:"breakdown"`
}

// Rank transcribes query once and scores it against every usable term,
// returning the k closest (all of them when k <= 0) by ascending score. No
// threshold is applied. Ties are broken by knowledge-base order.
func (c *Corrector) Rank(ctx context.Context, query string, k int) ([]Suggestion, error) {
	if strings.TrimSpace(query) == "" || len(c.terms) == 0 {
		return []Suggestion{}, nil
	}
	rep, err := c.tr.Transcribe(ctx, query)
	if err == nil {
		err = rep.Validate()
	}
	if err != nil {
		return nil, fmt.Errorf("transcript: rank %q: %w", query, err)
	}

	type ranked struct {
		Suggestion
		index int
	}
	all := make([]ranked, 0, len(c.terms))
	for _, t := range c.terms {
		var best ranked
		for i, f := range t.forms {
			bd := c.scorer.Compare(rep, f.rep)
			if i == 0 || bd.Total < best.Score {
				best = ranked{
					Suggestion: Suggestion{
						Entry:     c.entries[t.index],
						Form:      f.text,
						Score:     bd.Total,
						Breakdown: bd,
					},
					index: t.index,
				}
			}
		}
		all = append(all, best)
	}
	slices.SortFunc(all, func(a, b ranked) int {
		return cmp.Or(cmp.Compare(a.Score, b.Score), cmp.Compare(a.index, b.index))
	})
	if k > 0 && k < len(all) {
		all = all[:k]
	}
	out := make([]Suggestion, len(all))
	for i, r := range all {
		out[i] = r.Suggestion
	}
	return out, nil
}
