// Package rank implements Ranker (spec §4.7): personalization boost, an
// exact-last-match bonus, a minimum-score floor, and the final deterministic
// ordering handed back to a caller.
package rank

import (
	"context"
	"sort"

	"github.com/amanbi/qassist/internal/behavior"
	"github.com/amanbi/qassist/internal/docstore"
	"github.com/amanbi/qassist/internal/model"
)

// Config holds the personalization parameters (spec §6's
// `search.personalization_weight`/`search.min_score`, spec §4.7's α/β).
type Config struct {
	// PersonalizationWeight (α) scales the preference-boost multiplier.
	PersonalizationWeight float64
	// ExactMatchBonus (β) is added when a candidate exactly matches the
	// user's last selection for this query.
	ExactMatchBonus float64
	// MinScore drops candidates scoring below this floor.
	MinScore float64
}

// DefaultConfig returns spec §4.7 defaults.
func DefaultConfig() Config {
	return Config{
		PersonalizationWeight: 0.2,
		ExactMatchBonus:       0.3,
		MinScore:              0.0,
	}
}

// Ranker is the Ranker component.
type Ranker struct {
	docs     *docstore.Store
	behavior *behavior.Store
	config   Config
}

// New wires a Ranker. behaviorStore may be nil, in which case no
// personalization is applied and candidates are passed through with their
// blended score unchanged (aside from MinScore filtering and sorting).
func New(docs *docstore.Store, behaviorStore *behavior.Store, cfg Config) *Ranker {
	return &Ranker{docs: docs, behavior: behaviorStore, config: cfg}
}

type ranked struct {
	model.Candidate
	suggestion model.Suggestion
}

// Rank adjusts each candidate's blended score with personalization (spec
// §4.7), drops anything below MinScore, sorts with HybridSearcher's
// deterministic tie-break, and returns up to limit suggestions.
func (r *Ranker) Rank(ctx context.Context, query, user string, candidates []model.Candidate, limit int) []model.Suggestion {
	var prefs []model.ScoredText
	var maxPref float64
	var lastSelection string
	var hasLastSelection bool

	if user != "" && r.behavior != nil {
		prefs = r.behavior.GetUserPreferences(ctx, user)
		if len(prefs) > 0 {
			maxPref = prefs[0].Score
		}
		lastSelection, hasLastSelection = r.behavior.GetLastSelection(ctx, user, query)
	}

	out := make([]ranked, 0, len(candidates))
	for _, c := range candidates {
		doc, ok := r.docs.Get(c.ID)
		if !ok {
			continue
		}

		prefBoost := preferenceBoost(doc.Text, prefs, maxPref)
		personalizationDelta := c.Score * r.config.PersonalizationWeight * prefBoost

		var exactBonus float64
		if hasLastSelection && lastSelection == doc.Text {
			exactBonus = r.config.ExactMatchBonus
		}

		final := c.Score + personalizationDelta + exactBonus
		if final < r.config.MinScore {
			continue
		}

		source := c.Source
		userContribution := personalizationDelta + exactBonus
		if final > 0 && userContribution >= 0.5*final {
			source = model.SourcePersonalized
		}

		out = append(out, ranked{
			Candidate: model.Candidate{
				ID:        c.ID,
				Score:     final,
				Source:    source,
				LexScore:  c.LexScore,
				Frequency: c.Frequency,
			},
			suggestion: model.Suggestion{
				Text:   doc.Text,
				Score:  final,
				Source: source,
				Metadata: map[string]string{
					"id": doc.ID,
				},
			},
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if out[i].LexScore != out[j].LexScore {
			return out[i].LexScore > out[j].LexScore
		}
		if out[i].Frequency != out[j].Frequency {
			return out[i].Frequency > out[j].Frequency
		}
		return out[i].ID < out[j].ID
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}

	suggestions := make([]model.Suggestion, len(out))
	for i, r := range out {
		suggestions[i] = r.suggestion
	}
	return suggestions
}

// preferenceBoost normalizes a user's accumulated preference score for text
// against their single highest preference score, yielding pref_boost ∈ [0,1]
// (spec §4.7).
func preferenceBoost(text string, prefs []model.ScoredText, maxPref float64) float64 {
	if maxPref <= 0 {
		return 0
	}
	for _, p := range prefs {
		if p.Text == text {
			return p.Score / maxPref
		}
	}
	return 0
}
