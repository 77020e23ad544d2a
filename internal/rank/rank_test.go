package rank

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amanbi/qassist/internal/behavior"
	"github.com/amanbi/qassist/internal/docstore"
	"github.com/amanbi/qassist/internal/embed"
	"github.com/amanbi/qassist/internal/lexindex"
	"github.com/amanbi/qassist/internal/model"
	"github.com/amanbi/qassist/internal/vecindex"
)

func newTestRanker(t *testing.T) (*Ranker, *docstore.Store, *behavior.Store) {
	t.Helper()
	lex, err := lexindex.New(lexindex.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = lex.Close() })

	vec := vecindex.New(vecindex.DefaultConfig(16))
	docs := docstore.New(lex, vec, embed.NewStaticEmbedder(16))

	behaviorStore, err := behavior.New(behavior.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = behaviorStore.Close() })

	return New(docs, behaviorStore, DefaultConfig()), docs, behaviorStore
}

func TestRanker_NoPersonalizationPassesScoreThrough(t *testing.T) {
	r, docs, _ := newTestRanker(t)
	ctx := context.Background()

	doc, err := docs.Add(ctx, &model.Document{Text: "revenue trend"})
	require.NoError(t, err)

	candidates := []model.Candidate{{ID: doc.ID, Score: 0.5, Source: model.SourceKeyword}}
	suggestions := r.Rank(ctx, "revenue trend", "", candidates, 10)

	require.Len(t, suggestions, 1)
	assert.Equal(t, 0.5, suggestions[0].Score)
	assert.Equal(t, model.SourceKeyword, suggestions[0].Source)
}

func TestRanker_ExactLastMatchEscalatesToPersonalized(t *testing.T) {
	r, docs, behaviorStore := newTestRanker(t)
	ctx := context.Background()

	doc, err := docs.Add(ctx, &model.Document{Text: "revenue trend Q3"})
	require.NoError(t, err)
	behaviorStore.RecordSelection(ctx, "u1", "revenue trend", "revenue trend Q3", time.Now())

	candidates := []model.Candidate{{ID: doc.ID, Score: 0.1, Source: model.SourceKeyword}}
	suggestions := r.Rank(ctx, "revenue trend", "u1", candidates, 10)

	require.Len(t, suggestions, 1)
	assert.Equal(t, model.SourcePersonalized, suggestions[0].Source)
	assert.InDelta(t, 0.42, suggestions[0].Score, 1e-9)
}

func TestRanker_PreferenceBoostIncreasesScore(t *testing.T) {
	r, docs, behaviorStore := newTestRanker(t)
	ctx := context.Background()

	doc, err := docs.Add(ctx, &model.Document{Text: "revenue trend"})
	require.NoError(t, err)
	behaviorStore.RecordSelection(ctx, "u1", "q1", "revenue trend", time.Now())

	candidates := []model.Candidate{{ID: doc.ID, Score: 0.5, Source: model.SourceKeyword}}

	unpersonalized := r.Rank(ctx, "other query", "", candidates, 10)
	personalized := r.Rank(ctx, "other query", "u1", candidates, 10)

	require.Len(t, unpersonalized, 1)
	require.Len(t, personalized, 1)
	assert.Greater(t, personalized[0].Score, unpersonalized[0].Score)
}

func TestRanker_MinScoreDropsLowCandidates(t *testing.T) {
	_, docs, _ := newTestRanker(t)
	ctx := context.Background()

	doc, err := docs.Add(ctx, &model.Document{Text: "revenue trend"})
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.MinScore = 0.5
	strict := New(docs, nil, cfg)

	candidates := []model.Candidate{{ID: doc.ID, Score: 0.1, Source: model.SourceKeyword}}
	suggestions := strict.Rank(ctx, "revenue trend", "", candidates, 10)
	assert.Empty(t, suggestions)
}

func TestRanker_DeterministicTieBreak(t *testing.T) {
	r, docs, _ := newTestRanker(t)
	ctx := context.Background()

	a, err := docs.Add(ctx, &model.Document{ID: "a-doc", Text: "alpha"})
	require.NoError(t, err)
	b, err := docs.Add(ctx, &model.Document{ID: "b-doc", Text: "beta"})
	require.NoError(t, err)

	candidates := []model.Candidate{
		{ID: b.ID, Score: 0.5, Source: model.SourceKeyword},
		{ID: a.ID, Score: 0.5, Source: model.SourceKeyword},
	}
	suggestions := r.Rank(ctx, "q", "", candidates, 10)
	require.Len(t, suggestions, 2)
	assert.Equal(t, "alpha", suggestions[0].Text)
}

func TestRanker_LimitCapsResultCount(t *testing.T) {
	r, docs, _ := newTestRanker(t)
	ctx := context.Background()

	var candidates []model.Candidate
	for _, id := range []string{"a", "b", "c"} {
		doc, err := docs.Add(ctx, &model.Document{ID: id, Text: id})
		require.NoError(t, err)
		candidates = append(candidates, model.Candidate{ID: doc.ID, Score: 0.5, Source: model.SourceKeyword})
	}

	suggestions := r.Rank(ctx, "q", "", candidates, 2)
	assert.Len(t, suggestions, 2)
}

func TestRanker_MissingDocumentSkipped(t *testing.T) {
	r, _, _ := newTestRanker(t)
	candidates := []model.Candidate{{ID: "ghost", Score: 0.5, Source: model.SourceKeyword}}
	suggestions := r.Rank(context.Background(), "q", "", candidates, 10)
	assert.Empty(t, suggestions)
}
