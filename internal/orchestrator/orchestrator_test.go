package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amanbi/qassist/internal/behavior"
	"github.com/amanbi/qassist/internal/docstore"
	"github.com/amanbi/qassist/internal/embed"
	"github.com/amanbi/qassist/internal/hybrid"
	"github.com/amanbi/qassist/internal/lexindex"
	"github.com/amanbi/qassist/internal/model"
	"github.com/amanbi/qassist/internal/oracle"
	"github.com/amanbi/qassist/internal/prefix"
	"github.com/amanbi/qassist/internal/rank"
	"github.com/amanbi/qassist/internal/vecindex"
)

const testDims = 16

type testEngine struct {
	engine   *Engine
	docs     *docstore.Store
	behavior *behavior.Store
	embedder embed.Embedder
}

func newTestEngine(t *testing.T) *testEngine {
	t.Helper()

	lex, err := lexindex.New(lexindex.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = lex.Close() })

	vec := vecindex.New(vecindex.DefaultConfig(testDims))
	embedder := embed.NewStaticEmbedder(testDims)
	docs := docstore.New(lex, vec, embedder)

	behaviorStore, err := behavior.New(behavior.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = behaviorStore.Close() })

	searcher := hybrid.New(lex, vec, docs, hybrid.DefaultConfig())
	ranker := rank.New(docs, behaviorStore, rank.DefaultConfig())
	prefixEngine := prefix.New(lex, docs, oracle.NoopOracle{}, prefix.DefaultConfig())

	engine, err := New(embedder, searcher, ranker, prefixEngine, oracle.NoopOracle{}, docs, behaviorStore, DefaultConfig())
	require.NoError(t, err)

	return &testEngine{engine: engine, docs: docs, behavior: behaviorStore, embedder: embedder}
}

func TestEngine_GetSuggestionsEmptyQueryErrors(t *testing.T) {
	te := newTestEngine(t)
	_, err := te.engine.GetSuggestions(context.Background(), "   ", "", 10)
	assert.Error(t, err)
}

func TestEngine_GetSuggestionsReturnsMatches(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	_, err := te.docs.Add(ctx, &model.Document{Text: "quarterly revenue report"})
	require.NoError(t, err)

	suggestions, err := te.engine.GetSuggestions(ctx, "quarterly revenue", "", 5)
	require.NoError(t, err)
	require.NotEmpty(t, suggestions)
}

func TestEngine_GetSuggestionsUsesPrefixPathForLongQueries(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	_, err := te.docs.Add(ctx, &model.Document{Text: "quarterly revenue trend analysis report"})
	require.NoError(t, err)

	suggestions, err := te.engine.GetSuggestions(ctx, "show me quarterly revenue tr", "", 5)
	require.NoError(t, err)
	require.NotEmpty(t, suggestions)
	assert.Equal(t, model.SourcePrefixPreserved, suggestions[0].Source)
}

func TestEngine_GetSimilarQueriesUsesVectorOnlyPath(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	_, err := te.docs.Add(ctx, &model.Document{Text: "quarterly revenue report"})
	require.NoError(t, err)

	suggestions, err := te.engine.GetSimilarQueries(ctx, "quarterly revenue report", "", 5)
	require.NoError(t, err)
	require.NotEmpty(t, suggestions)
}

func TestEngine_RecordFeedbackUpdatesBehaviorAndFrequency(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	doc, err := te.docs.Add(ctx, &model.Document{Text: "quarterly revenue report"})
	require.NoError(t, err)

	err = te.engine.RecordFeedback(ctx, "quarterly revenue", doc.Text, "alice", time.Now())
	require.NoError(t, err)

	updated, ok := te.docs.Get(doc.ID)
	require.True(t, ok)
	assert.Equal(t, int64(1), updated.Frequency)

	selected, ok := te.behavior.GetLastSelection(ctx, "alice", "quarterly revenue")
	require.True(t, ok)
	assert.Equal(t, doc.Text, selected)
}

func TestEngine_RecordFeedbackEmptySelectedErrors(t *testing.T) {
	te := newTestEngine(t)
	err := te.engine.RecordFeedback(context.Background(), "q", "", "alice", time.Time{})
	assert.Error(t, err)
}

func TestEngine_GetRelatedQueriesIncludesHistoryMatch(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	_, err := te.docs.Add(ctx, &model.Document{Text: "quarterly revenue report"})
	require.NoError(t, err)

	require.NoError(t, te.engine.RecordFeedback(ctx, "quarterly revenue", "quarterly revenue by region", "alice", time.Now()))

	related, err := te.engine.GetRelatedQueries(ctx, "quarterly revenue", "alice", 10)
	require.NoError(t, err)

	var found bool
	for _, r := range related {
		if r.Source == model.SourceHistory {
			found = true
		}
	}
	assert.True(t, found)
}

func TestEngine_AddAndBulkAddDocumentsForwardToDocumentStore(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	doc, err := te.engine.AddDocument(ctx, &model.Document{Text: "single add"})
	require.NoError(t, err)
	assert.NotEmpty(t, doc.ID)

	result, err := te.engine.BulkAddDocuments(ctx, []*model.Document{
		{Text: "bulk one"},
		{Text: "bulk two"},
	})
	require.NoError(t, err)
	assert.Len(t, result.Documents, 2)
	assert.Equal(t, 2, result.SuccessCount)
	assert.Equal(t, 0, result.ErrorCount)
}

func TestEngine_CloseIsNoop(t *testing.T) {
	te := newTestEngine(t)
	assert.NoError(t, te.engine.Close())
}
