package hybrid

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amanbi/qassist/internal/docstore"
	"github.com/amanbi/qassist/internal/embed"
	"github.com/amanbi/qassist/internal/lexindex"
	"github.com/amanbi/qassist/internal/model"
	"github.com/amanbi/qassist/internal/vecindex"
)

const testDims = 16

func newTestSearcher(t *testing.T) (*Searcher, *docstore.Store, embed.Embedder) {
	t.Helper()
	lex, err := lexindex.New(lexindex.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = lex.Close() })

	vec := vecindex.New(vecindex.DefaultConfig(testDims))
	embedder := embed.NewStaticEmbedder(testDims)
	docs := docstore.New(lex, vec, embedder)

	return New(lex, vec, docs, DefaultConfig()), docs, embedder
}

func TestSearcher_BlendsBothLegsAsHybrid(t *testing.T) {
	s, docs, embedder := newTestSearcher(t)
	ctx := context.Background()

	doc, err := docs.Add(ctx, &model.Document{Text: "revenue trend analysis"})
	require.NoError(t, err)

	queryEmbedding, err := embedder.Embed(ctx, "revenue trend analysis")
	require.NoError(t, err)

	candidates, err := s.Search(ctx, "revenue trend", queryEmbedding, 10)
	require.NoError(t, err)
	require.NotEmpty(t, candidates)
	assert.Equal(t, doc.ID, candidates[0].ID)
	assert.Equal(t, model.SourceHybrid, candidates[0].Source)
}

func TestSearcher_NoEmbeddingSkipsVectorLeg(t *testing.T) {
	s, docs, _ := newTestSearcher(t)
	ctx := context.Background()

	doc, err := docs.Add(ctx, &model.Document{Text: "revenue trend analysis"})
	require.NoError(t, err)

	candidates, err := s.Search(ctx, "revenue trend", nil, 10)
	require.NoError(t, err)
	require.NotEmpty(t, candidates)
	assert.Equal(t, doc.ID, candidates[0].ID)
	assert.Equal(t, model.SourceKeyword, candidates[0].Source)
}

func TestSearcher_DeterministicTieBreakOnID(t *testing.T) {
	s, docs, _ := newTestSearcher(t)
	ctx := context.Background()

	_, err := docs.Add(ctx, &model.Document{ID: "b-doc", Text: "quarterly sales"})
	require.NoError(t, err)
	_, err = docs.Add(ctx, &model.Document{ID: "a-doc", Text: "quarterly sales"})
	require.NoError(t, err)

	candidates, err := s.Search(ctx, "quarterly sales", nil, 10)
	require.NoError(t, err)
	require.Len(t, candidates, 2)
	assert.Equal(t, "a-doc", candidates[0].ID)
}

func TestSearcher_EmptyIndexReturnsEmpty(t *testing.T) {
	s, _, _ := newTestSearcher(t)
	candidates, err := s.Search(context.Background(), "nothing indexed", nil, 10)
	require.NoError(t, err)
	assert.Empty(t, candidates)
}

func TestSearcher_SearchVectorOnlyIgnoresLexicalLeg(t *testing.T) {
	s, docs, embedder := newTestSearcher(t)
	ctx := context.Background()

	doc, err := docs.Add(ctx, &model.Document{Text: "revenue trend analysis"})
	require.NoError(t, err)

	queryEmbedding, err := embedder.Embed(ctx, "revenue trend analysis")
	require.NoError(t, err)

	candidates, err := s.SearchVectorOnly(ctx, queryEmbedding, 10)
	require.NoError(t, err)
	require.NotEmpty(t, candidates)
	assert.Equal(t, doc.ID, candidates[0].ID)
	assert.Equal(t, model.SourceVector, candidates[0].Source)
}

func TestSearcher_LimitCapsResultCount(t *testing.T) {
	s, docs, _ := newTestSearcher(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		_, err := docs.Add(ctx, &model.Document{ID: id, Text: "revenue trend analysis"})
		require.NoError(t, err)
	}

	candidates, err := s.Search(ctx, "revenue trend", nil, 2)
	require.NoError(t, err)
	assert.Len(t, candidates, 2)
}
