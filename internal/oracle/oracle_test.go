package oracle

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoopOracle_AlwaysUnavailableAndEmpty(t *testing.T) {
	o := NoopOracle{}
	ctx := context.Background()

	assert.False(t, o.IsAvailable(ctx))
	assert.Empty(t, o.ExpandQuery(ctx, "q"))
	assert.Empty(t, o.GenerateRelated(ctx, "q", nil))
	assert.Empty(t, o.RankPrefixCompletions(ctx, "pre", "tail", []string{"a"}, nil))
}

func newTestOracleServer(t *testing.T, response string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"models":[]}`))
		case "/api/generate":
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]string{"response": response})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOllamaOracle_ExpandQueryParsesLines(t *testing.T) {
	srv := newTestOracleServer(t, "revenue growth\n- revenue increase\n1. revenue uplift")
	cfg := DefaultOllamaConfig()
	cfg.Host = srv.URL
	o := NewOllamaOracle(cfg)

	results := o.ExpandQuery(context.Background(), "revenue trend")
	require.Len(t, results, 3)
	assert.Equal(t, "revenue growth", results[0])
	assert.Equal(t, "revenue increase", results[1])
	assert.Equal(t, "revenue uplift", results[2])
}

func TestOllamaOracle_ExpandQueryCapsAtMaxExpansions(t *testing.T) {
	srv := newTestOracleServer(t, "a\nb\nc\nd\ne")
	cfg := DefaultOllamaConfig()
	cfg.Host = srv.URL
	cfg.MaxExpansions = 2
	o := NewOllamaOracle(cfg)

	results := o.ExpandQuery(context.Background(), "q")
	assert.Len(t, results, 2)
}

func TestOllamaOracle_RankPrefixCompletionsParsesJSON(t *testing.T) {
	srv := newTestOracleServer(t, `prefix text [{"text":"trend analysis","score":0.9},{"text":"trend report","score":0.4}] trailing`)
	cfg := DefaultOllamaConfig()
	cfg.Host = srv.URL
	o := NewOllamaOracle(cfg)

	results := o.RankPrefixCompletions(context.Background(), "revenue ", "tr", []string{"trend analysis", "trend report"}, nil)
	require.Len(t, results, 2)
	assert.Equal(t, "trend analysis", results[0].Text)
	assert.Equal(t, 0.9, results[0].Score)
}

func TestOllamaOracle_RankPrefixCompletionsUnparseableReturnsNil(t *testing.T) {
	srv := newTestOracleServer(t, "not json at all")
	cfg := DefaultOllamaConfig()
	cfg.Host = srv.URL
	o := NewOllamaOracle(cfg)

	results := o.RankPrefixCompletions(context.Background(), "revenue ", "tr", []string{"trend"}, nil)
	assert.Nil(t, results)
}

func TestOllamaOracle_RankPrefixCompletionsEmptyCandidatesReturnsNil(t *testing.T) {
	srv := newTestOracleServer(t, "[]")
	cfg := DefaultOllamaConfig()
	cfg.Host = srv.URL
	o := NewOllamaOracle(cfg)

	results := o.RankPrefixCompletions(context.Background(), "revenue ", "tr", nil, nil)
	assert.Nil(t, results)
}

func TestOllamaOracle_IsAvailableTrueWhenServerResponds(t *testing.T) {
	srv := newTestOracleServer(t, "")
	cfg := DefaultOllamaConfig()
	cfg.Host = srv.URL
	o := NewOllamaOracle(cfg)

	assert.True(t, o.IsAvailable(context.Background()))
}

func TestOllamaOracle_UnreachableServerDegradesGracefully(t *testing.T) {
	cfg := DefaultOllamaConfig()
	cfg.Host = "http://127.0.0.1:1" // nothing listens here
	cfg.Timeout = 50 * time.Millisecond
	o := NewOllamaOracle(cfg)

	assert.False(t, o.IsAvailable(context.Background()))
	assert.Empty(t, o.ExpandQuery(context.Background(), "q"))
}

func TestOllamaOracle_CircuitOpensAfterRepeatedFailures(t *testing.T) {
	cfg := DefaultOllamaConfig()
	cfg.Host = "http://127.0.0.1:1"
	cfg.Timeout = 20 * time.Millisecond
	o := NewOllamaOracle(cfg)

	for i := 0; i < 5; i++ {
		o.IsAvailable(context.Background())
	}
	assert.False(t, o.breaker.Allow())
}
