package behavior

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_RecordSelectionUpdatesLastSelection(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.RecordSelection(ctx, "u1", "revenue trend", "revenue trend Q3", time.Now())

	selected, ok := s.GetLastSelection(ctx, "u1", "revenue trend")
	require.True(t, ok)
	assert.Equal(t, "revenue trend Q3", selected)
}

func TestStore_GetLastSelectionMissReturnsFalse(t *testing.T) {
	s := newTestStore(t)
	_, ok := s.GetLastSelection(context.Background(), "u1", "unseen query")
	assert.False(t, ok)
}

func TestStore_RecordSelectionAccumulatesUserPreferences(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	s.RecordSelection(ctx, "u1", "q1", "a", now)
	s.RecordSelection(ctx, "u1", "q2", "a", now)
	s.RecordSelection(ctx, "u1", "q3", "b", now)

	prefs := s.GetUserPreferences(ctx, "u1")
	require.NotEmpty(t, prefs)
	assert.Equal(t, "a", prefs[0].Text)
	assert.Equal(t, 2.0, prefs[0].Score)
}

func TestStore_RecordSelectionBuildsSequenceEdges(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	s.RecordSelection(ctx, "u1", "revenue trend", "sel-a", now)
	s.RecordSelection(ctx, "u1", "customer churn", "sel-b", now.Add(time.Second))

	edges := s.GetSequences(ctx, "customer churn", "u1")
	require.Len(t, edges.Previous, 1)
	assert.Equal(t, "revenue trend", edges.Previous[0].Text)

	forward := s.GetSequences(ctx, "revenue trend", "u1")
	require.Len(t, forward.Next, 1)
	assert.Equal(t, "customer churn", forward.Next[0].Text)
}

func TestStore_GetSequencesGlobalWhenNoUser(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	s.RecordSelection(ctx, "u1", "q1", "a", now)
	s.RecordSelection(ctx, "u1", "q2", "b", now.Add(time.Second))

	edges := s.GetSequences(ctx, "q1", "")
	require.Len(t, edges.Next, 1)
	assert.Equal(t, "q2", edges.Next[0].Text)
}

func TestStore_HistoryTruncatesToCap(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HistoryCap = 2
	s, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	ctx := context.Background()
	now := time.Now()

	s.RecordSelection(ctx, "u1", "q1", "a", now)
	s.RecordSelection(ctx, "u1", "q2", "b", now.Add(time.Second))
	s.RecordSelection(ctx, "u1", "q3", "c", now.Add(2*time.Second))

	history := s.GetHistory(ctx, "u1", 10)
	require.Len(t, history, 2)
	assert.Equal(t, "q3", history[0].Query)
	assert.Equal(t, "q2", history[1].Query)
}

func TestStore_LastSelectionExpiresAfterTTL(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PreferenceTTL = time.Millisecond
	s, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	ctx := context.Background()

	s.RecordSelection(ctx, "u1", "q1", "a", time.Now().Add(-time.Hour))

	_, ok := s.GetLastSelection(ctx, "u1", "q1")
	assert.False(t, ok)
}

func TestStore_GetGlobalPopularityOrdersByScoreThenText(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	s.RecordSelection(ctx, "u1", "q1", "b", now)
	s.RecordSelection(ctx, "u2", "q1", "a", now)
	s.RecordSelection(ctx, "u3", "q1", "a", now)

	pop := s.GetGlobalPopularity(ctx, "q1", 10)
	require.Len(t, pop, 2)
	assert.Equal(t, "a", pop[0].Text)
	assert.Equal(t, 2.0, pop[0].Score)
	assert.Equal(t, "b", pop[1].Text)
}

func TestStore_GetUserPreferencesUnknownUserReturnsEmpty(t *testing.T) {
	s := newTestStore(t)
	prefs := s.GetUserPreferences(context.Background(), "ghost")
	assert.Empty(t, prefs)
}
