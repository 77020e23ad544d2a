// Package docstore implements DocumentStore (spec §4.4), the facade that
// keeps the lexical index, vector index, and embedding provider
// consistent for a single logical corpus of query documents.
package docstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/amanbi/qassist/internal/embed"
	"github.com/amanbi/qassist/internal/lexindex"
	"github.com/amanbi/qassist/internal/model"
	"github.com/amanbi/qassist/internal/vecindex"
)

// Store is the DocumentStore component: add/bulk-add/increment-frequency
// over a lexical index, a vector index, and an embedding provider kept in
// sync by document ID.
type Store struct {
	mu        sync.RWMutex
	lexical   *lexindex.Index
	vector    *vecindex.Index
	embedder  embed.Embedder
	documents map[string]*model.Document
}

// New wires a Store from its three collaborators. The caller owns the
// collaborators' lifecycle; Store.Close closes none of them, since they
// may be shared with other components (e.g. HybridSearcher queries the
// same lexical/vector indexes directly).
func New(lexical *lexindex.Index, vector *vecindex.Index, embedder embed.Embedder) *Store {
	return &Store{
		lexical:   lexical,
		vector:    vector,
		embedder:  embedder,
		documents: make(map[string]*model.Document),
	}
}

// StableID derives a document ID from its text when the caller does not
// supply one, the way the teacher's chunk store hashes file contents
// rather than trusting caller-supplied identifiers to be unique.
func StableID(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// BulkAddResult is bulk_add_document's documented return shape (spec §4.4):
// a per-item success/error split rather than an all-or-nothing result, so
// one malformed document in a batch does not sink the rest.
type BulkAddResult struct {
	// Documents holds the resolved documents that passed validation and
	// were embedded, in input order. It still includes them when a lexical
	// or vector upsert failed; BulkAdd's returned error reports that case.
	Documents    []*model.Document
	SuccessCount int
	ErrorCount   int
	// PerIDErrors is keyed by the document's ID if it had one supplied,
	// else its positional index in the input batch (e.g. "2").
	PerIDErrors map[string]string
}

// Add embeds, indexes, and stores a single document, returning the
// resolved document (with ID, embedding, and timestamps populated).
func (s *Store) Add(ctx context.Context, doc *model.Document) (*model.Document, error) {
	result, err := s.BulkAdd(ctx, []*model.Document{doc})
	if err != nil {
		return nil, err
	}
	if result.ErrorCount > 0 {
		for _, msg := range result.PerIDErrors {
			return nil, fmt.Errorf("%s", msg)
		}
	}
	return result.Documents[0], nil
}

// BulkAdd validates, embeds, and indexes many documents in one batch
// embedding call (spec §4.1's mandatory batching). A document with empty or
// whitespace-only text fails validation and is counted in ErrorCount
// without being embedded or indexed; the rest of the batch proceeds (spec
// §8 scenario S6). If the lexical or vector leg then fails for some
// documents after the other succeeded, BulkAdd still returns those
// documents with an error describing the partial failure (spec §7 kind 7:
// reconcile rather than roll back, since a document present in only one
// index degrades gracefully to single-leg retrieval).
func (s *Store) BulkAdd(ctx context.Context, docs []*model.Document) (*BulkAddResult, error) {
	if len(docs) == 0 {
		return &BulkAddResult{}, nil
	}

	result := &BulkAddResult{PerIDErrors: make(map[string]string)}
	valid := make([]*model.Document, 0, len(docs))
	for i, d := range docs {
		if strings.TrimSpace(d.Text) == "" {
			key := d.ID
			if key == "" {
				key = strconv.Itoa(i)
			}
			result.PerIDErrors[key] = "document text is empty"
			result.ErrorCount++
			continue
		}
		valid = append(valid, d)
	}

	if len(valid) == 0 {
		return result, nil
	}

	now := time.Now()
	texts := make([]string, len(valid))
	for i, d := range valid {
		if d.ID == "" {
			d.ID = StableID(d.Text)
		}
		if d.CreatedAt.IsZero() {
			d.CreatedAt = now
		}
		d.UpdatedAt = now
		texts[i] = d.Text
	}

	embeddings, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("failed to embed documents: %w", err)
	}
	for i, d := range valid {
		d.Embedding = embeddings[i]
	}

	s.mu.Lock()
	for _, d := range valid {
		if existing, ok := s.documents[d.ID]; ok {
			d.Frequency = existing.Frequency
			if d.CreatedAt.IsZero() {
				d.CreatedAt = existing.CreatedAt
			}
		}
		s.documents[d.ID] = d.Clone()
	}
	s.mu.Unlock()

	var lexErr, vecErr error
	for _, d := range valid {
		if err := s.lexical.Upsert(ctx, d.ID, d.Text, d.Keywords, d.Frequency); err != nil {
			lexErr = err
			slog.Error("lexical_upsert_failed", slog.String("id", d.ID), slog.String("error", err.Error()))
		}
	}

	ids := make([]string, len(valid))
	vectors := make([][]float32, len(valid))
	for i, d := range valid {
		ids[i] = d.ID
		vectors[i] = d.Embedding
	}
	if err := s.vector.Upsert(ctx, ids, vectors); err != nil {
		vecErr = err
		slog.Error("vector_upsert_failed", slog.Int("count", len(valid)), slog.String("error", err.Error()))
	}

	result.Documents = valid
	result.SuccessCount = len(valid)

	if lexErr != nil && vecErr != nil {
		return result, fmt.Errorf("both lexical and vector upsert failed: lexical=%v vector=%v", lexErr, vecErr)
	}
	if lexErr != nil {
		return result, fmt.Errorf("lexical upsert failed, document reachable only via vector search: %w", lexErr)
	}
	if vecErr != nil {
		return result, fmt.Errorf("vector upsert failed, document reachable only via lexical search: %w", vecErr)
	}

	return result, nil
}

// IncrementFrequency bumps a document's selection/view frequency, used by
// the Orchestrator's RecordFeedback to feed the lexical index's popularity
// term and reflect global demand over time.
func (s *Store) IncrementFrequency(ctx context.Context, id string, delta int64) error {
	s.mu.Lock()
	doc, ok := s.documents[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("document %s not found", id)
	}
	doc.Frequency += delta
	doc.UpdatedAt = time.Now()
	updated := doc.Clone()
	s.mu.Unlock()

	return s.lexical.Upsert(ctx, id, updated.Text, updated.Keywords, updated.Frequency)
}

// Get returns a document by ID, or ok=false if it does not exist.
func (s *Store) Get(id string) (*model.Document, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.documents[id]
	if !ok {
		return nil, false
	}
	return doc.Clone(), true
}

// GetMany resolves multiple document IDs at once, preserving input order
// and silently skipping IDs that no longer exist (e.g. deleted between a
// search and a rank step).
func (s *Store) GetMany(ids []string) []*model.Document {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*model.Document, 0, len(ids))
	for _, id := range ids {
		if doc, ok := s.documents[id]; ok {
			out = append(out, doc.Clone())
		}
	}
	return out
}

// Delete removes a document from both indexes and the store.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	delete(s.documents, id)
	s.mu.Unlock()

	lexErr := s.lexical.Delete(ctx, []string{id})
	vecErr := s.vector.Delete(ctx, []string{id})
	if lexErr != nil || vecErr != nil {
		return fmt.Errorf("delete failed: lexical=%v vector=%v", lexErr, vecErr)
	}
	return nil
}

// Count returns the number of tracked documents.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.documents)
}

// CheckConsistency compares the document store's ID set against the
// lexical and vector indexes, reporting any drift caused by a past partial
// BulkAdd failure.
func (s *Store) CheckConsistency() ConsistencyReport {
	s.mu.RLock()
	ids := make(map[string]struct{}, len(s.documents))
	for id := range s.documents {
		ids[id] = struct{}{}
	}
	s.mu.RUnlock()

	lexIDs, _ := s.lexical.AllIDs()
	vecIDs := s.vector.AllIDs()

	lexSet := toSet(lexIDsOrEmpty(lexIDs))
	vecSet := toSet(vecIDs)

	var report ConsistencyReport
	for id := range ids {
		if _, ok := lexSet[id]; !ok {
			report.MissingFromLexical = append(report.MissingFromLexical, id)
		}
		if _, ok := vecSet[id]; !ok {
			report.MissingFromVector = append(report.MissingFromVector, id)
		}
	}
	sort.Strings(report.MissingFromLexical)
	sort.Strings(report.MissingFromVector)
	return report
}

func lexIDsOrEmpty(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}

func toSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

// ConsistencyReport names documents present in the store but missing from
// one of the two indexes, surfacing the degradation a partial BulkAdd
// failure leaves behind.
type ConsistencyReport struct {
	MissingFromLexical []string
	MissingFromVector  []string
}

// IsClean reports whether no drift was found.
func (r ConsistencyReport) IsClean() bool {
	return len(r.MissingFromLexical) == 0 && len(r.MissingFromVector) == 0
}
