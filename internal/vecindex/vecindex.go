// Package vecindex implements VectorIndex (spec §4.3): nearest-neighbor
// retrieval over normalized query embeddings, backed by coder/hnsw's pure-Go
// HNSW graph so the engine carries no CGO dependency.
package vecindex

import (
	"bufio"
	"context"
	"encoding/gob"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/coder/hnsw"
)

// Result is a single nearest-neighbor match.
type Result struct {
	ID       string
	Distance float32 // cosine distance, 0 (identical) to 2 (opposite)
	Score    float32 // normalized similarity in [0, 1]
}

// Config configures the vector index.
type Config struct {
	// Dimensions is the vector dimension D; every Upsert/Search call must use
	// vectors of exactly this length.
	Dimensions int

	// M is the HNSW max connections per layer.
	M int

	// EfSearch is the HNSW query-time search width.
	EfSearch int
}

// DefaultConfig returns sensible defaults for the given dimension.
func DefaultConfig(dimensions int) Config {
	return Config{
		Dimensions: dimensions,
		M:          16,
		EfSearch:   20,
	}
}

// ErrDimensionMismatch is returned when a vector's length does not match
// the index's configured dimension (spec §7 kind 5).
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Got)
}

// Index is the VectorIndex component (spec §4.3). All vectors are stored
// L2-normalized so HNSW cosine distance corresponds to the spec's cosine
// similarity scoring.
type Index struct {
	mu     sync.RWMutex
	graph  *hnsw.Graph[uint64]
	config Config

	idMap   map[string]uint64
	keyMap  map[uint64]string
	nextKey uint64

	closed bool
}

type indexMetadata struct {
	IDMap   map[string]uint64
	NextKey uint64
	Config  Config
}

// New creates an empty vector index.
func New(cfg Config) *Index {
	if cfg.M == 0 {
		cfg.M = 16
	}
	if cfg.EfSearch == 0 {
		cfg.EfSearch = 20
	}

	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = cfg.M
	graph.EfSearch = cfg.EfSearch
	graph.Ml = 0.25

	return &Index{
		graph:  graph,
		config: cfg,
		idMap:  make(map[string]uint64),
		keyMap: make(map[uint64]string),
	}
}

// Upsert inserts or replaces the vectors for ids. A re-inserted ID is
// lazily orphaned in the graph rather than deleted in place, avoiding a
// known coder/hnsw defect where removing the graph's last node corrupts it.
func (idx *Index) Upsert(ctx context.Context, ids []string, vectors [][]float32) error {
	if len(ids) == 0 {
		return nil
	}
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch: %d vs %d", len(ids), len(vectors))
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.closed {
		return fmt.Errorf("vector index is closed")
	}

	for _, v := range vectors {
		if len(v) != idx.config.Dimensions {
			return ErrDimensionMismatch{Expected: idx.config.Dimensions, Got: len(v)}
		}
	}

	for i, id := range ids {
		if existingKey, exists := idx.idMap[id]; exists {
			delete(idx.keyMap, existingKey)
			delete(idx.idMap, id)
		}

		key := idx.nextKey
		idx.nextKey++

		vec := make([]float32, len(vectors[i]))
		copy(vec, vectors[i])
		normalizeInPlace(vec)

		idx.graph.Add(hnsw.MakeNode(key, vec))
		idx.idMap[id] = key
		idx.keyMap[key] = id
	}

	return nil
}

// Search returns the k nearest neighbors to query, ranked by cosine
// similarity descending.
func (idx *Index) Search(ctx context.Context, query []float32, k int) ([]Result, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if idx.closed {
		return nil, fmt.Errorf("vector index is closed")
	}
	if len(query) != idx.config.Dimensions {
		return nil, ErrDimensionMismatch{Expected: idx.config.Dimensions, Got: len(query)}
	}
	if idx.graph.Len() == 0 {
		return []Result{}, nil
	}

	normalized := make([]float32, len(query))
	copy(normalized, query)
	normalizeInPlace(normalized)

	nodes := idx.graph.Search(normalized, k)

	results := make([]Result, 0, len(nodes))
	for _, node := range nodes {
		id, exists := idx.keyMap[node.Key]
		if !exists {
			continue // orphaned by a lazy delete
		}
		distance := idx.graph.Distance(normalized, node.Value)
		results = append(results, Result{
			ID:       id,
			Distance: distance,
			Score:    cosineDistanceToScore(distance),
		})
	}

	return results, nil
}

// Delete removes ids from the index (lazily; see Upsert).
func (idx *Index) Delete(ctx context.Context, ids []string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.closed {
		return fmt.Errorf("vector index is closed")
	}

	for _, id := range ids {
		if key, exists := idx.idMap[id]; exists {
			delete(idx.keyMap, key)
			delete(idx.idMap, id)
		}
	}
	return nil
}

// Contains reports whether id currently has a live vector.
func (idx *Index) Contains(id string) bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if idx.closed {
		return false
	}
	_, exists := idx.idMap[id]
	return exists
}

// Count returns the number of live vectors.
func (idx *Index) Count() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if idx.closed {
		return 0
	}
	return len(idx.idMap)
}

// AllIDs returns every live vector ID, for consistency checks against the
// lexical index and document store.
func (idx *Index) AllIDs() []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if idx.closed {
		return nil
	}
	ids := make([]string, 0, len(idx.idMap))
	for id := range idx.idMap {
		ids = append(ids, id)
	}
	return ids
}

// Stats reports live vs. orphaned (lazily-deleted) graph nodes.
type Stats struct {
	ValidIDs   int
	GraphNodes int
	Orphans    int
}

// Stats returns index statistics for operational visibility.
func (idx *Index) Stats() Stats {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if idx.closed {
		return Stats{}
	}
	validIDs := len(idx.idMap)
	graphNodes := idx.graph.Len()
	return Stats{ValidIDs: validIDs, GraphNodes: graphNodes, Orphans: graphNodes - validIDs}
}

// Save persists the graph and ID mappings to path (graph) and path+".meta"
// (mappings), each written atomically via a temp file and rename.
func (idx *Index) Save(path string) error {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if idx.closed {
		return fmt.Errorf("vector index is closed")
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}

	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create index file: %w", err)
	}
	if err := idx.graph.Export(file); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to export graph: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close index file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename index file: %w", err)
	}

	return idx.saveMetadata(path + ".meta")
}

func (idx *Index) saveMetadata(path string) error {
	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create temp metadata file: %w", err)
	}

	meta := indexMetadata{IDMap: idx.idMap, NextKey: idx.nextKey, Config: idx.config}
	encoder := gob.NewEncoder(file)
	if err := encoder.Encode(meta); err != nil {
		if closeErr := file.Close(); closeErr != nil {
			slog.Warn("failed to close temp metadata file", slog.String("error", closeErr.Error()))
		}
		os.Remove(tmpPath)
		return fmt.Errorf("encode metadata: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close metadata file: %w", err)
	}
	return os.Rename(tmpPath, path)
}

// Load restores the graph and ID mappings previously written by Save.
func (idx *Index) Load(path string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.closed {
		return fmt.Errorf("vector index is closed")
	}

	if err := idx.loadMetadata(path + ".meta"); err != nil {
		return fmt.Errorf("failed to load metadata: %w", err)
	}

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open index file: %w", err)
	}
	defer file.Close()

	reader := bufio.NewReader(file)
	if err := idx.graph.Import(reader); err != nil {
		return fmt.Errorf("failed to import graph: %w", err)
	}

	return nil
}

func (idx *Index) loadMetadata(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open metadata file: %w", err)
	}
	defer func() {
		if err := file.Close(); err != nil {
			slog.Warn("failed to close metadata file", slog.String("error", err.Error()))
		}
	}()

	var meta indexMetadata
	decoder := gob.NewDecoder(file)
	if err := decoder.Decode(&meta); err != nil {
		return fmt.Errorf("decode vector index metadata: %w", err)
	}

	idx.idMap = meta.IDMap
	idx.keyMap = make(map[uint64]string, len(meta.IDMap))
	idx.nextKey = meta.NextKey
	idx.config = meta.Config
	for id, key := range idx.idMap {
		idx.keyMap[key] = id
	}

	return nil
}

// Close releases the index's in-memory graph.
func (idx *Index) Close() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.closed {
		return nil
	}
	idx.closed = true
	idx.graph = nil
	return nil
}

func normalizeInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= inv
	}
}

// cosineDistanceToScore maps a 0-2 cosine distance onto a 0-1 similarity
// score, matching the linear mapping the lexical/vector blend normalizes
// against (spec §4.6).
func cosineDistanceToScore(distance float32) float32 {
	return 1.0 - distance/2.0
}
