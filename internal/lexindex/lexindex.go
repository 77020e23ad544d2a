// Package lexindex implements LexicalIndex (spec §4.2). Bleve provides
// candidate retrieval only (a disjunction of match and fuzzy queries over
// text plus a match query over keywords, using a query-text-aware
// analyzer); the final score for each
// candidate is computed deterministically in Go from phrase-prefix match,
// fuzzy edit distance, term overlap, and popularity, so the ranking formula
// is exact and testable rather than whatever internal weighting Bleve's own
// relevance score applies.
package lexindex

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/registry"

	"github.com/amanbi/qassist/internal/qtext"
)

const (
	queryTokenizerName = "qassist_query_tokenizer"
	queryAnalyzerName  = "qassist_query_analyzer"
)

func init() {
	_ = registry.RegisterTokenizer(queryTokenizerName, queryTokenizerConstructor)
}

// Weights controls the linear combination of scoring components
// (spec §4.2). They need not sum to 1; Score is not itself normalized,
// only comparable across candidates from the same Index.
type Weights struct {
	PhrasePrefix float64
	Fuzzy        float64
	// Term weighs the keywords-field exact token intersection (spec §4.2
	// mode 3: "Term on keywords: exact token intersection, strongly
	// boosted"), not a match against text.
	Term       float64
	Popularity float64
}

// DefaultWeights matches spec §4.2/§6's lexical scoring defaults: term on
// keywords is the dominant component, ahead of phrase-prefix, ahead of
// fuzzy.
func DefaultWeights() Weights {
	return Weights{
		PhrasePrefix: 3,
		Fuzzy:        1,
		Term:         5,
		Popularity:   1,
	}
}

// Config configures a lexical index.
type Config struct {
	Weights Weights
	// MaxEditDistance bounds the fuzzy-match component (spec default: 2).
	MaxEditDistance int
	// CandidateLimit bounds how many documents Bleve returns as candidates
	// for rescoring, before Search's own limit is applied.
	CandidateLimit int
}

// DefaultConfig returns spec §6 defaults.
func DefaultConfig() Config {
	return Config{
		Weights:         DefaultWeights(),
		MaxEditDistance: 2,
		CandidateLimit:  200,
	}
}

// Result is one scored candidate.
type Result struct {
	ID           string
	Score        float64
	MatchedTerms []string
}

type bleveDoc struct {
	Text      string   `json:"text"`
	Keywords  []string `json:"keywords"`
	Frequency int64    `json:"frequency"`
}

// Index is the LexicalIndex component.
type Index struct {
	mu     sync.RWMutex
	bleve  bleve.Index
	config Config
	closed bool

	// text, keywords, and frequency mirror bleve's stored fields so scoring
	// can run without round-tripping through bleve's document API per
	// candidate.
	text      map[string]string
	keywords  map[string][]string
	frequency map[string]int64
}

// New creates an in-memory lexical index.
func New(cfg Config) (*Index, error) {
	return newIndex("", cfg)
}

// Open creates or opens a disk-backed lexical index at path.
func Open(path string, cfg Config) (*Index, error) {
	return newIndex(path, cfg)
}

func newIndex(path string, cfg Config) (*Index, error) {
	indexMapping, err := buildMapping()
	if err != nil {
		return nil, fmt.Errorf("failed to build index mapping: %w", err)
	}

	var idx bleve.Index
	if path == "" {
		idx, err = bleve.NewMemOnly(indexMapping)
	} else {
		if dir := filepath.Dir(path); dir != "" {
			if mkErr := os.MkdirAll(dir, 0o755); mkErr != nil {
				return nil, fmt.Errorf("failed to create directory %s: %w", dir, mkErr)
			}
		}
		idx, err = bleve.Open(path)
		if err == bleve.ErrorIndexPathDoesNotExist {
			idx, err = bleve.New(path, indexMapping)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create/open lexical index: %w", err)
	}

	if cfg.MaxEditDistance <= 0 {
		cfg.MaxEditDistance = 2
	}
	if cfg.CandidateLimit <= 0 {
		cfg.CandidateLimit = 200
	}

	return &Index{
		bleve:     idx,
		config:    cfg,
		text:      make(map[string]string),
		keywords:  make(map[string][]string),
		frequency: make(map[string]int64),
	}, nil
}

func buildMapping() (*mapping.IndexMappingImpl, error) {
	indexMapping := bleve.NewIndexMapping()
	err := indexMapping.AddCustomAnalyzer(queryAnalyzerName, map[string]any{
		"type":          custom.Name,
		"tokenizer":     queryTokenizerName,
		"token_filters": []string{lowercase.Name},
	})
	if err != nil {
		return nil, err
	}
	indexMapping.DefaultAnalyzer = queryAnalyzerName
	return indexMapping, nil
}

// Upsert indexes or reindexes a document's text, keywords, and frequency.
// keywords is the normalized-token set spec §3 names for boosted term
// matches (mode 3 of Search); it may be nil.
func (idx *Index) Upsert(ctx context.Context, id, text string, keywords []string, frequency int64) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.closed {
		return fmt.Errorf("lexical index is closed")
	}

	if err := idx.bleve.Index(id, bleveDoc{Text: text, Keywords: keywords, Frequency: frequency}); err != nil {
		return fmt.Errorf("failed to index document %s: %w", id, err)
	}
	idx.text[id] = text
	idx.keywords[id] = keywords
	idx.frequency[id] = frequency
	return nil
}

// Delete removes documents by ID.
func (idx *Index) Delete(ctx context.Context, ids []string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.closed {
		return fmt.Errorf("lexical index is closed")
	}

	batch := idx.bleve.NewBatch()
	for _, id := range ids {
		batch.Delete(id)
		delete(idx.text, id)
		delete(idx.keywords, id)
		delete(idx.frequency, id)
	}
	if err := idx.bleve.Batch(batch); err != nil {
		return fmt.Errorf("failed to delete documents: %w", err)
	}
	return nil
}

// Search returns the top `limit` candidates for query, scored by the
// phrase-prefix/fuzzy/term/popularity formula (spec §4.2), with
// deterministic ordering by score desc, then frequency desc, then ID asc.
func (idx *Index) Search(ctx context.Context, queryText string, limit int) ([]Result, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if idx.closed {
		return nil, fmt.Errorf("lexical index is closed")
	}
	if strings.TrimSpace(queryText) == "" {
		return []Result{}, nil
	}

	candidates, err := idx.retrieveCandidates(ctx, queryText)
	if err != nil {
		return nil, err
	}

	queryTokens := qtext.Words(strings.ToLower(queryText))
	queryLower := strings.ToLower(queryText)

	results := make([]Result, 0, len(candidates))
	for _, id := range candidates {
		text, ok := idx.text[id]
		if !ok {
			continue
		}
		freq := idx.frequency[id]
		kw := idx.keywords[id]
		score, matched := idx.scoreCandidate(queryLower, queryTokens, text, kw, freq)
		if score <= 0 {
			continue
		}
		results = append(results, Result{ID: id, Score: score, MatchedTerms: matched})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if idx.frequency[results[i].ID] != idx.frequency[results[j].ID] {
			return idx.frequency[results[i].ID] > idx.frequency[results[j].ID]
		}
		return results[i].ID < results[j].ID
	})

	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// retrieveCandidates runs a disjunction of text match/fuzzy and keywords
// match queries against
// Bleve purely to narrow the candidate set; Bleve's own relevance score is
// discarded in favor of scoreCandidate.
func (idx *Index) retrieveCandidates(ctx context.Context, queryText string) ([]string, error) {
	matchQuery := bleve.NewMatchQuery(queryText)
	matchQuery.SetField("text")

	fuzzyQuery := bleve.NewFuzzyQuery(queryText)
	fuzzyQuery.SetField("text")
	fuzzyQuery.Fuzziness = idx.config.MaxEditDistance

	keywordQuery := bleve.NewMatchQuery(queryText)
	keywordQuery.SetField("keywords")

	disjunction := bleve.NewDisjunctionQuery(matchQuery, fuzzyQuery, keywordQuery)

	req := bleve.NewSearchRequest(disjunction)
	req.Size = idx.config.CandidateLimit
	req.Fields = []string{}

	result, err := idx.bleve.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("candidate search failed: %w", err)
	}

	ids := make([]string, 0, len(result.Hits))
	for _, hit := range result.Hits {
		ids = append(ids, hit.ID)
	}
	return ids, nil
}

// scoreCandidate computes the spec §4.2 linear combination for one
// candidate: phrase-prefix and fuzzy against text, term against keywords
// (exact token intersection, spec §4.2 mode 3), plus popularity. It returns
// the score and the query tokens found among the keywords, which Search
// reports as Result.MatchedTerms.
func (idx *Index) scoreCandidate(queryLower string, queryTokens []string, text string, keywords []string, frequency int64) (float64, []string) {
	textLower := strings.ToLower(text)
	w := idx.config.Weights

	var prefixScore float64
	if strings.HasPrefix(textLower, queryLower) {
		prefixScore = 1.0
	} else if strings.Contains(textLower, queryLower) {
		prefixScore = 0.5
	}

	dist := qtext.Levenshtein(queryLower, textLower)
	maxLen := len([]rune(queryLower))
	if l := len([]rune(textLower)); l > maxLen {
		maxLen = l
	}
	var fuzzyScore float64
	if maxLen > 0 && dist <= idx.config.MaxEditDistance {
		fuzzyScore = 1.0 - float64(dist)/float64(maxLen)
	}

	keywordSet := make(map[string]struct{}, len(keywords))
	for _, k := range keywords {
		keywordSet[strings.ToLower(k)] = struct{}{}
	}
	var matched []string
	for _, qt := range queryTokens {
		if _, ok := keywordSet[qt]; ok {
			matched = append(matched, qt)
		}
	}
	var termScore float64
	if len(queryTokens) > 0 {
		termScore = float64(len(matched)) / float64(len(queryTokens))
	}

	popularityScore := frequency1p(frequency)

	score := w.PhrasePrefix*prefixScore + w.Fuzzy*fuzzyScore + w.Term*termScore + w.Popularity*popularityScore
	return score, matched
}

// frequency1p maps a frequency count onto (0, 1) via a saturating curve so
// a single popular document cannot dominate the popularity term
// indefinitely.
func frequency1p(frequency int64) float64 {
	if frequency <= 0 {
		return 0
	}
	f := float64(frequency)
	return f / (f + 10.0)
}

// AllIDs returns every indexed document ID, for consistency checks against
// the vector index and document store.
func (idx *Index) AllIDs() ([]string, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if idx.closed {
		return nil, fmt.Errorf("lexical index is closed")
	}
	ids := make([]string, 0, len(idx.text))
	for id := range idx.text {
		ids = append(ids, id)
	}
	return ids, nil
}

// Close closes the underlying Bleve index.
func (idx *Index) Close() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.closed {
		return nil
	}
	idx.closed = true
	return idx.bleve.Close()
}

// queryTokenizerConstructor adapts qtext.Tokenize (CJK+Latin aware) into a
// Bleve analysis.Tokenizer, so indexed query text and fuzzy/match queries
// segment identically to the PrefixCompletionEngine and static embedder.
func queryTokenizerConstructor(config map[string]any, cache *registry.Cache) (analysis.Tokenizer, error) {
	return &queryTokenizer{}, nil
}

type queryTokenizer struct{}

func (t *queryTokenizer) Tokenize(input []byte) analysis.TokenStream {
	text := string(input)
	toks := qtext.Tokenize(text)

	stream := make(analysis.TokenStream, 0, len(toks))
	for i, tok := range toks {
		stream = append(stream, &analysis.Token{
			Term:     []byte(tok.Text),
			Start:    tok.Start,
			End:      tok.End,
			Position: i + 1,
			Type:     analysis.AlphaNumeric,
		})
	}
	return stream
}
