//go:build ignore

// Package main generates a synthetic BI query corpus for benchmarking
// document ingestion and HybridSearcher/PrefixCompletionEngine latency.
// Usage: go run scripts/generate-test-corpus.go -queries 1000 -output testdata/bench/queries.jsonl
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
)

var (
	numQueries = flag.Int("queries", 1000, "Number of synthetic queries to generate")
	outputPath = flag.String("output", "testdata/bench/queries.jsonl", "Output JSONL path")
	seed       = flag.Int64("seed", 42, "Random seed for reproducibility")
)

// corpusDoc mirrors the shape internal/docstore.Store.BulkAdd expects
// (model.Document's exported fields), kept local so this tool has no
// dependency on the module's internal packages.
type corpusDoc struct {
	Text     string `json:"text"`
	Metadata any    `json:"metadata,omitempty"`
}

var (
	metrics = []string{
		"revenue", "profit margin", "churn rate", "active users", "conversion rate",
		"customer lifetime value", "average order value", "retention rate",
		"signup rate", "bounce rate", "session duration", "inventory turnover",
		"gross margin", "operating expenses", "cash flow", "burn rate",
	}
	dimensions = []string{
		"by region", "by product category", "by customer segment", "by channel",
		"by month", "by quarter", "by sales rep", "by cohort", "by device type",
		"year over year", "month over month", "week over week",
	}
	qualifiers = []string{
		"top 10", "bottom 5", "trending", "forecasted", "year-to-date",
		"last 30 days", "last quarter", "this fiscal year", "compared to last year",
	}
	verbs = []string{
		"show me", "what is", "compare", "break down", "summarize", "visualize",
		"chart", "list", "find", "analyze",
	}
)

func randomWord(pool []string) string {
	return pool[rand.Intn(len(pool))]
}

// generateQuery composes a query string the way a BI chat user might type
// one, e.g. "show me quarterly revenue by region trending".
func generateQuery() string {
	verb := randomWord(verbs)
	metric := randomWord(metrics)
	parts := []string{verb, metric}

	if rand.Intn(3) != 0 {
		parts = append(parts, randomWord(dimensions))
	}
	if rand.Intn(2) == 0 {
		parts = append(parts, randomWord(qualifiers))
	}

	query := parts[0]
	for _, p := range parts[1:] {
		query += " " + p
	}
	return query
}

func main() {
	flag.Parse()
	rand.Seed(*seed)

	if err := os.MkdirAll(filepath.Dir(*outputPath), 0755); err != nil {
		fmt.Fprintf(os.Stderr, "Error creating output directory: %v\n", err)
		os.Exit(1)
	}

	f, err := os.Create(*outputPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating output file: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = f.Close() }()

	fmt.Printf("Generating %d synthetic queries in %s...\n", *numQueries, *outputPath)

	seen := make(map[string]bool, *numQueries)
	encoder := json.NewEncoder(f)
	written := 0
	for written < *numQueries {
		q := generateQuery()
		if seen[q] {
			continue // keep the corpus free of exact duplicates
		}
		seen[q] = true

		doc := corpusDoc{
			Text: q,
			Metadata: map[string]string{
				"source": "synthetic",
			},
		}
		if err := encoder.Encode(doc); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing query: %v\n", err)
			os.Exit(1)
		}
		written++
	}

	fmt.Printf("Generated %d unique queries successfully.\n", written)
}
