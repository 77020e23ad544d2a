package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/amanbi/qassist/internal/model"
	"github.com/amanbi/qassist/internal/output"
)

// corpusLine mirrors scripts/generate-test-corpus.go's output shape, so a
// generated corpus can be piped straight into `qassist ingest --file`.
type corpusLine struct {
	Text     string            `json:"text"`
	Keywords []string          `json:"keywords,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func newIngestCmd() *cobra.Command {
	var (
		file     string
		id       string
		keywords []string
		metadata []string
	)

	cmd := &cobra.Command{
		Use:   "ingest [text]",
		Short: "Add one or more documents to the engine",
		Long: `Add a document to the DocumentStore, indexing it into both the
lexical and vector indexes (spec §4.3 add_document). --keywords supplies
the normalized tokens LexicalIndex's term mode strongly boosts on (spec
§4.2), independent of the visible text.

With --file, reads a JSONL corpus (one {"text": ..., "keywords": [...],
"metadata": ...} object per line, keywords optional; the text/metadata
lines of scripts/generate-test-corpus.go fit this shape) and bulk-adds
every line (spec §4.3 bulk_add_document), reporting a per-document
success/error split for documents that fail validation. A line that is
not valid JSON stops the ingest before any document is added.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if file != "" {
				return runBulkIngest(cmd, file)
			}
			if len(args) == 0 {
				return fmt.Errorf("provide text to ingest, or --file for bulk ingest")
			}
			md, err := parseMetadataFlags(metadata)
			if err != nil {
				return err
			}
			return runIngest(cmd, args[0], id, keywords, md)
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "Path to a JSONL corpus for bulk ingestion")
	cmd.Flags().StringVar(&id, "id", "", "Explicit document ID (defaults to a stable hash of the text)")
	cmd.Flags().StringSliceVar(&keywords, "keywords", nil, "Comma-separated normalized tokens for boosted term matches")
	cmd.Flags().StringArrayVar(&metadata, "metadata", nil, "Document metadata as key=value, repeatable")
	return cmd
}

// parseMetadataFlags turns repeated --metadata k=v flags into a map.
func parseMetadataFlags(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	md := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --metadata %q, expected key=value", p)
		}
		md[k] = v
	}
	return md, nil
}

func runIngest(cmd *cobra.Command, text, id string, keywords []string, metadata map[string]string) error {
	ctx := context.Background()
	out := output.New(cmd.OutOrStdout())

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	eng, err := buildEngine(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to build engine: %w", err)
	}
	defer eng.Close()

	doc, err := eng.AddDocument(ctx, &model.Document{ID: id, Text: text, Keywords: keywords, Metadata: metadata})
	if err != nil {
		return fmt.Errorf("add_document failed: %w", err)
	}

	out.Success("Document added")
	out.Statusf("", "id: %s", doc.ID)
	return nil
}

func runBulkIngest(cmd *cobra.Command, file string) error {
	ctx := context.Background()
	out := output.New(cmd.OutOrStdout())

	f, err := os.Open(file)
	if err != nil {
		return fmt.Errorf("open corpus file: %w", err)
	}
	defer f.Close()

	var docs []*model.Document
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var cl corpusLine
		if err := json.Unmarshal(line, &cl); err != nil {
			return fmt.Errorf("parse corpus line: %w", err)
		}
		docs = append(docs, &model.Document{Text: cl.Text, Keywords: cl.Keywords, Metadata: cl.Metadata})
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read corpus file: %w", err)
	}

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	eng, err := buildEngine(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to build engine: %w", err)
	}
	defer eng.Close()

	result, err := eng.BulkAddDocuments(ctx, docs)
	if err != nil {
		return fmt.Errorf("bulk_add_document failed: %w", err)
	}

	out.Successf("Added %d documents", result.SuccessCount)
	if result.ErrorCount > 0 {
		out.Warningf("%d documents failed validation", result.ErrorCount)
		for key, msg := range result.PerIDErrors {
			out.Statusf("", "%s: %s", key, msg)
		}
	}
	return nil
}
