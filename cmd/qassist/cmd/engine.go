package cmd

import (
	"context"
	"fmt"

	"github.com/amanbi/qassist/internal/behavior"
	"github.com/amanbi/qassist/internal/config"
	"github.com/amanbi/qassist/internal/docstore"
	"github.com/amanbi/qassist/internal/embed"
	"github.com/amanbi/qassist/internal/hybrid"
	"github.com/amanbi/qassist/internal/lexindex"
	"github.com/amanbi/qassist/internal/oracle"
	"github.com/amanbi/qassist/internal/orchestrator"
	"github.com/amanbi/qassist/internal/prefix"
	"github.com/amanbi/qassist/internal/rank"
	"github.com/amanbi/qassist/internal/vecindex"
)

// engineHandle bundles the Orchestrator with the components whose
// lifetimes it doesn't own (spec §9's initialize/shutdown split: New wires
// already-built components, so whatever builds them here also closes
// them).
type engineHandle struct {
	*orchestrator.Engine

	lexical  *lexindex.Index
	behavior *behavior.Store
}

// Close releases the components the Orchestrator itself treats as
// borrowed: the lexical index (bleve) and the behavior store (sqlite).
func (h *engineHandle) Close() error {
	var firstErr error
	if h.behavior != nil {
		if err := h.behavior.Close(); err != nil {
			firstErr = err
		}
	}
	if h.lexical != nil {
		if err := h.lexical.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// buildEngine wires every component (spec §4's C1-C10) from a loaded
// config into one Orchestrator, in dependency order: embedder, the two
// index components, the document store, the behavior store, the hybrid
// searcher, the ranker, the oracle client, and the prefix engine (which
// takes the oracle client).
//
// rank.Config and orchestrator.Config have no corresponding section in
// config.Config (spec §6 names only search/embedder/behavior/prefix/
// oracle/timeouts), so both are left at their component defaults here;
// see DESIGN.md for the reasoning.
func buildEngine(ctx context.Context, cfg *config.Config) (*engineHandle, error) {
	embedder, err := embed.NewEmbedder(ctx, embed.Config{
		Provider:   embed.ProviderType(cfg.Embedder.Provider),
		Model:      cfg.Embedder.Model,
		Dimensions: cfg.Embedder.Dimensions,
		CacheSize:  cfg.Embedder.CacheSize,
		OllamaHost: cfg.Embedder.OllamaHost,
	})
	if err != nil {
		return nil, fmt.Errorf("build embedder: %w", err)
	}

	lexical, err := lexindex.New(lexindex.Config{
		Weights: lexindex.Weights{
			PhrasePrefix: cfg.Search.PhrasePrefixWeight,
			Fuzzy:        cfg.Search.FuzzyWeight,
			Term:         cfg.Search.TermWeight,
			Popularity:   cfg.Search.PopularityWeight,
		},
		MaxEditDistance: lexindex.DefaultConfig().MaxEditDistance,
		CandidateLimit:  lexindex.DefaultConfig().CandidateLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("build lexical index: %w", err)
	}

	vector := vecindex.New(vecindex.DefaultConfig(cfg.Embedder.Dimensions))

	docs := docstore.New(lexical, vector, embedder)

	behaviorStore, err := behavior.Open(cfg.Behavior.DatabasePath, behavior.Config{
		HistoryCap:             cfg.Behavior.HistoryCap,
		PreferenceTTL:          cfg.Behavior.PreferenceTTL,
		TopPreferences:         cfg.Behavior.TopPreferences,
		SequenceLimit:          cfg.Behavior.SequenceLimit,
		LastSelectionCacheSize: cfg.Behavior.LastSelectionCacheSize,
	})
	if err != nil {
		lexical.Close()
		return nil, fmt.Errorf("open behavior store: %w", err)
	}

	searcher := hybrid.New(lexical, vector, docs, hybrid.Config{
		LexicalWeight: cfg.Search.KeywordWeight,
		VectorWeight:  cfg.Search.VectorWeight,
		LexicalLimit:  cfg.Search.LexicalLimit,
		VectorLimit:   cfg.Search.VectorLimit,
		LexTimeout:    cfg.Timeouts.Lexical,
		VecTimeout:    cfg.Timeouts.Vector,
	})

	ranker := rank.New(docs, behaviorStore, rank.DefaultConfig())

	var oracleClient oracle.Client = oracle.NoopOracle{}
	if cfg.Oracle.Enabled {
		oracleClient = oracle.NewOllamaOracle(oracle.OllamaConfig{
			Host:          cfg.Oracle.Host,
			Model:         cfg.Oracle.Model,
			Temperature:   cfg.Oracle.Temperature,
			MaxTokens:     cfg.Oracle.MaxTokens,
			Timeout:       cfg.Oracle.Timeout,
			MaxExpansions: cfg.Oracle.MaxExpansions,
			MaxRelated:    cfg.Oracle.MaxRelated,
		})
	}

	prefixEngine := prefix.New(lexical, docs, oracleClient, prefix.Config{
		MinTokens:        cfg.Prefix.MinTokens,
		MinTailChars:     cfg.Prefix.MinTailChars,
		CandidateLimit:   cfg.Prefix.CandidateLimit,
		MinPreserved:     cfg.Prefix.MinPreserved,
		FallbackLogScale: cfg.Prefix.FallbackLogScale,
	})

	engineCfg := orchestrator.DefaultConfig()
	engineCfg.TotalTimeout = cfg.Timeouts.Total

	eng, err := orchestrator.New(embedder, searcher, ranker, prefixEngine, oracleClient, docs, behaviorStore, engineCfg)
	if err != nil {
		behaviorStore.Close()
		lexical.Close()
		return nil, fmt.Errorf("build orchestrator: %w", err)
	}

	return &engineHandle{Engine: eng, lexical: lexical, behavior: behaviorStore}, nil
}
