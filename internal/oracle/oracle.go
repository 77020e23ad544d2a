// Package oracle implements OracleClient (spec §4.9): an optional LLM
// capability set (query expansion, related-query generation, prefix-
// completion ranking) that degrades to empty results rather than failing
// the caller whenever it times out, errors, or returns something
// unparseable.
package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	qerrors "github.com/amanbi/qassist/internal/errors"
	"github.com/amanbi/qassist/internal/model"
)

// RankedCompletion is one scored prefix-tail completion returned by
// RankPrefixCompletions.
type RankedCompletion struct {
	Text  string
	Score float64
}

// Client is the OracleClient capability set. Every method swallows its own
// failures (spec §4.9): a timeout, transport error, or unparseable response
// yields an empty result, never an error the caller has to handle.
type Client interface {
	ExpandQuery(ctx context.Context, query string) []string
	GenerateRelated(ctx context.Context, query string, reqCtx *model.RequestContext) []string
	RankPrefixCompletions(ctx context.Context, prefix, tail string, candidates []string, reqCtx *model.RequestContext) []RankedCompletion
	IsAvailable(ctx context.Context) bool
}

// NoopOracle is the default Client: always unavailable, always empty. The
// Orchestrator and PrefixCompletionEngine fall back to their non-LLM paths
// whenever IsAvailable reports false.
type NoopOracle struct{}

var _ Client = NoopOracle{}

func (NoopOracle) ExpandQuery(context.Context, string) []string { return nil }
func (NoopOracle) GenerateRelated(context.Context, string, *model.RequestContext) []string {
	return nil
}
func (NoopOracle) RankPrefixCompletions(context.Context, string, string, []string, *model.RequestContext) []RankedCompletion {
	return nil
}
func (NoopOracle) IsAvailable(context.Context) bool { return false }

// OllamaConfig configures an OllamaOracle.
type OllamaConfig struct {
	Host          string
	Model         string
	Temperature   float64
	MaxTokens     int
	Timeout       time.Duration // T_oracle, spec default 1s
	MaxExpansions int           // E, spec default 3
	MaxRelated    int           // R, spec default 5
}

// DefaultOllamaConfig returns spec §4.9/§6 defaults.
func DefaultOllamaConfig() OllamaConfig {
	return OllamaConfig{
		Host:          "http://localhost:11434",
		Model:         "llama3.2",
		Temperature:   0.3,
		MaxTokens:     256,
		Timeout:       time.Second,
		MaxExpansions: 3,
		MaxRelated:    5,
	}
}

type ollamaGenerateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type ollamaGenerateResponse struct {
	Response string `json:"response"`
}

// OllamaOracle is an HTTP-backed Client against Ollama's /api/generate,
// guarded by a circuit breaker (internal/errors.CircuitBreaker) so a
// flapping or overloaded Ollama server degrades to "not available" instead
// of retrying into the request's latency budget repeatedly.
type OllamaOracle struct {
	client  *http.Client
	config  OllamaConfig
	breaker *qerrors.CircuitBreaker
}

var _ Client = (*OllamaOracle)(nil)

// NewOllamaOracle creates an OllamaOracle. It does not probe the server;
// IsAvailable and the first real call discover reachability lazily.
func NewOllamaOracle(cfg OllamaConfig) *OllamaOracle {
	if cfg.Host == "" {
		cfg.Host = DefaultOllamaConfig().Host
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOllamaConfig().Model
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Second
	}
	if cfg.MaxExpansions <= 0 {
		cfg.MaxExpansions = 3
	}
	if cfg.MaxRelated <= 0 {
		cfg.MaxRelated = 5
	}

	return &OllamaOracle{
		client:  &http.Client{Timeout: cfg.Timeout + 2*time.Second},
		config:  cfg,
		breaker: qerrors.NewCircuitBreaker("oracle-ollama", qerrors.WithMaxFailures(3), qerrors.WithResetTimeout(30*time.Second)),
	}
}

// ExpandQuery is expand_query(q): up to E semantic paraphrases.
func (o *OllamaOracle) ExpandQuery(ctx context.Context, query string) []string {
	prompt := fmt.Sprintf(
		"Give up to %d alternative phrasings of this search query, one per line, no numbering or commentary:\n%s",
		o.config.MaxExpansions, query)

	text, err := o.generate(ctx, prompt)
	if err != nil {
		slog.Warn("oracle_expand_query_failed", slog.String("error", err.Error()))
		return nil
	}
	return parseLines(text, o.config.MaxExpansions)
}

// GenerateRelated is generate_related(q, context?): up to R related queries.
func (o *OllamaOracle) GenerateRelated(ctx context.Context, query string, reqCtx *model.RequestContext) []string {
	prompt := fmt.Sprintf(
		"Suggest up to %d related search queries a user might ask next, one per line, no numbering or commentary:\n%s%s",
		o.config.MaxRelated, query, domainHint(reqCtx))

	text, err := o.generate(ctx, prompt)
	if err != nil {
		slog.Warn("oracle_generate_related_failed", slog.String("error", err.Error()))
		return nil
	}
	return parseLines(text, o.config.MaxRelated)
}

// RankPrefixCompletions is rank_prefix_completions(prefix, tail, candidates,
// context?). The model is asked for a strict JSON array; an unparseable
// response yields nil so PrefixCompletionEngine falls back to its own
// frequency-based scoring.
func (o *OllamaOracle) RankPrefixCompletions(ctx context.Context, prefix, tail string, candidates []string, reqCtx *model.RequestContext) []RankedCompletion {
	if len(candidates) == 0 {
		return nil
	}

	prompt := fmt.Sprintf(
		`A user is typing the query "%s%s" and has typed the partial last word "%s". `+
			`Given these completions for that word: %s%s`+
			`Return ONLY a JSON array of objects {"text": completed_tail, "score": 0..1}, most likely first. No commentary.`,
		prefix, tail, tail, strings.Join(candidates, ", "), domainHint(reqCtx))

	text, err := o.generate(ctx, prompt)
	if err != nil {
		slog.Warn("oracle_rank_prefix_completions_failed", slog.String("error", err.Error()))
		return nil
	}

	var parsed []RankedCompletion
	if jsonErr := json.Unmarshal([]byte(extractJSONArray(text)), &parsed); jsonErr != nil {
		slog.Warn("oracle_rank_prefix_completions_unparseable", slog.String("error", jsonErr.Error()))
		return nil
	}
	return parsed
}

// IsAvailable reports whether the circuit is closed and Ollama answers a
// lightweight tag listing within the oracle timeout.
func (o *OllamaOracle) IsAvailable(ctx context.Context) bool {
	if !o.breaker.Allow() {
		return false
	}

	checkCtx, cancel := context.WithTimeout(ctx, o.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(checkCtx, http.MethodGet, o.config.Host+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := o.client.Do(req)
	if err != nil {
		o.breaker.RecordFailure()
		return false
	}
	defer func() { _ = resp.Body.Close() }()

	ok := resp.StatusCode == http.StatusOK
	if ok {
		o.breaker.RecordSuccess()
	} else {
		o.breaker.RecordFailure()
	}
	return ok
}

func (o *OllamaOracle) generate(ctx context.Context, prompt string) (string, error) {
	if !o.breaker.Allow() {
		return "", qerrors.ErrCircuitOpen
	}

	genCtx, cancel := context.WithTimeout(ctx, o.config.Timeout)
	defer cancel()

	reqBody := ollamaGenerateRequest{
		Model:  o.config.Model,
		Prompt: prompt,
		Stream: false,
		Options: map[string]any{
			"temperature": o.config.Temperature,
			"num_predict": o.config.MaxTokens,
		},
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(genCtx, http.MethodPost, o.config.Host+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		o.breaker.RecordFailure()
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		o.breaker.RecordFailure()
		return "", fmt.Errorf("oracle request failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	var result ollamaGenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		o.breaker.RecordFailure()
		return "", fmt.Errorf("decode response: %w", err)
	}

	o.breaker.RecordSuccess()
	return result.Response, nil
}

func domainHint(reqCtx *model.RequestContext) string {
	if reqCtx == nil || reqCtx.Domain == "" {
		return ""
	}
	return fmt.Sprintf("\n(domain: %s)", reqCtx.Domain)
}

func parseLines(text string, limit int) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimLeft(line, "-*0123456789. ")
		if line == "" {
			continue
		}
		out = append(out, line)
		if len(out) >= limit {
			break
		}
	}
	return out
}

// extractJSONArray trims any leading/trailing prose a model adds around the
// requested JSON array, returning the substring from the first '[' to the
// last ']'.
func extractJSONArray(text string) string {
	start := strings.IndexByte(text, '[')
	end := strings.LastIndexByte(text, ']')
	if start == -1 || end == -1 || end < start {
		return "[]"
	}
	return text[start : end+1]
}
