package embed

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"
)

// ProviderType identifies an embedding provider (spec §6 embedder.provider).
type ProviderType string

const (
	// ProviderStatic uses the deterministic hash-based embedder. It has no
	// external dependency and is the default, so the engine always starts.
	ProviderStatic ProviderType = "static"

	// ProviderOllama calls a local Ollama server's embedding API.
	ProviderOllama ProviderType = "ollama"
)

// Config is the subset of the engine's embedder configuration (spec §6)
// needed to construct an Embedder.
type Config struct {
	Provider   ProviderType
	Model      string
	Dimensions int
	CacheSize  int
	// OllamaHost overrides the Ollama provider's default endpoint.
	OllamaHost string
	// OllamaTimeout bounds a single Ollama embedding call.
	OllamaTimeout string
}

// NewEmbedder constructs the Embedder named by cfg.Provider, wrapped in a
// CachedEmbedder unless caching is disabled via QASSIST_EMBED_CACHE.
//
// The AMANMCP_EMBEDDER environment variable from the teacher's config
// loader is replaced here by QASSIST_EMBEDDER, which takes precedence over
// cfg.Provider so operators can override the provider without editing
// config.yaml.
func NewEmbedder(ctx context.Context, cfg Config) (Embedder, error) {
	provider := cfg.Provider
	if envProvider := os.Getenv("QASSIST_EMBEDDER"); envProvider != "" {
		provider = ProviderType(strings.ToLower(envProvider))
	}

	dims := cfg.Dimensions
	if dims <= 0 {
		dims = DefaultDimensions
	}

	var embedder Embedder
	var err error

	switch provider {
	case ProviderOllama:
		embedder, err = newOllama(ctx, cfg)
	case ProviderStatic, "":
		embedder = NewStaticEmbedder(dims)
	default:
		return nil, fmt.Errorf("unknown embedder provider %q", provider)
	}
	if err != nil {
		return nil, fmt.Errorf("embedder %q unavailable: %w", provider, err)
	}

	if !isCacheDisabled() {
		cacheSize := cfg.CacheSize
		if cacheSize <= 0 {
			cacheSize = DefaultEmbeddingCacheSize
		}
		embedder = NewCachedEmbedder(embedder, cacheSize)
	}

	return embedder, nil
}

func isCacheDisabled() bool {
	v := strings.ToLower(os.Getenv("QASSIST_EMBED_CACHE"))
	return v == "false" || v == "0" || v == "off" || v == "disabled"
}

func newOllama(ctx context.Context, cfg Config) (Embedder, error) {
	ocfg := DefaultOllamaConfig()
	if cfg.Model != "" {
		ocfg.Model = cfg.Model
	}
	if cfg.OllamaHost != "" {
		ocfg.Host = cfg.OllamaHost
	}
	if host := os.Getenv("QASSIST_OLLAMA_HOST"); host != "" {
		ocfg.Host = host
	}
	if model := os.Getenv("QASSIST_OLLAMA_MODEL"); model != "" {
		ocfg.Model = model
	}
	if d, err := time.ParseDuration(cfg.OllamaTimeout); err == nil && d > 0 {
		ocfg.Timeout = d
	}
	return NewOllamaEmbedder(ctx, ocfg)
}

// ParseProvider converts a config string into a ProviderType, defaulting to
// the static provider for unrecognized values so the engine degrades to a
// dependency-free embedder rather than failing to start.
func ParseProvider(s string) ProviderType {
	switch strings.ToLower(s) {
	case "ollama":
		return ProviderOllama
	default:
		return ProviderStatic
	}
}

// EmbedderInfo summarizes a constructed Embedder, useful for startup logs.
type EmbedderInfo struct {
	Provider   ProviderType
	Model      string
	Dimensions int
	Available  bool
}

// GetInfo inspects embedder, unwrapping a CachedEmbedder to identify the
// underlying provider.
func GetInfo(ctx context.Context, embedder Embedder) EmbedderInfo {
	info := EmbedderInfo{
		Model:      embedder.ModelName(),
		Dimensions: embedder.Dimensions(),
		Available:  embedder.Available(ctx),
	}

	inner := embedder
	if cached, ok := embedder.(*CachedEmbedder); ok {
		inner = cached.Inner()
	}

	switch inner.(type) {
	case *OllamaEmbedder:
		info.Provider = ProviderOllama
	default:
		info.Provider = ProviderStatic
	}

	return info
}
