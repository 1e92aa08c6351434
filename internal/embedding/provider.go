// Package embedding turns article and theme text into vectors through a
// remote or local embedding model.
package embedding

import (
	"context"
	"fmt"
	"time"
)

// Provider computes embeddings. EmbedBatch returns one vector per input in
// input order. All failures are *Error values.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Options selects and configures a Provider.
type Options struct {
	Provider string // openai, gemini or ollama
	Model    string
	BaseURL  string
	APIKey   string
	Timeout  time.Duration
}

// New builds the Provider named by opts.Provider.
func New(ctx context.Context, opts Options) (Provider, error) {
	switch opts.Provider {
	case "", "openai":
		if opts.APIKey == "" {
			return nil, fmt.Errorf("openai provider: api key is not configured")
		}
		return NewOpenAI(opts.BaseURL, opts.APIKey, opts.Model, opts.Timeout), nil
	case "gemini":
		if opts.APIKey == "" {
			return nil, fmt.Errorf("gemini provider: api key is not configured")
		}
		return NewGemini(ctx, opts.APIKey, opts.Model)
	case "ollama":
		return NewOllama(opts.BaseURL, opts.Model, opts.Timeout), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", opts.Provider)
	}
}
