package embedding

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"
)

const DefaultGeminiModel = "text-embedding-004"

// Gemini embeds text through the Google Gen AI SDK.
type Gemini struct {
	client *genai.Client
	model  string
}

// NewGemini creates a Gemini provider using the Gemini API backend.
func NewGemini(ctx context.Context, apiKey, model string) (*Gemini, error) {
	if model == "" {
		model = DefaultGeminiModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &Gemini{client: client, model: model}, nil
}

func (g *Gemini) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := g.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (g *Gemini) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	contents := make([]*genai.Content, 0, len(texts))
	for _, t := range texts {
		contents = append(contents, genai.Text(t)...)
	}

	resp, err := g.client.Models.EmbedContent(ctx, g.model, contents, nil)
	if err != nil {
		return nil, classifyGemini(err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, &Error{Kind: KindOther, Provider: "gemini",
			Err: fmt.Errorf("got %d embeddings for %d inputs", len(resp.Embeddings), len(texts))}
	}

	out := make([][]float32, len(resp.Embeddings))
	for i, e := range resp.Embeddings {
		if e == nil {
			return nil, &Error{Kind: KindOther, Provider: "gemini", Err: fmt.Errorf("missing embedding at index %d", i)}
		}
		out[i] = e.Values
	}
	return out, nil
}

// classifyGemini maps SDK errors onto Kinds. A 429 that mentions a daily or
// per-project quota is terminal for billing; any other 429 is a rate limit.
func classifyGemini(err error) *Error {
	code := 0
	var apiErr genai.APIError
	var apiErrPtr *genai.APIError
	switch {
	case errors.As(err, &apiErr):
		code = apiErr.Code
	case errors.As(err, &apiErrPtr):
		code = apiErrPtr.Code
	}

	msg := strings.ToLower(err.Error())
	if code == 0 && (strings.Contains(msg, "429") || strings.Contains(msg, "resource_exhausted") || strings.Contains(msg, "resource exhausted")) {
		code = http.StatusTooManyRequests
	}

	switch {
	case code == http.StatusTooManyRequests && isGeminiQuota(msg):
		return &Error{Kind: KindQuota, Provider: "gemini", Err: err}
	case code == http.StatusTooManyRequests:
		return &Error{Kind: KindRateLimit, Provider: "gemini", Err: err}
	case code == http.StatusGatewayTimeout:
		return &Error{Kind: KindTimeout, Provider: "gemini", Err: err}
	case code != 0:
		return &Error{Kind: KindOther, Provider: "gemini", Err: err}
	}
	return transportError("gemini", err)
}

func isGeminiQuota(msg string) bool {
	return strings.Contains(msg, "per day") ||
		strings.Contains(msg, "perday") ||
		strings.Contains(msg, "daily limit") ||
		strings.Contains(msg, "billing") ||
		strings.Contains(msg, "free_tier_requests")
}
