package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"
)

const (
	DefaultOpenAIBaseURL = "https://api.openai.com"
	DefaultOpenAIModel   = "text-embedding-3-small"
	defaultTimeout       = 30 * time.Second

	// openAIMaxRetries bounds retries of server errors and dropped
	// connections. Rate limits and quota errors are never retried.
	openAIMaxRetries = 2
)

// OpenAI calls the OpenAI embeddings endpoint.
type OpenAI struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	retryDelay time.Duration
}

// NewOpenAI returns an OpenAI provider. Empty arguments fall back to defaults.
func NewOpenAI(baseURL, apiKey, model string, timeout time.Duration) *OpenAI {
	if baseURL == "" {
		baseURL = DefaultOpenAIBaseURL
	}
	if model == "" {
		model = DefaultOpenAIModel
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &OpenAI{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
		retryDelay: 500 * time.Millisecond,
	}
}

type openAIRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type openAIResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

type openAIErrorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

func (c *OpenAI) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (c *OpenAI) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(openAIRequest{Model: c.model, Input: texts})
	if err != nil {
		return nil, &Error{Kind: KindOther, Provider: "openai", Err: err}
	}

	for attempt := 0; ; attempt++ {
		vecs, retry, err := c.embedOnce(ctx, body, len(texts))
		if err == nil || !retry || attempt == openAIMaxRetries || ctx.Err() != nil {
			return vecs, err
		}
		slog.Debug("openai: retrying embeddings", "attempt", attempt+1, "error", err)
		select {
		case <-ctx.Done():
			return nil, transportError("openai", ctx.Err())
		case <-time.After(c.retryDelay << attempt):
		}
	}
}

// embedOnce performs one request. retry reports whether the failure was a
// server error or dropped connection worth another attempt.
func (c *OpenAI) embedOnce(ctx context.Context, body []byte, n int) (vecs [][]float32, retry bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, false, &Error{Kind: KindOther, Provider: "openai", Err: fmt.Errorf("creating request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		e := transportError("openai", err)
		return nil, e.Kind == KindConnection || e.Kind == KindTimeout, e
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		retry := resp.StatusCode >= 500 || resp.StatusCode == http.StatusRequestTimeout
		return nil, retry, openAIStatusError(resp)
	}

	var result openAIResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, false, &Error{Kind: KindOther, Provider: "openai", Err: fmt.Errorf("decoding response: %w", err)}
	}
	if len(result.Data) != n {
		return nil, false, &Error{Kind: KindOther, Provider: "openai",
			Err: fmt.Errorf("got %d embeddings for %d inputs", len(result.Data), n)}
	}

	sort.Slice(result.Data, func(i, j int) bool { return result.Data[i].Index < result.Data[j].Index })
	out := make([][]float32, len(result.Data))
	for i, d := range result.Data {
		out[i] = d.Embedding
	}
	return out, false, nil
}

func openAIStatusError(resp *http.Response) *Error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var body openAIErrorBody
	_ = json.Unmarshal(raw, &body)

	err := fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(body.Error.Message))
	kind := KindOther
	switch {
	case resp.StatusCode == http.StatusTooManyRequests && body.Error.Code == "insufficient_quota":
		kind = KindQuota
	case resp.StatusCode == http.StatusTooManyRequests:
		kind = KindRateLimit
	case resp.StatusCode == http.StatusGatewayTimeout || resp.StatusCode == http.StatusRequestTimeout:
		kind = KindTimeout
	}
	return &Error{Kind: kind, Provider: "openai", Err: err}
}
