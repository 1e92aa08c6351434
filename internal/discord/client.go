// Package discord sends messages through the Discord REST API.
package discord

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
)

const DefaultBaseURL = "https://discord.com/api/v10"

// Client posts messages as a bot user.
type Client struct {
	token      string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a Client. An empty baseURL uses DefaultBaseURL.
func NewClient(token, baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		token:      token,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     slog.Default(),
	}
}

// SendDirectMessage opens a DM channel with recipientID and posts text to
// it. It reports whether the whole message was accepted; failures are logged.
func (c *Client) SendDirectMessage(ctx context.Context, recipientID, text string) bool {
	var channel struct {
		ID string `json:"id"`
	}
	if err := c.post(ctx, "/users/@me/channels", map[string]string{"recipient_id": recipientID}, &channel); err != nil {
		c.logger.Error("discord: creating DM channel failed", "recipient", recipientID, "error", err)
		return false
	}
	if channel.ID == "" {
		c.logger.Error("discord: DM channel response missing id", "recipient", recipientID)
		return false
	}
	if err := c.SendChannelMessage(ctx, channel.ID, text); err != nil {
		c.logger.Error("discord: sending DM failed", "recipient", recipientID, "error", err)
		return false
	}
	return true
}

// SendChannelMessage posts text to an existing channel.
func (c *Client) SendChannelMessage(ctx context.Context, channelID, text string) error {
	return c.post(ctx, "/channels/"+channelID+"/messages", map[string]string{"content": text}, nil)
}

func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bot "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return fmt.Errorf("%s: unexpected status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}
