// Package push sends multicast notifications to device tokens through the
// push gateway's HTTP API.
package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Gigatchad/uploadDocYnov/internal/apperr"
	"github.com/Gigatchad/uploadDocYnov/internal/notify"
)

// maxBatch is the gateway's per-call token limit; larger sets are split.
const maxBatch = 500

type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

func New(baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
	}
}

type multicastPayload struct {
	Tokens []string          `json:"tokens"`
	Title  string            `json:"title"`
	Body   string            `json:"body"`
	Data   map[string]string `json:"data,omitempty"`
}

// SendMulticast pushes one message to a batch of tokens. Partial failures
// reported by the gateway are its problem; only transport and non-2xx
// responses surface here.
func (c *Client) SendMulticast(ctx context.Context, tokens []string, msg notify.Message) error {
	for start := 0; start < len(tokens); start += maxBatch {
		end := start + maxBatch
		if end > len(tokens) {
			end = len(tokens)
		}
		if err := c.send(ctx, tokens[start:end], msg); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) send(ctx context.Context, tokens []string, msg notify.Message) error {
	body, err := json.Marshal(multicastPayload{
		Tokens: tokens, Title: msg.Title, Body: msg.Body, Data: msg.Data,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/messages:send", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperr.Upstream("NOTIFY_FAILED", fmt.Errorf("push gateway: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return apperr.Upstream("NOTIFY_FAILED",
			fmt.Errorf("push gateway status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail))))
	}
	return nil
}
