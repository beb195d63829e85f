// Package exec proxies code-execution requests to a Judge0-compatible
// service. The submission and the response are opaque to this server.
package exec

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

type Client struct {
	httpClient *http.Client
	url        string
	apiKey     string
	apiHost    string
}

func NewClient(url, apiKey, apiHost string, timeout time.Duration) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		url:        url,
		apiKey:     apiKey,
		apiHost:    apiHost,
	}
}

// Run submits the payload and waits for the result. The service is
// asked to block until the run completes (wait=true), so the returned
// body is the final verdict.
func (c *Client) Run(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.url+"?base64_encoded=true&wait=true", bytes.NewReader(input))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-RapidAPI-Key", c.apiKey)
	req.Header.Set("X-RapidAPI-Host", c.apiHost)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execution service: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Error().Str("module", "exec").Int("status", resp.StatusCode).Msg("execution service error")
		return nil, fmt.Errorf("execution service: status %d", resp.StatusCode)
	}
	return body, nil
}
