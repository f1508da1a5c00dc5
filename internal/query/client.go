// Package query is the HTTP client for the analytics query service, which
// answers natural-language questions about the connected dataset.
package query

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Answer is the service response. The orchestrator only acts on Success,
// Explanation and Error; the structured data and visualization spec are
// passed through opaquely to the presentation layer.
type Answer struct {
	Success       bool            `json:"success"`
	Explanation   string          `json:"explanation_text"`
	Data          json.RawMessage `json:"structured_data,omitempty"`
	Visualization json.RawMessage `json:"visualization_spec,omitempty"`
	Error         string          `json:"error,omitempty"`
}

type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

type Client struct {
	cfg  Config
	http *http.Client
	log  *zap.Logger
}

func NewClient(cfg Config, log *zap.Logger) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}, log: log}
}

func (c *Client) Ask(ctx context.Context, question, sessionID string) (Answer, error) {
	payload := map[string]any{
		"question":   question,
		"session_id": sessionID,
	}
	var body bytes.Buffer
	if err := json.NewEncoder(&body).Encode(payload); err != nil {
		return Answer{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/query", &body)
	if err != nil {
		return Answer{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return Answer{}, fmt.Errorf("query request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Answer{}, fmt.Errorf("query: %s: %s", resp.Status, string(b))
	}

	var ans Answer
	if err := json.NewDecoder(resp.Body).Decode(&ans); err != nil {
		return Answer{}, fmt.Errorf("query decode: %w", err)
	}
	c.log.Debug("query answered",
		zap.Bool("success", ans.Success),
		zap.Duration("took", time.Since(start)))
	return ans, nil
}
