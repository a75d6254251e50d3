// Package embedding calls an OpenAI-compatible embeddings endpoint.
package embedding

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/edgefinder/internal/domain"
	"github.com/alanyoungcy/edgefinder/internal/platform/httpx"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "text-embedding-3-small"

// Client generates embedding vectors for free text.
type Client struct {
	baseURL string
	model   string
	http    *httpx.Client
	logger  *slog.Logger
}

// NewClient creates an embeddings client. An empty apiKey is a configuration
// error.
func NewClient(baseURL, apiKey, model string, policy httpx.RetryPolicy, logger *slog.Logger) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("embedding: %w: api key is not set", domain.ErrConfiguration)
	}
	if model == "" {
		model = DefaultModel
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		http:    httpx.NewClient(policy, map[string]string{"Authorization": "Bearer " + apiKey}, logger),
		logger:  logger.With(slog.String("component", "embedding")),
	}, nil
}

// HTTP exposes the underlying client for transport overrides.
func (c *Client) HTTP() *httpx.Client { return c.http }

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed returns one vector per input, in input order.
func (c *Client) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	if len(inputs) == 0 {
		return nil, nil
	}
	var resp embedResponse
	if err := c.http.PostJSON(ctx, c.baseURL+"/embeddings", embedRequest{Model: c.model, Input: inputs}, nil, &resp); err != nil {
		return nil, fmt.Errorf("embedding: embed %d inputs: %w", len(inputs), err)
	}

	out := make([][]float32, len(inputs))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(inputs) {
			return nil, fmt.Errorf("embedding: %w: index %d out of range", domain.ErrMalformedUpstreamData, d.Index)
		}
		out[d.Index] = d.Embedding
	}
	for i, v := range out {
		if len(v) == 0 {
			return nil, fmt.Errorf("embedding: %w: missing vector for input %d", domain.ErrMalformedUpstreamData, i)
		}
	}
	return out, nil
}
