// Package amp publishes edge observations to an Amp dataset.
package amp

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/edgefinder/internal/domain"
	"github.com/alanyoungcy/edgefinder/internal/platform/httpx"
)

// Client posts records to {apiURL}/datasets/{dataset}/records.
type Client struct {
	url     string
	project string
	http    *httpx.Client
	logger  *slog.Logger
}

// NewClient creates a publisher. An empty API key is a configuration error.
func NewClient(apiURL, projectID, datasetID, apiKey string, policy httpx.RetryPolicy, logger *slog.Logger) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("amp: %w: api key is not set", domain.ErrConfiguration)
	}
	if datasetID == "" {
		return nil, fmt.Errorf("amp: %w: dataset id is not set", domain.ErrConfiguration)
	}
	return &Client{
		url:     strings.TrimRight(apiURL, "/") + "/datasets/" + datasetID + "/records",
		project: projectID,
		http:    httpx.NewClient(policy, map[string]string{"Authorization": "Bearer " + apiKey}, logger),
		logger:  logger.With(slog.String("component", "amp")),
	}, nil
}

// HTTP exposes the underlying client for transport overrides.
func (c *Client) HTTP() *httpx.Client { return c.http }

// Publish sends the observations in one request. An empty slice is a no-op.
func (c *Client) Publish(ctx context.Context, obs []domain.EdgeObservation) error {
	if len(obs) == 0 {
		return nil
	}
	body := struct {
		Records []domain.EdgeObservation `json:"records"`
	}{Records: obs}
	if err := c.http.PostJSON(ctx, c.url, body, map[string]string{"X-Amp-Project-Id": c.project}, nil); err != nil {
		return fmt.Errorf("amp: publish %d records: %w", len(obs), err)
	}
	c.logger.DebugContext(ctx, "published edge observations", slog.Int("count", len(obs)))
	return nil
}
