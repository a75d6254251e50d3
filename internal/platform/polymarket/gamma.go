package polymarket

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"github.com/alanyoungcy/edgefinder/internal/platform/httpx"
)

// GammaClient is the REST client for the Polymarket Gamma API, which
// provides market discovery and metadata.
type GammaClient struct {
	baseURL string
	http    *httpx.Client
	logger  *slog.Logger
}

// NewGammaClient creates a new Gamma API client.
//
// baseURL is the Gamma API root, e.g. "https://gamma-api.polymarket.com".
func NewGammaClient(baseURL string, policy httpx.RetryPolicy, logger *slog.Logger) *GammaClient {
	return &GammaClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpx.NewClient(policy, nil, logger),
		logger:  logger.With(slog.String("component", "polymarket_gamma")),
	}
}

// HTTP exposes the underlying client for transport overrides.
func (g *GammaClient) HTTP() *httpx.Client { return g.http }

// GetMarkets returns one page of open markets.
func (g *GammaClient) GetMarkets(ctx context.Context, limit, offset int) ([]APIMarket, error) {
	params := url.Values{}
	params.Set("active", "true")
	params.Set("closed", "false")
	params.Set("limit", strconv.Itoa(limit))
	params.Set("offset", strconv.Itoa(offset))

	var markets []APIMarket
	if err := g.http.GetJSON(ctx, g.baseURL+"/markets?"+params.Encode(), &markets); err != nil {
		return nil, fmt.Errorf("polymarket/gamma: get markets offset %d: %w", offset, err)
	}
	return markets, nil
}

// ListOpenMarkets pages through open markets until a short page, maxMarkets
// results, or maxPages pages. A failure after the first page returns what was
// collected together with the error.
func (g *GammaClient) ListOpenMarkets(ctx context.Context, pageSize, maxPages, maxMarkets int) ([]APIMarket, error) {
	if pageSize <= 0 {
		pageSize = 100
	}
	var all []APIMarket
	for page := 0; maxPages <= 0 || page < maxPages; page++ {
		batch, err := g.GetMarkets(ctx, pageSize, page*pageSize)
		if err != nil {
			return all, err
		}
		all = append(all, batch...)
		if maxMarkets > 0 && len(all) >= maxMarkets {
			all = all[:maxMarkets]
			break
		}
		if len(batch) < pageSize {
			break
		}
	}
	g.logger.DebugContext(ctx, "fetched polymarket markets", slog.Int("count", len(all)))
	return all, nil
}
