package kalshi

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/edgefinder/internal/platform/httpx"
)

// Client is the REST client for the Kalshi exchange API. Market data is public;
// requests are signed only when an API key is configured.
type Client struct {
	baseURL    string
	apiKeyID   string
	privateKey *rsa.PrivateKey
	http       *httpx.Client
	logger     *slog.Logger
}

// NewClient creates a new Kalshi REST client.
//
// baseURL is the API root, e.g. "https://api.elections.kalshi.com/trade-api/v2".
func NewClient(baseURL, apiKeyID string, policy httpx.RetryPolicy, logger *slog.Logger) *Client {
	c := &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		apiKeyID: apiKeyID,
		http:     httpx.NewClient(policy, nil, logger),
		logger:   logger.With(slog.String("component", "kalshi")),
	}
	c.http.SetRequestHook(c.signRequest)
	return c
}

// HTTP exposes the underlying client for transport overrides.
func (c *Client) HTTP() *httpx.Client { return c.http }

// SetRSAPrivateKey loads an RSA private key from PEM-encoded bytes and
// configures the client for RSA-signed authentication.
func (c *Client) SetRSAPrivateKey(pemBytes []byte) error {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return fmt.Errorf("kalshi: no PEM block found in private key")
	}

	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		pkcs1Key, pkcs1Err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if pkcs1Err != nil {
			return fmt.Errorf("kalshi: parse private key: %w (pkcs1: %v)", err, pkcs1Err)
		}
		c.privateKey = pkcs1Key
		return nil
	}

	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return fmt.Errorf("kalshi: expected RSA private key, got %T", key)
	}
	c.privateKey = rsaKey
	return nil
}

// ListSeries returns every series in category, following the cursor for at
// most maxPages pages.
func (c *Client) ListSeries(ctx context.Context, category string, maxPages int) ([]KalshiSeries, error) {
	var (
		out    []KalshiSeries
		cursor string
	)
	for page := 0; maxPages <= 0 || page < maxPages; page++ {
		params := url.Values{}
		params.Set("limit", "1000")
		if category != "" {
			params.Set("category", category)
		}
		if cursor != "" {
			params.Set("cursor", cursor)
		}

		var resp struct {
			Series []KalshiSeries `json:"series"`
			Cursor string         `json:"cursor"`
		}
		if err := c.http.GetJSON(ctx, c.baseURL+"/series?"+params.Encode(), &resp); err != nil {
			return out, fmt.Errorf("kalshi: list series: %w", err)
		}
		for _, s := range resp.Series {
			// Older API versions ignore the category parameter.
			if category == "" || strings.EqualFold(s.Category, category) {
				out = append(out, s)
			}
		}
		if resp.Cursor == "" {
			break
		}
		cursor = resp.Cursor
	}
	return out, nil
}

// GetMarkets returns one page of open markets, optionally for one series, and
// the cursor of the next page.
func (c *Client) GetMarkets(ctx context.Context, seriesTicker string, limit int, cursor string) ([]KalshiMarket, string, error) {
	params := url.Values{}
	params.Set("status", "open")
	params.Set("limit", strconv.Itoa(limit))
	if seriesTicker != "" {
		params.Set("series_ticker", seriesTicker)
	}
	if cursor != "" {
		params.Set("cursor", cursor)
	}

	var resp struct {
		Markets []KalshiMarket `json:"markets"`
		Cursor  string         `json:"cursor"`
	}
	if err := c.http.GetJSON(ctx, c.baseURL+"/markets?"+params.Encode(), &resp); err != nil {
		return nil, "", fmt.Errorf("kalshi: get markets: %w", err)
	}
	return resp.Markets, resp.Cursor, nil
}

// ListOpenMarkets collects open markets for the given series (all open markets
// when series is empty), capped at maxMarkets. Series that fail are logged and
// skipped; the returned error is non-nil only if every series failed.
func (c *Client) ListOpenMarkets(ctx context.Context, series []string, pageSize, maxMarkets int) ([]KalshiMarket, error) {
	if pageSize <= 0 {
		pageSize = 100
	}
	if len(series) == 0 {
		series = []string{""}
	}

	var (
		out      []KalshiMarket
		failures int
		lastErr  error
	)
	for _, s := range series {
		if maxMarkets > 0 && len(out) >= maxMarkets {
			break
		}
		cursor := ""
		for {
			batch, next, err := c.GetMarkets(ctx, s, pageSize, cursor)
			if err != nil {
				if ctx.Err() != nil {
					return out, ctx.Err()
				}
				failures++
				lastErr = err
				c.logger.WarnContext(ctx, "kalshi series fetch failed",
					slog.String("series", s),
					slog.String("error", err.Error()),
				)
				break
			}
			out = append(out, batch...)
			if next == "" || len(batch) == 0 || (maxMarkets > 0 && len(out) >= maxMarkets) {
				break
			}
			cursor = next
		}
	}
	if maxMarkets > 0 && len(out) > maxMarkets {
		out = out[:maxMarkets]
	}
	if failures == len(series) {
		return nil, lastErr
	}
	return out, nil
}

// signRequest adds RSA authentication headers to the HTTP request.
// Kalshi uses RSA-PSS-SHA256 signatures over the timestamp + method + path
// message string. Without a key the request is sent unsigned.
func (c *Client) signRequest(req *http.Request) error {
	if c.privateKey == nil || c.apiKeyID == "" {
		return nil
	}

	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
	message := ts + req.Method + req.URL.Path

	hash := sha256.Sum256([]byte(message))
	signature, err := rsa.SignPSS(rand.Reader, c.privateKey, crypto.SHA256, hash[:], &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthEqualsHash,
	})
	if err != nil {
		return fmt.Errorf("RSA sign: %w", err)
	}

	req.Header.Set("KALSHI-ACCESS-KEY", c.apiKeyID)
	req.Header.Set("KALSHI-ACCESS-SIGNATURE", base64.StdEncoding.EncodeToString(signature))
	req.Header.Set("KALSHI-ACCESS-TIMESTAMP", ts)
	return nil
}
