// Package search is the content-search collaborator of the action router.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/seu-repo/voice-gateway/internal/domain"
	"github.com/seu-repo/voice-gateway/internal/infrastructure/circuitbreaker"
)

// Client queries GET <base>/search?q=<query>&limit=<n>, which answers
// {"results": [{"title", "url", "snippet"}]}.
type Client struct {
	baseURL string
	limit   int
	timeout time.Duration
	http    *circuitbreaker.HTTPClient
	log     *zap.Logger
}

func NewClient(baseURL string, limit int, timeout time.Duration, httpClient *circuitbreaker.HTTPClient, log *zap.Logger) *Client {
	if limit <= 0 {
		limit = 3
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		limit:   limit,
		timeout: timeout,
		http:    httpClient,
		log:     log.With(zap.String("component", "search")),
	}
}

type searchResponse struct {
	Results []domain.SearchResult `json:"results"`
}

func (c *Client) Search(ctx context.Context, query string) ([]domain.SearchResult, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	q := url.Values{}
	q.Set("q", query)
	q.Set("limit", strconv.Itoa(c.limit))

	resp, err := c.http.Get(ctx, c.baseURL+"/search?"+q.Encode())
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &domain.ProviderAPIError{
			Provider:   "search",
			StatusCode: resp.StatusCode,
			Message:    string(body),
		}
	}

	var out searchResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return nil, fmt.Errorf("search: decode response: %w", err)
	}
	if len(out.Results) > c.limit {
		out.Results = out.Results[:c.limit]
	}

	c.log.Debug("Search completed", zap.String("query", query), zap.Int("results", len(out.Results)))
	return out.Results, nil
}
