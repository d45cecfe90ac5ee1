package circuitbreaker

import (
	"context"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/seu-repo/voice-gateway/internal/domain"
)

// HTTPClient sends requests through a breaker. A 5xx answer is turned into
// a *domain.ProviderAPIError and counts as a failure; any other status is
// left for the caller to interpret.
type HTTPClient struct {
	client  *http.Client
	breaker *CircuitBreaker
	log     *zap.Logger
}

func NewHTTPClient(client *http.Client, breaker *CircuitBreaker, log *zap.Logger) *HTTPClient {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPClient{client: client, breaker: breaker, log: log}
}

func (c *HTTPClient) Do(req *http.Request) (*http.Response, error) {
	resp, err := ExecuteWithResult(req.Context(), c.breaker, func(ctx context.Context) (*http.Response, error) {
		resp, err := c.client.Do(req.WithContext(ctx))
		if err != nil || resp.StatusCode < http.StatusInternalServerError {
			return resp, err
		}
		defer resp.Body.Close()
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &domain.ProviderAPIError{
			Provider:   c.breaker.Name(),
			StatusCode: resp.StatusCode,
			Message:    string(snippet),
		}
	})
	if Rejected(err) {
		c.log.Warn("Request blocked by open circuit",
			zap.String("breaker", c.breaker.Name()),
			zap.String("host", req.URL.Host),
		)
	}
	return resp, err
}

func (c *HTTPClient) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return c.Do(req)
}
