package collab

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// GatewayFetcher retrieves content from an HTTP content-network gateway
// (<base>/ipfs/<id>). Timeouts surface as ordinary fetch errors.
type GatewayFetcher struct {
	baseURL string
	client  *http.Client
}

// NewGatewayFetcher builds a fetcher against baseURL, e.g.
// "https://ipfs.io". A nil-safe default timeout of 30s applies.
func NewGatewayFetcher(baseURL string) *GatewayFetcher {
	return &GatewayFetcher{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (f *GatewayFetcher) Fetch(ctx context.Context, id string) ([]byte, error) {
	u, err := url.JoinPath(f.baseURL, "ipfs", id)
	if err != nil {
		return nil, fmt.Errorf("gateway: bad url for %s: %w", id, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("gateway: request failed: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gateway: fetch %s: %w", id, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gateway: fetch %s: status %d", id, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
