package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const maxLookupResponseBytes = 64 << 10

// HTTPResolver queries a remote IP-intelligence endpoint. The per-call
// timeout is enforced here so a slow lookup degrades one record instead of
// stalling its worker indefinitely.
type HTTPResolver struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

func NewHTTPResolver(endpoint, apiKey string, timeout time.Duration) *HTTPResolver {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &HTTPResolver{
		endpoint: strings.TrimRight(endpoint, "/"),
		apiKey:   apiKey,
		client:   &http.Client{Timeout: timeout},
	}
}

func (r *HTTPResolver) Resolve(ctx context.Context, ip string) (Location, error) {
	lookupURL := fmt.Sprintf("%s/%s", r.endpoint, url.PathEscape(ip))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, lookupURL, nil)
	if err != nil {
		return Location{}, fmt.Errorf("enrich: build request: %w", err)
	}
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return Location{}, fmt.Errorf("enrich: execute lookup: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Location{}, fmt.Errorf("enrich: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxLookupResponseBytes))
	if err != nil {
		return Location{}, fmt.Errorf("enrich: read response: %w", err)
	}

	var loc Location
	if err := json.Unmarshal(body, &loc); err != nil {
		return Location{}, fmt.Errorf("enrich: decode response: %w", err)
	}
	return loc, nil
}
