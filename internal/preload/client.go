// Package preload provides the client for the context preloader collaborator.
// The engine consumes its output as an opaque bundle; the shape of the
// vehicle/driver/stat/camera data belongs to the preloader.
package preload

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/fleetsentry-systems/fleetsentry/internal/models"
)

// Client fetches the vehicle/driver/camera context bundle for a signal.
type Client interface {
	FetchContext(ctx context.Context, signal *models.Signal) (json.RawMessage, error)
}

// HTTPClient implements Client over the preloader's HTTP API.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPClient creates a new HTTP preloader client.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &HTTPClient{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// FetchContext retrieves the context bundle for the signal's vehicle/driver.
func (c *HTTPClient) FetchContext(ctx context.Context, signal *models.Signal) (json.RawMessage, error) {
	q := url.Values{}
	q.Set("tenant_id", signal.TenantID)
	q.Set("vehicle_id", signal.VehicleID)
	q.Set("driver_id", signal.DriverID)
	q.Set("occurred_at", signal.OccurredAt.Format(time.RFC3339))

	reqURL := fmt.Sprintf("%s/api/v1/context?%s", c.baseURL, q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch context: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var bundle json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&bundle); err != nil {
		return nil, fmt.Errorf("failed to decode context bundle: %w", err)
	}
	return bundle, nil
}
