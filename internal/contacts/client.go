// Package contacts resolves notification recipients for a tenant.
package contacts

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Recipient is a resolved notification target for a single channel.
type Recipient struct {
	Name    string `json:"name"`
	Channel string `json:"channel"`
	Address string `json:"address"` // phone number, email address or webhook URL
}

// Resolver looks up the recipients configured for a tenant and channel set.
type Resolver interface {
	Resolve(ctx context.Context, tenantID string, channels []string) ([]Recipient, error)
}

// HTTPResolver implements Resolver against the contact service's HTTP API.
type HTTPResolver struct {
	baseURL string
	client  *http.Client
}

func NewHTTPResolver(baseURL string, timeout time.Duration) *HTTPResolver {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &HTTPResolver{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

func (r *HTTPResolver) Resolve(ctx context.Context, tenantID string, channels []string) ([]Recipient, error) {
	q := url.Values{}
	q.Set("tenant_id", tenantID)
	for _, ch := range channels {
		q.Add("channel", ch)
	}

	reqURL := fmt.Sprintf("%s/api/v1/contacts?%s", r.baseURL, q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve contacts: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var out struct {
		Recipients []Recipient `json:"recipients"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode contacts response: %w", err)
	}
	return out.Recipients, nil
}

// StaticResolver returns a fixed recipient list regardless of tenant. Used
// when no contact service is configured.
type StaticResolver struct {
	Recipients []Recipient
}

func (s *StaticResolver) Resolve(_ context.Context, _ string, channels []string) ([]Recipient, error) {
	want := make(map[string]bool, len(channels))
	for _, ch := range channels {
		want[ch] = true
	}
	var out []Recipient
	for _, rec := range s.Recipients {
		if want[rec.Channel] {
			out = append(out, rec)
		}
	}
	return out, nil
}
