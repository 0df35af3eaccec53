// Package platform contains the HTTP clients for the engine's external
// collaborators: the ad platform that campaigns run on, the metrics service
// that stores performance snapshots, and the forecast service.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/ignite/campaign-autopilot/internal/config"
	"github.com/ignite/campaign-autopilot/internal/engine"
	"github.com/ignite/campaign-autopilot/internal/pkg/httpretry"
)

// client is the shared request plumbing for the three collaborator clients.
type client struct {
	baseURL    string
	apiKey     string
	httpClient httpretry.HTTPDoer
}

func newClient(cfg config.EndpointConfig) client {
	return client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		httpClient: httpretry.NewRetryClient(&http.Client{
			Timeout: cfg.Timeout(),
		}, 3),
	}
}

// doRequest makes a JSON request and returns the response body. Connection
// failures and server-side errors come back wrapped in ErrUnavailable so the
// dispatcher and evaluator can tell transient trouble from rejection.
func (c *client) doRequest(ctx context.Context, method, path string, params url.Values, body interface{}) ([]byte, error) {
	fullURL := c.baseURL + path
	if len(params) > 0 {
		fullURL += "?" + params.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, reader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", engine.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return respBody, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: status %d: %s", engine.ErrUnavailable, resp.StatusCode, string(respBody))
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", engine.ErrNotFound, string(respBody))
	default:
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(respBody))
	}
}
