package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/ignite/campaign-autopilot/internal/config"
	"github.com/ignite/campaign-autopilot/internal/domain"
	"github.com/ignite/campaign-autopilot/internal/engine"
)

var _ engine.MetricStore = (*MetricsClient)(nil)

// MetricsClient reads performance snapshots from the metrics service.
// It implements engine.MetricStore.
type MetricsClient struct {
	client
}

// NewMetricsClient creates a new metrics service client.
func NewMetricsClient(cfg config.EndpointConfig) *MetricsClient {
	return &MetricsClient{client: newClient(cfg)}
}

type snapshotsResponse struct {
	Snapshots []domain.MetricSnapshot `json:"snapshots"`
}

// RecentSnapshots returns up to count snapshots for the campaign,
// most-recent-first.
func (m *MetricsClient) RecentSnapshots(ctx context.Context, campaignID string, count int) ([]domain.MetricSnapshot, error) {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(count))
	params.Set("order", "desc")

	path := fmt.Sprintf("/v1/campaigns/%s/snapshots", campaignID)
	body, err := m.doRequest(ctx, http.MethodGet, path, params, nil)
	if err != nil {
		return nil, fmt.Errorf("fetching snapshots for campaign %s: %w", campaignID, err)
	}

	var resp snapshotsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parsing snapshots response: %w", err)
	}
	return resp.Snapshots, nil
}
