package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/ignite/campaign-autopilot/internal/config"
	"github.com/ignite/campaign-autopilot/internal/domain"
	"github.com/ignite/campaign-autopilot/internal/engine"
)

var _ engine.Predictor = (*PredictorClient)(nil)

// PredictorClient asks the forecast service for a short-horizon ACOS
// prediction. It implements engine.Predictor.
type PredictorClient struct {
	client
}

// NewPredictorClient creates a new forecast service client.
func NewPredictorClient(cfg config.EndpointConfig) *PredictorClient {
	return &PredictorClient{client: newClient(cfg)}
}

type forecastRequest struct {
	CampaignID string                  `json:"campaign_id"`
	Snapshots  []domain.MetricSnapshot `json:"snapshots"`
}

// Forecast returns the predicted ACOS and the model's confidence for the
// campaign, given its recent snapshots.
func (p *PredictorClient) Forecast(ctx context.Context, campaignID string, snapshots []domain.MetricSnapshot) (*domain.Forecast, error) {
	body, err := p.doRequest(ctx, http.MethodPost, "/v1/forecast", nil, forecastRequest{
		CampaignID: campaignID,
		Snapshots:  snapshots,
	})
	if err != nil {
		return nil, fmt.Errorf("fetching forecast for campaign %s: %w", campaignID, err)
	}

	var fc domain.Forecast
	if err := json.Unmarshal(body, &fc); err != nil {
		return nil, fmt.Errorf("parsing forecast response: %w", err)
	}
	fc.CampaignID = campaignID
	return &fc, nil
}
