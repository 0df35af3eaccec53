package platform

import (
	"context"
	"fmt"
	"net/http"

	"github.com/ignite/campaign-autopilot/internal/config"
	"github.com/ignite/campaign-autopilot/internal/domain"
	"github.com/ignite/campaign-autopilot/internal/engine"
)

var _ engine.Platform = (*AdPlatform)(nil)

// AdPlatform applies approved actions against the external ad platform API.
// It implements engine.Platform.
type AdPlatform struct {
	client
}

// NewAdPlatform creates a new ad platform client.
func NewAdPlatform(cfg config.EndpointConfig) *AdPlatform {
	return &AdPlatform{client: newClient(cfg)}
}

type applyRequest struct {
	Action  domain.ActionType    `json:"action"`
	Payload domain.ActionPayload `json:"payload"`
}

// Apply submits one action to the platform. The platform endpoint is
// expected to be idempotent per action within a short window; the engine's
// execution records are the durable idempotency layer on top.
func (p *AdPlatform) Apply(ctx context.Context, campaignID string, actionType domain.ActionType, payload domain.ActionPayload) error {
	path := fmt.Sprintf("/v1/campaigns/%s/actions", campaignID)
	_, err := p.doRequest(ctx, http.MethodPost, path, nil, applyRequest{
		Action:  actionType,
		Payload: payload,
	})
	if err != nil {
		return fmt.Errorf("platform apply %s to campaign %s: %w", actionType, campaignID, err)
	}
	return nil
}
