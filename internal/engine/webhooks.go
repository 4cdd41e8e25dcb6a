package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/jmylchreest/wayfarer/internal/errs"
	"github.com/jmylchreest/wayfarer/internal/webhook"
)

// CreateWebhook registers a new endpoint for tenant.
func (e *Engine) CreateWebhook(tenantID string, ep webhook.Endpoint) (*webhook.Endpoint, error) {
	ep.TenantID = tenantID
	return e.webhooks.CreateEndpoint(ep)
}

// GetWebhook returns tenant's endpoint by id, refusing to leak endpoints
// belonging to other tenants.
func (e *Engine) GetWebhook(tenantID, endpointID string) (*webhook.Endpoint, error) {
	ep, ok := e.webhooks.GetEndpoint(endpointID)
	if !ok || ep.TenantID != tenantID {
		return nil, errs.New(errs.CodeInvalidRequest, fmt.Sprintf("webhook endpoint %s not found", endpointID))
	}
	return ep, nil
}

// ListWebhooks returns every endpoint owned by tenant.
func (e *Engine) ListWebhooks(tenantID string) []*webhook.Endpoint {
	return e.webhooks.ListEndpoints(tenantID)
}

// UpdateWebhook applies mutate to tenant's endpoint, refusing cross-tenant
// access.
func (e *Engine) UpdateWebhook(tenantID, endpointID string, mutate func(*webhook.Endpoint)) (*webhook.Endpoint, error) {
	if _, err := e.GetWebhook(tenantID, endpointID); err != nil {
		return nil, err
	}
	return e.webhooks.UpdateEndpoint(endpointID, mutate)
}

// DeleteWebhook removes tenant's endpoint, refusing cross-tenant access.
func (e *Engine) DeleteWebhook(tenantID, endpointID string) error {
	if _, err := e.GetWebhook(tenantID, endpointID); err != nil {
		return err
	}
	return e.webhooks.DeleteEndpoint(endpointID)
}

// TestWebhook delivers a synthetic system.health event to tenant's
// endpoint so the caller can verify connectivity and signature handling.
func (e *Engine) TestWebhook(ctx context.Context, tenantID, endpointID string) (*webhook.Delivery, error) {
	if _, err := e.GetWebhook(tenantID, endpointID); err != nil {
		return nil, err
	}
	return e.webhooks.Test(ctx, endpointID)
}

// WebhookHistory returns up to limit of tenant's endpoint's most recent
// deliveries, most recent first.
func (e *Engine) WebhookHistory(tenantID, endpointID string, limit int) ([]*webhook.Delivery, error) {
	if _, err := e.GetWebhook(tenantID, endpointID); err != nil {
		return nil, err
	}
	history := e.webhooks.History(endpointID)
	if limit <= 0 || limit >= len(history) {
		return reverseDeliveries(history), nil
	}
	recent := history[len(history)-limit:]
	return reverseDeliveries(recent), nil
}

func reverseDeliveries(in []*webhook.Delivery) []*webhook.Delivery {
	out := make([]*webhook.Delivery, len(in))
	for i, d := range in {
		out[len(in)-1-i] = d
	}
	return out
}

// WebhookEndpointStats summarizes one endpoint's delivery health over the
// requested period.
type WebhookEndpointStats struct {
	EndpointID string
	Health     webhook.Health
	Deliveries int
	Successes  int
	Failures   int
}

// WebhookStats aggregates delivery stats across every endpoint tenant
// owns, restricted to deliveries created within the trailing periodHours.
func (e *Engine) WebhookStats(tenantID string, periodHours int) []WebhookEndpointStats {
	if periodHours <= 0 {
		periodHours = 24
	}
	cutoff := time.Now().Add(-time.Duration(periodHours) * time.Hour)

	endpoints := e.webhooks.ListEndpoints(tenantID)
	stats := make([]WebhookEndpointStats, 0, len(endpoints))
	for _, ep := range endpoints {
		history := e.webhooks.History(ep.ID)
		s := WebhookEndpointStats{EndpointID: ep.ID, Health: ep.Health}
		for _, d := range history {
			if d.CreatedAt.Before(cutoff) {
				continue
			}
			s.Deliveries++
			switch d.Status {
			case webhook.DeliverySuccess:
				s.Successes++
			case webhook.DeliveryFailed:
				s.Failures++
			}
		}
		stats = append(stats, s)
	}
	return stats
}
