package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/example/fare-engine/internal/models"
)

// WebhookNotifier posts terminal delta decisions to a collaborating system's
// HTTP endpoint. It backs deployments without a Kafka pipeline; either way
// delivery failures are the caller's to log, never to retry.
type WebhookNotifier struct {
	Endpoint string
	Client   *http.Client
}

func NewWebhookNotifier(endpoint string) *WebhookNotifier {
	return &WebhookNotifier{Endpoint: endpoint, Client: &http.Client{Timeout: 3 * time.Second}}
}

// PublishDecision satisfies the delta engine's publisher hook.
func (n *WebhookNotifier) PublishDecision(ctx context.Context, d models.DeltaDecision) error {
	return n.post(ctx, models.EngineEvent{Type: models.EngineEventDeltaDecision, RideID: d.RideID, Payload: d})
}

// PublishFare posts fare-agreement lifecycle events (commits, accepted edits).
func (n *WebhookNotifier) PublishFare(ctx context.Context, eventType string, f *models.RideFare) error {
	return n.post(ctx, models.EngineEvent{Type: eventType, RideID: f.RideID, Payload: f})
}

func (n *WebhookNotifier) post(ctx context.Context, ev models.EngineEvent) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.Endpoint, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := n.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook status %d", resp.StatusCode)
	}
	return nil
}
