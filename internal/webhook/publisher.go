package webhook

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/flexprice/subsync/internal/config"
	"github.com/flexprice/subsync/internal/logger"
	svix "github.com/svix/svix-webhooks/go"
	"github.com/svix/svix-webhooks/go/models"
)

// Event types published on the outbound operator channel
const (
	EventTypeDriftDetected     = "subscription.drift_detected"
	EventTypeChangeLanded      = "subscription.change_landed"
	EventTypeSubscriptionEnded = "subscription.ended"
)

// Publisher surfaces engine findings (drift, landed changes) to operators
// over the outbound webhook channel. Drift is never auto-resolved silently;
// it always goes through here.
type Publisher interface {
	Publish(ctx context.Context, eventType string, payload interface{}) error
}

// NewPublisher returns a Svix-backed publisher when enabled, otherwise a
// logging no-op
func NewPublisher(cfg *config.Configuration, log *logger.Logger) (Publisher, error) {
	if !cfg.Webhook.Svix.Enabled {
		return &noopPublisher{logger: log}, nil
	}

	client, err := svix.New(cfg.Webhook.Svix.AuthToken, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create svix client: %w", err)
	}

	return &svixPublisher{
		client: client,
		appID:  cfg.Webhook.Svix.AppID,
		logger: log,
	}, nil
}

type svixPublisher struct {
	client *svix.Svix
	appID  string
	logger *logger.Logger
}

func (p *svixPublisher) Publish(ctx context.Context, eventType string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}
	var payloadMap map[string]interface{}
	if err := json.Unmarshal(data, &payloadMap); err != nil {
		return fmt.Errorf("failed to unmarshal payload: %w", err)
	}

	_, err = p.client.Message.Create(ctx, p.appID, models.MessageIn{
		EventType: eventType,
		Payload:   payloadMap,
	}, &svix.MessageCreateOptions{})
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

type noopPublisher struct {
	logger *logger.Logger
}

func (p *noopPublisher) Publish(ctx context.Context, eventType string, payload interface{}) error {
	p.logger.Infow("outbound webhook publishing disabled, dropping event",
		"event_type", eventType,
	)
	return nil
}
