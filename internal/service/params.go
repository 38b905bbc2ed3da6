package service

import (
	"github.com/flexprice/subsync/internal/config"
	"github.com/flexprice/subsync/internal/domain/events"
	"github.com/flexprice/subsync/internal/domain/plan"
	"github.com/flexprice/subsync/internal/domain/subscription"
	"github.com/flexprice/subsync/internal/domain/usage"
	"github.com/flexprice/subsync/internal/logger"
	"github.com/flexprice/subsync/internal/provider"
	"github.com/flexprice/subsync/internal/webhook"
)

// ServiceParams holds common dependencies for services
type ServiceParams struct {
	Logger  *logger.Logger
	Config  *config.Configuration
	Catalog *plan.Catalog

	// Repositories
	SubscriptionRepo subscription.Repository
	EventRepo        events.Repository
	UsageRepo        usage.Repository

	// Provider is the billing backend collaborator
	Provider provider.Client

	// Locks serializes user-initiated mutations per subscription id
	Locks *LockManager

	// Publisher is the outbound operator notification channel
	Publisher webhook.Publisher
}
