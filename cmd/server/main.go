package main

import (
	"context"
	"net/http"
	"time"

	"github.com/flexprice/subsync/internal/api"
	v1 "github.com/flexprice/subsync/internal/api/v1"
	"github.com/flexprice/subsync/internal/config"
	"github.com/flexprice/subsync/internal/domain/events"
	"github.com/flexprice/subsync/internal/domain/plan"
	"github.com/flexprice/subsync/internal/domain/subscription"
	"github.com/flexprice/subsync/internal/domain/usage"
	"github.com/flexprice/subsync/internal/logger"
	"github.com/flexprice/subsync/internal/provider"
	"github.com/flexprice/subsync/internal/provider/stripe"
	"github.com/flexprice/subsync/internal/repository/postgres"
	"github.com/flexprice/subsync/internal/service"
	"github.com/flexprice/subsync/internal/webhook"
	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"go.uber.org/fx"
)

func init() {
	// all times are UTC throughout the engine
	time.Local = time.UTC
}

func main() {
	app := fx.New(
		fx.Provide(
			config.NewConfig,
			logger.NewLogger,
			postgres.NewDB,
			newCatalog,

			// repositories
			postgres.NewSubscriptionRepository,
			postgres.NewEventRepository,
			postgres.NewUsageRepository,

			// provider
			newProviderClient,
			newWebhookParser,
			webhook.NewPublisher,

			// services
			service.NewLockManager,
			newServiceParams,
			service.NewPlanService,
			service.NewTransitionService,
			service.NewSubscriptionService,
			service.NewEventProcessor,
			service.NewUsageService,
			service.NewReconciliationService,
			service.NewSweeper,

			// handlers
			v1.NewHealthHandler,
			v1.NewPlanHandler,
			v1.NewSubscriptionHandler,
			v1.NewUsageHandler,
			v1.NewWebhookHandler,
			newRouter,
		),
		fx.Invoke(startServer),
	)

	app.Run()
}

func newCatalog(cfg *config.Configuration, log *logger.Logger) (*plan.Catalog, error) {
	catalog := plan.NewCatalog()
	if err := service.LoadCatalogFromFile(catalog, cfg.Catalog.Path); err != nil {
		return nil, err
	}
	log.Infow("loaded plan catalog",
		"path", cfg.Catalog.Path,
		"version", catalog.Version(),
		"plans", len(catalog.List()))
	return catalog, nil
}

func newProviderClient(cfg *config.Configuration, log *logger.Logger) (provider.Client, error) {
	return stripe.NewClient(cfg, log)
}

func newWebhookParser(cfg *config.Configuration, log *logger.Logger) v1.WebhookParser {
	return stripe.NewWebhookParser(cfg.Stripe.WebhookSecret, log)
}

func newServiceParams(
	log *logger.Logger,
	cfg *config.Configuration,
	catalog *plan.Catalog,
	subscriptionRepo subscription.Repository,
	eventRepo events.Repository,
	usageRepo usage.Repository,
	providerClient provider.Client,
	locks *service.LockManager,
	publisher webhook.Publisher,
) service.ServiceParams {
	return service.ServiceParams{
		Logger:           log,
		Config:           cfg,
		Catalog:          catalog,
		SubscriptionRepo: subscriptionRepo,
		EventRepo:        eventRepo,
		UsageRepo:        usageRepo,
		Provider:         providerClient,
		Locks:            locks,
		Publisher:        publisher,
	}
}

func newRouter(
	health *v1.HealthHandler,
	planHandler *v1.PlanHandler,
	subscriptionHandler *v1.SubscriptionHandler,
	usageHandler *v1.UsageHandler,
	webhookHandler *v1.WebhookHandler,
	cfg *config.Configuration,
	log *logger.Logger,
) *gin.Engine {
	return api.NewRouter(api.Handlers{
		Health:       health,
		Plan:         planHandler,
		Subscription: subscriptionHandler,
		Usage:        usageHandler,
		Webhook:      webhookHandler,
	}, cfg, log)
}

func startServer(
	lc fx.Lifecycle,
	cfg *config.Configuration,
	router *gin.Engine,
	sweeper *service.Sweeper,
	db *sqlx.DB,
	log *logger.Logger,
) {
	server := &http.Server{
		Addr:    cfg.Server.Address,
		Handler: router,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			sweeper.Start(context.Background())
			go func() {
				log.Infow("starting server", "address", cfg.Server.Address)
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatalw("server failed", "error", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Info("shutting down server")
			sweeper.Stop()
			if err := server.Shutdown(ctx); err != nil {
				return err
			}
			return db.Close()
		},
	})
}
