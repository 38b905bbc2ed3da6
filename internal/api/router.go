package api

import (
	v1 "github.com/flexprice/subsync/internal/api/v1"
	"github.com/flexprice/subsync/internal/config"
	"github.com/flexprice/subsync/internal/logger"
	"github.com/flexprice/subsync/internal/rest/middleware"
	"github.com/flexprice/subsync/internal/types"
	"github.com/gin-gonic/gin"
)

// Handlers bundles every route handler the router mounts
type Handlers struct {
	Health       *v1.HealthHandler
	Plan         *v1.PlanHandler
	Subscription *v1.SubscriptionHandler
	Usage        *v1.UsageHandler
	Webhook      *v1.WebhookHandler
}

// NewRouter builds the gin engine with middleware and all v1 routes
func NewRouter(handlers Handlers, cfg *config.Configuration, log *logger.Logger) *gin.Engine {
	if cfg.Deployment.Mode != types.ModeLocal {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(
		gin.Recovery(),
		middleware.RequestContext(),
		middleware.CORSMiddleware(),
		middleware.ErrorHandler(log, cfg.Deployment.Mode),
	)

	router.GET("/health", handlers.Health.Health)

	// provider notifications authenticate by signature, not tenant header
	router.POST("/webhooks/stripe", handlers.Webhook.HandleStripeWebhook)

	api := router.Group("/v1", middleware.TenantRequired())

	plans := api.Group("/plans")
	{
		plans.GET("", handlers.Plan.ListPlans)
		plans.GET("/:id", handlers.Plan.GetPlan)
		plans.POST("/reload", handlers.Plan.ReloadCatalog)
	}

	subscriptions := api.Group("/subscriptions")
	{
		subscriptions.GET("/:id", handlers.Subscription.GetSubscription)
		subscriptions.POST("/:id/change", handlers.Subscription.ChangePlan)
		subscriptions.POST("/:id/preview", handlers.Subscription.PreviewChange)
		subscriptions.POST("/:id/cancel", handlers.Subscription.CancelSubscription)
		subscriptions.POST("/:id/reconcile", handlers.Subscription.Reconcile)
	}

	usage := api.Group("/usage")
	{
		usage.POST("", handlers.Usage.RecordUsage)
		usage.POST("/allowance", handlers.Usage.CheckAllowance)
		usage.GET("/:metric/total", handlers.Usage.GetTotal)
	}

	return router
}
