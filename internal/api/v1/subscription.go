package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"
	ierr "github.com/flexprice/subsync/internal/errors"
	"github.com/flexprice/subsync/internal/logger"
	"github.com/flexprice/subsync/internal/service"
	"github.com/flexprice/subsync/internal/types"
)

type SubscriptionHandler struct {
	service     service.SubscriptionService
	transitions service.TransitionService
	reconciler  service.ReconciliationService
	log         *logger.Logger
}

func NewSubscriptionHandler(
	svc service.SubscriptionService,
	transitions service.TransitionService,
	reconciler service.ReconciliationService,
	log *logger.Logger,
) *SubscriptionHandler {
	return &SubscriptionHandler{
		service:     svc,
		transitions: transitions,
		reconciler:  reconciler,
		log:         log,
	}
}

type ChangePlanRequest struct {
	TargetPlanID        string              `json:"target_plan_id" binding:"required"`
	TargetBillingPeriod types.BillingPeriod `json:"target_billing_period" binding:"required"`
}

type CancelSubscriptionRequest struct {
	Immediate bool `json:"immediate"`
}

func (h *SubscriptionHandler) GetSubscription(c *gin.Context) {
	sub, err := h.service.GetSubscription(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, sub)
}

func (h *SubscriptionHandler) ChangePlan(c *gin.Context) {
	var req ChangePlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(ierr.WithError(err).
			WithHint("Invalid change request payload").
			Mark(ierr.ErrValidation))
		return
	}

	result, err := h.service.ChangePlan(c.Request.Context(), c.Param("id"), req.TargetPlanID, req.TargetBillingPeriod)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *SubscriptionHandler) PreviewChange(c *gin.Context) {
	var req ChangePlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(ierr.WithError(err).
			WithHint("Invalid preview request payload").
			Mark(ierr.ErrValidation))
		return
	}

	preview, err := h.transitions.PreviewChange(c.Request.Context(), c.Param("id"), req.TargetPlanID, req.TargetBillingPeriod)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, preview)
}

func (h *SubscriptionHandler) CancelSubscription(c *gin.Context) {
	var req CancelSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(ierr.WithError(err).
			WithHint("Invalid cancel request payload").
			Mark(ierr.ErrValidation))
		return
	}

	sub, err := h.service.CancelSubscription(c.Request.Context(), c.Param("id"), req.Immediate)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, sub)
}

func (h *SubscriptionHandler) Reconcile(c *gin.Context) {
	result, err := h.reconciler.Reconcile(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, result)
}
