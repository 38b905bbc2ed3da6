package v1

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	ierr "github.com/flexprice/subsync/internal/errors"
	"github.com/flexprice/subsync/internal/logger"
	"github.com/flexprice/subsync/internal/service"
)

type UsageHandler struct {
	service service.UsageService
	log     *logger.Logger
}

func NewUsageHandler(svc service.UsageService, log *logger.Logger) *UsageHandler {
	return &UsageHandler{service: svc, log: log}
}

type RecordUsageRequest struct {
	Metric   string `json:"metric" binding:"required"`
	Quantity int64  `json:"quantity" binding:"required"`
	// Timestamp is when the consumption happened; defaults to now
	Timestamp time.Time `json:"timestamp"`
}

type CheckAllowanceRequest struct {
	Metric   string `json:"metric" binding:"required"`
	Quantity int64  `json:"quantity" binding:"required,gt=0"`
}

func (h *UsageHandler) RecordUsage(c *gin.Context) {
	var req RecordUsageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(ierr.WithError(err).
			WithHint("Invalid usage record payload").
			Mark(ierr.ErrValidation))
		return
	}

	record, err := h.service.Record(c.Request.Context(), req.Metric, req.Quantity, req.Timestamp)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, record)
}

func (h *UsageHandler) GetTotal(c *gin.Context) {
	total, err := h.service.CurrentTotal(c.Request.Context(), c.Param("metric"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"metric": c.Param("metric"),
		"total":  total,
	})
}

func (h *UsageHandler) CheckAllowance(c *gin.Context) {
	var req CheckAllowanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(ierr.WithError(err).
			WithHint("Invalid allowance check payload").
			Mark(ierr.ErrValidation))
		return
	}

	result, err := h.service.CheckAllowance(c.Request.Context(), req.Metric, req.Quantity)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, result)
}
