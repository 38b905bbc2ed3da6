package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/flexprice/subsync/internal/logger"
	"github.com/flexprice/subsync/internal/service"
)

type PlanHandler struct {
	service service.PlanService
	log     *logger.Logger
}

func NewPlanHandler(svc service.PlanService, log *logger.Logger) *PlanHandler {
	return &PlanHandler{service: svc, log: log}
}

func (h *PlanHandler) ListPlans(c *gin.Context) {
	plans, err := h.service.ListPlans(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"catalog_version": h.service.CatalogVersion(c.Request.Context()),
		"plans":           plans,
	})
}

func (h *PlanHandler) GetPlan(c *gin.Context) {
	p, err := h.service.GetPlan(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *PlanHandler) ReloadCatalog(c *gin.Context) {
	version, err := h.service.ReloadCatalog(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"catalog_version": version})
}
