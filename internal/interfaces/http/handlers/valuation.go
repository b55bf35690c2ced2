// internal/interfaces/http/handlers/valuation.go
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/your-org/inventory-backend/internal/config"
	"github.com/your-org/inventory-backend/internal/domain/valuation"
)

// ValuationHandler handles valuation layer endpoints
type ValuationHandler struct {
	valuationService *valuation.Service
	config           *config.Config
}

// NewValuationHandler creates a new valuation handler
func NewValuationHandler(valuationService *valuation.Service, cfg *config.Config) *ValuationHandler {
	return &ValuationHandler{
		valuationService: valuationService,
		config:           cfg,
	}
}

// Snapshot handles GET /valuation/positions/:id
func (h *ValuationHandler) Snapshot(c *gin.Context) {
	positionID, err := parseUintParam(c, "id")
	if err != nil {
		return
	}

	snapshot, err := h.valuationService.Snapshot(c.Request.Context(), tenantID(c), positionID)
	if err != nil {
		respondDomainError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": snapshot,
	})
}

// AllocateLandedCosts handles POST /valuation/layers/:id/landed-costs
func (h *ValuationHandler) AllocateLandedCosts(c *gin.Context) {
	layerID, err := parseUintParam(c, "id")
	if err != nil {
		return
	}

	var req struct {
		Freight  decimal.Decimal `json:"freight"`
		Duty     decimal.Decimal `json:"duty"`
		Handling decimal.Decimal `json:"handling"`
		Other    decimal.Decimal `json:"other"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request data",
			"details": err.Error(),
		})
		return
	}

	layer, err := h.valuationService.AllocateLandedCosts(c.Request.Context(), tenantID(c), layerID, req.Freight, req.Duty, req.Handling, req.Other)
	if err != nil {
		respondDomainError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Landed costs allocated",
		"data":    layer,
	})
}
