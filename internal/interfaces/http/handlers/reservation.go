// internal/interfaces/http/handlers/reservation.go
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/your-org/inventory-backend/internal/config"
	"github.com/your-org/inventory-backend/internal/domain/reservation"
)

// ReservationHandler handles reservation lifecycle endpoints
type ReservationHandler struct {
	reservationService *reservation.Service
	config             *config.Config
}

// NewReservationHandler creates a new reservation handler
func NewReservationHandler(reservationService *reservation.Service, cfg *config.Config) *ReservationHandler {
	return &ReservationHandler{
		reservationService: reservationService,
		config:             cfg,
	}
}

// Create handles POST /reservations
func (h *ReservationHandler) Create(c *gin.Context) {
	var req reservation.CreateReservationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request data",
			"details": err.Error(),
		})
		return
	}
	req.ActorID = actorID(c)

	res, err := h.reservationService.Create(c.Request.Context(), tenantID(c), &req)
	if err != nil {
		respondDomainError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message": "Reservation created successfully",
		"data":    res,
	})
}

// Get handles GET /reservations/:id
func (h *ReservationHandler) Get(c *gin.Context) {
	reservationID, err := parseUintParam(c, "id")
	if err != nil {
		return
	}

	res, err := h.reservationService.Get(c.Request.Context(), tenantID(c), reservationID)
	if err != nil {
		respondDomainError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": res,
	})
}

// Allocate handles POST /reservations/:id/allocate
func (h *ReservationHandler) Allocate(c *gin.Context) {
	reservationID, err := parseUintParam(c, "id")
	if err != nil {
		return
	}

	var opts reservation.AllocateOptions
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&opts); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "Invalid request data",
				"details": err.Error(),
			})
			return
		}
	}

	res, err := h.reservationService.Allocate(c.Request.Context(), tenantID(c), reservationID, opts)
	if err != nil {
		respondDomainError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Reservation allocated",
		"data":    res,
	})
}

// AllocateItem handles POST /reservations/items/:id/allocate
func (h *ReservationHandler) AllocateItem(c *gin.Context) {
	itemID, err := parseUintParam(c, "id")
	if err != nil {
		return
	}

	var opts reservation.AllocateOptions
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&opts); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "Invalid request data",
				"details": err.Error(),
			})
			return
		}
	}

	item, err := h.reservationService.AllocateItem(c.Request.Context(), tenantID(c), itemID, opts)
	if err != nil {
		respondDomainError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Item allocated",
		"data":    item,
	})
}

// Fulfill handles POST /reservations/items/:id/fulfill
func (h *ReservationHandler) Fulfill(c *gin.Context) {
	itemID, err := parseUintParam(c, "id")
	if err != nil {
		return
	}

	var req struct {
		Quantity decimal.Decimal `json:"quantity" binding:"required"`
		// Ref deduplicates retries of the same fulfillment
		Ref string `json:"ref"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request data",
			"details": err.Error(),
		})
		return
	}

	result, err := h.reservationService.Fulfill(c.Request.Context(), tenantID(c), itemID, req.Quantity, req.Ref, actorID(c))
	if err != nil {
		respondDomainError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Item fulfilled",
		"data":    result,
	})
}

// Cancel handles POST /reservations/:id/cancel
func (h *ReservationHandler) Cancel(c *gin.Context) {
	reservationID, err := parseUintParam(c, "id")
	if err != nil {
		return
	}

	var req struct {
		Reason string `json:"reason" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request data",
			"details": err.Error(),
		})
		return
	}

	result, err := h.reservationService.Cancel(c.Request.Context(), tenantID(c), reservationID, req.Reason, actorID(c))
	if err != nil {
		respondDomainError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Reservation cancelled",
		"data":    result,
	})
}

// ExtendExpiry handles PUT /reservations/:id/expiry
func (h *ReservationHandler) ExtendExpiry(c *gin.Context) {
	reservationID, err := parseUintParam(c, "id")
	if err != nil {
		return
	}

	var req struct {
		ExpiresAt time.Time `json:"expires_at" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request data",
			"details": err.Error(),
		})
		return
	}

	res, err := h.reservationService.ExtendExpiry(c.Request.Context(), tenantID(c), reservationID, req.ExpiresAt, actorID(c))
	if err != nil {
		respondDomainError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Expiry extended",
		"data":    res,
	})
}

// Escalate handles POST /reservations/:id/escalate
func (h *ReservationHandler) Escalate(c *gin.Context) {
	reservationID, err := parseUintParam(c, "id")
	if err != nil {
		return
	}

	var req struct {
		Owner  string `json:"owner" binding:"required"`
		Reason string `json:"reason" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request data",
			"details": err.Error(),
		})
		return
	}

	res, err := h.reservationService.FlagEscalation(c.Request.Context(), tenantID(c), reservationID, req.Owner, req.Reason)
	if err != nil {
		respondDomainError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Reservation escalated",
		"data":    res,
	})
}
