// internal/interfaces/http/handlers/stock.go
package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/your-org/inventory-backend/internal/config"
	"github.com/your-org/inventory-backend/internal/domain/ledger"
)

// StockHandler handles stock position and bucket operation endpoints
type StockHandler struct {
	ledgerService *ledger.Service
	config        *config.Config
}

// NewStockHandler creates a new stock handler
func NewStockHandler(ledgerService *ledger.Service, cfg *config.Config) *StockHandler {
	return &StockHandler{
		ledgerService: ledgerService,
		config:        cfg,
	}
}

// Provision handles POST /stock/positions
func (h *StockHandler) Provision(c *gin.Context) {
	var req ledger.ProvisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request data",
			"details": err.Error(),
		})
		return
	}

	position, err := h.ledgerService.Provision(c.Request.Context(), tenantID(c), req)
	if err != nil {
		respondDomainError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message": "Position provisioned successfully",
		"data":    position,
	})
}

// GetPosition handles GET /stock/positions/:id
func (h *StockHandler) GetPosition(c *gin.Context) {
	positionID, err := parseUintParam(c, "id")
	if err != nil {
		return
	}

	position, err := h.ledgerService.GetPosition(c.Request.Context(), tenantID(c), positionID)
	if err != nil {
		respondDomainError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": position,
	})
}

// Deactivate handles DELETE /stock/positions/:id
func (h *StockHandler) Deactivate(c *gin.Context) {
	positionID, err := parseUintParam(c, "id")
	if err != nil {
		return
	}

	position, err := h.ledgerService.Deactivate(c.Request.Context(), tenantID(c), positionID)
	if err != nil {
		respondDomainError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Position deactivated successfully",
		"data":    position,
	})
}

// GetAvailability handles GET /stock/availability
func (h *StockHandler) GetAvailability(c *gin.Context) {
	productID, err := strconv.ParseUint(c.Query("product_id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "product_id query parameter required",
		})
		return
	}

	var warehouseID *uint
	if raw := c.Query("warehouse_id"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Invalid warehouse_id",
			})
			return
		}
		wid := uint(id)
		warehouseID = &wid
	}

	available, err := h.ledgerService.GetAvailableQuantity(c.Request.Context(), tenantID(c), uint(productID), warehouseID)
	if err != nil {
		respondDomainError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": gin.H{
			"product_id": productID,
			"available":  available,
		},
	})
}

// Receive handles POST /stock/receive
func (h *StockHandler) Receive(c *gin.Context) {
	var req ledger.ReceiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request data",
			"details": err.Error(),
		})
		return
	}
	req.ActorID = actorID(c)

	result, err := h.ledgerService.Receive(c.Request.Context(), tenantID(c), req)
	if err != nil {
		respondDomainError(c, err)
		return
	}

	status := http.StatusCreated
	if result.AlreadyApplied {
		status = http.StatusOK
	}
	c.JSON(status, gin.H{
		"message": "Stock received",
		"data":    result,
	})
}

// Adjust handles POST /stock/adjust
func (h *StockHandler) Adjust(c *gin.Context) {
	var req ledger.AdjustRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request data",
			"details": err.Error(),
		})
		return
	}
	req.ActorID = actorID(c)

	result, err := h.ledgerService.Adjust(c.Request.Context(), tenantID(c), req)
	if err != nil {
		respondDomainError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Stock adjusted",
		"data":    result,
	})
}

// Transfer handles POST /stock/transfer
func (h *StockHandler) Transfer(c *gin.Context) {
	var req ledger.TransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request data",
			"details": err.Error(),
		})
		return
	}
	req.ActorID = actorID(c)

	result, err := h.ledgerService.Transfer(c.Request.Context(), tenantID(c), req)
	if err != nil {
		respondDomainError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Stock transferred",
		"data":    result,
	})
}

// bucketOpRequest is the request body shared by the bucket move endpoints
type bucketOpRequest struct {
	PositionID uint               `json:"position_id" binding:"required"`
	Quantity   decimal.Decimal    `json:"quantity" binding:"required"`
	Document   ledger.DocumentRef `json:"document"`
	Reason     string             `json:"reason"`
}

func (h *StockHandler) bucketOp(c *gin.Context, message string, call func(op ledger.BucketOp) (*ledger.OperationResult, error)) {
	var req bucketOpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request data",
			"details": err.Error(),
		})
		return
	}

	result, err := call(ledger.BucketOp{
		PositionID: req.PositionID,
		Quantity:   req.Quantity,
		Document:   req.Document,
		Reason:     req.Reason,
		ActorID:    actorID(c),
	})
	if err != nil {
		respondDomainError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": message,
		"data":    result,
	})
}

// Reserve handles POST /stock/reserve
func (h *StockHandler) Reserve(c *gin.Context) {
	h.bucketOp(c, "Stock reserved", func(op ledger.BucketOp) (*ledger.OperationResult, error) {
		return h.ledgerService.Reserve(c.Request.Context(), tenantID(c), op)
	})
}

// Release handles POST /stock/release
func (h *StockHandler) Release(c *gin.Context) {
	h.bucketOp(c, "Reservation released", func(op ledger.BucketOp) (*ledger.OperationResult, error) {
		return h.ledgerService.Release(c.Request.Context(), tenantID(c), op)
	})
}

// Allocate handles POST /stock/allocate
func (h *StockHandler) Allocate(c *gin.Context) {
	h.bucketOp(c, "Stock allocated", func(op ledger.BucketOp) (*ledger.OperationResult, error) {
		return h.ledgerService.Allocate(c.Request.Context(), tenantID(c), op)
	})
}

// ReleaseAllocated handles POST /stock/unallocate
func (h *StockHandler) ReleaseAllocated(c *gin.Context) {
	h.bucketOp(c, "Allocation released", func(op ledger.BucketOp) (*ledger.OperationResult, error) {
		return h.ledgerService.ReleaseAllocated(c.Request.Context(), tenantID(c), op)
	})
}

// Pick handles POST /stock/pick
func (h *StockHandler) Pick(c *gin.Context) {
	h.bucketOp(c, "Stock picked", func(op ledger.BucketOp) (*ledger.OperationResult, error) {
		return h.ledgerService.Pick(c.Request.Context(), tenantID(c), op)
	})
}

// Ship handles POST /stock/ship
func (h *StockHandler) Ship(c *gin.Context) {
	var req bucketOpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request data",
			"details": err.Error(),
		})
		return
	}

	result, err := h.ledgerService.Ship(c.Request.Context(), tenantID(c), ledger.BucketOp{
		PositionID: req.PositionID,
		Quantity:   req.Quantity,
		Document:   req.Document,
		Reason:     req.Reason,
		ActorID:    actorID(c),
	})
	if err != nil {
		respondDomainError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Stock shipped",
		"data":    result,
	})
}

// parseUintParam parses a numeric path parameter, responding 400 on failure
func parseUintParam(c *gin.Context, name string) (uint, error) {
	raw, err := strconv.ParseUint(c.Param(name), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid " + name + " parameter",
		})
		return 0, err
	}
	return uint(raw), nil
}
