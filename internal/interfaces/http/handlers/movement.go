// internal/interfaces/http/handlers/movement.go
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/your-org/inventory-backend/internal/config"
	"github.com/your-org/inventory-backend/internal/domain/ledger"
)

// MovementHandler handles movement log endpoints
type MovementHandler struct {
	movementLog *ledger.MovementLog
	config      *config.Config
}

// NewMovementHandler creates a new movement handler
func NewMovementHandler(movementLog *ledger.MovementLog, cfg *config.Config) *MovementHandler {
	return &MovementHandler{
		movementLog: movementLog,
		config:      cfg,
	}
}

// History handles GET /movements/positions/:id
func (h *MovementHandler) History(c *gin.Context) {
	positionID, err := parseUintParam(c, "id")
	if err != nil {
		return
	}

	from := time.Time{}
	to := time.Now().UTC()
	if raw := c.Query("from"); raw != "" {
		from, err = time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid from timestamp, want RFC3339"})
			return
		}
	}
	if raw := c.Query("to"); raw != "" {
		to, err = time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid to timestamp, want RFC3339"})
			return
		}
	}

	movements, err := h.movementLog.History(c.Request.Context(), tenantID(c), positionID, from, to)
	if err != nil {
		respondDomainError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":  movements,
		"count": len(movements),
	})
}

// Related handles GET /movements/document
func (h *MovementHandler) Related(c *gin.Context) {
	doc := ledger.DocumentRef{
		Type: ledger.DocumentType(c.Query("type")),
		ID:   c.Query("id"),
	}
	if doc.IsZero() {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "type and id query parameters required",
		})
		return
	}

	movements, err := h.movementLog.RelatedMovements(c.Request.Context(), tenantID(c), doc)
	if err != nil {
		respondDomainError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":  movements,
		"count": len(movements),
	})
}

// Reverse handles POST /movements/:id/reverse
func (h *MovementHandler) Reverse(c *gin.Context) {
	movementID, err := parseUintParam(c, "id")
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

	result, err := h.movementLog.Reverse(c.Request.Context(), tenantID(c), movementID, req.Reason, actorID(c))
	if err != nil {
		respondDomainError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Movement reversed",
		"data":    result,
	})
}

// Replay handles GET /movements/positions/:id/replay. It folds the position's
// full movement history into bucket state, for audits against the stored row.
func (h *MovementHandler) Replay(c *gin.Context) {
	positionID, err := parseUintParam(c, "id")
	if err != nil {
		return
	}

	state, err := h.movementLog.Replay(c.Request.Context(), tenantID(c), positionID)
	if err != nil {
		respondDomainError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": state,
	})
}
