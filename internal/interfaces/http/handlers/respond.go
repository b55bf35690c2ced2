// internal/interfaces/http/handlers/respond.go
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/your-org/inventory-backend/internal/domain/ledger"
	"github.com/your-org/inventory-backend/internal/domain/reservation"
	"github.com/your-org/inventory-backend/internal/domain/valuation"
	"github.com/your-org/inventory-backend/internal/interfaces/http/middleware"
)

// tenantID pulls the tenant from context; the tenant middleware guarantees
// it is set on every /api/v1 route
func tenantID(c *gin.Context) string {
	tenant, _ := middleware.GetTenantIDFromContext(c)
	return tenant
}

// actorID pulls the authenticated operator id, zero when unauthenticated
func actorID(c *gin.Context) uint {
	operatorID, _ := middleware.GetOperatorIDFromContext(c)
	return operatorID
}

// respondDomainError maps domain errors onto HTTP status codes
func respondDomainError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ledger.ErrPositionNotFound),
		errors.Is(err, ledger.ErrMovementNotFound),
		errors.Is(err, valuation.ErrLayerNotFound),
		errors.Is(err, reservation.ErrReservationNotFound),
		errors.Is(err, reservation.ErrItemNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})

	case errors.Is(err, ledger.ErrInvalidQuantity),
		errors.Is(err, valuation.ErrInvalidQuantity),
		errors.Is(err, reservation.ErrInvalidRequest):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})

	case errors.Is(err, ledger.ErrInsufficientAvailable),
		errors.Is(err, ledger.ErrInsufficientReserved),
		errors.Is(err, ledger.ErrInsufficientAllocated),
		errors.Is(err, ledger.ErrInsufficientPicked),
		errors.Is(err, ledger.ErrDuplicateMovementReference),
		errors.Is(err, ledger.ErrPositionInactive),
		errors.Is(err, ledger.ErrReversalWindowExpired),
		errors.Is(err, ledger.ErrAlreadyReversed),
		errors.Is(err, ledger.ErrNotReversible),
		errors.Is(err, reservation.ErrReservationClosed),
		errors.Is(err, reservation.ErrOverFulfillment):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})

	case errors.Is(err, ledger.ErrPositionLockTimeout):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})

	case errors.Is(err, valuation.ErrValuationIntegrity):
		// integrity violations fail loudly; never degrade to a best guess
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})

	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
