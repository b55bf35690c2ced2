// internal/domain/reservation/service.go
package reservation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/your-org/inventory-backend/internal/config"
	"github.com/your-org/inventory-backend/internal/domain/ledger"
	"github.com/your-org/inventory-backend/internal/pkg/fixed"
	"github.com/your-org/inventory-backend/internal/pkg/lock"
)

// Service drives the reservation lifecycle: creating reservations, walking
// stock candidates to allocate them, fulfilling against allocations and
// releasing everything back on cancellation. All bucket moves go through the
// ledger service so conservation and idempotency are enforced in one place.
type Service struct {
	repo          Repository
	ledger        *ledger.Service
	locks         *lock.KeyedMutex
	lockTimeout   time.Duration
	defaultExpiry time.Duration
	logger        *logrus.Logger
}

// NewService creates a new reservation service
func NewService(repo Repository, ledgerSvc *ledger.Service, locks *lock.KeyedMutex, cfg *config.Config, logger *logrus.Logger) *Service {
	return &Service{
		repo:          repo,
		ledger:        ledgerSvc,
		locks:         locks,
		lockTimeout:   cfg.Ledger.PositionLockTimeout,
		defaultExpiry: cfg.Reservation.DefaultExpiry,
		logger:        logger,
	}
}

// CreateItemRequest describes one demand line of a new reservation
type CreateItemRequest struct {
	ProductID            uint            `json:"product_id" binding:"required"`
	VariantID            uint            `json:"variant_id"`
	Quantity             decimal.Decimal `json:"quantity" binding:"required"`
	PreferredWarehouseID *uint           `json:"preferred_warehouse_id"`
	PreferredLocationID  *uint           `json:"preferred_location_id"`
	PreferredBatch       *string         `json:"preferred_batch"`
	MinQualityGrade      string          `json:"min_quality_grade"`
	MinShelfLifeDays     int             `json:"min_shelf_life_days"`
}

// CreateReservationRequest describes a new reservation
type CreateReservationRequest struct {
	Type                ReservationType     `json:"type" binding:"required"`
	Priority            Priority            `json:"priority"`
	Strategy            Strategy            `json:"strategy"`
	RequiredAt          *time.Time          `json:"required_at"`
	ExpiresAt           *time.Time          `json:"expires_at"`
	AllowPartial        bool                `json:"allow_partial"`
	BackorderEnabled    bool                `json:"backorder_enabled"`
	AutoReleaseOnExpiry bool                `json:"auto_release_on_expiry"`
	Document            ledger.DocumentRef  `json:"document"`
	ActorID             uint                `json:"-"`
	Items               []CreateItemRequest `json:"items" binding:"required"`
}

// Create registers a new reservation in PENDING state. No stock is touched
// until Allocate runs.
func (s *Service) Create(ctx context.Context, tenantID string, req *CreateReservationRequest) (*Reservation, error) {
	if len(req.Items) == 0 {
		return nil, fmt.Errorf("%w: at least one item required", ErrInvalidRequest)
	}
	strategy := req.Strategy
	if strategy == "" {
		strategy = StrategyFIFO
	}
	if !strategy.IsValid() {
		return nil, fmt.Errorf("%w: unknown strategy %q", ErrInvalidRequest, strategy)
	}
	priority := req.Priority
	if priority == "" {
		priority = PriorityNormal
	}

	now := time.Now().UTC()
	expiresAt := now.Add(s.defaultExpiry)
	if req.ExpiresAt != nil {
		if req.ExpiresAt.Before(now) {
			return nil, fmt.Errorf("%w: expiry must be in the future", ErrInvalidRequest)
		}
		expiresAt = req.ExpiresAt.UTC()
	}

	res := &Reservation{
		TenantID:            tenantID,
		Number:              uuid.New().String(),
		Type:                req.Type,
		Priority:            priority,
		Strategy:            strategy,
		Status:              StatusPending,
		RequiredAt:          req.RequiredAt,
		ExpiresAt:           expiresAt,
		AllowPartial:        req.AllowPartial,
		BackorderEnabled:    req.BackorderEnabled,
		AutoReleaseOnExpiry: req.AutoReleaseOnExpiry,
		DocumentType:        string(req.Document.Type),
		DocumentID:          req.Document.ID,
		CreatedBy:           req.ActorID,
	}
	for _, ir := range req.Items {
		if ir.Quantity.LessThanOrEqual(decimal.Zero) {
			return nil, fmt.Errorf("%w: item quantity must be positive", ErrInvalidRequest)
		}
		res.Items = append(res.Items, ReservationItem{
			TenantID:             tenantID,
			ProductID:            ir.ProductID,
			VariantID:            ir.VariantID,
			QtyRequested:         fixed.Quantity(ir.Quantity),
			Status:               ItemStatusRequested,
			PreferredWarehouseID: ir.PreferredWarehouseID,
			PreferredLocationID:  ir.PreferredLocationID,
			PreferredBatch:       ir.PreferredBatch,
			MinQualityGrade:      ir.MinQualityGrade,
			MinShelfLifeDays:     ir.MinShelfLifeDays,
		})
	}

	if err := s.repo.CreateReservation(ctx, res); err != nil {
		return nil, fmt.Errorf("failed to create reservation: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"tenant_id":   tenantID,
		"reservation": res.Number,
		"items":       len(res.Items),
		"strategy":    strategy,
	}).Info("Reservation created")

	return res, nil
}

// AllocateOptions tunes a single allocation walk
type AllocateOptions struct {
	// ManualOrder lists position ids in caller-chosen order. Required when
	// the reservation strategy is MANUAL, ignored otherwise.
	ManualOrder []uint `json:"manual_order"`
}

// Allocate runs the allocation walk for every open item of the reservation
func (s *Service) Allocate(ctx context.Context, tenantID string, reservationID uint, opts AllocateOptions) (*Reservation, error) {
	release, err := s.acquire(ctx, tenantID, reservationID)
	if err != nil {
		return nil, err
	}
	defer release()

	res, err := s.load(ctx, tenantID, reservationID)
	if err != nil {
		return nil, err
	}
	if !res.Status.IsOpen() {
		return nil, ErrReservationClosed
	}

	for i := range res.Items {
		item := &res.Items[i]
		if item.Status == ItemStatusCancelled || item.QtyOutstanding().LessThanOrEqual(decimal.Zero) {
			continue
		}
		if err := s.allocateItem(ctx, res, item, opts); err != nil {
			return nil, err
		}
	}

	s.rollup(res)
	if err := s.repo.SaveReservation(ctx, res); err != nil {
		return nil, fmt.Errorf("failed to save reservation: %w", err)
	}
	return res, nil
}

// AllocateItem runs the allocation walk for a single reservation item
func (s *Service) AllocateItem(ctx context.Context, tenantID string, itemID uint, opts AllocateOptions) (*ReservationItem, error) {
	item, err := s.repo.FindItem(ctx, tenantID, itemID)
	if err != nil {
		return nil, err
	}

	release, err := s.acquire(ctx, tenantID, item.ReservationID)
	if err != nil {
		return nil, err
	}
	defer release()

	res, err := s.load(ctx, tenantID, item.ReservationID)
	if err != nil {
		return nil, err
	}
	if !res.Status.IsOpen() {
		return nil, ErrReservationClosed
	}
	item, err = s.repo.FindItem(ctx, tenantID, itemID)
	if err != nil {
		return nil, err
	}

	if err := s.allocateItem(ctx, res, item, opts); err != nil {
		return nil, err
	}
	s.rollup(res)
	if err := s.repo.SaveReservation(ctx, res); err != nil {
		return nil, fmt.Errorf("failed to save reservation: %w", err)
	}
	return item, nil
}

// allocateItem walks candidate positions in strategy order, reserving and
// allocating stock position by position. When demand cannot be covered the
// walk either backorders the shortfall or unwinds every position it touched,
// leaving the ledger exactly as it found it.
func (s *Service) allocateItem(ctx context.Context, res *Reservation, item *ReservationItem, opts AllocateOptions) error {
	demand := item.QtyOutstanding()
	if demand.LessThanOrEqual(decimal.Zero) {
		return nil
	}

	filter := ledger.CandidateFilter{
		ProductID:     item.ProductID,
		VariantID:     item.VariantID,
		WarehouseID:   item.PreferredWarehouseID,
		LocationID:    item.PreferredLocationID,
		BatchNumber:   item.PreferredBatch,
		OnlyAvailable: true,
	}
	candidates, err := s.ledger.SearchCandidates(ctx, res.TenantID, filter)
	if err != nil {
		return fmt.Errorf("failed to search candidates: %w", err)
	}
	candidates = filterConstraints(item, candidates, time.Now().UTC())
	ordered, err := sortCandidates(res.Strategy, candidates, opts.ManualOrder)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	var touched []*Allocation
	allocated := decimal.Zero

	for _, pos := range ordered {
		if err := ctx.Err(); err != nil {
			s.unwind(res.TenantID, item, touched, "allocation cancelled")
			return err
		}
		if demand.LessThanOrEqual(decimal.Zero) {
			break
		}
		take := decimal.Min(demand, pos.Available)
		if take.LessThanOrEqual(decimal.Zero) {
			continue
		}

		alloc := &Allocation{
			TenantID:          res.TenantID,
			ReservationItemID: item.ID,
			Number:            uuid.New().String(),
			PositionID:        pos.ID,
			QtyAllocated:      take,
			UnitCost:          pos.AverageCost,
			Status:            AllocationStatusActive,
		}
		doc := ledger.DocumentRef{Type: ledger.DocumentTypeReservation, ID: alloc.Number}
		op := ledger.BucketOp{
			PositionID: pos.ID,
			Quantity:   take,
			Document:   doc,
			Reason:     fmt.Sprintf("reservation %s", res.Number),
			ActorID:    res.CreatedBy,
		}

		if _, err := s.ledger.Reserve(ctx, res.TenantID, op); err != nil {
			if errors.Is(err, ledger.ErrInsufficientAvailable) {
				// a concurrent caller drained this position between the
				// search and the reserve; keep walking
				continue
			}
			s.unwind(res.TenantID, item, touched, "allocation failed")
			return err
		}
		if _, err := s.ledger.Allocate(ctx, res.TenantID, op); err != nil {
			s.compensate(res.TenantID, pos.ID, take, alloc.Number, s.ledger.Release)
			s.unwind(res.TenantID, item, touched, "allocation failed")
			return err
		}
		if err := s.repo.CreateAllocation(ctx, alloc); err != nil {
			s.compensate(res.TenantID, pos.ID, take, alloc.Number, s.ledger.ReleaseAllocated)
			s.unwind(res.TenantID, item, touched, "allocation failed")
			return fmt.Errorf("failed to record allocation: %w", err)
		}

		touched = append(touched, alloc)
		allocated = allocated.Add(take)
		demand = demand.Sub(take)
	}

	if demand.GreaterThan(decimal.Zero) {
		if res.AllowPartial && res.BackorderEnabled {
			item.QtyBackordered = fixed.Quantity(demand)
			item.QtyAllocated = item.QtyAllocated.Add(allocated)
			item.Status = ItemStatusBackordered
			item.Allocations = append(item.Allocations, deref(touched)...)
			if err := s.repo.SaveItem(ctx, item); err != nil {
				return fmt.Errorf("failed to save item: %w", err)
			}
			s.logger.WithFields(logrus.Fields{
				"tenant_id":   res.TenantID,
				"reservation": res.Number,
				"item_id":     item.ID,
				"backordered": demand,
			}).Info("Reservation item backordered")
			return nil
		}
		s.unwind(res.TenantID, item, touched, "insufficient stock")
		return fmt.Errorf("%w: item %d short by %s", ledger.ErrInsufficientAvailable, item.ID, demand)
	}

	item.QtyAllocated = item.QtyAllocated.Add(allocated)
	item.QtyBackordered = decimal.Zero
	item.Status = ItemStatusAllocated
	item.Allocations = append(item.Allocations, deref(touched)...)
	if err := s.repo.SaveItem(ctx, item); err != nil {
		return fmt.Errorf("failed to save item: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"tenant_id":   res.TenantID,
		"reservation": res.Number,
		"item_id":     item.ID,
		"allocated":   allocated,
		"positions":   len(touched),
	}).Info("Reservation item allocated")
	return nil
}

// unwind releases every position the failed walk already touched. It runs on
// a fresh context so cancellation of the original request cannot strand stock
// in the allocated bucket.
func (s *Service) unwind(tenantID string, item *ReservationItem, touched []*Allocation, reason string) {
	if len(touched) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.lockTimeout*time.Duration(len(touched)+1))
	defer cancel()

	for _, alloc := range touched {
		op := ledger.BucketOp{
			PositionID: alloc.PositionID,
			Quantity:   alloc.QtyAllocated,
			Document:   ledger.DocumentRef{Type: ledger.DocumentTypeReservation, ID: alloc.Number + ":rollback"},
			Reason:     reason,
		}
		if _, err := s.ledger.ReleaseAllocated(ctx, tenantID, op); err != nil {
			s.logger.WithError(err).WithFields(logrus.Fields{
				"tenant_id":   tenantID,
				"allocation":  alloc.Number,
				"position_id": alloc.PositionID,
			}).Error("Compensating release failed, stock may be stranded")
			continue
		}
		alloc.Status = AllocationStatusReleased
		if alloc.ID != 0 {
			if err := s.repo.SaveAllocation(ctx, alloc); err != nil {
				s.logger.WithError(err).Warn("Failed to mark allocation released")
			}
		}
	}
	s.logger.WithFields(logrus.Fields{
		"tenant_id": tenantID,
		"item_id":   item.ID,
		"positions": len(touched),
		"reason":    reason,
	}).Warn("Allocation walk unwound")
}

// compensate reverts a single half-applied position using the given release
// primitive
func (s *Service) compensate(tenantID string, positionID uint, qty decimal.Decimal, allocNumber string, releaseFn func(context.Context, string, ledger.BucketOp) (*ledger.OperationResult, error)) {
	ctx, cancel := context.WithTimeout(context.Background(), s.lockTimeout*2)
	defer cancel()
	_, err := releaseFn(ctx, tenantID, ledger.BucketOp{
		PositionID: positionID,
		Quantity:   qty,
		Document:   ledger.DocumentRef{Type: ledger.DocumentTypeReservation, ID: allocNumber + ":rollback"},
		Reason:     "allocation failed",
	})
	if err != nil {
		s.logger.WithError(err).WithField("position_id", positionID).Error("Compensating release failed, stock may be stranded")
	}
}

// FulfillResult reports the outcome of a fulfillment call
type FulfillResult struct {
	Item     *ReservationItem `json:"item"`
	Quantity decimal.Decimal  `json:"quantity"`
	COGS     decimal.Decimal  `json:"cogs"`
}

// Fulfill picks and ships qty against the item's open allocations in
// creation order. Ref deduplicates retries: the same ref replays as a no-op
// on positions already shipped. An empty ref disables the guard.
func (s *Service) Fulfill(ctx context.Context, tenantID string, itemID uint, qty decimal.Decimal, ref string, actorID uint) (*FulfillResult, error) {
	if qty.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("%w: quantity must be positive", ErrInvalidRequest)
	}
	qty = fixed.Quantity(qty)

	item, err := s.repo.FindItem(ctx, tenantID, itemID)
	if err != nil {
		return nil, err
	}

	release, err := s.acquire(ctx, tenantID, item.ReservationID)
	if err != nil {
		return nil, err
	}
	defer release()

	res, err := s.load(ctx, tenantID, item.ReservationID)
	if err != nil {
		return nil, err
	}
	if !res.Status.IsOpen() {
		return nil, ErrReservationClosed
	}
	item, err = s.repo.FindItem(ctx, tenantID, itemID)
	if err != nil {
		return nil, err
	}

	unfulfilled := decimal.Zero
	for i := range item.Allocations {
		unfulfilled = unfulfilled.Add(item.Allocations[i].QtyRemaining())
	}
	if qty.GreaterThan(unfulfilled) {
		return nil, fmt.Errorf("%w: requested %s, open %s", ErrOverFulfillment, qty, unfulfilled)
	}

	remaining := qty
	fulfilled := decimal.Zero
	totalCOGS := decimal.Zero
	var walkErr error
	for i := range item.Allocations {
		alloc := &item.Allocations[i]
		if remaining.LessThanOrEqual(decimal.Zero) {
			break
		}
		if alloc.Status != AllocationStatusActive {
			continue
		}
		take := decimal.Min(remaining, alloc.QtyRemaining())
		if take.LessThanOrEqual(decimal.Zero) {
			continue
		}

		docID := alloc.Number
		if ref != "" {
			docID = ref + ":" + alloc.Number
		} else {
			docID = uuid.New().String()
		}
		op := ledger.BucketOp{
			PositionID: alloc.PositionID,
			Quantity:   take,
			Document:   ledger.DocumentRef{Type: ledger.DocumentTypeFulfillment, ID: docID},
			Reason:     fmt.Sprintf("fulfill reservation %s", res.Number),
			ActorID:    actorID,
		}
		if _, err := s.ledger.Pick(ctx, tenantID, op); err != nil {
			walkErr = err
			break
		}
		shipped, err := s.ledger.Ship(ctx, tenantID, op)
		if err != nil {
			// the picked quantity stays parked; a retry with the same ref
			// replays the pick as a no-op and ships it
			walkErr = err
			break
		}
		totalCOGS = totalCOGS.Add(shipped.COGS)

		alloc.QtyFulfilled = alloc.QtyFulfilled.Add(take)
		if alloc.QtyRemaining().LessThanOrEqual(decimal.Zero) {
			alloc.Status = AllocationStatusFulfilled
		}
		if err := s.repo.SaveAllocation(ctx, alloc); err != nil {
			walkErr = fmt.Errorf("failed to save allocation: %w", err)
			break
		}
		fulfilled = fulfilled.Add(take)
		remaining = remaining.Sub(take)
	}

	// the item-level counter tracks what really shipped, so a walk that
	// failed partway still leaves the item in agreement with its allocations
	if fulfilled.GreaterThan(decimal.Zero) {
		item.QtyFulfilled = item.QtyFulfilled.Add(fulfilled)
		if item.QtyFulfilled.GreaterThanOrEqual(item.QtyRequested) {
			item.Status = ItemStatusFulfilled
		} else {
			item.Status = ItemStatusPartialFulfilled
		}
		if err := s.repo.SaveItem(ctx, item); err != nil {
			return nil, fmt.Errorf("failed to save item: %w", err)
		}

		// refresh sibling items for the status rollup
		res, err = s.load(ctx, tenantID, item.ReservationID)
		if err != nil {
			return nil, err
		}
		s.rollup(res)
		if err := s.repo.SaveReservation(ctx, res); err != nil {
			return nil, fmt.Errorf("failed to save reservation: %w", err)
		}
	}

	if walkErr != nil {
		s.logger.WithError(walkErr).WithFields(logrus.Fields{
			"tenant_id":   tenantID,
			"reservation": res.Number,
			"item_id":     item.ID,
			"requested":   qty,
			"fulfilled":   fulfilled,
		}).Error("Fulfillment stopped partway")
		// the result names the sub-quantity that did ship before the failure
		return &FulfillResult{Item: item, Quantity: fulfilled, COGS: totalCOGS}, walkErr
	}

	s.logger.WithFields(logrus.Fields{
		"tenant_id":   tenantID,
		"reservation": res.Number,
		"item_id":     item.ID,
		"quantity":    fulfilled,
		"cogs":        totalCOGS,
	}).Info("Reservation item fulfilled")

	return &FulfillResult{Item: item, Quantity: fulfilled, COGS: totalCOGS}, nil
}

// CancelResult reports what a cancellation released back to stock
type CancelResult struct {
	Reservation *Reservation    `json:"reservation"`
	Released    decimal.Decimal `json:"released"`
}

// Cancel closes the reservation and releases every unfulfilled allocation
// back to the available bucket. Quantities already shipped stay shipped.
func (s *Service) Cancel(ctx context.Context, tenantID string, reservationID uint, reason string, actorID uint) (*CancelResult, error) {
	release, err := s.acquire(ctx, tenantID, reservationID)
	if err != nil {
		return nil, err
	}
	defer release()

	res, err := s.load(ctx, tenantID, reservationID)
	if err != nil {
		return nil, err
	}
	if res.Status == StatusCancelled || res.Status == StatusFulfilled {
		return nil, ErrReservationClosed
	}

	released := decimal.Zero
	for i := range res.Items {
		item := &res.Items[i]
		for j := range item.Allocations {
			alloc := &item.Allocations[j]
			if alloc.Status != AllocationStatusActive {
				continue
			}
			open := alloc.QtyRemaining()
			if open.GreaterThan(decimal.Zero) {
				op := ledger.BucketOp{
					PositionID: alloc.PositionID,
					Quantity:   open,
					Document:   ledger.DocumentRef{Type: ledger.DocumentTypeReservation, ID: alloc.Number + ":release"},
					Reason:     reason,
					ActorID:    actorID,
				}
				if _, err := s.ledger.ReleaseAllocated(ctx, tenantID, op); err != nil {
					return nil, fmt.Errorf("failed to release allocation %s: %w", alloc.Number, err)
				}
				released = released.Add(open)
				item.QtyAllocated = item.QtyAllocated.Sub(open)
			}
			alloc.Status = AllocationStatusReleased
			if err := s.repo.SaveAllocation(ctx, alloc); err != nil {
				return nil, fmt.Errorf("failed to save allocation: %w", err)
			}
		}
		if item.Status != ItemStatusFulfilled {
			item.Status = ItemStatusCancelled
		}
		if err := s.repo.SaveItem(ctx, item); err != nil {
			return nil, fmt.Errorf("failed to save item: %w", err)
		}
	}

	res.Status = StatusCancelled
	res.CancelReason = reason
	if err := s.repo.SaveReservation(ctx, res); err != nil {
		return nil, fmt.Errorf("failed to save reservation: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"tenant_id":   tenantID,
		"reservation": res.Number,
		"released":    released,
		"reason":      reason,
	}).Info("Reservation cancelled")

	return &CancelResult{Reservation: res, Released: released}, nil
}

// ExtendExpiry moves the expiry forward. An EXPIRED reservation whose stock
// was not auto-released is revived back to its working state.
func (s *Service) ExtendExpiry(ctx context.Context, tenantID string, reservationID uint, newExpiry time.Time, actorID uint) (*Reservation, error) {
	if newExpiry.Before(time.Now().UTC()) {
		return nil, fmt.Errorf("%w: expiry must be in the future", ErrInvalidRequest)
	}

	release, err := s.acquire(ctx, tenantID, reservationID)
	if err != nil {
		return nil, err
	}
	defer release()

	res, err := s.load(ctx, tenantID, reservationID)
	if err != nil {
		return nil, err
	}
	if !res.Status.IsOpen() && res.Status != StatusExpired {
		return nil, ErrReservationClosed
	}

	res.ExpiresAt = newExpiry.UTC()
	res.LastNotificationSent = nil
	if res.Status == StatusExpired {
		s.rollup(res)
	}
	if err := s.repo.SaveReservation(ctx, res); err != nil {
		return nil, fmt.Errorf("failed to save reservation: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"tenant_id":   tenantID,
		"reservation": res.Number,
		"expires_at":  res.ExpiresAt,
		"actor_id":    actorID,
	}).Info("Reservation expiry extended")
	return res, nil
}

// FlagEscalation marks the reservation for manual follow-up
func (s *Service) FlagEscalation(ctx context.Context, tenantID string, reservationID uint, owner, reason string) (*Reservation, error) {
	release, err := s.acquire(ctx, tenantID, reservationID)
	if err != nil {
		return nil, err
	}
	defer release()

	res, err := s.load(ctx, tenantID, reservationID)
	if err != nil {
		return nil, err
	}
	res.EscalationRequired = true
	res.EscalatedTo = owner
	res.EscalationReason = reason
	if err := s.repo.SaveReservation(ctx, res); err != nil {
		return nil, fmt.Errorf("failed to save reservation: %w", err)
	}
	return res, nil
}

// markExpired flips an open, past-expiry reservation to EXPIRED. Used by the
// sweeper for reservations that keep their stock on expiry.
func (s *Service) markExpired(ctx context.Context, tenantID string, reservationID uint) error {
	release, err := s.acquire(ctx, tenantID, reservationID)
	if err != nil {
		return err
	}
	defer release()

	res, err := s.load(ctx, tenantID, reservationID)
	if err != nil {
		return err
	}
	if !res.Status.IsOpen() || res.ExpiresAt.After(time.Now().UTC()) {
		return nil
	}
	res.Status = StatusExpired
	if err := s.repo.SaveReservation(ctx, res); err != nil {
		return fmt.Errorf("failed to save reservation: %w", err)
	}
	s.logger.WithFields(logrus.Fields{
		"tenant_id":   tenantID,
		"reservation": res.Number,
	}).Warn("Reservation expired, stock held for manual handling")
	return nil
}

// Get returns the full reservation aggregate
func (s *Service) Get(ctx context.Context, tenantID string, reservationID uint) (*Reservation, error) {
	return s.load(ctx, tenantID, reservationID)
}

// rollup derives the reservation status from its items
func (s *Service) rollup(res *Reservation) {
	if res.Status == StatusCancelled {
		return
	}
	allFulfilled := len(res.Items) > 0
	anyFulfilled := false
	anyProgress := false
	for i := range res.Items {
		item := &res.Items[i]
		if item.Status != ItemStatusFulfilled {
			allFulfilled = false
		}
		if item.QtyFulfilled.GreaterThan(decimal.Zero) {
			anyFulfilled = true
		}
		if item.Status == ItemStatusAllocated || item.Status == ItemStatusBackordered || item.Status == ItemStatusReserved {
			anyProgress = true
		}
	}
	switch {
	case allFulfilled:
		res.Status = StatusFulfilled
	case anyFulfilled:
		res.Status = StatusPartialFulfilled
	case anyProgress:
		res.Status = StatusActive
	default:
		res.Status = StatusPending
	}
}

func (s *Service) acquire(ctx context.Context, tenantID string, reservationID uint) (func(), error) {
	release, err := s.locks.Acquire(ctx, LockKeyFor(tenantID, reservationID), s.lockTimeout)
	if err != nil {
		if errors.Is(err, lock.ErrAcquireTimeout) {
			return nil, ledger.ErrPositionLockTimeout
		}
		return nil, err
	}
	return release, nil
}

func (s *Service) load(ctx context.Context, tenantID string, reservationID uint) (*Reservation, error) {
	res, err := s.repo.FindReservation(ctx, tenantID, reservationID)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, ErrReservationNotFound
	}
	return res, nil
}

func deref(allocs []*Allocation) []Allocation {
	out := make([]Allocation, 0, len(allocs))
	for _, a := range allocs {
		out = append(out, *a)
	}
	return out
}
