// internal/domain/ledger/service.go
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/your-org/inventory-backend/internal/config"
	"github.com/your-org/inventory-backend/internal/domain/valuation"
	"github.com/your-org/inventory-backend/internal/pkg/fixed"
	"github.com/your-org/inventory-backend/internal/pkg/lock"
)

// Valuer is the valuation layer store as seen by the ledger: a layer is
// recorded on every receipt and layers are consumed on every outbound
// movement. Implemented by valuation.Service.
type Valuer interface {
	RecordReceipt(ctx context.Context, tenantID string, positionID uint, qty, unitCost decimal.Decimal, receivedAt time.Time) (*valuation.ValuationLayer, error)
	ConsumeForShipment(ctx context.Context, tenantID string, positionID uint, qty decimal.Decimal, method valuation.CostMethod) (decimal.Decimal, error)
	Consume(ctx context.Context, tenantID string, positionID uint, qty decimal.Decimal, method valuation.CostMethod) (decimal.Decimal, []valuation.Consumption, error)

	// Restore and VoidReceipt back out a consumption or a receipt layer when
	// the bucket mutation they belong to fails to persist.
	Restore(ctx context.Context, tenantID string, consumed []valuation.Consumption) error
	VoidReceipt(ctx context.Context, tenantID string, layerID uint) error
}

// Service is the stock ledger: every quantity mutation on a stock position
// goes through it. Operations on one position are serialized by a per-position
// lock; operations on different positions proceed independently.
type Service struct {
	positions   PositionRepository
	movements   MovementRepository
	valuer      Valuer
	locks       *lock.KeyedMutex
	lockTimeout time.Duration
	logger      *logrus.Logger
}

// NewService creates a new ledger service
func NewService(positions PositionRepository, movements MovementRepository, valuer Valuer, locks *lock.KeyedMutex, cfg *config.Config, logger *logrus.Logger) *Service {
	return &Service{
		positions:   positions,
		movements:   movements,
		valuer:      valuer,
		locks:       locks,
		lockTimeout: cfg.Ledger.PositionLockTimeout,
		logger:      logger,
	}
}

// BucketOp describes a single-position bucket transition request
type BucketOp struct {
	PositionID uint            `json:"position_id"`
	Quantity   decimal.Decimal `json:"quantity"`
	Document   DocumentRef     `json:"document"`
	Reason     string          `json:"reason"`
	ActorID    uint            `json:"actor_id"`
}

// OperationResult is the outcome of a ledger mutation: the resulting position
// state and the movement that recorded it. AlreadyApplied is set when the
// operation was a duplicate resubmission matched by its document reference.
type OperationResult struct {
	Position       *StockPosition `json:"position"`
	Movement       *Movement      `json:"movement"`
	AlreadyApplied bool           `json:"already_applied"`
}

// ShipResult adds the weighted cost of goods shipped
type ShipResult struct {
	OperationResult
	COGS decimal.Decimal `json:"cogs"`
}

// ReceiveRequest describes an inbound receipt. BatchNumber, expiry, quality
// grade and cost method seed the position when the receipt provisions it.
type ReceiveRequest struct {
	Key          PositionKey          `json:"key"`
	Quantity     decimal.Decimal      `json:"quantity"`
	UnitCost     decimal.Decimal      `json:"unit_cost"`
	Document     DocumentRef          `json:"document"`
	Reason       string               `json:"reason"`
	ActorID      uint                 `json:"actor_id"`
	ExpiryDate   *time.Time           `json:"expiry_date,omitempty"`
	QualityGrade string               `json:"quality_grade,omitempty"`
	CostMethod   valuation.CostMethod `json:"cost_method,omitempty"`
	PickSequence int                  `json:"pick_sequence,omitempty"`
}

// ReceiveResult adds the recomputed weighted average cost and the created layer
type ReceiveResult struct {
	OperationResult
	NewAverageCost decimal.Decimal           `json:"new_average_cost"`
	Layer          *valuation.ValuationLayer `json:"layer,omitempty"`
}

// AdjustRequest sets a position's on-hand directly (cycle count, correction)
type AdjustRequest struct {
	PositionID uint            `json:"position_id"`
	NewOnHand  decimal.Decimal `json:"new_on_hand"`
	Document   DocumentRef     `json:"document"`
	Reason     string          `json:"reason"`
	ActorID    uint            `json:"actor_id"`
}

// AdjustResult adds the signed on-hand delta the adjustment applied
type AdjustResult struct {
	OperationResult
	Delta decimal.Decimal `json:"delta"`
}

// TransferRequest moves available quantity between two positions
type TransferRequest struct {
	FromPositionID uint            `json:"from_position_id"`
	ToKey          PositionKey     `json:"to_key"`
	Quantity       decimal.Decimal `json:"quantity"`
	Document       DocumentRef     `json:"document"`
	Reason         string          `json:"reason"`
	ActorID        uint            `json:"actor_id"`
}

// TransferResult carries both sides of a completed transfer
type TransferResult struct {
	From        *OperationResult `json:"from"`
	To          *ReceiveResult   `json:"to"`
	CostMoved   decimal.Decimal  `json:"cost_moved"`
	CostPerUnit decimal.Decimal  `json:"cost_per_unit"`
}

// ProvisionRequest explicitly creates an empty stock position
type ProvisionRequest struct {
	Key          PositionKey          `json:"key"`
	CostMethod   valuation.CostMethod `json:"cost_method"`
	QualityGrade string               `json:"quality_grade"`
	PickSequence int                  `json:"pick_sequence"`
	ExpiryDate   *time.Time           `json:"expiry_date,omitempty"`
	StandardCost decimal.Decimal      `json:"standard_cost"`
}

// Reserve moves quantity from available to reserved
func (s *Service) Reserve(ctx context.Context, tenantID string, op BucketOp) (*OperationResult, error) {
	return s.mutate(ctx, tenantID, op, MovementTypeReserve, func(p *StockPosition, qty decimal.Decimal) error {
		if p.Available.LessThan(qty) {
			return fmt.Errorf("%w: requested %s, available %s", ErrInsufficientAvailable, qty, p.Available)
		}
		p.Available = p.Available.Sub(qty)
		p.Reserved = p.Reserved.Add(qty)
		return nil
	})
}

// Release moves quantity from reserved back to available
func (s *Service) Release(ctx context.Context, tenantID string, op BucketOp) (*OperationResult, error) {
	return s.mutate(ctx, tenantID, op, MovementTypeRelease, func(p *StockPosition, qty decimal.Decimal) error {
		if p.Reserved.LessThan(qty) {
			return fmt.Errorf("%w: requested %s, reserved %s", ErrInsufficientReserved, qty, p.Reserved)
		}
		p.Reserved = p.Reserved.Sub(qty)
		p.Available = p.Available.Add(qty)
		return nil
	})
}

// Allocate moves quantity from reserved to allocated
func (s *Service) Allocate(ctx context.Context, tenantID string, op BucketOp) (*OperationResult, error) {
	return s.mutate(ctx, tenantID, op, MovementTypeAllocate, func(p *StockPosition, qty decimal.Decimal) error {
		if p.Reserved.LessThan(qty) {
			return fmt.Errorf("%w: requested %s, reserved %s", ErrInsufficientReserved, qty, p.Reserved)
		}
		p.Reserved = p.Reserved.Sub(qty)
		p.Allocated = p.Allocated.Add(qty)
		return nil
	})
}

// ReleaseAllocated moves quantity from allocated straight back to available.
// It is the compensating operation for a failed or cancelled allocation.
func (s *Service) ReleaseAllocated(ctx context.Context, tenantID string, op BucketOp) (*OperationResult, error) {
	return s.mutate(ctx, tenantID, op, MovementTypeUnallocate, func(p *StockPosition, qty decimal.Decimal) error {
		if p.Allocated.LessThan(qty) {
			return fmt.Errorf("%w: requested %s, allocated %s", ErrInsufficientAllocated, qty, p.Allocated)
		}
		p.Allocated = p.Allocated.Sub(qty)
		p.Available = p.Available.Add(qty)
		return nil
	})
}

// Pick moves quantity from allocated to picked
func (s *Service) Pick(ctx context.Context, tenantID string, op BucketOp) (*OperationResult, error) {
	return s.mutate(ctx, tenantID, op, MovementTypePick, func(p *StockPosition, qty decimal.Decimal) error {
		if p.Allocated.LessThan(qty) {
			return fmt.Errorf("%w: requested %s, allocated %s", ErrInsufficientAllocated, qty, p.Allocated)
		}
		p.Allocated = p.Allocated.Sub(qty)
		p.Picked = p.Picked.Add(qty)
		return nil
	})
}

// Ship moves picked quantity out of the position, consumes valuation layers
// for the shipped quantity and returns the weighted cost of goods shipped.
func (s *Service) Ship(ctx context.Context, tenantID string, op BucketOp) (*ShipResult, error) {
	qty := fixed.Quantity(op.Quantity)
	if !qty.IsPositive() {
		return nil, ErrInvalidQuantity
	}

	release, err := s.acquire(ctx, tenantID, op.PositionID)
	if err != nil {
		return nil, err
	}
	defer release()

	if prior, res, err := s.checkDuplicate(ctx, tenantID, op.PositionID, MovementTypeShip, op.Document, qty.Neg()); err != nil {
		return nil, err
	} else if prior != nil {
		// a replay answers with the cost the original call reported
		return &ShipResult{OperationResult: *res, COGS: fixed.Money(prior.UnitCost.Mul(qty))}, nil
	}

	p, err := s.loadActive(ctx, tenantID, op.PositionID)
	if err != nil {
		return nil, err
	}
	if p.Picked.LessThan(qty) {
		return nil, fmt.Errorf("%w: requested %s, picked %s", ErrInsufficientPicked, qty, p.Picked)
	}

	cogs, consumed, err := s.valuer.Consume(ctx, tenantID, p.ID, qty, p.CostMethod)
	if err != nil {
		return nil, err
	}

	before := p.OnHand
	p.Picked = p.Picked.Sub(qty)
	p.OnHand = p.OnHand.Sub(qty)
	p.Shipped = p.Shipped.Add(qty)
	p.TotalValue = fixed.Money(p.OnHand.Mul(p.AverageCost))

	if err := s.assertConservation(p); err != nil {
		s.restoreLayers(tenantID, p.ID, consumed)
		return nil, err
	}
	if err := s.positions.Save(ctx, p); err != nil {
		s.restoreLayers(tenantID, p.ID, consumed)
		return nil, fmt.Errorf("failed to save position: %w", err)
	}

	unitCOGS := fixed.Money(cogs.Div(qty))
	movement := s.newMovement(tenantID, p, MovementTypeShip, qty.Neg(), before, unitCOGS, op)
	if err := s.movements.Append(ctx, movement); err != nil {
		// a bucket change with no movement row would break log replay
		p.Picked = p.Picked.Add(qty)
		p.OnHand = p.OnHand.Add(qty)
		p.Shipped = p.Shipped.Sub(qty)
		p.TotalValue = fixed.Money(p.OnHand.Mul(p.AverageCost))
		s.savePositionBack(tenantID, p)
		s.restoreLayers(tenantID, p.ID, consumed)
		return nil, fmt.Errorf("failed to record movement: %w", err)
	}

	s.logOperation(tenantID, p, movement)
	return &ShipResult{
		OperationResult: OperationResult{Position: p, Movement: movement},
		COGS:            cogs,
	}, nil
}

// Receive increases on-hand and available, creates a valuation layer and
// recomputes the weighted average cost. The position is provisioned on first
// receipt.
func (s *Service) Receive(ctx context.Context, tenantID string, req ReceiveRequest) (*ReceiveResult, error) {
	qty := fixed.Quantity(req.Quantity)
	if !qty.IsPositive() {
		return nil, ErrInvalidQuantity
	}
	unitCost := fixed.Money(req.UnitCost)

	p, err := s.ensurePosition(ctx, tenantID, req)
	if err != nil {
		return nil, err
	}

	release, err := s.acquire(ctx, tenantID, p.ID)
	if err != nil {
		return nil, err
	}
	defer release()

	op := BucketOp{PositionID: p.ID, Quantity: qty, Document: req.Document, Reason: req.Reason, ActorID: req.ActorID}
	if prior, res, err := s.checkDuplicate(ctx, tenantID, p.ID, MovementTypeReceive, req.Document, qty); err != nil {
		return nil, err
	} else if prior != nil {
		return &ReceiveResult{OperationResult: *res, NewAverageCost: res.Position.AverageCost}, nil
	}

	// Reload under the lock; ensurePosition read outside it.
	p, err = s.loadActive(ctx, tenantID, p.ID)
	if err != nil {
		return nil, err
	}

	newAvg := unitCost
	if p.OnHand.IsPositive() {
		// newAvg = (onHand*avg + qty*cost) / (onHand + qty), half-up
		total := p.OnHand.Mul(p.AverageCost).Add(qty.Mul(unitCost))
		newAvg = fixed.Money(total.Div(p.OnHand.Add(qty)))
	}

	now := time.Now().UTC()
	prev := *p
	before := p.OnHand
	p.OnHand = p.OnHand.Add(qty)
	p.Available = p.Available.Add(qty)
	p.UnitCost = unitCost
	p.AverageCost = newAvg
	p.TotalValue = fixed.Money(p.OnHand.Mul(p.AverageCost))
	if p.FirstReceivedAt == nil {
		p.FirstReceivedAt = &now
	}
	p.LastReceivedAt = &now

	layer, err := s.valuer.RecordReceipt(ctx, tenantID, p.ID, qty, unitCost, now)
	if err != nil {
		return nil, fmt.Errorf("failed to record valuation layer: %w", err)
	}

	if err := s.assertConservation(p); err != nil {
		s.voidLayer(tenantID, layer.ID)
		return nil, err
	}
	if err := s.positions.Save(ctx, p); err != nil {
		s.voidLayer(tenantID, layer.ID)
		return nil, fmt.Errorf("failed to save position: %w", err)
	}

	movement := s.newMovement(tenantID, p, MovementTypeReceive, qty, before, unitCost, op)
	if err := s.movements.Append(ctx, movement); err != nil {
		// a bucket change with no movement row would break log replay
		restore := prev
		restore.Version = p.Version
		s.savePositionBack(tenantID, &restore)
		s.voidLayer(tenantID, layer.ID)
		return nil, fmt.Errorf("failed to record movement: %w", err)
	}

	s.logOperation(tenantID, p, movement)
	return &ReceiveResult{
		OperationResult: OperationResult{Position: p, Movement: movement},
		NewAverageCost:  newAvg,
		Layer:           layer,
	}, nil
}

// Adjust sets on-hand directly and recomputes available as
// max(0, newOnHand - reserved - allocated - picked). Valuation layers are
// kept in step: an upward delta records a layer at the current average cost,
// a downward delta consumes layers.
func (s *Service) Adjust(ctx context.Context, tenantID string, req AdjustRequest) (*AdjustResult, error) {
	newOnHand := fixed.Quantity(req.NewOnHand)
	if newOnHand.IsNegative() {
		return nil, fmt.Errorf("%w: on-hand cannot be negative", ErrInvalidQuantity)
	}

	release, err := s.acquire(ctx, tenantID, req.PositionID)
	if err != nil {
		return nil, err
	}
	defer release()

	p, err := s.loadActive(ctx, tenantID, req.PositionID)
	if err != nil {
		return nil, err
	}

	delta := newOnHand.Sub(p.OnHand)
	if delta.IsZero() {
		return &AdjustResult{
			OperationResult: OperationResult{Position: p},
			Delta:           decimal.Zero,
		}, nil
	}

	mtype := MovementTypeAdjustIn
	if delta.IsNegative() {
		mtype = MovementTypeAdjustOut
	}

	op := BucketOp{PositionID: p.ID, Quantity: delta.Abs(), Document: req.Document, Reason: req.Reason, ActorID: req.ActorID}
	if prior, res, err := s.checkDuplicate(ctx, tenantID, p.ID, mtype, req.Document, delta); err != nil {
		return nil, err
	} else if prior != nil {
		return &AdjustResult{OperationResult: *res, Delta: decimal.Zero}, nil
	}

	var layerID uint
	var consumed []valuation.Consumption
	if delta.IsPositive() {
		cost := p.AverageCost
		if cost.IsZero() {
			cost = p.StandardCost
		}
		layer, err := s.valuer.RecordReceipt(ctx, tenantID, p.ID, delta, cost, time.Now().UTC())
		if err != nil {
			return nil, fmt.Errorf("failed to record valuation layer: %w", err)
		}
		layerID = layer.ID
	} else {
		_, c, err := s.valuer.Consume(ctx, tenantID, p.ID, delta.Abs(), p.CostMethod)
		if err != nil {
			return nil, err
		}
		consumed = c
	}
	undoValuation := func() {
		if layerID != 0 {
			s.voidLayer(tenantID, layerID)
		}
		s.restoreLayers(tenantID, p.ID, consumed)
	}

	prev := *p
	before := p.OnHand
	p.OnHand = newOnHand
	committed := p.Reserved.Add(p.Allocated).Add(p.Picked)
	p.Available = decimal.Max(decimal.Zero, newOnHand.Sub(committed))
	p.TotalValue = fixed.Money(p.OnHand.Mul(p.AverageCost))

	if newOnHand.LessThan(committed) {
		s.logger.WithFields(logrus.Fields{
			"tenant_id":   tenantID,
			"position_id": p.ID,
			"new_on_hand": newOnHand.String(),
			"committed":   committed.String(),
		}).Warn("Adjustment set on-hand below committed quantity")
	}

	if err := s.positions.Save(ctx, p); err != nil {
		undoValuation()
		return nil, fmt.Errorf("failed to save position: %w", err)
	}

	movement := s.newMovement(tenantID, p, mtype, delta, before, p.AverageCost, op)
	if err := s.movements.Append(ctx, movement); err != nil {
		// a bucket change with no movement row would break log replay
		restore := prev
		restore.Version = p.Version
		s.savePositionBack(tenantID, &restore)
		undoValuation()
		return nil, fmt.Errorf("failed to record movement: %w", err)
	}

	s.logOperation(tenantID, p, movement)
	return &AdjustResult{
		OperationResult: OperationResult{Position: p, Movement: movement},
		Delta:           delta,
	}, nil
}

// Transfer moves available quantity from one position to another. The two
// sides are separate locked operations; a failure on the inbound side puts
// the quantity back on the source with a compensating receipt.
func (s *Service) Transfer(ctx context.Context, tenantID string, req TransferRequest) (*TransferResult, error) {
	qty := fixed.Quantity(req.Quantity)
	if !qty.IsPositive() {
		return nil, ErrInvalidQuantity
	}

	outOp := BucketOp{PositionID: req.FromPositionID, Quantity: qty, Document: req.Document, Reason: req.Reason, ActorID: req.ActorID}
	out, costMoved, err := s.transferOut(ctx, tenantID, outOp)
	if err != nil {
		return nil, err
	}
	costPerUnit := fixed.Money(costMoved.Div(qty))

	in, err := s.transferIn(ctx, tenantID, req, qty, costPerUnit)
	if err != nil {
		// Compensate: put the quantity back on the source at the moved cost.
		compOp := BucketOp{
			PositionID: req.FromPositionID,
			Quantity:   qty,
			Document:   DocumentRef{},
			Reason:     fmt.Sprintf("transfer compensation: %s", req.Reason),
			ActorID:    req.ActorID,
		}
		if _, compErr := s.receiveBack(ctx, tenantID, compOp, costPerUnit, MovementTypeTransferIn); compErr != nil {
			s.logger.WithFields(logrus.Fields{
				"tenant_id":   tenantID,
				"position_id": req.FromPositionID,
				"error":       compErr.Error(),
			}).Error("Transfer compensation failed; source position requires manual adjustment")
		}
		return nil, err
	}

	return &TransferResult{From: out, To: in, CostMoved: costMoved, CostPerUnit: costPerUnit}, nil
}

func (s *Service) transferOut(ctx context.Context, tenantID string, op BucketOp) (*OperationResult, decimal.Decimal, error) {
	qty := op.Quantity

	release, err := s.acquire(ctx, tenantID, op.PositionID)
	if err != nil {
		return nil, decimal.Zero, err
	}
	defer release()

	if prior, res, err := s.checkDuplicate(ctx, tenantID, op.PositionID, MovementTypeTransferOut, op.Document, qty.Neg()); err != nil {
		return nil, decimal.Zero, err
	} else if prior != nil {
		return res, decimal.Zero, nil
	}

	p, err := s.loadActive(ctx, tenantID, op.PositionID)
	if err != nil {
		return nil, decimal.Zero, err
	}
	if p.Available.LessThan(qty) {
		return nil, decimal.Zero, fmt.Errorf("%w: requested %s, available %s", ErrInsufficientAvailable, qty, p.Available)
	}

	cost, err := s.valuer.ConsumeForShipment(ctx, tenantID, p.ID, qty, p.CostMethod)
	if err != nil {
		return nil, decimal.Zero, err
	}

	before := p.OnHand
	p.Available = p.Available.Sub(qty)
	p.OnHand = p.OnHand.Sub(qty)
	p.InTransit = p.InTransit.Add(qty)
	p.TotalValue = fixed.Money(p.OnHand.Mul(p.AverageCost))

	if err := s.assertConservation(p); err != nil {
		return nil, decimal.Zero, err
	}
	if err := s.positions.Save(ctx, p); err != nil {
		return nil, decimal.Zero, fmt.Errorf("failed to save position: %w", err)
	}

	movement := s.newMovement(tenantID, p, MovementTypeTransferOut, qty.Neg(), before, fixed.Money(cost.Div(qty)), op)
	if err := s.movements.Append(ctx, movement); err != nil {
		return nil, decimal.Zero, fmt.Errorf("failed to record movement: %w", err)
	}

	s.logOperation(tenantID, p, movement)
	return &OperationResult{Position: p, Movement: movement}, cost, nil
}

func (s *Service) transferIn(ctx context.Context, tenantID string, req TransferRequest, qty, costPerUnit decimal.Decimal) (*ReceiveResult, error) {
	return s.receiveAs(ctx, tenantID, ReceiveRequest{
		Key:      req.ToKey,
		Quantity: qty,
		UnitCost: costPerUnit,
		Document: req.Document,
		Reason:   req.Reason,
		ActorID:  req.ActorID,
	}, MovementTypeTransferIn)
}

// receiveBack restores quantity onto a position after a failed multi-position
// operation. It bypasses the duplicate guard: compensations always apply.
func (s *Service) receiveBack(ctx context.Context, tenantID string, op BucketOp, unitCost decimal.Decimal, mtype MovementType) (*OperationResult, error) {
	release, err := s.acquire(ctx, tenantID, op.PositionID)
	if err != nil {
		return nil, err
	}
	defer release()

	p, err := s.loadActive(ctx, tenantID, op.PositionID)
	if err != nil {
		return nil, err
	}

	qty := op.Quantity
	before := p.OnHand
	p.OnHand = p.OnHand.Add(qty)
	p.Available = p.Available.Add(qty)
	p.InTransit = decimal.Max(decimal.Zero, p.InTransit.Sub(qty))
	p.TotalValue = fixed.Money(p.OnHand.Mul(p.AverageCost))

	if _, err := s.valuer.RecordReceipt(ctx, tenantID, p.ID, qty, unitCost, time.Now().UTC()); err != nil {
		return nil, fmt.Errorf("failed to record valuation layer: %w", err)
	}

	if err := s.assertConservation(p); err != nil {
		return nil, err
	}
	if err := s.positions.Save(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to save position: %w", err)
	}

	movement := s.newMovement(tenantID, p, mtype, qty, before, unitCost, op)
	if err := s.movements.Append(ctx, movement); err != nil {
		return nil, fmt.Errorf("failed to record movement: %w", err)
	}
	return &OperationResult{Position: p, Movement: movement}, nil
}

// receiveAs is Receive with an explicit movement type (transfer-in receipts)
func (s *Service) receiveAs(ctx context.Context, tenantID string, req ReceiveRequest, mtype MovementType) (*ReceiveResult, error) {
	if mtype == MovementTypeReceive {
		return s.Receive(ctx, tenantID, req)
	}

	qty := fixed.Quantity(req.Quantity)
	unitCost := fixed.Money(req.UnitCost)

	p, err := s.ensurePosition(ctx, tenantID, req)
	if err != nil {
		return nil, err
	}

	release, err := s.acquire(ctx, tenantID, p.ID)
	if err != nil {
		return nil, err
	}
	defer release()

	op := BucketOp{PositionID: p.ID, Quantity: qty, Document: req.Document, Reason: req.Reason, ActorID: req.ActorID}
	if prior, res, err := s.checkDuplicate(ctx, tenantID, p.ID, mtype, req.Document, qty); err != nil {
		return nil, err
	} else if prior != nil {
		return &ReceiveResult{OperationResult: *res, NewAverageCost: res.Position.AverageCost}, nil
	}

	p, err = s.loadActive(ctx, tenantID, p.ID)
	if err != nil {
		return nil, err
	}

	newAvg := unitCost
	if p.OnHand.IsPositive() {
		total := p.OnHand.Mul(p.AverageCost).Add(qty.Mul(unitCost))
		newAvg = fixed.Money(total.Div(p.OnHand.Add(qty)))
	}

	now := time.Now().UTC()
	before := p.OnHand
	p.OnHand = p.OnHand.Add(qty)
	p.Available = p.Available.Add(qty)
	p.AverageCost = newAvg
	p.TotalValue = fixed.Money(p.OnHand.Mul(p.AverageCost))
	if p.FirstReceivedAt == nil {
		p.FirstReceivedAt = &now
	}
	p.LastReceivedAt = &now

	layer, err := s.valuer.RecordReceipt(ctx, tenantID, p.ID, qty, unitCost, now)
	if err != nil {
		return nil, fmt.Errorf("failed to record valuation layer: %w", err)
	}

	if err := s.assertConservation(p); err != nil {
		return nil, err
	}
	if err := s.positions.Save(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to save position: %w", err)
	}

	movement := s.newMovement(tenantID, p, mtype, qty, before, unitCost, op)
	if err := s.movements.Append(ctx, movement); err != nil {
		return nil, fmt.Errorf("failed to record movement: %w", err)
	}

	s.logOperation(tenantID, p, movement)
	return &ReceiveResult{
		OperationResult: OperationResult{Position: p, Movement: movement},
		NewAverageCost:  newAvg,
		Layer:           layer,
	}, nil
}

// Provision explicitly creates an empty, active stock position
func (s *Service) Provision(ctx context.Context, tenantID string, req ProvisionRequest) (*StockPosition, error) {
	existing, err := s.positions.FindByKey(ctx, tenantID, req.Key)
	if err != nil && !errors.Is(err, ErrPositionNotFound) {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	method := req.CostMethod
	if method == "" {
		method = valuation.CostMethodFIFO
	}

	p := &StockPosition{
		TenantID:     tenantID,
		ProductID:    req.Key.ProductID,
		VariantID:    req.Key.VariantID,
		WarehouseID:  req.Key.WarehouseID,
		LocationID:   req.Key.LocationID,
		BatchNumber:  req.Key.BatchNumber,
		OnHand:       decimal.Zero,
		Available:    decimal.Zero,
		Reserved:     decimal.Zero,
		Allocated:    decimal.Zero,
		Picked:       decimal.Zero,
		Shipped:      decimal.Zero,
		Incoming:     decimal.Zero,
		InTransit:    decimal.Zero,
		UnitCost:     decimal.Zero,
		AverageCost:  decimal.Zero,
		StandardCost: fixed.Money(req.StandardCost),
		TotalValue:   decimal.Zero,
		CostMethod:   method,
		QualityGrade: req.QualityGrade,
		PickSequence: req.PickSequence,
		ExpiryDate:   req.ExpiryDate,
		IsActive:     true,
	}
	if err := s.positions.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to create position: %w", err)
	}
	return p, nil
}

// Deactivate soft-deactivates a position. The position must carry no stock
// and no commitments; movement history stays untouched.
func (s *Service) Deactivate(ctx context.Context, tenantID string, positionID uint) (*StockPosition, error) {
	release, err := s.acquire(ctx, tenantID, positionID)
	if err != nil {
		return nil, err
	}
	defer release()

	p, err := s.positions.FindByID(ctx, tenantID, positionID)
	if err != nil {
		return nil, err
	}
	if !p.OnHand.IsZero() || !p.InTransit.IsZero() {
		return nil, fmt.Errorf("ledger: cannot deactivate position %d with stock on hand or in transit", positionID)
	}

	p.IsActive = false
	if err := s.positions.Save(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to save position: %w", err)
	}
	return p, nil
}

// GetPosition returns a position within the tenant partition
func (s *Service) GetPosition(ctx context.Context, tenantID string, positionID uint) (*StockPosition, error) {
	return s.positions.FindByID(ctx, tenantID, positionID)
}

// GetPositionByKey returns a position by its identifying tuple
func (s *Service) GetPositionByKey(ctx context.Context, tenantID string, key PositionKey) (*StockPosition, error) {
	return s.positions.FindByKey(ctx, tenantID, key)
}

// GetAvailableQuantity sums available quantity for a product, optionally
// narrowed to one warehouse. Pure read.
func (s *Service) GetAvailableQuantity(ctx context.Context, tenantID string, productID uint, warehouseID *uint) (decimal.Decimal, error) {
	return s.positions.SumAvailable(ctx, tenantID, productID, warehouseID)
}

// SearchCandidates returns eligible positions for reservation sourcing
func (s *Service) SearchCandidates(ctx context.Context, tenantID string, filter CandidateFilter) ([]*StockPosition, error) {
	return s.positions.SearchCandidates(ctx, tenantID, filter)
}

// --- internals ---

// mutate runs a bucket transition as one locked read-modify-write: duplicate
// guard, precondition check inside apply, conservation assert, save, and
// exactly one movement row.
func (s *Service) mutate(ctx context.Context, tenantID string, op BucketOp, mtype MovementType, apply func(p *StockPosition, qty decimal.Decimal) error) (*OperationResult, error) {
	qty := fixed.Quantity(op.Quantity)
	if !qty.IsPositive() {
		return nil, ErrInvalidQuantity
	}

	release, err := s.acquire(ctx, tenantID, op.PositionID)
	if err != nil {
		return nil, err
	}
	defer release()

	if prior, res, err := s.checkDuplicate(ctx, tenantID, op.PositionID, mtype, op.Document, qty); err != nil {
		return nil, err
	} else if prior != nil {
		return res, nil
	}

	p, err := s.loadActive(ctx, tenantID, op.PositionID)
	if err != nil {
		return nil, err
	}

	before := p.OnHand
	if err := apply(p, qty); err != nil {
		return nil, err
	}
	if err := s.assertConservation(p); err != nil {
		return nil, err
	}
	if err := s.positions.Save(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to save position: %w", err)
	}

	movement := s.newMovement(tenantID, p, mtype, qty, before, p.AverageCost, op)
	if err := s.movements.Append(ctx, movement); err != nil {
		return nil, fmt.Errorf("failed to record movement: %w", err)
	}

	s.logOperation(tenantID, p, movement)
	return &OperationResult{Position: p, Movement: movement}, nil
}

func (s *Service) acquire(ctx context.Context, tenantID string, positionID uint) (func(), error) {
	release, err := s.locks.Acquire(ctx, LockKeyFor(tenantID, positionID), s.lockTimeout)
	if err != nil {
		if errors.Is(err, lock.ErrAcquireTimeout) {
			return nil, fmt.Errorf("%w: position %d", ErrPositionLockTimeout, positionID)
		}
		return nil, err
	}
	return release, nil
}

func (s *Service) loadActive(ctx context.Context, tenantID string, positionID uint) (*StockPosition, error) {
	p, err := s.positions.FindByID(ctx, tenantID, positionID)
	if err != nil {
		return nil, err
	}
	if !p.IsActive {
		return nil, fmt.Errorf("%w: position %d", ErrPositionInactive, positionID)
	}
	return p, nil
}

// checkDuplicate implements the idempotency guard. A prior confirmed movement
// with the same (type, document) reference and the same signed quantity turns
// the resubmission into a no-op success; a mismatch is an error.
func (s *Service) checkDuplicate(ctx context.Context, tenantID string, positionID uint, mtype MovementType, doc DocumentRef, signedQty decimal.Decimal) (*Movement, *OperationResult, error) {
	if doc.IsZero() {
		return nil, nil, nil
	}
	prior, err := s.movements.FindByReference(ctx, tenantID, mtype, doc)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to check movement reference: %w", err)
	}
	if prior == nil {
		return nil, nil, nil
	}
	if prior.PositionID != positionID || !prior.Quantity.Equal(signedQty) {
		return nil, nil, fmt.Errorf("%w: %s %s/%s already recorded with different payload",
			ErrDuplicateMovementReference, mtype, doc.Type, doc.ID)
	}

	p, err := s.positions.FindByID(ctx, tenantID, positionID)
	if err != nil {
		return nil, nil, err
	}
	return prior, &OperationResult{Position: p, Movement: prior, AlreadyApplied: true}, nil
}

func (s *Service) ensurePosition(ctx context.Context, tenantID string, req ReceiveRequest) (*StockPosition, error) {
	p, err := s.positions.FindByKey(ctx, tenantID, req.Key)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, ErrPositionNotFound) {
		return nil, err
	}
	return s.Provision(ctx, tenantID, ProvisionRequest{
		Key:          req.Key,
		CostMethod:   req.CostMethod,
		QualityGrade: req.QualityGrade,
		PickSequence: req.PickSequence,
		ExpiryDate:   req.ExpiryDate,
	})
}

// restoreLayers backs out a layer consumption after the surrounding mutation
// failed to persist. Runs on a fresh context so a cancelled request cannot
// strand the layers.
func (s *Service) restoreLayers(tenantID string, positionID uint, consumed []valuation.Consumption) {
	if len(consumed) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.lockTimeout)
	defer cancel()
	if err := s.valuer.Restore(ctx, tenantID, consumed); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"tenant_id":   tenantID,
			"position_id": positionID,
		}).Error("Layer restore failed; valuation requires manual correction")
	}
}

// voidLayer backs out a receipt layer after the surrounding mutation failed
// to persist
func (s *Service) voidLayer(tenantID string, layerID uint) {
	ctx, cancel := context.WithTimeout(context.Background(), s.lockTimeout)
	defer cancel()
	if err := s.valuer.VoidReceipt(ctx, tenantID, layerID); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"tenant_id": tenantID,
			"layer_id":  layerID,
		}).Error("Layer void failed; valuation requires manual correction")
	}
}

// savePositionBack persists a compensating bucket restore. A failure here is
// logged loudly; the position then needs a manual adjustment.
func (s *Service) savePositionBack(tenantID string, p *StockPosition) {
	ctx, cancel := context.WithTimeout(context.Background(), s.lockTimeout)
	defer cancel()
	if err := s.positions.Save(ctx, p); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"tenant_id":   tenantID,
			"position_id": p.ID,
		}).Error("Bucket restore failed; position requires manual adjustment")
	}
}

func (s *Service) assertConservation(p *StockPosition) error {
	if !p.ConservationHolds() {
		return fmt.Errorf("ledger: conservation invariant violated on position %d: on_hand=%s available=%s reserved=%s allocated=%s picked=%s",
			p.ID, p.OnHand, p.Available, p.Reserved, p.Allocated, p.Picked)
	}
	return nil
}

func (s *Service) newMovement(tenantID string, p *StockPosition, mtype MovementType, signedQty, onHandBefore, unitCost decimal.Decimal, op BucketOp) *Movement {
	return &Movement{
		MovementNumber: uuid.NewString(),
		TenantID:       tenantID,
		PositionID:     p.ID,
		Type:           mtype,
		Status:         MovementStatusConfirmed,
		Quantity:       signedQty,
		UnitCost:       unitCost,
		OnHandBefore:   onHandBefore,
		OnHandAfter:    p.OnHand,
		DocumentType:   op.Document.Type,
		DocumentID:     op.Document.ID,
		Reason:         op.Reason,
		CreatedBy:      op.ActorID,
		CreatedAt:      time.Now().UTC(),
	}
}

func (s *Service) logOperation(tenantID string, p *StockPosition, m *Movement) {
	s.logger.WithFields(logrus.Fields{
		"tenant_id":   tenantID,
		"position_id": p.ID,
		"movement":    m.MovementNumber,
		"type":        string(m.Type),
		"quantity":    m.Quantity.String(),
		"on_hand":     p.OnHand.String(),
		"available":   p.Available.String(),
	}).Debug("Ledger operation applied")
}
