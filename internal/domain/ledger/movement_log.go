// internal/domain/ledger/movement_log.go
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/your-org/inventory-backend/internal/config"
	"github.com/your-org/inventory-backend/internal/pkg/fixed"
)

// MovementLog is the query and correction surface over the append-only
// movement stream. Corrections never edit history: a reversal appends a new
// movement with the inverse effect and flips the original's status.
type MovementLog struct {
	svc    *Service
	window time.Duration
	logger *logrus.Logger
}

// NewMovementLog creates a movement log bound to a ledger service
func NewMovementLog(svc *Service, cfg *config.Config, logger *logrus.Logger) *MovementLog {
	return &MovementLog{
		svc:    svc,
		window: cfg.Ledger.ReversalWindow,
		logger: logger,
	}
}

// Reverse undoes a confirmed movement inside the reversal window. It appends
// a REVERSAL movement carrying the inverse bucket transition and marks the
// original REVERSED. Reversals themselves cannot be reversed.
func (l *MovementLog) Reverse(ctx context.Context, tenantID string, movementID uint, reason string, actorID uint) (*OperationResult, error) {
	original, err := l.svc.movements.FindByID(ctx, tenantID, movementID)
	if err != nil {
		return nil, err
	}

	if original.IsReversal() {
		return nil, fmt.Errorf("%w: movement %d is a reversal", ErrNotReversible, movementID)
	}
	switch original.Status {
	case MovementStatusReversed:
		return nil, fmt.Errorf("%w: movement %d", ErrAlreadyReversed, movementID)
	case MovementStatusConfirmed:
		// reversible
	default:
		return nil, fmt.Errorf("%w: movement %d has status %s", ErrNotReversible, movementID, original.Status)
	}
	if time.Since(original.CreatedAt) > l.window {
		return nil, fmt.Errorf("%w: movement %d is older than %s", ErrReversalWindowExpired, movementID, l.window)
	}

	release, err := l.svc.acquire(ctx, tenantID, original.PositionID)
	if err != nil {
		return nil, err
	}
	defer release()

	// Re-check under the lock: a concurrent reversal may have won.
	if existing, err := l.svc.movements.FindReversalOf(ctx, tenantID, original.ID); err != nil {
		return nil, err
	} else if existing != nil {
		return nil, fmt.Errorf("%w: movement %d", ErrAlreadyReversed, movementID)
	}

	p, err := l.svc.loadActive(ctx, tenantID, original.PositionID)
	if err != nil {
		return nil, err
	}

	qty := original.Quantity.Abs()
	before := p.OnHand
	if err := l.applyInverse(ctx, tenantID, p, original, qty); err != nil {
		return nil, err
	}
	p.TotalValue = fixed.Money(p.OnHand.Mul(p.AverageCost))

	if err := l.svc.assertConservation(p); err != nil {
		return nil, err
	}
	if err := l.svc.positions.Save(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to save position: %w", err)
	}

	reversal := &Movement{
		MovementNumber: uuid.NewString(),
		TenantID:       tenantID,
		PositionID:     p.ID,
		Type:           MovementTypeReversal,
		Status:         MovementStatusConfirmed,
		Quantity:       original.Quantity.Neg(),
		UnitCost:       original.UnitCost,
		OnHandBefore:   before,
		OnHandAfter:    p.OnHand,
		DocumentType:   original.DocumentType,
		DocumentID:     original.DocumentID,
		ReversalOfID:   &original.ID,
		Reason:         reason,
		CreatedBy:      actorID,
		CreatedAt:      time.Now().UTC(),
	}
	if err := l.svc.movements.Append(ctx, reversal); err != nil {
		return nil, fmt.Errorf("failed to record reversal: %w", err)
	}
	if err := l.svc.movements.UpdateStatus(ctx, tenantID, original.ID, MovementStatusReversed); err != nil {
		return nil, fmt.Errorf("failed to mark movement reversed: %w", err)
	}

	l.logger.WithFields(logrus.Fields{
		"tenant_id":   tenantID,
		"position_id": p.ID,
		"original":    original.MovementNumber,
		"reversal":    reversal.MovementNumber,
		"type":        string(original.Type),
	}).Info("Movement reversed")

	return &OperationResult{Position: p, Movement: reversal}, nil
}

// applyInverse mutates the position buckets with the inverse of the original
// movement and keeps the valuation layers in step.
func (l *MovementLog) applyInverse(ctx context.Context, tenantID string, p *StockPosition, original *Movement, qty decimal.Decimal) error {
	switch original.Type {
	case MovementTypeReceive, MovementTypeAdjustIn, MovementTypeTransferIn:
		if p.Available.LessThan(qty) {
			return fmt.Errorf("%w: reversal needs %s available, have %s", ErrInsufficientAvailable, qty, p.Available)
		}
		if _, err := l.svc.valuer.ConsumeForShipment(ctx, tenantID, p.ID, qty, p.CostMethod); err != nil {
			return err
		}
		p.Available = p.Available.Sub(qty)
		p.OnHand = p.OnHand.Sub(qty)
	case MovementTypeShip:
		if _, err := l.svc.valuer.RecordReceipt(ctx, tenantID, p.ID, qty, original.UnitCost, time.Now().UTC()); err != nil {
			return err
		}
		p.OnHand = p.OnHand.Add(qty)
		p.Picked = p.Picked.Add(qty)
		p.Shipped = decimal.Max(decimal.Zero, p.Shipped.Sub(qty))
	case MovementTypeAdjustOut, MovementTypeTransferOut:
		if _, err := l.svc.valuer.RecordReceipt(ctx, tenantID, p.ID, qty, original.UnitCost, time.Now().UTC()); err != nil {
			return err
		}
		p.OnHand = p.OnHand.Add(qty)
		p.Available = p.Available.Add(qty)
		if original.Type == MovementTypeTransferOut {
			p.InTransit = decimal.Max(decimal.Zero, p.InTransit.Sub(qty))
		}
	case MovementTypeReserve:
		if p.Reserved.LessThan(qty) {
			return fmt.Errorf("%w: reversal needs %s reserved, have %s", ErrInsufficientReserved, qty, p.Reserved)
		}
		p.Reserved = p.Reserved.Sub(qty)
		p.Available = p.Available.Add(qty)
	case MovementTypeRelease:
		if p.Available.LessThan(qty) {
			return fmt.Errorf("%w: reversal needs %s available, have %s", ErrInsufficientAvailable, qty, p.Available)
		}
		p.Available = p.Available.Sub(qty)
		p.Reserved = p.Reserved.Add(qty)
	case MovementTypeAllocate:
		if p.Allocated.LessThan(qty) {
			return fmt.Errorf("%w: reversal needs %s allocated, have %s", ErrInsufficientAllocated, qty, p.Allocated)
		}
		p.Allocated = p.Allocated.Sub(qty)
		p.Reserved = p.Reserved.Add(qty)
	case MovementTypeUnallocate:
		if p.Available.LessThan(qty) {
			return fmt.Errorf("%w: reversal needs %s available, have %s", ErrInsufficientAvailable, qty, p.Available)
		}
		p.Available = p.Available.Sub(qty)
		p.Allocated = p.Allocated.Add(qty)
	case MovementTypePick:
		if p.Picked.LessThan(qty) {
			return fmt.Errorf("%w: reversal needs %s picked, have %s", ErrInsufficientPicked, qty, p.Picked)
		}
		p.Picked = p.Picked.Sub(qty)
		p.Allocated = p.Allocated.Add(qty)
	default:
		return fmt.Errorf("%w: movement type %s", ErrNotReversible, original.Type)
	}
	return nil
}

// History returns a position's movements over a time window, in insertion order
func (l *MovementLog) History(ctx context.Context, tenantID string, positionID uint, from, to time.Time) ([]*Movement, error) {
	return l.svc.movements.History(ctx, tenantID, positionID, from, to)
}

// RelatedMovements returns all movements sharing a business document
// reference, reconstructing the fulfillment chain for one order line.
func (l *MovementLog) RelatedMovements(ctx context.Context, tenantID string, doc DocumentRef) ([]*Movement, error) {
	return l.svc.movements.RelatedByDocument(ctx, tenantID, doc)
}

// Replay folds a position's full movement stream into bucket state. Movements
// for a position are totally ordered by insertion; replaying them must
// reproduce the current buckets.
func (l *MovementLog) Replay(ctx context.Context, tenantID string, positionID uint) (BucketState, error) {
	all, err := l.svc.movements.ListByPosition(ctx, tenantID, positionID)
	if err != nil {
		return BucketState{}, err
	}

	byID := make(map[uint]*Movement, len(all))
	for _, m := range all {
		byID[m.ID] = m
	}

	state := NewBucketState()
	for _, m := range all {
		if m.Status == MovementStatusCancelled {
			continue
		}
		if m.Type == MovementTypeReversal {
			if m.ReversalOfID == nil {
				return BucketState{}, fmt.Errorf("ledger: reversal movement %d has no original", m.ID)
			}
			orig, ok := byID[*m.ReversalOfID]
			if !ok {
				return BucketState{}, fmt.Errorf("ledger: reversal movement %d references unknown movement %d", m.ID, *m.ReversalOfID)
			}
			state = applyToState(state, orig.Type, orig.Quantity.Abs(), true)
			continue
		}
		state = applyToState(state, m.Type, m.Quantity.Abs(), false)
	}
	return state, nil
}

// applyToState folds one movement (or its inverse) into a bucket state
func applyToState(s BucketState, mtype MovementType, qty decimal.Decimal, inverse bool) BucketState {
	if inverse {
		qty = qty.Neg()
	}
	switch mtype {
	case MovementTypeReceive, MovementTypeAdjustIn, MovementTypeTransferIn:
		s.OnHand = s.OnHand.Add(qty)
		s.Available = s.Available.Add(qty)
	case MovementTypeShip:
		s.OnHand = s.OnHand.Sub(qty)
		s.Picked = s.Picked.Sub(qty)
		s.Shipped = s.Shipped.Add(qty)
	case MovementTypeAdjustOut, MovementTypeTransferOut:
		s.OnHand = s.OnHand.Sub(qty)
		s.Available = s.Available.Sub(qty)
	case MovementTypeReserve:
		s.Available = s.Available.Sub(qty)
		s.Reserved = s.Reserved.Add(qty)
	case MovementTypeRelease:
		s.Reserved = s.Reserved.Sub(qty)
		s.Available = s.Available.Add(qty)
	case MovementTypeAllocate:
		s.Reserved = s.Reserved.Sub(qty)
		s.Allocated = s.Allocated.Add(qty)
	case MovementTypeUnallocate:
		s.Allocated = s.Allocated.Sub(qty)
		s.Available = s.Available.Add(qty)
	case MovementTypePick:
		s.Allocated = s.Allocated.Sub(qty)
		s.Picked = s.Picked.Add(qty)
	}
	return s
}
