// internal/domain/reservation/strategy.go
package reservation

import (
	"fmt"
	"sort"
	"time"

	"github.com/your-org/inventory-backend/internal/domain/ledger"
)

// sortCandidates orders eligible stock positions according to the fulfillment
// strategy. The input slice is sorted in place and returned. MANUAL keeps the
// caller-supplied id order and drops positions not named in it.
func sortCandidates(strategy Strategy, candidates []*ledger.StockPosition, manualOrder []uint) ([]*ledger.StockPosition, error) {
	switch strategy {
	case StrategyFIFO:
		sort.SliceStable(candidates, func(i, j int) bool {
			return receiptTime(candidates[i]).Before(receiptTime(candidates[j]))
		})
	case StrategyLIFO:
		sort.SliceStable(candidates, func(i, j int) bool {
			return receiptTime(candidates[i]).After(receiptTime(candidates[j]))
		})
	case StrategyFEFO:
		sort.SliceStable(candidates, func(i, j int) bool {
			return expiryTime(candidates[i]).Before(expiryTime(candidates[j]))
		})
	case StrategyNearest:
		sort.SliceStable(candidates, func(i, j int) bool {
			return candidates[i].PickSequence < candidates[j].PickSequence
		})
	case StrategyCheapest:
		sort.SliceStable(candidates, func(i, j int) bool {
			return candidates[i].AverageCost.LessThan(candidates[j].AverageCost)
		})
	case StrategyHighestQuality:
		sort.SliceStable(candidates, func(i, j int) bool {
			return ledger.QualityRank(candidates[i].QualityGrade) > ledger.QualityRank(candidates[j].QualityGrade)
		})
	case StrategyManual:
		if len(manualOrder) == 0 {
			return nil, fmt.Errorf("reservation: MANUAL strategy requires a position order")
		}
		byID := make(map[uint]*ledger.StockPosition, len(candidates))
		for _, c := range candidates {
			byID[c.ID] = c
		}
		ordered := make([]*ledger.StockPosition, 0, len(manualOrder))
		for _, id := range manualOrder {
			if c, ok := byID[id]; ok {
				ordered = append(ordered, c)
			}
		}
		return ordered, nil
	default:
		return nil, fmt.Errorf("reservation: unknown fulfillment strategy %q", strategy)
	}
	return candidates, nil
}

// receiptTime is the FIFO/LIFO ordering key; positions never received rank
// by creation time.
func receiptTime(p *ledger.StockPosition) time.Time {
	if p.FirstReceivedAt != nil {
		return *p.FirstReceivedAt
	}
	return p.CreatedAt
}

// expiryTime is the FEFO ordering key; positions without expiry rank last
func expiryTime(p *ledger.StockPosition) time.Time {
	if p.ExpiryDate != nil {
		return *p.ExpiryDate
	}
	return time.Date(9999, time.December, 31, 0, 0, 0, 0, time.UTC)
}

// filterConstraints drops candidates that violate the item's quality and
// shelf-life constraints.
func filterConstraints(item *ReservationItem, candidates []*ledger.StockPosition, now time.Time) []*ledger.StockPosition {
	out := candidates[:0]
	for _, c := range candidates {
		if item.MinQualityGrade != "" &&
			ledger.QualityRank(c.QualityGrade) < ledger.QualityRank(item.MinQualityGrade) {
			continue
		}
		if item.MinShelfLifeDays > 0 {
			minExpiry := now.AddDate(0, 0, item.MinShelfLifeDays)
			if c.ExpiryDate == nil || c.ExpiryDate.Before(minExpiry) {
				continue
			}
		}
		out = append(out, c)
	}
	return out
}
