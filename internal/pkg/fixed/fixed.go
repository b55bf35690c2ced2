// internal/pkg/fixed/fixed.go
package fixed

import "github.com/shopspring/decimal"

// Precision for the two kinds of numbers the ledger carries. Quantities are
// tracked to 3 fractional digits, monetary values to 2. All derived values
// are rounded half-up at these places.
const (
	QuantityPlaces int32 = 3
	MoneyPlaces    int32 = 2
)

// Quantity rounds d to quantity precision (half-up).
func Quantity(d decimal.Decimal) decimal.Decimal {
	return d.Round(QuantityPlaces)
}

// Money rounds d to monetary precision (half-up).
func Money(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyPlaces)
}
