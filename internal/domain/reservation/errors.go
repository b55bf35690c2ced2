// internal/domain/reservation/errors.go
package reservation

import "errors"

var (
	// ErrReservationNotFound is returned when a reservation id does not exist
	// in the tenant partition
	ErrReservationNotFound = errors.New("reservation: reservation not found")

	// ErrItemNotFound is returned when a reservation item id does not exist
	ErrItemNotFound = errors.New("reservation: reservation item not found")

	// ErrReservationClosed is returned for mutations on a reservation that is
	// already fulfilled or cancelled
	ErrReservationClosed = errors.New("reservation: reservation is closed")

	// ErrInvalidRequest is returned for structurally invalid requests
	ErrInvalidRequest = errors.New("reservation: invalid request")

	// ErrOverFulfillment is returned when a fulfillment quantity exceeds the
	// item's unfulfilled allocations
	ErrOverFulfillment = errors.New("reservation: quantity exceeds unfulfilled allocations")
)
