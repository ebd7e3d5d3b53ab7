package domain

import (
	"context"
	"errors"
	"time"
)

// Status is the display status of a gown booking.
type Status string

// Canonical booking statuses plus the purchase badge.
const (
	StatusAwaitingPickup Status = "awaiting_pickup"
	StatusCollected      Status = "collected"
	StatusReturned       Status = "returned"
	// StatusPurchase replaces "collected" for purchased gowns, which are never returned.
	StatusPurchase Status = "PURCHASE"
)

// OrderType distinguishes hired gowns from purchased ones.
type OrderType string

const (
	OrderHire     OrderType = "HIRE"
	OrderPurchase OrderType = "PURCHASE"
)

// ProvisionalStatus maps an operation type to the status it will produce once applied.
func ProvisionalStatus(t OperationType) (Status, bool) {
	switch t {
	case OpCheckOutGown, OpUndoCheckIn, OpChangeGown:
		return StatusCollected, true
	case OpCheckInGown:
		return StatusReturned, true
	case OpUndoCheckOut:
		return StatusAwaitingPickup, true
	}
	return "", false
}

// Booking is the last known authoritative state of a gown booking. The
// Pending* flags are written by an older UI layer that does not use the queue.
type Booking struct {
	ID                  string    `json:"id"`
	Status              Status    `json:"status"`
	OrderType           OrderType `json:"order_type"`
	StudentName         string    `json:"student_name,omitempty"`
	GownID              string    `json:"gown_id,omitempty"`
	PendingCheckout     bool      `json:"pending_checkout,omitempty"`
	PendingCheckin      bool      `json:"pending_checkin,omitempty"`
	PendingUndoCheckout bool      `json:"pending_undo_checkout,omitempty"`
	PendingUndoCheckin  bool      `json:"pending_undo_checkin,omitempty"`
	PendingGownChange   bool      `json:"pending_gown_change,omitempty"`
	UpdatedAt           time.Time `json:"updated_at,omitempty"`
}

// LegacyPending returns the operation type implied by the legacy flags, in
// checkout, checkin, undo checkout, undo checkin, gown change order.
func (b Booking) LegacyPending() (OperationType, bool) {
	switch {
	case b.PendingCheckout:
		return OpCheckOutGown, true
	case b.PendingCheckin:
		return OpCheckInGown, true
	case b.PendingUndoCheckout:
		return OpUndoCheckOut, true
	case b.PendingUndoCheckin:
		return OpUndoCheckIn, true
	case b.PendingGownChange:
		return OpChangeGown, true
	}
	return "", false
}

// EffectiveStatus is the derived status rendered for a booking. It is
// recomputed on every read and never stored.
type EffectiveStatus struct {
	EntityID       string     `json:"entity_id"`
	Status         Status     `json:"status"`
	Authoritative  Status     `json:"authoritative_status"`
	Pending        *Operation `json:"pending"`
	Error          string     `json:"error,omitempty"`
	ErrorOperation *Operation `json:"error_operation,omitempty"`
}

// HasError reports whether the booking carries a failed replay.
func (e EffectiveStatus) HasError() bool { return e.Error != "" }

// ErrBookingNotFound is returned by a BookingSource when the booking is unknown.
var ErrBookingNotFound = errors.New("booking not found")

// BookingSource reads authoritative booking state.
type BookingSource interface {
	FetchBooking(ctx context.Context, id string) (Booking, error)
}

// QueueStore is the durable key-value home of the serialized queue.
type QueueStore interface {
	Load(ctx context.Context) (QueueSnapshot, error)
	Save(ctx context.Context, snapshot QueueSnapshot) error
	Close() error
}
