// Package reconcile folds queued and failed operations over the authoritative
// booking state to produce the status shown to staff.
package reconcile

import (
	"context"
	"fmt"

	"gownqueue/pkg/domain"
)

// Effective computes the effective status of a booking. pending and errored
// must be most-recent-first, as returned by the queue accessors. The function
// is pure: identical inputs always produce identical output.
//
// Priority, first match wins: an errored operation, the most recent pending
// operation, the legacy pending flags, then the authoritative status.
func Effective(booking domain.Booking, pending, errored []domain.Operation) domain.EffectiveStatus {
	out := domain.EffectiveStatus{
		EntityID:      booking.ID,
		Status:        booking.Status,
		Authoritative: booking.Status,
	}
	switch {
	case len(errored) > 0:
		failed := errored[0].Clone()
		out.Error = failed.Error
		if out.Error == "" {
			out.Error = "operation failed"
		}
		out.ErrorOperation = &failed
	case len(pending) > 0:
		latest := pending[0].Clone()
		out.Pending = &latest
		if status, ok := domain.ProvisionalStatus(latest.Type); ok {
			out.Status = status
		}
	default:
		if t, ok := booking.LegacyPending(); ok {
			if status, ok := domain.ProvisionalStatus(t); ok {
				out.Status = status
			}
		}
	}
	if out.Status == domain.StatusCollected && booking.OrderType == domain.OrderPurchase {
		out.Status = domain.StatusPurchase
	}
	return out
}

// OperationSource is the read side of the queue used by the reconciler.
type OperationSource interface {
	PendingForEntity(entityID string) []domain.Operation
	ErroredForEntity(entityID string) []domain.Operation
}

// BookingReader resolves authoritative booking state, usually through the entity cache.
type BookingReader interface {
	Get(ctx context.Context, id string) (domain.Booking, error)
}

// Reconciler binds Effective to the live queue and booking cache.
type Reconciler struct {
	ops      OperationSource
	bookings BookingReader
}

// New returns a Reconciler reading from the given sources.
func New(ops OperationSource, bookings BookingReader) *Reconciler {
	return &Reconciler{ops: ops, bookings: bookings}
}

// EffectiveStatus resolves the booking and folds the queued operations over it.
func (r *Reconciler) EffectiveStatus(ctx context.Context, entityID string) (domain.EffectiveStatus, error) {
	booking, err := r.bookings.Get(ctx, entityID)
	if err != nil {
		return domain.EffectiveStatus{}, fmt.Errorf("resolve booking %s: %w", entityID, err)
	}
	return Effective(booking, r.ops.PendingForEntity(entityID), r.ops.ErroredForEntity(entityID)), nil
}
