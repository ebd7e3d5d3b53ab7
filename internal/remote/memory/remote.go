// Package memory is an in-process remote booking service. It applies gown
// mutations to an in-memory booking table and supports failure and latency
// injection for tests and offline demos.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gownqueue/pkg/domain"
)

// Compile-time contract assertions.
var (
	_ domain.RemoteAPI     = (*Remote)(nil)
	_ domain.BookingSource = (*Remote)(nil)
)

// Call records one applied or attempted remote mutation.
type Call struct {
	Type     domain.OperationType
	EntityID string
	Err      error
	At       time.Time
}

// Remote holds authoritative bookings.
type Remote struct {
	mu       sync.Mutex
	bookings map[string]domain.Booking
	calls    []Call
	failures map[string][]error
	delay    func(domain.OperationType, string) time.Duration
	offline  bool
}

// New returns a remote seeded with bookings.
func New(bookings ...domain.Booking) *Remote {
	r := &Remote{bookings: make(map[string]domain.Booking), failures: make(map[string][]error)}
	for _, b := range bookings {
		r.bookings[b.ID] = b
	}
	return r
}

// ErrOffline is returned by every call while the remote is set offline.
var ErrOffline = fmt.Errorf("remote unreachable")

// SetOffline makes every call fail with ErrOffline.
func (r *Remote) SetOffline(offline bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.offline = offline
}

// FailNext queues errors returned by the next calls for the entity, in order.
func (r *Remote) FailNext(entityID string, errs ...error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures[entityID] = append(r.failures[entityID], errs...)
}

// SetDelay installs a per-call latency function.
func (r *Remote) SetDelay(fn func(domain.OperationType, string) time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delay = fn
}

// Calls returns the recorded calls in completion order.
func (r *Remote) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Call, len(r.calls))
	copy(out, r.calls)
	return out
}

// Booking returns the stored booking.
func (r *Remote) Booking(id string) (domain.Booking, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bookings[id]
	return b, ok
}

// FetchBooking implements domain.BookingSource.
func (r *Remote) FetchBooking(_ context.Context, id string) (domain.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.offline {
		return domain.Booking{}, ErrOffline
	}
	b, ok := r.bookings[id]
	if !ok {
		return domain.Booking{}, fmt.Errorf("%w: %s", domain.ErrBookingNotFound, id)
	}
	return b, nil
}

func (r *Remote) CheckOutGown(ctx context.Context, entityID string) error {
	return r.apply(ctx, domain.OpCheckOutGown, entityID, func(b *domain.Booking) error {
		if b.Status != domain.StatusAwaitingPickup {
			return fmt.Errorf("booking %s is %s, cannot check out", entityID, b.Status)
		}
		b.Status = domain.StatusCollected
		return nil
	})
}

func (r *Remote) CheckInGown(ctx context.Context, entityID string) error {
	return r.apply(ctx, domain.OpCheckInGown, entityID, func(b *domain.Booking) error {
		if b.Status != domain.StatusCollected {
			return fmt.Errorf("booking %s is %s, cannot check in", entityID, b.Status)
		}
		if b.OrderType == domain.OrderPurchase {
			return fmt.Errorf("booking %s is a purchase and is never returned", entityID)
		}
		b.Status = domain.StatusReturned
		return nil
	})
}

func (r *Remote) UndoCheckOut(ctx context.Context, entityID string) error {
	return r.apply(ctx, domain.OpUndoCheckOut, entityID, func(b *domain.Booking) error {
		if b.Status != domain.StatusCollected {
			return fmt.Errorf("booking %s is %s, nothing to undo", entityID, b.Status)
		}
		b.Status = domain.StatusAwaitingPickup
		return nil
	})
}

func (r *Remote) UndoCheckIn(ctx context.Context, entityID string) error {
	return r.apply(ctx, domain.OpUndoCheckIn, entityID, func(b *domain.Booking) error {
		if b.Status != domain.StatusReturned {
			return fmt.Errorf("booking %s is %s, nothing to undo", entityID, b.Status)
		}
		b.Status = domain.StatusCollected
		return nil
	})
}

func (r *Remote) ChangeGown(ctx context.Context, entityID string, change domain.GownChange) error {
	return r.apply(ctx, domain.OpChangeGown, entityID, func(b *domain.Booking) error {
		b.GownID = change.GownID
		b.Status = domain.StatusCollected
		return nil
	})
}

func (r *Remote) apply(ctx context.Context, typ domain.OperationType, entityID string, fn func(*domain.Booking) error) error {
	r.mu.Lock()
	delay := r.delay
	r.mu.Unlock()
	if delay != nil {
		if d := delay(typ, entityID); d > 0 {
			timer := time.NewTimer(d)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	err := r.applyLocked(entityID, fn)
	r.calls = append(r.calls, Call{Type: typ, EntityID: entityID, Err: err, At: time.Now()})
	return err
}

func (r *Remote) applyLocked(entityID string, fn func(*domain.Booking) error) error {
	if r.offline {
		return ErrOffline
	}
	if queued := r.failures[entityID]; len(queued) > 0 {
		r.failures[entityID] = queued[1:]
		return queued[0]
	}
	b, ok := r.bookings[entityID]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrBookingNotFound, entityID)
	}
	if err := fn(&b); err != nil {
		return err
	}
	b.UpdatedAt = time.Now().UTC()
	r.bookings[entityID] = b
	return nil
}
