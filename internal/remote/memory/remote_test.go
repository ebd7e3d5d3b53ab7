package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"gownqueue/pkg/domain"
)

func TestTransitions(t *testing.T) {
	ctx := context.Background()
	r := New(domain.Booking{ID: "E1", Status: domain.StatusAwaitingPickup, OrderType: domain.OrderHire})

	steps := []struct {
		name string
		call func() error
		want domain.Status
	}{
		{"check out", func() error { return r.CheckOutGown(ctx, "E1") }, domain.StatusCollected},
		{"undo check out", func() error { return r.UndoCheckOut(ctx, "E1") }, domain.StatusAwaitingPickup},
		{"check out again", func() error { return r.CheckOutGown(ctx, "E1") }, domain.StatusCollected},
		{"check in", func() error { return r.CheckInGown(ctx, "E1") }, domain.StatusReturned},
		{"undo check in", func() error { return r.UndoCheckIn(ctx, "E1") }, domain.StatusCollected},
		{"change gown", func() error {
			return r.ChangeGown(ctx, "E1", domain.GownChange{GownID: "G-7", Size: "L"})
		}, domain.StatusCollected},
	}
	for _, step := range steps {
		if err := step.call(); err != nil {
			t.Fatalf("%s: %v", step.name, err)
		}
		if b, _ := r.Booking("E1"); b.Status != step.want {
			t.Fatalf("%s: want %s, got %s", step.name, step.want, b.Status)
		}
	}
	if b, _ := r.Booking("E1"); b.GownID != "G-7" {
		t.Fatalf("gown not changed: %+v", b)
	}
	if calls := r.Calls(); len(calls) != len(steps) {
		t.Fatalf("want %d calls, got %d", len(steps), len(calls))
	}
}

func TestInvalidTransitionsAreRejected(t *testing.T) {
	ctx := context.Background()
	r := New(
		domain.Booking{ID: "waiting", Status: domain.StatusAwaitingPickup},
		domain.Booking{ID: "bought", Status: domain.StatusCollected, OrderType: domain.OrderPurchase},
	)
	if err := r.CheckInGown(ctx, "waiting"); err == nil {
		t.Fatalf("check in before check out should fail")
	}
	if err := r.UndoCheckIn(ctx, "waiting"); err == nil {
		t.Fatalf("undo check in without a return should fail")
	}
	if err := r.CheckInGown(ctx, "bought"); err == nil {
		t.Fatalf("purchased gowns are never returned")
	}
	if err := r.CheckOutGown(ctx, "missing"); !errors.Is(err, domain.ErrBookingNotFound) {
		t.Fatalf("want ErrBookingNotFound, got %v", err)
	}
}

func TestFailureInjectionAndOffline(t *testing.T) {
	ctx := context.Background()
	r := New(domain.Booking{ID: "E1", Status: domain.StatusAwaitingPickup})
	boom := errors.New("boom")
	r.FailNext("E1", boom)
	if err := r.CheckOutGown(ctx, "E1"); !errors.Is(err, boom) {
		t.Fatalf("want injected failure, got %v", err)
	}
	if err := r.CheckOutGown(ctx, "E1"); err != nil {
		t.Fatalf("injected failure should be consumed: %v", err)
	}

	r.SetOffline(true)
	if err := r.UndoCheckOut(ctx, "E1"); !errors.Is(err, ErrOffline) {
		t.Fatalf("want ErrOffline, got %v", err)
	}
	if _, err := r.FetchBooking(ctx, "E1"); !errors.Is(err, ErrOffline) {
		t.Fatalf("fetch while offline: want ErrOffline, got %v", err)
	}
	r.SetOffline(false)
	b, err := r.FetchBooking(ctx, "E1")
	if err != nil || b.Status != domain.StatusCollected {
		t.Fatalf("fetch: %+v %v", b, err)
	}

	calls := r.Calls()
	if len(calls) != 3 || calls[0].Err == nil || calls[1].Err != nil || calls[2].Err == nil {
		t.Fatalf("unexpected call log %+v", calls)
	}
}

func TestDelayHonoursContext(t *testing.T) {
	r := New(domain.Booking{ID: "E1", Status: domain.StatusAwaitingPickup})
	r.SetDelay(func(domain.OperationType, string) time.Duration { return time.Second })
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := r.CheckOutGown(ctx, "E1"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("want deadline exceeded, got %v", err)
	}
	if b, _ := r.Booking("E1"); b.Status != domain.StatusAwaitingPickup {
		t.Fatalf("cancelled call mutated booking: %s", b.Status)
	}
	if len(r.Calls()) != 0 {
		t.Fatalf("cancelled call should not be recorded")
	}
}
