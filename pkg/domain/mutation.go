package domain

import (
	"context"
	"fmt"
)

// Mutation is the closed set of remote mutations. Each variant carries only
// the fields its remote call needs.
type Mutation interface {
	Type() OperationType
	Entity() string
	isMutation()
}

// CheckOutGown hands a gown to the student.
type CheckOutGown struct{ EntityID string }

// CheckInGown records a returned gown.
type CheckInGown struct{ EntityID string }

// UndoCheckOut reverts a checkout back to awaiting pickup.
type UndoCheckOut struct{ EntityID string }

// UndoCheckIn reverts a return back to collected.
type UndoCheckIn struct{ EntityID string }

// ChangeGown swaps the gown assigned to a booking.
type ChangeGown struct {
	EntityID string
	GownID   string
	Size     string
}

func (CheckOutGown) Type() OperationType { return OpCheckOutGown }
func (CheckInGown) Type() OperationType  { return OpCheckInGown }
func (UndoCheckOut) Type() OperationType { return OpUndoCheckOut }
func (UndoCheckIn) Type() OperationType  { return OpUndoCheckIn }
func (ChangeGown) Type() OperationType   { return OpChangeGown }

func (m CheckOutGown) Entity() string { return m.EntityID }
func (m CheckInGown) Entity() string  { return m.EntityID }
func (m UndoCheckOut) Entity() string { return m.EntityID }
func (m UndoCheckIn) Entity() string  { return m.EntityID }
func (m ChangeGown) Entity() string   { return m.EntityID }

func (CheckOutGown) isMutation() {}
func (CheckInGown) isMutation()  {}
func (UndoCheckOut) isMutation() {}
func (UndoCheckIn) isMutation()  {}
func (ChangeGown) isMutation()   {}

// RemoteAPI is the remote mutation surface, one call per operation type.
type RemoteAPI interface {
	CheckOutGown(ctx context.Context, entityID string) error
	CheckInGown(ctx context.Context, entityID string) error
	UndoCheckOut(ctx context.Context, entityID string) error
	UndoCheckIn(ctx context.Context, entityID string) error
	ChangeGown(ctx context.Context, entityID string, change GownChange) error
}

// Apply dispatches a mutation to the matching remote call.
func Apply(ctx context.Context, api RemoteAPI, m Mutation) error {
	switch v := m.(type) {
	case CheckOutGown:
		return api.CheckOutGown(ctx, v.EntityID)
	case CheckInGown:
		return api.CheckInGown(ctx, v.EntityID)
	case UndoCheckOut:
		return api.UndoCheckOut(ctx, v.EntityID)
	case UndoCheckIn:
		return api.UndoCheckIn(ctx, v.EntityID)
	case ChangeGown:
		return api.ChangeGown(ctx, v.EntityID, GownChange{GownID: v.GownID, Size: v.Size})
	default:
		return fmt.Errorf("%w: %T", ErrUnknownOperationType, m)
	}
}
