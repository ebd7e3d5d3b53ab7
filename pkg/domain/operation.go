// Package domain defines the gown booking entities, queued operation types and
// the collaborator contracts shared by the offline queue, the reconciler and
// the replay executor.
package domain

import (
	"errors"
	"fmt"
	"time"
)

// OperationType identifies a gown mutation a staff member can queue.
type OperationType string

// Supported operation types. The set is closed: anything else is rejected at
// enqueue time and flagged as errored when found in persisted state.
const (
	OpCheckOutGown OperationType = "CHECK_OUT_GOWN"
	OpCheckInGown  OperationType = "CHECK_IN_GOWN"
	OpUndoCheckOut OperationType = "UNDO_CHECK_OUT"
	OpUndoCheckIn  OperationType = "UNDO_CHECK_IN"
	OpChangeGown   OperationType = "CHANGE_GOWN"
)

// OperationTypes lists every supported operation type in declaration order.
func OperationTypes() []OperationType {
	return []OperationType{OpCheckOutGown, OpCheckInGown, OpUndoCheckOut, OpUndoCheckIn, OpChangeGown}
}

// Valid reports whether t is one of the supported operation types.
func (t OperationType) Valid() bool {
	switch t {
	case OpCheckOutGown, OpCheckInGown, OpUndoCheckOut, OpUndoCheckIn, OpChangeGown:
		return true
	}
	return false
}

// OperationState tracks a queued operation through replay. Applied operations
// are removed from the queue, so there is no applied state.
type OperationState string

const (
	StatePending  OperationState = "pending"
	StateApplying OperationState = "applying"
	StateErrored  OperationState = "errored"
)

// Active reports whether the operation still counts as a pending change for
// display purposes.
func (s OperationState) Active() bool {
	return s == StatePending || s == StateApplying
}

// GownChange carries the replacement gown for a CHANGE_GOWN operation.
type GownChange struct {
	GownID string `json:"gown_id" validate:"required"`
	Size   string `json:"size,omitempty"`
}

// Operation is a single queued mutation. Operations are owned by the queue
// until they are applied (removed) or cleared by the user.
type Operation struct {
	ID          string         `json:"id"`
	EntityID    string         `json:"entity_id"`
	Type        OperationType  `json:"type"`
	Description string         `json:"description,omitempty"`
	Change      *GownChange    `json:"change,omitempty"`
	Seq         uint64         `json:"seq"`
	Timestamp   time.Time      `json:"timestamp"`
	State       OperationState `json:"state"`
	Error       string         `json:"error,omitempty"`
	Attempts    int            `json:"attempts"`
	ErroredAt   *time.Time     `json:"errored_at,omitempty"`
}

// Clone returns a deep copy so callers never share pointers with queue state.
func (o Operation) Clone() Operation {
	out := o
	if o.Change != nil {
		c := *o.Change
		out.Change = &c
	}
	if o.ErroredAt != nil {
		t := *o.ErroredAt
		out.ErroredAt = &t
	}
	return out
}

// ErrUnknownOperationType is returned when an operation type has no mutation variant.
var ErrUnknownOperationType = errors.New("unknown operation type")

// Mutation returns the typed variant for the operation.
func (o Operation) Mutation() (Mutation, error) {
	switch o.Type {
	case OpCheckOutGown:
		return CheckOutGown{EntityID: o.EntityID}, nil
	case OpCheckInGown:
		return CheckInGown{EntityID: o.EntityID}, nil
	case OpUndoCheckOut:
		return UndoCheckOut{EntityID: o.EntityID}, nil
	case OpUndoCheckIn:
		return UndoCheckIn{EntityID: o.EntityID}, nil
	case OpChangeGown:
		if o.Change == nil {
			return nil, fmt.Errorf("%s %s: missing gown change", o.Type, o.ID)
		}
		return ChangeGown{EntityID: o.EntityID, GownID: o.Change.GownID, Size: o.Change.Size}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownOperationType, o.Type)
	}
}

// EnqueueRequest is the user-facing input for queuing an operation.
type EnqueueRequest struct {
	EntityID    string        `json:"entity_id" validate:"required,max=128"`
	Type        OperationType `json:"type" validate:"required,oneof=CHECK_OUT_GOWN CHECK_IN_GOWN UNDO_CHECK_OUT UNDO_CHECK_IN CHANGE_GOWN"`
	Description string        `json:"description,omitempty" validate:"max=512"`
	Change      *GownChange   `json:"change,omitempty" validate:"required_if=Type CHANGE_GOWN"`
}

// QueueSchemaVersion is written with every persisted snapshot.
const QueueSchemaVersion = 1

// QueueSnapshot is the persisted form of the queue.
type QueueSnapshot struct {
	SchemaVersion int         `json:"schema_version"`
	Seq           uint64      `json:"seq"`
	Operations    []Operation `json:"operations"`
}
