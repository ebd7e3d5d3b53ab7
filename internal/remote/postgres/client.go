// Package postgres calls the booking database's gown functions over the pgx
// database/sql driver and reads authoritative booking state from its view.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"gownqueue/pkg/domain"
)

// Compile-time contract assertions.
var (
	_ domain.RemoteAPI     = (*Client)(nil)
	_ domain.BookingSource = (*Client)(nil)
)

const defaultDriver = "pgx"

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Remote function names, one per operation type.
const (
	fnCheckOut     = "gown_check_out"
	fnCheckIn      = "gown_check_in"
	fnUndoCheckOut = "gown_undo_check_out"
	fnUndoCheckIn  = "gown_undo_check_in"
	fnChangeGown   = "gown_change"
)

const selectBooking = `SELECT id, status, order_type, student_name, gown_id, pending_checkout, pending_checkin, pending_undo_checkout, pending_undo_checkin, pending_gown_change FROM booking_gown_status WHERE id = $1`

// Client is the Postgres-backed remote API.
type Client struct {
	db *sql.DB
}

// Open connects to the booking database.
func Open(ctx context.Context, dsn string) (*Client, error) {
	if dsn == "" {
		return nil, fmt.Errorf("remote postgres dsn required")
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open remote postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping remote postgres: %w", err)
	}
	return &Client{db: db}, nil
}

// NewClient wraps an existing handle.
func NewClient(db *sql.DB) *Client { return &Client{db: db} }

func (c *Client) CheckOutGown(ctx context.Context, entityID string) error {
	return c.call(ctx, fnCheckOut, entityID)
}

func (c *Client) CheckInGown(ctx context.Context, entityID string) error {
	return c.call(ctx, fnCheckIn, entityID)
}

func (c *Client) UndoCheckOut(ctx context.Context, entityID string) error {
	return c.call(ctx, fnUndoCheckOut, entityID)
}

func (c *Client) UndoCheckIn(ctx context.Context, entityID string) error {
	return c.call(ctx, fnUndoCheckIn, entityID)
}

func (c *Client) ChangeGown(ctx context.Context, entityID string, change domain.GownChange) error {
	var ok bool
	err := c.db.QueryRowContext(ctx, `SELECT gown_change($1, $2, $3)`, entityID, change.GownID, change.Size).Scan(&ok)
	return result(fnChangeGown, entityID, ok, err)
}

// call runs `SELECT fn($1)`; the function returns false when the booking is
// not in a state that allows the transition.
func (c *Client) call(ctx context.Context, fn, entityID string) error {
	var ok bool
	err := c.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT %s($1)`, fn), entityID).Scan(&ok)
	return result(fn, entityID, ok, err)
}

func result(fn, entityID string, ok bool, err error) error {
	if err != nil {
		return fmt.Errorf("%s(%s): %w", fn, entityID, err)
	}
	if !ok {
		return fmt.Errorf("%s(%s): transition rejected", fn, entityID)
	}
	return nil
}

// FetchBooking implements domain.BookingSource.
func (c *Client) FetchBooking(ctx context.Context, id string) (domain.Booking, error) {
	var (
		b                 domain.Booking
		status, orderType string
		studentName, gown sql.NullString
	)
	err := c.db.QueryRowContext(ctx, selectBooking, id).Scan(
		&b.ID, &status, &orderType, &studentName, &gown,
		&b.PendingCheckout, &b.PendingCheckin, &b.PendingUndoCheckout, &b.PendingUndoCheckin, &b.PendingGownChange,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Booking{}, fmt.Errorf("%w: %s", domain.ErrBookingNotFound, id)
	}
	if err != nil {
		return domain.Booking{}, fmt.Errorf("select booking %s: %w", id, err)
	}
	b.Status = domain.Status(status)
	b.OrderType = domain.OrderType(orderType)
	b.StudentName = studentName.String
	b.GownID = gown.String
	return b, nil
}

// Close releases the database handle.
func (c *Client) Close() error { return c.db.Close() }

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
