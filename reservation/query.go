package reservation

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
)

// Query opens a streaming cursor over reservations matching the filter,
// ordered by window start ascending with ties broken by id. The transaction is
// expected to be repeatable-read and read-only; the cursor holds it open so
// the scan observes one consistent snapshot, and Close releases it.
//
// Cancelled reservations are excluded unless the filter explicitly asks for
// the cancelled status.
func (r *Repository) Query(ctx context.Context, tx pgx.Tx, f QueryFilter) (*Cursor, error) {
	var (
		conds []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.ResourceID != "" {
		conds = append(conds, "resource_id = "+arg(f.ResourceID))
	}
	if f.UserID != "" {
		conds = append(conds, "user_id = "+arg(f.UserID))
	}
	switch f.Status {
	case "", StatusUnknown:
		conds = append(conds, "status <> 'cancelled'")
	default:
		conds = append(conds, "status = "+arg(string(f.Status))+"::reservation_status")
	}
	if !f.Window.IsZero() {
		if _, err := NewWindow(f.Window.Start, f.Window.End); err != nil {
			_ = tx.Rollback(ctx)
			return nil, err
		}
		conds = append(conds, "timespan && tstzrange("+arg(f.Window.Start)+", "+arg(f.Window.End)+", '[)')")
	}

	query := `SELECT ` + reservationColumns + ` FROM reservations WHERE ` +
		strings.Join(conds, " AND ") +
		` ORDER BY lower(timespan), id`

	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		_ = tx.Rollback(ctx)
		return nil, wrapStoreErr("query", err)
	}
	return &Cursor{tx: tx, rows: rows}, nil
}

// Cursor streams query results lazily from a snapshot transaction.
type Cursor struct {
	tx      pgx.Tx
	rows    pgx.Rows
	current Reservation
	err     error
	closed  bool
}

// Next advances the cursor. It returns false at the end of the result set or
// on error; check Err after the loop.
func (c *Cursor) Next() bool {
	if c.closed || c.err != nil {
		return false
	}
	if !c.rows.Next() {
		c.err = c.rows.Err()
		c.Close()
		return false
	}
	rsvp, err := scanRows(c.rows)
	if err != nil {
		c.err = err
		c.Close()
		return false
	}
	c.current = rsvp
	return true
}

// Reservation returns the row the last successful Next positioned on.
func (c *Cursor) Reservation() Reservation {
	return c.current
}

func (c *Cursor) Err() error {
	if c.err != nil {
		return wrapStoreErr("query scan", c.err)
	}
	return nil
}

// Close releases the underlying rows and snapshot transaction. Idempotent;
// abandoning a query mid-scan has no side effects.
func (c *Cursor) Close() {
	if c.closed {
		return
	}
	c.closed = true
	c.rows.Close()
	if c.tx != nil {
		_ = c.tx.Rollback(context.Background())
	}
}

func scanRows(rows pgx.Rows) (Reservation, error) {
	var rsvp Reservation
	err := rows.Scan(
		&rsvp.ID,
		&rsvp.ResourceID,
		&rsvp.UserID,
		(*string)(&rsvp.Status),
		&rsvp.Window.Start,
		&rsvp.Window.End,
		&rsvp.Note,
		&rsvp.CreatedAt,
		&rsvp.UpdatedAt,
	)
	if err != nil {
		return Reservation{}, err
	}
	return rsvp, nil
}
