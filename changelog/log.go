package changelog

import (
	"context"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
)

// Channel is the Postgres notification channel change appends signal on.
const Channel = "reservation_update"

// appendLockID keys the advisory lock serializing ledger appends.
const appendLockID = 874219

// RowsQueryer is the read surface shared by pgxpool.Pool and pgx.Tx.
type RowsQueryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type Log struct{}

func NewLog() *Log {
	return &Log{}
}

// Append inserts a change record inside the caller's transaction and queues a
// notification on Channel carrying the new seq. Postgres only delivers NOTIFY
// after the transaction commits, so a rollback drops both the record and the
// signal, and the commit itself never waits on delivery.
//
// An advisory lock held until commit serializes seq assignment with commit
// order. Without it a transaction could commit a higher seq first, a
// subscriber would advance past the still-uncommitted lower seq, and that
// record would be invisible to every later replay.
func (l *Log) Append(ctx context.Context, tx pgx.Tx, reservationID string, op Op) (int64, error) {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, appendLockID); err != nil {
		return 0, fmt.Errorf("changelog: acquire append lock: %w", err)
	}

	var seq int64
	err := tx.QueryRow(ctx, `
INSERT INTO reservation_changes (reservation_id, op)
VALUES ($1::uuid, $2::reservation_change_op)
RETURNING seq`, reservationID, string(op)).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("changelog: append: %w", err)
	}

	if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, Channel, strconv.FormatInt(seq, 10)); err != nil {
		return 0, fmt.Errorf("changelog: queue notify: %w", err)
	}
	return seq, nil
}

// Replay streams every record with seq greater than from, ascending. The
// ledger is append-only, so a replay from a subscriber's last-seen seq is
// exact: no gaps, no duplicates.
func (l *Log) Replay(ctx context.Context, db RowsQueryer, from int64) (*Cursor, error) {
	rows, err := db.Query(ctx, `
SELECT seq, reservation_id::text, op::text, created_at
FROM reservation_changes
WHERE seq > $1
ORDER BY seq`, from)
	if err != nil {
		return nil, fmt.Errorf("changelog: replay: %w", err)
	}
	return &Cursor{rows: rows}, nil
}

// Cursor streams change records lazily.
type Cursor struct {
	rows    pgx.Rows
	current Record
	err     error
	closed  bool
}

func (c *Cursor) Next() bool {
	if c.closed || c.err != nil {
		return false
	}
	if !c.rows.Next() {
		c.err = c.rows.Err()
		c.Close()
		return false
	}
	var rec Record
	var op string
	if err := c.rows.Scan(&rec.Seq, &rec.ReservationID, &op, &rec.CreatedAt); err != nil {
		c.err = err
		c.Close()
		return false
	}
	rec.Op = Op(op)
	c.current = rec
	return true
}

func (c *Cursor) Record() Record {
	return c.current
}

func (c *Cursor) Err() error {
	if c.err != nil {
		return fmt.Errorf("changelog: replay scan: %w", c.err)
	}
	return nil
}

func (c *Cursor) Close() {
	if c.closed {
		return
	}
	c.closed = true
	c.rows.Close()
}
