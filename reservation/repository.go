package reservation

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// RowQueryer is the read surface shared by pgxpool.Pool and pgx.Tx.
type RowQueryer interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const reservationColumns = `id::text, resource_id, user_id, status::text, lower(timespan), upper(timespan), note, created_at, updated_at`

// Repository owns all SQL against the reservations table. Mutations take the
// caller's transaction so the change-log append commits atomically with them;
// the exclusion constraint on (resource_id, timespan) is the atomic
// check-and-insert that makes concurrent overlapping creates serialize.
type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

// Create inserts a reservation. An exclusion violation maps to ConflictError
// with both windows parsed from the database detail; the conflicting row id is
// resolved by the caller after rollback, since the transaction is aborted.
func (r *Repository) Create(ctx context.Context, tx pgx.Tx, params CreateParams) (Reservation, error) {
	if err := params.validate(); err != nil {
		return Reservation{}, err
	}

	const insertSQL = `
INSERT INTO reservations (resource_id, user_id, status, timespan, note)
VALUES ($1, $2, $3::reservation_status, tstzrange($4, $5, '[)'), $6)
RETURNING ` + reservationColumns

	rsvp, err := scanReservation(tx.QueryRow(ctx, insertSQL,
		params.ResourceID,
		params.UserID,
		string(params.Status),
		params.Window.Start,
		params.Window.End,
		params.Note,
	))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23P01" && pgErr.ConstraintName == "reservations_no_overlap" {
			conflict, _ := parseConflictDetail(pgErr.Detail)
			return Reservation{}, conflict
		}
		return Reservation{}, wrapStoreErr("create", err)
	}
	return rsvp, nil
}

// Confirm moves a pending reservation to confirmed. The row is locked before
// the transition is validated so concurrent confirms serialize.
func (r *Repository) Confirm(ctx context.Context, tx pgx.Tx, id string) (Reservation, error) {
	current, err := lockStatus(ctx, tx, id)
	if err != nil {
		return Reservation{}, err
	}
	if current != StatusPending {
		return Reservation{}, &InvalidStateError{ID: id, From: current, To: StatusConfirmed}
	}

	const updateSQL = `
UPDATE reservations
SET status = 'confirmed', updated_at = now()
WHERE id = $1::uuid
RETURNING ` + reservationColumns

	rsvp, err := scanReservation(tx.QueryRow(ctx, updateSQL, id))
	if err != nil {
		return Reservation{}, wrapStoreErr("confirm", err)
	}
	return rsvp, nil
}

// Cancel is a logical delete: the status becomes the terminal cancelled
// marker, the exclusion constraint stops considering the row, and the record
// stays resolvable via Get for audit.
func (r *Repository) Cancel(ctx context.Context, tx pgx.Tx, id string) (Reservation, error) {
	current, err := lockStatus(ctx, tx, id)
	if err != nil {
		return Reservation{}, err
	}
	if current.Terminal() {
		return Reservation{}, &InvalidStateError{ID: id, From: current, To: StatusCancelled}
	}

	const updateSQL = `
UPDATE reservations
SET status = 'cancelled', updated_at = now()
WHERE id = $1::uuid
RETURNING ` + reservationColumns

	rsvp, err := scanReservation(tx.QueryRow(ctx, updateSQL, id))
	if err != nil {
		return Reservation{}, wrapStoreErr("cancel", err)
	}
	return rsvp, nil
}

// UpdateNote replaces the free-text note. Note-only updates are not part of
// the change stream.
func (r *Repository) UpdateNote(ctx context.Context, tx pgx.Tx, id, note string) (Reservation, error) {
	if err := validateID(id); err != nil {
		return Reservation{}, err
	}

	const updateSQL = `
UPDATE reservations
SET note = $2, updated_at = now()
WHERE id = $1::uuid
RETURNING ` + reservationColumns

	rsvp, err := scanReservation(tx.QueryRow(ctx, updateSQL, id, note))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Reservation{}, ErrNotFound
		}
		return Reservation{}, wrapStoreErr("update note", err)
	}
	return rsvp, nil
}

// Get resolves a reservation by id, cancelled rows included.
func (r *Repository) Get(ctx context.Context, db RowQueryer, id string) (Reservation, error) {
	if err := validateID(id); err != nil {
		return Reservation{}, err
	}

	const getSQL = `SELECT ` + reservationColumns + ` FROM reservations WHERE id = $1::uuid`

	rsvp, err := scanReservation(db.QueryRow(ctx, getSQL, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Reservation{}, ErrNotFound
		}
		return Reservation{}, wrapStoreErr("get", err)
	}
	return rsvp, nil
}

// FindConflictingID looks up the active reservation whose window overlaps the
// requested one. Used after a Create rolled back on the exclusion constraint.
func (r *Repository) FindConflictingID(ctx context.Context, db RowQueryer, params CreateParams) (string, error) {
	const findSQL = `
SELECT id::text FROM reservations
WHERE resource_id = $1
  AND timespan && tstzrange($2, $3, '[)')
  AND status <> 'cancelled'
ORDER BY lower(timespan)
LIMIT 1`

	var id string
	err := db.QueryRow(ctx, findSQL, params.ResourceID, params.Window.Start, params.Window.End).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", wrapStoreErr("find conflicting", err)
	}
	return id, nil
}

func lockStatus(ctx context.Context, tx pgx.Tx, id string) (Status, error) {
	if err := validateID(id); err != nil {
		return StatusUnknown, err
	}

	var current string
	err := tx.QueryRow(ctx, `SELECT status::text FROM reservations WHERE id = $1::uuid FOR UPDATE`, id).Scan(&current)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return StatusUnknown, ErrNotFound
		}
		return StatusUnknown, wrapStoreErr("lock row", err)
	}
	return Status(current), nil
}

func validateID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return &ValidationError{Field: "id", Reason: fmt.Sprintf("%q is not a valid reservation id", id)}
	}
	return nil
}

func scanReservation(row pgx.Row) (Reservation, error) {
	var rsvp Reservation
	err := row.Scan(
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
