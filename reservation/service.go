package reservation

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"reserveflow/changelog"
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

// Store defines the data access the service composes per operation.
type Store interface {
	Create(ctx context.Context, tx pgx.Tx, params CreateParams) (Reservation, error)
	Confirm(ctx context.Context, tx pgx.Tx, id string) (Reservation, error)
	Cancel(ctx context.Context, tx pgx.Tx, id string) (Reservation, error)
	UpdateNote(ctx context.Context, tx pgx.Tx, id, note string) (Reservation, error)
	Get(ctx context.Context, db RowQueryer, id string) (Reservation, error)
	FindConflictingID(ctx context.Context, db RowQueryer, params CreateParams) (string, error)
	Query(ctx context.Context, tx pgx.Tx, f QueryFilter) (*Cursor, error)
}

// ChangeAppender records a lifecycle event inside the operation's transaction.
type ChangeAppender interface {
	Append(ctx context.Context, tx pgx.Tx, reservationID string, op changelog.Op) (int64, error)
}

// Service is the reservation lifecycle manager. Every mutating operation runs
// store write and change-log append in one transaction; the post-commit
// subscriber wake-up rides on the database's notification delivery, so a
// rolled-back operation is never partially visible anywhere.
type Service struct {
	pool     TxBeginner
	db       RowQueryer
	repo     Store
	changes  ChangeAppender
	log      *changelog.Log
	notifier *changelog.Notifier
}

// NewService wires the service. In production pool is a *pgxpool.Pool, which
// also serves reads; repo and changes may be nil to use the defaults.
func NewService(pool TxBeginner, repo Store, changes ChangeAppender) *Service {
	log := changelog.NewLog()
	if repo == nil {
		repo = NewRepository()
	}
	if changes == nil {
		changes = log
	}
	s := &Service{
		pool:    pool,
		repo:    repo,
		changes: changes,
		log:     log,
	}
	if q, ok := pool.(RowQueryer); ok {
		s.db = q
	}
	return s
}

// WithNotifier attaches the subscription hub exposed via Subscribe.
func (s *Service) WithNotifier(n *changelog.Notifier) *Service {
	s.notifier = n
	return s
}

// Reserve creates a reservation, or reports the conflicting reservation when
// the window overlaps an active one on the same resource.
func (s *Service) Reserve(ctx context.Context, params CreateParams) (Reservation, error) {
	var rsvp Reservation
	err := s.mutate(ctx, changelog.OpCreate, func(ctx context.Context, tx pgx.Tx) (string, error) {
		var err error
		rsvp, err = s.repo.Create(ctx, tx, params)
		return rsvp.ID, err
	})
	if err != nil {
		var conflict *ConflictError
		if errors.As(err, &conflict) && s.db != nil {
			if id, lookupErr := s.repo.FindConflictingID(ctx, s.db, params); lookupErr == nil {
				conflict.ConflictingID = id
			}
		}
		return Reservation{}, err
	}
	return rsvp, nil
}

// Confirm transitions a pending reservation to confirmed.
func (s *Service) Confirm(ctx context.Context, id string) (Reservation, error) {
	var rsvp Reservation
	err := s.mutate(ctx, changelog.OpUpdate, func(ctx context.Context, tx pgx.Tx) (string, error) {
		var err error
		rsvp, err = s.repo.Confirm(ctx, tx, id)
		return id, err
	})
	if err != nil {
		return Reservation{}, err
	}
	return rsvp, nil
}

// Cancel logically deletes a reservation; the record stays resolvable and a
// delete change record is appended for audit.
func (s *Service) Cancel(ctx context.Context, id string) (Reservation, error) {
	var rsvp Reservation
	err := s.mutate(ctx, changelog.OpDelete, func(ctx context.Context, tx pgx.Tx) (string, error) {
		var err error
		rsvp, err = s.repo.Cancel(ctx, tx, id)
		return id, err
	})
	if err != nil {
		return Reservation{}, err
	}
	return rsvp, nil
}

// UpdateNote replaces the note. Not recorded in the change log.
func (s *Service) UpdateNote(ctx context.Context, id, note string) (Reservation, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Reservation{}, wrapStoreErr("begin tx", err)
	}
	defer tx.Rollback(ctx)

	rsvp, err := s.repo.UpdateNote(ctx, tx, id, note)
	if err != nil {
		return Reservation{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Reservation{}, wrapStoreErr("commit", err)
	}
	return rsvp, nil
}

// Get resolves a reservation by id, cancelled ones included.
func (s *Service) Get(ctx context.Context, id string) (Reservation, error) {
	return s.repo.Get(ctx, s.db, id)
}

// Query opens a snapshot-isolated streaming cursor; see Repository.Query for
// the filter semantics. The caller owns the cursor and must Close it.
func (s *Service) Query(ctx context.Context, f QueryFilter) (*Cursor, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.RepeatableRead,
		AccessMode: pgx.ReadOnly,
	})
	if err != nil {
		return nil, wrapStoreErr("begin query tx", err)
	}
	return s.repo.Query(ctx, tx, f)
}

// Replay streams change records after the given sequence id for subscriber
// catch-up.
func (s *Service) Replay(ctx context.Context, from int64) (*changelog.Cursor, error) {
	db, ok := s.db.(changelog.RowsQueryer)
	if !ok {
		return nil, fmt.Errorf("reservation: replay unsupported by this store")
	}
	return s.log.Replay(ctx, db, from)
}

// Subscribe registers for post-commit change signals.
func (s *Service) Subscribe() *changelog.Subscription {
	if s.notifier == nil {
		return nil
	}
	return s.notifier.Subscribe()
}

// mutate runs one lifecycle mutation: begin, store write, change-log append,
// commit. Failures roll back and produce neither a change record nor a
// notification.
func (s *Service) mutate(ctx context.Context, op changelog.Op, fn func(ctx context.Context, tx pgx.Tx) (string, error)) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return wrapStoreErr("begin tx", err)
	}
	defer tx.Rollback(ctx)

	id, err := fn(ctx, tx)
	if err != nil {
		return err
	}

	if _, err := s.changes.Append(ctx, tx, id, op); err != nil {
		return wrapStoreErr("append change", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return wrapStoreErr("commit", err)
	}
	return nil
}
