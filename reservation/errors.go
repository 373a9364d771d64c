package reservation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNotFound is returned when no reservation exists for the given id.
	ErrNotFound = errors.New("reservation: not found")
	// ErrStoreUnavailable wraps transient infrastructure failures; the whole
	// operation is safe to retry at the transaction boundary.
	ErrStoreUnavailable = errors.New("reservation: store unavailable")
)

// ValidationError reports caller input the store refuses to touch.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("reservation: invalid %s: %s", e.Field, e.Reason)
}

// InvalidStateError reports an illegal lifecycle transition. State is left
// unchanged.
type InvalidStateError struct {
	ID   string
	From Status
	To   Status
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("reservation %s: invalid transition %s -> %s", e.ID, e.From, e.To)
}

// ConflictError reports an overlapping active window on the same resource.
// ConflictingID identifies the existing reservation when it could be resolved.
type ConflictError struct {
	ConflictingID string
	Requested     ConflictWindow
	Existing      ConflictWindow
	// Detail carries the raw database detail when structured parsing failed.
	Detail string
}

// ConflictWindow is one side of an exclusion violation.
type ConflictWindow struct {
	ResourceID string
	Window     Window
}

func (e *ConflictError) Error() string {
	if e.ConflictingID != "" {
		return fmt.Sprintf("reservation: window conflicts with reservation %s on resource %s", e.ConflictingID, e.Existing.ResourceID)
	}
	if e.Existing.ResourceID != "" {
		return fmt.Sprintf("reservation: window conflicts with an existing reservation on resource %s", e.Existing.ResourceID)
	}
	return "reservation: window conflicts with an existing reservation"
}

// wrapStoreErr classifies driver failures. Connection-level and resource
// SQLSTATE classes become ErrStoreUnavailable so the transport layer can
// retry; everything else is wrapped as-is.
func wrapStoreErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		class := ""
		if len(pgErr.Code) >= 2 {
			class = pgErr.Code[:2]
		}
		switch {
		case class == "08" || class == "53" || class == "57":
			return fmt.Errorf("reservation: %s: %w: %s", op, ErrStoreUnavailable, pgErr.Message)
		}
	}
	if pgconn.Timeout(err) {
		return fmt.Errorf("reservation: %s: %w: %v", op, ErrStoreUnavailable, err)
	}
	if isDialError(err) {
		return fmt.Errorf("reservation: %s: %w: %v", op, ErrStoreUnavailable, err)
	}
	return fmt.Errorf("reservation: %s: %w", op, err)
}

func isDialError(err error) bool {
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}
	// pgxpool surfaces closed-pool use as a plain error string.
	return strings.Contains(err.Error(), "closed pool")
}
