package reservation

import "time"

// Status is the lifecycle state of a reservation as persisted.
type Status string

const (
	StatusUnknown   Status = "unknown"
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusBlocked   Status = "blocked"
	// StatusCancelled is the terminal marker set by Cancel. It is never a
	// creatable status and cancelled rows leave conflict consideration.
	StatusCancelled Status = "cancelled"
)

// Creatable reports whether a caller may ask for this status at reserve time.
func (s Status) Creatable() bool {
	return s == StatusPending || s == StatusBlocked
}

func (s Status) Terminal() bool {
	return s == StatusCancelled
}

// Reservation mirrors the reservations table columns.
type Reservation struct {
	ID         string
	ResourceID string
	UserID     string
	Status     Status
	Window     Window
	Note       string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// CreateParams enumerates the fields required to insert a new reservation.
type CreateParams struct {
	ResourceID string
	UserID     string
	Window     Window
	Note       string
	// Status defaults to pending. Blocked is allowed for resource-owner holds.
	Status Status
}

func (p *CreateParams) validate() error {
	if p.ResourceID == "" {
		return &ValidationError{Field: "resource_id", Reason: "required"}
	}
	if p.UserID == "" {
		return &ValidationError{Field: "user_id", Reason: "required"}
	}
	if _, err := NewWindow(p.Window.Start, p.Window.End); err != nil {
		return err
	}
	if p.Status == "" || p.Status == StatusUnknown {
		p.Status = StatusPending
	}
	if !p.Status.Creatable() {
		return &ValidationError{Field: "status", Reason: "must be pending or blocked"}
	}
	return nil
}

// QueryFilter narrows a reservation query. Zero values mean "no restriction";
// an empty Status matches every non-cancelled reservation.
type QueryFilter struct {
	ResourceID string
	UserID     string
	Status     Status
	Window     Window
}
