package reservation

import "time"

// Window is a half-open interval [Start, End). All predicates use closed-open
// semantics: a window ending exactly when another starts does not overlap it.
type Window struct {
	Start time.Time
	End   time.Time
}

// NewWindow validates and normalizes a window to UTC.
func NewWindow(start, end time.Time) (Window, error) {
	if start.IsZero() || end.IsZero() {
		return Window{}, &ValidationError{Field: "window", Reason: "start and end are required"}
	}
	if !start.Before(end) {
		return Window{}, &ValidationError{Field: "window", Reason: "start must be before end"}
	}
	return Window{Start: start.UTC(), End: end.UTC()}, nil
}

func (w Window) IsZero() bool {
	return w.Start.IsZero() && w.End.IsZero()
}

// Overlaps reports whether the two windows have a non-empty intersection.
func (w Window) Overlaps(other Window) bool {
	return w.Start.Before(other.End) && other.Start.Before(w.End)
}

// Contains reports whether the instant falls inside the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// ContainsWindow reports whether inner lies entirely within w.
func (w Window) ContainsWindow(inner Window) bool {
	return !inner.Start.Before(w.Start) && !w.End.Before(inner.End)
}
