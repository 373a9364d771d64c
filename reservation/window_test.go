package reservation

import (
	"errors"
	"testing"
	"time"
)

func mustWindow(t *testing.T, start, end string) Window {
	t.Helper()
	s, err := time.Parse(time.RFC3339, start)
	if err != nil {
		t.Fatalf("parse start: %v", err)
	}
	e, err := time.Parse(time.RFC3339, end)
	if err != nil {
		t.Fatalf("parse end: %v", err)
	}
	w, err := NewWindow(s, e)
	if err != nil {
		t.Fatalf("new window: %v", err)
	}
	return w
}

func TestNewWindow_RejectsInvertedAndEmpty(t *testing.T) {
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	cases := []struct {
		name       string
		start, end time.Time
	}{
		{"zero start", time.Time{}, at},
		{"zero end", at, time.Time{}},
		{"equal endpoints", at, at},
		{"inverted", at.Add(time.Hour), at},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewWindow(tc.start, tc.end)
			var validation *ValidationError
			if !errors.As(err, &validation) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
		})
	}
}

func TestWindowOverlaps_ClosedOpenBoundary(t *testing.T) {
	morning := mustWindow(t, "2026-03-01T10:00:00Z", "2026-03-01T11:00:00Z")

	// Touching endpoints do not conflict.
	adjacent := mustWindow(t, "2026-03-01T11:00:00Z", "2026-03-01T12:00:00Z")
	if morning.Overlaps(adjacent) || adjacent.Overlaps(morning) {
		t.Fatalf("windows touching at an endpoint must not overlap")
	}

	overlapping := mustWindow(t, "2026-03-01T10:30:00Z", "2026-03-01T11:30:00Z")
	if !morning.Overlaps(overlapping) || !overlapping.Overlaps(morning) {
		t.Fatalf("intersecting windows must overlap symmetrically")
	}

	inside := mustWindow(t, "2026-03-01T10:15:00Z", "2026-03-01T10:45:00Z")
	if !morning.Overlaps(inside) {
		t.Fatalf("contained window must overlap")
	}

	disjoint := mustWindow(t, "2026-03-01T13:00:00Z", "2026-03-01T14:00:00Z")
	if morning.Overlaps(disjoint) {
		t.Fatalf("disjoint windows must not overlap")
	}
}

func TestWindowContains_Instant(t *testing.T) {
	w := mustWindow(t, "2026-03-01T10:00:00Z", "2026-03-01T11:00:00Z")

	if !w.Contains(w.Start) {
		t.Errorf("start instant is inside a half-open window")
	}
	if w.Contains(w.End) {
		t.Errorf("end instant is outside a half-open window")
	}
	if !w.Contains(w.Start.Add(30 * time.Minute)) {
		t.Errorf("midpoint must be inside")
	}
	if w.Contains(w.Start.Add(-time.Nanosecond)) {
		t.Errorf("instant before start must be outside")
	}
}

func TestWindowContainsWindow(t *testing.T) {
	outer := mustWindow(t, "2026-03-01T09:00:00Z", "2026-03-01T13:00:00Z")

	if !outer.ContainsWindow(outer) {
		t.Errorf("a window contains itself")
	}
	inner := mustWindow(t, "2026-03-01T10:00:00Z", "2026-03-01T11:00:00Z")
	if !outer.ContainsWindow(inner) {
		t.Errorf("strictly inner window must be contained")
	}
	straddling := mustWindow(t, "2026-03-01T12:00:00Z", "2026-03-01T14:00:00Z")
	if outer.ContainsWindow(straddling) {
		t.Errorf("straddling window must not be contained")
	}
}
