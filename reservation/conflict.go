package reservation

import (
	"regexp"
	"time"
)

// The exclusion-violation DETAIL emitted by Postgres looks like:
//
//	Key (resource_id, timespan)=(room-713, ["2022-12-26 22:00:00+00","2022-12-30 19:00:00+00"))
//	conflicts with existing key (resource_id, timespan)=(room-713, ["2022-12-25 22:00:00+00","2022-12-28 19:00:00+00")).
//
// The first key is the rejected insert, the second the existing row.
var conflictDetailRe = regexp.MustCompile(`\(resource_id, timespan\)=\(([^,]+), \["([^"]+)","([^"]+)"\)\)`)

const conflictTimeLayout = "2006-01-02 15:04:05-07"

// parseConflictDetail extracts both windows from the exclusion-violation
// detail message. A ConflictError is returned either way; ok reports whether
// the structured fields could be filled.
func parseConflictDetail(detail string) (*ConflictError, bool) {
	matches := conflictDetailRe.FindAllStringSubmatch(detail, -1)
	if len(matches) != 2 {
		return &ConflictError{Detail: detail}, false
	}

	requested, ok := parseConflictWindow(matches[0])
	if !ok {
		return &ConflictError{Detail: detail}, false
	}
	existing, ok := parseConflictWindow(matches[1])
	if !ok {
		return &ConflictError{Detail: detail}, false
	}

	return &ConflictError{Requested: requested, Existing: existing}, true
}

func parseConflictWindow(match []string) (ConflictWindow, bool) {
	start, err := time.Parse(conflictTimeLayout, match[2])
	if err != nil {
		return ConflictWindow{}, false
	}
	end, err := time.Parse(conflictTimeLayout, match[3])
	if err != nil {
		return ConflictWindow{}, false
	}
	return ConflictWindow{
		ResourceID: match[1],
		Window:     Window{Start: start.UTC(), End: end.UTC()},
	}, true
}
