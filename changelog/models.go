// Package changelog owns the append-only ledger of reservation lifecycle
// events and the post-commit notification fan-out built on Postgres
// LISTEN/NOTIFY.
package changelog

import "time"

// Op is the kind of mutation a change record describes.
type Op string

const (
	OpUnknown Op = "unknown"
	OpCreate  Op = "create"
	OpUpdate  Op = "update"
	OpDelete  Op = "delete"
)

// Record is one ledger entry. Records are only ever appended; seq values form
// a total order consistent with commit order.
type Record struct {
	Seq           int64
	ReservationID string
	Op            Op
	CreatedAt     time.Time
}

// Signal is the wake-up hint delivered to subscribers after a commit. It
// carries the newest sequence id the subscriber should catch up to; the
// records themselves come from Replay.
type Signal struct {
	MaxSeq int64
}
