package reservation

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"reserveflow/changelog"
)

// TestReservationLifecycle_Integration connects to a real PostgreSQL via
// DATABASE_URL and verifies the store, query engine and change log end to end.
func TestReservationLifecycle_Integration(t *testing.T) {
	svc, pool, ctx := setupIntegration(t)

	resource := fmt.Sprintf("room-%d", time.Now().UnixNano())
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	at := func(h, m int) time.Time { return day.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute) }

	first, err := svc.Reserve(ctx, CreateParams{
		ResourceID: resource,
		UserID:     "alice",
		Window:     Window{Start: at(10, 0), End: at(11, 0)},
		Note:       "kickoff",
	})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if first.Status != StatusPending {
		t.Fatalf("new reservation status = %s, want pending", first.Status)
	}

	// Touching endpoints do not conflict.
	second, err := svc.Reserve(ctx, CreateParams{
		ResourceID: resource,
		UserID:     "bob",
		Window:     Window{Start: at(11, 0), End: at(12, 0)},
	})
	if err != nil {
		t.Fatalf("adjacent reserve should succeed: %v", err)
	}

	// Overlap is rejected and identifies the offending reservation.
	_, err = svc.Reserve(ctx, CreateParams{
		ResourceID: resource,
		UserID:     "carol",
		Window:     Window{Start: at(10, 30), End: at(11, 30)},
	})
	var conflict *ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
	if conflict.ConflictingID != first.ID {
		t.Fatalf("conflicting id = %q, want %q", conflict.ConflictingID, first.ID)
	}
	if conflict.Existing.ResourceID != resource {
		t.Errorf("conflict existing resource = %q", conflict.Existing.ResourceID)
	}

	// Pending -> confirmed, then confirm again is an invalid transition.
	confirmed, err := svc.Confirm(ctx, first.ID)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if confirmed.Status != StatusConfirmed {
		t.Fatalf("status after confirm = %s", confirmed.Status)
	}
	var state *InvalidStateError
	if _, err := svc.Confirm(ctx, first.ID); !errors.As(err, &state) {
		t.Fatalf("double confirm: expected InvalidStateError, got %v", err)
	}

	// Note updates are visible and do not touch the change log.
	beforeNotes := maxSeq(t, ctx, pool)
	noted, err := svc.UpdateNote(ctx, first.ID, "kickoff (moved rooms)")
	if err != nil {
		t.Fatalf("update note: %v", err)
	}
	if noted.Note != "kickoff (moved rooms)" {
		t.Fatalf("note = %q", noted.Note)
	}
	if got := maxSeq(t, ctx, pool); got != beforeNotes {
		t.Fatalf("note update wrote change records: %d -> %d", beforeNotes, got)
	}

	// Cancel frees the window for rebooking and stays resolvable via Get.
	if _, err := svc.Cancel(ctx, second.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	got, err := svc.Get(ctx, second.ID)
	if err != nil {
		t.Fatalf("get after cancel: %v", err)
	}
	if got.Status != StatusCancelled {
		t.Fatalf("status after cancel = %s", got.Status)
	}
	if _, err := svc.Cancel(ctx, second.ID); !errors.As(err, &state) {
		t.Fatalf("cancel of cancelled: expected InvalidStateError, got %v", err)
	}
	rebooked, err := svc.Reserve(ctx, CreateParams{
		ResourceID: resource,
		UserID:     "dave",
		Window:     Window{Start: at(11, 0), End: at(12, 0)},
	})
	if err != nil {
		t.Fatalf("rebooking a cancelled window should succeed: %v", err)
	}
	// Confirming the cancelled one is still invalid.
	if _, err := svc.Confirm(ctx, second.ID); !errors.As(err, &state) {
		t.Fatalf("confirm of cancelled: expected InvalidStateError, got %v", err)
	}
	_ = rebooked
}

func TestQueryEngine_Integration(t *testing.T) {
	svc, _, ctx := setupIntegration(t)

	resource := fmt.Sprintf("court-%d", time.Now().UnixNano())
	day := time.Date(2026, 4, 6, 0, 0, 0, 0, time.UTC)
	at := func(h int) time.Time { return day.Add(time.Duration(h) * time.Hour) }

	reserve := func(user string, startH, endH int) Reservation {
		t.Helper()
		rsvp, err := svc.Reserve(ctx, CreateParams{
			ResourceID: resource,
			UserID:     user,
			Window:     Window{Start: at(startH), End: at(endH)},
		})
		if err != nil {
			t.Fatalf("reserve %s %d-%d: %v", user, startH, endH, err)
		}
		return rsvp
	}

	early := reserve("alice", 7, 8)     // ends before the query window
	morning := reserve("bob", 9, 10)    //
	midday := reserve("alice", 11, 12)  //
	late := reserve("carol", 13, 14)    // starts at the query window's end
	cancelled := reserve("dave", 10, 11)
	if _, err := svc.Cancel(ctx, cancelled.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	collect := func(f QueryFilter) []string {
		t.Helper()
		cur, err := svc.Query(ctx, f)
		if err != nil {
			t.Fatalf("query: %v", err)
		}
		defer cur.Close()
		var ids []string
		for cur.Next() {
			ids = append(ids, cur.Reservation().ID)
		}
		if err := cur.Err(); err != nil {
			t.Fatalf("cursor: %v", err)
		}
		return ids
	}

	// Window filter: [09:00, 13:00) excludes early (ends 08:00) and late
	// (starts 13:00); the cancelled 10-11 slot never shows. Order is by start.
	ids := collect(QueryFilter{
		ResourceID: resource,
		Window:     Window{Start: at(9), End: at(13)},
	})
	want := []string{morning.ID, midday.ID}
	if len(ids) != len(want) || ids[0] != want[0] || ids[1] != want[1] {
		t.Fatalf("windowed query = %v, want %v", ids, want)
	}

	// By user across the whole day.
	ids = collect(QueryFilter{ResourceID: resource, UserID: "alice"})
	if len(ids) != 2 || ids[0] != early.ID || ids[1] != midday.ID {
		t.Fatalf("user query = %v, want [%s %s]", ids, early.ID, midday.ID)
	}

	// Cancelled rows only when asked for explicitly.
	ids = collect(QueryFilter{ResourceID: resource, Status: StatusCancelled})
	if len(ids) != 1 || ids[0] != cancelled.ID {
		t.Fatalf("cancelled query = %v, want [%s]", ids, cancelled.ID)
	}

	// Resource-only query sees every active reservation, ordered by start.
	ids = collect(QueryFilter{ResourceID: resource})
	if len(ids) != 4 || ids[0] != early.ID || ids[3] != late.ID {
		t.Fatalf("resource query = %v", ids)
	}
}

func TestChangeLog_Integration(t *testing.T) {
	svc, pool, ctx := setupIntegration(t)

	resource := fmt.Sprintf("bay-%d", time.Now().UnixNano())
	start := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

	from := maxSeq(t, ctx, pool)

	rsvp, err := svc.Reserve(ctx, CreateParams{
		ResourceID: resource,
		UserID:     "erin",
		Window:     Window{Start: start, End: start.Add(time.Hour)},
	})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if _, err := svc.Confirm(ctx, rsvp.ID); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if _, err := svc.Cancel(ctx, rsvp.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	cur, err := svc.Replay(ctx, from)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	defer cur.Close()

	var records []changelog.Record
	for cur.Next() {
		rec := cur.Record()
		if rec.ReservationID == rsvp.ID {
			records = append(records, rec)
		}
	}
	if err := cur.Err(); err != nil {
		t.Fatalf("replay cursor: %v", err)
	}

	wantOps := []changelog.Op{changelog.OpCreate, changelog.OpUpdate, changelog.OpDelete}
	if len(records) != len(wantOps) {
		t.Fatalf("replay returned %d records for the reservation, want %d", len(records), len(wantOps))
	}
	for i, rec := range records {
		if rec.Op != wantOps[i] {
			t.Errorf("record %d op = %s, want %s", i, rec.Op, wantOps[i])
		}
		if i > 0 && rec.Seq <= records[i-1].Seq {
			t.Errorf("seq not strictly increasing: %d after %d", rec.Seq, records[i-1].Seq)
		}
	}

	// Replaying from the last-seen seq yields nothing new.
	cur2, err := svc.Replay(ctx, records[len(records)-1].Seq)
	if err != nil {
		t.Fatalf("replay catch-up: %v", err)
	}
	defer cur2.Close()
	for cur2.Next() {
		if cur2.Record().ReservationID == rsvp.ID {
			t.Fatalf("catch-up replay duplicated record %d", cur2.Record().Seq)
		}
	}
}

func setupIntegration(t *testing.T) (*Service, *pgxpool.Pool, context.Context) {
	t.Helper()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL is empty; set it to a live PostgreSQL to run integration tests")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect pool: %v", err)
	}
	t.Cleanup(pool.Close)

	if !tableExists(ctx, t, pool, "reservations") || !tableExists(ctx, t, pool, "reservation_changes") {
		t.Skip("schema missing; apply the files under migrations/ first")
	}

	return NewService(pool, nil, nil), pool, ctx
}

func tableExists(ctx context.Context, t *testing.T, pool *pgxpool.Pool, name string) bool {
	t.Helper()
	var exists bool
	err := pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = $1)`, name).Scan(&exists)
	if err != nil {
		t.Fatalf("check table %s: %v", name, err)
	}
	return exists
}

func maxSeq(t *testing.T, ctx context.Context, pool *pgxpool.Pool) int64 {
	t.Helper()
	var seq int64
	if err := pool.QueryRow(ctx, `SELECT COALESCE(MAX(seq), 0) FROM reservation_changes`).Scan(&seq); err != nil {
		t.Fatalf("max seq: %v", err)
	}
	return seq
}
