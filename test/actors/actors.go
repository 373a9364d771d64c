package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"reserveflow/reservation"
)

var slotBase = time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

// randomWindow picks a half-hour-aligned slot inside a small band so that
// concurrent reservers collide often.
func randomWindow() reservation.Window {
	start := slotBase.Add(time.Duration(rand.Intn(48)) * 30 * time.Minute)
	duration := time.Duration(1+rand.Intn(3)) * 30 * time.Minute
	return reservation.Window{Start: start, End: start.Add(duration)}
}

// tolerable reports whether an error is an expected outcome under contention
// and chaos: conflicts, lost races on ids, and killed backends.
func tolerable(err error) bool {
	var (
		conflict   *reservation.ConflictError
		state      *reservation.InvalidStateError
		validation *reservation.ValidationError
	)
	if errors.As(err, &conflict) ||
		errors.As(err, &state) ||
		errors.As(err, &validation) ||
		errors.Is(err, reservation.ErrNotFound) ||
		errors.Is(err, reservation.ErrStoreUnavailable) ||
		errors.Is(err, pgx.ErrNoRows) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	// a chaos-terminated backend can surface as a dead connection mid-use
	msg := err.Error()
	return strings.Contains(msg, "conn closed") ||
		strings.Contains(msg, "unexpected EOF") ||
		strings.Contains(msg, "connection reset")
}

// Reserver hammers the same resources with overlapping windows; the exclusion
// constraint decides the winners.
func Reserver(ctx context.Context, svc *reservation.Service, resources, users []string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		_, err := svc.Reserve(ctx, reservation.CreateParams{
			ResourceID: resources[rand.Intn(len(resources))],
			UserID:     users[rand.Intn(len(users))],
			Window:     randomWindow(),
			Note:       fmt.Sprintf("stress %d", rand.Int63()),
		})
		if err != nil && !tolerable(err) {
			return fmt.Errorf("reserver: %w", err)
		}
		time.Sleep(time.Duration(5+rand.Intn(15)) * time.Millisecond)
	}
}

// Confirmer flips random pending reservations to confirmed; losing the race
// to another confirmer or canceller is expected.
func Confirmer(ctx context.Context, svc *reservation.Service, pool *pgxpool.Pool, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		var id string
		err := pool.QueryRow(ctx, `SELECT id::text FROM reservations WHERE status='pending' ORDER BY random() LIMIT 1`).Scan(&id)
		if err == nil {
			_, err = svc.Confirm(ctx, id)
		}
		if err != nil && !tolerable(err) {
			return fmt.Errorf("confirmer: %w", err)
		}
		time.Sleep(time.Duration(10+rand.Intn(30)) * time.Millisecond)
	}
}

// Canceller frees random active reservations so reservers can rebook them.
func Canceller(ctx context.Context, svc *reservation.Service, pool *pgxpool.Pool, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		var id string
		err := pool.QueryRow(ctx, `SELECT id::text FROM reservations WHERE status <> 'cancelled' ORDER BY random() LIMIT 1`).Scan(&id)
		if err == nil {
			_, err = svc.Cancel(ctx, id)
		}
		if err != nil && !tolerable(err) {
			return fmt.Errorf("canceller: %w", err)
		}
		time.Sleep(time.Duration(40+rand.Intn(80)) * time.Millisecond)
	}
}

// NoteEditor rewrites notes; note updates must never show up in the ledger,
// which the oracles verify by change-count accounting.
func NoteEditor(ctx context.Context, svc *reservation.Service, pool *pgxpool.Pool, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		var id string
		err := pool.QueryRow(ctx, `SELECT id::text FROM reservations ORDER BY random() LIMIT 1`).Scan(&id)
		if err == nil {
			_, err = svc.UpdateNote(ctx, id, fmt.Sprintf("edited %d", rand.Int63()))
		}
		if err != nil && !tolerable(err) {
			return fmt.Errorf("note editor: %w", err)
		}
		time.Sleep(time.Duration(25+rand.Intn(50)) * time.Millisecond)
	}
}

// Replayer consumes the change stream the way a subscriber would: replay from
// the last-seen seq and require strictly increasing sequence ids with no
// duplicates across replays.
func Replayer(ctx context.Context, svc *reservation.Service, stop <-chan struct{}) error {
	var lastSeen int64
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		cur, err := svc.Replay(ctx, lastSeen)
		if err != nil {
			if tolerable(err) {
				time.Sleep(100 * time.Millisecond)
				continue
			}
			return fmt.Errorf("replayer: %w", err)
		}
		prev := lastSeen
		for cur.Next() {
			rec := cur.Record()
			if rec.Seq <= prev {
				cur.Close()
				return fmt.Errorf("replayer: seq %d not after %d", rec.Seq, prev)
			}
			prev = rec.Seq
		}
		err = cur.Err()
		cur.Close()
		if err != nil && !tolerable(err) {
			return fmt.Errorf("replayer: %w", err)
		}
		if err == nil {
			lastSeen = prev
		}
		time.Sleep(50 * time.Millisecond)
	}
}
