package changelog

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Notifier fans commit notifications out to in-process subscribers. Delivery
// is at-least-once and coalescing: each subscriber's channel holds the newest
// max seq, a slow subscriber never blocks the hub, and consumers are expected
// to Replay from their last-seen seq on every wake-up.
type Notifier struct {
	logger *zap.Logger

	mu     sync.Mutex
	subs   map[int64]chan Signal
	nextID int64
}

func NewNotifier(logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{
		logger: logger,
		subs:   make(map[int64]chan Signal),
	}
}

// Subscription receives signals emitted after Subscribe was called.
type Subscription struct {
	C <-chan Signal

	id  int64
	hub *Notifier
}

// Close detaches the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.hub.unsubscribe(s.id)
}

func (n *Notifier) Subscribe() *Subscription {
	ch := make(chan Signal, 1)
	n.mu.Lock()
	n.nextID++
	id := n.nextID
	n.subs[id] = ch
	n.mu.Unlock()
	return &Subscription{C: ch, id: id, hub: n}
}

func (n *Notifier) unsubscribe(id int64) {
	n.mu.Lock()
	delete(n.subs, id)
	n.mu.Unlock()
}

// Publish delivers the signal to every current subscriber without blocking:
// if a subscriber has not drained the previous signal it is replaced by the
// newer one.
func (n *Notifier) Publish(sig Signal) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, ch := range n.subs {
		for {
			select {
			case ch <- sig:
			default:
				select {
				case <-ch:
				default:
				}
				continue
			}
			break
		}
	}
}

// Listen holds a dedicated connection on the notification channel and
// publishes every payload it receives. It blocks until ctx is done,
// reconnecting with backoff on connection loss; signals missed during a
// reconnect are recovered by subscribers replaying the ledger.
func (n *Notifier) Listen(ctx context.Context, pool *pgxpool.Pool) error {
	const backoff = time.Second

	for {
		if err := n.listenOnce(ctx, pool); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			n.logger.Warn("changelog listener disconnected", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
}

func (n *Notifier) listenOnce(ctx context.Context, pool *pgxpool.Pool) error {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+Channel); err != nil {
		return err
	}
	n.logger.Info("changelog listener attached", zap.String("channel", Channel))

	for {
		notification, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		seq, err := strconv.ParseInt(notification.Payload, 10, 64)
		if err != nil {
			n.logger.Warn("ignoring malformed change notification",
				zap.String("payload", notification.Payload))
			continue
		}
		n.Publish(Signal{MaxSeq: seq})
	}
}
