// ABOUTME: In-memory fan-out of handled exchanges for live debug streams
// ABOUTME: Subscribers follow one user identifier or every user

package conversation

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/2389/rollcall-gateway/internal/store"
)

const (
	// subscriberBufferSize is the channel buffer for each subscriber.
	subscriberBufferSize = 64

	// AllUsers subscribes to exchanges from every user.
	AllUsers = ""
)

// Broadcaster provides in-memory pub/sub for handled exchanges. It never
// blocks the message path: a full subscriber simply misses events.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan *store.Exchange // userID -> subID -> ch
	logger      *slog.Logger
}

// NewBroadcaster creates a broadcaster. Pass nil logger for default.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subscribers: make(map[string]map[string]chan *store.Exchange),
		logger:      logger.With("component", "broadcaster"),
	}
}

// Subscribe registers for exchanges of userID, or of every user when userID
// is AllUsers. The subscription ends when ctx is cancelled.
func (b *Broadcaster) Subscribe(ctx context.Context, userID string) (<-chan *store.Exchange, string) {
	subID := uuid.New().String()
	ch := make(chan *store.Exchange, subscriberBufferSize)

	b.mu.Lock()
	if _, ok := b.subscribers[userID]; !ok {
		b.subscribers[userID] = make(map[string]chan *store.Exchange)
	}
	b.subscribers[userID][subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "user_id", userID, "sub_id", subID)

	go func() {
		<-ctx.Done()
		b.Unsubscribe(userID, subID)
	}()

	return ch, subID
}

// Publish delivers e to the subscribers of its user and to AllUsers subscribers.
func (b *Broadcaster) Publish(e *store.Exchange) {
	// Sends happen under the read lock so Unsubscribe cannot close a
	// channel mid-send. They never block.
	b.mu.RLock()
	defer b.mu.RUnlock()

	b.deliver(b.subscribers[e.UserID], e)
	if e.UserID != AllUsers {
		b.deliver(b.subscribers[AllUsers], e)
	}
}

func (b *Broadcaster) deliver(subs map[string]chan *store.Exchange, e *store.Exchange) {
	for subID, ch := range subs {
		select {
		case ch <- e:
		default:
			b.logger.Debug("dropped exchange for slow subscriber", "sub_id", subID, "exchange_id", e.ID)
		}
	}
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(userID, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[userID]
	if !ok {
		return
	}
	ch, exists := subs[subID]
	if !exists {
		return
	}

	delete(subs, subID)
	close(ch)
	if len(subs) == 0 {
		delete(b.subscribers, userID)
	}

	b.logger.Debug("subscriber removed", "user_id", userID, "sub_id", subID)
}

// Subscribers returns the number of open subscriptions.
func (b *Broadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for _, subs := range b.subscribers {
		n += len(subs)
	}
	return n
}

// Close closes every subscriber channel.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for userID, subs := range b.subscribers {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
		}
		delete(b.subscribers, userID)
	}
	b.logger.Debug("broadcaster closed")
}
