package automation

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/browzerlabs/browzer-engine/api/schemas"
)

// Hub fans session notifications out to per-session subscribers.
// Publish blocks while a subscriber buffer is full, so delivery to a live
// subscriber is ordered and lossless.
type Hub struct {
	logger     *zap.Logger
	bufferSize int

	mu          sync.RWMutex
	subscribers map[string][]*subscriber
	isShutdown  bool
}

type subscriber struct {
	ch   chan schemas.Notification
	gone chan struct{}

	// sendMu serializes sends with the close of ch.
	sendMu sync.Mutex
	once   sync.Once
}

// send blocks until n is buffered, the subscriber leaves, or ctx ends.
func (s *subscriber) send(ctx context.Context, n schemas.Notification) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	select {
	case <-s.gone:
		return nil
	default:
	}
	select {
	case s.ch <- n:
	case <-s.gone:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// close releases a blocked sender first, then closes ch. Buffered
// notifications stay readable.
func (s *subscriber) close() {
	s.once.Do(func() {
		close(s.gone)
		s.sendMu.Lock()
		close(s.ch)
		s.sendMu.Unlock()
	})
}

// NewHub creates a hub whose subscriber channels hold bufferSize notifications.
func NewHub(bufferSize int, logger *zap.Logger) *Hub {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &Hub{
		logger:      logger.Named("hub"),
		bufferSize:  bufferSize,
		subscribers: make(map[string][]*subscriber),
	}
}

// Subscribe registers an observer for sessionID. The channel is closed when
// the session finishes, when unsubscribe is called, or on Shutdown.
// Notifications emitted before the call are not replayed.
func (h *Hub) Subscribe(sessionID string) (<-chan schemas.Notification, func()) {
	sub := &subscriber{
		ch:   make(chan schemas.Notification, h.bufferSize),
		gone: make(chan struct{}),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.isShutdown {
		sub.close()
		return sub.ch, func() {}
	}
	h.subscribers[sessionID] = append(h.subscribers[sessionID], sub)

	unsubscribe := func() {
		h.mu.Lock()
		subs := h.subscribers[sessionID]
		for i, s := range subs {
			if s == sub {
				h.subscribers[sessionID] = append(subs[:i:i], subs[i+1:]...)
				if len(h.subscribers[sessionID]) == 0 {
					delete(h.subscribers, sessionID)
				}
				break
			}
		}
		h.mu.Unlock()
		sub.close()
	}
	return sub.ch, unsubscribe
}

// Publish delivers n to every subscriber of n.SessionID. The hub lock only
// guards the subscriber lookup, so a full subscriber stalls its own session
// and nothing else.
func (h *Hub) Publish(ctx context.Context, n schemas.Notification) error {
	h.mu.RLock()
	if h.isShutdown {
		h.mu.RUnlock()
		return fmt.Errorf("cannot publish notification: hub is shut down")
	}
	subs := append([]*subscriber(nil), h.subscribers[n.SessionID]...)
	h.mu.RUnlock()

	for _, sub := range subs {
		if err := sub.send(ctx, n); err != nil {
			return err
		}
	}
	return nil
}

// CloseSession closes and forgets every subscriber of sessionID.
func (h *Hub) CloseSession(sessionID string) {
	h.mu.Lock()
	subs := h.subscribers[sessionID]
	delete(h.subscribers, sessionID)
	h.mu.Unlock()
	for _, sub := range subs {
		sub.close()
	}
}

// Subscribers reports the number of live subscribers for sessionID.
func (h *Hub) Subscribers(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[sessionID])
}

// Shutdown closes all subscriber channels. Later publishes fail.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	if h.isShutdown {
		h.mu.Unlock()
		return
	}
	h.isShutdown = true
	all := h.subscribers
	h.subscribers = make(map[string][]*subscriber)
	h.mu.Unlock()

	for _, subs := range all {
		for _, sub := range subs {
			sub.close()
		}
	}
	h.logger.Debug("Notification hub shut down")
}
