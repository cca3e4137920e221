package notifications

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"cosflow/internal/logging"
)

const defaultDeliveryTimeout = 5 * time.Second

// Subscriber receives published events. A Deliver error unsubscribes it.
type Subscriber interface {
	ID() string
	Deliver(ctx context.Context, evt Event) error
}

// Publisher is the narrow interface workflow components depend on.
type Publisher interface {
	Publish(ctx context.Context, evt Event)
}

type discard struct{}

func (discard) Publish(context.Context, Event) {}

// Discard is a Publisher that drops every event.
var Discard Publisher = discard{}

// Hub fans events out to registered subscribers.
type Hub struct {
	mu      sync.RWMutex
	subs    map[string]Subscriber
	timeout time.Duration
	logger  *slog.Logger
}

// NewHub constructs an empty hub. A non-positive timeout uses the default.
func NewHub(timeout time.Duration, logger *slog.Logger) *Hub {
	if timeout <= 0 {
		timeout = defaultDeliveryTimeout
	}
	return &Hub{
		subs:    make(map[string]Subscriber),
		timeout: timeout,
		logger:  logging.NewComponentLogger(logger, "notifications"),
	}
}

// Subscribe registers s, replacing any subscriber with the same id, and
// returns a function that removes it.
func (h *Hub) Subscribe(s Subscriber) func() {
	id := s.ID()
	h.mu.Lock()
	h.subs[id] = s
	h.mu.Unlock()
	h.logger.Debug("subscriber added", logging.String("subscriber", id))
	return func() { h.remove(id, s) }
}

// Unsubscribe removes the subscriber with the given id. It reports whether
// one was registered.
func (h *Hub) Unsubscribe(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[id]; !ok {
		return false
	}
	delete(h.subs, id)
	return true
}

// remove deletes id only while it still maps to s, so a replaced
// registration is not removed by a stale failure.
func (h *Hub) remove(id string, s Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if current, ok := h.subs[id]; ok && current == s {
		delete(h.subs, id)
	}
}

// Len returns the number of registered subscribers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Publish delivers evt to every subscriber concurrently and waits for all
// deliveries. Each delivery is bounded by the hub timeout and does not inherit
// cancellation from ctx. Failing subscribers are removed; Publish never fails.
func (h *Hub) Publish(ctx context.Context, evt Event) {
	if h == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	h.mu.RLock()
	targets := make([]Subscriber, 0, len(h.subs))
	for _, s := range h.subs {
		targets = append(targets, s)
	}
	h.mu.RUnlock()
	if len(targets) == 0 {
		return
	}

	base := context.WithoutCancel(ctx)
	var wg sync.WaitGroup
	for _, s := range targets {
		wg.Add(1)
		go func(s Subscriber) {
			defer wg.Done()
			if err := h.deliver(base, s, evt); err != nil {
				h.remove(s.ID(), s)
				logging.WarnWithContext(h.logger, "subscriber dropped after failed delivery", "subscriber_dropped",
					logging.String("subscriber", s.ID()),
					logging.String("event", string(evt.Kind)),
					logging.GroupID(evt.GroupID),
					logging.Error(err),
					logging.String(logging.FieldImpact, "subscriber stops receiving updates until it reconnects"),
				)
			}
		}(s)
	}
	wg.Wait()
}

func (h *Hub) deliver(ctx context.Context, s Subscriber, evt Event) (err error) {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("subscriber panic: %v", r)
		}
	}()
	return s.Deliver(ctx, evt)
}
