// Package notify fans out project image snapshots to live subscribers.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/zombor/expensecam/internal/record"
)

// Event names on the wire.
const (
	EventImagesUpdated = "imagesUpdated"
	EventError         = "error"
)

const (
	defaultPingInterval = 25 * time.Second

	// subscriberBuffer bounds each subscriber channel; a subscriber that
	// cannot drain in time loses intermediate snapshots, which is fine
	// because payloads are full lists, not diffs.
	subscriberBuffer = 8
)

// SnapshotFunc fetches the current image list for a project.
type SnapshotFunc func(ctx context.Context, projectID string) ([]*record.ImageRecord, error)

// Message is one frame destined for a subscriber.
type Message struct {
	Event string
	Data  []byte
}

// Subscription is one live subscriber connection.
type Subscription struct {
	projectID string
	ownerID   string
	ch        chan Message
	closed    bool
}

// Messages returns the subscriber's frame channel. It is closed on
// unsubscribe.
func (s *Subscription) Messages() <-chan Message {
	return s.ch
}

// Hub maintains per-project subscriber sets and deduplicated snapshot
// broadcast. It is constructed once at service start and handed to the
// request handlers; there is no package-level registry.
type Hub struct {
	snapshot     SnapshotFunc
	pingInterval time.Duration

	mu       sync.Mutex
	subs     map[string]map[*Subscription]struct{}
	lastSent map[string][]byte
}

// NewHub creates a Hub with the default liveness-ping interval.
func NewHub(snapshot SnapshotFunc) *Hub {
	return NewHubWithPing(snapshot, defaultPingInterval)
}

// NewHubWithPing creates a Hub with a custom ping interval for tests.
func NewHubWithPing(snapshot SnapshotFunc, pingInterval time.Duration) *Hub {
	return &Hub{
		snapshot:     snapshot,
		pingInterval: pingInterval,
		subs:         make(map[string]map[*Subscription]struct{}),
		lastSent:     make(map[string][]byte),
	}
}

// Subscribe registers a new subscriber and queues the project's current
// image list as its first message, so every subscriber has a consistent
// baseline. A failed snapshot fetch becomes an error message instead.
func (h *Hub) Subscribe(ctx context.Context, projectID, ownerID string) *Subscription {
	sub := &Subscription{
		projectID: projectID,
		ownerID:   ownerID,
		ch:        make(chan Message, subscriberBuffer),
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	// Fetched under the lock so the baseline cannot be older than a
	// snapshot already broadcast to the other subscribers.
	payload, err := h.fetch(ctx, projectID)

	if h.subs[projectID] == nil {
		h.subs[projectID] = make(map[*Subscription]struct{})
	}
	h.subs[projectID][sub] = struct{}{}

	if err != nil {
		slog.Error("Failed to fetch initial snapshot", "project_id", projectID, "error", err)
		data, _ := json.Marshal(map[string]string{"error": "failed to load images"})
		sub.ch <- Message{Event: EventError, Data: data}
		return sub
	}

	h.lastSent[projectID] = payload
	sub.ch <- Message{Event: EventImagesUpdated, Data: payload}
	return sub
}

// Unsubscribe removes a subscriber and closes its channel. The last
// subscriber out clears the project's last-sent cache.
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if sub.closed {
		return
	}
	sub.closed = true

	if set, ok := h.subs[sub.projectID]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(h.subs, sub.projectID)
			delete(h.lastSent, sub.projectID)
		}
	}
	close(sub.ch)
}

// Publish fetches the project's current image list and delivers it to
// every live subscriber, unless it is byte-identical to the last payload
// sent for that project. Delivery is non-blocking; a subscriber whose
// buffer is full misses this snapshot without affecting the others.
func (h *Hub) Publish(ctx context.Context, projectID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.subs[projectID]) == 0 {
		return nil
	}

	// The fetch happens under the lock so concurrent publishes for a
	// project commit in fetch order. A snapshot taken before another can
	// never be delivered or recorded after it.
	payload, err := h.fetch(ctx, projectID)
	if err != nil {
		return fmt.Errorf("fetching snapshot: %w", err)
	}

	if bytes.Equal(h.lastSent[projectID], payload) {
		return nil
	}
	h.lastSent[projectID] = payload

	for sub := range h.subs[projectID] {
		select {
		case sub.ch <- Message{Event: EventImagesUpdated, Data: payload}:
		default:
			slog.Warn("Subscriber buffer full, dropping snapshot", "project_id", projectID)
		}
	}
	return nil
}

// SubscriberCount returns the number of live subscribers for a project.
func (h *Hub) SubscriberCount(projectID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[projectID])
}

func (h *Hub) fetch(ctx context.Context, projectID string) ([]byte, error) {
	records, err := h.snapshot(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if records == nil {
		records = []*record.ImageRecord{}
	}
	payload, err := json.Marshal(records)
	if err != nil {
		return nil, fmt.Errorf("marshaling snapshot: %w", err)
	}
	return payload, nil
}
