package streaming

import (
	"context"
	"strconv"
	"sync"

	"adversary-lab/internal/domain/models"
	"adversary-lab/pkg/logger"
)

const subscriberBuffer = 100

// RemotePublisher forwards events beyond this process
type RemotePublisher interface {
	PublishCampaignEvent(ctx context.Context, event *models.CampaignEvent) error
	IsConnected() bool
}

type subscriber struct {
	ch  chan *models.CampaignEvent
	sub *Subscription
}

// EventBus distributes campaign events to local subscribers, the websocket
// hub and, when configured, NATS
type EventBus struct {
	remote RemotePublisher
	hub    *WebSocketHub
	logger *logger.Logger

	mu          sync.RWMutex
	subscribers map[string]subscriber
	nextID      int
	closed      bool
}

// NewEventBus creates a new event bus. remote and hub may be nil.
func NewEventBus(remote RemotePublisher, hub *WebSocketHub, log *logger.Logger) *EventBus {
	return &EventBus{
		remote:      remote,
		hub:         hub,
		logger:      log.WithComponent("event-bus"),
		subscribers: make(map[string]subscriber),
	}
}

// PublishCampaignEvent fans an event out. Delivery is best effort: a failed
// NATS publish or a full subscriber buffer is logged and the event is still
// delivered everywhere else.
func (eb *EventBus) PublishCampaignEvent(ctx context.Context, event *models.CampaignEvent) error {
	if eb.remote != nil && eb.remote.IsConnected() {
		if err := eb.remote.PublishCampaignEvent(ctx, event); err != nil {
			eb.logger.Warn().Err(err).Str("event_id", event.ID).Msg("failed to publish to NATS, using local broadcast only")
		}
	}

	if eb.hub != nil {
		eb.hub.BroadcastEvent(event)
	}

	eb.mu.RLock()
	defer eb.mu.RUnlock()

	for id, s := range eb.subscribers {
		if !s.sub.Matches(event) {
			continue
		}
		select {
		case s.ch <- event:
		default:
			eb.logger.Debug().Str("subscriber", id).Msg("subscriber channel full, dropping event")
		}
	}

	return nil
}

// Subscribe registers a local subscriber. The returned function removes it
// and closes the channel.
func (eb *EventBus) Subscribe(sub *Subscription) (<-chan *models.CampaignEvent, func()) {
	eb.mu.Lock()
	eb.nextID++
	id := strconv.Itoa(eb.nextID)
	ch := make(chan *models.CampaignEvent, subscriberBuffer)
	if eb.closed {
		close(ch)
		eb.mu.Unlock()
		return ch, func() {}
	}
	eb.subscribers[id] = subscriber{ch: ch, sub: sub}
	eb.mu.Unlock()

	eb.logger.Debug().Str("subscriber_id", id).Msg("new subscriber")

	unsubscribe := func() {
		eb.mu.Lock()
		defer eb.mu.Unlock()
		if s, ok := eb.subscribers[id]; ok {
			close(s.ch)
			delete(eb.subscribers, id)
			eb.logger.Debug().Str("subscriber_id", id).Msg("subscriber removed")
		}
	}

	return ch, unsubscribe
}

// SubscriberCount returns the number of active subscribers
func (eb *EventBus) SubscriberCount() int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.subscribers)
}

// Close closes every subscriber channel. The NATS connection is owned by
// the caller.
func (eb *EventBus) Close() {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	for id, s := range eb.subscribers {
		close(s.ch)
		delete(eb.subscribers, id)
	}
	eb.closed = true
}
