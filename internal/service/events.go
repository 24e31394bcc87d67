package service

import (
	"sync"

	"go.uber.org/zap"

	"github.com/innovaquest/webchat/internal/model"
	"github.com/innovaquest/webchat/internal/session"
	"github.com/innovaquest/webchat/pkg/logger"
)

const subscriptionBuffer = 64

// Subscription receives one visitor's events.
type Subscription struct {
	C <-chan model.Event

	visitorID string
	ch        chan model.Event
}

// Broker fans manager events out to the visitor's event streams. A slow
// subscriber loses events instead of blocking the manager.
type Broker struct {
	logger *logger.Logger

	mu   sync.RWMutex
	subs map[string]map[*Subscription]struct{}
}

// NewBroker creates an event broker.
func NewBroker(log *logger.Logger) *Broker {
	return &Broker{
		logger: log,
		subs:   make(map[string]map[*Subscription]struct{}),
	}
}

// Subscribe registers a new subscription for visitorID.
func (b *Broker) Subscribe(visitorID string) *Subscription {
	ch := make(chan model.Event, subscriptionBuffer)
	sub := &Subscription{C: ch, visitorID: visitorID, ch: ch}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs[visitorID] == nil {
		b.subs[visitorID] = make(map[*Subscription]struct{})
	}
	b.subs[visitorID][sub] = struct{}{}
	return sub
}

// Unsubscribe removes sub and closes its channel.
func (b *Broker) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	set, ok := b.subs[sub.visitorID]
	if !ok {
		return
	}
	if _, ok := set[sub]; !ok {
		return
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(b.subs, sub.visitorID)
	}
	close(sub.ch)
}

// Publish delivers event to every subscription of visitorID.
func (b *Broker) Publish(visitorID string, event model.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subs[visitorID] {
		select {
		case sub.ch <- event:
		default:
			b.logger.Debug("dropping event for slow subscriber",
				zap.String("visitor_id", visitorID),
				zap.String("event", string(event.Type)),
			)
		}
	}
}

// Observer returns a session observer publishing to visitorID's streams.
func (b *Broker) Observer(visitorID string) session.Observer {
	return session.ObserverFunc(func(event model.Event) {
		b.Publish(visitorID, event)
	})
}

// Subscribers returns the number of open subscriptions for visitorID.
func (b *Broker) Subscribers(visitorID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[visitorID])
}
