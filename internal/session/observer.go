package session

import (
	"github.com/innovaquest/webchat/internal/model"
)

// Observer receives manager events. Notify is called synchronously from the
// operation that produced the event and must not block; it may call the
// manager's read accessors.
type Observer interface {
	Notify(event model.Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(event model.Event)

// Notify calls f(event).
func (f ObserverFunc) Notify(event model.Event) {
	f(event)
}

func (m *Manager) emit(event model.Event) {
	if len(m.observers) == 0 {
		return
	}
	m.mu.RLock()
	if event.SessionID == "" {
		event.SessionID = m.sessionID
	}
	event.ActiveIndex = m.activeIndex
	m.mu.RUnlock()
	if event.CreatedAt.IsZero() {
		event.CreatedAt = m.now().UTC()
	}

	for _, o := range m.observers {
		o.Notify(event)
	}
}
