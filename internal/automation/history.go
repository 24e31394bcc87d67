package automation

import (
	"context"
	"sync"

	"github.com/innovaquest/webchat/internal/model"
)

// History stores the turns of each session.
type History interface {
	Append(ctx context.Context, turn *model.Turn) error
	History(ctx context.Context, sessionID string, limit int) ([]model.Turn, error)
	PublishEvent(ctx context.Context, event *model.AutomationEvent) error
}

// MemoryHistory is an in-process History.
type MemoryHistory struct {
	mu     sync.RWMutex
	turns  map[string][]model.Turn
	events []model.AutomationEvent
	seq    uint64
}

// NewMemoryHistory creates an empty history.
func NewMemoryHistory() *MemoryHistory {
	return &MemoryHistory{turns: make(map[string][]model.Turn)}
}

// Append records a turn.
func (h *MemoryHistory) Append(_ context.Context, turn *model.Turn) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seq++
	turn.Sequence = h.seq
	h.turns[turn.SessionID] = append(h.turns[turn.SessionID], *turn)
	return nil
}

// History returns the oldest limit turns of a session.
func (h *MemoryHistory) History(_ context.Context, sessionID string, limit int) ([]model.Turn, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	turns := h.turns[sessionID]
	if limit > 0 && len(turns) > limit {
		turns = turns[:limit]
	}
	return append([]model.Turn(nil), turns...), nil
}

// PublishEvent records an event.
func (h *MemoryHistory) PublishEvent(_ context.Context, event *model.AutomationEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, *event)
	return nil
}

// Events returns the recorded events.
func (h *MemoryHistory) Events() []model.AutomationEvent {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]model.AutomationEvent(nil), h.events...)
}
