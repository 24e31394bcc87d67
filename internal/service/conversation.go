// Package service holds one session manager per visitor and the operations
// the HTTP layer runs against them.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/innovaquest/webchat/internal/config"
	"github.com/innovaquest/webchat/internal/format"
	"github.com/innovaquest/webchat/internal/model"
	"github.com/innovaquest/webchat/internal/session"
	"github.com/innovaquest/webchat/internal/storage"
	"github.com/innovaquest/webchat/pkg/logger"
	"github.com/innovaquest/webchat/pkg/metrics"
)

var (
	// ErrInvalidVisitor is returned for visitor ids that cannot name a storage scope.
	ErrInvalidVisitor = errors.New("invalid visitor id")

	// ErrConversationNotFound is returned when loading an index outside the list.
	ErrConversationNotFound = errors.New("conversation not found")
)

type visitorSession struct {
	manager  *session.Manager
	lastSeen time.Time
}

// ConversationService keeps one session.Manager per visitor. Managers are
// created and hydrated on first use and dropped after sitting idle.
type ConversationService struct {
	kv        storage.KV
	transport session.Transport
	widget    config.WidgetConfig
	broker    *Broker
	options   []session.Option
	idleTTL   time.Duration
	logger    *logger.Logger
	now       func() time.Time

	visitors  map[string]*visitorSession
	mu        sync.Mutex
	hydrating singleflight.Group
}

// NewConversationService creates a new conversation service. Every manager
// it builds reads and writes kv under the visitor's own key and reports its
// events to broker.
func NewConversationService(
	kv storage.KV,
	transport session.Transport,
	widget config.WidgetConfig,
	broker *Broker,
	idleTTL time.Duration,
	log *logger.Logger,
	opts ...session.Option,
) *ConversationService {
	return &ConversationService{
		kv:        kv,
		transport: transport,
		widget:    widget,
		broker:    broker,
		options:   opts,
		idleTTL:   idleTTL,
		logger:    log,
		now:       time.Now,
		visitors:  make(map[string]*visitorSession),
	}
}

func (s *ConversationService) newManager(visitorID string) (*session.Manager, error) {
	store, err := storage.NewScopedConversationStore(s.kv, visitorID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidVisitor, err)
	}

	opts := append([]session.Option{
		session.WithLogger(s.logger.With(zap.String("visitor_id", visitorID))),
	}, s.options...)
	if s.broker != nil {
		opts = append(opts, session.WithObserver(s.broker.Observer(visitorID)))
	}

	return session.New(s.widget, store, s.transport, opts...), nil
}

// Manager returns the visitor's manager, creating and hydrating it first if
// needed. Concurrent first requests for one visitor share a single hydration.
func (s *ConversationService) Manager(ctx context.Context, visitorID string) (*session.Manager, error) {
	if m := s.lookup(visitorID); m != nil {
		return m, nil
	}

	v, err, _ := s.hydrating.Do(visitorID, func() (interface{}, error) {
		if m := s.lookup(visitorID); m != nil {
			return m, nil
		}

		m, err := s.newManager(visitorID)
		if err != nil {
			return nil, err
		}
		if err := m.Init(ctx); err != nil {
			return nil, fmt.Errorf("failed to initialize session: %w", err)
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		// Reinit may have registered a manager meanwhile.
		if vs, ok := s.visitors[visitorID]; ok {
			return vs.manager, nil
		}
		s.visitors[visitorID] = &visitorSession{manager: m, lastSeen: s.now()}
		metrics.ActiveManagers.Inc()
		return m, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*session.Manager), nil
}

func (s *ConversationService) lookup(visitorID string) *session.Manager {
	s.mu.Lock()
	defer s.mu.Unlock()
	if vs, ok := s.visitors[visitorID]; ok {
		vs.lastSeen = s.now()
		return vs.manager
	}
	return nil
}

// Reinit tears down the visitor's manager and hydrates a fresh one from
// storage, the way a page navigation re-creates the widget.
func (s *ConversationService) Reinit(ctx context.Context, visitorID string) (*session.Manager, error) {
	m, err := s.newManager(visitorID)
	if err != nil {
		return nil, err
	}
	if err := m.Init(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize session: %w", err)
	}

	s.mu.Lock()
	if _, ok := s.visitors[visitorID]; !ok {
		metrics.ActiveManagers.Inc()
	}
	s.visitors[visitorID] = &visitorSession{manager: m, lastSeen: s.now()}
	s.mu.Unlock()

	s.logger.Info("session reinitialized",
		zap.String("visitor_id", visitorID),
		zap.Int("conversations", len(m.Conversations())),
	)
	return m, nil
}

// Session returns the visitor's current session.
func (s *ConversationService) Session(ctx context.Context, visitorID string) (*model.SessionResponse, error) {
	m, err := s.Manager(ctx, visitorID)
	if err != nil {
		return nil, err
	}
	snap := m.Snapshot()
	return &snap, nil
}

// Start begins a new conversation. A webhook failure is returned together
// with the session, which then carries the apology message.
func (s *ConversationService) Start(ctx context.Context, visitorID string) (*model.SessionResponse, error) {
	m, err := s.Manager(ctx, visitorID)
	if err != nil {
		return nil, err
	}
	startErr := m.StartNewConversation(ctx)
	snap := m.Snapshot()
	return &snap, startErr
}

// Load makes the conversation at index the active one.
func (s *ConversationService) Load(ctx context.Context, visitorID string, index int) (*model.SessionResponse, error) {
	m, err := s.Manager(ctx, visitorID)
	if err != nil {
		return nil, err
	}
	if !m.LoadConversation(ctx, index) {
		return nil, ErrConversationNotFound
	}
	snap := m.Snapshot()
	return &snap, nil
}

// Reset drops the visitor's current session.
func (s *ConversationService) Reset(ctx context.Context, visitorID string) (*model.SessionResponse, error) {
	m, err := s.Manager(ctx, visitorID)
	if err != nil {
		return nil, err
	}
	m.Reset()
	snap := m.Snapshot()
	return &snap, nil
}

// List returns the visitor's conversations, most recent first.
func (s *ConversationService) List(ctx context.Context, visitorID string) (*model.ListConversationsResponse, error) {
	m, err := s.Manager(ctx, visitorID)
	if err != nil {
		return nil, err
	}

	convs := m.Conversations()
	active := m.ActiveIndex()
	now := s.now()

	summaries := make([]model.ConversationSummary, len(convs))
	for i, c := range convs {
		summaries[i] = model.ConversationSummary{
			Index:        i,
			SessionID:    c.SessionID,
			Title:        c.Title,
			Preview:      c.Preview,
			LastUpdated:  c.LastUpdated,
			RelativeDate: format.RelativeDate(c.LastUpdated, now),
			MessageCount: len(c.Messages),
			Active:       i == active,
		}
	}

	return &model.ListConversationsResponse{
		Conversations: summaries,
		ActiveIndex:   active,
		Total:         len(summaries),
	}, nil
}

// EvictIdle drops managers not used since the idle TTL. Their conversations
// stay in storage and are hydrated again on the next request.
func (s *ConversationService) EvictIdle() int {
	if s.idleTTL <= 0 {
		return 0
	}
	cutoff := s.now().Add(-s.idleTTL)

	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := 0
	for id, vs := range s.visitors {
		if vs.lastSeen.Before(cutoff) {
			delete(s.visitors, id)
			evicted++
		}
	}
	metrics.ActiveManagers.Sub(float64(evicted))
	return evicted
}

// Run evicts idle managers until ctx is done.
func (s *ConversationService) Run(ctx context.Context) {
	if s.idleTTL <= 0 {
		return
	}
	interval := s.idleTTL / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.EvictIdle(); n > 0 {
				s.logger.Debug("evicted idle session managers", zap.Int("count", n))
			}
		}
	}
}
