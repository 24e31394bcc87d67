// Package session implements the chat widget's conversation lifecycle: the
// state machine, local persistence of the conversation list and message
// exchange with the automation webhook.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/innovaquest/webchat/internal/config"
	"github.com/innovaquest/webchat/internal/format"
	"github.com/innovaquest/webchat/internal/model"
	"github.com/innovaquest/webchat/internal/render"
	"github.com/innovaquest/webchat/pkg/logger"
)

var (
	// ErrEmptyMessage is returned when neither text nor attachments were given.
	ErrEmptyMessage = errors.New("message is empty")

	// ErrNoSession is returned when sending before a conversation was started
	// or loaded.
	ErrNoSession = errors.New("no active session")

	// ErrNothingToDownload is returned by DownloadTranscript when there is no
	// session or it has no messages.
	ErrNothingToDownload = errors.New("no conversation to download")
)

// Fixed bot messages shown when the webhook fails.
const (
	StartFailureMessage = "Sorry, there was a problem connecting to the server. Please try again later."
	SendFailureMessage  = "Sorry, there was an error sending your message. Please try again."
)

// State is the lifecycle state of a Manager.
type State int

const (
	StateUninitialized State = iota
	StateIdle
	StateSessionStarting
	StateActive
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateIdle:
		return "idle"
	case StateSessionStarting:
		return "session_starting"
	case StateActive:
		return "active"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Transport carries envelopes to the automation backend.
type Transport interface {
	StartSession(ctx context.Context, sessionID string) (string, error)
	SendMessage(ctx context.Context, sessionID, text string, attachments []model.Attachment) (string, error)
}

// Store persists the conversation list.
type Store interface {
	Load(ctx context.Context) ([]model.Conversation, error)
	Save(ctx context.Context, conversations []model.Conversation) error
}

// Manager owns one visitor's conversations.
//
// Mutating operations hold opMu for their whole duration, network call
// included, so they run one at a time in call order. mu guards the fields
// below it and is never held across I/O, so accessors stay responsive while a
// request is in flight.
type Manager struct {
	cfg          config.WidgetConfig
	store        Store
	transport    Transport
	logger       *logger.Logger
	markdown     *render.Markdown
	observers    []Observer
	now          func() time.Time
	newID        func() string
	resumeLatest bool
	allowedTypes map[string]struct{}
	allowedLabel string
	maxFileSize  int64

	opMu sync.Mutex

	mu            sync.RWMutex
	state         State
	sessionID     string
	messages      []model.Message
	conversations []model.Conversation
	activeIndex   int
	pending       []model.Attachment
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the manager's logger.
func WithLogger(log *logger.Logger) Option {
	return func(m *Manager) {
		m.logger = log
	}
}

// WithObserver registers an observer for manager events.
func WithObserver(o Observer) Option {
	return func(m *Manager) {
		m.observers = append(m.observers, o)
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// WithIDGenerator overrides session id generation.
func WithIDGenerator(newID func() string) Option {
	return func(m *Manager) {
		m.newID = newID
	}
}

// WithMarkdown sets the renderer used for bot message HTML.
func WithMarkdown(md *render.Markdown) Option {
	return func(m *Manager) {
		m.markdown = md
	}
}

// WithResumeLatest controls whether Init loads the most recent conversation.
func WithResumeLatest(resume bool) Option {
	return func(m *Manager) {
		m.resumeLatest = resume
	}
}

// WithAllowedTypes replaces the attachment content type allow-list.
func WithAllowedTypes(types []string) Option {
	return func(m *Manager) {
		m.allowedTypes = make(map[string]struct{}, len(types))
		var ordered []string
		for _, t := range types {
			t = strings.ToLower(strings.TrimSpace(t))
			if _, seen := m.allowedTypes[t]; seen || t == "" {
				continue
			}
			m.allowedTypes[t] = struct{}{}
			ordered = append(ordered, t)
		}
		m.allowedLabel = typeList(ordered)
	}
}

// WithMaxFileSize sets the largest accepted attachment in bytes.
func WithMaxFileSize(n int64) Option {
	return func(m *Manager) {
		if n > 0 {
			m.maxFileSize = n
		}
	}
}

// New creates a manager in the Uninitialized state. Call Init before use.
func New(cfg config.WidgetConfig, store Store, transport Transport, opts ...Option) *Manager {
	m := &Manager{
		cfg:          cfg,
		store:        store,
		transport:    transport,
		logger:       logger.NewNop(),
		now:          time.Now,
		newID:        uuid.NewString,
		resumeLatest: true,
		maxFileSize:  config.DefaultMaxFileSize,
		state:        StateUninitialized,
		activeIndex:  -1,
	}
	WithAllowedTypes(config.DefaultAllowedTypes())(m)
	for _, opt := range opts {
		opt(m)
	}
	if m.markdown == nil {
		m.markdown = render.NewMarkdown()
	}
	return m
}

// Init hydrates the conversation list from storage and moves to Idle.
// Unreadable storage is logged and treated as empty. With ResumeLatest set,
// the most recent conversation is loaded.
func (m *Manager) Init(ctx context.Context) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	conversations, err := m.store.Load(ctx)
	if err != nil {
		m.logger.Warn("failed to load conversations, starting empty", zap.Error(err))
		conversations = nil
	}

	m.mu.Lock()
	m.conversations = conversations
	m.state = StateIdle
	m.sessionID = ""
	m.messages = nil
	m.pending = nil
	m.activeIndex = -1
	m.mu.Unlock()

	m.logger.Debug("session manager initialized", zap.Int("conversations", len(conversations)))

	if m.resumeLatest && len(conversations) > 0 {
		m.loadLocked(ctx, 0)
	}
	return nil
}

// Reset drops the current session and returns to Idle. Persisted
// conversations are kept.
func (m *Manager) Reset() {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	m.state = StateIdle
	m.sessionID = ""
	m.messages = nil
	m.pending = nil
	m.activeIndex = -1
	m.mu.Unlock()

	m.emit(model.Event{Type: model.EventReset})
}

// Persist writes the current conversation into the stored list.
func (m *Manager) Persist(ctx context.Context) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	return m.persistLocked(ctx)
}

// persistLocked upserts the current session by id and writes the whole list.
// Sessions without messages are never written. Callers hold opMu.
func (m *Manager) persistLocked(ctx context.Context) error {
	m.mu.Lock()
	if m.sessionID == "" || len(m.messages) == 0 {
		m.mu.Unlock()
		return nil
	}

	conv := model.Conversation{
		SessionID:   m.sessionID,
		Messages:    model.CloneMessages(m.messages),
		Preview:     preview(m.messages[len(m.messages)-1]),
		LastUpdated: m.now().UTC(),
	}

	idx := m.indexOf(m.sessionID)
	if idx >= 0 {
		conv.Title = m.conversations[idx].Title
		m.conversations[idx] = conv
		m.activeIndex = idx
	} else {
		conv.Title = fmt.Sprintf("Conversation %d", len(m.conversations)+1)
		m.conversations = append([]model.Conversation{conv}, m.conversations...)
		m.activeIndex = 0
	}
	snapshot := cloneConversations(m.conversations)
	m.mu.Unlock()

	if err := m.store.Save(ctx, snapshot); err != nil {
		return fmt.Errorf("failed to save conversations: %w", err)
	}
	return nil
}

// persistOrLog is used inside operations whose outcome does not depend on
// the write succeeding. The write outlives ctx: a caller that went away while
// the webhook answered must not leave storage behind memory.
func (m *Manager) persistOrLog(ctx context.Context) {
	ctx, cancel := detached(ctx)
	defer cancel()

	if err := m.persistLocked(ctx); err != nil {
		m.logger.Error("failed to persist conversation",
			zap.String("session_id", m.SessionID()),
			zap.Error(err),
		)
		m.emit(model.Event{Type: model.EventError, Error: err.Error()})
	}
}

// persistTimeout bounds a write made after the caller's context is gone.
const persistTimeout = 10 * time.Second

func detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
}

func (m *Manager) indexOf(sessionID string) int {
	for i, c := range m.conversations {
		if c.SessionID == sessionID {
			return i
		}
	}
	return -1
}

// preview is the plain text of a message cut to the preview length. Bot
// messages are read through their HTML cache.
func preview(msg model.Message) string {
	text := msg.Message
	if !msg.FromVisitor() {
		if msg.HTML != nil {
			text = render.StripHTML(*msg.HTML)
		} else {
			text = render.StripHTML(text)
		}
	}
	return format.Preview(text)
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// SessionID returns the current session id, or "" when there is none.
func (m *Manager) SessionID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessionID
}

// Messages returns a copy of the current conversation's messages.
func (m *Manager) Messages() []model.Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return model.CloneMessages(m.messages)
}

// Conversations returns a copy of the persisted conversation list, most
// recent first.
func (m *Manager) Conversations() []model.Conversation {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return cloneConversations(m.conversations)
}

// ActiveIndex returns the index of the active conversation in the list, or
// -1 for a conversation that has not been saved yet.
func (m *Manager) ActiveIndex() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeIndex
}

// Config returns the widget configuration the manager was built with.
func (m *Manager) Config() config.WidgetConfig {
	return m.cfg
}

// Snapshot returns state, session id, active index and messages read under
// a single lock.
func (m *Manager) Snapshot() model.SessionResponse {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msgs := model.CloneMessages(m.messages)
	if msgs == nil {
		msgs = []model.Message{}
	}
	return model.SessionResponse{
		State:       m.state.String(),
		SessionID:   m.sessionID,
		ActiveIndex: m.activeIndex,
		Messages:    msgs,
	}
}

func cloneConversations(in []model.Conversation) []model.Conversation {
	if in == nil {
		return nil
	}
	out := make([]model.Conversation, len(in))
	for i, c := range in {
		out[i] = c.Clone()
	}
	return out
}
