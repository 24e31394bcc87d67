package session

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/innovaquest/webchat/internal/format"
	"github.com/innovaquest/webchat/internal/model"
	"github.com/innovaquest/webchat/pkg/metrics"
)

// StartNewConversation begins a fresh session: a new id, an empty message
// list and one loadPreviousSession call to the webhook. The greeting becomes
// the first bot message and the conversation is saved. On failure a fixed
// bot message is appended, nothing is saved and the manager returns to Idle.
func (m *Manager) StartNewConversation(ctx context.Context) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	sessionID := m.newID()

	m.mu.Lock()
	m.state = StateSessionStarting
	m.sessionID = sessionID
	m.messages = nil
	m.pending = nil
	m.activeIndex = -1
	m.mu.Unlock()

	log := m.logger.With(zap.String("session_id", sessionID))
	log.Info("starting conversation")
	m.emit(model.Event{Type: model.EventSessionStarting})

	reply, err := m.transport.StartSession(ctx, sessionID)
	if err != nil {
		metrics.ConversationsStarted.WithLabelValues("failure").Inc()
		log.Error("failed to start conversation", zap.Error(err))

		msg := m.appendBot(StartFailureMessage, StateIdle)
		m.emit(model.Event{Type: model.EventMessageAppended, Message: &msg})
		m.emit(model.Event{Type: model.EventError, Error: err.Error()})
		return fmt.Errorf("failed to start conversation: %w", err)
	}

	metrics.ConversationsStarted.WithLabelValues("success").Inc()
	msg := m.appendBot(reply, StateActive)
	m.persistOrLog(ctx)

	m.emit(model.Event{Type: model.EventSessionStarted})
	m.emit(model.Event{Type: model.EventMessageAppended, Message: &msg})
	return nil
}

// SendMessage sends the visitor's text and attachments. The visitor record
// is appended and saved before the call, then exactly one bot reply, or the
// fixed error message, is appended and saved after it. Empty input is
// rejected before anything else happens.
func (m *Manager) SendMessage(ctx context.Context, text string, attachments []model.Attachment) error {
	return m.send(ctx, text, attachments, false)
}

func (m *Manager) send(ctx context.Context, text string, attachments []model.Attachment, fromPending bool) error {
	text = strings.TrimSpace(text)
	if !fromPending && text == "" && len(attachments) == 0 {
		return ErrEmptyMessage
	}

	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	if fromPending {
		// Read under opMu: a queued send sees the list the previous send left.
		attachments = m.pending
	}
	if text == "" && len(attachments) == 0 {
		m.mu.Unlock()
		return ErrEmptyMessage
	}
	if m.sessionID == "" {
		m.mu.Unlock()
		return ErrNoSession
	}
	sessionID := m.sessionID
	if fromPending {
		m.pending = nil
	}

	var fileNames []string
	for _, a := range attachments {
		fileNames = append(fileNames, a.File.Name)
	}
	visitor := model.Message{
		Timestamp: format.MessageTime(m.now()),
		Sender:    model.VisitorSender,
		Message:   text,
		Files:     fileNames,
	}
	m.messages = append(m.messages, visitor)
	m.mu.Unlock()

	metrics.MessagesTotal.WithLabelValues("visitor").Inc()
	m.persistOrLog(ctx)
	m.emit(model.Event{Type: model.EventMessageAppended, Message: &visitor})
	m.emit(model.Event{Type: model.EventLoadingStarted})

	reply, sendErr := m.transport.SendMessage(ctx, sessionID, text, attachments)

	var bot model.Message
	if sendErr != nil {
		m.logger.Error("failed to send message",
			zap.String("session_id", sessionID),
			zap.Int("attachments", len(attachments)),
			zap.Error(sendErr),
		)
		metrics.MessagesTotal.WithLabelValues("error").Inc()
		bot = m.appendBot(SendFailureMessage, m.State())
	} else {
		metrics.MessagesTotal.WithLabelValues("bot").Inc()
		bot = m.appendBot(reply, StateActive)
	}

	m.emit(model.Event{Type: model.EventLoadingFinished})
	m.emit(model.Event{Type: model.EventMessageAppended, Message: &bot})
	if sendErr != nil {
		m.emit(model.Event{Type: model.EventError, Error: sendErr.Error()})
	}
	m.persistOrLog(ctx)

	if sendErr != nil {
		return fmt.Errorf("failed to send message: %w", sendErr)
	}
	return nil
}

// appendBot appends a bot message with its HTML cache filled in and moves
// to state.
func (m *Manager) appendBot(text string, state State) model.Message {
	html := m.markdown.Render(text)
	m.mu.Lock()
	defer m.mu.Unlock()

	msg := model.Message{
		Timestamp: format.MessageTime(m.now()),
		Sender:    m.cfg.Branding.Name,
		Message:   text,
		HTML:      &html,
	}
	m.messages = append(m.messages, msg)
	m.state = state
	return msg
}

// LoadConversation makes the stored conversation at index the active one.
// No request is made. Out-of-range indices leave everything unchanged and
// return false.
func (m *Manager) LoadConversation(ctx context.Context, index int) bool {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	return m.loadLocked(ctx, index)
}

func (m *Manager) loadLocked(ctx context.Context, index int) bool {
	m.mu.Lock()
	if index < 0 || index >= len(m.conversations) {
		m.mu.Unlock()
		return false
	}

	conv := m.conversations[index].Clone()
	backfilled := false
	for i := range conv.Messages {
		msg := &conv.Messages[i]
		if !msg.FromVisitor() && msg.HTML == nil {
			html := m.markdown.Render(msg.Message)
			msg.HTML = &html
			backfilled = true
		}
	}

	m.sessionID = conv.SessionID
	m.messages = conv.Messages
	m.activeIndex = index
	m.state = StateActive
	m.pending = nil

	var snapshot []model.Conversation
	if backfilled {
		m.conversations[index].Messages = model.CloneMessages(conv.Messages)
		snapshot = cloneConversations(m.conversations)
	}
	m.mu.Unlock()

	if backfilled {
		saveCtx, cancel := detached(ctx)
		defer cancel()
		if err := m.store.Save(saveCtx, snapshot); err != nil {
			m.logger.Warn("failed to save rendered messages", zap.Error(err))
		}
	}

	m.logger.Debug("conversation loaded",
		zap.String("session_id", conv.SessionID),
		zap.Int("index", index),
		zap.Int("messages", len(conv.Messages)),
	)
	m.emit(model.Event{Type: model.EventConversationLoaded})
	return true
}
