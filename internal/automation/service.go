// Package automation is a reference backend for the chat widget's webhook:
// it greets new sessions and answers messages with an LLM, or echoes them
// back when no LLM is configured.
package automation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/innovaquest/webchat/internal/llm"
	"github.com/innovaquest/webchat/internal/model"
	"github.com/innovaquest/webchat/pkg/logger"
	"github.com/innovaquest/webchat/pkg/metrics"
)

// HistoryLimit bounds the turns sent to the LLM.
const HistoryLimit = 50

// Service answers webhook actions.
type Service struct {
	history  History
	llm      llm.Client
	model    string
	system   string
	greeting string
	logger   *logger.Logger
	now      func() time.Time
}

// Config configures a Service.
type Config struct {
	Greeting string
	System   string
	Model    string
}

// NewService creates a new automation service. client may be nil, in which
// case messages are echoed.
func NewService(history History, client llm.Client, cfg Config, log *logger.Logger) *Service {
	return &Service{
		history:  history,
		llm:      client,
		model:    cfg.Model,
		system:   cfg.System,
		greeting: cfg.Greeting,
		logger:   log,
		now:      time.Now,
	}
}

// Start records and returns the greeting for a new session.
func (s *Service) Start(ctx context.Context, sessionID, route string) (string, error) {
	turn := &model.Turn{
		ID:        uuid.Must(uuid.NewV7()).String(),
		SessionID: sessionID,
		Route:     route,
		Role:      model.RoleAssistant,
		Content:   s.greeting,
		CreatedAt: s.now(),
	}
	if err := s.history.Append(ctx, turn); err != nil {
		return "", fmt.Errorf("failed to record greeting: %w", err)
	}

	s.logger.Info("session started", zap.String("session_id", sessionID), zap.String("route", route))
	return s.greeting, nil
}

// Reply records the visitor's message and produces the answer.
func (s *Service) Reply(ctx context.Context, sessionID, route, text string, files []model.FileMetadata) (string, error) {
	names := make([]string, len(files))
	for i, f := range files {
		names[i] = f.Name
	}

	userTurn := &model.Turn{
		ID:        uuid.Must(uuid.NewV7()).String(),
		SessionID: sessionID,
		Route:     route,
		Role:      model.RoleUser,
		Content:   userContent(text, names),
		Files:     names,
		CreatedAt: s.now(),
	}
	if err := s.history.Append(ctx, userTurn); err != nil {
		return "", fmt.Errorf("failed to record message: %w", err)
	}

	var reply string
	if s.llm == nil {
		reply = echo(text, names)
	} else {
		var err error
		reply, err = s.complete(ctx, sessionID)
		if err != nil {
			s.publishError(ctx, sessionID, err)
			return "", err
		}
	}

	assistantTurn := &model.Turn{
		ID:        uuid.Must(uuid.NewV7()).String(),
		SessionID: sessionID,
		Route:     route,
		Role:      model.RoleAssistant,
		Content:   reply,
		CreatedAt: s.now(),
	}
	if err := s.history.Append(ctx, assistantTurn); err != nil {
		s.logger.Warn("failed to record reply", zap.String("session_id", sessionID), zap.Error(err))
	}

	return reply, nil
}

func (s *Service) complete(ctx context.Context, sessionID string) (string, error) {
	turns, err := s.history.History(ctx, sessionID, HistoryLimit)
	if err != nil {
		return "", fmt.Errorf("failed to read history: %w", err)
	}

	messages := make([]llm.ChatMessage, 0, len(turns))
	for _, t := range turns {
		messages = append(messages, llm.ChatMessage{Role: string(t.Role), Content: t.Content})
	}

	start := time.Now()
	resp, err := s.llm.Complete(ctx, &llm.CompletionRequest{
		Model:    s.model,
		System:   s.system,
		Messages: messages,
	})
	if err != nil {
		metrics.RecordLLMCompletion(s.llm.Name(), "error", time.Since(start).Seconds(), 0, 0)
		return "", fmt.Errorf("LLM completion failed: %w", err)
	}

	metrics.RecordLLMCompletion(s.llm.Name(), "success", time.Since(start).Seconds(), resp.TokensIn, resp.TokensOut)
	s.logger.Debug("completion finished",
		zap.String("session_id", sessionID),
		zap.String("model", resp.Model),
		zap.Int("tokens_in", resp.TokensIn),
		zap.Int("tokens_out", resp.TokensOut),
		zap.Int64("latency_ms", resp.LatencyMs),
	)
	return resp.Content, nil
}

func (s *Service) publishError(ctx context.Context, sessionID string, cause error) {
	err := s.history.PublishEvent(ctx, &model.AutomationEvent{
		ID:        uuid.Must(uuid.NewV7()).String(),
		SessionID: sessionID,
		Type:      model.EventError,
		Reason:    cause.Error(),
		CreatedAt: s.now(),
	})
	if err != nil {
		s.logger.Warn("failed to publish error event", zap.String("session_id", sessionID), zap.Error(err))
	}
}

func userContent(text string, files []string) string {
	if len(files) == 0 {
		return text
	}
	note := "[Attached: " + strings.Join(files, ", ") + "]"
	if text == "" {
		return note
	}
	return text + "\n\n" + note
}

func echo(text string, files []string) string {
	var parts []string
	if text != "" {
		parts = append(parts, "You said: "+text)
	}
	if len(files) > 0 {
		parts = append(parts, "Received files: "+strings.Join(files, ", "))
	}
	return strings.Join(parts, "\n\n")
}
