package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/innovaquest/webchat/internal/model"
	"github.com/innovaquest/webchat/internal/session"
	"github.com/innovaquest/webchat/pkg/logger"
)

// MessageService handles message operations.
type MessageService struct {
	conversationService *ConversationService
	logger              *logger.Logger
}

// NewMessageService creates a new message service.
func NewMessageService(conversationService *ConversationService, log *logger.Logger) *MessageService {
	return &MessageService{
		conversationService: conversationService,
		logger:              log,
	}
}

// Send attaches files, then sends text with everything pending. Files that
// fail validation are reported back and the rest are still sent. When every
// file was rejected and there is no text, nothing is sent.
func (s *MessageService) Send(ctx context.Context, visitorID, text string, files []model.File) (*model.SendMessageResponse, error) {
	m, err := s.conversationService.Manager(ctx, visitorID)
	if err != nil {
		return nil, err
	}

	if m.SessionID() == "" {
		return nil, session.ErrNoSession
	}

	resp := &model.SendMessageResponse{}
	if len(files) > 0 {
		_, rejected := m.Attach(files...)
		for _, r := range rejected {
			resp.Rejected = append(resp.Rejected, *r)
		}
	}

	sendErr := m.Send(ctx, text)
	resp.Messages = m.Messages()
	if resp.Messages == nil {
		resp.Messages = []model.Message{}
	}

	if sendErr != nil {
		s.logger.Debug("message not delivered",
			zap.String("visitor_id", visitorID),
			zap.Error(sendErr),
		)
		return resp, sendErr
	}
	return resp, nil
}

// Transcript renders the visitor's active conversation.
func (s *MessageService) Transcript(ctx context.Context, visitorID string) (*model.Transcript, error) {
	m, err := s.conversationService.Manager(ctx, visitorID)
	if err != nil {
		return nil, err
	}

	tx, err := m.DownloadTranscript()
	if err != nil {
		return nil, fmt.Errorf("failed to build transcript: %w", err)
	}
	return &tx, nil
}
