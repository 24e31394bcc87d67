package model

import (
	"time"
)

// EventType represents the type of session event.
type EventType string

const (
	EventSessionStarting    EventType = "session_starting"
	EventSessionStarted     EventType = "session_started"
	EventMessageAppended    EventType = "message_appended"
	EventLoadingStarted     EventType = "loading_started"
	EventLoadingFinished    EventType = "loading_finished"
	EventConversationLoaded EventType = "conversation_loaded"
	EventAttachmentAdded    EventType = "attachment_added"
	EventAttachmentRejected EventType = "attachment_rejected"
	EventAttachmentRemoved  EventType = "attachment_removed"
	EventReset              EventType = "reset"
	EventError              EventType = "error"
)

// Event is emitted by the session manager for the presentation layer.
type Event struct {
	Type        EventType        `json:"type"`
	SessionID   string           `json:"sessionId,omitempty"`
	ActiveIndex int              `json:"activeIndex"`
	Message     *Message         `json:"message,omitempty"`
	Attachment  *FileMetadata    `json:"attachment,omitempty"`
	AttachID    string           `json:"attachmentId,omitempty"`
	Rejection   *AttachmentError `json:"rejection,omitempty"`
	Error       string           `json:"error,omitempty"`
	CreatedAt   time.Time        `json:"createdAt"`
}

// HeartbeatEvent keeps event streams open through idle proxies.
type HeartbeatEvent struct {
	Timestamp time.Time `json:"timestamp"`
}

// ErrorEvent is written to event streams when the stream itself fails.
type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
