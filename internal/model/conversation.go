// Package model defines data structures for the chat widget.
package model

import (
	"time"
)

// ConversationsKey is the storage key holding the JSON list of conversations.
const ConversationsKey = "n8n_chat_conversations"

// Conversation is a persisted conversation thread. Identity is SessionID.
type Conversation struct {
	SessionID   string    `json:"sessionId"`
	Title       string    `json:"title"`
	Messages    []Message `json:"messages"`
	Preview     string    `json:"preview"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// Clone returns a copy whose message slice can be mutated independently.
func (c Conversation) Clone() Conversation {
	out := c
	out.Messages = CloneMessages(c.Messages)
	return out
}

// ConversationSummary is a conversation list row for the presentation layer.
type ConversationSummary struct {
	Index        int       `json:"index"`
	SessionID    string    `json:"sessionId"`
	Title        string    `json:"title"`
	Preview      string    `json:"preview"`
	LastUpdated  time.Time `json:"lastUpdated"`
	RelativeDate string    `json:"relativeDate"`
	MessageCount int       `json:"messageCount"`
	Active       bool      `json:"active"`
}

// ListConversationsResponse is the response for listing conversations.
type ListConversationsResponse struct {
	Conversations []ConversationSummary `json:"conversations"`
	ActiveIndex   int                   `json:"activeIndex"`
	Total         int                   `json:"total"`
}

// SessionResponse describes the manager's current session.
type SessionResponse struct {
	State       string    `json:"state"`
	SessionID   string    `json:"sessionId,omitempty"`
	ActiveIndex int       `json:"activeIndex"`
	Messages    []Message `json:"messages"`
	Error       string    `json:"error,omitempty"`
}

// VisitorResponse is returned when a visitor token is issued.
type VisitorResponse struct {
	VisitorID string    `json:"visitorId"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}
