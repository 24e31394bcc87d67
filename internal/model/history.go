package model

import (
	"time"
)

// Role represents the role of a turn in the automation backend's history.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Turn is one exchange step recorded by the automation backend.
type Turn struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Route     string    `json:"route"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Files     []string  `json:"files,omitempty"`
	CreatedAt time.Time `json:"created_at"`

	// JetStream metadata, populated on read
	Sequence uint64 `json:"sequence,omitempty"`
}

// AutomationEvent records a failure inside the automation backend.
type AutomationEvent struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Type      EventType `json:"type"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}
