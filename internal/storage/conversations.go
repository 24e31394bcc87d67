package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"

	"github.com/innovaquest/webchat/internal/model"
)

// ConversationStore reads and writes the whole conversation list under one key.
type ConversationStore struct {
	kv  KV
	key string
}

// NewConversationStore stores the list under model.ConversationsKey.
func NewConversationStore(kv KV) *ConversationStore {
	return &ConversationStore{kv: kv, key: model.ConversationsKey}
}

var scopePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ValidScope reports whether scope can be used as a key namespace by every backend.
func ValidScope(scope string) bool {
	return scopePattern.MatchString(scope)
}

// NewScopedConversationStore namespaces the list by scope, so that several
// visitors can share one backend. The key stays valid for every backend,
// including NATS KV which only accepts [-/_=.a-zA-Z0-9].
func NewScopedConversationStore(kv KV, scope string) (*ConversationStore, error) {
	if !ValidScope(scope) {
		return nil, fmt.Errorf("invalid storage scope %q", scope)
	}
	return &ConversationStore{kv: kv, key: scope + "." + model.ConversationsKey}, nil
}

// Key returns the key the list is stored under.
func (s *ConversationStore) Key() string {
	return s.key
}

// Load returns the stored list, most recent first. A missing key is an
// empty list.
func (s *ConversationStore) Load(ctx context.Context) ([]model.Conversation, error) {
	data, err := s.kv.Get(ctx, s.key)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read conversations: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	var conversations []model.Conversation
	if err := json.Unmarshal(data, &conversations); err != nil {
		return nil, fmt.Errorf("failed to decode conversations: %w", err)
	}
	return conversations, nil
}

// Save replaces the stored list.
func (s *ConversationStore) Save(ctx context.Context, conversations []model.Conversation) error {
	if conversations == nil {
		conversations = []model.Conversation{}
	}
	data, err := json.Marshal(conversations)
	if err != nil {
		return fmt.Errorf("failed to encode conversations: %w", err)
	}
	if err := s.kv.Put(ctx, s.key, data); err != nil {
		return fmt.Errorf("failed to write conversations: %w", err)
	}
	return nil
}
