package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/innovaquest/webchat/internal/model"
)

func TestMemoryGetPut(t *testing.T) {
	ctx := context.Background()
	kv := NewMemory()

	_, err := kv.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	value := []byte("hello")
	require.NoError(t, kv.Put(ctx, "k", value))
	value[0] = 'j'

	got, err := kv.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))
}

func TestConversationStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewConversationStore(NewMemory())

	empty, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, empty)

	html := "<p>hi</p>\n"
	in := []model.Conversation{{
		SessionID: "s-1",
		Title:     "Conversation 1",
		Messages: []model.Message{
			{Timestamp: "10:00 AM", Sender: "Bot", Message: "hi", HTML: &html},
			{Timestamp: "10:01 AM", Sender: model.VisitorSender, Message: "see file", Files: []string{"a.pdf"}},
		},
		Preview:     "see file",
		LastUpdated: time.Date(2025, 3, 7, 10, 1, 0, 0, time.UTC),
	}}
	require.NoError(t, store.Save(ctx, in))

	out, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestConversationStoreCorruptData(t *testing.T) {
	ctx := context.Background()
	kv := NewMemory()
	require.NoError(t, kv.Put(ctx, model.ConversationsKey, []byte("{oops")))

	_, err := NewConversationStore(kv).Load(ctx)
	assert.Error(t, err)
}

func TestScopedConversationStore(t *testing.T) {
	ctx := context.Background()
	kv := NewMemory()

	a, err := NewScopedConversationStore(kv, "visitor-a")
	require.NoError(t, err)
	b, err := NewScopedConversationStore(kv, "visitor-b")
	require.NoError(t, err)

	require.NoError(t, a.Save(ctx, []model.Conversation{{SessionID: "a"}}))

	got, err := b.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, "visitor-a."+model.ConversationsKey, a.Key())

	_, err = NewScopedConversationStore(kv, "bad scope!")
	assert.Error(t, err)
}
