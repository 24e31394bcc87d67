package service

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/innovaquest/webchat/internal/config"
	"github.com/innovaquest/webchat/internal/model"
	"github.com/innovaquest/webchat/internal/session"
	"github.com/innovaquest/webchat/internal/storage"
	"github.com/innovaquest/webchat/pkg/logger"
)

type stubTransport struct {
	err error
}

func (s *stubTransport) StartSession(context.Context, string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return "Welcome!", nil
}

func (s *stubTransport) SendMessage(_ context.Context, _, text string, _ []model.Attachment) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return "echo: " + text, nil
}

func newTestService(t *testing.T, tr session.Transport) (*ConversationService, *MessageService, *Broker, storage.KV) {
	t.Helper()
	kv := storage.NewMemory()
	log := logger.NewNop()
	broker := NewBroker(log)
	convs := NewConversationService(kv, tr, config.DefaultWidget(), broker, time.Minute, log)
	return convs, NewMessageService(convs, log), broker, kv
}

func TestManagerIsReusedPerVisitor(t *testing.T) {
	convs, _, _, _ := newTestService(t, &stubTransport{})
	ctx := context.Background()

	a, err := convs.Manager(ctx, "visitor-a")
	require.NoError(t, err)
	again, err := convs.Manager(ctx, "visitor-a")
	require.NoError(t, err)
	b, err := convs.Manager(ctx, "visitor-b")
	require.NoError(t, err)

	assert.Same(t, a, again)
	assert.NotSame(t, a, b)
	assert.Equal(t, session.StateIdle, a.State())
}

func TestConcurrentFirstRequestsShareOneManager(t *testing.T) {
	convs, _, _, _ := newTestService(t, &stubTransport{})
	ctx := context.Background()

	const n = 16
	managers := make([]*session.Manager, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m, err := convs.Manager(ctx, "visitor-a")
			assert.NoError(t, err)
			managers[i] = m
		}(i)
	}
	wg.Wait()

	for _, m := range managers[1:] {
		assert.Same(t, managers[0], m)
	}
}

func TestInvalidVisitor(t *testing.T) {
	convs, _, _, _ := newTestService(t, &stubTransport{})

	_, err := convs.Manager(context.Background(), "../etc/passwd")
	assert.ErrorIs(t, err, ErrInvalidVisitor)
}

func TestVisitorsAreIsolated(t *testing.T) {
	convs, _, _, _ := newTestService(t, &stubTransport{})
	ctx := context.Background()

	_, err := convs.Start(ctx, "visitor-a")
	require.NoError(t, err)

	listA, err := convs.List(ctx, "visitor-a")
	require.NoError(t, err)
	listB, err := convs.List(ctx, "visitor-b")
	require.NoError(t, err)

	assert.Equal(t, 1, listA.Total)
	assert.Equal(t, 0, listB.Total)
}

func TestStartAndList(t *testing.T) {
	convs, _, _, _ := newTestService(t, &stubTransport{})
	ctx := context.Background()

	sess, err := convs.Start(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, "active", sess.State)
	require.Len(t, sess.Messages, 1)
	assert.Equal(t, "Welcome!", sess.Messages[0].Message)

	list, err := convs.List(ctx, "v1")
	require.NoError(t, err)
	require.Len(t, list.Conversations, 1)
	row := list.Conversations[0]
	assert.Equal(t, sess.SessionID, row.SessionID)
	assert.Equal(t, "Conversation 1", row.Title)
	assert.Equal(t, "Today", row.RelativeDate)
	assert.Equal(t, 1, row.MessageCount)
	assert.True(t, row.Active)
	assert.Equal(t, 0, list.ActiveIndex)
}

func TestStartFailureReturnsSession(t *testing.T) {
	convs, _, _, _ := newTestService(t, &stubTransport{err: errors.New("down")})

	sess, err := convs.Start(context.Background(), "v1")
	require.Error(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, "idle", sess.State)
	require.Len(t, sess.Messages, 1)
	assert.Equal(t, session.StartFailureMessage, sess.Messages[0].Message)
}

func TestLoadOutOfRange(t *testing.T) {
	convs, _, _, _ := newTestService(t, &stubTransport{})

	_, err := convs.Load(context.Background(), "v1", 3)
	assert.ErrorIs(t, err, ErrConversationNotFound)
}

func TestReinitRehydrates(t *testing.T) {
	convs, _, _, _ := newTestService(t, &stubTransport{})
	ctx := context.Background()

	first, err := convs.Start(ctx, "v1")
	require.NoError(t, err)
	before, err := convs.Manager(ctx, "v1")
	require.NoError(t, err)

	after, err := convs.Reinit(ctx, "v1")
	require.NoError(t, err)
	assert.NotSame(t, before, after)
	assert.Equal(t, first.SessionID, after.SessionID())
	assert.Len(t, after.Messages(), 1)
}

func TestEvictIdle(t *testing.T) {
	convs, _, _, _ := newTestService(t, &stubTransport{})
	ctx := context.Background()
	now := time.Now()
	convs.now = func() time.Time { return now }

	_, err := convs.Manager(ctx, "v1")
	require.NoError(t, err)

	now = now.Add(30 * time.Second)
	assert.Zero(t, convs.EvictIdle())

	now = now.Add(2 * time.Minute)
	assert.Equal(t, 1, convs.EvictIdle())
}

func TestSendWithFiles(t *testing.T) {
	convs, msgs, _, _ := newTestService(t, &stubTransport{})
	ctx := context.Background()
	_, err := convs.Start(ctx, "v1")
	require.NoError(t, err)

	open := func() (io.ReadCloser, error) { return io.NopCloser(strings.NewReader("x")), nil }
	resp, err := msgs.Send(ctx, "v1", "look", []model.File{
		{Name: "clip.mp4", Size: 10, ContentType: "video/mp4", Open: open},
		{Name: "shot.png", Size: 10, ContentType: "image/png", Open: open},
	})
	require.NoError(t, err)

	require.Len(t, resp.Rejected, 1)
	assert.Equal(t, "clip.mp4", resp.Rejected[0].FileName)
	require.Len(t, resp.Messages, 3)
	assert.Equal(t, []string{"shot.png"}, resp.Messages[1].Files)
	assert.Equal(t, "echo: look", resp.Messages[2].Message)
}

func TestSendWithoutSession(t *testing.T) {
	_, msgs, _, _ := newTestService(t, &stubTransport{})

	_, err := msgs.Send(context.Background(), "v1", "hello", nil)
	assert.ErrorIs(t, err, session.ErrNoSession)
}

func TestTranscriptNothingToDownload(t *testing.T) {
	_, msgs, _, _ := newTestService(t, &stubTransport{})

	_, err := msgs.Transcript(context.Background(), "v1")
	assert.ErrorIs(t, err, session.ErrNothingToDownload)
}

func TestBrokerDeliversManagerEvents(t *testing.T) {
	convs, _, broker, _ := newTestService(t, &stubTransport{})
	ctx := context.Background()

	sub := broker.Subscribe("v1")
	defer broker.Unsubscribe(sub)
	other := broker.Subscribe("v2")
	defer broker.Unsubscribe(other)

	_, err := convs.Start(ctx, "v1")
	require.NoError(t, err)

	var got []model.EventType
	for len(sub.C) > 0 {
		got = append(got, (<-sub.C).Type)
	}
	assert.Equal(t, []model.EventType{
		model.EventSessionStarting,
		model.EventSessionStarted,
		model.EventMessageAppended,
	}, got)
	assert.Zero(t, len(other.C))
}

func TestBrokerDropsForSlowSubscriber(t *testing.T) {
	broker := NewBroker(logger.NewNop())
	sub := broker.Subscribe("v1")

	for i := 0; i < subscriptionBuffer+10; i++ {
		broker.Publish("v1", model.Event{Type: model.EventLoadingStarted})
	}
	assert.Len(t, sub.C, subscriptionBuffer)

	broker.Unsubscribe(sub)
	broker.Unsubscribe(sub)
	assert.Zero(t, broker.Subscribers("v1"))

	_, open := <-sub.C
	assert.True(t, open)
}
