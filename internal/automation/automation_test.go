package automation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/innovaquest/webchat/internal/llm"
	"github.com/innovaquest/webchat/internal/model"
	"github.com/innovaquest/webchat/internal/webhook"
	"github.com/innovaquest/webchat/pkg/logger"
)

type fakeLLM struct {
	reply string
	err   error
	last  *llm.CompletionRequest
}

func (f *fakeLLM) Complete(_ context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	f.last = req
	if f.err != nil {
		return nil, f.err
	}
	return &llm.CompletionResponse{Content: f.reply, Model: "fake", TokensIn: 3, TokensOut: 2}, nil
}

func (f *fakeLLM) Name() string { return "fake" }

func newTestService(client llm.Client) (*Service, *MemoryHistory) {
	hist := NewMemoryHistory()
	svc := NewService(hist, client, Config{
		Greeting: "Hello!",
		System:   "be nice",
		Model:    "test-model",
	}, logger.NewNop())
	return svc, hist
}

func TestService_StartRecordsGreeting(t *testing.T) {
	svc, hist := newTestService(nil)

	greeting, err := svc.Start(context.Background(), "s1", "general")
	require.NoError(t, err)
	assert.Equal(t, "Hello!", greeting)

	turns, err := hist.History(context.Background(), "s1", 0)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, model.RoleAssistant, turns[0].Role)
	assert.Equal(t, "general", turns[0].Route)
}

func TestService_ReplyEchoesWithoutLLM(t *testing.T) {
	svc, _ := newTestService(nil)

	reply, err := svc.Reply(context.Background(), "s1", "general", "hi", nil)
	require.NoError(t, err)
	assert.Equal(t, "You said: hi", reply)

	reply, err = svc.Reply(context.Background(), "s1", "general", "", []model.FileMetadata{{Name: "a.png"}, {Name: "b.csv"}})
	require.NoError(t, err)
	assert.Equal(t, "Received files: a.png, b.csv", reply)
}

func TestService_ReplySendsHistoryToLLM(t *testing.T) {
	fake := &fakeLLM{reply: "**Sure**"}
	svc, hist := newTestService(fake)
	ctx := context.Background()

	_, err := svc.Start(ctx, "s1", "general")
	require.NoError(t, err)

	reply, err := svc.Reply(ctx, "s1", "general", "help me", []model.FileMetadata{{Name: "report.pdf"}})
	require.NoError(t, err)
	assert.Equal(t, "**Sure**", reply)

	require.NotNil(t, fake.last)
	assert.Equal(t, "be nice", fake.last.System)
	assert.Equal(t, "test-model", fake.last.Model)
	require.Len(t, fake.last.Messages, 2)
	assert.Equal(t, llm.RoleAssistant, fake.last.Messages[0].Role)
	assert.Equal(t, llm.RoleUser, fake.last.Messages[1].Role)
	assert.Equal(t, "help me\n\n[Attached: report.pdf]", fake.last.Messages[1].Content)

	turns, err := hist.History(ctx, "s1", 0)
	require.NoError(t, err)
	assert.Len(t, turns, 3)
	assert.Equal(t, []string{"report.pdf"}, turns[1].Files)
}

func TestService_ReplyFailurePublishesEvent(t *testing.T) {
	fake := &fakeLLM{err: errors.New("overloaded")}
	svc, hist := newTestService(fake)

	_, err := svc.Reply(context.Background(), "s1", "general", "hi", nil)
	require.Error(t, err)

	events := hist.Events()
	require.Len(t, events, 1)
	assert.Equal(t, model.EventError, events[0].Type)
	assert.Equal(t, "s1", events[0].SessionID)
	assert.Contains(t, events[0].Reason, "overloaded")
}

func TestMemoryHistory_Isolation(t *testing.T) {
	hist := NewMemoryHistory()
	ctx := context.Background()

	require.NoError(t, hist.Append(ctx, &model.Turn{SessionID: "a", Content: "1"}))
	require.NoError(t, hist.Append(ctx, &model.Turn{SessionID: "b", Content: "2"}))
	require.NoError(t, hist.Append(ctx, &model.Turn{SessionID: "a", Content: "3"}))

	turns, err := hist.History(ctx, "a", 0)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, "1", turns[0].Content)
	assert.Equal(t, "3", turns[1].Content)
	assert.Less(t, turns[0].Sequence, turns[1].Sequence)

	turns, err = hist.History(ctx, "a", 1)
	require.NoError(t, err)
	assert.Len(t, turns, 1)
}

func postJSON(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandler_LoadPreviousSession(t *testing.T) {
	svc, _ := newTestService(nil)
	h := NewHandler(svc, logger.NewNop())

	rec := postJSON(t, h, `[{"action":"loadPreviousSession","sessionId":"s1","route":"general","metadata":{"userId":""}}]`)
	require.Equal(t, http.StatusOK, rec.Code)

	out, err := webhook.ExtractOutput(rec.Body.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "Hello!", out)
	assert.True(t, strings.HasPrefix(strings.TrimSpace(rec.Body.String()), "["))
}

func TestHandler_SendMessageJSON(t *testing.T) {
	svc, _ := newTestService(nil)
	h := NewHandler(svc, logger.NewNop())

	rec := postJSON(t, h, `{"action":"sendMessage","sessionId":"s1","route":"general","chatInput":"ping","metadata":{"userId":""}}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "You said: ping", body["output"])
}

func TestHandler_SendMessageMultipart(t *testing.T) {
	svc, _ := newTestService(nil)
	h := NewHandler(svc, logger.NewNop())

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField(webhook.DataField, `{"action":"sendMessage","sessionId":"s1","route":"general","chatInput":"see file","metadata":{"userId":""}}`))
	part, err := mw.CreateFormFile("file_attachments", "chart.png")
	require.NoError(t, err)
	_, err = part.Write([]byte("png"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/webhook", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	out, err := webhook.ExtractOutput(rec.Body.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "You said: see file\n\nReceived files: chart.png", out)
}

func TestHandler_Rejections(t *testing.T) {
	svc, _ := newTestService(nil)
	h := NewHandler(svc, logger.NewNop())

	tests := []struct {
		name string
		body string
		code int
	}{
		{"invalid json", `{`, http.StatusBadRequest},
		{"missing session", `{"action":"sendMessage","chatInput":"x"}`, http.StatusBadRequest},
		{"unknown action", `{"action":"dance","sessionId":"s1"}`, http.StatusBadRequest},
		{"empty message", `{"action":"sendMessage","sessionId":"s1","chatInput":"  "}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postJSON(t, h, tt.body)
			assert.Equal(t, tt.code, rec.Code)
		})
	}

	req := httptest.NewRequest(http.MethodGet, "/webhook", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandler_LLMFailureIsBadGateway(t *testing.T) {
	svc, _ := newTestService(&fakeLLM{err: errors.New("boom")})
	h := NewHandler(svc, logger.NewNop())

	rec := postJSON(t, h, `{"action":"sendMessage","sessionId":"s1","chatInput":"hi"}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}
