package handler

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/innovaquest/webchat/internal/config"
	"github.com/innovaquest/webchat/internal/middleware"
	"github.com/innovaquest/webchat/internal/model"
	"github.com/innovaquest/webchat/internal/service"
	"github.com/innovaquest/webchat/internal/storage"
	"github.com/innovaquest/webchat/internal/webhook"
	"github.com/innovaquest/webchat/pkg/logger"
)

type stubTransport struct {
	sendErr error
}

func (s *stubTransport) StartSession(context.Context, string) (string, error) {
	return "Welcome!", nil
}

func (s *stubTransport) SendMessage(_ context.Context, _, text string, attachments []model.Attachment) (string, error) {
	if s.sendErr != nil {
		return "", s.sendErr
	}
	return "got " + text, nil
}

type testAPI struct {
	router    http.Handler
	visitorID string
	transport *stubTransport
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	log := logger.NewNop()
	tr := &stubTransport{}
	broker := service.NewBroker(log)
	convSvc := service.NewConversationService(storage.NewMemory(), tr, config.DefaultWidget(), broker, time.Minute, log)
	msgSvc := service.NewMessageService(convSvc, log)

	convHandler := NewConversationHandler(convSvc, log)
	msgHandler := NewMessageHandler(msgSvc, 1<<20, log)
	streamHandler := NewStreamHandler(convSvc, broker, 50*time.Millisecond, log)
	visitorHandler := NewVisitorHandler("secret", time.Hour, config.DefaultWidget(), log)

	visitorID := uuid.NewString()
	r := chi.NewRouter()
	r.Post("/api/v1/visitors", visitorHandler.Create)
	r.Get("/api/v1/widget/config", visitorHandler.WidgetConfig)
	r.Group(func(r chi.Router) {
		r.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
				next.ServeHTTP(w, req.WithContext(middleware.WithVisitorID(req.Context(), visitorID)))
			})
		})
		r.Post("/api/v1/session/init", convHandler.Init)
		r.Get("/api/v1/session", convHandler.Get)
		r.Post("/api/v1/session/reset", convHandler.Reset)
		r.Post("/api/v1/session/messages", msgHandler.Send)
		r.Get("/api/v1/session/transcript", msgHandler.Transcript)
		r.Get("/api/v1/session/events", streamHandler.Events)
		r.Get("/api/v1/conversations", convHandler.List)
		r.Post("/api/v1/conversations", convHandler.Create)
		r.Post("/api/v1/conversations/{index}/load", convHandler.Load)
	})

	return &testAPI{router: r, visitorID: visitorID, transport: tr}
}

func (a *testAPI) do(t *testing.T, method, path string, body []byte, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestVisitorTokenAndWidgetConfig(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, http.MethodPost, "/api/v1/visitors", nil, "")
	require.Equal(t, http.StatusCreated, rec.Code)
	v := decode[model.VisitorResponse](t, rec)
	assert.NoError(t, middleware.ValidateVisitorID(v.VisitorID))
	assert.NotEmpty(t, v.Token)

	rec = api.do(t, http.MethodGet, "/api/v1/widget/config", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"name":"InnovaQuest"`)
	assert.NotContains(t, rec.Body.String(), "webhook")
}

func TestConversationFlow(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, http.MethodPost, "/api/v1/session/init", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "idle", decode[model.SessionResponse](t, rec).State)

	rec = api.do(t, http.MethodPost, "/api/v1/conversations", nil, "")
	require.Equal(t, http.StatusCreated, rec.Code)
	started := decode[model.SessionResponse](t, rec)
	assert.Equal(t, "active", started.State)
	require.Len(t, started.Messages, 1)

	rec = api.do(t, http.MethodPost, "/api/v1/session/messages", []byte(`{"text":"hello"}`), "application/json")
	require.Equal(t, http.StatusOK, rec.Code)
	sent := decode[model.SendMessageResponse](t, rec)
	require.Len(t, sent.Messages, 3)
	assert.Equal(t, "got hello", sent.Messages[2].Message)

	rec = api.do(t, http.MethodGet, "/api/v1/conversations", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[model.ListConversationsResponse](t, rec)
	require.Equal(t, 1, list.Total)
	assert.Equal(t, "got hello", list.Conversations[0].Preview)

	rec = api.do(t, http.MethodPost, "/api/v1/session/reset", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "idle", decode[model.SessionResponse](t, rec).State)

	rec = api.do(t, http.MethodPost, "/api/v1/conversations/0/load", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	loaded := decode[model.SessionResponse](t, rec)
	assert.Equal(t, started.SessionID, loaded.SessionID)
	assert.Len(t, loaded.Messages, 3)
}

func TestLoadErrors(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, http.MethodPost, "/api/v1/conversations/7/load", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = api.do(t, http.MethodPost, "/api/v1/conversations/abc/load", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSendErrors(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, http.MethodPost, "/api/v1/session/messages", []byte(`{"text":"hi"}`), "application/json")
	assert.Equal(t, http.StatusConflict, rec.Code)

	api.do(t, http.MethodPost, "/api/v1/conversations", nil, "")

	rec = api.do(t, http.MethodPost, "/api/v1/session/messages", []byte(`{"text":"   "}`), "application/json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(t, http.MethodPost, "/api/v1/session/messages", []byte(`not json`), "application/json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	api.transport.sendErr = &webhook.StatusError{Code: 500, Body: "boom"}
	rec = api.do(t, http.MethodPost, "/api/v1/session/messages", []byte(`{"text":"hi"}`), "application/json")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	resp := decode[model.SendMessageResponse](t, rec)
	require.Len(t, resp.Messages, 3)
	assert.Equal(t, "Sorry, there was an error sending your message. Please try again.", resp.Messages[2].Message)

	api.transport.sendErr = errors.New("connection reset")
	rec = api.do(t, http.MethodPost, "/api/v1/session/messages", []byte(`{"text":"again"}`), "application/json")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestSendMultipart(t *testing.T) {
	api := newTestAPI(t)
	api.do(t, http.MethodPost, "/api/v1/conversations", nil, "")

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField(TextField, "with files"))
	for _, f := range []struct{ name, ctype string }{{"a.csv", "text/csv"}, {"b.mp4", "video/mp4"}} {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="files"; filename="`+f.name+`"`)
		h.Set("Content-Type", f.ctype)
		part, err := mw.CreatePart(h)
		require.NoError(t, err)
		part.Write([]byte("data"))
	}
	require.NoError(t, mw.Close())

	rec := api.do(t, http.MethodPost, "/api/v1/session/messages", body.Bytes(), mw.FormDataContentType())
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[model.SendMessageResponse](t, rec)
	require.Len(t, resp.Rejected, 1)
	assert.Equal(t, "b.mp4", resp.Rejected[0].FileName)
	assert.Equal(t, []string{"a.csv"}, resp.Messages[1].Files)
}

func TestTranscript(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, http.MethodGet, "/api/v1/session/transcript", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	api.do(t, http.MethodPost, "/api/v1/conversations", nil, "")
	rec = api.do(t, http.MethodGet, "/api/v1/session/transcript", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/plain; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "InnovaQuest-conversation-")
	assert.True(t, strings.HasPrefix(rec.Body.String(), "Conversation with InnovaQuest\n"))
}

func TestEventsStream(t *testing.T) {
	api := newTestAPI(t)
	srv := httptest.NewServer(api.router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/session/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	nextEvent := func() string {
		for {
			line, err := reader.ReadString('\n')
			require.NoError(t, err)
			if strings.HasPrefix(line, "event: ") {
				return strings.TrimSpace(strings.TrimPrefix(line, "event: "))
			}
		}
	}

	require.Equal(t, "connected", nextEvent())

	go func() {
		r, err := http.Post(srv.URL+"/api/v1/conversations", "application/json", nil)
		if err == nil {
			r.Body.Close()
		}
	}()

	var seen []string
	for len(seen) < 3 {
		if ev := nextEvent(); ev != "heartbeat" {
			seen = append(seen, ev)
		}
	}
	assert.Equal(t, []string{"session_starting", "session_started", "message_appended"}, seen)
}

type observingKV struct {
	storage.KV
	onGet func()
}

func (o *observingKV) Get(ctx context.Context, key string) ([]byte, error) {
	o.onGet()
	return o.KV.Get(ctx, key)
}

func TestEventsSubscribesBeforeReadingSession(t *testing.T) {
	log := logger.NewNop()
	broker := service.NewBroker(log)
	visitorID := uuid.NewString()

	subscribers := make(chan int, 1)
	kv := &observingKV{KV: storage.NewMemory(), onGet: func() {
		select {
		case subscribers <- broker.Subscribers(visitorID):
		default:
		}
	}}
	convSvc := service.NewConversationService(kv, &stubTransport{}, config.DefaultWidget(), broker, time.Minute, log)
	h := NewStreamHandler(convSvc, broker, time.Hour, log)

	ctx, cancel := context.WithCancel(middleware.WithVisitorID(context.Background(), visitorID))
	req := httptest.NewRequest(http.MethodGet, "/api/v1/session/events", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.Events(rec, req)
	}()

	select {
	case n := <-subscribers:
		assert.Equal(t, 1, n)
	case <-time.After(5 * time.Second):
		t.Fatal("session was never read")
	}
	cancel()
	<-done

	assert.Equal(t, 0, broker.Subscribers(visitorID))
	assert.Contains(t, rec.Body.String(), "event: connected")
}

func TestHealth(t *testing.T) {
	h := NewHealthHandler(storage.NewMemory())

	rec := httptest.NewRecorder()
	h.Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

type downPinger struct{}

func (downPinger) Ping(context.Context) error { return errors.New("down") }

func TestReadyWhenStorageDown(t *testing.T) {
	rec := httptest.NewRecorder()
	NewHealthHandler(downPinger{}).Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
