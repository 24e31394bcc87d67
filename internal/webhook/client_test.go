package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/innovaquest/webchat/internal/config"
	"github.com/innovaquest/webchat/internal/model"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(config.WebhookConfig{URL: srv.URL, Route: "general"})
}

func memFile(name, contentType, body string) model.File {
	return model.File{
		Name:        name,
		Size:        int64(len(body)),
		ContentType: contentType,
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader(body)), nil
		},
	}
}

func TestStartSessionSendsLoadPreviousSession(t *testing.T) {
	var got []map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`[{"output":"Hi there"}]`))
	})

	reply, err := c.StartSession(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "Hi there", reply)

	require.Len(t, got, 1)
	assert.Equal(t, "loadPreviousSession", got[0]["action"])
	assert.Equal(t, "sess-1", got[0]["sessionId"])
	assert.Equal(t, "general", got[0]["route"])
	assert.Equal(t, map[string]any{"userId": ""}, got[0]["metadata"])
	_, hasInput := got[0]["chatInput"]
	assert.False(t, hasInput)
}

func TestSendMessageJSON(t *testing.T) {
	var got map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"output":"**ok**"}`))
	})

	reply, err := c.SendMessage(context.Background(), "sess-1", "hello", nil)
	require.NoError(t, err)
	assert.Equal(t, "**ok**", reply)
	assert.Equal(t, "sendMessage", got["action"])
	assert.Equal(t, "hello", got["chatInput"])
	assert.Equal(t, "sess-1", got["sessionId"])
}

func TestSendMessageMultipart(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.True(t, strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data"))
		require.NoError(t, r.ParseMultipartForm(1<<20))

		var env Envelope
		require.NoError(t, json.Unmarshal([]byte(r.FormValue(DataField)), &env))
		assert.Equal(t, ActionSendMessage, env.Action)
		require.NotNil(t, env.ChatInput)
		assert.Equal(t, "see attached", *env.ChatInput)
		assert.Equal(t, []model.FileMetadata{
			{Name: "a.png", Size: 3, Type: "image/png"},
			{Name: "b.csv", Size: 5, Type: "text/csv"},
		}, env.Metadata.FileAttachments)

		files := r.MultipartForm.File[config.DefaultAttachmentField]
		require.Len(t, files, 2)
		assert.Equal(t, "a.png", files[0].Filename)
		assert.Equal(t, "image/png", files[0].Header.Get("Content-Type"))
		f, err := files[1].Open()
		require.NoError(t, err)
		defer f.Close()
		body, _ := io.ReadAll(f)
		assert.Equal(t, "a,b\n1", string(body))

		w.Write([]byte(`[{"output":"received"}]`))
	})

	reply, err := c.SendMessage(context.Background(), "sess-1", "see attached", []model.Attachment{
		{ID: "1", File: memFile("a.png", "image/png", "png")},
		{ID: "2", File: memFile("b.csv", "text/csv", "a,b\n1")},
	})
	require.NoError(t, err)
	assert.Equal(t, "received", reply)
}

func TestCustomAttachmentField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Len(t, r.MultipartForm.File["upload"], 1)
		w.Write([]byte(`{"output":"ok"}`))
	}))
	defer srv.Close()

	c := NewClient(config.WebhookConfig{URL: srv.URL, Route: "general", AttachmentField: "upload"})
	_, err := c.SendMessage(context.Background(), "s", "", []model.Attachment{
		{ID: "1", File: memFile("a.pdf", "application/pdf", "%PDF")},
	})
	require.NoError(t, err)
}

func TestNon2xxIsFailure(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"output":"should be ignored"}`))
	})

	_, err := c.SendMessage(context.Background(), "s", "hi", nil)
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusInternalServerError, statusErr.Code)
}

func TestMalformedResponse(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"reply":"nope"}`))
	})

	_, err := c.StartSession(context.Background(), "s")
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c := NewClient(config.WebhookConfig{URL: srv.URL, Timeout: config.Duration(50 * time.Millisecond)})
	_, err := c.StartSession(context.Background(), "s")
	assert.Error(t, err)
}

func TestExtractOutput(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    string
		wantErr bool
	}{
		{"object", `{"output":"hi"}`, "hi", false},
		{"array", `[{"output":"hi"},{"output":"ignored"}]`, "hi", false},
		{"empty output", `{"output":""}`, "", false},
		{"empty array", `[]`, "", true},
		{"missing output", `{"text":"hi"}`, "", true},
		{"non string output", `{"output":42}`, "", true},
		{"scalar", `"hi"`, "", true},
		{"not json", `<html>`, "", true},
		{"empty", ``, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractOutput([]byte(tt.body))
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrMalformedResponse)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeEnvelope(t *testing.T) {
	env, err := DecodeEnvelope([]byte(`[{"action":"loadPreviousSession","sessionId":"s","route":"r","metadata":{"userId":""}}]`))
	require.NoError(t, err)
	assert.Equal(t, ActionLoadPreviousSession, env.Action)
	assert.Nil(t, env.ChatInput)

	env, err = DecodeEnvelope([]byte(`{"action":"sendMessage","sessionId":"s","chatInput":"hi","metadata":{}}`))
	require.NoError(t, err)
	require.NotNil(t, env.ChatInput)
	assert.Equal(t, "hi", *env.ChatInput)

	_, err = DecodeEnvelope([]byte(`[]`))
	assert.Error(t, err)
}
