package automation

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/innovaquest/webchat/internal/model"
	"github.com/innovaquest/webchat/internal/webhook"
	"github.com/innovaquest/webchat/pkg/logger"
)

const (
	maxEnvelopeBytes = 1 << 20
	multipartMemory  = 32 << 20
)

// Handler serves the webhook contract over HTTP.
type Handler struct {
	service *Service
	logger  *logger.Logger
}

// NewHandler creates a new webhook handler.
func NewHandler(svc *Service, log *logger.Logger) *Handler {
	return &Handler{service: svc, logger: log}
}

type outputResponse struct {
	Output string `json:"output"`
}

// ServeHTTP handles POST requests carrying a JSON envelope or a multipart
// body with the envelope in its data field.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	env, files, err := readEnvelope(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if env.SessionID == "" {
		writeError(w, http.StatusBadRequest, "sessionId is required")
		return
	}

	ctx := r.Context()
	switch env.Action {
	case webhook.ActionLoadPreviousSession:
		greeting, err := h.service.Start(ctx, env.SessionID, env.Route)
		if err != nil {
			h.logger.Error("failed to start session", zap.String("session_id", env.SessionID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to start session")
			return
		}
		writeJSON(w, http.StatusOK, []outputResponse{{Output: greeting}})

	case webhook.ActionSendMessage:
		text := ""
		if env.ChatInput != nil {
			text = strings.TrimSpace(*env.ChatInput)
		}
		meta := env.Metadata.FileAttachments
		if len(meta) == 0 {
			meta = files
		}
		if text == "" && len(meta) == 0 {
			writeError(w, http.StatusBadRequest, "chatInput is required")
			return
		}

		reply, err := h.service.Reply(ctx, env.SessionID, env.Route, text, meta)
		if err != nil {
			h.logger.Error("failed to answer message", zap.String("session_id", env.SessionID), zap.Error(err))
			writeError(w, http.StatusBadGateway, "failed to generate a reply")
			return
		}
		writeJSON(w, http.StatusOK, outputResponse{Output: reply})

	default:
		writeError(w, http.StatusBadRequest, "unknown action")
	}
}

// readEnvelope decodes the request. For multipart bodies the uploaded file
// parts are described in the returned metadata.
func readEnvelope(r *http.Request) (*webhook.Envelope, []model.FileMetadata, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxEnvelopeBytes))
		if err != nil {
			return nil, nil, err
		}
		env, err := webhook.DecodeEnvelope(body)
		return env, nil, err
	}

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		return nil, nil, err
	}
	defer r.MultipartForm.RemoveAll()

	data := r.FormValue(webhook.DataField)
	if data == "" {
		return nil, nil, errors.New("missing data field")
	}
	env, err := webhook.DecodeEnvelope([]byte(data))
	if err != nil {
		return nil, nil, err
	}

	var files []model.FileMetadata
	for _, headers := range r.MultipartForm.File {
		for _, fh := range headers {
			files = append(files, model.FileMetadata{
				Name: fh.Filename,
				Size: fh.Size,
				Type: fh.Header.Get("Content-Type"),
			})
		}
	}
	return env, files, nil
}
