package handler

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/innovaquest/webchat/internal/middleware"
	"github.com/innovaquest/webchat/internal/model"
	"github.com/innovaquest/webchat/internal/service"
	"github.com/innovaquest/webchat/internal/session"
	"github.com/innovaquest/webchat/pkg/logger"
)

const (
	// FilesField is the multipart field carrying visitor uploads.
	FilesField = "files"
	// TextField is the multipart field carrying the message text.
	TextField = "text"

	multipartMemory = 32 << 20
)

// MessageHandler handles message endpoints.
type MessageHandler struct {
	messageService *service.MessageService
	maxBodyBytes   int64
	logger         *logger.Logger
}

// NewMessageHandler creates a new message handler. maxBodyBytes bounds a
// whole send request, uploads included.
func NewMessageHandler(msgSvc *service.MessageService, maxBodyBytes int64, log *logger.Logger) *MessageHandler {
	return &MessageHandler{
		messageService: msgSvc,
		maxBodyBytes:   maxBodyBytes,
		logger:         log,
	}
}

// Send handles POST /api/v1/session/messages. The body is either JSON
// {"text": "..."} or multipart with a text field and file parts.
func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	visitorID := middleware.GetVisitorID(ctx)

	if h.maxBodyBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	}

	text, files, cleanup, err := h.readSendRequest(r)
	if cleanup != nil {
		defer cleanup()
	}
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "request too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := middleware.ValidateMessageText(text); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := h.messageService.Send(ctx, visitorID, text, files)
	if err != nil {
		status := statusFor(err)
		if resp != nil && !errors.Is(err, session.ErrEmptyMessage) {
			// The visitor record and the fixed error reply were both appended.
			h.logger.Warn("message send failed",
				zap.String("visitor_id", visitorID),
				zap.String("correlation_id", middleware.GetCorrelationID(ctx)),
				zap.Error(err),
			)
			if status == http.StatusInternalServerError {
				status = http.StatusBadGateway
			}
			resp.Error = "failed to reach the chat service"
			writeJSON(w, status, resp)
			return
		}
		if resp != nil {
			resp.Error = err.Error()
			writeJSON(w, status, resp)
			return
		}
		writeError(w, status, userMessage(err, status))
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *MessageHandler) readSendRequest(r *http.Request) (string, []model.File, func(), error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	if mediaType != "multipart/form-data" {
		var req model.SendMessageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return "", nil, nil, err
		}
		return req.Text, nil, nil, nil
	}

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		return "", nil, nil, err
	}
	form := r.MultipartForm
	cleanup := func() { form.RemoveAll() }

	var files []model.File
	for _, fh := range form.File[FilesField] {
		files = append(files, fileFromHeader(fh))
	}
	return r.FormValue(TextField), files, cleanup, nil
}

func fileFromHeader(fh *multipart.FileHeader) model.File {
	contentType := fh.Header.Get("Content-Type")
	if mt, _, err := mime.ParseMediaType(contentType); err == nil {
		contentType = mt
	}
	return model.File{
		Name:        fh.Filename,
		Size:        fh.Size,
		ContentType: strings.ToLower(contentType),
		Open: func() (io.ReadCloser, error) {
			return fh.Open()
		},
	}
}

// Transcript handles GET /api/v1/session/transcript
func (h *MessageHandler) Transcript(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	tx, err := h.messageService.Transcript(ctx, middleware.GetVisitorID(ctx))
	if err != nil {
		status := statusFor(err)
		writeError(w, status, userMessage(err, status))
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{
		"filename": tx.Filename,
	}))
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, tx.Content)
}
