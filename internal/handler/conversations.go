// Package handler provides HTTP handlers for the API.
package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/innovaquest/webchat/internal/middleware"
	"github.com/innovaquest/webchat/internal/service"
	"github.com/innovaquest/webchat/pkg/logger"
)

// ConversationHandler handles session and conversation endpoints.
type ConversationHandler struct {
	service *service.ConversationService
	logger  *logger.Logger
}

// NewConversationHandler creates a new conversation handler.
func NewConversationHandler(svc *service.ConversationService, log *logger.Logger) *ConversationHandler {
	return &ConversationHandler{
		service: svc,
		logger:  log,
	}
}

// Init handles POST /api/v1/session/init
func (h *ConversationHandler) Init(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	visitorID := middleware.GetVisitorID(ctx)

	m, err := h.service.Reinit(ctx, visitorID)
	if err != nil {
		h.fail(w, r, "failed to initialize session", err)
		return
	}

	writeJSON(w, http.StatusOK, m.Snapshot())
}

// Get handles GET /api/v1/session
func (h *ConversationHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	resp, err := h.service.Session(ctx, middleware.GetVisitorID(ctx))
	if err != nil {
		h.fail(w, r, "failed to get session", err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// Reset handles POST /api/v1/session/reset
func (h *ConversationHandler) Reset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	resp, err := h.service.Reset(ctx, middleware.GetVisitorID(ctx))
	if err != nil {
		h.fail(w, r, "failed to reset session", err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// Create handles POST /api/v1/conversations
func (h *ConversationHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	resp, err := h.service.Start(ctx, middleware.GetVisitorID(ctx))
	if err != nil {
		if resp == nil {
			h.fail(w, r, "failed to start conversation", err)
			return
		}
		// The session already carries the apology message.
		resp.Error = "failed to reach the chat service"
		writeJSON(w, http.StatusBadGateway, resp)
		return
	}

	writeJSON(w, http.StatusCreated, resp)
}

// List handles GET /api/v1/conversations
func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	resp, err := h.service.List(ctx, middleware.GetVisitorID(ctx))
	if err != nil {
		h.fail(w, r, "failed to list conversations", err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// Load handles POST /api/v1/conversations/{index}/load
func (h *ConversationHandler) Load(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	index, err := middleware.ParseConversationIndex(chi.URLParam(r, "index"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := h.service.Load(ctx, middleware.GetVisitorID(ctx), index)
	if err != nil {
		h.fail(w, r, "failed to load conversation", err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *ConversationHandler) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(msg,
			zap.String("visitor_id", middleware.GetVisitorID(r.Context())),
			zap.String("correlation_id", middleware.GetCorrelationID(r.Context())),
			zap.Error(err),
		)
	}
	writeError(w, status, userMessage(err, status))
}
