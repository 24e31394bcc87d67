package handler

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/innovaquest/webchat/internal/config"
	"github.com/innovaquest/webchat/internal/middleware"
	"github.com/innovaquest/webchat/internal/model"
	"github.com/innovaquest/webchat/pkg/logger"
)

// VisitorHandler issues visitor tokens and serves the widget configuration.
type VisitorHandler struct {
	jwtSecret string
	tokenTTL  time.Duration
	widget    config.WidgetConfig
	logger    *logger.Logger
}

// NewVisitorHandler creates a new visitor handler.
func NewVisitorHandler(jwtSecret string, tokenTTL time.Duration, widget config.WidgetConfig, log *logger.Logger) *VisitorHandler {
	return &VisitorHandler{
		jwtSecret: jwtSecret,
		tokenTTL:  tokenTTL,
		widget:    widget,
		logger:    log,
	}
}

// Create handles POST /api/v1/visitors
func (h *VisitorHandler) Create(w http.ResponseWriter, r *http.Request) {
	visitorID := uuid.NewString()

	token, expires, err := middleware.IssueToken(h.jwtSecret, visitorID, h.tokenTTL)
	if err != nil {
		h.logger.Error("failed to issue visitor token", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to issue token")
		return
	}

	writeJSON(w, http.StatusCreated, &model.VisitorResponse{
		VisitorID: visitorID,
		Token:     token,
		ExpiresAt: expires,
	})
}

// widgetView is the part of the widget configuration the embedding page
// needs. The webhook location stays on the server.
type widgetView struct {
	Branding config.BrandingConfig `json:"branding"`
	Style    config.StyleConfig    `json:"style"`
}

// WidgetConfig handles GET /api/v1/widget/config
func (h *VisitorHandler) WidgetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, &widgetView{
		Branding: h.widget.Branding,
		Style:    h.widget.Style,
	})
}
