package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/innovaquest/webchat/internal/middleware"
	"github.com/innovaquest/webchat/internal/model"
	"github.com/innovaquest/webchat/internal/service"
	"github.com/innovaquest/webchat/pkg/logger"
	"github.com/innovaquest/webchat/pkg/metrics"
)

// DefaultHeartbeat is how often idle event streams get a heartbeat.
const DefaultHeartbeat = 30 * time.Second

// StreamHandler handles SSE streaming endpoints.
type StreamHandler struct {
	conversationService *service.ConversationService
	broker              *service.Broker
	heartbeat           time.Duration
	logger              *logger.Logger
}

// NewStreamHandler creates a new stream handler.
func NewStreamHandler(
	convSvc *service.ConversationService,
	broker *service.Broker,
	heartbeat time.Duration,
	log *logger.Logger,
) *StreamHandler {
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeat
	}
	return &StreamHandler{
		conversationService: convSvc,
		broker:              broker,
		heartbeat:           heartbeat,
		logger:              log,
	}
}

// Events handles GET /api/v1/session/events. The first event is the current
// session; manager events follow as they happen.
func (h *StreamHandler) Events(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	visitorID := middleware.GetVisitorID(ctx)

	// Subscribe before reading the snapshot so no event falls between them.
	sub := h.broker.Subscribe(visitorID)
	defer h.broker.Unsubscribe(sub)

	snapshot, err := h.conversationService.Session(ctx, visitorID)
	if err != nil {
		status := statusFor(err)
		writeError(w, status, userMessage(err, status))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	// The stream outlives the server's write timeout.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	metrics.IncrementSSEConnections()
	defer metrics.DecrementSSEConnections()

	sendSSEEvent(w, flusher, "connected", snapshot)

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("SSE client disconnected", zap.String("visitor_id", visitorID))
			return

		case event, ok := <-sub.C:
			if !ok {
				return
			}
			if err := sendSSEEvent(w, flusher, string(event.Type), &event); err != nil {
				h.logger.Warn("failed to write event", zap.String("visitor_id", visitorID), zap.Error(err))
				sendSSEEvent(w, flusher, "error", &model.ErrorEvent{
					Code:    "encode_error",
					Message: "failed to encode event",
				})
			}

		case <-heartbeat.C:
			sendSSEEvent(w, flusher, "heartbeat", &model.HeartbeatEvent{
				Timestamp: time.Now(),
			})
		}
	}
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", jsonData)
	flusher.Flush()

	return nil
}
