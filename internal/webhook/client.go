// Package webhook talks to the automation backend behind the chat widget.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/innovaquest/webchat/internal/config"
	"github.com/innovaquest/webchat/internal/model"
	"github.com/innovaquest/webchat/pkg/logger"
	"github.com/innovaquest/webchat/pkg/metrics"
)

// maxResponseBytes bounds how much of a reply is read.
const maxResponseBytes = 4 << 20

// Client posts envelopes to the configured webhook URL.
type Client struct {
	url             string
	route           string
	attachmentField string
	httpClient      *http.Client
	logger          *logger.Logger
	tracer          trace.Tracer
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithLogger sets the client logger.
func WithLogger(log *logger.Logger) Option {
	return func(c *Client) {
		c.logger = log
	}
}

// NewClient creates a webhook client from the widget's webhook settings.
func NewClient(cfg config.WebhookConfig, opts ...Option) *Client {
	timeout := time.Duration(cfg.Timeout)
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	field := cfg.AttachmentField
	if field == "" {
		field = config.DefaultAttachmentField
	}

	c := &Client{
		url:             cfg.URL,
		route:           cfg.Route,
		attachmentField: field,
		httpClient:      &http.Client{Timeout: timeout},
		logger:          logger.NewNop(),
		tracer:          otel.Tracer("github.com/innovaquest/webchat/internal/webhook"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StartSession announces a new session and returns the greeting.
func (c *Client) StartSession(ctx context.Context, sessionID string) (string, error) {
	body, err := json.Marshal([]Envelope{{
		Action:    ActionLoadPreviousSession,
		SessionID: sessionID,
		Route:     c.route,
		Metadata:  Metadata{UserID: ""},
	}})
	if err != nil {
		return "", fmt.Errorf("failed to encode envelope: %w", err)
	}
	return c.post(ctx, ActionLoadPreviousSession, sessionID, "application/json", bytes.NewReader(body))
}

// SendMessage posts the visitor's text. The body is JSON when there are no
// attachments and multipart otherwise.
func (c *Client) SendMessage(ctx context.Context, sessionID, text string, attachments []model.Attachment) (string, error) {
	env := Envelope{
		Action:    ActionSendMessage,
		SessionID: sessionID,
		Route:     c.route,
		ChatInput: &text,
		Metadata:  Metadata{UserID: ""},
	}
	for _, a := range attachments {
		env.Metadata.FileAttachments = append(env.Metadata.FileAttachments, a.Metadata())
	}

	if len(attachments) == 0 {
		body, err := json.Marshal(env)
		if err != nil {
			return "", fmt.Errorf("failed to encode envelope: %w", err)
		}
		return c.post(ctx, ActionSendMessage, sessionID, "application/json", bytes.NewReader(body))
	}

	body, contentType, err := c.multipartBody(&env, attachments)
	if err != nil {
		return "", err
	}
	return c.post(ctx, ActionSendMessage, sessionID, contentType, body)
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func (c *Client) multipartBody(env *Envelope, attachments []model.Attachment) (io.Reader, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	data, err := json.Marshal(env)
	if err != nil {
		return nil, "", fmt.Errorf("failed to encode envelope: %w", err)
	}
	if err := mw.WriteField(DataField, string(data)); err != nil {
		return nil, "", fmt.Errorf("failed to write data field: %w", err)
	}

	for _, a := range attachments {
		if err := c.writeFilePart(mw, a.File); err != nil {
			return nil, "", err
		}
	}

	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart body: %w", err)
	}
	return &buf, mw.FormDataContentType(), nil
}

func (c *Client) writeFilePart(mw *multipart.Writer, f model.File) error {
	if f.Open == nil {
		return fmt.Errorf("file %s has no content", f.Name)
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
		quoteEscaper.Replace(c.attachmentField), quoteEscaper.Replace(f.Name)))
	contentType := f.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	h.Set("Content-Type", contentType)

	part, err := mw.CreatePart(h)
	if err != nil {
		return fmt.Errorf("failed to create part for %s: %w", f.Name, err)
	}

	r, err := f.Open()
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", f.Name, err)
	}
	defer r.Close()

	if _, err := io.Copy(part, r); err != nil {
		return fmt.Errorf("failed to read %s: %w", f.Name, err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, action, sessionID, contentType string, body io.Reader) (reply string, err error) {
	ctx, span := c.tracer.Start(ctx, "webhook."+action, trace.WithAttributes(
		attribute.String("webhook.action", action),
		attribute.String("chat.session_id", sessionID),
	))
	start := time.Now()
	defer func() {
		outcome := "success"
		if err != nil {
			outcome = "failure"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			c.logger.Warn("webhook call failed",
				zap.String("action", action),
				zap.String("session_id", sessionID),
				zap.Error(err),
			)
		}
		metrics.RecordWebhook(action, outcome, time.Since(start).Seconds())
		span.End()
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, body)
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("failed to read webhook response: %w", err)
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &StatusError{Code: resp.StatusCode, Body: truncate(string(data), 200)}
	}

	return ExtractOutput(data)
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
