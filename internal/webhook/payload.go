package webhook

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/innovaquest/webchat/internal/model"
)

// Webhook actions.
const (
	ActionLoadPreviousSession = "loadPreviousSession"
	ActionSendMessage         = "sendMessage"
)

// DataField is the multipart field carrying the JSON envelope.
const DataField = "data"

// ErrMalformedResponse is returned when the webhook answers with something
// other than {"output": "..."} or [{"output": "..."}].
var ErrMalformedResponse = errors.New("webhook: malformed response")

// Envelope is the JSON document posted to the webhook.
type Envelope struct {
	Action    string   `json:"action"`
	SessionID string   `json:"sessionId"`
	Route     string   `json:"route"`
	ChatInput *string  `json:"chatInput,omitempty"`
	Metadata  Metadata `json:"metadata"`
}

// Metadata is the envelope's metadata object.
type Metadata struct {
	UserID          string               `json:"userId"`
	FileAttachments []model.FileMetadata `json:"fileAttachments,omitempty"`
}

// StatusError is returned for non-2xx webhook responses.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("webhook returned status %d: %s", e.Code, e.Body)
}

type outputBody struct {
	Output *string `json:"output"`
}

// ExtractOutput returns the reply text from a webhook response body. Both a
// bare object and an array whose first element is that object are accepted.
func ExtractOutput(body []byte) (string, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return "", fmt.Errorf("%w: empty body", ErrMalformedResponse)
	}

	if body[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(body, &items); err != nil {
			return "", fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}
		if len(items) == 0 {
			return "", fmt.Errorf("%w: empty array", ErrMalformedResponse)
		}
		body = bytes.TrimSpace(items[0])
	}

	if len(body) == 0 || body[0] != '{' {
		return "", fmt.Errorf("%w: expected an object", ErrMalformedResponse)
	}

	var out outputBody
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if out.Output == nil {
		return "", fmt.Errorf("%w: missing output", ErrMalformedResponse)
	}
	return *out.Output, nil
}

// DecodeEnvelope reads an envelope sent either as an object or as a
// one-element array.
func DecodeEnvelope(body []byte) (*Envelope, error) {
	body = bytes.TrimSpace(body)
	if len(body) > 0 && body[0] == '[' {
		var items []Envelope
		if err := json.Unmarshal(body, &items); err != nil {
			return nil, err
		}
		if len(items) == 0 {
			return nil, errors.New("empty envelope array")
		}
		return &items[0], nil
	}
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, err
	}
	return &env, nil
}
