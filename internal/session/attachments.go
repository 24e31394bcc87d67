package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/lithammer/shortuuid/v4"

	"github.com/innovaquest/webchat/internal/model"
	"github.com/innovaquest/webchat/pkg/metrics"
)

// Attach validates each file on its own and adds the accepted ones to the
// pending list. A rejected file never affects the others in the batch.
func (m *Manager) Attach(files ...model.File) ([]model.Attachment, []*model.AttachmentError) {
	var (
		added    []model.Attachment
		rejected []*model.AttachmentError
	)

	for _, f := range files {
		if rej := m.validate(f); rej != nil {
			metrics.AttachmentsRejected.WithLabelValues(rej.Reason).Inc()
			rejected = append(rejected, rej)
			m.emit(model.Event{Type: model.EventAttachmentRejected, Rejection: rej})
			continue
		}

		a := model.Attachment{ID: shortuuid.New(), File: f}
		m.mu.Lock()
		m.pending = append(m.pending, a)
		m.mu.Unlock()
		added = append(added, a)

		meta := a.Metadata()
		m.emit(model.Event{Type: model.EventAttachmentAdded, AttachID: a.ID, Attachment: &meta})
	}

	return added, rejected
}

func (m *Manager) validate(f model.File) *model.AttachmentError {
	if _, ok := m.allowedTypes[strings.ToLower(f.ContentType)]; !ok {
		return &model.AttachmentError{
			FileName: f.Name,
			Reason:   model.RejectDisallowedType,
			Message:  fmt.Sprintf("File %s is not allowed. Only %s files are permitted.", f.Name, m.allowedLabel),
		}
	}
	if f.Size > m.maxFileSize {
		return &model.AttachmentError{
			FileName: f.Name,
			Reason:   model.RejectTooLarge,
			Message:  fmt.Sprintf("File %s is too large. Maximum size is %dMB.", f.Name, m.maxFileSize/(1024*1024)),
		}
	}
	return nil
}

// Detach removes a pending attachment. It reports whether id was found.
func (m *Manager) Detach(id string) bool {
	m.mu.Lock()
	idx := -1
	for i, a := range m.pending {
		if a.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		m.mu.Unlock()
		return false
	}
	removed := m.pending[idx]
	m.pending = append(m.pending[:idx:idx], m.pending[idx+1:]...)
	m.mu.Unlock()

	meta := removed.Metadata()
	m.emit(model.Event{Type: model.EventAttachmentRemoved, AttachID: id, Attachment: &meta})
	return true
}

// Attachments returns a copy of the pending list.
func (m *Manager) Attachments() []model.Attachment {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]model.Attachment(nil), m.pending...)
}

// Send sends text together with every attachment pending when the send
// starts. Sends queued behind a request in flight see the list as the earlier
// send left it.
func (m *Manager) Send(ctx context.Context, text string) error {
	return m.send(ctx, text, nil, true)
}

var typeNames = map[string]string{
	"image/png":       "PNG",
	"image/jpeg":      "JPG",
	"application/pdf": "PDF",
	"text/csv":        "CSV",
}

// typeList names content types for people: "PNG, JPG, PDF, and CSV".
func typeList(types []string) string {
	names := make([]string, len(types))
	for i, t := range types {
		if name, ok := typeNames[t]; ok {
			names[i] = name
			continue
		}
		_, sub, found := strings.Cut(t, "/")
		if !found || sub == "" || sub == "*" {
			sub = t
		}
		names[i] = strings.ToUpper(sub)
	}

	switch len(names) {
	case 0:
		return "no"
	case 1:
		return names[0]
	case 2:
		return names[0] + " and " + names[1]
	default:
		return strings.Join(names[:len(names)-1], ", ") + ", and " + names[len(names)-1]
	}
}
