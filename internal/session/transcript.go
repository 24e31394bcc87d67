package session

import (
	"strings"

	"go.uber.org/zap"

	"github.com/innovaquest/webchat/internal/format"
	"github.com/innovaquest/webchat/internal/model"
	"github.com/innovaquest/webchat/internal/render"
)

const transcriptRule = "----------------------------------------"

// DownloadTranscript renders the active conversation as plain text.
func (m *Manager) DownloadTranscript() (model.Transcript, error) {
	m.mu.RLock()
	sessionID := m.sessionID
	messages := model.CloneMessages(m.messages)
	m.mu.RUnlock()

	if sessionID == "" || len(messages) == 0 {
		m.logger.Warn("no conversation to download")
		return model.Transcript{}, ErrNothingToDownload
	}

	now := m.now()
	name := m.cfg.Branding.Name

	var b strings.Builder
	b.WriteString("Conversation with " + name + "\n")
	b.WriteString("Date: " + format.TranscriptDate(now) + "\n")
	b.WriteString(transcriptRule + "\n\n")

	for _, msg := range messages {
		text := msg.Message
		if !msg.FromVisitor() && strings.Contains(text, "<") {
			text = render.StripHTML(text)
		}
		b.WriteString("[" + msg.Timestamp + "] " + msg.Sender + ": " + text + "\n")
		for _, f := range msg.Files {
			b.WriteString("  Attachment: " + f + "\n")
		}
		b.WriteString("\n")
	}

	b.WriteString("\n" + transcriptRule + "\n")
	b.WriteString("Generated on " + format.GeneratedAt(now))

	m.logger.Debug("transcript generated",
		zap.String("session_id", sessionID),
		zap.Int("messages", len(messages)),
	)

	return model.Transcript{
		Filename: format.TranscriptFilename(name, now.UTC()),
		Content:  b.String(),
	}, nil
}
