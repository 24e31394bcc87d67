package model

import (
	"fmt"
	"io"
	"os"
)

// VisitorSender is the sender name recorded for messages typed by the visitor.
const VisitorSender = "Visitor"

// Message is one entry of a conversation transcript. Messages are never
// modified after being appended, except for filling in the HTML cache.
type Message struct {
	Timestamp string   `json:"timestamp"`
	Sender    string   `json:"sender"`
	Message   string   `json:"message"`
	HTML      *string  `json:"html"`
	Files     []string `json:"files,omitempty"`
}

// FromVisitor reports whether the visitor wrote the message.
func (m Message) FromVisitor() bool {
	return m.Sender == VisitorSender
}

// CloneMessages copies a message slice, including the per-message file lists.
func CloneMessages(in []Message) []Message {
	if in == nil {
		return nil
	}
	out := make([]Message, len(in))
	for i, m := range in {
		out[i] = m
		if m.Files != nil {
			out[i].Files = append([]string(nil), m.Files...)
		}
		if m.HTML != nil {
			html := *m.HTML
			out[i].HTML = &html
		}
	}
	return out
}

// File is a handle on a file chosen by the visitor. Open is called once per
// send; it must return a fresh reader each time.
type File struct {
	Name        string
	Size        int64
	ContentType string
	Open        func() (io.ReadCloser, error)
}

// Attachment is a validated file waiting to be sent. It only lives between
// selection and send and is never persisted.
type Attachment struct {
	ID   string
	File File
}

// FileMetadata describes an attachment inside the webhook JSON envelope.
type FileMetadata struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
	Type string `json:"type"`
}

// Metadata returns the webhook description of the attachment.
func (a Attachment) Metadata() FileMetadata {
	return FileMetadata{
		Name: a.File.Name,
		Size: a.File.Size,
		Type: a.File.ContentType,
	}
}

// AttachmentError reports one file refused during attach.
type AttachmentError struct {
	FileName string `json:"fileName"`
	Reason   string `json:"reason"`
	Message  string `json:"message"`
}

func (e *AttachmentError) Error() string {
	return e.Message
}

// Attachment rejection reasons.
const (
	RejectDisallowedType = "disallowed_type"
	RejectTooLarge       = "too_large"
)

// SendMessageRequest is the JSON body for sending a message.
type SendMessageRequest struct {
	Text string `json:"text"`
}

// SendMessageResponse is returned after a send resolves.
type SendMessageResponse struct {
	Messages []Message         `json:"messages"`
	Rejected []AttachmentError `json:"rejected,omitempty"`
	Error    string            `json:"error,omitempty"`
}

// Transcript is a downloadable plain text rendition of a conversation.
type Transcript struct {
	Filename string
	Content  string
}

// FileFromPath builds a File backed by a path on disk.
func FileFromPath(path, name, contentType string) (File, error) {
	info, err := os.Stat(path)
	if err != nil {
		return File{}, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return File{}, fmt.Errorf("%s is a directory", path)
	}
	return File{
		Name:        name,
		Size:        info.Size(),
		ContentType: contentType,
		Open: func() (io.ReadCloser, error) {
			return os.Open(path)
		},
	}, nil
}
