package middleware

import (
	"errors"
	"strconv"
	"unicode/utf8"

	"github.com/google/uuid"
)

// MaxMessageLength is the longest accepted message text, in bytes.
const MaxMessageLength = 100000

// ValidateMessageText validates message text. Empty text is allowed here
// since a message may carry only attachments.
func ValidateMessageText(text string) error {
	if len(text) > MaxMessageLength {
		return errors.New("message exceeds maximum length")
	}
	if !utf8.ValidString(text) {
		return errors.New("message must be valid UTF-8")
	}
	return nil
}

// ValidateVisitorID validates a visitor ID. Only the canonical lowercase
// UUID form is accepted since the ID names a storage key.
func ValidateVisitorID(id string) error {
	u, err := uuid.Parse(id)
	if err != nil || u.String() != id {
		return errors.New("invalid visitor ID format")
	}
	return nil
}

// ParseConversationIndex parses a conversation list index.
func ParseConversationIndex(s string) (int, error) {
	i, err := strconv.Atoi(s)
	if err != nil || i < 0 {
		return 0, errors.New("invalid conversation index")
	}
	return i, nil
}
