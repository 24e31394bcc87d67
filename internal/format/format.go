// Package format renders sizes, times and dates the way the widget shows them.
package format

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	kib = 1024
	mib = 1024 * 1024
	day = 24 * time.Hour

	// PreviewLength is the number of characters kept in a conversation preview.
	PreviewLength = 60
)

// FileSize renders a byte count as "500 B", "2.0 KB" or "5.0 MB".
func FileSize(bytes int64) string {
	switch {
	case bytes < kib:
		return fmt.Sprintf("%d B", bytes)
	case bytes < mib:
		return fmt.Sprintf("%.1f KB", float64(bytes)/kib)
	default:
		return fmt.Sprintf("%.1f MB", float64(bytes)/mib)
	}
}

// MessageTime renders the timestamp stored on each message, e.g. "09:05 PM".
func MessageTime(t time.Time) string {
	return t.Format("03:04 PM")
}

// RelativeDate renders a conversation's last update relative to now.
func RelativeDate(t, now time.Time) string {
	diff := now.Sub(t)
	switch {
	case diff < day:
		return "Today"
	case diff < 2*day:
		return "Yesterday"
	default:
		return t.Format("Jan 2")
	}
}

// TranscriptDate renders the date line of a transcript header, e.g. "3/7/2025".
func TranscriptDate(t time.Time) string {
	return t.Format("1/2/2006")
}

// GeneratedAt renders the transcript footer timestamp.
func GeneratedAt(t time.Time) string {
	return t.Format("1/2/2006, 3:04:05 PM")
}

var whitespace = regexp.MustCompile(`\s+`)

// Preview collapses whitespace and truncates text to PreviewLength
// characters, appending "..." when something was cut.
func Preview(text string) string {
	text = strings.TrimSpace(whitespace.ReplaceAllString(text, " "))
	if utf8.RuneCountInString(text) <= PreviewLength {
		return text
	}
	runes := []rune(text)
	return string(runes[:PreviewLength]) + "..."
}

// TranscriptFilename builds the download name for a transcript.
func TranscriptFilename(botName string, t time.Time) string {
	return fmt.Sprintf("%s-conversation-%s.txt", whitespace.ReplaceAllString(botName, "-"), t.Format("2006-01-02"))
}
