// Package message defines the Teams-shaped chat message consumed by the pipeline.
package message

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Message is a single chat message from a monitored thread.
type Message struct {
	ID              string `json:"id"`
	ReplyToID       string `json:"replyToId,omitempty"`
	CreatedDateTime string `json:"createdDateTime"`
	From            *From  `json:"from,omitempty"`
	Body            Body   `json:"body"`
}

// From identifies the sender.
type From struct {
	User *User `json:"user,omitempty"`
}

// User is the sending account.
type User struct {
	ID          string `json:"id,omitempty"`
	DisplayName string `json:"displayName"`
}

// Body carries the message content.
type Body struct {
	ContentType string `json:"contentType,omitempty"`
	Content     string `json:"content"`
}

// Content returns the message body text.
func (m Message) Content() string { return m.Body.Content }

// Sender returns the sender display name, or "".
func (m Message) Sender() string {
	if m.From == nil || m.From.User == nil {
		return ""
	}
	return m.From.User.DisplayName
}

// CreatedAt parses CreatedDateTime.
func (m Message) CreatedAt() (time.Time, error) {
	return ParseTimestamp(m.CreatedDateTime)
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
}

// ParseTimestamp parses an ISO-8601 timestamp with a "Z" suffix, a numeric
// offset, or no offset (read as UTC).
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("parse timestamp %q: unsupported format", s)
}

// SortByCreated orders messages by creation time in place. Messages with
// unparsable timestamps fall back to lexical comparison; equal keys keep
// their input order.
func SortByCreated(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		ti, errI := msgs[i].CreatedAt()
		tj, errJ := msgs[j].CreatedAt()
		if errI != nil || errJ != nil {
			return msgs[i].CreatedDateTime < msgs[j].CreatedDateTime
		}
		return ti.Before(tj)
	})
}
