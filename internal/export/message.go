// Package export parses exporter JSON artifacts into canonical messages.
package export

import (
	"encoding/json"
	"time"
)

// Message is the canonical shape every exporter record is normalized into.
// Immutable once produced.
type Message struct {
	ID              string
	Timestamp       time.Time
	AuthorName      string
	AuthorAvatarURL string
	Body            string
	Attachments     []Attachment
	Embeds          []json.RawMessage
	ReplyToID       string
	ReplyPreview    *ReplyPreview
	JumpURL         string
}

// Attachment references a remote file attached to a message.
// Whether it gets re-uploaded or linked is decided at forward time.
type Attachment struct {
	URL         string
	Filename    string
	ContentType string
	SizeHint    int64
}

// ReplyPreview is a snapshot of the referenced message captured at export
// time. May be absent even when ReplyToID is set.
type ReplyPreview struct {
	Author    string
	Content   string
	Timestamp string
}

// IsReply reports whether the message references an earlier message.
func (m *Message) IsReply() bool {
	return m.ReplyToID != ""
}

// BuildIndex maps message ids to reply previews for the current batch.
// Used as a quote fallback when the parent was exported in the same window
// but never delivered (so the identity map cannot resolve it).
func BuildIndex(msgs []Message) map[string]ReplyPreview {
	idx := make(map[string]ReplyPreview, len(msgs))
	for _, m := range msgs {
		idx[m.ID] = ReplyPreview{
			Author:    m.AuthorName,
			Content:   m.Body,
			Timestamp: m.Timestamp.Format(time.RFC3339),
		}
	}
	return idx
}
