package export

import (
	"encoding/json"
	"fmt"
	"path"
	"regexp"
	"sort"
	"strings"
	"time"
)

const (
	// Webhook display-name cap on the destination platform.
	maxAuthorLen = 80

	maxFilenameLen = 180
)

// flexID tolerates exporter generations that emit ids as JSON numbers
// instead of strings.
type flexID string

func (f *flexID) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" {
		*f = ""
		return nil
	}
	if len(s) >= 2 && s[0] == '"' {
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*f = flexID(v)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexID(n.String())
	return nil
}

type rawAuthor struct {
	Nickname   string `json:"nickname"`
	Name       string `json:"name"`
	Username   string `json:"username"`
	AvatarURL  string `json:"avatarUrl"`
	AvatarURL2 string `json:"avatar_url"`
	Avatar     string `json:"avatar"`
}

type rawAttachment struct {
	URL         string `json:"url"`
	ProxyURL    string `json:"proxyUrl"`
	ProxyURL2   string `json:"proxy_url"`
	FileName    string `json:"fileName"`
	FileName2   string `json:"filename"`
	ContentType string `json:"contentType"`
	Type        string `json:"type"`
	Size        int64  `json:"size"`
	FileSize    int64  `json:"fileSize"`
}

type rawReference struct {
	MessageID  flexID `json:"messageId"`
	MessageID2 flexID `json:"message_id"`
	ID         flexID `json:"id"`
}

type rawReferenced struct {
	ID        flexID     `json:"id"`
	Author    *rawAuthor `json:"author"`
	Content   string     `json:"content"`
	Timestamp string     `json:"timestamp"`
}

type rawRecord struct {
	ID          flexID            `json:"id"`
	Timestamp   string            `json:"timestamp"`
	Content     string            `json:"content"`
	Author      *rawAuthor        `json:"author"`
	Attachments []rawAttachment   `json:"attachments"`
	Embeds      []json.RawMessage `json:"embeds"`
	Reference   *rawReference     `json:"reference"`
	Referenced  *rawReferenced    `json:"referencedMessage"`
	RepliesTo   *rawReference     `json:"repliesTo"`
	RepliesTo2  *rawReference     `json:"replies_to"`
	URL         string            `json:"url"`
	JumpURL     string            `json:"jumpUrl"`
}

type artifact struct {
	Messages []rawRecord `json:"messages"`
}

// ParseArtifact decodes an exporter artifact (either {"messages":[...]} or a
// bare array) and normalizes it into canonical messages sorted by
// (timestamp, id) ascending. Records with no recoverable id are skipped;
// the skip count is returned alongside so callers can log it.
func ParseArtifact(data []byte) ([]Message, int, error) {
	var records []rawRecord

	trimmed := strings.TrimLeftFunc(string(data), func(r rune) bool {
		return r == ' ' || r == '\t' || r == '\n' || r == '\r'
	})
	switch {
	case strings.HasPrefix(trimmed, "{"):
		var a artifact
		if err := json.Unmarshal(data, &a); err != nil {
			return nil, 0, fmt.Errorf("parse artifact: %w", err)
		}
		if a.Messages == nil {
			return nil, 0, fmt.Errorf("parse artifact: missing messages array")
		}
		records = a.Messages
	case strings.HasPrefix(trimmed, "["):
		if err := json.Unmarshal(data, &records); err != nil {
			return nil, 0, fmt.Errorf("parse artifact: %w", err)
		}
	default:
		return nil, 0, fmt.Errorf("parse artifact: unexpected structure")
	}

	msgs := make([]Message, 0, len(records))
	skipped := 0
	for i := range records {
		m, ok := normalizeRecord(&records[i])
		if !ok {
			skipped++
			continue
		}
		msgs = append(msgs, m)
	}

	sort.SliceStable(msgs, func(i, j int) bool {
		if !msgs[i].Timestamp.Equal(msgs[j].Timestamp) {
			return msgs[i].Timestamp.Before(msgs[j].Timestamp)
		}
		return msgs[i].ID < msgs[j].ID
	})

	return msgs, skipped, nil
}

func normalizeRecord(r *rawRecord) (Message, bool) {
	id := string(r.ID)
	if id == "" {
		return Message{}, false
	}

	m := Message{
		ID:         id,
		Timestamp:  parseTimestamp(r.Timestamp),
		AuthorName: truncateRunes(authorName(r.Author), maxAuthorLen),
		Body:       r.Content,
		ReplyToID:  replyReference(r),
		JumpURL:    firstNonEmpty(r.URL, r.JumpURL),
	}

	if r.Author != nil {
		m.AuthorAvatarURL = firstNonEmpty(r.Author.AvatarURL, r.Author.AvatarURL2, r.Author.Avatar)
	}

	for _, a := range r.Attachments {
		url := firstNonEmpty(a.URL, a.ProxyURL, a.ProxyURL2)
		if url == "" {
			continue
		}
		name := firstNonEmpty(a.FileName, a.FileName2, path.Base(url))
		size := a.Size
		if size == 0 {
			size = a.FileSize
		}
		m.Attachments = append(m.Attachments, Attachment{
			URL:         url,
			Filename:    SanitizeFilename(name),
			ContentType: firstNonEmpty(a.ContentType, a.Type, "application/octet-stream"),
			SizeHint:    size,
		})
	}

	for _, e := range r.Embeds {
		if json.Valid(e) {
			m.Embeds = append(m.Embeds, e)
		}
	}

	if r.Referenced != nil {
		m.ReplyPreview = &ReplyPreview{
			Author:    authorName(r.Referenced.Author),
			Content:   strings.TrimSpace(r.Referenced.Content),
			Timestamp: r.Referenced.Timestamp,
		}
	}

	return m, true
}

// replyReference checks the known reply encodings in precedence order:
// direct reference object, embedded referenced-message snapshot, generic
// replies-to object. Absence of all three means "not a reply".
func replyReference(r *rawRecord) string {
	if r.Reference != nil {
		if id := firstNonEmpty(string(r.Reference.MessageID), string(r.Reference.MessageID2), string(r.Reference.ID)); id != "" {
			return id
		}
	}
	if r.Referenced != nil && r.Referenced.ID != "" {
		return string(r.Referenced.ID)
	}
	for _, rt := range []*rawReference{r.RepliesTo, r.RepliesTo2} {
		if rt != nil {
			if id := firstNonEmpty(string(rt.MessageID), string(rt.MessageID2), string(rt.ID)); id != "" {
				return id
			}
		}
	}
	return ""
}

func authorName(a *rawAuthor) string {
	if a == nil {
		return "Unknown"
	}
	return firstNonEmpty(a.Nickname, a.Name, a.Username, "Unknown")
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
}

func parseTimestamp(s string) time.Time {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

var forbiddenFilenameChars = regexp.MustCompile(`[\\/:*?"<>|\x00-\x1F]`)

// SanitizeFilename strips characters the destination platform (and Windows
// filesystems) reject, and clamps overlong names while keeping the extension.
func SanitizeFilename(fn string) string {
	if fn == "" {
		fn = "file"
	}
	fn = forbiddenFilenameChars.ReplaceAllString(fn, "_")
	if len(fn) > maxFilenameLen {
		ext := path.Ext(fn)
		base := strings.TrimSuffix(fn, ext)
		if len(base) > 170 {
			base = base[:170]
		}
		if len(ext) > 10 {
			ext = ext[:10]
		}
		fn = base + "~" + ext
	}
	if fn == "" {
		fn = "file"
	}
	return fn
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
