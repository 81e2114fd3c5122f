package webhook

import "encoding/json"

// MessageReference attaches a native threaded reply to an existing
// destination message.
type MessageReference struct {
	MessageID       string `json:"message_id"`
	FailIfNotExists bool   `json:"fail_if_not_exists"`
}

// Payload is the JSON body of a webhook post. For posts carrying files it is
// serialized into the multipart payload_json field instead.
type Payload struct {
	Content          string            `json:"content"`
	Username         string            `json:"username"`
	AvatarURL        string            `json:"avatar_url,omitempty"`
	MessageReference *MessageReference `json:"message_reference,omitempty"`
	Embeds           []json.RawMessage `json:"embeds,omitempty"`
}

// File is one attachment part of a multipart post.
type File struct {
	Name        string
	ContentType string
	Content     []byte
}

// PostResult is the outcome of a post, successful or not. MessageID is the
// created destination message id when the endpoint returned one.
type PostResult struct {
	StatusCode int
	MessageID  string
	Body       []byte
}

// OK reports whether the post got a 2xx response.
func (r *PostResult) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}
