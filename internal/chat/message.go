package chat

import (
	"encoding/json"
	"strings"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type ImageURL struct {
	URL string `json:"url"`
}

// Part is one element of a mixed-content message.
type Part struct {
	Type     string    `json:"type"` // "text" or "image_url"
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// Message is one conversation entry. Content carries plain text; Parts
// carries mixed text/image content. Exactly one of the two is set.
type Message struct {
	Role    string
	Content string
	Parts   []Part
}

func Text(role, content string) Message {
	return Message{Role: role, Content: content}
}

func (m Message) IsMultipart() bool { return m.Parts != nil }

// TextContent returns the text-bearing portion of the message: the full
// content for plain messages, the concatenated text parts otherwise.
func (m Message) TextContent() string {
	if !m.IsMultipart() {
		return m.Content
	}
	var b strings.Builder
	for _, p := range m.Parts {
		if p.Type == "text" {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

// ImageCount reports how many image parts the message carries.
func (m Message) ImageCount() int {
	n := 0
	for _, p := range m.Parts {
		if p.Type == "image_url" {
			n++
		}
	}
	return n
}

// wireMessage is the persisted/served shape: content is either a JSON
// string or an array of parts, matching the upstream API convention.
type wireMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

func (m Message) MarshalJSON() ([]byte, error) {
	var content any
	if m.IsMultipart() {
		content = m.Parts
	} else {
		content = m.Content
	}
	raw, err := json.Marshal(content)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireMessage{Role: m.Role, Content: raw})
}

func (m *Message) UnmarshalJSON(data []byte) error {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	m.Role = w.Role
	m.Content = ""
	m.Parts = nil
	if len(w.Content) > 0 && w.Content[0] == '[' {
		return json.Unmarshal(w.Content, &m.Parts)
	}
	return json.Unmarshal(w.Content, &m.Content)
}

// Sanitize strips messages to bare {role, content} text pairs for the
// completion call, dropping entries without a role or any text.
func Sanitize(messages []Message) []Message {
	out := make([]Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == "" {
			continue
		}
		out = append(out, Text(m.Role, m.TextContent()))
	}
	return out
}

// MaskImages replaces embedded base64 image data with a placeholder so
// history reads do not ship megabytes of image data back to clients.
func MaskImages(messages []Message) []Message {
	out := make([]Message, len(messages))
	for i, m := range messages {
		if !m.IsMultipart() {
			out[i] = m
			continue
		}
		parts := make([]Part, len(m.Parts))
		copy(parts, m.Parts)
		for j, p := range parts {
			if p.Type == "image_url" && p.ImageURL != nil && strings.HasPrefix(p.ImageURL.URL, "data:image") {
				parts[j].ImageURL = &ImageURL{URL: "(图片数据)"}
			}
		}
		out[i] = Message{Role: m.Role, Parts: parts}
	}
	return out
}
