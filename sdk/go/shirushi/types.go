package shirushi

import (
	"encoding/json"
	"fmt"
	"time"
)

// Prompt is a registered prompt.
type Prompt struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Tags        map[string]string `json:"tags"`
	CreatedAt   time.Time         `json:"created_at"`
}

// Message is one role/content record of a chat template.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Template is the body of a prompt version: either a single text string
// with {{variable}} placeholders, or an ordered list of chat messages.
type Template struct {
	text     string
	messages []Message
	chat     bool
}

// Text builds a text template.
func Text(text string) Template {
	return Template{text: text}
}

// Chat builds a chat template from role/content messages.
func Chat(messages ...Message) Template {
	return Template{messages: messages, chat: true}
}

// IsChat reports whether the template is a chat template.
func (t Template) IsChat() bool { return t.chat }

// TextBody returns the text body. For chat templates it returns the empty string.
func (t Template) TextBody() string { return t.text }

// Messages returns the chat messages. For text templates it returns nil.
func (t Template) Messages() []Message { return t.messages }

// MarshalJSON renders the template as a JSON string for text, or an array
// of messages for chat, matching the server's wire format.
func (t Template) MarshalJSON() ([]byte, error) {
	if t.chat {
		return json.Marshal(t.messages)
	}
	return json.Marshal(t.text)
}

// UnmarshalJSON accepts either a JSON string or a role/content array.
func (t *Template) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		*t = Text(text)
		return nil
	}
	var messages []Message
	if err := json.Unmarshal(data, &messages); err != nil {
		return fmt.Errorf("shirushi: template must be a string or a role/content array")
	}
	*t = Chat(messages...)
	return nil
}

// PromptVersion is one immutable version of a prompt.
type PromptVersion struct {
	Name           string            `json:"name"`
	Version        int               `json:"version"`
	Description    string            `json:"description"`
	Template       Template          `json:"template"`
	ResponseFormat json.RawMessage   `json:"response_format,omitempty"`
	Tags           map[string]string `json:"tags"`
	PromptTags     map[string]string `json:"prompt_tags"`
	CreatedAt      time.Time         `json:"created_at"`
}

// CreateVersionRequest is the input to CreatePromptVersion.
type CreateVersionRequest struct {
	Template       Template          `json:"template"`
	Description    string            `json:"description,omitempty"`
	Tags           map[string]string `json:"tags,omitempty"`
	ResponseFormat json.RawMessage   `json:"response_format,omitempty"`
}

// LinkedPrompt identifies one prompt version in a link request.
type LinkedPrompt struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// PromptPage is one page of search results.
type PromptPage struct {
	Prompts       []Prompt `json:"prompts"`
	NextPageToken string   `json:"next_page_token,omitempty"`
}

// SearchOptions are optional parameters for SearchPrompts.
type SearchOptions struct {
	// Filter is a registry filter expression, e.g. "tags.team = 'ml'".
	Filter string
	// MaxResults caps the page size. Zero uses the server default.
	MaxResults int
	// PageToken continues a previous search.
	PageToken string
}

// Health is the reply from the health endpoint.
type Health struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}
