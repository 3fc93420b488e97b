package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Prompt is a read-only view over a RegisteredModel that carries the prompt
// marker tag. It has no storage identity of its own — it is entirely a
// projection, and Tags never contains reserved keys.
type Prompt struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Tags        map[string]string `json:"tags"`
	CreatedAt   time.Time         `json:"created_at"`
}

// ChatMessage is one role/content record of a chat template.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// PromptTemplate is the body of a prompt version: either a single text
// string with {{variable}} placeholders, or an ordered list of chat
// messages. Exactly one of the two forms is set.
type PromptTemplate struct {
	text     string
	messages []ChatMessage
	chat     bool
}

// TextTemplate builds a text template.
func TextTemplate(text string) PromptTemplate {
	return PromptTemplate{text: text}
}

// ChatTemplate builds a chat template from role/content messages.
func ChatTemplate(messages []ChatMessage) PromptTemplate {
	return PromptTemplate{messages: messages, chat: true}
}

// IsChat reports whether the template is a chat template.
func (t PromptTemplate) IsChat() bool { return t.chat }

// Text returns the text body. For chat templates it returns the empty string.
func (t PromptTemplate) Text() string { return t.text }

// Messages returns the chat messages. For text templates it returns nil.
func (t PromptTemplate) Messages() []ChatMessage { return t.messages }

// Encode serializes the template to its tag representation: the body value
// for PromptTextTagKey and the kind value for PromptTypeTagKey.
func (t PromptTemplate) Encode() (body, kind string, err error) {
	if !t.chat {
		return t.text, PromptTypeText, nil
	}
	raw, err := json.Marshal(t.messages)
	if err != nil {
		return "", "", fmt.Errorf("model: encode chat template: %w", err)
	}
	return string(raw), PromptTypeChat, nil
}

// DecodeTemplate parses the tag representation written by Encode.
// An unknown kind, or a chat body that is not a JSON message array, is an
// error — template content is never silently dropped.
func DecodeTemplate(body, kind string) (PromptTemplate, error) {
	switch kind {
	case PromptTypeText, "":
		return TextTemplate(body), nil
	case PromptTypeChat:
		var messages []ChatMessage
		if err := json.Unmarshal([]byte(body), &messages); err != nil {
			return PromptTemplate{}, fmt.Errorf("model: decode chat template: %w", err)
		}
		return ChatTemplate(messages), nil
	default:
		return PromptTemplate{}, fmt.Errorf("model: unknown template kind %q", kind)
	}
}

// MarshalJSON renders the template the way callers supplied it: a JSON
// string for text, an array of messages for chat.
func (t PromptTemplate) MarshalJSON() ([]byte, error) {
	if t.chat {
		return json.Marshal(t.messages)
	}
	return json.Marshal(t.text)
}

// UnmarshalJSON accepts either a JSON string (text template) or an array of
// role/content objects (chat template).
func (t *PromptTemplate) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		*t = TextTemplate(text)
		return nil
	}
	var messages []ChatMessage
	if err := json.Unmarshal(data, &messages); err != nil {
		return fmt.Errorf("model: template must be a string or a role/content array")
	}
	*t = ChatTemplate(messages)
	return nil
}

// PromptVersion is a read-only view over a ModelVersion that carries the
// prompt marker tag. Tags holds the version's user tags (reserved keys
// stripped); PromptTags carries the parent prompt's user-visible tags for
// convenience lookups.
type PromptVersion struct {
	Name           string            `json:"name"`
	Version        int               `json:"version"`
	Description    string            `json:"description"`
	Template       PromptTemplate    `json:"template"`
	ResponseFormat json.RawMessage   `json:"response_format,omitempty"`
	Tags           map[string]string `json:"tags"`
	PromptTags     map[string]string `json:"prompt_tags"`
	CreatedAt      time.Time         `json:"created_at"`
}

// PromptFromRegisteredModel projects a RegisteredModel into a Prompt view.
// Returns false when the model does not carry the prompt marker. The source
// model is never mutated.
func PromptFromRegisteredModel(rm RegisteredModel) (Prompt, bool) {
	if !HasPromptMarker(rm.Tags) {
		return Prompt{}, false
	}
	return Prompt{
		Name:        rm.Name,
		Description: rm.Description,
		Tags:        UserTags(rm.Tags),
		CreatedAt:   rm.CreatedAt,
	}, true
}

// PromptVersionFromModelVersion projects a ModelVersion into a
// PromptVersion view, attaching the parent prompt's user-visible tags.
// Returns false when the version does not carry the prompt marker; returns
// an error when the version is marked as a prompt but its template tags are
// malformed.
func PromptVersionFromModelVersion(mv ModelVersion, promptTags map[string]string) (PromptVersion, bool, error) {
	if !HasPromptMarker(mv.Tags) {
		return PromptVersion{}, false, nil
	}
	template, err := DecodeTemplate(mv.Tags[PromptTextTagKey], mv.Tags[PromptTypeTagKey])
	if err != nil {
		return PromptVersion{}, false, fmt.Errorf("model: prompt version %s/%d: %w", mv.Name, mv.Version, err)
	}
	pv := PromptVersion{
		Name:        mv.Name,
		Version:     mv.Version,
		Description: mv.Description,
		Template:    template,
		Tags:        UserTags(mv.Tags),
		PromptTags:  UserTags(promptTags),
		CreatedAt:   mv.CreatedAt,
	}
	if rf, ok := mv.Tags[ResponseFormatTagKey]; ok {
		pv.ResponseFormat = json.RawMessage(rf)
	}
	return pv, true, nil
}
