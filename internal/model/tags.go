package model

import "strings"

// Reserved tag keys. These are the wire contract between the prompt layer
// and the generic registered-model store: a prompt is any model whose tag
// map carries PromptMarkerTagKey = "true", and prompt version content lives
// entirely in reserved version tags. Changing any of these strings breaks
// every registry written by earlier releases.
const (
	// PromptMarkerTagKey marks a registered model or model version as a
	// prompt. The value is always the literal "true".
	PromptMarkerTagKey = "shirushi.prompt.is_prompt"

	// PromptTextTagKey holds the template body on a prompt version: raw
	// text for text templates, a JSON array of role/content messages for
	// chat templates.
	PromptTextTagKey = "shirushi.prompt.text"

	// PromptTypeTagKey names the template kind: PromptTypeText or
	// PromptTypeChat.
	PromptTypeTagKey = "shirushi.prompt.type"

	// ResponseFormatTagKey holds an optional JSON-serialized response
	// schema on a prompt version.
	ResponseFormatTagKey = "shirushi.prompt.response_format"

	// LinkedPromptsTagKey holds, on a trace, run, or logged model, a JSON
	// array of {"name","version"} objects recording which prompt versions
	// were used by that entity.
	LinkedPromptsTagKey = "shirushi.linked_prompts"
)

// Template kind values for PromptTypeTagKey.
const (
	PromptTypeText = "text"
	PromptTypeChat = "chat"
)

// PromptSourceSentinel is the fixed source recorded on model versions that
// back prompt versions; prompts have no artifact location.
const PromptSourceSentinel = "prompt-template"

// reservedTagPrefix namespaces all registry-owned tag keys.
const reservedTagPrefix = "shirushi."

// IsReservedTagKey reports whether key belongs to the registry's reserved
// tag namespace.
func IsReservedTagKey(key string) bool {
	return strings.HasPrefix(key, reservedTagPrefix)
}

// HasPromptMarker reports whether a tag map carries the prompt marker with
// its required literal value.
func HasPromptMarker(tags map[string]string) bool {
	return tags[PromptMarkerTagKey] == "true"
}

// UserTags returns a copy of tags with all reserved keys removed. The
// result is never nil.
func UserTags(tags map[string]string) map[string]string {
	out := make(map[string]string, len(tags))
	for k, v := range tags {
		if IsReservedTagKey(k) {
			continue
		}
		out[k] = v
	}
	return out
}

// LinkedPrompt is one element of the LinkedPromptsTagKey array: a prompt
// version associated with a trace, run, or logged model. Version is
// string-encoded for comparison consistency across writers.
type LinkedPrompt struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}
