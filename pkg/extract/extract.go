// Package extract pulls reasoning text out of raw provider response
// payloads.
package extract

import "github.com/tidwall/gjson"

// reasoningPaths are checked in order; providers disagree on the field name.
var reasoningPaths = []string{
	"choices.0.message.reasoning_content",
	"choices.0.message.reasoning",
}

// Reasoning returns the reasoning text from a raw chat-completion payload,
// or empty when the payload carries none (or is not valid JSON).
func Reasoning(payload []byte) string {
	if !gjson.ValidBytes(payload) {
		return ""
	}
	for _, path := range reasoningPaths {
		if value := gjson.GetBytes(payload, path); value.Exists() {
			return value.String()
		}
	}
	return ""
}

// ResponseText returns the final assistant message content from a raw
// chat-completion payload, or empty when absent.
func ResponseText(payload []byte) string {
	return gjson.GetBytes(payload, "choices.0.message.content").String()
}
