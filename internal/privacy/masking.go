package privacy

import (
	"strings"

	"fadeout/internal/constants"
)

// MaskID masks an opaque user or conversation identifier, keeping the last
// few characters for correlation.
// Example: "user-123456" -> "*******3456"
func MaskID(id string) string {
	return maskString(id, constants.DefaultIDMaskLength)
}

// MaskMessageID masks a message ID while leaving enough of it to match log
// lines against archive records.
// Example: "8c5d2f1e-0f9b-4a7e" -> "**********f9b-4a7e"
func MaskMessageID(messageID string) string {
	return maskString(messageID, 8)
}

// MaskContent hides message text entirely, keeping only its length.
func MaskContent(content string) string {
	if content == "" {
		return ""
	}
	return "[hidden]"
}

// maskString masks a string showing only the last n characters
func maskString(s string, keepLast int) string {
	if s == "" {
		return ""
	}

	if len(s) <= keepLast {
		return strings.Repeat("*", len(s))
	}

	return strings.Repeat("*", len(s)-keepLast) + s[len(s)-keepLast:]
}

// MaskSensitiveFields applies appropriate masking to common logging fields
func MaskSensitiveFields(fields map[string]interface{}) map[string]interface{} {
	if fields == nil {
		return nil
	}

	masked := make(map[string]interface{})
	for k, v := range fields {
		s, isString := v.(string)
		if !isString {
			masked[k] = v
			continue
		}

		switch k {
		case "viewer_id", "user_id", "sender_id", "conversation_id":
			masked[k] = MaskID(s)
		case "message_id", "original_message_id":
			masked[k] = MaskMessageID(s)
		case "content", "content_snapshot", "text":
			masked[k] = MaskContent(s)
		default:
			masked[k] = v
		}
	}

	return masked
}
