package service

import (
	"context"

	"fadeout/internal/privacy"

	"github.com/sirupsen/logrus"
)

// ContextKey is a package-local type to prevent context key collisions
// See staticcheck SA1029 guidance
type ContextKey string

// VerboseContextKey is the strongly-typed context key for verbose logging flag
const VerboseContextKey ContextKey = "verbose"

// IsVerboseLogging checks if verbose logging is enabled from context
func IsVerboseLogging(ctx context.Context) bool {
	if verbose, ok := ctx.Value(VerboseContextKey).(bool); ok {
		return verbose
	}
	return false
}

// SessionFields identifies a viewing session in log lines. Identifiers are
// masked unless verbose logging is on.
func SessionFields(ctx context.Context, conversationID, viewerID string) logrus.Fields {
	if IsVerboseLogging(ctx) {
		return logrus.Fields{
			LogFieldConversationID: conversationID,
			LogFieldViewerID:       viewerID,
		}
	}
	return logrus.Fields{
		LogFieldConversationID: privacy.MaskID(conversationID),
		LogFieldViewerID:       privacy.MaskID(viewerID),
	}
}

// MessageField returns the message id log field with the same privacy rules.
func MessageField(ctx context.Context, messageID string) logrus.Fields {
	if IsVerboseLogging(ctx) {
		return logrus.Fields{LogFieldMessageID: messageID}
	}
	return logrus.Fields{LogFieldMessageID: privacy.MaskMessageID(messageID)}
}
