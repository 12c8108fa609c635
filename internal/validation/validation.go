package validation

import (
	"fmt"
	"net/http"
	"unicode"

	"fadeout/internal/constants"
	"fadeout/internal/errors"
)

// ValidateID validates an opaque identifier taken from a URL or request body
// (conversation, viewer or message id).
func ValidateID(fieldName, value string) error {
	if value == "" {
		return errors.NewInvalidInputError(fieldName, fmt.Sprintf("%s cannot be empty", fieldName))
	}

	if len(value) > constants.MaxIDLength {
		return errors.NewInvalidInputError(fieldName,
			fmt.Sprintf("%s too long (max %d characters)", fieldName, constants.MaxIDLength))
	}

	for _, char := range value {
		if unicode.IsControl(char) || unicode.IsSpace(char) {
			return errors.NewInvalidInputError(fieldName, fmt.Sprintf("%s contains invalid characters", fieldName))
		}
	}

	return nil
}

// ValidateHTTPRequestSize validates incoming HTTP request size
func ValidateHTTPRequestSize(r *http.Request, maxSizeBytes int64) error {
	if r.ContentLength < 0 {
		return errors.New(errors.ErrCodeInvalidInput, "invalid content length")
	}

	if r.ContentLength > maxSizeBytes {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("request too large: %d bytes (max %d bytes)", r.ContentLength, maxSizeBytes))
	}

	return nil
}

// ValidateTimeout validates timeout values
func ValidateTimeout(timeoutSec int, fieldName string) error {
	if timeoutSec < 1 {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("%s must be at least 1 second", fieldName))
	}

	if timeoutSec > 3600 {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("%s too large (max 3600 seconds)", fieldName))
	}

	return nil
}

// ValidateRetentionDays validates the archive retention period. Zero keeps
// archive records forever.
func ValidateRetentionDays(days int) error {
	if days < 0 {
		return errors.New(errors.ErrCodeInvalidInput, "retention days cannot be negative")
	}

	if days > 3650 {
		return errors.New(errors.ErrCodeInvalidInput, "retention days too large (max 3650)")
	}

	return nil
}
