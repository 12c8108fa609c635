package validation

import (
	"net/http/httptest"
	"strings"
	"testing"

	"fadeout/internal/errors"

	"github.com/stretchr/testify/assert"
)

func TestValidateID(t *testing.T) {
	tests := []struct {
		name        string
		value       string
		expectError bool
	}{
		{name: "uuid", value: "8c5d2f1e-0f9b-4a7e-9d3c-1b2a3c4d5e6f", expectError: false},
		{name: "short id", value: "m1", expectError: false},
		{name: "unicode id", value: "conversa-ção", expectError: false},
		{name: "empty", value: "", expectError: true},
		{name: "too long", value: strings.Repeat("a", 129), expectError: true},
		{name: "newline", value: "m1\nm2", expectError: true},
		{name: "null byte", value: "m1\x00", expectError: true},
		{name: "space", value: "m 1", expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateID("message_id", tt.value)
			if tt.expectError {
				assert.Error(t, err)
				assert.Equal(t, errors.ErrCodeInvalidInput, errors.GetCode(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateHTTPRequestSize(t *testing.T) {
	req := httptest.NewRequest("POST", "/webhook/store", strings.NewReader(`{"conversation_id":"c1"}`))
	assert.NoError(t, ValidateHTTPRequestSize(req, 1024))

	req.ContentLength = 2048
	assert.Error(t, ValidateHTTPRequestSize(req, 1024))

	req.ContentLength = -1
	assert.Error(t, ValidateHTTPRequestSize(req, 1024))
}

func TestValidateTimeout(t *testing.T) {
	assert.NoError(t, ValidateTimeout(10, "commit_timeout_sec"))
	assert.Error(t, ValidateTimeout(0, "commit_timeout_sec"))
	assert.Error(t, ValidateTimeout(3601, "commit_timeout_sec"))
}

func TestValidateRetentionDays(t *testing.T) {
	assert.NoError(t, ValidateRetentionDays(0))
	assert.NoError(t, ValidateRetentionDays(90))
	assert.Error(t, ValidateRetentionDays(-1))
	assert.Error(t, ValidateRetentionDays(3651))
}
