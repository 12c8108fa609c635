package errors

import (
	"bytes"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestNewLogger(t *testing.T) {
	logger := NewLogger()

	assert.NotNil(t, logger)
	_, ok := logger.Formatter.(*logrus.JSONFormatter)
	assert.True(t, ok, "Logger should use JSON formatter")
}

func TestLogger_LogError(t *testing.T) {
	tests := []struct {
		name             string
		err              error
		message          string
		fields           []logrus.Fields
		expectedInOutput []string
	}{
		{
			name:    "AppError with context",
			err:     NewStoreWriteError("soft_delete", 2, errors.New("database is locked")),
			message: "Failed to commit deletion batch",
			fields:  []logrus.Fields{{"conversation_id": "c1"}},
			expectedInOutput: []string{
				`"level":"error"`,
				`"error_code":"STORE_WRITE"`,
				`"retryable":false`,
				`"operation":"soft_delete"`,
				`"conversation_id":"c1"`,
				`"msg":"Failed to commit deletion batch"`,
			},
		},
		{
			name:    "standard error",
			err:     errors.New("something went wrong"),
			message: "Operation failed",
			expectedInOutput: []string{
				`"level":"error"`,
				`"error":"something went wrong"`,
				`"msg":"Operation failed"`,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewLogger()
			logger.SetOutput(&buf)

			logger.LogError(tt.err, tt.message, tt.fields...)

			output := buf.String()
			for _, expected := range tt.expectedInOutput {
				assert.Contains(t, output, expected)
			}
		})
	}
}

func TestLogger_LogRetryableError(t *testing.T) {
	var buf bytes.Buffer
	logger := WrapLogger(logrus.New())
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(&buf)

	logger.LogRetryableError(WrapRetryable(errors.New("locked"), ErrCodeDatabaseQuery, "list"), "retrying")
	assert.Contains(t, buf.String(), `"level":"warning"`)

	buf.Reset()
	logger.LogRetryableError(New(ErrCodeInvalidInput, "bad"), "rejected")
	assert.Contains(t, buf.String(), `"level":"error"`)
}

func TestLogger_WithError(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger()
	logger.SetOutput(&buf)

	logger.WithError(NewArchiveError("m1", errors.New("no row"))).Warn("archive skipped")

	output := buf.String()
	assert.Contains(t, output, `"error_code":"ARCHIVE_FAILED"`)
	assert.Contains(t, output, `"message_id":"m1"`)
}
