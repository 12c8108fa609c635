package middleware

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"fadeout/internal/httputil"
	"fadeout/internal/privacy"
	"fadeout/internal/service"
	"fadeout/internal/tracing"

	"github.com/sirupsen/logrus"
)

// DetailedLoggingConfig controls what gets logged
type DetailedLoggingConfig struct {
	LogRequestHeaders bool
	LogRequestBody    bool
	LogResponseBody   bool
	MaxBodySize       int      // Maximum bytes to log
	SensitiveHeaders  []string // Headers to mask
	SkipEndpoints     []string // Path suffixes that skip detailed logging
}

// DefaultDetailedLoggingConfig returns sensible defaults
func DefaultDetailedLoggingConfig() DetailedLoggingConfig {
	return DetailedLoggingConfig{
		LogRequestHeaders: true,
		LogRequestBody:    false,
		LogResponseBody:   false,
		MaxBodySize:       1024,
		SensitiveHeaders: []string{
			"authorization", "x-fadeout-signature",
			"cookie", "set-cookie",
		},
		SkipEndpoints: []string{
			"/metrics", "/health", "/stream",
		},
	}
}

// DetailedLoggingMiddleware logs request headers and bodies at debug level.
// It is only mounted when verbose logging is enabled.
func DetailedLoggingMiddleware(logger *logrus.Logger, config DetailedLoggingConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, skip := range config.SkipEndpoints {
				if strings.HasSuffix(r.URL.Path, skip) {
					next.ServeHTTP(w, r)
					return
				}
			}

			requestInfo := tracing.GetRequestInfo(r.Context())
			logRequestDetails(logger, r, requestInfo, config)

			if !config.LogResponseBody {
				next.ServeHTTP(w, r)
				return
			}

			capture := &responseCaptureWrapper{
				ResponseWriter: w,
				body:           bytes.NewBuffer(nil),
				statusCode:     http.StatusOK,
			}
			next.ServeHTTP(capture, r)
			logResponseDetails(logger, capture, requestInfo, config)
		})
	}
}

func logRequestDetails(logger *logrus.Logger, r *http.Request, requestInfo *tracing.RequestInfo, config DetailedLoggingConfig) {
	fields := logrus.Fields{
		service.LogFieldRequestID: requestInfo.RequestID,
		service.LogFieldTraceID:   requestInfo.TraceID,
		service.LogFieldMethod:    r.Method,
		service.LogFieldURL:       r.URL.String(),
		service.LogFieldRemoteIP:  httputil.GetClientIP(r),
		"content_length":          r.ContentLength,
	}

	if config.LogRequestHeaders {
		fields["request_headers"] = maskHeaders(r.Header, config.SensitiveHeaders)
	}

	if config.LogRequestBody && shouldLogBody(r) && r.ContentLength > 0 && r.ContentLength <= int64(config.MaxBodySize) {
		body, err := io.ReadAll(r.Body)
		if err == nil {
			r.Body = io.NopCloser(bytes.NewReader(body))
			fields["request_body"] = maskBody(body)
		}
	}

	logger.WithFields(fields).Debug("Detailed request logging")
}

func logResponseDetails(logger *logrus.Logger, capture *responseCaptureWrapper, requestInfo *tracing.RequestInfo, config DetailedLoggingConfig) {
	fields := logrus.Fields{
		service.LogFieldRequestID:  requestInfo.RequestID,
		service.LogFieldTraceID:    requestInfo.TraceID,
		service.LogFieldStatusCode: capture.statusCode,
		service.LogFieldSize:       capture.body.Len(),
	}

	if bodySize := capture.body.Len(); bodySize > 0 {
		if bodySize <= config.MaxBodySize {
			fields["response_body"] = maskBody(capture.body.Bytes())
		} else {
			fields["response_body"] = fmt.Sprintf("***TRUNCATED*** (size: %d bytes)", bodySize)
		}
	}

	logger.WithFields(fields).Debug("Detailed response logging")
}

// maskBody hides message content in JSON bodies. Non-JSON bodies are logged
// as-is.
func maskBody(body []byte) interface{} {
	var decoded map[string]interface{}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return string(body)
	}
	return privacy.MaskSensitiveFields(decoded)
}

func maskHeaders(header http.Header, sensitive []string) map[string]string {
	headers := make(map[string]string, len(header))
	for name, values := range header {
		if isSensitiveHeader(name, sensitive) {
			headers[name] = "***MASKED***"
		} else {
			headers[name] = strings.Join(values, ", ")
		}
	}
	return headers
}

// responseCaptureWrapper captures response data for logging
type responseCaptureWrapper struct {
	http.ResponseWriter
	body       *bytes.Buffer
	statusCode int
}

func (rc *responseCaptureWrapper) Write(data []byte) (int, error) {
	n, err := rc.ResponseWriter.Write(data)
	if err == nil {
		rc.body.Write(data[:n])
	}
	return n, err
}

func (rc *responseCaptureWrapper) WriteHeader(statusCode int) {
	rc.statusCode = statusCode
	rc.ResponseWriter.WriteHeader(statusCode)
}

func isSensitiveHeader(headerName string, sensitiveHeaders []string) bool {
	for _, sensitive := range sensitiveHeaders {
		if strings.EqualFold(sensitive, headerName) {
			return true
		}
	}
	return false
}

// shouldLogBody determines if we should attempt to log the request body
func shouldLogBody(r *http.Request) bool {
	contentType := r.Header.Get("Content-Type")
	for _, textType := range []string{"application/json", "text/"} {
		if strings.Contains(contentType, textType) {
			return true
		}
	}
	return false
}

func (rc *responseCaptureWrapper) Unwrap() http.ResponseWriter {
	return rc.ResponseWriter
}
