package service

// Logging Standards for fadeout
//
// This file defines standard field names and patterns so every component
// logs the lifecycle engine the same way.

// Standard Field Names
// Use these exact field names for consistency across all logging calls
const (
	// Core identifiers
	LogFieldMessageID      = "message_id"
	LogFieldConversationID = "conversation_id"
	LogFieldViewerID       = "viewer_id"
	LogFieldUserID         = "user_id"

	// Service and operation fields
	LogFieldService   = "service"
	LogFieldOperation = "operation"
	LogFieldComponent = "component"

	// Lifecycle fields
	LogFieldEvent         = "event"
	LogFieldTimerStatus   = "timer_status"
	LogFieldTimeLeft      = "time_left"
	LogFieldMessageType   = "message_type"
	LogFieldActiveTimers  = "active_timers"
	LogFieldArchiveFailed = "archive_failed"
	LogFieldRowsAffected  = "rows_affected"

	// Performance and metrics
	LogFieldDuration = "duration_ms"
	LogFieldCount    = "count"

	// Request tracing
	LogFieldRequestID = "request_id"
	LogFieldTraceID   = "trace_id"

	// HTTP
	LogFieldMethod     = "method"
	LogFieldURL        = "url"
	LogFieldRoute      = "route"
	LogFieldRemoteIP   = "remote_ip"
	LogFieldUserAgent  = "user_agent"
	LogFieldStatusCode = "status_code"
	LogFieldSize       = "size_bytes"

	// Error and debugging
	LogFieldErrorCode     = "error_code"
	LogFieldRetentionDays = "retention_days"
)

// Log Level Usage Guidelines
//
// DEBUG: per-tick detail. Timer transitions, snapshot publication, refetches.
//
// INFO: session opened/closed, deletion batch committed, archive sweep done,
//   service startup/shutdown.
//
// WARN: archive failed but delete proceeds, malformed message skipped
//   erosion, slow websocket subscriber dropped events.
//
// ERROR: batched soft-delete failed, refetch failed, configuration problems
//   that fall back to defaults.
//
// FATAL: startup cannot continue (config, database).

// Standard Log Message Patterns
//
// Starting operations: "Starting [operation]"
// Completed operations: "Completed [operation]" or "[Operation] completed successfully"
// Failed operations: "Failed to [operation]"
// Skipping operations: "Skipping [operation]: [reason]"

// Example Usage:
//
// logger.WithFields(logrus.Fields{
//     LogFieldConversationID: privacy.MaskID(conversationID),
//     LogFieldViewerID:       privacy.MaskID(viewerID),
//     LogFieldCount:          len(requests),
// }).Debug("Started timers for viewed messages")
