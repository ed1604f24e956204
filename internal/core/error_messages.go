package core

// # Error Codes Reference
//
// Technical errors are mapped to user-facing messages with a code that can
// be quoted to support. Codes are grouped by category:
//
//	DB001-DB007     database constraints and connectivity
//	VAL001-VAL007   row and header validation
//	FILE001-FILE004 file size and CSV format
//	UPL001-UPL004   chunked upload sessions
//	IMP001-IMP006   import jobs
//	CFG001-CFG003   import configuration
//	AUTH001-AUTH002 request authentication
//	RATE001         request throttling
//	ERR000          anything else; check the logs for the technical error
//
// Patterns are matched case-insensitively against err.Error() in table order,
// so the more specific pattern of two overlapping ones must come first.

import (
	"fmt"
	"strings"
)

// UserMessage is the user-facing rendering of an error.
type UserMessage struct {
	Message string `json:"message"`
	Action  string `json:"action"`
	Code    string `json:"code"`
}

type errorPattern struct {
	pattern string
	msg     UserMessage
}

var errorPatterns = []errorPattern{
	// Configuration
	{
		pattern: "invalid configuration: dataset",
		msg: UserMessage{
			Message: "Choose a dataset to import into",
			Action:  "Select one of the listed datasets and start again",
			Code:    "CFG001",
		},
	},
	{
		pattern: "invalid configuration: strategy",
		msg: UserMessage{
			Message: "Unknown import strategy",
			Action:  "Use insert, upsert or replace",
			Code:    "CFG002",
		},
	},
	{
		pattern: "invalid configuration: reference",
		msg: UserMessage{
			Message: "This dataset needs a reference dataset",
			Action:  "Select the dataset that row references point to",
			Code:    "CFG003",
		},
	},

	// Database
	{
		pattern: "duplicate key",
		msg: UserMessage{
			Message: "A record with this key already exists",
			Action:  "Use the upsert strategy or remove the duplicate rows",
			Code:    "DB001",
		},
	},
	{
		pattern: "unique constraint",
		msg: UserMessage{
			Message: "This value must be unique but already exists",
			Action:  "Check for duplicate entries in your CSV",
			Code:    "DB002",
		},
	},
	{
		pattern: "violates unique",
		msg: UserMessage{
			Message: "This value must be unique but already exists",
			Action:  "Check for duplicate entries in your CSV",
			Code:    "DB002",
		},
	},
	{
		pattern: "foreign key",
		msg: UserMessage{
			Message: "Referenced record does not exist",
			Action:  "Import the referenced dataset first",
			Code:    "DB003",
		},
	},
	{
		pattern: "connection refused",
		msg: UserMessage{
			Message: "Unable to connect to database",
			Action:  "Please try again in a few moments",
			Code:    "DB004",
		},
	},
	{
		pattern: "connection reset",
		msg: UserMessage{
			Message: "Database connection was interrupted",
			Action:  "Please try again",
			Code:    "DB005",
		},
	},
	{
		pattern: "deadline exceeded",
		msg: UserMessage{
			Message: "Operation timed out",
			Action:  "Try a smaller file or try again later",
			Code:    "DB006",
		},
	},
	{
		pattern: "timeout",
		msg: UserMessage{
			Message: "Operation timed out",
			Action:  "Try a smaller file or try again later",
			Code:    "DB006",
		},
	},
	{
		pattern: "deadlock",
		msg: UserMessage{
			Message: "Database was busy with conflicting operations",
			Action:  "Please try again",
			Code:    "DB007",
		},
	},

	// Validation
	{
		pattern: "invalid date",
		msg: UserMessage{
			Message: "Invalid date format detected",
			Action:  "Use YYYY-MM-DD, MM/DD/YYYY, or Jan 15, 2024",
			Code:    "VAL001",
		},
	},
	{
		pattern: "invalid number",
		msg: UserMessage{
			Message: "Invalid number format detected",
			Action:  "Remove currency symbols and use standard decimal format",
			Code:    "VAL002",
		},
	},
	{
		pattern: "required field",
		msg: UserMessage{
			Message: "Required field is empty",
			Action:  "Ensure all required columns have values",
			Code:    "VAL003",
		},
	},
	{
		pattern: "missing required column",
		msg: UserMessage{
			Message: "Required column is missing from CSV",
			Action:  "Check that all required columns are present in your file",
			Code:    "VAL004",
		},
	},
	{
		pattern: "header not found",
		msg: UserMessage{
			Message: "No header row found in the first rows of the file",
			Action:  "Verify column headers match the dataset columns",
			Code:    "VAL005",
		},
	},
	{
		pattern: "invalid enum",
		msg: UserMessage{
			Message: "Value is not in the allowed list",
			Action:  "Check the allowed values for this field",
			Code:    "VAL006",
		},
	},
	{
		pattern: "unknown reference",
		msg: UserMessage{
			Message: "Row points to a record that does not exist",
			Action:  "Import the reference dataset first or fix the reference value",
			Code:    "VAL007",
		},
	},

	// File
	{
		pattern: "file too large",
		msg: UserMessage{
			Message: "File exceeds maximum size limit",
			Action:  "Split the file into smaller files",
			Code:    "FILE001",
		},
	},
	{
		pattern: "chunk too large",
		msg: UserMessage{
			Message: "Upload chunk exceeds the allowed size",
			Action:  "Use a smaller chunk size",
			Code:    "FILE002",
		},
	},
	{
		pattern: "parse error",
		msg: UserMessage{
			Message: "File is not a valid CSV",
			Action:  "Ensure the file is comma-separated with consistent quoting",
			Code:    "FILE003",
		},
	},
	{
		pattern: "no data rows",
		msg: UserMessage{
			Message: "File has no rows to import",
			Action:  "Check that the file contains data below the header",
			Code:    "FILE004",
		},
	},

	// Uploads
	{
		pattern: "upload not found",
		msg: UserMessage{
			Message: "Upload not found or expired",
			Action:  "Upload the file again",
			Code:    "UPL001",
		},
	},
	{
		pattern: "upload incomplete",
		msg: UserMessage{
			Message: "The file has not been fully uploaded",
			Action:  "Wait for the upload to finish or upload the file again",
			Code:    "UPL002",
		},
	},
	{
		pattern: "upload already imported",
		msg: UserMessage{
			Message: "This upload is already being imported",
			Action:  "Upload the file again to send more data",
			Code:    "UPL003",
		},
	},
	{
		pattern: "upload offset",
		msg: UserMessage{
			Message: "Upload chunks arrived out of order",
			Action:  "Upload the file again",
			Code:    "UPL004",
		},
	},

	// Imports
	{
		pattern: "import job not found",
		msg: UserMessage{
			Message: "Import not found or expired",
			Action:  "Start the import again",
			Code:    "IMP001",
		},
	},
	{
		pattern: "import already running",
		msg: UserMessage{
			Message: "An import is already running for this upload",
			Action:  "Wait for it to finish or cancel it",
			Code:    "IMP002",
		},
	},
	{
		pattern: "too many imports",
		msg: UserMessage{
			Message: "The server is busy with other imports",
			Action:  "Please try again in a few moments",
			Code:    "IMP003",
		},
	},
	{
		pattern: "context canceled",
		msg: UserMessage{
			Message: "Import was cancelled",
			Action:  "Start the import again if needed",
			Code:    "IMP004",
		},
	},
	{
		pattern: "error report not found",
		msg: UserMessage{
			Message: "No error report is available for this import",
			Action:  "Reports exist only for imports with failed rows",
			Code:    "IMP005",
		},
	},
	{
		pattern: "import job already finished",
		msg: UserMessage{
			Message: "The import has already finished",
			Action:  "Refresh to see the final result",
			Code:    "IMP006",
		},
	},

	// Auth
	{
		pattern: "csrf",
		msg: UserMessage{
			Message: "Your session token is missing or expired",
			Action:  "Reload the page and try again",
			Code:    "AUTH001",
		},
	},
	{
		pattern: "api key",
		msg: UserMessage{
			Message: "Missing or invalid API key",
			Action:  "Provide a valid key in the X-API-Key header",
			Code:    "AUTH002",
		},
	},

	{
		pattern: "rate limit",
		msg: UserMessage{
			Message: "Too many requests",
			Action:  "Please wait a moment before trying again",
			Code:    "RATE001",
		},
	},
}

// defaultMessage is returned when no pattern matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
// It returns the first matching pattern, or the ERR000 fallback.
//
// Example:
//
//	msg := MapError(fmt.Errorf("write row: %w", ErrDuplicateKey))
//	// msg.Code == "DB001"
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}
	return defaultMessage
}

// FormatUserError creates a formatted error string for display:
// "Message (Code: XXX). Action".
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err matches a known pattern rather than the
// ERR000 fallback.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}

// UserError pairs a technical error (kept for logs) with its user message.
type UserError struct {
	Technical error
	User      UserMessage
}

func (e *UserError) Error() string {
	return e.User.Message
}

func (e *UserError) Unwrap() error {
	return e.Technical
}

// NewUserError maps err to a UserError. Returns nil if err is nil.
func NewUserError(err error) *UserError {
	if err == nil {
		return nil
	}
	return &UserError{
		Technical: err,
		User:      MapError(err),
	}
}
