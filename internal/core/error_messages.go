package core

// error_messages.go maps technical errors to user-facing messages with a
// support code. Users quote the code; support looks it up here.
//
// # Import Errors (IMP001-IMP099)
//
//	IMP001 - Import not found
//	         Patterns: "import not found"
//	IMP002 - Import cannot be published in its current status
//	         Patterns: "cannot publish"
//	IMP003 - Import cannot be validated in its current status
//	         Patterns: "cannot validate"
//	IMP004 - No valid rows to publish
//	         Patterns: "no valid data to publish"
//	IMP005 - No user supplied with the request
//	         Patterns: "missing user"
//	IMP006 - Too many uploads in progress
//	         Patterns: "too many uploads"
//	IMP007 - Request cancelled
//	         Patterns: "context canceled"
//	IMP008 - Request timed out
//	         Patterns: "context deadline exceeded"
//
// # Template Errors (TPL001-TPL099)
//
//	TPL001 - Template not found or inactive
//	         Patterns: "template not found"
//	TPL002 - Template definition cannot be decoded
//	         Patterns: "invalid template"
//
// # File Errors (FILE001-FILE099)
//
//	FILE001 - File exceeds the size limit
//	          Patterns: "file too large", "request body too large"
//	FILE002 - Headers do not match the template
//	          Patterns: "invalid csv format"
//	FILE003 - File could not be parsed
//	          Patterns: "parse csv", "parse xlsx"
//	FILE004 - No file in the request
//	          Patterns: "no file provided"
//	FILE005 - File has no data rows
//	          Patterns: "empty file"
//	FILE006 - File is neither CSV nor XLSX
//	          Patterns: "unsupported file type"
//	FILE007 - Metadata form field is not a JSON object
//	          Patterns: "invalid metadata"
//
// # Database Errors (DB001-DB099)
//
//	DB001 - Duplicate key                Patterns: "duplicate key"
//	DB002 - Unique constraint            Patterns: "unique constraint", "violates unique"
//	DB003 - Foreign key                  Patterns: "foreign key constraint", "violates foreign key"
//	DB004 - Connection refused           Patterns: "connection refused"
//	DB005 - Connection reset             Patterns: "connection reset"
//	DB006 - Timeout                      Patterns: "timeout"
//	DB007 - Deadlock                     Patterns: "deadlock"
//
// # Rate Limiting (RATE001)
//
//	RATE001 - Too many requests          Patterns: "rate limit"
//
// # Default (ERR000)
//
// Anything unmatched. Check the server log for the technical error, which is
// logged with the request id.
//
// Patterns match case-insensitively with strings.Contains and the first
// match wins, so specific patterns come before general ones.

import (
	"errors"
	"fmt"
	"strings"
)

// UserMessage is a user-facing error with guidance and a support code.
type UserMessage struct {
	Message string // What happened
	Action  string // What to do about it
	Code    string // Support reference
}

type errorPattern struct {
	pattern string
	msg     UserMessage
}

var errorPatterns = []errorPattern{
	// Import state machine
	{"import not found", UserMessage{"Import not found", "Check the import ID and try again", "IMP001"}},
	{"cannot publish", UserMessage{"This import cannot be published", "Validate the import first; published imports cannot be published again", "IMP002"}},
	{"cannot validate", UserMessage{"This import cannot be validated", "Only staged or failed imports can be validated", "IMP003"}},
	{"no valid data to publish", UserMessage{"No valid data to publish", "Fix the invalid rows and upload the file again", "IMP004"}},
	{"missing user", UserMessage{"No user was supplied", "Include userId with the request", "IMP005"}},
	{"too many uploads", UserMessage{"System is busy processing other uploads", "Please wait a moment and try again", "IMP006"}},
	{"context canceled", UserMessage{"Request was cancelled", "Please try again", "IMP007"}},
	{"context deadline exceeded", UserMessage{"Request timed out", "Try a smaller file or try again later", "IMP008"}},

	// Templates
	{"template not found", UserMessage{"Import template not found", "Choose an active template", "TPL001"}},
	{"invalid template", UserMessage{"Import template is misconfigured", "Ask an administrator to review the template definition", "TPL002"}},

	// Files
	{"file too large", UserMessage{"File exceeds the maximum upload size", "Split the file into smaller files", "FILE001"}},
	{"request body too large", UserMessage{"File exceeds the maximum upload size", "Split the file into smaller files", "FILE001"}},
	{"invalid csv format", UserMessage{"Invalid CSV format", "Make sure the header row contains every column the template expects", "FILE002"}},
	{"parse csv", UserMessage{"File could not be read as CSV", "Save the file as comma-separated UTF-8 text", "FILE003"}},
	{"parse xlsx", UserMessage{"File could not be read as a spreadsheet", "Save the file as .xlsx or export it to CSV", "FILE003"}},
	{"no file provided", UserMessage{"No file was selected", "Please select a CSV file to upload", "FILE004"}},
	{"empty file", UserMessage{"The uploaded file has no data rows", "Please upload a file with a header row and at least one data row", "FILE005"}},
	{"unsupported file type", UserMessage{"Unsupported file type", "Upload a .csv or .xlsx file", "FILE006"}},
	{"invalid metadata", UserMessage{"Metadata must be a JSON object", "Fix the metadata field and try again", "FILE007"}},

	// Database constraints
	{"duplicate key", UserMessage{"A record with this ID already exists", "Please try again", "DB001"}},
	{"unique constraint", UserMessage{"This value must be unique but already exists", "Check for duplicate entries", "DB002"}},
	{"violates unique", UserMessage{"A duplicate value was found", "Check for duplicate entries", "DB002"}},
	{"foreign key constraint", UserMessage{"Referenced record does not exist", "Check that the referenced state, statistic or template exists", "DB003"}},
	{"violates foreign key", UserMessage{"Referenced record does not exist", "Check that the referenced state, statistic or template exists", "DB003"}},

	// Database connectivity
	{"connection refused", UserMessage{"Unable to connect to database", "Please try again in a few moments", "DB004"}},
	{"connection reset", UserMessage{"Database connection was interrupted", "Please try again", "DB005"}},
	{"timeout", UserMessage{"Operation timed out", "Try a smaller file or try again later", "DB006"}},
	{"deadlock", UserMessage{"Database was busy with conflicting operations", "Please try again", "DB007"}},

	{"rate limit", UserMessage{"Too many requests", "Please wait a moment before trying again", "RATE001"}},
}

var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-facing message. Unknown
// errors map to ERR000.
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

// FormatUserError renders "Message (Code: XXX). Action".
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err matches a known pattern.
func IsUserFacing(err error) bool {
	return err != nil && MapError(err).Code != defaultMessage.Code
}

var domainErrors = []error{
	ErrTemplateNotFound,
	ErrInvalidTemplate,
	ErrImportNotFound,
	ErrInvalidCSVFormat,
	ErrUnsupportedFile,
	ErrEmptyFile,
	ErrFileTooLarge,
	ErrMissingUser,
	ErrNoValidData,
	ErrInvalidState,
	ErrTooManyUploads,
}

// IsDomainError reports whether err came from the pipeline's own checks
// rather than infrastructure. Domain errors are safe to show verbatim.
func IsDomainError(err error) bool {
	for _, target := range domainErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// UserError keeps the technical error for logs next to its user message.
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

// NewUserError wraps err with its mapped message. Returns nil for nil.
func NewUserError(err error) *UserError {
	if err == nil {
		return nil
	}
	return &UserError{Technical: err, User: MapError(err)}
}
