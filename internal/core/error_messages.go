package core

// error_messages.go maps technical errors to user-facing messages with codes
// that users can quote to support.
//
// # Error Codes Reference
//
// # Extraction Errors (EXT001-EXT099)
//
//	EXT001 - Unreadable spreadsheet: the workbook could not be opened
//	         Action: Re-save the file as XLSX, XLS or ODS and upload it again
//	         Matches: extract.ErrUnreadableFormat
//
//	EXT002 - Empty spreadsheet: the first worksheet has no rows
//	         Action: Check that the orders are on the first worksheet
//	         Matches: extract.ErrEmptyInput
//
//	EXT003 - No orders found: no order block could be located
//	         Action: Check that the file is an order report export
//	         Matches: extract.ErrStructuralCorruption
//
// # File Errors (FILE001-FILE099)
//
//	FILE001 - File too large          Matches: storage.ErrTooLarge, "file too large"
//	FILE002 - Unsupported format      Matches: sheet.ErrUnsupportedFormat
//	FILE004 - No file                 Patterns: "no file provided"
//	FILE005 - Empty file              Patterns: "empty file"
//	FILE006 - File not found          Matches: storage.ErrNotFound
//	FILE007 - Invalid file reference  Matches: storage.ErrInvalidRef, storage.ErrUnsupportedScheme
//
// # Database Errors (DB001-DB099)
//
//	DB003 - Foreign key       Patterns: "foreign key constraint", "violates foreign key"
//	DB004 - Connection refused Patterns: "connection refused"
//	DB005 - Connection reset  Patterns: "connection reset"
//	DB006 - Timeout           Patterns: "timeout"
//	DB007 - Deadlock          Patterns: "deadlock", "database is locked"
//
// # Upload Errors (UPL001-UPL099)
//
//	UPL002 - System busy         Matches: ErrTooManyUploads
//	UPL003 - Not found           Matches: ErrNotFound
//	UPL004 - Request cancelled   Matches: context.Canceled
//	UPL005 - Request timeout     Matches: context.DeadlineExceeded
//	UPL006 - Processing abandoned Patterns: "processing timed out"
//
// # Rate Limiting (RATE001)
//
//	RATE001 - Too many requests  Patterns: "rate limit"
//
// # Request Errors (REQ001)
//
//	REQ001 - Malformed request body  Patterns: "invalid request body"
//
// # Default Error (ERR000)
//
// Fallback when nothing matches. Check the application logs for the
// technical error.
//
// # Matching
//
// Sentinels are tried first with errors.Is, in order, then patterns are
// matched case-insensitively with strings.Contains. The first match wins,
// so specific entries come before general ones.

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/JonMunkholm/orderimport/internal/extract"
	"github.com/JonMunkholm/orderimport/internal/sheet"
	"github.com/JonMunkholm/orderimport/internal/storage"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string `json:"message"` // What happened
	Action  string `json:"action"`  // What to do about it
	Code    string `json:"code"`    // Support reference
}

type sentinelMessage struct {
	target error
	msg    UserMessage
}

type errorPattern struct {
	pattern string
	msg     UserMessage
}

var (
	msgTooLarge = UserMessage{
		Message: "File exceeds the maximum size limit",
		Action:  "Export a shorter date range and upload it again",
		Code:    "FILE001",
	}
	msgBadRef = UserMessage{
		Message: "File reference is not valid",
		Action:  "Use a gs://bucket/path/to/file URL",
		Code:    "FILE007",
	}
)

var sentinelMessages = []sentinelMessage{
	{storage.ErrTooLarge, msgTooLarge},
	{storage.ErrNotFound, UserMessage{
		Message: "File not found in storage",
		Action:  "Check the file URL and that the upload finished",
		Code:    "FILE006",
	}},
	{storage.ErrInvalidRef, msgBadRef},
	{storage.ErrUnsupportedScheme, msgBadRef},
	{sheet.ErrUnsupportedFormat, UserMessage{
		Message: "File is not a supported spreadsheet",
		Action:  "Upload an XLSX, XLS or ODS file",
		Code:    "FILE002",
	}},

	{extract.ErrUnreadableFormat, UserMessage{
		Message: "The spreadsheet could not be read",
		Action:  "Re-save the file as XLSX, XLS or ODS and upload it again",
		Code:    "EXT001",
	}},
	{extract.ErrEmptyInput, UserMessage{
		Message: "The spreadsheet has no rows",
		Action:  "Check that the orders are on the first worksheet",
		Code:    "EXT002",
	}},
	{extract.ErrStructuralCorruption, UserMessage{
		Message: "No orders were found in the spreadsheet",
		Action:  "Check that the file is an order report export",
		Code:    "EXT003",
	}},

	{ErrTooManyUploads, UserMessage{
		Message: "System is busy processing other uploads",
		Action:  "Please wait a moment and try again",
		Code:    "UPL002",
	}},
	{ErrNotFound, UserMessage{
		Message: "The requested record was not found",
		Action:  "Check the id and try again",
		Code:    "UPL003",
	}},
	{context.Canceled, UserMessage{
		Message: "Request was cancelled",
		Action:  "Please try again",
		Code:    "UPL004",
	}},
	{context.DeadlineExceeded, UserMessage{
		Message: "Processing timed out",
		Action:  "Try a smaller file or try again later",
		Code:    "UPL005",
	}},
}

var errorPatterns = []errorPattern{
	{"foreign key constraint", UserMessage{
		Message: "Referenced record does not exist",
		Action:  "Please try again",
		Code:    "DB003",
	}},
	{"violates foreign key", UserMessage{
		Message: "Referenced record does not exist",
		Action:  "Please try again",
		Code:    "DB003",
	}},
	{"connection refused", UserMessage{
		Message: "Unable to connect to database",
		Action:  "Please try again in a few moments",
		Code:    "DB004",
	}},
	{"connection reset", UserMessage{
		Message: "Database connection was interrupted",
		Action:  "Please try again",
		Code:    "DB005",
	}},
	{"processing timed out", UserMessage{
		Message: "Processing was abandoned before it finished",
		Action:  "Upload the file again",
		Code:    "UPL006",
	}},
	{"timeout", UserMessage{
		Message: "Operation timed out",
		Action:  "Try a smaller file or try again later",
		Code:    "DB006",
	}},
	{"deadlock", UserMessage{
		Message: "Database was busy with conflicting operations",
		Action:  "Please try again",
		Code:    "DB007",
	}},
	{"database is locked", UserMessage{
		Message: "Database was busy with conflicting operations",
		Action:  "Please try again",
		Code:    "DB007",
	}},
	{"file too large", msgTooLarge},
	{"no file provided", UserMessage{
		Message: "No file was selected",
		Action:  "Please select a spreadsheet to upload",
		Code:    "FILE004",
	}},
	{"empty file", UserMessage{
		Message: "The uploaded file is empty",
		Action:  "Please upload a spreadsheet with order rows",
		Code:    "FILE005",
	}},
	{"rate limit", UserMessage{
		Message: "Too many requests",
		Action:  "Please wait a moment before trying again",
		Code:    "RATE001",
	}},
	{"invalid request body", UserMessage{
		Message: "The request could not be read",
		Action:  "Send a JSON body with a file_url field",
		Code:    "REQ001",
	}},
}

// defaultMessage is returned when nothing matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
//
// Example:
//
//	_, err := ex.ExtractFile(f, "orders.xlsx")
//	msg := MapError(err)
//	// msg.Code == "EXT003" when no order block was found
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	for _, sm := range sentinelMessages {
		if errors.Is(err, sm.target) {
			return sm.msg
		}
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// FormatUserError formats err as "Message (Code: XXX). Action".
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to a specific message rather than
// the ERR000 fallback.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}

// UserError pairs a technical error, kept for logging, with its user message.
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
