package pseudo

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Error codes surfaced to callers of the public operations.
const (
	CodeInvalidInput            = "INPUT_001"
	CodeModelLoadingFailed      = "MODEL_001"
	CodeEntityExtractionFailed  = "NER_001"
	CodePatternMatchingFailed   = "PATTERN_001"
	CodeMappingImportFailed     = "MAPPING_001"
	CodeSessionNotFound         = "SESSION_001"
	CodeLanguageDetectionFailed = "LANG_001"
)

// ServiceError is a structured failure: code, message and details, never a
// silent truncation.
type ServiceError struct {
	Code    string            `json:"error_code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsCode reports whether err is a ServiceError with the given code.
func IsCode(err error, code string) bool {
	var serviceErr *ServiceError
	return errors.As(err, &serviceErr) && serviceErr.Code == code
}

func invalidInput(message, field string) *ServiceError {
	return &ServiceError{
		Code:    CodeInvalidInput,
		Message: message,
		Details: map[string]string{"field": field},
	}
}

func sessionNotFound(sessionID string) *ServiceError {
	return &ServiceError{
		Code:    CodeSessionNotFound,
		Message: fmt.Sprintf("session %q not found", sessionID),
		Details: map[string]string{"session_id": sessionID},
	}
}

func importFailed(err error) *ServiceError {
	return &ServiceError{
		Code:    CodeMappingImportFailed,
		Message: "failed to import mappings: " + err.Error(),
	}
}

// Session ids supplied by callers are opaque strings of bounded length.
const (
	minSessionIDLength = 8
	maxSessionIDLength = 128
)

// validateSessionID checks an explicitly supplied session id. Empty means
// "generate one" and is not an error.
func validateSessionID(sessionID string) error {
	if sessionID == "" {
		return nil
	}
	trimmed := strings.TrimSpace(sessionID)
	if trimmed == "" {
		return invalidInput("session id cannot be blank", "session_id")
	}
	length := utf8.RuneCountInString(trimmed)
	if length < minSessionIDLength || length > maxSessionIDLength {
		return invalidInput(
			fmt.Sprintf("session id must be between %d and %d characters, got %d",
				minSessionIDLength, maxSessionIDLength, length),
			"session_id")
	}
	return nil
}

// clampConfidence forces a confidence threshold into [0,1]. Out-of-range
// values are permitted at the boundary and clamped rather than rejected.
func clampConfidence(value float64) float64 {
	if value < 0 {
		return 0
	}
	if value > 1 {
		return 1
	}
	return value
}
