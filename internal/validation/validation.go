// Package validation provides input validation for the event ingest API.
package validation

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
)

// MaxRequestSize is the maximum request body size (1MB)
const MaxRequestSize = 1 << 20 // 1MB

// MaxStringLength is the maximum length for string fields
const MaxStringLength = 10000

var (
	// contactHashRegex validates irreversible contact identifiers
	// (hex-encoded SHA-256, never a real handle).
	contactHashRegex = regexp.MustCompile(`^[a-f0-9]{64}$`)
	// idRegex validates child/family identifiers (UUID-ish or prefixed random IDs).
	idRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]{8,64}$`)
)

// RequestSizeMiddleware limits request body size
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// IsValidContactHash checks that a contact identifier is a hex SHA-256 digest.
// Anything else risks a raw handle leaking into storage.
func IsValidContactHash(s string) bool {
	return contactHashRegex.MatchString(s)
}

// IsValidID checks child/family identifier shape.
func IsValidID(s string) bool {
	return idRegex.MatchString(s)
}

// SanitizeContactHash normalizes a contact hash to lowercase hex.
func SanitizeContactHash(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// SanitizeString removes dangerous characters and limits length
func SanitizeString(s string, maxLen int) string {
	// Trim whitespace
	s = strings.TrimSpace(s)

	// Limit length
	if len(s) > maxLen {
		s = s[:maxLen]
	}

	// Remove null bytes
	s = strings.ReplaceAll(s, "\x00", "")

	return s
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	return e[0].Field + ": " + e[0].Message
}

// Validate validates a request and returns errors
func Validate(validators ...func() *ValidationError) ValidationErrors {
	var errors ValidationErrors
	for _, v := range validators {
		if err := v(); err != nil {
			errors = append(errors, *err)
		}
	}
	return errors
}

// Required checks if a field is non-empty
func Required(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if strings.TrimSpace(value) == "" {
			return &ValidationError{Field: field, Message: "is required"}
		}
		return nil
	}
}

// ContactHash checks that a field holds a valid contact hash.
func ContactHash(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if !IsValidContactHash(SanitizeContactHash(value)) {
			return &ValidationError{Field: field, Message: "must be a 64-char hex contact hash"}
		}
		return nil
	}
}

// ID checks that a field holds a valid child/family identifier.
func ID(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if !IsValidID(value) {
			return &ValidationError{Field: field, Message: "must be an identifier of 8-64 word characters"}
		}
		return nil
	}
}

// Fraction checks that a numeric field lies in [0.0, 1.0].
func Fraction(field string, value float64) func() *ValidationError {
	return func() *ValidationError {
		if value < 0.0 || value > 1.0 {
			return &ValidationError{Field: field, Message: "must be within [0.0, 1.0]"}
		}
		return nil
	}
}
