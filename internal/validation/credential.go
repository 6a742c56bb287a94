package validation

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/systmms/secretvault/internal/logging"
)

// DefaultMinKeyLength is the shortest metered API key accepted by default.
const DefaultMinKeyLength = 16

// KeyValidator checks the format of API keys before they are stored.
type KeyValidator struct {
	minLength int
	logger    *logging.Logger
}

// NewKeyValidator creates a validator. A non-positive minLength selects
// DefaultMinKeyLength.
func NewKeyValidator(minLength int, logger *logging.Logger) *KeyValidator {
	if minLength <= 0 {
		minLength = DefaultMinKeyLength
	}
	return &KeyValidator{
		minLength: minLength,
		logger:    logger,
	}
}

// ValidationResult contains the result of a validation
type ValidationResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
}

// Err returns nil for a valid result, otherwise an error joining every failure.
func (r *ValidationResult) Err() error {
	if r.Valid {
		return nil
	}
	return fmt.Errorf("%s", strings.Join(r.Errors, "; "))
}

// ValidateAPIKey rejects keys that contain whitespace or are too short.
func (v *KeyValidator) ValidateAPIKey(value string) *ValidationResult {
	result := &ValidationResult{Valid: true}

	if value == "" {
		result.Valid = false
		result.Errors = append(result.Errors, "api_key is required")
		return result
	}

	if strings.IndexFunc(value, unicode.IsSpace) >= 0 {
		result.Valid = false
		result.Errors = append(result.Errors, "api_key must not contain whitespace")
	}

	if n := utf8.RuneCountInString(value); n < v.minLength {
		result.Valid = false
		result.Errors = append(result.Errors, fmt.Sprintf("api_key must be at least %d characters", v.minLength))
	}

	if !result.Valid {
		v.logger.Debug("Rejected api key %s: %v", MaskKey(value), result.Errors)
	}
	return result
}

// MaskKey replaces all but the last 4 characters with '*'. Keys of 4
// characters or fewer are masked entirely.
func MaskKey(value string) string {
	runes := []rune(value)
	if len(runes) <= 4 {
		return strings.Repeat("*", len(runes))
	}
	return strings.Repeat("*", len(runes)-4) + string(runes[len(runes)-4:])
}
