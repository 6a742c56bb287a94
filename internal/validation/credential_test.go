package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/secretvault/internal/logging"
)

func TestValidateAPIKey(t *testing.T) {
	t.Parallel()

	validator := NewKeyValidator(16, logging.Discard())

	tests := []struct {
		name     string
		value    string
		valid    bool
		contains string
	}{
		{"valid", "abcdef0123456789", true, ""},
		{"long_valid", "sk_live_abcdef0123456789abcdef", true, ""},
		{"empty", "", false, "required"},
		{"too_short", "abc123", false, "at least 16"},
		{"inner_space", "abcdef01 23456789", false, "whitespace"},
		{"trailing_newline", "abcdef0123456789\n", false, "whitespace"},
		{"tab", "abcdef\t0123456789", false, "whitespace"},
		{"short_and_spaced", "ab cd", false, "whitespace"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := validator.ValidateAPIKey(tt.value)
			assert.Equal(t, tt.valid, result.Valid)
			if tt.valid {
				assert.NoError(t, result.Err())
				return
			}
			require.Error(t, result.Err())
			assert.Contains(t, result.Err().Error(), tt.contains)
		})
	}
}

func TestValidateAPIKeyReportsEveryFailure(t *testing.T) {
	t.Parallel()

	result := NewKeyValidator(16, logging.Discard()).ValidateAPIKey("a b")
	assert.False(t, result.Valid)
	assert.Len(t, result.Errors, 2)
}

func TestNewKeyValidatorDefaultLength(t *testing.T) {
	t.Parallel()

	validator := NewKeyValidator(0, nil)
	assert.False(t, validator.ValidateAPIKey("fifteen-chars-x").Valid)
	assert.True(t, validator.ValidateAPIKey("sixteen-chars-xx").Valid)
}

func TestMaskKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  string
	}{
		{"abcdef1234", "******1234"},
		{"12345", "*2345"},
		{"1234", "****"},
		{"ab", "**"},
		{"", ""},
		{"ключ-доступа-9999", "*************9999"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := MaskKey(tt.input)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, len([]rune(tt.input)), len([]rune(got)))
		})
	}
}
