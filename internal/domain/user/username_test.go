package user

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"warden/internal/shared/errors"
)

func TestValidateUsername(t *testing.T) {
	t.Run("valid usernames are case folded", func(t *testing.T) {
		for input, want := range map[string]string{
			"alice":   "alice",
			"Alice":   "alice",
			"BOB_42":  "bob_42",
			"x":       "x",
			"_under_": "_under_",
		} {
			got, err := ValidateUsername(input)
			require.NoError(t, err, input)
			assert.Equal(t, want, got)
		}
	})

	t.Run("invalid usernames are rejected", func(t *testing.T) {
		for _, input := range []string{
			"",
			"has space",
			"dash-ed",
			"dot.ted",
			"semi;colon",
			strings.Repeat("a", UsernameMaxLength+1),
		} {
			_, err := ValidateUsername(input)
			assert.True(t, errors.Is(err, errors.KindInvalidUsername), input)
		}
	})

	t.Run("max length is accepted", func(t *testing.T) {
		input := strings.Repeat("a", UsernameMaxLength)
		got, err := ValidateUsername(input)
		require.NoError(t, err)
		assert.Equal(t, input, got)
	})
}
