package user

import (
	"regexp"
	"strings"

	"warden/internal/shared/errors"
)

const (
	UsernameMinLength = 1
	UsernameMaxLength = 64
)

// Letters and numbers plus underscore.
var usernamePattern = regexp.MustCompile(`^\w+$`)

// ValidateUsername returns the lowercased username after validating its
// length and character set.
func ValidateUsername(username string) (string, error) {
	if len(username) < UsernameMinLength ||
		len(username) > UsernameMaxLength ||
		!usernamePattern.MatchString(username) {
		return "", errors.NewInvalidUsername(username)
	}
	return strings.ToLower(username), nil
}
