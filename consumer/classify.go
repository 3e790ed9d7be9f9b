package consumer

import "strings"

// nonRetryablePatterns are matched case-insensitively against the error text.
// A match means redelivery cannot help: the input or the credentials are
// wrong.
var nonRetryablePatterns = []string{
	"missing required field",
	"unauthorized",
	"forbidden",
	"invalid credentials",
	"invalid_credentials",
	"invalid_grant",
	"required",
}

// IsRetryable reports whether a failure should be left to queue redelivery.
func IsRetryable(errText string) bool {
	text := strings.ToLower(strings.TrimSpace(errText))
	if text == "" {
		return true
	}
	for _, pattern := range nonRetryablePatterns {
		if strings.Contains(text, pattern) {
			return false
		}
	}
	return true
}
