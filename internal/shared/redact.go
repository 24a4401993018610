package shared

import (
	"regexp"
	"strings"
)

const redactedPlaceholder = "[REDACTED]"

// Patterns with two groups keep the first and replace the second.
var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(api[_-]?key|apikey|secret[_-]?key|auth[_-]?token|bot[_-]?token)\s*[:=]\s*"?([A-Za-z0-9_\-./+=:]{16,})"?`),
	regexp.MustCompile(`(?i)(Bearer\s+)([A-Za-z0-9_\-./+=]{16,})`),
	// Bridge endpoints carry their token in the query string.
	regexp.MustCompile(`(?i)([?&](?:token|key)=)([^&\s"]+)`),
	// Telegram bot tokens: <digits>:<35 chars>.
	regexp.MustCompile(`\b[0-9]{6,12}:[A-Za-z0-9_\-]{30,}\b`),
	regexp.MustCompile(`AIza[A-Za-z0-9_\-]{30,}`),
	regexp.MustCompile(`\bsk-(?:ant-)?[A-Za-z0-9_\-]{20,}`),
}

// Redact masks secret-bearing substrings in log, event and audit text.
func Redact(input string) string {
	if input == "" {
		return input
	}
	result := input
	for _, pat := range secretPatterns {
		result = pat.ReplaceAllStringFunc(result, func(match string) string {
			sub := pat.FindStringSubmatch(match)
			if len(sub) >= 3 {
				return sub[1] + redactedPlaceholder
			}
			return redactedPlaceholder
		})
	}
	return result
}

var sensitiveKeys = []string{"api_key", "apikey", "secret", "token", "password", "credential"}

// RedactValue masks value when key names a secret.
func RedactValue(key, value string) string {
	k := strings.ToLower(key)
	for _, s := range sensitiveKeys {
		if strings.Contains(k, s) {
			return redactedPlaceholder
		}
	}
	return value
}
