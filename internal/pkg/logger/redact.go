package logger

import "strings"

var secretKeyHints = []string{"key", "token", "secret", "password", "dsn"}

// redactSecretValue masks credential-like values so platform API keys and
// database DSNs never land in log output verbatim.
func redactSecretValue(key, val string) string {
	lower := strings.ToLower(key)
	for _, hint := range secretKeyHints {
		if strings.Contains(lower, hint) {
			return RedactSecret(val)
		}
	}
	return val
}

// RedactSecret masks a credential for safe logging.
// "sk-live-abcdef123456" -> "sk-l***3456"
// Values of 8 chars or fewer are fully masked.
func RedactSecret(s string) string {
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "***" + s[len(s)-4:]
}
