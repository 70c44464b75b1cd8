package logger

import "strings"

// RedactHandle masks a platform account handle for safe logging.
// "@socialgrowth99" → "@so***"
// Short handles (≤2 chars after the @) are fully masked: "@ab" → "@***"
func RedactHandle(handle string) string {
	name := strings.TrimPrefix(handle, "@")
	if len(name) > 2 {
		return "@" + name[:2] + "***"
	}
	return "@***"
}
