package mcpserver

import "finmux/internal/sanitize"

// sanitizeMessage strips any embedded secret before an error reaches a
// tool result, since router/adapter error strings may echo upstream
// response bodies verbatim.
func sanitizeMessage(msg string) string {
	return sanitize.Redact(msg)
}
