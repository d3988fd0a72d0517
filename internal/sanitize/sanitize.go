// Package sanitize provides the field-cleaning rules the news
// deduplicator applies to parsed articles (config and mcpserver use
// Redact for error messages): control characters and
// angle brackets are stripped, whitespace is collapsed, and long values
// are truncated to a fixed cap.
package sanitize

import (
	"net/url"
	"regexp"
	"strings"
	"unicode"
)

// MaxFieldLength is the truncation cap applied to every sanitized string
// field in the news pipeline.
const MaxFieldLength = 512

var secretRun = regexp.MustCompile(`[A-Za-z0-9]{16,}`)

// Redact replaces any run of 16 or more alphanumeric characters in s with
// "[REDACTED]", so API keys and tokens accidentally embedded in an error
// message never reach a log line or a client-visible response.
func Redact(s string) string {
	return secretRun.ReplaceAllString(s, "[REDACTED]")
}

// Text strips control characters and '<'/'>' from in, collapses runs of
// whitespace to a single space, trims the result, and truncates to
// MaxFieldLength runes.
func Text(in string) string {
	var b strings.Builder
	b.Grow(len(in))
	for _, r := range in {
		if r == '<' || r == '>' {
			continue
		}
		if unicode.IsControl(r) && r != ' ' {
			continue
		}
		b.WriteRune(r)
	}
	collapsed := strings.Join(strings.Fields(b.String()), " ")
	runes := []rune(collapsed)
	if len(runes) > MaxFieldLength {
		runes = runes[:MaxFieldLength]
	}
	return string(runes)
}

// URL returns u unchanged if it parses as an absolute http(s) URL,
// otherwise the empty string.
func URL(u string) string {
	u = strings.TrimSpace(u)
	if u == "" {
		return ""
	}
	parsed, err := url.Parse(u)
	if err != nil {
		return ""
	}
	if !parsed.IsAbs() {
		return ""
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return ""
	}
	if parsed.Host == "" {
		return ""
	}
	return u
}
