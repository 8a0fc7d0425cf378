package platform

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"strings"
	"unicode/utf8"
)

// ClassifyStatus maps an HTTP status code to a Kind. Platforms with richer
// error bodies refine this.
func ClassifyStatus(status int) Kind {
	switch {
	case status == http.StatusUnauthorized:
		return TokenExpired
	case status == http.StatusForbidden:
		return PermissionDenied
	case status == http.StatusTooManyRequests:
		return RateLimited
	case status >= 400 && status < 500:
		return InvalidParameter
	case status >= 500:
		return PlatformServerError
	default:
		return Unknown
	}
}

// TransportError classifies a failure that happened before any response
// was received.
func TransportError(err error) *Error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &Error{Kind: Timeout, Message: "request timed out"}
	case errors.Is(err, context.Canceled):
		return &Error{Kind: Timeout, Message: "request canceled"}
	default:
		return &Error{Kind: PlatformServerError, Message: "platform unreachable: " + err.Error()}
	}
}

// StatusError builds an error for a non-success response, keeping a short
// excerpt of the body for operators.
func StatusError(kind Kind, status int, msg string) *Error {
	msg = strings.TrimSpace(msg)
	if msg == "" {
		msg = http.StatusText(status)
	}
	return &Error{Kind: kind, Message: clip(msg, 300), StatusCode: status}
}

// clip shortens s to at most n bytes without splitting a rune.
func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}

var urlPattern = regexp.MustCompile(`https?://[^\s<>"]+`)

// FindURL returns the first http(s) URL in text, without trailing
// punctuation, or "".
func FindURL(text string) string {
	u := urlPattern.FindString(text)
	return strings.TrimRight(u, ".,;:!?)]}'")
}
