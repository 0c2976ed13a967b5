package audit

import (
	"net"
	"net/http"
	"strings"
	"unicode/utf8"
)

// maxUserAgent is the width of audit_logs.user_agent.
const maxUserAgent = 255

// WithRequest stamps entry with the caller's address and user agent.
func WithRequest(entry Entry, r *http.Request) Entry {
	if r == nil {
		return entry
	}
	entry.IP = ClientIP(r)
	entry.UserAgent = truncate(r.UserAgent(), maxUserAgent)
	return entry
}

// ClientIP returns the first parseable address from X-Forwarded-For or
// X-Real-IP, else the RemoteAddr host. Behind chi's RealIP middleware
// RemoteAddr already carries the forwarded client.
func ClientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	forwarded, _, _ := strings.Cut(r.Header.Get("X-Forwarded-For"), ",")
	for _, candidate := range []string{forwarded, r.Header.Get("X-Real-IP")} {
		if ip := net.ParseIP(strings.TrimSpace(candidate)); ip != nil {
			return ip.String()
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func truncate(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	cut := value[:limit]
	for len(cut) > 0 && !utf8.ValidString(cut) {
		cut = cut[:len(cut)-1]
	}
	return cut
}
