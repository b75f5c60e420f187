package ratelimit

import (
	"net"
	"net/http"
	"strings"
)

// ClientIdentifier derives the string that scopes a rate limit bucket to one
// caller. It starts from the transport-level address; when trustForwarded is
// set, the first comma-separated X-Forwarded-For value wins. That header is
// trusted by position only — the deployment must sit behind a reverse proxy
// that overwrites it, this is not a security control. A non-empty userID is
// appended as "ip:userID" so sessions behind a shared NAT get separate
// buckets.
//
// Pure: no I/O, deterministic for the same request and userID.
func ClientIdentifier(r *http.Request, userID string, trustForwarded bool) string {
	ip := remoteIP(r)

	if trustForwarded {
		if forwarded := firstForwardedFor(r); forwarded != "" {
			ip = forwarded
		}
	}

	if userID != "" {
		return ip + ":" + userID
	}
	return ip
}

func firstForwardedFor(r *http.Request) string {
	xff := r.Header.Get("X-Forwarded-For")
	if xff == "" {
		return ""
	}
	if idx := strings.IndexByte(xff, ','); idx >= 0 {
		xff = xff[:idx]
	}
	return strings.TrimSpace(xff)
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil && host != "" {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "unknown"
}
