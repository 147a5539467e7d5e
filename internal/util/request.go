package util

import (
	"net"
	"net/http"
)

// GetClientIP returns the request's remote IP without the port. RealIP
// middleware has already rewritten RemoteAddr from proxy headers.
func GetClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
