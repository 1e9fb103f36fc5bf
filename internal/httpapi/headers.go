package httpapi

import (
	"net/http"
	"strings"
)

// hopByHopHeaders must not cross either leg of the proxy. Host and
// Content-Length are included because the outbound request computes its own.
var hopByHopHeaders = map[string]struct{}{
	"connection":          {},
	"keep-alive":          {},
	"proxy-authenticate":  {},
	"proxy-authorization": {},
	"te":                  {},
	"trailers":            {},
	"transfer-encoding":   {},
	"upgrade":             {},
	"content-length":      {},
	"host":                {},
}

// filterHeaders copies a header set minus the hop-by-hop names.
func filterHeaders(in http.Header) http.Header {
	out := make(http.Header, len(in))
	copyFilteredHeaders(out, in)
	return out
}

// copyFilteredHeaders adds src's non-hop-by-hop headers to dst.
func copyFilteredHeaders(dst, src http.Header) {
	for name, values := range src {
		if _, hop := hopByHopHeaders[strings.ToLower(name)]; hop {
			continue
		}
		for _, value := range values {
			dst.Add(name, value)
		}
	}
}
