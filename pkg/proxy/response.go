package proxy

import (
	"io"
	"net/http"
	"strconv"
	"strings"
)

// writeResponse copies resp back to w: hop-by-hop and encoding headers are
// stripped, and an HTML body is run through the configured rewriter with its
// content-length corrected if the rewrite changed the body size.
func (p *Proxy) writeResponse(w http.ResponseWriter, resp *http.Response) {
	for key, values := range resp.Header {
		if isResponseStripped(key) {
			continue
		}
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}

	if isHTML(resp.Header.Get("Content-Type")) {
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		rewritten := p.rewriter(body)
		if len(rewritten) != len(body) {
			w.Header().Set("Content-Length", strconv.Itoa(len(rewritten)))
		}
		w.WriteHeader(resp.StatusCode)
		_, _ = w.Write(rewritten)
		return
	}

	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)
}

func isResponseStripped(header string) bool {
	for _, h := range responseStripHeaders {
		if strings.EqualFold(h, header) {
			return true
		}
	}
	return false
}

func isHTML(contentType string) bool {
	return strings.HasPrefix(strings.ToLower(contentType), "text/html")
}
