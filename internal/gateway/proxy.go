package gateway

import (
	"io"
	"net"
	"net/http"

	json "github.com/goccy/go-json"

	"github.com/embygate/emby-gate/internal/emby"
	"github.com/embygate/emby-gate/internal/httpclient"
)

// hopByHop headers are connection-scoped and must not be forwarded in
// either direction.
var hopByHop = []string{
	"Connection", "Keep-Alive", "Proxy-Authenticate", "Proxy-Authorization",
	"Te", "Trailer", "Transfer-Encoding", "Upgrade",
}

// passthrough forwards the request to the host verbatim and streams the
// response back: original path, query, method, headers and body, minus the
// hop-by-hop set.
func (g *Gateway) passthrough(w http.ResponseWriter, r *http.Request) {
	outURL := *g.hostURL
	outURL.Path = r.URL.Path
	outURL.RawQuery = r.URL.RawQuery

	out, err := http.NewRequestWithContext(r.Context(), r.Method, outURL.String(), r.Body)
	if err != nil {
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}
	copyHeaders(out.Header, r.Header)
	out.Header.Set("X-Forwarded-For", clientIP(r))
	out.ContentLength = r.ContentLength

	resp, err := httpclient.ForStreaming().Do(out)
	if err != nil {
		g.log.Warn().Err(err).Str("path", r.URL.Path).Msg("passthrough failed")
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	copyHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		g.log.Debug().Err(err).Str("path", r.URL.Path).Msg("passthrough copy aborted")
	}
}

func copyHeaders(dst, src http.Header) {
	for k, vv := range src {
		if isHopByHop(k) {
			continue
		}
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}

func isHopByHop(key string) bool {
	for _, h := range hopByHop {
		if http.CanonicalHeaderKey(key) == h {
			return true
		}
	}
	return false
}

func clientIP(r *http.Request) string {
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		return ip
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func emptyResult() emby.QueryResult {
	return emby.QueryResult{Items: []json.RawMessage{}, TotalRecordCount: 0}
}
