package gateway

import (
	"compress/gzip"
	"io"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
	json "github.com/goccy/go-json"

	"github.com/embygate/emby-gate/internal/httpclient"
	"github.com/embygate/emby-gate/internal/resolver"
)

// handlePlaybackInfo forwards a playback-info request to the host, then
// rewrites any storage-backed media source to its resolved direct URL. The
// response keeps the host's shape; only the playback fields change.
func (g *Gateway) handlePlaybackInfo(w http.ResponseWriter, r *http.Request, itemID string) {
	outURL := *g.hostURL
	outURL.Path = r.URL.Path
	outURL.RawQuery = r.URL.RawQuery

	out, err := http.NewRequestWithContext(r.Context(), r.Method, outURL.String(), r.Body)
	if err != nil {
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}
	copyHeaders(out.Header, r.Header)
	out.ContentLength = r.ContentLength

	resp, err := httpclient.Default().Do(out)
	if err != nil {
		g.log.Warn().Err(err).Str("item", itemID).Msg("playback info fetch failed")
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		copyHeaders(w.Header(), resp.Header)
		w.WriteHeader(resp.StatusCode)
		_, _ = io.Copy(w, resp.Body)
		return
	}

	body, err := decodeBody(resp)
	if err != nil {
		g.log.Warn().Err(err).Str("item", itemID).Msg("playback info body unreadable")
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}

	var info map[string]any
	if err := json.Unmarshal(body, &info); err != nil {
		// Not JSON after all; relay untouched.
		w.Header().Set("Content-Type", resp.Header.Get("Content-Type"))
		_, _ = w.Write(body)
		return
	}

	sig := resolver.Signature{UserAgent: r.UserAgent(), ClientIP: clientIP(r)}
	g.rewriteMediaSources(r, info, sig)
	writeJSON(w, http.StatusOK, info)
}

// decodeBody reads the response body, transparently undoing gzip or brotli
// content encoding.
func decodeBody(resp *http.Response) ([]byte, error) {
	var reader io.Reader = resp.Body
	switch strings.ToLower(resp.Header.Get("Content-Encoding")) {
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, err
		}
		defer gz.Close()
		reader = gz
	case "br":
		reader = brotli.NewReader(resp.Body)
	}
	return io.ReadAll(reader)
}

// rewriteMediaSources points every storage-backed source at its resolved
// URL and marks it direct-playable. Sources that fail to resolve stay
// untouched; the stream route falls back to proxying them.
func (g *Gateway) rewriteMediaSources(r *http.Request, info map[string]any, sig resolver.Signature) {
	sources, _ := info["MediaSources"].([]any)
	for _, s := range sources {
		src, ok := s.(map[string]any)
		if !ok {
			continue
		}
		path, _ := src["Path"].(string)
		handle := g.extractHandle(path)
		if handle == "" {
			continue
		}
		link, err := g.cache.Resolve(r.Context(), handle, sig)
		if err != nil {
			g.log.Debug().Err(err).Str("handle", handle).Msg("playback rewrite skipped")
			continue
		}
		src["Path"] = link
		src["DirectStreamUrl"] = link
		src["RemoteUrl"] = link
		src["IsRemote"] = true
		src["Protocol"] = "Http"
		src["SupportsDirectPlay"] = true
		src["SupportsDirectStream"] = true
		src["SupportsTranscoding"] = false
		delete(src, "TranscodingUrl")
	}
}

// extractHandle pulls the storage handle out of a media path. Handles
// follow the configured prefix and run to the next separator.
func (g *Gateway) extractHandle(path string) string {
	prefix := g.cfg.Storage.HandlePrefix
	if prefix == "" {
		return ""
	}
	i := strings.Index(path, prefix)
	if i < 0 {
		return ""
	}
	handle := path[i+len(prefix):]
	if j := strings.IndexAny(handle, "/?&#"); j >= 0 {
		handle = handle[:j]
	}
	return handle
}
