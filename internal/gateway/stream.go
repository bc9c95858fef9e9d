package gateway

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/embygate/emby-gate/internal/httpclient"
	"github.com/embygate/emby-gate/internal/resolver"
	"github.com/embygate/emby-gate/internal/safeurl"
)

// handleStream serves /Videos/{id}/stream* and original* requests. Storage-
// backed items stream from the resolved direct URL; everything else, and
// any resolution failure, falls back to the host's own stream endpoint.
func (g *Gateway) handleStream(w http.ResponseWriter, r *http.Request, itemID string) {
	sig := resolver.Signature{UserAgent: r.UserAgent(), ClientIP: clientIP(r)}

	path, err := g.host.ItemPath(r.Context(), itemID)
	if err != nil {
		g.log.Debug().Err(err).Str("item", itemID).Msg("item path lookup failed, forwarding")
		g.forwardStream(w, r, sig)
		return
	}
	handle := g.extractHandle(path)
	if handle == "" {
		g.passthrough(w, r)
		return
	}

	link, err := g.cache.Resolve(r.Context(), handle, sig)
	switch {
	case err == nil:
		g.proxyResolved(w, r, link)
	case errors.Is(err, resolver.ErrRateLimited):
		w.Header().Set("Retry-After", "2")
		http.Error(w, "resolution rate limited", http.StatusTooManyRequests)
	default:
		g.forwardStream(w, r, sig)
	}
}

// proxyResolved streams the resolved URL's bytes through to the client,
// forwarding range requests so seeking keeps working.
func (g *Gateway) proxyResolved(w http.ResponseWriter, r *http.Request, link string) {
	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, link, nil)
	if err != nil {
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}
	for _, h := range []string{"Range", "If-Range", "Accept", "User-Agent"} {
		if v := r.Header.Get(h); v != "" {
			req.Header.Set(h, v)
		}
	}
	req.Header.Set("Referer", g.cfg.Storage.Referrer)

	resp, err := httpclient.ForStreaming().Do(req)
	if err != nil {
		g.log.Warn().Err(err).Str("url", safeurl.Redact(link)).Msg("resolved stream failed")
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	for _, h := range []string{"Content-Type", "Content-Length", "Content-Range", "Accept-Ranges", "ETag", "Last-Modified"} {
		if v := resp.Header.Get(h); v != "" {
			w.Header().Set(h, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		g.log.Debug().Err(err).Msg("stream copy aborted")
	}
}

// forwardStream sends the request to the host without following redirects.
// A host redirect that itself points at a storage handle is re-resolved and
// proxied; any other response relays as-is.
func (g *Gateway) forwardStream(w http.ResponseWriter, r *http.Request, sig resolver.Signature) {
	outURL := *g.hostURL
	outURL.Path = r.URL.Path
	outURL.RawQuery = r.URL.RawQuery

	out, err := http.NewRequestWithContext(r.Context(), r.Method, outURL.String(), nil)
	if err != nil {
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}
	copyHeaders(out.Header, r.Header)

	resp, err := httpclient.NoRedirect(0).Do(out)
	if err != nil {
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 && resp.StatusCode < 400 {
		loc := resp.Header.Get("Location")
		if handle := g.extractHandle(loc); handle != "" {
			if link, err := g.cache.Resolve(r.Context(), handle, sig); err == nil {
				g.proxyResolved(w, r, link)
				return
			}
		}
	}
	copyHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)
}

// handleRedirect is the public redirect endpoint: exchange a handle for a
// 302 to the direct URL, 429 when rate limited, passthrough on failure.
func (g *Gateway) handleRedirect(w http.ResponseWriter, r *http.Request) {
	handle := chi.URLParam(r, "handle")
	sig := resolver.Signature{UserAgent: r.UserAgent(), ClientIP: clientIP(r)}

	link, err := g.cache.Resolve(r.Context(), handle, sig)
	switch {
	case err == nil:
		http.Redirect(w, r, link, http.StatusFound)
	case errors.Is(err, resolver.ErrRateLimited):
		w.Header().Set("Retry-After", "2")
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	default:
		g.passthrough(w, r)
	}
}
