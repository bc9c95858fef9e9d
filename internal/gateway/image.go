package gateway

import (
	"fmt"
	"html"
	"io"
	"net/http"

	"github.com/embygate/emby-gate/internal/httpclient"
	"github.com/embygate/emby-gate/internal/ident"
)

// handleSyntheticImage serves cover art for synthetic IDs: a virtual
// collection proxies its backing host collection's image, a missing item
// proxies its stored poster. Both fall back to a generated SVG.
func (g *Gateway) handleSyntheticImage(w http.ResponseWriter, r *http.Request, syntheticID string) {
	switch ident.KindOf(syntheticID) {
	case ident.KindCollection:
		g.collectionImage(w, r, syntheticID)
	case ident.KindMissingItem:
		g.missingItemImage(w, r, syntheticID)
	default:
		http.NotFound(w, r)
	}
}

func (g *Gateway) collectionImage(w http.ResponseWriter, r *http.Request, syntheticID string) {
	collectionID, err := ident.DecodeCollection(syntheticID)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	c, err := g.comp.Collection(r.Context(), collectionID)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	if c.HostCollectionID != "" {
		if g.proxyImage(w, r, g.host.ImageURL(c.HostCollectionID, "Primary")) {
			return
		}
	}
	serveSVG(w, c.Name, "")
}

func (g *Gateway) missingItemImage(w http.ResponseWriter, r *http.Request, syntheticID string) {
	catalogID, err := ident.DecodeMissingItem(syntheticID)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	meta, err := g.comp.MissingItem(r.Context(), catalogID)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	if meta.PosterURL != "" {
		if g.proxyImage(w, r, meta.PosterURL) {
			return
		}
	}
	serveSVG(w, meta.Title, meta.Status)
}

// proxyImage relays an upstream image; false means the caller should serve
// the fallback instead.
func (g *Gateway) proxyImage(w http.ResponseWriter, r *http.Request, imageURL string) bool {
	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, imageURL, nil)
	if err != nil {
		return false
	}
	resp, err := httpclient.Default().Do(req)
	if err != nil {
		g.log.Debug().Err(err).Msg("image proxy failed")
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return false
	}
	for _, h := range []string{"Content-Type", "Content-Length", "Cache-Control", "ETag"} {
		if v := resp.Header.Get(h); v != "" {
			w.Header().Set(h, v)
		}
	}
	_, _ = io.Copy(w, resp.Body)
	return true
}

// serveSVG renders a flat poster with the title and, for missing items, the
// acquisition status stamped underneath.
func serveSVG(w http.ResponseWriter, title, status string) {
	statusLine := ""
	if status != "" {
		statusLine = fmt.Sprintf(
			`<text x="50%%" y="62%%" text-anchor="middle" fill="#8899aa" font-family="sans-serif" font-size="28">%s</text>`,
			html.EscapeString(status))
	}
	svg := fmt.Sprintf(`<svg xmlns="http://www.w3.org/2000/svg" width="400" height="600" viewBox="0 0 400 600">
<rect width="400" height="600" fill="#1c2531"/>
<text x="50%%" y="50%%" text-anchor="middle" fill="#dde5ee" font-family="sans-serif" font-size="34">%s</text>
%s</svg>`, html.EscapeString(title), statusLine)

	w.Header().Set("Content-Type", "image/svg+xml")
	w.Header().Set("Cache-Control", "max-age=3600")
	_, _ = w.Write([]byte(svg))
}
