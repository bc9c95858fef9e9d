package gateway

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"github.com/embygate/emby-gate/internal/compositor"
	"github.com/embygate/emby-gate/internal/emby"
	"github.com/embygate/emby-gate/internal/ident"

	json "github.com/goccy/go-json"
)

// pageRequest parses the window off the query string. Unconsumed params
// ride along in Extra so host-delegated requests keep the client's filters.
func pageRequest(q url.Values) compositor.PageRequest {
	req := compositor.PageRequest{
		SortBy:    q.Get("SortBy"),
		SortOrder: q.Get("SortOrder"),
		Extra:     url.Values{},
	}
	req.StartIndex, _ = strconv.Atoi(q.Get("StartIndex"))
	req.Limit, _ = strconv.Atoi(q.Get("Limit"))
	consumed := map[string]bool{
		"SortBy": true, "SortOrder": true, "StartIndex": true, "Limit": true,
		"ParentId": true, "api_key": true, "X-Emby-Token": true,
	}
	for k, vs := range q {
		if !consumed[k] {
			req.Extra[k] = vs
		}
	}
	return req
}

func (g *Gateway) handleViews(w http.ResponseWriter, r *http.Request, userID string) {
	res, err := g.comp.Views(r.Context(), userID)
	if err != nil {
		g.log.Error().Err(err).Str("user", userID).Msg("views merge failed")
		g.passthrough(w, r)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (g *Gateway) handleSyntheticListing(w http.ResponseWriter, r *http.Request, userID string) {
	parent := r.URL.Query().Get("ParentId")
	collectionID, err := ident.DecodeCollection(parent)
	if errors.Is(err, ident.ErrWrongKind) {
		// A missing-item placeholder has no children.
		writeJSON(w, http.StatusOK, emptyResult())
		return
	}
	if err != nil {
		http.Error(w, "bad id", http.StatusBadRequest)
		return
	}
	page, err := g.comp.CollectionItems(r.Context(), userID, collectionID, pageRequest(r.URL.Query()))
	if err != nil {
		if compositor.IsNotFound(err) {
			writeJSON(w, http.StatusOK, emptyResult())
			return
		}
		g.log.Error().Err(err).Int64("collection", collectionID).Msg("listing failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, emby.QueryResult{Items: page.Items, TotalRecordCount: page.Total})
}

func (g *Gateway) handleSyntheticDetail(w http.ResponseWriter, r *http.Request, userID, syntheticID string) {
	switch ident.KindOf(syntheticID) {
	case ident.KindCollection:
		collectionID, err := ident.DecodeCollection(syntheticID)
		if err != nil {
			http.Error(w, "bad id", http.StatusBadRequest)
			return
		}
		raw, err := g.comp.CollectionDetail(r.Context(), userID, collectionID)
		if err != nil {
			if compositor.IsNotFound(err) {
				http.NotFound(w, r)
				return
			}
			g.log.Error().Err(err).Int64("collection", collectionID).Msg("detail failed")
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(raw)

	case ident.KindMissingItem:
		g.handleMissingItemDetail(w, r, syntheticID)

	default:
		http.Error(w, "bad id", http.StatusBadRequest)
	}
}

func (g *Gateway) handleMissingItemDetail(w http.ResponseWriter, r *http.Request, syntheticID string) {
	catalogID, err := ident.DecodeMissingItem(syntheticID)
	if err != nil {
		http.Error(w, "bad id", http.StatusBadRequest)
		return
	}
	raw, err := g.comp.MissingItemDetail(r.Context(), catalogID)
	if err != nil {
		if compositor.IsNotFound(err) {
			http.NotFound(w, r)
			return
		}
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(raw)
}

// defaultLatestLimit matches the host's own default for latest rows.
const defaultLatestLimit = 16

func (g *Gateway) handleLatest(w http.ResponseWriter, r *http.Request, userID string) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("Limit"))
	if limit <= 0 {
		limit = defaultLatestLimit
	}
	parent := q.Get("ParentId")

	var items []json.RawMessage
	var err error
	switch {
	case ident.IsSynthetic(parent):
		collectionID, derr := ident.DecodeCollection(parent)
		if errors.Is(derr, ident.ErrWrongKind) {
			// A missing-item placeholder has no additions of its own.
			writeJSON(w, http.StatusOK, []json.RawMessage{})
			return
		}
		if derr != nil {
			http.Error(w, "bad id", http.StatusBadRequest)
			return
		}
		items, err = g.comp.CollectionLatest(r.Context(), userID, collectionID, limit)
	case parent == "":
		items, err = g.comp.AggregateLatest(r.Context(), userID, limit)
	default:
		// Native parent: the host answers better than we can.
		g.passthrough(w, r)
		return
	}
	if err != nil {
		if compositor.IsNotFound(err) {
			writeJSON(w, http.StatusOK, []json.RawMessage{})
			return
		}
		g.log.Error().Err(err).Str("parent", parent).Msg("latest failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if items == nil {
		items = []json.RawMessage{}
	}
	// Latest is served as a bare array, matching the host.
	writeJSON(w, http.StatusOK, items)
}
