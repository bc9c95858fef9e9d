package compositor

import (
	"context"
	"fmt"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/embygate/emby-gate/internal/emby"
	"github.com/embygate/emby-gate/internal/ident"
	"github.com/embygate/emby-gate/internal/store"
)

// collectionType maps a collection's entity types onto the host's view
// CollectionType vocabulary. Mixed collections get none, which hosts render
// as a generic folder.
func collectionType(c store.Collection) string {
	if len(c.EntityTypes) == 0 {
		return ""
	}
	allMovie, allSeries := true, true
	for _, t := range c.EntityTypes {
		if t != "Movie" {
			allMovie = false
		}
		if t != "Series" {
			allSeries = false
		}
	}
	switch {
	case allMovie:
		return "movies"
	case allSeries:
		return "tvshows"
	default:
		return ""
	}
}

// virtualView renders one collection as a host-shaped library view.
func (cp *Compositor) virtualView(c store.Collection, serverID string) (emby.View, error) {
	syntheticID, err := ident.EncodeCollection(c.ID)
	if err != nil {
		return emby.View{}, err
	}
	guid := uuid.New()
	return emby.View{
		Name:                  c.Name,
		ServerID:              serverID,
		ID:                    syntheticID,
		GUID:                  strings.ReplaceAll(guid.String(), "-", ""),
		Etag:                  strings.ReplaceAll(uuid.New().String(), "-", ""),
		CanDelete:             false,
		CanDownload:           false,
		SortName:              strings.ToLower(c.Name),
		ExternalURLs:          []struct{}{},
		ProviderIDs:           map[string]string{},
		IsFolder:              true,
		Type:                  "CollectionFolder",
		PresentationUniqueKey: syntheticID,
		Taglines:              []string{},
		RemoteTrailers:        []struct{}{},
		ChildCount:            c.InLibraryCount,
		CollectionType:        collectionType(c),
		ImageTags:             map[string]string{"Primary": "virtual_" + syntheticID},
		BackdropImageTags:     []string{},
		LockedFields:          []string{},
	}, nil
}

// Views merges the host's native views with virtual collection views for
// userID, honoring the configured selection filter and ordering.
func (cp *Compositor) Views(ctx context.Context, userID string) (emby.QueryResult, error) {
	var native []json.RawMessage
	if cp.cfg.Views.MergeNative {
		res, err := cp.host.UserViews(ctx, userID)
		if err != nil {
			return emby.QueryResult{}, fmt.Errorf("native views: %w", err)
		}
		native = filterNativeViews(res.Items, cp.cfg.Views.NativeSelection)
	}

	serverID, err := cp.host.ServerID(ctx)
	if err != nil {
		cp.log.Warn().Err(err).Msg("server id unavailable, views carry none")
	}

	cols, err := cp.store.ActiveCollections(ctx)
	if err != nil {
		return emby.QueryResult{}, err
	}
	virtual := make([]json.RawMessage, 0, len(cols))
	for _, c := range cols {
		if !c.VisibleTo(userID) {
			continue
		}
		v, err := cp.virtualView(c, serverID)
		if err != nil {
			cp.log.Warn().Err(err).Int64("collection", c.ID).Msg("skipping view")
			continue
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return emby.QueryResult{}, err
		}
		virtual = append(virtual, raw)
	}

	var merged []json.RawMessage
	if cp.cfg.Views.NativeOrder == "after" {
		merged = append(virtual, native...)
	} else {
		merged = append(native, virtual...)
	}
	return emby.QueryResult{Items: merged, TotalRecordCount: len(merged)}, nil
}

// filterNativeViews keeps only views named in selection; an empty selection
// keeps everything.
func filterNativeViews(items []json.RawMessage, selection []string) []json.RawMessage {
	if len(selection) == 0 {
		return items
	}
	keep := make(map[string]bool, len(selection))
	for _, s := range selection {
		keep[strings.ToLower(s)] = true
	}
	out := make([]json.RawMessage, 0, len(items))
	for _, raw := range items {
		var v struct {
			Name string `json:"Name"`
		}
		if err := json.Unmarshal(raw, &v); err == nil && keep[strings.ToLower(v.Name)] {
			out = append(out, raw)
		}
	}
	return out
}

// CollectionDetail renders a single virtual collection as a
// CollectionFolder detail record, or store.ErrNotFound.
func (cp *Compositor) CollectionDetail(ctx context.Context, userID string, collectionID int64) (json.RawMessage, error) {
	c, err := cp.store.CollectionByID(ctx, collectionID)
	if err != nil {
		return nil, err
	}
	if !c.VisibleTo(userID) {
		return nil, fmt.Errorf("collection %d: %w", collectionID, store.ErrNotFound)
	}
	serverID, err := cp.host.ServerID(ctx)
	if err != nil {
		cp.log.Warn().Err(err).Msg("server id unavailable")
	}
	v, err := cp.virtualView(c, serverID)
	if err != nil {
		return nil, err
	}
	return json.Marshal(v)
}

// Collection exposes one active collection definition, for callers that
// need the raw record (image proxying, detail shaping).
func (cp *Compositor) Collection(ctx context.Context, id int64) (store.Collection, error) {
	return cp.store.CollectionByID(ctx, id)
}

// MissingItem returns stored placeholder metadata for one catalog ID.
func (cp *Compositor) MissingItem(ctx context.Context, catalogID string) (store.MissingMeta, error) {
	metas, err := cp.store.MissingItemMeta(ctx, []string{catalogID})
	if err != nil {
		return store.MissingMeta{}, err
	}
	meta, ok := metas[catalogID]
	if !ok {
		return store.MissingMeta{}, fmt.Errorf("missing item %s: %w", catalogID, store.ErrNotFound)
	}
	return meta, nil
}

// MissingItemDetail renders a single missing-item placeholder, or
// store.ErrNotFound when no metadata is stored for the catalog ID.
func (cp *Compositor) MissingItemDetail(ctx context.Context, catalogID string) (json.RawMessage, error) {
	meta, err := cp.MissingItem(ctx, catalogID)
	if err != nil {
		return nil, err
	}
	syntheticID, err := ident.EncodeMissingItem(catalogID)
	if err != nil {
		return nil, err
	}
	serverID, _ := cp.host.ServerID(ctx)
	return json.Marshal(placeholderItem(syntheticID, serverID, meta))
}

// materializePlaceholders renders missing curated members as virtual items.
// The synthetic ID derives from the catalog ID, so repeated requests mint
// identical placeholders.
func (cp *Compositor) materializePlaceholders(ctx context.Context, catalogIDs []string) ([]json.RawMessage, error) {
	metas, err := cp.store.MissingItemMeta(ctx, catalogIDs)
	if err != nil {
		return nil, err
	}
	serverID, _ := cp.host.ServerID(ctx)

	out := make([]json.RawMessage, 0, len(catalogIDs))
	for _, cat := range catalogIDs {
		meta, ok := metas[cat]
		if !ok {
			continue
		}
		syntheticID, err := ident.EncodeMissingItem(cat)
		if err != nil {
			cp.log.Warn().Err(err).Str("catalog_id", cat).Msg("skipping placeholder")
			continue
		}
		raw, err := json.Marshal(placeholderItem(syntheticID, serverID, meta))
		if err != nil {
			return nil, err
		}
		out = append(out, raw)
	}
	return out, nil
}

func placeholderItem(syntheticID, serverID string, meta store.MissingMeta) map[string]any {
	kind := meta.Kind
	if kind == "" {
		kind = "Movie"
	}
	premiere := meta.ReleaseDate
	if premiere == "" && meta.Year > 0 {
		premiere = fmt.Sprintf("%04d-01-01T00:00:00.0000000Z", meta.Year)
	}
	item := map[string]any{
		"Name":         meta.Title,
		"ServerId":     serverID,
		"Id":           syntheticID,
		"Type":         kind,
		"IsFolder":     kind == "Series",
		"MediaType":    "Video",
		"LocationType": "Virtual",
		"UserData": map[string]any{
			"PlaybackPositionTicks": 0,
			"PlayCount":             0,
			"IsFavorite":            false,
			"Played":                false,
		},
		// The image tag carries the acquisition status so the image route
		// can stamp it onto the generated poster.
		"ImageTags": map[string]string{"Primary": "missing_" + meta.Status + "_" + meta.CatalogID},
	}
	if meta.Year > 0 {
		item["ProductionYear"] = meta.Year
	}
	if premiere != "" {
		item["PremiereDate"] = premiere
	}
	return item
}
