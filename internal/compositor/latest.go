package compositor

import (
	"context"
	"sort"

	json "github.com/goccy/go-json"

	"github.com/embygate/emby-gate/internal/emby"
)

// latestSort picks the host sort for a collection's latest view. Series
// collections order by last content added, a host-side aggregate the local
// store never holds, so latest is always host-delegated.
func latestSort(seriesOnly bool) string {
	if seriesOnly {
		return "DateLastContentAdded,DateCreated"
	}
	return "DateCreated"
}

// CollectionLatest returns the newest items of one collection, newest
// first. Collections hidden from the user or excluded from latest yield an
// empty list.
func (cp *Compositor) CollectionLatest(ctx context.Context, userID string, collectionID int64, limit int) ([]json.RawMessage, error) {
	c, err := cp.store.CollectionByID(ctx, collectionID)
	if err != nil {
		return nil, err
	}
	if !c.VisibleTo(userID) || !c.ShowInLatest {
		return []json.RawMessage{}, nil
	}
	cand, err := cp.candidates(ctx, userID, c)
	if err != nil {
		return nil, err
	}
	if len(cand.ids) == 0 {
		return []json.RawMessage{}, nil
	}
	ids := cand.ids
	if len(ids) > latestScanCap {
		ids = ids[:latestScanCap]
	}
	res, err := cp.host.SortedItemsByIDs(ctx, userID, ids, latestSort(c.SeriesOnly()), "Descending", 0, limit, nil)
	if err != nil {
		return nil, err
	}
	return res.Items, nil
}

// AggregateLatest merges the latest items of every latest-enabled,
// user-visible collection, dedups across overlapping collections and
// returns the newest limit items.
func (cp *Compositor) AggregateLatest(ctx context.Context, userID string, limit int) ([]json.RawMessage, error) {
	cols, err := cp.store.ActiveCollections(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	type dated struct {
		raw json.RawMessage
		key emby.SortKey
		id  string
	}
	var all []dated
	for _, c := range cols {
		if !c.ShowInLatest || !c.VisibleTo(userID) {
			continue
		}
		items, err := cp.CollectionLatest(ctx, userID, c.ID, limit)
		if err != nil {
			// One broken collection must not empty the whole latest row.
			cp.log.Warn().Err(err).Int64("collection", c.ID).Msg("latest fetch failed, skipping")
			continue
		}
		for _, raw := range items {
			id := emby.ItemID(raw)
			if id == "" || seen[id] {
				continue
			}
			seen[id] = true
			p, err := emby.Probe(raw)
			if err != nil {
				continue
			}
			all = append(all, dated{raw: raw, key: p.SortValue("DateCreated"), id: id})
		}
	}

	sort.SliceStable(all, func(i, j int) bool {
		if all[j].key.Less(all[i].key) {
			return true
		}
		if all[i].key.Less(all[j].key) {
			return false
		}
		return all[i].id < all[j].id
	})
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	out := make([]json.RawMessage, len(all))
	for i, d := range all {
		out[i] = d.raw
	}
	return out, nil
}
