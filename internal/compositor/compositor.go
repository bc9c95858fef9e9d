// Package compositor builds host-protocol-shaped item pages for virtual
// collections, merging host-native items, curated store items and missing
// placeholders under three pagination strategies.
package compositor

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/embygate/emby-gate/internal/config"
	"github.com/embygate/emby-gate/internal/emby"
	"github.com/embygate/emby-gate/internal/logging"
	"github.com/embygate/emby-gate/internal/metrics"
	"github.com/embygate/emby-gate/internal/store"
)

// Scan caps keep a runaway collection definition from turning into an
// unbounded fan-out against the host.
const (
	curatedScanCap   = 2000
	delegatedScanCap = 5000
	latestScanCap    = 500
)

// Compositor composes virtual-collection pages from the local store and the
// host API.
type Compositor struct {
	store *store.Store
	host  *emby.Client
	cfg   *config.Config
	log   zerolog.Logger
}

func New(st *store.Store, host *emby.Client, cfg *config.Config) *Compositor {
	return &Compositor{
		store: st,
		host:  host,
		cfg:   cfg,
		log:   logging.Component("compositor"),
	}
}

// PageRequest is the client's pagination window, as parsed off the query
// string. Extra carries pass-through query params for delegated requests.
type PageRequest struct {
	SortBy     string
	SortOrder  string
	StartIndex int
	Limit      int // 0: unbounded
	Extra      url.Values
}

// Page is a composed window plus the reconciled authoritative total.
type Page struct {
	Items []json.RawMessage
	Total int
}

// candidateSet is everything eligible for a collection view before
// pagination: real host IDs in definition order, plus materialized
// placeholders for missing curated members.
type candidateSet struct {
	ids          []string
	placeholders []json.RawMessage
}

// CollectionItems builds one page of a virtual collection for userID. A
// collection hidden from the user yields an empty page, not an error.
func (cp *Compositor) CollectionItems(ctx context.Context, userID string, collectionID int64, req PageRequest) (Page, error) {
	c, err := cp.store.CollectionByID(ctx, collectionID)
	if err != nil {
		return Page{}, err
	}
	if !c.VisibleTo(userID) {
		return Page{Items: []json.RawMessage{}}, nil
	}

	sortBy, sortOrder := req.SortBy, req.SortOrder
	// A definition-level sort overrides whatever the client asked for,
	// unless explicitly disabled with "none".
	if c.FixedSortField != "" && c.FixedSortField != "none" {
		sortBy = c.FixedSortField
		sortOrder = c.FixedSortOrder
	}

	var page Page
	if c.Kind != "list" && store.SortableLocally(sortBy) {
		page, err = cp.localPage(ctx, userID, c, sortBy, sortOrder, req)
	} else {
		page, err = cp.delegatedPage(ctx, userID, c, sortBy, sortOrder, req)
	}
	if err != nil {
		return Page{}, err
	}
	return applyResultCap(page, c.ResultCap, req), nil
}

// localPage lets the store sort and window, then fetches only the page's
// detail records from the host.
func (cp *Compositor) localPage(ctx context.Context, userID string, c store.Collection, sortBy, sortOrder string, req PageRequest) (Page, error) {
	ids, total, err := cp.store.QueryItems(ctx, store.ItemQuery{
		Rules:       c.Rules,
		EntityTypes: c.EntityTypes,
		Libraries:   c.Libraries,
		UserID:      userID,
		SortField:   sortBy,
		SortOrder:   sortOrder,
		Offset:      req.StartIndex,
		Limit:       req.Limit,
	})
	if err != nil {
		return Page{}, fmt.Errorf("collection %d: %w", c.ID, err)
	}
	byID, err := cp.host.ItemsByIDs(ctx, userID, ids)
	if err != nil {
		return Page{}, err
	}
	items := make([]json.RawMessage, 0, len(ids))
	for _, id := range ids {
		if raw, ok := byID[id]; ok {
			items = append(items, raw)
		}
	}

	// The host may refuse items the local index still believes the user can
	// see. Shrink the reported total by the shortfall; when the corrected
	// total fits inside one page, clamp it to what was actually served so
	// clients never render a trailing ghost page.
	if shortfall := len(ids) - len(items); shortfall > 0 {
		total -= shortfall
		if req.Limit > 0 && total <= req.Limit {
			total = req.StartIndex + len(items)
		}
	}

	metrics.CompositorPages.WithLabelValues("local").Inc()
	return Page{Items: items, Total: total}, nil
}

// delegatedPage handles curated collections and sorts the store cannot
// compute. The host orders the candidate set when it fits in one request;
// otherwise everything is fetched and sorted here.
func (cp *Compositor) delegatedPage(ctx context.Context, userID string, c store.Collection, sortBy, sortOrder string, req PageRequest) (Page, error) {
	cand, err := cp.candidates(ctx, userID, c)
	if err != nil {
		return Page{}, err
	}

	var realItems []json.RawMessage
	var realTotal int
	switch {
	case len(cand.ids) == 0:
		// Nothing real; the page is placeholders only.
	case emby.SerializedIDListSize(cand.ids) < cp.cfg.Compositor.HostDelegatedByteLimit:
		res, err := cp.host.SortedItemsByIDs(ctx, userID, cand.ids, sortBy, sortOrder, req.StartIndex, req.Limit, req.Extra)
		if err != nil {
			return Page{}, err
		}
		realItems, realTotal = res.Items, res.TotalRecordCount
		metrics.CompositorPages.WithLabelValues("host_delegated").Inc()
	default:
		realItems, realTotal, err = cp.inMemoryPage(ctx, userID, cand.ids, sortBy, sortOrder, req)
		if err != nil {
			return Page{}, err
		}
		metrics.CompositorPages.WithLabelValues("in_memory").Inc()
	}

	// Placeholders occupy the tail of the combined sequence, after every
	// real item, so they surface on the final pages.
	total := realTotal + len(cand.placeholders)
	items := realItems
	if len(cand.placeholders) > 0 {
		winEnd := total
		if req.Limit > 0 {
			winEnd = min(req.StartIndex+req.Limit, total)
		}
		phStart := max(req.StartIndex, realTotal) - realTotal
		phEnd := winEnd - realTotal
		if phEnd > phStart {
			items = append(items, cand.placeholders[phStart:phEnd]...)
		}
	}
	return Page{Items: items, Total: total}, nil
}

// inMemoryPage fetches the whole candidate set in chunks, sorts with a
// typed key extractor and slices the window locally.
func (cp *Compositor) inMemoryPage(ctx context.Context, userID string, ids []string, sortBy, sortOrder string, req PageRequest) ([]json.RawMessage, int, error) {
	byID, err := cp.host.ItemsByIDs(ctx, userID, ids)
	if err != nil {
		return nil, 0, err
	}
	type sortable struct {
		raw json.RawMessage
		key emby.SortKey
		id  string
	}
	field, _, _ := strings.Cut(sortBy, ",")
	rows := make([]sortable, 0, len(byID))
	for _, id := range ids {
		raw, ok := byID[id]
		if !ok {
			continue
		}
		p, err := emby.Probe(raw)
		if err != nil {
			continue
		}
		rows = append(rows, sortable{raw: raw, key: p.SortValue(field), id: id})
	}
	desc := strings.EqualFold(sortOrder, "Descending")
	if field != "" {
		sort.SliceStable(rows, func(i, j int) bool {
			if desc {
				i, j = j, i
			}
			if rows[i].key.Less(rows[j].key) {
				return true
			}
			if rows[j].key.Less(rows[i].key) {
				return false
			}
			return rows[i].id < rows[j].id
		})
	}

	total := len(rows)
	start := min(req.StartIndex, total)
	end := total
	if req.Limit > 0 {
		end = min(start+req.Limit, total)
	}
	out := make([]json.RawMessage, 0, end-start)
	for _, r := range rows[start:end] {
		out = append(out, r.raw)
	}
	return out, total, nil
}

// candidates builds the eligible set for a collection. Curated members fall
// into three classes: visible (kept, in curated order), exists-but-hidden
// (dropped without a trace, so membership never leaks), and missing
// (materialized as a placeholder when enabled).
func (cp *Compositor) candidates(ctx context.Context, userID string, c store.Collection) (candidateSet, error) {
	if c.Kind != "list" {
		ids, err := cp.store.CandidateIDs(ctx, store.ItemQuery{
			Rules:       c.Rules,
			EntityTypes: c.EntityTypes,
			Libraries:   c.Libraries,
			UserID:      userID,
		}, delegatedScanCap)
		if err != nil {
			return candidateSet{}, fmt.Errorf("collection %d: %w", c.ID, err)
		}
		return candidateSet{ids: ids}, nil
	}

	members, err := cp.store.CuratedMembers(ctx, c.ID)
	if err != nil {
		return candidateSet{}, err
	}
	if len(members) > curatedScanCap {
		members = members[:curatedScanCap]
	}

	var unresolved []string
	for _, m := range members {
		if m.HostItemID == "" {
			unresolved = append(unresolved, m.CatalogID)
		}
	}
	existing, err := cp.store.ExistingByCatalogID(ctx, unresolved)
	if err != nil {
		return candidateSet{}, err
	}

	hostIDs := make([]string, 0, len(members))
	for _, m := range members {
		if id := memberHostID(m, existing); id != "" {
			hostIDs = append(hostIDs, id)
		}
	}
	visible, err := cp.store.VisibleToUser(ctx, userID, hostIDs)
	if err != nil {
		return candidateSet{}, err
	}

	var cand candidateSet
	var missing []string
	for _, m := range members {
		id := memberHostID(m, existing)
		switch {
		case id != "" && visible[id]:
			cand.ids = append(cand.ids, id)
		case id != "":
			// exists but hidden from this user
		default:
			missing = append(missing, m.CatalogID)
		}
	}

	if cp.cfg.Views.ShowMissingPlaceholders && len(missing) > 0 {
		cand.placeholders, err = cp.materializePlaceholders(ctx, missing)
		if err != nil {
			return candidateSet{}, err
		}
	}
	return cand, nil
}

func memberHostID(m store.Member, existing map[string]string) string {
	if m.HostItemID != "" {
		return m.HostItemID
	}
	return existing[m.CatalogID]
}

func applyResultCap(p Page, cap int, req PageRequest) Page {
	if cap <= 0 || p.Total <= cap {
		return p
	}
	p.Total = cap
	if over := req.StartIndex + len(p.Items) - cap; over > 0 {
		keep := len(p.Items) - over
		if keep < 0 {
			keep = 0
		}
		p.Items = p.Items[:keep]
	}
	return p
}

// IsNotFound reports whether err means the collection does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}
