package compositor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/embygate/emby-gate/internal/config"
	"github.com/embygate/emby-gate/internal/emby"
	"github.com/embygate/emby-gate/internal/store"
)

// fakeHost serves a sortable item table the way the host's /Users/{id}/Items
// endpoint does, including live permission filtering via denied.
type fakeHost struct {
	items       map[string]map[string]any
	denied      map[string]bool
	nativeViews []map[string]any
}

func (f *fakeHost) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/emby/System/Info/Public", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"Id":"srv1"}`))
	})
	mux.HandleFunc("/emby/Users/", func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/Views") {
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]any{
				"Items": f.nativeViews, "TotalRecordCount": len(f.nativeViews),
			})
			return
		}
		q := r.URL.Query()
		var matched []map[string]any
		for _, id := range strings.Split(q.Get("Ids"), ",") {
			if it, ok := f.items[id]; ok && !f.denied[id] {
				matched = append(matched, it)
			}
		}
		if by := q.Get("SortBy"); by != "" {
			field, _, _ := strings.Cut(by, ",")
			desc := q.Get("SortOrder") == "Descending"
			sort.SliceStable(matched, func(i, j int) bool {
				if desc {
					i, j = j, i
				}
				return hostLess(matched[i], matched[j], field)
			})
		}
		total := len(matched)
		start, _ := strconv.Atoi(q.Get("StartIndex"))
		if start > total {
			start = total
		}
		end := total
		if lim, _ := strconv.Atoi(q.Get("Limit")); lim > 0 && start+lim < total {
			end = start + lim
		}
		out := map[string]any{"Items": matched[start:end], "TotalRecordCount": total}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(out)
	})
	return mux
}

func hostLess(a, b map[string]any, field string) bool {
	switch av := a[field].(type) {
	case float64:
		bv, _ := b[field].(float64)
		return av < bv
	case string:
		bv, _ := b[field].(string)
		return av < bv
	default:
		return false
	}
}

type fixture struct {
	cp   *Compositor
	st   *store.Store
	host *fakeHost
	cfg  *config.Config
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	fh := &fakeHost{items: map[string]map[string]any{}, denied: map[string]bool{}}
	srv := httptest.NewServer(fh.handler())
	t.Cleanup(srv.Close)

	cfg := config.Defaults()
	cfg.Views.ShowMissingPlaceholders = true
	client := emby.New(srv.URL, "k", 5*time.Second)
	return &fixture{cp: New(st, client, cfg), st: st, host: fh, cfg: cfg}
}

// addItem registers an item in both the mirrored index and the fake host.
func (f *fixture) addItem(t *testing.T, hostID, catalogID, name, itemType string, year int, rating float64) {
	t.Helper()
	created := time.Date(year, 3, 1, 0, 0, 0, 0, time.UTC).Format(time.RFC3339)
	_, err := f.st.DB().Exec(`INSERT INTO library_items
		(host_id, catalog_id, name, sort_name, item_type, library_id, production_year, date_created, community_rating)
		VALUES (?,?,?,?,?,'lib1',?,?,?)`,
		hostID, catalogID, name, name, itemType, year, created, rating)
	require.NoError(t, err)
	f.host.items[hostID] = map[string]any{
		"Id": hostID, "Name": name, "SortName": name, "Type": itemType,
		"ProductionYear": float64(year), "DateCreated": created, "CommunityRating": rating,
	}
}

func (f *fixture) addRuleCollection(t *testing.T, id int64) {
	t.Helper()
	_, err := f.st.DB().Exec(`INSERT INTO collections (id, name, kind, active, entity_types)
		VALUES (?, 'Rule', 'rule', 1, 'Movie')`, id)
	require.NoError(t, err)
}

func itemIDs(items []json.RawMessage) []string {
	out := make([]string, len(items))
	for i, raw := range items {
		out[i] = emby.ItemID(raw)
	}
	return out
}

func TestLocalStrategySortsAndPages(t *testing.T) {
	f := newFixture(t)
	for i := 1; i <= 6; i++ {
		f.addItem(t, strconv.Itoa(100+i), "tt"+strconv.Itoa(i), "Item"+strconv.Itoa(i), "Movie", 2000+i, 5.0)
	}
	f.addRuleCollection(t, 1)

	page, err := f.cp.CollectionItems(context.Background(), "u1", 1, PageRequest{
		SortBy: "ProductionYear", SortOrder: "Descending", Limit: 3,
	})
	require.NoError(t, err)
	assert.Equal(t, 6, page.Total)
	assert.Equal(t, []string{"106", "105", "104"}, itemIDs(page.Items))
}

func TestCountReconciliationNotClamped(t *testing.T) {
	f := newFixture(t)
	// Candidate set 10, page size 5; host permission-drops 1 item of page 1.
	for i := 1; i <= 10; i++ {
		f.addItem(t, strconv.Itoa(100+i), "tt"+strconv.Itoa(i), "Item"+strconv.Itoa(i), "Movie", 2000+i, 5.0)
	}
	f.addRuleCollection(t, 1)
	f.host.denied["101"] = true

	page, err := f.cp.CollectionItems(context.Background(), "u1", 1, PageRequest{
		SortBy: "ProductionYear", Limit: 5,
	})
	require.NoError(t, err)
	// 10 - 1 = 9 > page size 5: corrected but not clamped.
	assert.Equal(t, 9, page.Total)
	assert.Len(t, page.Items, 4)
}

func TestCountReconciliationClampsInsideOnePage(t *testing.T) {
	f := newFixture(t)
	for i := 1; i <= 4; i++ {
		f.addItem(t, strconv.Itoa(100+i), "tt"+strconv.Itoa(i), "Item"+strconv.Itoa(i), "Movie", 2000+i, 5.0)
	}
	f.addRuleCollection(t, 1)
	f.host.denied["101"] = true

	page, err := f.cp.CollectionItems(context.Background(), "u1", 1, PageRequest{
		SortBy: "ProductionYear", Limit: 5,
	})
	require.NoError(t, err)
	// 4 - 1 = 3 <= page size: clamped to the served count.
	assert.Equal(t, 3, page.Total)
	assert.Len(t, page.Items, 3)
}

func seedCurated(t *testing.T, f *fixture, id int64, members []string) {
	t.Helper()
	_, err := f.st.DB().Exec(`INSERT INTO collections (id, name, kind, active) VALUES (?, 'List', 'list', 1)`, id)
	require.NoError(t, err)
	for i, cat := range members {
		_, err := f.st.DB().Exec(`INSERT INTO collection_members (collection_id, position, catalog_id) VALUES (?,?,?)`, id, i, cat)
		require.NoError(t, err)
	}
}

func TestLocalAndDelegatedAgreeOnOrdering(t *testing.T) {
	f := newFixture(t)
	// Strictly increasing years: an unambiguous sort key.
	cats := make([]string, 0, 5)
	for i := 1; i <= 5; i++ {
		f.addItem(t, strconv.Itoa(200+i), "tt"+strconv.Itoa(i), "N"+strconv.Itoa(i), "Movie", 1990+i, 5.0)
		cats = append(cats, "tt"+strconv.Itoa(i))
	}
	f.addRuleCollection(t, 1)   // local strategy
	seedCurated(t, f, 2, cats)      // curated: always delegated
	f.cfg.Views.ShowMissingPlaceholders = false

	req := PageRequest{SortBy: "ProductionYear", SortOrder: "Descending", Limit: 10}
	local, err := f.cp.CollectionItems(context.Background(), "u1", 1, req)
	require.NoError(t, err)
	delegated, err := f.cp.CollectionItems(context.Background(), "u1", 2, req)
	require.NoError(t, err)

	assert.Equal(t, itemIDs(local.Items), itemIDs(delegated.Items))
	assert.Equal(t, local.Total, delegated.Total)
}

func TestCuratedVisibilityClasses(t *testing.T) {
	f := newFixture(t)
	f.addItem(t, "301", "tt1", "Visible", "Movie", 2001, 5)
	f.addItem(t, "302", "tt2", "Hidden", "Movie", 2002, 5)
	// tt2 exists but only userA may see it.
	_, err := f.st.DB().Exec(`INSERT INTO item_visibility (host_id, user_id) VALUES ('302', 'userA')`)
	require.NoError(t, err)
	// tt3 is missing from the library entirely.
	_, err = f.st.DB().Exec(`INSERT INTO missing_items (catalog_id, title, kind, year, status) VALUES ('tt3', 'Ghost', 'Movie', 2024, 'wanted')`)
	require.NoError(t, err)
	seedCurated(t, f, 5, []string{"tt1", "tt2", "tt3"})

	page, err := f.cp.CollectionItems(context.Background(), "userB", 5, PageRequest{Limit: 10})
	require.NoError(t, err)
	ids := itemIDs(page.Items)
	// Hidden member dropped without a placeholder; missing member rendered.
	require.Len(t, ids, 2)
	assert.Equal(t, "301", ids[0])
	assert.True(t, strings.HasPrefix(ids[1], "-800000_"))
	assert.Equal(t, 2, page.Total)

	var ph struct {
		Name         string            `json:"Name"`
		LocationType string            `json:"LocationType"`
		ImageTags    map[string]string `json:"ImageTags"`
		ServerID     string            `json:"ServerId"`
	}
	require.NoError(t, json.Unmarshal(page.Items[1], &ph))
	assert.Equal(t, "Ghost", ph.Name)
	assert.Equal(t, "Virtual", ph.LocationType)
	assert.Equal(t, "missing_wanted_tt3", ph.ImageTags["Primary"])
	assert.Equal(t, "srv1", ph.ServerID)
}

func TestCuratedPlaceholdersDisabled(t *testing.T) {
	f := newFixture(t)
	f.cfg.Views.ShowMissingPlaceholders = false
	f.addItem(t, "301", "tt1", "Visible", "Movie", 2001, 5)
	_, err := f.st.DB().Exec(`INSERT INTO missing_items (catalog_id, title) VALUES ('tt3', 'Ghost')`)
	require.NoError(t, err)
	seedCurated(t, f, 5, []string{"tt1", "tt3"})

	page, err := f.cp.CollectionItems(context.Background(), "u1", 5, PageRequest{Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, []string{"301"}, itemIDs(page.Items))
	assert.Equal(t, 1, page.Total)
}

func TestPlaceholdersOccupyTailWindow(t *testing.T) {
	f := newFixture(t)
	cats := []string{"tt1", "tt2", "m1", "m2"}
	f.addItem(t, "401", "tt1", "A", "Movie", 2001, 5)
	f.addItem(t, "402", "tt2", "B", "Movie", 2002, 5)
	for _, m := range []string{"m1", "m2"} {
		_, err := f.st.DB().Exec(`INSERT INTO missing_items (catalog_id, title, status) VALUES (?, ?, 'queued')`, m, "Missing "+m)
		require.NoError(t, err)
	}
	seedCurated(t, f, 6, cats)

	// Window covering only the placeholder tail.
	page, err := f.cp.CollectionItems(context.Background(), "u1", 6, PageRequest{StartIndex: 2, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 4, page.Total)
	ids := itemIDs(page.Items)
	require.Len(t, ids, 2)
	assert.True(t, strings.HasPrefix(ids[0], "-800000_"))

	// Window straddling the boundary.
	page, err = f.cp.CollectionItems(context.Background(), "u1", 6, PageRequest{StartIndex: 1, Limit: 2})
	require.NoError(t, err)
	ids = itemIDs(page.Items)
	require.Len(t, ids, 2)
	assert.Equal(t, "402", ids[0])
	assert.True(t, strings.HasPrefix(ids[1], "-800000_"))
}

func TestInMemoryFallbackWhenIDListTooLarge(t *testing.T) {
	f := newFixture(t)
	cats := make([]string, 0, 8)
	for i := 1; i <= 8; i++ {
		f.addItem(t, strconv.Itoa(500+i), "tt"+strconv.Itoa(i), "N"+strconv.Itoa(i), "Movie", 2000+i, float64(i))
		cats = append(cats, "tt"+strconv.Itoa(i))
	}
	seedCurated(t, f, 7, cats)
	// Force the fallback: every serialized ID list is "too large".
	f.cfg.Compositor.HostDelegatedByteLimit = 1

	page, err := f.cp.CollectionItems(context.Background(), "u1", 7, PageRequest{
		SortBy: "CommunityRating", SortOrder: "Descending", StartIndex: 1, Limit: 3,
	})
	require.NoError(t, err)
	assert.Equal(t, 8, page.Total)
	assert.Equal(t, []string{"507", "506", "505"}, itemIDs(page.Items))
}

func TestResultCapFolding(t *testing.T) {
	f := newFixture(t)
	for i := 1; i <= 6; i++ {
		f.addItem(t, strconv.Itoa(600+i), "tt"+strconv.Itoa(i), "N"+strconv.Itoa(i), "Movie", 2000+i, 5)
	}
	_, err := f.st.DB().Exec(`INSERT INTO collections (id, name, kind, active, entity_types, result_cap)
		VALUES (9, 'Capped', 'rule', 1, 'Movie', 4)`)
	require.NoError(t, err)

	page, err := f.cp.CollectionItems(context.Background(), "u1", 9, PageRequest{SortBy: "ProductionYear", Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 4, page.Total)
	assert.Len(t, page.Items, 4)

	// A window past the cap comes back empty.
	page, err = f.cp.CollectionItems(context.Background(), "u1", 9, PageRequest{SortBy: "ProductionYear", StartIndex: 4, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 4, page.Total)
	assert.Empty(t, page.Items)
}

func TestHiddenCollectionYieldsEmptyPage(t *testing.T) {
	f := newFixture(t)
	_, err := f.st.DB().Exec(`INSERT INTO collections (id, name, kind, active, allowed_user_ids)
		VALUES (3, 'Private', 'rule', 1, 'userA')`)
	require.NoError(t, err)

	page, err := f.cp.CollectionItems(context.Background(), "userB", 3, PageRequest{Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, page.Items)
	assert.Zero(t, page.Total)
}

func TestUnknownCollectionIsNotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.cp.CollectionItems(context.Background(), "u1", 999, PageRequest{})
	assert.True(t, IsNotFound(err))
}

func TestFixedSortOverridesRequest(t *testing.T) {
	f := newFixture(t)
	for i := 1; i <= 3; i++ {
		f.addItem(t, strconv.Itoa(700+i), "tt"+strconv.Itoa(i), "N"+strconv.Itoa(i), "Movie", 2000+i, 5)
	}
	_, err := f.st.DB().Exec(`INSERT INTO collections (id, name, kind, active, entity_types, fixed_sort_field, fixed_sort_order)
		VALUES (11, 'Fixed', 'rule', 1, 'Movie', 'ProductionYear', 'Descending')`)
	require.NoError(t, err)

	// Client asks ascending by name; the definition wins.
	page, err := f.cp.CollectionItems(context.Background(), "u1", 11, PageRequest{SortBy: "SortName", Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, []string{"703", "702", "701"}, itemIDs(page.Items))
}
