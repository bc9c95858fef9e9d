package emby

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(srv.URL, "testkey", 5*time.Second), srv
}

func TestItemsByIDsChunksAndMerges(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		require.Equal(t, "testkey", r.URL.Query().Get("api_key"))
		ids := strings.Split(r.URL.Query().Get("Ids"), ",")
		require.LessOrEqual(t, len(ids), DetailChunkSize)
		var b strings.Builder
		b.WriteString(`{"TotalRecordCount":0,"Items":[`)
		for i, id := range ids {
			if i > 0 {
				b.WriteString(",")
			}
			b.WriteString(`{"Id":"` + id + `","Name":"n` + id + `"}`)
		}
		b.WriteString("]}")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(b.String()))
	}))

	ids := make([]string, 0, DetailChunkSize+50)
	for i := 0; i < DetailChunkSize+50; i++ {
		ids = append(ids, "id"+itoa(i))
	}
	got, err := c.ItemsByIDs(context.Background(), "u1", ids)
	require.NoError(t, err)
	assert.Len(t, got, len(ids))
	assert.Equal(t, int32(2), calls.Load())
	for _, id := range ids {
		assert.Contains(t, got, id)
	}
}

func TestItemsByIDsHonorsConfiguredChunkSize(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		ids := strings.Split(r.URL.Query().Get("Ids"), ",")
		require.LessOrEqual(t, len(ids), 2)
		_, _ = w.Write([]byte(`{"TotalRecordCount":0,"Items":[]}`))
	}))
	c.SetDetailChunkSize(2)

	_, err := c.ItemsByIDs(context.Background(), "u1", []string{"1", "2", "3", "4", "5"})
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	var b [8]byte
	n := len(b)
	for i > 0 {
		n--
		b[n] = byte('0' + i%10)
		i /= 10
	}
	return string(b[n:])
}

func TestItemsByIDsDropsFailedChunk(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ids := strings.Split(r.URL.Query().Get("Ids"), ",")
		if ids[0] == "bad" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"TotalRecordCount":1,"Items":[{"Id":"` + ids[0] + `"}]}`))
	}))

	// Two chunks: one good, one failing. Must still return the good items.
	ids := make([]string, DetailChunkSize+1)
	ids[0] = "bad"
	for i := 1; i < len(ids); i++ {
		ids[i] = "ok" + itoa(i)
	}
	got, err := c.ItemsByIDs(context.Background(), "u1", ids)
	require.NoError(t, err)
	assert.NotContains(t, got, "bad")
}

func TestSortedItemsByIDsQuery(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "5,7,9", q.Get("Ids"))
		assert.Equal(t, "SortName", q.Get("SortBy"))
		assert.Equal(t, "Descending", q.Get("SortOrder"))
		assert.Equal(t, "10", q.Get("StartIndex"))
		assert.Equal(t, "5", q.Get("Limit"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"TotalRecordCount":3,"Items":[{"Id":"7"}]}`))
	}))

	res, err := c.SortedItemsByIDs(context.Background(), "u1", []string{"5", "7", "9"}, "SortName", "Descending", 10, 5, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, res.TotalRecordCount)
	require.Len(t, res.Items, 1)
	assert.Equal(t, "7", ItemID(res.Items[0]))
}

func TestSortedItemsByIDsKeepsExtraParams(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Movie", r.URL.Query().Get("IncludeItemTypes"))
		_, _ = w.Write([]byte(`{"TotalRecordCount":0,"Items":[]}`))
	}))
	extra := url.Values{"IncludeItemTypes": {"Movie"}}
	_, err := c.SortedItemsByIDs(context.Background(), "u1", []string{"1"}, "", "", 0, 0, extra)
	require.NoError(t, err)
}

func TestServerIDCached(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/emby/System/Info/Public", r.URL.Path)
		_, _ = w.Write([]byte(`{"Id":"srv123"}`))
	}))

	for i := 0; i < 3; i++ {
		id, err := c.ServerID(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "srv123", id)
	}
	assert.Equal(t, int32(1), calls.Load())
}

func TestSerializedIDListSize(t *testing.T) {
	assert.Equal(t, 0, SerializedIDListSize(nil))
	assert.Equal(t, 3, SerializedIDListSize([]string{"123"}))
	// "12,345" = 6 bytes
	assert.Equal(t, 6, SerializedIDListSize([]string{"12", "345"}))
}

func TestProbeAndSortKeys(t *testing.T) {
	raw := []byte(`{"Id":"9","Name":"Zeta","SortName":"zeta","PremiereDate":"2021-06-01T00:00:00.0000000Z","CommunityRating":7.5,"UserData":{"PlayCount":3}}`)
	p, err := Probe(raw)
	require.NoError(t, err)
	assert.Equal(t, "9", p.ID)
	assert.Equal(t, 3, p.PlayCount)

	dated := p.SortValue("PremiereDate")
	undated, err := Probe([]byte(`{"Id":"1","Name":"Alpha"}`))
	require.NoError(t, err)
	// Undated items sort before dated ones.
	assert.True(t, undated.SortValue("PremiereDate").Less(dated))

	assert.True(t, undated.SortValue("SortName").Less(p.SortValue("SortName")))
	assert.True(t, undated.SortValue("CommunityRating").Less(p.SortValue("CommunityRating")))
	assert.True(t, undated.SortValue("PlayCount").Less(p.SortValue("PlayCount")))
}

func TestProductionYearFallsBackToYear(t *testing.T) {
	p, err := Probe([]byte(`{"Id":"1","ProductionYear":1999}`))
	require.NoError(t, err)
	k := p.SortValue("ProductionYear")
	assert.Equal(t, 1999, k.Time.Year())
}
