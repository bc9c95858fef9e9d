package emby

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/embygate/emby-gate/internal/httpclient"
	"github.com/embygate/emby-gate/internal/logging"
)

// DetailChunkSize is the default for how many item IDs go into a single
// detail request when fanning out a large ID list.
const DetailChunkSize = 200

// DefaultFields is the field set requested on composited listings so cards
// render without a follow-up detail call per item.
const DefaultFields = "BasicSyncInfo,CanDelete,PrimaryImageAspectRatio,ProductionYear,Status,EndDate,CommunityRating,CriticRating,DateCreated,PremiereDate,SortName,Overview,Genres,RunTimeTicks,ProviderIds"

// Client talks to the host media server. All requests authenticate with the
// configured admin API key; user scoping happens through URL paths.
type Client struct {
	base      string
	apiKey    string
	http      *http.Client
	chunkSize int
	log       zerolog.Logger

	mu       sync.Mutex
	serverID string
}

func New(baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{
		base:      strings.TrimRight(baseURL, "/"),
		apiKey:    apiKey,
		http:      httpclient.WithTimeout(timeout),
		chunkSize: DetailChunkSize,
		log:       logging.Component("emby"),
	}
}

// SetDetailChunkSize overrides the ItemsByIDs fan-out chunk size. Values
// below 1 keep the default.
func (c *Client) SetDetailChunkSize(n int) {
	if n > 0 {
		c.chunkSize = n
	}
}

// BaseURL returns the host's base URL without a trailing slash.
func (c *Client) BaseURL() string { return c.base }

// APIKey returns the configured admin key, for requests the gateway builds itself.
func (c *Client) APIKey() string { return c.apiKey }

func (c *Client) url(path string, q url.Values) string {
	if q == nil {
		q = url.Values{}
	}
	q.Set("api_key", c.apiKey)
	return c.base + path + "?" + q.Encode()
}

func (c *Client) getJSON(ctx context.Context, rawURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	release := httpclient.GlobalHostSem.Acquire(c.base)
	defer release()

	resp, err := httpclient.DoWithRetry(ctx, c.http, req, httpclient.DefaultRetryPolicy)
	if err != nil {
		return fmt.Errorf("host request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("host returned %d for %s", resp.StatusCode, req.URL.Path)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode host response: %w", err)
	}
	return nil
}

// ItemsByIDs fetches full item records for ids, fanning out in chunks of the
// configured chunk size. Chunks run in parallel under the shared per-host
// limiter. A failed chunk drops its items rather than failing the whole page;
// the returned map is keyed by item ID and may be smaller than ids.
func (c *Client) ItemsByIDs(ctx context.Context, userID string, ids []string) (map[string]json.RawMessage, error) {
	if len(ids) == 0 {
		return map[string]json.RawMessage{}, nil
	}
	chunks := make([][]string, 0, (len(ids)+c.chunkSize-1)/c.chunkSize)
	for start := 0; start < len(ids); start += c.chunkSize {
		end := start + c.chunkSize
		if end > len(ids) {
			end = len(ids)
		}
		chunks = append(chunks, ids[start:end])
	}

	var mu sync.Mutex
	out := make(map[string]json.RawMessage, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	for _, chunk := range chunks {
		chunk := chunk
		g.Go(func() error {
			q := url.Values{}
			q.Set("Ids", strings.Join(chunk, ","))
			q.Set("Fields", DefaultFields)
			var res QueryResult
			if err := c.getJSON(gctx, c.url("/emby/Users/"+userID+"/Items", q), &res); err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				c.log.Warn().Err(err).Int("chunk_size", len(chunk)).Msg("item detail chunk failed, dropping")
				return nil
			}
			mu.Lock()
			for _, raw := range res.Items {
				if id := ItemID(raw); id != "" {
					out[id] = raw
				}
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// SortedItemsByIDs asks the host to sort and window an explicit ID list.
// This is the delegated strategy for pages whose candidate set fits in a
// single request URL.
func (c *Client) SortedItemsByIDs(ctx context.Context, userID string, ids []string, sortBy, sortOrder string, startIndex, limit int, extra url.Values) (QueryResult, error) {
	q := url.Values{}
	for k, vs := range extra {
		q[k] = vs
	}
	q.Set("Ids", strings.Join(ids, ","))
	if sortBy != "" {
		q.Set("SortBy", sortBy)
	}
	if sortOrder != "" {
		q.Set("SortOrder", sortOrder)
	}
	q.Set("StartIndex", strconv.Itoa(startIndex))
	if limit > 0 {
		q.Set("Limit", strconv.Itoa(limit))
	}
	if q.Get("Fields") == "" {
		q.Set("Fields", DefaultFields)
	}
	var res QueryResult
	err := c.getJSON(ctx, c.url("/emby/Users/"+userID+"/Items", q), &res)
	return res, err
}

// SerializedIDListSize is the byte length the ID list contributes to a
// delegated request URL (comma-joined). Callers compare it against the
// delegation threshold before choosing a strategy.
func SerializedIDListSize(ids []string) int {
	if len(ids) == 0 {
		return 0
	}
	n := len(ids) - 1
	for _, id := range ids {
		n += len(id)
	}
	return n
}

// ItemPath returns one item's storage path via the admin item query. Used
// by the stream route to detect storage-backed media.
func (c *Client) ItemPath(ctx context.Context, itemID string) (string, error) {
	q := url.Values{}
	q.Set("Ids", itemID)
	q.Set("Fields", "Path")
	var res QueryResult
	if err := c.getJSON(ctx, c.url("/emby/Items", q), &res); err != nil {
		return "", err
	}
	if len(res.Items) == 0 {
		return "", fmt.Errorf("item %s not found", itemID)
	}
	var v struct {
		Path string `json:"Path"`
	}
	if err := json.Unmarshal(res.Items[0], &v); err != nil {
		return "", err
	}
	return v.Path, nil
}

// UserViews returns the user's native library views.
func (c *Client) UserViews(ctx context.Context, userID string) (QueryResult, error) {
	var res QueryResult
	err := c.getJSON(ctx, c.url("/emby/Users/"+userID+"/Views", q0()), &res)
	return res, err
}

// LatestItems proxies the host's native latest-additions query for a set of
// parent libraries. The host returns a bare array rather than an envelope.
func (c *Client) LatestItems(ctx context.Context, userID string, parentID string, extra url.Values) ([]json.RawMessage, error) {
	q := url.Values{}
	for k, vs := range extra {
		q[k] = vs
	}
	if parentID != "" {
		q.Set("ParentId", parentID)
	}
	var res []json.RawMessage
	err := c.getJSON(ctx, c.url("/emby/Users/"+userID+"/Items/Latest", q), &res)
	return res, err
}

// ServerID returns the host's server identifier, fetched once and cached for
// the process lifetime. Synthetic views and items carry it so clients route
// follow-up requests back through the gateway.
func (c *Client) ServerID(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.serverID != "" {
		id := c.serverID
		c.mu.Unlock()
		return id, nil
	}
	c.mu.Unlock()

	var info struct {
		ID string `json:"Id"`
	}
	if err := c.getJSON(ctx, c.url("/emby/System/Info/Public", q0()), &info); err != nil {
		return "", err
	}
	if info.ID == "" {
		return "", fmt.Errorf("host reported empty server id")
	}
	c.mu.Lock()
	c.serverID = info.ID
	c.mu.Unlock()
	return info.ID, nil
}

// Ping checks host reachability. Used by the check subcommand and the
// background health task.
func (c *Client) Ping(ctx context.Context) error {
	var info struct {
		ID string `json:"Id"`
	}
	return c.getJSON(ctx, c.url("/emby/System/Info/Public", q0()), &info)
}

// ImageURL builds an authenticated primary-image URL for a host item.
func (c *Client) ImageURL(itemID, imageType string) string {
	if imageType == "" {
		imageType = "Primary"
	}
	return c.url("/emby/Items/"+itemID+"/Images/"+imageType, q0())
}

func q0() url.Values { return url.Values{} }
