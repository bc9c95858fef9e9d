// Package emby is the typed client for the host media server's HTTP API:
// item listing/detail, user views, playback info and images.
//
// Composited responses must keep the host's exact protocol shape, so item
// records fetched for re-serving are carried as raw JSON and only probed for
// the handful of fields the compositor needs (identity and sort keys).
package emby

import (
	"strings"
	"time"

	json "github.com/goccy/go-json"
)

// QueryResult is the host's paginated envelope for item listings.
type QueryResult struct {
	Items            []json.RawMessage `json:"Items"`
	TotalRecordCount int               `json:"TotalRecordCount"`
}

// ItemProbe is the thin view of an item record used for identity lookup and
// in-memory sorting. Everything else stays opaque in the raw JSON.
type ItemProbe struct {
	ID              string   `json:"Id"`
	Name            string   `json:"Name"`
	SortName        string   `json:"SortName"`
	Type            string   `json:"Type"`
	ProductionYear  int      `json:"ProductionYear"`
	PremiereDate    string   `json:"PremiereDate"`
	DateCreated     string   `json:"DateCreated"`
	CommunityRating float64  `json:"CommunityRating"`
	CriticRating    float64  `json:"CriticRating"`
	RuntimeTicks    int64         `json:"RunTimeTicks"`
	PlayCount       int           `json:"-"`
	UserData        userDataProbe `json:"UserData"`
}

type userDataProbe struct {
	PlayCount int `json:"PlayCount"`
}

// Probe parses the probe fields out of a raw item record.
func Probe(raw json.RawMessage) (ItemProbe, error) {
	var p ItemProbe
	if err := json.Unmarshal(raw, &p); err != nil {
		return ItemProbe{}, err
	}
	p.PlayCount = p.UserData.PlayCount
	return p, nil
}

// ItemID extracts just the Id of a raw item record; empty on parse failure.
func ItemID(raw json.RawMessage) string {
	var v struct {
		ID string `json:"Id"`
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return ""
	}
	return v.ID
}

// SortValue returns the comparable key for field with a type-appropriate
// extractor: chronological fields fall back to a far-past sentinel,
// numeric fields to 0, text to the lowercased string.
func (p ItemProbe) SortValue(field string) SortKey {
	switch {
	case strings.Contains(field, "Date") || strings.Contains(field, "Year"):
		return SortKey{Time: p.timeValue(field)}
	case strings.Contains(field, "Rating") || strings.Contains(field, "Count") || strings.Contains(field, "Runtime"):
		return SortKey{Num: p.numValue(field), IsNum: true}
	default:
		s := p.SortName
		if field == "Name" || s == "" {
			s = p.Name
		}
		return SortKey{Str: strings.ToLower(s), IsStr: true}
	}
}

// missingDateSentinel sorts undated items before everything else, matching
// the host's treatment of unknown dates.
var missingDateSentinel = time.Date(1900, 1, 1, 0, 0, 0, 0, time.UTC)

func (p ItemProbe) timeValue(field string) time.Time {
	var raw string
	switch field {
	case "DateCreated":
		raw = p.DateCreated
	case "PremiereDate", "ProductionYear":
		raw = p.PremiereDate
		if raw == "" && p.ProductionYear > 0 {
			return time.Date(p.ProductionYear, 1, 1, 0, 0, 0, 0, time.UTC)
		}
	default:
		raw = p.DateCreated
	}
	if raw == "" {
		return missingDateSentinel
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05.0000000Z", "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t
		}
	}
	return missingDateSentinel
}

func (p ItemProbe) numValue(field string) float64 {
	switch field {
	case "CommunityRating":
		return p.CommunityRating
	case "CriticRating":
		return p.CriticRating
	case "PlayCount":
		return float64(p.PlayCount)
	case "RuntimeTicks", "Runtime":
		return float64(p.RuntimeTicks)
	default:
		return 0
	}
}

// SortKey is a typed comparison key produced by SortValue.
type SortKey struct {
	Time  time.Time
	Num   float64
	Str   string
	IsNum bool
	IsStr bool
}

// Less orders two keys of the same shape.
func (k SortKey) Less(o SortKey) bool {
	switch {
	case k.IsStr:
		return k.Str < o.Str
	case k.IsNum:
		return k.Num < o.Num
	default:
		return k.Time.Before(o.Time)
	}
}

// PlaybackInfo is the host's playback-info response. MediaSources stay as
// generic maps: the gateway rewrites a few fields in place and must return
// every other field untouched.
type PlaybackInfo struct {
	MediaSources  []map[string]any `json:"MediaSources"`
	PlaySessionID string           `json:"PlaySessionId,omitempty"`
}

// View is a library view entry as served by /Users/{id}/Views. Virtual
// views are built with the same shape so clients cannot tell them apart.
type View struct {
	Name                    string            `json:"Name"`
	ServerID                string            `json:"ServerId"`
	ID                      string            `json:"Id"`
	GUID                    string            `json:"Guid,omitempty"`
	Etag                    string            `json:"Etag,omitempty"`
	DateCreated             string            `json:"DateCreated,omitempty"`
	CanDelete               bool              `json:"CanDelete"`
	CanDownload             bool              `json:"CanDownload"`
	SortName                string            `json:"SortName,omitempty"`
	ForcedSortName          string            `json:"ForcedSortName,omitempty"`
	ExternalURLs            []struct{}        `json:"ExternalUrls"`
	ProviderIDs             map[string]string `json:"ProviderIds"`
	IsFolder                bool              `json:"IsFolder"`
	ParentID                string            `json:"ParentId,omitempty"`
	Type                    string            `json:"Type"`
	PresentationUniqueKey   string            `json:"PresentationUniqueKey,omitempty"`
	DisplayPreferencesID    string            `json:"DisplayPreferencesId,omitempty"`
	Taglines                []string          `json:"Taglines"`
	RemoteTrailers          []struct{}        `json:"RemoteTrailers"`
	UserData                ViewUserData      `json:"UserData"`
	ChildCount              int               `json:"ChildCount,omitempty"`
	PrimaryImageAspectRatio float64           `json:"PrimaryImageAspectRatio,omitempty"`
	CollectionType          string            `json:"CollectionType,omitempty"`
	ImageTags               map[string]string `json:"ImageTags,omitempty"`
	BackdropImageTags       []string          `json:"BackdropImageTags"`
	LockedFields            []string          `json:"LockedFields"`
	LockData                bool              `json:"LockData"`
}

// ViewUserData is the per-user state block clients expect on every view.
type ViewUserData struct {
	PlaybackPositionTicks int64 `json:"PlaybackPositionTicks"`
	PlayCount             int   `json:"PlayCount"`
	IsFavorite            bool  `json:"IsFavorite"`
	Played                bool  `json:"Played"`
}
