package gateway

import (
	"net/http"
	"strings"

	"github.com/embygate/emby-gate/internal/ident"
)

func eq(seg, keyword string) bool { return strings.EqualFold(seg, keyword) }

// matchPlaybackInfo returns the item ID of /Items/{id}/PlaybackInfo or
// /Users/{uid}/Items/{id}/PlaybackInfo, else "".
func matchPlaybackInfo(seg []string) string {
	switch {
	case len(seg) == 3 && eq(seg[0], "Items") && eq(seg[2], "PlaybackInfo"):
		return seg[1]
	case len(seg) == 5 && eq(seg[0], "Users") && eq(seg[2], "Items") && eq(seg[4], "PlaybackInfo"):
		return seg[3]
	}
	return ""
}

// matchStream returns the item ID of /Videos/{id}/stream[.ext] or
// /Videos/{id}/original[.ext], else "".
func matchStream(seg []string) string {
	if len(seg) != 3 || !eq(seg[0], "Videos") {
		return ""
	}
	base, _, _ := strings.Cut(seg[2], ".")
	if eq(base, "stream") || eq(base, "original") {
		return seg[1]
	}
	return ""
}

// matchSyntheticImage returns the synthetic ID of /Items/{id}/Images/...
// when id is ours, else "".
func matchSyntheticImage(seg []string) string {
	if len(seg) >= 3 && eq(seg[0], "Items") && eq(seg[2], "Images") && ident.IsSynthetic(seg[1]) {
		return seg[1]
	}
	return ""
}

func matchUserViews(seg []string) bool {
	return len(seg) == 3 && eq(seg[0], "Users") && eq(seg[2], "Views")
}

func matchUserLatest(seg []string) bool {
	return len(seg) == 4 && eq(seg[0], "Users") && eq(seg[2], "Items") && eq(seg[3], "Latest")
}

// matchSyntheticDetail returns the synthetic ID of /Users/{uid}/Items/{id}
// when id is ours, else "".
func matchSyntheticDetail(seg []string) string {
	if len(seg) == 4 && eq(seg[0], "Users") && eq(seg[2], "Items") && ident.IsSynthetic(seg[3]) {
		return seg[3]
	}
	return ""
}

// matchSyntheticListing reports whether this is an item listing scoped to a
// synthetic parent: /Users/{uid}/Items?ParentId=<synthetic>.
func matchSyntheticListing(seg []string, r *http.Request) bool {
	return len(seg) == 3 && eq(seg[0], "Users") && eq(seg[2], "Items") &&
		ident.IsSynthetic(r.URL.Query().Get("ParentId"))
}

// metadataLeaves are the taxonomy endpoints the host cannot compute for a
// virtual parent; they are answered with an empty result.
var metadataLeaves = map[string]bool{
	"genres": true, "studios": true, "tags": true,
	"officialratings": true, "years": true, "prefixes": true,
}

func matchSyntheticMetadata(seg []string, r *http.Request) bool {
	if len(seg) == 0 || !metadataLeaves[strings.ToLower(seg[len(seg)-1])] {
		return false
	}
	return ident.IsSynthetic(r.URL.Query().Get("ParentId"))
}
