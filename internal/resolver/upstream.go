package resolver

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"

	"github.com/embygate/emby-gate/internal/config"
	"github.com/embygate/emby-gate/internal/httpclient"
	"github.com/embygate/emby-gate/internal/logging"
	"github.com/embygate/emby-gate/internal/safeurl"
)

// Signature identifies the requesting client. Resolved links are bound to
// the user agent that requested them, so it is part of the cache key and is
// forwarded verbatim upstream.
type Signature struct {
	UserAgent string
	ClientIP  string
}

// Upstream exchanges a storage handle for a time-limited direct URL.
type Upstream interface {
	ResolveLink(ctx context.Context, handle string, sig Signature) (string, error)
}

// StorageUpstream calls the storage provider's resolution endpoint. A
// breaker sits in front so a dead provider fails fast instead of burning
// the request timeout on every call.
type StorageUpstream struct {
	resolveURL string
	referrer   string
	origin     string
	http       *http.Client
	breaker    *gobreaker.CircuitBreaker[string]
	log        zerolog.Logger
}

func NewStorageUpstream(cfg config.Storage) *StorageUpstream {
	u := &StorageUpstream{
		resolveURL: cfg.ResolveURL,
		referrer:   cfg.Referrer,
		origin:     cfg.Origin,
		http:       httpclient.WithTimeout(cfg.Timeout),
		log:        logging.Component("resolver"),
	}
	u.breaker = gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:    "storage-resolve",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			u.log.Warn().Str("from", from.String()).Str("to", to.String()).Msg("storage breaker state change")
		},
	})
	return u
}

// ResolveLink performs the upstream call with the caller's user agent and
// the provider's expected referrer/origin. Any non-2xx, timeout, open
// breaker or empty link comes back as an error for the caller to
// negative-cache.
func (u *StorageUpstream) ResolveLink(ctx context.Context, handle string, sig Signature) (string, error) {
	return u.breaker.Execute(func() (string, error) {
		link, err := u.call(ctx, handle, sig)
		if err != nil {
			u.log.Warn().Err(err).Str("handle", handle).Msg("resolution failed")
			return "", err
		}
		u.log.Debug().Str("handle", handle).Str("url", safeurl.Redact(link)).Msg("resolved")
		return link, nil
	})
}

func (u *StorageUpstream) call(ctx context.Context, handle string, sig Signature) (string, error) {
	q := url.Values{}
	q.Set("pickcode", handle)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.resolveURL+"?"+q.Encode(), nil)
	if err != nil {
		return "", err
	}
	if sig.UserAgent != "" {
		req.Header.Set("User-Agent", sig.UserAgent)
	}
	req.Header.Set("Referer", u.referrer)
	req.Header.Set("Origin", u.origin)

	resp, err := u.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("storage call: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("storage returned %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("storage body: %w", err)
	}
	link, err := extractLink(body)
	if err != nil {
		return "", err
	}
	if !safeurl.IsHTTPOrHTTPS(link) {
		return "", fmt.Errorf("storage returned non-http link")
	}
	return link, nil
}

// The provider speaks two dialects. The legacy API nests one url object
// under data; the openapi mode wraps a list of file records. Both collapse
// to a single direct link here before anything downstream sees them.
type linkEnvelope struct {
	State json.RawMessage `json:"state"`
	Data  json.RawMessage `json:"data"`
}

type linkRecord struct {
	URL struct {
		URL string `json:"url"`
	} `json:"url"`
}

func extractLink(body []byte) (string, error) {
	var env linkEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return "", fmt.Errorf("storage response: %w", err)
	}
	if len(env.Data) == 0 {
		return "", fmt.Errorf("storage response has no data")
	}
	var rec linkRecord
	if err := json.Unmarshal(env.Data, &rec); err == nil && rec.URL.URL != "" {
		return rec.URL.URL, nil
	}
	var recs []linkRecord
	if err := json.Unmarshal(env.Data, &recs); err == nil {
		for _, r := range recs {
			if r.URL.URL != "" {
				return r.URL.URL, nil
			}
		}
	}
	return "", fmt.Errorf("storage response has no link")
}
