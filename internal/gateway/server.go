// Package gateway is the HTTP/WebSocket front door. It classifies every
// inbound request (first match wins): WebSocket relay, playback-info
// rewrite, stream proxy, synthetic image, synthetic listing/detail, and
// finally transparent passthrough to the host.
package gateway

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/rs/zerolog"

	"github.com/embygate/emby-gate/internal/compositor"
	"github.com/embygate/emby-gate/internal/config"
	"github.com/embygate/emby-gate/internal/emby"
	"github.com/embygate/emby-gate/internal/logging"
	"github.com/embygate/emby-gate/internal/metrics"
	"github.com/embygate/emby-gate/internal/resolver"
)

type Gateway struct {
	cfg     *config.Config
	host    *emby.Client
	comp    *compositor.Compositor
	cache   *resolver.Cache
	hostURL *url.URL
	cors    func(http.Handler) http.Handler
	log     zerolog.Logger
}

func New(cfg *config.Config, host *emby.Client, comp *compositor.Compositor, cache *resolver.Cache) (*Gateway, error) {
	u, err := url.Parse(cfg.Emby.BaseURL)
	if err != nil {
		return nil, err
	}
	return &Gateway{
		cfg:     cfg,
		host:    host,
		comp:    comp,
		cache:   cache,
		hostURL: u,
		cors: cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{http.MethodGet, http.MethodHead, http.MethodOptions},
			AllowedHeaders: []string{"*"},
			MaxAge:         3600,
		}),
		log: logging.Component("gateway"),
	}, nil
}

// Router builds the full handler. The gateway's own endpoints get explicit
// routes; everything else funnels into classify, which decides between the
// synthetic handlers and transparent passthrough.
func (g *Gateway) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(g.logRequests)

	r.Handle("/metrics", metrics.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	r.Group(func(r chi.Router) {
		r.Use(httprate.LimitByIP(g.cfg.RedirectPerMinute, time.Minute))
		r.Use(g.cors)
		r.Get("/api/storage/play/{handle}", g.handleRedirect)
		r.Head("/api/storage/play/{handle}", g.handleRedirect)
	})

	r.NotFound(g.classify)
	return r
}

// classify implements the first-match routing over the host's own URL
// space. Matching is case-insensitive and ignores an optional /emby prefix;
// passthrough always forwards the original path untouched.
func (g *Gateway) classify(w http.ResponseWriter, r *http.Request) {
	if isWebSocketUpgrade(r) {
		metrics.GatewayRequests.WithLabelValues("ws").Inc()
		g.relayWebSocket(w, r)
		return
	}

	seg := pathSegments(r.URL.Path)
	switch {
	case matchPlaybackInfo(seg) != "":
		metrics.GatewayRequests.WithLabelValues("playback").Inc()
		g.handlePlaybackInfo(w, r, matchPlaybackInfo(seg))

	case matchStream(seg) != "":
		metrics.GatewayRequests.WithLabelValues("stream").Inc()
		itemID := matchStream(seg)
		g.cors(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			g.handleStream(w, r, itemID)
		})).ServeHTTP(w, r)

	case matchSyntheticImage(seg) != "":
		metrics.GatewayRequests.WithLabelValues("image").Inc()
		g.handleSyntheticImage(w, r, matchSyntheticImage(seg))

	case matchUserViews(seg):
		metrics.GatewayRequests.WithLabelValues("views").Inc()
		g.handleViews(w, r, seg[1])

	case matchUserLatest(seg):
		metrics.GatewayRequests.WithLabelValues("latest").Inc()
		g.handleLatest(w, r, seg[1])

	case matchSyntheticDetail(seg) != "":
		metrics.GatewayRequests.WithLabelValues("detail").Inc()
		g.handleSyntheticDetail(w, r, seg[1], matchSyntheticDetail(seg))

	case matchSyntheticListing(seg, r):
		metrics.GatewayRequests.WithLabelValues("listing").Inc()
		g.handleSyntheticListing(w, r, seg[1])

	case matchSyntheticMetadata(seg, r):
		metrics.GatewayRequests.WithLabelValues("metadata").Inc()
		writeJSON(w, http.StatusOK, emptyResult())

	default:
		metrics.GatewayRequests.WithLabelValues("passthrough").Inc()
		g.passthrough(w, r)
	}
}

// Run serves until ctx is cancelled, then drains with a shutdown timeout.
func (g *Gateway) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              g.cfg.ListenAddr,
		Handler:           g.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		g.log.Info().Str("addr", g.cfg.ListenAddr).Msg("gateway listening")
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	err := <-errCh
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// logRequests is the access log: one line per request with status, bytes
// and duration.
func (g *Gateway) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		g.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("dur", time.Since(start)).
			Str("ua", r.UserAgent()).
			Str("remote", r.RemoteAddr).
			Msg("request")
	})
}

func isWebSocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket") &&
		strings.Contains(strings.ToLower(r.Header.Get("Connection")), "upgrade")
}

// pathSegments splits the path and drops an optional leading "emby"
// segment, so /emby/Users/... and /Users/... classify identically. Segment
// values keep their original case; keyword comparison is case-insensitive.
func pathSegments(path string) []string {
	seg := strings.Split(strings.Trim(path, "/"), "/")
	if len(seg) > 0 && strings.EqualFold(seg[0], "emby") {
		seg = seg[1:]
	}
	return seg
}
