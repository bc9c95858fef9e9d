package gateway

import (
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/embygate/emby-gate/internal/metrics"
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The gateway fronts arbitrary clients; origin enforcement is the
	// host's problem, not ours.
	CheckOrigin: func(*http.Request) bool { return true },
}

// relayWebSocket upgrades the client connection, dials the same path on the
// host and pumps frames in both directions until either side closes.
func (g *Gateway) relayWebSocket(w http.ResponseWriter, r *http.Request) {
	backendURL := *g.hostURL
	backendURL.Scheme = wsScheme(backendURL.Scheme)
	backendURL.Path = r.URL.Path
	backendURL.RawQuery = r.URL.RawQuery

	// Forward client headers except the handshake set, which the dialer
	// manages itself.
	header := http.Header{}
	for k, vv := range r.Header {
		switch http.CanonicalHeaderKey(k) {
		case "Upgrade", "Connection", "Sec-Websocket-Key", "Sec-Websocket-Version",
			"Sec-Websocket-Extensions", "Sec-Websocket-Protocol":
			continue
		}
		for _, v := range vv {
			header.Add(k, v)
		}
	}
	if p := r.Header.Get("Sec-Websocket-Protocol"); p != "" {
		header.Set("Sec-Websocket-Protocol", p)
	}

	backend, resp, err := websocket.DefaultDialer.DialContext(r.Context(), backendURL.String(), header)
	if err != nil {
		g.log.Warn().Err(err).Str("path", r.URL.Path).Msg("backend ws dial failed")
		status := http.StatusBadGateway
		if resp != nil {
			status = resp.StatusCode
		}
		http.Error(w, "backend unavailable", status)
		return
	}
	defer backend.Close()

	client, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.Warn().Err(err).Msg("client ws upgrade failed")
		return
	}
	defer client.Close()

	metrics.RelaysActive.Inc()
	defer metrics.RelaysActive.Dec()

	// Two pump loops, one per direction. The first error tears down both
	// ends; closing the connections unblocks the peer pump's read.
	var once sync.Once
	done := make(chan struct{})
	closeBoth := func() {
		once.Do(func() {
			backend.Close()
			client.Close()
			close(done)
		})
	}

	go pump(client, backend, closeBoth)
	go pump(backend, client, closeBoth)
	<-done
}

func pump(src, dst *websocket.Conn, closeBoth func()) {
	defer closeBoth()
	for {
		msgType, payload, err := src.ReadMessage()
		if err != nil {
			return
		}
		if err := dst.WriteMessage(msgType, payload); err != nil {
			return
		}
	}
}

// wsScheme maps an http(s) scheme to its websocket equivalent.
func wsScheme(s string) string {
	if strings.EqualFold(s, "https") {
		return "wss"
	}
	return "ws"
}
