package api

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/luca-patrignani/greetme/ledger"
	"github.com/vmihailenco/msgpack/v5"
)

// EncodingMsgpack selects binary msgpack frames on the live feed. JSON text
// frames are the default.
const EncodingMsgpack = "msgpack"

const feedWriteTimeout = 10 * time.Second

// checkOrigin accepts requests without an Origin header, same-origin requests
// and the configured origins.
func checkOrigin(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if u, err := url.Parse(origin); err == nil && strings.EqualFold(u.Host, r.Host) {
			return true
		}
		for _, a := range allowed {
			if a == "*" || strings.EqualFold(strings.TrimSuffix(a, "/"), origin) {
				return true
			}
		}
		return false
	}
}

// feed streams ledger events to a websocket client until the client goes
// away or the server shuts down.
func (s *Server) feed(w http.ResponseWriter, r *http.Request) {
	encoding := r.URL.Query().Get("encoding")
	if encoding != "" && encoding != "json" && encoding != EncodingMsgpack {
		writeError(w, newError(http.StatusBadRequest, CodeBadRequest, "unknown encoding %q", encoding))
		return
	}
	sub, err := s.hub.Subscribe()
	if err != nil {
		writeError(w, newError(http.StatusServiceUnavailable, CodeInternal, "%v", err))
		return
	}
	defer s.hub.Unsubscribe(sub.ID)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("failed to upgrade websocket connection", "error", err)
		return
	}
	defer func() { _ = conn.Close() }()
	s.logger.Debug("feed subscriber connected", "id", sub.ID, "encoding", encoding)

	// The read loop only exists to notice the client closing the connection.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case <-r.Context().Done():
			closeFeed(conn, websocket.CloseGoingAway, "server shutting down")
			return
		case ev, ok := <-sub.C:
			if !ok {
				closeFeed(conn, websocket.CloseGoingAway, "server shutting down")
				return
			}
			if err := writeEvent(conn, encoding, ev); err != nil {
				s.logger.Warn("websocket write failure", "id", sub.ID, "error", err)
				return
			}
		}
	}
}

func writeEvent(conn *websocket.Conn, encoding string, ev ledger.Event) error {
	_ = conn.SetWriteDeadline(time.Now().Add(feedWriteTimeout))
	if encoding == EncodingMsgpack {
		b, err := msgpack.Marshal(ev)
		if err != nil {
			return err
		}
		return conn.WriteMessage(websocket.BinaryMessage, b)
	}
	return conn.WriteJSON(ev)
}

func closeFeed(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
}
