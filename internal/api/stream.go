package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ipsix/scamshield/internal/events"
	"github.com/ipsix/scamshield/internal/logging"
)

const (
	streamWriteTimeout = 5 * time.Second
	streamPingInterval = 30 * time.Second
)

func (s *Server) streamBuffer() int {
	if s.deps.StreamBuffer > 0 {
		return s.deps.StreamBuffer
	}
	return events.DefaultBuffer
}

// handleStream relays broker events to a websocket client. An optional tabId
// query parameter narrows the stream to one tab.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if s.deps.Broker == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "event stream unavailable"})
		return
	}
	if !websocket.IsWebSocketUpgrade(r) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "websocket upgrade required"})
		return
	}
	tabFilter := -1
	if raw := r.URL.Query().Get("tabId"); raw != "" {
		id, err := strconv.Atoi(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "tabId must be an integer"})
			return
		}
		tabFilter = id
	}

	up := websocket.Upgrader{CheckOrigin: s.originAllowed}
	sub := s.deps.Broker.Subscribe(s.streamBuffer())
	defer s.deps.Broker.Unsubscribe(sub)
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	s.logger.Debug("stream client connected", logging.F("remote", r.RemoteAddr))

	// Reader: only control frames are expected; any read error ends the stream.
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(streamPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-readDone:
			return
		case <-r.Context().Done():
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteTimeout)); err != nil {
				return
			}
		case ev, ok := <-sub:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
					time.Now().Add(streamWriteTimeout))
				return
			}
			if tabFilter >= 0 && ev.TabID != tabFilter {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
			if err := conn.WriteJSON(ev); err != nil {
				s.logger.Debug("stream client write failed", logging.Err(err))
				return
			}
		}
	}
}
