package control

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mdai-dev/kiosk/internal/event"
)

const (
	eventsWriteWait  = 5 * time.Second
	eventsPingPeriod = 20 * time.Second
)

// handleEvents streams bus events to a websocket observer. The optional
// topic query parameter filters with the bus glob syntax, e.g.
// ?topic=state.* or ?topic=*.human_detect.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	pattern := r.URL.Query().Get("topic")
	if pattern == "" {
		pattern = "**"
	}
	sub, err := s.bus.Subscribe(pattern, s.queueSize)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid topic pattern")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.bus.Unsubscribe(sub)
		s.logger.Warn("event stream upgrade failed", "error", err)
		return
	}
	s.logger.Info("observer connected", "remote", r.RemoteAddr, "topic", pattern)

	// Reader: only to notice the client going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(eventsPingPeriod)
	defer func() {
		ping.Stop()
		s.bus.Unsubscribe(sub)
		conn.Close()
		s.logger.Info("observer disconnected", "remote", r.RemoteAddr, "dropped", sub.Dropped())
	}()

	for {
		select {
		case e, ok := <-sub.C:
			if !ok {
				return
			}
			if err := s.writeEvent(conn, e); err != nil {
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(eventsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-closed:
			return
		case <-r.Context().Done():
			return
		}
	}
}

func (s *Server) writeEvent(conn *websocket.Conn, e event.Event) error {
	conn.SetWriteDeadline(time.Now().Add(eventsWriteWait))
	return conn.WriteJSON(e)
}
