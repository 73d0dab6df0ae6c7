package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/AaronLay10/SmokersTable/internal/events"
)

const (
	defaultBacklog = 50
	maxBacklog     = 256

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Displays are served from anywhere.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// wsSession is one connected display.
type wsSession struct {
	conn   *websocket.Conn
	prefix string
	logger zerolog.Logger
}

func (ws *wsSession) write(msgType int, data []byte) error {
	_ = ws.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return ws.conn.WriteMessage(msgType, data)
}

// send writes e unless it is filtered out. Marshal failures skip the event.
func (ws *wsSession) send(e events.Event) error {
	if ws.prefix != "" && !strings.HasPrefix(e.Name, ws.prefix) {
		return nil
	}
	data, err := json.Marshal(e)
	if err != nil {
		ws.logger.Debug().Err(err).Str("event", e.Name).Msg("ws marshal failed")
		return nil
	}
	return ws.write(websocket.TextMessage, data)
}

// readLoop consumes control frames and closes the returned channel once the
// peer goes away or stops answering pings.
func (ws *wsSession) readLoop() <-chan struct{} {
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		_ = ws.conn.SetReadDeadline(time.Now().Add(pongWait))
		ws.conn.SetPongHandler(func(string) error {
			return ws.conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := ws.conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	return gone
}

// backlogSize reads ?backlog=N, falling back to the default for bad input.
func backlogSize(r *http.Request) int {
	raw := r.URL.Query().Get("backlog")
	if raw == "" {
		return defaultBacklog
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return defaultBacklog
	}
	return min(n, maxBacklog)
}

// handleWSEvents streams the recent backlog and then every new event.
// ?prefix=smoker. limits the stream to matching event names and
// ?backlog=0 skips the history.
func (s *Server) handleWSEvents(w http.ResponseWriter, r *http.Request) {
	backlog := backlogSize(r)
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("ws upgrade failed")
		return
	}
	defer conn.Close()

	ws := &wsSession{
		conn:   conn,
		prefix: r.URL.Query().Get("prefix"),
		logger: s.logger.With().Str("remote", r.RemoteAddr).Logger(),
	}

	// Subscribe before reading the backlog so nothing falls in between.
	sub := events.Subscribe()
	defer events.Unsubscribe(sub)

	if backlog > 0 {
		for _, e := range events.RecentEvents(backlog) {
			if err := ws.send(e); err != nil {
				ws.logger.Debug().Err(err).Msg("ws backlog write failed")
				return
			}
		}
	}

	gone := ws.readLoop()
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-gone:
			return
		case e, ok := <-sub:
			if !ok {
				_ = ws.write(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutdown"))
				return
			}
			if err := ws.send(e); err != nil {
				ws.logger.Debug().Err(err).Msg("ws write failed")
				return
			}
		case <-ping.C:
			if err := ws.write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
