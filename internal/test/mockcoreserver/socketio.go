package mockcoreserver

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	socketPingInterval = 25 * time.Second
	socketPingTimeout  = 60 * time.Second
	socketWriteWait    = 5 * time.Second
)

type socketConn struct {
	conn *websocket.Conn

	writeMtx sync.Mutex
	mtx      sync.Mutex
	rooms    map[string]bool
}

func (c *socketConn) write(msg []byte) error {
	c.writeMtx.Lock()
	defer c.writeMtx.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(socketWriteWait))
	return c.conn.WriteMessage(websocket.TextMessage, msg)
}

func (c *socketConn) join(room string) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	c.rooms[room] = true
}

func (c *socketConn) subscribed(room string) bool {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.rooms[room]
}

// serveSocket speaks engine.io v3 / socket.io v2 over a websocket: it opens
// the session, connects the default namespace, answers pings and records
// subscribe events.
func (ix *Indexer) serveSocket(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("transport") != "websocket" {
		http.Error(w, "websocket transport only", http.StatusBadRequest)
		return
	}
	conn, err := ix.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := &socketConn{conn: conn, rooms: make(map[string]bool)}
	defer conn.Close()

	open := mustMarshal(map[string]interface{}{
		"sid":          strings.ReplaceAll(r.RemoteAddr, ":", "-"),
		"upgrades":     []string{},
		"pingInterval": socketPingInterval.Milliseconds(),
		"pingTimeout":  socketPingTimeout.Milliseconds(),
	})
	if err := c.write(append([]byte("0"), open...)); err != nil {
		return
	}
	if err := c.write([]byte("40")); err != nil {
		return
	}

	ix.mtx.Lock()
	ix.conns[c] = struct{}{}
	ix.mtx.Unlock()
	defer func() {
		ix.mtx.Lock()
		delete(ix.conns, c)
		ix.mtx.Unlock()
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		s := string(msg)
		switch {
		case s == "2":
			if err := c.write([]byte("3")); err != nil {
				return
			}
		case s == "41" || s == "1":
			return
		case strings.HasPrefix(s, "42"):
			var frame []json.RawMessage
			if err := json.Unmarshal(msg[2:], &frame); err != nil || len(frame) < 2 {
				continue
			}
			var name, room string
			if json.Unmarshal(frame[0], &name) != nil || json.Unmarshal(frame[1], &room) != nil {
				continue
			}
			if name == "subscribe" {
				c.join(room)
			}
		}
	}
}
