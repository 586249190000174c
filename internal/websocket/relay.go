package websocket

import (
	"net/http"

	"github.com/gorilla/websocket"
)

// DefaultScope is used when a relay client names no scope.
const DefaultScope = "default"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The relay is host-local; every origin on the host is trusted.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeRelay upgrades the request and joins the connection to the scope
// named by the "scope" query parameter. Every message a client sends is
// delivered to all other clients of its scope, never back to itself.
func ServeRelay(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		scope := r.URL.Query().Get("scope")
		if scope == "" {
			scope = DefaultScope
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			hub.log.WithError(err).Warn("Relay upgrade failed")
			return
		}

		client := hub.NewClient(scope, conn)
		if !hub.Attach(client) {
			conn.Close()
			return
		}

		go client.WritePump()
		go client.ReadPump(true)
	}
}

// ServeStream upgrades the request and attaches a push-only client to
// scope. Anything the client sends is discarded.
func ServeStream(hub *Hub, scope string, onAttach func(*Client)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			hub.log.WithError(err).Warn("Stream upgrade failed")
			return
		}

		client := hub.NewClient(scope, conn)
		if !hub.Attach(client) {
			conn.Close()
			return
		}
		if onAttach != nil {
			onAttach(client)
		}

		go client.WritePump()
		go client.ReadPump(false)
	}
}
