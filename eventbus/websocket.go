package eventbus

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeDeadline = 10 * time.Second
	pingInterval  = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	// the rig server lives on a lab network; any origin may watch the bus
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler returns an HTTP handler that upgrades to a websocket and streams
// every bus event to the client as a JSON text message.
//
// Text messages from the client are decoded as Events.  Recording start and
// stop events are republished with Source set to RemoteSource, anything else
// is ignored.  This is how external tools drive a mirrored engine.
func Handler(b *Bus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("eventbus: websocket upgrade from %s failed: %v", r.RemoteAddr, err)
			return
		}
		defer conn.Close()

		events, cancel := b.Subscribe(64)
		defer cancel()

		readerDone := make(chan struct{})
		go func() {
			defer close(readerDone)
			readRemote(conn, b)
		}()

		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-readerDone:
				return
			case ev, ok := <-events:
				if !ok {
					conn.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseGoingAway, "bus closed"),
						time.Now().Add(writeDeadline))
					return
				}
				conn.SetWriteDeadline(time.Now().Add(writeDeadline))
				if err := conn.WriteJSON(ev); err != nil {
					log.Printf("eventbus: error writing to %s: %v", r.RemoteAddr, err)
					return
				}
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(writeDeadline)); err != nil {
					return
				}
			}
		}
	}
}

func readRemote(conn *websocket.Conn, b *Bus) {
	for {
		typ, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("eventbus: websocket error: %v", err)
			}
			return
		}
		if typ != websocket.TextMessage {
			continue
		}
		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			log.Printf("eventbus: discarding malformed remote event: %v", err)
			continue
		}
		if ev.Kind != RecordingStarted && ev.Kind != RecordingStopped {
			continue
		}
		ev.Source = RemoteSource
		if ev.Time.IsZero() {
			ev.Time = time.Now()
		}
		b.Publish(ev)
	}
}
