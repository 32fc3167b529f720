package streamhub

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nexusai/orchestrator/core"
)

// writeWait bounds a single frame write, grounded on the teacher's
// internal/server transport timeouts.
const writeWait = 10 * time.Second

// upgrader permits cross-origin connections; the orchestrator sits
// behind its own auth middleware, not origin checks.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsClient adapts a *websocket.Conn to the Client interface session.go
// depends on, with compression enabled for frames at or above
// compressThreshold (§4.13).
type wsClient struct {
	conn *websocket.Conn
}

// Upgrade promotes an HTTP request to a WebSocket connection and wraps
// it as a Client.
func Upgrade(w http.ResponseWriter, r *http.Request) (Client, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, core.NewTaskError("streamhub.Upgrade", core.CodeInternal, err)
	}
	conn.EnableWriteCompression(true)
	return &wsClient{conn: conn}, nil
}

func (c *wsClient) Send(frame []byte) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	compress := len(frame) >= compressThreshold
	c.conn.EnableWriteCompression(compress)
	return c.conn.WriteMessage(websocket.TextMessage, frame)
}

func (c *wsClient) Close() error {
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return c.conn.Close()
}

// ReadPump blocks reading control/pong frames from the client until the
// connection closes, invoking onClose once that happens. Callers run
// this in its own goroutine per connected session.
func ReadPump(client Client, onClose func()) {
	c, ok := client.(*wsClient)
	if !ok {
		return
	}
	defer onClose()
	c.conn.SetReadLimit(4096)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
