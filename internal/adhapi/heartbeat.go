package adhapi

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// HeartbeatURL is the websocket endpoint the server uses for liveness.
func (c *Client) HeartbeatURL() string {
	u, _ := url.Parse(c.Endpoint("common", "heartbeat"))
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	return u.String()
}

// Heartbeat opens the heartbeat websocket and waits for the first frame.
// A server that accepts the upgrade but sends nothing within wait is still
// reported healthy.
func (c *Client) Heartbeat(ctx context.Context, wait time.Duration) error {
	if wait <= 0 {
		wait = 2 * time.Second
	}
	dialCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	headers := http.Header{}
	headers.Set("Request-Id", uuid.NewString())
	headers.Set("User-Id", c.userID)

	conn, res, err := websocket.DefaultDialer.DialContext(dialCtx, c.HeartbeatURL(), headers)
	if err != nil {
		if res != nil {
			return &StatusError{StatusCode: res.StatusCode, Body: strings.TrimSpace(res.Status)}
		}
		return fmt.Errorf("heartbeat dial: %w", err)
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(wait))
	if _, _, err := conn.ReadMessage(); err != nil {
		if ne, ok := err.(interface{ Timeout() bool }); ok && ne.Timeout() {
			return nil
		}
		if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
			return nil
		}
		return fmt.Errorf("heartbeat read: %w", err)
	}
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return nil
}
