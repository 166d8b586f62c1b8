package msgclient

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/fasthttp/websocket"

	"e2ee-chat/internal/presence"
)

func (c *Client) wsURL() string {
	switch {
	case strings.HasPrefix(c.baseURL, "https://"):
		return "wss://" + strings.TrimPrefix(c.baseURL, "https://") + "/ws"
	case strings.HasPrefix(c.baseURL, "http://"):
		return "ws://" + strings.TrimPrefix(c.baseURL, "http://") + "/ws"
	default:
		return c.baseURL + "/ws"
	}
}

// Listen opens the live socket, joins the given conversations and calls
// handle for every event until ctx is cancelled or the connection drops.
// Cancellation is not an error.
func (c *Client) Listen(ctx context.Context, conversationIDs []string, handle func(presence.Event)) error {
	hdr := http.Header{}
	if c.token != "" {
		hdr.Set("Authorization", "Bearer "+c.token)
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, c.wsURL(), hdr)
	if err != nil {
		if resp != nil {
			_ = resp.Body.Close()
			return &APIError{Status: resp.StatusCode, Message: err.Error()}
		}
		return err
	}
	defer func() { _ = conn.Close() }()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for _, id := range conversationIDs {
		if err := conn.WriteJSON(presence.InboundMessage{Type: presence.InboundJoin, ConversationID: id}); err != nil {
			return err
		}
	}
	for {
		var ev presence.Event
		if err := conn.ReadJSON(&ev); err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) && closeErr.Code == websocket.CloseNormalClosure {
				return nil
			}
			return err
		}
		handle(ev)
	}
}
