package presence

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/fasthttp/websocket"

	"e2ee-chat/internal/authz"
	obsmw "e2ee-chat/internal/observability/middleware"
)

const (
	maxInboundBytes     = 4096
	DefaultWriteTimeout = 10 * time.Second
)

type wsTransport struct {
	conn    *websocket.Conn
	timeout time.Duration
}

func (t *wsTransport) WriteJSON(v any) error {
	if err := t.conn.SetWriteDeadline(time.Now().Add(t.timeout)); err != nil {
		return err
	}
	return t.conn.WriteJSON(v)
}

func (t *wsTransport) Close() error {
	_ = t.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return t.conn.Close()
}

// Handler upgrades authenticated requests to a live socket registered with
// the hub.
type Handler struct {
	hub          *Hub
	validator    authz.Validator
	upgrader     websocket.Upgrader
	writeTimeout time.Duration
}

// NewHandler returns the /ws handler. With no allowed origins every origin is
// accepted.
func NewHandler(hub *Hub, validator authz.Validator, allowedOrigins []string, writeTimeout time.Duration) *Handler {
	if writeTimeout <= 0 {
		writeTimeout = DefaultWriteTimeout
	}
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = struct{}{}
	}
	return &Handler{
		hub:          hub,
		validator:    validator,
		writeTimeout: writeTimeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if len(allowed) == 0 {
					return true
				}
				_, ok := allowed[r.Header.Get("Origin")]
				return ok
			},
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID := obsmw.RequestIDFromContext(r.Context())
	traceID := obsmw.TraceIDFromContext(r.Context())

	state := StateConnecting
	sess, err := h.validator.ValidateSession(r.Context(), r.Header)
	if err != nil {
		slog.Warn("ws auth rejected", "state", state.String(), "error", err, "request_id", reqID, "trace_id", traceID)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	state = StateAuthenticated

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("ws upgrade failed", "state", state.String(), "error", err, "request_id", reqID, "trace_id", traceID)
		return
	}
	conn.SetReadLimit(maxInboundBytes)

	client := h.hub.Register(sess.UserID, &wsTransport{conn: conn, timeout: h.writeTimeout})
	slog.Info("ws registered", "user_id", sess.UserID, "request_id", reqID, "trace_id", traceID)
	defer func() {
		h.hub.Disconnect(client)
		slog.Info("ws closed", "user_id", sess.UserID, "request_id", reqID, "trace_id", traceID)
	}()

	ctx := r.Context()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		h.hub.HandleInbound(ctx, client, data)
	}
}
