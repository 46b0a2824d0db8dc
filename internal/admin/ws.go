package admin

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleWS upgrades the connection and streams telemetry events published
// to the hub until the client goes away. The read loop exists only to
// observe the close handshake; subscribers send nothing meaningful.
func (h *Handler) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.Log.Warn("ws upgrade error", zap.Error(err))
		return
	}
	defer conn.Close()

	wsSend := func(msgType string, payload any) error {
		out := map[string]any{"type": msgType, "data": payload, "ts": time.Now().UnixMilli()}
		return conn.WriteJSON(out)
	}
	cl := h.Hub.Register(wsSend)
	defer h.Hub.Unregister(cl.ID)

	if err := wsSend("hello", map[string]any{"subscriber": cl.ID}); err != nil {
		return
	}

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				if ce.Code == websocket.CloseNormalClosure || ce.Code == websocket.CloseGoingAway {
					h.Log.Info("ws closed", zap.Int("code", ce.Code))
				} else {
					h.Log.Warn("ws closed abnormally", zap.Int("code", ce.Code), zap.String("text", ce.Text))
				}
			} else {
				h.Log.Error("ws read error", zap.Error(err))
			}
			return
		}
	}
}

// loggingMiddleware logs each request with method, path, status, and
// duration.
func (h *Handler) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(ww, r)
		h.Log.Info("http",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

// statusWriter captures the HTTP status for logging.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
