package api

import (
	"context"
	"errors"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
)

func (h *Handlers) handleKnockFeed(c *gin.Context) {
	conn, err := websocket.Accept(c.Writer, c.Request, h.acceptOptions())
	if err != nil {
		h.Logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	client := newWSClient(conn)
	h.Hub.add(client)
	defer h.Hub.remove(client)

	// the feed is server-to-client only; CloseRead handles control frames
	ctx := conn.CloseRead(c.Request.Context())
	if err := client.run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		h.Logger.Debug().Err(err).Msg("WebSocket client disconnected")
	}
}

// acceptOptions keeps coder/websocket's same-origin check unless the
// deployment allows more hosts or opted out for development.
func (h *Handlers) acceptOptions() *websocket.AcceptOptions {
	return &websocket.AcceptOptions{
		OriginPatterns:     h.OriginPatterns,
		InsecureSkipVerify: h.AllowAnyOrigin,
	}
}
