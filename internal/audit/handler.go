package audit

import (
	"github.com/fasthttp/websocket"
	"github.com/rs/zerolog/log"
	"github.com/valyala/fasthttp"
)

type Handler struct {
	hub      *Hub
	upgrader websocket.FastHTTPUpgrader
}

func NewHandler(hub *Hub) *Handler {
	return &Handler{
		hub: hub,
		upgrader: websocket.FastHTTPUpgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(ctx *fasthttp.RequestCtx) bool { return true },
		},
	}
}

// HandleFastHTTP upgrades the connection and attaches the client to the hub.
// Role enforcement happens in the auth middleware before this runs.
func (h *Handler) HandleFastHTTP(ctx *fasthttp.RequestCtx) {
	ownerID, _ := ctx.UserValue("ownerId").(string)

	err := h.upgrader.Upgrade(ctx, func(conn *websocket.Conn) {
		client := NewClient(h.hub, conn, ownerID)
		h.hub.register <- client

		go client.writePump()
		client.readPump()
	})
	if err != nil {
		log.Error().Err(err).Msg("[WS] Upgrade failed")
	}
}
