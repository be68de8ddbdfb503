package websocket

import (
	"net/http"
	"slices"

	"github.com/gorilla/websocket"

	"github.com/openctemio/secmon/internal/infra/http/middleware"
	"github.com/openctemio/secmon/pkg/apierror"
	"github.com/openctemio/secmon/pkg/logger"
)

// Handler upgrades HTTP requests to WebSocket connections.
type Handler struct {
	hub      *Hub
	upgrader websocket.Upgrader
	logger   *logger.Logger
}

// NewHandler creates a handler. allowedOrigins lists the Origin values
// accepted on upgrade; "*" or an empty list accepts any origin.
func NewHandler(hub *Hub, allowedOrigins []string, log *logger.Logger) *Handler {
	allowAll := len(allowedOrigins) == 0 || slices.Contains(allowedOrigins, "*")
	return &Handler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return allowAll || origin == "" || slices.Contains(allowedOrigins, origin)
			},
		},
		logger: log.With("component", "ws_handler"),
	}
}

// ServeWS handles WebSocket upgrade requests. The connection is subscribed to
// its tenant channel before the first message is sent.
// GET /api/v1/ws?tenant_id=xxx
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.GetTenantID(r.Context())
	if tenantID == "" {
		apierror.BadRequest("tenant id is required").WriteJSON(w)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "tenant_id", tenantID, "error", err)
		return
	}

	client := NewClient(h.hub, conn, tenantID, h.logger)
	if !h.hub.RegisterClient(client) {
		client.Close()
		return
	}

	channel := MakeChannel(ChannelTypeTenant, tenantID)
	h.hub.Subscribe(client, channel)
	_ = client.SendMessage(NewMessage(MessageTypeSubscribed).WithChannel(channel))

	h.logger.Info("websocket client connected",
		"client_id", client.ID,
		"tenant_id", tenantID,
		"remote_addr", r.RemoteAddr,
	)

	go client.WritePump()
	go client.ReadPump()
}

// Hub returns the hub instance.
func (h *Handler) Hub() *Hub {
	return h.hub
}
