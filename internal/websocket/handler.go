package websocket

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"incident-ledger/internal/domain/incident"
	"incident-ledger/internal/redis"
	"incident-ledger/internal/transport/httpdto"
	incident_errors "incident-ledger/pkg/errors"
	"incident-ledger/pkg/logger"
)

// IncidentFinder confirms the watched incident exists.
type IncidentFinder interface {
	GetIncident(ctx context.Context, incidentID uuid.UUID) (*incident.Incident, error)
}

type Handler struct {
	incidents IncidentFinder
	hub       *Hub
	log       *logger.Logger
	upgrader  websocket.Upgrader
}

func NewHandler(incidents IncidentFinder, hub *Hub, log *logger.Logger) *Handler {
	return &Handler{
		incidents: incidents,
		hub:       hub,
		log:       log.Named("websocket"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Watch upgrades the request and streams every event envelope published for
// the incident until the client goes away.
func (h *Handler) Watch(c *gin.Context) {
	incidentID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid incident id", "INVALID_INPUT"))
		return
	}
	if _, err := h.incidents.GetIncident(c.Request.Context(), incidentID); err != nil {
		if errors.Is(err, incident_errors.ErrNotFound) {
			c.JSON(http.StatusNotFound, httpdto.NewErrorResponse("incident not found", "NOT_FOUND"))
			return
		}
		c.JSON(http.StatusServiceUnavailable, httpdto.NewErrorResponse(err.Error(), "PERSISTENCE"))
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	ctx := logger.WithIncidentID(context.Background(), incidentID.String())
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	client := NewClient(conn, incidentID)
	h.hub.Register(client)
	h.hub.Subscribe(client, redis.IncidentChannel(incidentID.String()))
	h.log.Debug(ctx, "Watcher connected", zap.String("client_id", client.ID))
	go client.WriteLoop(ctx)

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	}

	h.hub.Unregister(client)
	h.log.Debug(ctx, "Watcher disconnected", zap.String("client_id", client.ID))
}
