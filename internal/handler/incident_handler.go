package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"incident-ledger/internal/domain/incident"
	"incident-ledger/internal/services"
	"incident-ledger/internal/transport/httpdto"
	incident_errors "incident-ledger/pkg/errors"
)

const IdempotencyKeyHeader = "Idempotency-Key"

// ArchiveLinker hands out download links for archived incidents.
type ArchiveLinker interface {
	DownloadURL(ctx context.Context, incidentID uuid.UUID) (string, error)
}

type IncidentHandler struct {
	service  *services.IncidentService
	archives ArchiveLinker
}

// NewIncidentHandler builds the handler. archives may be nil when archiving
// is disabled.
func NewIncidentHandler(service *services.IncidentService, archives ArchiveLinker) *IncidentHandler {
	return &IncidentHandler{service: service, archives: archives}
}

func (h *IncidentHandler) Create(c *gin.Context) {
	var req httpdto.CreateIncidentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid request", "INVALID_REQUEST"))
		return
	}

	id, err := h.service.CreateIncident(c.Request.Context(), req.Name, req.Description, c.GetHeader(IdempotencyKeyHeader))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, httpdto.NewSuccessResponse(httpdto.CreateIncidentResponse{ID: id.String()}))
}

func (h *IncidentHandler) Get(c *gin.Context) {
	id, ok := incidentID(c)
	if !ok {
		return
	}
	rm, err := h.service.GetReadModel(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.NewIncidentResponse(rm)))
}

func (h *IncidentHandler) Aggregate(c *gin.Context) {
	id, ok := incidentID(c)
	if !ok {
		return
	}
	inc, err := h.service.GetIncident(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.NewAggregateResponse(inc)))
}

func (h *IncidentHandler) History(c *gin.Context) {
	id, ok := incidentID(c)
	if !ok {
		return
	}
	events, err := h.service.History(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	resp, err := httpdto.NewHistoryResponse(events)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(resp))
}

func (h *IncidentHandler) Rebuild(c *gin.Context) {
	id, ok := incidentID(c)
	if !ok {
		return
	}
	rm, err := h.service.RebuildReadModel(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.NewIncidentResponse(rm)))
}

func (h *IncidentHandler) AssignAgent(c *gin.Context) {
	id, ok := incidentID(c)
	if !ok {
		return
	}
	var req httpdto.AssignAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid request", "INVALID_REQUEST"))
		return
	}
	agentID, err := parseUUID(req.AgentID)
	if err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid agent_id", "INVALID_REQUEST"))
		return
	}
	h.respond(c, id, h.service.AssignAgent(c.Request.Context(), id, agentID))
}

func (h *IncidentHandler) SetPriority(c *gin.Context) {
	id, ok := incidentID(c)
	if !ok {
		return
	}
	var req httpdto.SetPriorityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid request", "INVALID_REQUEST"))
		return
	}
	priority, err := incident.ParsePriority(req.Priority)
	if err != nil {
		writeError(c, err)
		return
	}
	h.respond(c, id, h.service.SetPriority(c.Request.Context(), id, priority))
}

func (h *IncidentHandler) AddComment(c *gin.Context) {
	id, ok := incidentID(c)
	if !ok {
		return
	}
	var req httpdto.AddCommentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid request", "INVALID_REQUEST"))
		return
	}
	h.respond(c, id, h.service.AddComment(c.Request.Context(), id, req.Text, req.Author))
}

func (h *IncidentHandler) UpdateStatus(c *gin.Context) {
	id, ok := incidentID(c)
	if !ok {
		return
	}
	var req httpdto.UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid request", "INVALID_REQUEST"))
		return
	}
	status, err := incident.ParseStatus(req.Status)
	if err != nil {
		writeError(c, err)
		return
	}
	h.respond(c, id, h.service.UpdateStatus(c.Request.Context(), id, status))
}

func (h *IncidentHandler) Acknowledge(c *gin.Context) {
	id, ok := incidentID(c)
	if !ok {
		return
	}
	h.respond(c, id, h.service.Acknowledge(c.Request.Context(), id))
}

func (h *IncidentHandler) Close(c *gin.Context) {
	id, ok := incidentID(c)
	if !ok {
		return
	}
	h.respond(c, id, h.service.Close(c.Request.Context(), id))
}

// Archive returns a download link for the archived stream of a closed incident.
func (h *IncidentHandler) Archive(c *gin.Context) {
	id, ok := incidentID(c)
	if !ok {
		return
	}
	if h.archives == nil {
		c.JSON(http.StatusNotFound, httpdto.NewErrorResponse("archiving is disabled", "ARCHIVE_DISABLED"))
		return
	}
	inc, err := h.service.GetIncident(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	if inc.Status != incident.StatusClosed {
		writeError(c, incident_errors.ErrInvalidState)
		return
	}
	url, err := h.archives.DownloadURL(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.ArchiveResponse{URL: url}))
}

func (h *IncidentHandler) respond(c *gin.Context, id uuid.UUID, err error) {
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.CommandResponse{IncidentID: id.String()}))
}

func incidentID(c *gin.Context) (uuid.UUID, bool) {
	id, err := parseUUID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid incident id", "INVALID_REQUEST"))
		return uuid.Nil, false
	}
	return id, true
}

func parseUUID(value string) (uuid.UUID, error) {
	return uuid.Parse(value)
}

// writeError maps domain errors onto HTTP statuses and records the error
// for the error middleware.
func writeError(c *gin.Context, err error) {
	status, code := http.StatusInternalServerError, "INTERNAL_ERROR"
	switch {
	case errors.Is(err, incident_errors.ErrInvalidInput):
		status, code = http.StatusBadRequest, "INVALID_INPUT"
	case errors.Is(err, incident_errors.ErrNotFound):
		status, code = http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, incident_errors.ErrInvalidState):
		status, code = http.StatusConflict, "INVALID_STATE"
	case errors.Is(err, incident_errors.ErrVersionConflict):
		status, code = http.StatusConflict, "VERSION_CONFLICT"
		c.Header("Retry-After", "1")
	case errors.Is(err, incident_errors.ErrPersistence):
		status, code = http.StatusServiceUnavailable, "PERSISTENCE"
		c.Header("Retry-After", "1")
	case errors.Is(err, incident_errors.ErrUnknownEvent):
		status, code = http.StatusInternalServerError, "UNKNOWN_EVENT"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status, code = http.StatusServiceUnavailable, "TIMEOUT"
	}
	_ = c.Error(err)
	c.JSON(status, httpdto.NewErrorResponse(err.Error(), code))
}
