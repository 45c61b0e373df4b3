package httpdto

import (
	"time"

	"incident-ledger/internal/domain/incident"
	"incident-ledger/internal/domain/outbox"
)

type CreateIncidentRequest struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
}

type AssignAgentRequest struct {
	AgentID string `json:"agent_id" binding:"required,uuid"`
}

type SetPriorityRequest struct {
	Priority string `json:"priority" binding:"required"`
}

type AddCommentRequest struct {
	Text   string `json:"text" binding:"required"`
	Author string `json:"author"`
}

type UpdateStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

type CreateIncidentResponse struct {
	ID string `json:"id"`
}

type CommandResponse struct {
	IncidentID string `json:"incident_id"`
}

type IncidentResponse struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Description     string    `json:"description"`
	AssignedAgentID *string   `json:"assigned_agent_id"`
	Priority        string    `json:"priority"`
	Status          string    `json:"status"`
	LastComment     *string   `json:"last_comment"`
	LastSequence    int64     `json:"last_sequence"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func NewIncidentResponse(rm incident.ReadModel) IncidentResponse {
	resp := IncidentResponse{
		ID:           rm.ID.String(),
		Name:         rm.Name,
		Description:  rm.Description,
		Priority:     rm.Priority.String(),
		Status:       rm.Status.String(),
		LastComment:  rm.LastComment,
		LastSequence: rm.LastSequence,
		UpdatedAt:    rm.UpdatedAt,
	}
	if rm.AssignedAgentID.Valid {
		agent := rm.AssignedAgentID.UUID.String()
		resp.AssignedAgentID = &agent
	}
	return resp
}

// AggregateResponse is the state replayed from the event log.
type AggregateResponse struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Description     string    `json:"description"`
	AssignedAgentID *string   `json:"assigned_agent_id"`
	Priority        string    `json:"priority"`
	Status          string    `json:"status"`
	Comments        []string  `json:"comments"`
	Acknowledged    bool      `json:"acknowledged"`
	Version         int64     `json:"version"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func NewAggregateResponse(inc *incident.Incident) AggregateResponse {
	resp := AggregateResponse{
		ID:           inc.ID.String(),
		Name:         inc.Name,
		Description:  inc.Description,
		Priority:     inc.Priority.String(),
		Status:       inc.Status.String(),
		Comments:     append([]string{}, inc.Comments...),
		Acknowledged: inc.Acknowledged,
		Version:      inc.Version(),
		CreatedAt:    inc.CreatedAt,
		UpdatedAt:    inc.UpdatedAt,
	}
	if inc.AssignedAgentID.Valid {
		agent := inc.AssignedAgentID.UUID.String()
		resp.AssignedAgentID = &agent
	}
	return resp
}

type HistoryResponse struct {
	IncidentID string            `json:"incident_id"`
	Events     []outbox.Envelope `json:"events"`
}

func NewHistoryResponse(events []incident.Event) (HistoryResponse, error) {
	resp := HistoryResponse{Events: make([]outbox.Envelope, 0, len(events))}
	for _, e := range events {
		env, err := outbox.NewEnvelope(e)
		if err != nil {
			return HistoryResponse{}, err
		}
		resp.IncidentID = e.AggregateID.String()
		resp.Events = append(resp.Events, env)
	}
	return resp, nil
}

type ArchiveResponse struct {
	URL string `json:"url"`
}
