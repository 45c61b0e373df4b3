package commands

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"incident-ledger/internal/domain/incident"
	incident_errors "incident-ledger/pkg/errors"
)

const (
	TypeCreateIncident = "CreateIncident"
	TypeAssignAgent    = "AssignAgent"
	TypeSetPriority    = "SetPriority"
	TypeAddComment     = "AddComment"
	TypeUpdateStatus   = "UpdateStatus"
	TypeAcknowledge    = "Acknowledge"
	TypeClose          = "Close"
)

// IncidentCommand targets an existing incident and mutates the loaded
// aggregate.
type IncidentCommand interface {
	Command
	TargetID() uuid.UUID
	Apply(inc *incident.Incident) error
}

type CreateIncident struct {
	Name        string
	Description string
	Key         string
}

func (c CreateIncident) CommandType() string    { return TypeCreateIncident }
func (c CreateIncident) IdempotencyKey() string { return c.Key }

func (c CreateIncident) Validate() error {
	return incident.ValidateDetails(c.Name, c.Description)
}

// target is embedded by commands addressed to one incident.
type target struct {
	IncidentID uuid.UUID
}

func (t target) TargetID() uuid.UUID    { return t.IncidentID }
func (t target) IdempotencyKey() string { return "" }

func (t target) validate() error {
	if t.IncidentID == uuid.Nil {
		return fmt.Errorf("%w: incident id is required", incident_errors.ErrInvalidInput)
	}
	return nil
}

type AssignAgent struct {
	target
	AgentID uuid.UUID
}

func NewAssignAgent(incidentID, agentID uuid.UUID) AssignAgent {
	return AssignAgent{target: target{incidentID}, AgentID: agentID}
}

func (c AssignAgent) CommandType() string { return TypeAssignAgent }

func (c AssignAgent) Validate() error {
	if err := c.validate(); err != nil {
		return err
	}
	if c.AgentID == uuid.Nil {
		return fmt.Errorf("%w: agent id is required", incident_errors.ErrInvalidInput)
	}
	return nil
}

func (c AssignAgent) Apply(inc *incident.Incident) error { return inc.AssignAgent(c.AgentID) }

type SetPriority struct {
	target
	Priority incident.Priority
}

func NewSetPriority(incidentID uuid.UUID, p incident.Priority) SetPriority {
	return SetPriority{target: target{incidentID}, Priority: p}
}

func (c SetPriority) CommandType() string { return TypeSetPriority }

func (c SetPriority) Validate() error {
	if err := c.validate(); err != nil {
		return err
	}
	if !c.Priority.Valid() {
		return fmt.Errorf("%w: priority %d", incident_errors.ErrInvalidInput, int(c.Priority))
	}
	return nil
}

func (c SetPriority) Apply(inc *incident.Incident) error { return inc.SetPriority(c.Priority) }

type AddComment struct {
	target
	Text   string
	Author string
}

func NewAddComment(incidentID uuid.UUID, text, author string) AddComment {
	return AddComment{target: target{incidentID}, Text: text, Author: author}
}

func (c AddComment) CommandType() string { return TypeAddComment }

func (c AddComment) Validate() error {
	if err := c.validate(); err != nil {
		return err
	}
	if strings.TrimSpace(c.Text) == "" {
		return fmt.Errorf("%w: comment text is required", incident_errors.ErrInvalidInput)
	}
	return nil
}

func (c AddComment) Apply(inc *incident.Incident) error { return inc.AddComment(c.Text, c.Author) }

type UpdateStatus struct {
	target
	Status incident.Status
}

func NewUpdateStatus(incidentID uuid.UUID, s incident.Status) UpdateStatus {
	return UpdateStatus{target: target{incidentID}, Status: s}
}

func (c UpdateStatus) CommandType() string { return TypeUpdateStatus }

func (c UpdateStatus) Validate() error {
	if err := c.validate(); err != nil {
		return err
	}
	if !c.Status.Valid() {
		return fmt.Errorf("%w: status %d", incident_errors.ErrInvalidInput, int(c.Status))
	}
	return nil
}

func (c UpdateStatus) Apply(inc *incident.Incident) error { return inc.UpdateStatus(c.Status) }

type Acknowledge struct {
	target
}

func NewAcknowledge(incidentID uuid.UUID) Acknowledge {
	return Acknowledge{target: target{incidentID}}
}

func (c Acknowledge) CommandType() string               { return TypeAcknowledge }
func (c Acknowledge) Validate() error                   { return c.validate() }
func (c Acknowledge) Apply(inc *incident.Incident) error { return inc.Acknowledge() }

type Close struct {
	target
}

func NewClose(incidentID uuid.UUID) Close {
	return Close{target: target{incidentID}}
}

func (c Close) CommandType() string               { return TypeClose }
func (c Close) Validate() error                   { return c.validate() }
func (c Close) Apply(inc *incident.Incident) error { return inc.Close() }
