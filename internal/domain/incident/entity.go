package incident

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"incident-ledger/pkg/clock"
	incident_errors "incident-ledger/pkg/errors"
)

const (
	MaxNameLength        = 100
	MaxDescriptionLength = 500
)

// now is swapped in tests that need deterministic timestamps.
var now = clock.NowUTC

// Incident is the aggregate rebuilt from an event stream. It is never stored
// directly; every command loads it, mutates it and appends the new events.
type Incident struct {
	ID              uuid.UUID
	Name            string
	Description     string
	AssignedAgentID uuid.NullUUID
	Priority        Priority
	Status          Status
	Comments        []string
	Acknowledged    bool
	CreatedAt       time.Time
	UpdatedAt       time.Time

	// version is the sequence of the last applied event, committed or not.
	version int64
	// persisted is the sequence of the last event read back from the log.
	persisted   int64
	uncommitted []Event
}

// Create starts a new stream with an IncidentCreated event.
func Create(id uuid.UUID, name, description string) (*Incident, error) {
	if id == uuid.Nil {
		return nil, fmt.Errorf("%w: incident id is required", incident_errors.ErrInvalidInput)
	}
	if err := ValidateDetails(name, description); err != nil {
		return nil, err
	}
	inc := &Incident{ID: id}
	if err := inc.raise(Created{Name: name, Description: description}); err != nil {
		return nil, err
	}
	return inc, nil
}

// ValidateDetails checks the name and description limits shared by the
// aggregate and the transport layer.
func ValidateDetails(name, description string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: name is required", incident_errors.ErrInvalidInput)
	}
	if len(name) > MaxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", incident_errors.ErrInvalidInput, MaxNameLength)
	}
	if strings.TrimSpace(description) == "" {
		return fmt.Errorf("%w: description is required", incident_errors.ErrInvalidInput)
	}
	if len(description) > MaxDescriptionLength {
		return fmt.Errorf("%w: description exceeds %d characters", incident_errors.ErrInvalidInput, MaxDescriptionLength)
	}
	return nil
}

// Fold rebuilds an incident from its history. An empty history yields
// ErrNotFound.
func Fold(id uuid.UUID, events []Event) (*Incident, error) {
	if len(events) == 0 {
		return nil, fmt.Errorf("%w: incident %s", incident_errors.ErrNotFound, id)
	}
	inc := &Incident{ID: id}
	for _, e := range events {
		if err := inc.Apply(e); err != nil {
			return nil, err
		}
	}
	inc.persisted = inc.version
	return inc, nil
}

// Apply folds a single event into the aggregate. Events must belong to this
// incident and arrive in sequence order.
func (i *Incident) Apply(e Event) error {
	if e.Payload == nil {
		return fmt.Errorf("%w: empty payload at sequence %d", incident_errors.ErrUnknownEvent, e.Sequence)
	}
	if e.AggregateID != i.ID {
		return fmt.Errorf("%w: event for %s applied to %s", incident_errors.ErrInvalidInput, e.AggregateID, i.ID)
	}
	if e.Sequence != i.version+1 {
		return fmt.Errorf("%w: expected sequence %d, got %d", incident_errors.ErrOutOfOrder, i.version+1, e.Sequence)
	}
	if _, isCreate := e.Payload.(Created); isCreate != (e.Sequence == 1) {
		return fmt.Errorf("%w: %s at sequence %d", incident_errors.ErrOutOfOrder, e.Kind(), e.Sequence)
	}

	switch p := e.Payload.(type) {
	case Created:
		i.Name = p.Name
		i.Description = p.Description
		i.Status = StatusOpen
		i.Priority = PriorityLow
		i.CreatedAt = e.OccurredAt
	case AgentAssigned:
		i.AssignedAgentID = uuid.NullUUID{UUID: p.AgentID, Valid: true}
	case PrioritySet:
		i.Priority = p.Priority
	case CommentAdded:
		i.Comments = append(i.Comments, p.Text)
	case StatusUpdated:
		i.Status = p.Status
	case Acknowledged:
		i.Acknowledged = true
	case Closed:
		i.Status = StatusClosed
	default:
		return fmt.Errorf("%w: %T", incident_errors.ErrUnknownEvent, e.Payload)
	}

	i.version = e.Sequence
	i.UpdatedAt = e.OccurredAt
	return nil
}

func (i *Incident) AssignAgent(agentID uuid.UUID) error {
	if agentID == uuid.Nil {
		return fmt.Errorf("%w: agent id is required", incident_errors.ErrInvalidInput)
	}
	if i.AssignedAgentID.Valid {
		return fmt.Errorf("%w: agent %s already assigned", incident_errors.ErrInvalidState, i.AssignedAgentID.UUID)
	}
	return i.raise(AgentAssigned{AgentID: agentID})
}

func (i *Incident) SetPriority(p Priority) error {
	if !p.Valid() {
		return fmt.Errorf("%w: priority %d", incident_errors.ErrInvalidInput, int(p))
	}
	return i.raise(PrioritySet{Priority: p})
}

func (i *Incident) AddComment(text, author string) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("%w: comment text is required", incident_errors.ErrInvalidInput)
	}
	return i.raise(CommentAdded{Text: text, Author: author})
}

func (i *Incident) UpdateStatus(s Status) error {
	if !s.Valid() {
		return fmt.Errorf("%w: status %d", incident_errors.ErrInvalidInput, int(s))
	}
	return i.raise(StatusUpdated{Status: s})
}

func (i *Incident) Acknowledge() error {
	return i.raise(Acknowledged{})
}

func (i *Incident) Close() error {
	if !i.Status.Closable() {
		return fmt.Errorf("%w: cannot close incident in status %s", incident_errors.ErrInvalidState, i.Status)
	}
	return i.raise(Closed{})
}

// raise builds the next event, folds it and buffers it. Nothing changes if
// the fold rejects the event.
func (i *Incident) raise(p Payload) error {
	version, ok := CurrentVersion(p.Kind())
	if !ok {
		return fmt.Errorf("%w: %s", incident_errors.ErrUnknownEvent, p.Kind())
	}
	e := Event{
		AggregateID:   i.ID,
		Sequence:      i.version + 1,
		SchemaVersion: version,
		OccurredAt:    now(),
		Payload:       p,
	}
	if err := i.Apply(e); err != nil {
		return err
	}
	i.uncommitted = append(i.uncommitted, e)
	return nil
}

// Version is the stream version observed at load time, used as the expected
// version on append.
func (i *Incident) Version() int64 { return i.persisted }

// CurrentSequence includes events raised but not yet appended.
func (i *Incident) CurrentSequence() int64 { return i.version }

// Uncommitted returns a copy of the events waiting to be appended.
func (i *Incident) Uncommitted() []Event {
	out := make([]Event, len(i.uncommitted))
	copy(out, i.uncommitted)
	return out
}

// MarkCommitted clears the buffer after a successful append.
func (i *Incident) MarkCommitted() {
	i.persisted = i.version
	i.uncommitted = nil
}

// LastComment returns the most recent comment, if any.
func (i *Incident) LastComment() (string, bool) {
	if len(i.Comments) == 0 {
		return "", false
	}
	return i.Comments[len(i.Comments)-1], true
}
