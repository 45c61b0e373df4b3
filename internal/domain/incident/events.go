package incident

import (
	"time"

	"github.com/google/uuid"
)

// Kind identifies an event variant on the wire and in the log.
type Kind string

const (
	KindCreated       Kind = "incident.created"
	KindAgentAssigned Kind = "incident.agent_assigned"
	KindPrioritySet   Kind = "incident.priority_set"
	KindCommentAdded  Kind = "incident.comment_added"
	KindStatusUpdated Kind = "incident.status_updated"
	KindAcknowledged  Kind = "incident.acknowledged"
	KindClosed        Kind = "incident.closed"
)

// Kinds lists every declared event kind.
var Kinds = []Kind{
	KindCreated,
	KindAgentAssigned,
	KindPrioritySet,
	KindCommentAdded,
	KindStatusUpdated,
	KindAcknowledged,
	KindClosed,
}

// Payload is the closed set of incident event bodies. Only types in this
// package implement it.
type Payload interface {
	Kind() Kind
	isPayload()
}

// Event is one immutable entry of an incident stream.
type Event struct {
	AggregateID   uuid.UUID
	Sequence      int64
	SchemaVersion int
	OccurredAt    time.Time
	Payload       Payload
}

func (e Event) Kind() Kind {
	if e.Payload == nil {
		return ""
	}
	return e.Payload.Kind()
}

type Created struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type AgentAssigned struct {
	AgentID uuid.UUID `json:"agent_id"`
}

type PrioritySet struct {
	Priority Priority `json:"priority"`
}

type CommentAdded struct {
	Text   string `json:"text"`
	Author string `json:"author"`
}

type StatusUpdated struct {
	Status Status `json:"status"`
}

type Acknowledged struct{}

type Closed struct{}

func (Created) Kind() Kind       { return KindCreated }
func (AgentAssigned) Kind() Kind { return KindAgentAssigned }
func (PrioritySet) Kind() Kind   { return KindPrioritySet }
func (CommentAdded) Kind() Kind  { return KindCommentAdded }
func (StatusUpdated) Kind() Kind { return KindStatusUpdated }
func (Acknowledged) Kind() Kind  { return KindAcknowledged }
func (Closed) Kind() Kind        { return KindClosed }

func (Created) isPayload()       {}
func (AgentAssigned) isPayload() {}
func (PrioritySet) isPayload()   {}
func (CommentAdded) isPayload()  {}
func (StatusUpdated) isPayload() {}
func (Acknowledged) isPayload()  {}
func (Closed) isPayload()        {}
