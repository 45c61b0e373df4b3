package incident

import (
	"time"

	"github.com/google/uuid"
)

// ReadModel is the denormalized row served to queries. Only the latest
// comment is kept.
type ReadModel struct {
	ID              uuid.UUID
	Name            string
	Description     string
	AssignedAgentID uuid.NullUUID
	Priority        Priority
	Status          Status
	LastComment     *string
	// LastSequence is the highest event sequence folded into this row.
	LastSequence int64
	UpdatedAt    time.Time
}

// NewReadModel seeds a row from the creating event.
func NewReadModel(e Event, c Created) ReadModel {
	return ReadModel{
		ID:           e.AggregateID,
		Name:         c.Name,
		Description:  c.Description,
		Priority:     PriorityLow,
		Status:       StatusOpen,
		LastSequence: e.Sequence,
		UpdatedAt:    e.OccurredAt,
	}
}

// ToReadModel flattens a folded aggregate, used when rebuilding a row from
// the log.
func (i *Incident) ToReadModel() ReadModel {
	rm := ReadModel{
		ID:              i.ID,
		Name:            i.Name,
		Description:     i.Description,
		AssignedAgentID: i.AssignedAgentID,
		Priority:        i.Priority,
		Status:          i.Status,
		LastSequence:    i.version,
		UpdatedAt:       i.UpdatedAt,
	}
	if c, ok := i.LastComment(); ok {
		rm.LastComment = &c
	}
	return rm
}
