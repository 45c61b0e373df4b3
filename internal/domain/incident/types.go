package incident

import (
	"encoding/json"
	"fmt"
	"strings"

	incident_errors "incident-ledger/pkg/errors"
)

// AggregateType names the incident stream in outbox rows and archive keys.
const AggregateType = "incident"

// Priority of an incident. The zero value is Low.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
	PriorityCritical
)

var priorityNames = [...]string{"Low", "Medium", "High", "Critical"}

func (p Priority) String() string {
	if p < 0 || int(p) >= len(priorityNames) {
		return fmt.Sprintf("Priority(%d)", int(p))
	}
	return priorityNames[p]
}

func (p Priority) Valid() bool {
	return p >= PriorityLow && p <= PriorityCritical
}

// ParsePriority accepts the case-insensitive priority name.
func ParsePriority(s string) (Priority, error) {
	for i, name := range priorityNames {
		if strings.EqualFold(strings.TrimSpace(s), name) {
			return Priority(i), nil
		}
	}
	return 0, fmt.Errorf("%w: unknown priority %q", incident_errors.ErrInvalidInput, s)
}

func (p Priority) MarshalJSON() ([]byte, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("%w: priority %d", incident_errors.ErrInvalidInput, int(p))
	}
	return json.Marshal(p.String())
}

func (p *Priority) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParsePriority(s)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Status is the lifecycle state of an incident. The zero value is Open.
type Status int

const (
	StatusOpen Status = iota
	StatusInProgress
	StatusResolved
	StatusAcknowledged
	StatusClosed
)

var statusNames = [...]string{"Open", "InProgress", "Resolved", "Acknowledged", "Closed"}

func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return fmt.Sprintf("Status(%d)", int(s))
	}
	return statusNames[s]
}

func (s Status) Valid() bool {
	return s >= StatusOpen && s <= StatusClosed
}

// Closable reports whether an incident in this status may be closed.
func (s Status) Closable() bool {
	return s == StatusResolved || s == StatusAcknowledged
}

// ParseStatus accepts the case-insensitive status name.
func ParseStatus(s string) (Status, error) {
	for i, name := range statusNames {
		if strings.EqualFold(strings.TrimSpace(s), name) {
			return Status(i), nil
		}
	}
	return 0, fmt.Errorf("%w: unknown status %q", incident_errors.ErrInvalidInput, s)
}

func (s Status) MarshalJSON() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("%w: status %d", incident_errors.ErrInvalidInput, int(s))
	}
	return json.Marshal(s.String())
}

func (s *Status) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseStatus(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
