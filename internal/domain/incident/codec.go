package incident

import (
	"encoding/json"
	"fmt"

	incident_errors "incident-ledger/pkg/errors"
)

// Schema versions written by this build. Older versions stay decodable
// through the registry below.
var currentVersions = map[Kind]int{
	KindCreated:       1,
	KindAgentAssigned: 1,
	KindPrioritySet:   1,
	KindCommentAdded:  2,
	KindStatusUpdated: 1,
	KindAcknowledged:  1,
	KindClosed:        1,
}

type decoderFunc func(data []byte) (Payload, error)

type registryKey struct {
	kind    Kind
	version int
}

var decoders = map[registryKey]decoderFunc{
	{KindCreated, 1}:       decodeJSON[Created],
	{KindAgentAssigned, 1}: decodeJSON[AgentAssigned],
	{KindPrioritySet, 1}:   decodeJSON[PrioritySet],
	{KindCommentAdded, 1}:  decodeCommentAddedV1,
	{KindCommentAdded, 2}:  decodeJSON[CommentAdded],
	{KindStatusUpdated, 1}: decodeJSON[StatusUpdated],
	{KindAcknowledged, 1}:  decodeJSON[Acknowledged],
	{KindClosed, 1}:        decodeJSON[Closed],
}

// CurrentVersion returns the schema version new events of kind are written with.
func CurrentVersion(kind Kind) (int, bool) {
	v, ok := currentVersions[kind]
	return v, ok
}

// Encode serializes p at its current schema version.
func Encode(p Payload) (Kind, int, []byte, error) {
	if p == nil {
		return "", 0, nil, fmt.Errorf("%w: nil payload", incident_errors.ErrUnknownEvent)
	}
	kind := p.Kind()
	version, ok := currentVersions[kind]
	if !ok {
		return "", 0, nil, fmt.Errorf("%w: %s", incident_errors.ErrUnknownEvent, kind)
	}
	data, err := json.Marshal(p)
	if err != nil {
		return "", 0, nil, fmt.Errorf("encode %s: %w", kind, err)
	}
	return kind, version, data, nil
}

// Decode rebuilds a payload from its stored (kind, version) pair.
func Decode(kind Kind, version int, data []byte) (Payload, error) {
	decode, ok := decoders[registryKey{kind: kind, version: version}]
	if !ok {
		return nil, fmt.Errorf("%w: %s@v%d", incident_errors.ErrUnknownEvent, kind, version)
	}
	p, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s@v%d: %v", incident_errors.ErrUnknownEvent, kind, version, err)
	}
	return p, nil
}

func decodeJSON[T Payload](data []byte) (Payload, error) {
	var p T
	if len(data) > 0 {
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// commentAddedV1 is the first comment payload shape, which called the body "comment".
type commentAddedV1 struct {
	Comment string `json:"comment"`
	Author  string `json:"author"`
}

func decodeCommentAddedV1(data []byte) (Payload, error) {
	var old commentAddedV1
	if err := json.Unmarshal(data, &old); err != nil {
		return nil, err
	}
	return CommentAdded{Text: old.Comment, Author: old.Author}, nil
}
