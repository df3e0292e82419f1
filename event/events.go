// Copyright (c) 2017, A. Stoewer <adrian.stoewer@rz.ifi.lmu.de>
// All rights reserved.

// Package event contains typed envelopes for the three Nakadi event
// categories. Handlers receive event batches as raw json; these types can be
// embedded in user structs to decode the common metadata without giving up
// the payload's own shape.
package event

import (
	"encoding/json"
	"time"
)

// Metadata represents the meta information which comes along with all Nakadi
// events.
type Metadata struct {
	EID        string     `json:"eid,omitempty"`
	EventType  string     `json:"event_type,omitempty"`
	Partition  string     `json:"partition,omitempty"`
	ParentEIDs []string   `json:"parent_eids,omitempty"`
	FlowID     string     `json:"flow_id,omitempty"`
	OccurredAt time.Time  `json:"occurred_at"`
	ReceivedAt *time.Time `json:"received_at,omitempty"`
}

// Undefined is an event from the category "undefined". It can be embedded in
// custom structs to decode the metadata alongside the event's own fields.
type Undefined struct {
	Metadata Metadata `json:"metadata"`
}

// Business is an event from the category "business". Like Undefined it is
// meant to be embedded in custom structs.
type Business struct {
	Metadata Metadata `json:"metadata"`
}

// DataChange is an event from the category "data".
type DataChange struct {
	Metadata Metadata         `json:"metadata"`
	Data     *json.RawMessage `json:"data"`
	DataOP   string           `json:"data_op"`
	DataType string           `json:"data_type"`
}

// Batch decodes a raw events array as delivered to a handler into a slice of
// raw messages, one per event.
func Batch(events []byte) ([]json.RawMessage, error) {
	var items []json.RawMessage
	err := json.Unmarshal(events, &items)
	return items, err
}
