// Copyright (c) 2017, A. Stoewer <adrian.stoewer@rz.ifi.lmu.de>
// All rights reserved.

package nakadi

import (
	"encoding/json"
	"time"
)

// Cursor marks a position in a partition of an event type. Cursors are
// received as part of every batch and are round-tripped verbatim when they
// are committed.
type Cursor struct {
	Partition   string `json:"partition"`
	Offset      string `json:"offset"`
	EventType   string `json:"event_type"`
	CursorToken string `json:"cursor_token"`
}

// batchLine is the wire format of one line of the streaming response.
type batchLine struct {
	Cursor *Cursor          `json:"cursor"`
	Events *json.RawMessage `json:"events"`
}

// Batch is one decoded line of the stream together with its provenance. For
// keep-alive batches Events is nil.
type Batch struct {
	// StreamID identifies the stream session that delivered the batch.
	StreamID string
	// Cursor is the position of this batch within its partition.
	Cursor Cursor
	// Events contains the raw json array of events, or nil for keep-alives.
	Events []byte
	// ReceivedAt is the local time the batch was read off the wire.
	ReceivedAt time.Time
}

// isKeepAlive reports whether the batch carries no events. Nakadi emits such
// batches periodically to prove the stream is still live.
func (b Batch) isKeepAlive() bool {
	return len(b.Events) == 0
}

// countEvents returns the number of events in a raw json events array. The
// payload itself stays opaque; only the top level array is inspected.
func countEvents(events []byte) int {
	if len(events) == 0 {
		return 0
	}
	var items []json.RawMessage
	if err := json.Unmarshal(events, &items); err != nil {
		return 0
	}
	return len(items)
}

// BatchInfo accompanies the raw events passed to a Handler. It carries
// everything needed to correlate or manually commit the batch.
type BatchInfo struct {
	// StreamID of the stream session the batch was received on.
	StreamID string
	// Cursor of the batch.
	Cursor Cursor
}
