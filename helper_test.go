// Copyright (c) 2017, A. Stoewer <adrian.stoewer@rz.ifi.lmu.de>
// All rights reserved.

package nakadi

import (
	"fmt"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewHTTPClient(t *testing.T) {
	timeout := 20 * time.Second
	client := newHTTPClient(timeout, noopMiddleware())

	require.NotNil(t, client)
	assert.Equal(t, timeout, client.Timeout)
}

func TestNewHTTPStream(t *testing.T) {
	timeout := 20 * time.Second
	client := newHTTPStream(timeout, noopMiddleware())

	require.NotNil(t, client)
	assert.Equal(t, 0*time.Second, client.Timeout)
}

func noopMiddleware() Middleware {
	return func(transport *http.Transport) http.RoundTripper { return transport }
}

// scriptedBody is a stream body serving canned data. Depending on holdOpen it
// either ends with a clean EOF or blocks until it is closed, emulating a
// stream that stays connected with nothing to deliver.
type scriptedBody struct {
	mu       sync.Mutex
	data     []byte
	holdOpen bool
	closed   chan struct{}
	once     sync.Once
}

func newScriptedBody(data string, holdOpen bool) *scriptedBody {
	return &scriptedBody{data: []byte(data), holdOpen: holdOpen, closed: make(chan struct{})}
}

func (b *scriptedBody) Read(p []byte) (int, error) {
	b.mu.Lock()
	if len(b.data) > 0 {
		n := copy(p, b.data)
		b.data = b.data[n:]
		b.mu.Unlock()
		return n, nil
	}
	b.mu.Unlock()

	if !b.holdOpen {
		return 0, io.EOF
	}
	<-b.closed
	return 0, io.EOF
}

func (b *scriptedBody) Close() error {
	b.once.Do(func() { close(b.closed) })
	return nil
}

type commitCall struct {
	streamID string
	cursors  []Cursor
}

type scriptedStream struct {
	streamID string
	body     *scriptedBody
	err      error
}

// fakeConnector scripts the results of successive OpenStream calls and
// records every successful commit; while scripted commit errors remain, each
// commit returns the next one and is not recorded. Once all scripted streams
// are consumed further opens
// deliver an empty stream that stays connected.
type fakeConnector struct {
	mu         sync.Mutex
	streams    []*scriptedStream
	opened     int
	commits    []commitCall
	commitErrs []error
}

func (f *fakeConnector) OpenStream(subscriptionID string) (io.ReadCloser, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.opened++
	if len(f.streams) == 0 {
		return newScriptedBody("", true), fmt.Sprintf("extra-stream-%d", f.opened), nil
	}

	stream := f.streams[0]
	f.streams = f.streams[1:]
	if stream.err != nil {
		return nil, "", stream.err
	}
	return stream.body, stream.streamID, nil
}

func (f *fakeConnector) CommitCursors(streamID, subscriptionID string, cursors []Cursor) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.commitErrs) > 0 {
		err := f.commitErrs[0]
		f.commitErrs = f.commitErrs[1:]
		if err != nil {
			return err
		}
	}

	copied := make([]Cursor, len(cursors))
	copy(copied, cursors)
	f.commits = append(f.commits, commitCall{streamID: streamID, cursors: copied})
	return nil
}

func (f *fakeConnector) StreamInfo(subscriptionID string) ([]*SubscriptionStats, error) {
	return nil, nil
}

func (f *fakeConnector) commitCalls() []commitCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	calls := make([]commitCall, len(f.commits))
	copy(calls, f.commits)
	return calls
}

func (f *fakeConnector) openCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opened
}

// handledBatch records one handler invocation.
type handledBatch struct {
	partition string
	info      BatchInfo
	events    string
}

// recordingFactory creates one recording handler per partition. The decide
// function determines the action returned for each invocation; a nil decide
// always continues.
type recordingFactory struct {
	mu      sync.Mutex
	decide  func(partition string, call int, events []byte) AfterBatchAction
	created []string
	handled []handledBatch
}

func (f *recordingFactory) CreateHandler(partition string) Handler {
	f.mu.Lock()
	f.created = append(f.created, partition)
	f.mu.Unlock()

	call := 0
	return HandlerFunc(func(events []byte, info BatchInfo) AfterBatchAction {
		f.mu.Lock()
		f.handled = append(f.handled, handledBatch{partition: partition, info: info, events: string(events)})
		println("DEBUG Handle appended, len now", len(f.handled))
		f.mu.Unlock()

		call++
		if f.decide == nil {
			return Continue
		}
		return f.decide(partition, call, events)
	})
}

func (f *recordingFactory) handledBatches() []handledBatch {
	f.mu.Lock()
	defer f.mu.Unlock()
	batches := make([]handledBatch, len(f.handled))
	copy(batches, f.handled)
	return batches
}

func (f *recordingFactory) createdPartitions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	created := make([]string, len(f.created))
	copy(created, f.created)
	return created
}

// batchLineJSON renders one stream line for the given partition and offset.
// The number of events determines the length of the events array; zero events
// renders a keep-alive.
func batchLineJSON(partition, offset string, events int) string {
	cursor := fmt.Sprintf(`{"partition":%q,"offset":%q,"event_type":"test-event","cursor_token":"token-%s-%s"}`,
		partition, offset, partition, offset)
	if events == 0 {
		return fmt.Sprintf(`{"cursor":%s}`, cursor) + "\n"
	}
	items := ""
	for i := 0; i < events; i++ {
		if i > 0 {
			items += ","
		}
		items += fmt.Sprintf(`{"metadata":{"eid":"eid-%d"}}`, i)
	}
	return fmt.Sprintf(`{"cursor":%s,"events":[%s]}`, cursor, items) + "\n"
}

func testCursor(partition, offset string) Cursor {
	return Cursor{
		Partition:   partition,
		Offset:      offset,
		EventType:   "test-event",
		CursorToken: fmt.Sprintf("token-%s-%s", partition, offset)}
}

var _ Connector = (*fakeConnector)(nil)
