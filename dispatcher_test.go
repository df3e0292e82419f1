package nakadi

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type dispatcherFixture struct {
	connector  *fakeConnector
	factory    *recordingFactory
	streamLC   *lifecycle
	consumerLC *lifecycle
	committer  *committer
	dispatcher *dispatcher
}

func newDispatcherFixture(t *testing.T, factory *recordingFactory) *dispatcherFixture {
	t.Helper()
	nop := zerolog.Nop()
	connector := &fakeConnector{}
	streamLC := newLifecycle()
	consumerLC := newLifecycle()
	committer := startCommitter(connector, "test-sub", "test-stream", CommitImmediately(), streamLC, nop, nopMetrics{})
	d := startDispatcher("test-stream", factory, committer, streamLC, consumerLC, nop, nopMetrics{})

	t.Cleanup(func() {
		d.stop()
		committer.stop()
	})
	return &dispatcherFixture{
		connector:  connector,
		factory:    factory,
		streamLC:   streamLC,
		consumerLC: consumerLC,
		committer:  committer,
		dispatcher: d}
}

func TestDispatcher_FansOutPerPartition(t *testing.T) {
	factory := &recordingFactory{}
	fixture := newDispatcherFixture(t, factory)

	offsets := []string{"001", "002", "003"}
	for _, offset := range offsets {
		require.NoError(t, fixture.dispatcher.process(eventBatch("0", offset)))
		require.NoError(t, fixture.dispatcher.process(eventBatch("1", offset)))
	}

	require.Eventually(t, func() bool { return len(factory.handledBatches()) == 6 }, time.Second, 10*time.Millisecond)

	// Exactly one worker and one handler per partition.
	assert.ElementsMatch(t, []string{"0", "1"}, factory.createdPartitions())

	// Order within each partition is preserved regardless of interleaving.
	var zero, one []string
	for _, handled := range factory.handledBatches() {
		switch handled.partition {
		case "0":
			zero = append(zero, handled.info.Cursor.Offset)
		case "1":
			one = append(one, handled.info.Cursor.Offset)
		}
	}
	assert.Equal(t, offsets, zero)
	assert.Equal(t, offsets, one)
}

func TestDispatcher_KeepAliveIsFatal(t *testing.T) {
	factory := &recordingFactory{}
	fixture := newDispatcherFixture(t, factory)

	keepAlive := Batch{StreamID: "test-stream", Cursor: testCursor("0", "001"), ReceivedAt: time.Now()}
	require.NoError(t, fixture.dispatcher.process(keepAlive))

	require.Eventually(t, fixture.streamLC.abortRequestedFlag, time.Second, 10*time.Millisecond)
	assert.Empty(t, factory.handledBatches())
}

func TestDispatcher_InvalidPartitionIsFatal(t *testing.T) {
	factory := &recordingFactory{}
	fixture := newDispatcherFixture(t, factory)

	batch := eventBatch("0", "001")
	batch.Cursor.Partition = string([]byte{0xff, 0xfe})
	require.NoError(t, fixture.dispatcher.process(batch))

	require.Eventually(t, fixture.streamLC.abortRequestedFlag, time.Second, 10*time.Millisecond)
	assert.Empty(t, factory.handledBatches())
}

func TestDispatcher_RefusedBatchStopsStream(t *testing.T) {
	factory := &recordingFactory{
		decide: func(partition string, call int, events []byte) AfterBatchAction { return Abort }}
	fixture := newDispatcherFixture(t, factory)

	require.NoError(t, fixture.dispatcher.process(eventBatch("0", "001")))
	require.Eventually(t, func() bool { return len(factory.handledBatches()) == 1 }, time.Second, 10*time.Millisecond)

	// The worker exited after Abort. Feed batches for its partition until the
	// dispatcher notices the refusal and winds the stream down.
	require.Eventually(t, func() bool {
		fixture.dispatcher.process(eventBatch("0", "002"))
		return fixture.streamLC.abortRequestedFlag()
	}, time.Second, 10*time.Millisecond)

	assert.Len(t, factory.handledBatches(), 1)
}

func TestDispatcher_StopTerminatesWorkers(t *testing.T) {
	factory := &recordingFactory{}
	fixture := newDispatcherFixture(t, factory)

	require.NoError(t, fixture.dispatcher.process(eventBatch("0", "001")))
	require.Eventually(t, func() bool { return len(factory.handledBatches()) == 1 }, time.Second, 10*time.Millisecond)

	fixture.dispatcher.stop()

	assert.True(t, fixture.streamLC.abortRequestedFlag())
	assert.Error(t, fixture.dispatcher.process(eventBatch("0", "002")))
}
