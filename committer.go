package nakadi

import (
	"time"

	"github.com/rs/zerolog"
)

type commitStrategyKind int

const (
	commitImmediately commitStrategyKind = iota
	commitAfterBatches
	commitAfterElapsed
	commitAfterEventsOrElapsed
)

// CommitStrategy determines when buffered cursors are committed to Nakadi.
// Regardless of the strategy only the newest cursor per partition is sent,
// since committing a cursor implicitly commits all earlier cursors of the
// same partition on the same stream.
type CommitStrategy struct {
	kind     commitStrategyKind
	batches  int
	events   int
	interval time.Duration
}

// CommitImmediately commits every cursor as soon as it arrives.
func CommitImmediately() CommitStrategy {
	return CommitStrategy{kind: commitImmediately}
}

// CommitAfterBatches commits once the given number of cursors accumulated
// for a partition.
func CommitAfterBatches(batches int) CommitStrategy {
	return CommitStrategy{kind: commitAfterBatches, batches: batches}
}

// CommitAfterElapsed commits once the oldest pending cursor of a partition
// is older than the given interval.
func CommitAfterElapsed(interval time.Duration) CommitStrategy {
	return CommitStrategy{kind: commitAfterElapsed, interval: interval}
}

// CommitAfterEventsOrElapsed commits once a partition accumulated the given
// number of events or its oldest pending cursor is older than the given
// interval, whichever comes first.
func CommitAfterEventsOrElapsed(events int, interval time.Duration) CommitStrategy {
	return CommitStrategy{kind: commitAfterEventsOrElapsed, events: events, interval: interval}
}

// commitFlushInterval is the wake interval of the committer's flush loop.
const commitFlushInterval = 100 * time.Millisecond

// commitRequest is what workers send to the committer.
type commitRequest struct {
	cursor Cursor
	events int
}

// pendingPartition is the committer's per partition buffer state. Only the
// newest cursor is kept; counters track what it implicitly covers.
type pendingPartition struct {
	cursor  Cursor
	batches int
	events  int
	oldest  time.Time
}

// committer buffers cursors per partition and commits them according to the
// configured strategy. It is bound to exactly one stream: the stream id used
// for commits is fixed at creation and a committer never outlives its stream.
type committer struct {
	connector      Connector
	subscriptionID string
	streamID       string
	strategy       CommitStrategy
	requests       chan commitRequest
	done           chan struct{}
	lc             *lifecycle
	streamLC       *lifecycle
	logger         zerolog.Logger
	metrics        MetricsCollector
	pending        map[string]*pendingPartition
	dead           bool
}

// startCommitter creates a committer bound to the given stream and starts its
// flush loop. On retry exhaustion the committer requests an abort on the
// stream lifecycle so the consumer reconnects under a fresh stream id.
func startCommitter(connector Connector, subscriptionID, streamID string, strategy CommitStrategy,
	streamLC *lifecycle, logger zerolog.Logger, metrics MetricsCollector) *committer {

	c := &committer{
		connector:      connector,
		subscriptionID: subscriptionID,
		streamID:       streamID,
		strategy:       strategy,
		requests:       make(chan commitRequest, 64),
		done:           make(chan struct{}),
		lc:             newLifecycle(),
		streamLC:       streamLC,
		logger:         logger.With().Str("stream", streamID).Logger(),
		metrics:        metrics,
		pending:        map[string]*pendingPartition{}}

	go c.run()
	return c
}

// requestCommit hands a cursor to the committer. It fails once the committer
// was stopped.
func (c *committer) requestCommit(cursor Cursor, events int) error {
	if c.lc.abortRequestedFlag() {
		return clientError(ErrInternal, nil, "committer is stopped")
	}
	select {
	case <-c.done:
		return clientError(ErrInternal, nil, "committer is stopped")
	default:
	}
	select {
	case c.requests <- commitRequest{cursor: cursor, events: events}:
		return nil
	case <-c.done:
		return clientError(ErrInternal, nil, "committer is stopped")
	}
}

// stop requests termination, waits for the final flush, and returns once the
// committer has terminated. No cursors are accepted afterwards.
func (c *committer) stop() {
	c.lc.requestAbort()
	c.lc.waitStopped()
}

func (c *committer) run() {
	defer c.lc.stopped()
	defer close(c.done)

	ticker := time.NewTicker(commitFlushInterval)
	defer ticker.Stop()

	for {
		if c.lc.abortRequestedFlag() {
			c.drain()
			c.flush(true)
			return
		}

		select {
		case request := <-c.requests:
			c.add(request)
			c.flush(false)
		case <-ticker.C:
			c.flush(false)
		}
	}
}

// drain empties the request mailbox so buffered cursors make it into the
// final flush.
func (c *committer) drain() {
	for {
		select {
		case request := <-c.requests:
			c.add(request)
		default:
			return
		}
	}
}

func (c *committer) add(request commitRequest) {
	partition := request.cursor.Partition
	state, ok := c.pending[partition]
	if !ok {
		state = &pendingPartition{oldest: time.Now()}
		c.pending[partition] = state
	}
	state.cursor = request.cursor
	state.batches++
	state.events += request.events
}

// matured reports whether a partition's buffered cursors are due according to
// the commit strategy.
func (c *committer) matured(state *pendingPartition, now time.Time) bool {
	switch c.strategy.kind {
	case commitAfterBatches:
		return state.batches >= c.strategy.batches
	case commitAfterElapsed:
		return now.Sub(state.oldest) >= c.strategy.interval
	case commitAfterEventsOrElapsed:
		return state.events >= c.strategy.events || now.Sub(state.oldest) >= c.strategy.interval
	default:
		return true
	}
}

// flush commits the newest cursor of every matured partition. A single
// commit request may carry cursors of several partitions. When all is set
// every pending partition is flushed regardless of maturity.
func (c *committer) flush(all bool) {
	if c.dead {
		return
	}

	now := time.Now()
	cursors := make([]Cursor, 0, len(c.pending))
	flushed := make([]string, 0, len(c.pending))
	for partition, state := range c.pending {
		if all || c.matured(state, now) {
			cursors = append(cursors, state.cursor)
			flushed = append(flushed, partition)
		}
	}
	if len(cursors) == 0 {
		return
	}

	err := c.commitWithRetry(cursors)
	switch {
	case err == nil:
		c.metrics.CursorsCommitted(len(cursors))
	case KindOf(err) == ErrCursorUnprocessable:
		// Not retriable. The cursors are dropped, Nakadi will redeliver the
		// affected batches.
		c.logger.Warn().Err(err).Msg("cursors were not processable, dropping them")
	default:
		c.logger.Error().Err(err).Msg("giving up committing cursors, terminating stream")
		c.dead = true
		c.streamLC.requestAbort()
	}

	for _, partition := range flushed {
		delete(c.pending, partition)
	}
}

// commitWithRetry commits the given cursors, retrying transient failures up
// to five times with pauses from the retry table. Unprocessable cursors are
// never retried. During shutdown only the first attempt is made.
func (c *committer) commitWithRetry(cursors []Cursor) error {
	attempt := 0
	for {
		attempt++
		err := c.connector.CommitCursors(c.streamID, c.subscriptionID, cursors)
		if err == nil {
			return nil
		}

		c.metrics.CommitFailed()
		if KindOf(err) == ErrCursorUnprocessable {
			return err
		}
		if attempt > 5 {
			return err
		}
		if c.lc.abortRequestedFlag() {
			c.logger.Warn().Err(err).Msg("commit retries aborted due to shutdown")
			return err
		}
		c.logger.Warn().Err(err).Int("attempt", attempt).Msg("failed to commit cursors, retrying")
		time.Sleep(retryPause(attempt - 1))
	}
}
