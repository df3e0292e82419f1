package nakadi

import (
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// retryMillis are the pauses between connect attempts and between commit
// retries: the pause after the n-th consecutive failure is entry n-1. The last
// entry repeats.
var retryMillis = []int64{10, 20, 50, 100, 200, 300, 400, 500, 1000, 2000,
	5000, 10000, 30000, 60000, 300000, 600000}

// conflictPause is the minimum pause after a Conflict response. Conflicts
// mean no free slots are left on the subscription, which is a condition that
// persists; hammering the broker does not help.
const conflictPause = 30 * time.Second

func retryPause(retry int) time.Duration {
	if retry < 0 {
		retry = 0
	}
	if retry >= len(retryMillis) {
		retry = len(retryMillis) - 1
	}
	return time.Duration(retryMillis[retry]) * time.Millisecond
}

// connectPause computes the sleep before the next connect attempt. The
// attempt counter is 1-based.
func connectPause(attempt int, err error) time.Duration {
	pause := retryPause(attempt - 1)
	if KindOf(err) == ErrConflict && pause < conflictPause {
		return conflictPause
	}
	return pause
}

// ConsumerOptions contains optional parameters that are used to create a
// Consumer.
type ConsumerOptions struct {
	// CommitStrategy determines when processed cursors are committed
	// (default: CommitImmediately).
	CommitStrategy CommitStrategy
	// Logger receives diagnostic output of the whole pipeline. If nil all
	// output is discarded.
	Logger *zerolog.Logger
	// Metrics receives measurements from the pipeline (default: discard).
	Metrics MetricsCollector
}

func (o *ConsumerOptions) withDefaults() *ConsumerOptions {
	var copyOptions ConsumerOptions
	if o != nil {
		copyOptions = *o
	}
	if copyOptions.Logger == nil {
		nop := zerolog.Nop()
		copyOptions.Logger = &nop
	}
	if copyOptions.Metrics == nil {
		copyOptions.Metrics = nopMetrics{}
	}
	return &copyOptions
}

// NewConsumer creates a consumer for the given subscription. The connector is
// used for all communication with Nakadi; the handler factory creates one
// handler per partition whenever a new partition shows up on the stream. The
// options may be nil, in this case the consumer falls back to the defaults
// defined in ConsumerOptions.
func NewConsumer(connector Connector, subscriptionID string, handlerFactory HandlerFactory, options *ConsumerOptions) (*Consumer, error) {
	if connector == nil {
		return nil, errors.New("connector must not be nil")
	}
	if subscriptionID == "" {
		return nil, errors.New("subscription id must not be empty")
	}
	if handlerFactory == nil {
		return nil, errors.New("handler factory must not be nil")
	}
	options = options.withDefaults()

	return &Consumer{
		connector:      connector,
		subscriptionID: subscriptionID,
		handlerFactory: handlerFactory,
		strategy:       options.CommitStrategy,
		logger:         options.Logger.With().Str("subscription", subscriptionID).Logger(),
		metrics:        options.Metrics,
		lc:             newLifecycle()}, nil
}

// A Consumer reads event batches from a subscription and drives their
// processing. It reconnects automatically when the stream breaks: each
// reconnect receives a fresh stream id and a fresh set of workers, so batches
// from two streams are never interleaved.
type Consumer struct {
	sync.Mutex
	connector      Connector
	subscriptionID string
	handlerFactory HandlerFactory
	strategy       CommitStrategy
	logger         zerolog.Logger
	metrics        MetricsCollector
	lc             *lifecycle
	isStarted      bool
}

// Start begins event processing. Processing goes on indefinitely until the
// consumer is stopped, either via Stop or because a handler returned the
// Stop action. Start returns an error if the consumer is already or was
// previously started; a consumer cannot be restarted.
func (c *Consumer) Start() error {
	c.Lock()
	defer c.Unlock()

	if c.isStarted {
		return errors.New("consumer was already started")
	}
	c.isStarted = true

	go c.run()
	return nil
}

// Stop requests an orderly shutdown and blocks until all components have
// terminated. Buffered cursors are flushed before Stop returns.
func (c *Consumer) Stop() error {
	c.Lock()
	started := c.isStarted
	c.Unlock()

	if !started {
		return errors.New("consumer is not running")
	}

	c.lc.requestAbort()
	c.lc.waitStopped()
	return nil
}

// IsRunning reports whether the consumer has been started and has not yet
// finally stopped.
func (c *Consumer) IsRunning() bool {
	c.Lock()
	started := c.isStarted
	c.Unlock()
	return started && c.lc.running()
}

// WaitStopped blocks until the consumer has finally stopped.
func (c *Consumer) WaitStopped() {
	c.lc.waitStopped()
}

// run is the reconnect loop. One iteration is one stream: connect, consume
// until the stream dies, tear everything down, connect again.
func (c *Consumer) run() {
	defer c.lc.stopped()

	attempt := 0
	for !c.lc.abortRequestedFlag() {
		attempt++
		c.metrics.ConnectAttempt()
		c.logger.Info().Int("attempt", attempt).Msg("connecting to Nakadi")

		stream, streamID, err := c.connector.OpenStream(c.subscriptionID)
		if err != nil {
			pause := connectPause(attempt, err)
			if KindOf(err) == ErrConflict {
				c.logger.Warn().Err(err).Dur("pause", pause).Msg("conflict, maybe no free slots left")
			} else {
				c.logger.Error().Err(err).Dur("pause", pause).Msg("failed to connect to Nakadi")
			}
			c.sleep(pause)
			continue
		}

		attempt = 0
		c.metrics.StreamStarted()
		c.logger.Info().Str("stream", streamID).Msg("connected")
		c.consumeStream(stream, streamID)
	}

	c.logger.Info().Msg("consumer stopped")
}

// consumeStream owns one stream from open to teardown. The committer and all
// workers are scoped to the stream and released before the next one opens.
func (c *Consumer) consumeStream(stream io.ReadCloser, streamID string) {
	streamLC := newLifecycle()
	committer := startCommitter(c.connector, c.subscriptionID, streamID, c.strategy, streamLC, c.logger, c.metrics)
	dispatcher := startDispatcher(streamID, c.handlerFactory, committer, streamLC, c.lc, c.logger, c.metrics)
	reader := newStreamReader(stream, streamID, c.logger, c.metrics)

	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		reader.run(streamLC, dispatcher.process)
	}()

	// Block until the body closes, an internal component terminates, or an
	// abort is requested.
waitLoop:
	for {
		select {
		case <-readerDone:
			break waitLoop
		case <-time.After(10 * time.Millisecond):
			if c.lc.abortRequestedFlag() || streamLC.abortRequestedFlag() {
				reader.close()
				<-readerDone
				break waitLoop
			}
		}
	}

	// Teardown order matters: the dispatcher stops its workers and waits for
	// them, only then the committer performs its final flush with no cursors
	// incoming anymore.
	dispatcher.stop()
	committer.stop()
	reader.close()
	streamLC.stopped()
	c.logger.Info().Str("stream", streamID).Msg("stream wound down")
}

// sleep pauses between connect attempts while staying responsive to abort
// requests.
func (c *Consumer) sleep(pause time.Duration) {
	deadline := time.Now().Add(pause)
	for time.Now().Before(deadline) && !c.lc.abortRequestedFlag() {
		time.Sleep(10 * time.Millisecond)
	}
}
