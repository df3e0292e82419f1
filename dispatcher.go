package nakadi

import (
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
)

// dispatcher routes batches to the worker owning their partition, creating
// workers on demand. It is local to one stream: the partition to worker map
// is rebuilt from scratch after every reconnect so workers of a previous
// stream never see batches of the next one.
type dispatcher struct {
	streamID       string
	handlerFactory HandlerFactory
	committer      *committer
	requests       chan Batch
	done           chan struct{}
	lc             *lifecycle
	streamLC       *lifecycle
	consumerLC     *lifecycle
	logger         zerolog.Logger
	metrics        MetricsCollector
}

func startDispatcher(streamID string, handlerFactory HandlerFactory, committer *committer,
	streamLC, consumerLC *lifecycle, logger zerolog.Logger, metrics MetricsCollector) *dispatcher {

	d := &dispatcher{
		streamID:       streamID,
		handlerFactory: handlerFactory,
		committer:      committer,
		requests:       make(chan Batch, 64),
		done:           make(chan struct{}),
		lc:             newLifecycle(),
		streamLC:       streamLC,
		consumerLC:     consumerLC,
		logger:         logger.With().Str("stream", streamID).Logger(),
		metrics:        metrics}

	go d.run()
	return d
}

// process enqueues a batch for dispatching. It fails once the dispatcher has
// terminated.
func (d *dispatcher) process(batch Batch) error {
	select {
	case <-d.done:
		return clientError(ErrInternal, nil, "dispatcher is not running")
	default:
	}
	select {
	case d.requests <- batch:
		return nil
	case <-d.done:
		return clientError(ErrInternal, nil, "dispatcher is not running")
	}
}

// stop requests termination and blocks until the dispatcher and all its
// workers have terminated.
func (d *dispatcher) stop() {
	d.lc.requestAbort()
	d.lc.waitStopped()
}

func (d *dispatcher) run() {
	defer close(d.done)

	workers := map[string]*worker{}
	d.metrics.DispatcherWorkers(0)
	d.logger.Info().Msg("dispatcher started")

	for {
		if d.lc.abortRequestedFlag() {
			d.logger.Info().Msg("dispatcher stop requested")
			break
		}

		var batch Batch
		select {
		case batch = <-d.requests:
		case <-time.After(5 * time.Millisecond):
			continue
		}

		// Keep-alives are filtered by the stream reader; one showing up
		// here is a protocol violation.
		if batch.isKeepAlive() {
			d.logger.Error().Msg("received a keep alive batch, stopping")
			break
		}

		partition := batch.Cursor.Partition
		if !utf8.ValidString(partition) {
			d.logger.Error().Msg("partition id is not valid UTF-8, stopping")
			break
		}

		w, ok := workers[partition]
		if !ok {
			d.logger.Info().Str("partition", partition).Msg("creating new worker")
			handler := d.handlerFactory.CreateHandler(partition)
			w = startWorker(partition, handler, d.committer, d.consumerLC, d.logger, d.metrics)
			workers[partition] = w
			d.metrics.DispatcherWorkers(len(workers))
		}

		println("DEBUG dispatcher sending batch to worker", partition)
		if err := w.process(batch); err != nil {
			d.logger.Error().Err(err).Msg("worker did not accept batch, stopping")
			break
		}
	}

	for _, w := range workers {
		w.stop()
	}

	d.logger.Info().Msg("waiting for workers to stop")
	for anyRunning(workers) {
		time.Sleep(10 * time.Millisecond)
	}
	d.metrics.DispatcherWorkers(0)

	d.streamLC.requestAbort()
	d.lc.stopped()
	d.logger.Info().Msg("dispatcher stopped")
}

func anyRunning(workers map[string]*worker) bool {
	for _, w := range workers {
		if w.running() {
			return true
		}
	}
	return false
}
