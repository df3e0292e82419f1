package nakadi

import (
	"time"

	"github.com/rs/zerolog"
)

// worker consumes the batches of exactly one partition. It owns one handler
// instance for its lifetime and invokes it strictly in arrival order; batches
// of a partition are never processed in parallel.
type worker struct {
	partition  string
	handler    Handler
	committer  *committer
	requests   chan Batch
	done       chan struct{}
	lc         *lifecycle
	consumerLC *lifecycle
	logger     zerolog.Logger
	metrics    MetricsCollector
}

func startWorker(partition string, handler Handler, committer *committer,
	consumerLC *lifecycle, logger zerolog.Logger, metrics MetricsCollector) *worker {

	w := &worker{
		partition:  partition,
		handler:    handler,
		committer:  committer,
		requests:   make(chan Batch, 32),
		done:       make(chan struct{}),
		lc:         newLifecycle(),
		consumerLC: consumerLC,
		logger:     logger.With().Str("partition", partition).Logger(),
		metrics:    metrics}

	go w.run()
	return w
}

func (w *worker) running() bool {
	return w.lc.running()
}

func (w *worker) stop() {
	w.lc.requestAbort()
}

// process enqueues a batch for the worker. It fails when the worker has
// terminated, e.g. after its handler returned Abort.
func (w *worker) process(batch Batch) error {
	select {
	case <-w.done:
		return clientError(ErrInternal, nil, "worker for partition %s is not running", w.partition)
	default:
	}
	select {
	case w.requests <- batch:
		return nil
	case <-w.done:
		return clientError(ErrInternal, nil, "worker for partition %s is not running", w.partition)
	}
}

func (w *worker) run() {
	defer w.lc.stopped()
	defer close(w.done)

	for !w.lc.abortRequestedFlag() {
		select {
		case batch := <-w.requests:
			println("DEBUG worker got batch", w.partition)
			if !w.processBatch(batch) {
				return
			}
		case <-time.After(5 * time.Millisecond):
			// wake up to observe an abort request
		}
	}
	println("DEBUG worker loop exit", w.partition)
}

// processBatch invokes the handler and applies the returned action. The
// return value reports whether the worker should keep running.
func (w *worker) processBatch(batch Batch) bool {
	println("DEBUG processBatch enter", w.partition)
	events := countEvents(batch.Events)
	println("DEBUG processBatch countEvents done", events)
	action := w.invokeHandler(batch)
	println("DEBUG processBatch invokeHandler done", int(action))
	w.metrics.EventsHandled(events)

	switch action {
	case Continue:
		if err := w.committer.requestCommit(batch.Cursor, events); err != nil {
			w.logger.Error().Err(err).Msg("unable to forward cursor to committer")
			return false
		}
		return true
	case ContinueNoCheckpoint:
		return true
	case Stop:
		if err := w.committer.requestCommit(batch.Cursor, events); err != nil {
			w.logger.Error().Err(err).Msg("unable to forward cursor to committer")
		}
		w.logger.Info().Msg("handler requested stop, shutting down consumer")
		w.consumerLC.requestAbort()
		return false
	default:
		w.logger.Warn().Msg("handler requested abort, skipping checkpointing")
		return false
	}
}

// invokeHandler isolates the handler call. A panic must not poison the
// dispatcher, it is recovered here and treated as Abort.
func (w *worker) invokeHandler(batch Batch) (action AfterBatchAction) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error().Interface("panic", r).Msg("handler panicked, treating as abort")
			action = Abort
		}
	}()

	info := BatchInfo{StreamID: batch.StreamID, Cursor: batch.Cursor}
	return w.handler.Handle(batch.Events, info)
}
