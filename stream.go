// Copyright (c) 2017, A. Stoewer <adrian.stoewer@rz.ifi.lmu.de>
// All rights reserved.

package nakadi

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"time"

	"github.com/rs/zerolog"
)

// streamReader wraps the body of a stream response as a line oriented reader.
// Each line is decoded into a Batch and handed to the dispatch function.
// Keep-alive batches are filtered here and never reach the dispatcher.
type streamReader struct {
	streamID string
	buffer   *bufio.Reader
	closer   io.Closer
	logger   zerolog.Logger
	metrics  MetricsCollector
}

func newStreamReader(body io.ReadCloser, streamID string, logger zerolog.Logger, metrics MetricsCollector) *streamReader {
	return &streamReader{
		streamID: streamID,
		buffer:   bufio.NewReader(body),
		closer:   body,
		logger:   logger.With().Str("stream", streamID).Logger(),
		metrics:  metrics}
}

// run pumps batches into dispatch until the stream ends. It terminates on a
// clean EOF, on any read error, on the first malformed line, when dispatch
// refuses a batch, or when an abort was requested. A malformed line is never
// silently skipped since the following lines may be garbage as well; the
// consumer will reconnect instead.
func (s *streamReader) run(lc *lifecycle, dispatch func(Batch) error) {
	for !lc.abortRequestedFlag() {
		line, err := s.readLine()
		if err != nil {
			if err == io.EOF {
				s.logger.Info().Msg("stream closed by server")
			} else {
				s.logger.Error().Err(err).Msg("failed to read next batch")
			}
			return
		}

		batch := batchLine{}
		if err := json.Unmarshal(line, &batch); err != nil || batch.Cursor == nil {
			s.logger.Error().Err(err).Msg("unparsable batch line, terminating stream")
			return
		}

		var events []byte
		if batch.Events != nil {
			events = []byte(*batch.Events)
		}
		if len(events) == 0 || bytes.Equal(events, []byte("null")) || bytes.Equal(events, []byte("[]")) {
			// A keep-alive proves the stream is live, nothing to deliver.
			s.metrics.KeepAliveReceived()
			continue
		}

		s.metrics.BatchReceived()
		err = dispatch(Batch{
			StreamID:   s.streamID,
			Cursor:     *batch.Cursor,
			Events:     events,
			ReceivedAt: time.Now()})
		if err != nil {
			s.logger.Error().Err(err).Msg("dispatcher refused batch, terminating stream")
			return
		}
	}
}

// readLine reads one full line regardless of the internal buffer size.
func (s *streamReader) readLine() ([]byte, error) {
	line, isPrefix, err := s.buffer.ReadLine()
	if err != nil {
		return nil, err
	}

	for isPrefix {
		var add []byte
		add, isPrefix, err = s.buffer.ReadLine()
		if err != nil {
			return nil, err
		}
		line = append(line, add...)
	}

	return line, nil
}

// close terminates the underlying response body. Closing unblocks a reader
// that is waiting for data.
func (s *streamReader) close() error {
	return s.closer.Close()
}
