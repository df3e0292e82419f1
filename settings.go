package nakadi

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

// ConnectorSettings controls how the streaming connection to Nakadi is
// established. All numeric and duration fields treat zero as "unset"; unset
// fields are omitted from the query string of the stream request so that the
// server side defaults apply.
type ConnectorSettings struct {
	// NakadiURL is the URL prefix of the Nakadi host, e.g.
	// "https://nakadi.example.org". Mandatory.
	NakadiURL string
	// StreamKeepAliveLimit is the maximum number of empty keep alive batches
	// to get in a row before the server closes the connection. 0 streams
	// keep alives indefinitely.
	StreamKeepAliveLimit int
	// StreamLimit is the maximum number of events in this stream over all
	// partitions. 0 streams indefinitely.
	StreamLimit int
	// StreamTimeout is the maximum time a stream will live before the
	// connection is closed by the server. 0 streams indefinitely.
	StreamTimeout time.Duration
	// BatchFlushTimeout is the maximum time to wait for the flushing of each
	// chunk per partition. 0 assumes the server default of 30 seconds.
	BatchFlushTimeout time.Duration
	// BatchLimit is the maximum number of events per batch. 0 buffers events
	// indefinitely and flushes on BatchFlushTimeout.
	BatchLimit int
	// MaxUncommittedEvents is the number of uncommitted events Nakadi streams
	// before pausing until a commit arrives. The minimal accepted value is 1.
	MaxUncommittedEvents int
}

// validate checks the settings for problems that should surface at
// construction time rather than on the first request.
func (s *ConnectorSettings) validate() error {
	if s.NakadiURL == "" {
		return errors.New("nakadi URL is required")
	}
	parsed, err := url.Parse(s.NakadiURL)
	if err != nil {
		return errors.Wrap(err, "invalid nakadi URL")
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return errors.Errorf("invalid nakadi URL %q", s.NakadiURL)
	}
	return nil
}

// queryString assembles the query parameters for the stream request. Unset
// fields are left out entirely.
func (s *ConnectorSettings) queryString() string {
	values := url.Values{}
	if s.StreamKeepAliveLimit != 0 {
		values.Set("stream_keep_alive_limit", strconv.Itoa(s.StreamKeepAliveLimit))
	}
	if s.StreamLimit != 0 {
		values.Set("stream_limit", strconv.Itoa(s.StreamLimit))
	}
	if s.StreamTimeout != 0 {
		values.Set("stream_timeout", strconv.Itoa(int(s.StreamTimeout/time.Second)))
	}
	if s.BatchFlushTimeout != 0 {
		values.Set("batch_flush_timeout", strconv.Itoa(int(s.BatchFlushTimeout/time.Second)))
	}
	if s.BatchLimit != 0 {
		values.Set("batch_limit", strconv.Itoa(s.BatchLimit))
	}
	if s.MaxUncommittedEvents != 0 {
		values.Set("max_uncommitted_events", strconv.Itoa(s.MaxUncommittedEvents))
	}
	return values.Encode()
}

// SettingsFromEnv reads connector settings from environment variables. The
// variables are looked up under the given prefix:
//
//	{PREFIX}_NAKADI_HOST
//	{PREFIX}_STREAM_KEEP_ALIVE_LIMIT
//	{PREFIX}_STREAM_LIMIT
//	{PREFIX}_STREAM_TIMEOUT_SECS
//	{PREFIX}_BATCH_FLUSH_TIMEOUT_SECS
//	{PREFIX}_BATCH_LIMIT
//	{PREFIX}_MAX_UNCOMMITED_EVENTS
//
// Unset variables keep their zero value. A variable that is set but cannot be
// parsed results in an error.
func SettingsFromEnv(prefix string) (*ConnectorSettings, error) {
	settings := &ConnectorSettings{}

	settings.NakadiURL = os.Getenv(prefix + "_NAKADI_HOST")

	var err error
	settings.StreamKeepAliveLimit, err = intFromEnv(prefix + "_STREAM_KEEP_ALIVE_LIMIT")
	if err != nil {
		return nil, err
	}
	settings.StreamLimit, err = intFromEnv(prefix + "_STREAM_LIMIT")
	if err != nil {
		return nil, err
	}
	settings.StreamTimeout, err = secondsFromEnv(prefix + "_STREAM_TIMEOUT_SECS")
	if err != nil {
		return nil, err
	}
	settings.BatchFlushTimeout, err = secondsFromEnv(prefix + "_BATCH_FLUSH_TIMEOUT_SECS")
	if err != nil {
		return nil, err
	}
	settings.BatchLimit, err = intFromEnv(prefix + "_BATCH_LIMIT")
	if err != nil {
		return nil, err
	}
	settings.MaxUncommittedEvents, err = intFromEnv(prefix + "_MAX_UNCOMMITED_EVENTS")
	if err != nil {
		return nil, err
	}

	return settings, nil
}

func intFromEnv(name string) (int, error) {
	value, ok := os.LookupEnv(name)
	if !ok || value == "" {
		return 0, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, errors.Wrap(err, fmt.Sprintf("could not parse %q", name))
	}
	return parsed, nil
}

func secondsFromEnv(name string) (time.Duration, error) {
	value, err := intFromEnv(name)
	if err != nil {
		return 0, err
	}
	return time.Duration(value) * time.Second, nil
}
