package nakadi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// A Connector dispatches the requests the consumption pipeline needs. It is
// stateless and therefore shared across streams; it is an interface to permit
// mocking in tests.
type Connector interface {
	// OpenStream starts a new stream for reading events from a subscription.
	// On success it returns the response body and the stream id issued by
	// Nakadi. Cursors received on this stream must be committed with the
	// same stream id.
	OpenStream(subscriptionID string) (io.ReadCloser, string, error)

	// CommitCursors commits the given cursors under the stream id that
	// delivered them. Committing a cursor automatically commits all earlier
	// cursors of the same partition on that stream.
	CommitCursors(streamID, subscriptionID string, cursors []Cursor) error

	// StreamInfo returns per partition statistics for a subscription.
	StreamInfo(subscriptionID string) ([]*SubscriptionStats, error)
}

// ConnectorOptions is a set of optional parameters used to configure the
// HTTPConnector.
type ConnectorOptions struct {
	// Whether the StreamInfo method retries when a request fails. If
	// set to false InitialRetryInterval, MaxRetryInterval, and MaxElapsedTime
	// have no effect (default: false).
	Retry bool
	// The initial (minimal) retry interval used for the exponential backoff
	// algorithm when retry is enabled.
	InitialRetryInterval time.Duration
	// MaxRetryInterval the maximum retry interval. Once the exponential
	// backoff reaches this value the retry intervals remain constant.
	MaxRetryInterval time.Duration
	// MaxElapsedTime is the maximum time spent on retries when performing a
	// request. Once this value was reached the exponential backoff is halted
	// and the request will fail with an error.
	MaxElapsedTime time.Duration
}

func (o *ConnectorOptions) withDefaults() *ConnectorOptions {
	var copyOptions ConnectorOptions
	if o != nil {
		copyOptions = *o
	}
	if copyOptions.InitialRetryInterval == 0 {
		copyOptions.InitialRetryInterval = defaultInitialRetryInterval
	}
	if copyOptions.MaxRetryInterval == 0 {
		copyOptions.MaxRetryInterval = defaultMaxRetryInterval
	}
	if copyOptions.MaxElapsedTime == 0 {
		copyOptions.MaxElapsedTime = defaultMaxElapsedTime
	}
	return &copyOptions
}

// NewConnector creates a connector that talks to the Nakadi instance the
// client is configured for. The settings control the stream request; invalid
// settings are reported here rather than on the first request. The options
// may be nil.
func NewConnector(client *Client, settings *ConnectorSettings, options *ConnectorOptions) (*HTTPConnector, error) {
	var copySettings ConnectorSettings
	if settings != nil {
		copySettings = *settings
	}
	if copySettings.NakadiURL == "" {
		copySettings.NakadiURL = client.nakadiURL
	}
	if err := copySettings.validate(); err != nil {
		return nil, err
	}
	options = options.withDefaults()

	return &HTTPConnector{
		client:   client,
		settings: copySettings,
		backOffConf: backOffConfiguration{
			Retry:                options.Retry,
			InitialRetryInterval: options.InitialRetryInterval,
			MaxRetryInterval:     options.MaxRetryInterval,
			MaxElapsedTime:       options.MaxElapsedTime}}, nil
}

// HTTPConnector is the Connector implementation used in production. It is
// a stateless request dispatcher; all stream state lives with the caller.
type HTTPConnector struct {
	client      *Client
	settings    ConnectorSettings
	backOffConf backOffConfiguration
}

// Settings returns a copy of the connector settings.
func (c *HTTPConnector) Settings() ConnectorSettings {
	return c.settings
}

// OpenStream implements Connector.
func (c *HTTPConnector) OpenStream(subscriptionID string) (io.ReadCloser, string, error) {
	const msg = "unable to open stream"

	request, err := http.NewRequest("GET", c.streamURL(subscriptionID), nil)
	if err != nil {
		return nil, "", clientError(ErrInternal, err, "%s: unable to prepare request", msg)
	}
	if err := c.client.authorize(request); err != nil {
		return nil, "", clientError(ErrInternal, err, "%s: unable to prepare request", msg)
	}

	response, err := c.client.httpStreamClient.Do(request)
	if err != nil {
		return nil, "", clientError(ErrConnection, err, msg)
	}

	if response.StatusCode != http.StatusOK {
		buffer, readErr := io.ReadAll(response.Body)
		response.Body.Close()
		if readErr != nil {
			buffer = []byte("could not read body")
		}
		return nil, "", errorFromStatus(response.StatusCode, buffer, msg)
	}

	streamID := response.Header.Get("X-Nakadi-StreamId")
	if streamID == "" {
		response.Body.Close()
		return nil, "", clientError(ErrInvalidResponse, nil, "%s: the response lacked the 'X-Nakadi-StreamId' header", msg)
	}

	return response.Body, streamID, nil
}

// CommitCursors implements Connector. Unlike the request/response sub APIs
// commits are not retried here; the committer owns the retry policy.
func (c *HTTPConnector) CommitCursors(streamID, subscriptionID string, cursors []Cursor) error {
	const msg = "unable to commit cursors"

	wrap := &struct {
		Items []Cursor `json:"items"`
	}{Items: cursors}

	encoded, err := json.Marshal(wrap)
	if err != nil {
		return clientError(ErrInternal, err, "%s: unable to encode json body", msg)
	}

	request, err := http.NewRequest("POST", c.commitURL(subscriptionID), bytes.NewReader(encoded))
	if err != nil {
		return clientError(ErrInternal, err, "%s: unable to prepare request", msg)
	}
	request.Header.Set("Content-Type", "application/json;charset=UTF-8")
	request.Header.Set("X-Nakadi-StreamId", streamID)
	if err := c.client.authorize(request); err != nil {
		return clientError(ErrInternal, err, "%s: unable to prepare request", msg)
	}

	response, err := c.client.httpClient.Do(request)
	if err != nil {
		return clientError(ErrConnection, err, msg)
	}
	defer response.Body.Close()

	if response.StatusCode == http.StatusOK || response.StatusCode == http.StatusNoContent {
		return nil
	}

	buffer, readErr := io.ReadAll(response.Body)
	if readErr != nil {
		buffer = []byte("could not read body")
	}
	return errorFromStatus(response.StatusCode, buffer, msg)
}

// StreamInfo implements Connector.
func (c *HTTPConnector) StreamInfo(subscriptionID string) ([]*SubscriptionStats, error) {
	stats := &statsResponse{}
	err := c.client.httpGET(c.backOffConf.create(), c.statsURL(subscriptionID), stats, "unable to request stream info")
	if err != nil {
		return nil, err
	}
	return stats.Items, nil
}

func (c *HTTPConnector) streamURL(id string) string {
	query := c.settings.queryString()
	if query == "" {
		return fmt.Sprintf("%s/subscriptions/%s/events", c.settings.NakadiURL, id)
	}
	return fmt.Sprintf("%s/subscriptions/%s/events?%s", c.settings.NakadiURL, id, query)
}

func (c *HTTPConnector) commitURL(id string) string {
	return fmt.Sprintf("%s/subscriptions/%s/cursors", c.settings.NakadiURL, id)
}

func (c *HTTPConnector) statsURL(id string) string {
	return fmt.Sprintf("%s/subscriptions/%s/stats", c.settings.NakadiURL, id)
}

var _ Connector = (*HTTPConnector)(nil)
