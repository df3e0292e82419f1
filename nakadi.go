/*
Package nakadi implements a consumer for Nakadi's subscription based high
level API. It maintains a long lived streaming connection to the broker,
dispatches event batches to user supplied handlers on a per partition basis,
and commits cursor positions back to Nakadi so that consumption is durable
and resumable across reconnects.

The Consumer is the entry point for event processing. It is configured with a
Connector, which encapsulates all HTTP communication with Nakadi, and a
HandlerFactory that creates one Handler per partition. Cursors of processed
batches are committed automatically according to a configurable
CommitStrategy. On connection loss the consumer reconnects with an
exponential back-off.

Besides the consumer the package offers a SubscriptionAPI for managing
subscriptions. To make the communication with Nakadi more resilient the
request/response APIs of this package can be configured to retry failed
requests using an exponential back-off algorithm.
*/
package nakadi

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const (
	defaultNakadiURL            = "http://localhost:8080"
	defaultTimeOut              = 30 * time.Second
	defaultInitialRetryInterval = time.Millisecond * 10
	defaultMaxRetryInterval     = 10 * time.Second
	defaultMaxElapsedTime       = 30 * time.Second
)

// A Client represents a basic configuration to access a Nakadi instance. The
// client is used to configure other sub APIs of the package.
type Client struct {
	nakadiURL        string
	tokenProvider    func() (string, error)
	timeout          time.Duration
	httpClient       *http.Client
	httpStreamClient *http.Client
}

// Middleware provides a chainable http.RoundTripper middleware that can be used
// to hook into requests e.g. for logging or tracing purposes.
type Middleware func(transport *http.Transport) http.RoundTripper

// ClientOptions contains all non mandatory parameters used to instantiate the
// Nakadi client.
type ClientOptions struct {
	// TokenProvider is called before each request. The returned token is sent
	// as a bearer token in the Authorization header. An empty token leaves
	// the header unset; a Nakadi instance without authorization does not need
	// a provider at all.
	TokenProvider func() (string, error)
	// ConnectionTimeout limits dialing, the TLS handshake, and (for the non
	// streaming client) whole requests (default: 30s).
	ConnectionTimeout time.Duration
	// Middleware is applied to the transports of both HTTP clients.
	Middleware Middleware
}

func (o *ClientOptions) withDefaults() *ClientOptions {
	var copyOptions ClientOptions
	if o != nil {
		copyOptions = *o
	}
	if copyOptions.ConnectionTimeout == 0 {
		copyOptions.ConnectionTimeout = defaultTimeOut
	}
	if copyOptions.Middleware == nil {
		copyOptions.Middleware = func(transport *http.Transport) http.RoundTripper { return transport }
	}
	return &copyOptions
}

// New creates a new Nakadi client. New receives the URL of the Nakadi instance
// the client should connect to. In addition the second parameter options can be
// used to configure the behavior of the client and of all sub APIs in this
// package. The options may be nil.
func New(url string, options *ClientOptions) *Client {
	options = options.withDefaults()

	return &Client{
		nakadiURL:        url,
		timeout:          options.ConnectionTimeout,
		tokenProvider:    options.TokenProvider,
		httpClient:       newHTTPClient(options.ConnectionTimeout, options.Middleware),
		httpStreamClient: newHTTPStream(options.ConnectionTimeout, options.Middleware)}
}

// authorize attaches the bearer token and a fresh flow id to a request. A
// missing token provider or an empty token leaves the Authorization header
// unset.
func (c *Client) authorize(request *http.Request) error {
	request.Header.Set("X-Flow-Id", uuid.NewString())
	if c.tokenProvider == nil {
		return nil
	}
	token, err := c.tokenProvider()
	if err != nil {
		return errors.Wrap(err, "unable to obtain token")
	}
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	return nil
}

// httpGET fetches json encoded data with a GET request.
func (c *Client) httpGET(backOff backoff.BackOff, url string, body interface{}, msg string) error {
	var response *http.Response
	err := backoff.Retry(func() error {
		request, err := http.NewRequest("GET", url, nil)
		if err != nil {
			return backoff.Permanent(errors.Wrapf(err, "%s: unable to prepare request", msg))
		}

		if err := c.authorize(request); err != nil {
			return backoff.Permanent(errors.Wrapf(err, "%s: unable to prepare request", msg))
		}

		response, err = c.httpClient.Do(request)
		if err != nil {
			return errors.Wrap(err, msg)
		}

		if response.StatusCode >= 500 {
			buffer, err := io.ReadAll(response.Body)
			if err != nil {
				return errors.Wrapf(err, "%s: unable to read response body", msg)
			}
			err = errorFromStatus(response.StatusCode, buffer, msg)
			response.Body.Close()
			return err
		}

		return nil
	}, backOff)

	if err != nil {
		return err
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		buffer, err := io.ReadAll(response.Body)
		if err != nil {
			return errors.Wrap(err, "unable to read response body")
		}
		return errorFromStatus(response.StatusCode, buffer, msg)
	}

	err = json.NewDecoder(response.Body).Decode(body)
	if err != nil {
		return errors.Wrap(err, "unable to decode response body")
	}

	return nil
}

// httpPOST sends json encoded data via POST request and returns a response.
func (c *Client) httpPOST(backOff backoff.BackOff, url string, body interface{}, msg string) (*http.Response, error) {
	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, errors.Wrapf(err, "%s: unable to encode json body", msg)
	}

	var response *http.Response
	err = backoff.Retry(func() error {
		request, err := http.NewRequest("POST", url, bytes.NewReader(encoded))
		if err != nil {
			return backoff.Permanent(errors.Wrapf(err, "%s: unable to prepare request", msg))
		}

		request.Header.Set("Content-Type", "application/json;charset=UTF-8")
		if err := c.authorize(request); err != nil {
			return backoff.Permanent(errors.Wrapf(err, "%s: unable to prepare request", msg))
		}

		response, err = c.httpClient.Do(request)
		if err != nil {
			return errors.Wrap(err, msg)
		}

		if response.StatusCode >= 500 {
			buffer, err := io.ReadAll(response.Body)
			if err != nil {
				return errors.Wrapf(err, "%s: unable to read response body", msg)
			}
			err = errorFromStatus(response.StatusCode, buffer, msg)
			response.Body.Close()
			return err
		}

		return nil
	}, backOff)

	return response, err
}

// httpDELETE sends a DELETE request. On errors httpDELETE expects a response
// body to contain an error message in the format of application/problem+json.
func (c *Client) httpDELETE(backOff backoff.BackOff, url, msg string) error {
	var response *http.Response
	err := backoff.Retry(func() error {
		request, err := http.NewRequest("DELETE", url, nil)
		if err != nil {
			return backoff.Permanent(errors.Wrapf(err, "%s: unable to prepare request", msg))
		}

		if err := c.authorize(request); err != nil {
			return backoff.Permanent(errors.Wrapf(err, "%s: unable to prepare request", msg))
		}

		response, err = c.httpClient.Do(request)
		if err != nil {
			return errors.Wrap(err, msg)
		}

		if response.StatusCode >= 500 {
			buffer, err := io.ReadAll(response.Body)
			if err != nil {
				return errors.Wrapf(err, "%s: unable to read response body", msg)
			}
			err = errorFromStatus(response.StatusCode, buffer, msg)
			response.Body.Close()
			return err
		}

		return nil
	}, backOff)

	if err != nil {
		return err
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK && response.StatusCode != http.StatusNoContent {
		buffer, err := io.ReadAll(response.Body)
		if err != nil {
			return errors.Wrapf(err, "%s: unable to read response body", msg)
		}
		return errorFromStatus(response.StatusCode, buffer, msg)
	}

	return nil
}
