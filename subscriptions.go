package nakadi

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
)

// Subscription represents a subscription as used by the Nakadi high level API.
type Subscription struct {
	ID                string                     `json:"id,omitempty"`
	OwningApplication string                     `json:"owning_application"`
	EventTypes        []string                   `json:"event_types"`
	ConsumerGroup     string                     `json:"consumer_group,omitempty"`
	ReadFrom          string                     `json:"read_from,omitempty"`
	CreatedAt         time.Time                  `json:"created_at,omitempty"`
	Authorization     *SubscriptionAuthorization `json:"authorization,omitempty"`
}

// SubscriptionAuthorization restricts who may administer and read a
// subscription.
type SubscriptionAuthorization struct {
	Admins  []AuthorizationAttribute `json:"admins"`
	Readers []AuthorizationAttribute `json:"readers"`
}

// AuthorizationAttribute is one entry of a SubscriptionAuthorization.
type AuthorizationAttribute struct {
	DataType string `json:"data_type"`
	Value    string `json:"value"`
}

// SubscriptionOptions is a set of optional parameters used to configure the
// SubscriptionAPI.
type SubscriptionOptions struct {
	// Whether methods of the SubscriptionAPI retry when a request fails. If
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

func (o *SubscriptionOptions) withDefaults() *SubscriptionOptions {
	var copyOptions SubscriptionOptions
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

// NewSubscriptionAPI creates a new instance of the SubscriptionAPI. As for
// all sub APIs of this package NewSubscriptionAPI receives a configured
// Nakadi client. The last parameter is a struct containing only optional
// parameters. The options may be nil.
func NewSubscriptionAPI(client *Client, options *SubscriptionOptions) *SubscriptionAPI {
	options = options.withDefaults()

	return &SubscriptionAPI{
		client: client,
		backOffConf: backOffConfiguration{
			Retry:                options.Retry,
			InitialRetryInterval: options.InitialRetryInterval,
			MaxRetryInterval:     options.MaxRetryInterval,
			MaxElapsedTime:       options.MaxElapsedTime}}
}

// SubscriptionAPI is a sub API for managing subscriptions. All methods
// surface error responses from Nakadi as ClientError values whose kind
// follows the common status mapping, so callers can distinguish e.g. a
// missing subscription from a denied one via KindOf. Transport, token and
// decoding failures are returned as wrapped errors without a kind, for which
// KindOf reports ErrInternal.
type SubscriptionAPI struct {
	client      *Client
	backOffConf backOffConfiguration
}

// List returns all available subscriptions.
func (s *SubscriptionAPI) List() ([]*Subscription, error) {
	wrapper := struct {
		Items []*Subscription `json:"items"`
	}{}
	err := s.client.httpGET(s.backOffConf.create(), s.subscriptionBaseURL(), &wrapper, "unable to request subscriptions")
	if err != nil {
		return nil, err
	}
	return wrapper.Items, nil
}

// Get obtains a single subscription identified by its ID.
func (s *SubscriptionAPI) Get(id string) (*Subscription, error) {
	subscription := &Subscription{}
	err := s.client.httpGET(s.backOffConf.create(), s.subscriptionURL(id), subscription, "unable to request subscription")
	if err != nil {
		return nil, err
	}
	return subscription, nil
}

// Create initializes a new subscription. If the subscription already exists
// the pre-existing subscription is returned.
func (s *SubscriptionAPI) Create(subscription *Subscription) (*Subscription, error) {
	const errMsg = "unable to create subscription"

	response, err := s.client.httpPOST(s.backOffConf.create(), s.subscriptionBaseURL(), subscription, errMsg)
	if err != nil {
		return nil, err
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK && response.StatusCode != http.StatusCreated {
		buffer, err := io.ReadAll(response.Body)
		if err != nil {
			return nil, errors.Wrapf(err, "%s: unable to read response body", errMsg)
		}
		return nil, errorFromStatus(response.StatusCode, buffer, errMsg)
	}

	created := &Subscription{}
	err = json.NewDecoder(response.Body).Decode(created)
	if err != nil {
		return nil, errors.Wrapf(err, "%s: unable to decode response body", errMsg)
	}

	return created, nil
}

// Delete removes an existing subscription.
func (s *SubscriptionAPI) Delete(id string) error {
	return s.client.httpDELETE(s.backOffConf.create(), s.subscriptionURL(id), "unable to delete subscription")
}

// SubscriptionStats holds per partition statistics of one event type of a
// subscription. The same shape backs Connector.StreamInfo.
type SubscriptionStats struct {
	EventType  string            `json:"event_type"`
	Partitions []*PartitionStats `json:"partitions"`
}

// PartitionStats describes the consumption state of a single partition.
type PartitionStats struct {
	Partition        string `json:"partition"`
	State            string `json:"state"`
	UnconsumedEvents int    `json:"unconsumed_events"`
	StreamID         string `json:"stream_id"`
}

type statsResponse struct {
	Items []*SubscriptionStats `json:"items"`
}

// GetStats returns statistic information for a subscription.
func (s *SubscriptionAPI) GetStats(id string) ([]*SubscriptionStats, error) {
	stats := &statsResponse{}
	if err := s.client.httpGET(s.backOffConf.create(), s.subscriptionURL(id)+"/stats", stats, "unable to get stats for subscription"); err != nil {
		return nil, err
	}
	return stats.Items, nil
}

// UnconsumedEvents sums the unconsumed events over all event types and
// partitions of a subscription. It is a convenience for lag monitoring of a
// running consumer.
func (s *SubscriptionAPI) UnconsumedEvents(id string) (int, error) {
	stats, err := s.GetStats(id)
	if err != nil {
		return 0, err
	}

	total := 0
	for _, eventType := range stats {
		for _, partition := range eventType.Partitions {
			total += partition.UnconsumedEvents
		}
	}
	return total, nil
}

func (s *SubscriptionAPI) subscriptionURL(id string) string {
	return fmt.Sprintf("%s/subscriptions/%s", s.client.nakadiURL, id)
}

func (s *SubscriptionAPI) subscriptionBaseURL() string {
	return fmt.Sprintf("%s/subscriptions", s.client.nakadiURL)
}
