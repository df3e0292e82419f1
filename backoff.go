package nakadi

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// backOffConfiguration holds the parameters all request/response sub APIs use
// to construct their exponential back-off instances.
type backOffConfiguration struct {
	// Retry enables retries. When false the created back-off stops after the
	// first attempt.
	Retry bool
	// InitialRetryInterval is the initial (minimal) retry interval.
	InitialRetryInterval time.Duration
	// MaxRetryInterval caps the interval between retries.
	MaxRetryInterval time.Duration
	// MaxElapsedTime is the maximum time spent on retries.
	MaxElapsedTime time.Duration
}

// create builds a new backoff.BackOff from the configuration. Every request
// needs its own instance since back-off values are stateful.
func (rc *backOffConfiguration) create() backoff.BackOff {
	if !rc.Retry {
		return &backoff.StopBackOff{}
	}

	back := backoff.NewExponentialBackOff()
	back.InitialInterval = rc.InitialRetryInterval
	back.MaxInterval = rc.MaxRetryInterval
	back.MaxElapsedTime = rc.MaxElapsedTime
	back.Reset()

	return back
}
