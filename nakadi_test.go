package nakadi

import (
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Run("with default options", func(t *testing.T) {
		client := New(defaultNakadiURL, nil)

		require.NotNil(t, client)
		assert.Equal(t, defaultNakadiURL, client.nakadiURL)
		assert.Equal(t, defaultTimeOut, client.timeout)
		assert.NotNil(t, client.httpClient)
		assert.NotNil(t, client.httpStreamClient)
		assert.Equal(t, time.Duration(0), client.httpStreamClient.Timeout)
	})

	t.Run("with custom options", func(t *testing.T) {
		client := New(defaultNakadiURL, &ClientOptions{
			ConnectionTimeout: 5 * time.Second,
			TokenProvider:     func() (string, error) { return "token", nil }})

		require.NotNil(t, client)
		assert.Equal(t, 5*time.Second, client.timeout)
		assert.NotNil(t, client.tokenProvider)
	})
}

func TestClient_Authorize(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	url := fmt.Sprintf("%s/subscriptions/%s", defaultNakadiURL, "test-sub")

	var header http.Header
	httpmock.RegisterResponder("GET", url, func(req *http.Request) (*http.Response, error) {
		header = req.Header
		return httpmock.NewStringResponder(http.StatusOK, `{"id":"test-sub"}`)(req)
	})

	t.Run("token provider sets bearer token", func(t *testing.T) {
		client := &Client{
			nakadiURL:     defaultNakadiURL,
			httpClient:    http.DefaultClient,
			tokenProvider: func() (string, error) { return "test-token", nil }}

		_, err := NewSubscriptionAPI(client, nil).Get("test-sub")
		require.NoError(t, err)
		assert.Equal(t, "Bearer test-token", header.Get("Authorization"))
		assert.NotEmpty(t, header.Get("X-Flow-Id"))
	})

	t.Run("missing provider omits header", func(t *testing.T) {
		client := &Client{nakadiURL: defaultNakadiURL, httpClient: http.DefaultClient}

		_, err := NewSubscriptionAPI(client, nil).Get("test-sub")
		require.NoError(t, err)
		assert.Empty(t, header.Get("Authorization"))
		assert.NotEmpty(t, header.Get("X-Flow-Id"))
	})

	t.Run("empty token omits header", func(t *testing.T) {
		client := &Client{
			nakadiURL:     defaultNakadiURL,
			httpClient:    http.DefaultClient,
			tokenProvider: func() (string, error) { return "", nil }}

		_, err := NewSubscriptionAPI(client, nil).Get("test-sub")
		require.NoError(t, err)
		assert.Empty(t, header.Get("Authorization"))
	})

	t.Run("provider error fails the request", func(t *testing.T) {
		client := &Client{
			nakadiURL:     defaultNakadiURL,
			httpClient:    http.DefaultClient,
			tokenProvider: func() (string, error) { return "", assert.AnError }}

		_, err := NewSubscriptionAPI(client, nil).Get("test-sub")
		require.Error(t, err)
		assert.Regexp(t, "unable to obtain token", err)
	})
}
