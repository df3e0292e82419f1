// Copyright (c) 2017, A. Stoewer <adrian.stoewer@rz.ifi.lmu.de>
// All rights reserved.

package nakadi

import (
	"net"
	"net/http"
	"time"
)

// newHTTPClient creates a client for the plain request/response calls. All
// requests time out after the given duration.
func newHTTPClient(timeout time.Duration, middleware Middleware) *http.Client {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		Dial:                (&net.Dialer{Timeout: timeout}).Dial,
		TLSHandshakeTimeout: timeout,
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: middleware(transport),
	}
}

// newHTTPStream creates a client for the streaming endpoint. The client has
// no overall timeout since the response body is held open indefinitely; only
// dialing and the TLS handshake are bounded.
func newHTTPStream(timeout time.Duration, middleware Middleware) *http.Client {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		Dial:                (&net.Dialer{Timeout: timeout}).Dial,
		TLSHandshakeTimeout: timeout,
	}
	return &http.Client{
		Transport: middleware(transport),
	}
}
