// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/bureau-foundation/partyline/platform"
)

// Request describes one REST call. Exactly one of Body and Form may be
// set.
type Request struct {
	// Method is the HTTP method.
	Method string

	// URL is the absolute request URL without query string.
	URL string

	// Query is appended to URL when non-empty.
	Query url.Values

	// Header holds extra request headers.
	Header http.Header

	// Body is JSON-encoded as the request body when non-nil.
	Body any

	// Form is sent as application/x-www-form-urlencoded when non-nil.
	// OAuth grants use it.
	Form url.Values

	// Client, when set, authenticates the request with the OAuth
	// client's basic credentials instead of a bearer token.
	Client *platform.OAuthClient
}

// fullURL returns URL with the encoded query appended.
func (r *Request) fullURL() string {
	if len(r.Query) == 0 {
		return r.URL
	}
	separator := "?"
	if strings.Contains(r.URL, "?") {
		separator = "&"
	}
	return r.URL + separator + r.Query.Encode()
}

// build creates the *http.Request for one attempt. Bodies are
// re-encoded per attempt so retries never send a drained reader.
func (r *Request) build(ctx context.Context, authorization, userAgent, acceptEncoding string) (*http.Request, error) {
	var body io.Reader
	var contentType string
	switch {
	case r.Body != nil && r.Form != nil:
		return nil, fmt.Errorf("rest: request to %s sets both Body and Form", r.URL)
	case r.Body != nil:
		encoded, err := json.Marshal(r.Body)
		if err != nil {
			return nil, fmt.Errorf("rest: encoding request body: %w", err)
		}
		body = bytes.NewReader(encoded)
		contentType = "application/json"
	case r.Form != nil:
		body = strings.NewReader(r.Form.Encode())
		contentType = "application/x-www-form-urlencoded"
	}

	method := r.Method
	if method == "" {
		method = http.MethodGet
	}
	request, err := http.NewRequestWithContext(ctx, method, r.fullURL(), body)
	if err != nil {
		return nil, fmt.Errorf("rest: creating request: %w", err)
	}
	for name, values := range r.Header {
		for _, value := range values {
			request.Header.Add(name, value)
		}
	}
	if contentType != "" {
		request.Header.Set("Content-Type", contentType)
	}
	if userAgent != "" {
		request.Header.Set("User-Agent", userAgent)
	}
	request.Header.Set("Accept-Encoding", acceptEncoding)
	switch {
	case r.Client != nil:
		request.Header.Set("Authorization", "basic "+r.Client.BasicAuth())
	case authorization != "":
		request.Header.Set("Authorization", authorization)
	}
	return request, nil
}
