// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil provides HTTP response I/O helpers for partyline.
//
// Response reads are bounded at MaxResponseSize so a misbehaving
// server cannot exhaust memory, and transparently undo a gzip or
// deflate Content-Encoding. The transport asks for compressed bodies
// explicitly (the party and friends services return large JSON
// documents), which disables net/http's own transparent decoding, so
// decoding happens here.
package netutil

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
)

// MaxResponseSize bounds JSON API response body reads: 64 MB. Party
// and friend documents are kilobytes; the bound only guards memory.
const MaxResponseSize int64 = 64 << 20

// AcceptEncoding is the Accept-Encoding value matching what
// ReadResponse can decode.
const AcceptEncoding = "gzip, deflate"

// ReadResponse reads a response body up to MaxResponseSize decoded
// bytes, decompressing according to the response's Content-Encoding.
func ReadResponse(response *http.Response) ([]byte, error) {
	reader, closer, err := decodedBody(response)
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	return io.ReadAll(io.LimitReader(reader, MaxResponseSize))
}

// ErrorBody reads a response body for a diagnostic message. Read and
// decode errors are ignored: a partial body is still useful.
func ErrorBody(response *http.Response) string {
	data, _ := ReadResponse(response)
	return string(data)
}

func decodedBody(response *http.Response) (io.Reader, io.Closer, error) {
	encoding := strings.ToLower(strings.TrimSpace(response.Header.Get("Content-Encoding")))
	switch encoding {
	case "", "identity":
		return response.Body, io.NopCloser(nil), nil
	case "gzip", "x-gzip":
		reader, err := gzip.NewReader(response.Body)
		if err != nil {
			if err == io.EOF {
				// Empty body with a gzip header (204 responses from
				// some gateways).
				return strings.NewReader(""), io.NopCloser(nil), nil
			}
			return nil, nil, fmt.Errorf("netutil: opening gzip body: %w", err)
		}
		return reader, reader, nil
	case "deflate":
		reader := flate.NewReader(response.Body)
		return reader, reader, nil
	default:
		return nil, nil, fmt.Errorf("netutil: unsupported content encoding %q", encoding)
	}
}
