// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package submit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/bureau-foundation/statesync/lib/netutil"
	"github.com/bureau-foundation/statesync/lib/schema/playerdata"
	"github.com/bureau-foundation/statesync/lib/syncerr"
	"github.com/bureau-foundation/statesync/lib/version"
)

// Transport delivers one submission. A nil error means the remote
// service acknowledged it. Implementations must honor ctx.
type Transport interface {
	Submit(ctx context.Context, submission playerdata.Submission) error
}

// Compression selects the Content-Encoding of submission bodies.
type Compression string

const (
	CompressionNone Compression = "none"
	CompressionGzip Compression = "gzip"
	CompressionZstd Compression = "zstd"
)

// ParseCompression validates a configured compression name. The empty
// string means none.
func ParseCompression(name string) (Compression, error) {
	switch Compression(name) {
	case "", CompressionNone:
		return CompressionNone, nil
	case CompressionGzip, CompressionZstd:
		return Compression(name), nil
	default:
		return "", fmt.Errorf("unknown compression %q (want none, gzip, or zstd)", name)
	}
}

// RequestIDHeader carries a fresh id for every submission attempt so
// server logs can be matched to agent logs.
const RequestIDHeader = "X-Request-Id"

// HTTPTransport POSTs submissions as JSON.
type HTTPTransport struct {
	URL         string
	Client      *http.Client
	Compression Compression
}

// Submit implements Transport. Any failure, including a non-2xx
// status, is a *syncerr.Error of kind Network, except a body that
// cannot be encoded, which is kind Parse.
func (t *HTTPTransport) Submit(ctx context.Context, submission playerdata.Submission) error {
	const op = "submit"

	payload, err := json.Marshal(submission)
	if err != nil {
		return syncerr.New(syncerr.Parse, op, err)
	}
	body, err := compress(t.Compression, payload)
	if err != nil {
		return syncerr.New(syncerr.Parse, op, err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, t.URL, bytes.NewReader(body))
	if err != nil {
		return syncerr.New(syncerr.Network, op, err)
	}
	request.Header.Set("Content-Type", "application/json; charset=utf-8")
	request.Header.Set("User-Agent", version.UserAgent())
	request.Header.Set(RequestIDHeader, uuid.NewString())
	if t.Compression != CompressionNone && t.Compression != "" {
		request.Header.Set("Content-Encoding", string(t.Compression))
	}

	client := t.Client
	if client == nil {
		client = http.DefaultClient
	}
	response, err := client.Do(request)
	if err != nil {
		return syncerr.New(syncerr.Network, op, err)
	}
	defer response.Body.Close()

	if err := netutil.CheckStatus(response); err != nil {
		return syncerr.New(syncerr.Network, op, err)
	}
	netutil.Drain(response.Body)
	return nil
}

func compress(compression Compression, payload []byte) ([]byte, error) {
	var buffer bytes.Buffer
	switch compression {
	case "", CompressionNone:
		return payload, nil
	case CompressionGzip:
		writer := gzip.NewWriter(&buffer)
		if _, err := writer.Write(payload); err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		if err := writer.Close(); err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
	case CompressionZstd:
		encoder, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, fmt.Errorf("zstd: %w", err)
		}
		defer encoder.Close()
		return encoder.EncodeAll(payload, nil), nil
	default:
		return nil, errors.New("unknown compression " + string(compression))
	}
	return buffer.Bytes(), nil
}

// DecodeBody reverses the Content-Encoding of a submission body. The
// stub service uses it to read what the agent sent.
func DecodeBody(encoding string, body io.Reader) ([]byte, error) {
	switch encoding {
	case "", "identity":
		return netutil.ReadResponse(body)
	case string(CompressionGzip):
		reader, err := gzip.NewReader(body)
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		defer reader.Close()
		return netutil.ReadResponse(reader)
	case string(CompressionZstd):
		decoder, err := zstd.NewReader(body)
		if err != nil {
			return nil, fmt.Errorf("zstd: %w", err)
		}
		defer decoder.Close()
		return netutil.ReadResponse(decoder)
	default:
		return nil, fmt.Errorf("unsupported Content-Encoding %q", encoding)
	}
}
