// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package submit

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bureau-foundation/statesync/lib/schema/playerdata"
	"github.com/bureau-foundation/statesync/lib/syncerr"
)

func testSubmission() playerdata.Submission {
	snapshot := playerdata.NewSnapshot()
	snapshot.Varbits[10] = 2
	snapshot.BitLog = []byte{0x01, 0x80}
	return playerdata.Submission{Username: "Zezima", Profile: "STANDARD", Data: snapshot.Wire()}
}

// captured holds what the test server received.
type captured struct {
	submission playerdata.Submission
	encoding   string
	requestID  string
	userAgent  string
}

func newSubmitServer(t *testing.T, status int) (*httptest.Server, <-chan captured) {
	t.Helper()
	received := make(chan captured, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		body, err := DecodeBody(r.Header.Get("Content-Encoding"), r.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		var submission playerdata.Submission
		if err := json.Unmarshal(body, &submission); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		received <- captured{
			submission: submission,
			encoding:   r.Header.Get("Content-Encoding"),
			requestID:  r.Header.Get(RequestIDHeader),
			userAgent:  r.Header.Get("User-Agent"),
		}
		w.WriteHeader(status)
		io.WriteString(w, "ok")
	}))
	t.Cleanup(server.Close)
	return server, received
}

func TestHTTPTransportCompression(t *testing.T) {
	for _, compression := range []Compression{CompressionNone, CompressionGzip, CompressionZstd} {
		t.Run(string(compression), func(t *testing.T) {
			server, received := newSubmitServer(t, http.StatusOK)
			transport := &HTTPTransport{URL: server.URL, Client: server.Client(), Compression: compression}

			if err := transport.Submit(context.Background(), testSubmission()); err != nil {
				t.Fatalf("Submit: %v", err)
			}
			got := <-received
			if got.submission.Username != "Zezima" || got.submission.Data.Varb[10] != 2 {
				t.Errorf("server received %+v", got.submission)
			}
			if slots := got.submission.Data.CollectionLogSlots; slots == nil || *slots != "AYA=" {
				t.Errorf("collectionLogSlots = %v, want AYA=", slots)
			}
			wantEncoding := string(compression)
			if compression == CompressionNone {
				wantEncoding = ""
			}
			if got.encoding != wantEncoding {
				t.Errorf("Content-Encoding = %q, want %q", got.encoding, wantEncoding)
			}
			if got.requestID == "" || got.userAgent == "" {
				t.Errorf("missing headers: request id %q, user agent %q", got.requestID, got.userAgent)
			}
		})
	}
}

func TestHTTPTransportNon2xxIsNetworkError(t *testing.T) {
	server, _ := newSubmitServer(t, http.StatusInternalServerError)
	transport := &HTTPTransport{URL: server.URL, Client: server.Client()}

	err := transport.Submit(context.Background(), testSubmission())
	if !syncerr.IsKind(err, syncerr.Network) {
		t.Fatalf("Submit error = %v, want network kind", err)
	}
}

func TestHTTPTransportConnectionFailure(t *testing.T) {
	server, _ := newSubmitServer(t, http.StatusOK)
	url := server.URL
	server.Close()

	transport := &HTTPTransport{URL: url}
	if err := transport.Submit(context.Background(), testSubmission()); !syncerr.IsKind(err, syncerr.Network) {
		t.Fatalf("Submit error = %v, want network kind", err)
	}
}

func TestHTTPTransportRequestIDsDiffer(t *testing.T) {
	server, received := newSubmitServer(t, http.StatusOK)
	transport := &HTTPTransport{URL: server.URL, Client: server.Client()}

	transport.Submit(context.Background(), testSubmission())
	first := <-received
	transport.Submit(context.Background(), testSubmission())
	second := <-received
	if first.requestID == second.requestID {
		t.Errorf("request id %q reused", first.requestID)
	}
}

func TestParseCompression(t *testing.T) {
	for name, want := range map[string]Compression{"": CompressionNone, "none": CompressionNone, "gzip": CompressionGzip, "zstd": CompressionZstd} {
		got, err := ParseCompression(name)
		if err != nil || got != want {
			t.Errorf("ParseCompression(%q) = %q, %v; want %q", name, got, err, want)
		}
	}
	if _, err := ParseCompression("lzma"); err == nil {
		t.Error("ParseCompression accepted lzma")
	}
}
