package dracoon

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// noopSleep lets retry tests run without waiting out real backoff delays.
func noopSleep(_ context.Context, _ time.Duration) error { return nil }

// TestUploadPart_RetriesTransientErrorThenSucceeds confirms that a chunk PUT
// against a presigned S3 URL retries a transient 503 via Client.DoPreAuth
// instead of failing on the first attempt — the gap the bare httpClient.Do
// call used to leave open.
func TestUploadPart_RetriesTransientErrorThenSucceeds(t *testing.T) {
	var attempts int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}

		w.Header().Set("ETag", `"abc123"`)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, srv.Client(), nil, nil)
	client.sleepFunc = noopSleep

	nodes := NewNodeService(client, nil)

	part, err := nodes.UploadPart(context.Background(), srv.URL, strings.NewReader("hello"), 5)
	require.NoError(t, err)
	require.Equal(t, int32(2), atomic.LoadInt32(&attempts))
	require.Equal(t, "abc123", part.ETag)
}

// TestUploadPart_GivesUpAfterMaxRetries confirms a persistently failing
// presigned PUT still surfaces an error rather than retrying forever.
func TestUploadPart_GivesUpAfterMaxRetries(t *testing.T) {
	var attempts int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, srv.Client(), nil, nil)
	client.sleepFunc = noopSleep

	nodes := NewNodeService(client, nil)

	_, err := nodes.UploadPart(context.Background(), srv.URL, strings.NewReader("hello"), 5)
	require.Error(t, err)
	require.Equal(t, int32(maxRetries+1), atomic.LoadInt32(&attempts))
}

// TestDownloadRange_RetriesTransientErrorThenSucceeds mirrors the upload
// case for the ranged-GET download path.
func TestDownloadRange_RetriesTransientErrorThenSucceeds(t *testing.T) {
	var attempts int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}

		_, _ = w.Write([]byte("chunk-data"))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, srv.Client(), nil, nil)
	client.sleepFunc = noopSleep

	nodes := NewNodeService(client, nil)

	body, _, err := nodes.DownloadRange(context.Background(), srv.URL, 0, 0)
	require.NoError(t, err)
	defer body.Close()

	require.Equal(t, int32(2), atomic.LoadInt32(&attempts))
}
