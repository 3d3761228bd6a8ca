package dracoon

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestShareService(t *testing.T, handler http.Handler) *ShareService {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := NewUnauthenticatedClient(srv.URL, srv.Client(), nil)

	return NewShareService(client)
}

func TestGetPublicDownloadShare(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v4/public/shares/downloads/abc123", func(w http.ResponseWriter, r *http.Request) {
		require.Empty(t, r.Header.Get("Authorization"))

		writeJSON(t, w, PublicDownloadShare{AccessKey: "abc123", Name: "report.csv", IsProtected: true})
	})

	shares := newTestShareService(t, mux)

	share, err := shares.GetPublicDownloadShare(t.Context(), "abc123")
	require.NoError(t, err)
	require.Equal(t, "report.csv", share.Name)
	require.True(t, share.IsProtected)
}

func TestRequestPublicDownloadURL(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v4/public/shares/downloads/abc123", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)

		var body downloadShareTokenRequest

		decodeJSONBody(t, r, &body)
		require.Equal(t, "s3cr3t", body.Password)

		writeJSON(t, w, downloadShareTokenResponse{DownloadURL: "https://s3.example.com/presigned"})
	})

	shares := newTestShareService(t, mux)

	url, err := shares.RequestPublicDownloadURL(t.Context(), "abc123", "s3cr3t")
	require.NoError(t, err)
	require.Equal(t, "https://s3.example.com/presigned", url)
}

func TestGetPublicUploadShare(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v4/public/shares/uploads/xyz789", func(w http.ResponseWriter, r *http.Request) {
		maxSlots := 5

		writeJSON(t, w, PublicUploadShare{AccessKey: "xyz789", Name: "drop box", MaxSlots: &maxSlots})
	})

	shares := newTestShareService(t, mux)

	share, err := shares.GetPublicUploadShare(t.Context(), "xyz789")
	require.NoError(t, err)
	require.Equal(t, "drop box", share.Name)
	require.Equal(t, 5, *share.MaxSlots)
}

func TestCreatePublicUploadChannel(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v4/public/shares/uploads/xyz789", func(w http.ResponseWriter, r *http.Request) {
		var body uploadShareChannelRequest

		decodeJSONBody(t, r, &body)
		require.Equal(t, "invoice.pdf", body.Name)
		require.Equal(t, uint64(1024), *body.Size)

		writeJSON(t, w, UploadChannel{UploadID: "upload-1"})
	})

	shares := newTestShareService(t, mux)

	channel, err := shares.CreatePublicUploadChannel(t.Context(), "xyz789", "", FileMeta{Name: "invoice.pdf", Size: 1024})
	require.NoError(t, err)
	require.Equal(t, "upload-1", channel.UploadID)
}
