package transfer_test

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/dracoon-go/internal/crypto/rsaaes"
	"github.com/tonimelisma/dracoon-go/internal/dracoon"
	"github.com/tonimelisma/dracoon-go/internal/transfer"
)

type staticToken struct{}

func (staticToken) AuthHeader(context.Context) (string, error) { return "Bearer test", nil }

// fakeAPI fakes just enough of the DRACOON + S3 surface for one
// small-file upload: a single chunk, one presigned URL pointing back at
// itself, and a done status on the first poll.
func fakeAPI(t *testing.T) (*httptest.Server, *dracoon.NodeService) {
	t.Helper()

	var mu sync.Mutex

	var uploadedParts [][]byte

	mux := http.NewServeMux()

	mux.HandleFunc("/api/v4/nodes/files/uploads", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"uploadId": "upload-1"})
	})

	var s3URL string

	mux.HandleFunc("/api/v4/nodes/files/uploads/upload-1/s3_urls", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"urls": []map[string]any{{"url": s3URL, "partNumber": 1}},
		})
	})

	mux.HandleFunc("/s3/part1", func(w http.ResponseWriter, r *http.Request) {
		body := new(bytes.Buffer)
		_, _ = body.ReadFrom(r.Body)

		mu.Lock()
		uploadedParts = append(uploadedParts, body.Bytes())
		mu.Unlock()

		w.Header().Set("ETag", `"abc123"`)
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("/api/v4/nodes/files/uploads/upload-1/s3", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("/api/v4/nodes/files/uploads/upload-1", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status": "done",
			"node":   map[string]any{"id": 42, "type": "file", "name": "hello.txt"},
		})
	})

	srv := httptest.NewServer(mux)
	s3URL = srv.URL + "/s3/part1"

	client := dracoon.NewClient(srv.URL, srv.Client(), staticToken{}, nil)
	nodes := dracoon.NewNodeService(client, nil)

	t.Cleanup(func() {
		mu.Lock()
		defer mu.Unlock()

		require.Len(t, uploadedParts, 1)
		require.Equal(t, "hello world", string(uploadedParts[0]))
	})

	return srv, nodes
}

func TestEngine_Upload_SmallSingleChunkFile(t *testing.T) {
	srv, nodes := fakeAPI(t)
	defer srv.Close()

	engine := transfer.New(nodes, nil, nil)

	content := []byte("hello world")
	src := bytes.NewReader(content)

	node, err := engine.Upload(context.Background(), transfer.UploadRequest{
		ParentID: 1,
		Meta:     dracoon.FileMeta{Name: "hello.txt", Size: uint64(len(content))},
		Options:  dracoon.DefaultUploadOptions(),
		Source:   src,
	})

	require.NoError(t, err)
	require.NotNil(t, node)
	require.Equal(t, "hello.txt", node.Name)
}

// TestEngine_EncryptedMultiChunkRoundTrip uploads an encrypted file large
// enough for two parts, then downloads and decrypts what the fake S3 store
// received. This covers the whole envelope: one GCM stream across chunk
// boundaries, ciphertext as long as the plaintext, and the nonce and auth
// tag riding in the wrapped file key attached at completion time.
func TestEngine_EncryptedMultiChunkRoundTrip(t *testing.T) {
	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	pubBytes, err := x509.MarshalPKIXPublicKey(&rsaKey.PublicKey)
	require.NoError(t, err)

	pubPEM := string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubBytes}))

	privBytes, err := x509.MarshalPKCS8PrivateKey(rsaKey)
	require.NoError(t, err)

	privPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privBytes})

	var mu sync.Mutex

	uploadedParts := map[uint32][]byte{}

	var wrappedKey *dracoon.WrappedFileKey

	var baseURL string

	mux := http.NewServeMux()

	mux.HandleFunc("/api/v4/nodes/files/uploads", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"uploadId": "upload-1"})
	})

	mux.HandleFunc("/api/v4/nodes/files/uploads/upload-1/s3_urls", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			FirstPartNumber uint32 `json:"firstPartNumber"`
		}

		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		_ = json.NewEncoder(w).Encode(map[string]any{
			"urls": []map[string]any{{
				"url":        baseURL + "/s3/object",
				"partNumber": body.FirstPartNumber,
			}},
		})
	})

	// Both parts PUT to the same presigned endpoint; chunks within one file
	// upload strictly in ascending part order, so arrival order is part order.
	mux.HandleFunc("/s3/object", func(w http.ResponseWriter, r *http.Request) {
		body := new(bytes.Buffer)
		_, _ = body.ReadFrom(r.Body)

		mu.Lock()
		part := uint32(len(uploadedParts) + 1)
		uploadedParts[part] = body.Bytes()
		mu.Unlock()

		w.Header().Set("ETag", `"etag"`)
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("/api/v4/nodes/files/uploads/upload-1/s3", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Parts   []dracoon.FilePart      `json:"parts"`
			FileKey *dracoon.WrappedFileKey `json:"fileKey"`
		}

		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Len(t, body.Parts, 2)
		require.NotNil(t, body.FileKey)

		mu.Lock()
		wrappedKey = body.FileKey
		mu.Unlock()

		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("/api/v4/nodes/files/uploads/upload-1", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status": "done",
			"node":   map[string]any{"id": 42, "type": "file", "name": "big.bin"},
		})
	})

	mux.HandleFunc("/api/v4/nodes/files/42/downloads", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"downloadUrl": baseURL + "/file/42"})
	})

	mux.HandleFunc("/file/42", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()

		_, _ = w.Write(uploadedParts[1])
		_, _ = w.Write(uploadedParts[2])
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	baseURL = srv.URL

	client := dracoon.NewClient(srv.URL, srv.Client(), staticToken{}, nil)
	nodes := dracoon.NewNodeService(client, nil)
	provider := rsaaes.New()
	engine := transfer.New(nodes, provider, nil)

	// 6 MiB forces two chunks at the 5 MiB chunk size; a repeating pattern
	// catches any chunk-boundary misalignment on decrypt.
	plaintext := make([]byte, 6*1024*1024)
	for i := range plaintext {
		plaintext[i] = byte(i % 251)
	}

	fileKey, err := provider.GenerateFileKey()
	require.NoError(t, err)

	node, err := engine.Upload(context.Background(), transfer.UploadRequest{
		ParentID:      1,
		Meta:          dracoon.FileMeta{Name: "big.bin", Size: uint64(len(plaintext))},
		Options:       dracoon.DefaultUploadOptions(),
		Source:        bytes.NewReader(plaintext),
		EncryptionKey: &fileKey,
		RecipientKey:  &dracoon.PublicKeyInfo{PublicKey: pubPEM},
	})
	require.NoError(t, err)
	require.Equal(t, "big.bin", node.Name)

	mu.Lock()
	require.Len(t, uploadedParts[1], 5*1024*1024)
	require.Len(t, uploadedParts[2], 1*1024*1024)
	require.NotNil(t, wrappedKey)
	require.NotEmpty(t, wrappedKey.IV)
	require.NotEmpty(t, wrappedKey.Tag)
	captured := *wrappedKey
	mu.Unlock()

	unwrapped, err := provider.UnwrapFileKey(captured, privPEM, "")
	require.NoError(t, err)

	dest := filepath.Join(t.TempDir(), "big.bin")

	out, err := os.Create(dest)
	require.NoError(t, err)

	require.NoError(t, engine.Download(context.Background(), transfer.DownloadRequest{
		FileID:        42,
		Size:          int64(len(plaintext)),
		Destination:   out,
		DecryptionKey: &unwrapped,
	}))
	require.NoError(t, out.Close())

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	require.Equal(t, plaintext, got)
}
