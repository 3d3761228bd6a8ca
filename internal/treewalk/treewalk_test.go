package treewalk_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/dracoon-go/internal/dracoon"
	"github.com/tonimelisma/dracoon-go/internal/transfer"
	"github.com/tonimelisma/dracoon-go/internal/treewalk"
)

type staticToken struct{}

func (staticToken) AuthHeader(context.Context) (string, error) { return "Bearer test", nil }

// fakeServer serves a minimal /nodes tree sufficient to exercise
// DownloadTree's enumeration and file-download plumbing without depending
// on a real DRACOON instance. Download URLs are filled in with the
// server's own address once it's listening, mirroring how a real
// presigned URL points back at blob storage.
func fakeServer(t *testing.T) *httptest.Server {
	t.Helper()

	var baseURL string

	mux := http.NewServeMux()

	mux.HandleFunc("/api/v4/nodes", func(w http.ResponseWriter, r *http.Request) {
		parentID := r.URL.Query().Get("parent_id")

		var items []map[string]any

		switch parentID {
		case "1":
			items = []map[string]any{
				{"id": 2, "type": "file", "name": "a.txt", "size": 5},
				{"id": 3, "type": "folder", "name": "sub"},
			}
		case "3":
			items = []map[string]any{
				{"id": 4, "type": "file", "name": "b.txt", "size": 5},
			}
		}

		_ = json.NewEncoder(w).Encode(map[string]any{
			"range": map[string]any{"offset": 0, "limit": 500, "total": len(items)},
			"items": items,
		})
	})

	mux.HandleFunc("/api/v4/nodes/files/2/downloads", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"downloadUrl": baseURL + "/file/2"})
	})

	mux.HandleFunc("/api/v4/nodes/files/4/downloads", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"downloadUrl": baseURL + "/file/4"})
	})

	mux.HandleFunc("/file/2", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("aaaaa"))
	})

	mux.HandleFunc("/file/4", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("bbbbb"))
	})

	srv := httptest.NewServer(mux)
	baseURL = srv.URL

	return srv
}

func TestDownloadTree_MirrorsRemoteStructure(t *testing.T) {
	srv := fakeServer(t)
	defer srv.Close()

	client := dracoon.NewClient(srv.URL, srv.Client(), staticToken{}, nil)
	nodes := dracoon.NewNodeService(client, nil)
	engine := transfer.New(nodes, nil, nil)
	walker := treewalk.New(nodes, engine, nil, 1)

	dir := t.TempDir()

	var parentID uint64 = 1

	err := walker.DownloadTree(context.Background(), parentID, dir, false)
	require.NoError(t, err)

	topContent, err := os.ReadFile(filepath.Join(dir, "a.txt"))
	require.NoError(t, err)
	require.Equal(t, "aaaaa", string(topContent))

	subContent, err := os.ReadFile(filepath.Join(dir, "sub", "b.txt"))
	require.NoError(t, err)
	require.Equal(t, "bbbbb", string(subContent))
}

// nestedRoomServer serves a tree with a nested room under the download
// root, to exercise the includeRooms override.
func nestedRoomServer(t *testing.T) *httptest.Server {
	t.Helper()

	var baseURL string

	mux := http.NewServeMux()

	mux.HandleFunc("/api/v4/nodes", func(w http.ResponseWriter, r *http.Request) {
		parentID := r.URL.Query().Get("parent_id")

		var items []map[string]any

		switch parentID {
		case "1":
			items = []map[string]any{
				{"id": 2, "type": "file", "name": "a.txt", "size": 5},
				{"id": 3, "type": "room", "name": "subroom"},
			}
		case "3":
			items = []map[string]any{
				{"id": 4, "type": "file", "name": "c.txt", "size": 5},
			}
		}

		_ = json.NewEncoder(w).Encode(map[string]any{
			"range": map[string]any{"offset": 0, "limit": 500, "total": len(items)},
			"items": items,
		})
	})

	mux.HandleFunc("/api/v4/nodes/files/2/downloads", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"downloadUrl": baseURL + "/file/2"})
	})

	mux.HandleFunc("/api/v4/nodes/files/4/downloads", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"downloadUrl": baseURL + "/file/4"})
	})

	mux.HandleFunc("/file/2", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("aaaaa"))
	})

	mux.HandleFunc("/file/4", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ccccc"))
	})

	srv := httptest.NewServer(mux)
	baseURL = srv.URL

	return srv
}

func TestDownloadTree_SkipsNestedRoomsByDefault(t *testing.T) {
	srv := nestedRoomServer(t)
	defer srv.Close()

	client := dracoon.NewClient(srv.URL, srv.Client(), staticToken{}, nil)
	nodes := dracoon.NewNodeService(client, nil)
	engine := transfer.New(nodes, nil, nil)
	walker := treewalk.New(nodes, engine, nil, 1)

	dir := t.TempDir()

	var parentID uint64 = 1

	require.NoError(t, walker.DownloadTree(context.Background(), parentID, dir, false))

	_, err := os.ReadFile(filepath.Join(dir, "a.txt"))
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(dir, "subroom"))
	require.True(t, os.IsNotExist(err))
}

func TestDownloadTree_IncludeRoomsDescendsIntoNestedRooms(t *testing.T) {
	srv := nestedRoomServer(t)
	defer srv.Close()

	client := dracoon.NewClient(srv.URL, srv.Client(), staticToken{}, nil)
	nodes := dracoon.NewNodeService(client, nil)
	engine := transfer.New(nodes, nil, nil)
	walker := treewalk.New(nodes, engine, nil, 1)

	dir := t.TempDir()

	var parentID uint64 = 1

	require.NoError(t, walker.DownloadTree(context.Background(), parentID, dir, true))

	content, err := os.ReadFile(filepath.Join(dir, "subroom", "c.txt"))
	require.NoError(t, err)
	require.Equal(t, "ccccc", string(content))
}

// uploadServer serves the minimal folder-create and chunked-upload protocol
// needed to exercise UploadTree's folder-then-file orchestration.
func uploadServer(t *testing.T) *httptest.Server {
	t.Helper()

	var baseURL string

	mux := http.NewServeMux()

	mux.HandleFunc("/api/v4/nodes/folders", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any

		_ = json.NewDecoder(r.Body).Decode(&body)

		name, _ := body["name"].(string)

		_ = json.NewEncoder(w).Encode(map[string]any{"id": 10, "type": "folder", "name": name})
	})

	mux.HandleFunc("/api/v4/nodes/files/uploads", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"uploadId": "upload-1"})
	})

	mux.HandleFunc("/api/v4/nodes/files/uploads/upload-1/s3_urls", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"urls": []map[string]any{{"url": baseURL + "/s3/part1", "partNumber": 1}},
		})
	})

	mux.HandleFunc("/s3/part1", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", "\"etag-1\"")
	})

	mux.HandleFunc("/api/v4/nodes/files/uploads/upload-1/s3", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("/api/v4/nodes/files/uploads/upload-1", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status": "done",
			"node":   map[string]any{"id": 99, "type": "file", "name": "a.txt"},
		})
	})

	srv := httptest.NewServer(mux)
	baseURL = srv.URL

	return srv
}

func TestUploadTree_CreatesFoldersAndUploadsFiles(t *testing.T) {
	srv := uploadServer(t)
	defer srv.Close()

	client := dracoon.NewClient(srv.URL, srv.Client(), staticToken{}, nil)
	nodes := dracoon.NewNodeService(client, nil)
	engine := transfer.New(nodes, nil, nil)
	walker := treewalk.New(nodes, engine, nil, 1)

	dir := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("aaaaa"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "b.txt"), []byte("bbbbb"), 0o644))

	err := walker.UploadTree(context.Background(), dir, 1, dracoon.DefaultUploadOptions(), false)
	require.NoError(t, err)
}
