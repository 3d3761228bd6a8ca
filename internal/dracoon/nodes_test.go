package dracoon

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestNodeService(t *testing.T, handler http.Handler) (*NodeService, *httptest.Server) {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := NewClient(srv.URL, srv.Client(), nil, nil)

	return NewNodeService(client, nil), srv
}

func writeJSON(t *testing.T, w http.ResponseWriter, v interface{}) {
	t.Helper()

	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(v); err != nil {
		t.Fatalf("encoding response: %v", err)
	}
}

func decodeJSONBody(t *testing.T, r *http.Request, v interface{}) {
	t.Helper()

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		t.Fatalf("decoding request body: %v", err)
	}
}

func TestGetNodeFromPath_SingleMatch(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v4/nodes/search", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "report.csv", r.URL.Query().Get("search_string"))

		writeJSON(t, w, RangedItems[Node]{
			Range: Range{Total: 1},
			Items: []Node{{ID: 42, Name: "report.csv", Type: NodeTypeFile}},
		})
	})

	nodes, _ := newTestNodeService(t, mux)

	node, err := nodes.GetNodeFromPath(t.Context(), "reports/report.csv")
	require.NoError(t, err)
	require.NotNil(t, node)
	require.Equal(t, uint64(42), node.ID)
}

func TestGetNodeFromPath_ZeroMatchesReturnsNilNil(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v4/nodes/search", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, RangedItems[Node]{Range: Range{Total: 0}, Items: nil})
	})

	nodes, _ := newTestNodeService(t, mux)

	node, err := nodes.GetNodeFromPath(t.Context(), "does/not/exist.txt")
	require.NoError(t, err)
	require.Nil(t, node)
}

func TestGetNodeFromPath_AmbiguousReturnsNilNil(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v4/nodes/search", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, RangedItems[Node]{
			Range: Range{Total: 2},
			Items: []Node{
				{ID: 1, Name: "dup.txt", Type: NodeTypeFile},
				{ID: 2, Name: "dup.txt", Type: NodeTypeFile},
			},
		})
	})

	nodes, _ := newTestNodeService(t, mux)

	node, err := nodes.GetNodeFromPath(t.Context(), "room/dup.txt")
	require.NoError(t, err)
	require.Nil(t, node)
}

func TestGetNodeFromPath_RejectsWildcard(t *testing.T) {
	nodes, _ := newTestNodeService(t, http.NewServeMux())

	_, err := nodes.GetNodeFromPath(t.Context(), "room/*.txt")
	require.ErrorIs(t, err, ErrInvalidPath)
}

func TestCreateRoom_BuildsRequestBody(t *testing.T) {
	var captured map[string]interface{}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v4/nodes/rooms", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		writeJSON(t, w, Node{ID: 7, Name: "Project Room", Type: NodeTypeRoom})
	})

	nodes, _ := newTestNodeService(t, mux)

	parentID := uint64(1)

	node, err := nodes.CreateRoom(t.Context(), CreateRoomOptions{
		ParentID:           &parentID,
		Name:               "Project Room",
		InheritPermissions: true,
		Classification:     3,
	})
	require.NoError(t, err)
	require.Equal(t, "Project Room", node.Name)
	require.Equal(t, "Project Room", captured["name"])
}

func TestMoveNodes_PostsToMoveTo(t *testing.T) {
	var gotPath string

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v4/nodes/5/move_to", func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		writeJSON(t, w, Node{ID: 9, Name: "moved.txt", Type: NodeTypeFile})
	})

	nodes, _ := newTestNodeService(t, mux)

	node, err := nodes.MoveNodes(t.Context(), 5, []uint64{9}, ResolutionAutoRename)
	require.NoError(t, err)
	require.Equal(t, "/api/v4/nodes/5/move_to", gotPath)
	require.Equal(t, "moved.txt", node.Name)
}

func TestDeleteNode_NotFound(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v4/nodes/99", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		writeJSON(t, w, map[string]interface{}{"code": -20000, "message": "node not found"})
	})

	nodes, _ := newTestNodeService(t, mux)

	err := nodes.DeleteNode(t.Context(), 99)
	require.ErrorIs(t, err, ErrNotFound)
}
