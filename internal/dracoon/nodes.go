package dracoon

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/tonimelisma/dracoon-go/internal/nodepath"
)

// NodeService is the CRUD surface over nodes: list, search, get,
// create folder/room, delete, move, copy.
type NodeService struct {
	client *Client
	logger *slog.Logger
}

// NewNodeService wraps an authenticated Client.
func NewNodeService(client *Client, logger *slog.Logger) *NodeService {
	if logger == nil {
		logger = slog.Default()
	}

	return &NodeService{client: client, logger: logger}
}

// BaseURL returns the underlying Client's base URL, so callers can parse
// logical paths the same way GetNodeFromPath does (stripping a leading
// host prefix).
func (s *NodeService) BaseURL() string {
	return s.client.BaseURL()
}

// buildQuery appends offset/limit/filter/sort/parentId/roomManager query params.
func buildQuery(params ListParams, parentID *uint64, roomManager *bool) url.Values {
	q := url.Values{}
	q.Set("offset", strconv.FormatUint(params.Offset, 10))

	limit := params.Limit
	if limit == 0 {
		limit = MaxPageSize
	}

	q.Set("limit", strconv.FormatUint(uint64(limit), 10))

	if params.Filter != "" {
		q.Set("filter", params.Filter)
	}

	if params.Sort != "" {
		q.Set("sort", params.Sort)
	}

	if parentID != nil {
		q.Set("parent_id", strconv.FormatUint(*parentID, 10))
	}

	if roomManager != nil {
		q.Set("room_manager", strconv.FormatBool(*roomManager))
	}

	return q
}

// ListNodes lists children of parentID (nil lists the root), one page at a
// time — callers needing the full collection use dracoon.FetchAll.
func (s *NodeService) ListNodes(
	ctx context.Context, parentID *uint64, roomManager *bool, offset uint64, limit uint32,
) (RangedItems[Node], error) {
	params := ListParams{Offset: offset, Limit: limit}

	resp, err := s.client.Do(ctx, http.MethodGet, "/nodes?"+buildQuery(params, parentID, roomManager).Encode(), nil)
	if err != nil {
		return RangedItems[Node]{}, err
	}
	defer resp.Body.Close()

	var out RangedItems[Node]
	if decErr := json.NewDecoder(resp.Body).Decode(&out); decErr != nil {
		return RangedItems[Node]{}, fmt.Errorf("dracoon: decoding node list: %w", decErr)
	}

	return out, nil
}

// ListAllNodes fetches every child of parentID via the Pager.
func (s *NodeService) ListAllNodes(
	ctx context.Context, parentID *uint64, params ListParams,
) ([]Node, error) {
	params.All = true

	return FetchAll(ctx, params, DefaultMaxConcurrentRequests, func(ctx context.Context, offset uint64, limit uint32) (RangedItems[Node], error) {
		return s.ListNodes(ctx, parentID, nil, offset, limit)
	})
}

// SearchNodes searches by string under an optional parent, with optional
// depth (-1 means unlimited). One page at a time.
func (s *NodeService) SearchNodes(
	ctx context.Context, searchString string, parentID *uint64, depthLevel *int, params ListParams,
) (RangedItems[Node], error) {
	q := buildQuery(params, parentID, nil)
	q.Set("search_string", searchString)

	if depthLevel != nil {
		q.Set("depth_level", strconv.Itoa(*depthLevel))
	}

	resp, err := s.client.Do(ctx, http.MethodGet, "/nodes/search?"+q.Encode(), nil)
	if err != nil {
		return RangedItems[Node]{}, err
	}
	defer resp.Body.Close()

	var out RangedItems[Node]
	if decErr := json.NewDecoder(resp.Body).Decode(&out); decErr != nil {
		return RangedItems[Node]{}, fmt.Errorf("dracoon: decoding search results: %w", decErr)
	}

	return out, nil
}

// SearchAllNodes fetches every match of a search query, fanning out over
// pages with FetchAll.
func (s *NodeService) SearchAllNodes(
	ctx context.Context, searchString string, parentID *uint64, depthLevel *int, params ListParams,
) ([]Node, error) {
	params.All = true

	return FetchAll(ctx, params, DefaultMaxConcurrentRequests, func(ctx context.Context, offset uint64, limit uint32) (RangedItems[Node], error) {
		page := params
		page.Offset, page.Limit = offset, limit

		return s.SearchNodes(ctx, searchString, parentID, depthLevel, page)
	})
}

// GetNodeFromPath resolves a logical path to a single Node. Returns
// (nil, nil) when zero or more than one node matches the search:
// ambiguity is logged, not erred, and call sites decide whether a nil
// node is fatal.
//
// Callers whose name contains a wildcard must use SearchAllNodes instead
// (nodepath.IsSearchQuery detects this).
func (s *NodeService) GetNodeFromPath(ctx context.Context, path string) (*Node, error) {
	parsed, err := nodepath.Parse(path, s.client.BaseURL())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPath, err)
	}

	if nodepath.IsSearchQuery(parsed.Name) {
		return nil, fmt.Errorf("%w: %q is a wildcard query, use SearchAllNodes", ErrInvalidPath, parsed.Name)
	}

	depth := int(parsed.Depth) //nolint:gosec // depth is bounded by path component count

	result, err := s.SearchNodes(ctx, parsed.Name, nil, &depth, ListParams{
		Limit:  MaxPageSize,
		Filter: ComposeFilter(FilterParentPathEquals(parsed.ParentPath)),
	})
	if err != nil {
		return nil, err
	}

	switch len(result.Items) {
	case 1:
		return &result.Items[0], nil
	case 0:
		s.logger.Debug("node not found", slog.String("path", path))
		return nil, nil
	default:
		s.logger.Warn("ambiguous path: multiple nodes matched, treating as not found",
			slog.String("path", path), slog.Int("matches", len(result.Items)))

		return nil, nil
	}
}

// GetNode fetches a single node by id.
func (s *NodeService) GetNode(ctx context.Context, id uint64) (*Node, error) {
	resp, err := s.client.Do(ctx, http.MethodGet, fmt.Sprintf("/nodes/%d", id), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var n Node
	if decErr := json.NewDecoder(resp.Body).Decode(&n); decErr != nil {
		return nil, fmt.Errorf("dracoon: decoding node: %w", decErr)
	}

	return &n, nil
}

// DeleteNode deletes a single node by id.
func (s *NodeService) DeleteNode(ctx context.Context, id uint64) error {
	resp, err := s.client.Do(ctx, http.MethodDelete, fmt.Sprintf("/nodes/%d", id), nil)
	if err != nil {
		return err
	}

	return resp.Body.Close()
}

type createFolderRequest struct {
	ParentID uint64 `json:"parentId"`
	Name     string `json:"name"`
}

// CreateFolder creates a folder under parentID. On 409 Conflict, callers
// (TreeWalker) look up the existing node by path to obtain its id — this
// keeps recursive uploads idempotent.
func (s *NodeService) CreateFolder(ctx context.Context, parentID uint64, name string) (*Node, error) {
	body, err := json.Marshal(createFolderRequest{ParentID: parentID, Name: name})
	if err != nil {
		return nil, fmt.Errorf("dracoon: marshaling create-folder request: %w", err)
	}

	resp, err := s.client.Do(ctx, http.MethodPost, "/nodes/folders", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var n Node
	if decErr := json.NewDecoder(resp.Body).Decode(&n); decErr != nil {
		return nil, fmt.Errorf("dracoon: decoding created folder: %w", decErr)
	}

	return &n, nil
}

// CreateRoomOptions extends folder creation with room-specific admin and
// policy fields.
type CreateRoomOptions struct {
	ParentID           *uint64
	Name               string
	AdminIDs           []uint64
	InheritPermissions bool
	QuotaBytes         *uint64
	Classification     uint8
}

type createRoomRequest struct {
	ParentID           *uint64 `json:"parentId,omitempty"`
	Name               string  `json:"name"`
	AdminIDs           []uint64 `json:"adminIds,omitempty"`
	InheritPermissions bool    `json:"inheritRoomPermissions"`
	Quota              *uint64 `json:"quota,omitempty"`
	Classification     uint8   `json:"classification,omitempty"`
}

// CreateRoom creates a room, a top-level independently-permissioned
// container.
func (s *NodeService) CreateRoom(ctx context.Context, opts CreateRoomOptions) (*Node, error) {
	body, err := json.Marshal(createRoomRequest{
		ParentID:           opts.ParentID,
		Name:               opts.Name,
		AdminIDs:           opts.AdminIDs,
		InheritPermissions: opts.InheritPermissions,
		Quota:              opts.QuotaBytes,
		Classification:     opts.Classification,
	})
	if err != nil {
		return nil, fmt.Errorf("dracoon: marshaling create-room request: %w", err)
	}

	resp, err := s.client.Do(ctx, http.MethodPost, "/nodes/rooms", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var n Node
	if decErr := json.NewDecoder(resp.Body).Decode(&n); decErr != nil {
		return nil, fmt.Errorf("dracoon: decoding created room: %w", decErr)
	}

	return &n, nil
}

type transferNodesRequest struct {
	NodeIDs            []uint64           `json:"nodeIds"`
	ResolutionStrategy ResolutionStrategy `json:"resolutionStrategy,omitempty"`
}

// MoveNodes moves nodeIDs into targetParentID.
func (s *NodeService) MoveNodes(ctx context.Context, targetParentID uint64, nodeIDs []uint64, strategy ResolutionStrategy) (*Node, error) {
	return s.transfer(ctx, "move_to", targetParentID, nodeIDs, strategy)
}

// CopyNodes copies nodeIDs into targetParentID.
func (s *NodeService) CopyNodes(ctx context.Context, targetParentID uint64, nodeIDs []uint64, strategy ResolutionStrategy) (*Node, error) {
	return s.transfer(ctx, "copy_to", targetParentID, nodeIDs, strategy)
}

func (s *NodeService) transfer(
	ctx context.Context, verb string, targetParentID uint64, nodeIDs []uint64, strategy ResolutionStrategy,
) (*Node, error) {
	body, err := json.Marshal(transferNodesRequest{NodeIDs: nodeIDs, ResolutionStrategy: strategy})
	if err != nil {
		return nil, fmt.Errorf("dracoon: marshaling %s request: %w", verb, err)
	}

	resp, err := s.client.Do(ctx, http.MethodPost, fmt.Sprintf("/nodes/%d/%s", targetParentID, verb), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var n Node
	if decErr := json.NewDecoder(resp.Body).Decode(&n); decErr != nil {
		return nil, fmt.Errorf("dracoon: decoding %s response: %w", verb, decErr)
	}

	return &n, nil
}

// RoomUsers lists the users with access to a room, each with their public
// key. The encrypted-upload paths do not call it: they wrap a file key only
// for the uploading account's own public key.
func (s *NodeService) RoomUsers(ctx context.Context, roomID uint64) ([]RoomUser, error) {
	resp, err := s.client.Do(ctx, http.MethodGet, fmt.Sprintf("/nodes/rooms/%d/users", roomID), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out RangedItems[RoomUser]
	if decErr := json.NewDecoder(resp.Body).Decode(&out); decErr != nil {
		return nil, fmt.Errorf("dracoon: decoding room users: %w", decErr)
	}

	return out.Items, nil
}

// RoomUser is one recipient of a room's encryption key wrapping.
type RoomUser struct {
	UserID    uint64        `json:"userId"`
	PublicKey PublicKeyInfo `json:"publicKeyContainer"`
}

// PublicKeyInfo is a user's current RSA public key, used to wrap file keys.
type PublicKeyInfo struct {
	Version   string `json:"version"`
	PublicKey string `json:"publicKey"`
}

// GetUserFileKey fetches the calling account's wrapped file key for an
// encrypted file, to be unwrapped with the account's own private key before
// decrypting the download stream.
func (s *NodeService) GetUserFileKey(ctx context.Context, fileID uint64) (*WrappedFileKey, error) {
	resp, err := s.client.Do(ctx, http.MethodGet, fmt.Sprintf("/nodes/files/%d/user_file_key", fileID), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out WrappedFileKey
	if decErr := json.NewDecoder(resp.Body).Decode(&out); decErr != nil {
		return nil, fmt.Errorf("dracoon: decoding user file key: %w", decErr)
	}

	return &out, nil
}

// GetUserKeyPair fetches the calling account's own RSA keypair (GET
// /user/account/keypair), needed to unwrap a downloaded file's key and to
// wrap a newly generated file key for the uploading account's own recipient
// entry. There is no endpoint for fetching another account's private key.
func (s *NodeService) GetUserKeyPair(ctx context.Context) (*UserKeyPairContainer, error) {
	resp, err := s.client.Do(ctx, http.MethodGet, "/user/account/keypair", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out UserKeyPairContainer
	if decErr := json.NewDecoder(resp.Body).Decode(&out); decErr != nil {
		return nil, fmt.Errorf("dracoon: decoding user keypair: %w", decErr)
	}

	return &out, nil
}
