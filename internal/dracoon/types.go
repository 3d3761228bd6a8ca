package dracoon

import "time"

// NodeType enumerates the kinds of entries in the DRACOON hierarchy.
type NodeType string

// Node types.
const (
	NodeTypeFile   NodeType = "file"
	NodeTypeFolder NodeType = "folder"
	NodeTypeRoom   NodeType = "room"
)

// Node is a file, folder, or room.
type Node struct {
	ID                     uint64     `json:"id"`
	Type                   NodeType   `json:"type"`
	Name                   string     `json:"name"`
	ParentID               *uint64    `json:"parentId,omitempty"`
	ParentPath             string     `json:"parentPath,omitempty"`
	Size                   *uint64    `json:"size,omitempty"`
	IsEncrypted            *bool      `json:"isEncrypted,omitempty"`
	TimestampCreation      *time.Time `json:"timestampCreation,omitempty"`
	TimestampModification  *time.Time `json:"timestampModification,omitempty"`
	Permissions            *NodePermissions `json:"permissions,omitempty"`
	CntChildren            *int64     `json:"cntChildren,omitempty"`
	QuotaBytes             *uint64    `json:"quota,omitempty"`
}

// NodePermissions mirrors the subset of DRACOON's node permission object
// carried on Node. The ls command does not print it.
type NodePermissions struct {
	Manage bool `json:"manage"`
	Read   bool `json:"read"`
	Create bool `json:"create"`
	Delete bool `json:"delete"`
}

// ResolutionStrategy controls server-side conflict handling on upload.
type ResolutionStrategy string

// Resolution strategies.
const (
	ResolutionAutoRename ResolutionStrategy = "autorename"
	ResolutionOverwrite  ResolutionStrategy = "overwrite"
	ResolutionFail       ResolutionStrategy = "fail"
)

// UploadOptions controls an individual file upload.
type UploadOptions struct {
	ResolutionStrategy ResolutionStrategy
	Classification     uint8 // 1-4, default 2
	Expiration         *time.Time
	KeepShareLinks     bool
	FileKey            *WrappedFileKey // only set when target room is encrypted
}

// DefaultUploadOptions returns autorename resolution with classification 2.
func DefaultUploadOptions() UploadOptions {
	return UploadOptions{ResolutionStrategy: ResolutionAutoRename, Classification: 2}
}

// FileMeta describes the local file being uploaded.
type FileMeta struct {
	Name                  string
	Size                  uint64
	TimestampCreation     *time.Time
	TimestampModification *time.Time
}

// UploadChannel is the server-issued handle for an in-progress chunked
// upload.
type UploadChannel struct {
	UploadID string `json:"uploadId"`
}

// PresignedURL authorizes a single S3 PUT for one part.
type PresignedURL struct {
	URL        string `json:"url"`
	PartNumber uint32 `json:"partNumber"`
}

// FilePart records the outcome of one chunk PUT, ready for the completion call.
type FilePart struct {
	PartNumber uint32 `json:"partNumber"`
	ETag       string `json:"partEtag"`
}

// UploadStatus is the status field polled from GET .../uploads/{id}.
type UploadStatus string

// Upload poll statuses.
const (
	UploadStatusTransfer  UploadStatus = "transfer"
	UploadStatusFinishing UploadStatus = "finishing"
	UploadStatusDone      UploadStatus = "done"
	UploadStatusError     UploadStatus = "error"
)

// ChunkSize and related constants.
const (
	ChunkSize = 5 * 1024 * 1024 // 5 MiB
	MaxParts  = 10000
)

// EffectiveChunkSize computes the chunk size for a file of the given total
// size, enlarging beyond ChunkSize only when needed to stay under the
// service's MaxParts cap.
func EffectiveChunkSize(size int64) int64 {
	if size <= 0 {
		return ChunkSize
	}

	minChunk := (size + MaxParts - 1) / MaxParts
	if minChunk > ChunkSize {
		return minChunk
	}

	return ChunkSize
}

// ProgressFunc is invoked after each chunk transfer completes. bytesTransferred
// is cumulative; totalBytes is the full transfer size. Must be safe to call
// from any worker goroutine.
type ProgressFunc func(bytesTransferred, totalBytes int64)

// NoopProgress is the no-op default progress callback; it holds no state,
// so it is safe to call from any goroutine.
func NoopProgress(int64, int64) {}

// ListParams controls a single page request.
type ListParams struct {
	Offset uint64
	Limit  uint32 // <= 500, default 500
	Filter string // pipe-separated field:op:value tuples
	Sort   string // pipe-separated field:order tuples
	All    bool   // when true, the Pager fetches every page
}

// MaxPageSize is the service's page-size cap.
const MaxPageSize = 500

// DefaultListParams returns offset 0, limit 500, All true.
func DefaultListParams() ListParams {
	return ListParams{Limit: MaxPageSize, All: true}
}

// Range describes one page's position within the full collection.
type Range struct {
	Offset uint64 `json:"offset"`
	Limit  uint32 `json:"limit"`
	Total  uint64 `json:"total"`
}

// RangedItems is a single page of T plus its Range.
type RangedItems[T any] struct {
	Range Range `json:"range"`
	Items []T   `json:"items"`
}

// WrappedFileKey is a per-file symmetric key wrapped for one recipient's
// public key, together with the GCM nonce and auth tag of the sealed
// object (the stored ciphertext carries neither). The wrapping/unwrapping
// math itself lives behind the Provider interface in internal/crypto.
type WrappedFileKey struct {
	Key     string `json:"key"`
	IV      string `json:"iv"`
	Tag     string `json:"tag"`
	Version string `json:"version"`
}

// UserKeyPairContainer is an account's RSA keypair as stored by the service:
// the public key in the clear, the private key PEM-encoded and encrypted
// under the account's crypto passphrase.
type UserKeyPairContainer struct {
	PrivateKeyContainer PrivateKeyContainer `json:"privateKeyContainer"`
	PublicKeyContainer  PublicKeyInfo       `json:"publicKeyContainer"`
}

// PrivateKeyContainer is the encrypted-at-rest half of an account's keypair.
type PrivateKeyContainer struct {
	Version    string `json:"version"`
	PrivateKey string `json:"privateKey"`
}
