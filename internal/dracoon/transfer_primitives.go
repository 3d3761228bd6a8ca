package dracoon

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// This file holds the raw chunked-upload / chunked-download wire protocol
// against presigned S3 URLs. The orchestration that drives it
// end-to-end — chunking a local reader, reporting progress, optional
// encryption — lives one layer up in internal/transfer; this file only
// knows how to talk to the wire. Retrying a transient part or range
// failure happens here, through Client.DoPreAuth.

type createUploadChannelRequest struct {
	ParentID              uint64             `json:"parentId"`
	Name                  string             `json:"name"`
	Size                  *uint64            `json:"size,omitempty"`
	Classification        uint8              `json:"classification,omitempty"`
	ResolutionStrategy    ResolutionStrategy `json:"resolutionStrategy,omitempty"`
	Expiration            *time.Time         `json:"expiration,omitempty"`
	TimestampCreation     *time.Time         `json:"timestampCreation,omitempty"`
	TimestampModification *time.Time         `json:"timestampModification,omitempty"`
	DirectS3Upload        bool               `json:"direct_S3_upload"`
}

// CreateUploadChannel opens a new chunked upload. The file key, when the target room is encrypted,
// is attached at completion time instead (step 3), not here — the server
// does not know the final ciphertext's auth tag until every chunk has been
// uploaded.
func (s *NodeService) CreateUploadChannel(ctx context.Context, parentID uint64, meta FileMeta, opts UploadOptions) (*UploadChannel, error) {
	req := createUploadChannelRequest{
		ParentID:              parentID,
		Name:                  meta.Name,
		Size:                  &meta.Size,
		Classification:        opts.Classification,
		ResolutionStrategy:    opts.ResolutionStrategy,
		Expiration:            opts.Expiration,
		TimestampCreation:     meta.TimestampCreation,
		TimestampModification: meta.TimestampModification,
		DirectS3Upload:        true,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("dracoon: marshaling upload-channel request: %w", err)
	}

	resp, err := s.client.Do(ctx, http.MethodPost, "/nodes/files/uploads", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var ch UploadChannel
	if decErr := json.NewDecoder(resp.Body).Decode(&ch); decErr != nil {
		return nil, fmt.Errorf("dracoon: decoding upload channel: %w", decErr)
	}

	return &ch, nil
}

type s3UrlsRequest struct {
	FirstPartNumber uint32 `json:"firstPartNumber"`
	LastPartNumber  uint32 `json:"lastPartNumber"`
	Size            uint64 `json:"size"`
}

type s3UrlsResponse struct {
	URLs []PresignedURL `json:"urls"`
}

// AllocatePresignedURLs requests presigned S3 PUT URLs for the part range
// [firstPart, lastPart] of an upload channel. size is the byte length covered by the
// range (needed by the server to size the signed URLs correctly for the
// last, possibly short, part).
func (s *NodeService) AllocatePresignedURLs(
	ctx context.Context, uploadID string, firstPart, lastPart uint32, size uint64,
) ([]PresignedURL, error) {
	body, err := json.Marshal(s3UrlsRequest{FirstPartNumber: firstPart, LastPartNumber: lastPart, Size: size})
	if err != nil {
		return nil, fmt.Errorf("dracoon: marshaling s3_urls request: %w", err)
	}

	resp, err := s.client.Do(ctx, http.MethodPost, fmt.Sprintf("/nodes/files/uploads/%s/s3_urls", uploadID), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out s3UrlsResponse
	if decErr := json.NewDecoder(resp.Body).Decode(&out); decErr != nil {
		return nil, fmt.Errorf("dracoon: decoding presigned urls: %w", decErr)
	}

	return out.URLs, nil
}

// UploadPart PUTs one chunk directly to a presigned S3 URL and returns the
// ETag the store assigned it. This bypasses Client's
// JSON request path entirely — presigned URLs carry their own auth in the
// query string and must never receive an Authorization header or
// APIPrefix — but it still goes through Client.DoPreAuth for the same
// exponential-backoff retry on transient network/5xx errors as every other
// request, since chunk PUTs are the highest-byte-volume, longest-duration
// requests in the system and the ones most exposed to transient failures.
func (s *NodeService) UploadPart(ctx context.Context, presignedURL string, chunk io.ReadSeeker, size int64) (FilePart, error) {
	resp, err := s.client.DoPreAuth(ctx, http.MethodPut, presignedURL, chunk, size, nil)
	if err != nil {
		return FilePart{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return FilePart{}, decodeS3Error(resp.StatusCode, resp.Body)
	}

	etag := strings.Trim(resp.Header.Get("ETag"), `"`)
	if etag == "" {
		return FilePart{}, fmt.Errorf("dracoon: s3 response missing ETag header")
	}

	return FilePart{ETag: etag}, nil
}

type completeUploadRequest struct {
	Parts              []FilePart         `json:"parts"`
	ResolutionStrategy ResolutionStrategy `json:"resolutionStrategy,omitempty"`
	KeepShareLinks     bool               `json:"keepShareLinks"`
	FileName           string             `json:"fileName,omitempty"`
	FileKey            *WrappedFileKey    `json:"fileKey,omitempty"`
}

// CompleteUpload signals that all parts have been uploaded and the server
// should assemble and validate them. fileName re-asserts the intended name on
// rename/overwrite conflicts; opts.FileKey carries the wrapped per-file key
// for the calling account's own recipient entry when the target room is
// encrypted.
func (s *NodeService) CompleteUpload(ctx context.Context, uploadID string, parts []FilePart, fileName string, opts UploadOptions) error {
	req := completeUploadRequest{
		Parts:              parts,
		ResolutionStrategy: opts.ResolutionStrategy,
		KeepShareLinks:     opts.KeepShareLinks,
		FileName:           fileName,
		FileKey:            opts.FileKey,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("dracoon: marshaling complete-upload request: %w", err)
	}

	resp, err := s.client.Do(ctx, http.MethodPut, fmt.Sprintf("/nodes/files/uploads/%s/s3", uploadID), bytes.NewReader(body))
	if err != nil {
		return err
	}

	return resp.Body.Close()
}

type uploadPollResponse struct {
	Status   UploadStatus `json:"status"`
	Node     *Node        `json:"node,omitempty"`
	ErrorMsg string       `json:"errorDetails,omitempty"`
}

// UploadPollResult is the outcome of polling an in-progress upload.
type UploadPollResult struct {
	Status UploadStatus
	Node   *Node
}

// PollUploadStatus reads the current status of an upload channel. Callers poll this on an
// interval until Status is UploadStatusDone or UploadStatusError.
func (s *NodeService) PollUploadStatus(ctx context.Context, uploadID string) (UploadPollResult, error) {
	resp, err := s.client.Do(ctx, http.MethodGet, fmt.Sprintf("/nodes/files/uploads/%s", uploadID), nil)
	if err != nil {
		return UploadPollResult{}, err
	}
	defer resp.Body.Close()

	var out uploadPollResponse
	if decErr := json.NewDecoder(resp.Body).Decode(&out); decErr != nil {
		return UploadPollResult{}, fmt.Errorf("dracoon: decoding upload status: %w", decErr)
	}

	if out.Status == UploadStatusError {
		return UploadPollResult{Status: out.Status}, fmt.Errorf("dracoon: upload %s failed: %s", uploadID, out.ErrorMsg)
	}

	return UploadPollResult{Status: out.Status, Node: out.Node}, nil
}

// CancelUpload aborts an in-progress chunked upload (DELETE
// /nodes/files/uploads/{id}). The transfer engine does not call it: a
// failed upload returns its error and leaves the channel open.
func (s *NodeService) CancelUpload(ctx context.Context, uploadID string) error {
	resp, err := s.client.Do(ctx, http.MethodDelete, fmt.Sprintf("/nodes/files/uploads/%s", uploadID), nil)
	if err != nil {
		return err
	}

	return resp.Body.Close()
}

type downloadURLResponse struct {
	DownloadURL string `json:"downloadUrl"`
}

// RequestDownloadURL obtains a presigned, time-limited download URL for a
// file node.
func (s *NodeService) RequestDownloadURL(ctx context.Context, fileID uint64) (string, error) {
	resp, err := s.client.Do(ctx, http.MethodPost, fmt.Sprintf("/nodes/files/%d/downloads", fileID), nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out downloadURLResponse
	if decErr := json.NewDecoder(resp.Body).Decode(&out); decErr != nil {
		return "", fmt.Errorf("dracoon: decoding download url: %w", decErr)
	}

	return out.DownloadURL, nil
}

// DownloadRange streams a byte range [start, end) of a presigned download
// URL. end == 0 means "to EOF". The
// request itself retries on transient network/5xx errors via
// Client.DoPreAuth, the same backoff policy as every other request; once
// the body starts streaming, a mid-stream error is surfaced to the caller
// unchanged: only establishing the connection is retried, not partial
// reads — there is no resume. The caller owns closing the returned body.
func (s *NodeService) DownloadRange(ctx context.Context, downloadURL string, start, end int64) (io.ReadCloser, int64, error) {
	var extraHeaders http.Header

	if start > 0 || end > 0 {
		rangeHeader := fmt.Sprintf("bytes=%d-", start)
		if end > 0 {
			rangeHeader = fmt.Sprintf("bytes=%d-%d", start, end-1)
		}

		extraHeaders = http.Header{"Range": []string{rangeHeader}}
	}

	resp, err := s.client.DoPreAuth(ctx, http.MethodGet, downloadURL, nil, 0, extraHeaders)
	if err != nil {
		return nil, 0, err
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		defer resp.Body.Close()
		return nil, 0, decodeS3Error(resp.StatusCode, resp.Body)
	}

	return resp.Body, resp.ContentLength, nil
}
