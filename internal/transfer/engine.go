// Package transfer implements the single-file upload and download
// primitives: chunking a local file
// against the chunked-upload wire protocol, or a remote file against the
// ranged-download wire protocol, with progress reporting and optional
// client-side encryption.
package transfer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/tonimelisma/dracoon-go/internal/crypto"
	"github.com/tonimelisma/dracoon-go/internal/dracoon"
)

// Engine drives single-file transfers against a NodeService. It holds no
// per-transfer state, so one Engine is reused across an entire recursive
// upload or download.
type Engine struct {
	nodes   *dracoon.NodeService
	crypto  crypto.Provider // nil disables encryption support
	logger  *slog.Logger
}

// New builds an Engine. provider may be nil if the caller never uploads to
// or downloads from encrypted rooms.
func New(nodes *dracoon.NodeService, provider crypto.Provider, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{nodes: nodes, crypto: provider, logger: logger}
}

// Provider exposes the Engine's crypto.Provider (nil if none was
// configured), so callers orchestrating encryption above the Engine (e.g.
// internal/treewalk's per-file key generation) can reuse the same instance
// instead of constructing a second one.
func (e *Engine) Provider() crypto.Provider {
	return e.crypto
}

// UploadRequest describes one file to upload.
type UploadRequest struct {
	ParentID uint64
	Meta     dracoon.FileMeta
	Options  dracoon.UploadOptions
	Source   io.ReaderAt
	// EncryptionKey, when set, is the fresh key+nonce the whole file is
	// sealed under. The engine wraps it for RecipientKey at completion
	// time, once the auth tag is known, and attaches the result to the
	// completion payload itself — callers never populate Options.FileKey.
	EncryptionKey *crypto.FileKey
	// RecipientKey is the RSA public key the file key is wrapped for.
	// Required when EncryptionKey is set.
	RecipientKey *dracoon.PublicKeyInfo
	Progress     dracoon.ProgressFunc
}

// Upload performs the full chunked-upload protocol for one file: create
// channel, upload every chunk, complete, then poll until the server reports
// done. An encrypted upload seals the whole file as a single AES-GCM stream
// first; the ciphertext is exactly as long as the plaintext (the tag rides
// in the wrapped file key, not the object), so chunk boundaries and the
// declared upload size are identical on both paths.
func (e *Engine) Upload(ctx context.Context, req UploadRequest) (*dracoon.Node, error) {
	if req.Progress == nil {
		req.Progress = dracoon.NoopProgress
	}

	effectiveSize := int64(req.Meta.Size)
	chunkSize := dracoon.EffectiveChunkSize(effectiveSize)

	if req.EncryptionKey != nil {
		if e.crypto == nil {
			return nil, fmt.Errorf("transfer: encryption requested but no crypto provider configured")
		}

		if req.RecipientKey == nil {
			return nil, fmt.Errorf("transfer: encryption requested but no recipient public key supplied")
		}
	}

	var cipherStream io.Reader

	var authTag []byte

	if req.EncryptionKey != nil {
		var encErr error

		cipherStream, authTag, encErr = e.crypto.EncryptStream(
			io.NewSectionReader(req.Source, 0, effectiveSize), *req.EncryptionKey)
		if encErr != nil {
			return nil, fmt.Errorf("transfer: encrypting upload: %w", encErr)
		}
	}

	channel, err := e.nodes.CreateUploadChannel(ctx, req.ParentID, req.Meta, req.Options)
	if err != nil {
		return nil, fmt.Errorf("transfer: opening upload channel: %w", err)
	}

	var parts []dracoon.FilePart

	var transferred int64

	partNumber := uint32(1)

	for offset := int64(0); offset < effectiveSize || (effectiveSize == 0 && partNumber == 1); {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("transfer: upload canceled: %w", err)
		}

		length := chunkSize
		if remaining := effectiveSize - offset; remaining < length {
			length = remaining
		}

		raw := make([]byte, length)

		var n int

		var readErr error

		if cipherStream != nil {
			n, readErr = io.ReadFull(cipherStream, raw)
			if readErr == io.ErrUnexpectedEOF {
				readErr = io.EOF
			}
		} else {
			n, readErr = req.Source.ReadAt(raw, offset)
		}

		if readErr != nil && readErr != io.EOF {
			return nil, fmt.Errorf("transfer: reading chunk at offset %d: %w", offset, readErr)
		}

		raw = raw[:n]

		urls, err := e.nodes.AllocatePresignedURLs(ctx, channel.UploadID, partNumber, partNumber, uint64(n))
		if err != nil {
			return nil, fmt.Errorf("transfer: allocating presigned url for part %d: %w", partNumber, err)
		}

		if len(urls) != 1 {
			return nil, fmt.Errorf("transfer: expected 1 presigned url, got %d", len(urls))
		}

		part, err := e.nodes.UploadPart(ctx, urls[0].URL, bytesSeeker(raw), int64(n))
		if err != nil {
			return nil, fmt.Errorf("transfer: uploading part %d: %w", partNumber, err)
		}

		part.PartNumber = partNumber
		parts = append(parts, part)

		transferred += int64(n)
		req.Progress(transferred, effectiveSize)

		offset += int64(n)
		partNumber++

		if effectiveSize == 0 {
			break
		}
	}

	opts := req.Options

	if req.EncryptionKey != nil {
		fileKey := *req.EncryptionKey
		fileKey.Tag = authTag

		wrapped, wrapErr := e.crypto.WrapFileKey(fileKey, *req.RecipientKey)
		if wrapErr != nil {
			return nil, fmt.Errorf("transfer: wrapping file key: %w", wrapErr)
		}

		opts.FileKey = &wrapped
	}

	if err := e.nodes.CompleteUpload(ctx, channel.UploadID, parts, req.Meta.Name, opts); err != nil {
		return nil, fmt.Errorf("transfer: completing upload: %w", err)
	}

	return e.pollUntilDone(ctx, channel.UploadID)
}

func (e *Engine) pollUntilDone(ctx context.Context, uploadID string) (*dracoon.Node, error) {
	const pollInterval = 500 * time.Millisecond

	for {
		result, err := e.nodes.PollUploadStatus(ctx, uploadID)
		if err != nil {
			return nil, fmt.Errorf("transfer: polling upload status: %w", err)
		}

		switch result.Status {
		case dracoon.UploadStatusDone:
			return result.Node, nil
		case dracoon.UploadStatusError:
			return nil, fmt.Errorf("transfer: upload %s reported error status", uploadID)
		default:
			if sleepErr := sleepCtx(ctx, pollInterval); sleepErr != nil {
				return nil, fmt.Errorf("transfer: waiting for upload completion: %w", sleepErr)
			}
		}
	}
}

// DownloadRequest describes one file to download.
type DownloadRequest struct {
	FileID        uint64
	Size          int64
	Destination   io.WriterAt
	DecryptionKey *crypto.FileKey
	Progress      dracoon.ProgressFunc
}

// Download performs the full ranged-download protocol for one file: request
// a presigned URL, stream it in chunks to Destination (optionally
// decrypting), reporting progress as it goes.
func (e *Engine) Download(ctx context.Context, req DownloadRequest) error {
	if req.Progress == nil {
		req.Progress = dracoon.NoopProgress
	}

	if req.DecryptionKey != nil && e.crypto == nil {
		return fmt.Errorf("transfer: decryption requested but no crypto provider configured")
	}

	downloadURL, err := e.nodes.RequestDownloadURL(ctx, req.FileID)
	if err != nil {
		return fmt.Errorf("transfer: requesting download url: %w", err)
	}

	body, _, err := e.nodes.DownloadRange(ctx, downloadURL, 0, 0)
	if err != nil {
		return fmt.Errorf("transfer: opening download stream: %w", err)
	}
	defer body.Close()

	var reader io.Reader = body

	if req.DecryptionKey != nil {
		decrypted, decErr := e.crypto.DecryptStream(body, *req.DecryptionKey)
		if decErr != nil {
			return fmt.Errorf("transfer: decrypting download stream: %w", decErr)
		}

		reader = decrypted
	}

	// Fixed-size reads keep the per-worker footprint small; an encrypted
	// download still buffers the whole object inside DecryptStream until
	// the auth tag verifies.
	buf := make([]byte, 64*1024)

	var offset int64

	for {
		n, readErr := reader.Read(buf)
		if n > 0 {
			if _, writeErr := req.Destination.WriteAt(buf[:n], offset); writeErr != nil {
				return fmt.Errorf("transfer: writing at offset %d: %w", offset, writeErr)
			}

			offset += int64(n)
			req.Progress(offset, req.Size)
		}

		if readErr == io.EOF {
			return nil
		}

		if readErr != nil {
			return fmt.Errorf("transfer: reading download stream: %w", readErr)
		}
	}
}

// OpenForRead is a small convenience used by callers that have a path
// rather than an already-open file (the root CLI commands and treewalk).
func OpenForRead(path string) (*os.File, error) {
	f, err := os.Open(path) //nolint:gosec // path supplied by interactive CLI user
	if err != nil {
		return nil, fmt.Errorf("transfer: opening %s: %w", path, err)
	}

	return f, nil
}
