// Package treewalk implements recursive container upload and download:
// folders are created/enumerated breadth-first one depth level at a time,
// then every file at every depth is transferred through a bounded worker
// pool.
package treewalk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	gosync "sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/dracoon-go/internal/crypto"
	"github.com/tonimelisma/dracoon-go/internal/dracoon"
	"github.com/tonimelisma/dracoon-go/internal/transfer"
)

// defaultFileWorkers is the per-velocity-unit file-transfer concurrency:
// the pool size is velocity * defaultFileWorkers. Folder creation and
// remote enumeration use the fixed dracoon.DefaultMaxConcurrentRequests
// cap instead, not scaled by velocity.
const defaultFileWorkers = 5

// Walker drives recursive uploads/downloads against a NodeService and a
// transfer.Engine. One Walker is safe to reuse across many invocations; it
// holds no per-call state.
type Walker struct {
	nodes        *dracoon.NodeService
	engine       *transfer.Engine
	logger       *slog.Logger
	velocity     int
	passphraseFn func() (string, error)
}

// New builds a Walker. velocity (1-10) scales the file worker pool size;
// 0 selects the default.
func New(nodes *dracoon.NodeService, engine *transfer.Engine, logger *slog.Logger, velocity int) *Walker {
	if logger == nil {
		logger = slog.Default()
	}

	if velocity <= 0 {
		velocity = 1
	}

	return &Walker{nodes: nodes, engine: engine, logger: logger, velocity: velocity}
}

// SetPassphraseFunc installs the callback used to obtain the account's
// crypto passphrase the first time a recursive download encounters an
// encrypted file. Trees containing no encrypted files never call it.
func (w *Walker) SetPassphraseFunc(fn func() (string, error)) {
	w.passphraseFn = fn
}

func (w *Walker) folderWorkers() int { return dracoon.DefaultMaxConcurrentRequests }
func (w *Walker) fileWorkers() int   { return defaultFileWorkers * w.velocity }

// localEntry is one file or directory discovered while walking a local tree.
type localEntry struct {
	relPath string // relative to the upload root, "" at the root itself
	isDir   bool
	size    int64
}

// UploadTree uploads localRoot's entire contents under remoteParentID,
// creating any missing remote folders along the way. Folder creation is idempotent: a 409 Conflict on an existing
// folder is resolved by looking up the existing node, so repeated uploads
// of the same tree never fail on "already exists".
//
// encrypted signals that remoteParentID sits in an encrypted room: every
// file gets its own freshly generated symmetric key, wrapped for the
// uploading account. One shared key across the whole tree would defeat
// the per-file encryption boundary.
func (w *Walker) UploadTree(
	ctx context.Context, localRoot string, remoteParentID uint64, opts dracoon.UploadOptions, encrypted bool,
) error {
	runID := uuid.New().String()
	w.logger.Info("starting tree upload", slog.String("run_id", runID), slog.String("local_root", localRoot))

	entries, err := scanLocalTree(localRoot)
	if err != nil {
		return fmt.Errorf("treewalk: scanning %s: %w", localRoot, err)
	}

	byDepth := groupByDepth(entries)

	folderIDs := gosync.Map{} // relPath -> uint64 node id
	folderIDs.Store("", remoteParentID)

	maxDepth := 0
	for depth := range byDepth {
		if depth > maxDepth {
			maxDepth = depth
		}
	}

	for depth := 0; depth <= maxDepth; depth++ {
		dirsAtDepth := filterDirs(byDepth[depth])
		if len(dirsAtDepth) == 0 {
			continue
		}

		if err := w.createFoldersAtDepth(ctx, dirsAtDepth, &folderIDs); err != nil {
			return err
		}
	}

	var files []localEntry

	for _, group := range byDepth {
		for _, e := range group {
			if !e.isDir {
				files = append(files, e)
			}
		}
	}

	var keypair *dracoon.UserKeyPairContainer

	if encrypted {
		if w.engine.Provider() == nil {
			return fmt.Errorf("treewalk: encrypted upload requires a crypto provider")
		}

		keypair, err = w.nodes.GetUserKeyPair(ctx)
		if err != nil {
			return fmt.Errorf("treewalk: fetching account keypair for encrypted upload: %w", err)
		}
	}

	return w.uploadFiles(ctx, localRoot, files, &folderIDs, opts, keypair)
}

func (w *Walker) createFoldersAtDepth(ctx context.Context, dirs []localEntry, folderIDs *gosync.Map) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.folderWorkers())

	for i := range dirs {
		dir := dirs[i]

		g.Go(func() error {
			parentRel := filepath.Dir(dir.relPath)
			if parentRel == "." {
				parentRel = ""
			}

			parentIDVal, ok := folderIDs.Load(parentRel)
			if !ok {
				return fmt.Errorf("treewalk: parent folder %q not yet created", parentRel)
			}

			parentID := parentIDVal.(uint64) //nolint:forcetypeassert // populated exclusively by this function

			node, err := w.nodes.CreateFolder(gctx, parentID, filepath.Base(dir.relPath))
			if err != nil {
				if errors.Is(err, dracoon.ErrConflict) {
					node, err = w.resolveExistingFolder(gctx, parentID, filepath.Base(dir.relPath))
				}

				if err != nil {
					return fmt.Errorf("treewalk: creating folder %q: %w", dir.relPath, err)
				}
			}

			folderIDs.Store(dir.relPath, node.ID)

			return nil
		})
	}

	return g.Wait() //nolint:wrapcheck // errgroup already carries enough context
}

func (w *Walker) resolveExistingFolder(ctx context.Context, parentID uint64, name string) (*dracoon.Node, error) {
	var depth int

	result, err := w.nodes.SearchNodes(ctx, name, &parentID, &depth, dracoon.ListParams{Limit: dracoon.MaxPageSize})
	if err != nil {
		return nil, err
	}

	for i := range result.Items {
		if result.Items[i].Name == name {
			return &result.Items[i], nil
		}
	}

	return nil, fmt.Errorf("%w: folder %q not found after conflict", dracoon.ErrNotFound, name)
}

func (w *Walker) uploadFiles(
	ctx context.Context, localRoot string, files []localEntry, folderIDs *gosync.Map,
	opts dracoon.UploadOptions, keypair *dracoon.UserKeyPairContainer,
) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.fileWorkers())

	for i := range files {
		file := files[i]

		g.Go(func() error {
			parentRel := filepath.Dir(file.relPath)
			if parentRel == "." {
				parentRel = ""
			}

			parentIDVal, ok := folderIDs.Load(parentRel)
			if !ok {
				return fmt.Errorf("treewalk: parent folder %q not found for file %q", parentRel, file.relPath)
			}

			parentID := parentIDVal.(uint64) //nolint:forcetypeassert // populated exclusively by createFoldersAtDepth

			f, err := transfer.OpenForRead(filepath.Join(localRoot, file.relPath))
			if err != nil {
				return err
			}
			defer f.Close()

			var encKey *crypto.FileKey

			var recipient *dracoon.PublicKeyInfo

			if keypair != nil {
				key, keyErr := w.engine.Provider().GenerateFileKey()
				if keyErr != nil {
					return fmt.Errorf("treewalk: preparing encryption for %q: %w", file.relPath, keyErr)
				}

				encKey = &key
				recipient = &keypair.PublicKeyContainer
			}

			_, err = w.engine.Upload(gctx, transfer.UploadRequest{
				ParentID:      parentID,
				Meta:          dracoon.FileMeta{Name: filepath.Base(file.relPath), Size: uint64(file.size)},
				Options:       opts,
				Source:        f,
				EncryptionKey: encKey,
				RecipientKey:  recipient,
			})
			if err != nil {
				return fmt.Errorf("treewalk: uploading %q: %w", file.relPath, err)
			}

			return nil
		})
	}

	return g.Wait() //nolint:wrapcheck // errgroup already carries enough context
}

func scanLocalTree(root string) ([]localEntry, error) {
	var entries []localEntry

	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}

		if rel == "." {
			return nil
		}

		entries = append(entries, localEntry{relPath: rel, isDir: info.IsDir(), size: info.Size()})

		return nil
	})
	if err != nil {
		return nil, err //nolint:wrapcheck // caller adds context
	}

	return entries, nil
}

func groupByDepth(entries []localEntry) map[int][]localEntry {
	byDepth := make(map[int][]localEntry)

	for _, e := range entries {
		depth := countSeparators(e.relPath)
		byDepth[depth] = append(byDepth[depth], e)
	}

	return byDepth
}

func countSeparators(relPath string) int {
	count := 0

	for _, r := range relPath {
		if r == filepath.Separator {
			count++
		}
	}

	return count
}

func filterDirs(entries []localEntry) []localEntry {
	var dirs []localEntry

	for _, e := range entries {
		if e.isDir {
			dirs = append(dirs, e)
		}
	}

	return dirs
}

// RemoteFileEntry is one file discovered while walking a remote container.
type RemoteFileEntry struct {
	RelPath string
	Node    dracoon.Node
}

// DownloadTree mirrors remoteParentID's files into localRoot. Local
// directories are created only for the paths of downloaded files, so a
// remote folder with no file anywhere beneath it is not recreated.
// Nested rooms are skipped by default — a room's own permission boundary
// means it is not implicitly included in a parent container's recursive
// download — unless includeRooms is set, in which case a nested room is
// descended into exactly like a folder.
func (w *Walker) DownloadTree(ctx context.Context, remoteParentID uint64, localRoot string, includeRooms bool) error {
	runID := uuid.New().String()
	w.logger.Info("starting tree download", slog.String("run_id", runID), slog.String("local_root", localRoot),
		slog.Bool("include_rooms", includeRooms))

	files, err := w.enumerateRemoteTree(ctx, remoteParentID, includeRooms)
	if err != nil {
		return err
	}

	dirs := map[string]bool{"": true}

	for _, f := range files {
		dirs[filepath.Dir(f.RelPath)] = true
	}

	for dir := range dirs {
		if dir == "" || dir == "." {
			continue
		}

		if err := os.MkdirAll(filepath.Join(localRoot, dir), 0o755); err != nil { //nolint:gosec // standard tree layout
			return fmt.Errorf("treewalk: creating local directory %q: %w", dir, err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.fileWorkers())

	dc := &downloadCrypto{}

	for i := range files {
		file := files[i]

		g.Go(func() error {
			return w.downloadOne(gctx, localRoot, file, dc)
		})
	}

	return g.Wait() //nolint:wrapcheck // errgroup already carries enough context
}

// downloadCrypto lazily resolves, once per recursive download, the
// decrypting account's keypair and passphrase the first time an encrypted
// file is encountered; trees with no encrypted files
// never touch it.
type downloadCrypto struct {
	once       gosync.Once
	keypair    *dracoon.UserKeyPairContainer
	passphrase string
	err        error
}

func (w *Walker) resolveDownloadCrypto(ctx context.Context, dc *downloadCrypto) error {
	dc.once.Do(func() {
		if w.passphraseFn == nil {
			dc.err = fmt.Errorf("treewalk: encrypted file encountered but no passphrase source configured")
			return
		}

		kp, err := w.nodes.GetUserKeyPair(ctx)
		if err != nil {
			dc.err = fmt.Errorf("fetching account keypair: %w", err)
			return
		}

		passphrase, err := w.passphraseFn()
		if err != nil {
			dc.err = fmt.Errorf("reading passphrase: %w", err)
			return
		}

		dc.keypair = kp
		dc.passphrase = passphrase
	})

	return dc.err
}

func (w *Walker) downloadOne(ctx context.Context, localRoot string, file RemoteFileEntry, dc *downloadCrypto) error {
	dest := filepath.Join(localRoot, file.RelPath)

	f, err := os.Create(dest) //nolint:gosec // destination path is derived from the remote tree under localRoot
	if err != nil {
		return fmt.Errorf("treewalk: creating %q: %w", dest, err)
	}
	defer f.Close()

	size := int64(0)
	if file.Node.Size != nil {
		size = int64(*file.Node.Size)
	}

	var decKey *crypto.FileKey

	if file.Node.IsEncrypted != nil && *file.Node.IsEncrypted {
		decKey, err = w.resolveFileDecryptionKey(ctx, dc, file.Node.ID)
		if err != nil {
			return fmt.Errorf("treewalk: preparing decryption for %q: %w", file.RelPath, err)
		}
	}

	if err := w.engine.Download(ctx, transfer.DownloadRequest{
		FileID:        file.Node.ID,
		Size:          size,
		Destination:   f,
		DecryptionKey: decKey,
	}); err != nil {
		return fmt.Errorf("treewalk: downloading %q: %w", file.RelPath, err)
	}

	return nil
}

func (w *Walker) resolveFileDecryptionKey(ctx context.Context, dc *downloadCrypto, fileID uint64) (*crypto.FileKey, error) {
	if err := w.resolveDownloadCrypto(ctx, dc); err != nil {
		return nil, err
	}

	provider := w.engine.Provider()
	if provider == nil {
		return nil, fmt.Errorf("no crypto provider configured")
	}

	wrapped, err := w.nodes.GetUserFileKey(ctx, fileID)
	if err != nil {
		return nil, fmt.Errorf("fetching user file key: %w", err)
	}

	key, err := provider.UnwrapFileKey(*wrapped, []byte(dc.keypair.PrivateKeyContainer.PrivateKey), dc.passphrase)
	if err != nil {
		return nil, fmt.Errorf("unwrapping file key: %w", err)
	}

	return &key, nil
}

// enumerateRemoteTree lists every file under rootID breadth-first, one
// depth level at a time. By default any child that is itself a room is
// skipped; includeRooms descends into nested rooms exactly like a folder
// instead. All folder listings within a level share one bounded worker
// pool, and levels run strictly in sequence, so at most folderWorkers
// folders are listed at once regardless of tree depth. Each listing pages
// through ListAllNodes, which fetches a folder's later pages concurrently,
// so a folder with more than one page of children adds page requests
// beyond that count.
func (w *Walker) enumerateRemoteTree(ctx context.Context, rootID uint64, includeRooms bool) ([]RemoteFileEntry, error) {
	type dirEntry struct {
		id      uint64
		relPath string
	}

	var files []RemoteFileEntry

	level := []dirEntry{{id: rootID, relPath: ""}}

	for len(level) > 0 {
		results := make([][]dracoon.Node, len(level))

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(w.folderWorkers())

		for i, dir := range level {
			g.Go(func() error {
				children, err := w.nodes.ListAllNodes(gctx, &dir.id, dracoon.DefaultListParams())
				if err != nil {
					return fmt.Errorf("treewalk: listing %q: %w", dir.relPath, err)
				}

				results[i] = children

				return nil
			})
		}

		if err := g.Wait(); err != nil {
			return nil, err //nolint:wrapcheck // listing already carries context
		}

		var next []dirEntry

		for i, dir := range level {
			for _, child := range results[i] {
				switch child.Type {
				case dracoon.NodeTypeFile:
					files = append(files, RemoteFileEntry{RelPath: filepath.Join(dir.relPath, child.Name), Node: child})
				case dracoon.NodeTypeFolder:
					next = append(next, dirEntry{id: child.ID, relPath: filepath.Join(dir.relPath, child.Name)})
				case dracoon.NodeTypeRoom:
					if includeRooms {
						next = append(next, dirEntry{id: child.ID, relPath: filepath.Join(dir.relPath, child.Name)})
						continue
					}

					w.logger.Debug("skipping nested room during recursive download",
						slog.String("name", child.Name), slog.Uint64("id", child.ID))
				}
			}
		}

		level = next
	}

	return files, nil
}
