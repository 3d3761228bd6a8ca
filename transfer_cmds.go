package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/tonimelisma/dracoon-go/internal/credstore"
	"github.com/tonimelisma/dracoon-go/internal/crypto"
	"github.com/tonimelisma/dracoon-go/internal/dracoon"
	"github.com/tonimelisma/dracoon-go/internal/transfer"
)

func newUploadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "upload <local-path> <remote-path>",
		Short: "Upload a file or directory tree",
		Args:  cobra.ExactArgs(2),
		RunE:  runUpload,
	}
}

func runUpload(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	localPath, remotePath := args[0], args[1]

	_, nodes, engine, walker, provider, err := cc.Connect(ctx, transferHTTPClient())
	if err != nil {
		return err
	}

	info, err := os.Stat(localPath)
	if err != nil {
		return fmt.Errorf("stat %s: %w", localPath, err)
	}

	parentNode, err := resolveParentNode(ctx, nodes, remotePath)
	if err != nil {
		return err
	}

	var parentID uint64
	if parentNode != nil {
		parentID = parentNode.ID
	}

	opts := dracoon.DefaultUploadOptions()

	encrypted, encErr := nodeIsEncrypted(ctx, nodes, parentNode)
	if encErr != nil {
		return encErr
	}

	if info.IsDir() {
		if err := walker.UploadTree(ctx, localPath, parentID, opts, encrypted); err != nil {
			return fmt.Errorf("uploading tree %s: %w", localPath, err)
		}

		fmt.Printf("Uploaded %s\n", localPath)

		return nil
	}

	var encKey *crypto.FileKey

	var recipient *dracoon.PublicKeyInfo

	if encrypted {
		key, pub, keyErr := prepareUploadEncryption(ctx, nodes, provider)
		if keyErr != nil {
			return fmt.Errorf("preparing encrypted upload: %w", keyErr)
		}

		encKey = &key
		recipient = pub
	}

	return uploadSingleFile(ctx, engine, localPath, parentID, info, opts, encKey, recipient)
}

func uploadSingleFile(
	ctx context.Context, engine *transfer.Engine, localPath string, parentID uint64,
	info os.FileInfo, opts dracoon.UploadOptions, encKey *crypto.FileKey, recipient *dracoon.PublicKeyInfo,
) error {
	f, err := transfer.OpenForRead(localPath)
	if err != nil {
		return err
	}
	defer f.Close()

	mtime := info.ModTime()

	node, err := engine.Upload(ctx, transfer.UploadRequest{
		ParentID: parentID,
		Meta: dracoon.FileMeta{
			Name:                  filepath.Base(localPath),
			Size:                  uint64(info.Size()), //nolint:gosec // file sizes are always non-negative
			TimestampModification: &mtime,
		},
		Options:       opts,
		Source:        f,
		EncryptionKey: encKey,
		RecipientKey:  recipient,
		Progress:      newProgressPrinter(filepath.Base(localPath)),
	})
	if err != nil {
		return fmt.Errorf("uploading %s: %w", localPath, err)
	}

	fmt.Printf("\nUploaded %s (id %d)\n", node.Name, node.ID)

	return nil
}

// resolveParentNode resolves remotePath's parent container to a Node, or nil
// when the destination sits directly under the root (which cannot itself be
// encrypted).
func resolveParentNode(ctx context.Context, nodes *dracoon.NodeService, remotePath string) (*dracoon.Node, error) {
	parentID, _, err := nodeParentAndName(ctx, nodes, remotePath)
	if err != nil {
		return nil, err
	}

	if parentID == 0 {
		return nil, nil
	}

	return nodes.GetNode(ctx, parentID)
}

// nodeIsEncrypted reports whether node (or nil, meaning root) sits in an
// encrypted room.
func nodeIsEncrypted(_ context.Context, _ *dracoon.NodeService, node *dracoon.Node) (bool, error) {
	if node == nil {
		return false, nil
	}

	return node.IsEncrypted != nil && *node.IsEncrypted, nil
}

// prepareUploadEncryption generates a fresh file key and resolves the
// uploading account's own public key as the wrap recipient. The engine
// wraps the key itself at completion time, once the whole stream's auth
// tag is known. RoomUsers remains available on NodeService for a future
// multi-recipient wrap.
func prepareUploadEncryption(ctx context.Context, nodes *dracoon.NodeService, provider crypto.Provider) (crypto.FileKey, *dracoon.PublicKeyInfo, error) {
	if provider == nil {
		return crypto.FileKey{}, nil, fmt.Errorf("no crypto provider configured")
	}

	keypair, err := nodes.GetUserKeyPair(ctx)
	if err != nil {
		return crypto.FileKey{}, nil, fmt.Errorf("fetching account keypair: %w", err)
	}

	key, err := provider.GenerateFileKey()
	if err != nil {
		return crypto.FileKey{}, nil, fmt.Errorf("generating file key: %w", err)
	}

	return key, &keypair.PublicKeyContainer, nil
}

// prepareDownloadDecryption fetches the calling account's wrapped file key
// for fileID and unwraps it with the account's own private key, prompting
// for the crypto passphrase when none is stored.
func prepareDownloadDecryption(
	ctx context.Context, cc *CLIContext, nodes *dracoon.NodeService, provider crypto.Provider, fileID uint64,
) (*crypto.FileKey, error) {
	if provider == nil {
		return nil, fmt.Errorf("no crypto provider configured")
	}

	wrapped, err := nodes.GetUserFileKey(ctx, fileID)
	if err != nil {
		return nil, fmt.Errorf("fetching user file key: %w", err)
	}

	keypair, err := nodes.GetUserKeyPair(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching account keypair: %w", err)
	}

	passphrase, err := cryptoPassphrase(cc)
	if err != nil {
		return nil, err
	}

	key, err := provider.UnwrapFileKey(*wrapped, []byte(keypair.PrivateKeyContainer.PrivateKey), passphrase)
	if err != nil {
		return nil, fmt.Errorf("unwrapping file key: %w", err)
	}

	return &key, nil
}

// cryptoPassphrase returns the account's stored encryption passphrase,
// prompting and persisting it on first use.
func cryptoPassphrase(cc *CLIContext) (string, error) {
	store, err := credstore.Open()
	if err != nil {
		return "", fmt.Errorf("opening credential store: %w", err)
	}

	passphrase, err := store.GetCryptoPassphrase(cc.targetURL, cc.account)
	if err == nil {
		return passphrase, nil
	}

	fmt.Print("Encryption passphrase: ")

	passphrase, err = readPassword()
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}

	if setErr := store.SetCryptoPassphrase(cc.targetURL, cc.account, passphrase); setErr != nil {
		cc.Logger.Warn("failed to persist crypto passphrase", "error", setErr)
	}

	return passphrase, nil
}

func newDownloadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "download <remote-path> <local-path>",
		Short: "Download a file or container tree",
		Args:  cobra.ExactArgs(2),
		RunE:  runDownload,
	}

	cmd.Flags().Bool("include-rooms", false,
		"descend into nested rooms during a recursive download (default: skip them)")

	return cmd
}

func runDownload(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	remotePath, localPath := args[0], args[1]

	_, nodes, engine, walker, provider, err := cc.Connect(ctx, transferHTTPClient())
	if err != nil {
		return err
	}

	node, err := nodes.GetNodeFromPath(ctx, remotePath)
	if err != nil {
		return err
	}

	if node == nil {
		return fmt.Errorf("%w: %s", dracoon.ErrNotFound, remotePath)
	}

	if node.Type == dracoon.NodeTypeFile {
		return downloadSingleFile(ctx, cc, nodes, engine, provider, *node, localPath)
	}

	if err := os.MkdirAll(localPath, 0o755); err != nil { //nolint:gosec // standard tree layout
		return fmt.Errorf("creating %s: %w", localPath, err)
	}

	walker.SetPassphraseFunc(func() (string, error) { return cryptoPassphrase(cc) })

	includeRooms, _ := cmd.Flags().GetBool("include-rooms")

	if err := walker.DownloadTree(ctx, node.ID, localPath, includeRooms); err != nil {
		return fmt.Errorf("downloading tree %s: %w", remotePath, err)
	}

	fmt.Printf("Downloaded %s to %s\n", remotePath, localPath)

	return nil
}

func downloadSingleFile(
	ctx context.Context, cc *CLIContext, nodes *dracoon.NodeService, engine *transfer.Engine,
	provider crypto.Provider, node dracoon.Node, localPath string,
) error {
	info, statErr := os.Stat(localPath)
	if statErr == nil && info.IsDir() {
		localPath = filepath.Join(localPath, node.Name)
	}

	out, err := os.Create(localPath) //nolint:gosec // path supplied by interactive CLI user
	if err != nil {
		return fmt.Errorf("creating %s: %w", localPath, err)
	}
	defer out.Close()

	var size int64
	if node.Size != nil {
		size = int64(*node.Size)
	}

	var decKey *crypto.FileKey

	if node.IsEncrypted != nil && *node.IsEncrypted {
		decKey, err = prepareDownloadDecryption(ctx, cc, nodes, provider, node.ID)
		if err != nil {
			return fmt.Errorf("preparing decryption for %s: %w", node.Name, err)
		}
	}

	if err := engine.Download(ctx, transfer.DownloadRequest{
		FileID:        node.ID,
		Size:          size,
		Destination:   out,
		DecryptionKey: decKey,
		Progress:      newProgressPrinter(node.Name),
	}); err != nil {
		return fmt.Errorf("downloading %s: %w", node.Name, err)
	}

	fmt.Printf("\nDownloaded %s\n", localPath)

	return nil
}

func newProgressPrinter(name string) dracoon.ProgressFunc {
	if flagQuiet || !isatty.IsTerminal(os.Stdout.Fd()) {
		return dracoon.NoopProgress
	}

	return func(transferred, total int64) {
		fmt.Printf("\r%s: %s / %s", name, humanize.Bytes(uint64(transferred)), humanize.Bytes(uint64(total))) //nolint:gosec // transferred/total are always non-negative
	}
}
