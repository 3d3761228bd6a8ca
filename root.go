package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/dracoon-go/internal/admin"
	"github.com/tonimelisma/dracoon-go/internal/config"
	"github.com/tonimelisma/dracoon-go/internal/credstore"
	"github.com/tonimelisma/dracoon-go/internal/crypto"
	"github.com/tonimelisma/dracoon-go/internal/crypto/rsaaes"
	"github.com/tonimelisma/dracoon-go/internal/dracoon"
	"github.com/tonimelisma/dracoon-go/internal/transfer"
	"github.com/tonimelisma/dracoon-go/internal/treewalk"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd below.
var (
	flagConfigPath string
	flagTarget     string
	flagAccount    string
	flagJSON       bool
	flagVerbose    bool
	flagDebug      bool
	flagQuiet      bool
	flagVelocity   int
)

// skipConfigAnnotation marks commands that handle config loading themselves
// (login does not yet have a session to authenticate with).
const skipConfigAnnotation = "skipConfig"

// CLIContext bundles everything a subcommand needs: resolved config, a
// logger, and (for commands that skip config) nothing more. Commands that
// require an authenticated session build one lazily via cc.Connect.
type CLIContext struct {
	Cfg    *config.Config
	Logger *slog.Logger

	targetURL string
	account   string
}

type cliContextKey struct{}

func cliContextFrom(ctx context.Context) *CLIContext {
	cc, ok := ctx.Value(cliContextKey{}).(*CLIContext)
	if !ok {
		return nil
	}

	return cc
}

func mustCLIContext(ctx context.Context) *CLIContext {
	cc := cliContextFrom(ctx)
	if cc == nil {
		panic("BUG: CLIContext not found in context — command tree did not run loadConfig")
	}

	return cc
}

// metadataHTTPTimeout bounds metadata calls (list, stat, mkdir); transfers
// use no timeout and rely on context cancellation instead.
const metadataHTTPTimeout = 30 * time.Second

func metadataHTTPClient() *http.Client {
	return &http.Client{Timeout: metadataHTTPTimeout}
}

func transferHTTPClient() *http.Client {
	return &http.Client{Timeout: 0}
}

// Connect resolves the account's stored refresh token and returns a
// connected Session, NodeService, Engine, and Walker ready for use.
func (cc *CLIContext) Connect(ctx context.Context, httpClient *http.Client) (*dracoon.Session, *dracoon.NodeService, *transfer.Engine, *treewalk.Walker, crypto.Provider, error) {
	store, err := credstore.Open()
	if err != nil {
		return nil, nil, nil, nil, nil, fmt.Errorf("opening credential store: %w", err)
	}

	refreshToken, err := store.GetRefreshToken(cc.targetURL, cc.account)
	if err != nil {
		return nil, nil, nil, nil, nil, fmt.Errorf("no saved session for %s@%s, run 'login' first: %w", cc.account, cc.targetURL, err)
	}

	disconnected, err := dracoon.NewDisconnectedSession(cc.targetURL, "", "", "", httpClient, cc.Logger)
	if err != nil {
		return nil, nil, nil, nil, nil, err
	}

	session, err := disconnected.Connect(ctx, dracoon.RefreshTokenFlow(refreshToken))
	if err != nil {
		return nil, nil, nil, nil, nil, fmt.Errorf("connecting: %w", err)
	}

	if newRefresh := session.RefreshToken(); newRefresh != refreshToken {
		if saveErr := store.SetRefreshToken(cc.targetURL, cc.account, newRefresh); saveErr != nil {
			cc.Logger.Warn("failed to persist rotated refresh token", slog.String("error", saveErr.Error()))
		}
	}

	client := dracoon.NewClient(session.BaseURL(), session.HTTPClient(), session, cc.Logger)
	nodes := dracoon.NewNodeService(client, cc.Logger)

	var provider crypto.Provider = rsaaes.New()

	engine := transfer.New(nodes, provider, cc.Logger)
	walker := treewalk.New(nodes, engine, cc.Logger, cc.Cfg.Velocity)

	return session, nodes, engine, walker, provider, nil
}

// newAdminServices builds the admin client on top of an already-connected session.
func newAdminServices(session *dracoon.Session, logger *slog.Logger) *admin.Services {
	client := dracoon.NewClient(session.BaseURL(), session.HTTPClient(), session, logger)

	return admin.New(client)
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "dracoon-go",
		Short:         "DRACOON CLI client",
		Long:          "A CLI client for DRACOON: authenticate, browse, and transfer files and folders.",
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Annotations[skipConfigAnnotation] == "true" {
				return nil
			}

			return loadConfig(cmd)
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().StringVar(&flagTarget, "target", "", "DRACOON instance URL, e.g. https://dracoon.example.com")
	cmd.PersistentFlags().StringVar(&flagAccount, "account", "", "account username")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "show detailed output")
	cmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")
	cmd.PersistentFlags().IntVar(&flagVelocity, "velocity", 0, "scale transfer concurrency (0 = use config default)")

	cmd.MarkFlagsMutuallyExclusive("verbose", "debug", "quiet")

	cmd.AddCommand(newLoginCmd())
	cmd.AddCommand(newLogoutCmd())
	cmd.AddCommand(newWhoamiCmd())
	cmd.AddCommand(newLsCmd())
	cmd.AddCommand(newMkdirCmd())
	cmd.AddCommand(newMkroomCmd())
	cmd.AddCommand(newRmCmd())
	cmd.AddCommand(newCpCmd())
	cmd.AddCommand(newMvCmd())
	cmd.AddCommand(newUploadCmd())
	cmd.AddCommand(newDownloadCmd())
	cmd.AddCommand(newUsersCmd())
	cmd.AddCommand(newGroupsCmd())
	cmd.AddCommand(newReportsCmd())

	return cmd
}

func loadConfig(cmd *cobra.Command) error {
	logger := buildLogger(nil)

	path := flagConfigPath
	if path == "" {
		path = config.DefaultConfigFile()
	}

	cfg, err := config.Load(path, logger)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	finalLogger := buildLogger(cfg)

	target := flagTarget
	if target == "" {
		target = cfg.DefaultTarget
	}

	account := flagAccount
	if account == "" {
		account = cfg.DefaultAccount
	}

	if flagVelocity != 0 {
		cfg.Velocity = flagVelocity
	}

	cc := &CLIContext{Cfg: cfg, Logger: finalLogger, targetURL: target, account: account}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cmd.SetContext(context.WithValue(ctx, cliContextKey{}, cc))

	return nil
}

func buildLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelWarn

	if cfg != nil {
		switch cfg.Logging.Level {
		case "debug":
			level = slog.LevelDebug
		case "info":
			level = slog.LevelInfo
		case "error":
			level = slog.LevelError
		}
	}

	if flagVerbose {
		level = slog.LevelInfo
	}

	if flagDebug {
		level = slog.LevelDebug
	}

	if flagQuiet {
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	out := logOutput()

	if cfg != nil && cfg.Logging.JSON {
		return slog.New(slog.NewJSONHandler(out, opts))
	}

	return slog.New(slog.NewTextHandler(out, opts))
}

// logOutput writes every log record to stderr and, best-effort, to the
// log file under the config directory. A file-open failure is not fatal: the CLI
// still logs to stderr so a read-only or missing config directory never
// blocks command execution.
func logOutput() io.Writer {
	path := config.DefaultLogFile()
	if path == "" {
		return os.Stderr
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return os.Stderr
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600) //nolint:gosec // fixed per-user config path
	if err != nil {
		return os.Stderr
	}

	return io.MultiWriter(os.Stderr, f)
}

func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
