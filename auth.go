package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/tonimelisma/dracoon-go/internal/credstore"
	"github.com/tonimelisma/dracoon-go/internal/dracoon"
)

func newLoginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:         "login",
		Short:       "Authenticate with a DRACOON instance",
		Long:        "Authenticate with a DRACOON instance using resource-owner password credentials, and save the resulting refresh token in the OS credential store.",
		Annotations: map[string]string{skipConfigAnnotation: "true"},
		RunE:        runLogin,
	}

	return cmd
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "logout",
		Short:       "Remove the saved session for an account",
		Annotations: map[string]string{skipConfigAnnotation: "true"},
		RunE:        runLogout,
	}
}

func newWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Display the authenticated account",
		RunE:  runWhoami,
	}
}

func runLogin(cmd *cobra.Command, _ []string) error {
	logger := buildLogger(nil)
	ctx := cmd.Context()

	if flagTarget == "" {
		return fmt.Errorf("--target is required for login")
	}

	if flagAccount == "" {
		return fmt.Errorf("--account is required for login")
	}

	password, err := readPassword()
	if err != nil {
		return fmt.Errorf("reading password: %w", err)
	}

	disconnected, err := dracoon.NewDisconnectedSession(flagTarget, "", "", "", metadataHTTPClient(), logger)
	if err != nil {
		return err
	}

	session, err := disconnected.Connect(ctx, dracoon.PasswordFlow(flagAccount, password))
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	store, err := credstore.Open()
	if err != nil {
		return fmt.Errorf("opening credential store: %w", err)
	}

	if err := store.SetRefreshToken(flagTarget, flagAccount, session.RefreshToken()); err != nil {
		return fmt.Errorf("saving session: %w", err)
	}

	fmt.Printf("Logged in as %s on %s\n", flagAccount, flagTarget)

	return nil
}

func runLogout(cmd *cobra.Command, _ []string) error {
	if flagTarget == "" || flagAccount == "" {
		return fmt.Errorf("--target and --account are required for logout")
	}

	store, err := credstore.Open()
	if err != nil {
		return fmt.Errorf("opening credential store: %w", err)
	}

	if err := store.DeleteRefreshToken(flagTarget, flagAccount); err != nil {
		return fmt.Errorf("removing session: %w", err)
	}

	fmt.Printf("Logged out %s on %s\n", flagAccount, flagTarget)

	return nil
}

func runWhoami(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	session, _, _, _, _, err := cc.Connect(cmd.Context(), metadataHTTPClient())
	if err != nil {
		return err
	}

	fmt.Printf("%s@%s\n", cc.account, session.BaseURL())

	return nil
}

// readPassword reads a password from stdin, masking input when attached to
// a terminal.
func readPassword() (string, error) {
	if isatty.IsTerminal(os.Stdin.Fd()) {
		fmt.Print("Password: ")

		bytePassword, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()

		if err != nil {
			return "", fmt.Errorf("reading password from terminal: %w", err)
		}

		return string(bytePassword), nil
	}

	reader := bufio.NewReader(os.Stdin)

	line, err := reader.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("reading password from stdin: %w", err)
	}

	return strings.TrimRight(line, "\r\n"), nil
}
