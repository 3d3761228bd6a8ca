package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/dracoon-go/internal/admin"
)

func newUsersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "users",
		Short: "List users in the account",
		Args:  cobra.NoArgs,
		RunE:  runUsers,
	}
}

func runUsers(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	session, _, _, _, _, err := cc.Connect(ctx, metadataHTTPClient())
	if err != nil {
		return err
	}

	admin := newAdminServices(session, cc.Logger)

	users, err := admin.ListAllUsers(ctx)
	if err != nil {
		return fmt.Errorf("listing users: %w", err)
	}

	if flagJSON {
		return printJSON(users)
	}

	for _, u := range users {
		locked := ""
		if u.IsLocked {
			locked = " (locked)"
		}

		fmt.Printf("%-8d %-20s %s%s\n", u.ID, u.UserName, u.Email, locked)
	}

	return nil
}

func newGroupsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "groups",
		Short: "List groups in the account",
		Args:  cobra.NoArgs,
		RunE:  runGroups,
	}
}

func runGroups(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	session, _, _, _, _, err := cc.Connect(ctx, metadataHTTPClient())
	if err != nil {
		return err
	}

	admin := newAdminServices(session, cc.Logger)

	groups, err := admin.ListAllGroups(ctx)
	if err != nil {
		return fmt.Errorf("listing groups: %w", err)
	}

	if flagJSON {
		return printJSON(groups)
	}

	for _, g := range groups {
		fmt.Printf("%-8d %-30s %d members\n", g.ID, g.Name, g.CntUsers)
	}

	return nil
}

func newReportsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reports",
		Short: "Query the audit event log",
		Args:  cobra.NoArgs,
		RunE:  runReports,
	}

	cmd.Flags().String("since", "", "only show events at or after this RFC3339 timestamp")

	return cmd
}

func runReports(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	session, _, _, _, _, err := cc.Connect(ctx, metadataHTTPClient())
	if err != nil {
		return err
	}

	admin := newAdminServices(session, cc.Logger)

	params, err := reportsParams(cmd)
	if err != nil {
		return err
	}

	events, err := admin.ListAllEvents(ctx, params)
	if err != nil {
		return fmt.Errorf("listing events: %w", err)
	}

	if flagJSON {
		return printJSON(events)
	}

	for _, e := range events {
		fmt.Printf("%s  %-20s  %s\n", e.Time.Format(time.RFC3339), e.UserName, e.Message)
	}

	return nil
}

func reportsParams(cmd *cobra.Command) (admin.ListEventsParams, error) {
	since, _ := cmd.Flags().GetString("since")
	if since == "" {
		return admin.ListEventsParams{}, nil
	}

	t, err := time.Parse(time.RFC3339, since)
	if err != nil {
		return admin.ListEventsParams{}, fmt.Errorf("parsing --since: %w", err)
	}

	return admin.ListEventsParams{DateStart: &t}, nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	return enc.Encode(v)
}
