package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/tonimelisma/dracoon-go/internal/dracoon"
	"github.com/tonimelisma/dracoon-go/internal/nodepath"
)

func newLsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls <path>",
		Short: "List the contents of a folder, room, or root",
		Args:  cobra.ExactArgs(1),
		RunE:  runLs,
	}
}

func runLs(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	_, nodes, _, _, _, err := cc.Connect(ctx, metadataHTTPClient())
	if err != nil {
		return err
	}

	node, err := nodes.GetNodeFromPath(ctx, args[0])
	if err != nil {
		return err
	}

	var parentID *uint64
	if node != nil {
		parentID = &node.ID
	}

	children, err := nodes.ListAllNodes(ctx, parentID, dracoon.DefaultListParams())
	if err != nil {
		return fmt.Errorf("listing %s: %w", args[0], err)
	}

	for _, child := range children {
		size := "-"
		if child.Size != nil {
			size = humanize.Bytes(*child.Size)
		}

		fmt.Printf("%-8s %10s  %s\n", child.Type, size, child.Name)
	}

	return nil
}

func newMkdirCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mkdir <path>",
		Short: "Create a folder",
		Args:  cobra.ExactArgs(1),
		RunE:  runMkdir,
	}
}

func runMkdir(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	_, nodes, _, _, _, err := cc.Connect(ctx, metadataHTTPClient())
	if err != nil {
		return err
	}

	parentID, name, err := nodeParentAndName(ctx, nodes, args[0])
	if err != nil {
		return err
	}

	node, err := nodes.CreateFolder(ctx, parentID, name)
	if err != nil {
		return fmt.Errorf("creating folder %s: %w", args[0], err)
	}

	fmt.Printf("Created folder %s (id %d)\n", node.Name, node.ID)

	return nil
}

func newMkroomCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mkroom <path>",
		Short: "Create a room",
		Args:  cobra.ExactArgs(1),
		RunE:  runMkroom,
	}

	cmd.Flags().Bool("inherit-permissions", false, "inherit permissions from the parent container")

	return cmd
}

func runMkroom(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	_, nodes, _, _, _, err := cc.Connect(ctx, metadataHTTPClient())
	if err != nil {
		return err
	}

	parentID, name, err := nodeParentAndName(ctx, nodes, args[0])
	if err != nil {
		return err
	}

	inherit, _ := cmd.Flags().GetBool("inherit-permissions")

	var parentIDPtr *uint64
	if parentID != 0 {
		parentIDPtr = &parentID
	}

	node, err := nodes.CreateRoom(ctx, dracoon.CreateRoomOptions{
		ParentID:           parentIDPtr,
		Name:               name,
		InheritPermissions: inherit,
		Classification:     2,
	})
	if err != nil {
		return fmt.Errorf("creating room %s: %w", args[0], err)
	}

	fmt.Printf("Created room %s (id %d)\n", node.Name, node.ID)

	return nil
}

func newRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <path>",
		Short: "Delete a node",
		Args:  cobra.ExactArgs(1),
		RunE:  runRm,
	}
}

func runRm(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	_, nodes, _, _, _, err := cc.Connect(ctx, metadataHTTPClient())
	if err != nil {
		return err
	}

	node, err := nodes.GetNodeFromPath(ctx, args[0])
	if err != nil {
		return err
	}

	if node == nil {
		return fmt.Errorf("%w: %s", dracoon.ErrNotFound, args[0])
	}

	if err := nodes.DeleteNode(ctx, node.ID); err != nil {
		return fmt.Errorf("deleting %s: %w", args[0], err)
	}

	fmt.Printf("Deleted %s\n", args[0])

	return nil
}

func newCpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cp <source-path> <destination-path>",
		Short: "Copy a node into a destination folder",
		Args:  cobra.ExactArgs(2),
		RunE:  runCp,
	}
}

func runCp(cmd *cobra.Command, args []string) error {
	return runTransferCopy(cmd, args, false)
}

func newMvCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mv <source-path> <destination-path>",
		Short: "Move a node into a destination folder",
		Args:  cobra.ExactArgs(2),
		RunE:  runMv,
	}
}

func runMv(cmd *cobra.Command, args []string) error {
	return runTransferCopy(cmd, args, true)
}

func runTransferCopy(cmd *cobra.Command, args []string, move bool) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	_, nodes, _, _, _, err := cc.Connect(ctx, metadataHTTPClient())
	if err != nil {
		return err
	}

	source, err := nodes.GetNodeFromPath(ctx, args[0])
	if err != nil {
		return err
	}

	if source == nil {
		return fmt.Errorf("%w: %s", dracoon.ErrNotFound, args[0])
	}

	destParentID, _, err := nodeParentAndName(ctx, nodes, args[1])
	if err != nil {
		return err
	}

	var result *dracoon.Node

	if move {
		result, err = nodes.MoveNodes(ctx, destParentID, []uint64{source.ID}, dracoon.ResolutionAutoRename)
	} else {
		result, err = nodes.CopyNodes(ctx, destParentID, []uint64{source.ID}, dracoon.ResolutionAutoRename)
	}

	if err != nil {
		return fmt.Errorf("transferring %s: %w", args[0], err)
	}

	fmt.Printf("Done: %s\n", result.Name)

	return nil
}

// nodeParentAndName resolves the parent container id and leaf name for a
// not-yet-existing destination path (mkdir/mkroom/cp/mv targets) by parsing
// the path and looking up its parent.
func nodeParentAndName(ctx context.Context, nodes *dracoon.NodeService, path string) (uint64, string, error) {
	parsed, err := nodepath.Parse(path, nodes.BaseURL())
	if err != nil {
		return 0, "", fmt.Errorf("%w: %w", dracoon.ErrInvalidPath, err)
	}

	if parsed.ParentPath == "/" {
		return 0, parsed.Name, nil
	}

	parentPath := strings.TrimSuffix(parsed.ParentPath, "/")

	parent, err := nodes.GetNodeFromPath(ctx, parentPath)
	if err != nil {
		return 0, "", err
	}

	if parent == nil {
		return 0, "", fmt.Errorf("%w: parent of %s", dracoon.ErrNotFound, path)
	}

	return parent.ID, parsed.Name, nil
}
