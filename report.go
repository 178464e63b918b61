package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dhgarchive/drivemirror/internal/mirror"
	"github.com/dhgarchive/drivemirror/internal/sync"
)

func newReportCmd() *cobra.Command {
	var flagRoot string

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Render the mirrored hierarchy as a tree",
		Long: `Reassemble the flat mirror rows under --root into a nested tree and
print it. Output order is deterministic: containers first, then leaves,
each group sorted by name.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := buildLogger()

			store, err := openStore(logger)
			if err != nil {
				return err
			}
			defer store.Close()

			builder := sync.NewTreeBuilder(store, logger)

			tree, err := builder.Build(cmd.Context(), flagRoot)
			if err != nil {
				return err
			}

			if flagJSON {
				return printJSON(tree)
			}

			printTreeNode(tree.Root, 0)

			for _, orphan := range tree.Orphans {
				fmt.Fprintf(os.Stderr, "orphan: %s (parent %s missing)\n", orphan.Path, orphan.ParentRemoteID)
			}

			statusf("%d nodes (%d containers, %d leaves), max depth %d, %s total\n",
				tree.Nodes, tree.Containers, tree.Leaves, tree.MaxDepth, formatSize(tree.TotalSize))

			return nil
		},
	}

	cmd.Flags().StringVar(&flagRoot, "root", "", "remote id of the subtree root (required)")
	_ = cmd.MarkFlagRequired("root")

	return cmd
}

// printTreeNode renders one node and its subtree with two-space
// indentation per level.
func printTreeNode(node *sync.TreeNode, indent int) {
	size := ""
	if node.Kind == mirror.KindLeaf && node.Size != nil {
		size = "  " + formatSize(*node.Size)
	}

	marker := ""
	if node.Kind == mirror.KindContainer {
		marker = "/"
	}

	fmt.Fprintf(os.Stdout, "%s%s%s%s\n", strings.Repeat("  ", indent), node.Name, marker, size)

	for _, child := range node.Children {
		printTreeNode(child, indent+1)
	}
}
