package main

import (
	"github.com/spf13/cobra"

	"github.com/dhgarchive/drivemirror/internal/sync"
)

func newPropagateCmd() *cobra.Command {
	var (
		flagRoot   string
		flagDryRun bool
	)

	cmd := &cobra.Command{
		Use:   "propagate",
		Short: "Fill inherited associations top-down",
		Long: `Run the attribute inheritance pass over the mirror subtree under
--root: every node without a primary association inherits one from the
nearest ancestor that defines it. When the root itself has none, the
subtree is searched for the first video leaf to anchor it. Existing
values are never overwritten.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := buildLogger()

			store, err := openStore(logger)
			if err != nil {
				return err
			}
			defer store.Close()

			propagator := sync.NewPropagator(store, logger)

			result, err := propagator.Propagate(cmd.Context(), flagRoot, videoAnchor, flagDryRun)
			if err != nil {
				return err
			}

			if flagJSON {
				return printJSON(result)
			}

			mode := ""
			if result.DryRun {
				mode = " (dry run)"
			}

			statusf("propagate %s%s: anchor %s, %d nodes assigned\n",
				result.RootID, mode, orDash(result.AnchorID), result.Assigned)

			return nil
		},
	}

	cmd.Flags().StringVar(&flagRoot, "root", "", "remote id of the subtree root (required)")
	cmd.Flags().BoolVar(&flagDryRun, "dry-run", false, "count without writing")
	_ = cmd.MarkFlagRequired("root")

	return cmd
}

// orDash substitutes a dash for empty display values.
func orDash(s string) string {
	if s == "" {
		return "-"
	}

	return s
}
