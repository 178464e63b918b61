package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"
)

func newCleanCmd() *cobra.Command {
	var (
		flagRoot      string
		flagDryRun    bool
		flagPermanent bool
	)

	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Report or purge soft-deleted mirror rows",
		Long: `List the soft-deleted rows under --root. With --permanent, remove
them from the database for good; otherwise (or with --dry-run) only report
what would go.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := buildLogger()

			store, err := openStore(logger)
			if err != nil {
				return err
			}
			defer store.Close()

			ctx := cmd.Context()

			deleted, err := store.ListDeleted(ctx, flagRoot)
			if err != nil {
				return err
			}

			if !flagPermanent || flagDryRun {
				if flagJSON {
					return printJSON(deleted)
				}

				rows := make([][]string, 0, len(deleted))
				for _, node := range deleted {
					deletedAt := ""
					if node.DeletedAt != nil {
						deletedAt = formatTime(time.Unix(0, *node.DeletedAt))
					}

					rows = append(rows, []string{node.RemoteID, node.Path, deletedAt})
				}

				printTable(os.Stdout, []string{"REMOTE ID", "PATH", "DELETED"}, rows)
				statusf("%d soft-deleted rows (use --permanent to purge)\n", len(deleted))

				return nil
			}

			purged, err := store.PurgeDeleted(ctx, flagRoot)
			if err != nil {
				return err
			}

			if flagJSON {
				return printJSON(map[string]int64{"purged": purged})
			}

			statusf("purged %d rows\n", purged)

			return nil
		},
	}

	cmd.Flags().StringVar(&flagRoot, "root", "", "remote id of the subtree root (required)")
	cmd.Flags().BoolVar(&flagDryRun, "dry-run", false, "report only, never purge")
	cmd.Flags().BoolVar(&flagPermanent, "permanent", false, "remove soft-deleted rows permanently")
	_ = cmd.MarkFlagRequired("root")

	return cmd
}
