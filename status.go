package main

import (
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/dhgarchive/drivemirror/internal/mirror"
)

// statusOutput is the JSON shape of the status command.
type statusOutput struct {
	DBPath          string               `json:"db_path"`
	Roots           []mirror.RootSummary `json:"roots"`
	NeedsProcessing int                  `json:"needs_processing"`
	SkipProcessing  int                  `json:"skip_processing"`
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show mirror row counts per root",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := buildLogger()

			store, err := openStore(logger)
			if err != nil {
				return err
			}
			defer store.Close()

			ctx := cmd.Context()

			summaries, err := store.ListRootSummaries(ctx)
			if err != nil {
				return err
			}

			needs, err := store.QueueCount(ctx, mirror.NeedsProcessing)
			if err != nil {
				return err
			}

			skip, err := store.QueueCount(ctx, mirror.SkipProcessing)
			if err != nil {
				return err
			}

			out := statusOutput{
				DBPath:          resolvedCfg.Mirror.DBPath,
				Roots:           summaries,
				NeedsProcessing: needs,
				SkipProcessing:  skip,
			}

			if flagJSON {
				return printJSON(out)
			}

			rows := make([][]string, 0, len(summaries))
			for _, s := range summaries {
				rows = append(rows, []string{
					s.RootID,
					strconv.Itoa(s.Active),
					strconv.Itoa(s.Containers),
					strconv.Itoa(s.Leaves),
					strconv.Itoa(s.Deleted),
				})
			}

			printTable(os.Stdout, []string{"ROOT", "ACTIVE", "CONTAINERS", "LEAVES", "DELETED"}, rows)
			statusf("queue: %d needs processing, %d skipped\n", needs, skip)

			return nil
		},
	}
}
