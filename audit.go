package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/dhgarchive/drivemirror/internal/sync"
)

// defaultAuditSampleLimit caps the sampled violations shown per run.
const defaultAuditSampleLimit = 20

func newAuditCmd() *cobra.Command {
	var (
		flagRoot   string
		flagRepair bool
		flagLimit  int
	)

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Check mirror categories against the rule tables",
		Long: `Validate every categorized node's declared category against its
observed kind, file-name extension, and content type. Without --root, all
mirrored roots are audited. With --repair, violating nodes are reassigned
to the deterministic candidate category; otherwise no writes occur.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := buildLogger()

			store, err := openStore(logger)
			if err != nil {
				return err
			}
			defer store.Close()

			ruleSet, err := loadRules()
			if err != nil {
				return err
			}

			ctx := cmd.Context()

			rootIDs := []string{flagRoot}
			if flagRoot == "" {
				summaries, err := store.ListRootSummaries(ctx)
				if err != nil {
					return err
				}

				rootIDs = rootIDs[:0]
				for _, s := range summaries {
					rootIDs = append(rootIDs, s.RootID)
				}
			}

			auditor := sync.NewAuditor(store, ruleSet, logger)
			opts := sync.AuditOptions{Repair: flagRepair, Limit: flagLimit}

			reports := make([]*sync.AuditReport, 0, len(rootIDs))

			for _, rootID := range rootIDs {
				report, err := auditor.Audit(ctx, rootID, opts)
				if err != nil {
					return err
				}

				reports = append(reports, report)
			}

			return printAuditReports(reports)
		},
	}

	cmd.Flags().StringVar(&flagRoot, "root", "", "restrict the audit to one root")
	cmd.Flags().BoolVar(&flagRepair, "repair", false, "reassign violating nodes to the candidate category")
	cmd.Flags().IntVar(&flagLimit, "limit", defaultAuditSampleLimit, "max sampled violations per root (0 = all)")

	return cmd
}

func printAuditReports(reports []*sync.AuditReport) error {
	if flagJSON {
		return printJSON(reports)
	}

	for _, report := range reports {
		statusf("audit %s: %d checked, %d violations, %d repaired\n",
			report.RootID, report.Checked, report.Total(), report.Repaired)

		if len(report.Samples) == 0 {
			continue
		}

		rows := make([][]string, 0, len(report.Samples))
		for _, v := range report.Samples {
			rows = append(rows, []string{string(v.Class), v.Path, v.CategoryID, v.Detail})
		}

		printTable(os.Stdout, []string{"CLASS", "PATH", "CATEGORY", "DETAIL"}, rows)
	}

	return nil
}
