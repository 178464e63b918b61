package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dhgarchive/drivemirror/internal/mirror"
	"github.com/dhgarchive/drivemirror/internal/sync"
)

func newSyncCmd() *cobra.Command {
	var (
		flagRoot      string
		flagDryRun    bool
		flagMaxDepth  int
		flagBatchSize int
		flagParallel  int
		flagPropagate bool
	)

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Reconcile the mirror against the remote hierarchy",
		Long: `Enumerate the remote subtree under --root and reconcile it against
the local mirror: new nodes are created, renamed or touched nodes updated,
and nodes gone from the remote soft-deleted. An empty enumeration aborts
before any write. Use --dry-run to preview the classification.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := buildLogger()

			store, err := openStore(logger)
			if err != nil {
				return err
			}
			defer store.Close()

			client, err := buildDriveClient(logger)
			if err != nil {
				return err
			}

			ruleSet, err := loadRules()
			if err != nil {
				return err
			}

			walker, err := sync.NewWalker(client, resolvedCfg.Walker.SkipNames, logger)
			if err != nil {
				return err
			}

			reconciler := sync.NewReconciler(store, logger)
			propagator := sync.NewPropagator(store, logger)
			pipeline := sync.NewPipeline(walker, reconciler, propagator, store, ruleSet, logger)

			opts := sync.PipelineOptions{
				ReconcileOptions: sync.ReconcileOptions{
					BatchSize: flagBatchSize,
					Parallel:  flagParallel,
					DryRun:    flagDryRun,
				},
				MaxDepth:  flagMaxDepth,
				Propagate: flagPropagate,
				Anchor:    videoAnchor,
			}

			report, err := pipeline.Run(cmd.Context(), flagRoot, opts)
			if err != nil {
				return err
			}

			return printSyncReport(report)
		},
	}

	cmd.Flags().StringVar(&flagRoot, "root", "", "remote id of the subtree root (required)")
	cmd.Flags().BoolVar(&flagDryRun, "dry-run", false, "classify without writing")
	cmd.Flags().IntVar(&flagMaxDepth, "max-depth", -1, "limit walk depth (-1 = unlimited)")
	cmd.Flags().IntVar(&flagBatchSize, "batch-size", 0, "mirror write batch size (0 = configured default)")
	cmd.Flags().IntVar(&flagParallel, "parallel", 0, "parallel write batches (0 = configured default)")
	cmd.Flags().BoolVar(&flagPropagate, "propagate", false, "run attribute inheritance after reconciling")
	_ = cmd.MarkFlagRequired("root")

	cmd.PreRunE = func(_ *cobra.Command, _ []string) error {
		if flagBatchSize == 0 {
			flagBatchSize = resolvedCfg.Sync.BatchSize
		}

		if flagParallel == 0 {
			flagParallel = resolvedCfg.Sync.ParallelBatches
		}

		if !cmd.Flags().Changed("max-depth") {
			flagMaxDepth = resolvedCfg.Sync.MaxDepth
		}

		if !cmd.Flags().Changed("propagate") {
			flagPropagate = resolvedCfg.Sync.Propagate
		}

		return nil
	}

	return cmd
}

// videoAnchor is the default inheritance anchor: the first video leaf in
// deterministic traversal order anchors its subtree's association.
func videoAnchor(node *mirror.Node) bool {
	return node.Kind == mirror.KindLeaf && strings.HasPrefix(node.MimeType, "video/")
}

func printSyncReport(report *sync.Report) error {
	if flagJSON {
		return printJSON(report)
	}

	s := report.Summary

	mode := ""
	if s.DryRun {
		mode = " (dry run)"
	}

	statusf("sync %s%s: %d created, %d updated, %d unchanged, %d deleted\n",
		s.RootID, mode, s.Created, s.Updated, s.Unchanged, s.Deleted)

	if report.Enqueued > 0 {
		statusf("enqueued %d processing records\n", report.Enqueued)
	}

	if report.Propagation != nil {
		statusf("propagated association to %d nodes\n", report.Propagation.Assigned)
	}

	for _, err := range s.Errors {
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}

	return nil
}
