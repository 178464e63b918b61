package sync

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/dhgarchive/drivemirror/internal/mirror"
	"github.com/dhgarchive/drivemirror/internal/rules"
)

// PipelineOptions tune one end-to-end sync run.
type PipelineOptions struct {
	ReconcileOptions

	// MaxDepth bounds the walk; negative means unlimited.
	MaxDepth int

	// Propagate runs the attribute inheritance pass after reconciliation,
	// using Anchor to locate the subtree anchor when the root has none.
	Propagate bool
	Anchor    AnchorPredicate
}

// Report is the outcome of one full pipeline run.
type Report struct {
	Summary     *Summary           `json:"summary"`
	Enqueued    int                `json:"enqueued"`
	Propagation *PropagationResult `json:"propagation,omitempty"`
}

// Pipeline wires the engine components into the full sync flow:
// walk the remote tree, reconcile it against the mirror, enqueue a
// processing record per newly created leaf, then optionally run the
// inheritance propagation pass.
type Pipeline struct {
	walker     *Walker
	reconciler *Reconciler
	propagator *Propagator
	queue      Queue
	rules      *rules.RuleSet
	logger     *slog.Logger
}

// NewPipeline assembles a Pipeline from its components. queue may be nil
// when no classification subsystem is attached; new leaves then produce
// no records.
func NewPipeline(
	walker *Walker,
	reconciler *Reconciler,
	propagator *Propagator,
	queue Queue,
	ruleSet *rules.RuleSet,
	logger *slog.Logger,
) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}

	return &Pipeline{
		walker:     walker,
		reconciler: reconciler,
		propagator: propagator,
		queue:      queue,
		rules:      ruleSet,
		logger:     logger,
	}
}

// Run executes one sync for the given root. Reconciliation errors short
// of a full abort are carried inside the summary; an empty enumeration
// aborts before any write and is returned as an error.
func (p *Pipeline) Run(ctx context.Context, rootID string, opts PipelineOptions) (*Report, error) {
	seq := p.walker.Walk(ctx, rootID, opts.MaxDepth)

	summary, err := p.reconciler.Reconcile(ctx, rootID, seq, opts.ReconcileOptions)
	if err != nil {
		return nil, err
	}

	report := &Report{Summary: summary}

	if !opts.DryRun && p.queue != nil {
		report.Enqueued = p.enqueueLeaves(ctx, summary)
	}

	if opts.Propagate && p.propagator != nil {
		prop, err := p.propagator.Propagate(ctx, rootID, opts.Anchor, opts.DryRun)
		if err != nil {
			summary.Errors = append(summary.Errors, fmt.Errorf("propagation: %w", err))
		}

		report.Propagation = prop
	}

	return report, nil
}

// enqueueLeaves files one processing record per newly created leaf. The
// initial disposition depends only on the declared content type, so the
// classification subsystem can skip non-processable formats without
// fetching them. Enqueue failures are recorded and do not abort the run.
func (p *Pipeline) enqueueLeaves(ctx context.Context, summary *Summary) int {
	enqueued := 0

	for _, leaf := range summary.NewLeaves {
		disposition := mirror.SkipProcessing
		if p.rules != nil && p.rules.Processable(leaf.MimeType) {
			disposition = mirror.NeedsProcessing
		}

		record := &mirror.ProcessingRecord{
			ID:             uuid.NewString(),
			SourceRemoteID: leaf.RemoteID,
			Disposition:    disposition,
			CreatedAt:      mirror.NowNano(),
		}

		if err := p.queue.Enqueue(ctx, record); err != nil {
			summary.Errors = append(summary.Errors, fmt.Errorf("enqueue %s: %w", leaf.RemoteID, err))
			continue
		}

		enqueued++
	}

	if enqueued > 0 {
		p.logger.Info("processing records enqueued", "count", enqueued)
	}

	return enqueued
}
