package sync

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	gosync "sync"

	"golang.org/x/sync/errgroup"

	"github.com/dhgarchive/drivemirror/internal/mirror"
)

// DefaultBatchSize is the number of nodes per mirror write batch.
const DefaultBatchSize = 50

// ReconcileOptions tune one reconciliation run.
type ReconcileOptions struct {
	// BatchSize caps nodes per mirror write. Zero means DefaultBatchSize.
	BatchSize int
	// Parallel is the number of write batches in flight. Zero or one
	// means sequential dispatch, the default execution model: bounded
	// fan-out is an explicit optimization the caller opts into.
	Parallel int
	// DryRun classifies every node but performs zero mirror writes.
	DryRun bool
}

// Reconciler diffs a full remote enumeration against the current mirror
// scope, classifies each node, and drives batched writes. It owns the
// empty-enumeration safety guard and the root-protection invariant.
type Reconciler struct {
	store  ReconcilerStore
	logger *slog.Logger
}

// NewReconciler creates a Reconciler writing through the given store.
func NewReconciler(store ReconcilerStore, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}

	return &Reconciler{store: store, logger: logger}
}

// deltaEntry pairs a classification with the row it produces.
type deltaEntry struct {
	kind DeltaKind
	node *mirror.Node
	snap Snapshot
}

// Reconcile consumes a remote enumeration of rootID and converges the
// mirror scope onto it. A batch write failure is recorded in the summary
// and does not abort remaining batches; re-running with an unchanged
// remote yields zero Create/Update/MissingInRemote classifications.
//
// When the enumeration observes zero nodes the run aborts with an
// *EmptyEnumerationError before any write; an empty result is never
// interpreted as "everything was deleted".
func (r *Reconciler) Reconcile(
	ctx context.Context,
	rootID string,
	snapshots iter.Seq2[Snapshot, error],
	opts ReconcileOptions,
) (*Summary, error) {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}

	r.logger.Info("reconciliation started",
		"root_id", rootID, "batch_size", opts.BatchSize, "dry_run", opts.DryRun)

	observed, order, branchErrs := drainSnapshots(snapshots)

	// Safety guard: zero observations abort the whole root with zero
	// writes, regardless of what the mirror currently holds.
	if len(observed) == 0 {
		r.logger.Error("empty remote enumeration, aborting root",
			"root_id", rootID, "walk_errors", len(branchErrs))

		return nil, &EmptyEnumerationError{RootID: rootID, BranchErrors: branchErrs}
	}

	scope, err := r.store.QueryScope(ctx, rootID)
	if err != nil {
		return nil, fmt.Errorf("query mirror scope %s: %w", rootID, err)
	}

	summary := &Summary{RootID: rootID, DryRun: opts.DryRun}
	summary.Errors = append(summary.Errors, branchErrs...)

	entries := r.classify(rootID, observed, order, scope, summary)
	deleteIDs := r.missingInRemote(rootID, observed, scope, branchErrs, summary)

	if opts.DryRun {
		r.countDryRun(entries, summary)
		r.logSummary(summary)

		return summary, nil
	}

	if err := r.applyUpserts(ctx, entries, opts, summary); err != nil {
		return summary, err
	}

	if err := r.applyDeletes(ctx, deleteIDs, opts, summary); err != nil {
		return summary, err
	}

	r.logSummary(summary)

	return summary, nil
}

// drainSnapshots materializes the lazy walk, deduplicating by remote ID
// (last observation wins) and separating branch errors.
func drainSnapshots(snapshots iter.Seq2[Snapshot, error]) (map[string]Snapshot, []string, []error) {
	observed := make(map[string]Snapshot)

	var order []string

	var branchErrs []error

	for snap, err := range snapshots {
		if err != nil {
			branchErrs = append(branchErrs, err)
			continue
		}

		if _, seen := observed[snap.RemoteID]; !seen {
			order = append(order, snap.RemoteID)
		}

		observed[snap.RemoteID] = snap
	}

	return observed, order, branchErrs
}

// classify compares each observed snapshot with the mirror scope and
// returns the Create/Update entries. Unchanged nodes are counted and
// produce no write.
func (r *Reconciler) classify(
	rootID string,
	observed map[string]Snapshot,
	order []string,
	scope []*mirror.Node,
	summary *Summary,
) []deltaEntry {
	byID := make(map[string]*mirror.Node, len(scope))
	for _, node := range scope {
		byID[node.RemoteID] = node
	}

	cache := newSignatureCache()
	now := mirror.NowNano()

	var entries []deltaEntry

	for _, id := range order {
		snap := observed[id]
		if snap.Unseen {
			// Boundary markers exist only to exempt their subtrees from
			// deletion; the node itself is never compared or written.
			continue
		}

		sig := cache.get(snap.Name, snap.ModifiedAt)
		existing := byID[id]

		switch {
		case existing == nil:
			entries = append(entries, deltaEntry{
				kind: DeltaCreate,
				node: snapshotToNode(rootID, snap, sig, now),
				snap: snap,
			})
		case existing.ContentSignature != sig || moved(existing, snap):
			// Identity stable but something changed: a rename or a
			// remote-side touch bumps the signature, and an ancestor
			// rename moves the node (same name and mtime, new computed
			// path). root_id and created_at are preserved by the
			// store's upsert.
			node := snapshotToNode(existing.RootID, snap, sig, now)
			node.CreatedAt = existing.CreatedAt
			entries = append(entries, deltaEntry{kind: DeltaUpdate, node: node, snap: snap})
		default:
			summary.Unchanged++
		}
	}

	r.logger.Debug("classification complete",
		"root_id", rootID,
		"writes", len(entries),
		"unchanged", summary.Unchanged,
	)

	return entries
}

// missingInRemote returns the remote IDs of mirror nodes absent from the
// observed set. Designated roots are exempt by construction; nodes under
// a failed branch or an unseen boundary (depth bound, skip pattern) are
// exempt because they were unseen, not absent.
func (r *Reconciler) missingInRemote(
	rootID string,
	observed map[string]Snapshot,
	scope []*mirror.Node,
	branchErrs []error,
	summary *Summary,
) []string {
	byID := make(map[string]*mirror.Node, len(scope))
	for _, node := range scope {
		byID[node.RemoteID] = node
	}

	unseenPrefixes := append(failedBranchPaths(branchErrs), unseenSubtreePaths(observed, byID)...)

	var deleteIDs []string

	for _, node := range scope {
		if _, seen := observed[node.RemoteID]; seen {
			continue
		}

		if node.IsRoot() || node.RemoteID == rootID {
			r.logger.Debug("root exempt from soft-deletion", "remote_id", node.RemoteID)
			continue
		}

		if underAnyPrefix(node.Path, unseenPrefixes) {
			r.logger.Debug("node under unseen subtree, exempt from soft-deletion",
				"remote_id", node.RemoteID, "path", node.Path)
			continue
		}

		deleteIDs = append(deleteIDs, node.RemoteID)
	}

	summary.DeletedCandidates = len(deleteIDs)

	return deleteIDs
}

// unseenSubtreePaths extracts the paths of observed nodes whose subtrees
// were deliberately left unenumerated. When the boundary container was
// itself renamed this run, its mirror rows still carry the old path, so
// both spellings exempt.
func unseenSubtreePaths(observed map[string]Snapshot, byID map[string]*mirror.Node) []string {
	var paths []string

	for _, snap := range observed {
		if !snap.SubtreeUnseen {
			continue
		}

		paths = append(paths, snap.Path)

		if existing := byID[snap.RemoteID]; existing != nil && existing.Path != snap.Path {
			paths = append(paths, existing.Path)
		}
	}

	return paths
}

// moved reports whether a node's structural position differs from its
// mirror row while its own identity and signature are stable. Renaming a
// container changes every descendant's computed path without touching
// their names or modification times.
func moved(existing *mirror.Node, snap Snapshot) bool {
	return existing.Path != snap.Path ||
		existing.Depth != snap.Depth ||
		existing.ParentRemoteID != snap.ParentRemoteID
}

// failedBranchPaths extracts the container paths of branch errors.
func failedBranchPaths(branchErrs []error) []string {
	var paths []string

	for _, err := range branchErrs {
		if be, ok := err.(*BranchError); ok { //nolint:errorlint // walk errors are yielded unwrapped
			paths = append(paths, be.Path)
		}
	}

	return paths
}

// underAnyPrefix reports whether path equals any prefix or lies beneath it.
func underAnyPrefix(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if path == p || strings.HasPrefix(path, p+"/") {
			return true
		}
	}

	return false
}

// countDryRun fills the summary counters without touching the mirror.
func (r *Reconciler) countDryRun(entries []deltaEntry, summary *Summary) {
	for i := range entries {
		switch entries[i].kind {
		case DeltaCreate:
			summary.Created++

			if entries[i].snap.Kind == mirror.KindLeaf {
				summary.NewLeaves = append(summary.NewLeaves, entries[i].snap)
			}
		case DeltaUpdate:
			summary.Updated++
		case DeltaUnchanged, DeltaMissingInRemote:
			// Unchanged is counted during classification; deletion
			// candidates are counted in missingInRemote.
		}
	}
}

// applyUpserts dispatches Create/Update batches. Parallel > 1 enables
// bounded fan-out; partial failures are recorded per batch or per node
// and never abort remaining batches.
func (r *Reconciler) applyUpserts(
	ctx context.Context,
	entries []deltaEntry,
	opts ReconcileOptions,
	summary *Summary,
) error {
	batches := chunkEntries(entries, opts.BatchSize)

	var mu gosync.Mutex

	dispatch := func(ctx context.Context, batchIdx int) {
		batch := batches[batchIdx]

		nodes := make([]*mirror.Node, len(batch))
		for i := range batch {
			nodes[i] = batch[i].node
		}

		result, err := r.store.BatchUpsert(ctx, nodes)

		mu.Lock()
		defer mu.Unlock()

		if err != nil {
			summary.Errors = append(summary.Errors, &BatchError{
				Op: BatchOpUpsert, Batch: batchIdx, Size: len(batch), Err: err,
			})

			return
		}

		failed := make(map[string]error, len(result.Failed))
		for _, f := range result.Failed {
			failed[f.RemoteID] = f.Err
		}

		for i := range batch {
			if ferr, bad := failed[batch[i].node.RemoteID]; bad {
				summary.Errors = append(summary.Errors, &BatchError{
					Op:       BatchOpUpsert,
					Batch:    batchIdx,
					Size:     len(batch),
					RemoteID: batch[i].node.RemoteID,
					Err:      ferr,
				})

				continue
			}

			switch batch[i].kind {
			case DeltaCreate:
				summary.Created++

				if batch[i].snap.Kind == mirror.KindLeaf {
					summary.NewLeaves = append(summary.NewLeaves, batch[i].snap)
				}
			case DeltaUpdate:
				summary.Updated++
			case DeltaUnchanged, DeltaMissingInRemote:
				// Never batched here.
			}
		}
	}

	return r.dispatchBatches(ctx, len(batches), opts.Parallel, dispatch)
}

// applyDeletes dispatches soft-delete batches with the same failure
// isolation as upserts.
func (r *Reconciler) applyDeletes(
	ctx context.Context,
	deleteIDs []string,
	opts ReconcileOptions,
	summary *Summary,
) error {
	batches := chunkStrings(deleteIDs, opts.BatchSize)
	deletedAt := mirror.NowNano()

	var mu gosync.Mutex

	dispatch := func(ctx context.Context, batchIdx int) {
		batch := batches[batchIdx]

		result, err := r.store.BatchSoftDelete(ctx, batch, deletedAt)

		mu.Lock()
		defer mu.Unlock()

		if err != nil {
			summary.Errors = append(summary.Errors, &BatchError{
				Op: BatchOpSoftDelete, Batch: batchIdx, Size: len(batch), Err: err,
			})

			return
		}

		summary.Deleted += result.Succeeded

		for _, f := range result.Failed {
			summary.Errors = append(summary.Errors, &BatchError{
				Op:       BatchOpSoftDelete,
				Batch:    batchIdx,
				Size:     len(batch),
				RemoteID: f.RemoteID,
				Err:      f.Err,
			})
		}
	}

	return r.dispatchBatches(ctx, len(batches), opts.Parallel, dispatch)
}

// dispatchBatches runs n batch handlers either sequentially (the default)
// or through a bounded errgroup when parallel > 1. Cancellation is
// honored between batches; already-applied batches are never rolled back.
func (r *Reconciler) dispatchBatches(
	ctx context.Context,
	n, parallel int,
	handler func(ctx context.Context, i int),
) error {
	if parallel <= 1 {
		for i := range n {
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("reconcile canceled after %d batches: %w", i, err)
			}

			handler(ctx, i)
		}

		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallel)

	for i := range n {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			handler(gctx, i)

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("reconcile canceled: %w", err)
	}

	return nil
}

// snapshotToNode builds the mirror row for an observed snapshot.
func snapshotToNode(rootID string, snap Snapshot, sig string, now int64) *mirror.Node {
	return &mirror.Node{
		RemoteID:         snap.RemoteID,
		Name:             snap.Name,
		Kind:             snap.Kind,
		ParentRemoteID:   snap.ParentRemoteID,
		RootID:           rootID,
		Depth:            snap.Depth,
		Path:             snap.Path,
		ContentSignature: sig,
		ModifiedAt:       mirror.ToUnixNano(snap.ModifiedAt),
		MimeType:         snap.MimeType,
		Size:             snap.Size,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// chunkEntries splits entries into batches of at most size.
func chunkEntries(entries []deltaEntry, size int) [][]deltaEntry {
	var batches [][]deltaEntry

	for start := 0; start < len(entries); start += size {
		end := min(start+size, len(entries))
		batches = append(batches, entries[start:end])
	}

	return batches
}

// chunkStrings splits ids into batches of at most size.
func chunkStrings(ids []string, size int) [][]string {
	var batches [][]string

	for start := 0; start < len(ids); start += size {
		end := min(start+size, len(ids))
		batches = append(batches, ids[start:end])
	}

	return batches
}

func (r *Reconciler) logSummary(summary *Summary) {
	r.logger.Info("reconciliation complete",
		"root_id", summary.RootID,
		"created", summary.Created,
		"updated", summary.Updated,
		"unchanged", summary.Unchanged,
		"deleted_candidates", summary.DeletedCandidates,
		"deleted", summary.Deleted,
		"errors", len(summary.Errors),
		"dry_run", summary.DryRun,
	)
}
