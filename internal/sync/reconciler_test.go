package sync

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dhgarchive/drivemirror/internal/mirror"
	"github.com/dhgarchive/drivemirror/testutil"
)

// snapshotSeq builds a walk sequence from fixed snapshots and trailing
// branch errors, for tests that bypass the walker.
func snapshotSeq(snaps []Snapshot, errs ...error) iter.Seq2[Snapshot, error] {
	return func(yield func(Snapshot, error) bool) {
		for _, s := range snaps {
			if !yield(s, nil) {
				return
			}
		}

		for _, e := range errs {
			if !yield(Snapshot{}, e) {
				return
			}
		}
	}
}

// runSync walks the fake provider and reconciles into the store.
func runSync(t *testing.T, p *fakeProvider, store ReconcilerStore, opts ReconcileOptions) *Summary {
	t.Helper()

	w, err := NewWalker(p, nil, testLogger(t))
	require.NoError(t, err)

	r := NewReconciler(store, testLogger(t))

	summary, err := r.Reconcile(context.Background(), "root1", w.Walk(context.Background(), "root1", -1), opts)
	require.NoError(t, err)

	return summary
}

// scopeByID loads the live scope keyed by remote id.
func scopeByID(t *testing.T, store *mirror.SQLiteStore, rootID string) map[string]*mirror.Node {
	t.Helper()

	scope, err := store.QueryScope(context.Background(), rootID)
	require.NoError(t, err)

	byID := make(map[string]*mirror.Node, len(scope))
	for _, n := range scope {
		byID[n.RemoteID] = n
	}

	return byID
}

func TestReconcile_CreateThenIdempotentThenRename(t *testing.T) {
	store := testutil.OpenStore(t)
	p := fourNodeProvider()

	// First sync: four rows created.
	summary := runSync(t, p, store, ReconcileOptions{})
	assert.Equal(t, 4, summary.Created)
	assert.Equal(t, 0, summary.Updated)
	assert.Equal(t, 0, summary.Unchanged)
	assert.Equal(t, 0, summary.Deleted)
	assert.Empty(t, summary.Errors)
	assert.Len(t, summary.NewLeaves, 2)

	byID := scopeByID(t, store, "root1")
	require.Len(t, byID, 4)

	assert.Equal(t, 0, byID["root1"].Depth)
	assert.Equal(t, "R", byID["root1"].Path)
	assert.Equal(t, 1, byID["f1"].Depth)
	assert.Equal(t, "R/S", byID["f1"].Path)
	assert.Equal(t, 2, byID["t1"].Depth)
	assert.Equal(t, "R/S/b.txt", byID["t1"].Path)

	// Structural invariants hold for every non-root node.
	for _, n := range byID {
		if n.IsRoot() {
			continue
		}

		parent := byID[n.ParentRemoteID]
		require.NotNil(t, parent)
		assert.Equal(t, parent.Depth+1, n.Depth)
		assert.Equal(t, parent.Path+"/"+n.Name, n.Path)
		assert.Equal(t, "root1", n.RootID)
	}

	// Second identical sync: zero writes.
	summary = runSync(t, p, store, ReconcileOptions{})
	assert.Equal(t, 0, summary.Created)
	assert.Equal(t, 0, summary.Updated)
	assert.Equal(t, 0, summary.Deleted)
	assert.Equal(t, 4, summary.Unchanged)

	// Rename b.txt -> b2.txt, same remote id.
	t1Before := byID["t1"]
	renameLeaf(p, "f1", "t1", "b2.txt")

	summary = runSync(t, p, store, ReconcileOptions{})
	assert.Equal(t, 1, summary.Updated)
	assert.Equal(t, 3, summary.Unchanged)
	assert.Equal(t, 0, summary.Created)
	assert.Empty(t, summary.NewLeaves, "an update is not a new leaf")

	byID = scopeByID(t, store, "root1")
	t1After := byID["t1"]
	assert.Equal(t, "R/S/b2.txt", t1After.Path)
	assert.Equal(t, 2, t1After.Depth)
	assert.Equal(t, "root1", t1After.RootID)
	assert.Equal(t, t1Before.CreatedAt, t1After.CreatedAt)
	assert.NotEqual(t, t1Before.ContentSignature, t1After.ContentSignature)
}

// renameLeaf renames a child in the fixture, keeping its id.
func renameLeaf(p *fakeProvider, parentID, id, newName string) {
	kids := p.children[parentID]
	for i := range kids {
		if kids[i].ID == id {
			kids[i].Name = newName
			p.files[id].Name = newName
		}
	}
}

func TestReconcile_MissingInRemoteSoftDeletes(t *testing.T) {
	store := testutil.OpenStore(t)
	p := fourNodeProvider()

	runSync(t, p, store, ReconcileOptions{})

	// t1 disappears from the remote.
	p.children["f1"] = p.children["f1"][:1]
	delete(p.files, "t1")

	summary := runSync(t, p, store, ReconcileOptions{})
	assert.Equal(t, 1, summary.DeletedCandidates)
	assert.Equal(t, 1, summary.Deleted)

	byID := scopeByID(t, store, "root1")
	assert.NotContains(t, byID, "t1")

	deleted, err := store.ListDeleted(context.Background(), "root1")
	require.NoError(t, err)
	require.Len(t, deleted, 1)
	assert.Equal(t, "t1", deleted[0].RemoteID)
	assert.True(t, deleted[0].IsDeleted)
	assert.NotNil(t, deleted[0].DeletedAt)
}

func TestReconcile_EmptyEnumerationGuard(t *testing.T) {
	store := testutil.OpenStore(t)
	p := fourNodeProvider()

	runSync(t, p, store, ReconcileOptions{})

	r := NewReconciler(store, testLogger(t))

	walkErr := &BranchError{ContainerID: "root1", Err: errors.New("boom")}

	_, err := r.Reconcile(context.Background(), "root1", snapshotSeq(nil, walkErr), ReconcileOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEmptyEnumeration)

	var emptyErr *EmptyEnumerationError
	require.ErrorAs(t, err, &emptyErr)
	assert.Equal(t, "root1", emptyErr.RootID)
	assert.Len(t, emptyErr.BranchErrors, 1)

	// Zero writes: the whole scope survives.
	byID := scopeByID(t, store, "root1")
	assert.Len(t, byID, 4)
}

func TestReconcile_RootExemptFromDeletion(t *testing.T) {
	store := testutil.OpenStore(t)
	p := fourNodeProvider()

	runSync(t, p, store, ReconcileOptions{})

	// An enumeration that somehow misses the root row itself must not
	// soft-delete it.
	snaps := []Snapshot{{
		RemoteID:       "f1",
		Name:           "S",
		Kind:           mirror.KindContainer,
		ParentRemoteID: "root1",
		Depth:          1,
		Path:           "R/S",
		ModifiedAt:     fixtureTime,
	}}

	r := NewReconciler(store, testLogger(t))

	summary, err := r.Reconcile(context.Background(), "root1", snapshotSeq(snaps), ReconcileOptions{})
	require.NoError(t, err)

	byID := scopeByID(t, store, "root1")
	assert.Contains(t, byID, "root1", "designated roots are exempt by construction")
	assert.NotContains(t, byID, "m1")
	assert.NotContains(t, byID, "t1")
	assert.Equal(t, 2, summary.Deleted)
}

func TestReconcile_FailedBranchExemptFromDeletion(t *testing.T) {
	store := testutil.OpenStore(t)
	p := fourNodeProvider()

	runSync(t, p, store, ReconcileOptions{})

	// The next walk fails to list f1: its subtree is unseen, not absent.
	p.failList["f1"] = fmt.Errorf("listing: %w", errors.New("backend hiccup"))

	summary := runSync(t, p, store, ReconcileOptions{})
	assert.Equal(t, 0, summary.DeletedCandidates)
	assert.Equal(t, 0, summary.Deleted)
	require.Len(t, summary.Errors, 1)

	var branchErr *BranchError
	require.ErrorAs(t, summary.Errors[0], &branchErr)

	byID := scopeByID(t, store, "root1")
	assert.Contains(t, byID, "m1")
	assert.Contains(t, byID, "t1")
}

func TestReconcile_DryRun(t *testing.T) {
	store := testutil.OpenStore(t)
	p := fourNodeProvider()

	summary := runSync(t, p, store, ReconcileOptions{DryRun: true})
	assert.True(t, summary.DryRun)
	assert.Equal(t, 4, summary.Created)
	assert.Len(t, summary.NewLeaves, 2)

	scope, err := store.QueryScope(context.Background(), "root1")
	require.NoError(t, err)
	assert.Empty(t, scope, "dry run performs zero mirror writes")
}

func TestReconcile_ParallelDispatch(t *testing.T) {
	store := testutil.OpenStore(t)
	p := fourNodeProvider()

	summary := runSync(t, p, store, ReconcileOptions{BatchSize: 1, Parallel: 4})
	assert.Equal(t, 4, summary.Created)
	assert.Empty(t, summary.Errors)
	assert.Len(t, scopeByID(t, store, "root1"), 4)
}

// failingStore fails whole upsert batches and attributes soft-delete
// failures per node.
type failingStore struct {
	scope     []*mirror.Node
	upsertErr error
	nodeErr   error
}

func (s *failingStore) QueryScope(context.Context, string) ([]*mirror.Node, error) {
	return s.scope, nil
}

func (s *failingStore) BatchUpsert(_ context.Context, nodes []*mirror.Node) (*mirror.BatchResult, error) {
	if s.upsertErr != nil {
		return nil, s.upsertErr
	}

	return &mirror.BatchResult{Succeeded: len(nodes)}, nil
}

func (s *failingStore) BatchSoftDelete(_ context.Context, ids []string, _ int64) (*mirror.BatchResult, error) {
	result := &mirror.BatchResult{}

	for _, id := range ids {
		if s.nodeErr != nil {
			result.Failed = append(result.Failed, mirror.NodeError{RemoteID: id, Err: s.nodeErr})
			continue
		}

		result.Succeeded++
	}

	return result, nil
}

func TestReconcile_BatchFailureIsolation(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	stale := &mirror.Node{
		RemoteID: "gone", Name: "gone.txt", Kind: mirror.KindLeaf,
		ParentRemoteID: "root1", RootID: "root1", Depth: 1, Path: "R/gone.txt",
	}
	store := &failingStore{
		scope:     []*mirror.Node{stale},
		upsertErr: errors.New("disk full"),
		nodeErr:   errors.New("row locked"),
	}

	snaps := []Snapshot{
		{RemoteID: "root1", Name: "R", Kind: mirror.KindContainer, Depth: 0, Path: "R", ModifiedAt: now},
		{RemoteID: "n1", Name: "a.txt", Kind: mirror.KindLeaf, ParentRemoteID: "root1",
			Depth: 1, Path: "R/a.txt", ModifiedAt: now},
	}

	r := NewReconciler(store, testLogger(t))

	summary, err := r.Reconcile(context.Background(), "root1",
		snapshotSeq(snaps), ReconcileOptions{BatchSize: 1})
	require.NoError(t, err, "batch failures are recorded, never returned")

	assert.Equal(t, 0, summary.Created)
	assert.Equal(t, 0, summary.Deleted)
	require.Len(t, summary.Errors, 3, "two upsert batches plus one per-node delete failure")

	var batchErr *BatchError
	require.ErrorAs(t, summary.Errors[0], &batchErr)
	assert.Equal(t, BatchOpUpsert, batchErr.Op)

	require.ErrorAs(t, summary.Errors[2], &batchErr)
	assert.Equal(t, BatchOpSoftDelete, batchErr.Op)
	assert.Equal(t, "gone", batchErr.RemoteID)
}

func TestReconcile_DuplicateObservationsKeepLast(t *testing.T) {
	store := testutil.OpenStore(t)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	snaps := []Snapshot{
		{RemoteID: "root1", Name: "R", Kind: mirror.KindContainer, Depth: 0, Path: "R", ModifiedAt: now},
		{RemoteID: "n1", Name: "old.txt", Kind: mirror.KindLeaf, ParentRemoteID: "root1",
			Depth: 1, Path: "R/old.txt", ModifiedAt: now},
		{RemoteID: "n1", Name: "new.txt", Kind: mirror.KindLeaf, ParentRemoteID: "root1",
			Depth: 1, Path: "R/new.txt", ModifiedAt: now},
	}

	r := NewReconciler(store, testLogger(t))

	summary, err := r.Reconcile(context.Background(), "root1", snapshotSeq(snaps), ReconcileOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Created)

	byID := scopeByID(t, store, "root1")
	require.Contains(t, byID, "n1")
	assert.Equal(t, "R/new.txt", byID["n1"].Path)
}

func TestReconcile_ContainerRenameCascades(t *testing.T) {
	store := testutil.OpenStore(t)
	p := fourNodeProvider()

	runSync(t, p, store, ReconcileOptions{})
	before := scopeByID(t, store, "root1")

	// Rename the folder S -> S2; descendants keep their own names and
	// signatures but move with it.
	renameLeaf(p, "root1", "f1", "S2")

	summary := runSync(t, p, store, ReconcileOptions{})
	assert.Equal(t, 3, summary.Updated, "container plus two descendants")
	assert.Equal(t, 1, summary.Unchanged)
	assert.Equal(t, 0, summary.Created)
	assert.Equal(t, 0, summary.Deleted)

	byID := scopeByID(t, store, "root1")
	assert.Equal(t, "R/S2", byID["f1"].Path)
	assert.Equal(t, "R/S2/a.mp4", byID["m1"].Path)
	assert.Equal(t, "R/S2/b.txt", byID["t1"].Path)

	// Descendant paths stay consistent with the renamed parent.
	assert.Equal(t, byID["f1"].Path+"/"+byID["t1"].Name, byID["t1"].Path)

	// The descendants moved without changing content.
	assert.Equal(t, before["t1"].ContentSignature, byID["t1"].ContentSignature)
	assert.Equal(t, before["t1"].CreatedAt, byID["t1"].CreatedAt)
	assert.NotEqual(t, before["f1"].ContentSignature, byID["f1"].ContentSignature)
}

// runBoundedSync reconciles a walk with a depth bound and skip patterns.
func runBoundedSync(t *testing.T, p *fakeProvider, store ReconcilerStore, patterns []string, maxDepth int) *Summary {
	t.Helper()

	w, err := NewWalker(p, patterns, testLogger(t))
	require.NoError(t, err)

	r := NewReconciler(store, testLogger(t))

	summary, err := r.Reconcile(context.Background(), "root1",
		w.Walk(context.Background(), "root1", maxDepth), ReconcileOptions{})
	require.NoError(t, err)

	return summary
}

func TestReconcile_DepthBoundExemptFromDeletion(t *testing.T) {
	store := testutil.OpenStore(t)
	p := fourNodeProvider()

	runSync(t, p, store, ReconcileOptions{})

	// A shallower re-sync stops at depth 1: f1's children are unseen,
	// not absent, and must survive.
	summary := runBoundedSync(t, p, store, nil, 1)
	assert.Equal(t, 0, summary.DeletedCandidates)
	assert.Equal(t, 0, summary.Deleted)
	assert.Equal(t, 2, summary.Unchanged)

	byID := scopeByID(t, store, "root1")
	assert.Contains(t, byID, "m1")
	assert.Contains(t, byID, "t1")

	// Root-only walks likewise leave the whole subtree alone.
	summary = runBoundedSync(t, p, store, nil, 0)
	assert.Equal(t, 0, summary.Deleted)
	assert.Len(t, scopeByID(t, store, "root1"), 4)
}

func TestReconcile_SkipPatternExemptFromDeletion(t *testing.T) {
	store := testutil.OpenStore(t)
	p := fourNodeProvider()

	runSync(t, p, store, ReconcileOptions{})

	// The next sync skips S: its subtree is unseen, not absent.
	summary := runBoundedSync(t, p, store, []string{"S"}, -1)
	assert.Equal(t, 0, summary.DeletedCandidates)
	assert.Equal(t, 0, summary.Deleted)
	assert.Equal(t, 1, summary.Unchanged, "the skipped node is never compared")
	assert.Equal(t, 0, summary.Updated)

	assert.Len(t, scopeByID(t, store, "root1"), 4)
}

func TestReconcile_RenamedBoundaryContainerKeepsSubtree(t *testing.T) {
	store := testutil.OpenStore(t)
	p := fourNodeProvider()

	runSync(t, p, store, ReconcileOptions{})

	// S is renamed and the re-sync stops before its children: the old
	// mirror paths under R/S are still exempt.
	renameLeaf(p, "root1", "f1", "S2")

	summary := runBoundedSync(t, p, store, nil, 1)
	assert.Equal(t, 0, summary.Deleted)
	assert.Equal(t, 1, summary.Updated)

	byID := scopeByID(t, store, "root1")
	assert.Equal(t, "R/S2", byID["f1"].Path)
	assert.Contains(t, byID, "m1")
	assert.Contains(t, byID, "t1")
}
