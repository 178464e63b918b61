package sync

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dhgarchive/drivemirror/internal/mirror"
	"github.com/dhgarchive/drivemirror/testutil"
)

func TestTreeBuilder_Build(t *testing.T) {
	store := testutil.OpenStore(t)
	seedVideoTree(t, store)

	// Give the leaves sizes for the aggregate.
	byID := scopeByID(t, store, "root1")
	byID["m1"].Size = mirror.Int64Ptr(100)
	byID["t1"].Size = mirror.Int64Ptr(10)
	require.NoError(t, store.UpsertNode(context.Background(), byID["m1"]))
	require.NoError(t, store.UpsertNode(context.Background(), byID["t1"]))

	b := NewTreeBuilder(store, testLogger(t))

	tree, err := b.Build(context.Background(), "root1")
	require.NoError(t, err)

	assert.Equal(t, 4, tree.Nodes)
	assert.Equal(t, 2, tree.Containers)
	assert.Equal(t, 2, tree.Leaves)
	assert.Equal(t, 2, tree.MaxDepth)
	assert.Equal(t, int64(110), tree.TotalSize)
	assert.Empty(t, tree.Orphans)

	require.Equal(t, "root1", tree.Root.RemoteID)
	require.Len(t, tree.Root.Children, 1)

	folder := tree.Root.Children[0]
	assert.Equal(t, "f1", folder.RemoteID)
	require.Len(t, folder.Children, 2)
	assert.Equal(t, "m1", folder.Children[0].RemoteID)
	assert.Equal(t, "t1", folder.Children[1].RemoteID)
}

func TestTreeBuilder_ChildOrdering(t *testing.T) {
	store := testutil.OpenStore(t)

	seedNode(t, store, &mirror.Node{
		RemoteID: "r", Name: "R", Kind: mirror.KindContainer,
		RootID: "r", Depth: 0, Path: "R",
	})

	// Insertion order deliberately scrambled: a leaf named "aaa" sorts
	// after the container named "zzz" because containers come first.
	seedNode(t, store, &mirror.Node{
		RemoteID: "leaf-a", Name: "aaa", Kind: mirror.KindLeaf, ParentRemoteID: "r",
		RootID: "r", Depth: 1, Path: "R/aaa",
	})
	seedNode(t, store, &mirror.Node{
		RemoteID: "dir-z", Name: "zzz", Kind: mirror.KindContainer, ParentRemoteID: "r",
		RootID: "r", Depth: 1, Path: "R/zzz",
	})
	seedNode(t, store, &mirror.Node{
		RemoteID: "dir-b", Name: "bbb", Kind: mirror.KindContainer, ParentRemoteID: "r",
		RootID: "r", Depth: 1, Path: "R/bbb",
	})

	b := NewTreeBuilder(store, testLogger(t))

	tree, err := b.Build(context.Background(), "r")
	require.NoError(t, err)

	var order []string
	for _, child := range tree.Root.Children {
		order = append(order, child.RemoteID)
	}

	assert.Equal(t, []string{"dir-b", "dir-z", "leaf-a"}, order)
}

func TestTreeBuilder_OrphansReported(t *testing.T) {
	store := testutil.OpenStore(t)

	seedNode(t, store, &mirror.Node{
		RemoteID: "r", Name: "R", Kind: mirror.KindContainer,
		RootID: "r", Depth: 0, Path: "R",
	})

	// Parent "lost" is not in the scope.
	seedNode(t, store, &mirror.Node{
		RemoteID: "stray", Name: "stray.txt", Kind: mirror.KindLeaf, ParentRemoteID: "lost",
		RootID: "r", Depth: 2, Path: "R/lost/stray.txt",
	})

	b := NewTreeBuilder(store, testLogger(t))

	tree, err := b.Build(context.Background(), "r")
	require.NoError(t, err)

	assert.Empty(t, tree.Root.Children)
	require.Len(t, tree.Orphans, 1)
	assert.Equal(t, "stray", tree.Orphans[0].RemoteID)
	assert.Equal(t, "lost", tree.Orphans[0].ParentRemoteID,
		"orphans report which parent is missing")
}

func TestTreeBuilder_UnknownRoot(t *testing.T) {
	store := testutil.OpenStore(t)

	b := NewTreeBuilder(store, testLogger(t))

	_, err := b.Build(context.Background(), "ghost")
	require.Error(t, err)
}
