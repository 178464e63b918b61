package sync

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dhgarchive/drivemirror/internal/mirror"
)

// TreeNode is one node of a materialized hierarchy report.
type TreeNode struct {
	RemoteID       string          `json:"remote_id"`
	Name           string          `json:"name"`
	Kind           mirror.NodeKind `json:"kind"`
	ParentRemoteID string          `json:"parent_remote_id,omitempty"`
	Depth          int             `json:"depth"`
	Path           string          `json:"path"`
	Size           *int64          `json:"size,omitempty"`
	Children       []*TreeNode     `json:"children,omitempty"`
}

// Tree is the report produced by TreeBuilder: the reassembled hierarchy
// plus any rows whose parent is missing from the scope.
type Tree struct {
	Root       *TreeNode   `json:"root"`
	Nodes      int         `json:"nodes"`
	Containers int         `json:"containers"`
	Leaves     int         `json:"leaves"`
	MaxDepth   int         `json:"max_depth"`
	TotalSize  int64       `json:"total_size"`
	Orphans    []*TreeNode `json:"orphans,omitempty"`
}

// TreeBuilder reassembles the flat mirror rows of one root into a
// nested hierarchy in two passes over the scope.
type TreeBuilder struct {
	store  TreeStore
	logger *slog.Logger
}

// NewTreeBuilder creates a TreeBuilder reading from the given store.
func NewTreeBuilder(store TreeStore, logger *slog.Logger) *TreeBuilder {
	if logger == nil {
		logger = slog.Default()
	}

	return &TreeBuilder{store: store, logger: logger}
}

// Build materializes the hierarchy under rootID. Children are ordered
// containers first, then lexicographically by name, with remote ID as
// the final tie-break, so repeated builds over an unchanged mirror
// produce identical output. Rows whose parent is absent from the scope
// are reported under Orphans rather than silently dropped.
func (b *TreeBuilder) Build(ctx context.Context, rootID string) (*Tree, error) {
	scope, err := b.store.QueryScope(ctx, rootID)
	if err != nil {
		return nil, fmt.Errorf("query mirror scope %s: %w", rootID, err)
	}

	if len(scope) == 0 {
		return nil, fmt.Errorf("root %s not found in mirror", rootID)
	}

	// First pass: one TreeNode per row.
	byID := make(map[string]*TreeNode, len(scope))
	for _, node := range scope {
		byID[node.RemoteID] = &TreeNode{
			RemoteID:       node.RemoteID,
			Name:           node.Name,
			Kind:           node.Kind,
			ParentRemoteID: node.ParentRemoteID,
			Depth:          node.Depth,
			Path:           node.Path,
			Size:           node.Size,
		}
	}

	root, ok := byID[rootID]
	if !ok {
		return nil, fmt.Errorf("root %s not found in mirror", rootID)
	}

	tree := &Tree{Root: root, Nodes: len(scope)}

	// Second pass: attach children and accumulate the stats.
	children := childIndex(scope)
	for _, node := range scope {
		switch node.Kind {
		case mirror.KindContainer:
			tree.Containers++
		case mirror.KindLeaf:
			tree.Leaves++
		}

		if node.Depth > tree.MaxDepth {
			tree.MaxDepth = node.Depth
		}

		if node.Size != nil {
			tree.TotalSize += *node.Size
		}

		if node.RemoteID == rootID {
			continue
		}

		if _, ok := byID[node.ParentRemoteID]; !ok {
			b.logger.Warn("orphan node in mirror",
				"remote_id", node.RemoteID, "parent_id", node.ParentRemoteID)
			tree.Orphans = append(tree.Orphans, byID[node.RemoteID])
		}
	}

	attachChildren(root, children, byID)

	for _, orphan := range tree.Orphans {
		attachChildren(orphan, children, byID)
	}

	return tree, nil
}

// attachChildren wires the child ordering from childIndex into the
// report nodes, recursively.
func attachChildren(
	node *TreeNode,
	children map[string][]*mirror.Node,
	byID map[string]*TreeNode,
) {
	for _, child := range children[node.RemoteID] {
		treeChild := byID[child.RemoteID]
		node.Children = append(node.Children, treeChild)

		if child.Kind == mirror.KindContainer {
			attachChildren(treeChild, children, byID)
		}
	}
}
