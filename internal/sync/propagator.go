package sync

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/dhgarchive/drivemirror/internal/mirror"
)

// Propagator fills in the inheritable primary association top-down: every
// descendant lacking a value inherits from the nearest ancestor that
// defines one. A node that already carries a non-null value is never
// overwritten: nearest-explicit-assignment wins, not nearest-ancestor.
type Propagator struct {
	store  PropagatorStore
	logger *slog.Logger
}

// NewPropagator creates a Propagator writing through the given store.
func NewPropagator(store PropagatorStore, logger *slog.Logger) *Propagator {
	if logger == nil {
		logger = slog.Default()
	}

	return &Propagator{store: store, logger: logger}
}

// Propagate runs a single top-down pass over the subtree rooted at
// rootID. If the root itself lacks an association, the subtree is
// searched depth-first (containers before leaves, lexicographic by name,
// deterministic for a fixed mirror state) for the first node satisfying
// the anchor predicate, and that anchor's remote ID is assigned to the
// root. The inherited value is carried through the traversal in memory,
// keeping the pass O(n).
func (p *Propagator) Propagate(
	ctx context.Context,
	rootID string,
	anchor AnchorPredicate,
	dryRun bool,
) (*PropagationResult, error) {
	p.logger.Info("propagation started", "root_id", rootID, "dry_run", dryRun)

	scope, err := p.store.QueryScope(ctx, rootID)
	if err != nil {
		return nil, fmt.Errorf("query mirror scope %s: %w", rootID, err)
	}

	byID := make(map[string]*mirror.Node, len(scope))
	for _, node := range scope {
		byID[node.RemoteID] = node
	}

	root, ok := byID[rootID]
	if !ok {
		return nil, fmt.Errorf("root %s not found in mirror", rootID)
	}

	children := childIndex(scope)
	result := &PropagationResult{RootID: rootID, DryRun: dryRun}

	carry := ""
	if root.PrimaryAssociationID != nil {
		carry = *root.PrimaryAssociationID
	} else {
		anchorNode := findAnchor(root, children, anchor)
		if anchorNode == nil {
			p.logger.Info("no anchor found, nothing to propagate", "root_id", rootID)
			return result, nil
		}

		result.AnchorID = anchorNode.RemoteID
		carry = anchorNode.RemoteID

		if err := p.assign(ctx, root, carry, dryRun, result); err != nil {
			return result, err
		}
	}

	if err := p.walkDown(ctx, root, children, carry, dryRun, result); err != nil {
		return result, err
	}

	p.logger.Info("propagation complete",
		"root_id", rootID, "anchor_id", result.AnchorID, "assigned", result.Assigned)

	return result, nil
}

// walkDown carries the inherited value into the subtree below node.
// A child with an explicit value becomes the carrier for its own subtree.
func (p *Propagator) walkDown(
	ctx context.Context,
	node *mirror.Node,
	children map[string][]*mirror.Node,
	carry string,
	dryRun bool,
	result *PropagationResult,
) error {
	for _, child := range children[node.RemoteID] {
		childCarry := carry

		if child.PrimaryAssociationID != nil {
			childCarry = *child.PrimaryAssociationID
		} else if err := p.assign(ctx, child, carry, dryRun, result); err != nil {
			return err
		}

		if child.Kind == mirror.KindContainer {
			if err := p.walkDown(ctx, child, children, childCarry, dryRun, result); err != nil {
				return err
			}
		}
	}

	return nil
}

// assign writes the inherited value to one node (or only counts it in a
// dry run) and updates the in-memory copy so the pass never re-queries.
func (p *Propagator) assign(
	ctx context.Context,
	node *mirror.Node,
	value string,
	dryRun bool,
	result *PropagationResult,
) error {
	if !dryRun {
		if err := p.store.SetPrimaryAssociation(ctx, node.RemoteID, value); err != nil {
			return fmt.Errorf("assign association to %s: %w", node.RemoteID, err)
		}
	}

	node.PrimaryAssociationID = mirror.StringPtr(value)
	result.Assigned++

	return nil
}

// findAnchor searches the subtree depth-first in deterministic child
// order for the first node satisfying the predicate.
func findAnchor(
	root *mirror.Node,
	children map[string][]*mirror.Node,
	anchor AnchorPredicate,
) *mirror.Node {
	stack := []*mirror.Node{root}

	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if anchor(node) {
			return node
		}

		// Push in reverse so the first child is visited first.
		kids := children[node.RemoteID]
		for i := len(kids) - 1; i >= 0; i-- {
			stack = append(stack, kids[i])
		}
	}

	return nil
}

// childIndex groups nodes by parent with deterministic ordering:
// containers before leaves, then lexicographic by name, then by remote ID.
func childIndex(scope []*mirror.Node) map[string][]*mirror.Node {
	children := make(map[string][]*mirror.Node)

	for _, node := range scope {
		if node.ParentRemoteID == "" {
			continue
		}

		children[node.ParentRemoteID] = append(children[node.ParentRemoteID], node)
	}

	for _, kids := range children {
		sort.Slice(kids, func(i, j int) bool {
			if kids[i].Kind != kids[j].Kind {
				return kids[i].Kind == mirror.KindContainer
			}

			if kids[i].Name != kids[j].Name {
				return kids[i].Name < kids[j].Name
			}

			return kids[i].RemoteID < kids[j].RemoteID
		})
	}

	return children
}
