// Package sync implements the reconciliation engine for drivemirror: the
// remote tree walker, the signature engine, the reconciler with its
// empty-enumeration guard, the attribute inheritance propagator, the
// hierarchy report builder, and the integrity auditor. All components
// operate against consumer-defined interfaces so the remote store and the
// mirror can be substituted with fakes in tests.
package sync

import (
	"context"
	"time"

	"github.com/dhgarchive/drivemirror/internal/drive"
	"github.com/dhgarchive/drivemirror/internal/mirror"
)

// Snapshot is one node observation produced by the remote tree walker.
// Depth and Path are computed from the traversal stack, never fetched
// from the remote side.
type Snapshot struct {
	RemoteID       string
	Name           string
	Kind           mirror.NodeKind
	ParentRemoteID string // empty for the walked root
	Depth          int
	Path           string // slash-joined names from root to node
	MimeType       string
	Size           *int64
	ModifiedAt     time.Time

	// SubtreeUnseen marks a container whose children were deliberately
	// not enumerated (the depth bound stopped the walk here, or the
	// container matched a skip pattern). Mirror rows beneath this path
	// were unseen, not absent, and must not be classified missing.
	SubtreeUnseen bool

	// Unseen marks a node that matched a skip pattern. It is emitted
	// only so the reconciler knows where the boundary lies: the node is
	// never compared and never written.
	Unseen bool
}

// DeltaKind classifies one observed-vs-mirror comparison.
type DeltaKind int

// Delta classifications.
const (
	DeltaCreate DeltaKind = iota
	DeltaUpdate
	DeltaUnchanged
	DeltaMissingInRemote
)

// String returns the classification name for logging.
func (k DeltaKind) String() string {
	switch k {
	case DeltaCreate:
		return "create"
	case DeltaUpdate:
		return "update"
	case DeltaUnchanged:
		return "unchanged"
	case DeltaMissingInRemote:
		return "missing_in_remote"
	default:
		return "unknown"
	}
}

// Summary is the outcome of one reconciliation run. Every classified delta
// ends up either as an applied write or as a recorded error; the summary
// is always returned, never discarded on partial failure.
type Summary struct {
	RootID            string
	Created           int
	Updated           int
	Unchanged         int
	DeletedCandidates int
	Deleted           int
	DryRun            bool

	// NewLeaves are the snapshots classified Create with leaf kind,
	// in observation order. The pipeline derives processing records
	// from them.
	NewLeaves []Snapshot

	// Errors collects branch errors from the walk and batch errors from
	// the apply phase. A non-empty slice does not mean the run failed.
	Errors []error
}

// PropagationResult reports one attribute-inheritance pass.
type PropagationResult struct {
	RootID   string
	AnchorID string // remote ID of the resolved anchor, empty if none found
	Assigned int
	DryRun   bool
}

// AnchorPredicate identifies which descendant's identity should be
// inherited as a subtree's primary association. Supplied by the caller.
type AnchorPredicate func(*mirror.Node) bool

// --- Consumer-defined collaborator interfaces ---
// These decouple the engine from the concrete drive client and SQLite
// store, following the "accept interfaces, return structs" convention.

// TreeProvider enumerates the remote hierarchical store.
type TreeProvider interface {
	// ListChildren returns one page of non-trashed children. Pass an
	// empty pageToken for the first page.
	ListChildren(ctx context.Context, containerID, pageToken string) (*drive.Page, error)
	// GetFile returns a single node, or an error wrapping drive.ErrNotFound.
	GetFile(ctx context.Context, fileID string) (*drive.File, error)
}

// ReconcilerStore is the mirror access the reconciler needs.
type ReconcilerStore interface {
	QueryScope(ctx context.Context, rootID string) ([]*mirror.Node, error)
	BatchUpsert(ctx context.Context, nodes []*mirror.Node) (*mirror.BatchResult, error)
	BatchSoftDelete(ctx context.Context, remoteIDs []string, deletedAt int64) (*mirror.BatchResult, error)
}

// PropagatorStore is the mirror access the propagator needs.
type PropagatorStore interface {
	QueryScope(ctx context.Context, rootID string) ([]*mirror.Node, error)
	SetPrimaryAssociation(ctx context.Context, remoteID, associationID string) error
}

// TreeStore is the mirror access the report builder needs. It never writes.
type TreeStore interface {
	QueryScope(ctx context.Context, rootID string) ([]*mirror.Node, error)
}

// AuditorStore is the mirror access the integrity auditor needs.
type AuditorStore interface {
	QueryScope(ctx context.Context, rootID string) ([]*mirror.Node, error)
	SetCategory(ctx context.Context, remoteID string, categoryID *string) error
}

// Queue receives one processing record per newly created leaf. The
// classification subsystem consumes the records asynchronously; the
// engine never calls it directly.
type Queue interface {
	Enqueue(ctx context.Context, record *mirror.ProcessingRecord) error
}
