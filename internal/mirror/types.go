// Package mirror implements the relational mirror of the remote hierarchy:
// the node table, the processing queue, and the SQLite store that backs
// both. All engine components operate against consumer-defined interfaces;
// this package provides the concrete implementation.
package mirror

import "time"

// NodeKind represents the kind of mirrored node.
type NodeKind string

// Node kinds as stored in the database kind column.
const (
	KindContainer NodeKind = "container"
	KindLeaf      NodeKind = "leaf"
)

// Node represents one row of the mirror: the structural and identity
// metadata of a remote file or folder at the time of the last sync.
// Content is never mirrored: only name, position, and modification time.
type Node struct {
	// Identity
	RemoteID       string
	Name           string
	Kind           NodeKind
	ParentRemoteID string // empty only for designated roots
	RootID         string // assigned once at creation, never changed
	Depth          int    // root = 0, invariant depth = parent depth + 1
	Path           string // slash-joined names from root, invariant path = parent path + "/" + name

	// Change detection
	ContentSignature string
	ModifiedAt       int64 // remote modification time, Unix nanoseconds

	// Observed remote metadata
	MimeType string
	Size     *int64 // nil for containers and sizeless native documents

	// Classification (written by the external classification subsystem,
	// validated and repaired by the integrity auditor)
	CategoryID *string

	// Inheritable association (filled by the propagator)
	PrimaryAssociationID *string

	// Tombstone fields
	IsDeleted bool
	DeletedAt *int64 // Unix nanoseconds

	// Row metadata
	CreatedAt int64 // Unix nanoseconds
	UpdatedAt int64 // Unix nanoseconds
}

// IsRoot reports whether the node is a designated root. Roots have no
// parent and are never eligible for automatic soft-deletion.
func (n *Node) IsRoot() bool {
	return n.ParentRemoteID == ""
}

// Disposition is the initial processing disposition assigned to a newly
// discovered leaf, derived purely from kind and declared content type.
type Disposition string

// Dispositions as stored in the processing_queue disposition column.
const (
	NeedsProcessing Disposition = "needs_processing"
	SkipProcessing  Disposition = "skip_processing"
)

// ProcessingRecord is one placeholder per newly discovered leaf node.
// Created here, consumed and owned by the external classification
// subsystem, which later writes back the node's category.
type ProcessingRecord struct {
	ID             string // uuid
	SourceRemoteID string
	Disposition    Disposition
	CreatedAt      int64 // Unix nanoseconds
}

// NodeError attributes a write failure to a single node.
type NodeError struct {
	RemoteID string
	Err      error
}

// BatchResult reports the outcome of one batched write. Failures are
// per-node: a failed node never hides its siblings' successes.
type BatchResult struct {
	Succeeded int
	Failed    []NodeError
}

// RootSummary aggregates mirror row counts for one root scope.
type RootSummary struct {
	RootID     string
	Active     int
	Deleted    int
	Containers int
	Leaves     int
}

// NowNano returns the current time as Unix nanoseconds. All internal
// timestamps are int64 nanoseconds; conversion happens at boundaries only.
func NowNano() int64 {
	return time.Now().UnixNano()
}

// ToUnixNano converts a time.Time to Unix nanoseconds.
// Returns 0 for the zero time.
func ToUnixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}

	return t.UnixNano()
}

// Int64Ptr returns a pointer to the given int64 value.
// Used for nullable database columns.
func Int64Ptr(v int64) *int64 {
	return &v
}

// StringPtr returns a pointer to the given string value.
func StringPtr(v string) *string {
	return &v
}
