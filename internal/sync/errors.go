package sync

import (
	"errors"
	"fmt"
)

// ErrEmptyEnumeration is the sentinel for the empty-enumeration guard.
// Use errors.Is(err, sync.ErrEmptyEnumeration) to check.
var ErrEmptyEnumeration = errors.New("sync: empty remote enumeration")

// EmptyEnumerationError is returned when a complete remote walk of a root
// observes zero nodes. An empty result must never be interpreted as
// "everything was deleted": the reconciler aborts with this error before
// any mirror write, and the caller decides whether the root is genuinely
// gone or the enumeration failed upstream.
type EmptyEnumerationError struct {
	RootID string
	// BranchErrors carries any walk failures that accompanied the empty
	// result, to help the caller distinguish "root is empty upstream"
	// from "the walk broke".
	BranchErrors []error
}

func (e *EmptyEnumerationError) Error() string {
	if len(e.BranchErrors) > 0 {
		return fmt.Sprintf("sync: empty remote enumeration for root %s (%d walk errors)",
			e.RootID, len(e.BranchErrors))
	}

	return fmt.Sprintf("sync: empty remote enumeration for root %s", e.RootID)
}

func (e *EmptyEnumerationError) Unwrap() error {
	return ErrEmptyEnumeration
}

// BranchError marks one failed subtree during a remote walk. The branch
// rooted at the named container was not enumerated; sibling branches
// continued normally. Mirror nodes under the failed path are exempt from
// missing-in-remote classification; they were unseen, not absent.
type BranchError struct {
	ContainerID string
	Path        string // path of the failed container, as walked
	Err         error
}

func (e *BranchError) Error() string {
	return fmt.Sprintf("sync: branch %s (%s) failed: %v", e.Path, e.ContainerID, e.Err)
}

func (e *BranchError) Unwrap() error {
	return e.Err
}

// BatchOp names the mirror write a BatchError belongs to.
type BatchOp string

// Batch operations.
const (
	BatchOpUpsert     BatchOp = "upsert"
	BatchOpSoftDelete BatchOp = "soft_delete"
)

// BatchError records one failed mirror write batch (or per-node failures
// within a batch). Recorded in the summary; never aborts remaining batches.
type BatchError struct {
	Op       BatchOp
	Batch    int // zero-based batch index
	Size     int
	RemoteID string // set for per-node failures, empty for whole-batch ones
	Err      error
}

func (e *BatchError) Error() string {
	if e.RemoteID != "" {
		return fmt.Sprintf("sync: %s batch %d: node %s: %v", e.Op, e.Batch, e.RemoteID, e.Err)
	}

	return fmt.Sprintf("sync: %s batch %d (%d nodes): %v", e.Op, e.Batch, e.Size, e.Err)
}

func (e *BatchError) Unwrap() error {
	return e.Err
}
