package sync

import (
	"context"
	"fmt"
	"iter"
	"log/slog"

	"github.com/gobwas/glob"

	"github.com/dhgarchive/drivemirror/internal/drive"
	"github.com/dhgarchive/drivemirror/internal/mirror"
)

// Walker performs paginated, depth-first enumeration of a remote subtree,
// producing a lazy sequence of flattened snapshots annotated with depth
// and path. Each Walk call re-walks from scratch; there is no persisted
// cursor.
type Walker struct {
	provider TreeProvider
	logger   *slog.Logger
	skip     []glob.Glob
}

// NewWalker creates a Walker. skipPatterns are glob patterns matched
// against node names; a matching node is emitted only as an unseen
// boundary marker and its subtree is not enumerated (unseen, never
// compared, like nodes beyond max depth).
func NewWalker(provider TreeProvider, skipPatterns []string, logger *slog.Logger) (*Walker, error) {
	if logger == nil {
		logger = slog.Default()
	}

	skip := make([]glob.Glob, 0, len(skipPatterns))

	for _, pattern := range skipPatterns {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("sync: compiling skip pattern %q: %w", pattern, err)
		}

		skip = append(skip, g)
	}

	return &Walker{provider: provider, logger: logger, skip: skip}, nil
}

// Walk enumerates the subtree rooted at rootID depth-first. maxDepth
// bounds the walk (root is depth 0); pass a negative value for no bound.
//
// The sequence yields (Snapshot, nil) for each observed node and
// (Snapshot{}, *BranchError) when a container's listing fails after the
// client's retry budget; only the branch rooted at that container is
// aborted, sibling branches continue. The sequence is finite and
// restartable: ranging again re-walks the remote tree.
func (w *Walker) Walk(ctx context.Context, rootID string, maxDepth int) iter.Seq2[Snapshot, error] {
	return func(yield func(Snapshot, error) bool) {
		w.logger.Info("walk started", "root_id", rootID, "max_depth", maxDepth)

		root, err := w.provider.GetFile(ctx, rootID)
		if err != nil {
			yield(Snapshot{}, &BranchError{ContainerID: rootID, Path: "", Err: err})
			return
		}

		rootSnap := Snapshot{
			RemoteID:      root.ID,
			Name:          root.Name,
			Kind:          kindOf(root),
			Depth:         0,
			Path:          root.Name,
			MimeType:      root.MimeType,
			Size:          root.Size,
			ModifiedAt:    root.ModifiedAt,
			SubtreeUnseen: root.IsFolder() && maxDepth == 0,
		}

		if !yield(rootSnap, nil) {
			return
		}

		if root.IsFolder() && maxDepth != 0 {
			w.walkContainer(ctx, yield, rootSnap, maxDepth)
		}

		w.logger.Info("walk complete", "root_id", rootID)
	}
}

// walkContainer lists all pages of one container, emits its children, then
// recurses into child containers. The full page sequence completes before
// any recursion, respecting the remote service's per-call rate limits.
// Returns false when the consumer stopped the sequence.
func (w *Walker) walkContainer(
	ctx context.Context,
	yield func(Snapshot, error) bool,
	parent Snapshot,
	maxDepth int,
) bool {
	files, err := w.listAllPages(ctx, parent.RemoteID)
	if err != nil {
		w.logger.Warn("branch aborted",
			"container_id", parent.RemoteID,
			"path", parent.Path,
			"error", err,
		)

		return yield(Snapshot{}, &BranchError{
			ContainerID: parent.RemoteID,
			Path:        parent.Path,
			Err:         err,
		})
	}

	depth := parent.Depth + 1

	// Children at the depth bound are emitted but not recursed into:
	// their subtrees stay unseen and the marker tells the reconciler so.
	atBound := maxDepth >= 0 && depth >= maxDepth

	var containers []Snapshot

	for i := range files {
		f := &files[i]

		snap := Snapshot{
			RemoteID:       f.ID,
			Name:           f.Name,
			Kind:           kindOf(f),
			ParentRemoteID: parent.RemoteID,
			Depth:          depth,
			Path:           parent.Path + "/" + f.Name,
			MimeType:       f.MimeType,
			Size:           f.Size,
			ModifiedAt:     f.ModifiedAt,
		}

		if w.skipName(f.Name) {
			w.logger.Debug("skipping node by pattern",
				"remote_id", f.ID, "name", f.Name, "path", snap.Path)

			snap.Unseen = true
			snap.SubtreeUnseen = snap.Kind == mirror.KindContainer

			if !yield(snap, nil) {
				return false
			}

			continue
		}

		if snap.Kind == mirror.KindContainer {
			snap.SubtreeUnseen = atBound
		}

		if !yield(snap, nil) {
			return false
		}

		if snap.Kind == mirror.KindContainer && !atBound {
			containers = append(containers, snap)
		}
	}

	if atBound {
		return true
	}

	for i := range containers {
		if !w.walkContainer(ctx, yield, containers[i], maxDepth) {
			return false
		}
	}

	return true
}

// listAllPages follows continuation tokens until the container's listing
// is exhausted. Any page failure fails the whole container.
func (w *Walker) listAllPages(ctx context.Context, containerID string) ([]drive.File, error) {
	var files []drive.File

	pageToken := ""
	page := 1

	for {
		p, err := w.provider.ListChildren(ctx, containerID, pageToken)
		if err != nil {
			return nil, fmt.Errorf("listing page %d: %w", page, err)
		}

		files = append(files, p.Files...)

		if p.NextPageToken == "" {
			return files, nil
		}

		pageToken = p.NextPageToken
		page++
	}
}

// skipName reports whether any configured skip pattern matches the name.
func (w *Walker) skipName(name string) bool {
	for _, g := range w.skip {
		if g.Match(name) {
			return true
		}
	}

	return false
}

// kindOf maps a remote file to the mirror node kind.
func kindOf(f *drive.File) mirror.NodeKind {
	if f.IsFolder() {
		return mirror.KindContainer
	}

	return mirror.KindLeaf
}
