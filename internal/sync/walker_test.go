package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dhgarchive/drivemirror/internal/drive"
	"github.com/dhgarchive/drivemirror/internal/mirror"
)

// testLogWriter adapts testing.T.Log to io.Writer for slog output.
type testLogWriter struct {
	t *testing.T
}

func (w testLogWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()

	return slog.New(slog.NewTextHandler(testLogWriter{t: t}, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

// fakeProvider serves a fixed remote tree from memory. Children are
// served in fixture order, split into pages of pageSize (0 = one page).
type fakeProvider struct {
	files    map[string]*drive.File
	children map[string][]drive.File
	pageSize int

	// failList makes ListChildren fail for the given container ids.
	failList map[string]error
	// failGet makes GetFile fail for the given file ids.
	failGet map[string]error

	listCalls int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		files:    make(map[string]*drive.File),
		children: make(map[string][]drive.File),
		failList: make(map[string]error),
		failGet:  make(map[string]error),
	}
}

var fixtureTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// addFolder registers a folder under the given parent ("" for a root).
func (p *fakeProvider) addFolder(id, name, parentID string) {
	f := drive.File{
		ID:         id,
		Name:       name,
		MimeType:   drive.FolderMimeType,
		ParentID:   parentID,
		ModifiedAt: fixtureTime,
	}
	p.files[id] = &f

	if parentID != "" {
		p.children[parentID] = append(p.children[parentID], f)
	}
}

// addLeaf registers a plain file under the given parent.
func (p *fakeProvider) addLeaf(id, name, parentID, mimeType string, size int64) {
	f := drive.File{
		ID:         id,
		Name:       name,
		MimeType:   mimeType,
		ParentID:   parentID,
		Size:       &size,
		ModifiedAt: fixtureTime,
	}
	p.files[id] = &f
	p.children[parentID] = append(p.children[parentID], f)
}

func (p *fakeProvider) GetFile(_ context.Context, fileID string) (*drive.File, error) {
	if err := p.failGet[fileID]; err != nil {
		return nil, err
	}

	f, ok := p.files[fileID]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", fileID, drive.ErrNotFound)
	}

	return f, nil
}

func (p *fakeProvider) ListChildren(_ context.Context, containerID, pageToken string) (*drive.Page, error) {
	p.listCalls++

	if err := p.failList[containerID]; err != nil {
		return nil, err
	}

	kids := p.children[containerID]

	if p.pageSize <= 0 {
		return &drive.Page{Files: kids}, nil
	}

	start := 0
	if pageToken != "" {
		_, err := fmt.Sscanf(pageToken, "page-%d", &start)
		if err != nil {
			return nil, fmt.Errorf("bad page token %q", pageToken)
		}
	}

	end := min(start+p.pageSize, len(kids))
	page := &drive.Page{Files: kids[start:end]}

	if end < len(kids) {
		page.NextPageToken = fmt.Sprintf("page-%d", end)
	}

	return page, nil
}

// fourNodeProvider builds the root1/f1/{m1,t1} fixture.
func fourNodeProvider() *fakeProvider {
	p := newFakeProvider()
	p.addFolder("root1", "R", "")
	p.addFolder("f1", "S", "root1")
	p.addLeaf("m1", "a.mp4", "f1", "video/mp4", 100)
	p.addLeaf("t1", "b.txt", "f1", "text/plain", 10)

	return p
}

// collect drains a walk into snapshots and errors.
func collect(t *testing.T, w *Walker, rootID string, maxDepth int) ([]Snapshot, []error) {
	t.Helper()

	var snaps []Snapshot

	var errs []error

	for snap, err := range w.Walk(context.Background(), rootID, maxDepth) {
		if err != nil {
			errs = append(errs, err)
			continue
		}

		snaps = append(snaps, snap)
	}

	return snaps, errs
}

func TestWalk_DepthAndPathAnnotation(t *testing.T) {
	w, err := NewWalker(fourNodeProvider(), nil, testLogger(t))
	require.NoError(t, err)

	snaps, errs := collect(t, w, "root1", -1)
	require.Empty(t, errs)
	require.Len(t, snaps, 4)

	byID := make(map[string]Snapshot)
	for _, s := range snaps {
		byID[s.RemoteID] = s
	}

	root := byID["root1"]
	assert.Equal(t, 0, root.Depth)
	assert.Equal(t, "R", root.Path)
	assert.Empty(t, root.ParentRemoteID)
	assert.Equal(t, mirror.KindContainer, root.Kind)

	folder := byID["f1"]
	assert.Equal(t, 1, folder.Depth)
	assert.Equal(t, "R/S", folder.Path)
	assert.Equal(t, "root1", folder.ParentRemoteID)

	leaf := byID["t1"]
	assert.Equal(t, 2, leaf.Depth)
	assert.Equal(t, "R/S/b.txt", leaf.Path)
	assert.Equal(t, "f1", leaf.ParentRemoteID)
	assert.Equal(t, mirror.KindLeaf, leaf.Kind)

	// Depth-first: a container's children are emitted after it.
	assert.Equal(t, "root1", snaps[0].RemoteID)
	assert.Equal(t, "f1", snaps[1].RemoteID)
}

func TestWalk_Pagination(t *testing.T) {
	p := newFakeProvider()
	p.addFolder("r", "R", "")

	for i := range 5 {
		p.addLeaf(fmt.Sprintf("n%d", i), fmt.Sprintf("file%d.txt", i), "r", "text/plain", 1)
	}

	p.pageSize = 2

	w, err := NewWalker(p, nil, testLogger(t))
	require.NoError(t, err)

	snaps, errs := collect(t, w, "r", -1)
	require.Empty(t, errs)
	assert.Len(t, snaps, 6, "root plus five leaves")
	assert.Equal(t, 3, p.listCalls, "five children at page size two")
}

func TestWalk_MaxDepth(t *testing.T) {
	p := fourNodeProvider()

	w, err := NewWalker(p, nil, testLogger(t))
	require.NoError(t, err)

	// Depth 0: only the root, flagged as an enumeration boundary.
	snaps, errs := collect(t, w, "root1", 0)
	require.Empty(t, errs)
	require.Len(t, snaps, 1)
	assert.True(t, snaps[0].SubtreeUnseen)
	assert.False(t, snaps[0].Unseen)

	// Depth 1: root and its direct children; the folder at the bound
	// carries the boundary flag, the root does not.
	snaps, errs = collect(t, w, "root1", 1)
	require.Empty(t, errs)
	require.Len(t, snaps, 2)
	assert.False(t, snaps[0].SubtreeUnseen)
	assert.Equal(t, "f1", snaps[1].RemoteID)
	assert.True(t, snaps[1].SubtreeUnseen)
}

func TestWalk_SkipPatterns(t *testing.T) {
	p := fourNodeProvider()
	p.addFolder("tmp", ".tmp", "root1")
	p.addLeaf("x", "junk.bak", "f1", "application/octet-stream", 1)

	w, err := NewWalker(p, []string{".*", "*.bak"}, testLogger(t))
	require.NoError(t, err)

	snaps, errs := collect(t, w, "root1", -1)
	require.Empty(t, errs)
	require.Len(t, snaps, 6, "four walked nodes plus two boundary markers")

	byID := make(map[string]Snapshot)
	for _, s := range snaps {
		byID[s.RemoteID] = s
	}

	// Skipped nodes surface only as markers: the folder shields its
	// subtree, the leaf marks itself.
	tmp := byID["tmp"]
	assert.True(t, tmp.Unseen)
	assert.True(t, tmp.SubtreeUnseen)

	junk := byID["x"]
	assert.True(t, junk.Unseen)
	assert.False(t, junk.SubtreeUnseen)

	for _, id := range []string{"root1", "f1", "m1", "t1"} {
		assert.False(t, byID[id].Unseen, id)
		assert.False(t, byID[id].SubtreeUnseen, id)
	}
}

func TestNewWalker_BadPattern(t *testing.T) {
	_, err := NewWalker(newFakeProvider(), []string{"[unterminated"}, testLogger(t))
	require.Error(t, err)
}

func TestWalk_BranchFailureIsolation(t *testing.T) {
	p := fourNodeProvider()
	p.addFolder("f2", "T", "root1")
	p.addLeaf("z1", "c.txt", "f2", "text/plain", 5)
	p.failList["f1"] = fmt.Errorf("listing: %w", drive.ErrForbidden)

	w, err := NewWalker(p, nil, testLogger(t))
	require.NoError(t, err)

	snaps, errs := collect(t, w, "root1", -1)

	// The failed branch contributes exactly one BranchError; the sibling
	// branch is walked normally.
	require.Len(t, errs, 1)

	var branchErr *BranchError
	require.ErrorAs(t, errs[0], &branchErr)
	assert.Equal(t, "f1", branchErr.ContainerID)
	assert.Equal(t, "R/S", branchErr.Path)
	assert.ErrorIs(t, branchErr, drive.ErrForbidden)

	ids := make([]string, 0, len(snaps))
	for _, s := range snaps {
		ids = append(ids, s.RemoteID)
	}

	assert.ElementsMatch(t, []string{"root1", "f1", "f2", "z1"}, ids,
		"failed container itself was observed; its children were not")
}

func TestWalk_RootLookupFailure(t *testing.T) {
	p := newFakeProvider()

	w, err := NewWalker(p, nil, testLogger(t))
	require.NoError(t, err)

	snaps, errs := collect(t, w, "ghost", -1)
	assert.Empty(t, snaps)
	require.Len(t, errs, 1)

	var branchErr *BranchError
	require.ErrorAs(t, errs[0], &branchErr)
	assert.True(t, errors.Is(branchErr, drive.ErrNotFound))
}

func TestWalk_Restartable(t *testing.T) {
	p := fourNodeProvider()

	w, err := NewWalker(p, nil, testLogger(t))
	require.NoError(t, err)

	seq := w.Walk(context.Background(), "root1", -1)

	count := func() int {
		n := 0
		for _, err := range seq {
			require.NoError(t, err)
			n++
		}
		return n
	}

	assert.Equal(t, 4, count())
	assert.Equal(t, 4, count(), "ranging again re-walks the tree")
}
