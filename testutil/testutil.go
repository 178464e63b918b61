// Package testutil provides shared helpers for package tests: a logger
// routed through t.Log and an in-memory mirror store.
package testutil

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dhgarchive/drivemirror/internal/mirror"
)

// logWriter adapts testing.T.Log to io.Writer for slog output.
type logWriter struct {
	t *testing.T
}

func (w logWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

// Logger returns an slog.Logger at Debug level that writes to t.Log, so
// all activity appears in test output with -v.
func Logger(t *testing.T) *slog.Logger {
	t.Helper()

	return slog.New(slog.NewTextHandler(logWriter{t: t}, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

// OpenStore returns a migrated in-memory mirror store, closed when the
// test finishes.
func OpenStore(t *testing.T) *mirror.SQLiteStore {
	t.Helper()

	store, err := mirror.NewStore(":memory:", Logger(t))
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, store.Close())
	})

	return store
}
