// Package testutil provides shared test helpers for setting up stores and loggers.
package testutil

import (
	"io"
	"log/slog"
	"testing"

	"github.com/starford/ansuz/internal/store"
)

// FileStore creates a temporary file-backed store that is opened and
// automatically cleaned up.
func FileStore(t *testing.T) *store.File {
	t.Helper()
	provider := store.NewFile(t.TempDir())
	if err := provider.Open(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { provider.Close() })
	return provider
}

// DiscardLogger returns a logger that drops every record.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}
