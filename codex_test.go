// Shared test helpers.
//
// collect materialises an iter.Seq2 into a slice for assertions;
// openTestStore opens a fresh block store in a temporary directory.
// Used across the test suite wherever a test needs the full result set
// or a disposable store.
package codex

import (
	"context"
	"iter"
	"path/filepath"
	"testing"
)

func collect[T any](seq iter.Seq2[T, error]) ([]T, error) {
	var items []T
	for item, err := range seq {
		if err != nil {
			return items, err
		}
		items = append(items, item)
	}
	return items, nil
}

// openTestStore creates a fresh block store in a temporary directory
// and registers cleanup to close it when the test finishes.
func openTestStore(t *testing.T, cfg Config) *BlockStore {
	t.Helper()
	dir := t.TempDir()
	if cfg.Path == "" {
		cfg.Path = filepath.Join(dir, "test.codex")
	}
	store, err := OpenBlockStore(cfg)
	if err != nil {
		t.Fatalf("OpenBlockStore: %v", err)
	}
	t.Cleanup(func() { store.Close(context.Background()) })
	return store
}
