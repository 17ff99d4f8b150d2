// codexbench bulk-loads random int64 keys into a B-tree index backed by
// a file-based block store, then times a full ascending range scan. It
// exists to exercise the write-behind pipeline and node cache under
// load, not as a query interface — the core library never needs a CLI
// of its own.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/jpl-au/codex"
)

func main() {
	var (
		path      = flag.String("path", "codexbench.db", "block store file path")
		count     = flag.Int("count", 100000, "number of keys to insert")
		degree    = flag.Int("degree", 64, "B-tree minimum degree")
		blockSize = flag.Uint("block-size", 8192, "block size in bytes")
		seed      = flag.Int64("seed", 1, "random seed for key generation")
	)
	flag.Parse()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		With().Timestamp().Logger()

	if err := run(logger, *path, *count, *degree, uint32(*blockSize), *seed); err != nil {
		logger.Error().Err(err).Msg("codexbench: run failed")
		os.Exit(1)
	}
}

func run(logger zerolog.Logger, path string, count, degree int, blockSize uint32, seed int64) error {
	defer os.Remove(path)

	metrics := codex.NewMetrics()
	store, err := codex.OpenBlockStore(codex.Config{
		Path:      path,
		BlockSize: blockSize,
		Degree:    degree,
		Logger:    logger,
		Metrics:   metrics,
	})
	if err != nil {
		return fmt.Errorf("open block store: %w", err)
	}
	defer store.Close(context.Background())

	tree, err := codex.NewBTree[int64, int64](store, degree, compareInt64, codex.Int64Codec{}, codex.Int64Codec{}, metrics)
	if err != nil {
		return fmt.Errorf("build tree: %w", err)
	}

	rng := rand.New(rand.NewSource(seed))
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < count; i++ {
		key := rng.Int63n(int64(count) * 4)
		if err := tree.Insert(ctx, key, int64(i)); err != nil {
			return fmt.Errorf("insert %d: %w", i, err)
		}
	}
	insertElapsed := time.Since(start)

	min, err := tree.MinKey()
	if err != nil {
		return fmt.Errorf("min key: %w", err)
	}
	max, err := tree.MaxKey()
	if err != nil {
		return fmt.Errorf("max key: %w", err)
	}

	start = time.Now()
	var scanned int64
	for _, err := range tree.FindRange(min, max, true, true) {
		if err != nil {
			return fmt.Errorf("scan: %w", err)
		}
		scanned++
	}
	scanElapsed := time.Since(start)

	logger.Info().
		Int("inserted", count).
		Dur("insert_elapsed", insertElapsed).
		Int64("scanned", scanned).
		Dur("scan_elapsed", scanElapsed).
		Int64("tree_count", tree.Count()).
		Msg("codexbench: complete")

	return nil
}

func compareInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
