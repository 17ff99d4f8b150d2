package codex

import (
	"github.com/rs/zerolog"
)

// Checksum algorithm selectors for block trailers.
const (
	AlgXXHash3 = 1 // default, fastest
	AlgFNV1a   = 2 // no external dependencies
	AlgBlake2b = 3 // best distribution
)

// checksumSize is the trailing byte count reserved in every block for
// its checksum. Node encoding must fit within block_size-checksumSize.
const checksumSize = 8

// DefaultBlockSize is used when Config.BlockSize is zero.
const DefaultBlockSize = 8192

// DefaultDegree is used when Config.Degree is zero.
const DefaultDegree = 3

// DefaultQueueCapacity is the default bound on the block store's write
// pipeline.
const DefaultQueueCapacity = 1000

// Config holds the options the core recognises. CLI parsing and
// config-file loading are left to callers; this is a plain struct
// populated directly.
type Config struct {
	Path string // file path backing the block store

	BlockSize     uint32 // default 8192
	Degree        int    // B-tree minimum degree, default 3, must be >= 2
	QueueCapacity int    // write pipeline bound, default 1000

	ChecksumAlgorithm int  // default AlgXXHash3
	SyncWrites        bool // stored on the block store but not consulted: the drainer fsyncs after every block write regardless

	// Logger receives structured log events from the block store's
	// write-pipeline drainer. The zero value (zerolog.Nop()) discards
	// everything.
	Logger zerolog.Logger

	// Metrics, when non-nil, receives the block store's Prometheus
	// instrumentation: block allocation and frees, queue depth, and
	// drain errors. Cache hits and query plan choice are recorded
	// through the *Metrics passed to NewBTree and NewQueryEngine.
	// Left nil, no metrics are recorded and no collectors are created,
	// so tests can run without registry collisions.
	Metrics *Metrics
}

// withDefaults returns a copy of cfg with zero-valued fields replaced by
// their documented defaults.
func (cfg Config) withDefaults() Config {
	if cfg.BlockSize == 0 {
		cfg.BlockSize = DefaultBlockSize
	}
	if cfg.Degree == 0 {
		cfg.Degree = DefaultDegree
	}
	if cfg.QueueCapacity == 0 {
		cfg.QueueCapacity = DefaultQueueCapacity
	}
	if cfg.ChecksumAlgorithm == 0 {
		cfg.ChecksumAlgorithm = AlgXXHash3
	}
	return cfg
}
