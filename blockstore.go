// Fixed-size block storage over a single file, with an asynchronous
// write-behind pipeline and synchronous reads. Block 0 holds the store
// header; blocks 1..N hold node manager pages and free-list chain
// entries.
//
// Writes are submitted to a bounded FIFO (writeOp channel) and drained
// in submission order by a single goroutine, serializing all disk
// writes without blocking callers on fsync.
package codex

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// BlockID identifies a fixed-size block within a store. Block 0 is
// reserved for the store header.
type BlockID uint32

// writeOp is one pending block write, submitted in FIFO order and
// drained by the background writer task.
type writeOp struct {
	id   BlockID
	data []byte // full block_size bytes, including the checksum trailer
}

// BlockStore is a fixed-size block I/O layer backed by a single file.
type BlockStore struct {
	file *os.File

	blockSize   uint32
	checksumAlg int
	syncWrites  bool
	logger      zerolog.Logger
	metrics     *Metrics

	// fileMu serializes the seek+read pair per call and guards the
	// drainer's own seek+write+flush against concurrent readers sharing
	// the same *os.File.
	fileMu sync.Mutex

	// headerMu guards read-modify-write access to block 0. Allocate,
	// Free, and SetRootBlockID all hold it while they touch the header,
	// so these two actors never interleave.
	headerMu sync.Mutex
	header   storeHeader

	// tail is the file length in blocks; Allocate extends it unless a
	// free block is available to reuse.
	tail atomic.Uint32

	queue      chan writeOp
	queueDepth atomic.Int64
	submitted  atomic.Int64 // total writes enqueued, for Flush to wait against
	completed  atomic.Int64 // total writes drained (success or logged failure)
	flushMu    sync.Mutex
	flushCond  *sync.Cond
	submitMu   sync.RWMutex // read-held by Submit, write-held by Close
	disposed   atomic.Bool
	drainDone  chan struct{}
}

// OpenBlockStore opens or creates the file at cfg.Path and starts the
// write-pipeline drainer.
func OpenBlockStore(cfg Config) (*BlockStore, error) {
	cfg = cfg.withDefaults()

	f, err := os.OpenFile(cfg.Path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, err
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	s := &BlockStore{
		file:        f,
		blockSize:   cfg.BlockSize,
		checksumAlg: cfg.ChecksumAlgorithm,
		syncWrites:  cfg.SyncWrites,
		logger:      cfg.Logger,
		metrics:     cfg.Metrics,
		queue:       make(chan writeOp, cfg.QueueCapacity),
		drainDone:   make(chan struct{}),
	}
	s.flushCond = sync.NewCond(&s.flushMu)

	if info.Size() == 0 {
		s.header = storeHeader{blockSize: cfg.BlockSize, rootBlockID: noBlock, freeListHead: noBlock}
		if err := f.Truncate(int64(cfg.BlockSize)); err != nil {
			f.Close()
			return nil, err
		}
		if _, err := f.WriteAt(s.header.encode(cfg.BlockSize), 0); err != nil {
			f.Close()
			return nil, err
		}
		if err := f.Sync(); err != nil {
			f.Close()
			return nil, err
		}
		s.tail.Store(1)
	} else {
		buf := make([]byte, cfg.BlockSize)
		if _, err := f.ReadAt(buf, 0); err != nil {
			f.Close()
			return nil, err
		}
		hdr, err := decodeHeader(buf)
		if err != nil {
			f.Close()
			return nil, err
		}
		s.header = hdr
		s.blockSize = hdr.blockSize
		s.tail.Store(uint32(info.Size() / int64(hdr.blockSize)))
	}

	go s.drain()
	return s, nil
}

// BlockSize returns the full on-disk block size, including the
// checksum trailer.
func (s *BlockStore) BlockSize() uint32 { return s.blockSize }

// PayloadSize returns the number of bytes a caller may pass to Write:
// the block size minus the checksum trailer.
func (s *BlockStore) PayloadSize() uint32 { return s.blockSize - checksumSize }

// RootBlockID returns the tree root recorded in the store header, and
// ok=false if no root has been set yet.
func (s *BlockStore) RootBlockID() (BlockID, bool) {
	s.headerMu.Lock()
	defer s.headerMu.Unlock()
	if s.header.rootBlockID == noBlock {
		return 0, false
	}
	return BlockID(s.header.rootBlockID), true
}

// SetRootBlockID persists a new root pointer in the header. This is the
// single call through which the Node Manager updates block 0, so
// it never races with Allocate/Free's own header mutations.
func (s *BlockStore) SetRootBlockID(id BlockID) error {
	s.headerMu.Lock()
	defer s.headerMu.Unlock()
	s.header.rootBlockID = uint32(id)
	return s.writeHeaderLocked()
}

// writeHeaderLocked persists the current header synchronously. Callers
// must hold headerMu.
func (s *BlockStore) writeHeaderLocked() error {
	s.fileMu.Lock()
	defer s.fileMu.Unlock()
	buf := s.header.encode(s.blockSize)
	n, err := s.file.WriteAt(buf, 0)
	if err != nil {
		return err
	}
	if n != len(buf) {
		return ErrShortWrite
	}
	return s.file.Sync()
}

// Allocate returns a fresh block id, reusing the free list's head if
// one is available, otherwise extending the file by one block.
func (s *BlockStore) Allocate() (BlockID, error) {
	if s.disposed.Load() {
		return 0, ErrStoreDisposed
	}

	s.headerMu.Lock()
	defer s.headerMu.Unlock()

	if s.header.freeListHead != noBlock {
		id := BlockID(s.header.freeListHead)
		next, err := s.readRawLocked(id)
		if err != nil {
			return 0, fmt.Errorf("allocate: read free list entry: %w", err)
		}
		s.header.freeListHead = decodeFreeListNext(next)
		if err := s.writeHeaderLocked(); err != nil {
			return 0, fmt.Errorf("allocate: persist free list head: %w", err)
		}
		if s.metrics != nil {
			s.metrics.BlocksAllocated.Inc()
		}
		return id, nil
	}

	id := BlockID(s.tail.Add(1) - 1)
	s.fileMu.Lock()
	err := s.file.Truncate(int64(id+1) * int64(s.blockSize))
	s.fileMu.Unlock()
	if err != nil {
		return 0, fmt.Errorf("allocate: extend file: %w", err)
	}
	if s.metrics != nil {
		s.metrics.BlocksAllocated.Inc()
	}
	return id, nil
}

// Free returns a block to the free list, threading it onto the header's
// free_list_head chain so it can be reused by a later Allocate.
func (s *BlockStore) Free(id BlockID) error {
	if s.disposed.Load() {
		return ErrStoreDisposed
	}

	// A write for this block may still be queued; let it land first so
	// it cannot overwrite the free-list entry written below.
	if err := s.Flush(context.Background()); err != nil {
		return fmt.Errorf("free: %w", err)
	}

	s.headerMu.Lock()
	defer s.headerMu.Unlock()

	entry := make([]byte, s.blockSize)
	encodeFreeListNext(entry, s.header.freeListHead)
	if err := s.writeLocked(id, entry); err != nil {
		return fmt.Errorf("free: %w", err)
	}

	s.header.freeListHead = uint32(id)
	if err := s.writeHeaderLocked(); err != nil {
		return fmt.Errorf("free: persist free list head: %w", err)
	}
	if s.metrics != nil {
		s.metrics.BlocksFreed.Inc()
	}
	return nil
}

// Read returns the block's payload (block size minus checksum
// trailer), bypassing the write queue entirely. A read issued strictly
// after a write submission is not guaranteed to observe that write
// until the drainer processes it; callers needing read-your-write
// consistency must go through the node manager's cache.
func (s *BlockStore) Read(id BlockID) ([]byte, error) {
	if s.disposed.Load() {
		return nil, ErrStoreDisposed
	}
	raw, err := s.readRaw(id)
	if err != nil {
		return nil, err
	}
	payload := raw[:len(raw)-checksumSize]
	want := checksum(payload, s.checksumAlg)
	if string(raw[len(raw)-checksumSize:]) != string(want[:]) {
		return nil, ErrBlockChecksum
	}
	return payload, nil
}

func (s *BlockStore) readRaw(id BlockID) ([]byte, error) {
	s.fileMu.Lock()
	defer s.fileMu.Unlock()
	return s.readRawLocked(id)
}

func (s *BlockStore) readRawLocked(id BlockID) ([]byte, error) {
	buf := make([]byte, s.blockSize)
	n, err := s.file.ReadAt(buf, int64(id)*int64(s.blockSize))
	if n != int(s.blockSize) && (err == nil || err == io.EOF) {
		return nil, ErrShortRead
	}
	if err != nil {
		return nil, err
	}
	return buf, nil
}

// Write submits a block write to the write-behind pipeline. payload
// must be exactly PayloadSize() bytes; Write appends the checksum
// trailer and enqueues the full block. Submission blocks the caller
// when the queue is full (backpressure) and fails with ErrStoreDisposed
// once the store has been closed.
func (s *BlockStore) Write(id BlockID, payload []byte) error {
	if uint32(len(payload)) != s.PayloadSize() {
		return ErrBadBlockSize
	}

	s.submitMu.RLock()
	defer s.submitMu.RUnlock()
	if s.disposed.Load() {
		return ErrStoreDisposed
	}

	full := make([]byte, s.blockSize)
	copy(full, payload)
	sum := checksum(payload, s.checksumAlg)
	copy(full[len(payload):], sum[:])

	s.queue <- writeOp{id: id, data: full}
	s.submitted.Add(1)
	if s.metrics != nil {
		s.metrics.QueueDepth.Set(float64(s.queueDepth.Add(1)))
	}
	return nil
}

// Flush blocks until every write submitted before this call has been
// drained (written and, on success, synced). It does not guarantee
// durability of writes submitted concurrently with the call.
func (s *BlockStore) Flush(ctx context.Context) error {
	target := s.submitted.Load()

	done := make(chan struct{})
	go func() {
		s.flushMu.Lock()
		for s.completed.Load() < target {
			s.flushCond.Wait()
		}
		s.flushMu.Unlock()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// writeLocked performs a synchronous write, used for header-adjacent
// free-list bookkeeping that must be visible to the very next Allocate
// call rather than queued behind other pending writes.
func (s *BlockStore) writeLocked(id BlockID, full []byte) error {
	s.fileMu.Lock()
	defer s.fileMu.Unlock()
	n, err := s.file.WriteAt(full, int64(id)*int64(s.blockSize))
	if err != nil {
		return err
	}
	if n != len(full) {
		return ErrShortWrite
	}
	return nil
}

// drain pulls writes off the queue in submission order, seeks, writes,
// and flushes. Errors are logged and the offending operation discarded;
// the pipeline continues, so a single block-level I/O error is
// swallowed for that operation only.
func (s *BlockStore) drain() {
	defer close(s.drainDone)
	for op := range s.queue {
		if s.metrics != nil {
			s.metrics.QueueDepth.Set(float64(s.queueDepth.Add(-1)))
		}
		s.fileMu.Lock()
		n, err := s.file.WriteAt(op.data, int64(op.id)*int64(s.blockSize))
		if err == nil && n != len(op.data) {
			err = ErrShortWrite
		}
		if err == nil {
			err = s.file.Sync()
		}
		s.fileMu.Unlock()

		if err != nil {
			s.logger.Error().Err(err).Uint32("block_id", uint32(op.id)).Msg("codex: block write discarded")
			if s.metrics != nil {
				s.metrics.DrainErrors.Inc()
			}
		}

		s.flushMu.Lock()
		s.completed.Add(1)
		s.flushCond.Broadcast()
		s.flushMu.Unlock()
	}
}

// Close signals no further submissions, waits for the queue to drain
// (or stops waiting once ctx is cancelled), and releases the file.
// After Close returns, Allocate, Free, Read, and Write fail with
// ErrStoreDisposed.
func (s *BlockStore) Close(ctx context.Context) error {
	s.submitMu.Lock()
	if s.disposed.Swap(true) {
		s.submitMu.Unlock()
		return nil
	}
	close(s.queue)
	s.submitMu.Unlock()

	select {
	case <-s.drainDone:
	case <-ctx.Done():
		// Best-effort: stop waiting. The file is closed below while the
		// drainer may still hold queued writes; those fail against the
		// closed file and are logged and discarded.
	}

	return s.file.Close()
}

// decodeFreeListNext/encodeFreeListNext store the next free block id in
// the first 4 bytes of a freed block's payload, chaining the free list
// through otherwise-unused block storage.
func decodeFreeListNext(block []byte) uint32 {
	return uint32(block[0]) | uint32(block[1])<<8 | uint32(block[2])<<16 | uint32(block[3])<<24
}

func encodeFreeListNext(block []byte, next uint32) {
	block[0] = byte(next)
	block[1] = byte(next >> 8)
	block[2] = byte(next >> 16)
	block[3] = byte(next >> 24)
}
