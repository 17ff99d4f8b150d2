// Record storage: the collaborator a B-tree index points into.
// FileRecordStore chains blocks together for records that don't fit in
// one, optionally compressing the payload with zstd, and keeps its own
// id-to-block directory in a BTree over the same block store — the
// directory is itself a consumer of the tree it sits beside.
package codex

import (
	"context"
	"encoding/binary"
	"fmt"
	"iter"

	"github.com/goccy/go-json"
	"github.com/klauspost/compress/zstd"
)

// RecordID identifies a stored record. Non-negative values are valid;
// EmptyRecordID marks the absence of a record.
type RecordID int64

// EmptyRecordID is the sentinel for "no record."
const EmptyRecordID RecordID = -1

// Record is one stored unit: an id and an arbitrary field set, the
// granularity at which the query engine resolves index hits back to
// data.
type Record struct {
	ID     RecordID
	Fields map[string]any
}

// RecordStore inserts, retrieves, updates, deletes, and scans records.
// A query engine built over one or more indexes resolves index hits
// through a RecordStore's Get, and falls back to Scan when no index
// applies.
type RecordStore interface {
	Insert(fields map[string]any) (RecordID, error)
	Get(id RecordID) (Record, error)
	Update(id RecordID, fields map[string]any) error
	Delete(id RecordID) error
	Scan() iter.Seq2[Record, error]
	Close() error
}

// recordChunkHeaderSize is {next: u32, chunk_len: u32} prefixed onto
// every block in a record's chain.
const recordChunkHeaderSize = 4 + 4

// FileRecordStore is the reference RecordStore: each record's encoded
// form is split across one or more chained blocks in a shared
// BlockStore, with its own id directory held in a BTree[int64, BlockID].
type FileRecordStore struct {
	store     *BlockStore
	directory *BTree[int64, BlockID]
	nextID    RecordID
	compress  bool
	encoder   *zstd.Encoder
	decoder   *zstd.Decoder
}

// NewFileRecordStore builds a RecordStore over store. When compress is
// true, each record's encoded form is zstd-compressed before chaining
// (SpeedFastest on the encoder side: write latency dominates over
// compression ratio for a write-behind pipeline already bottlenecked on
// fsync).
func NewFileRecordStore(store *BlockStore, compress bool, metrics *Metrics) (*FileRecordStore, error) {
	dir, err := NewBTree[int64, BlockID](store, DefaultDegree, compareInt64, Int64Codec{}, blockIDCodec{}, metrics)
	if err != nil {
		return nil, fmt.Errorf("record store: directory: %w", err)
	}

	rs := &FileRecordStore{store: store, directory: dir, compress: compress}

	// Ids are sequential; resume after the highest id already in the
	// directory when the store holds records from an earlier session.
	maxID, err := dir.MaxKey()
	switch {
	case err == nil:
		rs.nextID = RecordID(maxID + 1)
	case err != ErrEmptyIndex:
		return nil, fmt.Errorf("record store: directory: %w", err)
	}

	if compress {
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
		if err != nil {
			return nil, fmt.Errorf("record store: zstd encoder: %w", err)
		}
		dec, err := zstd.NewReader(nil)
		if err != nil {
			enc.Close()
			return nil, fmt.Errorf("record store: zstd decoder: %w", err)
		}
		rs.encoder = enc
		rs.decoder = dec
	}

	return rs, nil
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

// blockIDCodec encodes a BlockID as 4 little-endian bytes, used only by
// the record directory's internal tree.
type blockIDCodec struct{}

func (blockIDCodec) SizeOf(BlockID) int { return 4 }

func (blockIDCodec) Encode(v BlockID, buf []byte) int {
	binary.LittleEndian.PutUint32(buf, uint32(v))
	return 4
}

func (blockIDCodec) Decode(buf []byte) (BlockID, int, error) {
	if len(buf) < 4 {
		return 0, 0, fmt.Errorf("codex: block id codec: short buffer (%d bytes)", len(buf))
	}
	return BlockID(binary.LittleEndian.Uint32(buf)), 4, nil
}

// Insert encodes fields, allocates a fresh id, chains the encoded form
// across one or more blocks, and records the id in the directory.
func (rs *FileRecordStore) Insert(fields map[string]any) (RecordID, error) {
	id := rs.nextID
	rs.nextID++

	raw, err := json.Marshal(fields)
	if err != nil {
		return EmptyRecordID, fmt.Errorf("record store: encode fields: %w", err)
	}
	if rs.compress {
		raw = rs.encoder.EncodeAll(raw, nil)
	}

	head, err := rs.writeChain(raw)
	if err != nil {
		return EmptyRecordID, err
	}

	ctx := context.Background()
	if err := rs.directory.Insert(ctx, int64(id), head); err != nil {
		return EmptyRecordID, fmt.Errorf("record store: directory insert: %w", err)
	}
	return id, nil
}

// writeChain splits raw across as many blocks as needed and returns the
// id of the first.
func (rs *FileRecordStore) writeChain(raw []byte) (BlockID, error) {
	capacity := int(rs.store.PayloadSize()) - recordChunkHeaderSize
	if capacity <= 0 {
		return 0, ErrBadBlockSize
	}

	chunkCount := (len(raw) + capacity - 1) / capacity
	if chunkCount == 0 {
		chunkCount = 1 // empty records still occupy one block
	}

	blockIDs := make([]BlockID, chunkCount)
	for i := range blockIDs {
		id, err := rs.store.Allocate()
		if err != nil {
			return 0, fmt.Errorf("record store: allocate chunk: %w", err)
		}
		blockIDs[i] = id
	}

	off := 0
	for i, id := range blockIDs {
		end := off + capacity
		if end > len(raw) {
			end = len(raw)
		}
		chunk := raw[off:end]

		payload := make([]byte, rs.store.PayloadSize())
		next := uint32(noBlock)
		if i < len(blockIDs)-1 {
			next = uint32(blockIDs[i+1])
		}
		binary.LittleEndian.PutUint32(payload, next)
		binary.LittleEndian.PutUint32(payload[4:], uint32(len(chunk)))
		copy(payload[recordChunkHeaderSize:], chunk)

		if err := rs.store.Write(id, payload); err != nil {
			return 0, fmt.Errorf("record store: write chunk: %w", err)
		}
		off = end
	}

	// Chunks are read back with BlockStore.Read, which bypasses the write
	// queue, so wait for them to land before the record becomes visible.
	if err := rs.store.Flush(context.Background()); err != nil {
		return 0, fmt.Errorf("record store: flush chunks: %w", err)
	}
	return blockIDs[0], nil
}

// readChain follows head's chain and reassembles the encoded form.
func (rs *FileRecordStore) readChain(head BlockID) ([]byte, error) {
	var out []byte
	id := head
	for {
		payload, err := rs.store.Read(id)
		if err != nil {
			return nil, fmt.Errorf("record store: read chunk: %w", err)
		}
		next := binary.LittleEndian.Uint32(payload)
		chunkLen := binary.LittleEndian.Uint32(payload[4:])
		if recordChunkHeaderSize+int(chunkLen) > len(payload) {
			return nil, fmt.Errorf("codex: record chunk at block %d: truncated", id)
		}
		out = append(out, payload[recordChunkHeaderSize:recordChunkHeaderSize+int(chunkLen)]...)
		if next == uint32(noBlock) {
			break
		}
		id = BlockID(next)
	}
	return out, nil
}

// freeChain frees every block in head's chain.
func (rs *FileRecordStore) freeChain(head BlockID) error {
	id := head
	for {
		payload, err := rs.store.Read(id)
		if err != nil {
			return err
		}
		next := binary.LittleEndian.Uint32(payload)
		if err := rs.store.Free(id); err != nil {
			return err
		}
		if next == uint32(noBlock) {
			return nil
		}
		id = BlockID(next)
	}
}

// Get retrieves and decodes the record with the given id.
func (rs *FileRecordStore) Get(id RecordID) (Record, error) {
	head, err := rs.lookup(id)
	if err != nil {
		return Record{}, err
	}
	raw, err := rs.readChain(head)
	if err != nil {
		return Record{}, err
	}
	fields, err := rs.decodeFields(raw)
	if err != nil {
		return Record{}, err
	}
	return Record{ID: id, Fields: fields}, nil
}

func (rs *FileRecordStore) decodeFields(raw []byte) (map[string]any, error) {
	if rs.compress {
		plain, err := rs.decoder.DecodeAll(raw, nil)
		if err != nil {
			return nil, fmt.Errorf("record store: decompress: %w", err)
		}
		raw = plain
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("record store: decode fields: %w", err)
	}
	return fields, nil
}

func (rs *FileRecordStore) lookup(id RecordID) (BlockID, error) {
	var found BlockID
	ok := false
	for v, err := range rs.directory.Find(int64(id)) {
		if err != nil {
			return 0, err
		}
		found = v
		ok = true
		break
	}
	if !ok {
		return 0, ErrNotFound
	}
	return found, nil
}

// Update replaces the fields of an existing record in place, freeing
// its old chain and writing a new one.
func (rs *FileRecordStore) Update(id RecordID, fields map[string]any) error {
	head, err := rs.lookup(id)
	if err != nil {
		return err
	}

	raw, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("record store: encode fields: %w", err)
	}
	if rs.compress {
		raw = rs.encoder.EncodeAll(raw, nil)
	}

	newHead, err := rs.writeChain(raw)
	if err != nil {
		return err
	}

	ctx := context.Background()
	if _, err := rs.directory.Delete(ctx, int64(id), head); err != nil {
		return fmt.Errorf("record store: directory update delete: %w", err)
	}
	if err := rs.directory.Insert(ctx, int64(id), newHead); err != nil {
		return fmt.Errorf("record store: directory update insert: %w", err)
	}
	return rs.freeChain(head)
}

// Delete removes a record and frees its blocks.
func (rs *FileRecordStore) Delete(id RecordID) error {
	head, err := rs.lookup(id)
	if err != nil {
		return err
	}
	ctx := context.Background()
	if _, err := rs.directory.Delete(ctx, int64(id), head); err != nil {
		return fmt.Errorf("record store: directory delete: %w", err)
	}
	return rs.freeChain(head)
}

// Scan lazily visits every live record in ascending id order, the
// query engine's fallback plan for predicates no index can serve.
// Ids are assigned sequentially, so the scan simply walks [0, nextID)
// and skips ids a prior Delete has removed from the directory.
func (rs *FileRecordStore) Scan() iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		for id := RecordID(0); id < rs.nextID; id++ {
			head, err := rs.lookup(id)
			if err == ErrNotFound {
				continue
			}
			if err != nil {
				yield(Record{}, err)
				return
			}
			raw, err := rs.readChain(head)
			if err != nil {
				yield(Record{}, err)
				return
			}
			fields, err := rs.decodeFields(raw)
			if err != nil {
				yield(Record{}, err)
				return
			}
			if !yield(Record{ID: id, Fields: fields}, nil) {
				return
			}
		}
	}
}

// Close releases the store's compressor/decompressor resources. The
// underlying BlockStore is owned by the caller and is not closed here.
func (rs *FileRecordStore) Close() error {
	if rs.encoder != nil {
		rs.encoder.Close()
	}
	if rs.decoder != nil {
		rs.decoder.Close()
	}
	return nil
}
