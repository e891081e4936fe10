package zarr3

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"

	"gocloud.dev/blob"
)

// shardWriter streams chunk payloads into one shard blob and finalizes it
// with the serialized chunk index plus a CRC32C of the index bytes.
//
// All methods must be called from a single goroutine: offsets are shard-local
// state. Distinct shards are written independently.
type shardWriter struct {
	key       string
	w         *blob.Writer
	cancel    context.CancelFunc
	index     *ChunkIndex
	offset    uint64
	finalized bool
	log       *slog.Logger
}

// newShardWriter opens the shard blob for streaming writes. The blob is not
// visible in the bucket until finalize closes it, so an aborted shard never
// leaves a valid-looking artifact behind.
func newShardWriter(ctx context.Context, bucket *blob.Bucket, key string, slots int, log *slog.Logger) (*shardWriter, error) {
	wctx, cancel := context.WithCancel(ctx)
	w, err := bucket.NewWriter(wctx, key, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: open shard %s: %w", ErrStorageIO, key, err)
	}
	return &shardWriter{
		key:    key,
		w:      w,
		cancel: cancel,
		index:  NewChunkIndex(slots),
		log:    log,
	}, nil
}

// writeChunk appends payload at the current write offset and records its
// byte range at slot. Slots may arrive in any order.
func (s *shardWriter) writeChunk(slot int, payload []byte) error {
	if s.finalized {
		return fmt.Errorf("%w: write to finalized shard %s", ErrStorageIO, s.key)
	}
	if _, err := s.w.Write(payload); err != nil {
		s.abort()
		return fmt.Errorf("%w: shard %s: %w", ErrStorageIO, s.key, err)
	}
	s.index.Set(slot, s.offset, uint64(len(payload)))
	s.offset += uint64(len(payload))
	return nil
}

// finalize appends the index table and its checksum, then commits the blob.
// Calling it again is a no-op.
func (s *shardWriter) finalize() error {
	if s.finalized {
		return nil
	}
	s.finalized = true
	defer s.cancel()

	table, err := s.index.MarshalBinary()
	if err != nil {
		s.discard()
		return fmt.Errorf("%w: shard %s: %w", ErrStorageIO, s.key, err)
	}
	if _, err := s.w.Write(table); err != nil {
		s.discard()
		return fmt.Errorf("%w: shard %s index: %w", ErrStorageIO, s.key, err)
	}
	var sum [ChecksumSize]byte
	binary.LittleEndian.PutUint32(sum[:], crc32c(table))
	if _, err := s.w.Write(sum[:]); err != nil {
		s.discard()
		return fmt.Errorf("%w: shard %s checksum: %w", ErrStorageIO, s.key, err)
	}
	if err := s.w.Close(); err != nil {
		return fmt.Errorf("%w: shard %s close: %w", ErrStorageIO, s.key, err)
	}
	s.log.Info("shard finalized", "key", s.key, "bytes", s.offset+uint64(len(table)+ChecksumSize))
	return nil
}

// abort discards the shard without committing it.
func (s *shardWriter) abort() {
	s.finalized = true
	s.discard()
}

func (s *shardWriter) discard() {
	// Canceling the writer context makes Close discard the blob.
	s.cancel()
	_ = s.w.Close()
}
