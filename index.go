package zarr3

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

const (
	// IndexEntrySize is the serialized size of one chunk slot: two uint64s.
	IndexEntrySize = 16
	// ChecksumSize is the size of the CRC32C trailing a shard index.
	ChecksumSize = 4

	// Unwritten slots serialize as all-ones offset and length, per the
	// Zarr v3 sharding_indexed convention.
	indexSentinel = ^uint64(0)
)

var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// crc32c computes the CRC32-Castagnoli checksum of data.
// The stdlib implementation is hardware-accelerated where available.
func crc32c(data []byte) uint32 {
	return crc32.Checksum(data, crc32cTable)
}

// ChunkIndex maps chunk slots within one shard to (offset, length) pairs in
// the shard file. Slots are kept as explicit options in memory and collapse
// to sentinel values only at serialization time. It performs no I/O.
type ChunkIndex struct {
	slots []indexSlot
}

type indexSlot struct {
	offset uint64
	nbytes uint64
	set    bool
}

// NewChunkIndex creates an index with n unset slots.
func NewChunkIndex(n int) *ChunkIndex {
	return &ChunkIndex{slots: make([]indexSlot, n)}
}

// Slots returns the number of chunk slots.
func (ix *ChunkIndex) Slots() int {
	return len(ix.slots)
}

// Set records the byte range of a chunk. Bounds are the caller's
// responsibility; slot order is arbitrary.
func (ix *ChunkIndex) Set(slot int, offset, nbytes uint64) {
	ix.slots[slot] = indexSlot{offset: offset, nbytes: nbytes, set: true}
}

// Lookup returns the byte range recorded for slot, if any.
func (ix *ChunkIndex) Lookup(slot int) (offset, nbytes uint64, ok bool) {
	s := ix.slots[slot]
	return s.offset, s.nbytes, s.set
}

// MarshalBinary serializes the index as little-endian (offset, length) pairs
// in row-major slot order, with unset slots as all-ones sentinels.
func (ix *ChunkIndex) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 0, len(ix.slots)*IndexEntrySize)
	for _, s := range ix.slots {
		if !s.set {
			buf = binary.LittleEndian.AppendUint64(buf, indexSentinel)
			buf = binary.LittleEndian.AppendUint64(buf, indexSentinel)
			continue
		}
		buf = binary.LittleEndian.AppendUint64(buf, s.offset)
		buf = binary.LittleEndian.AppendUint64(buf, s.nbytes)
	}
	return buf, nil
}

// UnmarshalChunkIndex parses a serialized index of n slots.
func UnmarshalChunkIndex(data []byte, n int) (*ChunkIndex, error) {
	if len(data) != n*IndexEntrySize {
		return nil, fmt.Errorf("chunk index: want %d bytes for %d slots, got %d", n*IndexEntrySize, n, len(data))
	}
	ix := NewChunkIndex(n)
	for i := 0; i < n; i++ {
		offset := binary.LittleEndian.Uint64(data[i*IndexEntrySize:])
		nbytes := binary.LittleEndian.Uint64(data[i*IndexEntrySize+8:])
		if offset == indexSentinel && nbytes == indexSentinel {
			continue
		}
		ix.Set(i, offset, nbytes)
	}
	return ix, nil
}
