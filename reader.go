package zarr3

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"
)

// Array reads back a sharded Zarr v3 array written by a StreamWriter.
// Chunk payloads are located through each shard's trailing index, so reads
// use ranged requests rather than whole-shard downloads.
type Array struct {
	bucket *blob.Bucket
	meta   ArrayMetadata

	inner, outer   []int
	shardSizes     []int
	chunkGrid      []int
	chunksPerShard int
	itemSize       int
	comp           Compressor
}

// OpenArray parses the array metadata under the bucket root.
func OpenArray(ctx context.Context, bucket *blob.Bucket) (*Array, error) {
	doc, err := bucket.ReadAll(ctx, arrayMetadataKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrStorageIO, arrayMetadataKey, err)
	}
	var meta ArrayMetadata
	if err := json.Unmarshal(doc, &meta); err != nil {
		return nil, fmt.Errorf("decode %s: %w", arrayMetadataKey, err)
	}
	if meta.ZarrFormat != zarrFormat {
		return nil, fmt.Errorf("unsupported zarr_format: %d, expected %d", meta.ZarrFormat, zarrFormat)
	}
	if len(meta.Codecs) == 0 || meta.Codecs[0].Name != "sharding_indexed" {
		return nil, fmt.Errorf("array is not sharded: missing sharding_indexed codec")
	}
	var sharding shardingCodecConfig
	if err := json.Unmarshal(meta.Codecs[0].Configuration, &sharding); err != nil {
		return nil, fmt.Errorf("decode sharding codec configuration: %w", err)
	}

	itemSize := meta.DataType.Size()
	if itemSize == 0 {
		return nil, fmt.Errorf("unsupported data type: %q", meta.DataType)
	}

	outer := meta.ChunkGrid.Configuration.ChunkShape
	inner := sharding.ChunkShape
	if len(outer) != len(meta.Shape) || len(inner) != len(meta.Shape) {
		return nil, fmt.Errorf("chunk shape rank does not match array rank %d", len(meta.Shape))
	}

	a := &Array{
		bucket:         bucket,
		meta:           meta,
		inner:          inner,
		outer:          outer,
		itemSize:       itemSize,
		chunksPerShard: 1,
	}
	for i := range meta.Shape {
		if inner[i] < 1 || outer[i]%inner[i] != 0 {
			return nil, fmt.Errorf("outer chunk %d not a multiple of inner chunk %d in dimension %d", outer[i], inner[i], i)
		}
		a.shardSizes = append(a.shardSizes, outer[i]/inner[i])
		a.chunkGrid = append(a.chunkGrid, ceilDiv(meta.Shape[i], inner[i]))
		a.chunksPerShard *= outer[i] / inner[i]
	}
	for _, c := range sharding.Codecs {
		if comp, ok := compressorForCodec(c.Name); ok {
			a.comp = comp
		}
	}
	return a, nil
}

// Metadata returns the parsed array document.
func (a *Array) Metadata() ArrayMetadata {
	return a.meta
}

// Shape returns the array extents.
func (a *Array) Shape() []int {
	return a.meta.Shape
}

// chunkBytes is the decoded size of one nominal inner chunk.
func (a *Array) chunkBytes() int {
	return product(a.inner) * a.itemSize
}

// ReadChunk returns the decoded bytes of one inner chunk, identified by its
// position in the chunk grid. Missing shards and unwritten slots decode to
// fill-value (zero) chunks of nominal size.
func (a *Array) ReadChunk(ctx context.Context, coords []int) ([]byte, error) {
	if len(coords) != len(a.chunkGrid) {
		return nil, fmt.Errorf("chunk coordinate rank %d does not match array rank %d", len(coords), len(a.chunkGrid))
	}
	shardCoord := make([]int, len(coords))
	slotCoord := make([]int, len(coords))
	for i, c := range coords {
		if c < 0 || c >= a.chunkGrid[i] {
			return nil, fmt.Errorf("chunk coordinate %d out of range in dimension %d", c, i)
		}
		shardCoord[i] = c / a.shardSizes[i]
		slotCoord[i] = c % a.shardSizes[i]
	}
	slot := flatten(slotCoord, a.shardSizes)
	key := shardKey(shardCoord)

	index, err := a.readShardIndex(ctx, key)
	if err != nil {
		return nil, err
	}
	if index == nil {
		// Shard never written: every chunk in it is fill value.
		return make([]byte, a.chunkBytes()), nil
	}

	offset, nbytes, ok := index.Lookup(slot)
	if !ok {
		return make([]byte, a.chunkBytes()), nil
	}
	payload, err := a.readRange(ctx, key, int64(offset), int64(nbytes))
	if err != nil {
		return nil, err
	}
	data, err := a.comp.decode(payload)
	if err != nil {
		return nil, fmt.Errorf("decode chunk %v in shard %s: %w", coords, key, err)
	}
	if len(data) != a.chunkBytes() {
		return nil, fmt.Errorf("chunk %v in shard %s: decoded %d bytes, want %d", coords, key, len(data), a.chunkBytes())
	}
	return data, nil
}

// readShardIndex reads and verifies the trailing index of a shard file.
// A nil index with nil error means the shard does not exist.
func (a *Array) readShardIndex(ctx context.Context, key string) (*ChunkIndex, error) {
	attrs, err := a.bucket.Attributes(ctx, key)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: shard %s: %w", ErrStorageIO, key, err)
	}

	tableSize := int64(a.chunksPerShard * IndexEntrySize)
	if attrs.Size < tableSize+ChecksumSize {
		return nil, fmt.Errorf("%w: shard %s truncated: %d bytes, need at least %d",
			ErrStorageIO, key, attrs.Size, tableSize+ChecksumSize)
	}
	trailer, err := a.readRange(ctx, key, attrs.Size-tableSize-ChecksumSize, tableSize+ChecksumSize)
	if err != nil {
		return nil, err
	}
	table := trailer[:tableSize]
	sum := binary.LittleEndian.Uint32(trailer[tableSize:])
	if crc32c(table) != sum {
		return nil, fmt.Errorf("%w: shard %s", ErrIndexChecksum, key)
	}
	return UnmarshalChunkIndex(table, a.chunksPerShard)
}

func (a *Array) readRange(ctx context.Context, key string, offset, length int64) ([]byte, error) {
	r, err := a.bucket.NewRangeReader(ctx, key, offset, length, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: shard %s: %w", ErrStorageIO, key, err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: shard %s: %w", ErrStorageIO, key, err)
	}
	return data, nil
}
