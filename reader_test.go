package zarr3_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/acquirego/zarr3"
)

func writeRampFrames(t *testing.T, w *zarr3.StreamWriter, n, width, height int) [][]byte {
	t.Helper()
	ctx := context.Background()
	frames := make([][]byte, n)
	for f := 0; f < n; f++ {
		data := make([]byte, width*height)
		for i := range data {
			data[i] = byte(f*7 + i%13)
		}
		frames[f] = data
		require.NoError(t, w.Append(ctx, zarr3.Frame{
			Index: uint64(f), Width: width, Height: height, DataType: zarr3.Uint8, Data: data,
		}))
	}
	return frames
}

func TestArrayReadChunkZstd(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))

	ctx := context.Background()
	bucket, _ := openTestBucket(t)

	desc := zarr3.ArrayDescriptor{
		Dimensions: []zarr3.Dimension{
			{Name: "t", Kind: zarr3.DimensionTime, ArraySize: 0, ChunkSize: 4, ShardSize: 1},
			{Name: "y", Kind: zarr3.DimensionSpace, ArraySize: 8, ChunkSize: 8, ShardSize: 1},
			{Name: "x", Kind: zarr3.DimensionSpace, ArraySize: 8, ChunkSize: 8, ShardSize: 1},
		},
		DataType: zarr3.Uint8,
	}
	w, err := zarr3.NewStreamWriter(bucket, desc, zarr3.WithCompressor(zarr3.CompressorZstd))
	require.NoError(t, err)
	frames := writeRampFrames(t, w, 4, 8, 8)
	require.NoError(t, w.Close(ctx))

	arr, err := zarr3.OpenArray(ctx, bucket)
	require.NoError(t, err)

	chunk, err := arr.ReadChunk(ctx, []int{0, 0, 0})
	require.NoError(t, err)
	want := make([]byte, 0, 4*64)
	for _, f := range frames {
		want = append(want, f...)
	}
	require.Equal(t, want, chunk)
}

func TestArrayReadChunkGzip(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))

	ctx := context.Background()
	bucket, _ := openTestBucket(t)

	desc := zarr3.ArrayDescriptor{
		Dimensions: []zarr3.Dimension{
			{Name: "t", Kind: zarr3.DimensionTime, ArraySize: 0, ChunkSize: 2, ShardSize: 1},
			{Name: "y", Kind: zarr3.DimensionSpace, ArraySize: 4, ChunkSize: 4, ShardSize: 1},
			{Name: "x", Kind: zarr3.DimensionSpace, ArraySize: 4, ChunkSize: 4, ShardSize: 1},
		},
		DataType: zarr3.Uint8,
	}
	w, err := zarr3.NewStreamWriter(bucket, desc, zarr3.WithCompressor(zarr3.CompressorGzip))
	require.NoError(t, err)
	frames := writeRampFrames(t, w, 2, 4, 4)
	require.NoError(t, w.Close(ctx))

	arr, err := zarr3.OpenArray(ctx, bucket)
	require.NoError(t, err)

	chunk, err := arr.ReadChunk(ctx, []int{0, 0, 0})
	require.NoError(t, err)
	require.Equal(t, append(append([]byte{}, frames[0]...), frames[1]...), chunk)
}

func TestArrayReadChunkMissingShard(t *testing.T) {
	ctx := context.Background()
	bucket, _ := openTestBucket(t)

	desc := zarr3.ArrayDescriptor{
		Dimensions: []zarr3.Dimension{
			{Name: "t", Kind: zarr3.DimensionTime, ArraySize: 4, ChunkSize: 2, ShardSize: 1},
			{Name: "y", Kind: zarr3.DimensionSpace, ArraySize: 4, ChunkSize: 4, ShardSize: 1},
			{Name: "x", Kind: zarr3.DimensionSpace, ArraySize: 4, ChunkSize: 4, ShardSize: 1},
		},
		DataType: zarr3.Uint8,
	}
	w, err := zarr3.NewStreamWriter(bucket, desc)
	require.NoError(t, err)
	writeRampFrames(t, w, 2, 4, 4) // fills t shard 0 only
	require.NoError(t, w.Close(ctx))

	arr, err := zarr3.OpenArray(ctx, bucket)
	require.NoError(t, err)

	chunk, err := arr.ReadChunk(ctx, []int{1, 0, 0})
	require.NoError(t, err)
	require.Equal(t, make([]byte, 2*4*4), chunk, "unwritten shard reads as fill value")

	_, err = arr.ReadChunk(ctx, []int{2, 0, 0})
	require.Error(t, err, "coordinate beyond the chunk grid")
}

func TestArrayReadChunkCorruptedIndex(t *testing.T) {
	ctx := context.Background()
	bucket, dir := openTestBucket(t)

	desc := zarr3.ArrayDescriptor{
		Dimensions: []zarr3.Dimension{
			{Name: "t", Kind: zarr3.DimensionTime, ArraySize: 0, ChunkSize: 2, ShardSize: 1},
			{Name: "y", Kind: zarr3.DimensionSpace, ArraySize: 4, ChunkSize: 4, ShardSize: 1},
			{Name: "x", Kind: zarr3.DimensionSpace, ArraySize: 4, ChunkSize: 4, ShardSize: 1},
		},
		DataType: zarr3.Uint8,
	}
	w, err := zarr3.NewStreamWriter(bucket, desc)
	require.NoError(t, err)
	writeRampFrames(t, w, 2, 4, 4)
	require.NoError(t, w.Close(ctx))

	shardPath := filepath.Join(dir, "0", "c", "0", "0", "0")
	data, err := os.ReadFile(shardPath)
	require.NoError(t, err)
	data[len(data)-1] ^= 0xff
	require.NoError(t, os.WriteFile(shardPath, data, 0o644))

	arr, err := zarr3.OpenArray(ctx, bucket)
	require.NoError(t, err)
	_, err = arr.ReadChunk(ctx, []int{0, 0, 0})
	require.ErrorIs(t, err, zarr3.ErrIndexChecksum)
}

func TestArrayReadChunkTruncatedShard(t *testing.T) {
	ctx := context.Background()
	bucket, dir := openTestBucket(t)

	desc := zarr3.ArrayDescriptor{
		Dimensions: []zarr3.Dimension{
			{Name: "t", Kind: zarr3.DimensionTime, ArraySize: 0, ChunkSize: 2, ShardSize: 1},
			{Name: "y", Kind: zarr3.DimensionSpace, ArraySize: 4, ChunkSize: 4, ShardSize: 1},
			{Name: "x", Kind: zarr3.DimensionSpace, ArraySize: 4, ChunkSize: 4, ShardSize: 1},
		},
		DataType: zarr3.Uint8,
	}
	w, err := zarr3.NewStreamWriter(bucket, desc)
	require.NoError(t, err)
	writeRampFrames(t, w, 2, 4, 4)
	require.NoError(t, w.Close(ctx))

	// Truncate the shard below even its index table and checksum.
	shardPath := filepath.Join(dir, "0", "c", "0", "0", "0")
	require.NoError(t, os.WriteFile(shardPath, []byte{1, 2, 3}, 0o644))

	arr, err := zarr3.OpenArray(ctx, bucket)
	require.NoError(t, err)
	_, err = arr.ReadChunk(ctx, []int{0, 0, 0})
	require.ErrorIs(t, err, zarr3.ErrStorageIO)
	require.ErrorContains(t, err, "truncated")
}

func TestOpenArrayRejectsUnsharded(t *testing.T) {
	ctx := context.Background()
	bucket, _ := openTestBucket(t)

	doc := []byte(`{"zarr_format":3,"node_type":"array","shape":[4],"data_type":"uint8",` +
		`"chunk_grid":{"name":"regular","configuration":{"chunk_shape":[4]}},` +
		`"chunk_key_encoding":{"name":"default","configuration":{"separator":"/"}},` +
		`"fill_value":0,"codecs":[{"name":"bytes","configuration":{"endian":"little"}}]}`)
	require.NoError(t, bucket.WriteAll(ctx, "0/zarr.json", doc, nil))

	_, err := zarr3.OpenArray(ctx, bucket)
	require.ErrorContains(t, err, "sharding_indexed")
}
