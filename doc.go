// Package zarr3 writes streams of image frames to Zarr v3 arrays with
// regular chunking and the sharding_indexed codec.
//
// A StreamWriter consumes frames in acquisition order, slices each frame
// into per-chunk sub-regions, groups completed chunks into shard files with
// a trailing binary index and CRC32C checksum, and emits zarr.json metadata
// for the group and the array once the stream ends. Storage goes through
// gocloud.dev/blob, so the same writer targets a local directory, memory,
// or a cloud bucket.
package zarr3
