package zarr3

import (
	"errors"
	"fmt"
)

var (
	// ErrStorageIO indicates a failed read or write against the backing bucket.
	ErrStorageIO = errors.New("zarr3: storage I/O failure")

	// ErrMetadataWrite indicates that a zarr.json or external metadata
	// document could not be written. Without metadata the array is
	// unreadable, so this is fatal.
	ErrMetadataWrite = errors.New("zarr3: metadata write failure")

	// ErrFrameOrder is returned when an appended frame is not the next one
	// expected, or when the stream exceeds the declared array extent.
	ErrFrameOrder = errors.New("zarr3: frame out of order")

	// ErrWriterClosed is returned by Append after Close has been called.
	ErrWriterClosed = errors.New("zarr3: writer is closed")

	// ErrIndexChecksum indicates a shard index whose CRC32C does not match.
	ErrIndexChecksum = errors.New("zarr3: shard index checksum mismatch")
)

// InvalidDimensionError reports a bad dimension configuration.
type InvalidDimensionError struct {
	Dimension string
	Reason    string
}

func (e *InvalidDimensionError) Error() string {
	if e.Dimension == "" {
		return fmt.Sprintf("invalid dimensions: %s", e.Reason)
	}
	return fmt.Sprintf("invalid dimension %q: %s", e.Dimension, e.Reason)
}

// FrameShapeMismatchError reports a frame whose shape or pixel type violates
// the declared array descriptor. The acquisition must be aborted.
type FrameShapeMismatchError struct {
	Field string
	Want  any
	Got   any
}

func (e *FrameShapeMismatchError) Error() string {
	return fmt.Sprintf("frame %s mismatch: want %v, got %v", e.Field, e.Want, e.Got)
}
