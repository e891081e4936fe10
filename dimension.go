package zarr3

import (
	"strconv"
	"strings"
)

// DimensionKind classifies an array dimension.
type DimensionKind uint8

const (
	DimensionTime DimensionKind = iota
	DimensionChannel
	DimensionSpace
	DimensionOther
)

func (k DimensionKind) String() string {
	switch k {
	case DimensionTime:
		return "time"
	case DimensionChannel:
		return "channel"
	case DimensionSpace:
		return "space"
	default:
		return "other"
	}
}

// Dimension describes one axis of the output array.
//
// ArraySize is the full extent in samples, ChunkSize the extent of one chunk
// in samples, and ShardSize the extent of one shard in chunks. ArraySize may
// be 0 on the first (append) dimension only, meaning the extent is unknown
// until the stream ends.
type Dimension struct {
	Name      string
	Kind      DimensionKind
	ArraySize int
	ChunkSize int
	ShardSize int
}

// chunkCount is the number of chunks along this dimension; the trailing
// chunk may extend past ArraySize.
func (d Dimension) chunkCount() int {
	return ceilDiv(d.ArraySize, d.ChunkSize)
}

// shardCount is the number of shard files along this dimension.
func (d Dimension) shardCount() int {
	return ceilDiv(d.ArraySize, d.ChunkSize*d.ShardSize)
}

// ArrayDescriptor declares the shape, tiling and sample type of an array.
// The last two dimensions must be spatial (frame height, then width); the
// first is the append dimension along which frames accumulate.
type ArrayDescriptor struct {
	Dimensions []Dimension
	DataType   DataType
}

// Validate checks the descriptor invariants. All errors are
// *InvalidDimensionError.
func (a ArrayDescriptor) Validate() error {
	if len(a.Dimensions) < 3 {
		return &InvalidDimensionError{Reason: "need at least 3 dimensions (append, height, width)"}
	}
	if a.DataType.Size() == 0 {
		return &InvalidDimensionError{Reason: "unsupported data type " + strconv.Quote(string(a.DataType))}
	}
	for i, d := range a.Dimensions {
		if d.Name == "" {
			return &InvalidDimensionError{Dimension: strconv.Itoa(i), Reason: "empty name"}
		}
		if d.ChunkSize < 1 {
			return &InvalidDimensionError{Dimension: d.Name, Reason: "chunk size must be at least 1"}
		}
		if d.ShardSize < 1 {
			return &InvalidDimensionError{Dimension: d.Name, Reason: "shard size must be at least 1"}
		}
		if d.ArraySize < 0 {
			return &InvalidDimensionError{Dimension: d.Name, Reason: "negative array size"}
		}
		if d.ArraySize == 0 && i != 0 {
			return &InvalidDimensionError{Dimension: d.Name, Reason: "only the first dimension may be unbounded"}
		}
		if d.ArraySize > 0 && d.ArraySize < d.ChunkSize {
			return &InvalidDimensionError{Dimension: d.Name, Reason: "array size smaller than chunk size"}
		}
	}
	n := len(a.Dimensions)
	for _, i := range []int{n - 2, n - 1} {
		if a.Dimensions[i].Kind != DimensionSpace {
			return &InvalidDimensionError{Dimension: a.Dimensions[i].Name, Reason: "final two dimensions must be spatial"}
		}
	}
	return nil
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}

// chunkKey joins chunk or shard grid coordinates with a separator.
// Example: indices=[1, 4], separator="/" -> "1/4".
func chunkKey(indices []int, separator string) string {
	if len(indices) == 1 {
		return strconv.Itoa(indices[0])
	}
	var sb strings.Builder
	for i, idx := range indices {
		if i > 0 {
			sb.WriteString(separator)
		}
		sb.WriteString(strconv.Itoa(idx))
	}
	return sb.String()
}

// shardKey is the bucket key of a shard file, relative to the storage root.
func shardKey(shardCoord []int) string {
	return arrayPrefix + "/c/" + chunkKey(shardCoord, keySeparator)
}

// flatten converts a multi-index into a row-major flat index.
func flatten(coords, extents []int) int {
	idx := 0
	for i := range extents {
		idx = idx*extents[i] + coords[i]
	}
	return idx
}

// unflatten fills out with the row-major multi-index of idx.
func unflatten(idx int, extents, out []int) {
	for i := len(extents) - 1; i >= 0; i-- {
		out[i] = idx % extents[i]
		idx /= extents[i]
	}
}
