package zarr3

import "fmt"

// DataType is a Zarr v3 data type name, e.g. "uint8" or "float32".
type DataType string

const (
	Uint8   DataType = "uint8"
	Uint16  DataType = "uint16"
	Uint32  DataType = "uint32"
	Uint64  DataType = "uint64"
	Int8    DataType = "int8"
	Int16   DataType = "int16"
	Int32   DataType = "int32"
	Int64   DataType = "int64"
	Float32 DataType = "float32"
	Float64 DataType = "float64"
)

var dataTypeSizes = map[DataType]int{
	Uint8:   1,
	Uint16:  2,
	Uint32:  4,
	Uint64:  8,
	Int8:    1,
	Int16:   2,
	Int32:   4,
	Int64:   8,
	Float32: 4,
	Float64: 8,
}

// Size returns the number of bytes per sample, or 0 for an unknown type.
func (d DataType) Size() int {
	return dataTypeSizes[d]
}

// ParseDataType validates a Zarr v3 data type name.
func ParseDataType(s string) (DataType, error) {
	d := DataType(s)
	if d.Size() == 0 {
		return "", fmt.Errorf("unsupported data type: %q", s)
	}
	return d, nil
}
