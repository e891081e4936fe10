package zarr3

import (
	"bytes"
	"testing"
)

func TestCopyPlaneRegion(t *testing.T) {
	// 4x5 source plane, values 0..19.
	src := make([]byte, 20)
	for i := range src {
		src[i] = byte(i)
	}

	// Copy the 2x3 rectangle at (row 1, col 2) into a 3x4 destination at
	// its origin.
	dst := make([]byte, 12)
	copyPlaneRegion(dst, 0, 4, src, 1*5+2, 5, 2, 3)

	want := []byte{
		7, 8, 9, 0,
		12, 13, 14, 0,
		0, 0, 0, 0,
	}
	if !bytes.Equal(dst, want) {
		t.Errorf("dst = %v, want %v", dst, want)
	}
}

func TestCopyPlaneRegionOffset(t *testing.T) {
	src := []byte{1, 2, 3, 4}
	dst := make([]byte, 8)

	// Place a 2x2 region in the second half of the destination.
	copyPlaneRegion(dst, 4, 2, src, 0, 2, 2, 2)

	want := []byte{0, 0, 0, 0, 1, 2, 3, 4}
	if !bytes.Equal(dst, want) {
		t.Errorf("dst = %v, want %v", dst, want)
	}
}
