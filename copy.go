package zarr3

// copyPlaneRegion copies rows of rowBytes contiguous bytes from src into dst,
// advancing each buffer by its own row stride. This is the single primitive
// behind frame-to-chunk slicing: the caller points dstOff at the chunk
// buffer's plane origin and srcOff at the frame sub-rectangle's origin.
func copyPlaneRegion(dst []byte, dstOff, dstRowStride int, src []byte, srcOff, srcRowStride int, rows, rowBytes int) {
	for r := 0; r < rows; r++ {
		d := dstOff + r*dstRowStride
		s := srcOff + r*srcRowStride
		copy(dst[d:d+rowBytes], src[s:s+rowBytes])
	}
}
