package gpu

import "unsafe"

// Int16Bytes returns a byte view over samples without copying. The view
// aliases the slice and uses host byte order, which is what device
// transfers expect.
func Int16Bytes(samples []int16) []byte {
	if len(samples) == 0 {
		return []byte{}
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(&samples[0])), len(samples)*2)
}

// Float32Bytes returns a byte view over values without copying.
func Float32Bytes(values []float32) []byte {
	if len(values) == 0 {
		return []byte{}
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(&values[0])), len(values)*4)
}

// alignedBytes allocates n zeroed bytes aligned for every element type the
// native kernels view device memory as.
func alignedBytes(n int) []byte {
	if n <= 0 {
		return []byte{}
	}
	words := make([]uint64, (n+7)/8)
	return unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), n)
}

// bytesInt16 reinterprets device memory as int16 samples. Trailing bytes
// that do not form a whole element are ignored.
func bytesInt16(b []byte) []int16 {
	if len(b) < 2 {
		return nil
	}
	return unsafe.Slice((*int16)(unsafe.Pointer(&b[0])), len(b)/2)
}

// bytesFloat32 reinterprets device memory as float32 values.
func bytesFloat32(b []byte) []float32 {
	if len(b) < 4 {
		return nil
	}
	return unsafe.Slice((*float32)(unsafe.Pointer(&b[0])), len(b)/4)
}
