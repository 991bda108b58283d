package gpuprobe

// Sequence returns n consecutive values starting at first. Values wrap
// at 2^32.
func Sequence(first, n uint32) []uint32 {
	out := make([]uint32, n)
	for i := range out {
		out[i] = first + uint32(i)
	}
	return out
}
