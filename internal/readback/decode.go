package readback

import (
	"encoding/binary"
	"fmt"
)

// DecodeU32 copies b into a new slice of native-endian u32 values.
// The result shares no memory with b.
func DecodeU32(b []byte) ([]uint32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("readback: %d bytes is not a whole number of u32 values", len(b))
	}
	out := make([]uint32, len(b)/4)
	for i := range out {
		out[i] = binary.NativeEndian.Uint32(b[i*4:])
	}
	return out, nil
}
