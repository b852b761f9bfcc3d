package retrieval

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Embeddings are stored as little-endian float32 blobs, four bytes per
// dimension.

func encodeFloat32s(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeFloat32s(b []byte) ([]float32, error) {
	return decodeFloat32sInto(nil, b)
}

// decodeFloat32sInto reuses dst when it has room.
func decodeFloat32sInto(dst []float32, b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("embedding blob of %d bytes is truncated", len(b))
	}
	n := len(b) / 4
	if cap(dst) < n {
		dst = make([]float32, n)
	}
	dst = dst[:n]
	for i := range dst {
		dst[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return dst, nil
}

func l2norm(v []float32) float64 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return math.Sqrt(sum)
}

// cosineSimilarity of q and v, given the precomputed norm of q. A zero
// vector scores 0.
func cosineSimilarity(q []float32, qNorm float64, v []float32) float32 {
	var dot, vv float64
	for i := range q {
		dot += float64(q[i]) * float64(v[i])
		vv += float64(v[i]) * float64(v[i])
	}
	if qNorm == 0 || vv == 0 {
		return 0
	}
	return float32(dot / (qNorm * math.Sqrt(vv)))
}
