package stats

import "math"

const (
	// SNRFloor is the value a radio reports when the SNR is below its
	// measurable range.
	SNRFloor = -32.0

	floorEpsilon = 1e-6
)

// HitsFloor reports whether any reading in either array is at the SNR floor.
// Such a sample carries no usable measurement and is discarded whole.
func HitsFloor(towards, back []float64) bool {
	for _, vs := range [][]float64{towards, back} {
		for _, v := range vs {
			if math.Abs(v-SNRFloor) < floorEpsilon {
				return true
			}
		}
	}
	return false
}

// At returns a pointer to vs[i], or nil if the index is out of range.
func At(vs []float64, i int) *float64 {
	if i < 0 || i >= len(vs) {
		return nil
	}
	v := vs[i]
	return &v
}
