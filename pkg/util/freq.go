package util

import (
	"fmt"
	"math"
)

func HzToString(hz float64) string {
	return fmt.Sprintf("%0.4f MHz", hz/1e6)
}

// FrequencyRange returns the lowest and highest of freqs.
func FrequencyRange(freqs ...float64) (low, high float64) {
	low = math.Inf(1)
	high = math.Inf(-1)

	for _, freq := range freqs {
		if freq < low {
			low = freq
		}
		if freq > high {
			high = freq
		}
	}

	return
}

// PowerDBFS is the mean power of samples on a full scale of 1.0.
func PowerDBFS(meanSquare float64) float64 {
	if meanSquare <= 0 {
		return math.Inf(-1)
	}
	return 10 * math.Log10(meanSquare)
}
