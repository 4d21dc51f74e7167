package audio

import (
	"encoding/binary"
	"math"
)

// Level computes the RMS level of a chunk of 16-bit little-endian mono PCM,
// normalized to 0..1. A trailing odd byte is ignored.
func Level(pcm []byte) float64 {
	sampleCount := len(pcm) / 2
	if sampleCount == 0 {
		return 0
	}

	var sum float64
	for i := 0; i < sampleCount; i++ {
		sample := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		v := float64(sample) / 32768.0
		sum += v * v
	}

	level := math.Sqrt(sum / float64(sampleCount))
	if level > 1 {
		level = 1
	}
	return level
}
