package audio

import "math"

// Level returns the normalized loudness of a little-endian int16 PCM buffer:
// the RMS of all samples divided by full scale, clamped to [0, 1]. Interleaved
// channels are treated as one sample stream. A trailing odd byte is ignored.
// An empty buffer has level 0.
func Level(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range n {
		s := float64(int16(uint16(pcm[i*2]) | uint16(pcm[i*2+1])<<8))
		sum += s * s
	}
	rms := math.Sqrt(sum/float64(n)) / 32768
	if rms > 1 {
		return 1
	}
	return rms
}
