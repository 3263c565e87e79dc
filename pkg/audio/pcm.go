package audio

import "math"

// RMS returns the root-mean-square amplitude of little-endian int16 PCM, in
// 16-bit sample units (0–32768). A trailing odd byte is ignored. Returns 0
// for input shorter than one sample.
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := float64(int16(uint16(pcm[2*i]) | uint16(pcm[2*i+1])<<8))
		sum += s * s
	}
	return math.Sqrt(sum / float64(n))
}

// Samples decodes little-endian int16 PCM into ints. A trailing odd byte is
// ignored.
func Samples(pcm []byte) []int {
	out := make([]int, len(pcm)/2)
	for i := range out {
		out[i] = int(int16(uint16(pcm[2*i]) | uint16(pcm[2*i+1])<<8))
	}
	return out
}
