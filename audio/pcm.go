package audio

import "encoding/binary"

// FloatToPCM16 converts one float sample to 16-bit PCM with hard clamping
// to the representable range. Out-of-range inputs clamp, never wrap:
// 1.5 maps to 32767, not an overflowed value. The scale is symmetric so
// -1.0 maps to -32767 exactly.
func FloatToPCM16(sample float32) int16 {
	if sample > 1.0 {
		sample = 1.0
	}
	if sample < -1.0 {
		sample = -1.0
	}
	return int16(sample * 32767)
}

// EncodePCM16LE converts float samples to little-endian 16-bit PCM bytes.
func EncodePCM16LE(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(FloatToPCM16(s)))
	}
	return out
}

// DecodePCM16LE converts little-endian 16-bit PCM bytes to float samples.
// A trailing odd byte is dropped; garbled frames degrade per-frame rather
// than failing the pipeline.
func DecodePCM16LE(pcm []byte) []float32 {
	n := len(pcm) / 2
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		v := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		out[i] = float32(v) / 32768.0
	}
	return out
}
