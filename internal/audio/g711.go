// Package audio provides the per-call codec layer: G.711 µ-law companding
// and sample-rate conversion between the 8 kHz narrow-band telephony format
// and the 16 kHz linear PCM format the speech collaborators expect.
package audio

// G.711 µ-law companding constants.
const (
	// ulawBias is added to the magnitude before chord lookup.
	ulawBias = 0x84
	// ulawClip is the maximum magnitude representable after biasing.
	ulawClip = 32635

	// ULawSilence is the µ-law code for silence, used to pad partial frames.
	ULawSilence = 0xFF
)

// ulawToPCM is the µ-law code → 16-bit linear expansion table, built once
// at init from the inverse of the encoder.
var ulawToPCM [256]int16

func init() {
	for code := 0; code < 256; code++ {
		u := ^byte(code)
		exponent := (u >> 4) & 0x07
		mantissa := u & 0x0F
		magnitude := ((int32(mantissa) << 3) + ulawBias) << exponent
		sample := magnitude - ulawBias
		if u&0x80 != 0 {
			sample = -sample
		}
		ulawToPCM[code] = int16(sample)
	}
}

// EncodeULawSample compresses one 16-bit linear sample to an 8-bit µ-law
// code using sign/chord/step quantization: the sign bit is taken before
// the magnitude is biased and clipped, the chord is the position of the
// highest set bit, and the step is the next four bits below it. The result
// is complemented per G.711 convention.
func EncodeULawSample(sample int16) byte {
	sign := byte(0)
	magnitude := int32(sample)
	if magnitude < 0 {
		sign = 0x80
		magnitude = -magnitude
	}
	if magnitude > ulawClip {
		magnitude = ulawClip
	}
	magnitude += ulawBias

	// Chord: index of the segment containing the biased magnitude.
	// Seven chords of doubling step size above the first.
	exponent := byte(7)
	for mask := int32(0x4000); mask > 0x80 && magnitude&mask == 0; mask >>= 1 {
		exponent--
	}

	mantissa := byte((magnitude >> (exponent + 3)) & 0x0F)
	return ^(sign | (exponent << 4) | mantissa)
}

// DecodeULawSample expands one 8-bit µ-law code to a 16-bit linear sample.
func DecodeULawSample(code byte) int16 {
	return ulawToPCM[code]
}

// EncodeULaw compresses 16-bit linear samples to µ-law codes.
func EncodeULaw(samples []int16) []byte {
	out := make([]byte, len(samples))
	for i, s := range samples {
		out[i] = EncodeULawSample(s)
	}
	return out
}

// DecodeULaw expands µ-law codes to 16-bit linear samples.
func DecodeULaw(codes []byte) []int16 {
	out := make([]int16, len(codes))
	for i, c := range codes {
		out[i] = ulawToPCM[c]
	}
	return out
}
