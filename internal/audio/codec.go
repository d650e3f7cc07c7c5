package audio

import "time"

// Audio format constants shared across the pipeline.
const (
	// NarrowRate is the telephony sample rate (G.711 µ-law).
	NarrowRate = 8000
	// WideRate is the linear PCM rate the speech collaborators expect.
	WideRate = 16000

	// FrameDuration is the duration of one transport frame.
	FrameDuration = 20 * time.Millisecond

	// SamplesPerFrame is the number of narrow-band samples per transport
	// frame. At 8 kHz with 20 ms frames each frame carries 160 samples;
	// for µ-law each sample is one byte.
	SamplesPerFrame = 160
)

// Encoding tags the payload format of a Frame.
type Encoding int

const (
	EncodingULaw Encoding = iota // 8-bit µ-law, narrow-band
	EncodingPCM                  // 16-bit linear PCM
)

func (e Encoding) String() string {
	switch e {
	case EncodingULaw:
		return "ulaw"
	case EncodingPCM:
		return "pcm"
	default:
		return "unknown"
	}
}

// Frame is one fixed-duration chunk of audio tagged with its encoding and
// sample rate. Frames are immutable once produced; ownership transfers from
// the producing stage to the consuming stage and is never shared.
type Frame struct {
	Encoding   Encoding
	SampleRate int

	// ULaw holds the payload for EncodingULaw frames.
	ULaw []byte
	// PCM holds the payload for EncodingPCM frames.
	PCM []int16
}

// Duration returns the real-time length of the frame's audio.
func (f *Frame) Duration() time.Duration {
	n := len(f.ULaw)
	if f.Encoding == EncodingPCM {
		n = len(f.PCM)
	}
	if f.SampleRate == 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(f.SampleRate)
}

// Codec converts between the transport's narrow-band µ-law format and the
// wide-band linear PCM the speech collaborators consume. Each direction has
// private resampler state, so one Codec belongs to exactly one call.
type Codec struct {
	up   *Resampler // 8 kHz -> 16 kHz, ingest direction
	down *Resampler // 16 kHz -> 8 kHz, egress direction
}

// NewCodec creates a codec for one call.
func NewCodec() *Codec {
	up, _ := NewResampler(NarrowRate, WideRate)
	down, _ := NewResampler(WideRate, NarrowRate)
	return &Codec{up: up, down: down}
}

// Decode expands narrow-band µ-law bytes to wide-band linear samples.
func (c *Codec) Decode(ulaw []byte) []int16 {
	return c.up.Process(DecodeULaw(ulaw))
}

// Encode compresses wide-band linear samples to narrow-band µ-law bytes.
func (c *Codec) Encode(pcm []int16) []byte {
	return EncodeULaw(c.down.Process(pcm))
}
