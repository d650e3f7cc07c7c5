// Package speech defines the speech-engine collaborator boundary. The
// engines themselves are opaque request/response services; the session only
// needs the two interfaces below, and failures from either are non-fatal to
// the call.
package speech

import "context"

// Transcriber converts wide-band linear audio to text. An empty result and
// an error are both valid non-fatal outcomes.
type Transcriber interface {
	Transcribe(ctx context.Context, pcm []int16) (string, error)
}

// Synthesizer converts text to wide-band linear audio in the given voice.
// A failure is treated as missing audio, not as a call-fatal error.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voice string) ([]int16, error)
}
