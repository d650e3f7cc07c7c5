// Package turn implements endpoint detection: deciding, from a stream of
// linear audio frames, when the caller has finished speaking and an
// utterance is ready for transcription.
package turn

import (
	"math"
	"time"
)

// Default endpointing thresholds. Both are tunable via Config; these values
// trade a little turn latency for not splitting utterances mid-sentence.
const (
	DefaultMinSpeech       = 500 * time.Millisecond
	DefaultEndpointSilence = 500 * time.Millisecond
)

// EventKind identifies what the detector observed for a fed frame.
type EventKind int

const (
	// EventNone means the frame changed nothing actionable.
	EventNone EventKind = iota
	// EventSpeechStarted means the frame began a new active-speech run.
	EventSpeechStarted
	// EventUtteranceReady means a complete utterance is available.
	EventUtteranceReady
)

// Event is the detector's verdict for one fed frame. Utterance is set only
// for EventUtteranceReady.
type Event struct {
	Kind      EventKind
	Utterance *Utterance
}

// Utterance is one contiguous run of speech samples bounded by a detected
// start and end of turn. It is consumed exactly once by transcription.
type Utterance struct {
	// Samples is the buffered wide-band PCM for the whole utterance.
	Samples []int16
	// Duration is the accumulated active-speech time.
	Duration time.Duration
	// Started is when the first active frame of the run arrived.
	Started time.Time
}

// Config holds the endpointing policy parameters.
type Config struct {
	// MinSpeech is the minimum accumulated active-speech duration before
	// an utterance may be emitted. Buffers that never reach it are held
	// until speech resumes or the call ends, then discarded untranscribed;
	// this keeps noise bursts out of the transcription stage.
	MinSpeech time.Duration
	// EndpointSilence is the trailing silence required after the last
	// active frame before the utterance is considered finished.
	EndpointSilence time.Duration
	// EnergyFloor is the RMS energy above which a frame counts as active
	// speech. Zero means any received audio counts as active.
	EnergyFloor float64
}

// Detector buffers speech frames and applies the endpointing policy. It is
// owned by a single call's ingest stage and is not safe for concurrent use.
type Detector struct {
	cfg Config

	buf      []int16
	active   time.Duration
	started  time.Time
	speaking bool
	lastSeen time.Time
	closed   bool

	// now is stubbed in tests.
	now func() time.Time
}

// NewDetector creates a detector with the given policy. Zero durations fall
// back to the defaults.
func NewDetector(cfg Config) *Detector {
	if cfg.MinSpeech <= 0 {
		cfg.MinSpeech = DefaultMinSpeech
	}
	if cfg.EndpointSilence <= 0 {
		cfg.EndpointSilence = DefaultEndpointSilence
	}
	return &Detector{cfg: cfg, now: time.Now}
}

// Feed consumes one wide-band PCM frame and returns the resulting event.
// frameDur is the real-time duration the frame represents. Frames fed after
// Close are dropped.
func (d *Detector) Feed(samples []int16, frameDur time.Duration) Event {
	if d.closed || len(samples) == 0 {
		return Event{Kind: EventNone}
	}

	now := d.now()
	if rms(samples) >= d.cfg.EnergyFloor {
		started := !d.speaking
		if started {
			d.speaking = true
			if len(d.buf) == 0 {
				d.started = now
			}
		}
		d.buf = append(d.buf, samples...)
		d.active += frameDur
		d.lastSeen = now
		if started {
			return Event{Kind: EventSpeechStarted}
		}
		return Event{Kind: EventNone}
	}

	// Silent frame. Nothing buffered means nothing to endpoint.
	if len(d.buf) == 0 {
		return Event{Kind: EventNone}
	}
	d.speaking = false
	return d.maybeEndpoint(now)
}

// Poll re-evaluates the endpointing condition against the wall clock. Some
// transports stop sending frames during silence, so the ingest stage ticks
// Poll periodically to detect an end of turn that no silent frame will ever
// signal.
func (d *Detector) Poll() Event {
	if d.closed || len(d.buf) == 0 {
		return Event{Kind: EventNone}
	}
	return d.maybeEndpoint(d.now())
}

func (d *Detector) maybeEndpoint(now time.Time) Event {
	if d.active >= d.cfg.MinSpeech && now.Sub(d.lastSeen) >= d.cfg.EndpointSilence {
		u := &Utterance{
			Samples:  d.buf,
			Duration: d.active,
			Started:  d.started,
		}
		d.reset()
		return Event{Kind: EventUtteranceReady, Utterance: u}
	}
	return Event{Kind: EventNone}
}

// Flush returns the buffered utterance if it satisfies the minimum-speech
// threshold, regardless of trailing silence. Short buffers are discarded.
// Used when the call ends with audio still buffered.
func (d *Detector) Flush() *Utterance {
	defer d.reset()
	if d.active >= d.cfg.MinSpeech && len(d.buf) > 0 {
		return &Utterance{Samples: d.buf, Duration: d.active, Started: d.started}
	}
	return nil
}

// Close drops all buffered audio and makes further Feed calls no-ops.
func (d *Detector) Close() {
	d.closed = true
	d.reset()
}

// ActiveDuration returns the accumulated active-speech time of the current
// buffer.
func (d *Detector) ActiveDuration() time.Duration {
	return d.active
}

func (d *Detector) reset() {
	d.buf = nil
	d.active = 0
	d.speaking = false
}

// rms computes the root-mean-square energy of a frame, normalized to [0,1].
func rms(samples []int16) float64 {
	var sum float64
	for _, s := range samples {
		v := float64(s) / 32768
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}
