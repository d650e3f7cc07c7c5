package audio

import "fmt"

// Resampler converts a stream of 16-bit linear samples from one rate to
// another by linear interpolation. State (the previous input sample and the
// fractional read position) carries across calls so chunk boundaries do not
// produce discontinuities. A Resampler is one-directional and must not be
// shared between calls or directions.
type Resampler struct {
	fromRate int
	toRate   int

	// step is the input-position advance per output sample.
	step float64
	// pos is the fractional read position relative to prev.
	pos float64
	// prev is the last input sample from the previous chunk.
	prev    int16
	primed  bool
}

// NewResampler creates a resampler converting fromRate to toRate.
func NewResampler(fromRate, toRate int) (*Resampler, error) {
	if fromRate <= 0 || toRate <= 0 {
		return nil, fmt.Errorf("invalid resample rates %d -> %d", fromRate, toRate)
	}
	return &Resampler{
		fromRate: fromRate,
		toRate:   toRate,
		step:     float64(fromRate) / float64(toRate),
	}, nil
}

// Process converts one chunk of input samples, returning the interpolated
// output samples. Returns an empty slice for empty input.
func (r *Resampler) Process(in []int16) []int16 {
	if len(in) == 0 {
		return nil
	}
	if !r.primed {
		r.prev = in[0]
		r.primed = true
	}

	out := make([]int16, 0, len(in)*r.toRate/r.fromRate+1)

	// pos is measured from prev: pos in [0,1) interpolates prev..in[0],
	// pos in [1,2) interpolates in[0]..in[1], and so on.
	for r.pos < float64(len(in)) {
		var s0, s1 int16
		idx := int(r.pos)
		frac := r.pos - float64(idx)
		if idx == 0 {
			s0, s1 = r.prev, in[0]
		} else {
			s0, s1 = in[idx-1], in[idx]
		}
		v := float64(s0) + (float64(s1)-float64(s0))*frac
		out = append(out, int16(v))
		r.pos += r.step
	}

	r.prev = in[len(in)-1]
	r.pos -= float64(len(in))
	return out
}

// Reset clears the interpolation state.
func (r *Resampler) Reset() {
	r.pos = 0
	r.prev = 0
	r.primed = false
}
