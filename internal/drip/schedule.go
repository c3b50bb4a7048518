// Package drip turns a batch of accepted lead candidates into a staggered
// release schedule and filters out posts an owner has already been sent.
//
// A batch is spread over a fixed two hour horizon. The per-lead spacing is
// clamped to [MinInterval, MaxInterval] and every lead gets its own jitter
// draw, so the cadence never looks mechanical and never stalls for days.
package drip

import (
	"math/rand"
	"time"
)

const (
	// TargetWindow is the planning horizon, in minutes, for one batch.
	TargetWindow = 120.0
	// MinInterval and MaxInterval bound the base spacing in minutes.
	MinInterval = 5.0
	MaxInterval = 45.0

	jitterLow  = 0.7
	jitterHigh = 1.3
)

// RandSource yields uniform draws in [0, 1). *rand.Rand satisfies it.
type RandSource interface {
	Float64() float64
}

type globalRand struct{}

func (globalRand) Float64() float64 { return rand.Float64() }

// DefaultRand draws from the math/rand global source.
var DefaultRand RandSource = globalRand{}

// Options tune a single scheduling call.
type Options struct {
	// ImmediateCount leads at the head of the batch are released at now and
	// excluded from the drip computation.
	ImmediateCount int
}

// BaseInterval returns the clamped spacing in minutes for k dripped leads.
// It returns 0 when k is not positive.
func BaseInterval(k int) float64 {
	if k <= 0 {
		return 0
	}
	base := TargetWindow / float64(k)
	if base < MinInterval {
		return MinInterval
	}
	if base > MaxInterval {
		return MaxInterval
	}
	return base
}

// Offsets returns the release offset in minutes of each of k dripped leads:
// offset_i = i*base + jitter_i with jitter_i drawn from [0.7*base, 1.3*base].
func Offsets(k int, rnd RandSource) []float64 {
	if k <= 0 {
		return nil
	}
	if rnd == nil {
		rnd = DefaultRand
	}
	base := BaseInterval(k)
	lo, hi := jitterLow*base, jitterHigh*base
	out := make([]float64, k)
	for i := 0; i < k; i++ {
		jitter := lo + rnd.Float64()*(hi-lo)
		out[i] = float64(i)*base + jitter
	}
	return out
}

// Schedule assigns a release time to each of k leads in input order. All
// times are anchored on the single instant now. The first
// opts.ImmediateCount leads are released at now; the rest are dripped with
// offsets computed over the remaining count only.
func Schedule(now time.Time, k int, opts Options, rnd RandSource) []time.Time {
	if k <= 0 {
		return nil
	}
	now = now.UTC()
	immediate := opts.ImmediateCount
	if immediate < 0 {
		immediate = 0
	}
	if immediate > k {
		immediate = k
	}

	out := make([]time.Time, 0, k)
	for i := 0; i < immediate; i++ {
		out = append(out, now)
	}
	for _, off := range Offsets(k-immediate, rnd) {
		out = append(out, now.Add(minutes(off)))
	}
	return out
}

func minutes(m float64) time.Duration {
	return time.Duration(m * float64(time.Minute))
}
