package drip

import (
	"math/rand"
	"testing"
	"time"
)

const eps = 1e-6

func TestBaseIntervalClamp(t *testing.T) {
	cases := []struct {
		k    int
		want float64
	}{
		{0, 0},
		{1, 45},
		{2, 45},
		{3, 40},
		{5, 24},
		{24, 5},
		{200, 5},
		{1000, 5},
	}
	for _, tc := range cases {
		if got := BaseInterval(tc.k); got != tc.want {
			t.Fatalf("BaseInterval(%d) = %v want %v", tc.k, got, tc.want)
		}
	}
}

func TestBaseIntervalAlwaysBounded(t *testing.T) {
	for k := 1; k <= 2000; k++ {
		b := BaseInterval(k)
		if b < MinInterval || b > MaxInterval {
			t.Fatalf("k=%d base %v outside [%v,%v]", k, b, MinInterval, MaxInterval)
		}
	}
}

func TestScheduleEmpty(t *testing.T) {
	if got := Schedule(time.Now(), 0, Options{}, rand.New(rand.NewSource(1))); got != nil {
		t.Fatalf("expected nil schedule for empty batch, got %v", got)
	}
	if got := Offsets(0, nil); got != nil {
		t.Fatalf("expected nil offsets, got %v", got)
	}
}

func TestScheduleStrictlyIncreasing(t *testing.T) {
	rnd := rand.New(rand.NewSource(42))
	now := time.Date(2025, 8, 21, 9, 0, 0, 0, time.UTC)
	for k := 1; k <= 300; k++ {
		times := Schedule(now, k, Options{}, rnd)
		if len(times) != k {
			t.Fatalf("k=%d got %d times", k, len(times))
		}
		if !times[0].After(now) {
			t.Fatalf("k=%d first release %s not after now", k, times[0])
		}
		for i := 1; i < k; i++ {
			if !times[i].After(times[i-1]) {
				t.Fatalf("k=%d release %d (%s) not after %d (%s)", k, i, times[i], i-1, times[i-1])
			}
		}
	}
}

func TestScheduleFiveLeads(t *testing.T) {
	rnd := rand.New(rand.NewSource(7))
	for run := 0; run < 200; run++ {
		offs := Offsets(5, rnd)
		if offs[0] < 16.8-eps || offs[0] > 31.2+eps {
			t.Fatalf("offset_0 %v outside [16.8, 31.2]", offs[0])
		}
		for i := 1; i < len(offs); i++ {
			if offs[i] <= offs[i-1] {
				t.Fatalf("offsets not increasing: %v", offs)
			}
		}
	}
}

func TestScheduleLargeBatchGaps(t *testing.T) {
	rnd := rand.New(rand.NewSource(99))
	offs := Offsets(200, rnd)
	if BaseInterval(200) != 5.0 {
		t.Fatalf("expected base 5, got %v", BaseInterval(200))
	}
	for i := 1; i < len(offs); i++ {
		gap := offs[i] - offs[i-1]
		if gap < 2.0-eps || gap > 8.0+eps {
			t.Fatalf("gap %d = %v outside [2, 8]", i, gap)
		}
	}
}

// extremeRand alternates between the lowest and highest possible draw to
// produce the narrowest and widest gaps.
type extremeRand struct{ n int }

func (r *extremeRand) Float64() float64 {
	r.n++
	if r.n%2 == 1 {
		return 0.999999999
	}
	return 0
}

func TestOffsetsGapBoundsAtExtremes(t *testing.T) {
	for _, k := range []int{1, 2, 5, 13, 50} {
		base := BaseInterval(k)
		offs := Offsets(k, &extremeRand{})
		for i := range offs {
			lo := float64(i)*base + 0.7*base
			hi := float64(i)*base + 1.3*base
			if offs[i] < lo-eps || offs[i] > hi+eps {
				t.Fatalf("k=%d offset %d = %v outside [%v, %v]", k, i, offs[i], lo, hi)
			}
		}
		for i := 1; i < len(offs); i++ {
			gap := offs[i] - offs[i-1]
			if gap < 0.4*base-eps || gap > 1.6*base+eps {
				t.Fatalf("k=%d gap %d = %v outside [%v, %v]", k, i, gap, 0.4*base, 1.6*base)
			}
		}
	}
}

func TestScheduleImmediateCount(t *testing.T) {
	rnd := rand.New(rand.NewSource(3))
	now := time.Date(2025, 8, 21, 9, 0, 0, 0, time.UTC)
	times := Schedule(now, 5, Options{ImmediateCount: 2}, rnd)
	if len(times) != 5 {
		t.Fatalf("expected 5 times got %d", len(times))
	}
	for i := 0; i < 2; i++ {
		if !times[i].Equal(now) {
			t.Fatalf("lead %d should release immediately, got %s", i, times[i])
		}
	}
	// Remaining three are dripped over K'=3, so base is 40 minutes.
	first := times[2].Sub(now).Minutes()
	if first < 28-eps || first > 52+eps {
		t.Fatalf("first dripped offset %v outside [28, 52]", first)
	}
	for i := 3; i < 5; i++ {
		if !times[i].After(times[i-1]) {
			t.Fatalf("dripped releases not increasing at %d", i)
		}
	}
}

func TestScheduleImmediateCountExceedsBatch(t *testing.T) {
	now := time.Now()
	times := Schedule(now, 2, Options{ImmediateCount: 5}, rand.New(rand.NewSource(1)))
	if len(times) != 2 {
		t.Fatalf("expected 2 times got %d", len(times))
	}
	for _, ts := range times {
		if !ts.Equal(now.UTC()) {
			t.Fatalf("expected immediate release, got %s", ts)
		}
	}
}

func TestScheduleNegativeImmediateCountIgnored(t *testing.T) {
	now := time.Now()
	times := Schedule(now, 3, Options{ImmediateCount: -1}, rand.New(rand.NewSource(1)))
	for _, ts := range times {
		if !ts.After(now) {
			t.Fatalf("expected every lead to be dripped, got %s", ts)
		}
	}
}

func TestScheduleDeterministicWithSeed(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	a := Schedule(now, 10, Options{}, rand.New(rand.NewSource(11)))
	b := Schedule(now, 10, Options{}, rand.New(rand.NewSource(11)))
	for i := range a {
		if !a[i].Equal(b[i]) {
			t.Fatalf("seeded schedules diverge at %d: %s vs %s", i, a[i], b[i])
		}
	}
}
