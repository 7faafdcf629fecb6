package xsched

import "time"

// frameStats tracks observed intervals between scheduler wakeups. The
// rolling average floors the delay of sub-frame-rate timers so they are
// never armed faster than the host can service them. Stats reset after a
// configured elapsed time or a run of extreme samples, so a stall cannot
// permanently corrupt the average.
type frameStats struct {
	avg     time.Duration // exponential moving average
	min     time.Duration
	max     time.Duration
	samples int
	extreme int // consecutive outlier samples

	lastWake  time.Time
	lastReset time.Time

	extremeFactor int           // sample is extreme when > factor * avg
	extremeRun    int           // reset after this many consecutive extremes
	resetEvery    time.Duration // unconditional reset interval
}

func newFrameStats(extremeFactor, extremeRun int, resetEvery time.Duration) frameStats {
	if extremeFactor < 2 {
		extremeFactor = 4
	}
	if extremeRun < 1 {
		extremeRun = 10
	}
	if resetEvery <= 0 {
		resetEvery = 5 * time.Minute
	}
	return frameStats{
		extremeFactor: extremeFactor,
		extremeRun:    extremeRun,
		resetEvery:    resetEvery,
	}
}

// record ingests one wakeup timestamp and folds the interval since the
// previous wakeup into the rolling statistics.
func (f *frameStats) record(now time.Time) {
	if f.lastReset.IsZero() {
		f.lastReset = now
	}
	if !f.lastWake.IsZero() {
		d := now.Sub(f.lastWake)
		if d > 0 {
			f.sample(d)
		}
	}
	f.lastWake = now

	if now.Sub(f.lastReset) >= f.resetEvery {
		f.reset(now)
	}
}

func (f *frameStats) sample(d time.Duration) {
	if f.samples > 0 && f.avg > 0 && d > time.Duration(f.extremeFactor)*f.avg {
		f.extreme++
		if f.extreme >= f.extremeRun {
			f.reset(f.lastWake)
			return
		}
	} else {
		f.extreme = 0
	}

	if f.samples == 0 {
		f.avg, f.min, f.max = d, d, d
		f.samples = 1
		return
	}
	// EMA, 20% weight to the new sample.
	f.avg = time.Duration(float64(d)*0.2 + float64(f.avg)*0.8)
	if d < f.min {
		f.min = d
	}
	if d > f.max {
		f.max = d
	}
	f.samples++
}

func (f *frameStats) reset(now time.Time) {
	f.avg, f.min, f.max = 0, 0, 0
	f.samples = 0
	f.extreme = 0
	f.lastReset = now
}

// floor returns the minimum delay the host can realistically service,
// or zero when no frame data has been observed yet.
func (f *frameStats) floor() time.Duration {
	if f.samples < 2 {
		return 0
	}
	return f.avg
}
