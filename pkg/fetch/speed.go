package fetch

import "time"

type speedSample struct {
	moment time.Time
	bytes  int
}

// SpeedTracker calculates the speed of a transfer over its most recent chunks
type SpeedTracker struct {
	samples []speedSample
	now     func() time.Time
}

const maxSpeedSamples = 10

// NewSpeedTracker creates a new SpeedTracker instance
func NewSpeedTracker() *SpeedTracker {
	return &SpeedTracker{
		samples: make([]speedSample, 0, maxSpeedSamples+1),
		now:     time.Now,
	}
}

// Track records that the passed amount of bytes have been transferred
func (st *SpeedTracker) Track(bytes int) {
	st.samples = append(st.samples, speedSample{
		moment: st.now(),
		bytes:  bytes,
	})

	l := len(st.samples)
	if l > maxSpeedSamples {
		st.samples = st.samples[l-maxSpeedSamples:]
	}
}

// Speed returns bytes per second based on the samples taken through Track()
func (st *SpeedTracker) Speed() float64 {
	if len(st.samples) < 2 {
		return 0
	}

	bytes := 0
	for _, sample := range st.samples[1:] {
		bytes += sample.bytes
	}

	elapsed := st.samples[len(st.samples)-1].moment.Sub(st.samples[0].moment).Seconds()
	if elapsed <= 0 {
		return 0
	}

	return float64(bytes) / elapsed
}
