package scheduler

import "sync"

// OffsetSampler accumulates wall-clock-minus-rxTime samples between
// flushes, implementing engine.OffsetSampler (§4.8 "Time-offset flush":
// every 5 minutes, average the collected samples and emit one telemetry
// point, then clear the buffer).
type OffsetSampler struct {
	mu      sync.Mutex
	samples []int64
}

// NewOffsetSampler builds an empty sampler.
func NewOffsetSampler() *OffsetSampler {
	return &OffsetSampler{}
}

// Observe implements engine.OffsetSampler.
func (s *OffsetSampler) Observe(wallClock, rxTime int64) {
	if rxTime == 0 {
		return
	}
	s.mu.Lock()
	s.samples = append(s.samples, wallClock-rxTime)
	s.mu.Unlock()
}

// FlushAverage returns the mean of the buffered samples and clears the
// buffer; ok is false if there were no samples to average.
func (s *OffsetSampler) FlushAverage() (avg float64, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.samples) == 0 {
		return 0, false
	}
	var sum int64
	for _, v := range s.samples {
		sum += v
	}
	avg = float64(sum) / float64(len(s.samples))
	s.samples = s.samples[:0]
	return avg, true
}
