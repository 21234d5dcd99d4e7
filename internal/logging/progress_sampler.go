package logging

// ProgressSampler thins progress logging to one line per bucket crossed.
// Completion always logs. It is not safe for concurrent use.
type ProgressSampler struct {
	step int
	last int
}

// NewProgressSampler logs every step percent; non-positive steps default to 25.
func NewProgressSampler(step int) *ProgressSampler {
	if step <= 0 {
		step = 25
	}
	return &ProgressSampler{step: step, last: -1}
}

// ShouldLog reports whether percent reached a bucket not yet logged.
func (s *ProgressSampler) ShouldLog(percent int) bool {
	if s == nil {
		return true
	}
	bucket := percent / s.step
	if percent >= 100 {
		bucket = 100/s.step + 1
	}
	if bucket <= s.last {
		return false
	}
	s.last = bucket
	return true
}
