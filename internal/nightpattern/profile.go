// Package nightpattern implements the optional statistical overlay that
// nudges an overnight forecast toward a precomputed personal delta profile.
// The blend is strictly additive and bounded; it applies only when every
// gating condition holds, and a skipped blend is a normal outcome recorded
// in the result metadata, never an error.
package nightpattern

import "time"

// Profile is a read-only snapshot of the personal overnight delta profile,
// computed offline on a daily cadence by a separate process. Deltas hold the
// per-bucket median glucose drift in mg/dL, cumulative from the profile
// start, at BucketMinutes resolution.
type Profile struct {
	StartMinuteOfDay int       `json:"start_minute_of_day"`
	BucketMinutes    int       `json:"bucket_minutes"`
	Deltas           []float64 `json:"deltas"`
	SampleDays       int       `json:"sample_days"`
	SamplePoints     int       `json:"sample_points"`
	ComputedAt       time.Time `json:"computed_at"`
}

// Empty reports whether the profile carries no usable data.
func (p *Profile) Empty() bool {
	return p == nil || len(p.Deltas) == 0 || p.BucketMinutes <= 0 || p.SamplePoints == 0
}

// DeltaAt returns the cumulative median drift at the given minute of day.
// Minutes before the profile start map to zero; minutes past its coverage
// hold the last bucket's value flat.
func (p *Profile) DeltaAt(minuteOfDay int) float64 {
	if p.Empty() {
		return 0
	}
	offset := ((minuteOfDay-p.StartMinuteOfDay)%1440 + 1440) % 1440
	bucket := offset / p.BucketMinutes
	if bucket >= len(p.Deltas) {
		// Past profile coverage; anything in the second half of the day
		// wraps to "before the window started".
		if offset > 720 {
			return 0
		}
		return p.Deltas[len(p.Deltas)-1]
	}
	return p.Deltas[bucket]
}
