package scheduler

import (
	"fmt"
	"math"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultIntervalHours is used for unsupported interval values.
const DefaultIntervalHours = 6

var cronSpecs = map[int]string{
	1:  "0 * * * *",
	6:  "0 */6 * * *",
	12: "0 */12 * * *",
	24: "0 0 * * *",
}

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Interval is the scrape cadence in hours.
type Interval struct {
	Hours int
}

// Normalized returns the interval actually scheduled: unsupported values
// fall back to every six hours.
func (i Interval) Normalized() Interval {
	if _, ok := cronSpecs[i.Hours]; ok {
		return i
	}
	return Interval{Hours: DefaultIntervalHours}
}

// Spec is the five-field cron expression for the interval.
func (i Interval) Spec() string {
	return cronSpecs[i.Normalized().Hours]
}

// Duration is the freshness window used to decide which channels are due.
func (i Interval) Duration() time.Duration {
	return time.Duration(i.Normalized().Hours) * time.Hour
}

// Next returns the first fire time strictly after from, evaluated in loc.
func (i Interval) Next(from time.Time, loc *time.Location) (time.Time, error) {
	sched, err := parser.Parse(i.Spec())
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron spec %q: %w", i.Spec(), err)
	}
	if loc == nil {
		loc = time.UTC
	}
	return sched.Next(from.In(loc)), nil
}

// LoadLocation resolves a timezone name, defaulting to UTC when empty.
func LoadLocation(name string) (*time.Location, error) {
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", name, err)
	}
	return loc, nil
}

// AdaptiveDelay is the pause between two channels. It grows with the share of
// failed channels so far, min(base*(1+2*ratio), max), and is then scaled by
// jitter (expected in [0.85, 1.15]). The result always lies in [0, max].
func AdaptiveDelay(base, maxDelay time.Duration, failures, attempts int, jitter float64) time.Duration {
	if base <= 0 || maxDelay <= 0 {
		return 0
	}

	ratio := 0.0
	if attempts > 0 {
		ratio = math.Min(math.Max(float64(failures)/float64(attempts), 0), 1)
	}

	d := math.Min(float64(base)*(1+2*ratio), float64(maxDelay))
	d *= jitter

	switch {
	case d < 0 || math.IsNaN(d):
		return 0
	case d > float64(maxDelay):
		return maxDelay
	default:
		return time.Duration(d)
	}
}

// Jitter maps a uniform sample in [0, 1) onto [0.85, 1.15).
func Jitter(sample float64) float64 {
	return 0.85 + 0.3*sample
}
