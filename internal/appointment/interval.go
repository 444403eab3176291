package appointment

import (
	"errors"
	"fmt"
	"time"
)

var ErrInvalidInterval = errors.New("invalid appointment interval")

// Interval is a half-open time range [Start, End).
type Interval struct {
	Start time.Time
	End   time.Time
}

func NewInterval(date, start string, durationMinutes int) (Interval, error) {
	if durationMinutes <= 0 {
		return Interval{}, fmt.Errorf("%w: duration %d", ErrInvalidInterval, durationMinutes)
	}
	s, err := time.Parse(DateLayout+" "+TimeLayout, date+" "+start)
	if err != nil {
		return Interval{}, fmt.Errorf("%w: %v", ErrInvalidInterval, err)
	}
	return Interval{Start: s, End: s.Add(time.Duration(durationMinutes) * time.Minute)}, nil
}

// Overlaps reports whether the two intervals intersect. Touching ends do not overlap.
func Overlaps(a, b Interval) bool {
	return a.Start.Before(b.End) && b.Start.Before(a.End)
}
