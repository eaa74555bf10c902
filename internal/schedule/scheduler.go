// Package schedule finds free slots in a busy/free timeline.
package schedule

import (
	"fmt"
	"time"
)

// Interval is a half-open [Start, End) time range.
type Interval struct {
	Start time.Time
	End   time.Time
}

// Slot is a bookable interval produced by FindFreeSlot. It carries no owner;
// callers either book it or discard it.
type Slot struct {
	Start time.Time
	End   time.Time
}

// FindFreeSlot returns the earliest interval of length duration inside
// [windowStart, windowEnd) that keeps a buffer of padding on each side clear
// of every busy interval. Busy intervals are expected in chronological order
// as delivered by the backend but may overlap; the cursor never moves
// backward. The second return value is false when no slot fits.
func FindFreeSlot(windowStart, windowEnd time.Time, busy []Interval, duration, padding time.Duration) (Slot, bool, error) {
	if duration <= 0 {
		return Slot{}, false, fmt.Errorf("duration must be positive, got %s", duration)
	}
	if padding < 0 {
		return Slot{}, false, fmt.Errorf("padding must not be negative, got %s", padding)
	}

	need := duration + 2*padding

	cursor := windowStart
	for _, b := range busy {
		if b.Start.After(cursor) {
			if gap := b.Start.Sub(cursor); gap >= need {
				return padded(cursor, duration, padding), true, nil
			}
		}
		if b.End.After(cursor) {
			cursor = b.End
		}
	}
	if cursor.Before(windowEnd) && windowEnd.Sub(cursor) >= need {
		return padded(cursor, duration, padding), true, nil
	}

	return Slot{}, false, nil
}

func padded(gapStart time.Time, duration, padding time.Duration) Slot {
	start := gapStart.Add(padding)
	return Slot{Start: start, End: start.Add(duration)}
}
