package domain

import (
	"fmt"
	"math"
	"time"
)

// ScheduleEntry is one planned setpoint for the battery over a half-open
// time interval.
type ScheduleEntry struct {
	Start           time.Time
	End             time.Time
	TargetPowerW    float64 // sign convention matches BatteryState.PowerW
	ReasonTag       string
	OptimizerVersion string
}

// Schedule is an ordered, non-overlapping, gap-free sequence of
// ScheduleEntry covering [ValidFrom, ValidUntil).
type Schedule struct {
	ID          ID
	ValidFrom   time.Time
	ValidUntil  time.Time
	Entries     []ScheduleEntry
}

// Validate enforces the schedule invariants: entries sorted, non-overlapping,
// with no gaps inside [ValidFrom, ValidUntil), and every target power finite
// and within the battery's capability.
func (s Schedule) Validate(caps BatteryCapabilities) error {
	if !s.ValidUntil.After(s.ValidFrom) {
		return fmt.Errorf("schedule: valid_until must be after valid_from")
	}
	if len(s.Entries) == 0 {
		return fmt.Errorf("schedule: no entries")
	}
	if !s.Entries[0].Start.Equal(s.ValidFrom) {
		return fmt.Errorf("schedule: first entry does not start at valid_from")
	}
	maxW := caps.MaxChargeKW * 1000
	minW := -caps.MaxDischargeKW * 1000
	for i, e := range s.Entries {
		if !e.End.After(e.Start) {
			return fmt.Errorf("schedule: entry %d has non-positive duration", i)
		}
		if i > 0 && !e.Start.Equal(s.Entries[i-1].End) {
			return fmt.Errorf("schedule: gap or overlap between entries %d and %d", i-1, i)
		}
		if math.IsNaN(e.TargetPowerW) || math.IsInf(e.TargetPowerW, 0) {
			return fmt.Errorf("schedule: entry %d has non-finite target power", i)
		}
		if e.TargetPowerW > maxW || e.TargetPowerW < minW {
			return fmt.Errorf("schedule: entry %d target power %.1fW exceeds battery capability [%.1f,%.1f]", i, e.TargetPowerW, minW, maxW)
		}
	}
	if !s.Entries[len(s.Entries)-1].End.Equal(s.ValidUntil) {
		return fmt.Errorf("schedule: last entry does not end at valid_until")
	}
	return nil
}

// TargetAt returns the target power for the given instant, using
// nearest-preceding interpolation: the entry whose interval contains t, or
// the last entry if t is at or past ValidUntil. Returns (0, false) when the
// schedule has no active entry for t (e.g. t precedes ValidFrom).
func (s Schedule) TargetAt(t time.Time) (float64, bool) {
	if len(s.Entries) == 0 || t.Before(s.ValidFrom) {
		return 0, false
	}
	for _, e := range s.Entries {
		if !t.Before(e.Start) && t.Before(e.End) {
			return e.TargetPowerW, true
		}
	}
	// t is at or beyond the last boundary; nearest-preceding rule holds the
	// final entry's target.
	last := s.Entries[len(s.Entries)-1]
	if !t.Before(last.End) {
		return last.TargetPowerW, true
	}
	return 0, false
}
