package domain

import (
	"testing"
	"time"
)

func hourlySchedule(t0 time.Time, n int, watts func(i int) float64) Schedule {
	var entries []ScheduleEntry
	for i := 0; i < n; i++ {
		entries = append(entries, ScheduleEntry{
			Start:        t0.Add(time.Duration(i) * time.Hour),
			End:          t0.Add(time.Duration(i+1) * time.Hour),
			TargetPowerW: watts(i),
			ReasonTag:    "test",
		})
	}
	return Schedule{
		ID:         NewID(),
		ValidFrom:  t0,
		ValidUntil: t0.Add(time.Duration(n) * time.Hour),
		Entries:    entries,
	}
}

func TestSchedule_ValidateHappyPath(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := hourlySchedule(t0, 24, func(i int) float64 { return 1000 })
	caps := BatteryCapabilities{MaxChargeKW: 5, MaxDischargeKW: 5}
	if err := s.Validate(caps); err != nil {
		t.Fatalf("expected valid schedule, got %v", err)
	}
}

func TestSchedule_ValidateRejectsGap(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := hourlySchedule(t0, 24, func(i int) float64 { return 0 })
	s.Entries[5].End = s.Entries[5].End.Add(-time.Minute) // introduce a gap
	caps := BatteryCapabilities{MaxChargeKW: 5, MaxDischargeKW: 5}
	if err := s.Validate(caps); err == nil {
		t.Fatal("expected gap to be rejected")
	}
}

func TestSchedule_ValidateRejectsOverCapability(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := hourlySchedule(t0, 24, func(i int) float64 { return 10000 })
	caps := BatteryCapabilities{MaxChargeKW: 5, MaxDischargeKW: 5}
	if err := s.Validate(caps); err == nil {
		t.Fatal("expected over-capability target to be rejected")
	}
}

func TestSchedule_TargetAt_NearestPreceding(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := hourlySchedule(t0, 3, func(i int) float64 { return float64(i * 1000) })

	got, ok := s.TargetAt(t0.Add(90 * time.Minute))
	if !ok || got != 1000 {
		t.Fatalf("expected 1000 at 90min, got %v ok=%v", got, ok)
	}

	got, ok = s.TargetAt(t0.Add(-time.Minute))
	if ok {
		t.Fatalf("expected no active entry before valid_from, got %v", got)
	}

	got, ok = s.TargetAt(t0.Add(10 * time.Hour))
	if !ok || got != 2000 {
		t.Fatalf("expected last entry's target held past valid_until, got %v ok=%v", got, ok)
	}
}
