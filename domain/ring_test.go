package domain

import (
	"testing"
	"time"
)

func TestSampleRing_NeverExceedsCapacity(t *testing.T) {
	r := NewSampleRing(5)
	base := time.Now()
	for i := 0; i < 100; i++ {
		r.Push(BatteryStateSample{Timestamp: base.Add(time.Duration(i) * time.Second)})
		if r.Len() > r.Capacity() {
			t.Fatalf("ring exceeded capacity at i=%d: len=%d cap=%d", i, r.Len(), r.Capacity())
		}
	}
	if r.Len() != 5 {
		t.Fatalf("expected full ring of 5, got %d", r.Len())
	}
}

func TestSampleRing_EvictsOldest(t *testing.T) {
	r := NewSampleRing(3)
	base := time.Now()
	for i := 0; i < 5; i++ {
		r.Push(BatteryStateSample{Timestamp: base.Add(time.Duration(i) * time.Second), State: BatteryState{SoCPercent: float64(i)}})
	}
	snap := r.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("expected 3 samples, got %d", len(snap))
	}
	// oldest surviving sample should be index 2 (0,1 evicted)
	if snap[0].State.SoCPercent != 2 {
		t.Errorf("expected oldest surviving SoC=2, got %v", snap[0].State.SoCPercent)
	}
	if snap[2].State.SoCPercent != 4 {
		t.Errorf("expected newest SoC=4, got %v", snap[2].State.SoCPercent)
	}
}

func TestSampleRing_Drain(t *testing.T) {
	r := NewSampleRing(3)
	for i := 0; i < 3; i++ {
		r.Push(BatteryStateSample{Timestamp: time.Now()})
	}
	drained := r.Drain()
	if len(drained) != 3 {
		t.Fatalf("expected 3 drained samples, got %d", len(drained))
	}
	if r.Len() != 0 {
		t.Fatalf("expected ring empty after drain, got %d", r.Len())
	}
}
