package executor

import "testing"

func TestPID_OutputClampedToLimit(t *testing.T) {
	p := &PID{}
	cfg := PIDConfig{Kp: 10, Ki: 0, Kd: 0, OutputLimit: 100}
	out := p.Update(1000, 0, 1, cfg)
	if out != 100 {
		t.Errorf("out = %v, want clamped to 100", out)
	}
}

func TestPID_IntegralAntiWindup(t *testing.T) {
	p := &PID{}
	cfg := PIDConfig{Kp: 0, Ki: 1, Kd: 0, OutputLimit: 1000, IntegralLimit: 50}
	for i := 0; i < 100; i++ {
		p.Update(100, 0, 1, cfg)
	}
	if p.integral > 50+1e-9 {
		t.Errorf("integral = %v, want clamped to IntegralLimit 50", p.integral)
	}
}

func TestPID_ZeroDtSkipsDerivativeSpike(t *testing.T) {
	p := &PID{}
	cfg := PIDConfig{Kp: 0, Ki: 0, Kd: 1, OutputLimit: 1000}
	p.Update(100, 0, 1, cfg) // establishes prevError
	out := p.Update(0, 0, 0, cfg)
	if out != 0 {
		t.Errorf("out = %v, want 0 when dt<=0 suppresses the derivative term", out)
	}
}

func TestPID_ConvergesTowardTarget(t *testing.T) {
	p := &PID{}
	cfg := DefaultPIDConfig(5000)
	measured := 0.0
	for i := 0; i < 50; i++ {
		out := p.Update(1000, measured, 1, cfg)
		measured = out // idealized plant: output becomes the new measurement
	}
	if measured < 900 || measured > 1100 {
		t.Errorf("measured settled at %v, want near target 1000", measured)
	}
}

func TestPID_Reset(t *testing.T) {
	p := &PID{}
	cfg := DefaultPIDConfig(1000)
	p.Update(100, 0, 1, cfg)
	p.Reset()
	if p.integral != 0 || p.hasPrev {
		t.Error("Reset did not clear integral/prevError state")
	}
}
