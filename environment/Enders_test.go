package environment

import (
	"testing"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r1"

	ts "github.com/samuelfneumann/gopets/timestep"
)

func TestIntervalLimitEndsOutsideIntervals(t *testing.T) {
	ender := NewIntervalLimit([]r1.Interval{{Min: -1, Max: 1}},
		[]int{1}, ts.TerminalStateReached)

	// Only feature 1 is watched, so a wild feature 0 is fine
	inside := ts.TimeStep{
		StepType:    ts.Mid,
		Observation: mat.NewVecDense(2, []float64{5, 0.5}),
	}
	if ender.End(&inside) {
		t.Error("episode ended while the watched feature was in bounds")
	}
	if inside.StepType != ts.Mid {
		t.Errorf("in-bounds timestep was modified: %v", inside.StepType)
	}

	outside := ts.TimeStep{
		StepType:    ts.Mid,
		Observation: mat.NewVecDense(2, []float64{0, 1.5}),
	}
	if !ender.End(&outside) {
		t.Error("episode did not end when the watched feature left " +
			"its interval")
	}
	if outside.StepType != ts.Last {
		t.Errorf("ending step type: got %v, want %v", outside.StepType,
			ts.Last)
	}
	if outside.EndType != ts.TerminalStateReached {
		t.Errorf("ending end type: got %v, want %v", outside.EndType,
			ts.TerminalStateReached)
	}
}

func TestStepLimitEndsWithTimeout(t *testing.T) {
	ender := NewStepLimit(3)

	step := ts.TimeStep{
		StepType:    ts.Mid,
		Number:      2,
		Observation: mat.NewVecDense(1, nil),
	}
	if ender.End(&step) {
		t.Error("episode ended before the step limit")
	}

	step.Number = 3
	if !ender.End(&step) {
		t.Error("episode did not end at the step limit")
	}
	if step.EndType != ts.Timeout {
		t.Errorf("ending end type: got %v, want %v", step.EndType,
			ts.Timeout)
	}
}
