package timestep

import (
	"testing"

	"gonum.org/v1/gonum/mat"
)

func TestStepTypePredicates(t *testing.T) {
	obs := mat.NewVecDense(2, []float64{0.1, 0.2})

	first := New(First, 0, 1.0, obs, 0)
	if !first.First() || first.Mid() || first.Last() {
		t.Errorf("first timestep misreports its step type")
	}

	mid := New(Mid, 1.0, 1.0, obs, 1)
	if mid.First() || !mid.Mid() || mid.Last() {
		t.Errorf("mid timestep misreports its step type")
	}

	last := New(Last, 1.0, 1.0, obs, 2)
	if last.First() || last.Mid() || !last.Last() {
		t.Errorf("last timestep misreports its step type")
	}
}

func TestSetEnd(t *testing.T) {
	obs := mat.NewVecDense(1, []float64{0.0})

	step := New(Mid, 1.0, 1.0, obs, 3)
	step.SetEnd(TerminalStateReached)
	if !step.Last() {
		t.Errorf("SetEnd did not mark the timestep as last")
	}
	if !step.TerminatedEarly() {
		t.Errorf("terminal end does not report early termination")
	}

	step = New(Mid, 1.0, 1.0, obs, 3)
	step.SetEnd(Timeout)
	if !step.Last() {
		t.Errorf("SetEnd did not mark the timestep as last")
	}
	if step.TerminatedEarly() {
		t.Errorf("timeout end reports early termination")
	}
}

func TestNewTransition(t *testing.T) {
	state := mat.NewVecDense(2, []float64{1, 2})
	nextState := mat.NewVecDense(2, []float64{3, 4})
	action := mat.NewVecDense(1, []float64{-0.5})

	step := New(First, 0, 1.0, state, 0)
	nextStep := New(Mid, 1.0, 1.0, nextState, 1)

	transition := NewTransition(step, action, nextStep)
	if transition.Reward != 1.0 {
		t.Errorf("transition reward: got %v, want 1.0", transition.Reward)
	}
	if !mat.Equal(transition.State, state) {
		t.Errorf("transition state does not match the first timestep")
	}
	if !mat.Equal(transition.NextState, nextState) {
		t.Errorf("transition next state does not match the second " +
			"timestep")
	}
	if !mat.Equal(transition.Action, action) {
		t.Errorf("transition action does not match")
	}
}
