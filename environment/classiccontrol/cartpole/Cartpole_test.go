package cartpole

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/samuelfneumann/gopets/timestep"
)

func TestStartStatesWithinBounds(t *testing.T) {
	task := NewBalance(NewStarter(14), 100)
	c, _ := New(task, 1.0)

	for i := 0; i < 50; i++ {
		step := c.Reset()
		if !step.First() {
			t.Errorf("reset did not produce a first timestep")
		}
		if step.Number != 0 {
			t.Errorf("reset timestep number: got %v, want 0", step.Number)
		}

		obs := step.Observation
		if obs.Len() != ObservationDims {
			t.Fatalf("observation dims: got %v, want %v", obs.Len(),
				ObservationDims)
		}
		for j := 0; j < obs.Len(); j++ {
			if math.Abs(obs.AtVec(j)) > StartBounds {
				t.Errorf("start state dimension %v out of bounds: %v",
					j, obs.AtVec(j))
			}
		}
	}
}

func TestRewardOneUntilFailure(t *testing.T) {
	task := NewBalance(NewStarter(21), 500)
	c, _ := New(task, 1.0)
	c.Reset()

	action := mat.NewVecDense(ActionDims, []float64{MaxContinuousAction})

	// Pushing right forever tips the pole over
	for i := 0; i < 500; i++ {
		next, last := c.Step(action)
		if !last {
			if next.Reward != 1.0 {
				t.Errorf("non-terminal reward: got %v, want 1.0",
					next.Reward)
			}
		} else {
			if next.EndType != timestep.TerminalStateReached {
				t.Errorf("end type: got %v, want terminal state",
					next.EndType)
			}
			if next.Reward != 0.0 {
				t.Errorf("terminal reward: got %v, want 0.0", next.Reward)
			}
			if !Terminal(next.Observation) {
				t.Errorf("final observation is not terminal")
			}
			return
		}
	}
	t.Errorf("constant force never terminated the episode")
}

func TestStepLimitTimesOut(t *testing.T) {
	limit := 10
	task := NewBalance(NewStarter(33), limit)
	c, _ := New(task, 1.0)
	c.Reset()

	// Alternate pushes to keep the pole up past the step limit
	for i := 0; i < limit; i++ {
		force := MaxContinuousAction
		if i%2 == 1 {
			force = MinContinuousAction
		}
		action := mat.NewVecDense(ActionDims, []float64{force})

		next, last := c.Step(action)
		if i < limit-1 {
			if last {
				t.Fatalf("episode ended early at step %v", i)
			}
			continue
		}
		if !last {
			t.Fatalf("episode did not end at the step limit")
		}
		if next.EndType != timestep.Timeout {
			t.Errorf("end type: got %v, want timeout", next.EndType)
		}
		if next.TerminatedEarly() {
			t.Errorf("timeout counted as early termination")
		}
	}
}

func TestActionsAreClipped(t *testing.T) {
	task := NewBalance(NewStarter(8), 100)
	c, _ := New(task, 1.0)
	c.Reset()

	huge := mat.NewVecDense(ActionDims, []float64{1e6})
	stepHuge, _ := c.Step(huge)

	c2, _ := New(NewBalance(NewStarter(8), 100), 1.0)
	c2.Reset()
	max := mat.NewVecDense(ActionDims, []float64{MaxContinuousAction})
	stepMax, _ := c2.Step(max)

	for j := 0; j < ObservationDims; j++ {
		if stepHuge.Observation.AtVec(j) != stepMax.Observation.AtVec(j) {
			t.Errorf("dimension %v differs between clipped and maximal "+
				"action: %v != %v", j, stepHuge.Observation.AtVec(j),
				stepMax.Observation.AtVec(j))
		}
	}
}

func TestTerminalFunction(t *testing.T) {
	tests := []struct {
		obs  []float64
		want bool
	}{
		{[]float64{0, 0, 0, 0}, false},
		{[]float64{TrackLimit + 0.01, 0, 0, 0}, true},
		{[]float64{-TrackLimit - 0.01, 0, 0, 0}, true},
		{[]float64{0, 0, FailAngle + 0.01, 0}, true},
		{[]float64{0, 0, -FailAngle - 0.01, 0}, true},
		{[]float64{2.0, 5.0, 0.1, 5.0}, false},
	}

	for _, test := range tests {
		obs := mat.NewVecDense(4, test.obs)
		if got := Terminal(obs); got != test.want {
			t.Errorf("Terminal(%v): got %v, want %v", test.obs, got,
				test.want)
		}

		wantReward := 1.0
		if test.want {
			wantReward = 0.0
		}
		if got := Reward(nil, obs); got != wantReward {
			t.Errorf("Reward(%v): got %v, want %v", test.obs, got,
				wantReward)
		}
	}
}
