// Package environment outlines the interfaces and structs needed to
// implement concrete environments
package environment

import (
	"gonum.org/v1/gonum/mat"

	"github.com/samuelfneumann/gopets/timestep"
)

// Starter implements a distribution of starting states and samples
// starting states for environments
type Starter interface {
	Start() *mat.VecDense
}

// Ender determines when and how episodes end
type Ender interface {
	// End takes the most recent TimeStep of an episode. If the episode
	// should end at this TimeStep, End adjusts the TimeStep's StepType
	// and EndType fields accordingly and returns true.
	End(*timestep.TimeStep) bool
}

// Task implements the reward scheme for taking actions in some
// environment
type Task interface {
	Starter
	Ender

	// GetReward returns the reward for taking action a in state,
	// transitioning to nextState
	GetReward(state, a, nextState *mat.VecDense) float64

	// AtGoal returns whether state is a goal state of the Task
	AtGoal(state mat.Matrix) bool

	// Min and Max return the minimum and maximum attainable rewards
	Min() float64
	Max() float64

	RewardSpec() Spec
}

// Environment implements a simulated environment, which includes a
// Task to complete
type Environment interface {
	Task
	Reset() timestep.TimeStep
	Step(action *mat.VecDense) (timestep.TimeStep, bool)
	DiscountSpec() Spec
	ObservationSpec() Spec
	ActionSpec() Spec
}

// RewardFunc is a pure function computing the reward for reaching
// nextObs by taking action. Reward functions are injected into model
// environments so that simulated rollouts can evaluate true rewards
// without a learned reward head.
type RewardFunc func(action, nextObs *mat.VecDense) float64

// TerminationFunc is a pure function reporting whether obs is a
// terminal observation. Termination functions are injected into model
// environments to end simulated rollouts.
type TerminationFunc func(obs *mat.VecDense) bool
