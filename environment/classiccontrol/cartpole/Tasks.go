package cartpole

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r1"

	env "github.com/samuelfneumann/gopets/environment"
	ts "github.com/samuelfneumann/gopets/timestep"
)

// Balance implements the classic Cartpole balance task. The goal of
// the agent is to keep the pole upright and the cart on the track for
// as long as possible.
//
// The reward is +1 on every timestep on which the pole remains within
// FailAngle of vertical and the cart within TrackLimit of the track
// center, and 0 on the failing timestep.
//
// Episodes end after a step limit, or early when the pole falls past
// FailAngle or the cart leaves the track.
type Balance struct {
	env.Starter
	stepLimiter   env.StepLimit
	failureEnder  env.Ender
	failAngle     float64
	positionLimit float64
}

// NewBalance creates and returns a new Balance task. Episodes last at
// most episodeSteps steps.
func NewBalance(s env.Starter, episodeSteps int) *Balance {
	stepLimiter := env.NewStepLimit(episodeSteps)

	// Fail when the cart leaves the track or the pole falls over.
	// Feature 0 is the cart position and feature 2 the pole angle.
	legalIntervals := []r1.Interval{
		{Min: -TrackLimit, Max: TrackLimit},
		{Min: -FailAngle, Max: FailAngle},
	}
	failureEnder := env.NewIntervalLimit(legalIntervals, []int{0, 2},
		ts.TerminalStateReached)

	return &Balance{s, stepLimiter, failureEnder, FailAngle, TrackLimit}
}

// NewStarter returns the conventional starting-state distribution for
// the balance task: all state features drawn uniformly from
// [-StartBounds, StartBounds].
func NewStarter(seed uint64) env.Starter {
	bounds := r1.Interval{Min: -StartBounds, Max: StartBounds}
	return env.NewUniformStarter([]r1.Interval{bounds, bounds, bounds,
		bounds}, seed)
}

// End checks if a TimeStep is the last in an episode. If so, it
// adjusts the TimeStep's StepType and EndType and returns true.
// Otherwise, the function does not adjust the TimeStep and returns
// false.
func (b *Balance) End(t *ts.TimeStep) bool {
	if end := b.failureEnder.End(t); end {
		return true
	}
	if end := b.stepLimiter.End(t); end {
		return true
	}
	return false
}

// GetReward returns the reward for an action taken in some state,
// resulting in a transition to the next state nextState.
func (b *Balance) GetReward(_, action,
	nextState *mat.VecDense) float64 {
	return Reward(action, nextState)
}

// AtGoal returns whether or not the state is a non-failing state
func (b *Balance) AtGoal(state mat.Matrix) bool {
	return math.Abs(state.At(0, 2)) < b.failAngle &&
		math.Abs(state.At(0, 0)) < b.positionLimit
}

// Min returns the minimum possible reward that can be received in the
// environment
func (b *Balance) Min() float64 {
	return 0.0
}

// Max returns the maximum possible reward that can be received in the
// environment
func (b *Balance) Max() float64 {
	return 1.0
}

// RewardSpec returns the reward specification for the environment
func (b *Balance) RewardSpec() env.Spec {
	shape := mat.NewVecDense(1, nil)
	lowerBound := mat.NewVecDense(1, []float64{b.Min()})
	upperBound := mat.NewVecDense(1, []float64{b.Max()})

	return env.NewSpec(shape, env.Reward, lowerBound, upperBound,
		env.Continuous)
}

// Terminal reports whether obs is a failing observation of the
// balance task. Terminal is a pure function and can be injected into
// model environments as an environment.TerminationFunc.
func Terminal(obs *mat.VecDense) bool {
	return math.Abs(obs.AtVec(0)) > TrackLimit ||
		math.Abs(obs.AtVec(2)) > FailAngle
}

// Reward returns the balance task reward for reaching nextObs: 1 while
// the pole is balanced, 0 on failure. Reward is a pure function and
// can be injected into model environments as an
// environment.RewardFunc.
func Reward(_, nextObs *mat.VecDense) float64 {
	if Terminal(nextObs) {
		return 0.0
	}
	return 1.0
}
