package planning

import (
	"fmt"

	"golang.org/x/exp/rand"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r1"
	"gonum.org/v1/gonum/stat/distmv"

	"github.com/samuelfneumann/gopets/config"
	"github.com/samuelfneumann/gopets/model"
)

// Agent selects actions from observations. Reset prepares the agent
// for a new episode.
type Agent interface {
	Reset()
	Act(obs *mat.VecDense) (*mat.VecDense, error)
}

// RandomAgent selects actions uniformly at random within the action
// bounds. It is used to seed the replay buffer with exploratory data
// before any model has been trained.
type RandomAgent struct {
	dist *distmv.Uniform
	dims int
}

// NewRandomAgent creates and returns a new RandomAgent with the given
// per-dimension action bounds
func NewRandomAgent(lower, upper []float64,
	seed uint64) (*RandomAgent, error) {
	if len(lower) != len(upper) || len(lower) == 0 {
		return nil, fmt.Errorf("newrandomagent: invalid action bounds")
	}

	bounds := make([]r1.Interval, len(lower))
	for i := range bounds {
		if lower[i] >= upper[i] {
			return nil, fmt.Errorf("newrandomagent: lower bound %v not "+
				"below upper bound at dimension %v", lower[i], i)
		}
		bounds[i] = r1.Interval{Min: lower[i], Max: upper[i]}
	}

	return &RandomAgent{
		dist: distmv.NewUniform(bounds, rand.NewSource(seed)),
		dims: len(lower),
	}, nil
}

// Reset implements the Agent interface. It is a no-op.
func (r *RandomAgent) Reset() {}

// Act returns a uniformly random action
func (r *RandomAgent) Act(_ *mat.VecDense) (*mat.VecDense, error) {
	return mat.NewVecDense(r.dims, r.dist.Rand(nil)), nil
}

// TrajectoryAgent selects actions by optimizing action sequences over
// simulated rollouts of a learned model. Each plan covers the full
// planning horizon; the first replanFreq actions of the plan are
// executed before replanning, and each new optimization is warm
// started from the previous plan shifted by one step.
type TrajectoryAgent struct {
	optimizer *CEM
	env       *model.Env

	horizon    int
	replanFreq int
	actionSize int

	queue    [][]float64
	prevPlan []float64
}

// NewTrajectoryAgent creates and returns a new TrajectoryAgent that
// plans on env as described by c
func NewTrajectoryAgent(c config.Agent, env *model.Env,
	seed uint64) (*TrajectoryAgent, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if env == nil {
		return nil, fmt.Errorf("newtrajectoryagent: no environment " +
			"given")
	}

	optimizer, err := NewCEM(c.CEM, c.PlanningHorizon,
		c.ActionLowerBound, c.ActionUpperBound, seed)
	if err != nil {
		return nil, fmt.Errorf("newtrajectoryagent: could not create "+
			"optimizer: %v", err)
	}

	return &TrajectoryAgent{
		optimizer:  optimizer,
		env:        env,
		horizon:    c.PlanningHorizon,
		replanFreq: c.ReplanFreq,
		actionSize: len(c.ActionLowerBound),
	}, nil
}

// Reset clears the pending action queue and the warm start plan
func (t *TrajectoryAgent) Reset() {
	t.queue = nil
	t.prevPlan = nil
}

// Act returns the next action of the current plan, replanning first
// when the plan has been exhausted
func (t *TrajectoryAgent) Act(obs *mat.VecDense) (*mat.VecDense, error) {
	if len(t.queue) == 0 {
		if err := t.replan(obs); err != nil {
			return nil, fmt.Errorf("act: %v", err)
		}
	}

	action := t.queue[0]
	t.queue = t.queue[1:]
	return mat.NewVecDense(t.actionSize, action), nil
}

// replan optimizes a new action sequence from obs and queues its first
// replanFreq actions
func (t *TrajectoryAgent) replan(obs *mat.VecDense) error {
	plan, err := t.optimizer.Optimize(func(plans [][]float64) ([]float64,
		error) {
		return t.env.EvaluateActionSequences(obs, plans, t.horizon)
	}, t.warmStart())
	if err != nil {
		return err
	}
	t.prevPlan = plan

	steps := t.replanFreq
	if steps > t.horizon {
		steps = t.horizon
	}
	t.queue = make([][]float64, steps)
	for i := range t.queue {
		t.queue[i] = append([]float64{},
			plan[i*t.actionSize:(i+1)*t.actionSize]...)
	}

	return nil
}

// warmStart returns the initial sampling mean for the next
// optimization: the previous plan shifted forward by the replanFreq
// actions already executed, the freed tail filled with the bound
// midpoint, or the all-midpoint sequence when no previous plan exists
func (t *TrajectoryAgent) warmStart() []float64 {
	mid := t.optimizer.MidpointSequence()
	if t.prevPlan == nil {
		return mid
	}

	shift := t.replanFreq * t.actionSize
	if shift > len(t.prevPlan) {
		shift = len(t.prevPlan)
	}

	mean := make([]float64, t.horizon*t.actionSize)
	n := copy(mean, t.prevPlan[shift:])
	copy(mean[n:], mid[n:])
	return mean
}
