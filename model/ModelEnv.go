package model

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/samuelfneumann/gopets/config"
	"github.com/samuelfneumann/gopets/environment"
)

// Env wraps a GaussianEnsemble as a simulated environment for
// trajectory rollouts. Each candidate action sequence is evaluated by
// rolling out numParticles independent particles through the model and
// averaging their returns. When the model does not learn rewards, the
// given reward function computes them from actions and predicted next
// observations; the termination function ends particles early, after
// which their rewards are masked to zero and their states frozen.
type Env struct {
	model        *GaussianEnsemble
	reward       environment.RewardFunc
	termination  environment.TerminationFunc
	numParticles int
}

// NewEnv creates and returns a new simulated environment backed by
// model. The reward function may be nil only when the model learns
// rewards; the termination function may be nil, in which case rollouts
// never end early.
func NewEnv(model *GaussianEnsemble, reward environment.RewardFunc,
	termination environment.TerminationFunc,
	numParticles int) (*Env, error) {
	if model == nil {
		return nil, fmt.Errorf("newenv: no model given")
	}
	if numParticles < 1 {
		return nil, fmt.Errorf("newenv: particles must be positive")
	}
	if reward == nil && !model.LearnsRewards() {
		return nil, fmt.Errorf("newenv: no reward function given and " +
			"model does not learn rewards")
	}

	return &Env{
		model:        model,
		reward:       reward,
		termination:  termination,
		numParticles: numParticles,
	}, nil
}

// NumParticles returns the number of rollout particles per candidate
func (e *Env) NumParticles() int {
	return e.numParticles
}

// EvaluateActionSequences returns the estimated return of each
// candidate action sequence when starting from obs. Each plan is a
// flat row major (horizon, actionSize) sequence. Candidate returns are
// averaged over the environment's rollout particles.
func (e *Env) EvaluateActionSequences(obs *mat.VecDense,
	plans [][]float64, horizon int) ([]float64, error) {
	if obs.Len() != e.model.ObsSize() {
		return nil, fmt.Errorf("evaluateactionsequences: invalid "+
			"observation size \n\twant(%v)\n\thave(%v)",
			e.model.ObsSize(), obs.Len())
	}
	if len(plans) == 0 {
		return nil, fmt.Errorf("evaluateactionsequences: no plans given")
	}

	actionSize := e.model.ActionSize()
	obsSize := e.model.ObsSize()
	for p, plan := range plans {
		if len(plan) != horizon*actionSize {
			return nil, fmt.Errorf("evaluateactionsequences: invalid "+
				"plan %v length \n\twant(%v)\n\thave(%v)", p,
				horizon*actionSize, len(plan))
		}
	}

	batch := len(plans) * e.numParticles
	if err := e.model.EnsurePlanBatch(batch); err != nil {
		return nil, fmt.Errorf("evaluateactionsequences: %v", err)
	}

	// Tile the start observation across all particles
	states := make([]float64, batch*obsSize)
	for r := 0; r < batch; r++ {
		copy(states[r*obsSize:(r+1)*obsSize], obs.RawVector().Data)
	}

	// Under fixed-model propagation each particle keeps its member for
	// the whole rollout; under random-model propagation members are
	// redrawn every step
	var assignment []int
	if e.model.Propagation() != config.Expectation {
		assignment = e.model.SampleAssignment(batch)
	}

	actions := make([]float64, batch*actionSize)
	returns := make([]float64, batch)
	done := make([]bool, batch)

	for t := 0; t < horizon; t++ {
		for r := 0; r < batch; r++ {
			p := r / e.numParticles
			copy(actions[r*actionSize:(r+1)*actionSize],
				plans[p][t*actionSize:(t+1)*actionSize])
		}

		if e.model.Propagation() == config.RandomModel {
			assignment = e.model.SampleAssignment(batch)
		}

		nextStates, rewards, err := e.model.Predict(states, actions,
			batch, assignment)
		if err != nil {
			return nil, fmt.Errorf("evaluateactionsequences: %v", err)
		}

		for r := 0; r < batch; r++ {
			if done[r] {
				continue
			}

			nextObs := mat.NewVecDense(obsSize,
				nextStates[r*obsSize:(r+1)*obsSize])

			var reward float64
			if e.model.LearnsRewards() {
				reward = rewards[r]
			} else {
				action := mat.NewVecDense(actionSize,
					actions[r*actionSize:(r+1)*actionSize])
				reward = e.reward(action, nextObs)
			}
			returns[r] += reward

			if e.termination != nil && e.termination(nextObs) {
				done[r] = true
				continue
			}
			copy(states[r*obsSize:(r+1)*obsSize],
				nextStates[r*obsSize:(r+1)*obsSize])
		}
	}

	// Average particle returns per candidate
	values := make([]float64, len(plans))
	for p := range values {
		sum := 0.0
		for i := 0; i < e.numParticles; i++ {
			sum += returns[p*e.numParticles+i]
		}
		values[p] = sum / float64(e.numParticles)
	}

	return values, nil
}
