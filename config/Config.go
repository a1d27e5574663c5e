// Package config implements typed configurations for every component
// of a PETS experiment.
//
// Sizes and bounds that depend on the environment (model input/output
// dimensionality, action bounds) are optional in a configuration and
// are filled in by Resolve before use. Validate rejects any
// configuration that is still unresolved, so construction fails
// eagerly rather than at first use.
package config

import (
	"fmt"

	env "github.com/samuelfneumann/gopets/environment"
	"github.com/samuelfneumann/gopets/solver"
)

// Propagation determines how ensemble predictions are propagated
// through simulated rollouts
type Propagation string

const (
	// Expectation propagates the average of the member means with no
	// sampling noise
	Expectation Propagation = "expectation"

	// FixedModel assigns one ensemble member to each particle for the
	// duration of a rollout
	FixedModel Propagation = "fixed_model"

	// RandomModel redraws the member assignment of every particle on
	// every simulated step
	RandomModel Propagation = "random_model"
)

// DynamicsModel describes the architecture of the probabilistic
// ensemble dynamics model
type DynamicsModel struct {
	NumLayers    int     `mapstructure:"num_layers"`
	HidSize      int     `mapstructure:"hid_size"`
	EnsembleSize int     `mapstructure:"ensemble_size"`
	Slope        float64 `mapstructure:"slope"` // leaky ReLU negative slope

	// InSize and OutSize are resolved from environment shape
	// descriptors when left 0
	InSize  int `mapstructure:"in_size"`
	OutSize int `mapstructure:"out_size"`

	Deterministic bool        `mapstructure:"deterministic"`
	Propagation   Propagation `mapstructure:"propagation_method"`
}

// Algorithm holds the flags controlling how the dynamics model is
// trained and used
type Algorithm struct {
	LearnedRewards bool `mapstructure:"learned_rewards"`
	TargetIsDelta  bool `mapstructure:"target_is_delta"`
	Normalize      bool `mapstructure:"normalize"`
}

// Overrides holds experiment-specific scalars
type Overrides struct {
	TrialLength        int         `mapstructure:"trial_length"`
	NumTrials          int         `mapstructure:"num_trials"`
	ModelBatchSize     int         `mapstructure:"model_batch_size"`
	ValidationRatio    float64     `mapstructure:"validation_ratio"`
	NumEpochs          int         `mapstructure:"num_epochs"`
	Patience           int         `mapstructure:"patience"`
	InitialExploration int         `mapstructure:"initial_exploration"`
	ModelStepSize      float64     `mapstructure:"model_lr"`
	ModelWeightDecay   float64     `mapstructure:"model_wd"`
	ModelSolver        solver.Type `mapstructure:"model_solver"`
}

// CEM describes the cross-entropy-method trajectory optimizer
type CEM struct {
	NumIterations    int     `mapstructure:"num_iterations"`
	EliteRatio       float64 `mapstructure:"elite_ratio"`
	PopulationSize   int     `mapstructure:"population_size"`
	Alpha            float64 `mapstructure:"alpha"`
	ReturnMeanElites bool    `mapstructure:"return_mean_elites"`
}

// Agent describes the trajectory-optimizer agent
type Agent struct {
	PlanningHorizon int `mapstructure:"planning_horizon"`
	ReplanFreq      int `mapstructure:"replan_freq"`
	NumParticles    int `mapstructure:"num_particles"`

	// ActionLowerBound and ActionUpperBound are resolved from the
	// environment action spec when left empty
	ActionLowerBound []float64 `mapstructure:"action_lb"`
	ActionUpperBound []float64 `mapstructure:"action_ub"`

	CEM CEM `mapstructure:"optimizer"`
}

// Config gathers the configuration of a full PETS experiment
type Config struct {
	DynamicsModel DynamicsModel `mapstructure:"dynamics_model"`
	Algorithm     Algorithm     `mapstructure:"algorithm"`
	Overrides     Overrides     `mapstructure:"overrides"`
	Agent         Agent         `mapstructure:"agent"`
}

// Default returns the conventional PETS configuration for small
// control environments
func Default() *Config {
	return &Config{
		DynamicsModel: DynamicsModel{
			NumLayers:    3,
			HidSize:      200,
			EnsembleSize: 1,
			Slope:        0.01,
			Propagation:  FixedModel,
		},
		Algorithm: Algorithm{
			LearnedRewards: false,
			TargetIsDelta:  true,
			Normalize:      true,
		},
		Overrides: Overrides{
			TrialLength:        200,
			NumTrials:          10,
			ModelBatchSize:     32,
			ValidationRatio:    0.05,
			NumEpochs:          50,
			Patience:           50,
			InitialExploration: 200,
			ModelStepSize:      1e-3,
			ModelWeightDecay:   5e-5,
			ModelSolver:        solver.Adam,
		},
		Agent: Agent{
			PlanningHorizon: 15,
			ReplanFreq:      1,
			NumParticles:    20,
			CEM: CEM{
				NumIterations:    5,
				EliteRatio:       0.1,
				PopulationSize:   500,
				Alpha:            0.1,
				ReturnMeanElites: true,
			},
		},
	}
}

// Resolve fills in every field that depends on environment shape
// descriptors: model input and output sizes and the agent's action
// bounds. Fields that were set explicitly are left untouched.
func (c *Config) Resolve(e env.Environment) {
	obsDims := e.ObservationSpec().Shape.Len()
	actionSpec := e.ActionSpec()
	actionDims := actionSpec.Shape.Len()

	if c.DynamicsModel.InSize == 0 {
		c.DynamicsModel.InSize = obsDims + actionDims
	}
	if c.DynamicsModel.OutSize == 0 {
		c.DynamicsModel.OutSize = obsDims
		if c.Algorithm.LearnedRewards {
			c.DynamicsModel.OutSize++
		}
	}

	if len(c.Agent.ActionLowerBound) == 0 {
		lb := make([]float64, actionDims)
		ub := make([]float64, actionDims)
		for i := 0; i < actionDims; i++ {
			lb[i] = actionSpec.LowerBound.AtVec(i)
			ub[i] = actionSpec.UpperBound.AtVec(i)
		}
		c.Agent.ActionLowerBound = lb
		c.Agent.ActionUpperBound = ub
	}
}

// Validate checks the full configuration, including that every
// environment-dependent field has been resolved
func (c *Config) Validate() error {
	if err := c.DynamicsModel.Validate(); err != nil {
		return err
	}
	if err := c.Overrides.Validate(); err != nil {
		return err
	}
	if err := c.Agent.Validate(); err != nil {
		return err
	}
	return nil
}

// Validate checks the dynamics model configuration
func (d DynamicsModel) Validate() error {
	if d.NumLayers < 1 {
		return fmt.Errorf("config: dynamics model must have at least 1 "+
			"layer \n\thave(%v)", d.NumLayers)
	}
	if d.HidSize < 1 {
		return fmt.Errorf("config: hidden size must be positive")
	}
	if d.EnsembleSize < 1 {
		return fmt.Errorf("config: ensemble size must be positive")
	}
	if d.InSize < 1 || d.OutSize < 1 {
		return fmt.Errorf("config: unresolved model sizes: in(%v) out(%v)",
			d.InSize, d.OutSize)
	}
	switch d.Propagation {
	case Expectation, FixedModel, RandomModel:
	default:
		return fmt.Errorf("config: unknown propagation method %q",
			d.Propagation)
	}
	return nil
}

// Validate checks the experiment overrides
func (o Overrides) Validate() error {
	if o.TrialLength < 1 {
		return fmt.Errorf("config: trial length must be positive")
	}
	if o.NumTrials < 1 {
		return fmt.Errorf("config: number of trials must be positive")
	}
	if o.ModelBatchSize < 1 {
		return fmt.Errorf("config: model batch size must be positive")
	}
	if o.ValidationRatio < 0 || o.ValidationRatio >= 1 {
		return fmt.Errorf("config: validation ratio must be in [0, 1) "+
			"\n\thave(%v)", o.ValidationRatio)
	}
	if o.NumEpochs < 1 {
		return fmt.Errorf("config: epoch budget must be positive")
	}
	if o.InitialExploration < 0 {
		return fmt.Errorf("config: initial exploration steps cannot be " +
			"negative")
	}
	if o.ModelStepSize <= 0 {
		return fmt.Errorf("config: model step size must be positive")
	}
	if o.ModelWeightDecay < 0 {
		return fmt.Errorf("config: model weight decay cannot be negative")
	}
	if o.ModelSolver != solver.Adam && o.ModelSolver != solver.Vanilla {
		return fmt.Errorf("config: unknown model solver "+
			"\n\twant(%v or %v)\n\thave(%v)", solver.Adam,
			solver.Vanilla, o.ModelSolver)
	}
	return nil
}

// Validate checks the agent configuration, including that action
// bounds have been resolved
func (a Agent) Validate() error {
	if a.PlanningHorizon < 1 {
		return fmt.Errorf("config: planning horizon must be positive")
	}
	if a.ReplanFreq < 1 {
		return fmt.Errorf("config: replan frequency must be positive")
	}
	if a.NumParticles < 1 {
		return fmt.Errorf("config: number of particles must be positive")
	}
	if len(a.ActionLowerBound) == 0 ||
		len(a.ActionLowerBound) != len(a.ActionUpperBound) {
		return fmt.Errorf("config: unresolved action bounds")
	}
	for i := range a.ActionLowerBound {
		if a.ActionLowerBound[i] >= a.ActionUpperBound[i] {
			return fmt.Errorf("config: action lower bound %v not below "+
				"upper bound %v", a.ActionLowerBound[i],
				a.ActionUpperBound[i])
		}
	}
	return a.CEM.Validate()
}

// Validate checks the optimizer configuration
func (c CEM) Validate() error {
	if c.NumIterations < 1 {
		return fmt.Errorf("config: optimizer iterations must be positive")
	}
	if c.EliteRatio <= 0 || c.EliteRatio > 1 {
		return fmt.Errorf("config: elite ratio must be in (0, 1] "+
			"\n\thave(%v)", c.EliteRatio)
	}
	if c.PopulationSize < 1 {
		return fmt.Errorf("config: population size must be positive")
	}
	if c.Alpha < 0 || c.Alpha >= 1 {
		return fmt.Errorf("config: smoothing factor must be in [0, 1) "+
			"\n\thave(%v)", c.Alpha)
	}
	return nil
}
