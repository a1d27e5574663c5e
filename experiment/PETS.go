// Package experiment implements the training-and-control loop of
// probabilistic ensembles with trajectory sampling: an online loop
// that alternates between refitting a learned dynamics model on all
// collected experience and controlling the environment by planning on
// the model.
package experiment

import (
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/exp/rand"

	"github.com/samuelfneumann/gopets/config"
	env "github.com/samuelfneumann/gopets/environment"
	"github.com/samuelfneumann/gopets/experiment/tracker"
	"github.com/samuelfneumann/gopets/model"
	"github.com/samuelfneumann/gopets/planning"
	"github.com/samuelfneumann/gopets/replay"
	ts "github.com/samuelfneumann/gopets/timestep"
)

// PETS runs trials of model-based control on an environment. Before
// each trial the dynamics model is refit to every transition collected
// so far; during the trial the agent plans actions on the model. A
// trial ends when the environment reaches a terminal state or after
// the configured trial length.
type PETS struct {
	environment env.Environment
	cfg         *config.Config

	model   *model.GaussianEnsemble
	trainer *model.Trainer
	agent   planning.Agent
	buffer  *replay.Buffer
	refit   func() error

	rng      *rand.Rand
	log      zerolog.Logger
	trackers []tracker.Tracker
}

// New creates and returns a new PETS experiment on e. The reward and
// termination functions describe e to the model-based environment used
// for planning; the reward function may be nil when the configuration
// learns rewards. The configuration is resolved against e before use.
func New(e env.Environment, cfg *config.Config,
	reward env.RewardFunc, termination env.TerminationFunc, seed uint64,
	log zerolog.Logger, t ...tracker.Tracker) (*PETS, error) {
	cfg.Resolve(e)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("new: invalid configuration: %v", err)
	}

	obsSize := e.ObservationSpec().Shape.Len()
	actionSize := e.ActionSpec().Shape.Len()

	ensemble, err := model.NewGaussianEnsemble(cfg.DynamicsModel,
		cfg.Algorithm, obsSize, actionSize,
		cfg.Overrides.ModelBatchSize, seed)
	if err != nil {
		return nil, fmt.Errorf("new: could not create model: %v", err)
	}

	trainer, err := model.NewTrainer(ensemble,
		cfg.Overrides.ModelSolver, cfg.Overrides.ModelStepSize,
		cfg.Overrides.ModelWeightDecay)
	if err != nil {
		return nil, fmt.Errorf("new: could not create trainer: %v", err)
	}

	modelEnv, err := model.NewEnv(ensemble, reward, termination,
		cfg.Agent.NumParticles)
	if err != nil {
		return nil, fmt.Errorf("new: could not create model "+
			"environment: %v", err)
	}

	agent, err := planning.NewTrajectoryAgent(cfg.Agent, modelEnv,
		seed+1)
	if err != nil {
		return nil, fmt.Errorf("new: could not create agent: %v", err)
	}

	capacity := cfg.Overrides.InitialExploration +
		cfg.Overrides.NumTrials*cfg.Overrides.TrialLength
	buffer, err := replay.Config{
		Capacity:   capacity,
		ObsSize:    obsSize,
		ActionSize: actionSize,
	}.Create()
	if err != nil {
		return nil, fmt.Errorf("new: could not create replay buffer: %v",
			err)
	}

	p := &PETS{
		environment: e,
		cfg:         cfg,
		model:       ensemble,
		trainer:     trainer,
		agent:       agent,
		buffer:      buffer,
		rng:         rand.New(rand.NewSource(seed + 2)),
		log:         log,
		trackers:    t,
	}
	p.refit = p.trainModel
	return p, nil
}

// Buffer returns the experiment's replay buffer
func (p *PETS) Buffer() *replay.Buffer {
	return p.buffer
}

// Register registers a tracker.Tracker with the experiment so that
// data generated during the experiment can be tracked and saved
func (p *PETS) Register(t tracker.Tracker) {
	p.trackers = append(p.trackers, t)
}

// Run runs the full experiment: initial random-agent exploration
// followed by the configured number of planning trials. The returned
// slice holds a leading zero followed by the return of every trial.
func (p *PETS) Run() ([]float64, error) {
	explore := p.cfg.Overrides.InitialExploration
	if explore > 0 {
		random, err := planning.NewRandomAgent(
			p.cfg.Agent.ActionLowerBound, p.cfg.Agent.ActionUpperBound,
			p.rng.Uint64())
		if err != nil {
			return nil, fmt.Errorf("run: %v", err)
		}

		p.log.Info().Int("steps", explore).
			Msg("collecting initial exploration data")
		if err := CollectRandom(p.environment, random, p.buffer,
			explore); err != nil {
			return nil, fmt.Errorf("run: %v", err)
		}
	}

	rewards := []float64{0}
	for trial := 0; trial < p.cfg.Overrides.NumTrials; trial++ {
		ret, steps, err := p.RunTrial()
		if err != nil {
			return rewards, fmt.Errorf("run: trial %v: %v", trial, err)
		}
		rewards = append(rewards, ret)

		p.log.Info().
			Int("trial", trial).
			Int("steps", steps).
			Float64("return", ret).
			Int("stored", p.buffer.NumStored()).
			Msg("trial finished")
	}

	return rewards, nil
}

// RunTrial runs a single trial: the model is refit to the replay
// buffer at the first step, then the agent controls the environment
// until a terminal state or the trial length is reached. RunTrial
// returns the trial's return and the number of environment steps
// taken.
func (p *PETS) RunTrial() (float64, int, error) {
	step := p.environment.Reset()
	p.agent.Reset()
	p.track(step)

	var trialReward float64
	stepsTrial := 0
	done := false

	for !done && stepsTrial < p.cfg.Overrides.TrialLength {
		if stepsTrial == 0 {
			if err := p.refit(); err != nil {
				return trialReward, stepsTrial, err
			}
		}

		action, err := p.agent.Act(step.Observation)
		if err != nil {
			return trialReward, stepsTrial,
				fmt.Errorf("could not select action: %v", err)
		}

		nextStep, _ := p.environment.Step(action)
		p.track(nextStep)

		transition := ts.NewTransition(step, action, nextStep)
		if err := p.buffer.Add(transition); err != nil {
			return trialReward, stepsTrial,
				fmt.Errorf("could not store transition: %v", err)
		}

		trialReward += nextStep.Reward
		done = nextStep.TerminatedEarly()
		step = nextStep
		stepsTrial++
	}

	return trialReward, stepsTrial, nil
}

// trainModel refits the dynamics model to the full replay buffer.
// With fewer than two stored transitions there is nothing to fit, so
// the model is left untouched and the trial runs on it as-is.
func (p *PETS) trainModel() error {
	if p.buffer.NumStored() < 2 {
		p.log.Debug().
			Int("stored", p.buffer.NumStored()).
			Msg("skipping model refit: not enough data")
		return nil
	}

	if err := p.model.UpdateNormalizer(p.buffer.GetAll()); err != nil {
		return fmt.Errorf("could not update normalizer: %v", err)
	}

	train, val, err := p.buffer.Iterators(replay.IteratorConfig{
		BatchSize:        p.cfg.Overrides.ModelBatchSize,
		ValidationRatio:  p.cfg.Overrides.ValidationRatio,
		EnsembleSize:     p.cfg.DynamicsModel.EnsembleSize,
		ShuffleEachEpoch: true,
	}, p.rng)
	if err != nil {
		return fmt.Errorf("could not create iterators: %v", err)
	}

	history, err := p.trainer.Train(train, val,
		p.cfg.Overrides.NumEpochs, p.cfg.Overrides.Patience,
		func(stats model.EpochStats) {
			p.log.Debug().
				Int("epoch", stats.Epoch).
				Float64("trainLoss", stats.TrainLoss).
				Float64("valScore", stats.ValScore).
				Bool("best", stats.Best).
				Msg("model training epoch")
		})
	if err != nil {
		return fmt.Errorf("could not train model: %v", err)
	}

	if len(history) > 0 {
		last := history[len(history)-1]
		p.log.Info().
			Int("epochs", len(history)).
			Float64("trainLoss", last.TrainLoss).
			Float64("valScore", last.ValScore).
			Msg("model refit")
	}

	return nil
}

// Save saves all the data cached by the trackers to disk
func (p *PETS) Save() error {
	for _, t := range p.trackers {
		if err := t.Save(); err != nil {
			return fmt.Errorf("save: %v", err)
		}
	}
	return nil
}

// track caches the current timestep's data in each tracker
func (p *PETS) track(t ts.TimeStep) {
	for _, tr := range p.trackers {
		tr.Track(t)
	}
}

// CollectRandom fills buffer with numSteps transitions gathered by
// running agent on e, resetting the environment whenever an episode
// ends
func CollectRandom(e env.Environment, agent planning.Agent,
	buffer *replay.Buffer, numSteps int) error {
	step := e.Reset()
	agent.Reset()

	for i := 0; i < numSteps; i++ {
		action, err := agent.Act(step.Observation)
		if err != nil {
			return fmt.Errorf("collectrandom: could not select "+
				"action: %v", err)
		}

		nextStep, _ := e.Step(action)
		transition := ts.NewTransition(step, action, nextStep)
		if err := buffer.Add(transition); err != nil {
			return fmt.Errorf("collectrandom: could not store "+
				"transition: %v", err)
		}

		if nextStep.Last() {
			step = e.Reset()
			agent.Reset()
		} else {
			step = nextStep
		}
	}

	return nil
}
