package experiment

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"

	"github.com/samuelfneumann/gopets/config"
	"github.com/samuelfneumann/gopets/environment/classiccontrol/cartpole"
	"github.com/samuelfneumann/gopets/planning"
	"github.com/samuelfneumann/gopets/replay"
)

// testConfig returns a configuration small enough to run an entire
// experiment in a test
func testConfig() *config.Config {
	cfg := config.Default()

	cfg.DynamicsModel.NumLayers = 1
	cfg.DynamicsModel.HidSize = 16
	cfg.DynamicsModel.EnsembleSize = 2

	cfg.Overrides.TrialLength = 5
	cfg.Overrides.NumTrials = 2
	cfg.Overrides.ModelBatchSize = 8
	cfg.Overrides.ValidationRatio = 0.2
	cfg.Overrides.NumEpochs = 2
	cfg.Overrides.Patience = 2
	cfg.Overrides.InitialExploration = 12

	cfg.Agent.PlanningHorizon = 3
	cfg.Agent.ReplanFreq = 1
	cfg.Agent.NumParticles = 2
	cfg.Agent.CEM.NumIterations = 2
	cfg.Agent.CEM.PopulationSize = 20

	return cfg
}

func testEnvironment(trialLength int) *cartpole.Cartpole {
	task := cartpole.NewBalance(cartpole.NewStarter(11), trialLength)
	environment, _ := cartpole.New(task, 1.0)
	return environment
}

func TestRunProducesOneReturnPerTrial(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping full experiment in short mode")
	}

	cfg := testConfig()
	environment := testEnvironment(cfg.Overrides.TrialLength)

	pets, err := New(environment, cfg, cartpole.Reward,
		cartpole.Terminal, 42, zerolog.Nop())
	require.NoError(t, err)

	rewards, err := pets.Run()
	require.NoError(t, err)

	// A leading zero, then one return per trial
	require.Len(t, rewards, cfg.Overrides.NumTrials+1)
	assert.Equal(t, 0.0, rewards[0])
	for _, ret := range rewards[1:] {
		assert.GreaterOrEqual(t, ret, 0.0)
		assert.LessOrEqual(t, ret, float64(cfg.Overrides.TrialLength))
	}

	// Every environment step stored exactly one transition
	stored := pets.Buffer().NumStored()
	assert.GreaterOrEqual(t, stored,
		cfg.Overrides.InitialExploration+cfg.Overrides.NumTrials)
	assert.LessOrEqual(t, stored, cfg.Overrides.InitialExploration+
		cfg.Overrides.NumTrials*cfg.Overrides.TrialLength)
}

// TestRunWithoutExplorationData checks that a run configured with no
// initial exploration starts its first trial on an empty replay
// buffer: the first refit is skipped, the trial runs to the full
// trial length on the untrained model, and one transition is stored
// per step.
func TestRunWithoutExplorationData(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping full experiment in short mode")
	}

	cfg := testConfig()
	cfg.Overrides.InitialExploration = 0
	cfg.Overrides.NumTrials = 1
	environment := testEnvironment(cfg.Overrides.TrialLength)

	pets, err := New(environment, cfg, cartpole.Reward,
		cartpole.Terminal, 42, zerolog.Nop())
	require.NoError(t, err)

	var rewards []float64
	require.NotPanics(t, func() { rewards, err = pets.Run() })
	require.NoError(t, err)

	require.Len(t, rewards, 2)
	assert.Equal(t, 0.0, rewards[0])
	assert.Equal(t, cfg.Overrides.TrialLength,
		pets.Buffer().NumStored())
}

// countingAgent records how often the experiment resets it and asks
// it to act, always pushing with zero force.
type countingAgent struct {
	resets int
	acts   int
}

func (c *countingAgent) Reset() { c.resets++ }

func (c *countingAgent) Act(_ *mat.VecDense) (*mat.VecDense, error) {
	c.acts++
	return mat.NewVecDense(1, []float64{0}), nil
}

func TestRunRefitsAndResetsOncePerTrial(t *testing.T) {
	cfg := testConfig()
	cfg.Overrides.InitialExploration = 0
	cfg.Overrides.NumTrials = 3
	environment := testEnvironment(cfg.Overrides.TrialLength)

	buffer, err := replay.Config{
		Capacity:   cfg.Overrides.NumTrials * cfg.Overrides.TrialLength,
		ObsSize:    cartpole.ObservationDims,
		ActionSize: cartpole.ActionDims,
	}.Create()
	require.NoError(t, err)

	agent := &countingAgent{}
	refits := 0
	p := &PETS{
		environment: environment,
		cfg:         cfg,
		agent:       agent,
		buffer:      buffer,
		rng:         rand.New(rand.NewSource(1)),
		log:         zerolog.Nop(),
	}
	p.refit = func() error { refits++; return nil }

	rewards, err := p.Run()
	require.NoError(t, err)
	require.Len(t, rewards, cfg.Overrides.NumTrials+1)

	// The model is refit exactly once per trial, at its first step,
	// and the agent is reset exactly once per trial
	assert.Equal(t, cfg.Overrides.NumTrials, refits)
	assert.Equal(t, cfg.Overrides.NumTrials, agent.resets)
	assert.Equal(t, cfg.Overrides.NumTrials*cfg.Overrides.TrialLength,
		agent.acts)
}

func TestRunIsDeterministicForASeed(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping full experiment in short mode")
	}

	run := func() []float64 {
		cfg := testConfig()
		environment := testEnvironment(cfg.Overrides.TrialLength)

		pets, err := New(environment, cfg, cartpole.Reward,
			cartpole.Terminal, 42, zerolog.Nop())
		require.NoError(t, err)

		rewards, err := pets.Run()
		require.NoError(t, err)
		return rewards
	}

	assert.Equal(t, run(), run())
}

func TestNewRejectsInvalidConfiguration(t *testing.T) {
	cfg := testConfig()
	cfg.Overrides.TrialLength = 0
	environment := testEnvironment(5)

	_, err := New(environment, cfg, cartpole.Reward, cartpole.Terminal,
		42, zerolog.Nop())
	assert.Error(t, err)
}

func TestNewRequiresRewardFunction(t *testing.T) {
	cfg := testConfig()
	environment := testEnvironment(cfg.Overrides.TrialLength)

	// Without a learned reward head, planning needs a reward function
	_, err := New(environment, cfg, nil, cartpole.Terminal, 42,
		zerolog.Nop())
	assert.Error(t, err)
}

func TestCollectRandomFillsBuffer(t *testing.T) {
	environment := testEnvironment(5)

	agent, err := planning.NewRandomAgent(
		[]float64{cartpole.MinContinuousAction},
		[]float64{cartpole.MaxContinuousAction}, 3)
	require.NoError(t, err)

	buffer, err := replay.Config{
		Capacity:   100,
		ObsSize:    cartpole.ObservationDims,
		ActionSize: cartpole.ActionDims,
	}.Create()
	require.NoError(t, err)

	numSteps := 23
	require.NoError(t, CollectRandom(environment, agent, buffer,
		numSteps))
	assert.Equal(t, numSteps, buffer.NumStored())
}
