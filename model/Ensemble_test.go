package model

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"

	"github.com/samuelfneumann/gopets/config"
	"github.com/samuelfneumann/gopets/replay"
	"github.com/samuelfneumann/gopets/solver"
)

func testModelConfig() config.DynamicsModel {
	return config.DynamicsModel{
		NumLayers:    1,
		HidSize:      8,
		EnsembleSize: 2,
		Slope:        0.01,
		InSize:       3,
		OutSize:      2,
		Propagation:  config.FixedModel,
	}
}

func testAlgorithm() config.Algorithm {
	return config.Algorithm{
		LearnedRewards: false,
		TargetIsDelta:  true,
		Normalize:      false,
	}
}

func randomBatch(rng *rand.Rand, size, obsSize, actionSize int) replay.MemberBatch {
	batch := replay.MemberBatch{
		Obs:     make([]float64, size*obsSize),
		Actions: make([]float64, size*actionSize),
		NextObs: make([]float64, size*obsSize),
		Rewards: make([]float64, size),
		Size:    size,
	}
	for i := range batch.Obs {
		batch.Obs[i] = rng.NormFloat64()
		batch.NextObs[i] = rng.NormFloat64()
	}
	for i := range batch.Actions {
		batch.Actions[i] = rng.NormFloat64()
	}
	for i := range batch.Rewards {
		batch.Rewards[i] = rng.Float64()
	}
	return batch
}

func TestSameSeedGivesSameInitialWeights(t *testing.T) {
	build := func() *GaussianEnsemble {
		e, err := NewGaussianEnsemble(testModelConfig(),
			testAlgorithm(), 2, 1, 4, 7)
		require.NoError(t, err)
		return e
	}

	a, b := build(), build()
	require.Equal(t, len(a.members), len(b.members))

	for i := range a.members {
		aw := a.members[i].trainNet.Learnables()
		bw := b.members[i].trainNet.Learnables()
		require.Equal(t, len(aw), len(bw))
		for j := range aw {
			assert.Equal(t, aw[j].Value().Data(),
				bw[j].Value().Data())
		}
	}
}

func TestNewGaussianEnsembleRejectsMismatchedSizes(t *testing.T) {
	_, err := NewGaussianEnsemble(testModelConfig(), testAlgorithm(),
		3, 1, 4, 1)
	assert.Error(t, err, "input size should not match obs+action sizes")

	cfg := testModelConfig()
	cfg.OutSize = 5
	_, err = NewGaussianEnsemble(cfg, testAlgorithm(), 2, 1, 4, 1)
	assert.Error(t, err, "output size should not match obs size")

	alg := testAlgorithm()
	alg.LearnedRewards = true
	_, err = NewGaussianEnsemble(testModelConfig(), alg, 2, 1, 4, 1)
	assert.Error(t, err,
		"learned rewards should require an extra output head")
}

func TestBuildTargets(t *testing.T) {
	e, err := NewGaussianEnsemble(testModelConfig(), testAlgorithm(),
		2, 1, 4, 1)
	require.NoError(t, err)

	batch := replay.MemberBatch{
		Obs:     []float64{1, 2, 3, 4},
		Actions: []float64{0, 0},
		NextObs: []float64{1.5, 2.5, 2, 3},
		Rewards: []float64{1, 1},
		Size:    2,
	}

	targets := e.buildTargets(batch)
	assert.Equal(t, []float64{0.5, 0.5, -1, -1}, targets)

	e.targetIsDelta = false
	targets = e.buildTargets(batch)
	assert.Equal(t, []float64{1.5, 2.5, 2, 3}, targets)
}

func TestHStack(t *testing.T) {
	left := []float64{1, 2, 3, 4}
	right := []float64{10, 20}

	got := hstack(left, right, 2, 1, 2)
	assert.Equal(t, []float64{1, 2, 10, 3, 4, 20}, got)
}

func TestTrainStepAndPredict(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping model training in short mode")
	}

	batchSize := 4
	e, err := NewGaussianEnsemble(testModelConfig(), testAlgorithm(),
		2, 1, batchSize, 42)
	require.NoError(t, err)

	trainer, err := NewTrainer(e, solver.Adam, 1e-3, 5e-5)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(9))
	for m := 0; m < e.Members(); m++ {
		batch := randomBatch(rng, batchSize, 2, 1)
		loss, err := e.TrainStep(m, batch, trainer.solvers[m])
		require.NoError(t, err)
		assert.False(t, math.IsNaN(loss), "training loss is NaN")
		assert.False(t, math.IsInf(loss, 0), "training loss is infinite")
	}

	require.NoError(t, e.SyncEval())

	score, err := e.Score(0, randomBatch(rng, 3, 2, 1))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, score, 0.0)

	// Rollout predictions have one row per input row
	size := 6
	require.NoError(t, e.EnsurePlanBatch(size))

	obs := make([]float64, size*2)
	actions := make([]float64, size)
	for i := range obs {
		obs[i] = rng.NormFloat64()
	}
	assignment := e.SampleAssignment(size)

	nextObs, rewards, err := e.Predict(obs, actions, size, assignment)
	require.NoError(t, err)
	assert.Nil(t, rewards, "rewards predicted without a reward head")
	require.Len(t, nextObs, size*2)
	for _, v := range nextObs {
		assert.False(t, math.IsNaN(v), "predicted state is NaN")
	}
}

func TestTrainStepRejectsWrongBatchSize(t *testing.T) {
	e, err := NewGaussianEnsemble(testModelConfig(), testAlgorithm(),
		2, 1, 4, 1)
	require.NoError(t, err)

	trainer, err := NewTrainer(e, solver.Adam, 1e-3, 0)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(2))
	_, err = e.TrainStep(0, randomBatch(rng, 3, 2, 1),
		trainer.solvers[0])
	assert.Error(t, err)
}
