package model

import (
	"fmt"
	"math"

	"golang.org/x/exp/rand"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/samuelfneumann/gopets/config"
	"github.com/samuelfneumann/gopets/network"
	"github.com/samuelfneumann/gopets/replay"
)

// member is a single probabilistic network of the ensemble. Each
// member owns three differently-batched clones of the same weights:
// a training network carrying the loss graph, a batch-1 evaluation
// network for validation scoring, and a lazily-built planning network
// sized to the planner's rollout batch. Set propagates weights from
// the training network to the clones.
type member struct {
	trainNet *network.GaussianMLP
	trainVM  G.VM
	target   *G.Node
	lossVal  G.Value

	evalNet *network.GaussianMLP
	evalVM  G.VM

	planNet   *network.GaussianMLP
	planVM    G.VM
	planBatch int
}

// GaussianEnsemble implements a probabilistic ensemble dynamics model.
// Each ensemble member maps a (state, action) input to a diagonal
// Gaussian over the next-state delta (or the next state directly when
// delta targets are disabled), with an extra output head for the
// reward when learned rewards are enabled.
type GaussianEnsemble struct {
	members    []*member
	normalizer *Normalizer

	inSize     int
	outSize    int
	obsSize    int
	actionSize int
	batchSize  int

	deterministic  bool
	learnedRewards bool
	targetIsDelta  bool
	normalize      bool
	propagation    config.Propagation

	normal distuv.Normal
	rng    *rand.Rand
}

// NewGaussianEnsemble creates and returns a new GaussianEnsemble as
// described by modelCfg and alg. The batchSize parameter fixes the
// batch dimension of the training networks; seed determines all
// sampling performed when the model is used for trajectory rollouts.
func NewGaussianEnsemble(modelCfg config.DynamicsModel,
	alg config.Algorithm, obsSize, actionSize, batchSize int,
	seed uint64) (*GaussianEnsemble, error) {
	if err := modelCfg.Validate(); err != nil {
		return nil, err
	}
	if modelCfg.InSize != obsSize+actionSize {
		return nil, fmt.Errorf("newgaussianensemble: model input size "+
			"%v does not match observation (%v) + action (%v) sizes",
			modelCfg.InSize, obsSize, actionSize)
	}
	expectedOut := obsSize
	if alg.LearnedRewards {
		expectedOut++
	}
	if modelCfg.OutSize != expectedOut {
		return nil, fmt.Errorf("newgaussianensemble: model output size "+
			"%v does not match expected size %v", modelCfg.OutSize,
			expectedOut)
	}
	if batchSize < 1 {
		return nil, fmt.Errorf("newgaussianensemble: batch size must " +
			"be positive")
	}

	source := rand.NewSource(seed)
	e := &GaussianEnsemble{
		members:    make([]*member, modelCfg.EnsembleSize),
		normalizer: NewNormalizer(modelCfg.InSize),

		inSize:     modelCfg.InSize,
		outSize:    modelCfg.OutSize,
		obsSize:    obsSize,
		actionSize: actionSize,
		batchSize:  batchSize,

		deterministic:  modelCfg.Deterministic,
		learnedRewards: alg.LearnedRewards,
		targetIsDelta:  alg.TargetIsDelta,
		normalize:      alg.Normalize,
		propagation:    modelCfg.Propagation,

		normal: distuv.Normal{Mu: 0.0, Sigma: 1.0, Src: source},
		rng:    rand.New(source),
	}

	for i := range e.members {
		m, err := newMember(modelCfg, batchSize, e.rng)
		if err != nil {
			return nil, fmt.Errorf("newgaussianensemble: could not "+
				"create member %v: %v", i, err)
		}
		e.members[i] = m
	}

	return e, nil
}

// glorotU returns a Glorot uniform weight initializer drawing from
// rng. Gorgonia's stock initializers seed themselves from the wall
// clock, which would make identically-seeded runs diverge at weight
// initialization.
func glorotU(gain float64, rng *rand.Rand) G.InitWFn {
	return func(dt tensor.Dtype, s ...int) interface{} {
		if dt != tensor.Float64 {
			panic(fmt.Sprintf("glorotu: unsupported dtype %v", dt))
		}

		n1, n2 := 1, s[0]
		if len(s) > 1 {
			n1, n2 = s[0], s[1]
		}

		stdev := gain * math.Sqrt(2.0/float64(n1+n2))
		limit := math.Sqrt(3.0) * stdev

		data := make([]float64, tensor.Shape(s).TotalSize())
		for i := range data {
			data[i] = rng.Float64()*2.0*limit - limit
		}
		return data
	}
}

// newMember builds one ensemble member: the training network with its
// negative log likelihood loss graph and the batch-1 evaluation clone
func newMember(cfg config.DynamicsModel, batchSize int,
	rng *rand.Rand) (*member, error) {
	hidden := make([]int, cfg.NumLayers)
	biases := make([]bool, cfg.NumLayers)
	activations := make([]*network.Activation, cfg.NumLayers)
	for i := range hidden {
		hidden[i] = cfg.HidSize
		biases[i] = true
		activations[i] = network.LeakyReLU(cfg.Slope)
	}

	g := G.NewGraph()
	net, err := network.NewGaussianMLP(cfg.InSize, batchSize,
		cfg.OutSize, g, hidden, biases, glorotU(1.0, rng), activations)
	if err != nil {
		return nil, err
	}

	m := &member{trainNet: net}

	// Loss: Gaussian negative log likelihood of the targets under the
	// predicted mean and (bounded) log variance. A deterministic
	// member reduces to mean squared error.
	m.target = G.NewMatrix(g, tensor.Float64,
		G.WithShape(batchSize, cfg.OutSize), G.WithName("target"))

	diff := G.Must(G.Sub(m.target, net.Mean()))
	sq := G.Must(G.Square(diff))

	var cost *G.Node
	if cfg.Deterministic {
		cost = G.Must(G.Mean(sq))
	} else {
		invVar := G.Must(G.Exp(G.Must(G.Neg(net.LogVar()))))
		losses := G.Must(G.Add(G.Must(G.HadamardProd(sq, invVar)),
			net.LogVar()))
		cost = G.Must(G.Mean(losses))
	}
	G.Read(cost, &m.lossVal)

	if _, err := G.Grad(cost, net.Learnables()...); err != nil {
		return nil, fmt.Errorf("could not compute gradient: %v", err)
	}

	m.trainVM = G.NewTapeMachine(g,
		G.BindDualValues(net.Learnables()...))

	evalNet, err := net.CloneWithBatch(1)
	if err != nil {
		return nil, fmt.Errorf("could not clone evaluation net: %v", err)
	}
	m.evalNet = evalNet.(*network.GaussianMLP)
	m.evalVM = G.NewTapeMachine(m.evalNet.Graph())

	return m, nil
}

// Members returns the number of ensemble members
func (e *GaussianEnsemble) Members() int {
	return len(e.members)
}

// ObsSize returns the observation dimensionality of the model
func (e *GaussianEnsemble) ObsSize() int {
	return e.obsSize
}

// ActionSize returns the action dimensionality of the model
func (e *GaussianEnsemble) ActionSize() int {
	return e.actionSize
}

// BatchSize returns the training batch size of the model
func (e *GaussianEnsemble) BatchSize() int {
	return e.batchSize
}

// Propagation returns the model's rollout propagation method
func (e *GaussianEnsemble) Propagation() config.Propagation {
	return e.propagation
}

// LearnsRewards returns whether the model predicts rewards alongside
// next observations
func (e *GaussianEnsemble) LearnsRewards() bool {
	return e.learnedRewards
}

// UpdateNormalizer recomputes the input normalization statistics from
// every transition in ds. A no-op when normalization is disabled.
func (e *GaussianEnsemble) UpdateNormalizer(ds replay.Dataset) error {
	if !e.normalize {
		return nil
	}
	if ds.Len < 2 {
		return nil
	}

	inputs := hstack(ds.Obs.RawMatrix().Data, ds.Actions.RawMatrix().Data,
		e.obsSize, e.actionSize, ds.Len)
	return e.normalizer.Update(mat.NewDense(ds.Len, e.inSize, inputs))
}

// buildInputs assembles and normalizes the flat row major model input
// batch [obs ++ action] for size rows. The caller's slices are not
// mutated.
func (e *GaussianEnsemble) buildInputs(obs, actions []float64,
	size int) []float64 {
	inputs := hstack(obs, actions, e.obsSize, e.actionSize, size)
	if e.normalize {
		e.normalizer.Normalize(inputs)
	}
	return inputs
}

// buildTargets assembles the flat row major training targets for a
// member batch: the next-observation delta (or the next observation),
// with the reward appended when rewards are learned
func (e *GaussianEnsemble) buildTargets(batch replay.MemberBatch) []float64 {
	targets := make([]float64, batch.Size*e.outSize)

	for i := 0; i < batch.Size; i++ {
		targetInd := i * e.outSize
		obsInd := i * e.obsSize
		for j := 0; j < e.obsSize; j++ {
			if e.targetIsDelta {
				targets[targetInd+j] = batch.NextObs[obsInd+j] -
					batch.Obs[obsInd+j]
			} else {
				targets[targetInd+j] = batch.NextObs[obsInd+j]
			}
		}
		if e.learnedRewards {
			targets[targetInd+e.obsSize] = batch.Rewards[i]
		}
	}

	return targets
}

// TrainStep performs a single gradient step on ensemble member m using
// batch and returns the training loss. The solver adapts the member's
// training weights; evaluation and planning clones are left stale
// until SyncEval is called.
func (e *GaussianEnsemble) TrainStep(m int, batch replay.MemberBatch,
	slv G.Solver) (float64, error) {
	if m < 0 || m >= len(e.members) {
		return 0, fmt.Errorf("trainstep: no such member %v", m)
	}
	mem := e.members[m]

	if batch.Size != e.batchSize {
		return 0, fmt.Errorf("trainstep: invalid batch size \n\twant(%v)"+
			"\n\thave(%v)", e.batchSize, batch.Size)
	}

	inputs := e.buildInputs(batch.Obs, batch.Actions, batch.Size)
	if err := mem.trainNet.SetInput(inputs); err != nil {
		return 0, fmt.Errorf("trainstep: could not set input: %v", err)
	}

	targets := e.buildTargets(batch)
	targetTensor := tensor.New(
		tensor.WithBacking(targets),
		tensor.WithShape(batch.Size, e.outSize),
	)
	if err := G.Let(mem.target, targetTensor); err != nil {
		return 0, fmt.Errorf("trainstep: could not set targets: %v", err)
	}

	if err := mem.trainVM.RunAll(); err != nil {
		return 0, fmt.Errorf("trainstep: could not run training step: %v",
			err)
	}
	var loss float64
	switch data := mem.lossVal.Data().(type) {
	case float64:
		loss = data
	case []float64:
		loss = data[0]
	default:
		return 0, fmt.Errorf("trainstep: unexpected loss type %T", data)
	}

	if err := slv.Step(mem.trainNet.Model()); err != nil {
		return 0, fmt.Errorf("trainstep: could not adapt weights: %v", err)
	}
	mem.trainVM.Reset()

	return loss, nil
}

// SyncEval copies the training weights of every member into its
// evaluation and planning clones
func (e *GaussianEnsemble) SyncEval() error {
	for i, mem := range e.members {
		if err := mem.evalNet.Set(mem.trainNet); err != nil {
			return fmt.Errorf("synceval: could not sync member %v: %v",
				i, err)
		}
		if mem.planNet != nil {
			if err := mem.planNet.Set(mem.trainNet); err != nil {
				return fmt.Errorf("synceval: could not sync member %v "+
					"planning net: %v", i, err)
			}
		}
	}
	return nil
}

// Score returns the validation score of ensemble member m on batch:
// the mean squared error of the predicted means against the targets.
// SyncEval must be called after training steps for the score to
// reflect the latest weights.
func (e *GaussianEnsemble) Score(m int,
	batch replay.MemberBatch) (float64, error) {
	if m < 0 || m >= len(e.members) {
		return 0, fmt.Errorf("score: no such member %v", m)
	}
	if batch.Size == 0 {
		return 0, fmt.Errorf("score: empty batch")
	}
	mem := e.members[m]

	inputs := e.buildInputs(batch.Obs, batch.Actions, batch.Size)
	targets := e.buildTargets(batch)

	var sumSq float64
	for i := 0; i < batch.Size; i++ {
		row := inputs[i*e.inSize : (i+1)*e.inSize]
		if err := mem.evalNet.SetInput(row); err != nil {
			return 0, fmt.Errorf("score: could not set input: %v", err)
		}
		if err := mem.evalVM.RunAll(); err != nil {
			return 0, fmt.Errorf("score: could not run forward pass: %v",
				err)
		}

		mean := mem.evalNet.MeanVal().Data().([]float64)
		targetInd := i * e.outSize
		for j := 0; j < e.outSize; j++ {
			diff := mean[j] - targets[targetInd+j]
			sumSq += diff * diff
		}
		mem.evalVM.Reset()
	}

	return sumSq / float64(batch.Size*e.outSize), nil
}

// EnsurePlanBatch builds (or rebuilds) every member's planning network
// with the given batch size and syncs its weights
func (e *GaussianEnsemble) EnsurePlanBatch(batch int) error {
	for i, mem := range e.members {
		if mem.planNet != nil && mem.planBatch == batch {
			continue
		}

		planNet, err := mem.trainNet.CloneWithBatch(batch)
		if err != nil {
			return fmt.Errorf("ensureplanbatch: could not clone member "+
				"%v: %v", i, err)
		}
		mem.planNet = planNet.(*network.GaussianMLP)
		mem.planVM = G.NewTapeMachine(mem.planNet.Graph())
		mem.planBatch = batch

		if err := mem.planNet.Set(mem.trainNet); err != nil {
			return fmt.Errorf("ensureplanbatch: could not sync member "+
				"%v: %v", i, err)
		}
	}
	return nil
}

// Predict samples next observations (and rewards, when learned) for a
// batch of (observation, action) rows. The assignment parameter gives
// the ensemble member used for each row; it is ignored under the
// Expectation propagation method, which averages the member means and
// adds no sampling noise. EnsurePlanBatch must have been called with
// the batch size.
func (e *GaussianEnsemble) Predict(obs, actions []float64, size int,
	assignment []int) (nextObs []float64, rewards []float64, err error) {
	if len(obs) != size*e.obsSize || len(actions) != size*e.actionSize {
		return nil, nil, fmt.Errorf("predict: invalid batch shapes")
	}
	if e.propagation != config.Expectation && len(assignment) != size {
		return nil, nil, fmt.Errorf("predict: invalid assignment length"+
			"\n\twant(%v)\n\thave(%v)", size, len(assignment))
	}

	inputs := e.buildInputs(obs, actions, size)

	// Run every member's planning network on the full batch
	means := make([][]float64, len(e.members))
	logVars := make([][]float64, len(e.members))
	for i, mem := range e.members {
		if mem.planNet == nil || mem.planBatch != size {
			return nil, nil, fmt.Errorf("predict: planning networks not "+
				"built for batch size %v", size)
		}

		if err := mem.planNet.SetInput(inputs); err != nil {
			return nil, nil, fmt.Errorf("predict: could not set input: %v",
				err)
		}
		if err := mem.planVM.RunAll(); err != nil {
			return nil, nil, fmt.Errorf("predict: could not run member "+
				"%v: %v", i, err)
		}

		meanData := mem.planNet.MeanVal().Data().([]float64)
		means[i] = append([]float64{}, meanData...)
		if !e.deterministic {
			logVarData := mem.planNet.LogVarVal().Data().([]float64)
			logVars[i] = append([]float64{}, logVarData...)
		}

		mem.planVM.Reset()
	}

	nextObs = make([]float64, size*e.obsSize)
	if e.learnedRewards {
		rewards = make([]float64, size)
	}

	pred := make([]float64, e.outSize)
	for r := 0; r < size; r++ {
		outInd := r * e.outSize

		switch {
		case e.propagation == config.Expectation:
			for j := 0; j < e.outSize; j++ {
				sum := 0.0
				for i := range e.members {
					sum += means[i][outInd+j]
				}
				pred[j] = sum / float64(len(e.members))
			}
		case e.deterministic:
			mi := assignment[r]
			copy(pred, means[mi][outInd:outInd+e.outSize])
		default:
			mi := assignment[r]
			for j := 0; j < e.outSize; j++ {
				mean := means[mi][outInd+j]
				std := math.Exp(0.5 * logVars[mi][outInd+j])
				pred[j] = mean + std*e.normal.Rand()
			}
		}

		obsInd := r * e.obsSize
		for j := 0; j < e.obsSize; j++ {
			if e.targetIsDelta {
				nextObs[obsInd+j] = obs[obsInd+j] + pred[j]
			} else {
				nextObs[obsInd+j] = pred[j]
			}
		}
		if e.learnedRewards {
			rewards[r] = pred[e.obsSize]
		}
	}

	return nextObs, rewards, nil
}

// SampleAssignment draws an ensemble member for each of size rollout
// particles
func (e *GaussianEnsemble) SampleAssignment(size int) []int {
	assignment := make([]int, size)
	for i := range assignment {
		assignment[i] = e.rng.Intn(len(e.members))
	}
	return assignment
}

// hstack horizontally stacks two flat row major matrices with the same
// number of rows
func hstack(left, right []float64, leftCols, rightCols,
	rows int) []float64 {
	cols := leftCols + rightCols
	out := make([]float64, rows*cols)
	for i := 0; i < rows; i++ {
		copy(out[i*cols:i*cols+leftCols], left[i*leftCols:(i+1)*leftCols])
		copy(out[i*cols+leftCols:(i+1)*cols],
			right[i*rightCols:(i+1)*rightCols])
	}
	return out
}
