package model

import (
	"fmt"
	"math"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/samuelfneumann/gopets/replay"
	"github.com/samuelfneumann/gopets/solver"
	"github.com/samuelfneumann/gopets/utils/floatutils"
)

// improvementTolerance is the minimum relative decrease in validation
// score for an epoch to count as an improvement
const improvementTolerance float64 = 0.01

// EpochStats summarizes one training epoch of the ensemble
type EpochStats struct {
	Epoch        int
	TrainLoss    float64
	ValScore     float64
	MemberScores []float64
	Best         bool
}

// EpochCallback is called after every training epoch
type EpochCallback func(EpochStats)

// Trainer trains a GaussianEnsemble on batches drawn from a replay
// buffer. Each ensemble member gets its own solver since Gorgonia
// solvers cache per-weight state keyed by position in the model slice.
type Trainer struct {
	model   *GaussianEnsemble
	solvers []*solver.Solver
}

// NewTrainer creates and returns a new Trainer which adapts the
// weights of model using the given solver type with the given step
// size. Weight decay only applies to the Adam solver.
func NewTrainer(model *GaussianEnsemble, solverType solver.Type,
	stepSize, weightDecay float64) (*Trainer, error) {
	if model == nil {
		return nil, fmt.Errorf("newtrainer: no model given")
	}

	solvers := make([]*solver.Solver, model.Members())
	for i := range solvers {
		var s *solver.Solver
		var err error
		switch solverType {
		case solver.Adam:
			s, err = solver.NewAdam(stepSize, 1e-8, 0.9, 0.999,
				weightDecay, model.BatchSize())
		case solver.Vanilla:
			s, err = solver.NewVanilla(stepSize, model.BatchSize())
		default:
			err = fmt.Errorf("unknown solver type %q", solverType)
		}
		if err != nil {
			return nil, fmt.Errorf("newtrainer: could not create "+
				"solver: %v", err)
		}
		solvers[i] = s
	}

	return &Trainer{model: model, solvers: solvers}, nil
}

// Train trains the ensemble for at most numEpochs epochs, stopping
// early once the validation score has not improved for patience
// consecutive epochs. The weights achieving the best validation score
// are restored before returning. When the validation iterator holds no
// data the training data is scored instead. The callback, if non-nil,
// is invoked after every epoch.
func (t *Trainer) Train(train, val *replay.BatchIterator, numEpochs,
	patience int, callback EpochCallback) ([]EpochStats, error) {
	if train.Members() != t.model.Members() {
		return nil, fmt.Errorf("train: iterator has %v members but "+
			"model has %v", train.Members(), t.model.Members())
	}

	scoreSet := val
	if val.Len() == 0 {
		scoreSet = train
	}

	history := make([]EpochStats, 0, numEpochs)
	best := math.Inf(1)
	var bestWeights [][]G.Value
	sinceImprovement := 0

	for epoch := 0; epoch < numEpochs; epoch++ {
		var totalLoss float64
		var numBatches int

		for m := 0; m < t.model.Members(); m++ {
			for b := 0; b < train.NumBatches(); b++ {
				loss, err := t.model.TrainStep(m, train.Batch(m, b),
					t.solvers[m])
				if err != nil {
					return history, fmt.Errorf("train: %v", err)
				}
				totalLoss += loss
				numBatches++
			}
		}
		train.Reset()

		if err := t.model.SyncEval(); err != nil {
			return history, fmt.Errorf("train: %v", err)
		}

		// The validation iterator holds a single fold shared by all
		// members; the training fallback holds one fold per member
		memberScores := make([]float64, t.model.Members())
		for m := range memberScores {
			score, err := t.model.Score(m,
				scoreSet.Full(m%scoreSet.Members()))
			if err != nil {
				return history, fmt.Errorf("train: %v", err)
			}
			memberScores[m] = score
		}
		valScore := floatutils.Mean(memberScores...)

		improved := math.IsInf(best, 1) ||
			(best-valScore) > improvementTolerance*math.Abs(best)
		if improved {
			best = valScore
			bestWeights = t.snapshot()
			sinceImprovement = 0
		} else {
			sinceImprovement++
		}

		stats := EpochStats{
			Epoch:        epoch,
			TrainLoss:    totalLoss / float64(numBatches),
			ValScore:     valScore,
			MemberScores: memberScores,
			Best:         improved,
		}
		history = append(history, stats)
		if callback != nil {
			callback(stats)
		}

		if patience > 0 && sinceImprovement >= patience {
			break
		}
	}

	if bestWeights != nil {
		if err := t.restore(bestWeights); err != nil {
			return history, fmt.Errorf("train: %v", err)
		}
		if err := t.model.SyncEval(); err != nil {
			return history, fmt.Errorf("train: %v", err)
		}
	}

	return history, nil
}

// snapshot copies the current training weights of every member
func (t *Trainer) snapshot() [][]G.Value {
	weights := make([][]G.Value, t.model.Members())
	for m, mem := range t.model.members {
		learnables := mem.trainNet.Learnables()
		weights[m] = make([]G.Value, len(learnables))
		for i, node := range learnables {
			weights[m][i] = node.Value().(tensor.Tensor).Clone().(G.Value)
		}
	}
	return weights
}

// restore sets the training weights of every member from a snapshot
func (t *Trainer) restore(weights [][]G.Value) error {
	for m, mem := range t.model.members {
		for i, node := range mem.trainNet.Learnables() {
			if err := G.Let(node, weights[m][i]); err != nil {
				return fmt.Errorf("could not restore weights of "+
					"member %v: %v", m, err)
			}
		}
	}
	return nil
}
