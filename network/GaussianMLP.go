package network

import (
	"fmt"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/samuelfneumann/gopets/utils/tensorutils"
)

const (
	// Bounds on the predicted log variance. The raw network output is
	// squashed into (MinLogVar, MaxLogVar) with softplus so that the
	// bound stays differentiable.
	MinLogVar float64 = -10.0
	MaxLogVar float64 = 0.5
)

// GaussianMLP implements a multi-layered perceptron that predicts a
// diagonal Gaussian over its outputs. The final layer emits 2*outputs
// heads: the first outputs columns are the mean and the last outputs
// columns the log variance of the predicted distribution.
//
// GaussianMLP satisfies the NeuralNet interface. The Prediction node
// holds the concatenated (mean ++ logvar) heads; the Mean and LogVar
// nodes view the two halves after log variance bounding.
type GaussianMLP struct {
	g          *G.ExprGraph
	layers     []Layer
	input      *G.Node
	numOutputs int
	numInputs  int
	batchSize  int

	hiddenSizes []int
	biases      []bool
	activations []*Activation

	learnables G.Nodes
	model      []G.ValueGrad

	prediction *G.Node
	predVal    G.Value

	mean      *G.Node
	meanVal   G.Value
	logVar    *G.Node
	logVarVal G.Value
}

// NewGaussianMLP creates and returns a new GaussianMLP predicting a
// Gaussian over outputs values from features inputs. The graph
// parameter g is populated with the network.
//
// The network has len(hiddenSizes) hidden layers; a final linear layer
// of width 2*outputs is always added to produce the mean and log
// variance heads. For index i, hiddenSizes[i] is the number of nodes
// in hidden layer i, biases[i] is whether that layer has a bias unit,
// and activations[i] is its activation. The parameter init determines
// the weight initialization scheme.
func NewGaussianMLP(features, batch, outputs int, g *G.ExprGraph,
	hiddenSizes []int, biases []bool, init G.InitWFn,
	activations []*Activation) (*GaussianMLP, error) {
	if len(hiddenSizes) != len(activations) {
		msg := "newgaussianmlp: invalid number of activations" +
			"\n\twant(%d)\n\thave(%d)"
		return nil, fmt.Errorf(msg, len(hiddenSizes), len(activations))
	}
	if len(hiddenSizes) != len(biases) {
		msg := "newgaussianmlp: invalid number of biases\n\twant(%d)" +
			"\n\thave(%d)"
		return nil, fmt.Errorf(msg, len(hiddenSizes), len(biases))
	}
	if outputs < 1 {
		return nil, fmt.Errorf("newgaussianmlp: must have at least 1 "+
			"output \n\thave(%v)", outputs)
	}

	// Final linear layer produces the mean and log variance heads
	hiddenSizes = append(append([]int{}, hiddenSizes...), 2*outputs)
	biases = append(append([]bool{}, biases...), true)
	activations = append(append([]*Activation{}, activations...),
		Identity())

	input := G.NewMatrix(g, tensor.Float64, G.WithShape(batch, features),
		G.WithName("input"), G.WithInit(G.Zeroes()))

	layers := addfcLayers(g, hiddenSizes, biases, activations, init,
		features, "", "")

	net := GaussianMLP{
		g:           g,
		layers:      layers,
		input:       input,
		numOutputs:  outputs,
		numInputs:   features,
		batchSize:   batch,
		hiddenSizes: hiddenSizes,
		biases:      biases,
		activations: activations,
	}

	if _, err := net.fwd(input); err != nil {
		return nil, fmt.Errorf("newgaussianmlp: could not compute "+
			"forward pass: %v", err)
	}

	return &net, nil
}

// fwd computes the forward pass of the GaussianMLP on input
func (e *GaussianMLP) fwd(input *G.Node) (*G.Node, error) {
	pred := input
	var err error
	for i, l := range e.layers {
		if pred, err = l.fwd(pred); err != nil {
			msg := "fwd: could not compute forward pass of layer %v: %v"
			return nil, fmt.Errorf(msg, i, err)
		}
	}

	e.prediction = pred
	G.Read(e.prediction, &e.predVal)

	// Split the prediction into its mean and log variance halves
	mean := G.Must(G.Slice(pred, nil,
		tensorutils.NewSlice(0, e.numOutputs, 1)))
	rawLogVar := G.Must(G.Slice(pred, nil,
		tensorutils.NewSlice(e.numOutputs, 2*e.numOutputs, 1)))

	logVar := boundLogVar(rawLogVar)

	e.mean = mean
	e.logVar = logVar
	G.Read(e.mean, &e.meanVal)
	G.Read(e.logVar, &e.logVarVal)

	return pred, nil
}

// boundLogVar squashes the raw log variance head into
// (MinLogVar, MaxLogVar) differentiably
func boundLogVar(rawLogVar *G.Node) *G.Node {
	g := rawLogVar.Graph()
	maxLV := G.NewConstant(MaxLogVar, G.WithName("maxLogVar"), G.In(g))
	minLV := G.NewConstant(MinLogVar, G.WithName("minLogVar"), G.In(g))

	logVar := G.Must(G.Sub(maxLV, rawLogVar))
	logVar = softplus(logVar)
	logVar = G.Must(G.Sub(maxLV, logVar))

	logVar = G.Must(G.Sub(logVar, minLV))
	logVar = softplus(logVar)
	logVar = G.Must(G.Add(minLV, logVar))

	return logVar
}

// softplus computes log(1 + exp(x)) elementwise
func softplus(x *G.Node) *G.Node {
	one := G.NewConstant(1.0, G.In(x.Graph()))
	exp := G.Must(G.Exp(x))
	return G.Must(G.Log(G.Must(G.Add(one, exp))))
}

// Graph returns the computational graph of the GaussianMLP
func (e *GaussianMLP) Graph() *G.ExprGraph {
	return e.g
}

// CloneWithBatch clones the GaussianMLP onto a fresh graph with a new
// input batch size. The clone shares no state with the original; use
// Set to copy weights between clones.
func (e *GaussianMLP) CloneWithBatch(batchSize int) (NeuralNet, error) {
	graph := G.NewGraph()

	input := G.NewMatrix(
		graph,
		tensor.Float64,
		G.WithShape(batchSize, e.numInputs),
		G.WithName("input"),
		G.WithInit(G.Zeroes()),
	)

	layers := make([]Layer, len(e.layers))
	for i := range e.layers {
		layers[i] = e.layers[i].CloneTo(graph)
	}

	net := GaussianMLP{
		g:           graph,
		layers:      layers,
		input:       input,
		numOutputs:  e.numOutputs,
		numInputs:   e.numInputs,
		batchSize:   batchSize,
		hiddenSizes: e.hiddenSizes,
		biases:      e.biases,
		activations: e.activations,
	}

	if _, err := net.fwd(input); err != nil {
		return nil, fmt.Errorf("clonewithbatch: could not compute "+
			"forward pass: %v", err)
	}

	return &net, nil
}

// BatchSize returns the input batch size of the network
func (e *GaussianMLP) BatchSize() int {
	return e.batchSize
}

// Features returns the number of features in a single input vector
func (e *GaussianMLP) Features() int {
	return e.numInputs
}

// Outputs returns the number of predicted values. The network emits
// 2*Outputs() heads: a mean and a log variance per predicted value.
func (e *GaussianMLP) Outputs() int {
	return e.numOutputs
}

// SetInput sets the value of the input node before running the forward
// pass
func (e *GaussianMLP) SetInput(input []float64) error {
	if len(input) != e.numInputs*e.batchSize {
		return fmt.Errorf("setinput: invalid number of inputs"+
			"\n\twant(%v)\n\thave(%v)", e.numInputs*e.batchSize,
			len(input))
	}
	inputTensor := tensor.New(
		tensor.WithBacking(input),
		tensor.WithShape(e.input.Shape()...),
	)
	return G.Let(e.input, inputTensor)
}

// Set sets the weights of the GaussianMLP to be equal to the weights
// of another GaussianMLP
func (e *GaussianMLP) Set(source NeuralNet) error {
	sourceNodes := source.Learnables()
	nodes := e.Learnables()
	for i, destLearnable := range nodes {
		sourceLearnable := sourceNodes[i].Clone()
		err := G.Let(destLearnable, sourceLearnable.(*G.Node).Value())
		if err != nil {
			return err
		}
	}
	return nil
}

// Learnables returns the learnable nodes of the GaussianMLP
func (e *GaussianMLP) Learnables() G.Nodes {
	if e.learnables == nil {
		e.learnables = make(G.Nodes, 0, 2*len(e.layers))
		for _, layer := range e.layers {
			e.learnables = append(e.learnables, layer.Weights())
			if layer.Bias() != nil {
				e.learnables = append(e.learnables, layer.Bias())
			}
		}
	}
	return e.learnables
}

// Model returns the learnable nodes with their gradients
func (e *GaussianMLP) Model() []G.ValueGrad {
	if e.model == nil {
		learnables := e.Learnables()
		e.model = make([]G.ValueGrad, len(learnables))
		for i, learnable := range learnables {
			e.model[i] = learnable
		}
	}
	return e.model
}

// Output returns the value of the concatenated (mean ++ logvar)
// prediction after the graph has been run
func (e *GaussianMLP) Output() G.Value {
	return e.predVal
}

// Prediction returns the node of the computational graph that stores
// the concatenated (mean ++ logvar) prediction
func (e *GaussianMLP) Prediction() *G.Node {
	return e.prediction
}

// Mean returns the node holding the predicted means
func (e *GaussianMLP) Mean() *G.Node {
	return e.mean
}

// LogVar returns the node holding the bounded predicted log variances
func (e *GaussianMLP) LogVar() *G.Node {
	return e.logVar
}

// MeanVal returns the value of the predicted means after the graph has
// been run
func (e *GaussianMLP) MeanVal() G.Value {
	return e.meanVal
}

// LogVarVal returns the value of the predicted log variances after the
// graph has been run
func (e *GaussianMLP) LogVarVal() G.Value {
	return e.logVarVal
}
