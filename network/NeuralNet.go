// Package network implements neural networks as Gorgonia expression
// graphs
package network

import (
	G "gorgonia.org/gorgonia"
)

// NeuralNet outlines the behaviour of all neural networks. Networks
// have a fixed input batch size; CloneWithBatch produces a copy of the
// network on a fresh graph with a new batch size, and Set copies the
// weights of one network into another so that differently-batched
// clones can share learned parameters.
type NeuralNet interface {
	Graph() *G.ExprGraph
	CloneWithBatch(int) (NeuralNet, error)
	BatchSize() int
	Features() int
	Outputs() int
	SetInput([]float64) error
	Set(NeuralNet) error
	Learnables() G.Nodes
	Model() []G.ValueGrad
	Output() G.Value
	Prediction() *G.Node
}
