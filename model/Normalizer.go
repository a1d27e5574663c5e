// Package model implements a probabilistic ensemble dynamics model,
// a model-based environment for simulated rollouts, and a trainer
// that fits the ensemble to replay buffer data
package model

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// minStd is the smallest standard deviation used for normalization.
// Dimensions with (near) zero variance are left unscaled.
const minStd float64 = 1e-12

// Normalizer maintains per-dimension mean and standard deviation
// statistics of model inputs and applies them to input batches
type Normalizer struct {
	mean []float64
	std  []float64
	dims int
}

// NewNormalizer returns a Normalizer over dims input dimensions with
// identity statistics
func NewNormalizer(dims int) *Normalizer {
	mean := make([]float64, dims)
	std := make([]float64, dims)
	for i := range std {
		std[i] = 1.0
	}

	return &Normalizer{mean: mean, std: std, dims: dims}
}

// Update recomputes the normalization statistics from data, whose rows
// are samples and whose columns are input dimensions
func (n *Normalizer) Update(data *mat.Dense) error {
	rows, cols := data.Dims()
	if cols != n.dims {
		return fmt.Errorf("update: invalid number of dimensions "+
			"\n\twant(%v)\n\thave(%v)", n.dims, cols)
	}
	if rows < 2 {
		return fmt.Errorf("update: need at least 2 samples \n\thave(%v)",
			rows)
	}

	col := make([]float64, rows)
	for j := 0; j < n.dims; j++ {
		mat.Col(col, j, data)
		mean, std := stat.MeanStdDev(col, nil)

		n.mean[j] = mean
		if std < minStd || math.IsNaN(std) {
			n.std[j] = 1.0
		} else {
			n.std[j] = std
		}
	}

	return nil
}

// Normalize applies the statistics to a flat row major batch of
// inputs in place and returns the batch
func (n *Normalizer) Normalize(batch []float64) []float64 {
	for i := range batch {
		d := i % n.dims
		batch[i] = (batch[i] - n.mean[d]) / n.std[d]
	}
	return batch
}

// Mean returns the per-dimension means
func (n *Normalizer) Mean() []float64 {
	return n.mean
}

// Std returns the per-dimension standard deviations
func (n *Normalizer) Std() []float64 {
	return n.std
}
