// Package planning implements agents that select actions on a
// model-based environment, including a cross entropy method trajectory
// optimizer
package planning

import (
	"fmt"
	"math"
	"sort"

	"golang.org/x/exp/rand"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/samuelfneumann/gopets/config"
	"github.com/samuelfneumann/gopets/utils/floatutils"
)

// Objective evaluates a population of candidate action sequences,
// returning one value per candidate. Each candidate is a flat row
// major (horizon, actionSize) sequence.
type Objective func(plans [][]float64) ([]float64, error)

// CEM optimizes action sequences with the cross entropy method: a
// Gaussian over sequences is iteratively refit to the elite fraction
// of a sampled population. The sampling variance is constrained so
// that two standard deviations stay within the action bounds, and all
// samples are clipped to the bounds.
type CEM struct {
	numIterations    int
	populationSize   int
	numElites        int
	alpha            float64
	returnMeanElites bool

	horizon    int
	actionSize int
	lower      []float64 // per sequence dimension
	upper      []float64

	initVar []float64
	normal  distuv.Normal
}

// NewCEM creates and returns a new CEM optimizer over action sequences
// of the given horizon. The lower and upper bounds are per action
// dimension and are tiled across the horizon.
func NewCEM(c config.CEM, horizon int, lower, upper []float64,
	seed uint64) (*CEM, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if horizon < 1 {
		return nil, fmt.Errorf("newcem: horizon must be positive")
	}
	if len(lower) != len(upper) || len(lower) == 0 {
		return nil, fmt.Errorf("newcem: invalid action bounds")
	}
	for i := range lower {
		if lower[i] >= upper[i] {
			return nil, fmt.Errorf("newcem: lower bound %v not below "+
				"upper bound at dimension %v", lower[i], i)
		}
	}

	actionSize := len(lower)
	dims := horizon * actionSize

	cem := &CEM{
		numIterations:  c.NumIterations,
		populationSize: c.PopulationSize,
		numElites: int(math.Ceil(
			c.EliteRatio * float64(c.PopulationSize))),
		alpha:            c.Alpha,
		returnMeanElites: c.ReturnMeanElites,

		horizon:    horizon,
		actionSize: actionSize,
		lower:      make([]float64, dims),
		upper:      make([]float64, dims),
		initVar:    make([]float64, dims),

		normal: distuv.Normal{
			Mu:    0.0,
			Sigma: 1.0,
			Src:   rand.NewSource(seed),
		},
	}

	for d := 0; d < dims; d++ {
		cem.lower[d] = lower[d%actionSize]
		cem.upper[d] = upper[d%actionSize]
		width := cem.upper[d] - cem.lower[d]
		cem.initVar[d] = (width * width) / 16.0
	}

	return cem, nil
}

// Horizon returns the length of the action sequences the optimizer
// produces
func (c *CEM) Horizon() int {
	return c.horizon
}

// MidpointSequence returns the sequence holding the midpoint of the
// action bounds at every step
func (c *CEM) MidpointSequence() []float64 {
	mid := make([]float64, len(c.lower))
	for d := range mid {
		mid[d] = (c.lower[d] + c.upper[d]) / 2.0
	}
	return mid
}

// Optimize returns the optimized action sequence starting from
// initMean, a flat (horizon, actionSize) sequence used as the initial
// sampling mean. The returned sequence is the final elite mean, or the
// best sampled sequence when the optimizer was configured to return
// that instead.
func (c *CEM) Optimize(objective Objective,
	initMean []float64) ([]float64, error) {
	dims := c.horizon * c.actionSize
	if len(initMean) != dims {
		return nil, fmt.Errorf("optimize: invalid initial mean length "+
			"\n\twant(%v)\n\thave(%v)", dims, len(initMean))
	}

	mean := append([]float64{}, initMean...)
	variance := append([]float64{}, c.initVar...)

	plans := make([][]float64, c.populationSize)
	for p := range plans {
		plans[p] = make([]float64, dims)
	}

	bestValue := math.Inf(-1)
	bestPlan := make([]float64, dims)

	for iter := 0; iter < c.numIterations; iter++ {
		// Constrain the variance so samples concentrate inside the
		// bounds, then sample and clip the population
		for d := 0; d < dims; d++ {
			lbDist := (mean[d] - c.lower[d]) / 2.0
			ubDist := (c.upper[d] - mean[d]) / 2.0
			variance[d] = floatutils.Min(variance[d], lbDist*lbDist,
				ubDist*ubDist)
		}

		for p := range plans {
			for d := 0; d < dims; d++ {
				sample := mean[d] + math.Sqrt(variance[d])*c.normal.Rand()
				plans[p][d] = floatutils.Clip(sample, c.lower[d],
					c.upper[d])
			}
		}

		values, err := objective(plans)
		if err != nil {
			return nil, fmt.Errorf("optimize: could not evaluate "+
				"population: %v", err)
		}
		if len(values) != c.populationSize {
			return nil, fmt.Errorf("optimize: objective returned %v "+
				"values for %v candidates", len(values),
				c.populationSize)
		}

		elites := topK(values, c.numElites)

		if values[elites[0]] > bestValue {
			bestValue = values[elites[0]]
			copy(bestPlan, plans[elites[0]])
		}

		// Refit the sampling distribution to the elites, smoothed by
		// the momentum term
		for d := 0; d < dims; d++ {
			var eliteMean, eliteVar float64
			for _, e := range elites {
				eliteMean += plans[e][d]
			}
			eliteMean /= float64(len(elites))
			for _, e := range elites {
				diff := plans[e][d] - eliteMean
				eliteVar += diff * diff
			}
			eliteVar /= float64(len(elites))

			mean[d] = c.alpha*mean[d] + (1.0-c.alpha)*eliteMean
			variance[d] = c.alpha*variance[d] + (1.0-c.alpha)*eliteVar
		}
	}

	if c.returnMeanElites {
		return mean, nil
	}
	return bestPlan, nil
}

// topK returns the indices of the k largest values, best first
func topK(values []float64, k int) []int {
	indices := make([]int, len(values))
	for i := range indices {
		indices[i] = i
	}
	sort.Slice(indices, func(i, j int) bool {
		return values[indices[i]] > values[indices[j]]
	})
	return indices[:k]
}
