// Package replay implements an append-only transition store for
// training dynamics models
package replay

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/samuelfneumann/gopets/timestep"
)

// Config implements a specific configuration of a Buffer
type Config struct {
	Capacity   int
	ObsSize    int
	ActionSize int
}

// Create creates and returns the Buffer with the specified Config
func (c Config) Create() (*Buffer, error) {
	return New(c.Capacity, c.ObsSize, c.ActionSize)
}

// Buffer implements a replay buffer of environment transitions.
// Transitions are stored in flat caches and are never mutated after
// insertion. Once the capacity is reached, the oldest transitions are
// overwritten first.
//
// A Buffer supports a single writer and a single reader, never
// concurrently. The PETS loop only reads between trials, strictly
// after all appends of the preceding trial.
type Buffer struct {
	obsCache      []float64
	actionCache   []float64
	rewardCache   []float64
	discountCache []float64
	nextObsCache  []float64

	insertPos int
	isFull    bool

	capacity   int
	obsSize    int
	actionSize int
}

// New creates and returns a new Buffer storing at most capacity
// transitions with the given observation and action sizes
func New(capacity, obsSize, actionSize int) (*Buffer, error) {
	if capacity < 1 {
		return nil, fmt.Errorf("new: capacity must be >= 1")
	}
	if obsSize < 1 || actionSize < 1 {
		return nil, fmt.Errorf("new: observation and action sizes must "+
			"be positive \n\thave(%v, %v)", obsSize, actionSize)
	}

	return &Buffer{
		obsCache:      make([]float64, capacity*obsSize),
		actionCache:   make([]float64, capacity*actionSize),
		rewardCache:   make([]float64, capacity),
		discountCache: make([]float64, capacity),
		nextObsCache:  make([]float64, capacity*obsSize),

		insertPos: 0,
		isFull:    false,

		capacity:   capacity,
		obsSize:    obsSize,
		actionSize: actionSize,
	}, nil
}

// Add appends a transition to the buffer, evicting the oldest stored
// transition if the buffer is at capacity
func (b *Buffer) Add(t timestep.Transition) error {
	if t.State.Len() != b.obsSize || t.NextState.Len() != b.obsSize {
		return fmt.Errorf("add: invalid observation size \n\twant(%v)"+
			"\n\thave(%v)", b.obsSize, t.State.Len())
	}
	if t.Action.Len() != b.actionSize {
		return fmt.Errorf("add: invalid action size \n\twant(%v)"+
			"\n\thave(%v)", b.actionSize, t.Action.Len())
	}

	index := b.insertPos
	if !b.isFull && index+1 == b.capacity {
		b.isFull = true
	}

	obsInd := index * b.obsSize
	copy(b.obsCache[obsInd:obsInd+b.obsSize], t.State.RawVector().Data)
	copy(b.nextObsCache[obsInd:obsInd+b.obsSize],
		t.NextState.RawVector().Data)

	actionInd := index * b.actionSize
	copy(b.actionCache[actionInd:actionInd+b.actionSize],
		t.Action.RawVector().Data)

	b.rewardCache[index] = t.Reward
	b.discountCache[index] = t.Discount

	b.insertPos = (b.insertPos + 1) % b.capacity
	return nil
}

// NumStored returns the number of transitions currently stored
func (b *Buffer) NumStored() int {
	if b.isFull {
		return b.capacity
	}
	return b.insertPos
}

// Capacity returns the maximum number of transitions the buffer can
// store
func (b *Buffer) Capacity() int {
	return b.capacity
}

// ObsSize returns the observation dimensionality of stored transitions
func (b *Buffer) ObsSize() int {
	return b.obsSize
}

// ActionSize returns the action dimensionality of stored transitions
func (b *Buffer) ActionSize() int {
	return b.actionSize
}

// Dataset holds dense copies of every stored transition
type Dataset struct {
	Obs     *mat.Dense
	Actions *mat.Dense
	NextObs *mat.Dense
	Rewards []float64
	Len     int
}

// GetAll returns dense copies of all stored transitions. The returned
// Dataset does not alias buffer memory. An empty buffer yields a
// Dataset with Len 0 and nil matrices.
func (b *Buffer) GetAll() Dataset {
	n := b.NumStored()
	if n == 0 {
		return Dataset{}
	}

	obs := mat.NewDense(n, b.obsSize, nil)
	nextObs := mat.NewDense(n, b.obsSize, nil)
	actions := mat.NewDense(n, b.actionSize, nil)
	rewards := make([]float64, n)

	for i := 0; i < n; i++ {
		obsInd := i * b.obsSize
		obs.SetRow(i, b.obsCache[obsInd:obsInd+b.obsSize])
		nextObs.SetRow(i, b.nextObsCache[obsInd:obsInd+b.obsSize])

		actionInd := i * b.actionSize
		actions.SetRow(i, b.actionCache[actionInd:actionInd+b.actionSize])

		rewards[i] = b.rewardCache[i]
	}

	return Dataset{
		Obs:     obs,
		Actions: actions,
		NextObs: nextObs,
		Rewards: rewards,
		Len:     n,
	}
}

// String returns the string representation of the buffer
func (b *Buffer) String() string {
	return fmt.Sprintf("Buffer | Stored: %v  |  Capacity: %v",
		b.NumStored(), b.capacity)
}
