package replay

import (
	"fmt"

	"golang.org/x/exp/rand"
)

// IteratorConfig describes how a buffer should be partitioned into
// training and validation folds for model fitting
type IteratorConfig struct {
	// BatchSize is the number of transitions per training batch
	BatchSize int

	// ValidationRatio is the fraction of stored transitions held out
	// for validation
	ValidationRatio float64

	// EnsembleSize is the number of bootstrap resamples of the
	// training fold, one per ensemble member
	EnsembleSize int

	// ShuffleEachEpoch reshuffles every member's training indices on
	// each call to Reset
	ShuffleEachEpoch bool
}

// Validate eagerly checks the configuration
func (c IteratorConfig) Validate() error {
	if c.BatchSize < 1 {
		return fmt.Errorf("iteratorconfig: batch size must be positive")
	}
	if c.ValidationRatio < 0 || c.ValidationRatio >= 1 {
		return fmt.Errorf("iteratorconfig: validation ratio must be in "+
			"[0, 1) \n\thave(%v)", c.ValidationRatio)
	}
	if c.EnsembleSize < 1 {
		return fmt.Errorf("iteratorconfig: ensemble size must be positive")
	}
	return nil
}

// MemberBatch is a batch of transitions for a single ensemble member,
// stored flat in row major order
type MemberBatch struct {
	Obs     []float64
	Actions []float64
	NextObs []float64
	Rewards []float64
	Size    int
}

// BatchIterator iterates over a snapshot of buffer contents in fixed
// size batches, once per ensemble member. The iterator indexes into
// the buffer caches directly, so the buffer must not be appended to
// while the iterator is in use. The PETS loop builds iterators only at
// trial boundaries, before any appends of the new trial.
type BatchIterator struct {
	buffer        *Buffer
	memberIndices [][]int
	batchSize     int
	shuffle       bool
	rng           *rand.Rand
}

// Iterators snapshots the buffer into a bootstrapped training iterator
// and a shared validation iterator.
//
// The stored transitions are shuffled and split according to
// c.ValidationRatio. Each ensemble member's training fold is resampled
// with replacement (bootstrap) from the training split, drawing enough
// indices that every batch is full. The validation fold is shared by
// all members and is not resampled.
func (b *Buffer) Iterators(c IteratorConfig,
	rng *rand.Rand) (train, val *BatchIterator, err error) {
	if err := c.Validate(); err != nil {
		return nil, nil, err
	}

	n := b.NumStored()
	if n < 2 {
		return nil, nil, fmt.Errorf("iterators: need at least 2 stored "+
			"transitions \n\thave(%v)", n)
	}

	perm := rng.Perm(n)
	valSize := int(float64(n) * c.ValidationRatio)
	if valSize >= n {
		valSize = n - 1
	}
	valIndices := perm[:valSize]
	trainIndices := perm[valSize:]

	// Bootstrap each member's training fold. Indices are drawn with
	// replacement until every batch is full, so members with fewer
	// stored transitions than the batch size still produce one batch.
	numBatches := (len(trainIndices) + c.BatchSize - 1) / c.BatchSize
	if numBatches < 1 {
		numBatches = 1
	}
	draws := numBatches * c.BatchSize

	memberIndices := make([][]int, c.EnsembleSize)
	for m := range memberIndices {
		indices := make([]int, draws)
		for i := range indices {
			indices[i] = trainIndices[rng.Intn(len(trainIndices))]
		}
		memberIndices[m] = indices
	}

	train = &BatchIterator{
		buffer:        b,
		memberIndices: memberIndices,
		batchSize:     c.BatchSize,
		shuffle:       c.ShuffleEachEpoch,
		rng:           rng,
	}

	val = &BatchIterator{
		buffer:        b,
		memberIndices: [][]int{valIndices},
		batchSize:     c.BatchSize,
		shuffle:       false,
		rng:           rng,
	}

	return train, val, nil
}

// Members returns the number of per-member index lists held by the
// iterator
func (it *BatchIterator) Members() int {
	return len(it.memberIndices)
}

// Len returns the number of transitions per member
func (it *BatchIterator) Len() int {
	if len(it.memberIndices) == 0 {
		return 0
	}
	return len(it.memberIndices[0])
}

// NumBatches returns the number of full batches per member
func (it *BatchIterator) NumBatches() int {
	return it.Len() / it.batchSize
}

// Reset starts a new epoch, reshuffling each member's indices if the
// iterator was built with ShuffleEachEpoch
func (it *BatchIterator) Reset() {
	if !it.shuffle {
		return
	}
	for _, indices := range it.memberIndices {
		it.rng.Shuffle(len(indices), func(i, j int) {
			indices[i], indices[j] = indices[j], indices[i]
		})
	}
}

// Batch gathers batch number batch for ensemble member member
func (it *BatchIterator) Batch(member, batch int) MemberBatch {
	indices := it.memberIndices[member]
	start := batch * it.batchSize
	return it.gather(indices[start : start+it.batchSize])
}

// Full gathers every transition of ensemble member member into a
// single batch. Used for whole-fold validation scoring.
func (it *BatchIterator) Full(member int) MemberBatch {
	return it.gather(it.memberIndices[member])
}

// gather copies the transitions at indices out of the buffer caches
func (it *BatchIterator) gather(indices []int) MemberBatch {
	b := it.buffer
	size := len(indices)

	batch := MemberBatch{
		Obs:     make([]float64, size*b.obsSize),
		Actions: make([]float64, size*b.actionSize),
		NextObs: make([]float64, size*b.obsSize),
		Rewards: make([]float64, size),
		Size:    size,
	}

	for i, index := range indices {
		batchObs := i * b.obsSize
		cacheObs := index * b.obsSize
		copy(batch.Obs[batchObs:batchObs+b.obsSize],
			b.obsCache[cacheObs:cacheObs+b.obsSize])
		copy(batch.NextObs[batchObs:batchObs+b.obsSize],
			b.nextObsCache[cacheObs:cacheObs+b.obsSize])

		batchAction := i * b.actionSize
		cacheAction := index * b.actionSize
		copy(batch.Actions[batchAction:batchAction+b.actionSize],
			b.actionCache[cacheAction:cacheAction+b.actionSize])

		batch.Rewards[i] = b.rewardCache[index]
	}

	return batch
}
