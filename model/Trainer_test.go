package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samuelfneumann/gopets/solver"
)

func TestNewTrainerSolverTypes(t *testing.T) {
	e, err := NewGaussianEnsemble(testModelConfig(), testAlgorithm(),
		2, 1, 4, 5)
	require.NoError(t, err)

	trainer, err := NewTrainer(e, solver.Vanilla, 1e-2, 0)
	require.NoError(t, err)
	require.Len(t, trainer.solvers, e.Members())
	for _, s := range trainer.solvers {
		assert.Equal(t, solver.Vanilla, s.Type)
	}

	_, err = NewTrainer(e, solver.Type("RMSProp"), 1e-2, 0)
	assert.Error(t, err, "unknown solver types should be rejected")
}
