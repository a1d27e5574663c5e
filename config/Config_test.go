package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samuelfneumann/gopets/environment/classiccontrol/cartpole"
	"github.com/samuelfneumann/gopets/solver"
)

func TestDefaultResolvesAgainstEnvironment(t *testing.T) {
	cfg := Default()

	// Shape-dependent fields are unresolved until Resolve is called
	assert.Error(t, cfg.Validate())

	task := cartpole.NewBalance(cartpole.NewStarter(3),
		cfg.Overrides.TrialLength)
	environment, _ := cartpole.New(task, 1.0)

	cfg.Resolve(environment)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 5, cfg.DynamicsModel.InSize)
	assert.Equal(t, 4, cfg.DynamicsModel.OutSize)
	assert.Equal(t, []float64{cartpole.MinContinuousAction},
		cfg.Agent.ActionLowerBound)
	assert.Equal(t, []float64{cartpole.MaxContinuousAction},
		cfg.Agent.ActionUpperBound)
}

func TestResolveKeepsExplicitFields(t *testing.T) {
	cfg := Default()
	cfg.DynamicsModel.InSize = 7
	cfg.Agent.ActionLowerBound = []float64{-2}
	cfg.Agent.ActionUpperBound = []float64{2}

	task := cartpole.NewBalance(cartpole.NewStarter(3), 10)
	environment, _ := cartpole.New(task, 1.0)
	cfg.Resolve(environment)

	assert.Equal(t, 7, cfg.DynamicsModel.InSize)
	assert.Equal(t, []float64{-2}, cfg.Agent.ActionLowerBound)
}

func TestResolveAddsRewardHead(t *testing.T) {
	cfg := Default()
	cfg.Algorithm.LearnedRewards = true

	task := cartpole.NewBalance(cartpole.NewStarter(3), 10)
	environment, _ := cartpole.New(task, 1.0)
	cfg.Resolve(environment)

	assert.Equal(t, 5, cfg.DynamicsModel.OutSize)
}

func TestValidateRejectsBadValues(t *testing.T) {
	task := cartpole.NewBalance(cartpole.NewStarter(3), 10)
	environment, _ := cartpole.New(task, 1.0)

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero ensemble", func(c *Config) {
			c.DynamicsModel.EnsembleSize = 0
		}},
		{"zero layers", func(c *Config) {
			c.DynamicsModel.NumLayers = 0
		}},
		{"bad propagation", func(c *Config) {
			c.DynamicsModel.Propagation = Propagation("bogus")
		}},
		{"zero trial length", func(c *Config) {
			c.Overrides.TrialLength = 0
		}},
		{"validation ratio too high", func(c *Config) {
			c.Overrides.ValidationRatio = 1.0
		}},
		{"zero step size", func(c *Config) {
			c.Overrides.ModelStepSize = 0
		}},
		{"unknown solver", func(c *Config) {
			c.Overrides.ModelSolver = solver.Type("bogus")
		}},
		{"zero horizon", func(c *Config) {
			c.Agent.PlanningHorizon = 0
		}},
		{"elite ratio too high", func(c *Config) {
			c.Agent.CEM.EliteRatio = 1.5
		}},
		{"inverted action bounds", func(c *Config) {
			c.Agent.ActionLowerBound = []float64{1}
			c.Agent.ActionUpperBound = []float64{-1}
		}},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cfg := Default()
			cfg.Resolve(environment)
			test.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
