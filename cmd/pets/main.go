// Command pets trains a probabilistic ensemble dynamics model on a
// continuous-action cartpole and controls the pole by planning
// trajectories on the model
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/samuelfneumann/gopets/config"
	"github.com/samuelfneumann/gopets/environment/classiccontrol/cartpole"
	"github.com/samuelfneumann/gopets/experiment"
	"github.com/samuelfneumann/gopets/experiment/tracker"
	"github.com/samuelfneumann/gopets/experiment/trackers"
)

var (
	cfg      *config.Config
	cfgFile  string
	seed     uint64
	logLevel string
	dataFile string
	plotFile string
)

var rootCmd = &cobra.Command{
	Use:   "pets",
	Short: "Model-based control of cartpole with trajectory sampling",
	Long: `Trains an ensemble of probabilistic dynamics models on a
continuous-action cartpole and balances the pole by optimizing action
sequences over simulated rollouts of the learned model.

Before each trial the model is refit to every transition collected so
far; during the trial actions are selected with the cross entropy
method planning on the model.`,
	RunE: runPETS,
}

func init() {
	cfg = config.Default()

	flags := rootCmd.Flags()

	// Experiment settings
	flags.IntVar(&cfg.Overrides.NumTrials, "trials",
		cfg.Overrides.NumTrials, "Number of planning trials")
	flags.IntVar(&cfg.Overrides.TrialLength, "trial-length",
		cfg.Overrides.TrialLength, "Maximum steps per trial")
	flags.IntVar(&cfg.Overrides.InitialExploration, "initial-steps",
		cfg.Overrides.InitialExploration,
		"Random-agent steps collected before the first trial")
	flags.Uint64Var(&seed, "seed", 42, "Random seed")

	// Model settings
	flags.IntVar(&cfg.DynamicsModel.EnsembleSize, "ensemble-size",
		cfg.DynamicsModel.EnsembleSize, "Number of ensemble members")
	flags.BoolVar(&cfg.DynamicsModel.Deterministic, "deterministic",
		cfg.DynamicsModel.Deterministic,
		"Use deterministic ensemble members")
	flags.IntVar(&cfg.Overrides.NumEpochs, "epochs",
		cfg.Overrides.NumEpochs, "Model training epochs per trial")

	// Agent settings
	flags.IntVar(&cfg.Agent.PlanningHorizon, "horizon",
		cfg.Agent.PlanningHorizon, "Planning horizon")
	flags.IntVar(&cfg.Agent.NumParticles, "particles",
		cfg.Agent.NumParticles, "Rollout particles per candidate")
	flags.IntVar(&cfg.Agent.CEM.PopulationSize, "population",
		cfg.Agent.CEM.PopulationSize, "Optimizer population size")

	// Output settings
	flags.StringVar(&logLevel, "log-level", "info",
		"Log level (debug, info, warn, error)")
	flags.StringVar(&dataFile, "data-file", "returns.bin",
		"File to save trial returns to")
	flags.StringVar(&plotFile, "plot-file", "",
		"File to save the return plot to (empty to skip)")
	flags.StringVar(&cfgFile, "config", "",
		"Configuration file overriding the defaults")

	// Bind flags to viper for environment variable support: the flag
	// --trial-length can be set with PETS_TRIAL_LENGTH
	viper.BindPFlags(flags)
	viper.SetEnvPrefix("PETS")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// loadConfig layers the configuration sources: explicit flags override
// PETS_* environment variables, which override the configuration file,
// which overrides the defaults
func loadConfig(flags *pflag.FlagSet) error {
	// Flag values already set on cfg by parsing must survive the
	// config file, so remember them before unmarshalling over cfg
	explicit := make(map[string]string)
	flags.Visit(func(f *pflag.Flag) {
		explicit[f.Name] = f.Value.String()
	})

	if !flags.Changed("config") && viper.IsSet("config") {
		cfgFile = viper.GetString("config")
	}
	if cfgFile != "" {
		v := viper.New()
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("could not read config file: %v", err)
		}
		if err := v.Unmarshal(cfg); err != nil {
			return fmt.Errorf("could not parse config file: %v", err)
		}
	}

	var err error
	flags.VisitAll(func(f *pflag.Flag) {
		if err != nil {
			return
		}
		if val, ok := explicit[f.Name]; ok {
			err = flags.Set(f.Name, val)
		} else if viper.IsSet(f.Name) {
			err = flags.Set(f.Name, fmt.Sprintf("%v",
				viper.Get(f.Name)))
		}
	})
	return err
}

func runPETS(cmd *cobra.Command, args []string) error {
	if err := loadConfig(cmd.Flags()); err != nil {
		return err
	}

	level, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %v", logLevel, err)
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(level).With().Timestamp().Logger()

	task := cartpole.NewBalance(cartpole.NewStarter(seed),
		cfg.Overrides.TrialLength)
	environment, _ := cartpole.New(task, 1.0)

	t := []tracker.Tracker{trackers.NewReturn(dataFile)}
	if plotFile != "" {
		t = append(t, trackers.NewReturnPlot(plotFile))
	}

	pets, err := experiment.New(environment, cfg, cartpole.Reward,
		cartpole.Terminal, seed, log, t...)
	if err != nil {
		return err
	}

	rewards, err := pets.Run()
	if err != nil {
		return err
	}

	log.Info().Floats64("returns", rewards[1:]).Msg("experiment done")
	return pets.Save()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
