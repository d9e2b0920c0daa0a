// Package runs executes benchmark inference runs described by YAML config
// files and writes their artifacts: posterior samples, a summary with
// per-parameter statistics, the reference observation, and optional flow
// snapshots.
package runs

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/tsawler/go-sbi/checkpoints"
)

// Algorithm names accepted in a run config.
const (
	AlgorithmSNRE = "snre"
	AlgorithmSPA  = "spa"
)

// Config describes one benchmark run. Exactly one of the SNRE and SPA
// sections must be present; Algorithm may be left empty when the section
// makes it unambiguous.
type Config struct {
	Name      string `yaml:"name"`
	Task      string `yaml:"task"`
	Algorithm string `yaml:"algorithm"`
	Seed      uint64 `yaml:"seed"`
	OutputDir string `yaml:"output_dir"`
	Quiet     bool   `yaml:"quiet"` // suppress the simulation progress bar

	SNRE *SNRESection `yaml:"snre,omitempty"`
	SPA  *SPASection  `yaml:"spa,omitempty"`
}

// SNRESection configures a sequential neural ratio estimation run. Fields
// mirror inference.SNREConfig; zero values fall back to that package's
// defaults. Observation is an inline observed row, the alternative to
// NumObservation.
type SNRESection struct {
	NumSamples          int             `yaml:"num_samples"`
	NumSimulations      int             `yaml:"num_simulations"`
	NumObservation      int             `yaml:"num_observation"`
	Observation         []float64       `yaml:"observation,omitempty"`
	NumRounds           int             `yaml:"num_rounds"`
	NeuralNet           string          `yaml:"neural_net"`
	HiddenFeatures      int             `yaml:"hidden_features"`
	SimulationBatchSize int             `yaml:"simulation_batch_size"`
	TrainingBatchSize   int             `yaml:"training_batch_size"`
	Variant             string          `yaml:"variant"`
	NumAtoms            int             `yaml:"num_atoms"`
	MaxEpochs           int             `yaml:"max_epochs"`
	LRSchedule          ScheduleSection `yaml:"lr_schedule"`
	MCMC                MCMCSection     `yaml:"mcmc"`
	DisableTransforms   bool            `yaml:"disable_transforms"`
	DisableZScoreX      bool            `yaml:"disable_z_score_x"`
	DisableZScoreTheta  bool            `yaml:"disable_z_score_theta"`
}

// ScheduleSection selects a learning-rate schedule by name, parameterized
// as in training.SchedulerFromName. An empty name keeps the rate constant.
type ScheduleSection struct {
	Name     string  `yaml:"name"`
	Gamma    float64 `yaml:"gamma"`
	StepSize int     `yaml:"step_size"`
}

// MCMCSection mirrors mcmc.Config; zero values fall back to its defaults.
type MCMCSection struct {
	NumChains     int    `yaml:"num_chains"`
	Thin          int    `yaml:"thin"`
	WarmupSteps   int    `yaml:"warmup_steps"`
	InitStrategy  string `yaml:"init_strategy"`
	SIRNumBatches int    `yaml:"sir_num_batches"`
	SIRBatchSize  int    `yaml:"sir_batch_size"`
}

// SPASection configures a sequential posterior approximation run. The
// per-iteration schedules accept either one entry per iteration or a
// single entry replicated across all of them. The prior mixture schedule
// itself is derived from DecayProbPrior.
type SPASection struct {
	Iterations     int     `yaml:"iterations"`
	DecayProbPrior float64 `yaml:"decay_prob_prior"`
	NumSim         []int   `yaml:"num_sim"`
	EpochsLik      []int   `yaml:"epochs_lik"`
	NumPost        []int   `yaml:"num_post"`
	EpochsPost     []int   `yaml:"epochs_post"`

	NumObservation int       `yaml:"num_observation"`
	Observation    []float64 `yaml:"observation,omitempty"`
	NumSamples     int       `yaml:"num_samples"`

	BatchSize      int     `yaml:"batch_size"`
	BatchSizePost  int     `yaml:"batch_size_post"`
	EpochsHotStart int     `yaml:"epochs_hot_start"`
	DecayRatePost  float64 `yaml:"decay_rate_post"`

	Flow             FlowSection `yaml:"flow"`
	LearningRateLik  float64     `yaml:"lr_lik"`
	LearningRatePost float64     `yaml:"lr_post"`

	SaveSnapshots  bool   `yaml:"save_snapshots"`
	SnapshotFormat string `yaml:"snapshot_format"`
}

// FlowSection sets the architecture shared by the likelihood and posterior
// flows. Feature and context dimensions come from the task.
type FlowSection struct {
	NumLayers   int     `yaml:"num_layers"`
	HiddenSizes []int   `yaml:"hidden_sizes"`
	Clamp       float64 `yaml:"clamp"`
}

// LoadConfig reads and parses a run config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read run config: %v", err)
	}
	return ParseConfig(data)
}

// ParseConfig parses a YAML run config, fills in defaults and validates it.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse run config: %v", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid run config: %v", err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Algorithm == "" {
		switch {
		case c.SNRE != nil && c.SPA == nil:
			c.Algorithm = AlgorithmSNRE
		case c.SPA != nil && c.SNRE == nil:
			c.Algorithm = AlgorithmSPA
		}
	}
	if c.OutputDir == "" {
		c.OutputDir = "results"
	}
	if c.Name == "" && c.Task != "" && c.Algorithm != "" {
		c.Name = c.Task + "-" + c.Algorithm
	}
	if s := c.SNRE; s != nil {
		if s.NumSamples <= 0 {
			s.NumSamples = 1000
		}
	}
	if s := c.SPA; s != nil {
		if s.NumSamples <= 0 {
			s.NumSamples = 1000
		}
		if s.LearningRateLik <= 0 {
			s.LearningRateLik = 5e-4
		}
		if s.LearningRatePost <= 0 {
			s.LearningRatePost = 5e-4
		}
		if s.Flow.NumLayers <= 0 {
			s.Flow.NumLayers = 5
		}
		if s.SnapshotFormat == "" {
			s.SnapshotFormat = "json"
		}
	}
}

// Validate checks the run-level fields. The algorithm sections are
// validated by the packages that consume them.
func (c *Config) Validate() error {
	if c.Task == "" {
		return fmt.Errorf("task is required")
	}
	switch c.Algorithm {
	case AlgorithmSNRE:
		if c.SNRE == nil {
			return fmt.Errorf("snre section is required for algorithm %q", c.Algorithm)
		}
		if c.SPA != nil {
			return fmt.Errorf("spa section does not belong to algorithm %q", c.Algorithm)
		}
	case AlgorithmSPA:
		if c.SPA == nil {
			return fmt.Errorf("spa section is required for algorithm %q", c.Algorithm)
		}
		if c.SNRE != nil {
			return fmt.Errorf("snre section does not belong to algorithm %q", c.Algorithm)
		}
	default:
		return fmt.Errorf("unknown algorithm %q", c.Algorithm)
	}
	return nil
}

// expandSchedule turns a config schedule into one value per iteration. A
// single entry is replicated across all iterations.
func expandSchedule(name string, values []int, iterations int) ([]int, error) {
	switch len(values) {
	case 0:
		return nil, fmt.Errorf("%s schedule is required", name)
	case 1:
		out := make([]int, iterations)
		for i := range out {
			out[i] = values[0]
		}
		return out, nil
	case iterations:
		return values, nil
	default:
		return nil, fmt.Errorf("%s schedule has %d entries, want 1 or %d", name, len(values), iterations)
	}
}

func parseSnapshotFormat(name string) (checkpoints.CheckpointFormat, error) {
	switch name {
	case "json":
		return checkpoints.FormatJSON, nil
	case "binary":
		return checkpoints.FormatBinary, nil
	default:
		return 0, fmt.Errorf("unknown snapshot format %q", name)
	}
}
